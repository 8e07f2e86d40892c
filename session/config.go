package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/steed-rs/ngdp/tact/root"
)

// Options is the local, user-supplied configuration for one install
// session: which product/region to track and which tag-filtered subset of
// the manifests to materialize on disk.
type Options struct {
	DataDir string `yaml:"data_dir"`
	Region  string `yaml:"region"`
	Locale  root.LocaleFlags `yaml:"-"`

	// InstallTags and DownloadTags select the AND-intersection of tags
	// passed to install.Manifest.FilesWithTags / download.Manifest.EntriesWithTags.
	InstallTags  []string `yaml:"install_tags"`
	DownloadTags []string `yaml:"download_tags"`

	KeysPath string `yaml:"keys_path"`
}

// LoadOptions reads a session's local YAML configuration file, the
// counterpart to the remote build/CDN config TACT documents: this one
// holds the choices only the local client makes (which platform tags to
// keep, where to store data).
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read options: %w", err)
	}
	var o Options
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("session: parse options: %w", err)
	}
	if o.DataDir == "" {
		return nil, fmt.Errorf("session: options: data_dir is required")
	}
	return &o, nil
}

// stateFileName derives a stable session-state file name from the build
// config hash, the same way every other TACT artifact is content-addressed
// by its own hash: two installs of the same build share state, two
// different builds never collide.
func stateFileName(buildConfigHash string) string {
	if buildConfigHash == "" {
		sum := sha256.Sum256(nil)
		buildConfigHash = hex.EncodeToString(sum[:])[:16]
	}
	return fmt.Sprintf("session-%s.yaml", buildConfigHash)
}

func (o *Options) statePath(buildConfigHash string) string {
	return filepath.Join(o.DataDir, stateFileName(buildConfigHash))
}
