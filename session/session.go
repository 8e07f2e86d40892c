// Package session wires the engine packages together into one runnable
// install: resolve a build from a parsed Ribbit record, pull its
// configuration and manifests from a CDN mirror, open the local CASC
// store, and commit the selected files into it, resuming from wherever a
// prior run left off.
package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"k8s.io/klog/v2"

	"github.com/steed-rs/ngdp/blte"
	"github.com/steed-rs/ngdp/casc"
	"github.com/steed-rs/ngdp/cdn"
	"github.com/steed-rs/ngdp/espec"
	"github.com/steed-rs/ngdp/installer"
	"github.com/steed-rs/ngdp/internal/ckey"
	"github.com/steed-rs/ngdp/planner"
	"github.com/steed-rs/ngdp/ribbit"
	"github.com/steed-rs/ngdp/tact/config"
	"github.com/steed-rs/ngdp/tact/download"
	"github.com/steed-rs/ngdp/tact/encoding"
	"github.com/steed-rs/ngdp/tact/install"
	"github.com/steed-rs/ngdp/tact/keys"
	"github.com/steed-rs/ngdp/tact/root"
)

// Session holds every component wired up for one build: the ranked CDN
// mirror set, the parsed build/CDN configuration, the local store, and the
// three manifests (encoding, root, install/download) that drive what gets
// fetched.
type Session struct {
	opts Options

	CDN       *cdn.Client
	Build     *config.BuildConfig
	CDNConfig *config.CDNConfig

	Keys     *keys.TactKeys
	Store    *casc.Store
	Encoding *encoding.Encoding
	Root     *root.Root
	Install  *install.Manifest
	Download *download.Manifest

	Estimator *planner.Estimator
	Installer *installer.Installer
	State     *installer.SessionState

	buildConfigHash string
}

// Open resolves cdnEntry+versions into a fully wired Session: fetches and
// parses build/CDN config, opens the local store, and loads the encoding,
// root, and install/download manifests. ctx bounds every network call.
func Open(ctx context.Context, opts Options, cdnEntry ribbit.CDNEntry, versions ribbit.VersionsEntry) (*Session, error) {
	if err := os.MkdirAll(filepath.Join(opts.DataDir, "data"), 0o755); err != nil {
		return nil, fmt.Errorf("session: create data dir: %w", err)
	}

	client := cdn.NewClient(cdnEntry.Servers, cdnEntry.Path)

	s := &Session{
		opts:            opts,
		CDN:             client,
		buildConfigHash: versions.BuildConfig,
		Estimator:       planner.NewEstimator(),
	}

	buildRaw, err := client.Fetch(ctx, client.ConfigPath(versions.BuildConfig))
	if err != nil {
		return nil, fmt.Errorf("session: fetch build config: %w", err)
	}
	s.Build, err = config.ParseBuildConfig(bytes.NewReader(buildRaw))
	if err != nil {
		return nil, fmt.Errorf("session: parse build config: %w", err)
	}

	cdnRaw, err := client.Fetch(ctx, client.ConfigPath(versions.CDNConfig))
	if err != nil {
		return nil, fmt.Errorf("session: fetch cdn config: %w", err)
	}
	s.CDNConfig, err = config.ParseCDNConfig(bytes.NewReader(cdnRaw))
	if err != nil {
		return nil, fmt.Errorf("session: parse cdn config: %w", err)
	}

	s.Keys = keys.New()
	if opts.KeysPath != "" {
		f, err := os.Open(opts.KeysPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("session: open keys file: %w", err)
		}
		if err == nil {
			defer f.Close()
			if err := s.Keys.LoadText(f); err != nil {
				return nil, fmt.Errorf("session: load keys: %w", err)
			}
		}
	}

	if s.Build.Encoding == nil {
		return nil, fmt.Errorf("session: build config has no encoding field")
	}
	encRaw, err := s.fetchObject(ctx, s.Build.Encoding.Encoded.Hash)
	if err != nil {
		return nil, fmt.Errorf("session: fetch encoding table: %w", err)
	}
	s.Encoding, err = encoding.Parse(encRaw)
	if err != nil {
		return nil, fmt.Errorf("session: parse encoding table: %w", err)
	}

	s.Store, err = casc.Open(opts.DataDir, s.Encoding, s.Keys)
	if err != nil {
		return nil, fmt.Errorf("session: open store: %w", err)
	}

	if s.Build.Root == nil {
		return nil, fmt.Errorf("session: build config has no root field")
	}
	rootRaw, err := s.fetchByCKeyHex(ctx, s.Build.Root.Decoded.Hash)
	if err != nil {
		return nil, fmt.Errorf("session: fetch root manifest: %w", err)
	}
	s.Root, err = root.Parse(rootRaw)
	if err != nil {
		return nil, fmt.Errorf("session: parse root manifest: %w", err)
	}

	if s.Build.Install != nil {
		raw, err := s.fetchByCKeyHex(ctx, s.Build.Install.Decoded.Hash)
		if err != nil {
			return nil, fmt.Errorf("session: fetch install manifest: %w", err)
		}
		s.Install, err = install.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("session: parse install manifest: %w", err)
		}
	}

	if s.Build.Download != nil {
		raw, err := s.fetchByCKeyHex(ctx, s.Build.Download.Decoded.Hash)
		if err != nil {
			return nil, fmt.Errorf("session: fetch download manifest: %w", err)
		}
		s.Download, err = download.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("session: parse download manifest: %w", err)
		}
	}

	statePath := opts.statePath(s.buildConfigHash)
	if data, err := os.ReadFile(statePath); err == nil {
		s.State, err = installer.LoadSessionState(data)
		if err != nil {
			return nil, fmt.Errorf("session: load session state: %w", err)
		}
	} else if os.IsNotExist(err) {
		s.State = installer.NewSessionState()
	} else {
		return nil, fmt.Errorf("session: read session state: %w", err)
	}

	s.Installer, err = installer.Open(opts.DataDir, s.State)
	if err != nil {
		return nil, fmt.Errorf("session: open installer: %w", err)
	}

	return s, nil
}

// fetchObject fetches a loose CDN object addressed by its encoding key
// (hex), decoding the BLTE frame it's wrapped in.
func (s *Session) fetchObject(ctx context.Context, ekeyHex string) ([]byte, error) {
	raw, err := s.CDN.Fetch(ctx, s.CDN.DataPath(ekeyHex))
	if err != nil {
		return nil, err
	}
	return blte.Decode(raw, blte.DecodeOptions{Keys: s.Keys})
}

// fetchByCKeyHex resolves a content key (hex) to its first encoding key via
// the encoding table, then fetches and decodes that object.
func (s *Session) fetchByCKeyHex(ctx context.Context, ckeyHex string) ([]byte, error) {
	ck, err := ckey.ParseContentKey(ckeyHex)
	if err != nil {
		return nil, fmt.Errorf("session: bad content key %q: %w", ckeyHex, err)
	}
	ekeys, err := s.Encoding.LookupByCKey(ck)
	if err != nil {
		return nil, err
	}
	if len(ekeys) == 0 {
		return nil, fmt.Errorf("session: content key %s has no encoding keys", ck)
	}
	return s.fetchObject(ctx, ekeys[0].String())
}

// encodingSpecFor resolves the ESpec grammar string the encoding table
// records for ek and parses it. The parsed spec is passed to
// Installer.Commit, which does not check the BLTE chunk layout against it.
func (s *Session) encodingSpecFor(ek ckey.EncodingKey) (espec.Spec, error) {
	raw, err := s.Encoding.LookupEspec(ek)
	if err != nil {
		return nil, fmt.Errorf("session: espec for %s: %w", ek, err)
	}
	spec, err := espec.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("session: parse espec %q: %w", raw, err)
	}
	return spec, nil
}

// LookupFile resolves a root-relative in-game path to its content key for
// the session's configured locale, accepting any block content flags (a
// client that hasn't opted out of any content variant).
func (s *Session) LookupFile(path string) (ckey.ContentKey, bool) {
	return s.Root.LookupByPath(path, ^root.ContentFlags(0), s.opts.Locale)
}

// Close persists session state and flushes the local store's index/ledger.
func (s *Session) Close() error {
	if data, err := s.State.Save(); err == nil {
		_ = os.WriteFile(s.opts.statePath(s.buildConfigHash), data, 0o644)
	}
	var firstErr error
	if err := s.Installer.Close(); err != nil {
		firstErr = err
	}
	if err := s.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// InstallSelected fetches and commits every file selected by the
// session's configured install tags, skipping files whose FileState has
// already reached PhaseCommitted (resuming a partial prior run).
func (s *Session) InstallSelected(ctx context.Context) error {
	if s.Install == nil {
		return fmt.Errorf("session: no install manifest loaded")
	}
	files := s.Install.FilesWithTags(s.opts.InstallTags...)
	klog.Infof("session: installing %d files matching tags %v", len(files), s.opts.InstallTags)

	for _, f := range files {
		if err := s.commitEKey(ctx, f.Key); err != nil {
			return fmt.Errorf("session: install %s: %w", f.Name, err)
		}
	}
	return nil
}

// DownloadSelected fetches and commits every entry selected by the
// session's configured download tags, in descending priority order (the
// Download manifest, unlike Install, carries per-entry priority so a
// partial/background download can make the most useful progress first).
func (s *Session) DownloadSelected(ctx context.Context) error {
	if s.Download == nil {
		return fmt.Errorf("session: no download manifest loaded")
	}
	entries := s.Download.EntriesWithTags(s.opts.DownloadTags...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].DownloadPriority < entries[j].DownloadPriority
	})
	klog.Infof("session: downloading %d entries matching tags %v", len(entries), s.opts.DownloadTags)

	for _, e := range entries {
		if err := s.commitEKey(ctx, e.Key); err != nil {
			return fmt.Errorf("session: download %s: %w", e.Key, err)
		}
	}
	return nil
}

// commitEKey fetches (unless already committed) and commits the object
// named by ek into the local store.
func (s *Session) commitEKey(ctx context.Context, ek ckey.EncodingKey) error {
	if fs := s.State.FileState(ek); fs.Done() {
		return nil
	}
	encoded, err := s.CDN.Fetch(ctx, s.CDN.DataPath(ek.String()))
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	espec, err := s.encodingSpecFor(ek)
	if err != nil {
		return err
	}
	return s.Installer.Commit(ek, encoded, espec)
}
