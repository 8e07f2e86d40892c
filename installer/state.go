// Package installer implements the commit engine that turns a fetched,
// BLTE-encoded blob into a durable CASC entry: reserve space, write the
// framed block, insert it into the archive index, and record progress at
// each step so a crash can resume instead of re-fetching.
package installer

import (
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/steed-rs/ngdp/internal/ckey"
)

// Phase is one step of a single file's commit state machine. Phases are
// strictly ordered; Installer.Commit re-enters at the first incomplete phase.
type Phase string

const (
	PhaseNotStarted    Phase = "not_started"
	PhaseFetching      Phase = "fetching"
	PhaseBlteValidated Phase = "blte_validated"
	PhaseHeaderWritten Phase = "header_written"
	PhaseIndexInserted Phase = "index_inserted"
	PhaseCommitted     Phase = "committed"
)

var phaseOrder = []Phase{
	PhaseNotStarted,
	PhaseFetching,
	PhaseBlteValidated,
	PhaseHeaderWritten,
	PhaseIndexInserted,
	PhaseCommitted,
}

func phaseIndex(p Phase) int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// FileState is the persisted, per-file progress record.
type FileState struct {
	EKey          ckey.EncodingKey `yaml:"ekey"`
	Phase         Phase            `yaml:"phase"`
	ArchiveNumber uint32           `yaml:"archive_number,omitempty"`
	Offset        uint64           `yaml:"offset,omitempty"`
	Size          uint32           `yaml:"size,omitempty"`
}

// SessionState is the whole resumable installer session: a stable ID (so
// re-launching the installer against the same target directory resumes
// rather than starts a second, conflicting session) and per-file state.
type SessionState struct {
	ID    uuid.UUID             `yaml:"id"`
	Files map[string]*FileState `yaml:"files"`
}

// NewSessionState returns a fresh session with a new random ID.
func NewSessionState() *SessionState {
	return &SessionState{ID: uuid.New(), Files: make(map[string]*FileState)}
}

// Save serializes the session state for persistence to disk.
func (s *SessionState) Save() ([]byte, error) {
	return yaml.Marshal(s)
}

// LoadSessionState parses a previously persisted session state.
func LoadSessionState(data []byte) (*SessionState, error) {
	var s SessionState
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("installer: load session state: %w", err)
	}
	if s.Files == nil {
		s.Files = make(map[string]*FileState)
	}
	return &s, nil
}

// FileState returns (creating if needed) the state record for ek.
func (s *SessionState) FileState(ek ckey.EncodingKey) *FileState {
	key := ek.String()
	fs, ok := s.Files[key]
	if !ok {
		fs = &FileState{EKey: ek, Phase: PhaseNotStarted}
		s.Files[key] = fs
	}
	return fs
}

// Advance moves a file's phase forward, refusing to go backwards (commit
// is a one-way ratchet; a caller that somehow computes an earlier phase
// than what's recorded has a bug, not a legitimate retry).
func (fs *FileState) Advance(p Phase) error {
	if phaseIndex(p) < phaseIndex(fs.Phase) {
		return fmt.Errorf("installer: refusing to move %s backwards from %s to %s", fs.EKey, fs.Phase, p)
	}
	fs.Phase = p
	return nil
}

// Done reports whether a file has reached PhaseCommitted.
func (fs *FileState) Done() bool { return fs.Phase == PhaseCommitted }
