// Package keys holds the session-wide table of named Salsa20 keys used to
// decrypt BLTE 'E' chunks. Key material is distributed out of band (the
// client ships a small hardcoded set and can load more from a keys file);
// this package only stores and looks them up.
package keys

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// TactKeys maps an 8-byte key name to its 16-byte Salsa20 key.
type TactKeys struct {
	keys map[[8]byte][16]byte
}

// New returns an empty key ring.
func New() *TactKeys {
	return &TactKeys{keys: make(map[[8]byte][16]byte)}
}

// Lookup returns the key for name, if known.
func (t *TactKeys) Lookup(name [8]byte) ([16]byte, bool) {
	k, ok := t.keys[name]
	return k, ok
}

// Add registers a key under name, overwriting any existing entry.
func (t *TactKeys) Add(name [8]byte, key [16]byte) {
	t.keys[name] = key
}

// Len reports the number of keys currently known.
func (t *TactKeys) Len() int { return len(t.keys) }

// LoadText reads a TactKey list in the common "WowDev.txt"/"tactKey.txt"
// form: one entry per line, "<16 hex char name> <32 hex char key>",
// blank lines and "#"-prefixed comments ignored.
func LoadText(r io.Reader) (*TactKeys, error) {
	t := New()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("tact/keys: line %d: expected \"name key\", got %q", line, text)
		}
		nameBytes, err := hex.DecodeString(fields[0])
		if err != nil || len(nameBytes) != 8 {
			return nil, fmt.Errorf("tact/keys: line %d: bad key name %q", line, fields[0])
		}
		keyBytes, err := hex.DecodeString(fields[1])
		if err != nil || len(keyBytes) != 16 {
			return nil, fmt.Errorf("tact/keys: line %d: bad key value %q", line, fields[1])
		}
		var name [8]byte
		var key [16]byte
		copy(name[:], nameBytes)
		copy(key[:], keyBytes)
		t.Add(name, key)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("tact/keys: scan: %w", err)
	}
	return t, nil
}
