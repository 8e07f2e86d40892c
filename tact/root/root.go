// Package root implements the Root manifest: the map from a file's
// numeric FileDataID (and, for named files, its path hash) to the content
// key holding its current data, partitioned into variant blocks keyed by
// content/locale flags.
package root

import (
	"fmt"
	"strings"

	"github.com/steed-rs/ngdp/internal/binreader"
	"github.com/steed-rs/ngdp/internal/ckey"
	"github.com/steed-rs/ngdp/internal/lookup3"
)

// ContentFlags marks how a variant block's content was built (e.g. which
// platform, which optional feature set).
type ContentFlags uint32

const (
	ContentFlagLoadOnWindows ContentFlags = 1 << 0
	ContentFlagLoadOnMacOS   ContentFlags = 1 << 1
	ContentFlagLowViolence   ContentFlags = 1 << 2
	ContentFlagDoNotLoad     ContentFlags = 1 << 3
	ContentFlagUpdatePlugin  ContentFlags = 1 << 4
	ContentFlagEncrypted     ContentFlags = 1 << 24
	ContentFlagNoNames       ContentFlags = 1 << 30
)

// LocaleFlags marks which game-client locale(s) a variant block applies
// to.
type LocaleFlags uint32

const (
	LocaleAll LocaleFlags = 0xFFFFFFFF

	LocaleEnUS LocaleFlags = 1 << 0
	LocaleKoKR LocaleFlags = 1 << 1
	LocaleFrFR LocaleFlags = 1 << 2
	LocaleDeDE LocaleFlags = 1 << 3
	LocaleZhCN LocaleFlags = 1 << 4
	LocaleEsES LocaleFlags = 1 << 5
	LocaleZhTW LocaleFlags = 1 << 6
	LocaleEnGB LocaleFlags = 1 << 7
	LocaleEnCN LocaleFlags = 1 << 8
	LocaleEnTW LocaleFlags = 1 << 9
	LocaleEsMX LocaleFlags = 1 << 10
	LocaleRuRU LocaleFlags = 1 << 11
	LocalePtBR LocaleFlags = 1 << 12
	LocaleItIT LocaleFlags = 1 << 13
	LocalePtPT LocaleFlags = 1 << 14
)

// Record is one (FileDataID -> CKey) mapping within a variant block.
type Record struct {
	FileDataID int64
	NameHash   uint64
	CKey       ckey.ContentKey
}

// block groups records sharing the same content/locale flags.
type block struct {
	ContentFlags ContentFlags
	LocaleFlags  LocaleFlags
	Records      []Record
}

// Root is a fully parsed Root manifest.
type Root struct {
	TotalFileCount int
	NamedFileCount int

	blocks []block

	byFileDataID map[int64][]Record
	byNameHash   map[uint64][]Record
}

const magic = "TSFM"

// Parse decodes a Root manifest from its raw bytes.
func Parse(data []byte) (*Root, error) {
	r := binreader.New(data)
	m, err := r.Take(4)
	if err != nil {
		return nil, fmt.Errorf("root: read magic: %w", err)
	}
	if string(m) != magic {
		return nil, fmt.Errorf("root: bad magic %q", m)
	}

	totalFileCount, err := r.Uint32LE()
	if err != nil {
		return nil, fmt.Errorf("root: total file count: %w", err)
	}
	namedFileCount, err := r.Uint32LE()
	if err != nil {
		return nil, fmt.Errorf("root: named file count: %w", err)
	}

	root := &Root{
		TotalFileCount: int(totalFileCount),
		NamedFileCount: int(namedFileCount),
		byFileDataID:   make(map[int64][]Record),
		byNameHash:     make(map[uint64][]Record),
	}

	// A manifest only omits name hashes on a per-block basis when it also
	// admits unnamed files overall; otherwise every record carries one
	// regardless of the block's own NO_NAME_HASH flag.
	allowNonNamedFiles := totalFileCount != namedFileCount

	for r.Remaining() >= 12 {
		numRecords, err := r.Uint32LE()
		if err != nil {
			return nil, err
		}
		contentFlags, err := r.Uint32LE()
		if err != nil {
			return nil, err
		}
		localeFlags, err := r.Uint32LE()
		if err != nil {
			return nil, err
		}

		deltas, err := binreader.Repeat(r, int(numRecords), func(r *binreader.Reader) (int64, error) {
			v, err := r.Uint32LE()
			return int64(v), err
		})
		if err != nil {
			return nil, fmt.Errorf("root: file id deltas: %w", err)
		}

		hasNames := !(allowNonNamedFiles && ContentFlags(contentFlags)&ContentFlagNoNames != 0)

		b := block{ContentFlags: ContentFlags(contentFlags), LocaleFlags: LocaleFlags(localeFlags)}
		fileID := int64(-1)
		for i := 0; i < int(numRecords); i++ {
			fileID += deltas[i] + 1
			ck, err := r.Take(ckey.Size)
			if err != nil {
				return nil, fmt.Errorf("root: ckey: %w", err)
			}
			var rec Record
			rec.FileDataID = fileID
			copy(rec.CKey[:], ck)
			if hasNames {
				nameHash, err := r.Uint64LE()
				if err != nil {
					return nil, fmt.Errorf("root: name hash: %w", err)
				}
				rec.NameHash = nameHash
			}
			b.Records = append(b.Records, rec)
			root.byFileDataID[fileID] = append(root.byFileDataID[fileID], rec)
			if hasNames {
				root.byNameHash[rec.NameHash] = append(root.byNameHash[rec.NameHash], rec)
			}
		}
		root.blocks = append(root.blocks, b)
	}

	return root, nil
}

// LookupPath hashes path the way the client does (uppercased, forward
// slashes replaced with backslashes, Jenkins lookup3 hashlittle2) and
// returns the 64-bit name hash that root records are keyed by.
func LookupPath(path string) uint64 {
	norm := strings.ToUpper(strings.ReplaceAll(path, "/", `\`))
	pb, pc := lookup3.Hashlittle2([]byte(norm), 0, 0)
	return uint64(pc) | uint64(pb)<<32
}

// LookupByPath returns the content key registered for path under the
// given flags, preferring the most specific (narrowest superset) match.
func (r *Root) LookupByPath(path string, content ContentFlags, locale LocaleFlags) (ckey.ContentKey, bool) {
	hash := LookupPath(path)
	return r.pickBest(r.byNameHash[hash], content, locale)
}

// LookupByFileDataID returns the content key registered for id under the
// given flags.
func (r *Root) LookupByFileDataID(id int64, content ContentFlags, locale LocaleFlags) (ckey.ContentKey, bool) {
	return r.pickBest(r.byFileDataID[id], content, locale)
}

func (r *Root) pickBest(candidates []Record, content ContentFlags, locale LocaleFlags) (ckey.ContentKey, bool) {
	// The block-level flags, not the per-record ones, gate membership:
	// walk blocks to find which ones contain each candidate record and
	// require the block's locale flags to select this client and its
	// content flags to be a subset of what was requested.
	var best *Record
	var bestBlock *block
	for i := range r.blocks {
		b := &r.blocks[i]
		if b.LocaleFlags&locale == 0 {
			continue
		}
		if b.ContentFlags&^content != 0 {
			continue
		}
		for _, rec := range b.Records {
			for _, cand := range candidates {
				if cand.FileDataID == rec.FileDataID && cand.CKey == rec.CKey {
					if best == nil || moreSpecific(b, bestBlock) {
						best = &rec
						bestBlock = b
					}
				}
			}
		}
	}
	if best == nil {
		return ckey.ContentKey{}, false
	}
	return best.CKey, true
}

func moreSpecific(a, b *block) bool {
	if b == nil {
		return true
	}
	return bits(uint32(a.ContentFlags)) > bits(uint32(b.ContentFlags))
}

func bits(v uint32) int {
	n := 0
	for v != 0 {
		n += int(v & 1)
		v >>= 1
	}
	return n
}
