// Package espec implements the small declarative grammar used to describe
// how a BLTE stream was (or should be) encoded: the "encoding spec"
// embedded by reference in the Encoding table and consumed by blte.Encode.
//
// Grammar (informal):
//
//	spec       := "n" | zip | encrypted | blocks
//	zip        := "z" ["=" level] ["," ("mpq" | "window=" bits)]
//	encrypted  := "e" "," keyname "," iv "," "{" spec "}"
//	blocks     := "b" ":" "{" chunk ("," chunk)* "}"
//	chunk      := chunksize "=" inner | chunksize "*" count "=" inner | "*" "=" inner
//	inner      := spec | "{" spec "}"
//	chunksize  := digits ["K" | "M"]
//
// The parser accepts a chunk's inner spec with or without braces; String
// always prints the braced form.
//
// A plain number chunk size repeated with "*count" is Chunked; a bare
// digit size list is also Chunked; a trailing "*=" entry after one or more
// sized entries makes the block list ChunkedGreedy (fixed-size chunks
// followed by one greedy remainder chunk); a lone "*=" as the only entry
// is Greedy (the entire remainder in one block).
package espec

import (
	"fmt"
	"strconv"
	"strings"
)

// Spec is the root of an ESpec AST node.
type Spec interface {
	fmt.Stringer
	isSpec()
}

// Raw is the "n" (none) spec: store the bytes unmodified.
type Raw struct{}

func (Raw) isSpec()          {}
func (Raw) String() string   { return "n" }

// Zip is the "z" spec: zlib-compress the bytes.
type Zip struct {
	// Level is the zlib compression level, 1-9. Zero means "unspecified",
	// printed without the "=level" suffix.
	Level int
	// MPQ selects the MPQ-compatible window-bits variant used by some
	// older archives: the window is derived from the input length via
	// mpqWindowBits rather than stated explicitly.
	MPQ bool
	// Window is an explicit window-bits value (9-15). Zero means
	// "unspecified": with MPQ unset too, the writer uses the widest
	// window (15).
	Window int
}

func (Zip) isSpec() {}
func (z Zip) String() string {
	var sb strings.Builder
	sb.WriteString("z")
	if z.Level != 0 {
		fmt.Fprintf(&sb, "=%d", z.Level)
	}
	switch {
	case z.MPQ:
		sb.WriteString(",mpq")
	case z.Window != 0:
		fmt.Fprintf(&sb, ",window=%d", z.Window)
	}
	return sb.String()
}

// WindowBits resolves the zlib window size in bits this spec calls for
// when compressing inputLen bytes of data: an explicit Window value, the
// MPQ size-derived table, or the default 15 if neither is set.
func (z Zip) WindowBits(inputLen int) int {
	switch {
	case z.Window != 0:
		return z.Window
	case z.MPQ:
		return mpqWindowBits(inputLen)
	default:
		return 15
	}
}

// mpqWindowBits picks the MPQ-compatible window size for an input of
// inputLen bytes: the smallest power-of-two window that covers the whole
// input, no smaller than 9 and capped at 15.
func mpqWindowBits(inputLen int) int {
	switch {
	case inputLen <= 512:
		return 9
	case inputLen <= 1024:
		return 10
	case inputLen <= 2048:
		return 11
	case inputLen <= 4096:
		return 12
	case inputLen <= 8192:
		return 13
	case inputLen <= 16384:
		return 14
	default:
		return 15
	}
}

// Encrypted is the "e" spec: Salsa20-encrypt the inner spec's output under
// a named key.
type Encrypted struct {
	KeyName [8]byte
	IV      [4]byte
	Inner   Spec
}

func (Encrypted) isSpec() {}
func (e Encrypted) String() string {
	return fmt.Sprintf("e,%x,%x,{%s}", e.KeyName[:], e.IV[:], e.Inner.String())
}

// Chunk is one sized entry inside a Blocks spec.
type Chunk struct {
	// Size is the chunk size in bytes, with any "K"/"M" suffix already
	// applied. The greedy tail of a ChunkedGreedy spec is not a Chunk; it
	// is held in ChunkedGreedy.Inner.
	Size uint32
	// Count repeats this sized chunk Count times. Count==0 means "no
	// explicit *count suffix", equivalent to a single chunk (Count==1) on
	// output.
	Count uint32
	Inner Spec
}

func (c Chunk) sizeString() string {
	n := c.Size
	switch {
	case n != 0 && n%(1<<20) == 0:
		return fmt.Sprintf("%dM", n>>20)
	case n != 0 && n%(1<<10) == 0:
		return fmt.Sprintf("%dK", n>>10)
	default:
		return strconv.FormatUint(uint64(n), 10)
	}
}

// BlockSize is the size-shape of a Blocks spec: Chunked (all sizes fixed),
// ChunkedGreedy (fixed sizes, then one greedy remainder), or Greedy (the
// whole remainder as a single block).
type BlockSize interface {
	fmt.Stringer
	isBlockSize()
}

// Chunked lists one or more fixed-size (optionally repeated) chunks that
// must exactly cover the data with no remainder.
type Chunked struct {
	Chunks []Chunk
}

func (Chunked) isBlockSize() {}
func (c Chunked) String() string {
	parts := make([]string, len(c.Chunks))
	for i, ch := range c.Chunks {
		parts[i] = chunkString(ch, false)
	}
	return strings.Join(parts, ",")
}

// ChunkedGreedy is Chunked plus a final chunk that consumes whatever bytes
// remain after the fixed-size chunks.
type ChunkedGreedy struct {
	Chunks []Chunk
	Inner  Spec
}

func (ChunkedGreedy) isBlockSize() {}
func (c ChunkedGreedy) String() string {
	parts := make([]string, 0, len(c.Chunks)+1)
	for _, ch := range c.Chunks {
		parts = append(parts, chunkString(ch, false))
	}
	parts = append(parts, fmt.Sprintf("*={%s}", c.Inner.String()))
	return strings.Join(parts, ",")
}

// Greedy is a single block covering the entire remaining data.
type Greedy struct {
	Inner Spec
}

func (Greedy) isBlockSize() {}
func (g Greedy) String() string { return fmt.Sprintf("*={%s}", g.Inner.String()) }

func chunkString(c Chunk, greedy bool) string {
	if greedy {
		return fmt.Sprintf("*={%s}", c.Inner.String())
	}
	if c.Count > 1 {
		return fmt.Sprintf("%s*%d={%s}", c.sizeString(), c.Count, c.Inner.String())
	}
	return fmt.Sprintf("%s={%s}", c.sizeString(), c.Inner.String())
}

// Blocks is the "b" spec: partition the data into one or more framed
// chunks, each independently encoded by its own inner spec.
type Blocks struct {
	Size BlockSize
}

func (Blocks) isSpec() {}
func (b Blocks) String() string { return fmt.Sprintf("b:{%s}", b.Size.String()) }
