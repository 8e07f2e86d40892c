package espec

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse parses an encoding spec string into a Spec tree.
func Parse(s string) (Spec, error) {
	p := &parser{input: s}
	spec, err := p.parseSpec()
	if err != nil {
		return nil, fmt.Errorf("espec: parse %q: %w", s, err)
	}
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("espec: parse %q: trailing input at %d: %q", s, p.pos, p.input[p.pos:])
	}
	return spec, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) eof() bool { return p.pos >= len(p.input) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) expect(c byte) error {
	if p.eof() || p.input[p.pos] != c {
		return fmt.Errorf("expected %q at %d, got %q", c, p.pos, p.rest())
	}
	p.pos++
	return nil
}

func (p *parser) rest() string {
	if p.eof() {
		return "<eof>"
	}
	return p.input[p.pos:]
}

func (p *parser) parseSpec() (Spec, error) {
	switch p.peek() {
	case 'n':
		p.pos++
		return Raw{}, nil
	case 'z':
		return p.parseZip()
	case 'e':
		return p.parseEncrypted()
	case 'b':
		return p.parseBlocks()
	default:
		return nil, fmt.Errorf("unexpected spec tag at %d: %q", p.pos, p.rest())
	}
}

func (p *parser) parseZip() (Spec, error) {
	if err := p.expect('z'); err != nil {
		return nil, err
	}
	var z Zip
	if p.peek() == '=' {
		p.pos++
		level, err := p.parseUint()
		if err != nil {
			return nil, err
		}
		z.Level = int(level)
	}
	if strings.HasPrefix(p.rest(), ",mpq") || strings.HasPrefix(p.rest(), ",window=") {
		p.pos++
		switch {
		case strings.HasPrefix(p.rest(), "mpq"):
			p.pos += len("mpq")
			z.MPQ = true
		case strings.HasPrefix(p.rest(), "window="):
			p.pos += len("window=")
			bits, err := p.parseUint()
			if err != nil {
				return nil, err
			}
			z.Window = int(bits)
		default:
			return nil, fmt.Errorf("expected \"mpq\" or \"window=\" at %d: %q", p.pos, p.rest())
		}
	}
	return z, nil
}

func (p *parser) parseEncrypted() (Spec, error) {
	if err := p.expect('e'); err != nil {
		return nil, err
	}
	if err := p.expect(','); err != nil {
		return nil, err
	}
	keyHex, err := p.parseHexRun()
	if err != nil {
		return nil, err
	}
	keyBytes, err := decodeHexExact(keyHex, 8)
	if err != nil {
		return nil, fmt.Errorf("key name: %w", err)
	}
	if err := p.expect(','); err != nil {
		return nil, err
	}
	ivHex, err := p.parseHexRun()
	if err != nil {
		return nil, err
	}
	ivBytes, err := decodeHexExact(ivHex, 4)
	if err != nil {
		return nil, fmt.Errorf("iv: %w", err)
	}
	if err := p.expect(','); err != nil {
		return nil, err
	}
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	inner, err := p.parseSpec()
	if err != nil {
		return nil, err
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	var e Encrypted
	copy(e.KeyName[:], keyBytes)
	copy(e.IV[:], ivBytes)
	e.Inner = inner
	return e, nil
}

func (p *parser) parseBlocks() (Spec, error) {
	if err := p.expect('b'); err != nil {
		return nil, err
	}
	if err := p.expect(':'); err != nil {
		return nil, err
	}
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	var chunks []Chunk
	var greedyInner Spec
	for {
		if p.peek() == '*' {
			p.pos++
			if err := p.expect('='); err != nil {
				return nil, err
			}
			braced := p.peek() == '{'
			if braced {
				p.pos++
			}
			inner, err := p.parseSpec()
			if err != nil {
				return nil, err
			}
			if braced {
				if err := p.expect('}'); err != nil {
					return nil, err
				}
			}
			greedyInner = inner
		} else {
			size, err := p.parseSize()
			if err != nil {
				return nil, err
			}
			count := uint32(0)
			if p.peek() == '*' {
				p.pos++
				c, err := p.parseUint()
				if err != nil {
					return nil, err
				}
				count = uint32(c)
			}
			if err := p.expect('='); err != nil {
				return nil, err
			}
			braced := p.peek() == '{'
			if braced {
				p.pos++
			}
			inner, err := p.parseSpec()
			if err != nil {
				return nil, err
			}
			if braced {
				if err := p.expect('}'); err != nil {
					return nil, err
				}
			}
			chunks = append(chunks, Chunk{Size: size, Count: count, Inner: inner})
		}
		if p.peek() == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	switch {
	case greedyInner != nil && len(chunks) == 0:
		return Blocks{Size: Greedy{Inner: greedyInner}}, nil
	case greedyInner != nil:
		return Blocks{Size: ChunkedGreedy{Chunks: chunks, Inner: greedyInner}}, nil
	default:
		return Blocks{Size: Chunked{Chunks: chunks}}, nil
	}
}

func (p *parser) parseUint() (uint64, error) {
	start := p.pos
	for !p.eof() && p.input[p.pos] >= '0' && p.input[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == start {
		return 0, fmt.Errorf("expected digits at %d: %q", start, p.rest())
	}
	return strconv.ParseUint(p.input[start:p.pos], 10, 64)
}

// parseSize parses a chunk size: digits optionally followed by K or M.
func (p *parser) parseSize() (uint32, error) {
	n, err := p.parseUint()
	if err != nil {
		return 0, err
	}
	switch p.peek() {
	case 'K':
		p.pos++
		n *= 1 << 10
	case 'M':
		p.pos++
		n *= 1 << 20
	}
	return uint32(n), nil
}

func (p *parser) parseHexRun() (string, error) {
	start := p.pos
	for !p.eof() && isHexDigit(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("expected hex digits at %d: %q", start, p.rest())
	}
	return p.input[start:p.pos], nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func decodeHexExact(s string, wantBytes int) ([]byte, error) {
	if len(s) != wantBytes*2 {
		return nil, fmt.Errorf("expected %d hex chars, got %d (%q)", wantBytes*2, len(s), s)
	}
	out := make([]byte, wantBytes)
	for i := 0; i < wantBytes; i++ {
		hi, err := hexVal(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexVal(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}
