// ABOUTME: Order-preserving composite key encoding
// ABOUTME: Keys sort by (prefix, segment...) under bytewise comparison

package store

import (
	"encoding/binary"
	"fmt"
)

// Segment types for composite keys.
const (
	segBytes = 1
	segInt32 = 2
)

// Segment is one element of a composite key.
type Segment struct {
	typ   uint8
	bytes []byte
	i32   int32
}

// Bytes creates a string/bytes key segment.
func Bytes(s string) Segment {
	return Segment{typ: segBytes, bytes: []byte(s)}
}

// Int32 creates a signed 32-bit key segment. Encoded values preserve
// numeric order under bytewise comparison.
func Int32(v int32) Segment {
	return Segment{typ: segInt32, i32: v}
}

// EncodeKey builds a composite key: a big-endian 4-byte prefix followed by
// each segment in order-preserving form. Keys with the same prefix sort in
// tuple order.
func EncodeKey(prefix uint32, segs ...Segment) []byte {
	out := make([]byte, 4, 4+16*len(segs))
	binary.BigEndian.PutUint32(out, prefix)

	for _, s := range segs {
		out = append(out, s.typ)

		switch s.typ {
		case segBytes:
			// Escape and null-terminate so that shorter strings sort
			// before their extensions and the terminator never appears
			// inside a segment.
			out = append(out, escapeBytes(s.bytes)...)
			out = append(out, 0)

		case segInt32:
			// Flip the sign bit so negative values sort before positive.
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], uint32(s.i32)+(1<<31))
			out = append(out, buf[:]...)

		default:
			panic(fmt.Sprintf("store: unknown segment type %d", s.typ))
		}
	}
	return out
}

// KeyPrefix encodes only the prefix (and optional leading segments) for use
// as a scan bound.
func KeyPrefix(prefix uint32, segs ...Segment) []byte {
	return EncodeKey(prefix, segs...)
}

// DecodeKey extracts the segments of a composite key produced by EncodeKey.
func DecodeKey(key []byte) ([]Segment, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("store: key too short: %d bytes", len(key))
	}

	segs := make([]Segment, 0, 4)
	pos := 4

	for pos < len(key) {
		typ := key[pos]
		pos++

		switch typ {
		case segBytes:
			end := pos
			for end < len(key) && key[end] != 0 {
				end++
			}
			if end >= len(key) {
				return nil, fmt.Errorf("store: unterminated bytes segment at %d", pos)
			}
			segs = append(segs, Segment{typ: segBytes, bytes: unescapeBytes(key[pos:end])})
			pos = end + 1

		case segInt32:
			if pos+4 > len(key) {
				return nil, fmt.Errorf("store: truncated int32 segment at %d", pos)
			}
			u := binary.BigEndian.Uint32(key[pos : pos+4])
			segs = append(segs, Segment{typ: segInt32, i32: int32(u - (1 << 31))})
			pos += 4

		default:
			return nil, fmt.Errorf("store: unknown segment type %d at %d", typ, pos-1)
		}
	}

	return segs, nil
}

// Str returns the string form of a bytes segment.
func (s Segment) Str() string {
	return string(s.bytes)
}

// I32 returns the value of an int32 segment.
func (s Segment) I32() int32 {
	return s.i32
}

// escapeBytes rewrites 0x00, 0xFE and 0xFF into two-byte sequences led by
// the escape byte 0xFE. The escaped form contains no raw 0x00, so the
// null terminator of a bytes segment is unambiguous, and no raw 0xFE, so
// unescaping is lossless.
func escapeBytes(s []byte) []byte {
	needed := 0
	for _, b := range s {
		if b == 0x00 || b == 0xFE || b == 0xFF {
			needed++
		}
	}
	if needed == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+needed)
	for _, b := range s {
		switch b {
		case 0x00:
			out = append(out, 0xFE, 0x01)
		case 0xFE:
			out = append(out, 0xFE, 0x02)
		case 0xFF:
			out = append(out, 0xFE, 0x03)
		default:
			out = append(out, b)
		}
	}
	return out
}

func unescapeBytes(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0xFE && i+1 < len(s) {
			switch s[i+1] {
			case 0x01:
				out = append(out, 0x00)
			case 0x02:
				out = append(out, 0xFE)
			case 0x03:
				out = append(out, 0xFF)
			default:
				out = append(out, s[i+1])
			}
			i++
			continue
		}
		out = append(out, s[i])
	}
	return out
}
