// Package osc implements the OSC 1.0 wire format used by the session
// protocol, together with the registry of every message the protocol
// speaks (see tags.go) and the user-facing command-name table (names.go).
//
// Only the argument alphabet the protocol needs is supported:
// 'i' int32, 'f' float32, 'd' float64 and 's' string. Bundles are not
// used by any peer and are not implemented.
package osc

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Message is a single OSC message: an address pattern, a typespec over
// the alphabet "ifds" and the matching argument values.
type Message struct {
	Path  string
	Types string
	Args  []any
}

// NewMessage builds a message for path, deriving the typespec from the
// argument values. Supported argument types: int32/int ('i'), float32
// ('f'), float64 ('d') and string ('s').
func NewMessage(path string, args ...any) (Message, error) {
	m := Message{Path: path, Args: make([]any, 0, len(args))}
	var sb strings.Builder
	for _, a := range args {
		switch v := a.(type) {
		case int32:
			sb.WriteByte('i')
			m.Args = append(m.Args, v)
		case int:
			sb.WriteByte('i')
			m.Args = append(m.Args, int32(v))
		case float32:
			sb.WriteByte('f')
			m.Args = append(m.Args, v)
		case float64:
			sb.WriteByte('d')
			m.Args = append(m.Args, v)
		case string:
			sb.WriteByte('s')
			m.Args = append(m.Args, v)
		default:
			return Message{}, fmt.Errorf("osc: unsupported argument type %T", a)
		}
	}
	m.Types = sb.String()
	return m, nil
}

// String renders the message for logs.
func (m Message) String() string {
	return fmt.Sprintf("%s ,%s %v", m.Path, m.Types, m.Args)
}

// Int returns argument i as an int32.
func (m Message) Int(i int) int32 {
	v, _ := m.Args[i].(int32)
	return v
}

// Float returns argument i as a float32, widening from 'f' or
// narrowing from 'd'.
func (m Message) Float(i int) float32 {
	switch v := m.Args[i].(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	}
	return 0
}

// Double returns argument i as a float64.
func (m Message) Double(i int) float64 {
	switch v := m.Args[i].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return 0
}

// Str returns argument i as a string.
func (m Message) Str(i int) string {
	v, _ := m.Args[i].(string)
	return v
}

// Marshal encodes the message into OSC 1.0 wire bytes: the padded
// address pattern, the padded ","-prefixed typespec, then the
// big-endian arguments.
func (m Message) Marshal() ([]byte, error) {
	if len(m.Args) != len(m.Types) {
		return nil, fmt.Errorf("osc: %d args for typespec %q", len(m.Args), m.Types)
	}
	buf := make([]byte, 0, 64)
	buf = appendPadded(buf, m.Path)
	buf = appendPadded(buf, ","+m.Types)
	for i, t := range m.Types {
		switch t {
		case 'i':
			v, ok := m.Args[i].(int32)
			if !ok {
				return nil, fmt.Errorf("osc: arg %d: want int32, have %T", i, m.Args[i])
			}
			buf = binary.BigEndian.AppendUint32(buf, uint32(v))
		case 'f':
			v, ok := m.Args[i].(float32)
			if !ok {
				return nil, fmt.Errorf("osc: arg %d: want float32, have %T", i, m.Args[i])
			}
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
		case 'd':
			v, ok := m.Args[i].(float64)
			if !ok {
				return nil, fmt.Errorf("osc: arg %d: want float64, have %T", i, m.Args[i])
			}
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
		case 's':
			v, ok := m.Args[i].(string)
			if !ok {
				return nil, fmt.Errorf("osc: arg %d: want string, have %T", i, m.Args[i])
			}
			buf = appendPadded(buf, v)
		default:
			return nil, fmt.Errorf("osc: typespec %q: unsupported type %q", m.Types, t)
		}
	}
	return buf, nil
}

// Unmarshal decodes one OSC 1.0 message. It is the exact inverse of
// Marshal and rejects truncated or unpadded input.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	path, off, err := readPadded(b, 0)
	if err != nil {
		return m, fmt.Errorf("osc: address pattern: %w", err)
	}
	spec, off, err := readPadded(b, off)
	if err != nil {
		return m, fmt.Errorf("osc: typespec: %w", err)
	}
	if len(spec) == 0 || spec[0] != ',' {
		return m, fmt.Errorf("osc: typespec %q lacks leading comma", spec)
	}
	m.Path = path
	m.Types = spec[1:]
	m.Args = make([]any, 0, len(m.Types))
	for _, t := range m.Types {
		switch t {
		case 'i':
			if off+4 > len(b) {
				return m, fmt.Errorf("osc: truncated int32 at offset %d", off)
			}
			m.Args = append(m.Args, int32(binary.BigEndian.Uint32(b[off:])))
			off += 4
		case 'f':
			if off+4 > len(b) {
				return m, fmt.Errorf("osc: truncated float32 at offset %d", off)
			}
			m.Args = append(m.Args, math.Float32frombits(binary.BigEndian.Uint32(b[off:])))
			off += 4
		case 'd':
			if off+8 > len(b) {
				return m, fmt.Errorf("osc: truncated float64 at offset %d", off)
			}
			m.Args = append(m.Args, math.Float64frombits(binary.BigEndian.Uint64(b[off:])))
			off += 8
		case 's':
			s, n, err := readPadded(b, off)
			if err != nil {
				return m, fmt.Errorf("osc: string arg: %w", err)
			}
			m.Args = append(m.Args, s)
			off = n
		default:
			return m, fmt.Errorf("osc: typespec %q: unsupported type %q", m.Types, t)
		}
	}
	if off != len(b) {
		return m, fmt.Errorf("osc: %d trailing bytes", len(b)-off)
	}
	return m, nil
}

// appendPadded appends s, its NUL terminator, and zero padding up to
// the next 4-byte boundary.
func appendPadded(buf []byte, s string) []byte {
	buf = append(buf, s...)
	for n := 4 - len(s)%4; n > 0; n-- {
		buf = append(buf, 0)
	}
	return buf
}

// readPadded reads a NUL-terminated, 4-byte-padded string starting at
// off and returns it with the offset past the padding.
func readPadded(b []byte, off int) (string, int, error) {
	if off >= len(b) {
		return "", 0, fmt.Errorf("offset %d past end", off)
	}
	i := off
	for i < len(b) && b[i] != 0 {
		i++
	}
	if i == len(b) {
		return "", 0, fmt.Errorf("unterminated string at offset %d", off)
	}
	s := string(b[off:i])
	end := off + (i-off)/4*4 + 4
	if end > len(b) {
		return "", 0, fmt.Errorf("padding past end at offset %d", off)
	}
	for j := i; j < end; j++ {
		if b[j] != 0 {
			return "", 0, fmt.Errorf("nonzero padding at offset %d", j)
		}
	}
	return s, end, nil
}
