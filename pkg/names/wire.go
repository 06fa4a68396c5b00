package names

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"
	"unicode/utf8"
)

// Serialized strings are int32 length-prefixed and NUL terminated. A
// negative length means the payload is UTF-16 code units instead of bytes.

// ReadString decodes a length-prefixed string. wide reports whether the
// payload was UTF-16 encoded.
func ReadString(r io.Reader) (s string, wide bool, err error) {
	var length int32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", false, fmt.Errorf("read string length: %w", err)
	}
	switch {
	case length == 0:
		return "", false, nil
	case length > 0:
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", false, fmt.Errorf("read string payload: %w", err)
		}
		if buf[len(buf)-1] != 0 {
			return "", false, fmt.Errorf("string payload missing NUL terminator")
		}
		return string(buf[:len(buf)-1]), false, nil
	default:
		if length == math.MinInt32 {
			return "", false, fmt.Errorf("wide string length %d out of range", length)
		}
		units := make([]uint16, -length)
		if err := binary.Read(r, binary.LittleEndian, &units); err != nil {
			return "", false, fmt.Errorf("read wide string payload: %w", err)
		}
		if units[len(units)-1] != 0 {
			return "", false, fmt.Errorf("wide string payload missing NUL terminator")
		}
		return string(utf16.Decode(units[:len(units)-1])), true, nil
	}
}

// WriteString encodes s. The narrow form is defined for ASCII content
// only; when wide is false but s contains non-ASCII runes the string is
// promoted to the wide encoding. A narrow payload carrying high bytes is
// outside that well-formedness boundary and re-encodes wide.
func WriteString(w io.Writer, s string, wide bool) error {
	if s == "" {
		return binary.Write(w, binary.LittleEndian, int32(0))
	}
	if !wide && !isASCII(s) {
		wide = true
	}
	if wide {
		units := append(utf16.Encode([]rune(s)), 0)
		if err := binary.Write(w, binary.LittleEndian, int32(-len(units))); err != nil {
			return fmt.Errorf("write wide string length: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, units); err != nil {
			return fmt.Errorf("write wide string payload: %w", err)
		}
		return nil
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(s)+1)); err != nil {
		return fmt.Errorf("write string length: %w", err)
	}
	if _, err := w.Write(append([]byte(s), 0)); err != nil {
		return fmt.Errorf("write string payload: %w", err)
	}
	return nil
}

// StringSize returns the encoded byte count WriteString would produce.
func StringSize(s string, wide bool) int {
	if s == "" {
		return 4
	}
	if wide || !isASCII(s) {
		return 4 + 2*(len(utf16.Encode([]rune(s)))+1)
	}
	return 4 + len(s) + 1
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// ReadName decodes an int32 table index + int32 number pair against t.
func (t *Table) ReadName(r io.Reader) (Name, error) {
	var pair [2]int32
	if err := binary.Read(r, binary.LittleEndian, &pair); err != nil {
		return Name{}, fmt.Errorf("read name: %w", err)
	}
	text, err := t.Resolve(pair[0])
	if err != nil {
		return Name{}, err
	}
	return Name{Text: text, Number: pair[1]}, nil
}

// WriteName encodes n against t. The name's content must already be
// interned; writers intern every name they emit before serializing.
func (t *Table) WriteName(w io.Writer, n Name) error {
	idx, ok := t.lookup[n.Text]
	if !ok {
		return fmt.Errorf("write name: %q not interned", n.Text)
	}
	return binary.Write(w, binary.LittleEndian, [2]int32{idx, n.Number})
}

// NameSize is the fixed wire size of a serialized name.
const NameSize = 8
