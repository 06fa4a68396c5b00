// Package names implements the deduplicated string table used by asset
// containers. Strings are stored once and referenced everywhere else by a
// stable int32 index; a Name pairs such a string with an optional numeric
// suffix ("counted name").
package names

import (
	"errors"
	"fmt"
)

// None is the sentinel string occupying index 0 of every table. A Name
// resolving to it terminates a property bag.
const None = "None"

// ErrOutOfRange reports a name index outside the table bounds.
var ErrOutOfRange = errors.New("name index out of range")

// Name is a counted name: base string content plus an instance number.
// Two names are equal when their content and number match; raw table
// indices are never compared because each asset owns an independent table.
type Name struct {
	Text   string
	Number int32
}

// New returns a Name with number 0.
func New(text string) Name {
	return Name{Text: text}
}

// WithNumber returns a Name carrying an instance number.
func WithNumber(text string, number int32) Name {
	return Name{Text: text, Number: number}
}

// String renders the serialized form: "Text" or "Text_Number".
func (n Name) String() string {
	if n.Number == 0 {
		return n.Text
	}
	return fmt.Sprintf("%s_%d", n.Text, n.Number)
}

// Equal compares resolved content and number.
func (n Name) Equal(other Name) bool {
	return n.Text == other.Text && n.Number == other.Number
}

// IsNone reports whether this is the bag-terminating sentinel.
func (n Name) IsNone() bool {
	return n.Text == None
}

// Table is an ordered sequence of unique strings. Index 0 is always "None".
type Table struct {
	entries []string
	lookup  map[string]int32
}

// NewTable returns a table holding only the "None" sentinel.
func NewTable() *Table {
	t := &Table{lookup: make(map[string]int32)}
	t.Intern(None)
	return t
}

// Intern returns the index of s, appending it only if not already present.
func (t *Table) Intern(s string) int32 {
	if idx, ok := t.lookup[s]; ok {
		return idx
	}
	idx := int32(len(t.entries))
	t.entries = append(t.entries, s)
	t.lookup[s] = idx
	return idx
}

// Resolve returns the string at idx.
func (t *Table) Resolve(idx int32) (string, error) {
	if idx < 0 || int(idx) >= len(t.entries) {
		return "", fmt.Errorf("%w: %d (table size %d)", ErrOutOfRange, idx, len(t.entries))
	}
	return t.entries[idx], nil
}

// IndexOf returns the index of s without interning it.
func (t *Table) IndexOf(s string) (int32, bool) {
	idx, ok := t.lookup[s]
	return idx, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the table contents in index order.
func (t *Table) Entries() []string {
	out := make([]string, len(t.entries))
	copy(out, t.entries)
	return out
}
