// Package typemap reads and writes the external type-mapping stream used
// for containers whose embedded type metadata has been stripped: enum value
// lists, struct layouts, and per-property element type overrides for arrays
// and maps, all keyed by name.
package typemap

// Mappings is the decoded type-mapping source consulted by the property
// codec before it falls back to embedded tags.
type Mappings struct {
	// Enums maps enum type name to its ordered value names.
	Enums map[string][]string
	// Structs maps struct type name to its layout.
	Structs map[string]Struct
	// ArrayStructTypes maps an array property's name to the struct type
	// of its elements when the element tag itself is stripped.
	ArrayStructTypes map[string]string
	// MapKeyTypes and MapValueTypes map a map property's name to its
	// key/value type names when the map tag is stripped.
	MapKeyTypes   map[string]string
	MapValueTypes map[string]string
}

// Struct describes one struct layout.
type Struct struct {
	Name       string
	Properties []Property
}

// Property describes one field of a struct layout. Inner carries the
// element type for arrays/sets, Value the value type for maps, and
// StructType the struct name for struct-typed fields; unused hints are
// empty.
type Property struct {
	Name       string
	Type       string
	Inner      string
	Value      string
	StructType string
}

// New returns empty, non-nil mappings.
func New() *Mappings {
	return &Mappings{
		Enums:            make(map[string][]string),
		Structs:          make(map[string]Struct),
		ArrayStructTypes: make(map[string]string),
		MapKeyTypes:      make(map[string]string),
		MapValueTypes:    make(map[string]string),
	}
}

// Enum returns the ordered values of the named enum.
func (m *Mappings) Enum(name string) ([]string, bool) {
	if m == nil {
		return nil, false
	}
	values, ok := m.Enums[name]
	return values, ok
}

// EnumValue returns the value name stored at index within the named enum.
func (m *Mappings) EnumValue(enum string, index int) (string, bool) {
	values, ok := m.Enum(enum)
	if !ok || index < 0 || index >= len(values) {
		return "", false
	}
	return values[index], true
}

// EnumIndex returns the index of value within the named enum.
func (m *Mappings) EnumIndex(enum, value string) (int, bool) {
	values, ok := m.Enum(enum)
	if !ok {
		return 0, false
	}
	for i, v := range values {
		if v == value {
			return i, true
		}
	}
	return 0, false
}

// StructLayout returns the layout of the named struct.
func (m *Mappings) StructLayout(name string) (Struct, bool) {
	if m == nil {
		return Struct{}, false
	}
	s, ok := m.Structs[name]
	return s, ok
}

// ArrayStructType returns the element struct type recorded for an array
// property name.
func (m *Mappings) ArrayStructType(property string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m.ArrayStructTypes[property]
	return s, ok
}

// MapKeyType returns the key type recorded for a map property name.
func (m *Mappings) MapKeyType(property string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m.MapKeyTypes[property]
	return s, ok
}

// MapValueType returns the value type recorded for a map property name.
func (m *Mappings) MapValueType(property string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m.MapValueTypes[property]
	return s, ok
}
