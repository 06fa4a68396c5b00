// Package property implements the tagged property stream: a closed set of
// value variants read and written as length-prefixed records, with an opaque
// raw fallback for types the codec does not model so round-trips stay
// lossless.
package property

import (
	"errors"

	"github.com/google/uuid"

	"github.com/odvcencio/uasset/pkg/names"
	"github.com/odvcencio/uasset/pkg/xref"
)

// ErrMissingTypeInfo reports a property that cannot be typed from its tag
// and has no entry in the external type mappings.
var ErrMissingTypeInfo = errors.New("missing type info")

// Property type names as they appear in the stream.
const (
	TypeBool    = "BoolProperty"
	TypeInt8    = "Int8Property"
	TypeInt16   = "Int16Property"
	TypeInt     = "IntProperty"
	TypeInt64   = "Int64Property"
	TypeByte    = "ByteProperty"
	TypeUInt16  = "UInt16Property"
	TypeUInt32  = "UInt32Property"
	TypeUInt64  = "UInt64Property"
	TypeFloat   = "FloatProperty"
	TypeDouble  = "DoubleProperty"
	TypeStr     = "StrProperty"
	TypeName    = "NameProperty"
	TypeObject  = "ObjectProperty"
	TypeEnum    = "EnumProperty"
	TypeStruct  = "StructProperty"
	TypeArray   = "ArrayProperty"
	TypeSet     = "SetProperty"
	TypeMap     = "MapProperty"
	TypeText    = "TextProperty"
)

// Struct type names with a fixed binary layout.
const (
	StructVector      = "Vector"
	StructVector2D    = "Vector2D"
	StructVector4     = "Vector4"
	StructRotator     = "Rotator"
	StructQuat        = "Quat"
	StructTransform   = "Transform"
	StructLinearColor = "LinearColor"
	StructGuid        = "Guid"
	StructDateTime    = "DateTime"
	StructTimespan    = "Timespan"
)

// Property is one record of a property bag.
type Property struct {
	Name       names.Name
	Type       names.Name
	ArrayIndex uint32
	// GUID is the optional per-property GUID carried by newer containers.
	GUID  *uuid.UUID
	Value Value
}

// Bag is an ordered property collection. Insertion order is preserved so a
// bag re-serializes to the bytes it was read from.
type Bag struct {
	Properties []Property
}

// Get returns the first property with the given base name.
func (b *Bag) Get(name string) *Property {
	for i := range b.Properties {
		if b.Properties[i].Name.Text == name {
			return &b.Properties[i]
		}
	}
	return nil
}

// Add appends a property.
func (b *Bag) Add(p Property) {
	b.Properties = append(b.Properties, p)
}

// Len returns the number of properties.
func (b *Bag) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Properties)
}

// Value is one variant of the closed property value set.
type Value interface {
	isValue()
}

type (
	BoolValue   bool
	Int8Value   int8
	Int16Value  int16
	Int32Value  int32
	Int64Value  int64
	UInt16Value uint16
	UInt32Value uint32
	UInt64Value uint64
	FloatValue  float32
	DoubleValue float64

	// NameValue is a name-table reference.
	NameValue names.Name

	// ObjectValue is a package index reference.
	ObjectValue xref.Index

	// RawValue holds the payload of an unrecognized property type verbatim.
	RawValue []byte

	// DateTimeValue and TimespanValue are tick counts.
	DateTimeValue int64
	TimespanValue int64

	// GuidValue is a 16-byte identifier payload.
	GuidValue uuid.UUID
)

// StrValue is a string payload. Wide records whether the source encoded it
// as UTF-16 so the same encoding is used on write.
type StrValue struct {
	Text string
	Wide bool
}

// EnumValue is an enum payload. When the container carried no enum type the
// value was stored as a bare index and ByIndex is set; the value name then
// comes from external type mappings.
type EnumValue struct {
	EnumType names.Name
	Value    names.Name
	ByIndex  bool
	Index    uint8
}

// ByteValue is a byte payload, stored as a raw byte when EnumType is "None"
// and as a name otherwise.
type ByteValue struct {
	EnumType names.Name
	Raw      uint8
	Value    names.Name
}

// StructValue wraps a struct payload: a fixed math layout for known struct
// types, otherwise a nested bag.
type StructValue struct {
	StructType names.Name
	GUID       uuid.UUID
	Inner      Value
}

func (b *Bag) isValue() {}

// Math payloads.
type (
	VectorValue      struct{ X, Y, Z float64 }
	Vector2DValue    struct{ X, Y float64 }
	Vector4Value     struct{ X, Y, Z, W float64 }
	RotatorValue     struct{ Pitch, Yaw, Roll float64 }
	QuatValue        struct{ X, Y, Z, W float64 }
	LinearColorValue struct{ R, G, B, A float32 }
)

// TransformValue is a rotation, translation, scale triple.
type TransformValue struct {
	Rotation    QuatValue
	Translation VectorValue
	Scale       VectorValue
}

// StructHeader is the element tag a struct-typed array carries once before
// its elements.
type StructHeader struct {
	Name       names.Name
	ArrayIndex uint32
	StructType names.Name
	GUID       uuid.UUID
	PropGUID   *uuid.UUID
}

// ArrayValue is an array payload. InnerHeader is present for struct-typed
// elements.
type ArrayValue struct {
	ElementType names.Name
	InnerHeader *StructHeader
	Elements    []Value
}

// SetValue is a set payload.
type SetValue struct {
	ElementType names.Name
	Elements    []Value
}

// MapPair is one map entry.
type MapPair struct {
	Key   Value
	Value Value
}

// MapValue is a map payload. Pairs keep stream order, which downstream
// consumers may depend on. KeyStripped and ValueStripped record that the
// serialized tag carried "None" and the concrete type came from a mapping
// table, so writing restores the stripped tag.
type MapValue struct {
	KeyType       names.Name
	ValueType     names.Name
	KeyStripped   bool
	ValueStripped bool
	RemovedKeys   []Value
	Pairs         []MapPair
}

// TextValue is a localized text payload. Histories other than the base and
// none forms are preserved verbatim in Raw.
type TextValue struct {
	Flags     uint32
	History   uint8
	Namespace StrValue
	Key       StrValue
	Source    StrValue
	// HasInvariant and Invariant model the culture-invariant form.
	HasInvariant bool
	Invariant    StrValue
	Raw          []byte
}

// Text history tags.
const (
	TextHistoryBase uint8 = 0
	TextHistoryNone uint8 = 255
)

func (BoolValue) isValue()        {}
func (Int8Value) isValue()        {}
func (Int16Value) isValue()       {}
func (Int32Value) isValue()       {}
func (Int64Value) isValue()       {}
func (UInt16Value) isValue()      {}
func (UInt32Value) isValue()      {}
func (UInt64Value) isValue()      {}
func (FloatValue) isValue()       {}
func (DoubleValue) isValue()      {}
func (StrValue) isValue()         {}
func (NameValue) isValue()        {}
func (ObjectValue) isValue()      {}
func (EnumValue) isValue()        {}
func (ByteValue) isValue()        {}
func (StructValue) isValue()      {}
func (VectorValue) isValue()      {}
func (Vector2DValue) isValue()    {}
func (Vector4Value) isValue()     {}
func (RotatorValue) isValue()     {}
func (QuatValue) isValue()        {}
func (LinearColorValue) isValue() {}
func (TransformValue) isValue()   {}
func (GuidValue) isValue()        {}
func (DateTimeValue) isValue()    {}
func (TimespanValue) isValue()    {}
func (ArrayValue) isValue()       {}
func (SetValue) isValue()         {}
func (MapValue) isValue()         {}
func (TextValue) isValue()        {}
func (RawValue) isValue()         {}

// mathStructs maps fixed-layout struct type names to nothing; membership is
// the test. DateTime, Timespan and Guid are handled alongside them.
var mathStructs = map[string]bool{
	StructVector:      true,
	StructVector2D:    true,
	StructVector4:     true,
	StructRotator:     true,
	StructQuat:        true,
	StructTransform:   true,
	StructLinearColor: true,
	StructGuid:        true,
	StructDateTime:    true,
	StructTimespan:    true,
}

// IsMathStruct reports whether the struct type has a fixed binary layout.
func IsMathStruct(structType string) bool {
	return mathStructs[structType]
}
