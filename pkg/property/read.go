package property

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/odvcencio/uasset/pkg/names"
	"github.com/odvcencio/uasset/pkg/typemap"
	"github.com/odvcencio/uasset/pkg/version"
	"github.com/odvcencio/uasset/pkg/xref"
)

// Codec reads and writes property streams against a specific container's
// name table and version set. A codec is cheap and is built per call, never
// shared across containers.
type Codec struct {
	Names    *names.Table
	Object   version.ObjectVersion
	Versions *version.Registry
	Mappings *typemap.Mappings
	// Strict rejects unknown property types instead of keeping them raw.
	Strict bool
}

// wideMath reports whether math struct components are doubles.
func (c *Codec) wideMath() bool {
	return c.Versions != nil &&
		c.Versions.AtLeast(version.UE5MainStream, version.LargeWorldCoordinates)
}

func (c *Codec) hasPropertyGUID() bool {
	return c.Object.AtLeast(version.ObjectVersionPropertyGUID)
}

// ReadBag reads property records until the "None" terminator.
func (c *Codec) ReadBag(r io.Reader) (*Bag, error) {
	bag := &Bag{}
	for {
		p, done, err := c.ReadProperty(r)
		if err != nil {
			return bag, err
		}
		if done {
			return bag, nil
		}
		bag.Properties = append(bag.Properties, *p)
	}
}

// ReadProperty reads one tagged record. done is true when the bag
// terminator was read instead of a record.
func (c *Codec) ReadProperty(r io.Reader) (p *Property, done bool, err error) {
	name, err := c.Names.ReadName(r)
	if err != nil {
		return nil, false, fmt.Errorf("read property name: %w", err)
	}
	if name.IsNone() {
		return nil, true, nil
	}
	typ, err := c.Names.ReadName(r)
	if err != nil {
		return nil, false, fmt.Errorf("property %q: read type: %w", name, err)
	}
	var size, arrayIndex uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, false, fmt.Errorf("property %q: read size: %w", name, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &arrayIndex); err != nil {
		return nil, false, fmt.Errorf("property %q: read array index: %w", name, err)
	}
	p = &Property{Name: name, Type: typ, ArrayIndex: arrayIndex}

	// Type-specific tag header.
	var boolValue uint8
	var structType names.Name
	var structGUID uuid.UUID
	var elemType, keyType, valueType, enumType names.Name
	switch typ.Text {
	case TypeBool:
		if err := binary.Read(r, binary.LittleEndian, &boolValue); err != nil {
			return nil, false, fmt.Errorf("property %q: read bool tag: %w", name, err)
		}
	case TypeStruct:
		if structType, err = c.Names.ReadName(r); err != nil {
			return nil, false, fmt.Errorf("property %q: read struct type: %w", name, err)
		}
		if structGUID, err = version.ReadGUID(r); err != nil {
			return nil, false, fmt.Errorf("property %q: read struct guid: %w", name, err)
		}
	case TypeArray, TypeSet:
		if elemType, err = c.Names.ReadName(r); err != nil {
			return nil, false, fmt.Errorf("property %q: read element type: %w", name, err)
		}
	case TypeMap:
		if keyType, err = c.Names.ReadName(r); err != nil {
			return nil, false, fmt.Errorf("property %q: read key type: %w", name, err)
		}
		if valueType, err = c.Names.ReadName(r); err != nil {
			return nil, false, fmt.Errorf("property %q: read value type: %w", name, err)
		}
	case TypeEnum, TypeByte:
		if enumType, err = c.Names.ReadName(r); err != nil {
			return nil, false, fmt.Errorf("property %q: read enum type: %w", name, err)
		}
	}

	if c.hasPropertyGUID() {
		var hasGUID uint8
		if err := binary.Read(r, binary.LittleEndian, &hasGUID); err != nil {
			return nil, false, fmt.Errorf("property %q: read guid flag: %w", name, err)
		}
		if hasGUID != 0 {
			g, err := version.ReadGUID(r)
			if err != nil {
				return nil, false, fmt.Errorf("property %q: read guid: %w", name, err)
			}
			p.GUID = &g
		}
	}

	// The declared size is untrusted; reading through a limited reader
	// grows the buffer as bytes arrive instead of allocating up front.
	payload, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil {
		return nil, false, fmt.Errorf("property %q: read payload (%d bytes): %w", name, size, err)
	}
	if uint32(len(payload)) != size {
		return nil, false, fmt.Errorf("property %q: read payload (%d bytes): %w", name, size, io.ErrUnexpectedEOF)
	}
	br := bytes.NewReader(payload)

	switch typ.Text {
	case TypeBool:
		if size != 0 {
			return nil, false, fmt.Errorf("property %q: bool payload size %d, want 0", name, size)
		}
		p.Value = BoolValue(boolValue != 0)
	case TypeStruct:
		inner, err := c.readStructPayload(br, structType.Text)
		if err != nil {
			return nil, false, fmt.Errorf("property %q: %w", name, err)
		}
		p.Value = StructValue{StructType: structType, GUID: structGUID, Inner: inner}
	case TypeArray:
		v, err := c.readArray(br, name, elemType)
		if err != nil {
			return nil, false, fmt.Errorf("property %q: %w", name, err)
		}
		p.Value = v
	case TypeSet:
		v, err := c.readSet(br, name, elemType)
		if err != nil {
			return nil, false, fmt.Errorf("property %q: %w", name, err)
		}
		p.Value = v
	case TypeMap:
		v, err := c.readMap(br, name, keyType, valueType)
		if err != nil {
			return nil, false, fmt.Errorf("property %q: %w", name, err)
		}
		p.Value = v
	case TypeEnum:
		v, err := c.readEnum(br, name, enumType)
		if err != nil {
			return nil, false, fmt.Errorf("property %q: %w", name, err)
		}
		p.Value = v
	case TypeByte:
		v, err := c.readByte(br, enumType)
		if err != nil {
			return nil, false, fmt.Errorf("property %q: %w", name, err)
		}
		p.Value = v
	case TypeText:
		v, err := c.readText(br)
		if err != nil {
			return nil, false, fmt.Errorf("property %q: %w", name, err)
		}
		p.Value = v
	default:
		v, known, err := c.readSimple(br, typ.Text)
		if err != nil {
			return nil, false, fmt.Errorf("property %q: %w", name, err)
		}
		if !known {
			if c.Strict {
				return nil, false, fmt.Errorf("property %q: unknown type %q", name, typ)
			}
			p.Value = RawValue(payload)
			return p, false, nil
		}
		p.Value = v
	}

	if br.Len() != 0 {
		return nil, false, fmt.Errorf("property %q: %d trailing payload bytes", name, br.Len())
	}
	return p, false, nil
}

// readSimple reads payloads with no tag header beyond the common fields.
// known is false for types this codec does not model.
func (c *Codec) readSimple(r *bytes.Reader, typeName string) (Value, bool, error) {
	switch typeName {
	case TypeInt8:
		var v int8
		err := binary.Read(r, binary.LittleEndian, &v)
		return Int8Value(v), true, err
	case TypeInt16:
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return Int16Value(v), true, err
	case TypeInt:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return Int32Value(v), true, err
	case TypeInt64:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return Int64Value(v), true, err
	case TypeUInt16:
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return UInt16Value(v), true, err
	case TypeUInt32:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return UInt32Value(v), true, err
	case TypeUInt64:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return UInt64Value(v), true, err
	case TypeFloat:
		var v float32
		err := binary.Read(r, binary.LittleEndian, &v)
		return FloatValue(v), true, err
	case TypeDouble:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return DoubleValue(v), true, err
	case TypeStr:
		s, wide, err := names.ReadString(r)
		return StrValue{Text: s, Wide: wide}, true, err
	case TypeName:
		n, err := c.Names.ReadName(r)
		return NameValue(n), true, err
	case TypeObject:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return ObjectValue(xref.Index(v)), true, err
	default:
		return nil, false, nil
	}
}

// readStructPayload reads a struct body: fixed layout for math types,
// nested bag otherwise.
func (c *Codec) readStructPayload(r *bytes.Reader, structType string) (Value, error) {
	if IsMathStruct(structType) {
		return c.readMathStruct(r, structType)
	}
	return c.ReadBag(r)
}

func (c *Codec) readArray(r *bytes.Reader, property, elemType names.Name) (Value, error) {
	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read array count: %w", err)
	}
	v := ArrayValue{ElementType: elemType}
	structType := names.Name{}
	if elemType.IsNone() {
		// Stripped element tag: the mapping file decides.
		s, ok := c.Mappings.ArrayStructType(property.Text)
		if !ok {
			return nil, fmt.Errorf("%w: array element type for %q", ErrMissingTypeInfo, property.Text)
		}
		structType = names.New(s)
		v.Elements = make([]Value, 0, count)
		for i := int32(0); i < count; i++ {
			elem, err := c.readStructPayload(r, structType.Text)
			if err != nil {
				return nil, fmt.Errorf("array element %d: %w", i, err)
			}
			v.Elements = append(v.Elements, elem)
		}
		return v, nil
	}
	if elemType.Text == TypeStruct {
		h, err := c.readStructHeader(r)
		if err != nil {
			return nil, err
		}
		v.InnerHeader = h
		structType = h.StructType
	}
	v.Elements = make([]Value, 0, count)
	for i := int32(0); i < count; i++ {
		elem, err := c.readElement(r, elemType, structType)
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", i, err)
		}
		v.Elements = append(v.Elements, elem)
	}
	return v, nil
}

// readStructHeader reads the single element tag carried by struct-typed
// arrays: name, type, element data size, array index, struct type and GUID.
// The size is recomputed on write and not retained.
func (c *Codec) readStructHeader(r *bytes.Reader) (*StructHeader, error) {
	h := &StructHeader{}
	var err error
	if h.Name, err = c.Names.ReadName(r); err != nil {
		return nil, fmt.Errorf("read inner tag name: %w", err)
	}
	typ, err := c.Names.ReadName(r)
	if err != nil {
		return nil, fmt.Errorf("read inner tag type: %w", err)
	}
	if typ.Text != TypeStruct {
		return nil, fmt.Errorf("inner tag type %q, want %q", typ, TypeStruct)
	}
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("read inner tag size: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.ArrayIndex); err != nil {
		return nil, fmt.Errorf("read inner tag array index: %w", err)
	}
	if h.StructType, err = c.Names.ReadName(r); err != nil {
		return nil, fmt.Errorf("read inner struct type: %w", err)
	}
	if h.GUID, err = version.ReadGUID(r); err != nil {
		return nil, fmt.Errorf("read inner struct guid: %w", err)
	}
	if c.hasPropertyGUID() {
		var hasGUID uint8
		if err := binary.Read(r, binary.LittleEndian, &hasGUID); err != nil {
			return nil, fmt.Errorf("read inner guid flag: %w", err)
		}
		if hasGUID != 0 {
			g, err := version.ReadGUID(r)
			if err != nil {
				return nil, fmt.Errorf("read inner guid: %w", err)
			}
			h.PropGUID = &g
		}
	}
	return h, nil
}

func (c *Codec) readSet(r *bytes.Reader, property, elemType names.Name) (Value, error) {
	if elemType.IsNone() {
		return nil, fmt.Errorf("%w: set element type for %q", ErrMissingTypeInfo, property.Text)
	}
	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read set count: %w", err)
	}
	v := SetValue{ElementType: elemType, Elements: make([]Value, 0, count)}
	for i := int32(0); i < count; i++ {
		elem, err := c.readElement(r, elemType, names.Name{})
		if err != nil {
			return nil, fmt.Errorf("set element %d: %w", i, err)
		}
		v.Elements = append(v.Elements, elem)
	}
	return v, nil
}

func (c *Codec) readMap(r *bytes.Reader, property, keyType, valueType names.Name) (Value, error) {
	var err error
	keyStripped, valueStripped := keyType.IsNone(), valueType.IsNone()
	if keyStripped {
		if keyType, err = c.mappedType(property, c.Mappings.MapKeyType, "map key"); err != nil {
			return nil, err
		}
	}
	if valueStripped {
		if valueType, err = c.mappedType(property, c.Mappings.MapValueType, "map value"); err != nil {
			return nil, err
		}
	}
	v := MapValue{KeyType: keyType, ValueType: valueType, KeyStripped: keyStripped, ValueStripped: valueStripped}
	var removed int32
	if err := binary.Read(r, binary.LittleEndian, &removed); err != nil {
		return nil, fmt.Errorf("read removed key count: %w", err)
	}
	for i := int32(0); i < removed; i++ {
		key, err := c.readElement(r, keyType, names.Name{})
		if err != nil {
			return nil, fmt.Errorf("removed key %d: %w", i, err)
		}
		v.RemovedKeys = append(v.RemovedKeys, key)
	}
	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read pair count: %w", err)
	}
	v.Pairs = make([]MapPair, 0, count)
	for i := int32(0); i < count; i++ {
		key, err := c.readElement(r, keyType, names.Name{})
		if err != nil {
			return nil, fmt.Errorf("pair %d key: %w", i, err)
		}
		value, err := c.readElement(r, valueType, names.Name{})
		if err != nil {
			return nil, fmt.Errorf("pair %d value: %w", i, err)
		}
		v.Pairs = append(v.Pairs, MapPair{Key: key, Value: value})
	}
	return v, nil
}

func (c *Codec) mappedType(property names.Name, lookup func(string) (string, bool), what string) (names.Name, error) {
	s, ok := lookup(property.Text)
	if !ok {
		return names.Name{}, fmt.Errorf("%w: %s type for %q", ErrMissingTypeInfo, what, property.Text)
	}
	return names.New(s), nil
}

func (c *Codec) readEnum(r *bytes.Reader, property, enumType names.Name) (Value, error) {
	if enumType.IsNone() {
		// Stripped enum tag: the payload is a bare index into the mapped
		// value list, keyed by property name.
		var index uint8
		if err := binary.Read(r, binary.LittleEndian, &index); err != nil {
			return nil, fmt.Errorf("read enum index: %w", err)
		}
		value, ok := c.Mappings.EnumValue(property.Text, int(index))
		if !ok {
			return nil, fmt.Errorf("%w: enum %q value %d", ErrMissingTypeInfo, property.Text, index)
		}
		return EnumValue{EnumType: enumType, Value: names.New(value), ByIndex: true, Index: index}, nil
	}
	value, err := c.Names.ReadName(r)
	if err != nil {
		return nil, fmt.Errorf("read enum value: %w", err)
	}
	return EnumValue{EnumType: enumType, Value: value}, nil
}

func (c *Codec) readByte(r *bytes.Reader, enumType names.Name) (Value, error) {
	if enumType.IsNone() {
		var b uint8
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return nil, fmt.Errorf("read byte: %w", err)
		}
		return ByteValue{EnumType: enumType, Raw: b}, nil
	}
	value, err := c.Names.ReadName(r)
	if err != nil {
		return nil, fmt.Errorf("read byte enum value: %w", err)
	}
	return ByteValue{EnumType: enumType, Value: value}, nil
}

func (c *Codec) readText(r *bytes.Reader) (Value, error) {
	v := TextValue{}
	if err := binary.Read(r, binary.LittleEndian, &v.Flags); err != nil {
		return nil, fmt.Errorf("read text flags: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &v.History); err != nil {
		return nil, fmt.Errorf("read text history: %w", err)
	}
	switch v.History {
	case TextHistoryBase:
		var err error
		if v.Namespace, err = readStr(r); err != nil {
			return nil, fmt.Errorf("read text namespace: %w", err)
		}
		if v.Key, err = readStr(r); err != nil {
			return nil, fmt.Errorf("read text key: %w", err)
		}
		if v.Source, err = readStr(r); err != nil {
			return nil, fmt.Errorf("read text source: %w", err)
		}
	case TextHistoryNone:
		var has int32
		if err := binary.Read(r, binary.LittleEndian, &has); err != nil {
			return nil, fmt.Errorf("read text invariant flag: %w", err)
		}
		if has != 0 {
			v.HasInvariant = true
			var err error
			if v.Invariant, err = readStr(r); err != nil {
				return nil, fmt.Errorf("read text invariant: %w", err)
			}
		}
	default:
		// Unmodeled history: keep the remainder verbatim.
		rest := make([]byte, r.Len())
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, fmt.Errorf("read text remainder: %w", err)
		}
		v.Raw = rest
	}
	return v, nil
}

func readStr(r io.Reader) (StrValue, error) {
	s, wide, err := names.ReadString(r)
	return StrValue{Text: s, Wide: wide}, err
}

// readElement reads a value without a tag, typed by its container's
// element type. structType is set for struct elements of arrays.
func (c *Codec) readElement(r *bytes.Reader, elemType, structType names.Name) (Value, error) {
	switch elemType.Text {
	case TypeBool:
		var b uint8
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return nil, err
		}
		return BoolValue(b != 0), nil
	case TypeByte:
		var b uint8
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return nil, err
		}
		return ByteValue{Raw: b}, nil
	case TypeEnum:
		value, err := c.Names.ReadName(r)
		if err != nil {
			return nil, err
		}
		return EnumValue{Value: value}, nil
	case TypeStruct:
		return c.readStructPayload(r, structType.Text)
	default:
		v, known, err := c.readSimple(r, elemType.Text)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, fmt.Errorf("%w: element type %q", ErrMissingTypeInfo, elemType)
		}
		return v, nil
	}
}

// readMathStruct reads a fixed-layout struct body. Component width follows
// the large world coordinates gate except for color and tick types.
func (c *Codec) readMathStruct(r *bytes.Reader, structType string) (Value, error) {
	wide := c.wideMath()
	switch structType {
	case StructVector:
		f, err := readFloats(r, 3, wide)
		if err != nil {
			return nil, err
		}
		return VectorValue{f[0], f[1], f[2]}, nil
	case StructVector2D:
		f, err := readFloats(r, 2, wide)
		if err != nil {
			return nil, err
		}
		return Vector2DValue{f[0], f[1]}, nil
	case StructVector4:
		f, err := readFloats(r, 4, wide)
		if err != nil {
			return nil, err
		}
		return Vector4Value{f[0], f[1], f[2], f[3]}, nil
	case StructRotator:
		f, err := readFloats(r, 3, wide)
		if err != nil {
			return nil, err
		}
		return RotatorValue{Pitch: f[0], Yaw: f[1], Roll: f[2]}, nil
	case StructQuat:
		f, err := readFloats(r, 4, wide)
		if err != nil {
			return nil, err
		}
		return QuatValue{f[0], f[1], f[2], f[3]}, nil
	case StructTransform:
		f, err := readFloats(r, 10, wide)
		if err != nil {
			return nil, err
		}
		return TransformValue{
			Rotation:    QuatValue{f[0], f[1], f[2], f[3]},
			Translation: VectorValue{f[4], f[5], f[6]},
			Scale:       VectorValue{f[7], f[8], f[9]},
		}, nil
	case StructLinearColor:
		var v LinearColorValue
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, fmt.Errorf("read %s: %w", structType, err)
		}
		return v, nil
	case StructGuid:
		g, err := version.ReadGUID(r)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", structType, err)
		}
		return GuidValue(g), nil
	case StructDateTime:
		var v int64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, fmt.Errorf("read %s: %w", structType, err)
		}
		return DateTimeValue(v), nil
	case StructTimespan:
		var v int64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, fmt.Errorf("read %s: %w", structType, err)
		}
		return TimespanValue(v), nil
	default:
		return nil, fmt.Errorf("not a math struct: %q", structType)
	}
}

func readFloats(r *bytes.Reader, n int, wide bool) ([]float64, error) {
	out := make([]float64, n)
	if wide {
		if err := binary.Read(r, binary.LittleEndian, out); err != nil {
			return nil, fmt.Errorf("read components: %w", err)
		}
		return out, nil
	}
	narrow := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, narrow); err != nil {
		return nil, fmt.Errorf("read components: %w", err)
	}
	for i, f := range narrow {
		out[i] = float64(f)
	}
	return out, nil
}
