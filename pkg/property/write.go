package property

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/odvcencio/uasset/pkg/names"
	"github.com/odvcencio/uasset/pkg/version"
)

// WriteBag writes all records followed by the "None" terminator.
func (c *Codec) WriteBag(w io.Writer, bag *Bag) error {
	if bag != nil {
		for i := range bag.Properties {
			if err := c.WriteProperty(w, &bag.Properties[i]); err != nil {
				return err
			}
		}
	}
	return c.Names.WriteName(w, names.New(names.None))
}

// WriteProperty writes one tagged record. The size field is recomputed
// from the value, never taken from a previous read.
func (c *Codec) WriteProperty(w io.Writer, p *Property) error {
	if err := c.Names.WriteName(w, p.Name); err != nil {
		return fmt.Errorf("property %q: write name: %w", p.Name, err)
	}
	if err := c.Names.WriteName(w, p.Type); err != nil {
		return fmt.Errorf("property %q: write type: %w", p.Name, err)
	}
	size, err := c.valueSize(p.Value)
	if err != nil {
		return fmt.Errorf("property %q: %w", p.Name, err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(size)); err != nil {
		return fmt.Errorf("property %q: write size: %w", p.Name, err)
	}
	if err := binary.Write(w, binary.LittleEndian, p.ArrayIndex); err != nil {
		return fmt.Errorf("property %q: write array index: %w", p.Name, err)
	}
	if err := c.writeTagHeader(w, p); err != nil {
		return fmt.Errorf("property %q: %w", p.Name, err)
	}
	if c.hasPropertyGUID() {
		if p.GUID == nil {
			if err := binary.Write(w, binary.LittleEndian, uint8(0)); err != nil {
				return fmt.Errorf("property %q: write guid flag: %w", p.Name, err)
			}
		} else {
			if err := binary.Write(w, binary.LittleEndian, uint8(1)); err != nil {
				return fmt.Errorf("property %q: write guid flag: %w", p.Name, err)
			}
			if err := version.WriteGUID(w, *p.GUID); err != nil {
				return fmt.Errorf("property %q: write guid: %w", p.Name, err)
			}
		}
	}
	if err := c.writePayload(w, p.Value); err != nil {
		return fmt.Errorf("property %q: %w", p.Name, err)
	}
	return nil
}

func (c *Codec) writeTagHeader(w io.Writer, p *Property) error {
	switch v := p.Value.(type) {
	case BoolValue:
		var b uint8
		if v {
			b = 1
		}
		return binary.Write(w, binary.LittleEndian, b)
	case StructValue:
		if err := c.Names.WriteName(w, v.StructType); err != nil {
			return fmt.Errorf("write struct type: %w", err)
		}
		return version.WriteGUID(w, v.GUID)
	case ArrayValue:
		return c.Names.WriteName(w, v.ElementType)
	case SetValue:
		return c.Names.WriteName(w, v.ElementType)
	case MapValue:
		keyType, valueType := v.KeyType, v.ValueType
		// A type recovered from mappings is written stripped again so
		// the container round-trips byte for byte.
		if v.KeyStripped {
			keyType = names.Name{Text: names.None}
		}
		if v.ValueStripped {
			valueType = names.Name{Text: names.None}
		}
		if err := c.Names.WriteName(w, keyType); err != nil {
			return fmt.Errorf("write key type: %w", err)
		}
		return c.Names.WriteName(w, valueType)
	case EnumValue:
		return c.Names.WriteName(w, v.EnumType)
	case ByteValue:
		return c.Names.WriteName(w, v.EnumType)
	default:
		return nil
	}
}

// writePayload writes the payload body for any value variant.
func (c *Codec) writePayload(w io.Writer, value Value) error {
	switch v := value.(type) {
	case BoolValue:
		return nil
	case Int8Value:
		return binary.Write(w, binary.LittleEndian, int8(v))
	case Int16Value:
		return binary.Write(w, binary.LittleEndian, int16(v))
	case Int32Value:
		return binary.Write(w, binary.LittleEndian, int32(v))
	case Int64Value:
		return binary.Write(w, binary.LittleEndian, int64(v))
	case UInt16Value:
		return binary.Write(w, binary.LittleEndian, uint16(v))
	case UInt32Value:
		return binary.Write(w, binary.LittleEndian, uint32(v))
	case UInt64Value:
		return binary.Write(w, binary.LittleEndian, uint64(v))
	case FloatValue:
		return binary.Write(w, binary.LittleEndian, float32(v))
	case DoubleValue:
		return binary.Write(w, binary.LittleEndian, float64(v))
	case StrValue:
		return names.WriteString(w, v.Text, v.Wide)
	case NameValue:
		return c.Names.WriteName(w, names.Name(v))
	case ObjectValue:
		return binary.Write(w, binary.LittleEndian, int32(v))
	case EnumValue:
		if v.ByIndex {
			return binary.Write(w, binary.LittleEndian, v.Index)
		}
		return c.Names.WriteName(w, v.Value)
	case ByteValue:
		if v.EnumType.IsNone() {
			return binary.Write(w, binary.LittleEndian, v.Raw)
		}
		return c.Names.WriteName(w, v.Value)
	case StructValue:
		return c.writeStructPayload(w, v.StructType.Text, v.Inner)
	case *Bag:
		return c.WriteBag(w, v)
	case ArrayValue:
		return c.writeArray(w, v)
	case SetValue:
		if err := binary.Write(w, binary.LittleEndian, int32(len(v.Elements))); err != nil {
			return fmt.Errorf("write set count: %w", err)
		}
		for i, elem := range v.Elements {
			if err := c.writeElement(w, v.ElementType, elem); err != nil {
				return fmt.Errorf("set element %d: %w", i, err)
			}
		}
		return nil
	case MapValue:
		if err := binary.Write(w, binary.LittleEndian, int32(len(v.RemovedKeys))); err != nil {
			return fmt.Errorf("write removed key count: %w", err)
		}
		for i, key := range v.RemovedKeys {
			if err := c.writeElement(w, v.KeyType, key); err != nil {
				return fmt.Errorf("removed key %d: %w", i, err)
			}
		}
		if err := binary.Write(w, binary.LittleEndian, int32(len(v.Pairs))); err != nil {
			return fmt.Errorf("write pair count: %w", err)
		}
		for i, pair := range v.Pairs {
			if err := c.writeElement(w, v.KeyType, pair.Key); err != nil {
				return fmt.Errorf("pair %d key: %w", i, err)
			}
			if err := c.writeElement(w, v.ValueType, pair.Value); err != nil {
				return fmt.Errorf("pair %d value: %w", i, err)
			}
		}
		return nil
	case TextValue:
		return c.writeText(w, v)
	case VectorValue, Vector2DValue, Vector4Value, RotatorValue, QuatValue,
		TransformValue, LinearColorValue, GuidValue, DateTimeValue, TimespanValue:
		return c.writeMathStruct(w, value)
	case RawValue:
		_, err := w.Write(v)
		return err
	default:
		return fmt.Errorf("unhandled value %T", value)
	}
}

func (c *Codec) writeStructPayload(w io.Writer, structType string, inner Value) error {
	if IsMathStruct(structType) {
		return c.writeMathStruct(w, inner)
	}
	bag, ok := inner.(*Bag)
	if !ok {
		return fmt.Errorf("struct %q: inner value %T, want bag", structType, inner)
	}
	return c.WriteBag(w, bag)
}

func (c *Codec) writeArray(w io.Writer, v ArrayValue) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(v.Elements))); err != nil {
		return fmt.Errorf("write array count: %w", err)
	}
	if v.ElementType.IsNone() {
		// Stripped array: elements are struct bodies with no inner tag.
		for i, elem := range v.Elements {
			if err := c.writeStrippedStruct(w, elem); err != nil {
				return fmt.Errorf("array element %d: %w", i, err)
			}
		}
		return nil
	}
	if v.ElementType.Text == TypeStruct {
		if v.InnerHeader == nil {
			return fmt.Errorf("struct array missing inner header")
		}
		if err := c.writeStructHeader(w, v); err != nil {
			return err
		}
	}
	for i, elem := range v.Elements {
		if err := c.writeElement(w, v.ElementType, elem); err != nil {
			return fmt.Errorf("array element %d: %w", i, err)
		}
	}
	return nil
}

func (c *Codec) writeStrippedStruct(w io.Writer, elem Value) error {
	if bag, ok := elem.(*Bag); ok {
		return c.WriteBag(w, bag)
	}
	return c.writeMathStruct(w, elem)
}

func (c *Codec) writeStructHeader(w io.Writer, v ArrayValue) error {
	h := v.InnerHeader
	if err := c.Names.WriteName(w, h.Name); err != nil {
		return fmt.Errorf("write inner tag name: %w", err)
	}
	if err := c.Names.WriteName(w, names.New(TypeStruct)); err != nil {
		return fmt.Errorf("write inner tag type: %w", err)
	}
	var size int
	for _, elem := range v.Elements {
		n, err := c.valueSize(elem)
		if err != nil {
			return err
		}
		size += n
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(size)); err != nil {
		return fmt.Errorf("write inner tag size: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.ArrayIndex); err != nil {
		return fmt.Errorf("write inner tag array index: %w", err)
	}
	if err := c.Names.WriteName(w, h.StructType); err != nil {
		return fmt.Errorf("write inner struct type: %w", err)
	}
	if err := version.WriteGUID(w, h.GUID); err != nil {
		return fmt.Errorf("write inner struct guid: %w", err)
	}
	if c.hasPropertyGUID() {
		if h.PropGUID == nil {
			if err := binary.Write(w, binary.LittleEndian, uint8(0)); err != nil {
				return fmt.Errorf("write inner guid flag: %w", err)
			}
		} else {
			if err := binary.Write(w, binary.LittleEndian, uint8(1)); err != nil {
				return fmt.Errorf("write inner guid flag: %w", err)
			}
			if err := version.WriteGUID(w, *h.PropGUID); err != nil {
				return fmt.Errorf("write inner guid: %w", err)
			}
		}
	}
	return nil
}

// writeElement writes a value without a tag, typed by its container.
func (c *Codec) writeElement(w io.Writer, elemType names.Name, elem Value) error {
	switch elemType.Text {
	case TypeBool:
		b, ok := elem.(BoolValue)
		if !ok {
			return fmt.Errorf("element %T, want bool", elem)
		}
		var raw uint8
		if b {
			raw = 1
		}
		return binary.Write(w, binary.LittleEndian, raw)
	case TypeByte:
		b, ok := elem.(ByteValue)
		if !ok {
			return fmt.Errorf("element %T, want byte", elem)
		}
		return binary.Write(w, binary.LittleEndian, b.Raw)
	case TypeEnum:
		e, ok := elem.(EnumValue)
		if !ok {
			return fmt.Errorf("element %T, want enum", elem)
		}
		return c.Names.WriteName(w, e.Value)
	case TypeStruct:
		return c.writeStrippedStruct(w, elem)
	default:
		return c.writePayload(w, elem)
	}
}

func (c *Codec) writeText(w io.Writer, v TextValue) error {
	if err := binary.Write(w, binary.LittleEndian, v.Flags); err != nil {
		return fmt.Errorf("write text flags: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, v.History); err != nil {
		return fmt.Errorf("write text history: %w", err)
	}
	switch v.History {
	case TextHistoryBase:
		for _, s := range []StrValue{v.Namespace, v.Key, v.Source} {
			if err := names.WriteString(w, s.Text, s.Wide); err != nil {
				return fmt.Errorf("write text string: %w", err)
			}
		}
	case TextHistoryNone:
		var has int32
		if v.HasInvariant {
			has = 1
		}
		if err := binary.Write(w, binary.LittleEndian, has); err != nil {
			return fmt.Errorf("write text invariant flag: %w", err)
		}
		if v.HasInvariant {
			if err := names.WriteString(w, v.Invariant.Text, v.Invariant.Wide); err != nil {
				return fmt.Errorf("write text invariant: %w", err)
			}
		}
	default:
		if _, err := w.Write(v.Raw); err != nil {
			return fmt.Errorf("write text remainder: %w", err)
		}
	}
	return nil
}

// writeMathStruct writes a fixed-layout struct body.
func (c *Codec) writeMathStruct(w io.Writer, value Value) error {
	wide := c.wideMath()
	switch v := value.(type) {
	case VectorValue:
		return writeFloats(w, wide, v.X, v.Y, v.Z)
	case Vector2DValue:
		return writeFloats(w, wide, v.X, v.Y)
	case Vector4Value:
		return writeFloats(w, wide, v.X, v.Y, v.Z, v.W)
	case RotatorValue:
		return writeFloats(w, wide, v.Pitch, v.Yaw, v.Roll)
	case QuatValue:
		return writeFloats(w, wide, v.X, v.Y, v.Z, v.W)
	case TransformValue:
		return writeFloats(w, wide,
			v.Rotation.X, v.Rotation.Y, v.Rotation.Z, v.Rotation.W,
			v.Translation.X, v.Translation.Y, v.Translation.Z,
			v.Scale.X, v.Scale.Y, v.Scale.Z)
	case LinearColorValue:
		return binary.Write(w, binary.LittleEndian, v)
	case GuidValue:
		return version.WriteGUID(w, [16]byte(v))
	case DateTimeValue:
		return binary.Write(w, binary.LittleEndian, int64(v))
	case TimespanValue:
		return binary.Write(w, binary.LittleEndian, int64(v))
	default:
		return fmt.Errorf("not a math value: %T", value)
	}
}

func writeFloats(w io.Writer, wide bool, components ...float64) error {
	if wide {
		return binary.Write(w, binary.LittleEndian, components)
	}
	narrow := make([]float32, len(components))
	for i, f := range components {
		narrow[i] = float32(f)
	}
	return binary.Write(w, binary.LittleEndian, narrow)
}

// countWriter measures serialized size without retaining bytes.
type countWriter struct {
	n int
}

func (c *countWriter) Write(p []byte) (int, error) {
	c.n += len(p)
	return len(p), nil
}

// valueSize returns the payload byte count a value serializes to, without
// producing the bytes. Needed to emit tag size fields before their
// payloads. Sizing shares the write path through a counting writer so the
// two can never drift.
func (c *Codec) valueSize(value Value) (int, error) {
	cw := &countWriter{}
	if err := c.writePayload(cw, value); err != nil {
		return 0, err
	}
	return cw.n, nil
}

// PropertySize returns the full serialized size of one record, tag
// included.
func (c *Codec) PropertySize(p *Property) (int, error) {
	cw := &countWriter{}
	if err := c.WriteProperty(cw, p); err != nil {
		return 0, err
	}
	return cw.n, nil
}

// BagSize returns the serialized size of a bag including its terminator.
func (c *Codec) BagSize(bag *Bag) (int, error) {
	cw := &countWriter{}
	if err := c.WriteBag(cw, bag); err != nil {
		return 0, err
	}
	return cw.n, nil
}

// Intern makes sure every name the bag references is present in the
// codec's name table, so a later write cannot fail on a missing entry.
func (c *Codec) Intern(bag *Bag) {
	if bag == nil {
		return
	}
	c.Names.Intern(names.None)
	for i := range bag.Properties {
		p := &bag.Properties[i]
		c.intern(p.Name.Text)
		c.intern(p.Type.Text)
		c.internValue(p.Value)
	}
}

func (c *Codec) intern(s string) {
	if s != "" {
		c.Names.Intern(s)
	}
}

func (c *Codec) internValue(value Value) {
	switch v := value.(type) {
	case NameValue:
		c.intern(v.Text)
	case EnumValue:
		c.intern(v.EnumType.Text)
		if !v.ByIndex {
			c.intern(v.Value.Text)
		}
	case ByteValue:
		c.intern(v.EnumType.Text)
		if !v.EnumType.IsNone() {
			c.intern(v.Value.Text)
		}
	case StructValue:
		c.intern(v.StructType.Text)
		c.internValue(v.Inner)
	case *Bag:
		c.Intern(v)
	case ArrayValue:
		c.intern(v.ElementType.Text)
		if v.InnerHeader != nil {
			c.intern(v.InnerHeader.Name.Text)
			c.intern(TypeStruct)
			c.intern(v.InnerHeader.StructType.Text)
		}
		for _, elem := range v.Elements {
			c.internValue(elem)
		}
	case SetValue:
		c.intern(v.ElementType.Text)
		for _, elem := range v.Elements {
			c.internValue(elem)
		}
	case MapValue:
		// Stripped types come from a mapping table and never enter the
		// name table; their tag re-serializes as "None".
		if !v.KeyStripped {
			c.intern(v.KeyType.Text)
		}
		if !v.ValueStripped {
			c.intern(v.ValueType.Text)
		}
		for _, key := range v.RemovedKeys {
			c.internValue(key)
		}
		for _, pair := range v.Pairs {
			c.internValue(pair.Key)
			c.internValue(pair.Value)
		}
	}
}
