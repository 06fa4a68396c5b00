package property

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/odvcencio/uasset/pkg/names"
	"github.com/odvcencio/uasset/pkg/xref"
)

// MarshalJSON renders the bag as an ordered array of property objects.
func (b *Bag) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, b.Len())
	if b != nil {
		for i := range b.Properties {
			raw, err := json.Marshal(&b.Properties[i])
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
	}
	return json.Marshal(out)
}

// MarshalJSON renders one property as {name, type, value}, with array_index
// and guid included only when set.
func (p *Property) MarshalJSON() ([]byte, error) {
	obj := map[string]any{
		"name":  p.Name.String(),
		"type":  p.Type.Text,
		"value": projectValue(p.Value),
	}
	if p.ArrayIndex != 0 {
		obj["array_index"] = p.ArrayIndex
	}
	if p.GUID != nil {
		obj["guid"] = p.GUID.String()
	}
	return json.Marshal(obj)
}

// projectValue maps every value variant to a stable JSON shape.
func projectValue(value Value) any {
	switch v := value.(type) {
	case BoolValue:
		return bool(v)
	case Int8Value:
		return int8(v)
	case Int16Value:
		return int16(v)
	case Int32Value:
		return int32(v)
	case Int64Value:
		return int64(v)
	case UInt16Value:
		return uint16(v)
	case UInt32Value:
		return uint32(v)
	case UInt64Value:
		return uint64(v)
	case FloatValue:
		return float32(v)
	case DoubleValue:
		return float64(v)
	case StrValue:
		return v.Text
	case NameValue:
		return names.Name(v).String()
	case ObjectValue:
		return int32(xref.Index(v))
	case EnumValue:
		return map[string]any{"enum_type": v.EnumType.Text, "value": v.Value.String()}
	case ByteValue:
		if v.EnumType.IsNone() || v.EnumType.Text == "" {
			return v.Raw
		}
		return map[string]any{"enum_type": v.EnumType.Text, "value": v.Value.String()}
	case StructValue:
		return map[string]any{"struct_type": v.StructType.Text, "fields": projectValue(v.Inner)}
	case *Bag:
		fields := make(map[string]any, v.Len())
		for i := range v.Properties {
			p := &v.Properties[i]
			fields[p.Name.String()] = projectValue(p.Value)
		}
		return fields
	case VectorValue:
		return map[string]any{"x": v.X, "y": v.Y, "z": v.Z}
	case Vector2DValue:
		return map[string]any{"x": v.X, "y": v.Y}
	case Vector4Value:
		return map[string]any{"x": v.X, "y": v.Y, "z": v.Z, "w": v.W}
	case RotatorValue:
		return map[string]any{"pitch": v.Pitch, "yaw": v.Yaw, "roll": v.Roll}
	case QuatValue:
		return map[string]any{"x": v.X, "y": v.Y, "z": v.Z, "w": v.W}
	case TransformValue:
		return map[string]any{
			"rotation":    projectValue(v.Rotation),
			"translation": projectValue(v.Translation),
			"scale":       projectValue(v.Scale),
		}
	case LinearColorValue:
		return map[string]any{"r": v.R, "g": v.G, "b": v.B, "a": v.A}
	case GuidValue:
		return uuid.UUID(v).String()
	case DateTimeValue:
		return map[string]any{"ticks": int64(v)}
	case TimespanValue:
		return map[string]any{"ticks": int64(v)}
	case ArrayValue:
		return projectElements(v.Elements)
	case SetValue:
		return projectElements(v.Elements)
	case MapValue:
		pairs := make([]map[string]any, 0, len(v.Pairs))
		for _, pair := range v.Pairs {
			pairs = append(pairs, map[string]any{
				"key":   projectValue(pair.Key),
				"value": projectValue(pair.Value),
			})
		}
		return pairs
	case TextValue:
		obj := map[string]any{"flags": v.Flags, "history": v.History}
		switch v.History {
		case TextHistoryBase:
			obj["namespace"] = v.Namespace.Text
			obj["key"] = v.Key.Text
			obj["source"] = v.Source.Text
		case TextHistoryNone:
			if v.HasInvariant {
				obj["invariant"] = v.Invariant.Text
			}
		}
		return obj
	case RawValue:
		return []byte(v)
	case nil:
		return nil
	default:
		return nil
	}
}

func projectElements(elements []Value) []any {
	out := make([]any, len(elements))
	for i, elem := range elements {
		out[i] = projectValue(elem)
	}
	return out
}
