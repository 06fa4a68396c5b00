package property

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/odvcencio/uasset/pkg/names"
	"github.com/odvcencio/uasset/pkg/typemap"
	"github.com/odvcencio/uasset/pkg/version"
	"github.com/odvcencio/uasset/pkg/xref"
)

func newCodec(object version.ObjectVersion) *Codec {
	return &Codec{Names: names.NewTable(), Object: object}
}

func richBag() *Bag {
	guid := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	bag := &Bag{}
	bag.Add(Property{Name: names.New("bVisible"), Type: names.New(TypeBool), Value: BoolValue(true)})
	bag.Add(Property{Name: names.New("Count"), Type: names.New(TypeInt), Value: Int32Value(-7)})
	bag.Add(Property{Name: names.New("Seed"), Type: names.New(TypeUInt64), Value: UInt64Value(0xDEADBEEF)})
	bag.Add(Property{Name: names.New("Mass"), Type: names.New(TypeFloat), Value: FloatValue(1.5)})
	bag.Add(Property{Name: names.New("Precise"), Type: names.New(TypeDouble), Value: DoubleValue(2.25)})
	bag.Add(Property{Name: names.New("Label"), Type: names.New(TypeStr), Value: StrValue{Text: "chair"}})
	bag.Add(Property{Name: names.New("Comment"), Type: names.New(TypeStr), Value: StrValue{Text: "椅子", Wide: true}})
	bag.Add(Property{Name: names.New("Slot"), Type: names.New(TypeName), Value: NameValue(names.WithNumber("Socket", 2))})
	bag.Add(Property{Name: names.New("Mesh"), Type: names.New(TypeObject), Value: ObjectValue(xref.Index(-1))})
	bag.Add(Property{
		Name: names.New("Rarity"), Type: names.New(TypeEnum),
		Value: EnumValue{EnumType: names.New("EItemRarity"), Value: names.New("EItemRarity::Epic")},
	})
	bag.Add(Property{
		Name: names.New("Channel"), Type: names.New(TypeByte),
		Value: ByteValue{EnumType: names.New(names.None), Raw: 3},
	})
	bag.Add(Property{
		Name: names.New("Mode"), Type: names.New(TypeByte),
		Value: ByteValue{EnumType: names.New("ECollisionMode"), Value: names.New("ECollisionMode::Block")},
	})
	bag.Add(Property{
		Name: names.New("Offset"), Type: names.New(TypeStruct),
		Value: StructValue{StructType: names.New(StructVector), Inner: VectorValue{1, 2, 3}},
	})
	bag.Add(Property{
		Name: names.New("Tint"), Type: names.New(TypeStruct),
		Value: StructValue{StructType: names.New(StructLinearColor), Inner: LinearColorValue{0.25, 0.5, 0.75, 1}},
	})
	bag.Add(Property{
		Name: names.New("Stamp"), Type: names.New(TypeStruct),
		Value: StructValue{StructType: names.New(StructDateTime), Inner: DateTimeValue(638000000000000000)},
	})
	nested := &Bag{}
	nested.Add(Property{Name: names.New("Inner"), Type: names.New(TypeInt), Value: Int32Value(42)})
	bag.Add(Property{
		Name: names.New("Details"), Type: names.New(TypeStruct),
		Value: StructValue{StructType: names.New("InventorySlot"), GUID: guid, Inner: nested},
	})
	bag.Add(Property{
		Name: names.New("Scores"), Type: names.New(TypeArray),
		Value: ArrayValue{
			ElementType: names.New(TypeInt),
			Elements:    []Value{Int32Value(1), Int32Value(2), Int32Value(3)},
		},
	})
	bag.Add(Property{
		Name: names.New("Points"), Type: names.New(TypeArray),
		Value: ArrayValue{
			ElementType: names.New(TypeStruct),
			InnerHeader: &StructHeader{Name: names.New("Points"), StructType: names.New(StructVector2D)},
			Elements:    []Value{Vector2DValue{1, 2}, Vector2DValue{3, 4}},
		},
	})
	bag.Add(Property{
		Name: names.New("Tags"), Type: names.New(TypeSet),
		Value: SetValue{
			ElementType: names.New(TypeName),
			Elements:    []Value{NameValue(names.New("Static")), NameValue(names.New("Prop"))},
		},
	})
	bag.Add(Property{
		Name: names.New("Weights"), Type: names.New(TypeMap),
		Value: MapValue{
			KeyType:     names.New(TypeName),
			ValueType:   names.New(TypeInt),
			RemovedKeys: []Value{NameValue(names.New("Old"))},
			Pairs: []MapPair{
				{Key: NameValue(names.New("Head")), Value: Int32Value(10)},
				{Key: NameValue(names.New("Tail")), Value: Int32Value(20)},
			},
		},
	})
	bag.Add(Property{
		Name: names.New("Title"), Type: names.New(TypeText),
		Value: TextValue{
			Flags: 2, History: TextHistoryBase,
			Namespace: StrValue{Text: "UI"},
			Key:       StrValue{Text: "title_chair"},
			Source:    StrValue{Text: "Wooden Chair"},
		},
	})
	bag.Add(Property{
		Name: names.New("Hint"), Type: names.New(TypeText),
		Value: TextValue{History: TextHistoryNone, HasInvariant: true, Invariant: StrValue{Text: "n/a"}},
	})
	return bag
}

// Writing, reading back and writing again must produce identical bytes.
func TestBagRoundTrip(t *testing.T) {
	for _, object := range []version.ObjectVersion{500, version.ObjectVersionPropertyGUID} {
		c := newCodec(object)
		bag := richBag()
		c.Intern(bag)

		var first bytes.Buffer
		if err := c.WriteBag(&first, bag); err != nil {
			t.Fatalf("object %d: WriteBag: %v", object, err)
		}
		got, err := c.ReadBag(bytes.NewReader(first.Bytes()))
		if err != nil {
			t.Fatalf("object %d: ReadBag: %v", object, err)
		}
		if got.Len() != bag.Len() {
			t.Fatalf("object %d: read %d properties, want %d", object, got.Len(), bag.Len())
		}
		var second bytes.Buffer
		if err := c.WriteBag(&second, got); err != nil {
			t.Fatalf("object %d: rewrite: %v", object, err)
		}
		if !bytes.Equal(first.Bytes(), second.Bytes()) {
			t.Fatalf("object %d: round trip differs", object)
		}
	}
}

func TestBagSizeMatchesEncoding(t *testing.T) {
	c := newCodec(version.ObjectVersionPropertyGUID)
	bag := richBag()
	c.Intern(bag)
	var buf bytes.Buffer
	if err := c.WriteBag(&buf, bag); err != nil {
		t.Fatalf("WriteBag: %v", err)
	}
	size, err := c.BagSize(bag)
	if err != nil {
		t.Fatalf("BagSize: %v", err)
	}
	if size != buf.Len() {
		t.Fatalf("BagSize = %d, encoded %d bytes", size, buf.Len())
	}
}

func TestPropertyGUIDPreserved(t *testing.T) {
	c := newCodec(version.ObjectVersionPropertyGUID)
	guid := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	bag := &Bag{}
	bag.Add(Property{Name: names.New("X"), Type: names.New(TypeFloat), GUID: &guid, Value: FloatValue(1)})
	c.Intern(bag)

	var buf bytes.Buffer
	if err := c.WriteBag(&buf, bag); err != nil {
		t.Fatalf("WriteBag: %v", err)
	}
	got, err := c.ReadBag(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadBag: %v", err)
	}
	p := got.Get("X")
	if p == nil || p.GUID == nil || *p.GUID != guid {
		t.Fatalf("guid not preserved: %+v", p)
	}
}

// Unknown property types must survive read and rewrite byte for byte.
func TestUnknownTypeKeptRaw(t *testing.T) {
	c := newCodec(500)
	c.Names.Intern("Mystery")
	c.Names.Intern("DelegateProperty")

	var buf bytes.Buffer
	c.Names.WriteName(&buf, names.New("Mystery"))
	c.Names.WriteName(&buf, names.New("DelegateProperty"))
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.Write(payload)
	c.Names.WriteName(&buf, names.New(names.None))

	bag, err := c.ReadBag(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadBag: %v", err)
	}
	raw, ok := bag.Get("Mystery").Value.(RawValue)
	if !ok || !bytes.Equal(raw, payload) {
		t.Fatalf("value = %#v, want raw payload", bag.Get("Mystery").Value)
	}
	var out bytes.Buffer
	if err := c.WriteBag(&out, bag); err != nil {
		t.Fatalf("WriteBag: %v", err)
	}
	if !bytes.Equal(out.Bytes(), buf.Bytes()) {
		t.Fatal("raw fallback did not round trip")
	}
}

func TestStrictRejectsUnknownType(t *testing.T) {
	c := newCodec(500)
	c.Strict = true
	c.Names.Intern("Mystery")
	c.Names.Intern("DelegateProperty")

	var buf bytes.Buffer
	c.Names.WriteName(&buf, names.New("Mystery"))
	c.Names.WriteName(&buf, names.New("DelegateProperty"))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	c.Names.WriteName(&buf, names.New(names.None))

	if _, err := c.ReadBag(bytes.NewReader(buf.Bytes())); err == nil {
		t.Fatal("strict mode accepted unknown type")
	}
}

// The large world coordinates gate switches math components between
// 4 and 8 byte floats.
func TestMathComponentWidth(t *testing.T) {
	narrow := newCodec(500)
	vec := Property{
		Name: names.New("Where"), Type: names.New(TypeStruct),
		Value: StructValue{StructType: names.New(StructVector), Inner: VectorValue{1, 2, 3}},
	}
	bag := &Bag{Properties: []Property{vec}}
	narrow.Intern(bag)
	size, err := narrow.valueSize(bag.Properties[0].Value)
	if err != nil {
		t.Fatalf("valueSize: %v", err)
	}
	if size != 12 {
		t.Fatalf("narrow vector payload = %d bytes, want 12", size)
	}

	wide := newCodec(500)
	wide.Versions = version.NewRegistry()
	wide.Versions.Set(version.UE5MainStream, version.LargeWorldCoordinates)
	wide.Intern(bag)
	size, err = wide.valueSize(bag.Properties[0].Value)
	if err != nil {
		t.Fatalf("valueSize: %v", err)
	}
	if size != 24 {
		t.Fatalf("wide vector payload = %d bytes, want 24", size)
	}

	var buf bytes.Buffer
	if err := wide.WriteBag(&buf, bag); err != nil {
		t.Fatalf("WriteBag: %v", err)
	}
	got, err := wide.ReadBag(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadBag: %v", err)
	}
	sv := got.Get("Where").Value.(StructValue)
	if v := sv.Inner.(VectorValue); v != (VectorValue{1, 2, 3}) {
		t.Fatalf("vector = %+v", v)
	}
}

// A stripped enum tag needs mappings; without them the read fails with a
// typed error, with them it resolves and still rewrites the same bytes.
func TestStrippedEnum(t *testing.T) {
	c := newCodec(500)
	c.Names.Intern("Rarity")
	c.Names.Intern(TypeEnum)

	var buf bytes.Buffer
	c.Names.WriteName(&buf, names.New("Rarity"))
	c.Names.WriteName(&buf, names.New(TypeEnum))
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	c.Names.WriteName(&buf, names.New(names.None)) // enum type stripped
	buf.WriteByte(2)                               // index into the mapped value list
	c.Names.WriteName(&buf, names.New(names.None))

	if _, err := c.ReadBag(bytes.NewReader(buf.Bytes())); !errors.Is(err, ErrMissingTypeInfo) {
		t.Fatalf("err = %v, want ErrMissingTypeInfo", err)
	}

	c.Mappings = typemap.New()
	c.Mappings.Enums["Rarity"] = []string{"Common", "Rare", "Epic"}
	bag, err := c.ReadBag(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadBag with mappings: %v", err)
	}
	ev := bag.Get("Rarity").Value.(EnumValue)
	if !ev.ByIndex || ev.Value.Text != "Epic" {
		t.Fatalf("enum = %+v", ev)
	}
	var out bytes.Buffer
	if err := c.WriteBag(&out, bag); err != nil {
		t.Fatalf("WriteBag: %v", err)
	}
	if !bytes.Equal(out.Bytes(), buf.Bytes()) {
		t.Fatal("stripped enum did not round trip")
	}
}

func TestStrippedMapTypes(t *testing.T) {
	c := newCodec(500)
	c.Mappings = typemap.New()
	c.Mappings.MapKeyTypes["Weights"] = TypeName
	c.Mappings.MapValueTypes["Weights"] = TypeInt

	bag := &Bag{}
	bag.Add(Property{
		Name: names.New("Weights"), Type: names.New(TypeMap),
		Value: MapValue{
			KeyType:       names.New(TypeName),
			ValueType:     names.New(TypeInt),
			KeyStripped:   true,
			ValueStripped: true,
			Pairs:         []MapPair{{Key: NameValue(names.New("Head")), Value: Int32Value(1)}},
		},
	})
	c.Intern(bag)

	var buf bytes.Buffer
	if err := c.WriteBag(&buf, bag); err != nil {
		t.Fatalf("WriteBag: %v", err)
	}
	got, err := c.ReadBag(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadBag: %v", err)
	}
	mv := got.Get("Weights").Value.(MapValue)
	if mv.KeyType.Text != TypeName || mv.ValueType.Text != TypeInt {
		t.Fatalf("map types = %q/%q", mv.KeyType, mv.ValueType)
	}
	if !mv.KeyStripped || !mv.ValueStripped {
		t.Fatalf("stripped flags = %v/%v, want true/true", mv.KeyStripped, mv.ValueStripped)
	}
	var out bytes.Buffer
	if err := c.WriteBag(&out, got); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !bytes.Equal(out.Bytes(), buf.Bytes()) {
		t.Fatal("stripped map did not round trip")
	}
}

func TestTruncatedPayloadFails(t *testing.T) {
	c := newCodec(500)
	bag := &Bag{}
	bag.Add(Property{Name: names.New("Count"), Type: names.New(TypeInt), Value: Int32Value(7)})
	c.Intern(bag)
	var buf bytes.Buffer
	if err := c.WriteBag(&buf, bag); err != nil {
		t.Fatalf("WriteBag: %v", err)
	}
	if _, err := c.ReadBag(bytes.NewReader(buf.Bytes()[:buf.Len()-6])); err == nil {
		t.Fatal("truncated stream accepted")
	}
}

func TestJSONProjection(t *testing.T) {
	c := newCodec(500)
	bag := richBag()
	c.Intern(bag)
	raw, err := json.Marshal(bag)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(raw)
	for _, want := range []string{
		`"struct_type":"Vector"`,
		`"enum_type":"EItemRarity"`,
		`"Socket_2"`,
		`"key":"Head"`,
		`"source":"Wooden Chair"`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("projection missing %s in %s", want, s)
		}
	}
	var arr []map[string]any
	if err := json.Unmarshal(raw, &arr); err != nil {
		t.Fatalf("projection is not a JSON array: %v", err)
	}
	if len(arr) != bag.Len() {
		t.Fatalf("projected %d entries, want %d", len(arr), bag.Len())
	}
}

func TestMapTagsKeptAlongsideMappings(t *testing.T) {
	// Mapping tables only stand in for tags the stream stripped. A map
	// whose tag names are serialized keeps them on rewrite even when a
	// mapping covers the same property name.
	c := newCodec(500)

	bag := &Bag{}
	bag.Add(Property{
		Name: names.New("Weights"), Type: names.New(TypeMap),
		Value: MapValue{
			KeyType:   names.New(TypeName),
			ValueType: names.New(TypeInt),
			Pairs:     []MapPair{{Key: NameValue(names.New("Head")), Value: Int32Value(1)}},
		},
	})
	c.Intern(bag)

	var buf bytes.Buffer
	if err := c.WriteBag(&buf, bag); err != nil {
		t.Fatalf("WriteBag: %v", err)
	}

	c.Mappings = typemap.New()
	c.Mappings.MapKeyTypes["Weights"] = TypeName
	c.Mappings.MapValueTypes["Weights"] = TypeInt

	got, err := c.ReadBag(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadBag: %v", err)
	}
	mv := got.Get("Weights").Value.(MapValue)
	if mv.KeyStripped || mv.ValueStripped {
		t.Fatalf("stripped flags = %v/%v, want false/false", mv.KeyStripped, mv.ValueStripped)
	}
	var out bytes.Buffer
	if err := c.WriteBag(&out, got); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !bytes.Equal(out.Bytes(), buf.Bytes()) {
		t.Fatal("serialized map tags changed on rewrite")
	}
}
