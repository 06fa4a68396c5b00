package typemap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Magic identifies a type-mapping stream.
const Magic uint16 = 0x30C4

// FormatVersion is the only payload version this package emits.
const FormatVersion uint8 = 0

// Payload compression schemes.
const (
	PayloadNone uint8 = 0
	PayloadZstd uint8 = 1
	PayloadZlib uint8 = 2
)

var (
	ErrBadMagic           = errors.New("type mapping: bad magic")
	ErrUnsupportedVersion = errors.New("type mapping: unsupported version")
)

// noneIndex marks an absent name in serialized records.
const noneIndex = ^uint32(0)

// Parse decodes a type-mapping stream.
func Parse(r io.Reader) (*Mappings, error) {
	var header struct {
		Magic            uint16
		Version          uint8
		Compression      uint8
		CompressedSize   uint32
		DecompressedSize uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header.Magic != Magic {
		return nil, fmt.Errorf("%w: 0x%04X", ErrBadMagic, header.Magic)
	}
	if header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}

	compressed := make([]byte, header.CompressedSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	payload, err := inflate(header.Compression, compressed)
	if err != nil {
		return nil, err
	}
	if uint32(len(payload)) != header.DecompressedSize {
		return nil, fmt.Errorf("payload size mismatch: got %d, want %d", len(payload), header.DecompressedSize)
	}
	return parsePayload(bytes.NewReader(payload))
}

func inflate(compression uint8, data []byte) ([]byte, error) {
	switch compression {
	case PayloadNone:
		return data, nil
	case PayloadZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case PayloadZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported payload compression %d", compression)
	}
}

func parsePayload(r *bytes.Reader) (*Mappings, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read name count: %w", err)
	}
	table := make([]string, count)
	for i := range table {
		var length uint16
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("read name %d length: %w", i, err)
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("read name %d: %w", i, err)
		}
		table[i] = string(raw)
	}
	resolve := func(index uint32) (string, error) {
		if index == noneIndex {
			return "", nil
		}
		if index >= count {
			return "", fmt.Errorf("name index %d out of range (table size %d)", index, count)
		}
		return table[index], nil
	}

	m := New()

	var enumCount uint32
	if err := binary.Read(r, binary.LittleEndian, &enumCount); err != nil {
		return nil, fmt.Errorf("read enum count: %w", err)
	}
	for i := uint32(0); i < enumCount; i++ {
		var nameIdx uint32
		if err := binary.Read(r, binary.LittleEndian, &nameIdx); err != nil {
			return nil, fmt.Errorf("read enum %d name: %w", i, err)
		}
		name, err := resolve(nameIdx)
		if err != nil {
			return nil, err
		}
		var valueCount uint8
		if err := binary.Read(r, binary.LittleEndian, &valueCount); err != nil {
			return nil, fmt.Errorf("read enum %q value count: %w", name, err)
		}
		values := make([]string, valueCount)
		for j := range values {
			var idx uint32
			if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
				return nil, fmt.Errorf("read enum %q value %d: %w", name, j, err)
			}
			if values[j], err = resolve(idx); err != nil {
				return nil, err
			}
		}
		m.Enums[name] = values
	}

	var structCount uint32
	if err := binary.Read(r, binary.LittleEndian, &structCount); err != nil {
		return nil, fmt.Errorf("read struct count: %w", err)
	}
	for i := uint32(0); i < structCount; i++ {
		var nameIdx, propCount uint32
		if err := binary.Read(r, binary.LittleEndian, &nameIdx); err != nil {
			return nil, fmt.Errorf("read struct %d name: %w", i, err)
		}
		name, err := resolve(nameIdx)
		if err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &propCount); err != nil {
			return nil, fmt.Errorf("read struct %q property count: %w", name, err)
		}
		s := Struct{Name: name, Properties: make([]Property, propCount)}
		for j := range s.Properties {
			var rec [5]uint32
			if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
				return nil, fmt.Errorf("read struct %q property %d: %w", name, j, err)
			}
			p := &s.Properties[j]
			if p.Name, err = resolve(rec[0]); err != nil {
				return nil, err
			}
			if p.Type, err = resolve(rec[1]); err != nil {
				return nil, err
			}
			if p.Inner, err = resolve(rec[2]); err != nil {
				return nil, err
			}
			if p.Value, err = resolve(rec[3]); err != nil {
				return nil, err
			}
			if p.StructType, err = resolve(rec[4]); err != nil {
				return nil, err
			}
		}
		m.Structs[name] = s
	}

	for _, dst := range []map[string]string{m.ArrayStructTypes, m.MapKeyTypes, m.MapValueTypes} {
		var pairCount uint32
		if err := binary.Read(r, binary.LittleEndian, &pairCount); err != nil {
			return nil, fmt.Errorf("read override count: %w", err)
		}
		for i := uint32(0); i < pairCount; i++ {
			var rec [2]uint32
			if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
				return nil, fmt.Errorf("read override %d: %w", i, err)
			}
			key, err := resolve(rec[0])
			if err != nil {
				return nil, err
			}
			value, err := resolve(rec[1])
			if err != nil {
				return nil, err
			}
			dst[key] = value
		}
	}
	return m, nil
}

// Write serializes the mappings with the given payload compression.
func (m *Mappings) Write(w io.Writer, compression uint8) error {
	payload, err := m.buildPayload()
	if err != nil {
		return err
	}
	compressed, err := deflate(compression, payload)
	if err != nil {
		return err
	}
	header := struct {
		Magic            uint16
		Version          uint8
		Compression      uint8
		CompressedSize   uint32
		DecompressedSize uint32
	}{Magic, FormatVersion, compression, uint32(len(compressed)), uint32(len(payload))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func deflate(compression uint8, data []byte) ([]byte, error) {
	switch compression {
	case PayloadNone:
		return data, nil
	case PayloadZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case PayloadZlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported payload compression %d", compression)
	}
}

// interner assigns stable indices to payload strings.
type interner struct {
	entries []string
	lookup  map[string]uint32
}

func (in *interner) add(s string) uint32 {
	if s == "" {
		return noneIndex
	}
	if idx, ok := in.lookup[s]; ok {
		return idx
	}
	if in.lookup == nil {
		in.lookup = make(map[string]uint32)
	}
	idx := uint32(len(in.entries))
	in.entries = append(in.entries, s)
	in.lookup[s] = idx
	return idx
}

func (m *Mappings) buildPayload() ([]byte, error) {
	// Maps are iterated in sorted key order so the same mappings always
	// serialize to the same bytes.
	enumNames := sortedKeys(m.Enums)
	structNames := sortedKeys(m.Structs)

	var in interner
	type enumRec struct {
		name   uint32
		values []uint32
	}
	enums := make([]enumRec, 0, len(enumNames))
	for _, name := range enumNames {
		values := m.Enums[name]
		if len(values) > 255 {
			return nil, fmt.Errorf("enum %q has %d values, limit is 255", name, len(values))
		}
		rec := enumRec{name: in.add(name), values: make([]uint32, len(values))}
		for i, v := range values {
			rec.values[i] = in.add(v)
		}
		enums = append(enums, rec)
	}
	type structRec struct {
		name  uint32
		props [][5]uint32
	}
	structs := make([]structRec, 0, len(structNames))
	for _, name := range structNames {
		layout := m.Structs[name]
		rec := structRec{name: in.add(name), props: make([][5]uint32, len(layout.Properties))}
		for i, p := range layout.Properties {
			rec.props[i] = [5]uint32{in.add(p.Name), in.add(p.Type), in.add(p.Inner), in.add(p.Value), in.add(p.StructType)}
		}
		structs = append(structs, rec)
	}
	type pairRec [2]uint32
	overrides := make([][]pairRec, 0, 3)
	for _, src := range []map[string]string{m.ArrayStructTypes, m.MapKeyTypes, m.MapValueTypes} {
		pairs := make([]pairRec, 0, len(src))
		for _, key := range sortedKeys(src) {
			pairs = append(pairs, pairRec{in.add(key), in.add(src[key])})
		}
		overrides = append(overrides, pairs)
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(in.entries)))
	for _, s := range in.entries {
		if len(s) > 0xFFFF {
			return nil, fmt.Errorf("name %q too long", s[:32])
		}
		binary.Write(&buf, binary.LittleEndian, uint16(len(s)))
		buf.WriteString(s)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(enums)))
	for _, rec := range enums {
		binary.Write(&buf, binary.LittleEndian, rec.name)
		binary.Write(&buf, binary.LittleEndian, uint8(len(rec.values)))
		for _, v := range rec.values {
			binary.Write(&buf, binary.LittleEndian, v)
		}
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(structs)))
	for _, rec := range structs {
		binary.Write(&buf, binary.LittleEndian, rec.name)
		binary.Write(&buf, binary.LittleEndian, uint32(len(rec.props)))
		for _, p := range rec.props {
			binary.Write(&buf, binary.LittleEndian, p)
		}
	}
	for _, pairs := range overrides {
		binary.Write(&buf, binary.LittleEndian, uint32(len(pairs)))
		for _, pair := range pairs {
			binary.Write(&buf, binary.LittleEndian, pair)
		}
	}
	return buf.Bytes(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
