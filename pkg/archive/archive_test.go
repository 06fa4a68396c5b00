package archive

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/odvcencio/uasset/pkg/bulk"
	"github.com/odvcencio/uasset/pkg/names"
	"github.com/odvcencio/uasset/pkg/property"
	"github.com/odvcencio/uasset/pkg/version"
	"github.com/odvcencio/uasset/pkg/xref"
)

// minimalAsset is one export with a single float property.
func minimalAsset() *Asset {
	a := New()
	a.Summary.FolderName = "None"
	bag := &property.Bag{}
	bag.Add(property.Property{
		Name:  names.New("X"),
		Type:  names.New(property.TypeFloat),
		Value: property.FloatValue(1.5),
	})
	a.Exports = []Export{{
		ExportEntry: xref.ExportEntry{ObjectName: names.New("Chair")},
		Properties:  bag,
	}}
	return a
}

func richAsset(t *testing.T) *Asset {
	t.Helper()
	a := New()
	a.Summary.FolderName = "/Game/Props"
	a.Summary.PackageFlags = FlagEventDrivenLoader
	a.Summary.GUID = uuid.MustParse("0badf00d-1111-2222-3333-444455556666")
	a.Summary.Generations = []Generation{{ExportCount: 2, NameCount: 12}}
	a.Summary.SavedBy = version.Release{Major: 5, Minor: 3, Patch: 2, Changelist: 29314046, Branch: "++UE5+Release-5.3"}
	a.Summary.CompatibleWith = a.Summary.SavedBy
	a.Summary.ChunkIDs = []int32{101, 204}
	a.Versions.Set(version.UE5MainStream, version.LargeWorldCoordinates)
	a.Versions.Set(version.CoreObjectVersion, 3)

	a.Imports = []xref.Import{
		{
			ClassPackage: names.New("/Script/CoreUObject"),
			ClassName:    names.New("Package"),
			ObjectName:   names.New("/Game/Meshes"),
		},
		{
			ClassPackage: names.New("/Script/Engine"),
			ClassName:    names.New("StaticMesh"),
			OuterIndex:   xref.FromImport(0),
			ObjectName:   names.New("SM_Chair"),
		},
	}

	chair := &property.Bag{}
	chair.Add(property.Property{
		Name:  names.New("Mesh"),
		Type:  names.New(property.TypeObject),
		Value: property.ObjectValue(xref.FromImport(1)),
	})
	chair.Add(property.Property{
		Name: names.New("Offset"),
		Type: names.New(property.TypeStruct),
		Value: property.StructValue{
			StructType: names.New(property.StructVector),
			Inner:      property.VectorValue{X: 10, Y: 20, Z: 30},
		},
	})
	cushion := &property.Bag{}
	cushion.Add(property.Property{
		Name:  names.New("Softness"),
		Type:  names.New(property.TypeFloat),
		Value: property.FloatValue(0.8),
	})
	a.Exports = []Export{
		{
			ExportEntry: xref.ExportEntry{
				ClassIndex:   xref.FromImport(1),
				ObjectName:   names.New("ChairInstance"),
				ObjectFlags:  1,
				Dependencies: []xref.Index{xref.FromImport(1)},
			},
			Properties: chair,
			Extras:     []byte{0xAA, 0xBB},
		},
		{
			ExportEntry: xref.ExportEntry{
				ClassIndex: xref.FromImport(1),
				OuterIndex: xref.FromExport(0),
				ObjectName: names.New("Cushion"),
			},
			Properties: cushion,
		},
	}
	a.Depends = [][]xref.Index{{xref.FromImport(0)}, nil}
	a.PreloadDependencies = []xref.Index{xref.FromImport(1), xref.FromExport(0)}

	inline, err := bulk.WriteInline([]byte("chair collision data"), bulk.CompressZstd)
	if err != nil {
		t.Fatalf("WriteInline: %v", err)
	}
	a.BulkEntries = []bulk.Entry{inline}
	a.AssetRegistryData = []byte{1, 2, 3, 4}
	return a
}

func TestMinimalRoundTrip(t *testing.T) {
	first, err := minimalAsset().Bytes(Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	got, err := ReadBytes(first, Options{})
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if len(got.Exports) != 1 || got.Exports[0].Failed() {
		t.Fatalf("exports = %+v", got.Exports)
	}
	p := got.Exports[0].Properties.Get("X")
	if p == nil {
		t.Fatal("property X missing")
	}
	if v := p.Value.(property.FloatValue); v != 1.5 {
		t.Fatalf("X = %v, want 1.5", v)
	}
	second, err := got.Bytes(Options{})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("minimal container did not round trip byte-identically")
	}
}

func TestRichRoundTrip(t *testing.T) {
	first, err := richAsset(t).Bytes(Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	got, err := ReadBytes(first, Options{})
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	second, err := got.Bytes(Options{})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("container did not round trip byte-identically")
	}

	if got.Versions.Version(version.UE5MainStream) != version.LargeWorldCoordinates {
		t.Fatal("custom versions lost")
	}
	// Large world coordinates carried through: vector read back exactly.
	sv := got.Exports[0].Properties.Get("Offset").Value.(property.StructValue)
	if v := sv.Inner.(property.VectorValue); v != (property.VectorValue{X: 10, Y: 20, Z: 30}) {
		t.Fatalf("vector = %+v", v)
	}
	if !bytes.Equal(got.Exports[0].Extras, []byte{0xAA, 0xBB}) {
		t.Fatalf("extras = %v", got.Exports[0].Extras)
	}
	if len(got.Depends) != 2 || len(got.Depends[0]) != 1 || got.Depends[0][0] != xref.FromImport(0) {
		t.Fatalf("depends = %v", got.Depends)
	}
	if len(got.PreloadDependencies) != 2 {
		t.Fatalf("preload deps = %v", got.PreloadDependencies)
	}
	if !bytes.Equal(got.AssetRegistryData, []byte{1, 2, 3, 4}) {
		t.Fatalf("asset registry data = %v", got.AssetRegistryData)
	}

	mgr, err := bulk.NewManager(0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	payload, err := mgr.Read(got.BulkEntries[0], nil)
	if err != nil {
		t.Fatalf("bulk read: %v", err)
	}
	if string(payload) != "chair collision data" {
		t.Fatalf("bulk payload = %q", payload)
	}
}

func TestBadMagic(t *testing.T) {
	data, err := minimalAsset().Bytes(Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	binary.LittleEndian.PutUint32(data[0:], 0x12345678)
	if _, err := ReadBytes(data, Options{}); !errors.Is(err, ErrCorruptContainer) {
		t.Fatalf("err = %v, want ErrCorruptContainer", err)
	}
}

func TestUnsupportedLegacyVersion(t *testing.T) {
	data, err := minimalAsset().Bytes(Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	binary.LittleEndian.PutUint32(data[4:], uint32(0xFFFFFFFF)) // -1, newer than -5
	if _, err := ReadBytes(data, Options{}); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
	}
}

// A corrupted export stream fails that export only; siblings still parse.
func TestExportFailureIsolated(t *testing.T) {
	a := richAsset(t)
	data, err := a.Bytes(Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	// Clobber the second export's first property name with an index far
	// outside the name table.
	off := a.Exports[1].SerialOffset
	binary.LittleEndian.PutUint32(data[off:], 0x7FFFFFFF)

	got, err := ReadBytes(data, Options{})
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if got.Exports[0].Failed() {
		t.Fatalf("sibling export failed: %v", got.Exports[0].Err)
	}
	if got.Exports[0].Properties.Get("Mesh") == nil {
		t.Fatal("sibling export lost its properties")
	}
	if !got.Exports[1].Failed() {
		t.Fatal("corrupted export not flagged")
	}
	if failed := got.FailedExports(); len(failed) != 1 || failed[0] != 1 {
		t.Fatalf("FailedExports = %v", failed)
	}
	if len(got.Exports[1].Extras) == 0 {
		t.Fatal("failed export lost its raw bytes")
	}
}

func TestTruncatedExportIsolated(t *testing.T) {
	a := richAsset(t)
	data, err := a.Bytes(Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	// Inflate the second export's first property size so the payload read
	// runs past the end of its serial range.
	off := a.Exports[1].SerialOffset + 2*names.NameSize
	binary.LittleEndian.PutUint32(data[off:], 1<<20)

	got, err := ReadBytes(data, Options{})
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if got.Exports[0].Failed() || !got.Exports[1].Failed() {
		t.Fatalf("failure flags wrong: %v / %v", got.Exports[0].Err, got.Exports[1].Err)
	}
}

func TestDuplicateCustomVersions(t *testing.T) {
	a := minimalAsset()
	a.Versions.Set(version.CoreObjectVersion, 1)
	a.Versions.Set(version.ReleaseObjectVersion, 7)
	data, err := a.Bytes(Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	// Overwrite the second entry's GUID with the first's. Entries are 20
	// bytes apiece, so the section layout is unchanged.
	off := a.Summary.CustomVersionOffset
	copy(data[off+20:off+36], data[off:off+16])

	got, err := ReadBytes(data, Options{})
	if err != nil {
		t.Fatalf("lenient read: %v", err)
	}
	if v := got.Versions.Version(version.CoreObjectVersion); v != 7 {
		t.Fatalf("last write should win, got version %d", v)
	}
	if got.Versions.Has(version.ReleaseObjectVersion) {
		t.Fatal("stale entry survived")
	}

	if _, err := ReadBytes(data, Options{StrictVersions: true}); !errors.Is(err, ErrCorruptContainer) {
		t.Fatalf("strict read err = %v, want ErrCorruptContainer", err)
	}
}

func TestResolverOverAsset(t *testing.T) {
	a := richAsset(t)
	data, err := a.Bytes(Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	got, err := ReadBytes(data, Options{})
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if problems := got.Validate(); problems != nil {
		t.Fatalf("Validate = %v", problems)
	}
	path, err := got.FullPath(xref.FromExport(1))
	if err != nil {
		t.Fatalf("FullPath: %v", err)
	}
	if path != "ChairInstance/Cushion" {
		t.Fatalf("path = %q", path)
	}
	class, err := got.ClassName(xref.FromExport(0))
	if err != nil {
		t.Fatalf("ClassName: %v", err)
	}
	if class != "SM_Chair" {
		t.Fatalf("class = %q", class)
	}
	if hits := got.FindByName("Chair"); len(hits) == 0 {
		t.Fatal("FindByName found nothing")
	}
	if hits := got.ObjectsOfClass("SM_Chair"); len(hits) != 2 {
		t.Fatalf("ObjectsOfClass = %v", hits)
	}
	if cycles := got.Graph().Cycles(); len(cycles) != 0 {
		t.Fatalf("unexpected cycles %v", cycles)
	}
}

func TestEngineVersionDerived(t *testing.T) {
	a := minimalAsset()
	a.Summary.ObjectVersion = version.UE4_27.ObjectVersion()
	data, err := a.Bytes(Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	got, err := ReadBytes(data, Options{})
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if got.EngineVersion() != version.UE4_27 {
		t.Fatalf("engine version = %v", got.EngineVersion())
	}
}

func TestAssetJSON(t *testing.T) {
	a := richAsset(t)
	data, err := a.Bytes(Options{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	got, err := ReadBytes(data, Options{})
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(raw)
	for _, want := range []string{
		`"engine_version"`,
		`"object_name":"ChairInstance"`,
		`"class":"SM_Chair"`,
		`"struct_type":"Vector"`,
		strings.ToLower(version.UE5MainStream.String()),
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("projection missing %s in %s", want, s)
		}
	}
}
