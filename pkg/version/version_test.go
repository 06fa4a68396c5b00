package version

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestRegistryMissingEntryIsVersionZero(t *testing.T) {
	r := NewRegistry()
	if v := r.Version(UE5MainStream); v != 0 {
		t.Fatalf("Version on empty registry = %d, want 0", v)
	}
	if r.AtLeast(UE5MainStream, 1) {
		t.Fatal("AtLeast(1) should be false for an unregistered GUID")
	}
	if _, ok := r.Get(UE5MainStream); ok {
		t.Fatal("Get should report absence")
	}
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry()
	r.Set(CoreObjectVersion, 3)
	r.Set(CoreObjectVersion, 7)
	if v := r.Version(CoreObjectVersion); v != 7 {
		t.Fatalf("Version = %d, want 7", v)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryAllPreservesInsertionOrder(t *testing.T) {
	r := NewRegistry()
	r.Set(ReleaseObjectVersion, 1)
	r.Set(CoreObjectVersion, 2)
	r.Set(ReleaseObjectVersion, 9) // update must not move the entry

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All returned %d entries, want 2", len(all))
	}
	if all[0].GUID != ReleaseObjectVersion || all[0].Version != 9 {
		t.Errorf("entry 0 = %+v, want ReleaseObjectVersion@9", all[0])
	}
	if all[1].GUID != CoreObjectVersion || all[1].Version != 2 {
		t.Errorf("entry 1 = %+v, want CoreObjectVersion@2", all[1])
	}
}

func TestGUIDRoundTrip(t *testing.T) {
	want := uuid.MustParse("697dd581-e64f-41ab-aa4a-51ecbeb7b628")
	var buf bytes.Buffer
	if err := WriteGUID(&buf, want); err != nil {
		t.Fatalf("WriteGUID: %v", err)
	}
	if buf.Len() != GUIDSize {
		t.Fatalf("wrote %d bytes, want %d", buf.Len(), GUIDSize)
	}
	got, err := ReadGUID(&buf)
	if err != nil {
		t.Fatalf("ReadGUID: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %s, want %s", got, want)
	}
}

func TestObjectVersionGates(t *testing.T) {
	v := UE4_27.ObjectVersion()
	if !v.AtLeast(ObjectVersionPropertyGUID) {
		t.Errorf("4.27 object version %d should carry property GUIDs", v)
	}
	old := ObjectVersion(500)
	if old.AtLeast(ObjectVersionTemplateIndex) {
		t.Errorf("object version 500 should predate template indices")
	}
}

func TestEngineVersionLookup(t *testing.T) {
	if got := FromObjectVersion(524); got != UE4_27 {
		t.Errorf("FromObjectVersion(524) = %v, want UE4_27", got)
	}
	if got := FromObjectVersion(42); got != UnknownEngine {
		t.Errorf("FromObjectVersion(42) = %v, want UnknownEngine", got)
	}
}
