package version

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Well-known custom version GUIDs. Subsystems register layout changes under
// a stable GUID; the number stored against it gates optional fields.
var (
	// CoreObjectVersion covers core serialization changes.
	CoreObjectVersion = uuid.MustParse("375ec13c-06e4-48fb-b500-84f0262a717e")
	// UE5MainStream covers mainline UE5 format changes, including the
	// switch of math struct payloads to double precision.
	UE5MainStream = uuid.MustParse("697dd581-e64f-41ab-aa4a-51ecbeb7b628")
	// ReleaseObjectVersion covers release-branch format changes.
	ReleaseObjectVersion = uuid.MustParse("9c54d522-a826-4fbe-9421-074661b482d0")
)

// LargeWorldCoordinates is the minimum UE5MainStream version from which
// vector/rotator/quaternion/transform payloads use 64-bit components.
const LargeWorldCoordinates int32 = 5

// CustomVersion pairs a subsystem GUID with its version number.
type CustomVersion struct {
	GUID    uuid.UUID
	Version int32
}

// Registry holds at most one version per GUID. A missing entry means
// version 0, the oldest known layout, not an error.
type Registry struct {
	versions map[uuid.UUID]int32
	order    []uuid.UUID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{versions: make(map[uuid.UUID]int32)}
}

// Get returns the version registered for guid, if any.
func (r *Registry) Get(guid uuid.UUID) (int32, bool) {
	v, ok := r.versions[guid]
	return v, ok
}

// Version returns the registered version, or 0 when absent.
func (r *Registry) Version(guid uuid.UUID) int32 {
	return r.versions[guid]
}

// Set records a version for guid, overwriting any existing entry. Last
// write wins; strict duplicate rejection is the caller's policy.
func (r *Registry) Set(guid uuid.UUID, v int32) {
	if _, ok := r.versions[guid]; !ok {
		r.order = append(r.order, guid)
	}
	r.versions[guid] = v
}

// Has reports whether guid is registered.
func (r *Registry) Has(guid uuid.UUID) bool {
	_, ok := r.versions[guid]
	return ok
}

// AtLeast reports whether guid is registered at or above min.
func (r *Registry) AtLeast(guid uuid.UUID, min int32) bool {
	return r.versions[guid] >= min
}

// Len returns the number of registered GUIDs.
func (r *Registry) Len() int {
	return len(r.versions)
}

// All returns the entries in first-registration order, so serializing a
// registry read from a container reproduces the original entry order.
func (r *Registry) All() []CustomVersion {
	out := make([]CustomVersion, 0, len(r.order))
	for _, guid := range r.order {
		out = append(out, CustomVersion{GUID: guid, Version: r.versions[guid]})
	}
	return out
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	out := NewRegistry()
	for _, cv := range r.All() {
		out.Set(cv.GUID, cv.Version)
	}
	return out
}

// GUIDs are serialized the way the engine stores them: four little-endian
// uint32 components.

// ReadGUID decodes a 16-byte component-wise little-endian GUID.
func ReadGUID(r io.Reader) (uuid.UUID, error) {
	var comps [4]uint32
	if err := binary.Read(r, binary.LittleEndian, &comps); err != nil {
		return uuid.Nil, fmt.Errorf("read guid: %w", err)
	}
	var raw [16]byte
	for i, c := range comps {
		binary.LittleEndian.PutUint32(raw[i*4:], c)
	}
	return uuid.FromBytes(raw[:])
}

// WriteGUID encodes g as four little-endian uint32 components.
func WriteGUID(w io.Writer, g uuid.UUID) error {
	raw := g[:]
	var comps [4]uint32
	for i := range comps {
		comps[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	if err := binary.Write(w, binary.LittleEndian, comps); err != nil {
		return fmt.Errorf("write guid: %w", err)
	}
	return nil
}

// GUIDSize is the wire size of a serialized GUID.
const GUIDSize = 16
