// Package version tracks the version numbers that gate optional binary
// layout in asset containers: the engine-wide object version stored in the
// package summary, and per-subsystem custom versions keyed by GUID.
package version

// ObjectVersion is the engine serialization version a container was saved
// with. Layout gates compare against the thresholds below.
type ObjectVersion int32

// Object version thresholds at which optional summary/table fields appear.
const (
	// Export entries carry a template index from this version on.
	ObjectVersionTemplateIndex ObjectVersion = 508
	// Import entries carry a package GUID from this version on.
	ObjectVersionImportGUID ObjectVersion = 516
	// Name table entries are followed by a content hash from this version on.
	ObjectVersionNameHashes ObjectVersion = 521
	// Property tags carry an optional property GUID from this version on.
	ObjectVersionPropertyGUID ObjectVersion = 522
)

// AtLeast reports whether v meets the threshold min.
func (v ObjectVersion) AtLeast(min ObjectVersion) bool {
	return v >= min
}

// EngineVersion identifies an engine release line.
type EngineVersion int

// Engine releases and the object version each one saves with.
const (
	UnknownEngine EngineVersion = iota
	UE4_24
	UE4_25
	UE4_26
	UE4_27
	UE5_0
	UE5_1
	UE5_2
	UE5_3
	UE5_4
	UE5_5
)

var engineObjectVersions = map[EngineVersion]ObjectVersion{
	UE4_24: 521,
	UE4_25: 522,
	UE4_26: 523,
	UE4_27: 524,
	UE5_0:  1001,
	UE5_1:  1002,
	UE5_2:  1003,
	UE5_3:  1004,
	UE5_4:  1005,
	UE5_5:  1006,
}

// ObjectVersion returns the serialization version e saves with.
func (e EngineVersion) ObjectVersion() ObjectVersion {
	return engineObjectVersions[e]
}

// FromObjectVersion maps a serialized object version back to the newest
// engine release that produces it. Unknown versions map to UnknownEngine.
func FromObjectVersion(v ObjectVersion) EngineVersion {
	best := UnknownEngine
	var bestVersion ObjectVersion
	for engine, objVersion := range engineObjectVersions {
		if objVersion == v && objVersion >= bestVersion {
			best = engine
			bestVersion = objVersion
		}
	}
	return best
}

func (e EngineVersion) String() string {
	switch e {
	case UE4_24:
		return "4.24"
	case UE4_25:
		return "4.25"
	case UE4_26:
		return "4.26"
	case UE4_27:
		return "4.27"
	case UE5_0:
		return "5.0"
	case UE5_1:
		return "5.1"
	case UE5_2:
		return "5.2"
	case UE5_3:
		return "5.3"
	case UE5_4:
		return "5.4"
	case UE5_5:
		return "5.5"
	default:
		return "unknown"
	}
}

// Release holds the engine version quad written twice in the summary
// (saved-by and compatible-with).
type Release struct {
	Major      uint16
	Minor      uint16
	Patch      uint16
	Changelist uint32
	Branch     string
}
