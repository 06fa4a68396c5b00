package archive

import (
	"encoding/json"

	"github.com/odvcencio/uasset/pkg/bulk"
	"github.com/odvcencio/uasset/pkg/names"
	"github.com/odvcencio/uasset/pkg/property"
	"github.com/odvcencio/uasset/pkg/typemap"
	"github.com/odvcencio/uasset/pkg/version"
	"github.com/odvcencio/uasset/pkg/xref"
)

// Options tunes a read or write. The zero value is the default lenient
// behavior.
type Options struct {
	// StrictVersions rejects duplicate custom version entries instead of
	// letting the last write win.
	StrictVersions bool
	// StrictProperties rejects unknown property types instead of keeping
	// them as raw payloads.
	StrictProperties bool
	// BulkCacheSize bounds the decompressed bulk payload cache. Zero means
	// the default capacity.
	BulkCacheSize int
	// Mappings types containers whose embedded type metadata was stripped.
	Mappings *typemap.Mappings
}

// Export is a locally-defined object: its table entry plus its decoded
// property bag.
type Export struct {
	xref.ExportEntry
	Properties *property.Bag
	// Extras holds serial bytes past the bag terminator, kept verbatim.
	Extras []byte
	// Err is set when this export's property stream failed to parse. The
	// rest of the container is still usable.
	Err error
}

// Failed reports whether this export's property stream could not be read.
func (e *Export) Failed() bool { return e.Err != nil }

// Asset is a fully decoded container.
type Asset struct {
	Summary  Summary
	Names    *names.Table
	Imports  []xref.Import
	Exports  []Export
	Versions *version.Registry
	// Depends holds the per-export serialization dependency lists.
	Depends [][]xref.Index
	// PreloadDependencies is the flat preload index list.
	PreloadDependencies []xref.Index
	// BulkEntries describes bulk payloads; inline ones carry their bytes.
	BulkEntries []bulk.Entry
	// AssetRegistryData is carried opaquely.
	AssetRegistryData []byte
}

// New returns an empty asset ready for explicit construction before a
// write.
func New() *Asset {
	return &Asset{
		Summary: Summary{
			LegacyVersion: maxLegacyVersion,
			ObjectVersion: version.ObjectVersionPropertyGUID,
		},
		Names:    names.NewTable(),
		Versions: version.NewRegistry(),
	}
}

// entries returns the export table entries without their bags.
func (a *Asset) entries() []xref.ExportEntry {
	out := make([]xref.ExportEntry, len(a.Exports))
	for i := range a.Exports {
		out[i] = a.Exports[i].ExportEntry
	}
	return out
}

// Resolver builds a cross-reference resolver over this asset's tables.
func (a *Asset) Resolver() *xref.Resolver {
	return xref.NewResolver(a.Imports, a.entries())
}

// Validate collects every invalid package index in the asset's tables.
// It returns nil when all references resolve.
func (a *Asset) Validate() []string {
	return a.Resolver().Validate()
}

// FullPath resolves the outer chain of idx into a path string.
func (a *Asset) FullPath(idx xref.Index) (string, error) {
	return a.Resolver().FullPath(idx)
}

// ClassName resolves the class of the object at idx.
func (a *Asset) ClassName(idx xref.Index) (string, error) {
	return a.Resolver().ClassName(idx)
}

// FindByName returns indices whose object name contains pattern.
func (a *Asset) FindByName(pattern string) []xref.Index {
	return a.Resolver().FindByName(pattern)
}

// ObjectsOfClass returns export indices whose class resolves to className.
func (a *Asset) ObjectsOfClass(className string) []xref.Index {
	return a.Resolver().ObjectsOfClass(className)
}

// Graph builds the dependency graph over outer and dependency indices.
func (a *Asset) Graph() *xref.Graph {
	return a.Resolver().BuildGraph()
}

// FailedExports returns the indices of exports whose property streams
// failed to parse.
func (a *Asset) FailedExports() []int {
	var out []int
	for i := range a.Exports {
		if a.Exports[i].Failed() {
			out = append(out, i)
		}
	}
	return out
}

// EngineVersion derives the engine release line from the object version.
func (a *Asset) EngineVersion() version.EngineVersion {
	return version.FromObjectVersion(a.Summary.ObjectVersion)
}

// exportJSON is the projection shape for one export.
type exportJSON struct {
	ObjectName string        `json:"object_name"`
	Class      string        `json:"class,omitempty"`
	Failed     bool          `json:"failed,omitempty"`
	Properties *property.Bag `json:"properties,omitempty"`
}

// MarshalJSON projects the asset for human and tool consumption: names,
// imports, exports with their property bags, and custom versions.
func (a *Asset) MarshalJSON() ([]byte, error) {
	resolver := a.Resolver()
	exports := make([]exportJSON, len(a.Exports))
	for i := range a.Exports {
		e := &a.Exports[i]
		ej := exportJSON{
			ObjectName: e.ObjectName.String(),
			Failed:     e.Failed(),
			Properties: e.Properties,
		}
		if class, err := resolver.ClassName(xref.FromExport(i)); err == nil {
			ej.Class = class
		}
		exports[i] = ej
	}
	imports := make([]map[string]string, len(a.Imports))
	for i, imp := range a.Imports {
		imports[i] = map[string]string{
			"class_package": imp.ClassPackage.String(),
			"class_name":    imp.ClassName.String(),
			"object_name":   imp.ObjectName.String(),
		}
	}
	versions := make([]map[string]any, 0, a.Versions.Len())
	for _, cv := range a.Versions.All() {
		versions = append(versions, map[string]any{
			"guid":    cv.GUID.String(),
			"version": cv.Version,
		})
	}
	return json.Marshal(map[string]any{
		"engine_version":  a.EngineVersion().String(),
		"names":           a.Names.Entries(),
		"imports":         imports,
		"exports":         exports,
		"custom_versions": versions,
	})
}

// codec builds the property codec bound to this asset's tables.
func (a *Asset) codec(opts Options) *property.Codec {
	return &property.Codec{
		Names:    a.Names,
		Object:   a.Summary.ObjectVersion,
		Versions: a.Versions,
		Mappings: opts.Mappings,
		Strict:   opts.StrictProperties,
	}
}
