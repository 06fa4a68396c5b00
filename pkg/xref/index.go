// Package xref implements cross-reference resolution for asset containers.
// Objects refer to each other through signed package indices: 0 is the null
// reference, positive values point one past an export table slot, negative
// values point one below an import table slot. An index is just an integer;
// resolving one always happens against an explicit pair of tables, never
// through a stored back-reference.
package xref

import (
	"errors"

	"github.com/google/uuid"
	"github.com/odvcencio/uasset/pkg/names"
)

var (
	// ErrInvalidIndex reports an index whose magnitude exceeds the
	// relevant table.
	ErrInvalidIndex = errors.New("invalid package index")
	// ErrCyclicReference reports an outer-index chain that loops.
	ErrCyclicReference = errors.New("cyclic object reference")
)

// Index is a signed cross-reference into an asset's import/export tables.
type Index int32

// Null is the zero reference.
const Null Index = 0

// IsNull reports whether i references nothing.
func (i Index) IsNull() bool { return i == 0 }

// IsImport reports whether i references the import table.
func (i Index) IsImport() bool { return i < 0 }

// IsExport reports whether i references the export table.
func (i Index) IsExport() bool { return i > 0 }

// ImportSlot returns the import table position for a negative index.
func (i Index) ImportSlot() int { return int(-i) - 1 }

// ExportSlot returns the export table position for a positive index.
func (i Index) ExportSlot() int { return int(i) - 1 }

// FromImport returns the index referencing import table slot n.
func FromImport(n int) Index { return Index(-(n + 1)) }

// FromExport returns the index referencing export table slot n.
func FromExport(n int) Index { return Index(n + 1) }

// Import references an object defined in another container.
type Import struct {
	ClassPackage names.Name
	ClassName    names.Name
	OuterIndex   Index
	ObjectName   names.Name
	PackageGUID  uuid.UUID
}

// ExportEntry is the table-level description of an object defined in this
// container. The serialized property bag itself is owned by the archive
// layer; the resolver only needs the reference topology.
type ExportEntry struct {
	ClassIndex    Index
	SuperIndex    Index
	TemplateIndex Index
	OuterIndex    Index
	ObjectName    names.Name
	ObjectFlags   uint32
	SerialSize    uint64
	SerialOffset  uint64
	ExportFlags   uint32
	Dependencies  []Index
}
