package xref

import (
	"fmt"
	"strings"

	"github.com/odvcencio/uasset/pkg/names"
)

// PathSeparator joins object names in a fully qualified path.
const PathSeparator = "/"

// Ref is a resolved package index: exactly one of Import/Export is set for
// a non-null reference.
type Ref struct {
	Index  Index
	Import *Import
	Export *ExportEntry
}

// IsNull reports whether the reference resolved to nothing.
func (r Ref) IsNull() bool { return r.Import == nil && r.Export == nil }

// ObjectName returns the referenced object's name, or the empty name for
// a null reference.
func (r Ref) ObjectName() names.Name {
	switch {
	case r.Import != nil:
		return r.Import.ObjectName
	case r.Export != nil:
		return r.Export.ObjectName
	default:
		return names.Name{}
	}
}

// OuterIndex returns the index of the referenced object's outer.
func (r Ref) OuterIndex() Index {
	switch {
	case r.Import != nil:
		return r.Import.OuterIndex
	case r.Export != nil:
		return r.Export.OuterIndex
	default:
		return Null
	}
}

// Resolver maps indices to entries of one asset's tables.
type Resolver struct {
	imports []Import
	exports []ExportEntry
}

// NewResolver returns a resolver over the given tables. The slices are
// retained, not copied; mutating the tables while resolving is the
// caller's problem.
func NewResolver(imports []Import, exports []ExportEntry) *Resolver {
	return &Resolver{imports: imports, exports: exports}
}

// Resolve maps idx to its table entry. The null index resolves to the zero
// Ref without error; an out-of-bounds magnitude is ErrInvalidIndex.
func (r *Resolver) Resolve(idx Index) (Ref, error) {
	switch {
	case idx.IsNull():
		return Ref{}, nil
	case idx.IsImport():
		slot := idx.ImportSlot()
		if slot >= len(r.imports) {
			return Ref{}, fmt.Errorf("%w: import %d of %d", ErrInvalidIndex, idx, len(r.imports))
		}
		return Ref{Index: idx, Import: &r.imports[slot]}, nil
	default:
		slot := idx.ExportSlot()
		if slot >= len(r.exports) {
			return Ref{}, fmt.Errorf("%w: export %d of %d", ErrInvalidIndex, idx, len(r.exports))
		}
		return Ref{Index: idx, Export: &r.exports[slot]}, nil
	}
}

// FullPath walks the outer-index chain from idx and joins the object names
// outermost first. A repeated index along the chain is ErrCyclicReference
// rather than an endless walk.
func (r *Resolver) FullPath(idx Index) (string, error) {
	var parts []string
	visited := make(map[Index]bool)

	for current := idx; !current.IsNull(); {
		if visited[current] {
			return "", fmt.Errorf("%w: outer chain revisits index %d", ErrCyclicReference, current)
		}
		visited[current] = true

		ref, err := r.Resolve(current)
		if err != nil {
			return "", err
		}
		if ref.IsNull() {
			break
		}
		parts = append(parts, ref.ObjectName().String())
		current = ref.OuterIndex()
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, PathSeparator), nil
}

// ClassName returns the name of the referenced object's class: the import's
// declared class name, or one extra resolution hop through an export's
// class index. Exports with a null class index are plain Objects.
func (r *Resolver) ClassName(idx Index) (string, error) {
	ref, err := r.Resolve(idx)
	if err != nil {
		return "", err
	}
	switch {
	case ref.IsNull():
		return "", fmt.Errorf("%w: cannot take class of null reference", ErrInvalidIndex)
	case ref.Import != nil:
		return ref.Import.ClassName.String(), nil
	default:
		if ref.Export.ClassIndex.IsNull() {
			return "Object", nil
		}
		classRef, err := r.Resolve(ref.Export.ClassIndex)
		if err != nil {
			return "", err
		}
		if classRef.IsNull() {
			return "Object", nil
		}
		return classRef.ObjectName().String(), nil
	}
}

// Dependencies returns the other indices idx directly references: the
// outer for imports; class, super, template, outer and the serialized
// dependency list for exports. Null references are omitted.
func (r *Resolver) Dependencies(idx Index) ([]Index, error) {
	ref, err := r.Resolve(idx)
	if err != nil {
		return nil, err
	}
	var deps []Index
	add := func(i Index) {
		if !i.IsNull() {
			deps = append(deps, i)
		}
	}
	switch {
	case ref.Import != nil:
		add(ref.Import.OuterIndex)
	case ref.Export != nil:
		add(ref.Export.ClassIndex)
		add(ref.Export.SuperIndex)
		add(ref.Export.TemplateIndex)
		add(ref.Export.OuterIndex)
		for _, d := range ref.Export.Dependencies {
			add(d)
		}
	}
	return deps, nil
}

// Validate resolves every index stored in both tables and collects a
// description of each invalid one instead of failing on the first.
func (r *Resolver) Validate() []string {
	var problems []string
	check := func(what string, idx Index) {
		if _, err := r.Resolve(idx); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", what, err))
		}
	}
	for i := range r.imports {
		check(fmt.Sprintf("import %d outer", i), r.imports[i].OuterIndex)
	}
	for i := range r.exports {
		e := &r.exports[i]
		check(fmt.Sprintf("export %d class", i), e.ClassIndex)
		check(fmt.Sprintf("export %d super", i), e.SuperIndex)
		check(fmt.Sprintf("export %d template", i), e.TemplateIndex)
		check(fmt.Sprintf("export %d outer", i), e.OuterIndex)
		for j, d := range e.Dependencies {
			check(fmt.Sprintf("export %d dependency %d", i, j), d)
		}
	}
	return problems
}

// FindByName returns the indices of all imports and exports whose object
// name contains pattern.
func (r *Resolver) FindByName(pattern string) []Index {
	var out []Index
	for i := range r.imports {
		if strings.Contains(r.imports[i].ObjectName.Text, pattern) {
			out = append(out, FromImport(i))
		}
	}
	for i := range r.exports {
		if strings.Contains(r.exports[i].ObjectName.Text, pattern) {
			out = append(out, FromExport(i))
		}
	}
	return out
}

// ObjectsOfClass returns the indices of all exports whose class resolves
// to className.
func (r *Resolver) ObjectsOfClass(className string) []Index {
	var out []Index
	for i := range r.exports {
		idx := FromExport(i)
		name, err := r.ClassName(idx)
		if err == nil && name == className {
			out = append(out, idx)
		}
	}
	return out
}
