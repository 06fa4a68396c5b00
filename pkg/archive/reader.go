package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/odvcencio/uasset/pkg/bulk"
	"github.com/odvcencio/uasset/pkg/names"
	"github.com/odvcencio/uasset/pkg/version"
	"github.com/odvcencio/uasset/pkg/xref"
)

// Parsing walks a fixed sequence of states. Transitions only move forward;
// a step entered out of order is a programming error, not a data error.
type state uint8

const (
	stateHeader state = iota
	stateNameTable
	stateImportTable
	stateExportTable
	stateDependencyMap
	stateCustomVersions
	stateBulkDataPreamble
	statePerExportProperties
	stateDone
)

type reader struct {
	src   io.ReaderAt
	size  int64
	opts  Options
	state state
	asset *Asset
}

func (r *reader) enter(expected state) error {
	if r.state != expected {
		return fmt.Errorf("archive state %d, expected %d", r.state, expected)
	}
	r.state = expected + 1
	return nil
}

// section returns a reader positioned at offset, bounded by stream size.
func (r *reader) section(offset int64) *io.SectionReader {
	return io.NewSectionReader(r.src, offset, r.size-offset)
}

// Read decodes a whole container from a random-access source. size is the
// stream length in bytes.
func Read(src io.ReaderAt, size int64, opts Options) (*Asset, error) {
	r := &reader{
		src:  src,
		size: size,
		opts: opts,
		asset: &Asset{
			Names:    names.NewTable(),
			Versions: version.NewRegistry(),
		},
	}
	steps := []func() error{
		r.readHeader,
		r.readNameTable,
		r.readImportTable,
		r.readExportTable,
		r.readDependencyMap,
		r.readCustomVersions,
		r.readBulkDataPreamble,
		r.readExportProperties,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	if r.state != stateDone {
		return nil, fmt.Errorf("archive parse ended in state %d", r.state)
	}
	return r.asset, nil
}

// ReadBytes decodes a container held in memory.
func ReadBytes(data []byte, opts Options) (*Asset, error) {
	return Read(bytes.NewReader(data), int64(len(data)), opts)
}

func (r *reader) readHeader() error {
	if err := r.enter(stateHeader); err != nil {
		return err
	}
	s, err := ReadSummary(r.section(0), r.size)
	if err != nil {
		return err
	}
	r.asset.Summary = *s
	return nil
}

func (r *reader) readNameTable() error {
	if err := r.enter(stateNameTable); err != nil {
		return err
	}
	s := &r.asset.Summary
	src := r.section(int64(s.NameOffset))
	withHashes := s.ObjectVersion.AtLeast(version.ObjectVersionNameHashes)
	for i := int32(0); i < s.NameCount; i++ {
		entry, _, err := names.ReadString(src)
		if err != nil {
			return fmt.Errorf("%w: name entry %d: %v", ErrCorruptContainer, i, err)
		}
		if withHashes {
			// Hashes are recomputed on write, never trusted on read.
			var hash uint32
			if err := binary.Read(src, binary.LittleEndian, &hash); err != nil {
				return fmt.Errorf("%w: name entry %d hash: %v", ErrCorruptContainer, i, err)
			}
		}
		if i == 0 && entry != names.None {
			return fmt.Errorf("%w: name entry 0 is %q, want %q", ErrCorruptContainer, entry, names.None)
		}
		if got := r.asset.Names.Intern(entry); got != i {
			return fmt.Errorf("%w: duplicate name entry %q at %d", ErrCorruptContainer, entry, i)
		}
	}
	return nil
}

func (r *reader) readImportTable() error {
	if err := r.enter(stateImportTable); err != nil {
		return err
	}
	s := &r.asset.Summary
	src := r.section(int64(s.ImportOffset))
	withGUID := s.ObjectVersion.AtLeast(version.ObjectVersionImportGUID)
	r.asset.Imports = make([]xref.Import, s.ImportCount)
	for i := range r.asset.Imports {
		imp := &r.asset.Imports[i]
		var err error
		if imp.ClassPackage, err = r.asset.Names.ReadName(src); err != nil {
			return fmt.Errorf("%w: import %d class package: %v", ErrCorruptContainer, i, err)
		}
		if imp.ClassName, err = r.asset.Names.ReadName(src); err != nil {
			return fmt.Errorf("%w: import %d class name: %v", ErrCorruptContainer, i, err)
		}
		if err = binary.Read(src, binary.LittleEndian, &imp.OuterIndex); err != nil {
			return fmt.Errorf("%w: import %d outer: %v", ErrCorruptContainer, i, err)
		}
		if imp.ObjectName, err = r.asset.Names.ReadName(src); err != nil {
			return fmt.Errorf("%w: import %d object name: %v", ErrCorruptContainer, i, err)
		}
		if withGUID {
			if imp.PackageGUID, err = version.ReadGUID(src); err != nil {
				return fmt.Errorf("%w: import %d package guid: %v", ErrCorruptContainer, i, err)
			}
		}
	}
	return nil
}

func (r *reader) readExportTable() error {
	if err := r.enter(stateExportTable); err != nil {
		return err
	}
	s := &r.asset.Summary
	src := r.section(int64(s.ExportOffset))
	withTemplate := s.ObjectVersion.AtLeast(version.ObjectVersionTemplateIndex)
	wide := s.WideOffsets()
	r.asset.Exports = make([]Export, s.ExportCount)
	for i := range r.asset.Exports {
		e := &r.asset.Exports[i].ExportEntry
		indices := []*xref.Index{&e.ClassIndex, &e.SuperIndex}
		if withTemplate {
			indices = append(indices, &e.TemplateIndex)
		}
		indices = append(indices, &e.OuterIndex)
		for _, idx := range indices {
			if err := binary.Read(src, binary.LittleEndian, idx); err != nil {
				return fmt.Errorf("%w: export %d indices: %v", ErrCorruptContainer, i, err)
			}
		}
		var err error
		if e.ObjectName, err = r.asset.Names.ReadName(src); err != nil {
			return fmt.Errorf("%w: export %d object name: %v", ErrCorruptContainer, i, err)
		}
		if err = binary.Read(src, binary.LittleEndian, &e.ObjectFlags); err != nil {
			return fmt.Errorf("%w: export %d object flags: %v", ErrCorruptContainer, i, err)
		}
		if e.SerialSize, e.SerialOffset, err = readSerialPair(src, wide); err != nil {
			return fmt.Errorf("%w: export %d serial fields: %v", ErrCorruptContainer, i, err)
		}
		if int64(e.SerialOffset)+int64(e.SerialSize) > r.size {
			return fmt.Errorf("%w: export %d serial range [%d,+%d) beyond stream size %d",
				ErrCorruptContainer, i, e.SerialOffset, e.SerialSize, r.size)
		}
		if err = binary.Read(src, binary.LittleEndian, &e.ExportFlags); err != nil {
			return fmt.Errorf("%w: export %d export flags: %v", ErrCorruptContainer, i, err)
		}
		if e.Dependencies, err = readIndexList(src); err != nil {
			return fmt.Errorf("%w: export %d dependencies: %v", ErrCorruptContainer, i, err)
		}
	}
	return nil
}

func readSerialPair(r io.Reader, wide bool) (size, offset uint64, err error) {
	if wide {
		var pair [2]uint64
		if err := binary.Read(r, binary.LittleEndian, &pair); err != nil {
			return 0, 0, err
		}
		return pair[0], pair[1], nil
	}
	var pair [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &pair); err != nil {
		return 0, 0, err
	}
	return uint64(pair[0]), uint64(pair[1]), nil
}

func readIndexList(r io.Reader) ([]xref.Index, error) {
	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("negative index count %d", count)
	}
	if count == 0 {
		return nil, nil
	}
	out := make([]xref.Index, count)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *reader) readDependencyMap() error {
	if err := r.enter(stateDependencyMap); err != nil {
		return err
	}
	s := &r.asset.Summary
	if s.DependsOffset != 0 && len(r.asset.Exports) > 0 {
		src := r.section(int64(s.DependsOffset))
		r.asset.Depends = make([][]xref.Index, len(r.asset.Exports))
		for i := range r.asset.Depends {
			deps, err := readIndexList(src)
			if err != nil {
				return fmt.Errorf("%w: depends entry %d: %v", ErrCorruptContainer, i, err)
			}
			r.asset.Depends[i] = deps
		}
	}
	if s.PreloadDependencyOffset != 0 && s.PreloadDependencyCount > 0 {
		src := r.section(int64(s.PreloadDependencyOffset))
		r.asset.PreloadDependencies = make([]xref.Index, s.PreloadDependencyCount)
		if err := binary.Read(src, binary.LittleEndian, r.asset.PreloadDependencies); err != nil {
			return fmt.Errorf("%w: preload dependencies: %v", ErrCorruptContainer, err)
		}
	}
	return nil
}

func (r *reader) readCustomVersions() error {
	if err := r.enter(stateCustomVersions); err != nil {
		return err
	}
	s := &r.asset.Summary
	if s.CustomVersionCount == 0 {
		return nil
	}
	src := r.section(int64(s.CustomVersionOffset))
	for i := int32(0); i < s.CustomVersionCount; i++ {
		guid, err := version.ReadGUID(src)
		if err != nil {
			return fmt.Errorf("%w: custom version %d guid: %v", ErrCorruptContainer, i, err)
		}
		var v int32
		if err := binary.Read(src, binary.LittleEndian, &v); err != nil {
			return fmt.Errorf("%w: custom version %d value: %v", ErrCorruptContainer, i, err)
		}
		if r.opts.StrictVersions && r.asset.Versions.Has(guid) {
			return fmt.Errorf("%w: duplicate custom version %s", ErrCorruptContainer, guid)
		}
		r.asset.Versions.Set(guid, v)
	}
	return nil
}

func (r *reader) readBulkDataPreamble() error {
	if err := r.enter(stateBulkDataPreamble); err != nil {
		return err
	}
	s := &r.asset.Summary
	if s.BulkEntryCount > 0 {
		src := r.section(int64(s.BulkTableOffset))
		r.asset.BulkEntries = make([]bulk.Entry, s.BulkEntryCount)
		for i := range r.asset.BulkEntries {
			entry, err := bulk.ReadEntry(src)
			if err != nil {
				return fmt.Errorf("%w: bulk entry %d: %v", ErrCorruptContainer, i, err)
			}
			r.asset.BulkEntries[i] = entry
		}
	}
	if s.AssetRegistryOffset != 0 {
		src := r.section(int64(s.AssetRegistryOffset))
		var length int32
		if err := binary.Read(src, binary.LittleEndian, &length); err != nil {
			return fmt.Errorf("%w: asset registry length: %v", ErrCorruptContainer, err)
		}
		if length < 0 || int64(length) > r.size {
			return fmt.Errorf("%w: asset registry length %d", ErrCorruptContainer, length)
		}
		r.asset.AssetRegistryData = make([]byte, length)
		if _, err := io.ReadFull(src, r.asset.AssetRegistryData); err != nil {
			return fmt.Errorf("%w: asset registry data: %v", ErrCorruptContainer, err)
		}
	}
	return nil
}

// readExportProperties decodes each export's property bag from its serial
// range. A failed export keeps its raw bytes in Extras and records the
// error without aborting siblings.
func (r *reader) readExportProperties() error {
	if err := r.enter(statePerExportProperties); err != nil {
		return err
	}
	codec := r.asset.codec(r.opts)
	for i := range r.asset.Exports {
		e := &r.asset.Exports[i]
		raw := make([]byte, e.SerialSize)
		if _, err := io.ReadFull(r.section(int64(e.SerialOffset)), raw); err != nil {
			e.Err = fmt.Errorf("export %q: read serial range: %w", e.ObjectName, err)
			continue
		}
		br := bytes.NewReader(raw)
		bag, err := codec.ReadBag(br)
		if err != nil {
			e.Err = fmt.Errorf("export %q: %w", e.ObjectName, err)
			e.Properties = nil
			e.Extras = raw
			continue
		}
		e.Properties = bag
		if br.Len() > 0 {
			e.Extras = raw[len(raw)-br.Len():]
		}
	}
	return nil
}
