package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/odvcencio/uasset/pkg/bulk"
	"github.com/odvcencio/uasset/pkg/names"
	"github.com/odvcencio/uasset/pkg/version"
	"github.com/odvcencio/uasset/pkg/xref"
)

// nameHash is the table hash stored next to each name entry on newer
// containers. It is derived, never read back.
func nameHash(s string) uint32 {
	return crc32.ChecksumIEEE([]byte(strings.ToLower(s)))
}

// Write serializes the asset. Variable-length sections are built in
// buffers first so every offset field in the summary and the export table
// can be patched before anything is emitted.
func (a *Asset) Write(w io.Writer, opts Options) error {
	codec := a.codec(opts)
	a.internNames()
	for i := range a.Exports {
		codec.Intern(a.Exports[i].Properties)
	}

	// Export payloads first: their sizes feed the export table.
	payloads := make([][]byte, len(a.Exports))
	for i := range a.Exports {
		e := &a.Exports[i]
		var buf bytes.Buffer
		if e.Failed() {
			// A failed export still owns its raw serial bytes.
			buf.Write(e.Extras)
		} else {
			if err := codec.WriteBag(&buf, e.Properties); err != nil {
				return fmt.Errorf("export %q: %w", e.ObjectName, err)
			}
			buf.Write(e.Extras)
		}
		payloads[i] = buf.Bytes()
	}

	nameBuf, err := a.buildNameSection()
	if err != nil {
		return err
	}
	importBuf, err := a.buildImportSection()
	if err != nil {
		return err
	}
	dependsBuf, preloadRel, err := a.buildDependsSection()
	if err != nil {
		return err
	}
	versionBuf, err := a.buildCustomVersionSection()
	if err != nil {
		return err
	}
	bulkBuf, err := a.buildBulkSection()
	if err != nil {
		return err
	}
	var registryBuf bytes.Buffer
	if len(a.AssetRegistryData) > 0 {
		binary.Write(&registryBuf, binary.LittleEndian, int32(len(a.AssetRegistryData)))
		registryBuf.Write(a.AssetRegistryData)
	}

	s := &a.Summary
	s.NameCount = int32(a.Names.Len())
	s.ImportCount = int32(len(a.Imports))
	s.ExportCount = int32(len(a.Exports))
	s.CustomVersionCount = int32(a.Versions.Len())
	s.BulkEntryCount = int32(len(a.BulkEntries))
	s.PreloadDependencyCount = int32(len(a.PreloadDependencies))

	headerSize := s.Size()
	s.HeaderSize = uint32(headerSize)
	s.NameOffset = uint32(headerSize)
	s.ImportOffset = s.NameOffset + uint32(nameBuf.Len())
	s.ExportOffset = s.ImportOffset + uint32(importBuf.Len())
	exportTableSize := a.exportTableSize()
	s.DependsOffset = s.ExportOffset + uint32(exportTableSize)
	if len(a.PreloadDependencies) > 0 {
		s.PreloadDependencyOffset = s.DependsOffset + uint32(preloadRel)
	} else {
		s.PreloadDependencyOffset = 0
	}
	s.CustomVersionOffset = s.DependsOffset + uint32(dependsBuf.Len())
	s.BulkTableOffset = s.CustomVersionOffset + uint32(versionBuf.Len())
	if registryBuf.Len() > 0 {
		s.AssetRegistryOffset = s.BulkTableOffset + uint32(bulkBuf.Len())
	} else {
		s.AssetRegistryOffset = 0
	}
	payloadStart := uint64(s.BulkTableOffset) + uint64(bulkBuf.Len()) + uint64(registryBuf.Len())

	// Patch serial ranges in place so the asset stays consistent with the
	// bytes just written.
	offset := payloadStart
	for i := range a.Exports {
		e := &a.Exports[i].ExportEntry
		e.SerialSize = uint64(len(payloads[i]))
		e.SerialOffset = offset
		offset += e.SerialSize
	}
	s.BulkDataStart = int64(offset)

	exportBuf, err := a.buildExportSection()
	if err != nil {
		return err
	}
	if exportBuf.Len() != exportTableSize {
		return fmt.Errorf("export table size drifted: built %d, planned %d", exportBuf.Len(), exportTableSize)
	}

	if err := s.Write(w); err != nil {
		return err
	}
	for _, section := range []*bytes.Buffer{nameBuf, importBuf, exportBuf, dependsBuf, versionBuf, bulkBuf, &registryBuf} {
		if _, err := w.Write(section.Bytes()); err != nil {
			return fmt.Errorf("write section: %w", err)
		}
	}
	for i, payload := range payloads {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write export %d payload: %w", i, err)
		}
	}
	return nil
}

// Bytes serializes the asset into memory.
func (a *Asset) Bytes(opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := a.Write(&buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// internNames pulls every table-level name into the name table before any
// section is serialized.
func (a *Asset) internNames() {
	a.Names.Intern(names.None)
	for _, imp := range a.Imports {
		a.Names.Intern(imp.ClassPackage.Text)
		a.Names.Intern(imp.ClassName.Text)
		a.Names.Intern(imp.ObjectName.Text)
	}
	for i := range a.Exports {
		a.Names.Intern(a.Exports[i].ObjectName.Text)
	}
}

func (a *Asset) buildNameSection() (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	withHashes := a.Summary.ObjectVersion.AtLeast(version.ObjectVersionNameHashes)
	for _, entry := range a.Names.Entries() {
		if err := names.WriteString(buf, entry, false); err != nil {
			return nil, fmt.Errorf("write name entry %q: %w", entry, err)
		}
		if withHashes {
			if err := binary.Write(buf, binary.LittleEndian, nameHash(entry)); err != nil {
				return nil, fmt.Errorf("write name hash: %w", err)
			}
		}
	}
	return buf, nil
}

func (a *Asset) buildImportSection() (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	withGUID := a.Summary.ObjectVersion.AtLeast(version.ObjectVersionImportGUID)
	for i, imp := range a.Imports {
		if err := a.Names.WriteName(buf, imp.ClassPackage); err != nil {
			return nil, fmt.Errorf("import %d class package: %w", i, err)
		}
		if err := a.Names.WriteName(buf, imp.ClassName); err != nil {
			return nil, fmt.Errorf("import %d class name: %w", i, err)
		}
		if err := binary.Write(buf, binary.LittleEndian, imp.OuterIndex); err != nil {
			return nil, fmt.Errorf("import %d outer: %w", i, err)
		}
		if err := a.Names.WriteName(buf, imp.ObjectName); err != nil {
			return nil, fmt.Errorf("import %d object name: %w", i, err)
		}
		if withGUID {
			if err := version.WriteGUID(buf, imp.PackageGUID); err != nil {
				return nil, fmt.Errorf("import %d package guid: %w", i, err)
			}
		}
	}
	return buf, nil
}

// exportTableSize computes the export table's byte length without
// serializing it; serial offsets depend on it.
func (a *Asset) exportTableSize() int {
	withTemplate := a.Summary.ObjectVersion.AtLeast(version.ObjectVersionTemplateIndex)
	serialWidth := 8
	if a.Summary.WideOffsets() {
		serialWidth = 16
	}
	indexCount := 3
	if withTemplate {
		indexCount = 4
	}
	total := 0
	for i := range a.Exports {
		total += indexCount*4 + names.NameSize + 4 + serialWidth + 4 +
			4 + 4*len(a.Exports[i].Dependencies)
	}
	return total
}

func (a *Asset) buildExportSection() (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	withTemplate := a.Summary.ObjectVersion.AtLeast(version.ObjectVersionTemplateIndex)
	wide := a.Summary.WideOffsets()
	for i := range a.Exports {
		e := &a.Exports[i].ExportEntry
		indices := []xref.Index{e.ClassIndex, e.SuperIndex}
		if withTemplate {
			indices = append(indices, e.TemplateIndex)
		}
		indices = append(indices, e.OuterIndex)
		for _, idx := range indices {
			if err := binary.Write(buf, binary.LittleEndian, idx); err != nil {
				return nil, fmt.Errorf("export %d indices: %w", i, err)
			}
		}
		if err := a.Names.WriteName(buf, e.ObjectName); err != nil {
			return nil, fmt.Errorf("export %d object name: %w", i, err)
		}
		if err := binary.Write(buf, binary.LittleEndian, e.ObjectFlags); err != nil {
			return nil, fmt.Errorf("export %d object flags: %w", i, err)
		}
		if err := writeSerialPair(buf, wide, e.SerialSize, e.SerialOffset); err != nil {
			return nil, fmt.Errorf("export %d serial fields: %w", i, err)
		}
		if err := binary.Write(buf, binary.LittleEndian, e.ExportFlags); err != nil {
			return nil, fmt.Errorf("export %d export flags: %w", i, err)
		}
		if err := writeIndexList(buf, e.Dependencies); err != nil {
			return nil, fmt.Errorf("export %d dependencies: %w", i, err)
		}
	}
	return buf, nil
}

func writeSerialPair(w io.Writer, wide bool, size, offset uint64) error {
	if wide {
		return binary.Write(w, binary.LittleEndian, [2]uint64{size, offset})
	}
	return binary.Write(w, binary.LittleEndian, [2]uint32{uint32(size), uint32(offset)})
}

func writeIndexList(w io.Writer, indices []xref.Index) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(indices))); err != nil {
		return err
	}
	if len(indices) == 0 {
		return nil
	}
	return binary.Write(w, binary.LittleEndian, indices)
}

// buildDependsSection serializes the per-export depends lists followed by
// the preload dependency list. preloadRel is the preload list's offset
// within the section.
func (a *Asset) buildDependsSection() (buf *bytes.Buffer, preloadRel int, err error) {
	buf = &bytes.Buffer{}
	for i := range a.Exports {
		var deps []xref.Index
		if i < len(a.Depends) {
			deps = a.Depends[i]
		}
		if err := writeIndexList(buf, deps); err != nil {
			return nil, 0, fmt.Errorf("depends entry %d: %w", i, err)
		}
	}
	preloadRel = buf.Len()
	if len(a.PreloadDependencies) > 0 {
		if err := binary.Write(buf, binary.LittleEndian, a.PreloadDependencies); err != nil {
			return nil, 0, fmt.Errorf("preload dependencies: %w", err)
		}
	}
	return buf, preloadRel, nil
}

func (a *Asset) buildCustomVersionSection() (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	for _, cv := range a.Versions.All() {
		if err := version.WriteGUID(buf, cv.GUID); err != nil {
			return nil, fmt.Errorf("custom version %s guid: %w", cv.GUID, err)
		}
		if err := binary.Write(buf, binary.LittleEndian, cv.Version); err != nil {
			return nil, fmt.Errorf("custom version %s value: %w", cv.GUID, err)
		}
	}
	return buf, nil
}

func (a *Asset) buildBulkSection() (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	for i, entry := range a.BulkEntries {
		if err := bulk.WriteEntry(buf, entry); err != nil {
			return nil, fmt.Errorf("bulk entry %d: %w", i, err)
		}
	}
	return buf, nil
}
