// Package archive reads and writes whole containers: the package summary,
// the section tables, and per-export property streams, driven by a strictly
// sequential state machine in both directions.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/odvcencio/uasset/pkg/names"
	"github.com/odvcencio/uasset/pkg/version"
)

// Magic opens every container.
const Magic uint32 = 0x9E2A83C1

// maxLegacyVersion is the newest legacy file version this codec accepts.
// Legacy versions grow downward.
const maxLegacyVersion int32 = -5

var (
	ErrCorruptContainer   = errors.New("corrupt container")
	ErrUnsupportedVersion = errors.New("unsupported container version")
)

// FlagEventDrivenLoader widens export serial size/offset fields to 64 bits.
const FlagEventDrivenLoader uint32 = 0x20000000

// Generation is one entry of the summary's generation history.
type Generation struct {
	ExportCount int32
	NameCount   int32
}

// Summary is the container header. Counts and offsets are recomputed on
// write; the remaining fields round-trip as read.
type Summary struct {
	LegacyVersion    int32
	LegacyUE3Version int32
	ObjectVersion    version.ObjectVersion
	ObjectVersionUE5 version.ObjectVersion
	HeaderSize       uint32
	FolderName       string
	PackageFlags     uint32

	NameCount    int32
	NameOffset   uint32
	ExportCount  int32
	ExportOffset uint32
	ImportCount  int32
	ImportOffset uint32

	DependsOffset       uint32
	CustomVersionCount  int32
	CustomVersionOffset uint32

	GUID        uuid.UUID
	Generations []Generation

	SavedBy        version.Release
	CompatibleWith version.Release

	CompressionFlags    uint32
	AssetRegistryOffset uint32
	BulkDataStart       int64
	BulkEntryCount      int32
	BulkTableOffset     uint32

	ChunkIDs []int32

	PreloadDependencyCount  int32
	PreloadDependencyOffset uint32
}

// WideOffsets reports whether export serial fields are 64-bit.
func (s *Summary) WideOffsets() bool {
	return s.PackageFlags&FlagEventDrivenLoader != 0
}

// ReadSummary reads and sanity-checks the header. size is the total stream
// length, used to bound offsets.
func ReadSummary(r io.Reader, size int64) (*Summary, error) {
	var tag uint32
	if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
		return nil, fmt.Errorf("read tag: %w", err)
	}
	if tag != Magic {
		return nil, fmt.Errorf("%w: tag 0x%08X", ErrCorruptContainer, tag)
	}
	s := &Summary{}
	if err := binary.Read(r, binary.LittleEndian, &s.LegacyVersion); err != nil {
		return nil, fmt.Errorf("read legacy version: %w", err)
	}
	if s.LegacyVersion > maxLegacyVersion {
		return nil, fmt.Errorf("%w: legacy version %d", ErrUnsupportedVersion, s.LegacyVersion)
	}
	for _, field := range []any{&s.LegacyUE3Version, &s.ObjectVersion, &s.ObjectVersionUE5, &s.HeaderSize} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("read summary versions: %w", err)
		}
	}
	var err error
	if s.FolderName, _, err = names.ReadString(r); err != nil {
		return nil, fmt.Errorf("read folder name: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.PackageFlags); err != nil {
		return nil, fmt.Errorf("read package flags: %w", err)
	}
	counts := []struct {
		count  *int32
		offset *uint32
	}{
		{&s.NameCount, &s.NameOffset},
		{&s.ExportCount, &s.ExportOffset},
		{&s.ImportCount, &s.ImportOffset},
	}
	for _, c := range counts {
		if err := binary.Read(r, binary.LittleEndian, c.count); err != nil {
			return nil, fmt.Errorf("read table count: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, c.offset); err != nil {
			return nil, fmt.Errorf("read table offset: %w", err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &s.DependsOffset); err != nil {
		return nil, fmt.Errorf("read depends offset: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.CustomVersionCount); err != nil {
		return nil, fmt.Errorf("read custom version count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.CustomVersionOffset); err != nil {
		return nil, fmt.Errorf("read custom version offset: %w", err)
	}
	if s.GUID, err = version.ReadGUID(r); err != nil {
		return nil, fmt.Errorf("read package guid: %w", err)
	}
	var genCount int32
	if err := binary.Read(r, binary.LittleEndian, &genCount); err != nil {
		return nil, fmt.Errorf("read generation count: %w", err)
	}
	if genCount < 0 {
		return nil, fmt.Errorf("%w: generation count %d", ErrCorruptContainer, genCount)
	}
	s.Generations = make([]Generation, genCount)
	for i := range s.Generations {
		if err := binary.Read(r, binary.LittleEndian, &s.Generations[i]); err != nil {
			return nil, fmt.Errorf("read generation %d: %w", i, err)
		}
	}
	if s.SavedBy, err = readRelease(r); err != nil {
		return nil, fmt.Errorf("read saved-by version: %w", err)
	}
	if s.CompatibleWith, err = readRelease(r); err != nil {
		return nil, fmt.Errorf("read compatible-with version: %w", err)
	}
	for _, field := range []any{&s.CompressionFlags, &s.AssetRegistryOffset, &s.BulkDataStart, &s.BulkEntryCount, &s.BulkTableOffset} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("read summary tail: %w", err)
		}
	}
	var chunkCount int32
	if err := binary.Read(r, binary.LittleEndian, &chunkCount); err != nil {
		return nil, fmt.Errorf("read chunk count: %w", err)
	}
	if chunkCount < 0 {
		return nil, fmt.Errorf("%w: chunk count %d", ErrCorruptContainer, chunkCount)
	}
	s.ChunkIDs = make([]int32, chunkCount)
	if chunkCount > 0 {
		if err := binary.Read(r, binary.LittleEndian, s.ChunkIDs); err != nil {
			return nil, fmt.Errorf("read chunk ids: %w", err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &s.PreloadDependencyCount); err != nil {
		return nil, fmt.Errorf("read preload dependency count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.PreloadDependencyOffset); err != nil {
		return nil, fmt.Errorf("read preload dependency offset: %w", err)
	}
	if err := s.validate(size); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Summary) validate(size int64) error {
	for _, c := range []struct {
		name  string
		count int32
	}{
		{"name", s.NameCount},
		{"export", s.ExportCount},
		{"import", s.ImportCount},
		{"custom version", s.CustomVersionCount},
		{"bulk entry", s.BulkEntryCount},
		{"preload dependency", s.PreloadDependencyCount},
	} {
		if c.count < 0 {
			return fmt.Errorf("%w: negative %s count %d", ErrCorruptContainer, c.name, c.count)
		}
	}
	for _, o := range []struct {
		name   string
		offset uint32
	}{
		{"name", s.NameOffset},
		{"export", s.ExportOffset},
		{"import", s.ImportOffset},
		{"depends", s.DependsOffset},
		{"custom version", s.CustomVersionOffset},
		{"bulk table", s.BulkTableOffset},
		{"asset registry", s.AssetRegistryOffset},
		{"preload dependency", s.PreloadDependencyOffset},
	} {
		if int64(o.offset) > size {
			return fmt.Errorf("%w: %s offset %d beyond stream size %d", ErrCorruptContainer, o.name, o.offset, size)
		}
	}
	if s.BulkDataStart < 0 || s.BulkDataStart > size {
		return fmt.Errorf("%w: bulk data start %d beyond stream size %d", ErrCorruptContainer, s.BulkDataStart, size)
	}
	return nil
}

// Write emits the header.
func (s *Summary) Write(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, Magic); err != nil {
		return fmt.Errorf("write tag: %w", err)
	}
	for _, field := range []any{s.LegacyVersion, s.LegacyUE3Version, s.ObjectVersion, s.ObjectVersionUE5, s.HeaderSize} {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("write summary versions: %w", err)
		}
	}
	if err := names.WriteString(w, s.FolderName, false); err != nil {
		return fmt.Errorf("write folder name: %w", err)
	}
	for _, field := range []any{
		s.PackageFlags,
		s.NameCount, s.NameOffset,
		s.ExportCount, s.ExportOffset,
		s.ImportCount, s.ImportOffset,
		s.DependsOffset,
		s.CustomVersionCount, s.CustomVersionOffset,
	} {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("write table fields: %w", err)
		}
	}
	if err := version.WriteGUID(w, s.GUID); err != nil {
		return fmt.Errorf("write package guid: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(s.Generations))); err != nil {
		return fmt.Errorf("write generation count: %w", err)
	}
	for _, g := range s.Generations {
		if err := binary.Write(w, binary.LittleEndian, g); err != nil {
			return fmt.Errorf("write generation: %w", err)
		}
	}
	if err := writeRelease(w, s.SavedBy); err != nil {
		return fmt.Errorf("write saved-by version: %w", err)
	}
	if err := writeRelease(w, s.CompatibleWith); err != nil {
		return fmt.Errorf("write compatible-with version: %w", err)
	}
	for _, field := range []any{s.CompressionFlags, s.AssetRegistryOffset, s.BulkDataStart, s.BulkEntryCount, s.BulkTableOffset} {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("write summary tail: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(s.ChunkIDs))); err != nil {
		return fmt.Errorf("write chunk count: %w", err)
	}
	if len(s.ChunkIDs) > 0 {
		if err := binary.Write(w, binary.LittleEndian, s.ChunkIDs); err != nil {
			return fmt.Errorf("write chunk ids: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, s.PreloadDependencyCount); err != nil {
		return fmt.Errorf("write preload dependency count: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, s.PreloadDependencyOffset); err != nil {
		return fmt.Errorf("write preload dependency offset: %w", err)
	}
	return nil
}

// Size returns the serialized header length in bytes.
func (s *Summary) Size() int {
	n := 4 + // tag
		4*4 + // legacy pair + object version pair
		4 + // header size
		names.StringSize(s.FolderName, false) +
		4 + // package flags
		3*8 + // name/export/import count+offset
		4 + // depends offset
		8 + // custom version count+offset
		version.GUIDSize +
		4 + len(s.Generations)*8 +
		releaseSize(s.SavedBy) +
		releaseSize(s.CompatibleWith) +
		4 + 4 + 8 + // compression flags, registry offset, bulk start
		8 + // bulk count+offset
		4 + len(s.ChunkIDs)*4 +
		8 // preload count+offset
	return n
}

func readRelease(r io.Reader) (version.Release, error) {
	var rel version.Release
	for _, field := range []any{&rel.Major, &rel.Minor, &rel.Patch, &rel.Changelist} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return rel, err
		}
	}
	var err error
	rel.Branch, _, err = names.ReadString(r)
	return rel, err
}

func writeRelease(w io.Writer, rel version.Release) error {
	for _, field := range []any{rel.Major, rel.Minor, rel.Patch, rel.Changelist} {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return names.WriteString(w, rel.Branch, false)
}

func releaseSize(rel version.Release) int {
	return 2 + 2 + 2 + 4 + names.StringSize(rel.Branch, false)
}
