// Package bulk manages the large payloads an asset container stores outside
// its compact property stream: raw buffers kept inline in the file or in a
// sibling stream, optionally compressed. A bounded LRU cache holds recently
// decompressed payloads; the cache is an optimization only and results are
// identical whether or not an entry happens to be cached.
package bulk

import (
	"encoding/binary"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry flags.
const (
	// FlagCompressed marks a payload stored compressed.
	FlagCompressed uint32 = 1 << 0
	// FlagInline marks a payload stored inline in the container rather
	// than in a sibling stream.
	FlagInline uint32 = 1 << 3
	// FlagSeparateFile marks a payload stored in a sibling stream.
	FlagSeparateFile uint32 = 1 << 2
)

// Entry locates one bulk payload.
type Entry struct {
	Flags            uint32
	UncompressedSize int64
	CompressedSize   int64
	Offset           int64
	Method           CompressionMethod

	// Payload holds the stored (possibly compressed) bytes for inline
	// entries; nil for sibling-stream entries.
	Payload []byte
}

// Inline reports whether the payload is stored inside the container.
func (e Entry) Inline() bool { return e.Flags&FlagInline != 0 }

// Compressed reports whether the stored payload needs decompression.
func (e Entry) Compressed() bool { return e.Flags&FlagCompressed != 0 }

// entry wire layout: u32 flags, i64 uncompressed, i64 compressed,
// i64 offset, u8 method, then the payload bytes for inline entries.

// ReadEntry decodes one preamble entry.
func ReadEntry(r io.Reader) (Entry, error) {
	var e Entry
	if err := binary.Read(r, binary.LittleEndian, &e.Flags); err != nil {
		return Entry{}, fmt.Errorf("read bulk entry flags: %w", err)
	}
	for _, field := range []*int64{&e.UncompressedSize, &e.CompressedSize, &e.Offset} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return Entry{}, fmt.Errorf("read bulk entry sizes: %w", err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &e.Method); err != nil {
		return Entry{}, fmt.Errorf("read bulk entry method: %w", err)
	}
	if e.UncompressedSize < 0 || e.CompressedSize < 0 {
		return Entry{}, fmt.Errorf("negative bulk entry size (%d/%d)", e.UncompressedSize, e.CompressedSize)
	}
	if e.Inline() {
		// The declared size is untrusted; a limited reader keeps a
		// corrupt entry from forcing a giant up-front allocation.
		payload, err := io.ReadAll(io.LimitReader(r, e.CompressedSize))
		if err != nil {
			return Entry{}, fmt.Errorf("read inline bulk payload: %w", err)
		}
		if int64(len(payload)) != e.CompressedSize {
			return Entry{}, fmt.Errorf("read inline bulk payload: %w", io.ErrUnexpectedEOF)
		}
		e.Payload = payload
	}
	return e, nil
}

// WriteEntry encodes one preamble entry, including the inline payload when
// present.
func WriteEntry(w io.Writer, e Entry) error {
	if err := binary.Write(w, binary.LittleEndian, e.Flags); err != nil {
		return fmt.Errorf("write bulk entry flags: %w", err)
	}
	for _, field := range []int64{e.UncompressedSize, e.CompressedSize, e.Offset} {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("write bulk entry sizes: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, e.Method); err != nil {
		return fmt.Errorf("write bulk entry method: %w", err)
	}
	if e.Inline() {
		if int64(len(e.Payload)) != e.CompressedSize {
			return fmt.Errorf("inline bulk payload is %d bytes, entry says %d", len(e.Payload), e.CompressedSize)
		}
		if _, err := w.Write(e.Payload); err != nil {
			return fmt.Errorf("write inline bulk payload: %w", err)
		}
	}
	return nil
}

// EntrySize returns the encoded byte count of e, including inline payload.
func EntrySize(e Entry) int {
	n := 4 + 8 + 8 + 8 + 1
	if e.Inline() {
		n += len(e.Payload)
	}
	return n
}

// DefaultCacheSize is the default number of decompressed payloads kept.
const DefaultCacheSize = 16

type cacheKey struct {
	offset int64
	size   int64
	inline bool
}

// Manager reads and writes bulk payloads with a bounded decompression
// cache. Methods are safe for concurrent use from multiple in-flight asset
// reads; the cache serializes access internally.
type Manager struct {
	cache *lru.Cache[cacheKey, []byte]
}

// NewManager returns a manager whose cache holds capacity payloads;
// capacity <= 0 uses DefaultCacheSize.
func NewManager(capacity int) (*Manager, error) {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, []byte](capacity)
	if err != nil {
		return nil, fmt.Errorf("bulk cache: %w", err)
	}
	return &Manager{cache: cache}, nil
}

func (e Entry) key() cacheKey {
	return cacheKey{offset: e.Offset, size: e.CompressedSize, inline: e.Inline()}
}

// Read returns the decompressed payload for entry, reading sibling-stream
// entries from src at their recorded offset. Cached results are copied so
// callers may mutate the returned slice.
func (m *Manager) Read(entry Entry, src io.ReaderAt) ([]byte, error) {
	if data, ok := m.cache.Get(entry.key()); ok {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	var stored []byte
	if entry.Inline() {
		stored = entry.Payload
	} else {
		if src == nil {
			return nil, fmt.Errorf("bulk entry at offset %d needs a source stream", entry.Offset)
		}
		stored = make([]byte, entry.CompressedSize)
		if _, err := src.ReadAt(stored, entry.Offset); err != nil {
			return nil, fmt.Errorf("read bulk payload at %d: %w", entry.Offset, err)
		}
	}

	method := entry.Method
	if !entry.Compressed() {
		method = CompressNone
	}
	data, err := Decompress(stored, method)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != entry.UncompressedSize {
		return nil, fmt.Errorf("bulk payload decompressed to %d bytes, entry says %d", len(data), entry.UncompressedSize)
	}

	m.cache.Add(entry.key(), data)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write compresses data with method and appends it to w, returning the
// entry that locates it. The destination's current offset is recorded so
// a later Read against the same stream finds the payload.
func (m *Manager) Write(w io.WriteSeeker, data []byte, method CompressionMethod) (Entry, error) {
	offset, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return Entry{}, fmt.Errorf("bulk write offset: %w", err)
	}
	stored, err := Compress(data, method)
	if err != nil {
		return Entry{}, err
	}
	if _, err := w.Write(stored); err != nil {
		return Entry{}, fmt.Errorf("write bulk payload: %w", err)
	}

	entry := Entry{
		Flags:            FlagSeparateFile,
		UncompressedSize: int64(len(data)),
		CompressedSize:   int64(len(stored)),
		Offset:           offset,
		Method:           method,
	}
	if method != CompressNone {
		entry.Flags |= FlagCompressed
	}
	return entry, nil
}

// WriteInline compresses data with method and returns an entry carrying
// the payload itself, for storage in the container's preamble.
func WriteInline(data []byte, method CompressionMethod) (Entry, error) {
	stored, err := Compress(data, method)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		Flags:            FlagInline,
		UncompressedSize: int64(len(data)),
		CompressedSize:   int64(len(stored)),
		Method:           method,
		Payload:          stored,
	}
	if method != CompressNone {
		entry.Flags |= FlagCompressed
	}
	return entry, nil
}

// CacheLen returns the number of cached payloads.
func (m *Manager) CacheLen() int {
	return m.cache.Len()
}
