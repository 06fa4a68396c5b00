package bulk

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionMethod tags how a bulk payload is stored. Values are stable
// wire constants.
type CompressionMethod uint8

const (
	CompressNone CompressionMethod = 0
	CompressZlib CompressionMethod = 1
	CompressZstd CompressionMethod = 2
	CompressLZ4  CompressionMethod = 3
)

func (m CompressionMethod) String() string {
	switch m {
	case CompressNone:
		return "none"
	case CompressZlib:
		return "zlib"
	case CompressZstd:
		return "zstd"
	case CompressLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Compress encodes data with the given method. CompressNone copies.
func Compress(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case CompressNone:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case CompressZlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		return buf.Bytes(), nil
	case CompressZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd compress: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case CompressLZ4:
		var buf bytes.Buffer
		lw := lz4.NewWriter(&buf)
		if _, err := lw.Write(data); err != nil {
			_ = lw.Close()
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := lw.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression method %s", method)
	}
}

// Decompress decodes data stored with the given method.
func Decompress(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case CompressNone:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case CompressZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		raw, err := io.ReadAll(zr)
		if err != nil {
			_ = zr.Close()
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		if err := zr.Close(); err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		return raw, nil
	case CompressZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return raw, nil
	case CompressLZ4:
		raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported compression method %s", method)
	}
}
