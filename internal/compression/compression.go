// Package compression encodes batch delivery bodies.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type string

const (
	// TypeNone means no compression.
	TypeNone Type = "none"
	// TypeGzip uses gzip compression.
	TypeGzip Type = "gzip"
	// TypeZstd uses zstd compression.
	TypeZstd Type = "zstd"
	// TypeSnappy uses snappy block compression.
	TypeSnappy Type = "snappy"
	// TypeLZ4 uses lz4 frame compression.
	TypeLZ4 Type = "lz4"
)

// Level represents an algorithm-specific compression level. Zero selects the
// algorithm default.
type Level int

// LevelDefault uses the default compression level for the algorithm.
const LevelDefault Level = 0

// Config holds compression configuration.
type Config struct {
	Type  Type
	Level Level
}

var (
	zstdEncoderGets atomic.Int64
	zstdEncoderNews atomic.Int64
	bytesIn         atomic.Int64
	bytesOut        atomic.Int64
)

// zstdEncoders pools default-level encoders; EncodeAll is safe for
// concurrent use but encoders are costly to create.
var zstdEncoders = sync.Pool{
	New: func() any {
		zstdEncoderNews.Add(1)
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	},
}

// ParseType parses a compression type string.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TypeNone, nil
	case "gzip":
		return TypeGzip, nil
	case "zstd":
		return TypeZstd, nil
	case "snappy":
		return TypeSnappy, nil
	case "lz4":
		return TypeLZ4, nil
	default:
		return TypeNone, fmt.Errorf("unsupported compression type: %s", s)
	}
}

// ContentEncoding returns the HTTP Content-Encoding header value, or "" for
// no compression.
func (t Type) ContentEncoding() string {
	switch t {
	case TypeGzip, TypeZstd, TypeSnappy, TypeLZ4:
		return string(t)
	default:
		return ""
	}
}

// ParseContentEncoding maps a Content-Encoding header value to a Type.
func ParseContentEncoding(encoding string) Type {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		return TypeGzip
	case "zstd":
		return TypeZstd
	case "snappy":
		return TypeSnappy
	case "lz4":
		return TypeLZ4
	default:
		return TypeNone
	}
}

// Compress compresses data using the configured algorithm.
func Compress(data []byte, cfg Config) ([]byte, error) {
	if cfg.Type == TypeNone || cfg.Type == "" {
		return data, nil
	}

	var (
		out []byte
		err error
	)
	switch cfg.Type {
	case TypeGzip:
		out, err = compressGzip(data, cfg.Level)
	case TypeZstd:
		out, err = compressZstd(data, cfg.Level)
	case TypeSnappy:
		out = snappy.Encode(nil, data)
	case TypeLZ4:
		out, err = compressLZ4(data, cfg.Level)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	bytesIn.Add(int64(len(data)))
	bytesOut.Add(int64(len(out)))
	return out, nil
}

// Decompress reverses Compress.
func Decompress(data []byte, t Type) ([]byte, error) {
	switch t {
	case TypeNone, "":
		return data, nil
	case TypeGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case TypeZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case TypeSnappy:
		return snappy.Decode(nil, data)
	case TypeLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func compressGzip(data []byte, level Level) ([]byte, error) {
	gzLevel := gzip.DefaultCompression
	if level != LevelDefault {
		gzLevel = int(level)
	}
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func compressZstd(data []byte, level Level) ([]byte, error) {
	if level == LevelDefault {
		zstdEncoderGets.Add(1)
		enc := zstdEncoders.Get().(*zstd.Encoder)
		defer zstdEncoders.Put(enc)
		return enc.EncodeAll(data, nil), nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(int(level))))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func compressLZ4(data []byte, level Level) ([]byte, error) {
	var buf bytes.Buffer
	lw := lz4.NewWriter(&buf)
	if level < LevelDefault || level > 9 {
		return nil, fmt.Errorf("invalid lz4 level %d", level)
	}
	if level != LevelDefault {
		// lz4 levels 1..9 are the bit flags 1<<8 .. 1<<16.
		if err := lw.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(1 << (7 + level)))); err != nil {
			return nil, fmt.Errorf("invalid lz4 level %d: %w", level, err)
		}
	}
	if _, err := lw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write lz4 data: %w", err)
	}
	if err := lw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close lz4 writer: %w", err)
	}
	return buf.Bytes(), nil
}
