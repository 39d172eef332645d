package container

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression names one of the fixed array compression presets.
type Compression string

const (
	CompressionZstd Compression = "zstd"
	CompressionZlib Compression = "zlib"
	CompressionNone Compression = "none"
)

// Valid reports whether c is a known preset.
func (c Compression) Valid() bool {
	switch c {
	case CompressionZstd, CompressionZlib, CompressionNone:
		return true
	}
	return false
}

// ParseCompression maps a preset name to a Compression. The empty string
// selects the default.
func ParseCompression(s string) (Compression, error) {
	if s == "" {
		return CompressionZstd, nil
	}
	c := Compression(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown compression preset %q (want zstd, zlib or none)", s)
	}
	return c, nil
}

// Encoders are stateless for EncodeAll/DecodeAll and safe to share.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

func compress(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	case CompressionZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression preset %q", c)
}

func decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return dec.DecodeAll(data, nil)
	case CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("unknown compression preset %q", c)
}
