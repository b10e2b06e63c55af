package protocol

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Shared zstd coders; both are safe for concurrent use via EncodeAll and
// DecodeAll.
var (
	zstdEncoder = mustZstdEncoder()
	zstdDecoder = mustZstdDecoder()
)

func mustZstdEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("zstd encoder init: %v", err))
	}
	return enc
}

func mustZstdDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd decoder init: %v", err))
	}
	return dec
}

// Compress compresses data with the given algorithm. CompressionNone returns
// the input unchanged.
func Compress(alg Compression, data []byte) ([]byte, error) {
	switch alg {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip compress failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip compress failed: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", alg)
	}
}

// Decompress reverses Compress for the given algorithm.
func Decompress(alg Compression, data []byte) ([]byte, error) {
	switch alg {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress failed: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress failed: %w", err)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress failed: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", alg)
	}
}
