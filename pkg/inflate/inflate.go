// Package inflate decompresses gzip and zstd payloads with zip bomb protection.
package inflate

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Encoding identifies a supported compression format.
type Encoding string

const (
	Identity Encoding = "identity"
	Gzip     Encoding = "gzip"
	Zstd     Encoding = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

var (
	// ErrTooLarge is returned when a limit on input or output size is exceeded.
	ErrTooLarge = errors.New("payload too large")
	// ErrRatio is returned when the expansion ratio suggests a decompression bomb.
	ErrRatio = errors.New("compression ratio exceeds limit")
	// ErrUnsupported is returned for an encoding other than gzip or zstd.
	ErrUnsupported = errors.New("unsupported encoding")
)

// Limits bounds a decompression.
type Limits struct {
	// MaxCompressedSize is the maximum accepted size of the compressed input.
	MaxCompressedSize int64

	// MaxDecompressedSize is the maximum size of the output.
	MaxDecompressedSize int64

	// MaxRatio is the maximum output/input ratio.
	MaxRatio float64
}

// DefaultLimits suit scan reports: 20MB in, 100MB out, 200:1.
func DefaultLimits() Limits {
	return Limits{
		MaxCompressedSize:   20 * 1024 * 1024,
		MaxDecompressedSize: 100 * 1024 * 1024,
		MaxRatio:            200,
	}
}

// Detect sniffs the encoding from magic bytes.
func Detect(data []byte) Encoding {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		return Gzip
	case bytes.HasPrefix(data, zstdMagic):
		return Zstd
	default:
		return Identity
	}
}

// ParseEncoding maps a Content-Encoding header value to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(s); e {
	case "", Identity:
		return Identity, nil
	case Gzip, Zstd:
		return e, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, s)
	}
}

// Auto inflates data if it carries a gzip or zstd header and returns it
// unchanged otherwise.
func Auto(data []byte, limits Limits) ([]byte, error) {
	return Bytes(data, Detect(data), limits)
}

// Bytes decompresses data using the given encoding.
func Bytes(data []byte, enc Encoding, limits Limits) ([]byte, error) {
	if enc == Identity || enc == "" {
		return data, nil
	}
	compressedSize := int64(len(data))
	if limits.MaxCompressedSize > 0 && compressedSize > limits.MaxCompressedSize {
		return nil, fmt.Errorf("%w: compressed size %d exceeds %d", ErrTooLarge, compressedSize, limits.MaxCompressedSize)
	}
	if compressedSize == 0 {
		return []byte{}, nil
	}

	var reader io.Reader
	switch enc {
	case Gzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gr.Close()
		reader = gr
	case Zstd:
		opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
		if limits.MaxDecompressedSize > 0 {
			//nolint:gosec // G115: positive byte count
			opts = append(opts, zstd.WithDecoderMaxMemory(uint64(limits.MaxDecompressedSize)))
		}
		zr, err := zstd.NewReader(bytes.NewReader(data), opts...)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		reader = zr
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, enc)
	}

	return readLimited(reader, compressedSize, limits)
}

// readLimited streams the decompressed output in chunks, checking size and
// ratio as it goes.
func readLimited(r io.Reader, compressedSize int64, limits Limits) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, 64*1024)
	var total int64

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if limits.MaxDecompressedSize > 0 && total > limits.MaxDecompressedSize {
				return nil, fmt.Errorf("%w: decompressed size exceeds %d bytes", ErrTooLarge, limits.MaxDecompressedSize)
			}
			if limits.MaxRatio > 0 && float64(total)/float64(compressedSize) > limits.MaxRatio {
				return nil, fmt.Errorf("%w: %.1f > %.1f", ErrRatio, float64(total)/float64(compressedSize), limits.MaxRatio)
			}
			out.Write(buf[:n])
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("decompress: %w", readErr)
		}
	}
	return out.Bytes(), nil
}
