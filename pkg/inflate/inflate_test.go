package inflate

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestDetect(t *testing.T) {
	plain := []byte(`<?xml version="1.0"?><nmaprun/>`)

	assert.Equal(t, Identity, Detect(plain))
	assert.Equal(t, Gzip, Detect(gzipBytes(t, plain)))
	assert.Equal(t, Zstd, Detect(zstdBytes(t, plain)))
	assert.Equal(t, Identity, Detect(nil))
}

func TestAuto_RoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"ip":"10.0.0.1"}`, 20))

	tests := []struct {
		name string
		in   []byte
	}{
		{"plain", payload},
		{"gzip", gzipBytes(t, payload)},
		{"zstd", zstdBytes(t, payload)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Auto(tt.in, DefaultLimits())
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestBytes_RejectsBomb(t *testing.T) {
	bomb := gzipBytes(t, bytes.Repeat([]byte{'A'}, 4*1024*1024))

	_, err := Bytes(bomb, Gzip, Limits{MaxDecompressedSize: 100 * 1024 * 1024, MaxRatio: 50})
	assert.ErrorIs(t, err, ErrRatio)
}

func TestBytes_RejectsOversizedOutput(t *testing.T) {
	data := gzipBytes(t, bytes.Repeat([]byte("abcdefgh"), 64*1024))

	_, err := Bytes(data, Gzip, Limits{MaxDecompressedSize: 1024})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestBytes_RejectsOversizedInput(t *testing.T) {
	data := gzipBytes(t, []byte("hello"))

	_, err := Bytes(data, Gzip, Limits{MaxCompressedSize: 4})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestParseEncoding(t *testing.T) {
	enc, err := ParseEncoding("")
	require.NoError(t, err)
	assert.Equal(t, Identity, enc)

	enc, err = ParseEncoding("zstd")
	require.NoError(t, err)
	assert.Equal(t, Zstd, enc)

	_, err = ParseEncoding("br")
	assert.ErrorIs(t, err, ErrUnsupported)
}
