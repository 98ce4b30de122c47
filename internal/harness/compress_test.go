package harness

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressor_NilPassesThrough(t *testing.T) {
	c, err := newCompressor("")
	require.NoError(t, err)
	assert.Nil(t, c)

	out, err := c.Chunk([]byte("plain"), true)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), out)
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := newCompressor("lz4")
	assert.Error(t, err)
}

func TestCompressor_ChunksFormOneStream(t *testing.T) {
	readers := map[string]func(io.Reader) (io.ReadCloser, error){
		CompressDeflate: func(r io.Reader) (io.ReadCloser, error) { return zlib.NewReader(r) },
		CompressGzip:    func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) },
	}

	for kind, newReader := range readers {
		t.Run(kind, func(t *testing.T) {
			c, err := newCompressor(kind)
			require.NoError(t, err)

			var wire bytes.Buffer
			parts := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}
			for i, p := range parts {
				out, err := c.Chunk([]byte(p), i == len(parts)-1)
				require.NoError(t, err)
				assert.NotEmpty(t, out)
				wire.Write(out)
			}

			r, err := newReader(&wire)
			require.NoError(t, err)
			decoded, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}{"b":2}{"c":3}`, string(decoded))
		})
	}
}

func TestCompressor_FlushedChunkDecodesAlone(t *testing.T) {
	c, err := newCompressor(CompressDeflate)
	require.NoError(t, err)

	first, err := c.Chunk([]byte(`{"a":1}`), false)
	require.NoError(t, err)

	r, err := zlib.NewReader(bytes.NewReader(first))
	require.NoError(t, err)
	buf := make([]byte, 7)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(buf))
}
