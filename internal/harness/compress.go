package harness

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Supported Compress values.
const (
	CompressDeflate = "deflate"
	CompressGzip    = "gzip"
)

type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

// compressor turns a sequence of chunks into one compressed stream. Every
// chunk ends on a sync flush so the gateway can decode it on arrival; the
// final chunk also carries the stream trailer.
type compressor struct {
	buf bytes.Buffer
	w   flushWriteCloser
}

// newCompressor returns nil for an empty kind.
func newCompressor(kind string) (*compressor, error) {
	c := &compressor{}
	switch strings.ToLower(kind) {
	case "":
		return nil, nil
	case CompressDeflate:
		c.w = zlib.NewWriter(&c.buf)
	case CompressGzip:
		c.w = gzip.NewWriter(&c.buf)
	default:
		return nil, fmt.Errorf("unsupported compression %q", kind)
	}
	return c, nil
}

// Chunk compresses data and returns the bytes to put on the wire. A nil
// compressor passes data through.
func (c *compressor) Chunk(data []byte, final bool) ([]byte, error) {
	if c == nil {
		return data, nil
	}
	if _, err := c.w.Write(data); err != nil {
		return nil, fmt.Errorf("compressing chunk: %w", err)
	}
	var err error
	if final {
		err = c.w.Close()
	} else {
		err = c.w.Flush()
	}
	if err != nil {
		return nil, fmt.Errorf("compressing chunk: %w", err)
	}

	out := bytes.Clone(c.buf.Bytes())
	c.buf.Reset()
	return out, nil
}

// All compresses a whole body at once.
func (c *compressor) All(data []byte) ([]byte, error) {
	return c.Chunk(data, true)
}
