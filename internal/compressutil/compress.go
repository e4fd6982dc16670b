// Package compressutil adapts klauspost/compress/flate as the generic
// deflate-style compressor the pack writer treats as an external
// collaborator: compress(bytes) -> bytes, plus the matching reader used by
// anything that needs to decompress a payload back (e.g. re-verifying a
// cached delta, or an eventual unpack command).
package compressutil

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// Compressor produces deflate streams at a fixed level.
type Compressor struct {
	level int
}

// New returns a Compressor at the given flate level; a level of 0 selects
// klauspost's best-compromise default level.
func New(level int) *Compressor {
	if level == 0 {
		level = flate.DefaultCompression
	}
	return &Compressor{level: level}
}

// Compress deflates src and returns the compressed stream.
func (c *Compressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress inflates a deflate stream produced by Compress.
func Decompress(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	return io.ReadAll(r)
}
