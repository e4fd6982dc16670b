package packbuilder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// BufferSink is the in-memory Sink adapter backing write_to_buffer.
type BufferSink struct {
	buf *bytes.Buffer
}

// NewBufferSink wraps buf (appending to whatever it already holds).
func NewBufferSink(buf *bytes.Buffer) *BufferSink {
	return &BufferSink{buf: buf}
}

func (s *BufferSink) Write(p []byte) error {
	_, err := s.buf.Write(p)
	return err
}

// NetworkSink adapts any io.Writer transport (a connection, an HTTP
// request body writer, ...) to the Sink interface; it is a thin pass
// through since a transport failure is already a hard error the core
// treats as IO.
type NetworkSink struct {
	w io.Writer
}

// NewNetworkSink wraps an arbitrary transport writer.
func NewNetworkSink(w io.Writer) *NetworkSink {
	return &NetworkSink{w: w}
}

func (s *NetworkSink) Write(p []byte) error {
	_, err := s.w.Write(p)
	return err
}

// FileSink is the atomic-publish file Sink: bytes land in a staging file
// named with a random uuid alongside the destination, and are only
// renamed into place once the whole stream has been written without
// error; any failure removes the staging file so a half-written pack is
// never left where a reader would find it.
type FileSink struct {
	dest    string
	staging string
	f       *os.File
	failed  bool
}

// NewFileSink opens a staging file next to dest, ready to receive bytes.
func NewFileSink(dest string) (*FileSink, error) {
	dir := filepath.Dir(dest)
	staging := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(dest), uuid.NewString()))
	f, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("packbuilder: create staging file: %w", err)
	}
	return &FileSink{dest: dest, staging: staging, f: f}, nil
}

func (s *FileSink) Write(p []byte) error {
	if _, err := s.f.Write(p); err != nil {
		s.failed = true
		return err
	}
	return nil
}

// Commit renames the staging file into place on success, or removes it on
// failure. Call it exactly once after the write phase returns.
func (s *FileSink) Commit(writeErr error) error {
	closeErr := s.f.Close()
	if writeErr != nil || s.failed || closeErr != nil {
		os.Remove(s.staging)
		if writeErr != nil {
			return writeErr
		}
		return closeErr
	}
	if err := os.Rename(s.staging, s.dest); err != nil {
		os.Remove(s.staging)
		return fmt.Errorf("packbuilder: finalize pack file: %w", err)
	}
	return nil
}
