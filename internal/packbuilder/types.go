// Package packbuilder is the core of the pack builder: the delta-selection
// heuristic, the parallel work partitioning that runs it across workers,
// the write-order computation, and the streaming pack writer. Everything
// else (the backing store, compression, the delta codec, hashing, sinks)
// is injected through the interfaces in this file, so the core imports no
// concrete store, compressor, delta codec or hash implementation.
package packbuilder

import (
	"fmt"

	"github.com/vecpack/packline/internal/objmodel"
)

// ObjectID is the fixed-width content hash every object is addressed by.
type ObjectID = objmodel.ID

// Kind is one of commit/tree/blob/tag.
type Kind = objmodel.Kind

// ObjectStore is the backing store collaborator: read(hash) -> {kind, size,
// bytes}. Implementations may be disk-backed, in-memory, or remote; the
// core only ever calls Read.
type ObjectStore interface {
	Read(id ObjectID) (kind Kind, size int64, data []byte, err error)
}

// Compressor is the generic deflate-style compressor collaborator.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
}

// DeltaCodec is the delta codec collaborator: an index built once per
// source and a delta creator reusing that index. The matching apply
// routine is not part of this interface; the core never applies deltas,
// and round-trip tests call deltacodec.Apply directly.
type DeltaCodec interface {
	CreateIndex(src []byte) DeltaIndex
	CreateDelta(idx DeltaIndex, trg []byte, maxSize int) (delta []byte, ok bool)
}

// DeltaIndex is an opaque source-side index handle.
type DeltaIndex interface{}

// HashAccumulator is the cryptographic hash accumulator collaborator used to
// compute the pack trailer.
type HashAccumulator interface {
	Update(p []byte)
	Sum() [20]byte
}

// Sink is the byte-sink collaborator: send(transport), write-to-buffer, and
// write-to-file all eventually call Write. A negative/error return is a
// hard failure and aborts the operation.
type Sink interface {
	Write(p []byte) error
}

// ErrorKind enumerates the error categories spec.md §7 names.
type ErrorKind int

const (
	ErrStoreRead ErrorKind = iota + 1
	ErrInvariant
	ErrAlloc
	ErrIO
	ErrThread
	ErrConfig
)

func (k ErrorKind) String() string {
	switch k {
	case ErrStoreRead:
		return "STORE-READ"
	case ErrInvariant:
		return "INVARIANT"
	case ErrAlloc:
		return "ALLOC"
	case ErrIO:
		return "IO"
	case ErrThread:
		return "THREAD"
	case ErrConfig:
		return "CONFIG"
	default:
		return "UNKNOWN"
	}
}

// Error is the typed error the builder returns, mirroring the teacher
// project's typed-error style (cmd/errors.go's ErrRepositoryExists etc.)
// rather than sentinel values, so callers can branch on Kind while %w
// wrapping still works.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("packbuilder: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("packbuilder: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
