// Package hashutil wraps the cryptographic hash accumulator used to compute
// object ids and the trailing pack checksum. It exists so the pack builder
// only ever talks to a small Update/Sum interface instead of importing a
// hash package directly.
package hashutil

import "crypto/sha1"

// Accumulator matches the "update/finalize" collaborator from the spec: bytes
// are fed in incrementally and the final 20-byte digest is read once.
type Accumulator struct {
	h [20]byte
	s interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
		Reset()
	}
}

// New returns a fresh accumulator with no bytes consumed.
func New() *Accumulator {
	return &Accumulator{s: sha1.New()}
}

// Update feeds more bytes into the running hash.
func (a *Accumulator) Update(p []byte) {
	a.s.Write(p)
}

// Sum finalizes the hash and returns the 20-byte digest. The accumulator
// must not be reused after Sum is called.
func (a *Accumulator) Sum() [20]byte {
	var out [20]byte
	copy(out[:], a.s.Sum(nil))
	return out
}

// Of is a convenience one-shot hash over kind-tagged content, used by the
// object store to derive an object's id from "<kind> <size>\0<data>".
func Of(header, data []byte) [20]byte {
	h := sha1.New()
	h.Write(header)
	h.Write(data)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}
