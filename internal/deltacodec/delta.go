// Package deltacodec implements the delta codec collaborator: an index
// built once per source object, a delta creator that reuses that index
// against many possible targets, and the matching apply routine. The wire
// encoding of a delta (variable-length source/target sizes followed by a
// sequence of copy/insert instructions) is git's own pack delta format,
// already present in simplified form in the teacher project's
// internal/packfile/delta.go; this package replaces that project's
// naive O(n*m) longest-match scan with an indexed rolling-checksum lookup
// so CreateIndex is the expensive, cacheable step the sliding window in
// internal/packbuilder expects to amortize across many candidate targets.
package deltacodec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vecpack/packline/internal/packbuilder"
)

const (
	blockSize  = 16
	minCopyLen = blockSize
)

// Index is the source-side structure built once per base object and reused
// against every target considered while that object sits in the sliding
// window.
type Index struct {
	src     []byte
	buckets map[uint32][]int // rolling checksum -> every window start offset in src
}

// CreateIndex builds a lookup table of every blockSize-byte window in src,
// keyed by a rolling checksum. Very small sources (smaller than one block)
// get an empty, harmless index: CreateDelta against them always falls back
// to literal inserts.
func CreateIndex(src []byte) *Index {
	idx := &Index{src: src, buckets: make(map[uint32][]int)}
	if len(src) < blockSize {
		return idx
	}
	sum := adler32Window(src[:blockSize])
	idx.buckets[sum] = append(idx.buckets[sum], 0)
	for i := 1; i+blockSize <= len(src); i++ {
		sum = rollAdler32(sum, src[i-1], src[i+blockSize-1], blockSize)
		idx.buckets[sum] = append(idx.buckets[sum], i)
	}
	return idx
}

// CreateDelta produces a delta encoding trg against the object idx was built
// from. It returns (nil, false) if the copy/insert instructions following
// the two leading size varints would take more than maxSize bytes -- the
// caller (the sliding window search) treats that as "no improvement", not
// an error.
func CreateDelta(idx *Index, trg []byte, maxSize int) ([]byte, bool) {
	var out bytes.Buffer
	writeVarint(&out, uint64(len(idx.src)))
	writeVarint(&out, uint64(len(trg)))
	header := out.Len()

	pos := 0
	literalStart := 0
	flushLiteral := func(end int) {
		for literalStart < end {
			n := end - literalStart
			if n > 127 {
				n = 127
			}
			out.WriteByte(byte(n))
			out.Write(trg[literalStart : literalStart+n])
			literalStart += n
		}
	}

	for pos < len(trg) {
		if pos+blockSize > len(trg) || len(idx.src) < blockSize {
			pos++
			continue
		}
		sum := adler32Window(trg[pos : pos+blockSize])
		candidates := idx.buckets[sum]
		bestLen, bestOff := 0, 0
		for _, off := range candidates {
			l := matchLen(idx.src[off:], trg[pos:])
			if l > bestLen {
				bestLen, bestOff = l, off
			}
		}
		if bestLen < minCopyLen {
			pos++
			continue
		}
		flushLiteral(pos)
		writeCopy(&out, bestOff, bestLen)
		pos += bestLen
		literalStart = pos
		if out.Len()-header > maxSize {
			return nil, false
		}
	}
	flushLiteral(len(trg))

	if out.Len()-header > maxSize {
		return nil, false
	}
	return out.Bytes(), true
}

// Apply reconstructs a target object from a base and a delta produced by
// CreateDelta (or by any encoder using the same wire format).
func Apply(base, delta []byte) ([]byte, error) {
	r := bytes.NewReader(delta)
	srcSize, err := readVarint(r)
	if err != nil {
		return nil, fmt.Errorf("delta: read source size: %w", err)
	}
	if srcSize != uint64(len(base)) {
		return nil, fmt.Errorf("delta: base size mismatch: expected %d, got %d", srcSize, len(base))
	}
	trgSize, err := readVarint(r)
	if err != nil {
		return nil, fmt.Errorf("delta: read target size: %w", err)
	}

	result := make([]byte, 0, trgSize)
	for {
		opByte, err := r.ReadByte()
		if err != nil {
			break
		}
		if opByte == 0 {
			return nil, errors.New("delta: invalid zero opcode")
		}
		if opByte&0x80 == 0 {
			n := int(opByte)
			buf := make([]byte, n)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("delta: short insert payload: %w", err)
			}
			result = append(result, buf...)
			continue
		}
		var offset, size uint32
		for i, bit := range []byte{0x01, 0x02, 0x04, 0x08} {
			if opByte&bit != 0 {
				b, err := r.ReadByte()
				if err != nil {
					return nil, fmt.Errorf("delta: short copy offset: %w", err)
				}
				offset |= uint32(b) << (8 * uint(i))
			}
		}
		for i, bit := range []byte{0x10, 0x20, 0x40} {
			if opByte&bit != 0 {
				b, err := r.ReadByte()
				if err != nil {
					return nil, fmt.Errorf("delta: short copy size: %w", err)
				}
				size |= uint32(b) << (8 * uint(i))
			}
		}
		if size == 0 {
			size = 0x10000
		}
		if uint64(offset)+uint64(size) > uint64(len(base)) {
			return nil, fmt.Errorf("delta: copy out of bounds: offset=%d size=%d base=%d", offset, size, len(base))
		}
		result = append(result, base[offset:offset+size]...)
	}

	if uint64(len(result)) != trgSize {
		return nil, fmt.Errorf("delta: result size mismatch: expected %d, got %d", trgSize, len(result))
	}
	return result, nil
}

func matchLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func writeCopy(out *bytes.Buffer, offset, size int) {
	var offBytes, sizeBytes [4]byte
	offBytes[0] = byte(offset)
	offBytes[1] = byte(offset >> 8)
	offBytes[2] = byte(offset >> 16)
	offBytes[3] = byte(offset >> 24)
	sizeBytes[0] = byte(size)
	sizeBytes[1] = byte(size >> 8)
	sizeBytes[2] = byte(size >> 16)

	op := byte(0x80)
	var payload []byte
	for i := 0; i < 4; i++ {
		if offBytes[i] != 0 {
			op |= 1 << uint(i)
			payload = append(payload, offBytes[i])
		}
	}
	for i := 0; i < 3; i++ {
		if sizeBytes[i] != 0 {
			op |= 1 << uint(4+i)
			payload = append(payload, sizeBytes[i])
		}
	}
	out.WriteByte(op)
	out.Write(payload)
}

func writeVarint(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func readVarint(r *bytes.Reader) (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

// adler32Window computes a basic Adler-32-style rolling checksum over a
// fixed window, good enough as a block fingerprint (real collisions are
// resolved by the direct byte comparison in matchLen).
func adler32Window(block []byte) uint32 {
	var a, b uint32 = 1, 0
	for _, c := range block {
		a += uint32(c)
		b += a
	}
	return a | (b << 16)
}

// rollAdler32 advances a window-based Adler-32 by dropping `out` and adding
// `in`, avoiding a full O(blockSize) recompute per position.
func rollAdler32(prev uint32, out, in byte, windowLen int) uint32 {
	a := prev & 0xFFFF
	b := (prev >> 16) & 0xFFFF
	a = a - uint32(out) + uint32(in)
	b = b - uint32(windowLen)*uint32(out) + a - 1
	return a | (b << 16)
}

// Codec adapts the package's free functions to the pack builder's
// DeltaCodec collaborator interface (CreateIndex/CreateDelta as methods
// taking and returning an opaque index handle), so callers can wire a
// zero-value Codec{} in wherever that interface is expected without the
// core needing to know the concrete Index type.
type Codec struct{}

// CreateIndex builds a source index, returned as an opaque handle.
func (Codec) CreateIndex(src []byte) packbuilder.DeltaIndex {
	return CreateIndex(src)
}

// CreateDelta creates a delta against a handle previously returned by
// CreateIndex. It panics if idx is not such a handle, which would be a
// wiring bug rather than a runtime condition callers need to recover from.
func (Codec) CreateDelta(idx packbuilder.DeltaIndex, trg []byte, maxSize int) ([]byte, bool) {
	return CreateDelta(idx.(*Index), trg, maxSize)
}
