package packbuilder

import (
	"encoding/binary"
	"fmt"

	"github.com/vecpack/packline/internal/objmodel"
)

const (
	packSignature = "PACK"
	packVersion   = 2

	typeCommit   = 1
	typeTree     = 2
	typeBlob     = 3
	typeTag      = 4
	typeRefDelta = 7
)

func kindToType(k Kind) byte {
	switch k {
	case objmodel.KindCommit:
		return typeCommit
	case objmodel.KindTree:
		return typeTree
	case objmodel.KindBlob:
		return typeBlob
	case objmodel.KindTag:
		return typeTag
	default:
		return 0
	}
}

// packWriter streams the pack per spec.md §4.6: header, one entry per
// record in write order, then the trailing content hash. It is entirely
// single-threaded, as the write phase always is.
type packWriter struct {
	t     *table
	store ObjectStore
	comp  Compressor
	codec DeltaCodec
	hash  HashAccumulator
	sink  Sink
}

func newPackWriter(t *table, store ObjectStore, comp Compressor, codec DeltaCodec, hash HashAccumulator, sink Sink) *packWriter {
	return &packWriter{t: t, store: store, comp: comp, codec: codec, hash: hash, sink: sink}
}

func (w *packWriter) emit(p []byte) error {
	if err := w.sink.Write(p); err != nil {
		return newErr(ErrIO, "writer.emit", err)
	}
	w.hash.Update(p)
	return nil
}

// write streams the whole pack for the given emit order (table indices).
func (w *packWriter) write(order []int) error {
	for _, r := range w.t.records {
		r.written = false
		r.recursing = false
	}

	header := make([]byte, 12)
	copy(header[0:4], packSignature)
	binary.BigEndian.PutUint32(header[4:8], packVersion)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(order)))
	if err := w.emit(header); err != nil {
		return err
	}

	for _, idx := range order {
		if err := w.writeOne(idx); err != nil {
			return err
		}
	}

	trailer := w.hash.Sum()
	return w.emitRaw(trailer[:])
}

// emitRaw writes bytes to the sink without feeding them to the hash --
// used only for the trailer itself, which is the hash of everything that
// came before it.
func (w *packWriter) emitRaw(p []byte) error {
	if err := w.sink.Write(p); err != nil {
		return newErr(ErrIO, "writer.emitRaw", err)
	}
	return nil
}

// writeOne implements spec.md §4.6 step 2: recurse into the delta base
// first (cycle-guarded by `recursing`), then emit this record.
func (w *packWriter) writeOne(idx int) error {
	r := w.t.at(idx)
	if r.written {
		return nil
	}
	if r.deltaBase != noIndex {
		base := w.t.at(r.deltaBase)
		if base.recursing {
			// Cycle, or base already mid-emission on this path: break the
			// chain by demoting this record to a plain (non-delta) object.
			r.deltaBase = noIndex
		} else {
			r.recursing = true
			err := w.writeOne(r.deltaBase)
			r.recursing = false
			if err != nil {
				return err
			}
		}
	}
	return w.writeRecord(idx)
}

func (w *packWriter) writeRecord(idx int) error {
	r := w.t.at(idx)
	if r.written {
		return nil
	}

	isDelta := r.deltaBase != noIndex
	typ := kindToType(r.kind)
	size := r.size
	if isDelta {
		typ = typeRefDelta
		size = r.deltaSize
	}

	if err := w.emit(encodeObjectHeader(typ, size)); err != nil {
		return err
	}

	if isDelta {
		baseID := w.t.at(r.deltaBase).id
		if err := w.emit(baseID[:]); err != nil {
			return err
		}
	}

	payload, compressed, err := w.payloadFor(idx, isDelta)
	if err != nil {
		return err
	}
	if !compressed {
		payload, err = w.comp.Compress(payload)
		if err != nil {
			return newErr(ErrIO, "writer.writeRecord", err)
		}
	}
	if err := w.emit(payload); err != nil {
		return err
	}

	r.written = true
	r.deltaData = nil
	r.zDeltaSize = 0
	return nil
}

// payloadFor returns the bytes to send to the sink (the second return
// reports whether they are already compressed) for record idx: the cached
// compressed delta if one survived preparation, otherwise a freshly
// recomputed delta or the raw object body read back from the store.
func (w *packWriter) payloadFor(idx int, isDelta bool) ([]byte, bool, error) {
	r := w.t.at(idx)
	if isDelta {
		if r.zDeltaSize > 0 {
			return r.deltaData, true, nil
		}
		if r.deltaData != nil {
			return r.deltaData, false, nil
		}
		return w.recomputeDelta(idx)
	}
	_, size, data, err := w.store.Read(r.id)
	if err != nil {
		return nil, false, newErr(ErrStoreRead, "writer.payloadFor", err)
	}
	if size != r.size {
		return nil, false, newErr(ErrInvariant, "writer.payloadFor", fmt.Errorf("object %s size changed since insertion", r.id))
	}
	return data, false, nil
}

// recomputeDelta rebuilds a delta whose cached bytes were discarded during
// search to stay within the cache budget (spec.md §4.3: "the delta will be
// recomputed at write time"). Both endpoints are re-read from the backing
// store since the search-time window buffers are long gone by the write
// phase.
func (w *packWriter) recomputeDelta(idx int) ([]byte, bool, error) {
	r := w.t.at(idx)
	base := w.t.at(r.deltaBase)

	_, _, trgData, err := w.store.Read(r.id)
	if err != nil {
		return nil, false, newErr(ErrStoreRead, "writer.recomputeDelta", err)
	}
	_, _, srcData, err := w.store.Read(base.id)
	if err != nil {
		return nil, false, newErr(ErrStoreRead, "writer.recomputeDelta", err)
	}

	idxHandle := w.codec.CreateIndex(srcData)
	delta, ok := w.codec.CreateDelta(idxHandle, trgData, int(r.deltaSize)+1)
	if !ok || int64(len(delta)) != r.deltaSize {
		return nil, false, newErr(ErrInvariant, "writer.recomputeDelta", fmt.Errorf("object %s: delta size changed between search and emission", r.id))
	}
	return delta, false, nil
}

// encodeObjectHeader implements spec.md §4.6's per-object variable-length
// header: high bit continue, next 3 bits type, low 4 bits of size; each
// following byte carries 7 more size bits, MSB = continue.
func encodeObjectHeader(typ byte, size int64) []byte {
	var out []byte
	first := byte(size & 0x0F)
	size >>= 4
	b := (typ << 4) | first
	if size > 0 {
		b |= 0x80
	}
	out = append(out, b)
	for size > 0 {
		b := byte(size & 0x7F)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}
