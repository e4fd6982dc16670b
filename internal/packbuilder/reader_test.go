package packbuilder_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/vecpack/packline/internal/deltacodec"
	"github.com/vecpack/packline/internal/hashutil"
	"github.com/vecpack/packline/internal/objmodel"
)

// decodedObject is one object recovered by readPack, after resolving any
// ref-delta against its base (which must already have been decoded).
type decodedObject struct {
	kind objmodel.Kind
	data []byte
}

// packContents is everything readPack recovers from a stream: the resolved
// objects keyed by id, the declared object count, and how many entries were
// encoded as ref-deltas rather than full objects.
type packContents struct {
	objects    map[objmodel.ID]decodedObject
	order      []objmodel.ID // resolved ids, in stream order
	depth      map[objmodel.ID]int
	count      int
	deltaCount int
}

// readPack is a minimal conforming reader for the wire format spec.md §6
// describes, used only to verify what the builder emits round-trips.
func readPack(pack []byte) (packContents, error) {
	if len(pack) < 12 {
		return packContents{}, fmt.Errorf("pack too short")
	}
	if string(pack[:4]) != "PACK" {
		return packContents{}, fmt.Errorf("bad signature %q", pack[:4])
	}
	version := binary.BigEndian.Uint32(pack[4:8])
	if version != 2 {
		return packContents{}, fmt.Errorf("unsupported version %d", version)
	}
	count := binary.BigEndian.Uint32(pack[8:12])

	trailerStart := len(pack) - 20
	hasher := hashutil.New()
	hasher.Update(pack[:trailerStart])
	got := hasher.Sum()
	var want [20]byte
	copy(want[:], pack[trailerStart:])
	if got != want {
		return packContents{}, fmt.Errorf("trailer mismatch: got %x want %x", got, want)
	}

	type pending struct {
		kind    objmodel.Kind
		isDelta bool
		baseID  objmodel.ID
		payload []byte
	}
	var entries []pending
	deltaCount := 0

	pos := 12
	for i := uint32(0); i < count; i++ {
		typ := (pack[pos] >> 4) & 0x7
		size := int64(pack[pos] & 0x0F)
		shift := uint(4)
		cont := pack[pos]&0x80 != 0
		pos++
		for cont {
			b := pack[pos]
			pos++
			size |= int64(b&0x7F) << shift
			shift += 7
			cont = b&0x80 != 0
		}

		var e pending
		if typ == 7 {
			e.isDelta = true
			deltaCount++
			copy(e.baseID[:], pack[pos:pos+20])
			pos += 20
		} else {
			switch typ {
			case 1:
				e.kind = objmodel.KindCommit
			case 2:
				e.kind = objmodel.KindTree
			case 3:
				e.kind = objmodel.KindBlob
			case 4:
				e.kind = objmodel.KindTag
			}
		}

		r := bytes.NewReader(pack[pos:trailerStart])
		decompressed, consumed, err := inflateOne(r)
		if err != nil {
			return packContents{}, err
		}
		_ = size
		pos += consumed
		e.payload = decompressed
		entries = append(entries, e)
	}

	// Resolve deltas repeatedly: a single pass over non-deltas isn't enough
	// in general (a delta's base can itself be a delta emitted earlier in the
	// stream), so iterate until a pass makes no progress.
	byIndex := make(map[int][]byte)
	idOf := make(map[int]objmodel.ID)
	kindOf := make(map[int]objmodel.Kind)
	depthOf := make(map[int]int)
	result := make(map[objmodel.ID]decodedObject, len(entries))

	resolved := make([]bool, len(entries))
	progress := true
	for progress {
		progress = false
		for i, e := range entries {
			if resolved[i] {
				continue
			}
			if !e.isDelta {
				header := []byte(fmt.Sprintf("%s %d\x00", e.kind, len(e.payload)))
				id := objmodel.ID(hashutil.Of(header, e.payload))
				byIndex[i] = e.payload
				idOf[i] = id
				kindOf[i] = e.kind
				depthOf[i] = 0
				result[id] = decodedObject{kind: e.kind, data: e.payload}
				resolved[i] = true
				progress = true
				continue
			}
			// find base among already-resolved entries
			var baseData []byte
			var baseKind objmodel.Kind
			baseDepth := 0
			found := false
			for j, rid := range idOf {
				if rid == e.baseID {
					baseData = byIndex[j]
					baseKind = kindOf[j]
					baseDepth = depthOf[j]
					found = true
					break
				}
			}
			if !found {
				continue
			}
			full, err := deltacodec.Apply(baseData, e.payload)
			if err != nil {
				return packContents{}, fmt.Errorf("apply delta: %w", err)
			}
			header := []byte(fmt.Sprintf("%s %d\x00", baseKind, len(full)))
			id := objmodel.ID(hashutil.Of(header, full))
			byIndex[i] = full
			idOf[i] = id
			kindOf[i] = baseKind
			depthOf[i] = baseDepth + 1
			result[id] = decodedObject{kind: baseKind, data: full}
			resolved[i] = true
			progress = true
		}
	}
	order := make([]objmodel.ID, len(entries))
	depth := make(map[objmodel.ID]int, len(entries))
	for i := range entries {
		if !resolved[i] {
			return packContents{}, fmt.Errorf("entry %d: unresolved delta (missing base in stream)", i)
		}
		order[i] = idOf[i]
		depth[idOf[i]] = depthOf[i]
	}
	return packContents{objects: result, order: order, depth: depth, count: len(entries), deltaCount: deltaCount}, nil
}

func inflateOne(r *bytes.Reader) ([]byte, int, error) {
	before := r.Len()
	fr := flate.NewReader(r)
	data, err := io.ReadAll(fr)
	fr.Close()
	if err != nil {
		return nil, 0, err
	}
	consumed := before - r.Len()
	return data, consumed, nil
}
