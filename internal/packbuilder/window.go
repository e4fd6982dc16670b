package packbuilder

// slot is one entry of the delta-search sliding window: a candidate record
// plus its lazily materialized uncompressed payload and source-side delta
// index. The window is a plain circular array rather than a borrowed
// container type -- its eviction/rotation order is directly exercised by
// spec.md §8's delta-bounds and determinism properties, so the array's
// exact indexing has to be provably right rather than dependent on an
// unfamiliar library's rotate semantics.
type slot struct {
	present   bool
	recIdx    int
	data      []byte
	size      int64
	index     DeltaIndex
	indexSize int64
}

// memBytes returns the bytes this slot holds mem_usage accountable for: the
// materialized payload plus, once built, its delta-search index (spec.md
// §4.3: "mem_usage tracks bytes held by all slot buffers and indices").
func (s *slot) memBytes() int64 {
	if !s.present {
		return 0
	}
	return s.size + s.indexSize
}

// window is the circular array[0..W) described in spec.md §4.3.
type window struct {
	t        *table
	slots    []slot
	idx      int // next slot to fill
	count    int // populated slots, <= len(slots)
	memUsage int64
	memLimit int64 // 0 = unlimited
}

func newWindow(t *table, w int, memLimit int64) *window {
	return &window{t: t, slots: make([]slot, w), memLimit: memLimit}
}

// free releases slot s's cached payload bytes, crediting mem_usage and
// clearing the record's own reference to the same buffer.
func (w *window) free(s *slot) {
	if !s.present {
		return
	}
	w.memUsage -= s.memBytes()
	w.t.at(s.recIdx).freeData()
	*s = slot{}
	w.count--
}

func (w *window) size() int { return len(w.slots) }

// evictCurrent frees the occupant at w.idx (if any), crediting its bytes
// back to memUsage, and returns the slot ready to be assigned.
func (w *window) evictCurrent() *slot {
	s := &w.slots[w.idx]
	w.free(s)
	return s
}

// assign installs a candidate into the just-evicted slot at w.idx.
func (w *window) assign(recIdx int) *slot {
	s := &w.slots[w.idx]
	s.present = true
	s.recIdx = recIdx
	w.count++
	return s
}

// trim evicts slots from the opposite end of the window (furthest from the
// cursor) while memUsage exceeds memLimit and more than one slot remains
// populated, per spec.md §4.3 step 2.
func (w *window) trim() {
	if w.memLimit <= 0 {
		return
	}
	n := len(w.slots)
	for w.memUsage > w.memLimit && w.count > 1 {
		// "Opposite end" of the circular scan starting at idx+1: the
		// farthest-from-current populated slot is the one the scan in
		// §4.3 step 4 would visit last, i.e. slot (idx+1) mod n.
		victim := (w.idx + 1) % n
		freed := false
		for i := 0; i < n; i++ {
			s := &w.slots[victim]
			if s.present {
				w.free(s)
				freed = true
				break
			}
			victim = (victim + 1) % n
		}
		if !freed {
			break
		}
	}
}

// charge accounts freshly-materialized payload bytes for slot s.
func (w *window) charge(s *slot, size int64) {
	w.memUsage += size
	s.size = size
}

// chargeIndex accounts the estimated size of slot s's lazily built delta
// index once CreateIndex has run, so a large index on a rarely-evicted
// base doesn't let mem_usage under-report actual memory held.
func (w *window) chargeIndex(s *slot, size int64) {
	w.memUsage += size
	s.indexSize = size
}

// evictSlot drops the record at table index recIdx from window
// consideration entirely (spec.md §4.3 step 6, "drop it from the window");
// used when a candidate's new chain depth hits max_depth.
func (w *window) evictSlot(recIdx int) {
	for i := range w.slots {
		s := &w.slots[i]
		if s.present && s.recIdx == recIdx {
			w.free(s)
			return
		}
	}
}

// rotateAfter moves the slot at winnerSlot so it sits immediately "after"
// the just-processed slot in the circular scan order, per spec.md §4.3
// step 6: "rotate the window so the chosen base sits immediately after po".
// Concretely, the slots from winnerSlot+1 through w.idx shift down one
// position, the winner lands at w.idx, and the cursor then advances (step
// 7), so the next scan (idx+W-1 ... idx+1) visits the winner first and the
// just-processed object second.
func (w *window) rotateAfter(winnerSlot int) {
	n := len(w.slots)
	swap := w.slots[winnerSlot]
	dst := winnerSlot
	for dist := (n + w.idx - winnerSlot) % n; dist > 0; dist-- {
		src := (dst + 1) % n
		w.slots[dst] = w.slots[src]
		dst = src
	}
	w.slots[dst] = swap
	w.idx = (w.idx + 1) % n
}

// advance moves the fill cursor forward one position (spec.md §4.3 step 7).
func (w *window) advance() {
	w.idx = (w.idx + 1) % len(w.slots)
}

// scanOrder returns slot indices in the order spec.md §4.3 step 4 requires:
// idx+W-1, idx+W-2, ..., idx+1 (most recent first), skipping the slot at
// idx itself (the candidate just assigned there).
func (w *window) scanOrder() []int {
	n := len(w.slots)
	order := make([]int, 0, n-1)
	for off := n - 1; off >= 1; off-- {
		order = append(order, (w.idx+off)%n)
	}
	return order
}
