package packbuilder

import "fmt"

// deltaCache tracks the global budget described in spec.md §3 and §4.3:
// the sum of len(delta_data) (z_delta_size when compressed) across every
// record must never exceed maxSize outside an in-progress update. In the
// parallel driver this counter and the per-record install/uninstall it
// guards share the "cache mutex" (see parallel.go); the single-worker path
// here just uses it directly.
type deltaCache struct {
	size        int64
	maxSize     int64
	smallDelta  int64
}

func newDeltaCache(maxSize, smallDelta int64) *deltaCache {
	return &deltaCache{maxSize: maxSize, smallDelta: smallDelta}
}

// shouldCache implements the §4.3 step "decide whether to cache" rule.
func (c *deltaCache) shouldCache(deltaSize, srcSize, trgSize int64) bool {
	if c.size+deltaSize > c.maxSize {
		return false
	}
	if deltaSize < c.smallDelta {
		return true
	}
	return (srcSize>>20)+(trgSize>>21) > (deltaSize >> 10)
}

func (c *deltaCache) charge(n int64)   { c.size += n }
func (c *deltaCache) release(n int64)  { c.size -= n }

// searcher runs the spec.md §4.3 sliding-window delta search over one
// contiguous segment of the candidate list. It is the unit the parallel
// driver spawns one per worker; with a single worker it simply runs
// directly over the whole candidate list.
type searcher struct {
	t        *table
	store    ObjectStore
	comp     Compressor
	codec    DeltaCodec
	win      *window
	maxDepth int
	cache    cacheAccess
}

func newSearcher(t *table, store ObjectStore, comp Compressor, codec DeltaCodec, w int, windowMemLimit int64, maxDepth int, cache cacheAccess) *searcher {
	return &searcher{
		t:        t,
		store:    store,
		comp:     comp,
		codec:    codec,
		win:      newWindow(t, w, windowMemLimit),
		maxDepth: maxDepth,
		cache:    cache,
	}
}

// run executes the §4.3 loop over candidate indices (table indices, already
// filtered and ordered by buildCandidates).
func (s *searcher) run(candidates []int) error {
	for _, recIdx := range candidates {
		if err := s.step(recIdx); err != nil {
			return err
		}
	}
	return nil
}

func (s *searcher) step(recIdx int) error {
	s.win.evictCurrent()
	s.win.assign(recIdx)
	s.win.trim()

	po := s.t.at(recIdx)
	limit := checkDeltaLimit(s.t, recIdx)
	maxDepth := s.maxDepth - limit
	if maxDepth <= 0 {
		s.win.advance()
		return nil
	}

	poSlot := &s.win.slots[s.win.idx]
	bestBase := -1
	for _, m := range s.win.scanOrder() {
		ms := &s.win.slots[m]
		if !ms.present {
			continue
		}
		result, err := s.tryDelta(recIdx, poSlot, ms, maxDepth)
		if err != nil {
			return err
		}
		if result < 0 {
			break
		}
		if result > 0 {
			bestBase = m
		}
	}

	if bestBase < 0 {
		s.win.advance()
		return nil
	}

	if po.deltaData != nil {
		if err := s.compressCached(po); err != nil {
			return err
		}
	}
	if po.depth == maxDepth {
		s.win.evictSlot(recIdx)
		s.win.advance()
	} else {
		s.win.rotateAfter(bestBase)
	}
	return nil
}

// checkDeltaLimit returns the maximum depth of po's existing delta-child
// subtree (depth 0 = the node itself), per spec.md §4.3 step 3. The
// deltaChild/deltaSibling links walked here are maintained live by
// tryDelta's accept step during search, independent of the planner's
// later (emit-order) relink of the same fields.
func checkDeltaLimit(t *table, recIdx int) int {
	best := 0
	child := t.at(recIdx).deltaChild
	for child != noIndex {
		d := 1 + checkDeltaLimit(t, child)
		if d > best {
			best = d
		}
		child = t.at(child).deltaSibling
	}
	return best
}

// tryDelta implements spec.md §4.3's try_delta(n, m, max_depth).
func (s *searcher) tryDelta(nIdx int, nSlot, m *slot, maxDepth int) (int, error) {
	n := s.t.at(nIdx)
	mr := s.t.at(m.recIdx)

	if n.kind != mr.kind {
		return -1, nil
	}
	if mr.depth >= maxDepth {
		return 0, nil
	}

	var maxSize int64
	var refDepth int
	if n.deltaBase == noIndex {
		maxSize = n.size/2 - 20
		refDepth = 1
	} else {
		maxSize = n.deltaSize
		refDepth = n.depth
	}
	if maxSize <= 0 {
		return 0, nil
	}
	denom := int64(maxDepth - refDepth + 1)
	if denom <= 0 {
		denom = 1
	}
	maxSize = maxSize * int64(maxDepth-mr.depth) / denom
	if maxSize == 0 {
		return 0, nil
	}

	if mr.size < n.size && n.size-mr.size >= maxSize {
		return 0, nil
	}
	if n.size < mr.size/32 {
		return 0, nil
	}

	if err := s.materializeSlot(nSlot); err != nil {
		return 0, err
	}
	if err := s.materializeSlot(m); err != nil {
		return 0, err
	}

	if m.index == nil {
		idx := s.codec.CreateIndex(m.data)
		if idx == nil {
			return 0, nil
		}
		m.index = idx
		// The index's hash table is the same order of magnitude as the
		// source bytes it was built over; charge that estimate against
		// mem_usage so window_memory_limit trimming isn't blind to it.
		s.win.chargeIndex(m, int64(len(m.data)))
	}

	delta, ok := s.codec.CreateDelta(m.index, n.data(), int(maxSize))
	if !ok {
		return 0, nil
	}
	deltaSize := int64(len(delta))

	if n.deltaBase != noIndex {
		shallower := mr.depth+1 < n.depth
		if !(deltaSize < n.deltaSize || (deltaSize == n.deltaSize && shallower)) {
			return 0, nil
		}
	}

	if n.deltaBase != noIndex && n.deltaData != nil {
		s.cache.release(cachedBytes(n))
		n.deltaData = nil
		n.zDeltaSize = 0
	}
	// Unlink n from its previous base's child list before relinking, so
	// checkDeltaLimit never walks a stale edge.
	unlinkChild(s.t, n.deltaBase, nIdx)

	if s.cache.shouldCache(deltaSize, mr.size, n.size) {
		owned := make([]byte, len(delta))
		copy(owned, delta)
		n.deltaData = owned
		s.cache.charge(deltaSize)
	} else {
		n.deltaData = nil
	}

	n.deltaBase = m.recIdx
	n.deltaSize = deltaSize
	n.depth = mr.depth + 1
	n.deltaSibling = mr.deltaChild
	mr.deltaChild = nIdx

	return 1, nil
}

func cachedBytes(r *record) int64 {
	if r.zDeltaSize > 0 {
		return r.zDeltaSize
	}
	return int64(len(r.deltaData))
}

func unlinkChild(t *table, baseIdx, childIdx int) {
	if baseIdx == noIndex {
		return
	}
	base := t.at(baseIdx)
	if base.deltaChild == childIdx {
		base.deltaChild = t.at(childIdx).deltaSibling
		return
	}
	cur := base.deltaChild
	for cur != noIndex {
		c := t.at(cur)
		if c.deltaSibling == childIdx {
			c.deltaSibling = t.at(childIdx).deltaSibling
			return
		}
		cur = c.deltaSibling
	}
}

// materialize lazily loads n's uncompressed payload from the backing store,
// verifying the stored size matches the size recorded at insertion.
func (s *searcher) materialize(n *record, nIdx int) error {
	if n.data() != nil {
		return nil
	}
	_, size, data, err := s.store.Read(n.id)
	if err != nil {
		return newErr(ErrStoreRead, "search.materialize", err)
	}
	if int64(len(data)) != n.size || size != n.size {
		return newErr(ErrInvariant, "search.materialize", fmt.Errorf("object %s size changed since insertion", n.id))
	}
	n.setData(data)
	return nil
}

func (s *searcher) materializeSlot(sl *slot) error {
	r := s.t.at(sl.recIdx)
	if sl.data != nil {
		return nil
	}
	if err := s.materialize(r, sl.recIdx); err != nil {
		return err
	}
	sl.data = r.data()
	s.win.charge(sl, int64(len(sl.data)))
	return nil
}

func (s *searcher) compressCached(r *record) error {
	compressed, err := s.comp.Compress(r.deltaData)
	if err != nil {
		return newErr(ErrIO, "search.compressCached", err)
	}
	s.cache.release(cachedBytes(r))
	r.deltaData = compressed
	r.zDeltaSize = int64(len(compressed))
	s.cache.charge(r.zDeltaSize)
	return nil
}
