package packbuilder

import (
	"runtime"
	"sync"

	"github.com/gammazero/deque"
	"golang.org/x/sync/errgroup"
)

// cacheAccess is satisfied by both the single-worker *deltaCache and the
// lock-guarded *cacheGuard, so searcher doesn't need to know which regime
// it's running under.
type cacheAccess interface {
	shouldCache(deltaSize, srcSize, trgSize int64) bool
	charge(n int64)
	release(n int64)
}

// cacheGuard is the "cache mutex" of spec.md §4.4/§5: it serializes access
// to the global delta cache budget and to the install/uninstall of any
// individual record's cached delta bytes. Acquisition order is
// cache-before-progress is forbidden -- workers release this lock before
// ever touching a progressGuard.
type cacheGuard struct {
	mu    sync.Mutex
	cache *deltaCache
}

func (g *cacheGuard) shouldCache(deltaSize, srcSize, trgSize int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cache.shouldCache(deltaSize, srcSize, trgSize)
}

func (g *cacheGuard) charge(n int64) {
	g.mu.Lock()
	g.cache.charge(n)
	g.mu.Unlock()
}

func (g *cacheGuard) release(n int64) {
	g.mu.Lock()
	g.cache.release(n)
	g.mu.Unlock()
}

// workerQueue holds one worker's outstanding candidate indices (indices
// into the shared candidates slice). Its own remainder is a plain slice
// cursor; stolen sub-slices handed over by the rebalancer are pushed onto
// the deque and drained first-in-first-out once the local remainder is
// exhausted -- the natural fit for gammazero/deque that the sliding
// window (window.go) explicitly is not, since here only PushBack/PopFront
// ordering matters and no rotation-in-place semantics are required.
type workerQueue struct {
	local  []int // candidates[cursor:] is this worker's own remainder
	cursor int
	stolen deque.Deque[[]int]
}

func (q *workerQueue) remaining() int {
	n := len(q.local) - q.cursor
	for i := 0; i < q.stolen.Len(); i++ {
		n += len(q.stolen.At(i))
	}
	return n
}

// takeHalf removes and returns up to half of this worker's own remainder
// (not its stolen queue -- that's already someone else's leftovers),
// aligned to a name_hash boundary when one exists in the stolen slice.
func (q *workerQueue) takeHalf(t *table) []int {
	rem := q.local[q.cursor:]
	if len(rem) == 0 {
		return nil
	}
	half := len(rem) / 2
	if half == 0 {
		half = 1
	}
	split := len(rem) - half
	for split > 0 && split < len(rem) && t.at(rem[split]).nameHash == t.at(rem[split-1]).nameHash {
		split++
	}
	if split == len(rem) {
		split = len(rem) - half
	}
	stolen := make([]int, len(rem)-split)
	copy(stolen, rem[split:])
	q.local = rem[:split]
	q.cursor = 0
	return stolen
}

// progressGuard is the "progress mutex" of spec.md §4.4: it serializes
// list cursors, per-worker remaining/working, and the shared condition
// variable workers wait and signal on.
type progressGuard struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queues   []*workerQueue
	working  []bool
	active   int
}

func newProgressGuard(queues []*workerQueue) *progressGuard {
	g := &progressGuard{queues: queues, working: make([]bool, len(queues)), active: len(queues)}
	g.cond = sync.NewCond(&g.mu)
	for i := range g.working {
		g.working[i] = true
	}
	return g
}

type searchConfig struct {
	workers         int
	window          int
	maxDepth        int
	windowMemLimit  int64
	deltaCacheSize  int64
	deltaCacheLimit int64
}

// parallelSearch runs the §4.3 loop across multiple workers per §4.4: it
// partitions candidates on name_hash boundaries, spawns one goroutine per
// non-empty segment, and the main goroutine rebalances by stealing half of
// the busiest worker's remainder whenever another goes idle.
// golang.org/x/sync/errgroup is used purely to join the goroutines and
// aggregate the first error -- it does not replace the explicit
// mutex/condvar monitor the rebalancer needs, which spec.md §9 calls out
// as requiring a consistent multi-field snapshot no single atomic provides.
func parallelSearch(t *table, store ObjectStore, comp Compressor, codec DeltaCodec, cfg searchConfig, candidates []int) error {
	workers := cfg.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}
	if workers == 1 || len(candidates) < 2*cfg.window {
		s := newSearcher(t, store, comp, codec, cfg.window+1, cfg.windowMemLimit, cfg.maxDepth, newDeltaCache(cfg.deltaCacheSize, cfg.deltaCacheLimit))
		return s.run(candidates)
	}

	segs := partitionSegments(t, candidates, workers, cfg.window)
	queues := make([]*workerQueue, len(segs))
	for i, seg := range segs {
		queues[i] = &workerQueue{local: seg}
	}
	shared := &cacheGuard{cache: newDeltaCache(cfg.deltaCacheSize, cfg.deltaCacheLimit)}
	pg := newProgressGuard(queues)

	var eg errgroup.Group
	for i := range queues {
		i := i
		eg.Go(func() error {
			return runWorker(t, store, comp, codec, cfg, shared, pg, i)
		})
	}
	eg.Go(func() error {
		rebalance(t, pg)
		return nil
	})
	return eg.Wait()
}

// partitionSegments splits candidates into up to `workers` contiguous
// pieces of approximate size list_size/(workers-i) per round; once that
// per-round size would fall below 2W, the whole remainder becomes one final
// segment instead. Each segment is extended forward across a name_hash run
// so a "path" is never split.
func partitionSegments(t *table, candidates []int, workers, w int) [][]int {
	var segs [][]int
	remaining := candidates
	left := workers
	for left > 0 && len(remaining) > 0 {
		size := len(remaining) / left
		if size < 2*w {
			segs = append(segs, cloneInts(remaining))
			remaining = nil
			break
		}
		end := size
		boundary := t.at(remaining[end-1]).nameHash
		for end < len(remaining) && t.at(remaining[end]).nameHash == boundary {
			end++
		}
		segs = append(segs, cloneInts(remaining[:end]))
		remaining = remaining[end:]
		left--
	}
	if len(remaining) > 0 {
		if len(segs) > 0 {
			segs[len(segs)-1] = append(segs[len(segs)-1], remaining...)
		} else {
			segs = append(segs, cloneInts(remaining))
		}
	}
	return segs
}

func cloneInts(s []int) []int {
	cp := make([]int, len(s))
	copy(cp, s)
	return cp
}

func runWorker(t *table, store ObjectStore, comp Compressor, codec DeltaCodec, cfg searchConfig, shared *cacheGuard, pg *progressGuard, id int) error {
	s := newSearcher(t, store, comp, codec, cfg.window+1, cfg.windowMemLimit, cfg.maxDepth, nil)
	s.cache = shared

	q := pg.queues[id]
	for {
		var recIdx int
		var ok bool

		pg.mu.Lock()
		if q.cursor < len(q.local) {
			recIdx = q.local[q.cursor]
			q.cursor++
			ok = true
		} else if q.stolen.Len() > 0 {
			next := q.stolen.PopFront()
			q.local = next
			q.cursor = 0
			pg.mu.Unlock()
			continue
		}
		pg.mu.Unlock()

		if !ok {
			pg.mu.Lock()
			pg.working[id] = false
			pg.active--
			pg.cond.Broadcast()
			for !pg.working[id] && pg.active > 0 {
				pg.cond.Wait()
			}
			done := pg.active == 0 && !pg.working[id]
			pg.mu.Unlock()
			if done {
				return nil
			}
			continue
		}

		if err := s.step(recIdx); err != nil {
			return err
		}
	}
}

// rebalance is the main thread's loop from spec.md §4.4: wait for any idle
// worker, pick the busiest, steal half its remainder aligned to a
// name_hash boundary, hand it to the idle worker, signal it. When every
// worker is both idle and out of work, it unblocks them all permanently so
// each returns nil.
func rebalance(t *table, pg *progressGuard) {
	for {
		pg.mu.Lock()
		idle := -1
		for i, w := range pg.working {
			if !w {
				idle = i
				break
			}
		}
		if idle < 0 {
			pg.mu.Unlock()
			if !waitForIdle(pg) {
				return
			}
			continue
		}

		victim := -1
		victimRemaining := 0
		for i, w := range pg.working {
			if i == idle || !w {
				continue
			}
			r := pg.queues[i].remaining()
			if r > victimRemaining {
				victim = i
				victimRemaining = r
			}
		}

		if victim < 0 {
			if pg.active == 0 {
				pg.cond.Broadcast()
				pg.mu.Unlock()
				return
			}
			// No stealable work right now; wait for a state change
			// (another worker going idle, or the last one finishing)
			// rather than spinning.
			pg.cond.Wait()
			pg.mu.Unlock()
			continue
		}

		stolen := pg.queues[victim].takeHalf(t)
		if len(stolen) > 0 {
			pg.queues[idle].stolen.PushBack(stolen)
			pg.working[idle] = true
			pg.active++
		}
		pg.cond.Broadcast()
		pg.mu.Unlock()
	}
}

// waitForIdle blocks until some worker goes idle or every worker has
// finished; returns false once there is nothing left to rebalance.
func waitForIdle(pg *progressGuard) bool {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	for {
		if pg.active == 0 {
			return false
		}
		for _, w := range pg.working {
			if !w {
				return true
			}
		}
		pg.cond.Wait()
	}
}
