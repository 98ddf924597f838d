package fib

import (
	"sync"
	"sync/atomic"
)

// Reclaimer implements the quiescence-based memory reclamation scheme
// from spec §4.3: each worker owns a monotonically increasing
// generation counter; a retired snapshot is freed once every worker's
// counter has advanced past the generation recorded at retire time.
// This generalizes the teacher's pool.slabPool atomic.Pointer publish
// (single-slot, no reclamation) to the multi-reader table-swap case,
// since nothing in the corpus implements epoch reclamation directly.
type Reclaimer struct {
	mu    sync.Mutex
	gens  []*atomic.Uint64 // one per worker, advanced by QuiescePoint
	queue []retired
}

type retired struct {
	gen uint64
	obj any
}

// NewReclaimer creates a reclaimer sized for numWorkers. Workers are
// identified by their index into the generation vector.
func NewReclaimer(numWorkers int) *Reclaimer {
	gens := make([]*atomic.Uint64, numWorkers)
	for i := range gens {
		gens[i] = new(atomic.Uint64)
	}
	return &Reclaimer{gens: gens}
}

// QuiescePoint is called by worker workerID once per outer poll
// iteration, at a point where it is known to hold no references into
// any previously published snapshot.
func (r *Reclaimer) QuiescePoint(workerID int) {
	r.gens[workerID].Add(1)
	r.tryDrain()
}

// Retire hands a freshly-unpublished snapshot to the reclaimer. It is
// not actually released until every worker has crossed a quiescent
// point recorded after this call.
func (r *Reclaimer) Retire(obj any) {
	r.mu.Lock()
	gen := r.currentMinGenLocked()
	r.queue = append(r.queue, retired{gen: gen, obj: obj})
	r.mu.Unlock()
}

func (r *Reclaimer) currentMinGenLocked() uint64 {
	var min uint64 = ^uint64(0)
	for _, g := range r.gens {
		v := g.Load()
		if v < min {
			min = v
		}
	}
	if len(r.gens) == 0 {
		return 0
	}
	return min
}

// tryDrain frees every retired snapshot whose recorded generation has
// been passed by all workers' current counters.
func (r *Reclaimer) tryDrain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return
	}
	minNow := r.minGenLocked()
	kept := r.queue[:0]
	for _, it := range r.queue {
		if it.gen >= minNow {
			kept = append(kept, it)
		}
		// else: every worker has advanced past it; drop the reference
		// and let the garbage collector reclaim obj.
	}
	r.queue = kept
}

func (r *Reclaimer) minGenLocked() uint64 {
	var min uint64 = ^uint64(0)
	for _, g := range r.gens {
		v := g.Load()
		if v < min {
			min = v
		}
	}
	if len(r.gens) == 0 {
		return ^uint64(0)
	}
	return min
}

// Pending reports how many retired snapshots are still awaiting
// reclamation, for diagnostics and tests.
func (r *Reclaimer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
