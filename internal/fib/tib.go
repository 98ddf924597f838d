package fib

import "sync/atomic"

// TxKey identifies one traffic-generator source registration point:
// a (port, queue, source id) triple, per spec §4.3's TIB contract.
type TxKey struct {
	Port     int
	Queue    int
	SourceID uint32
}

// SourceHandle is the opaque scheduling handle a TIB entry resolves
// to; the generator's TX scheduler (C7) looks these up on its hot
// path once per dequeue.
type SourceHandle struct {
	ID       uint32
	Template []byte // encoded packet template, owned by internal/generator
}

type tibSnapshot struct {
	entries map[TxKey]*SourceHandle
}

func emptyTIB() *tibSnapshot {
	return &tibSnapshot{entries: make(map[TxKey]*SourceHandle)}
}

func (t *tibSnapshot) clone() *tibSnapshot {
	n := &tibSnapshot{entries: make(map[TxKey]*SourceHandle, len(t.entries))}
	for k, v := range t.entries {
		n.entries[k] = v
	}
	return n
}

// Lookup resolves a TxKey to its source handle.
func (t *tibSnapshot) Lookup(k TxKey) (*SourceHandle, bool) {
	h, ok := t.entries[k]
	return h, ok
}

// TIB is the (port,queue,source) -> handle registry, published with
// the same snapshot-swap-and-reclaim discipline as FIB.
type TIB struct {
	snap      atomic.Pointer[tibSnapshot]
	reclaimer *Reclaimer
}

// NewTIB creates an empty TIB backed by the given Reclaimer.
func NewTIB(r *Reclaimer) *TIB {
	t := &TIB{reclaimer: r}
	t.snap.Store(emptyTIB())
	return t
}

// Snapshot returns the currently published table for lookups.
func (t *TIB) Snapshot() *tibSnapshot {
	return t.snap.Load()
}

func (t *TIB) mutate(fn func(*tibSnapshot)) {
	old := t.snap.Load()
	next := old.clone()
	fn(next)
	t.snap.Store(next)
	if t.reclaimer != nil {
		t.reclaimer.Retire(old)
	}
}

// Register binds key to handle, replacing any prior binding.
func (t *TIB) Register(key TxKey, handle *SourceHandle) {
	t.mutate(func(s *tibSnapshot) {
		s.entries[key] = handle
	})
}

// Unregister removes a binding, if present.
func (t *TIB) Unregister(key TxKey) {
	t.mutate(func(s *tibSnapshot) {
		delete(s.entries, key)
	})
}
