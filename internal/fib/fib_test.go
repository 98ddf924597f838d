package fib

import (
	"testing"
)

type recordingSink struct {
	delivered [][]byte
}

func (s *recordingSink) Deliver(frames [][]byte) {
	s.delivered = append(s.delivered, frames...)
}

func TestFIBLookupAfterAddInterface(t *testing.T) {
	r := NewReclaimer(2)
	f := New(r)

	mac := [6]byte{0x02, 0, 0, 0, 0, 1}
	f.AddInterface(0, &InterfaceEntry{InterfaceID: 1, MAC: mac})

	snap := f.Snapshot(0)
	e, ok := snap.Lookup(mac)
	if !ok || e.InterfaceID != 1 {
		t.Fatalf("Lookup = %v, %v; want interface 1", e, ok)
	}
}

func TestFIBReaderHoldsStaleSnapshotAcrossUpdate(t *testing.T) {
	r := NewReclaimer(1)
	f := New(r)

	macA := [6]byte{1, 1, 1, 1, 1, 1}
	macB := [6]byte{2, 2, 2, 2, 2, 2}
	f.AddInterface(0, &InterfaceEntry{InterfaceID: 1, MAC: macA})

	held := f.Snapshot(0)

	f.AddInterface(0, &InterfaceEntry{InterfaceID: 2, MAC: macB})

	if _, ok := held.Lookup(macB); ok {
		t.Fatalf("stale snapshot must not observe interface added after it was captured")
	}
	if _, ok := held.Lookup(macA); !ok {
		t.Fatalf("stale snapshot must still resolve interfaces present when captured")
	}

	fresh := f.Snapshot(0)
	if _, ok := fresh.Lookup(macB); !ok {
		t.Fatalf("fresh snapshot must observe the newly added interface")
	}
}

func TestFIBRemoveInterface(t *testing.T) {
	r := NewReclaimer(1)
	f := New(r)
	mac := [6]byte{9, 9, 9, 9, 9, 9}
	f.AddInterface(0, &InterfaceEntry{InterfaceID: 1, MAC: mac})
	f.RemoveInterface(0, mac)

	if _, ok := f.Snapshot(0).Lookup(mac); ok {
		t.Fatalf("expected interface removed from current snapshot")
	}
}

func TestFIBPortSinksOrderPreserved(t *testing.T) {
	r := NewReclaimer(1)
	f := New(r)
	a, b := &recordingSink{}, &recordingSink{}
	f.AddPortSink(0, true, a)
	f.AddPortSink(0, true, b)

	rx, _ := f.Snapshot(0).PortSinks()
	if len(rx) != 2 || rx[0] != a || rx[1] != b {
		t.Fatalf("PortSinks rx = %v, want [a b] in insertion order", rx)
	}
}

func TestReclaimerRetiresOnlyAfterAllWorkersQuiesce(t *testing.T) {
	r := NewReclaimer(2)
	r.Retire("snapshot-1")
	if got := r.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1 before any quiesce", got)
	}

	r.QuiescePoint(0)
	if got := r.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1 after only worker 0 quiesced", got)
	}

	r.QuiescePoint(1)
	if got := r.Pending(); got != 0 {
		t.Fatalf("Pending = %d, want 0 after both workers quiesced", got)
	}
}

func TestTIBRegisterAndLookup(t *testing.T) {
	r := NewReclaimer(1)
	tib := NewTIB(r)
	key := TxKey{Port: 0, Queue: 1, SourceID: 42}
	handle := &SourceHandle{ID: 42}

	tib.Register(key, handle)
	got, ok := tib.Snapshot().Lookup(key)
	if !ok || got != handle {
		t.Fatalf("Lookup = %v, %v; want the registered handle", got, ok)
	}

	tib.Unregister(key)
	if _, ok := tib.Snapshot().Lookup(key); ok {
		t.Fatalf("expected key removed after Unregister")
	}
}
