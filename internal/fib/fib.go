// Package fib implements the forwarding/dispatch tables of spec §4.3:
// a {MAC -> interface} lookup plus port-level RX/TX sink vectors
// (FIB), and a {port,queue,source} -> source-handle registry (TIB).
// Both use the two-phase snapshot-swap-then-reclaim update discipline
// so worker-context readers never observe a half-written table,
// generalized from the teacher's pool.slabPool atomic.Pointer publish
// pattern.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package fib

import (
	"sync"
	"sync/atomic"

	"github.com/openperf/corenet/obs"
)

var log = obs.For("fib")

// Sink receives a contiguous burst of frames destined for one
// interface or one whole port, per the RX/TX dispatch pipelines in
// spec §4.4.
type Sink interface {
	Deliver(frames [][]byte)
}

// InterfaceEntry binds a MAC address to a stack interface handle plus
// its attached RX/TX sinks.
type InterfaceEntry struct {
	InterfaceID int
	MAC         [6]byte
	RXSinks     []Sink
	TXSinks     []Sink
}

// portFIB is one immutable, fully-formed snapshot of a single port's
// forwarding tables.
type portFIB struct {
	byMAC      map[[6]byte]*InterfaceEntry
	interfaces []*InterfaceEntry
	rxSinks    []Sink
	txSinks    []Sink
}

func emptyPortFIB() *portFIB {
	return &portFIB{byMAC: make(map[[6]byte]*InterfaceEntry)}
}

// clone returns a deep-enough copy suitable for off-path mutation
// before publish: the maps/slices are copied, the *InterfaceEntry
// values are shared (readers only ever see complete InterfaceEntry
// values, never partially-built ones).
func (p *portFIB) clone() *portFIB {
	n := &portFIB{
		byMAC:      make(map[[6]byte]*InterfaceEntry, len(p.byMAC)),
		interfaces: append([]*InterfaceEntry{}, p.interfaces...),
		rxSinks:    append([]Sink{}, p.rxSinks...),
		txSinks:    append([]Sink{}, p.txSinks...),
	}
	for k, v := range p.byMAC {
		n.byMAC[k] = v
	}
	return n
}

// FIB holds one portFIB snapshot pointer per port, published via
// atomic.Pointer swap and reclaimed once every worker has crossed a
// quiescent point past the publish.
type FIB struct {
	mu        sync.Mutex // serializes writers (control thread only)
	ports     sync.Map   // port id (int) -> *atomic.Pointer[portFIB]
	reclaimer *Reclaimer
}

// New creates an empty FIB backed by the given Reclaimer (shared with
// the TIB and with the worker runtime's generation counters).
func New(r *Reclaimer) *FIB {
	return &FIB{reclaimer: r}
}

func (f *FIB) slot(port int) *atomic.Pointer[portFIB] {
	v, _ := f.ports.LoadOrStore(port, new(atomic.Pointer[portFIB]))
	slot := v.(*atomic.Pointer[portFIB])
	if slot.Load() == nil {
		slot.CompareAndSwap(nil, emptyPortFIB())
	}
	return slot
}

// Snapshot returns the current published snapshot for a port, safe
// for concurrent lookups from any number of worker goroutines.
func (f *FIB) Snapshot(port int) *portFIB {
	return f.slot(port).Load()
}

// Lookup resolves a destination MAC to its interface entry within a
// port, per the RX dispatch pipeline's "resolve MAC->interface" step.
func (p *portFIB) Lookup(mac [6]byte) (*InterfaceEntry, bool) {
	e, ok := p.byMAC[mac]
	return e, ok
}

// PortSinks returns the port-level RX and TX sink vectors.
func (p *portFIB) PortSinks() (rx, tx []Sink) { return p.rxSinks, p.txSinks }

// Interfaces returns the indexable vector of interfaces on this port.
func (p *portFIB) Interfaces() []*InterfaceEntry { return p.interfaces }

// mutate performs the full two-phase update: build a clone off-path,
// apply fn, publish by pointer swap, then hand the old snapshot to
// the reclaimer.
func (f *FIB) mutate(port int, fn func(*portFIB)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot := f.slot(port)
	old := slot.Load()
	next := old.clone()
	fn(next)
	slot.Store(next)

	if f.reclaimer != nil {
		f.reclaimer.Retire(old)
	}
	log.WithField("port", port).Debug("fib snapshot published")
}

// AddInterface registers a new interface under its MAC.
func (f *FIB) AddInterface(port int, e *InterfaceEntry) {
	f.mutate(port, func(p *portFIB) {
		p.byMAC[e.MAC] = e
		p.interfaces = append(p.interfaces, e)
	})
}

// RemoveInterface drops an interface by MAC.
func (f *FIB) RemoveInterface(port int, mac [6]byte) {
	f.mutate(port, func(p *portFIB) {
		e, ok := p.byMAC[mac]
		if !ok {
			return
		}
		delete(p.byMAC, mac)
		for i, cur := range p.interfaces {
			if cur == e {
				p.interfaces = append(p.interfaces[:i], p.interfaces[i+1:]...)
				break
			}
		}
	})
}

// AddPortSink appends a port-level RX or TX sink.
func (f *FIB) AddPortSink(port int, rx bool, s Sink) {
	f.mutate(port, func(p *portFIB) {
		if rx {
			p.rxSinks = append(p.rxSinks, s)
		} else {
			p.txSinks = append(p.txSinks, s)
		}
	})
}
