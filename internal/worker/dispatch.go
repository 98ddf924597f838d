package worker

import (
	"github.com/openperf/corenet/internal/fib"
)

// RXSource pulls a burst of raw frames from one hardware or virtual
// queue. Implementations live in the driver/port layer; the worker
// runtime only needs this much to run the RX dispatch pipeline of
// spec §4.4.
type RXSource interface {
	// Port identifies which FIB port this source's frames belong to.
	Port() int
	// PollRX returns the next available burst, or nil if none.
	PollRX() [][]byte
}

// TXSink accepts a burst of frames for transmission on one queue.
type TXSink interface {
	SubmitTX(frames [][]byte)
}

// RXDispatcher resolves each frame in a burst to its destination
// interface's RX sinks (falling back to the port-level RX sinks when
// no MAC match is found) and delivers it, per §4.4's RX pipeline:
// "classify by destination MAC, then hand bursts to the matching
// interface or port sink."
type RXDispatcher struct {
	fib *fib.FIB
}

// NewRXDispatcher builds a dispatcher reading from the given FIB.
func NewRXDispatcher(f *fib.FIB) *RXDispatcher {
	return &RXDispatcher{fib: f}
}

// macOf extracts the 6-byte destination MAC from an Ethernet frame's
// header; frames shorter than an Ethernet header are dropped.
func macOf(frame []byte) ([6]byte, bool) {
	var mac [6]byte
	if len(frame) < 14 {
		return mac, false
	}
	copy(mac[:], frame[0:6])
	return mac, true
}

// Dispatch classifies and delivers one RX burst from source.
func (d *RXDispatcher) Dispatch(source RXSource) bool {
	burst := source.PollRX()
	if len(burst) == 0 {
		return false
	}
	port := source.Port()
	snap := d.fib.Snapshot(port)

	byInterface := make(map[*fib.InterfaceEntry][][]byte)
	var unmatched [][]byte
	for _, frame := range burst {
		mac, ok := macOf(frame)
		if !ok {
			unmatched = append(unmatched, frame)
			continue
		}
		entry, found := snap.Lookup(mac)
		if !found {
			unmatched = append(unmatched, frame)
			continue
		}
		byInterface[entry] = append(byInterface[entry], frame)
	}

	for entry, frames := range byInterface {
		for _, sink := range entry.RXSinks {
			sink.Deliver(frames)
		}
	}
	if len(unmatched) > 0 {
		rxSinks, _ := snap.PortSinks()
		for _, sink := range rxSinks {
			sink.Deliver(unmatched)
		}
	}
	return true
}

// TXDispatcher drains per-interface TX queues (fed by the stack
// adapter or the traffic generator) into the port-level TX sinks
// (ultimately the NIC/virtual-port driver), per §4.4's TX pipeline.
type TXDispatcher struct {
	fib  *fib.FIB
	port int
	pull func() [][]byte // returns the next outbound burst, if any
}

// NewTXDispatcher builds a dispatcher that pulls bursts via pull and
// hands them to port's TX sinks.
func NewTXDispatcher(f *fib.FIB, port int, pull func() [][]byte) *TXDispatcher {
	return &TXDispatcher{fib: f, port: port, pull: pull}
}

// Dispatch pulls one outbound burst and fans it out to every
// registered TX sink for the port.
func (d *TXDispatcher) Dispatch() bool {
	frames := d.pull()
	if len(frames) == 0 {
		return false
	}
	_, txSinks := d.fib.Snapshot(d.port).PortSinks()
	for _, sink := range txSinks {
		sink.Deliver(frames)
	}
	return true
}
