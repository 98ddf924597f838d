package ringchan

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/openperf/corenet/errs"
)

// AddrKind tags the shape of an optional per-record address.
type AddrKind int

const (
	AddrNone AddrKind = iota
	AddrIPv4
	AddrIPv6
	AddrLink
)

// Addr is the optional address carried alongside a datagram record.
type Addr struct {
	Kind AddrKind
	IP   net.IP
	Port uint16
	MAC  net.HardwareAddr
}

// record is one entry in the datagram ring's metadata queue; its
// payload bytes live in the companion bump buffer (payloadBuf),
// referenced by offset/length so a record's bytes are never split.
type record struct {
	addr   Addr
	offset int
	length int
}

// Datagram is the record-ring SPSC channel contract from spec §4.2:
// each Send is atomic (record metadata and payload both land or
// neither does) and Recv never splits a record.
type Datagram struct {
	mu sync.Mutex

	maxRecord int
	records   []record
	head, tail int // ring indices into records, mod len(records)
	count      int

	payload    []byte
	payloadPos int // bump-allocator cursor, reset whenever the ring drains to empty

	writerWait atomic.Bool // set by Send when the ring was full
	readerWait atomic.Bool // set by Recv when the ring was empty

	writerNotify notifier
	readerNotify notifier
}

// NewDatagram allocates a Datagram channel. capacityRecords bounds
// the number of in-flight records; payloadBuf is the auxiliary bump
// buffer (conventionally carved from the same Arena allocation as the
// record slots) backing payload bytes. maxRecord must be <=
// len(payloadBuf)/2 per spec §4.2.
func NewDatagram(capacityRecords int, payloadBuf []byte, maxRecord int) (*Datagram, error) {
	if maxRecord > len(payloadBuf)/2 {
		return nil, errs.New(errs.Invalid, "max record size exceeds ring/2")
	}
	return &Datagram{
		maxRecord:    maxRecord,
		records:      make([]record, capacityRecords),
		payload:      payloadBuf,
		writerNotify: newNotifier(),
		readerNotify: newNotifier(),
	}, nil
}

// Send enqueues payload (and an optional address) atomically. It
// returns accepted=false, without error, if either the record slots
// or the payload buffer lack room — the spec models this as a normal
// "not accepted" outcome, not a failure.
func (d *Datagram) Send(payload []byte, addr Addr) (accepted bool, err error) {
	if len(payload) > d.maxRecord {
		return false, errs.New(errs.Invalid, "payload exceeds max record size")
	}
	d.mu.Lock()

	if d.count == len(d.records) {
		d.writerWait.Store(true)
		d.mu.Unlock()
		return false, nil
	}

	// The bump buffer only ever grows while records are outstanding;
	// once the ring drains to empty we reset the cursor, so "out of
	// payload space" only really happens under sustained backlog.
	if d.payloadPos+len(payload) > len(d.payload) {
		if d.count == 0 {
			d.payloadPos = 0
		} else {
			d.writerWait.Store(true)
			d.mu.Unlock()
			return false, nil
		}
	}

	off := d.payloadPos
	copy(d.payload[off:off+len(payload)], payload)
	d.payloadPos += len(payload)

	wasEmpty := d.count == 0
	d.records[d.tail] = record{addr: addr, offset: off, length: len(payload)}
	d.tail = (d.tail + 1) % len(d.records)
	d.count++
	d.mu.Unlock()

	if wasEmpty && d.readerWait.CompareAndSwap(true, false) {
		d.writerNotify.Signal()
	}
	return true, nil
}

// Recv returns the oldest record's payload and address, or ok=false
// if the ring is currently empty.
func (d *Datagram) Recv() (payload []byte, addr Addr, ok bool) {
	d.mu.Lock()
	if d.count == 0 {
		d.readerWait.Store(true)
		d.mu.Unlock()
		return nil, Addr{}, false
	}
	rec := d.records[d.head]
	d.head = (d.head + 1) % len(d.records)
	d.count--
	wasFull := d.count == len(d.records)-1

	// Reclaim the bump buffer once the ring has fully drained so the
	// next Send can reuse space from the start.
	if d.count == 0 {
		d.payloadPos = 0
	}
	d.mu.Unlock()

	if wasFull && d.writerWait.CompareAndSwap(true, false) {
		d.readerNotify.Signal()
	}

	out := make([]byte, rec.length)
	copy(out, d.payload[rec.offset:rec.offset+rec.length])
	return out, rec.addr, true
}

// Len reports the number of records currently queued.
func (d *Datagram) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// ReadableFd returns the fd a poller can wait on to learn this
// datagram ring has a record available, or ok=false on the portable
// notifier backend.
func (d *Datagram) ReadableFd() (fd int, ok bool) {
	return d.writerNotify.notifyFd()
}

// WritableFd returns the fd a poller can wait on to learn this
// datagram ring has drained below capacity, or ok=false on the
// portable notifier backend.
func (d *Datagram) WritableFd() (fd int, ok bool) {
	return d.readerNotify.notifyFd()
}

// Close releases the datagram channel's notifiers.
func (d *Datagram) Close() error {
	_ = d.writerNotify.Close()
	_ = d.readerNotify.Close()
	return nil
}
