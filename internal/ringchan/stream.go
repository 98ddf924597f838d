package ringchan

import (
	"sync"
	"sync/atomic"

	"github.com/openperf/corenet/errs"
)

// Stream is the byte-ring SPSC channel contract from spec §4.2: a
// single producer (the socket server or the client) writes bytes, a
// single consumer reads them, with half-close flags and an
// edge-triggered wakeup protocol. One Stream is shared by exactly two
// owners: the server-side socket and one client PID.
type Stream struct {
	mu   sync.Mutex
	buf  []byte
	r, w uint64 // monotonically increasing cursors; buf index is cursor % len(buf)

	writerWait atomic.Bool // set by Write when the ring was full
	readerWait atomic.Bool // set by Read when the ring was empty

	writerNotify notifier // signaled to wake a blocked reader
	readerNotify notifier // signaled to wake a blocked writer

	shutRd   atomic.Bool
	shutWr   atomic.Bool
	errCode  atomic.Int32
	nonBlock atomic.Bool
}

// NewStream allocates a Stream backed by a capacity-byte ring. The
// capacity is typically carved out of an arena via Arena.Reserve; the
// caller passes the backing slice directly so ring storage can live
// inside shared memory.
func NewStream(backing []byte) *Stream {
	return &Stream{
		buf:          backing,
		writerNotify: newNotifier(),
		readerNotify: newNotifier(),
	}
}

func (s *Stream) cap() uint64 { return uint64(len(s.buf)) }

func (s *Stream) usedLocked() uint64 { return s.w - s.r }
func (s *Stream) freeLocked() uint64 { return s.cap() - s.usedLocked() }

// SetNonBlocking toggles the Again-on-would-block behavior.
func (s *Stream) SetNonBlocking(nb bool) { s.nonBlock.Store(nb) }

// Write copies up to len(p) bytes into the ring, returning the number
// of bytes written. If the ring is full, Write sets the writer-wait
// flag (so the reader knows to signal once it drains) and returns 0
// (non-blocking) or blocks until the peer signals (blocking mode, not
// used in-process; see ShutWr for half-close).
func (s *Stream) Write(p []byte) (int, error) {
	if s.shutWr.Load() {
		return 0, errs.New(errs.Invalid, "write after shutdown")
	}
	s.mu.Lock()
	free := s.freeLocked()
	if free == 0 {
		s.writerWait.Store(true)
		s.mu.Unlock()
		if s.nonBlock.Load() {
			return 0, errs.New(errs.Again, "ring full")
		}
		s.readerNotify.Wait() // reader signals after it drains
		return s.Write(p)
	}
	n := uint64(len(p))
	if n > free {
		n = free
	}
	wasEmpty := s.usedLocked() == 0
	for i := uint64(0); i < n; i++ {
		s.buf[(s.w+i)%s.cap()] = p[i]
	}
	s.w += n
	s.mu.Unlock()

	if wasEmpty && s.readerWait.CompareAndSwap(true, false) {
		s.writerNotify.Signal()
	}
	return int(n), nil
}

// Read copies up to len(p) bytes out of the ring. A zero-length
// result with TX half-closed (ShutWr observed and ring drained) means
// EOF; otherwise Read sets the reader-wait flag.
func (s *Stream) Read(p []byte) (int, error) {
	if s.shutRd.Load() {
		return 0, nil
	}
	s.mu.Lock()
	used := s.usedLocked()
	if used == 0 {
		eof := s.shutWr.Load()
		s.mu.Unlock()
		if eof {
			return 0, nil
		}
		s.readerWait.Store(true)
		if s.nonBlock.Load() {
			return 0, errs.New(errs.Again, "ring empty")
		}
		s.writerNotify.Wait()
		return s.Read(p)
	}
	n := uint64(len(p))
	if n > used {
		n = used
	}
	wasFull := s.freeLocked() == 0
	for i := uint64(0); i < n; i++ {
		p[i] = s.buf[(s.r+i)%s.cap()]
	}
	s.r += n
	s.mu.Unlock()

	if wasFull && s.writerWait.CompareAndSwap(true, false) {
		s.readerNotify.Signal()
	}
	return int(n), nil
}

// ShutRd discards further writes at the receive side (spec §4.2).
func (s *Stream) ShutRd() {
	s.shutRd.Store(true)
}

// ShutWr forbids further writes and, once the ring drains, signals
// EOF to the reader.
func (s *Stream) ShutWr() {
	s.shutWr.Store(true)
	if s.readerWait.CompareAndSwap(true, false) {
		s.writerNotify.Signal()
	}
}

// SetError records a channel-level error code surfaced to both peers.
func (s *Stream) SetError(code errs.Code) { s.errCode.Store(int32(code)) }

// Error returns the last recorded error code, or errs.OK.
func (s *Stream) Error() errs.Code { return errs.Code(s.errCode.Load()) }

// ReadableFd returns the fd a poller (e.g. a worker's epoll set) can
// wait on to learn this stream has bytes available, or ok=false if the
// platform notifier backend has no real fd (the portable stub).
func (s *Stream) ReadableFd() (fd int, ok bool) {
	return s.writerNotify.notifyFd()
}

// WritableFd returns the fd a poller can wait on to learn this stream
// has drained below capacity, or ok=false on the portable backend.
func (s *Stream) WritableFd() (fd int, ok bool) {
	return s.readerNotify.notifyFd()
}

// Close releases the stream's notifiers. It does not free the backing
// bytes; the owning Arena allocation is released separately once both
// endpoints have observed the close (spec §3 Channel ownership).
func (s *Stream) Close() error {
	_ = s.writerNotify.Close()
	_ = s.readerNotify.Close()
	return nil
}
