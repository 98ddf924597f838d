package generator

import (
	"container/heap"
	"time"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"

	"github.com/openperf/corenet/obs"
)

var schedLog = obs.For("generator.scheduler")

// SchedulerState names the TX scheduler's finite-state-machine states,
// grounded on tx_scheduler.hpp's schedule::state variant.
type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StateLinkCheck
	StateRunning
	StateBlocked
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLinkCheck:
		return "link_check"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

const (
	idlePoll      = 100 * time.Millisecond
	linkCheckPoll = 100 * time.Microsecond
	reschedulePoll = 100 * time.Millisecond
	blockPoll     = 100 * time.Nanosecond
)

// SourceKey identifies one generator's feed into a TX scheduler; it
// mirrors tib.TxKey's role of naming a per-port, per-queue source.
type SourceKey struct {
	Port, Queue int
	SourceID    uint32
}

// scheduleEntry is one (deadline, source) pair in the scheduler's
// min-heap, grounded on schedule::entry with std::greater<> ordering.
type scheduleEntry struct {
	deadline time.Time
	key      SourceKey
	index    int
}

type entryHeap []*scheduleEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) {
	e := x.(*scheduleEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Source is a generator feed the scheduler pulls bursts from.
type Source interface {
	Key() SourceKey
	Active() bool
	// PullBurst returns up to burstSize frames and the interval by
	// which the source's next burst deadline advances, derived from
	// its configured packet rate.
	PullBurst(burstSize int) (frames [][]byte, interval time.Duration)
}

// TXSink is the hardware queue a scheduler transmits bursts to. It
// reports back how many frames it actually accepted so the scheduler
// can detect a full hardware queue and enter the blocked state.
type TXSink interface {
	LinkUp() bool
	TransmitBurst(frames [][]byte) (accepted int)
}

// clockSource abstracts time.Now so tests can control deadlines
// precisely without sleeping.
type clockSource func() time.Time

// Scheduler is a per-port, per-queue TX scheduler implementing the
// idle/link_check/running/blocked state machine from spec §4.7.
type Scheduler struct {
	sink  TXSink
	clock clockSource

	state SchedulerState
	heap  entryHeap
	fresh *queue.Queue // newly-activated sources pending insertion

	burstSize int

	nextReschedule time.Time

	blockedRemaining int
	blockedEntry     *scheduleEntry
	blockedFrames    [][]byte

	sources map[SourceKey]Source
}

// NewScheduler constructs an idle scheduler for one port-queue pair.
func NewScheduler(sink TXSink, burstSize int) *Scheduler {
	return &Scheduler{
		sink:      sink,
		clock:     time.Now,
		state:     StateIdle,
		fresh:     queue.New(),
		burstSize: burstSize,
		sources:   make(map[SourceKey]Source),
	}
}

// AddSource registers a source as newly active; it is picked up on
// the scheduler's next tick.
func (s *Scheduler) AddSource(src Source) {
	s.sources[src.Key()] = src
	s.fresh.Add(src.Key())
}

// State reports the scheduler's current state, chiefly for tests and
// diagnostics.
func (s *Scheduler) State() SchedulerState { return s.state }

// NextPoll returns how long the caller should wait before calling Run
// again, matching each state's documented poll interval.
func (s *Scheduler) NextPoll() time.Duration {
	switch s.state {
	case StateIdle:
		return idlePoll
	case StateLinkCheck:
		return linkCheckPoll
	case StateBlocked:
		return blockPoll
	case StateRunning:
		return s.runningInterval()
	default:
		return idlePoll
	}
}

func (s *Scheduler) runningInterval() time.Duration {
	now := s.clock()
	next := s.nextReschedule
	if len(s.heap) > 0 {
		top := s.heap[0].deadline
		if top.Before(next) {
			next = top
		}
	}
	d := next.Sub(now)
	if d < time.Nanosecond {
		d = time.Nanosecond
	}
	return d
}

// Run advances the state machine by one tick. It is the sole entry
// point a worker's TX-scheduler task invokes on each loop iteration.
func (s *Scheduler) Run() {
	switch s.state {
	case StateIdle:
		s.runIdle()
	case StateLinkCheck:
		s.runLinkCheck()
	case StateRunning:
		s.runRunning()
	case StateBlocked:
		s.runBlocked()
	}
}

func (s *Scheduler) runIdle() {
	if s.fresh.Length() == 0 {
		return
	}
	if s.sink.LinkUp() {
		s.transitionTo(StateRunning)
	} else {
		s.transitionTo(StateLinkCheck)
	}
}

func (s *Scheduler) runLinkCheck() {
	if s.sink.LinkUp() {
		s.transitionTo(StateRunning)
	}
}

func (s *Scheduler) runRunning() {
	now := s.clock()

	if now.After(s.nextReschedule) || now.Equal(s.nextReschedule) {
		s.drainFresh(now)
		s.nextReschedule = s.nextReschedule.Add(reschedulePoll)
	}

	for len(s.heap) > 0 && !s.heap[0].deadline.After(now) {
		entry := heap.Pop(&s.heap).(*scheduleEntry)
		src, ok := s.sources[entry.key]
		if !ok || !src.Active() {
			continue
		}
		frames, interval := src.PullBurst(s.burstSize)
		if len(frames) == 0 {
			continue
		}
		accepted := s.sink.TransmitBurst(frames)
		if accepted < len(frames) {
			s.blockedRemaining = len(frames) - accepted
			s.blockedFrames = frames[accepted:]
			s.blockedEntry = &scheduleEntry{
				deadline: entry.deadline.Add(interval),
				key:      entry.key,
			}
			s.transitionTo(StateBlocked)
			return
		}
		entry.deadline = entry.deadline.Add(interval)
		heap.Push(&s.heap, entry)
	}

	if !s.sink.LinkUp() {
		s.transitionTo(StateLinkCheck)
	}
}

func (s *Scheduler) runBlocked() {
	accepted := s.sink.TransmitBurst(s.blockedFrames)
	if accepted < len(s.blockedFrames) {
		s.blockedFrames = s.blockedFrames[accepted:]
		return
	}
	s.blockedFrames = nil
	heap.Push(&s.heap, s.blockedEntry)
	s.blockedEntry = nil
	s.transitionTo(StateRunning)
}

func (s *Scheduler) drainFresh(now time.Time) {
	for s.fresh.Length() > 0 {
		key := s.fresh.Peek().(SourceKey)
		s.fresh.Remove()
		heap.Push(&s.heap, &scheduleEntry{deadline: now, key: key})
	}
}

func (s *Scheduler) transitionTo(next SchedulerState) {
	schedLog.WithFields(logrus.Fields{"from": s.state.String(), "to": next.String()}).Trace("tx scheduler state transition")
	s.state = next
	switch next {
	case StateLinkCheck:
		s.heap = nil
		for s.fresh.Length() > 0 {
			s.fresh.Remove()
		}
	case StateRunning:
		now := s.clock()
		s.nextReschedule = now.Add(reschedulePoll)
		s.drainFresh(now)
	}
}
