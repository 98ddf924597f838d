package generator

import (
	"testing"
	"time"
)

type fakeSource struct {
	key      SourceKey
	active   bool
	interval time.Duration
	bursts   [][][]byte
	pulled   int
}

func (f *fakeSource) Key() SourceKey { return f.key }
func (f *fakeSource) Active() bool   { return f.active }
func (f *fakeSource) PullBurst(burstSize int) ([][]byte, time.Duration) {
	if f.pulled >= len(f.bursts) {
		return nil, f.interval
	}
	b := f.bursts[f.pulled]
	f.pulled++
	return b, f.interval
}

type fakeSink struct {
	linkUp    bool
	accept    int // -1 means accept everything
	sent      [][]byte
}

func (f *fakeSink) LinkUp() bool { return f.linkUp }
func (f *fakeSink) TransmitBurst(frames [][]byte) int {
	n := len(frames)
	if f.accept >= 0 && f.accept < n {
		n = f.accept
	}
	f.sent = append(f.sent, frames[:n]...)
	return n
}

func TestSchedulerIdleTransitionsToLinkCheckWhenLinkDown(t *testing.T) {
	sink := &fakeSink{linkUp: false, accept: -1}
	s := NewScheduler(sink, 4)
	src := &fakeSource{key: SourceKey{Port: 0, Queue: 0, SourceID: 1}, active: true, bursts: [][][]byte{{[]byte("a")}}}
	s.AddSource(src)

	s.Run()
	if s.State() != StateLinkCheck {
		t.Fatalf("state = %v, want link_check", s.State())
	}
}

func TestSchedulerIdleTransitionsToRunningWhenLinkUp(t *testing.T) {
	sink := &fakeSink{linkUp: true, accept: -1}
	s := NewScheduler(sink, 4)
	src := &fakeSource{key: SourceKey{Port: 0, Queue: 0, SourceID: 1}, active: true, bursts: [][][]byte{{[]byte("a")}}}
	s.AddSource(src)

	s.Run()
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want running", s.State())
	}
}

func TestSchedulerLinkCheckMovesToRunningOnceLinkComesUp(t *testing.T) {
	sink := &fakeSink{linkUp: false, accept: -1}
	s := NewScheduler(sink, 4)
	src := &fakeSource{key: SourceKey{Port: 0, Queue: 0, SourceID: 1}, active: true}
	s.AddSource(src)
	s.Run()
	if s.State() != StateLinkCheck {
		t.Fatalf("state = %v, want link_check", s.State())
	}
	sink.linkUp = true
	s.Run()
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want running", s.State())
	}
}

func TestSchedulerRunningTransmitsDueEntries(t *testing.T) {
	sink := &fakeSink{linkUp: true, accept: -1}
	s := NewScheduler(sink, 4)
	frame := []byte("frame")
	src := &fakeSource{
		key:      SourceKey{Port: 0, Queue: 0, SourceID: 1},
		active:   true,
		interval: time.Hour, // far enough that it won't refire within the test
		bursts:   [][][]byte{{frame}},
	}
	s.AddSource(src)

	frozen := time.Now()
	s.clock = func() time.Time { return frozen }
	s.Run() // idle -> running, drains fresh with deadline == now

	s.Run() // running tick: due entry (deadline == now) fires
	if len(sink.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sink.sent))
	}
}

func TestSchedulerBlocksWhenSinkRejectsFrames(t *testing.T) {
	sink := &fakeSink{linkUp: true, accept: 0}
	s := NewScheduler(sink, 4)
	src := &fakeSource{
		key:      SourceKey{Port: 0, Queue: 0, SourceID: 1},
		active:   true,
		interval: time.Hour,
		bursts:   [][][]byte{{[]byte("a"), []byte("b")}},
	}
	s.AddSource(src)
	frozen := time.Now()
	s.clock = func() time.Time { return frozen }
	s.Run() // -> running
	s.Run() // attempts transmit, sink rejects everything -> blocked
	if s.State() != StateBlocked {
		t.Fatalf("state = %v, want blocked", s.State())
	}

	sink.accept = -1
	s.Run() // blocked: drains remaining buffer, returns to running
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want running", s.State())
	}
	if len(sink.sent) != 2 {
		t.Fatalf("sent %d frames total, want 2", len(sink.sent))
	}
}

func TestSchedulerDeadlinesAdvanceFromPreviousDeadlineNotClock(t *testing.T) {
	sink := &fakeSink{linkUp: true, accept: -1}
	s := NewScheduler(sink, 4)
	src := &fakeSource{
		key:      SourceKey{Port: 0, Queue: 0, SourceID: 1},
		active:   true,
		interval: 10 * time.Millisecond,
		bursts:   [][][]byte{{[]byte("a")}, {[]byte("b")}, {[]byte("c")}},
	}
	s.AddSource(src)

	base := time.Now()
	clockTime := base
	s.clock = func() time.Time { return clockTime }

	s.Run() // -> running, entry deadline = base
	s.Run() // fires first entry, reschedules to base+10ms

	if len(s.heap) != 1 {
		t.Fatalf("heap length = %d, want 1", len(s.heap))
	}
	want := base.Add(10 * time.Millisecond)
	if !s.heap[0].deadline.Equal(want) {
		t.Fatalf("next deadline = %v, want %v (drift-free from previous deadline)", s.heap[0].deadline, want)
	}
}
