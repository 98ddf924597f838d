package generator

import (
	"net"
	"testing"
	"time"

	"github.com/openperf/corenet/internal/netstack"
)

func TestNextHopSetOnLinkPassesThrough(t *testing.T) {
	_, netmask, _ := net.ParseCIDR("192.168.1.0/24")
	gw := net.ParseIP("192.168.1.1")
	dst := net.ParseIP("192.168.1.50")

	hops := NextHopSet([]net.IP{dst}, gw, netmask.Mask)
	if len(hops) != 1 || !hops[0].Equal(dst) {
		t.Fatalf("NextHopSet = %v, want on-link destination unchanged", hops)
	}
}

func TestNextHopSetOffLinkUsesGateway(t *testing.T) {
	_, netmask, _ := net.ParseCIDR("192.168.1.0/24")
	gw := net.ParseIP("192.168.1.1")
	dst := net.ParseIP("10.0.0.50")

	hops := NextHopSet([]net.IP{dst}, gw, netmask.Mask)
	if len(hops) != 1 || !hops[0].Equal(gw) {
		t.Fatalf("NextHopSet = %v, want gateway for off-link destination", hops)
	}
}

func TestNextHopSetWithoutGatewayPassesThrough(t *testing.T) {
	dst := net.ParseIP("10.0.0.50")
	hops := NextHopSet([]net.IP{dst}, nil, nil)
	if len(hops) != 1 || !hops[0].Equal(dst) {
		t.Fatalf("NextHopSet = %v, want destination unchanged", hops)
	}
}

func TestLearnerResolvesViaSubmittedARPQuery(t *testing.T) {
	stack := netstack.NewLoopbackStack()
	hop := net.ParseIP("192.168.1.50")

	l := NewLearner(stack, 0)
	l.Start([]net.IP{hop}) // submits the ARP query itself; nothing pre-seeds the cache

	deadline := time.Now().Add(2 * time.Second)
	terminal := false
	for time.Now().Before(deadline) {
		if l.Poll() {
			terminal = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !terminal {
		t.Fatalf("expected the submitted ARP query to resolve before timeout")
	}
	if l.State() != LearningResolved {
		t.Fatalf("state = %v, want resolved", l.State())
	}
	resolved := l.Resolved([]net.IP{hop})
	zero := make(net.HardwareAddr, 6)
	if len(resolved) != 1 || resolved[0].MAC.String() == zero.String() {
		t.Fatalf("Resolved() = %+v, want a non-zero resolved MAC", resolved)
	}
}

// neverResolvingStack wraps a real loopback stack but swallows every
// ARP/ND submission, modeling a next hop that never answers so
// Learner's timeout path is exercised deterministically instead of
// racing a real stack's resolution latency.
type neverResolvingStack struct {
	netstack.Stack
}

func (neverResolvingStack) SubmitARPQuery(net.IP)  {}
func (neverResolvingStack) SubmitNDSolicit(net.IP) {}

func TestLearnerTimesOutAfterMaxPollsAndDegradesToZeroMAC(t *testing.T) {
	stack := neverResolvingStack{Stack: netstack.NewLoopbackStack()}
	hop := net.ParseIP("192.168.1.99")

	l := NewLearner(stack, 0)
	l.Start([]net.IP{hop})

	terminal := false
	for i := 0; i < maxPollCount; i++ {
		if l.Poll() {
			terminal = true
			break
		}
	}
	if !terminal {
		t.Fatalf("expected learner to reach a terminal state within %d polls", maxPollCount)
	}
	if l.State() != LearningTimedOut {
		t.Fatalf("state = %v, want timed_out", l.State())
	}

	resolved := l.Resolved([]net.IP{hop})
	zero := make(net.HardwareAddr, 6)
	if resolved[0].MAC.String() != zero.String() {
		t.Fatalf("unresolved hop MAC = %v, want zero MAC", resolved[0].MAC)
	}
}
