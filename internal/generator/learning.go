package generator

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openperf/corenet/internal/netstack"
	"github.com/openperf/corenet/obs"
)

var learnLog = obs.For("generator.learning")

// LearningState names the ARP/ND resolution state machine's states,
// grounded on learning.hpp's learning_state variant (state_start,
// state_learning, state_done, state_timeout).
type LearningState int

const (
	LearningUnresolved LearningState = iota
	LearningResolving
	LearningResolved
	LearningTimedOut
)

func (s LearningState) String() string {
	switch s {
	case LearningUnresolved:
		return "unresolved"
	case LearningResolving:
		return "resolving"
	case LearningResolved:
		return "resolved"
	case LearningTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

const (
	pollCheckInterval = 1 * time.Second
	maxPollCount      = 30
)

// NextHopSet computes the set of IPv4/IPv6 next hops a generator's
// expanded destinations resolve to, per spec §4.7:
//   - IPv4 with gateway+netmask: on-link destinations pass through,
//     off-link destinations are replaced by the gateway;
//   - IPv4 without gateway/netmask: destinations pass through as-is;
//   - IPv6: destinations pass through; the stack's ND engine picks
//     the next hop.
func NextHopSet(destinations []net.IP, gateway net.IP, netmask net.IPMask) []net.IP {
	seen := make(map[string]bool)
	var out []net.IP
	add := func(ip net.IP) {
		key := ip.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, ip)
		}
	}

	for _, dst := range destinations {
		if dst.To4() == nil {
			add(dst) // IPv6: stack ND engine resolves the next hop
			continue
		}
		if gateway == nil || netmask == nil {
			add(dst)
			continue
		}
		if dst.Mask(netmask).Equal(gateway.Mask(netmask)) {
			add(dst) // on-link
		} else {
			add(gateway) // off-link: go through the gateway
		}
	}
	return out
}

// ResolvedHop is one next-hop address and the MAC address learning
// resolved for it (the zero MAC if resolution timed out).
type ResolvedHop struct {
	Addr net.IP
	MAC  net.HardwareAddr
}

// Learner runs the ARP/ND next-hop resolution state machine for one
// generator start, grounded on learning_state_machine's
// start/poll/stop lifecycle.
type Learner struct {
	stack   netstack.Stack
	ifaceID int

	state   LearningState
	pending []net.IP
	results map[string]net.HardwareAddr

	pollsRemaining int
}

// NewLearner constructs a learner bound to one interface's stack
// queries.
func NewLearner(stack netstack.Stack, ifaceID int) *Learner {
	return &Learner{
		stack:   stack,
		ifaceID: ifaceID,
		state:   LearningUnresolved,
		results: make(map[string]net.HardwareAddr),
	}
}

// State reports the learner's current state.
func (l *Learner) State() LearningState { return l.state }

// Start submits one ARP query (IPv4) or neighbor solicitation (IPv6)
// per address to the stack thread, per spec §4.7, then transitions to
// resolving; Poll rechecks the stack's ARP/ND caches for the results.
func (l *Learner) Start(hops []net.IP) {
	l.pending = append([]net.IP{}, hops...)
	l.pollsRemaining = maxPollCount
	l.state = LearningResolving
	for _, hop := range l.pending {
		if hop.To4() != nil {
			l.stack.SubmitARPQuery(hop)
		} else {
			l.stack.SubmitNDSolicit(hop)
		}
	}
	learnLog.WithField("count", len(hops)).Debug("started address resolution")
}

// Poll checks the stack's ARP/ND caches for each pending address,
// moving resolved entries into results. It should be called roughly
// every poll_check_interval; the caller is responsible for pacing.
// It returns true once the learner has reached a terminal state
// (resolved or timed_out).
func (l *Learner) Poll() bool {
	if l.state != LearningResolving {
		return true
	}

	var remaining []net.IP
	for _, hop := range l.pending {
		var mac net.HardwareAddr
		var ok bool
		if hop.To4() != nil {
			mac, ok = l.stack.ARPLookup(hop)
		} else {
			mac, ok = l.stack.NDLookup(hop)
		}
		if ok {
			l.results[hop.String()] = mac
		} else {
			remaining = append(remaining, hop)
		}
	}
	l.pending = remaining

	if len(l.pending) == 0 {
		l.state = LearningResolved
		learnLog.Debug("address resolution complete")
		return true
	}

	l.pollsRemaining--
	if l.pollsRemaining <= 0 {
		l.state = LearningTimedOut
		learnLog.WithFields(logrus.Fields{"unresolved": len(l.pending)}).Warn("address resolution timed out, falling back to zero MAC")
		return true
	}
	return false
}

// PollInterval is the interval the caller should wait between Poll
// calls.
func (l *Learner) PollInterval() time.Duration { return pollCheckInterval }

// Resolved returns the resolution result for every address the
// learner was started with, substituting the zero MAC for addresses
// that never resolved before timeout.
func (l *Learner) Resolved(hops []net.IP) []ResolvedHop {
	out := make([]ResolvedHop, 0, len(hops))
	for _, hop := range hops {
		mac, ok := l.results[hop.String()]
		if !ok {
			mac = make(net.HardwareAddr, 6) // zero MAC: unresolved at timeout
		}
		out = append(out, ResolvedHop{Addr: hop, MAC: mac})
	}
	return out
}
