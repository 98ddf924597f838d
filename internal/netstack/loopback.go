package netstack

import (
	"context"
	"crypto/sha1"
	"net"
	"sync"
	"time"

	"github.com/openperf/corenet/errs"
)

// loopbackStack is a Go-native reference Stack: a single process's
// in-memory approximation of a dual-stack IPv4/IPv6 engine, exactly
// sufficient to drive the socket-server and generator state machines
// end to end. It delivers UDP/RAW/PACKET sends to any PCB bound to
// the matching local address within the same Stack instance, and
// completes TCP connects against a matching listener the same way a
// real loopback interface would. A production deployment substitutes
// a cgo binding of a real network stack behind the same Stack
// interface; that binding is out of scope here.
type loopbackStack struct {
	thread *stackThread

	mu          sync.Mutex
	interfaces  map[int]*Interface
	nextIface   int
	ext         *netifExtMap
	arp         map[string]net.HardwareAddr
	nd          map[string]net.HardwareAddr
	inflight    map[string]bool
	udpBound    map[string]*pcbQueue
	rawBound    map[string]*pcbQueue
	tcpListen   map[string]*PCB
}

// resolutionLatency approximates the RTT of a real ARP/ND exchange on
// a loopback-only stack, so Learner.Poll's periodic recheck has
// something to observe rather than resolving synchronously within
// SubmitARPQuery/SubmitNDSolicit.
const resolutionLatency = 10 * time.Millisecond

// pseudoMAC derives a deterministic, locally-administered MAC address
// from ip, standing in for whatever a real peer's ARP/ND reply would
// carry. The loopback stack has no real L2 neighbor to ask, so it
// manufactures a stable answer instead of leaving resolution
// unreachable.
func pseudoMAC(ip net.IP) net.HardwareAddr {
	sum := sha1.Sum([]byte(ip.String()))
	mac := make(net.HardwareAddr, 6)
	copy(mac, sum[:6])
	mac[0] = (mac[0] &^ 0x01) | 0x02 // locally administered, unicast
	return mac
}

type pcbQueue struct {
	pcb   *PCB
	mu    sync.Mutex
	items []inboundDatagram
}

type inboundDatagram struct {
	payload []byte
	from    net.Addr
}

// NewLoopbackStack constructs an empty loopback reference stack.
func NewLoopbackStack() Stack {
	return &loopbackStack{
		thread:    newStackThread(),
		interfaces: make(map[int]*Interface),
		ext:       newNetifExtMap(),
		arp:       make(map[string]net.HardwareAddr),
		nd:        make(map[string]net.HardwareAddr),
		inflight:  make(map[string]bool),
		udpBound:  make(map[string]*pcbQueue),
		rawBound:  make(map[string]*pcbQueue),
		tcpListen: make(map[string]*PCB),
	}
}

func (s *loopbackStack) AddInterface(cfg InterfaceConfig, port int) (*Interface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var out *Interface
	var outErr error
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := s.nextIface
		s.nextIface++
		iface := &Interface{ID: id, Port: port, Config: cfg}
		s.interfaces[id] = iface
		if cfg.IPv6 != nil {
			s.ext.set(id, &NetifExt{IPv6PrefixLen: cfg.IPv6.PrefixLen, IPv6Gateway: cfg.IPv6.Gateway})
		}
		out = iface
	})
	return out, outErr
}

func (s *loopbackStack) RemoveInterface(ifaceID int) error {
	var outErr error
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.interfaces[ifaceID]; !ok {
			outErr = errs.New(errs.NotFound, "interface not found")
			return
		}
		delete(s.interfaces, ifaceID)
		s.ext.delete(ifaceID)
	})
	return outErr
}

func (s *loopbackStack) SetUp(ifaceID int, up bool) error {
	return s.withInterface(ifaceID, func(i *Interface) { i.Up = up })
}

func (s *loopbackStack) SetLinkUp(ifaceID int, up bool) error {
	return s.withInterface(ifaceID, func(i *Interface) { i.LinkUp = up })
}

func (s *loopbackStack) withInterface(ifaceID int, fn func(*Interface)) error {
	var outErr error
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		i, ok := s.interfaces[ifaceID]
		if !ok {
			outErr = errs.New(errs.NotFound, "interface not found")
			return
		}
		fn(i)
	})
	return outErr
}

// Input delivers a raw frame as if received on ifaceID. The loopback
// stack does not parse frame contents; PACKET PCBs and analyzers
// consume raw frames through the FIB/dispatch layer instead, so this
// exists to satisfy the Stack contract and to let tests assert an
// interface is reachable.
func (s *loopbackStack) Input(frame []byte, ifaceID int) error {
	var outErr error
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.interfaces[ifaceID]; !ok {
			outErr = errs.New(errs.NotFound, "interface not found")
		}
	})
	return outErr
}

func (s *loopbackStack) NewPCB(kind PCBKind) (*PCB, error) {
	return NewPCB(kind), nil
}

func (s *loopbackStack) Bind(p *PCB, addr net.Addr) error {
	var outErr error
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		p.Local = addr
		switch p.Kind {
		case PCBUDP, PCBTCP:
			s.udpBound[addr.String()] = &pcbQueue{pcb: p}
		case PCBRaw, PCBPacket:
			s.rawBound[addr.String()] = &pcbQueue{pcb: p}
		}
	})
	return outErr
}

func (s *loopbackStack) Connect(p *PCB, addr net.Addr) error {
	var outErr error
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if p.Kind == PCBTCP {
			listener, ok := s.tcpListen[addr.String()]
			if !ok {
				outErr = errs.New(errs.NotConn, "no listener at address")
				return
			}
			p.Remote = addr
			p.State = TCPEstablished
			accepted := &PCB{
				Kind:   PCBTCP,
				Local:  listener.Local,
				Remote: p.Local,
				State:  TCPEstablished,
				Options: defaultPCBOptions(),
			}
			listener.backlog = append(listener.backlog, accepted)
			return
		}
		p.Remote = addr
	})
	return outErr
}

func (s *loopbackStack) Listen(p *PCB, backlog int) error {
	if p.Kind != PCBTCP {
		return errs.New(errs.Invalid, "listen is only valid for TCP PCBs")
	}
	var outErr error
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if p.Local == nil {
			outErr = errs.New(errs.Invalid, "listen requires a bound local address")
			return
		}
		p.State = TCPListen
		s.tcpListen[p.Local.String()] = p
	})
	return outErr
}

func (s *loopbackStack) Accept(p *PCB) (*PCB, error) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		var accepted *PCB
		s.thread.submit(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if len(p.backlog) > 0 {
				accepted = p.backlog[0]
				p.backlog = p.backlog[1:]
			}
		})
		if accepted != nil {
			return accepted, nil
		}
		if time.Now().After(deadline) {
			return nil, errs.New(errs.Timeout, "accept timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *loopbackStack) Send(p *PCB, payload []byte, addr net.Addr) (int, error) {
	target := addr
	if target == nil {
		target = p.Remote
	}
	if target == nil {
		return 0, errs.New(errs.Invalid, "send requires a destination address")
	}

	var n int
	var outErr error
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		var q *pcbQueue
		switch p.Kind {
		case PCBUDP:
			q = s.udpBound[target.String()]
		case PCBRaw, PCBPacket:
			q = s.rawBound[target.String()]
		case PCBTCP:
			// Loopback TCP delivery is modeled as immediate, ordered
			// enqueue onto the peer's receive queue; real segment
			// reassembly is the production stack's job, out of scope.
			q = s.udpBound[target.String()]
		}
		if q == nil {
			outErr = errs.New(errs.NotConn, "no listener at destination address")
			return
		}
		q.mu.Lock()
		q.items = append(q.items, inboundDatagram{payload: append([]byte{}, payload...), from: p.Local})
		q.mu.Unlock()
		n = len(payload)
	})
	return n, outErr
}

func (s *loopbackStack) Recv(p *PCB) (payload []byte, from net.Addr, err error) {
	var q *pcbQueue
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if p.Local == nil {
			return
		}
		switch p.Kind {
		case PCBUDP, PCBTCP:
			q = s.udpBound[p.Local.String()]
		case PCBRaw, PCBPacket:
			q = s.rawBound[p.Local.String()]
		}
	})
	if q == nil {
		return nil, nil, errs.New(errs.Again, "no data available")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil, errs.New(errs.Again, "no data available")
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d.payload, d.from, nil
}

func (s *loopbackStack) ClosePCB(p *PCB) error {
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if p.Local != nil {
			delete(s.udpBound, p.Local.String())
			delete(s.rawBound, p.Local.String())
			delete(s.tcpListen, p.Local.String())
		}
		p.State = TCPClosed
	})
	return nil
}

func (s *loopbackStack) ARPLookup(ip net.IP) (net.HardwareAddr, bool) {
	var mac net.HardwareAddr
	var ok bool
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		mac, ok = s.arp[ip.String()]
	})
	return mac, ok
}

func (s *loopbackStack) ARPInsert(ip net.IP, mac net.HardwareAddr) {
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.arp[ip.String()] = mac
	})
}

func (s *loopbackStack) NDLookup(ip net.IP) (net.HardwareAddr, bool) {
	var mac net.HardwareAddr
	var ok bool
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		mac, ok = s.nd[ip.String()]
	})
	return mac, ok
}

func (s *loopbackStack) NDInsert(ip net.IP, mac net.HardwareAddr) {
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.nd[ip.String()] = mac
	})
}

// SubmitARPQuery starts (or no-ops onto) an in-flight ARP resolution
// for ip, landing a result in the ARP cache after resolutionLatency.
func (s *loopbackStack) SubmitARPQuery(ip net.IP) {
	s.submitResolution(ip, s.arp)
}

// SubmitNDSolicit starts (or no-ops onto) an in-flight neighbor
// solicitation for ip, landing a result in the ND cache after
// resolutionLatency.
func (s *loopbackStack) SubmitNDSolicit(ip net.IP) {
	s.submitResolution(ip, s.nd)
}

func (s *loopbackStack) submitResolution(ip net.IP, cache map[string]net.HardwareAddr) {
	key := ip.String()
	var start bool
	s.thread.submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, resolved := cache[key]; resolved || s.inflight[key] {
			return
		}
		s.inflight[key] = true
		start = true
	})
	if !start {
		return
	}
	go func() {
		time.Sleep(resolutionLatency)
		mac := pseudoMAC(ip)
		s.thread.submit(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			cache[key] = mac
			delete(s.inflight, key)
		})
	}()
}

// Close stops the stack thread, for orderly shutdown.
func (s *loopbackStack) Close(ctx context.Context) error {
	return s.thread.Close(ctx)
}
