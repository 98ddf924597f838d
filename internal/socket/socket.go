package socket

import (
	"net"
	"sync"

	"github.com/openperf/corenet/errs"
	"github.com/openperf/corenet/internal/netstack"
)

// SockType mirrors the BSD socket types this core exposes over the
// control protocol.
type SockType uint16

const (
	SockRaw SockType = iota + 1
	SockDgram
	SockStream
	SockPacket
)

// State is the protocol-agnostic state a Socket's machine can be in;
// not every state applies to every Kind (e.g. RAW/UDP never reach
// Listening), per spec §4.6.
type State int

const (
	StateInit State = iota
	StateBound
	StateListening
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateBound:
		return "bound"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Socket is the server-side object spec §3 defines as
// (id, PCB variant, channel, state): the control-plane counterpart of
// a netstack.PCB, tracked per spec §4.6's state machines.
type Socket struct {
	mu sync.Mutex

	ID    uint32
	Kind  SockType
	State State
	Err   errs.Code

	PCB       *netstack.PCB
	Stack     netstack.Stack
	LastError error

	Options map[optKey][]byte

	// PacketIfaceIndex/PacketEthertype hold the PACKET socket's bind
	// parameters: interface index and Ethertype filter, per §4.6.
	PacketIfaceIndex int
	PacketEthertype  uint16

	// ICMPFilter is only meaningful when Kind==SockRaw and the PCB's
	// protocol is ICMP; bit i set means type i is dropped before
	// reaching the channel.
	ICMPFilter [8]uint32
	isICMP     bool
}

// NewSocket constructs a Socket in StateInit, bound to a freshly
// created PCB of the kind implied by typ/protocol.
func NewSocket(id uint32, typ SockType, protocol int, stack netstack.Stack) (*Socket, error) {
	var kind netstack.PCBKind
	switch typ {
	case SockRaw:
		kind = netstack.PCBRaw
	case SockDgram:
		kind = netstack.PCBUDP
	case SockStream:
		kind = netstack.PCBTCP
	case SockPacket:
		kind = netstack.PCBPacket
	default:
		return nil, errs.New(errs.Invalid, "unknown socket type")
	}
	pcb, err := stack.NewPCB(kind)
	if err != nil {
		return nil, err
	}
	pcb.Protocol = protocol
	const icmpProtocol = 1
	return &Socket{
		ID:     id,
		Kind:   typ,
		State:  StateInit,
		PCB:    pcb,
		Stack:  stack,
		isICMP: typ == SockRaw && protocol == icmpProtocol,
	}, nil
}

// isWildcard reports whether addr is the all-zero / unspecified
// address, used by the RAW/UDP connect-to-wildcard transition.
func isWildcard(addr net.Addr) bool {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP == nil || a.IP.IsUnspecified()
	case *net.TCPAddr:
		return a.IP == nil || a.IP.IsUnspecified()
	default:
		return false
	}
}

// Bind drives the bind transition, identical in shape across RAW, UDP,
// and PACKET, per spec §4.6.
func (s *Socket) Bind(addr net.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != StateInit {
		return errs.New(errs.Invalid, "bind requires state init")
	}
	if err := s.Stack.Bind(s.PCB, addr); err != nil {
		return err
	}
	s.State = StateBound
	return nil
}

// BindPacket drives the PACKET bind transition, capturing the
// interface index and Ethertype filter spec §4.6 describes instead of
// a protocol address.
func (s *Socket) BindPacket(ifaceIndex int, ethertype uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Kind != SockPacket {
		return errs.New(errs.Invalid, "BindPacket is only valid for PACKET sockets")
	}
	if s.State != StateInit {
		return errs.New(errs.Invalid, "bind requires state init")
	}
	s.PacketIfaceIndex = ifaceIndex
	s.PacketEthertype = ethertype
	s.State = StateBound
	return nil
}

// Connect drives RAW/UDP's {init,bound}->connected and
// connected->bound(on wildcard) transitions, and TCP's
// {init,bound}->connecting transition (completed asynchronously by
// the stack's "connected" callback via Socket.OnStackConnected).
func (s *Socket) Connect(addr net.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.Kind {
	case SockStream:
		if s.State != StateInit && s.State != StateBound {
			return errs.New(errs.Invalid, "connect requires state init or bound")
		}
		if err := s.Stack.Connect(s.PCB, addr); err != nil {
			s.State = StateError
			s.Err = errs.CodeOf(err)
			return err
		}
		s.State = StateConnecting
		return nil

	default: // RAW, UDP
		if isWildcard(addr) {
			if s.State != StateConnected {
				return errs.New(errs.Invalid, "connect-to-wildcard requires state connected")
			}
			s.PCB.Remote = nil
			s.State = StateBound
			return nil
		}
		if s.State != StateInit && s.State != StateBound {
			return errs.New(errs.Invalid, "connect requires state init or bound")
		}
		if err := s.Stack.Connect(s.PCB, addr); err != nil {
			return err
		}
		s.State = StateConnected
		return nil
	}
}

// OnStackConnected applies the stack's asynchronous "connected"
// callback for a TCP socket in StateConnecting.
func (s *Socket) OnStackConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Kind == SockStream && s.State == StateConnecting {
		s.State = StateConnected
	}
}

// Listen moves a TCP socket from {init,bound} to listening.
func (s *Socket) Listen(backlog int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Kind != SockStream {
		return errs.New(errs.Invalid, "listen is only valid for stream sockets")
	}
	if s.State != StateInit && s.State != StateBound {
		return errs.New(errs.Invalid, "listen requires state init or bound")
	}
	if err := s.Stack.Listen(s.PCB, backlog); err != nil {
		return err
	}
	s.State = StateListening
	return nil
}

// Accept pulls one completed connection off a listening TCP socket,
// returning a brand-new Socket in StateConnected whose channel the
// caller allocates from the arena.
func (s *Socket) Accept(newID uint32) (*Socket, error) {
	s.mu.Lock()
	if s.State != StateListening {
		s.mu.Unlock()
		return nil, errs.New(errs.Invalid, "accept requires state listening")
	}
	pcb := s.PCB
	stack := s.Stack
	s.mu.Unlock()

	accepted, err := stack.Accept(pcb)
	if err != nil {
		return nil, err
	}
	return &Socket{
		ID:    newID,
		Kind:  SockStream,
		State: StateConnected,
		PCB:   accepted,
		Stack: stack,
	}, nil
}

// Shutdown moves a connected TCP socket to closing; the stack's
// "closed" callback later moves it to closed via OnStackClosed. For
// RAW/UDP/PACKET, shutdown tears the socket down immediately.
func (s *Socket) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Kind == SockStream {
		if s.State != StateConnected {
			return errs.New(errs.Invalid, "shutdown requires state connected")
		}
		s.State = StateClosing
		return nil
	}
	s.State = StateClosed
	return s.Stack.ClosePCB(s.PCB)
}

// OnStackClosed applies the stack's asynchronous "closed" callback.
func (s *Socket) OnStackClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == StateClosing {
		s.State = StateClosed
	}
}

// Close tears the socket down unconditionally (spec §4.6's close
// semantics: flush unflushed TX, then free channel storage — channel
// teardown itself is the caller's responsibility once this returns).
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateClosed
	return s.Stack.ClosePCB(s.PCB)
}

// FilterICMP reports whether an inbound ICMP frame of the given type
// must be dropped before it reaches the channel, per spec §4.6's ICMP
// specialization.
func (s *Socket) FilterICMP(icmpType uint8) bool {
	if !s.isICMP {
		return false
	}
	word := icmpType / 32
	bit := icmpType % 32
	return s.ICMPFilter[word]&(1<<bit) != 0
}

// TCPInfoSnapshot builds a TCPInfo reflecting what this socket
// actually knows: state and, when backed by a live PCB, the fields
// the loopback stack can populate. Fields the stack cannot derive
// stay zero.
func (s *Socket) TCPInfoSnapshot() TCPInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TCPInfo{State: uint8(s.PCB.State)}
}
