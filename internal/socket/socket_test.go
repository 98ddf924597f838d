package socket

import (
	"net"
	"testing"

	"github.com/openperf/corenet/errs"
	"github.com/openperf/corenet/internal/netstack"
)

func TestUDPBindConnectWildcardReturnsToBound(t *testing.T) {
	stack := netstack.NewLoopbackStack()
	s, err := NewSocket(1, SockDgram, 17, stack)
	if err != nil {
		t.Fatalf("NewSocket: %v", err)
	}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}
	if err := s.Bind(addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if s.State != StateBound {
		t.Fatalf("state = %v, want bound", s.State)
	}

	peer := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5001}
	if err := s.Connect(peer); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.State != StateConnected {
		t.Fatalf("state = %v, want connected", s.State)
	}

	if err := s.Connect(&net.UDPAddr{}); err != nil {
		t.Fatalf("Connect(wildcard): %v", err)
	}
	if s.State != StateBound {
		t.Fatalf("state after wildcard connect = %v, want bound", s.State)
	}
}

func TestTCPListenConnectAcceptStateMachine(t *testing.T) {
	stack := netstack.NewLoopbackStack()
	listener, err := NewSocket(1, SockStream, 6, stack)
	if err != nil {
		t.Fatalf("NewSocket: %v", err)
	}
	listenAddr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6000}
	if err := listener.Bind(listenAddr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := listener.Listen(8); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if listener.State != StateListening {
		t.Fatalf("state = %v, want listening", listener.State)
	}

	client, _ := NewSocket(2, SockStream, 6, stack)
	if err := client.Bind(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6001}); err != nil {
		t.Fatalf("Bind client: %v", err)
	}
	if err := client.Connect(listenAddr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if client.State != StateConnecting {
		t.Fatalf("client state = %v, want connecting", client.State)
	}
	client.OnStackConnected()
	if client.State != StateConnected {
		t.Fatalf("client state = %v, want connected", client.State)
	}

	accepted, err := listener.Accept(3)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.State != StateConnected {
		t.Fatalf("accepted state = %v, want connected", accepted.State)
	}

	if err := accepted.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if accepted.State != StateClosing {
		t.Fatalf("state = %v, want closing", accepted.State)
	}
	accepted.OnStackClosed()
	if accepted.State != StateClosed {
		t.Fatalf("state = %v, want closed", accepted.State)
	}
}

func TestSetSockOptUnknownOptionReturnsNoProtoOpt(t *testing.T) {
	stack := netstack.NewLoopbackStack()
	s, _ := NewSocket(1, SockDgram, 17, stack)
	err := dispatchSetOpt(s, OptLevel(99), OptName(99), []byte{1})
	if errs.CodeOf(err) != errs.NoProtoOpt {
		t.Fatalf("CodeOf(err) = %v, want NoProtoOpt", errs.CodeOf(err))
	}
}

func TestICMPFilterDropsConfiguredType(t *testing.T) {
	stack := netstack.NewLoopbackStack()
	s, _ := NewSocket(1, SockRaw, 1 /* ICMP */, stack)
	// Block ICMP type 8 (echo request): word 0, bit 8.
	payload := make([]byte, 32)
	var filterWord uint32 = 1 << 8
	payload[0] = byte(filterWord >> 24)
	payload[1] = byte(filterWord >> 16)
	payload[2] = byte(filterWord >> 8)
	payload[3] = byte(filterWord)

	if err := dispatchSetOpt(s, IPPROTO_RAW, SOL_RAW_ICMP_FILTER, payload); err != nil {
		t.Fatalf("dispatchSetOpt: %v", err)
	}
	if !s.FilterICMP(8) {
		t.Fatalf("expected ICMP type 8 to be filtered")
	}
	if s.FilterICMP(0) {
		t.Fatalf("expected ICMP type 0 to pass through unfiltered")
	}
}

func TestGetSockOptReturnsSocketType(t *testing.T) {
	stack := netstack.NewLoopbackStack()
	s, _ := NewSocket(1, SockStream, 6, stack)
	opt, n, err := dispatchGetOpt(s, SOL_SOCKET, SO_TYPE)
	if err != nil {
		t.Fatalf("dispatchGetOpt: %v", err)
	}
	if n != 4 {
		t.Fatalf("OptLen = %d, want 4", n)
	}
	got := uint32(opt[0])<<24 | uint32(opt[1])<<16 | uint32(opt[2])<<8 | uint32(opt[3])
	if SockType(got) != SockStream {
		t.Fatalf("SO_TYPE = %v, want SockStream", got)
	}
}
