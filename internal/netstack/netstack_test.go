package netstack

import (
	"net"
	"testing"
)

func validConfig(mac string, ip string, prefix int) InterfaceConfig {
	m, _ := net.ParseMAC(mac)
	return InterfaceConfig{
		Eth: EthConfig{MAC: m},
		IPv4: &IPv4Config{
			Mode:      AddrStatic,
			Address:   net.ParseIP(ip),
			PrefixLen: prefix,
		},
	}
}

func TestValidateRejectsBroadcastMAC(t *testing.T) {
	cfg := validConfig("ff:ff:ff:ff:ff:ff", "10.0.0.5", 24)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for broadcast MAC")
	}
}

func TestValidateRejectsMulticastMAC(t *testing.T) {
	cfg := validConfig("01:00:5e:00:00:01", "10.0.0.5", 24)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for multicast (group bit set) MAC")
	}
}

func TestValidateRejectsLoopbackIPv4(t *testing.T) {
	cfg := validConfig("02:00:00:00:00:01", "127.0.0.1", 8)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for loopback IPv4 address")
	}
}

func TestValidateRejectsGatewayOutsideSubnet(t *testing.T) {
	cfg := validConfig("02:00:00:00:00:01", "10.0.0.5", 24)
	cfg.IPv4.Gateway = net.ParseIP("192.168.1.1")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for gateway outside the address's subnet")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig("02:00:00:00:00:01", "10.0.0.5", 24)
	cfg.IPv4.Gateway = net.ParseIP("10.0.0.1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: unexpected error %v", err)
	}
}

func TestValidateRejectsLinkLocalOutsideFe80(t *testing.T) {
	cfg := InterfaceConfig{
		Eth: EthConfig{MAC: mustMAC("02:00:00:00:00:01")},
		IPv6: &IPv6Config{
			Mode:      AddrStatic,
			Address:   net.ParseIP("2001:db8::1"),
			PrefixLen: 64,
			LinkLocal: net.ParseIP("2001:db8::2"),
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for link-local address outside fe80::/10")
	}
}

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func TestChecksumOffloadMaskIsComplemented(t *testing.T) {
	o := OffloadMask{RXVerify: ChecksumIPv4 | ChecksumTCP, TXGenerate: ChecksumUDP}
	m := o.Derive()
	if m.Verify&ChecksumIPv4 != 0 || m.Verify&ChecksumTCP != 0 {
		t.Fatalf("stack must not re-verify checksums the NIC already verifies")
	}
	if m.Verify&ChecksumUDP == 0 || m.Verify&ChecksumICMP == 0 {
		t.Fatalf("stack must still verify checksums the NIC does not offload")
	}
	if m.Generate&ChecksumUDP != 0 {
		t.Fatalf("stack must not regenerate a checksum the NIC already generates")
	}
}

func TestLoopbackUDPSendRecvRoundTrip(t *testing.T) {
	s := NewLoopbackStack()
	client, _ := s.NewPCB(PCBUDP)
	server, _ := s.NewPCB(PCBUDP)

	serverAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}
	clientAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9002}

	if err := s.Bind(server, serverAddr); err != nil {
		t.Fatalf("Bind server: %v", err)
	}
	if err := s.Bind(client, clientAddr); err != nil {
		t.Fatalf("Bind client: %v", err)
	}

	if _, err := s.Send(client, []byte("ping"), serverAddr); err != nil {
		t.Fatalf("Send: %v", err)
	}

	payload, from, err := s.Recv(server)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload) != "ping" {
		t.Fatalf("Recv payload = %q, want %q", payload, "ping")
	}
	if from.String() != clientAddr.String() {
		t.Fatalf("Recv from = %v, want %v", from, clientAddr)
	}
}

func TestLoopbackTCPListenConnectAccept(t *testing.T) {
	s := NewLoopbackStack()
	listener, _ := s.NewPCB(PCBTCP)
	listenAddr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9100}

	if err := s.Bind(listener, listenAddr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := s.Listen(listener, 4); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client, _ := s.NewPCB(PCBTCP)
	clientAddr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9101}
	if err := s.Bind(client, clientAddr); err != nil {
		t.Fatalf("Bind client: %v", err)
	}
	if err := s.Connect(client, listenAddr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if client.State != TCPEstablished {
		t.Fatalf("client state = %v, want TCPEstablished", client.State)
	}

	accepted, err := s.Accept(listener)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.State != TCPEstablished {
		t.Fatalf("accepted state = %v, want TCPEstablished", accepted.State)
	}
}

func TestLoopbackConnectWithoutListenerFails(t *testing.T) {
	s := NewLoopbackStack()
	client, _ := s.NewPCB(PCBTCP)
	if err := s.Connect(client, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}); err == nil {
		t.Fatalf("expected error connecting to an address with no listener")
	}
}

func TestARPInsertAndLookup(t *testing.T) {
	s := NewLoopbackStack()
	ip := net.ParseIP("10.0.0.1")
	mac := mustMAC("02:00:00:00:00:01")
	s.ARPInsert(ip, mac)
	got, ok := s.ARPLookup(ip)
	if !ok || got.String() != mac.String() {
		t.Fatalf("ARPLookup = %v, %v; want %v, true", got, ok, mac)
	}
}
