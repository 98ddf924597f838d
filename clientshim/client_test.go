package clientshim

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/openperf/corenet/errs"
	"github.com/openperf/corenet/internal/arena"
	"github.com/openperf/corenet/internal/netstack"
	"github.com/openperf/corenet/internal/socket"
)

func startTestServer(t *testing.T) (serverPath string, stop func()) {
	t.Helper()
	dir := t.TempDir()
	serverPath = filepath.Join(dir, "corenet.sock")
	a := arena.New(1 << 16)
	stack := netstack.NewLoopbackStack()
	srv, err := socket.NewServer(serverPath, a, stack)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Serve()
	return serverPath, func() { srv.Shutdown() }
}

func newTestClient(t *testing.T, serverPath string) *Client {
	t.Helper()
	cfg := DefaultConfig(serverPath)
	cfg.ClientDir = t.TempDir()
	cfg.RequestTimeout = 2 * time.Second
	cfg.ReconnectMax = 5
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

type recordingHandler struct {
	connected int
	closed    int
}

func (h *recordingHandler) OnConnect()  { h.connected++ }
func (h *recordingHandler) OnClose()    { h.closed++ }
func (h *recordingHandler) OnError(error) {}

func TestNewPerformsHandshakeAndFiresOnConnect(t *testing.T) {
	serverPath, stop := startTestServer(t)
	defer stop()

	cfg := DefaultConfig(serverPath)
	cfg.ClientDir = t.TempDir()
	h := &recordingHandler{}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	c.RegisterHandler(h)
	if h.connected != 1 {
		t.Fatalf("RegisterHandler after connect should fire OnConnect immediately, got %d calls", h.connected)
	}
	if !c.connected.Load() {
		t.Fatalf("client should report connected after successful handshake")
	}
}

func TestSocketBindGetSockName(t *testing.T) {
	serverPath, stop := startTestServer(t)
	defer stop()
	c := newTestClient(t, serverPath)

	id, err := c.Socket(socket.SockDgram, 17)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9200}
	if err := c.Bind(id, addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	got, err := c.GetSockName(id)
	if err != nil {
		t.Fatalf("GetSockName: %v", err)
	}
	udpGot, ok := got.(*net.UDPAddr)
	if !ok {
		t.Fatalf("GetSockName returned %T, want *net.UDPAddr", got)
	}
	if udpGot.Port != 9200 || !udpGot.IP.Equal(addr.IP) {
		t.Fatalf("GetSockName = %+v, want %+v", udpGot, addr)
	}
}

func TestGetSetSockOpt(t *testing.T) {
	serverPath, stop := startTestServer(t)
	defer stop()
	c := newTestClient(t, serverPath)

	id, err := c.Socket(socket.SockStream, 6)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}

	opt := []byte{1}
	if err := c.SetSockOpt(id, socket.IPPROTO_TCP, socket.TCP_NODELAY, opt); err != nil {
		t.Fatalf("SetSockOpt: %v", err)
	}

	got, err := c.GetSockOpt(id, socket.SOL_SOCKET, socket.SO_TYPE)
	if err != nil {
		t.Fatalf("GetSockOpt SO_TYPE: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("SO_TYPE option length = %d, want 4", len(got))
	}
}

func TestGetSockOptUnknownOptionReturnsNoProtoOpt(t *testing.T) {
	serverPath, stop := startTestServer(t)
	defer stop()
	c := newTestClient(t, serverPath)

	id, err := c.Socket(socket.SockDgram, 17)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}

	_, err = c.GetSockOpt(id, socket.OptLevel(99), socket.OptName(99))
	if err == nil {
		t.Fatalf("expected error for unrecognized option")
	}
	if errs.CodeOf(err) != errs.NoProtoOpt {
		t.Fatalf("error code = %v, want NoProtoOpt", errs.CodeOf(err))
	}
}

func TestCloseSocketThenOperationReturnsNotFound(t *testing.T) {
	serverPath, stop := startTestServer(t)
	defer stop()
	c := newTestClient(t, serverPath)

	id, err := c.Socket(socket.SockDgram, 17)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if err := c.CloseSocket(id); err != nil {
		t.Fatalf("CloseSocket: %v", err)
	}
	if _, err := c.GetSockName(id); errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("GetSockName after CloseSocket: code = %v, want NotFound", errs.CodeOf(err))
	}
}

func TestTCPListenAndAcceptContext(t *testing.T) {
	serverPath, stop := startTestServer(t)
	defer stop()
	c := newTestClient(t, serverPath)

	listenerID, err := c.Socket(socket.SockStream, 6)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9300}
	if err := c.Bind(listenerID, addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := c.Listen(listenerID, 4); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	clientID, err := c.Socket(socket.SockStream, 6)
	if err != nil {
		t.Fatalf("Socket (connecting side): %v", err)
	}
	connectAddr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9301}
	if err := c.Bind(clientID, connectAddr); err != nil {
		t.Fatalf("Bind connecting side: %v", err)
	}

	connectErrCh := make(chan error, 1)
	go func() { connectErrCh <- c.Connect(clientID, addr) }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := c.AcceptContext(ctx, listenerID); err != nil {
		t.Fatalf("AcceptContext: %v", err)
	}
	if err := <-connectErrCh; err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestAcceptContextRespectsCancellation(t *testing.T) {
	serverPath, stop := startTestServer(t)
	defer stop()
	c := newTestClient(t, serverPath)

	listenerID, err := c.Socket(socket.SockStream, 6)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9302}
	if err := c.Bind(listenerID, addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := c.Listen(listenerID, 4); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.AcceptContext(ctx, listenerID)
	if errs.CodeOf(err) != errs.Timeout {
		t.Fatalf("AcceptContext error code = %v, want Timeout", errs.CodeOf(err))
	}
}

func TestCloseIsIdempotentAndFiresOnClose(t *testing.T) {
	serverPath, stop := startTestServer(t)
	defer stop()
	c := newTestClient(t, serverPath)
	h := &recordingHandler{}
	c.RegisterHandler(h)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if h.closed != 1 {
		t.Fatalf("OnClose fired %d times, want 1", h.closed)
	}
}
