package socket

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openperf/corenet/internal/arena"
	"github.com/openperf/corenet/internal/netstack"
)

func TestServerHandlesInitAndSocketOverUnixDatagram(t *testing.T) {
	dir := t.TempDir()
	serverPath := filepath.Join(dir, "corenet.sock")
	clientPath := filepath.Join(dir, "client.sock")

	a := arena.New(1 << 16)
	stack := netstack.NewLoopbackStack()
	srv, err := NewServer(serverPath, a, stack)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Serve()
	defer srv.Shutdown()

	clientFD, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		t.Fatalf("client socket: %v", err)
	}
	defer unix.Close(clientFD)
	if err := unix.Bind(clientFD, &unix.SockaddrUnix{Name: clientPath}); err != nil {
		t.Fatalf("client bind: %v", err)
	}

	initReq := &Request{Op: OpInit}
	if err := unix.Sendto(clientFD, initReq.Encode(), 0, &unix.SockaddrUnix{Name: serverPath}); err != nil {
		t.Fatalf("sendto init: %v", err)
	}

	buf := make([]byte, ReplyWireSize)
	if err := waitReadable(clientFD, 2*time.Second); err != nil {
		t.Fatalf("waiting for init reply: %v", err)
	}
	n, _, err := unix.Recvfrom(clientFD, buf, 0)
	if err != nil {
		t.Fatalf("recvfrom init reply: %v", err)
	}
	rep, err := DecodeReply(buf[:n])
	if err != nil {
		t.Fatalf("DecodeReply: %v", err)
	}
	if rep.Op != OpInit {
		t.Fatalf("reply Op = %v, want OpInit", rep.Op)
	}

	sockReq := &Request{Op: OpSocket, Type: uint16(SockDgram), Protocol: 17}
	if err := unix.Sendto(clientFD, sockReq.Encode(), 0, &unix.SockaddrUnix{Name: serverPath}); err != nil {
		t.Fatalf("sendto socket: %v", err)
	}
	if err := waitReadable(clientFD, 2*time.Second); err != nil {
		t.Fatalf("waiting for socket reply: %v", err)
	}
	n, _, err = unix.Recvfrom(clientFD, buf, 0)
	if err != nil {
		t.Fatalf("recvfrom socket reply: %v", err)
	}
	rep, err = DecodeReply(buf[:n])
	if err != nil {
		t.Fatalf("DecodeReply: %v", err)
	}
	if rep.Op != OpSocket || rep.Code != 0 {
		t.Fatalf("socket reply = %+v, want Op=OpSocket Code=OK", rep)
	}
}

func waitReadable(fd int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for time.Now().Before(deadline) {
		n, err := unix.Poll(fds, 50)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}
	return errDeadlineExceeded
}

var errDeadlineExceeded = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "timed out waiting for readability" }
