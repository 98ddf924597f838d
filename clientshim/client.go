// Package clientshim is the client-side counterpart of internal/socket:
// a BSD-socket-shaped API that marshals Socket/Bind/Connect/Listen/
// Accept/GetSockOpt/SetSockOpt/Shutdown/Close calls onto the AF_UNIX
// SOCK_DGRAM control protocol and unmarshals the fixed-size replies,
// per spec §1/§6's "clients link against the client-side socket shim"
// requirement.
//
// Generalized from the teacher's client.WebSocketClient: the same
// config-struct-plus-constructor shape, the same ConnEventHandler
// lifecycle notifications, and the same attempt-counted, backed-off
// connect loop — applied to a one-shot AF_UNIX handshake (OpInit)
// instead of an HTTP/1.1 WebSocket upgrade.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientshim

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openperf/corenet/errs"
	"github.com/openperf/corenet/internal/socket"
)

// Config configures one client's control-socket endpoint, mirroring
// client.ClientConfig's flat, fully-defaulted shape.
type Config struct {
	ServerPath     string        // control socket path the core is bound to
	ClientDir      string        // directory for this client's own ephemeral socket, "" = os.TempDir()
	RequestTimeout time.Duration // per-round-trip deadline
	ReconnectMax   int           // max handshake attempts, 0 = try forever
}

// DefaultConfig mirrors client's DefaultConfig role.
func DefaultConfig(serverPath string) *Config {
	return &Config{
		ServerPath:     serverPath,
		RequestTimeout: 5 * time.Second,
		ReconnectMax:   0,
	}
}

// ConnEventHandler exposes lifecycle callbacks a caller can register,
// identical in shape to client.ConnEventHandler.
type ConnEventHandler interface {
	OnConnect()
	OnClose()
	OnError(error)
}

// Client is one control-plane connection: an AF_UNIX datagram socket
// bound to a private path, exchanging fixed-size requests/replies
// with the server bound at cfg.ServerPath.
type Client struct {
	cfg Config

	fd         int
	clientPath string
	serverAddr *unix.SockaddrUnix

	mu        sync.Mutex
	handlers  []ConnEventHandler
	connected atomic.Bool
	closed    atomic.Bool
	attempts  int

	reqMu sync.Mutex // serializes round trips: one outstanding request per client socket
}

// New binds a client socket and performs the OpInit handshake,
// retrying with linear backoff up to cfg.ReconnectMax attempts (0 =
// unbounded), matching WebSocketClient.connect's retry loop.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errs.New(errs.Invalid, "clientshim.Config is required")
	}
	c := &Client{cfg: *cfg}
	if err := c.bind(); err != nil {
		return nil, err
	}
	if err := c.connect(); err != nil {
		unix.Close(c.fd)
		return nil, err
	}
	return c, nil
}

// RegisterHandler attaches h for future connect/close/error events;
// if already connected, OnConnect fires immediately, matching
// WebSocketClient.RegisterHandler.
func (c *Client) RegisterHandler(h ConnEventHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	already := c.connected.Load()
	c.mu.Unlock()
	if already {
		h.OnConnect()
	}
}

func (c *Client) notify(fn func(ConnEventHandler)) {
	c.mu.Lock()
	hs := append([]ConnEventHandler{}, c.handlers...)
	c.mu.Unlock()
	for _, h := range hs {
		fn(h)
	}
}

func (c *Client) bind() error {
	dir := c.cfg.ClientDir
	if dir == "" {
		dir = os.TempDir()
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return errs.Wrap(errs.Internal, "socket(AF_UNIX, SOCK_DGRAM)", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("corenet-client-%d-%d.sock", os.Getpid(), time.Now().UnixNano()%1_000_000))
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return errs.Wrap(errs.Internal, "bind client control socket", err)
	}
	c.fd = fd
	c.clientPath = path
	c.serverAddr = &unix.SockaddrUnix{Name: c.cfg.ServerPath}
	return nil
}

// connect performs the OpInit handshake, matching
// WebSocketClient.connect's attempt-counted backoff shape.
func (c *Client) connect() error {
	var lastErr error
	for {
		if c.cfg.ReconnectMax > 0 && c.attempts >= c.cfg.ReconnectMax {
			return errs.Wrap(errs.Timeout, "max control socket connect attempts reached", lastErr)
		}
		c.attempts++
		rep, _, err := c.roundTrip(&socket.Request{Op: socket.OpInit})
		if err != nil {
			lastErr = err
			if c.cfg.ReconnectMax == 0 || c.attempts < c.cfg.ReconnectMax {
				time.Sleep(time.Duration(c.attempts) * 50 * time.Millisecond)
				continue
			}
			return err
		}
		if rep.Code != errs.OK {
			lastErr = codeError(rep.Code)
			continue
		}
		c.connected.Store(true)
		c.attempts = 0
		c.notify(ConnEventHandler.OnConnect)
		return nil
	}
}

// roundTrip sends req and waits for the matching reply, returning any
// SCM_RIGHTS fds the server attached (OpSocket/OpAccept successes).
func (c *Client) roundTrip(req *socket.Request) (*socket.Reply, []int, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := unix.Sendto(c.fd, req.Encode(), 0, c.serverAddr); err != nil {
		return nil, nil, errs.Wrap(errs.Internal, "sendto control socket", err)
	}

	if err := waitReadable(c.fd, c.cfg.RequestTimeout); err != nil {
		return nil, nil, errs.New(errs.Timeout, "control socket reply timed out")
	}

	buf := make([]byte, socket.ReplyWireSize)
	oob := make([]byte, unix.CmsgSpace(4*2))
	n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, 0)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Internal, "recvmsg control socket reply", err)
	}
	rep, err := socket.DecodeReply(buf[:n])
	if err != nil {
		return nil, nil, err
	}

	var fds []int
	if oobn > 0 {
		fds, _ = parseRights(oob[:oobn])
	}
	return rep, fds, nil
}

func parseRights(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, m := range msgs {
		f, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, f...)
	}
	return fds, nil
}

func waitReadable(fd int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errs.New(errs.Timeout, "poll deadline exceeded")
		}
		ms := int(remaining / time.Millisecond)
		if ms <= 0 {
			ms = 1
		}
		n, err := unix.Poll(pfd, ms)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errs.Wrap(errs.Internal, "poll control socket", err)
		}
		if n > 0 {
			return nil
		}
	}
}

func codeError(code errs.Code) error {
	if code == errs.OK {
		return nil
	}
	return errs.New(code, "control socket request failed")
}

// Close idempotently tears down the control connection, notifying
// every registered handler's OnClose, matching
// WebSocketClient.Close's CompareAndSwap guard.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.connected.Store(false)
	err := unix.Close(c.fd)
	_ = unix.Unlink(c.clientPath)
	c.notify(ConnEventHandler.OnClose)
	if err != nil {
		return errs.Wrap(errs.Internal, "close client control socket", err)
	}
	return nil
}
