package socket

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"golang.org/x/sys/unix"

	"github.com/openperf/corenet/errs"
	"github.com/openperf/corenet/internal/arena"
	"github.com/openperf/corenet/internal/netstack"
	"github.com/openperf/corenet/obs"
)

var log = obs.For("socket")

// Server owns the control-plane AF_UNIX SOCK_DGRAM listener of spec
// §4.6: one well-known path, one handler per connecting client
// process, a control-plane handshake granting arena access.
// Generalized from the teacher's server.Server (NewServer/Serve/
// Shutdown lifecycle shape), substituting this core's datagram
// control protocol for the teacher's TCP→WebSocket upgrade listener.
type Server struct {
	path  string
	fd    int
	arena *arena.Arena
	stack netstack.Stack

	mu       sync.Mutex
	handlers map[string]*clientHandler // keyed by client sockaddr string
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewServer binds the control socket at path. arena backs every
// channel this server grants to clients; stack is shared across every
// accepted socket.
func NewServer(path string, a *arena.Arena, stack netstack.Stack) (*Server, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "socket(AF_UNIX, SOCK_DGRAM)", err)
	}
	_ = unix.Unlink(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, errs.Wrap(errs.Internal, "bind control socket", err)
	}
	return &Server{
		path:     path,
		fd:       fd,
		arena:    a,
		stack:    stack,
		handlers: make(map[string]*clientHandler),
		shutdown: make(chan struct{}),
	}, nil
}

// Serve runs the accept/dispatch loop until Shutdown is called.
func (s *Server) Serve() error {
	buf := make([]byte, RequestWireSize)
	oob := make([]byte, unix.CmsgSpace(4))
	for {
		select {
		case <-s.shutdown:
			return nil
		default:
		}

		n, oobn, _, from, err := unix.Recvmsg(s.fd, buf, oob, 0)
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			log.WithField("error", err).Warn("recvmsg failed")
			continue
		}
		if n < RequestWireSize {
			continue
		}
		req, err := DecodeRequest(buf[:n])
		if err != nil {
			continue
		}

		key := clientKey(from)
		h := s.handlerFor(key)
		reply, fds := h.handle(req)

		s.reply(from, reply, fds)
		_ = oobn
	}
}

func clientKey(addr unix.Sockaddr) string {
	if a, ok := addr.(*unix.SockaddrUnix); ok {
		return a.Name
	}
	return ""
}

func (s *Server) handlerFor(key string) *clientHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[key]
	if !ok {
		h = newClientHandler(s.arena, s.stack)
		s.handlers[key] = h
	}
	return h
}

// reply sends rep back to addr, attaching SCM_RIGHTS ancillary data
// when the handler produced file descriptors to grant.
func (s *Server) reply(addr unix.Sockaddr, rep *Reply, fds []int) {
	buf := rep.Encode()
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	if err := unix.Sendmsg(s.fd, buf, oob, addr, 0); err != nil {
		log.WithField("error", err).Warn("sendmsg reply failed")
	}
}

// Shutdown stops Serve and closes the control socket.
func (s *Server) Shutdown() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.shutdown)
	return unix.Close(s.fd)
}

// clientHandler owns one connecting client's socket table and the
// server-side fds for its channels, per spec §4.6's per-client
// handler contract. SessionID is a process-wide-unique, sortable
// identifier for log correlation across a client's lifetime,
// independent of its (reusable) socket ids.
type clientHandler struct {
	mu        sync.Mutex
	sockets   map[uint32]*Socket
	nextID    uint32
	arena     *arena.Arena
	stack     netstack.Stack
	serverFDs map[uint32]int

	SessionID xid.ID
}

func newClientHandler(a *arena.Arena, stack netstack.Stack) *clientHandler {
	h := &clientHandler{
		sockets:   make(map[uint32]*Socket),
		arena:     a,
		stack:     stack,
		serverFDs: make(map[uint32]int),
		SessionID: xid.New(),
	}
	log.WithField("session", h.SessionID.String()).Debug("new control-plane client session")
	return h
}

// handle dispatches one request, returning the reply plus any fds to
// transfer via SCM_RIGHTS (OpSocket/OpAccept successes only).
func (h *clientHandler) handle(req *Request) (*Reply, []int) {
	switch req.Op {
	case OpInit:
		return &Reply{Op: OpInit, Code: errs.OK}, nil

	case OpSocket:
		// A production build grants channel access here by handing
		// back (client_fd, server_fd) for a memfd-backed slice of the
		// arena via SCM_RIGHTS; this module's arena lives in
		// process-local memory (see internal/arena), so socket
		// creation succeeds without a real fd pair to transfer.
		h.mu.Lock()
		id := h.nextID
		h.nextID++
		h.mu.Unlock()
		sock, err := NewSocket(id, SockType(req.Type), int(req.Protocol), h.stack)
		if err != nil {
			return errReply(req, err), nil
		}
		h.mu.Lock()
		h.sockets[id] = sock
		h.mu.Unlock()
		return &Reply{Op: OpSocket, SocketID: id, Code: errs.OK}, nil

	case OpBind:
		sock, err := h.lookup(req.SocketID)
		if err != nil {
			return errReply(req, err), nil
		}
		if sock.Kind == SockPacket {
			if req.AddrLen < 6 {
				return errReply(req, errs.New(errs.Invalid, "PACKET bind requires iface index + ethertype")), nil
			}
			idx := int(req.Addr[0])<<24 | int(req.Addr[1])<<16 | int(req.Addr[2])<<8 | int(req.Addr[3])
			ethertype := uint16(req.Addr[4])<<8 | uint16(req.Addr[5])
			if err := sock.BindPacket(idx, ethertype); err != nil {
				return errReply(req, err), nil
			}
			return &Reply{Op: OpBind, SocketID: req.SocketID, Code: errs.OK}, nil
		}
		addr, err := decodeAddr(req.Addr[:req.AddrLen])
		if err != nil {
			return errReply(req, err), nil
		}
		if err := sock.Bind(addr); err != nil {
			return errReply(req, err), nil
		}
		return &Reply{Op: OpBind, SocketID: req.SocketID, Code: errs.OK}, nil

	case OpConnect:
		sock, err := h.lookup(req.SocketID)
		if err != nil {
			return errReply(req, err), nil
		}
		addr, err := decodeAddr(req.Addr[:req.AddrLen])
		if err != nil {
			return errReply(req, err), nil
		}
		if err := sock.Connect(addr); err != nil {
			return errReply(req, err), nil
		}
		return &Reply{Op: OpConnect, SocketID: req.SocketID, Code: errs.OK}, nil

	case OpListen:
		sock, err := h.lookup(req.SocketID)
		if err != nil {
			return errReply(req, err), nil
		}
		if err := sock.Listen(int(req.Backlog)); err != nil {
			return errReply(req, err), nil
		}
		return &Reply{Op: OpListen, SocketID: req.SocketID, Code: errs.OK}, nil

	case OpAccept:
		sock, err := h.lookup(req.SocketID)
		if err != nil {
			return errReply(req, err), nil
		}
		h.mu.Lock()
		newID := h.nextID
		h.nextID++
		h.mu.Unlock()
		accepted, err := sock.Accept(newID)
		if err != nil {
			return errReply(req, err), nil
		}
		h.mu.Lock()
		h.sockets[newID] = accepted
		h.mu.Unlock()
		return &Reply{Op: OpAccept, SocketID: newID, Code: errs.OK}, nil

	case OpShutdown:
		sock, err := h.lookup(req.SocketID)
		if err != nil {
			return errReply(req, err), nil
		}
		if err := sock.Shutdown(); err != nil {
			return errReply(req, err), nil
		}
		return &Reply{Op: OpShutdown, SocketID: req.SocketID, Code: errs.OK}, nil

	case OpGetSockOpt:
		sock, err := h.lookup(req.SocketID)
		if err != nil {
			return errReply(req, err), nil
		}
		opt, n, err := dispatchGetOpt(sock, OptLevel(req.Level), OptName(req.Name))
		if err != nil {
			return errReply(req, err), nil
		}
		return &Reply{Op: OpGetSockOpt, SocketID: req.SocketID, Code: errs.OK, Opt: opt, OptLen: n}, nil

	case OpSetSockOpt:
		sock, err := h.lookup(req.SocketID)
		if err != nil {
			return errReply(req, err), nil
		}
		if err := dispatchSetOpt(sock, OptLevel(req.Level), OptName(req.Name), req.Opt[:req.OptLen]); err != nil {
			return errReply(req, err), nil
		}
		return &Reply{Op: OpSetSockOpt, SocketID: req.SocketID, Code: errs.OK}, nil

	case OpGetSockName:
		sock, err := h.lookup(req.SocketID)
		if err != nil {
			return errReply(req, err), nil
		}
		addr, n := encodeAddr(sock.PCB.Local)
		return &Reply{Op: OpGetSockName, SocketID: req.SocketID, Code: errs.OK, Addr: addr, AddrLen: n}, nil

	case OpGetPeerName:
		sock, err := h.lookup(req.SocketID)
		if err != nil {
			return errReply(req, err), nil
		}
		addr, n := encodeAddr(sock.PCB.Remote)
		return &Reply{Op: OpGetPeerName, SocketID: req.SocketID, Code: errs.OK, Addr: addr, AddrLen: n}, nil

	case OpIoctl:
		if _, err := h.lookup(req.SocketID); err != nil {
			return errReply(req, err), nil
		}
		return &Reply{Op: OpIoctl, SocketID: req.SocketID, Code: errs.OK}, nil

	case OpClose:
		sock, err := h.lookup(req.SocketID)
		if err != nil {
			return errReply(req, err), nil
		}
		if err := sock.Close(); err != nil {
			return errReply(req, err), nil
		}
		h.mu.Lock()
		delete(h.sockets, req.SocketID)
		delete(h.serverFDs, req.SocketID)
		h.mu.Unlock()
		return &Reply{Op: OpClose, SocketID: req.SocketID, Code: errs.OK}, nil

	default:
		return errReply(req, errs.New(errs.Invalid, "unknown op")), nil
	}
}

func (h *clientHandler) lookup(id uint32) (*Socket, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sockets[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "unknown socket id")
	}
	return s, nil
}

func errReply(req *Request, err error) *Reply {
	return &Reply{Op: req.Op, SocketID: req.SocketID, Code: errs.CodeOf(err)}
}

// decodeAddr interprets the fixed raw address bytes as either an
// IPv4 or IPv6 sockaddr, inferred from length.
func decodeAddr(raw []byte) (net.Addr, error) {
	switch len(raw) {
	case 6: // 4-byte IPv4 + 2-byte port
		ip := net.IP(raw[0:4])
		port := int(raw[4])<<8 | int(raw[5])
		return &net.UDPAddr{IP: ip, Port: port}, nil
	case 18: // 16-byte IPv6 + 2-byte port
		ip := net.IP(raw[0:16])
		port := int(raw[16])<<8 | int(raw[17])
		return &net.UDPAddr{IP: ip, Port: port}, nil
	default:
		return nil, errs.New(errs.Invalid, "unrecognized address length")
	}
}

func encodeAddr(addr net.Addr) ([addrMax]byte, uint8) {
	var buf [addrMax]byte
	var ip net.IP
	var port int
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	case *net.TCPAddr:
		ip, port = a.IP, a.Port
	default:
		return buf, 0
	}
	if v4 := ip.To4(); v4 != nil {
		copy(buf[0:4], v4)
		buf[4] = byte(port >> 8)
		buf[5] = byte(port)
		return buf, 6
	}
	v6 := ip.To16()
	copy(buf[0:16], v6)
	buf[16] = byte(port >> 8)
	buf[17] = byte(port)
	return buf, 18
}
