package clientshim

import (
	"net"

	"github.com/openperf/corenet/errs"
	"github.com/openperf/corenet/internal/socket"
)

// SocketID identifies one server-side Socket this client created via
// Socket or Accept.
type SocketID uint32

// Socket sends an OpSocket request, returning the server-assigned
// SocketID on success.
func (c *Client) Socket(typ socket.SockType, protocol int) (SocketID, error) {
	req := &socket.Request{Op: socket.OpSocket, Type: uint16(typ), Protocol: uint16(protocol)}
	rep, _, err := c.call(req)
	if err != nil {
		return 0, err
	}
	return SocketID(rep.SocketID), nil
}

// Bind sends an OpBind request for a RAW/UDP/TCP address.
func (c *Client) Bind(id SocketID, addr net.Addr) error {
	raw, n, err := encodeSockaddr(addr)
	if err != nil {
		return err
	}
	req := &socket.Request{Op: socket.OpBind, SocketID: uint32(id), Addr: raw, AddrLen: n}
	_, _, err = c.call(req)
	return err
}

// BindPacket sends an OpBind request carrying a PACKET socket's
// interface index and Ethertype filter instead of a protocol address.
func (c *Client) BindPacket(id SocketID, ifaceIndex int, ethertype uint16) error {
	var raw [28]byte
	raw[0] = byte(ifaceIndex >> 24)
	raw[1] = byte(ifaceIndex >> 16)
	raw[2] = byte(ifaceIndex >> 8)
	raw[3] = byte(ifaceIndex)
	raw[4] = byte(ethertype >> 8)
	raw[5] = byte(ethertype)
	req := &socket.Request{Op: socket.OpBind, SocketID: uint32(id), Addr: raw, AddrLen: 6}
	_, _, err := c.call(req)
	return err
}

// Connect sends an OpConnect request.
func (c *Client) Connect(id SocketID, addr net.Addr) error {
	raw, n, err := encodeSockaddr(addr)
	if err != nil {
		return err
	}
	req := &socket.Request{Op: socket.OpConnect, SocketID: uint32(id), Addr: raw, AddrLen: n}
	_, _, err = c.call(req)
	return err
}

// Listen sends an OpListen request.
func (c *Client) Listen(id SocketID, backlog int) error {
	req := &socket.Request{Op: socket.OpListen, SocketID: uint32(id), Backlog: uint32(backlog)}
	_, _, err := c.call(req)
	return err
}

// Accept sends an OpAccept request, returning the SocketID of the
// newly accepted connection.
func (c *Client) Accept(id SocketID) (SocketID, error) {
	req := &socket.Request{Op: socket.OpAccept, SocketID: uint32(id)}
	rep, _, err := c.call(req)
	if err != nil {
		return 0, err
	}
	return SocketID(rep.SocketID), nil
}

// Shutdown sends an OpShutdown request; how is 0=RD, 1=WR, 2=RDWR.
func (c *Client) Shutdown(id SocketID, how uint8) error {
	req := &socket.Request{Op: socket.OpShutdown, SocketID: uint32(id), How: how}
	_, _, err := c.call(req)
	return err
}

// GetSockName sends an OpGetSockName request and decodes the result
// address.
func (c *Client) GetSockName(id SocketID) (net.Addr, error) {
	req := &socket.Request{Op: socket.OpGetSockName, SocketID: uint32(id)}
	rep, _, err := c.call(req)
	if err != nil {
		return nil, err
	}
	return decodeSockaddr(rep.Addr[:rep.AddrLen])
}

// GetPeerName sends an OpGetPeerName request and decodes the result
// address.
func (c *Client) GetPeerName(id SocketID) (net.Addr, error) {
	req := &socket.Request{Op: socket.OpGetPeerName, SocketID: uint32(id)}
	rep, _, err := c.call(req)
	if err != nil {
		return nil, err
	}
	return decodeSockaddr(rep.Addr[:rep.AddrLen])
}

// GetSockOpt sends an OpGetSockOpt request, returning the raw option
// bytes the server populated.
func (c *Client) GetSockOpt(id SocketID, level socket.OptLevel, name socket.OptName) ([]byte, error) {
	req := &socket.Request{Op: socket.OpGetSockOpt, SocketID: uint32(id), Level: uint32(level), Name: uint32(name)}
	rep, _, err := c.call(req)
	if err != nil {
		return nil, err
	}
	out := make([]byte, rep.OptLen)
	copy(out, rep.Opt[:rep.OptLen])
	return out, nil
}

// SetSockOpt sends an OpSetSockOpt request carrying opt's raw bytes.
func (c *Client) SetSockOpt(id SocketID, level socket.OptLevel, name socket.OptName, opt []byte) error {
	if len(opt) > 64 {
		return errs.New(errs.Invalid, "option value exceeds 64-byte wire payload")
	}
	req := &socket.Request{Op: socket.OpSetSockOpt, SocketID: uint32(id), Level: uint32(level), Name: uint32(name), OptLen: uint16(len(opt))}
	copy(req.Opt[:], opt)
	_, _, err := c.call(req)
	return err
}

// CloseSocket sends an OpClose request for one server-side socket,
// distinct from Client.Close which tears down the control connection
// itself.
func (c *Client) CloseSocket(id SocketID) error {
	req := &socket.Request{Op: socket.OpClose, SocketID: uint32(id)}
	_, _, err := c.call(req)
	return err
}

// call round-trips req and translates a non-OK reply code into an
// *errs.Error, so every BSD-shaped method above returns a single
// ready-to-check error.
func (c *Client) call(req *socket.Request) (*socket.Reply, []int, error) {
	rep, fds, err := c.roundTrip(req)
	if err != nil {
		return nil, nil, err
	}
	if rep.Code != errs.OK {
		return rep, fds, codeError(rep.Code)
	}
	return rep, fds, nil
}

// encodeSockaddr packs addr into the fixed wire format shared with
// internal/socket's decodeAddr: 4-byte IPv4 + 2-byte port, or 16-byte
// IPv6 + 2-byte port.
func encodeSockaddr(addr net.Addr) ([28]byte, uint8, error) {
	var buf [28]byte
	var ip net.IP
	var port int
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	case *net.TCPAddr:
		ip, port = a.IP, a.Port
	default:
		return buf, 0, errs.New(errs.Invalid, "unsupported address type")
	}
	if v4 := ip.To4(); v4 != nil {
		copy(buf[0:4], v4)
		buf[4] = byte(port >> 8)
		buf[5] = byte(port)
		return buf, 6, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return buf, 0, errs.New(errs.Invalid, "address is neither IPv4 nor IPv6")
	}
	copy(buf[0:16], v6)
	buf[16] = byte(port >> 8)
	buf[17] = byte(port)
	return buf, 18, nil
}

// decodeSockaddr is the inverse of encodeSockaddr.
func decodeSockaddr(raw []byte) (net.Addr, error) {
	switch len(raw) {
	case 6:
		ip := net.IP(append([]byte{}, raw[0:4]...))
		port := int(raw[4])<<8 | int(raw[5])
		return &net.UDPAddr{IP: ip, Port: port}, nil
	case 18:
		ip := net.IP(append([]byte{}, raw[0:16]...))
		port := int(raw[16])<<8 | int(raw[17])
		return &net.UDPAddr{IP: ip, Port: port}, nil
	default:
		return nil, errs.New(errs.Invalid, "unrecognized address length")
	}
}
