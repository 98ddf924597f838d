// Package socket implements the control-plane server of spec §4.6: an
// AF_UNIX SOCK_DGRAM listener, one handler per connecting client
// process (run on the Serve goroutine, in arrival order), a fixed-size
// binary request/reply protocol, SCM_RIGHTS
// fd handoff for channel grants, and per-protocol socket state
// machines dispatching BSD-shaped requests onto internal/netstack PCBs.
//
// Wire framing is generalized from the teacher's
// protocol.DecodeFrameFromBytes/EncodeFrameToBytes approach (fixed
// header, encoding/binary, no reflection) applied to this core's
// request/reply shape instead of WebSocket frames.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package socket

import (
	"encoding/binary"

	"github.com/openperf/corenet/errs"
)

// Op discriminates the exhaustive request/reply variants of spec §4.6.
type Op uint8

const (
	OpInit Op = iota
	OpSocket
	OpBind
	OpListen
	OpAccept
	OpConnect
	OpShutdown
	OpGetSockName
	OpGetPeerName
	OpGetSockOpt
	OpSetSockOpt
	OpIoctl
	OpClose
)

// addrMax bounds the fixed address payload embedded in requests: the
// 28-byte size of a sockaddr_in6.
const addrMax = 28

// RequestHeaderSize is the fixed, protocol-independent prefix every
// request carries.
const RequestHeaderSize = 1 /*op*/ + 4 /*socket id*/

// Request is the fixed-size discriminated union of spec §4.6's
// request variants. Every field is always present on the wire;
// variants interpret only the subset relevant to their Op.
type Request struct {
	Op       Op
	SocketID uint32

	Domain   uint16 // OpSocket: address family
	Type     uint16 // OpSocket: SOCK_{RAW,DGRAM,STREAM,PACKET}
	Protocol uint16 // OpSocket: protocol number

	AddrLen uint8
	Addr    [addrMax]byte // OpBind/OpConnect target address, raw encoded

	Backlog uint32 // OpListen

	Level uint32 // OpGetSockOpt/OpSetSockOpt
	Name  uint32
	OptLen uint16
	Opt    [64]byte

	IoctlCmd uint32
	IoctlArg [32]byte

	How uint8 // OpShutdown: 0=RD,1=WR,2=RDWR
}

// RequestWireSize is the fixed encoded size of a Request.
const RequestWireSize = RequestHeaderSize + 2 + 2 + 2 + 1 + addrMax + 4 + 4 + 4 + 2 + 64 + 4 + 32 + 1

// Encode serializes r into a fixed-size buffer using big-endian
// integers, matching the teacher's binary.BigEndian convention.
func (r *Request) Encode() []byte {
	buf := make([]byte, RequestWireSize)
	o := 0
	buf[o] = byte(r.Op)
	o++
	binary.BigEndian.PutUint32(buf[o:], r.SocketID)
	o += 4
	binary.BigEndian.PutUint16(buf[o:], r.Domain)
	o += 2
	binary.BigEndian.PutUint16(buf[o:], r.Type)
	o += 2
	binary.BigEndian.PutUint16(buf[o:], r.Protocol)
	o += 2
	buf[o] = r.AddrLen
	o++
	copy(buf[o:o+addrMax], r.Addr[:])
	o += addrMax
	binary.BigEndian.PutUint32(buf[o:], r.Backlog)
	o += 4
	binary.BigEndian.PutUint32(buf[o:], r.Level)
	o += 4
	binary.BigEndian.PutUint32(buf[o:], r.Name)
	o += 4
	binary.BigEndian.PutUint16(buf[o:], r.OptLen)
	o += 2
	copy(buf[o:o+64], r.Opt[:])
	o += 64
	binary.BigEndian.PutUint32(buf[o:], r.IoctlCmd)
	o += 4
	copy(buf[o:o+32], r.IoctlArg[:])
	o += 32
	buf[o] = r.How
	return buf
}

// DecodeRequest parses a fixed-size request buffer.
func DecodeRequest(buf []byte) (*Request, error) {
	if len(buf) < RequestWireSize {
		return nil, errs.New(errs.Invalid, "request buffer shorter than fixed wire size")
	}
	r := &Request{}
	o := 0
	r.Op = Op(buf[o])
	o++
	r.SocketID = binary.BigEndian.Uint32(buf[o:])
	o += 4
	r.Domain = binary.BigEndian.Uint16(buf[o:])
	o += 2
	r.Type = binary.BigEndian.Uint16(buf[o:])
	o += 2
	r.Protocol = binary.BigEndian.Uint16(buf[o:])
	o += 2
	r.AddrLen = buf[o]
	o++
	copy(r.Addr[:], buf[o:o+addrMax])
	o += addrMax
	r.Backlog = binary.BigEndian.Uint32(buf[o:])
	o += 4
	r.Level = binary.BigEndian.Uint32(buf[o:])
	o += 4
	r.Name = binary.BigEndian.Uint32(buf[o:])
	o += 4
	r.OptLen = binary.BigEndian.Uint16(buf[o:])
	o += 2
	copy(r.Opt[:], buf[o:o+64])
	o += 64
	r.IoctlCmd = binary.BigEndian.Uint32(buf[o:])
	o += 4
	copy(r.IoctlArg[:], buf[o:o+32])
	o += 32
	r.How = buf[o]
	return r, nil
}

// Reply is the fixed-size discriminated reply union. ClientFD/ServerFD
// are only meaningful alongside ancillary SCM_RIGHTS data sent with
// the reply datagram (OpSocket and OpAccept successes).
type Reply struct {
	Op       Op
	SocketID uint32
	Code     errs.Code

	AddrLen uint8
	Addr    [addrMax]byte

	OptLen uint16
	Opt    [64]byte

	HasFDs   bool
	ClientFD int32
	ServerFD int32
}

const ReplyWireSize = RequestHeaderSize + 1 /*code*/ + 1 + addrMax + 2 + 64 + 1 + 4 + 4

// Encode serializes a Reply into a fixed-size buffer.
func (p *Reply) Encode() []byte {
	buf := make([]byte, ReplyWireSize)
	o := 0
	buf[o] = byte(p.Op)
	o++
	binary.BigEndian.PutUint32(buf[o:], p.SocketID)
	o += 4
	buf[o] = byte(p.Code)
	o++
	buf[o] = p.AddrLen
	o++
	copy(buf[o:o+addrMax], p.Addr[:])
	o += addrMax
	binary.BigEndian.PutUint16(buf[o:], p.OptLen)
	o += 2
	copy(buf[o:o+64], p.Opt[:])
	o += 64
	if p.HasFDs {
		buf[o] = 1
	}
	o++
	binary.BigEndian.PutUint32(buf[o:], uint32(p.ClientFD))
	o += 4
	binary.BigEndian.PutUint32(buf[o:], uint32(p.ServerFD))
	return buf
}

// DecodeReply parses a fixed-size reply buffer.
func DecodeReply(buf []byte) (*Reply, error) {
	if len(buf) < ReplyWireSize {
		return nil, errs.New(errs.Invalid, "reply buffer shorter than fixed wire size")
	}
	p := &Reply{}
	o := 0
	p.Op = Op(buf[o])
	o++
	p.SocketID = binary.BigEndian.Uint32(buf[o:])
	o += 4
	p.Code = errs.Code(buf[o])
	o++
	p.AddrLen = buf[o]
	o++
	copy(p.Addr[:], buf[o:o+addrMax])
	o += addrMax
	p.OptLen = binary.BigEndian.Uint16(buf[o:])
	o += 2
	copy(p.Opt[:], buf[o:o+64])
	o += 64
	p.HasFDs = buf[o] == 1
	o++
	p.ClientFD = int32(binary.BigEndian.Uint32(buf[o:]))
	o += 4
	p.ServerFD = int32(binary.BigEndian.Uint32(buf[o:]))
	return p, nil
}
