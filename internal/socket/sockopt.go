package socket

import "github.com/openperf/corenet/errs"

// Option levels and names recognized per spec §4.6's option-handling
// table. Values mirror the usual BSD/Linux constants closely enough
// for the client shim to map them 1:1, but are defined locally so
// this package never depends on platform headers.
type OptLevel uint32

const (
	SOL_SOCKET OptLevel = iota + 1
	IPPROTO_IP
	IPPROTO_IPV6
	IPPROTO_TCP
	IPPROTO_RAW
	SOL_PACKET
)

type OptName uint32

const (
	SO_TYPE OptName = iota + 1
	SO_LINGER
	SO_RCVBUF
	SO_SNDBUF
	SO_ERROR
	SO_REUSEADDR

	IP_TTL
	IP_TOS
	IP_MULTICAST_TTL
	IP_MULTICAST_LOOP
	IP_ADD_MEMBERSHIP
	IP_DROP_MEMBERSHIP

	IPV6_UNICAST_HOPS
	IPV6_MULTICAST_HOPS
	IPV6_MULTICAST_LOOP
	IPV6_V6ONLY
	IPV6_CHECKSUM

	TCP_NODELAY
	TCP_KEEPIDLE
	TCP_KEEPINTVL
	TCP_KEEPCNT
	TCP_INFO

	PACKET_STATISTICS
	PACKET_ADD_MEMBERSHIP
	PACKET_DROP_MEMBERSHIP

	SOL_RAW_ICMP_FILTER
)

// optionSupported reports whether (level, name) is one of the
// recognized options; anything else dispatches to NoProtoOpt, per
// spec §4.6's "Unknown options return NoProtoOpt."
func optionSupported(level OptLevel, name OptName) bool {
	switch level {
	case SOL_SOCKET:
		switch name {
		case SO_TYPE, SO_LINGER, SO_RCVBUF, SO_SNDBUF, SO_ERROR, SO_REUSEADDR:
			return true
		}
	case IPPROTO_IP:
		switch name {
		case IP_TTL, IP_TOS, IP_MULTICAST_TTL, IP_MULTICAST_LOOP, IP_ADD_MEMBERSHIP, IP_DROP_MEMBERSHIP:
			return true
		}
	case IPPROTO_IPV6:
		switch name {
		case IPV6_UNICAST_HOPS, IPV6_MULTICAST_HOPS, IPV6_MULTICAST_LOOP, IPV6_V6ONLY, IPV6_CHECKSUM:
			return true
		}
	case IPPROTO_TCP:
		switch name {
		case TCP_NODELAY, TCP_KEEPIDLE, TCP_KEEPINTVL, TCP_KEEPCNT, TCP_INFO:
			return true
		}
	case IPPROTO_RAW:
		return name == IPV6_CHECKSUM || name == SOL_RAW_ICMP_FILTER
	case SOL_PACKET:
		switch name {
		case PACKET_STATISTICS, PACKET_ADD_MEMBERSHIP, PACKET_DROP_MEMBERSHIP:
			return true
		}
	}
	return false
}

// TCPInfo mirrors the subset of Linux's tcp_info this core's loopback
// stack can actually populate, grounded on runZeroInc-conniver's
// RawTCPInfo field layout and ordering. Unpopulated fields are left
// zero rather than filled with a sentinel, matching that package's
// explicit-validity convention.
type TCPInfo struct {
	State        uint8
	RTTMicros    uint32
	RTTVarMicros uint32
	SndCwnd      uint32
	BytesSent    uint64
	BytesReceived uint64
}

// Encode packs a TCPInfo into the fixed Opt payload of a Reply.
func (t *TCPInfo) Encode() [64]byte {
	var buf [64]byte
	buf[0] = t.State
	putU32(buf[1:], t.RTTMicros)
	putU32(buf[5:], t.RTTVarMicros)
	putU32(buf[9:], t.SndCwnd)
	putU64(buf[13:], t.BytesSent)
	putU64(buf[21:], t.BytesReceived)
	return buf
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

// dispatchGetOpt resolves a getsockopt request against s, returning
// NoProtoOpt for anything not in the recognized catalogue.
func dispatchGetOpt(s *Socket, level OptLevel, name OptName) ([64]byte, uint16, error) {
	if !optionSupported(level, name) {
		return [64]byte{}, 0, errs.New(errs.NoProtoOpt, "unrecognized (level, name) pair")
	}
	switch {
	case level == SOL_SOCKET && name == SO_TYPE:
		var buf [64]byte
		putU32(buf[:], uint32(s.Kind))
		return buf, 4, nil
	case level == SOL_SOCKET && name == SO_ERROR:
		var buf [64]byte
		putU32(buf[:], uint32(errs.CodeOf(s.LastError)))
		return buf, 4, nil
	case level == IPPROTO_TCP && name == TCP_INFO:
		info := s.TCPInfoSnapshot()
		return info.Encode(), 64, nil
	default:
		var buf [64]byte
		opt, ok := s.Options[optKey{level, name}]
		if !ok {
			return buf, 0, nil
		}
		n := copy(buf[:], opt)
		return buf, uint16(n), nil
	}
}

// dispatchSetOpt validates and stores a setsockopt request.
func dispatchSetOpt(s *Socket, level OptLevel, name OptName, value []byte) error {
	if !optionSupported(level, name) {
		return errs.New(errs.NoProtoOpt, "unrecognized (level, name) pair")
	}
	if level == IPPROTO_RAW && name == SOL_RAW_ICMP_FILTER {
		if !s.isICMP {
			return errs.New(errs.Invalid, "ICMP_FILTER requires a RAW/ICMP socket")
		}
		for i := 0; i < 8 && (i+1)*4 <= len(value); i++ {
			s.ICMPFilter[i] = uint32(value[i*4])<<24 | uint32(value[i*4+1])<<16 |
				uint32(value[i*4+2])<<8 | uint32(value[i*4+3])
		}
		return nil
	}
	if s.Options == nil {
		s.Options = make(map[optKey][]byte)
	}
	s.Options[optKey{level, name}] = append([]byte{}, value...)
	return nil
}

type optKey struct {
	level OptLevel
	name  OptName
}
