package generator

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/openperf/corenet/errs"
)

// LengthPolicyKind selects how a template's wire length is determined.
type LengthPolicyKind int

const (
	LengthFixed LengthPolicyKind = iota
	LengthList
	LengthSequence
)

// LengthPolicy describes the length modifier attached to a template,
// grounded on spec §4.7's "length policy (fixed | list | sequence)".
type LengthPolicy struct {
	Kind LengthPolicyKind
	// Fixed is used when Kind == LengthFixed.
	Fixed int
	// List is used when Kind == LengthList.
	List []int
	// Seq is used when Kind == LengthSequence.
	Seq Sequence
}

const (
	minPacketLength = 14
	maxPacketLength = 9216
)

// Validate checks a length policy's static bounds per spec §4.7.
func (p LengthPolicy) Validate() error {
	check := func(v int) error {
		if v < minPacketLength || v > maxPacketLength {
			return errs.New(errs.OutOfRange, "packet length outside [14, 9216]")
		}
		return nil
	}
	switch p.Kind {
	case LengthFixed:
		return check(p.Fixed)
	case LengthList:
		if len(p.List) == 0 {
			return errs.New(errs.Invalid, "length list must have at least one value")
		}
		for _, v := range p.List {
			if err := check(v); err != nil {
				return err
			}
		}
		return nil
	case LengthSequence:
		return p.Seq.Validate()
	default:
		return errs.New(errs.Invalid, "unrecognized length policy kind")
	}
}

// SignatureConfig controls whether and how a template's frames carry
// a trailing Spirent-style signature.
type SignatureConfig struct {
	Enabled    bool
	StreamID   uint32
	FillByte   byte
	FlagsValue uint8
}

// Template describes one generator definition's packet shape: a
// protocol header stack built with gopacket layers, a length policy,
// and an optional signature trailer. Headers are serialized with
// gopacket.SerializeLayers so checksums and length fields are filled
// in correctly, the idiomatic replacement for hand-rolled header
// structs.
type Template struct {
	SrcMAC, DstMAC net.HardwareAddr
	EtherType      layers.EthernetType

	SrcIP, DstIP net.IP
	IPv6         bool

	Proto   layers.IPProtocol
	SrcPort uint16
	DstPort uint16
	UseTCP  bool // false selects UDP

	Length    LengthPolicy
	Signature SignatureConfig
}

// Build serializes one frame at the given wire length, appending a
// signature trailer when enabled. length must already have satisfied
// Template.Length's bounds; Build does not re-validate it.
func (tpl *Template) Build(length int, sequence uint32, timestamp uint64) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       tpl.SrcMAC,
		DstMAC:       tpl.DstMAC,
		EthernetType: tpl.etherType(),
	}

	var networkLayer gopacket.SerializableLayer
	var transport gopacket.SerializableLayer
	var payloadLen int

	if tpl.IPv6 {
		ip6 := &layers.IPv6{
			Version:    6,
			SrcIP:      tpl.SrcIP,
			DstIP:      tpl.DstIP,
			NextHeader: tpl.Proto,
			HopLimit:   64,
		}
		networkLayer = ip6
	} else {
		ip4 := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			SrcIP:    tpl.SrcIP,
			DstIP:    tpl.DstIP,
			Protocol: tpl.Proto,
		}
		networkLayer = ip4
	}

	headerOverhead := 14 + tpl.ipHeaderLen()
	if tpl.UseTCP {
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(tpl.SrcPort),
			DstPort: layers.TCPPort(tpl.DstPort),
			Window:  8192,
			ACK:     true,
		}
		transport = tcp
		headerOverhead += 20
	} else {
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(tpl.SrcPort),
			DstPort: layers.UDPPort(tpl.DstPort),
		}
		transport = udp
		headerOverhead += 8
	}

	trailerLen := 0
	if tpl.Signature.Enabled {
		trailerLen = SignatureSize
	}
	payloadLen = length - headerOverhead - trailerLen
	if payloadLen < 0 {
		return nil, errs.New(errs.OutOfRange, "requested length too small for header and signature overhead")
	}

	payload := make([]byte, payloadLen, payloadLen+trailerLen)
	for i := range payload {
		payload[i] = tpl.Signature.FillByte
	}
	if tpl.Signature.Enabled {
		sig := Signature{
			StreamID:  tpl.Signature.StreamID,
			Sequence:  sequence,
			Timestamp: timestamp,
			Flags:     tpl.Signature.FlagsValue,
		}
		trailer := sig.Encode()
		payload = append(payload, trailer[:]...)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var checksumErr error
	if tpl.UseTCP {
		tcp := transport.(*layers.TCP)
		if tpl.IPv6 {
			checksumErr = tcp.SetNetworkLayerForChecksum(networkLayer.(*layers.IPv6))
		} else {
			checksumErr = tcp.SetNetworkLayerForChecksum(networkLayer.(*layers.IPv4))
		}
	} else {
		udp := transport.(*layers.UDP)
		if tpl.IPv6 {
			checksumErr = udp.SetNetworkLayerForChecksum(networkLayer.(*layers.IPv6))
		} else {
			checksumErr = udp.SetNetworkLayerForChecksum(networkLayer.(*layers.IPv4))
		}
	}
	if checksumErr != nil {
		return nil, errs.Wrap(errs.Internal, "binding transport checksum to network layer", checksumErr)
	}

	err := gopacket.SerializeLayers(buf, opts,
		eth,
		networkLayer,
		transport,
		gopacket.Payload(payload),
	)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "serializing generator frame", err)
	}
	return buf.Bytes(), nil
}

func (tpl *Template) etherType() layers.EthernetType {
	if tpl.IPv6 {
		return layers.EthernetTypeIPv6
	}
	return layers.EthernetTypeIPv4
}

func (tpl *Template) ipHeaderLen() int {
	if tpl.IPv6 {
		return 40
	}
	return 20
}
