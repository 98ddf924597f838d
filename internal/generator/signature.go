// Package generator implements the traffic generator and learning
// subsystem of spec §4.7: packet templates expanded across modifier
// ties into flat sequences, an optional Spirent-style signature
// trailer, a drift-free TX scheduler state machine, and an ARP/ND
// next-hop learning state machine.
//
// Packet templates are built from gopacket.SerializableLayer values
// and serialized with gopacket.SerializeBuffer, the idiomatic Go way
// to produce RFC-correct wire bytes — replacing the original's
// hand-rolled C++ header structs (see original_source's
// spirent_pga/common). The signature trailer's field layout is
// grounded on original_source's spirent_signature struct
// (data[16]/crc/cheater); the CRC itself is computed directly per
// spec rather than porting the PCLMULQDQ-accelerated table, which has
// no Go equivalent in the corpus and is a pure performance detail.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package generator

import "github.com/openperf/corenet/errs"

// SignatureSize is the fixed wire size of the trailer: data[16] +
// crc[2] + cheater[2].
const SignatureSize = 20

// Signature is the decoded form of a Spirent-style trailer: a 32-bit
// stream id, a 32-bit sequence number, a 62-bit timestamp, and 2 flag
// bits, packed into the trailer's 16 data bytes per spec §6.
type Signature struct {
	StreamID  uint32
	Sequence  uint32
	Timestamp uint64 // low 62 bits significant
	Flags     uint8  // low 2 bits significant
	Cheater   uint16
}

// Encode packs sig into a 20-byte trailer: 16 data bytes (stream id,
// sequence, timestamp<<2|flags), a CRC16 of those 16 bytes, and the
// cheater field.
func (sig Signature) Encode() [SignatureSize]byte {
	var out [SignatureSize]byte
	data := out[:16]

	putU32(data[0:4], sig.StreamID)
	putU32(data[4:8], sig.Sequence)

	packed := (sig.Timestamp&0x3fffffffffffffff)<<2 | uint64(sig.Flags&0x3)
	putU64(data[8:16], packed)

	crc := crc16(data)
	out[16] = byte(crc >> 8)
	out[17] = byte(crc)
	out[18] = byte(sig.Cheater >> 8)
	out[19] = byte(sig.Cheater)
	return out
}

// DecodeSignature unpacks a 20-byte trailer, validating its CRC16.
func DecodeSignature(trailer []byte) (Signature, error) {
	if len(trailer) < SignatureSize {
		return Signature{}, errs.New(errs.Invalid, "signature trailer shorter than 20 bytes")
	}
	data := trailer[0:16]
	wantCRC := uint16(trailer[16])<<8 | uint16(trailer[17])
	gotCRC := crc16(data)
	if wantCRC != gotCRC {
		return Signature{}, errs.New(errs.Invalid, "signature CRC16 mismatch")
	}

	streamID := getU32(data[0:4])
	sequence := getU32(data[4:8])
	packed := getU64(data[8:16])

	return Signature{
		StreamID:  streamID,
		Sequence:  sequence,
		Timestamp: packed >> 2,
		Flags:     uint8(packed & 0x3),
		Cheater:   uint16(trailer[18])<<8 | uint16(trailer[19]),
	}, nil
}

// crc16 computes the Spirent-style CRC16 exactly as spec §6 and §8
// specify: polynomial 0x10210000 applied MSB-first to the 16 data
// bytes, initial value 0xffff, final value bitwise-NOTed with the
// high 16 bits kept.
func crc16(data []byte) uint16 {
	const poly uint32 = 0x10210000
	crc := uint32(0xffff) << 16 // initial value 0xffff, shifted to align with the 32-bit working register
	for _, b := range data {
		for bit := 0; bit < 8; bit++ {
			msb := (b>>(7-bit))&1 == 1
			topBitSet := crc&0x80000000 != 0
			crc <<= 1
			if msb {
				crc |= 1
			}
			if topBitSet {
				crc ^= poly
			}
		}
	}
	return uint16((^crc) >> 16)
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
