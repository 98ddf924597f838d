package generator

import "testing"

func TestSignatureEncodeDecodeRoundTrip(t *testing.T) {
	sig := Signature{
		StreamID:  0xdeadbeef,
		Sequence:  12345,
		Timestamp: 0x1fffffffffffffff &^ 0 | (1<<61 - 1), // a large 62-bit-range value
		Flags:     0x3,
		Cheater:   0xabcd,
	}
	trailer := sig.Encode()
	if len(trailer) != SignatureSize {
		t.Fatalf("Encode length = %d, want %d", len(trailer), SignatureSize)
	}

	got, err := DecodeSignature(trailer[:])
	if err != nil {
		t.Fatalf("DecodeSignature: %v", err)
	}
	if got.StreamID != sig.StreamID {
		t.Fatalf("StreamID = %x, want %x", got.StreamID, sig.StreamID)
	}
	if got.Sequence != sig.Sequence {
		t.Fatalf("Sequence = %d, want %d", got.Sequence, sig.Sequence)
	}
	if got.Timestamp != sig.Timestamp&0x3fffffffffffffff {
		t.Fatalf("Timestamp = %x, want %x", got.Timestamp, sig.Timestamp&0x3fffffffffffffff)
	}
	if got.Flags != sig.Flags {
		t.Fatalf("Flags = %d, want %d", got.Flags, sig.Flags)
	}
	if got.Cheater != sig.Cheater {
		t.Fatalf("Cheater = %x, want %x", got.Cheater, sig.Cheater)
	}
}

func TestSignatureDecodeRejectsCorruptedCRC(t *testing.T) {
	sig := Signature{StreamID: 1, Sequence: 2, Timestamp: 3, Flags: 1}
	trailer := sig.Encode()
	trailer[0] ^= 0xff // corrupt a data byte without fixing up the CRC

	if _, err := DecodeSignature(trailer[:]); err == nil {
		t.Fatalf("expected CRC mismatch error")
	}
}

func TestSignatureDecodeRejectsShortBuffer(t *testing.T) {
	if _, err := DecodeSignature(make([]byte, 10)); err == nil {
		t.Fatalf("expected error for undersized trailer")
	}
}

func TestSignatureTimestampTruncatedTo62Bits(t *testing.T) {
	sig := Signature{Timestamp: ^uint64(0)} // all 64 bits set
	trailer := sig.Encode()
	got, err := DecodeSignature(trailer[:])
	if err != nil {
		t.Fatalf("DecodeSignature: %v", err)
	}
	if got.Timestamp != 0x3fffffffffffffff {
		t.Fatalf("Timestamp = %#x, want 62-bit truncated value", got.Timestamp)
	}
}
