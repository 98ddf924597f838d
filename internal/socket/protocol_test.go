package socket

import "testing"

func TestRequestEncodeDecodeRoundTrip(t *testing.T) {
	req := &Request{
		Op:       OpBind,
		SocketID: 7,
		Domain:   2,
		Type:     uint16(SockDgram),
		Protocol: 17,
		AddrLen:  6,
		Backlog:  0,
	}
	copy(req.Addr[:], []byte{10, 0, 0, 1, 0x1F, 0x90})

	got, err := DecodeRequest(req.Encode())
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got.Op != req.Op || got.SocketID != req.SocketID || got.AddrLen != req.AddrLen {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
	if got.Addr != req.Addr {
		t.Fatalf("Addr round trip mismatch: got %v, want %v", got.Addr, req.Addr)
	}
}

func TestReplyEncodeDecodeRoundTrip(t *testing.T) {
	rep := &Reply{Op: OpSocket, SocketID: 42, Code: 0, HasFDs: true, ClientFD: 3, ServerFD: 4}
	got, err := DecodeReply(rep.Encode())
	if err != nil {
		t.Fatalf("DecodeReply: %v", err)
	}
	if got.SocketID != 42 || !got.HasFDs || got.ClientFD != 3 || got.ServerFD != 4 {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestDecodeRequestRejectsShortBuffer(t *testing.T) {
	if _, err := DecodeRequest(make([]byte, 4)); err == nil {
		t.Fatalf("expected error decoding undersized request buffer")
	}
}
