package wsconn

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"testing"
)

func newTestConn(r *bytes.Buffer, w *bytes.Buffer) *Conn {
	return &Conn{
		bufio:   bufio.NewReadWriter(bufio.NewReader(r), bufio.NewWriter(w)),
		maskGen: rand.Reader,
	}
}

func TestWriteFrameMasksPayload(t *testing.T) {
	var out bytes.Buffer
	c := newTestConn(nil, &out)

	payload := []byte("hello")
	if err := c.writeFrame(OpcodeText, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	data := out.Bytes()
	if data[0] != 0x80|byte(OpcodeText) {
		t.Fatalf("byte 0 = %#x, want FIN+text", data[0])
	}
	if data[1]&0x80 == 0 {
		t.Fatal("expected MASK bit set on client frame")
	}
	length := int(data[1] & 0x7f)
	if length != len(payload) {
		t.Fatalf("length = %d, want %d", length, len(payload))
	}

	mask := data[2:6]
	masked := data[6 : 6+length]
	unmasked := make([]byte, length)
	for i, b := range masked {
		unmasked[i] = b ^ mask[i%4]
	}
	if string(unmasked) != "hello" {
		t.Fatalf("unmasked payload = %q, want %q", unmasked, "hello")
	}
}

func TestReadFrameHeaderUnmaskedServerFrame(t *testing.T) {
	// FIN=1, opcode=text, MASK=0, length=5.
	raw := []byte{0x80 | byte(OpcodeText), 5, 'h', 'e', 'l', 'l', 'o'}
	in := bytes.NewBuffer(raw)
	c := newTestConn(in, nil)

	h, err := c.readFrameHeader()
	if err != nil {
		t.Fatalf("readFrameHeader: %v", err)
	}
	if !h.fin || h.opcode != OpcodeText || h.masked || h.payloadLength != 5 {
		t.Fatalf("header = %+v", h)
	}
}

func TestReadFrameHeaderExtendedLength(t *testing.T) {
	raw := []byte{0x80 | byte(OpcodeBinary), 126, 0x01, 0x00} // length = 256
	in := bytes.NewBuffer(raw)
	c := newTestConn(in, nil)

	h, err := c.readFrameHeader()
	if err != nil {
		t.Fatalf("readFrameHeader: %v", err)
	}
	if h.payloadLength != 256 {
		t.Fatalf("payloadLength = %d, want 256", h.payloadLength)
	}
}

func TestCheckFrameHeaderRejectsMaskedServerFrame(t *testing.T) {
	c := &Conn{}
	h := frameHeader{opcode: OpcodeText, masked: true}
	if _, err := c.checkFrameHeader(h); err == nil {
		t.Fatal("expected error for masked server frame")
	}
}

func TestCheckFrameHeaderRejectsFragmentedControlFrame(t *testing.T) {
	c := &Conn{}
	h := frameHeader{opcode: OpcodePing, fin: false}
	if _, err := c.checkFrameHeader(h); err == nil {
		t.Fatal("expected error for fragmented control frame")
	}
}

func TestCheckFrameHeaderRejectsOversizedControlFrame(t *testing.T) {
	c := &Conn{}
	h := frameHeader{opcode: OpcodeClose, fin: true, payloadLength: maxControlPayload + 1}
	if _, err := c.checkFrameHeader(h); err == nil {
		t.Fatal("expected error for oversized control frame")
	}
}

func TestCheckFrameHeaderAcceptsValidDataFrame(t *testing.T) {
	c := &Conn{}
	h := frameHeader{opcode: OpcodeText, fin: true, payloadLength: 10}
	if _, err := c.checkFrameHeader(h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpcodeString(t *testing.T) {
	tests := map[Opcode]string{
		OpcodeContinuation: "continuation",
		OpcodeText:         "text",
		OpcodeBinary:       "binary",
		OpcodeClose:        "close",
		OpcodePing:         "ping",
		OpcodePong:         "pong",
		Opcode(0x3):        "opcode(0x3)",
	}
	for op, want := range tests {
		if got := op.String(); got != want {
			t.Errorf("Opcode(%#x).String() = %q, want %q", byte(op), got, want)
		}
	}
}
