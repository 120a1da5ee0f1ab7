package wsconn

import (
	"bufio"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newTestConnPair returns a Conn wired to one end of an in-memory net.Pipe,
// with its write loop running, and the peer end of the pipe for a test to
// play the role of the server.
func newTestConnPair(t *testing.T) (*Conn, net.Conn) {
	t.Helper()

	client, peer := net.Pipe()
	logger := zerolog.Nop()

	c := &Conn{
		logger:  &logger,
		bufio:   bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)),
		closer:  client,
		writeC:  make(chan writeRequest),
		maskGen: rand.Reader,
	}
	go c.writeMessages()

	t.Cleanup(func() {
		client.Close()
		peer.Close()
	})

	return c, peer
}

func serverFrame(t *testing.T, opcode Opcode, payload []byte) []byte {
	t.Helper()
	b := []byte{0x80 | byte(opcode), byte(len(payload))}
	return append(b, payload...)
}

func TestReadMessageSingleTextFrame(t *testing.T) {
	c, peer := newTestConnPair(t)

	done := make(chan struct{})
	var data []byte
	var opcode Opcode
	var ok bool
	go func() {
		data, opcode, ok = c.readMessage()
		close(done)
	}()

	if _, err := peer.Write(serverFrame(t, OpcodeText, []byte("hi"))); err != nil {
		t.Fatalf("peer.Write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readMessage never returned")
	}

	if !ok || opcode != OpcodeText || string(data) != "hi" {
		t.Fatalf("data=%q opcode=%v ok=%v", data, opcode, ok)
	}
}

func TestReadMessageFragmented(t *testing.T) {
	c, peer := newTestConnPair(t)

	done := make(chan struct{})
	var data []byte
	var opcode Opcode
	var ok bool
	go func() {
		data, opcode, ok = c.readMessage()
		close(done)
	}()

	// First fragment: opcode=text, FIN=0.
	if _, err := peer.Write([]byte{byte(OpcodeText), 2, 'h', 'i'}); err != nil {
		t.Fatalf("peer.Write: %v", err)
	}
	// Final fragment: opcode=continuation, FIN=1.
	if _, err := peer.Write([]byte{0x80 | byte(OpcodeContinuation), 1, '!'}); err != nil {
		t.Fatalf("peer.Write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readMessage never returned")
	}

	if !ok || opcode != OpcodeText || string(data) != "hi!" {
		t.Fatalf("data=%q opcode=%v ok=%v", data, opcode, ok)
	}
}

func TestReadMessageRespondsToPing(t *testing.T) {
	c, peer := newTestConnPair(t)

	done := make(chan struct{})
	go func() {
		c.readMessage()
		close(done)
	}()

	if _, err := peer.Write(serverFrame(t, OpcodePing, []byte("ping-payload"))); err != nil {
		t.Fatalf("peer.Write: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(time.Second))
	header := make([]byte, 2)
	if _, err := peer.Read(header); err != nil {
		t.Fatalf("reading pong header: %v", err)
	}
	if Opcode(header[0]&0x0f) != OpcodePong {
		t.Fatalf("opcode = %v, want pong", Opcode(header[0]&0x0f))
	}

	// Drain the rest of the pong frame (mask key + payload) so the writer's
	// Flush completes and the write loop is free to send the next frame.
	rest := make([]byte, 4+len("ping-payload"))
	if _, err := peer.Read(rest); err != nil {
		t.Fatalf("draining pong frame: %v", err)
	}

	// readMessage is still blocked waiting for a data/close frame; give it
	// a close frame so the goroutine above can exit before the pipe closes.
	if _, err := peer.Write(serverFrame(t, OpcodeClose, nil)); err != nil {
		t.Fatalf("peer.Write close: %v", err)
	}

	// readMessage replies with its own close frame before returning; drain
	// it so the write loop's Flush isn't left blocked.
	go func() {
		buf := make([]byte, 32)
		peer.Read(buf)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readMessage never returned after close")
	}
}

func TestReadMessageClose(t *testing.T) {
	c, peer := newTestConnPair(t)

	done := make(chan struct{})
	var ok bool
	go func() {
		_, _, ok = c.readMessage()
		close(done)
	}()

	if _, err := peer.Write(serverFrame(t, OpcodeClose, []byte{0x03, 0xe8})); err != nil { // 1000, normal closure
		t.Fatalf("peer.Write: %v", err)
	}

	// readMessage replies with its own close frame before returning; drain
	// it so the write loop's Flush isn't left blocked.
	go func() {
		buf := make([]byte, 32)
		peer.Read(buf)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readMessage never returned")
	}

	if ok {
		t.Fatal("expected ok=false after a close frame")
	}
	if !c.closeReceived {
		t.Fatal("expected closeReceived=true")
	}
}
