package bidi

import (
	"context"
	"sync"

	"github.com/tzrikka/bidigo/internal/wsconn"
)

// Connection is the duplex, message-framed transport a Transport drives.
// It is an interface (rather than a direct dependency on [wsconn.Conn]) so
// that transport tests can substitute an in-memory fake instead of a real
// socket.
type Connection interface {
	// Start establishes the underlying connection to uri. It must not be
	// called more than once.
	Start(ctx context.Context, uri string) error

	// Incoming returns the channel of received data frames' payloads. It is
	// closed once the connection's receive loop exits.
	Incoming() <-chan []byte

	// SendText enqueues one text frame and returns a channel carrying the
	// outcome of the write.
	SendText(data []byte) <-chan error

	// Stop releases the connection's resources. Idempotent.
	Stop()
}

// wsConnection adapts an [wsconn.Conn] to the Connection interface. The
// underlying socket is only established once Start is called, so a
// wsConnection can be constructed ahead of the URI it will dial.
type wsConnection struct {
	opts []wsconn.DialOpt

	mu   sync.Mutex
	conn *wsconn.Conn
	text chan []byte
}

// NewWSConnection returns a Connection backed by a real WebSocket, using
// internal/wsconn. opts are forwarded to [wsconn.Dial] when Start is called.
func NewWSConnection(opts ...wsconn.DialOpt) Connection {
	return &wsConnection{opts: opts}
}

func (w *wsConnection) Start(ctx context.Context, uri string) error {
	conn, err := wsconn.Dial(ctx, uri, w.opts...)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.text = make(chan []byte)
	w.mu.Unlock()

	go w.pump()
	return nil
}

// pump forwards both text and binary frames from the underlying Conn to
// w.text. The BiDi wire protocol never sends binary frames, so a binary
// frame's bytes fail classify's JSON parse and surface through
// unknown_message_received, rather than being silently dropped here.
func (w *wsConnection) pump() {
	defer close(w.text)
	for frame := range w.conn.Incoming() {
		switch frame.Opcode {
		case wsconn.OpcodeText, wsconn.OpcodeBinary:
			w.text <- frame.Data
		}
	}
}

func (w *wsConnection) Incoming() <-chan []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.text
}

func (w *wsConnection) SendText(data []byte) <-chan error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		errc := make(chan error, 1)
		errc <- ErrNotConnected
		return errc
	}
	return conn.SendText(data)
}

func (w *wsConnection) Stop() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn != nil {
		conn.Stop()
	}
}
