package wsconn

import (
	"bufio"
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// ErrConnClosed is returned by [Conn.Send] once the connection has been
// stopped; no further frames can be enqueued for transmission.
var ErrConnClosed = errors.New("wsconn: connection closed")

// Conn represents the configuration and state of an open client connection
// to a WebSocket server. It is the sole owner of the underlying socket: one
// goroutine reads frames, one goroutine serializes writes, and both are
// started by [Dial].
type Conn struct {
	// Initialized before the actual handshake.
	logger  *zerolog.Logger
	client  *http.Client
	headers http.Header

	// Initialized after the actual handshake.
	bufio  *bufio.ReadWriter
	readC  chan Frame
	writeC chan writeRequest
	closer io.ReadWriteCloser

	// No need for synchronization: value changes are possible only in
	// one direction (false to true), and are always done by a single
	// function, which is guaranteed to run in a single goroutine.
	closeReceived bool

	closeSent   bool
	closeSentMu sync.RWMutex

	stopOnce sync.Once
	sendMu   sync.Mutex
	stopped  bool

	// Only for the purpose of minimizing memory allocations (safely),
	// not for state management or memory sharing of any kind.
	readBuf  [8]byte
	writeBuf [10]byte
	closeBuf [maxControlPayload]byte

	// For unit-testing only.
	nonceGen io.Reader
	maskGen  io.Reader
}

// Frame is one complete WebSocket message delivered to the connection's
// caller: a text frame or a binary frame. Control frames never reach this
// channel; they are handled internally by [Conn.readMessage].
type Frame struct {
	Opcode Opcode
	Data   []byte
}

// writeRequest synchronizes concurrent calls to [Conn.writeFrame].
type writeRequest struct {
	opcode Opcode
	data   []byte
	err    chan<- error
}

// Incoming returns the connection's channel that publishes data frames as
// they are received from the server. It is closed once the connection's
// read loop exits, whether due to a received close frame, a protocol
// error, or a peer disconnect.
func (c *Conn) Incoming() <-chan Frame {
	return c.readC
}

// Send enqueues one frame for transmission and returns a channel that
// receives the outcome of the write. Concurrent calls are serialized in the
// order Send was called (FIFO), matching the peer's expected send order.
func (c *Conn) Send(opcode Opcode, data []byte) <-chan error {
	errc := make(chan error, 1)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.stopped {
		errc <- ErrConnClosed
		return errc
	}

	c.writeC <- writeRequest{opcode: opcode, data: data, err: errc}
	return errc
}

// Stop initiates a graceful close of the connection and releases its
// resources. It is idempotent: only the first call has an effect.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() {
		if !c.IsClosed() {
			c.Close(StatusNormalClosure)
		}

		c.sendMu.Lock()
		c.stopped = true
		close(c.writeC)
		c.sendMu.Unlock()

		_ = c.closer.Close()
	})
}

func newConn(logger *zerolog.Logger, client *http.Client, headers http.Header) *Conn {
	return &Conn{
		logger:   logger,
		client:   client,
		headers:  headers,
		nonceGen: rand.Reader,
		maskGen:  rand.Reader,
	}
}

// readMessages runs as a [Conn] goroutine, to call [Conn.readMessage]
// continuously, in order to process control and data frames, and publish
// data frames to the subscribers of this connection.
func (c *Conn) readMessages() {
	for {
		data, opcode, ok := c.readMessage()
		if !ok {
			c.logger.Trace().Bool("closing", c.IsClosing()).Bool("closed", c.IsClosed()).
				Msg("WebSocket read loop exiting")
			close(c.readC)
			return
		}
		c.readC <- Frame{Opcode: opcode, Data: data}
	}
}

// writeMessages runs as a [Conn] goroutine, to synchronize concurrent calls
// to [Conn.writeFrame]. This package doesn't implement fragmentation of
// outbound frames.
func (c *Conn) writeMessages() {
	for msg := range c.writeC {
		msg.err <- c.writeFrame(msg.opcode, msg.data)
		// The write request's error channel can be used at most once.
		close(msg.err)
	}
}
