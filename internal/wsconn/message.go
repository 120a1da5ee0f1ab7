package wsconn

import (
	"bytes"
	"io"
)

// readMessage reads incoming frames from the server, responds to control
// frames (whether or not they're interleaved with data frames), and
// defragments data frames if needed. This function handles errors and
// connection closures gracefully, and returns ok=false in such cases.
//
// Do not call this function directly, it is meant to be used exclusively
// (and continuously) by [Conn.readMessages]!
//
// It is based on:
//   - Base framing protocol: https://datatracker.ietf.org/doc/html/rfc6455#section-5.2
//   - Fragmentation: https://datatracker.ietf.org/doc/html/rfc6455#section-5.4
//   - Control frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.5
//   - Data frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.6
//   - Receiving data: https://datatracker.ietf.org/doc/html/rfc6455#section-6.2
//   - Closing the connection: https://datatracker.ietf.org/doc/html/rfc6455#section-7
func (c *Conn) readMessage() ([]byte, Opcode, bool) {
	var msg bytes.Buffer
	var firstOpcode Opcode

	for {
		h, err := c.readFrameHeader()
		if err != nil {
			c.logger.Err(err).Msg("failed to read WebSocket frame header")
			c.sendCloseControlFrame(StatusInternalError, "frame header reading error")
			return nil, 0, false
		}
		c.logger.Trace().Str("opcode", h.opcode.String()).Uint64("length", h.payloadLength).
			Msg("received WebSocket frame")

		var data []byte
		if h.payloadLength > 0 {
			data = make([]byte, h.payloadLength)
			if _, err := io.ReadFull(c.bufio, data); err != nil {
				c.logger.Err(err).Msg("failed to read WebSocket frame payload")
				c.sendCloseControlFrame(StatusInternalError, "frame payload reading error")
				return nil, 0, false
			}
		}

		if reason, err := c.checkFrameHeader(h); err != nil {
			c.logger.Err(err).Msg("protocol error due to invalid frame")
			c.sendCloseControlFrame(StatusProtocolError, reason)
			return nil, 0, false
		}

		switch h.opcode {
		// "EXAMPLE: For a text message sent as three fragments, the first
		// fragment would have an opcode of 0x1 and a FIN bit clear, the
		// second fragment would have an opcode of 0x0 and a FIN bit clear,
		// and the third fragment would have an opcode of 0x0 and a FIN bit
		// that is set."
		case OpcodeContinuation, OpcodeText, OpcodeBinary:
			if msg.Len() == 0 && h.opcode != OpcodeContinuation {
				firstOpcode = h.opcode
			}
			if h.payloadLength > 0 {
				if _, err := msg.Write(data); err != nil {
					c.logger.Err(err).Msg("failed to store WebSocket data frame payload")
					c.sendCloseControlFrame(StatusInternalError, "data frame payload storing error")
					return nil, 0, false
				}
			}

		// "If an endpoint receives a Close frame and did not previously send
		// a Close frame, the endpoint MUST send a Close frame in response."
		case OpcodeClose:
			status, reason := parseClose(data)
			c.logger.Trace().Str("close_status", status.String()).Str("close_reason", reason).
				Msg("received WebSocket close control frame")
			c.closeReceived = true
			c.sendCloseControlFrame(status, reason)
			return nil, 0, false // Not an error, but we no longer need to receive new frames.

		// "An endpoint MUST be capable of handling control
		// frames in the middle of a fragmented message."
		case OpcodePing:
			if err := <-c.sendControlFrame(OpcodePong, data); err != nil {
				c.logger.Err(err).Bytes("payload", data).Msg("failed to send WebSocket pong control frame")
			} else {
				c.logger.Trace().Bytes("payload", data).Msg("sent WebSocket pong control frame")
			}

		case OpcodePong:
			// No need to handle "Pong" control frames, since this
			// client doesn't send unsolicited "Ping" control frames.
		}

		if h.fin && h.opcode <= OpcodeBinary {
			data = msg.Bytes()
			c.logger.Debug().Bytes("data", data).Msg("received WebSocket data message")
			return data, firstOpcode, true
		}
	}
}

// SendText sends a [UTF-8 text] message to the server. This is done
// asynchronously, to manage isolation of multiple concurrent calls,
// including interleaved control frames. Despite that, this function
// enables the caller to block and/or handle errors, with the returned
// channel.
//
// [UTF-8 text]: https://datatracker.ietf.org/doc/html/rfc6455#section-5.6
func (c *Conn) SendText(data []byte) <-chan error {
	return c.Send(OpcodeText, data)
}

// SendBinary sends a [binary] message to the server, the same way
// [Conn.SendText] sends a text message.
//
// [binary]: https://datatracker.ietf.org/doc/html/rfc6455#section-5.6
func (c *Conn) SendBinary(data []byte) <-chan error {
	return c.Send(OpcodeBinary, data)
}

// sendControlFrame sends a [WebSocket control frame] to the server.
//
// Use this function instead of calling [Conn.writeFrame] directly!
//
// [WebSocket control frame]: https://datatracker.ietf.org/doc/html/rfc6455#section-5.5
func (c *Conn) sendControlFrame(opcode Opcode, payload []byte) <-chan error {
	return c.Send(opcode, payload)
}
