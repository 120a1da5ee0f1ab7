// Package wsconn implements the client side of a [RFC 6455] WebSocket
// connection: the HTTP Upgrade handshake, frame (de)serialization, and the
// close handshake. It is the "Connection" collaborator of the bidi package:
// a reliable, ordered, message-framed duplex byte transport to a single
// peer, exposing text and binary frames on a channel and serializing
// concurrent writes into FIFO order.
//
// This package knows nothing about WebDriver BiDi, JSON-RPC, or any other
// application-level protocol carried over the frames it moves.
//
// [RFC 6455]: https://datatracker.ietf.org/doc/html/rfc6455
package wsconn
