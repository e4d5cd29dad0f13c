// Package websocket is a client-side implementation of the WebSocket
// protocol engine (RFC 6455): framing, masking, fragmentation, control
// frames, the closing handshake, and payload validation.
//
// Unlike message-oriented wrappers, this package streams messages through
// caller-supplied buffers: a single message may span multiple frames, and
// a single frame may span multiple [Conn.Receive] calls. Message boundaries
// are reported through [Result.Final].
//
// The engine owns an already-established bidirectional stream (usually
// produced by [Dial]) and drives all framed I/O on it. One send and one
// receive may be in progress concurrently; the closing handshake may
// overlap an in-flight receive.
//
// Note: WebSocket [extensions] are not supported. [Subprotocols] are
// negotiated during the handshake and reported, but carry no semantics here.
//
// [extensions]: https://www.iana.org/assignments/websocket/websocket.xhtml#extension-name
// [subprotocols]: https://www.iana.org/assignments/websocket/websocket.xhtml#subprotocol-name
package websocket
