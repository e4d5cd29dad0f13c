package websocket

import "errors"

// Errors reported by [Conn] operations. They classify failures the same
// way the protocol does, and are meant to be matched with [errors.Is] -
// the concrete error values usually carry more context.
var (
	// ErrInvalidMessageType indicates a [Conn.Send] call with an opcode
	// that isn't [OpcodeText] or [OpcodeBinary]. Close frames are sent
	// with [Conn.CloseOutput] and [Conn.Close], never with Send.
	ErrInvalidMessageType = errors.New("invalid message type")

	// ErrInvalidState indicates an operation that isn't allowed in the
	// connection's current state, e.g. sending after the closing
	// handshake completed.
	ErrInvalidState = errors.New("invalid connection state")

	// ErrProtocol indicates that the server violated RFC 6455: a malformed
	// frame, a masked server frame, an invalid close status code, etc.
	// The engine sends a best-effort close frame (status 1002) before
	// reporting it.
	ErrProtocol = errors.New("websocket protocol violation")

	// ErrInvalidUTF8 indicates a text message whose payload isn't valid
	// UTF-8. The engine sends a best-effort close frame (status 1007)
	// before reporting it. An invalid close frame reason is reported as
	// [ErrProtocol] instead.
	ErrInvalidUTF8 = errors.New("invalid UTF-8 in text message")

	// ErrClosedPrematurely indicates that the underlying stream failed or
	// reached EOF without a closing handshake. The connection is aborted.
	ErrClosedPrematurely = errors.New("connection closed prematurely")

	// ErrBusy indicates API misuse: a second concurrent [Conn.Send] or
	// [Conn.Receive] while another one is still in flight.
	ErrBusy = errors.New("another operation is already in progress")

	// ErrDisposed indicates an operation on a disposed connection.
	ErrDisposed = errors.New("connection disposed")
)
