package websocket

import "strconv"

// Opcode denotes the type of a WebSocket frame, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2 and
// https://datatracker.ietf.org/doc/html/rfc6455#section-11.8.
type Opcode int

const (
	OpcodeContinuation Opcode = iota
	OpcodeText
	OpcodeBinary
	// 3-7 are reserved for further non-control frames.
	_
	_
	_
	_
	_
	OpcodeClose
	opcodePing
	opcodePong
	// 11-16 are reserved for further control frames.
)

// String returns the opcode's name, or its number if it's unrecognized.
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case opcodePing:
		return "ping"
	case opcodePong:
		return "pong"
	default:
		return strconv.Itoa(int(o))
	}
}

// isControl reports whether the opcode denotes a control frame
// (https://datatracker.ietf.org/doc/html/rfc6455#section-5.5).
func (o Opcode) isControl() bool {
	return o >= OpcodeClose
}

// isData reports whether the opcode denotes a text or binary data frame.
func (o Opcode) isData() bool {
	return o == OpcodeText || o == OpcodeBinary
}
