package websocket

import (
	"fmt"
	"strconv"
)

// State describes the lifecycle stage of a [Conn], as observed externally.
//
// [StateCloseSent] and [StateCloseReceived] are not mutually exclusive in
// practice: the engine records each side's close frame independently, and
// the observable state is derived from those two facts. Once both are set
// (or the connection is disposed), the state is [StateClosed].
type State int

const (
	// StateNone is the zero value; no connection exists yet.
	StateNone State = iota
	// StateConnecting means the opening handshake is still in progress.
	StateConnecting
	// StateOpen means the connection is established and both data
	// directions are usable.
	StateOpen
	// StateCloseSent means this endpoint sent a close frame and is
	// waiting for the server's close frame. Receiving is still allowed.
	StateCloseSent
	// StateCloseReceived means the server sent a close frame that this
	// endpoint has not answered yet. Sending is still allowed.
	StateCloseReceived
	// StateClosed means the closing handshake completed in both
	// directions, or the connection was disposed.
	StateClosed
	// StateAborted means the connection was terminated without a closing
	// handshake.
	StateAborted
)

// String returns the state's name, or its number if it's unrecognized.
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateCloseSent:
		return "close sent"
	case StateCloseReceived:
		return "close received"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return strconv.Itoa(int(s))
	}
}

// State derives the externally visible connection state from the close
// handshake flags and the abort/dispose markers.
func (c *Conn) State() State {
	aborted := c.aborted.Load()
	sent, received := c.sentClose.Load(), c.receivedClose.Load()

	switch {
	case aborted:
		return StateAborted
	case c.disposed.Load() || (sent && received):
		return StateClosed
	case received:
		return StateCloseReceived
	case sent:
		return StateCloseSent
	default:
		return StateOpen
	}
}

// checkState fails an operation unless the connection is in one of the
// given states. Disposal trumps everything else.
func (c *Conn) checkState(op string, allowed ...State) error {
	if c.disposed.Load() {
		return fmt.Errorf("%w: %s", ErrDisposed, op)
	}

	s := c.State()
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s while connection is %v", ErrInvalidState, op, s)
}
