package websocket

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// StatusCode indicates a reason for the closure of
// an established WebSocket connection, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.
//
// See also https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number.
//
// Other status code ranges:
//   - 0-999: not used
//   - 3000-3999: reserved for use by libraries, frameworks, and applications
//   - 4000-4999: reserved for private use and thus can't be registered
type StatusCode uint16

const (
	// The purpose for which the connection was established has been fulfilled.
	StatusNormalClosure StatusCode = iota + 1000
	// An endpoint is "going away", such as a server going
	// down or a browser having navigated away from a page.
	StatusGoingAway
	// An endpoint is terminating the connection due to a protocol error.
	StatusProtocolError
	// An endpoint is terminating the connection because it has received
	// a type of data it cannot accept.
	StatusUnsupportedData
	// Reserved. The specific meaning might be defined in the future.
	_
	// Reserved value, MUST NOT be set as a status code in a Close control
	// frame by an endpoint. It is designated for use in applications
	// expecting a status code to indicate that no status code was
	// actually present.
	StatusNotReceived
	// Reserved value, MUST NOT be set as a status code in a Close control
	// frame by an endpoint. It is designated for use in applications
	// expecting a status code to indicate that the connection was closed
	// abnormally, e.g. without sending or receiving a Close control frame.
	StatusClosedAbnormally
	// An endpoint is terminating the connection because it has received
	// data within a message that was not consistent with the type of the
	// message (e.g. non-UTF-8 RFC 3629 data within a text message).
	StatusInvalidData
	// An endpoint is terminating the connection because it has received
	// a message that violates its policy.
	StatusPolicyViolation
	// An endpoint is terminating the connection because it has
	// received a message that is too big for it to process.
	StatusMessageTooBig
	// An endpoint (client) is terminating the connection because the
	// server didn't negotiate one or more expected extensions.
	StatusMandatoryExtension
	// A remote endpoint is terminating the connection because it
	// encountered an unexpected condition that prevented it from
	// fulfilling the request.
	StatusInternalError
	// See https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number.
	StatusServiceRestart
	// See https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number.
	StatusTryAgainLater
	// See https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number.
	StatusBadGateway
	// Reserved value, MUST NOT be set as a status code in a Close control
	// frame by an endpoint. It indicates a failed TLS handshake.
	StatusTLSHandshake
)

// String returns the status code's name, or its number if it's unrecognized.
func (s StatusCode) String() string {
	switch s {
	case StatusNormalClosure:
		return "normal closure"
	case StatusGoingAway:
		return "going away"
	case StatusProtocolError:
		return "protocol error"
	case StatusUnsupportedData:
		return "unsupported data"
	case StatusNotReceived:
		return "status not received"
	case StatusClosedAbnormally:
		return "closed abnormally"
	case StatusInvalidData:
		return "invalid data"
	case StatusPolicyViolation:
		return "policy violation"
	case StatusMessageTooBig:
		return "message too big"
	case StatusMandatoryExtension:
		return "expected extension negotiation"
	case StatusInternalError:
		return "internal error"
	case StatusServiceRestart:
		return "service restart"
	case StatusTryAgainLater:
		return "try again later"
	case StatusBadGateway:
		return "bad gateway"
	case StatusTLSHandshake:
		return "TLS handshake"
	default:
		return strconv.Itoa(int(s))
	}
}

// maxCloseReason is the maximum length of a connection closing reason.
// The difference from [maxControlPayload] is due to the status code.
const maxCloseReason = maxControlPayload - 2

// validCloseStatus reports whether a status code is legal on the wire:
// 1000-1003 and 1007-1011, plus all of 3000-4999. Every other code is
// rejected, including 1012-1014; 1005 and 1006 (and 1015) are reserved
// for offline use and never legal in a close frame.
func validCloseStatus(s StatusCode) bool {
	switch {
	case s >= 3000 && s <= 4999:
		return true
	case s >= StatusNormalClosure && s <= StatusUnsupportedData:
		return true
	case s >= StatusInvalidData && s <= StatusInternalError:
		return true
	default:
		return false
	}
}

// checkClosePayload performs sanity corrections on the status code and
// UTF-8 reason of an outgoing close frame, so the engine never puts an
// illegal close frame on the wire.
func checkClosePayload(status StatusCode, reason string) (StatusCode, string) {
	if !validCloseStatus(status) {
		status = StatusProtocolError
	}
	reason = strings.ToValidUTF8(reason, "")
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
		// Drop a multi-byte character cut short by the truncation.
		for !utf8.ValidString(reason) {
			reason = reason[:len(reason)-1]
		}
	}
	return status, reason
}

// CloseOutput sends a close frame to the server without waiting for the
// server's own close frame, moving the connection to [StateCloseSent]
// (or [StateClosed], if the server's close frame was already received).
// Receiving remains possible until the server answers.
func (c *Conn) CloseOutput(ctx context.Context, status StatusCode, reason string) error {
	if err := c.checkState("close output", StateOpen, StateCloseReceived); err != nil {
		return err
	}
	return c.sendCloseFrame(ctx, status, reason)
}

// Close performs the full closing handshake: it sends a close frame (if
// one wasn't sent yet), then keeps receiving - discarding data frames -
// until the server's close frame arrives, and finally releases the
// connection's resources. If a user receive is already in flight, the
// handshake waits for it instead of starting a second receive.
//
// It is based on:
//   - Closing handshake: https://datatracker.ietf.org/doc/html/rfc6455#section-7.1.2
func (c *Conn) Close(ctx context.Context, status StatusCode, reason string) error {
	if err := c.checkState("close", StateOpen, StateCloseReceived, StateCloseSent); err != nil {
		// Close is idempotent once the handshake completed.
		if !c.disposed.Load() && c.State() == StateClosed {
			return nil
		}
		return err
	}

	if !c.sentClose.Load() {
		if err := c.sendCloseFrame(ctx, status, reason); err != nil {
			return err
		}
	}

	for !c.receivedClose.Load() {
		// The mutex both awaits an in-flight receive and serializes this
		// drain loop with receives started after it.
		c.recvMu.Lock()
		if c.receivedClose.Load() {
			c.recvMu.Unlock()
			break
		}
		_, err := c.receive(ctx, c.drainBuf[:])
		c.recvMu.Unlock()
		if err != nil {
			return err
		}
	}

	c.stopKeepAlive()
	_ = c.stream.Close()
	c.logger.Debug().Msg("WebSocket closing handshake completed")
	return nil
}

// sendCloseFrame synthesizes and sends a close frame: a 2-byte big-endian
// status code followed by a UTF-8 reason of up to 123 bytes. It is
// idempotent: only the first close frame is put on the wire.
//
// It is based on:
//   - Control frames - close: https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.1
//   - Closing the connection: https://datatracker.ietf.org/doc/html/rfc6455#section-7
func (c *Conn) sendCloseFrame(ctx context.Context, status StatusCode, reason string) error {
	if c.sentClose.Load() {
		return nil
	}

	status, reason = checkClosePayload(status, reason)

	var payload [2 + maxCloseReason]byte
	binary.BigEndian.PutUint16(payload[:2], uint16(status))
	n := 2 + copy(payload[2:], reason)

	if err := c.sendFrame(ctx, OpcodeClose, true, payload[:n]); err != nil {
		return err
	}

	c.sentClose.Store(true)
	if c.receivedClose.Load() {
		c.stopKeepAlive()
	}
	c.logger.Trace().Str("close_status", status.String()).Str("close_reason", reason).
		Msg("sent WebSocket close control frame")
	return nil
}

// ingestCloseFrame consumes a close frame's payload and records the
// server's status code and reason. Called by the receive engine with the
// frame header already parsed and validated.
//
// It is based on:
//   - Control frames - close: https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.1
//   - Status codes: https://datatracker.ietf.org/doc/html/rfc6455#section-7.4
func (c *Conn) ingestCloseFrame(ctx context.Context, h frameHeader) (Result, error) {
	payload, err := c.readControlPayload(h)
	if err != nil {
		c.Abort()
		return Result{}, err
	}

	status := StatusNormalClosure
	reason := ""

	switch len(payload) {
	case 0:
		// "If this Close control frame contains no status code, _The
		// WebSocket Connection Close Code_ is considered to be 1005" -
		// which is represented to callers as a normal closure.
	case 1:
		return Result{}, c.failProtocol(ctx, StatusProtocolError, "invalid close frame payload",
			fmt.Errorf("%w: close frame with a 1-byte payload", ErrProtocol))
	default:
		status = StatusCode(binary.BigEndian.Uint16(payload[:2]))
		if !validCloseStatus(status) {
			return Result{}, c.failProtocol(ctx, StatusProtocolError, "invalid close status code",
				fmt.Errorf("%w: close frame with status code %d", ErrProtocol, status))
		}
		if r := payload[2:]; len(r) > 0 {
			if !utf8.Valid(r) {
				return Result{}, c.failProtocol(ctx, StatusProtocolError, "invalid UTF-8 in close reason",
					fmt.Errorf("%w: close frame reason isn't valid UTF-8", ErrProtocol))
			}
			reason = string(r)
		}
	}

	c.closeStatus = status
	c.closeReason = reason
	c.receivedClose.Store(true)
	if c.sentClose.Load() {
		c.stopKeepAlive()
	}

	c.logger.Trace().Str("close_status", status.String()).Str("close_reason", reason).
		Msg("received WebSocket close control frame")

	return Result{Opcode: OpcodeClose, Final: true}, nil
}
