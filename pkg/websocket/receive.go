package websocket

import (
	"context"
	"fmt"
)

// Result describes the outcome of one [Conn.Receive] call.
type Result struct {
	// N is the number of payload bytes written into the caller's buffer.
	N int
	// Opcode is [OpcodeText] or [OpcodeBinary] for data (continuation
	// frames are reported as the message's opcode), or [OpcodeClose]
	// when the server's close frame was ingested.
	Opcode Opcode
	// Final reports whether this call consumed the last payload byte of
	// the message's final frame.
	Final bool
}

// Receive delivers the next chunk of an incoming message into buf. A
// message may arrive in multiple frames, and a frame's payload may be
// larger than buf, so a single message can span any number of Receive
// calls; [Result.Final] marks the last one. Ping and Pong frames are
// handled internally (including between fragments of a message) and are
// never surfaced. A close frame is surfaced as a [Result] with
// [OpcodeClose], after which the status and reason are observable via
// [Conn.CloseStatus] and [Conn.CloseReason].
//
// At most one Receive may be in flight at a time; overlapping calls are
// API misuse and abort the connection. Canceling ctx mid-receive also
// aborts the connection: there is no resume point inside a frame.
//
// It is based on:
//   - Receiving data: https://datatracker.ietf.org/doc/html/rfc6455#section-6.2
//   - Fragmentation: https://datatracker.ietf.org/doc/html/rfc6455#section-5.4
//   - Control frames: https://datatracker.ietf.org/doc/html/rfc6455#section-5.5
func (c *Conn) Receive(ctx context.Context, buf []byte) (Result, error) {
	if err := c.checkState("receive", StateOpen, StateCloseSent); err != nil {
		return Result{}, err
	}

	if !c.receiving.CompareAndSwap(false, true) {
		c.Abort()
		return Result{}, fmt.Errorf("%w: concurrent Receive calls", ErrBusy)
	}
	defer c.receiving.Store(false)

	// Serializes user receives with the close coordinator's drain loop.
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	// The server's close frame may have been ingested by a concurrent
	// [Conn.Close] while this call was waiting for the mutex.
	if c.receivedClose.Load() {
		return Result{Opcode: OpcodeClose, Final: true}, nil
	}
	return c.receive(ctx, buf)
}

// receive wraps the receive loop with cancellation handling. Callers must
// hold recvMu.
func (c *Conn) receive(ctx context.Context, buf []byte) (Result, error) {
	finish := c.watchCancel(ctx)
	res, err := c.receiveFrames(ctx, buf)
	canceled := finish()

	if err != nil && (canceled || ctx.Err() != nil) {
		return Result{}, ctx.Err()
	}
	return res, err
}

// receiveFrames is the receive engine's driver loop: it reads frame
// headers, dispatches control frames, and delivers data frame payload
// chunks to the caller, persisting partial-frame state between calls.
func (c *Conn) receiveFrames(ctx context.Context, buf []byte) (Result, error) {
	for {
		// Deliver the rest of a frame left over from a previous call,
		// before reading anything new from the stream.
		if c.frameOpen {
			return c.deliverPayload(ctx, buf)
		}

		// A clean EOF is distinguishable from a truncating one only on a
		// frame header boundary outside a fragmented message, and even
		// there it means the server skipped the closing handshake.
		h, ok, err := c.readFrameHeader(!c.inMessage)
		if err != nil {
			c.Abort()
			return Result{}, err
		}
		if !ok {
			c.Abort()
			return Result{}, fmt.Errorf("%w: stream ended without a closing handshake", ErrClosedPrematurely)
		}

		c.logger.Trace().Bool("fin", h.fin).Str("opcode", h.opcode.String()).
			Uint64("length", h.payloadLength).Msg("received WebSocket frame header")

		if reason, err := c.checkFrameHeader(h, c.inMessage); err != nil {
			return Result{}, c.failProtocol(ctx, StatusProtocolError, reason, err)
		}

		switch h.opcode {
		case OpcodeClose:
			return c.ingestCloseFrame(ctx, h)

		// "An endpoint MUST be capable of handling control frames in
		// the middle of a fragmented message". Exactly one Pong is sent
		// per Ping, with the same payload.
		case opcodePing:
			payload, err := c.readControlPayload(h)
			if err != nil {
				c.Abort()
				return Result{}, err
			}
			if err := c.sendFrame(ctx, opcodePong, true, payload); err != nil {
				return Result{}, err
			}
			continue

		// Unsolicited or keep-alive Pong responses carry no obligations.
		case opcodePong:
			if _, err := c.readControlPayload(h); err != nil {
				c.Abort()
				return Result{}, err
			}
			continue
		}

		// Data frame. The message's opcode is tracked separately from
		// the frame header, so continuation frames are reported to the
		// caller as the message's own type.
		if h.opcode != OpcodeContinuation {
			c.msgOpcode = h.opcode
			c.utf8.reset()
		}
		c.inMessage = true
		c.frame = h
		c.frameOpen = true
		c.maskOffset = 0
	}
}

// deliverPayload copies up to min(len(buf), buffered, frame remainder)
// payload bytes into the caller's buffer, unmasking and UTF-8-validating
// as needed.
func (c *Conn) deliverPayload(ctx context.Context, buf []byte) (Result, error) {
	h := &c.frame

	if h.payloadLength == 0 {
		return c.completeChunk(ctx, 0)
	}
	if len(buf) == 0 {
		return Result{Opcode: c.msgOpcode}, nil
	}

	if c.rb.len() == 0 {
		if _, err := c.rb.ensure(c.stream, 1, false); err != nil {
			c.Abort()
			return Result{}, err
		}
	}

	n := len(buf)
	if c.rb.len() < n {
		n = c.rb.len()
	}
	if h.payloadLength < uint64(n) {
		n = int(h.payloadLength)
	}

	// Unmasking happens in place in the receive buffer, with a rolling
	// key offset, so a frame split across calls unmasks correctly.
	chunk := c.rb.bytes()[:n]
	if h.masked {
		c.maskOffset = maskBytes(h.key, c.maskOffset, chunk)
	}
	copy(buf, chunk)
	c.rb.advance(n)
	h.payloadLength -= uint64(n)

	if c.msgOpcode == OpcodeText {
		if err := c.utf8.feed(buf[:n]); err != nil {
			return Result{}, c.failProtocol(ctx, StatusInvalidData, "invalid UTF-8 in text message", err)
		}
	}

	return c.completeChunk(ctx, n)
}

// completeChunk closes out one delivery: it retires the frame if fully
// consumed, flushes the UTF-8 validator on a message boundary, and
// reports whether the message completed.
func (c *Conn) completeChunk(ctx context.Context, n int) (Result, error) {
	h := &c.frame
	res := Result{N: n, Opcode: c.msgOpcode}

	if h.payloadLength > 0 {
		return res, nil
	}

	c.frameOpen = false
	if !h.fin {
		return res, nil
	}

	res.Final = true
	c.inMessage = false

	// "When an endpoint is to interpret a byte stream as UTF-8 but finds
	// that the byte stream is not, in fact, a valid UTF-8 stream, that
	// endpoint MUST _Fail the WebSocket Connection_". A message must not
	// end in the middle of a multi-byte sequence.
	if c.msgOpcode == OpcodeText {
		if err := c.utf8.finish(); err != nil {
			return Result{}, c.failProtocol(ctx, StatusInvalidData, "invalid UTF-8 in text message", err)
		}
	}

	return res, nil
}

// readControlPayload consumes a control frame's payload (at most 125
// bytes) into the connection's control scratch buffer, refilling the
// receive buffer as needed, and unmasks it if required.
func (c *Conn) readControlPayload(h frameHeader) ([]byte, error) {
	payload := c.controlBuf[:h.payloadLength]

	for got := 0; got < len(payload); {
		if c.rb.len() == 0 {
			if _, err := c.rb.ensure(c.stream, 1, false); err != nil {
				return nil, err
			}
		}
		n := copy(payload[got:], c.rb.bytes())
		c.rb.advance(n)
		got += n
	}

	if h.masked {
		maskBytes(h.key, 0, payload)
	}
	return payload, nil
}

// failProtocol handles an RFC 6455 violation by the server: it sends a
// best-effort close frame with the given status (and no reason on the
// wire - the reason is only logged), then fails the pending operation
// with the underlying error.
func (c *Conn) failProtocol(ctx context.Context, status StatusCode, reason string, err error) error {
	c.logger.Warn().Err(err).Str("reason", reason).Msg("WebSocket protocol error")

	if sendErr := c.sendCloseFrame(ctx, status, ""); sendErr != nil {
		c.logger.Debug().Err(sendErr).Msg("failed to send WebSocket close control frame")
	}
	return err
}
