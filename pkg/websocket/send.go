package websocket

import (
	"context"
	"fmt"
	"sync"
)

// framePool holds reusable serialization buffers for outgoing frames.
// A buffer is rented for the duration of a single frame write and
// returned on every exit path.
var framePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, maxHeaderSize+defaultReceiveBufferSize)
		return &b
	},
}

func getFrameBuffer(n int) *[]byte {
	bp := framePool.Get().(*[]byte) //nolint:errcheck
	if cap(*bp) < n {
		*bp = make([]byte, 0, n)
	}
	return bp
}

// Send transmits one frame of a text or binary message to the server.
// Messages may be fragmented by calling Send multiple times with
// final=false; the engine emits continuation frames automatically, so op
// stays the same for every fragment. Close frames are sent with
// [Conn.CloseOutput] or [Conn.Close], never with Send.
//
// At most one Send may be in flight at a time; overlapping calls are API
// misuse and abort the connection. Cancellation before the frame reaches
// the wire is clean; cancellation mid-write aborts the connection, since
// a partial frame on the wire is unrecoverable.
//
// It is based on:
//   - Fragmentation: https://datatracker.ietf.org/doc/html/rfc6455#section-5.4
//   - Sending data: https://datatracker.ietf.org/doc/html/rfc6455#section-6.1
func (c *Conn) Send(ctx context.Context, op Opcode, payload []byte, final bool) error {
	if !op.isData() {
		return fmt.Errorf("%w: %v", ErrInvalidMessageType, op)
	}
	if err := c.checkState("send", StateOpen, StateCloseReceived); err != nil {
		return err
	}

	if !c.sending.CompareAndSwap(false, true) {
		c.Abort()
		return fmt.Errorf("%w: concurrent Send calls", ErrBusy)
	}
	defer c.sending.Store(false)

	actual := op
	if c.fragmented {
		actual = OpcodeContinuation
	}

	if err := c.sendFrame(ctx, actual, final, payload); err != nil {
		return err
	}

	c.fragmented = !final
	return nil
}

// sendFrame acquires the send semaphore and writes a single frame. The
// semaphore guarantees at most one frame in flight and FIFO-ish fairness
// between user sends and engine-initiated control frames (pong, close,
// keep-alive ping).
func (c *Conn) sendFrame(ctx context.Context, op Opcode, fin bool, payload []byte) error {
	select {
	case c.sendSem <- struct{}{}:
	case <-ctx.Done():
		// Nothing reached the wire, so this is a clean cancellation.
		return ctx.Err()
	case <-c.abort:
		return c.interruptErr()
	}
	defer func() { <-c.sendSem }()

	return c.writeFrame(ctx, op, fin, payload)
}

// writeFrame serializes one frame into a pooled buffer and writes it to
// the stream with a single write call, so the frame is never interleaved
// with another. Callers must hold the send semaphore.
func (c *Conn) writeFrame(ctx context.Context, op Opcode, fin bool, payload []byte) error {
	bp := getFrameBuffer(maxHeaderSize + len(payload))
	defer framePool.Put(bp)

	b, err := c.appendFrame((*bp)[:0], op, fin, payload)
	if err != nil {
		return err
	}

	finish := c.watchCancel(ctx)
	_, err = c.stream.Write(b)
	canceled := finish()

	if err != nil {
		c.Abort()
		if canceled || ctx.Err() != nil {
			return ctx.Err()
		}
		return c.opErr(ctx, fmt.Errorf("%w: %w", ErrClosedPrematurely, err))
	}

	c.logger.Trace().Bool("fin", fin).Str("opcode", op.String()).Int("length", len(payload)).
		Msg("sent WebSocket frame")
	return nil
}
