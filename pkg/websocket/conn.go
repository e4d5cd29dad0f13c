package websocket

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// Conn is a WebSocket protocol engine driving framed message I/O on an
// established bidirectional stream, after the opening handshake.
//
// At most one [Conn.Send] and one [Conn.Receive] may be in progress
// concurrently. [Conn.Close] and [Conn.CloseOutput] may overlap a pending
// receive. Any other overlap is API misuse and fails with [ErrBusy].
type Conn struct {
	logger zerolog.Logger
	id     string

	stream io.ReadWriteCloser
	// client determines the masking discipline: clients mask egress and
	// reject masked ingress, servers do the opposite.
	client      bool
	subprotocol string
	keepAlive   time.Duration

	// Initialized before the handshake, used only by [Dial].
	httpClient *http.Client
	headers    http.Header
	protocols  []string

	// Close handshake flags. Each records its side's close frame
	// independently; the externally visible [State] is derived from both.
	sentClose     atomic.Bool
	receivedClose atomic.Bool
	aborted       atomic.Bool
	disposed      atomic.Bool

	// closeStatus and closeReason are written exactly once, by the single
	// receive in flight, before receivedClose is set.
	closeStatus StatusCode
	closeReason string

	// abort is closed (once) to unblock all pending I/O waiters.
	abort     chan struct{}
	abortOnce sync.Once
	// keepAliveStop ends the keep-alive goroutine on close handshake
	// completion, not just on abort/dispose.
	keepAliveStop chan struct{}
	keepAliveOnce sync.Once

	// Receive path. Guarded by recvMu, which also serializes the close
	// coordinator's drain receives with user receives. The receiving flag
	// exists only to fail fast on concurrent Receive calls (API misuse),
	// never to block.
	recvMu    sync.Mutex
	receiving atomic.Bool
	rb        *receiveBuffer
	userBuf   bool

	// Partial-frame state persisted between receive calls.
	frame      frameHeader
	frameOpen  bool
	msgOpcode  Opcode
	inMessage  bool
	maskOffset int
	utf8       utf8State
	// controlBuf holds control frame payloads; drainBuf is the throwaway
	// target for receives driven by [Conn.Close].
	controlBuf [maxControlPayload]byte
	drainBuf   [maxControlPayload + maxHeaderSize]byte

	// Send path. sendSem is a 1-slot semaphore serializing frames on the
	// wire; it must be acquirable with a context and non-blockingly (for
	// the keep-alive timer), which a plain mutex can't do. The sending
	// flag fails fast on concurrent user Send calls, independently of
	// frame-level contention with engine-initiated control frames.
	sendSem    chan struct{}
	sending    atomic.Bool
	fragmented bool

	// For unit-testing only.
	maskGen  io.Reader
	nonceGen io.Reader
}

// Option configures a [Conn] during [NewConn] or [Dial].
type Option func(*Conn)

// WithServerRole flips the engine's masking discipline for endpoints that
// accepted (rather than initiated) the connection: egress frames are not
// masked, and ingress frames must be.
func WithServerRole() Option {
	return func(c *Conn) {
		c.client = false
	}
}

// WithSubprotocol sets a subprotocol to offer during the [Dial] handshake,
// or (with [NewConn]) records the name already agreed with the server.
// It may be used multiple times with Dial, to offer several.
func WithSubprotocol(name string) Option {
	return func(c *Conn) {
		c.protocols = append(c.protocols, name)
		c.subprotocol = name
	}
}

// WithKeepAlive makes the engine send an unsolicited Ping frame once per
// the given interval, skipping a tick if another frame is being sent at
// that moment. Zero (the default) or a negative duration disables
// keep-alive pings.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Conn) {
		c.keepAlive = d
	}
}

// WithReceiveBufferSize sets the size of the engine-owned receive buffer.
// Sizes below the minimum needed to hold a frame header are rounded up.
func WithReceiveBufferSize(n int) Option {
	return func(c *Conn) {
		c.rb = newReceiveBuffer(n)
	}
}

// WithReceiveBuffer supplies an external backing array for the receive
// buffer, used exactly (whole length, no sub-range). [NewConn] rejects
// buffers shorter than a maximal frame header.
func WithReceiveBuffer(buf []byte) Option {
	return func(c *Conn) {
		c.rb = &receiveBuffer{buf: buf}
		c.userBuf = true
	}
}

// WithLogger attaches a logger to the connection. The default is a
// disabled logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Conn) {
		c.logger = l
	}
}

const defaultReceiveBufferSize = 4096

// NewConn wraps an already-established stream, on which the opening
// handshake has completed, in a protocol engine. The connection starts
// in [StateOpen] and owns the stream from this point on.
func NewConn(stream io.ReadWriteCloser, opts ...Option) (*Conn, error) {
	c, err := newConn(opts...)
	if err != nil {
		return nil, err
	}

	c.start(stream)
	return c, nil
}

// newConn initializes and validates the engine's configuration, without
// attaching a stream yet ([Dial] runs the handshake in between).
func newConn(opts ...Option) (*Conn, error) {
	c := &Conn{
		logger:        zerolog.Nop(),
		id:            shortuuid.New(),
		client:        true,
		headers:       http.Header{},
		abort:         make(chan struct{}),
		keepAliveStop: make(chan struct{}),
		sendSem:       make(chan struct{}, 1),
		maskGen:       rand.Reader,
		nonceGen:      rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.userBuf && len(c.rb.buf) < minReceiveBufferSize {
		return nil, fmt.Errorf("external receive buffer too short: %d bytes, need at least %d",
			len(c.rb.buf), minReceiveBufferSize)
	}
	if c.rb == nil {
		c.rb = newReceiveBuffer(defaultReceiveBufferSize)
	}

	return c, nil
}

// start attaches the connected stream and activates the engine. The
// connection is in [StateOpen] from this point on.
func (c *Conn) start(stream io.ReadWriteCloser) {
	c.stream = stream
	c.logger = c.logger.With().Str("conn_id", c.id).Logger()

	if c.keepAlive > 0 {
		go c.keepAliveLoop()
	}

	c.logger.Debug().Msg("WebSocket connection initialized")
}

// Subprotocol returns the subprotocol name agreed during the handshake,
// or an empty string.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

// CloseStatus returns the status code of the server's close frame, and
// whether one was received. A protocol error detected by this endpoint
// records no status here: the status it sends is not reported.
func (c *Conn) CloseStatus() (StatusCode, bool) {
	if !c.receivedClose.Load() {
		return 0, false
	}
	return c.closeStatus, true
}

// CloseReason returns the human-readable reason from the server's close
// frame, or an empty string.
func (c *Conn) CloseReason() string {
	if !c.receivedClose.Load() {
		return ""
	}
	return c.closeReason
}

// Abort terminates the connection unilaterally: all pending I/O waiters
// unblock with an error, the state becomes [StateAborted] (unless the
// closing handshake already completed), and the stream is closed. It is
// idempotent and safe to call from any goroutine.
func (c *Conn) Abort() {
	c.abortOnce.Do(func() {
		if !(c.sentClose.Load() && c.receivedClose.Load()) {
			c.aborted.Store(true)
		}
		close(c.abort)
		c.stopKeepAlive()
		_ = c.stream.Close()
		c.logger.Debug().Msg("WebSocket connection aborted")
	})
}

// Dispose releases the connection's resources: the keep-alive timer stops,
// pending operations unblock, and the stream is closed. Operations after
// Dispose fail with [ErrDisposed]. It is idempotent.
func (c *Conn) Dispose() {
	if c.disposed.Swap(true) {
		return
	}

	c.stopKeepAlive()
	c.abortOnce.Do(func() {
		close(c.abort)
	})
	_ = c.stream.Close()
	c.logger.Debug().Msg("WebSocket connection disposed")
}

func (c *Conn) stopKeepAlive() {
	c.keepAliveOnce.Do(func() {
		close(c.keepAliveStop)
	})
}

// watchCancel closes the underlying stream if ctx is canceled or the
// connection is aborted while a blocking stream operation is in flight,
// which is the only way to interrupt it. There is no resume point in the
// middle of a frame, so interruption always escalates to a full abort.
// The returned function must be called once the operation completes; it
// reports whether cancellation fired.
func (c *Conn) watchCancel(ctx context.Context) func() bool {
	done := make(chan struct{})
	fired := make(chan struct{}, 1)

	go func() {
		select {
		case <-ctx.Done():
			fired <- struct{}{}
			c.Abort()
		case <-c.abort:
		case <-done:
		}
	}()

	return func() bool {
		close(done)
		select {
		case <-fired:
			return true
		default:
			return false
		}
	}
}

// opErr translates a failed stream operation into the error the caller
// should see: cancellation of the given context wins over the I/O error
// it provoked.
func (c *Conn) opErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	select {
	case <-c.abort:
		if c.disposed.Load() {
			return fmt.Errorf("%w: connection disposed mid-operation", ErrClosedPrematurely)
		}
	default:
	}
	return err
}

// errAborted is the error for operations interrupted by [Conn.Abort]
// rather than by their own context.
var errAborted = errors.New("connection aborted")

// interruptErr is the error for an operation that unblocked because the
// abort signal fired, distinguishing disposal from an abort.
func (c *Conn) interruptErr() error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	return errAborted
}
