package websocket

import (
	"context"
	"time"
)

// keepAliveLoop runs as a [Conn] goroutine when a keep-alive interval is
// configured, to prove liveness to servers that disconnect idle clients.
// It ends when the closing handshake completes or the connection is
// aborted or disposed.
func (c *Conn) keepAliveLoop() {
	t := time.NewTicker(c.keepAlive)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.sendKeepAlivePing()
		case <-c.keepAliveStop:
			return
		case <-c.abort:
			return
		}
	}
}

// sendKeepAlivePing emits an empty-payload Ping frame, but only if the
// send path is idle: an in-progress send already proves liveness, and a
// ping must never delay it. Failures are logged and swallowed - they
// will be observed by subsequent user operations.
//
// It is based on https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.2.
func (c *Conn) sendKeepAlivePing() {
	select {
	case c.sendSem <- struct{}{}:
	default:
		return
	}
	defer func() { <-c.sendSem }()

	// "An endpoint MUST NOT send any more data frames after sending a
	// Close frame" - and once the handshake started, pings prove nothing.
	if c.sentClose.Load() {
		return
	}

	if err := c.writeFrame(context.Background(), opcodePing, true, nil); err != nil {
		c.logger.Warn().Err(err).Msg("failed to send WebSocket keep-alive ping")
		return
	}
	c.logger.Trace().Msg("sent WebSocket keep-alive ping")
}
