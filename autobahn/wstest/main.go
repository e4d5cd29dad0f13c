// Wstest tests Undertow's [WebSocket engine] against
// the fuzzing server of the [Autobahn Testsuite].
//
// [WebSocket engine]: https://pkg.go.dev/github.com/tzrikka/undertow/pkg/websocket
// [Autobahn Testsuite]: https://github.com/crossbario/autobahn-testsuite
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tzrikka/undertow/internal/logger"
	"github.com/tzrikka/undertow/pkg/websocket"
)

const (
	baseURL = "ws://127.0.0.1:9001"
	agent   = "undertow"

	// The caller buffer for the echo loop's receives. Each receive also
	// returns at most what the connection's receive buffer holds (4096
	// bytes by default), so large messages still take many receives.
	bufferSize = 1 << 24
)

func main() {
	l := logger.New(true)
	ctx := logger.WithContext(context.Background(), &l)

	n := getCaseCount(ctx)
	l.Info().Int("n", n).Msg("case count")

	// Not implemented in Undertow (so excluded in "config/fuzzingserver.json"):
	//   - 12.* and 13.*: WebSocket compression.
	for i := range n {
		runCase(ctx, i+1)
	}

	updateReports(ctx)
}

// getCaseCount retrieves the number of enabled test cases from
// the Autobahn fuzzing server, using a WebSocket request.
func getCaseCount(ctx context.Context) int {
	l := logger.FromContext(ctx)

	conn, err := websocket.Dial(ctx, baseURL+"/getCaseCount")
	if err != nil {
		l.Fatal().Err(err).Msg("dial error")
	}
	defer conn.Dispose()

	msg, _, err := readMessage(ctx, conn, make([]byte, 32))
	if err != nil {
		l.Fatal().Err(err).Msg("failed to read test case count")
	}

	n, err := strconv.Atoi(string(msg))
	if err != nil {
		l.Fatal().Err(err).Msg("invalid test case count")
	}

	return n
}

// updateReports instructs the Autobahn fuzzing server to generate/update
// all the HTML and JSON files for all the test-case results.
func updateReports(ctx context.Context) {
	l := logger.FromContext(ctx)
	l.Info().Msg("updating reports")

	url := fmt.Sprintf("%s/updateReports?agent=%s", baseURL, agent)
	conn, err := websocket.Dial(ctx, url)
	if err != nil {
		l.Fatal().Err(err).Msg("dial error")
	}

	buf := make([]byte, 32)
	if _, _, err := readMessage(ctx, conn, buf); err != nil && !errors.Is(err, errConnClosed) {
		l.Warn().Err(err).Msg("report update error")
	}
}

func runCase(ctx context.Context, i int) {
	l := logger.FromContext(ctx).With().Int("case", i).Logger()
	l.Info().Msg("starting test")

	url := fmt.Sprintf("%s/runCase?case=%d&agent=%s", baseURL, i, agent)
	conn, err := websocket.Dial(ctx, url)
	if err != nil {
		l.Fatal().Err(err).Msg("dial error")
	}

	// Echo loop.
	buf := make([]byte, bufferSize)
	for {
		msg, op, err := readMessage(ctx, conn, buf)
		if err != nil {
			if !errors.Is(err, errConnClosed) {
				l.Debug().Err(err).Msg("connection failed")
			}
			conn.Dispose()
			return
		}

		l.Info().Str("opcode", op.String()).Int("length", len(msg)).Msg("received message")

		if err := conn.Send(ctx, op, msg, true); err != nil {
			l.Error().Err(err).Msg("echo error")
			_ = conn.Close(ctx, websocket.StatusNormalClosure, "")
			return
		}
	}
}

var errConnClosed = errors.New("connection closed")

// readMessage reassembles one data message from the engine's streaming
// receive calls. A close frame from the server is answered with the full
// closing handshake, reported as [errConnClosed].
func readMessage(ctx context.Context, conn *websocket.Conn, buf []byte) ([]byte, websocket.Opcode, error) {
	var msg bytes.Buffer
	var op websocket.Opcode

	for {
		res, err := conn.Receive(ctx, buf)
		if err != nil {
			return nil, 0, err
		}

		if res.Opcode == websocket.OpcodeClose {
			_ = conn.Close(ctx, websocket.StatusNormalClosure, "")
			return nil, 0, errConnClosed
		}

		op = res.Opcode
		msg.Write(buf[:res.N])
		if res.Final {
			return msg.Bytes(), op, nil
		}
	}
}
