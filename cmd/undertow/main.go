// Undertow is a command-line WebSocket client: it connects to a server,
// sends lines from standard input as text messages (or a single one-shot
// message), and prints incoming messages to standard output.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/undertow/internal/logger"
	"github.com/tzrikka/undertow/pkg/metrics"
	"github.com/tzrikka/undertow/pkg/websocket"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "undertow"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:      "undertow",
		Usage:     "WebSocket client that streams messages to and from a server",
		Version:   bi.Main.Version,
		ArgsUsage: "ws[s]://host[:port][/path]",
		Flags:     flags(),
		Action:    run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	path := configFile()

	fs := []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "human-readable console logging, instead of JSON",
		},
		&cli.StringSliceFlag{
			Name:  "subprotocol",
			Usage: "subprotocol(s) to offer during the handshake",
		},
		&cli.DurationFlag{
			Name:  "keep-alive",
			Usage: "interval between keep-alive pings (0 disables them)",
			Value: 30 * time.Second,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("UNDERTOW_KEEP_ALIVE"),
				toml.TOML("client.keep_alive", path),
			),
		},
		&cli.IntFlag{
			Name:  "receive-buffer-size",
			Usage: "size of the connection's receive buffer, in bytes",
			Value: 4096,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("UNDERTOW_RECEIVE_BUFFER_SIZE"),
				toml.TOML("client.receive_buffer_size", path),
			),
		},
		&cli.BoolFlag{
			Name:  "binary",
			Usage: "send binary messages instead of text",
		},
		&cli.StringFlag{
			Name:  "message",
			Usage: "send a single message and wait for one response",
		},
		&cli.BoolFlag{
			Name:  "metrics",
			Usage: "count sent/received messages in local CSV files",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("UNDERTOW_METRICS"),
				toml.TOML("client.metrics", path),
			),
		},
	}

	return append(fs, authFlags(path)...)
}

// configFile returns the path to the app's configuration file.
// It also creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		l := logger.New(true)
		l.Fatal().Err(err).Msg("failed to create config file")
	}
	return altsrc.StringSourcer(path)
}

func run(ctx context.Context, cmd *cli.Command) error {
	l := logger.New(cmd.Bool("dev"))
	ctx = logger.WithContext(ctx, &l)

	url := cmd.Args().First()
	if url == "" {
		return errors.New("missing WebSocket URL argument")
	}

	opts := []websocket.Option{
		websocket.WithKeepAlive(cmd.Duration("keep-alive")),
		websocket.WithReceiveBufferSize(int(cmd.Int("receive-buffer-size"))),
	}
	for _, name := range cmd.StringSlice("subprotocol") {
		opts = append(opts, websocket.WithSubprotocol(name))
	}

	auth, err := authHeader(cmd)
	if err != nil {
		return err
	}
	if auth != "" {
		opts = append(opts, websocket.WithHTTPHeader("Authorization", auth))
	}

	conn, err := websocket.Dial(ctx, url, opts...)
	if err != nil {
		return err
	}
	defer conn.Dispose()

	if name := conn.Subprotocol(); name != "" {
		l.Info().Str("subprotocol", name).Msg("connected")
	}

	op := websocket.OpcodeText
	if cmd.Bool("binary") {
		op = websocket.OpcodeBinary
	}

	c := &client{conn: conn, logger: l, opcode: op, metrics: cmd.Bool("metrics")}

	if msg := cmd.String("message"); msg != "" {
		return c.oneShot(ctx, msg)
	}
	return c.interactive(ctx)
}

type client struct {
	conn    *websocket.Conn
	logger  zerolog.Logger
	opcode  websocket.Opcode
	metrics bool
}

// oneShot sends a single message, prints a single response, and starts
// the closing handshake.
func (c *client) oneShot(ctx context.Context, msg string) error {
	if err := c.send(ctx, []byte(msg)); err != nil {
		return err
	}

	data, closed, err := c.readMessage(ctx)
	if err != nil {
		return err
	}
	if !closed {
		fmt.Println(string(data))
	}

	return c.conn.Close(ctx, websocket.StatusNormalClosure, "")
}

// interactive sends each stdin line as one message, while printing
// incoming messages, until stdin is exhausted or the server closes.
func (c *client) interactive(ctx context.Context) error {
	received := make(chan error, 1)
	go func() {
		for {
			data, closed, err := c.readMessage(ctx)
			if err != nil || closed {
				received <- err
				return
			}
			fmt.Println(string(data))
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := c.send(ctx, scanner.Bytes()); err != nil {
			return err
		}

		select {
		case err := <-received:
			if err != nil {
				return err
			}
			return c.conn.Close(ctx, websocket.StatusNormalClosure, "")
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return c.conn.Close(ctx, websocket.StatusNormalClosure, "")
}

func (c *client) send(ctx context.Context, msg []byte) error {
	err := c.conn.Send(ctx, c.opcode, msg, true)
	if c.metrics {
		metrics.CountOutgoingMessage(c.logger, time.Now(), c.opcode.String(), len(msg), err)
	}
	return err
}

// readMessage reassembles one data message from the engine's streaming
// receive calls. The second return value reports a close frame.
func (c *client) readMessage(ctx context.Context) ([]byte, bool, error) {
	var msg []byte
	buf := make([]byte, 4096)

	for {
		res, err := c.conn.Receive(ctx, buf)
		if err != nil {
			return nil, false, err
		}
		if res.Opcode == websocket.OpcodeClose {
			status, _ := c.conn.CloseStatus()
			c.logger.Info().Str("status", status.String()).Str("reason", c.conn.CloseReason()).
				Msg("server closed the connection")
			return nil, true, nil
		}

		msg = append(msg, buf[:res.N]...)
		if res.Final {
			if c.metrics {
				metrics.CountIncomingMessage(c.logger, time.Now(), res.Opcode.String(), len(msg))
			}
			return msg, false, nil
		}
	}
}
