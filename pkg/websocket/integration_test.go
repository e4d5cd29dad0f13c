package websocket

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestEndToEndOverPipe connects a client-role engine to a server-role
// engine over an in-memory pipe: masking, echo, and the full closing
// handshake are exercised in both directions.
func TestEndToEndOverPipe(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	p1, p2 := net.Pipe()
	client, err := NewConn(p1)
	if err != nil {
		t.Fatalf("NewConn(client) error = %v", err)
	}
	server, err := NewConn(p2, WithServerRole())
	if err != nil {
		t.Fatalf("NewConn(server) error = %v", err)
	}

	// Echo loop: send every message back with its own opcode, answer the
	// closing handshake when it starts.
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		buf := make([]byte, 64)
		for {
			res, err := server.Receive(ctx, buf)
			if err != nil {
				return
			}
			if res.Opcode == OpcodeClose {
				_ = server.Close(ctx, StatusNormalClosure, "")
				return
			}
			if err := server.Send(ctx, res.Opcode, buf[:res.N], res.Final); err != nil {
				return
			}
		}
	}()

	payload := []byte("hello over a pipe")
	if err := client.Send(ctx, OpcodeText, payload, true); err != nil {
		t.Fatalf("client.Send() error = %v", err)
	}

	var echo bytes.Buffer
	buf := make([]byte, 8) // Smaller than the message, on purpose.
	var last Result
	for {
		last, err = client.Receive(ctx, buf)
		if err != nil {
			t.Fatalf("client.Receive() error = %v", err)
		}
		echo.Write(buf[:last.N])
		if last.Final {
			break
		}
	}

	if diff := cmp.Diff(string(payload), echo.String()); diff != "" {
		t.Errorf("echoed message mismatch (-want +got):\n%s", diff)
	}
	if last.Opcode != OpcodeText {
		t.Errorf("echoed opcode = %v, want %v", last.Opcode, OpcodeText)
	}

	if err := client.Close(ctx, StatusNormalClosure, "done"); err != nil {
		t.Fatalf("client.Close() error = %v", err)
	}

	select {
	case <-serverDone:
	case <-ctx.Done():
		t.Fatal("server echo loop didn't finish")
	}

	if got := client.State(); got != StateClosed {
		t.Errorf("client.State() = %v, want %v", got, StateClosed)
	}
	if got := server.State(); got != StateClosed {
		t.Errorf("server.State() = %v, want %v", got, StateClosed)
	}

	status, ok := client.CloseStatus()
	if !ok || status != StatusNormalClosure {
		t.Errorf("client.CloseStatus() = (%v, %v), want (%v, true)", status, ok, StatusNormalClosure)
	}
	wantReason := "done"
	if got := server.CloseReason(); got != wantReason {
		t.Errorf("server.CloseReason() = %q, want %q", got, wantReason)
	}
}
