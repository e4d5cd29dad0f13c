package metrics_test

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tzrikka/undertow/pkg/metrics"
)

func TestCountIncomingMessage(t *testing.T) {
	t.Chdir(t.TempDir())
	now := time.Now().UTC()

	if err := os.Mkdir("metrics", 0o700); err != nil {
		t.Fatal(err)
	}

	metrics.CountIncomingMessage(zerolog.Nop(), now, "text", 42)

	f, err := os.ReadFile(fmt.Sprintf(metrics.DefaultMetricsFileIn, now.Format(time.DateOnly)))
	if err != nil {
		t.Fatal(err)
	}

	got := string(f)
	want := now.Format(time.RFC3339) + ",text,42\n"
	if got != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}

func TestCountOutgoingMessage(t *testing.T) {
	t.Chdir(t.TempDir())
	now := time.Now().UTC()

	if err := os.Mkdir("metrics", 0o700); err != nil {
		t.Fatal(err)
	}

	metrics.CountOutgoingMessage(zerolog.Nop(), now, "text", 5, nil)
	metrics.CountOutgoingMessage(zerolog.Nop(), now, "binary", 0, errors.New("some error"))

	f, err := os.ReadFile(fmt.Sprintf(metrics.DefaultMetricsFileOut, now.Format(time.DateOnly)))
	if err != nil {
		t.Fatal(err)
	}

	got := string(f)
	ts := now.Format(time.RFC3339)
	want := fmt.Sprintf("%s,text,5,\n%s,binary,0,some error\n", ts, ts)
	if got != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}
