// Package metrics provides functions to record metrics data
// about WebSocket traffic, as logs in local CSV files.
package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tzrikka/xdg"
)

const (
	DefaultMetricsFileIn  = "metrics/undertow_in_%s.csv"
	DefaultMetricsFileOut = "metrics/undertow_out_%s.csv"

	fileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	filePerms = xdg.NewFilePermissions
)

var (
	muIn  sync.Mutex
	muOut sync.Mutex
)

// CountIncomingMessage monitors WebSocket messages received from servers.
func CountIncomingMessage(l zerolog.Logger, t time.Time, opcode string, size int) {
	muIn.Lock()
	defer muIn.Unlock()

	record := []string{t.Format(time.RFC3339), opcode, strconv.Itoa(size)}
	if err := appendToCSVFile(DefaultMetricsFileIn, t, record); err != nil {
		l.Error().Err(err).Str("opcode", opcode).Int("size", size).
			Msg("metrics error: failed to count incoming message")
	}
}

// CountOutgoingMessage monitors WebSocket messages sent to servers,
// including failed send attempts.
func CountOutgoingMessage(l zerolog.Logger, t time.Time, opcode string, size int, err error) {
	muOut.Lock()
	defer muOut.Unlock()

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	record := []string{t.Format(time.RFC3339), opcode, strconv.Itoa(size), errMsg}
	if err := appendToCSVFile(DefaultMetricsFileOut, t, record); err != nil {
		l.Error().Err(err).Str("opcode", opcode).Int("size", size).
			Msg("metrics error: failed to count outgoing message")
	}
}

func appendToCSVFile(filename string, t time.Time, record []string) error {
	filename = fmt.Sprintf(filename, t.Format(time.DateOnly))
	f, err := os.OpenFile(filename, fileFlags, filePerms) //gosec:disable G304 // Hardcoded path.
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return err
	}

	w.Flush()
	return w.Error()
}
