// Package journal appends every completed round trip to a CSV file so the
// trade history survives restarts and can be analyzed offline.
package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"multi-strategy-bot-go/internal/models"
)

var header = []string{
	"close_time", "ticket", "symbol", "side", "volume",
	"entry_price", "exit_price", "profit", "open_time", "duration", "strategy", "reason",
}

// Writer appends closed trades to a CSV journal. Safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// NewWriter opens the journal at path, creating it with a header row when
// it does not exist yet. An existing journal is appended to.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	info, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	w := &Writer{file: file, csv: csv.NewWriter(file)}
	if fresh {
		if err := w.csv.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("write journal header: %w", err)
		}
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			file.Close()
			return nil, err
		}
	}
	return w, nil
}

// Record appends one closed trade and flushes it to disk.
func (w *Writer) Record(trade models.ClosedTrade) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := []string{
		trade.CloseTime.UTC().Format(time.RFC3339),
		strconv.FormatInt(trade.Ticket, 10),
		trade.Symbol,
		string(trade.Side),
		strconv.FormatFloat(trade.Volume, 'f', -1, 64),
		strconv.FormatFloat(trade.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(trade.ExitPrice, 'f', -1, 64),
		strconv.FormatFloat(trade.Profit, 'f', 2, 64),
		trade.OpenTime.UTC().Format(time.RFC3339),
		trade.Duration.String(),
		trade.OwnerTag,
		trade.Reason,
	}
	if err := w.csv.Write(record); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes and closes the journal file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
