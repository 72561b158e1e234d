// Package history keeps the append-only ledger of finished scan runs.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/scanforge/bookscan/internal/log"
)

const (
	fileName = "scan_history.json"
	// maxEntries bounds the ledger; the oldest entries fall off.
	maxEntries = 100
)

// Stats is the final counter snapshot of a run.
type Stats struct {
	Processed      int   `json:"processed"`
	Skipped        int   `json:"skipped"`
	Errors         int   `json:"errors"`
	ElapsedSeconds int64 `json:"elapsed_seconds"`
}

// Entry records one terminal run outcome. Entries are immutable once
// appended.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	FolderName string    `json:"folder_name"`
	Status     string    `json:"status"`
	Stats      Stats     `json:"stats"`
	OutputFile string    `json:"output_file"`
}

// Ledger persists run history as a JSON file in the data directory.
// Entries are ordered newest first, both in memory and on disk.
type Ledger struct {
	mu      sync.Mutex
	path    string
	entries []Entry
}

// Open loads the ledger from dir, tolerating a missing or empty file.
func Open(dir string) (*Ledger, error) {
	l := &Ledger{path: filepath.Join(dir, fileName)}

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		// A corrupt ledger should not block scanning; start fresh but keep
		// the broken file out of the way for inspection.
		logger := log.WithComponent("history")
		logger.Warn().
			Err(err).
			Str("event", "history.corrupt").
			Str("path", l.path).
			Msg("history file unreadable, starting empty")
		l.entries = nil
	}
	return l, nil
}

// Append inserts the entry at the head of the ledger and saves atomically.
func (l *Ledger) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append([]Entry{entry}, l.entries...)
	if len(l.entries) > maxEntries {
		l.entries = l.entries[:maxEntries]
	}
	return l.save()
}

// List returns all entries, newest first.
func (l *Ledger) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) save() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := renameio.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}
