package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultJournalCap is the size at which the journal rolls over.
const DefaultJournalCap = 10 * 1024 * 1024

// JournalWriter appends JSON Lines to a single file. When the file would
// grow past its cap, it is renamed to "<path>.old" (replacing the previous
// generation) and a fresh file is started: one rollover generation is
// enough history for an operations journal, and the size bound holds
// without bookkeeping across restarts.
type JournalWriter struct {
	mu       sync.Mutex
	path     string
	capBytes int64
	file     *os.File
	written  int64
	closed   bool
}

// OpenJournal opens (or resumes) the journal at path. capBytes <= 0 selects
// DefaultJournalCap.
func OpenJournal(path string, capBytes int64) (*JournalWriter, error) {
	if capBytes <= 0 {
		capBytes = DefaultJournalCap
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	w := &JournalWriter{path: path, capBytes: capBytes}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *JournalWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	w.file = file
	w.written = info.Size()
	return nil
}

// Record appends one operation record as a JSON line, rolling the file over
// first when the line would push it past the cap.
func (w *JournalWriter) Record(rec *OpRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("journal closed")
	}

	if w.written > 0 && w.written+int64(len(line)) > w.capBytes {
		if err := w.roll(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(line)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	return nil
}

// roll replaces the previous generation with the current file and starts a
// fresh one. Must be called with the lock held.
func (w *JournalWriter) roll() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close journal for rollover: %w", err)
	}
	if err := os.Rename(w.path, w.path+".old"); err != nil {
		return fmt.Errorf("roll journal: %w", err)
	}
	return w.open()
}

// Close flushes and closes the journal. Idempotent.
func (w *JournalWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync journal: %w", err)
	}
	return w.file.Close()
}
