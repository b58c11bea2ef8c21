package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store is the single owner of persisted bytes. It serializes writers behind
// a mutex; reads outside a write batch do not take that mutex, but every
// statement shares the store's single database connection.
type Store struct {
	db   *sql.DB
	path string
	flk  *flock.Flock

	// wmu serializes writers. The outermost BeginBatch holds it until the
	// matching EndBatch so observers outside the batch see all or none of
	// the writes.
	wmu sync.Mutex

	// smu guards the batch state below.
	smu      sync.Mutex
	tx       *sql.Tx
	depth    int
	batchErr error
}

// Open opens (or creates) the store file, acquires an exclusive lock beside
// it, and migrates the schema forward to the current version.
// Use ":memory:" for an in-memory store (no lock file).
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		s.flk = flock.New(path + ".lock")
		locked, err := s.flk.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire store lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("%s: %w", path, ErrBusy)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		s.unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" stores coherent and matches the
	// single-writer model.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			s.unlock()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s.db = db
	if err := s.migrate(); err != nil {
		db.Close()
		s.unlock()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) unlock() {
	if s.flk != nil {
		_ = s.flk.Unlock()
	}
}

// Close releases the database and the lock file.
func (s *Store) Close() error {
	err := s.db.Close()
	s.unlock()
	return err
}

// DB returns the underlying database connection. Shared with driver-level
// tests; must not be closed by consumers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// BeginBatch opens a write batch. Nested calls are no-ops; writes persist at
// the matching outermost EndBatch. Failure in any statement poisons the
// batch and EndBatch rolls everything back.
func (s *Store) BeginBatch() error {
	s.smu.Lock()
	if s.depth > 0 {
		s.depth++
		s.smu.Unlock()
		return nil
	}
	s.smu.Unlock()

	s.wmu.Lock()
	tx, err := s.db.Begin()
	if err != nil {
		s.wmu.Unlock()
		return fmt.Errorf("failed to begin batch: %w", err)
	}

	s.smu.Lock()
	s.tx = tx
	s.depth = 1
	s.batchErr = nil
	s.smu.Unlock()
	return nil
}

// FailBatch marks the current batch as failed. The outermost EndBatch will
// roll back and return the recorded error.
func (s *Store) FailBatch(err error) {
	if err == nil {
		return
	}
	s.smu.Lock()
	if s.depth > 0 && s.batchErr == nil {
		s.batchErr = err
	}
	s.smu.Unlock()
}

// EndBatch closes one nesting level. The outermost call commits, or rolls
// back when the batch was poisoned.
func (s *Store) EndBatch() error {
	s.smu.Lock()
	if s.depth == 0 {
		s.smu.Unlock()
		return ErrNoBatch
	}
	s.depth--
	if s.depth > 0 {
		s.smu.Unlock()
		return nil
	}
	tx := s.tx
	batchErr := s.batchErr
	s.tx = nil
	s.batchErr = nil
	s.smu.Unlock()

	defer s.wmu.Unlock()

	if batchErr != nil {
		_ = tx.Rollback()
		return batchErr
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// InBatch reports whether a write batch is currently open.
func (s *Store) InBatch() bool {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.depth > 0
}

// currentTx returns the open batch transaction, or nil.
func (s *Store) currentTx() *sql.Tx {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.tx
}

// exec routes a write through the open batch when one exists, otherwise
// through a short-lived writer section. Statement failures inside a batch
// poison it.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx := s.currentTx(); tx != nil {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			s.FailBatch(err)
		}
		return res, err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.db.ExecContext(ctx, query, args...)
}

// query routes reads through the open batch so a writer observes its own
// uncommitted rows; outside readers always see committed state.
func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := s.currentTx(); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := s.currentTx(); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return s.db.QueryRowContext(ctx, query, args...)
}

// serializeEmbedding encodes a vector as a little-endian float32 array.
func serializeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding decodes a little-endian float32 array.
// Returns nil for empty or malformed blobs.
func deserializeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(blob)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return embedding
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func marshalStrings(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	return json.Marshal(v)
}

func unmarshalStrings(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func unmarshalMeta(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func unmarshalCounts(data []byte) map[string]int {
	if len(data) == 0 {
		return nil
	}
	var out map[string]int
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// normalizeTags lowercases, trims, deduplicates, and sorts a tag set.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	sort.Strings(out)
	return out
}
