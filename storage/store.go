// Package storage persists resumable transfer state across process
// restarts. Each record captures a transfer's identity, the acknowledged
// byte offset, and the serialized running-checksum state, written at
// checkpoints during the transfer and on abort, and deleted on successful
// completion.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Direction values stored with each record. Send-side and receive-side
// state for the same file are independent records.
const (
	DirectionSend = "send"
	DirectionRecv = "recv"
)

// ErrNotFound indicates no persisted state exists for a transfer identity.
var ErrNotFound = errors.New("no persisted transfer state")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transfers (
  id          TEXT PRIMARY KEY,
  file_name   TEXT NOT NULL,
  file_size   INTEGER NOT NULL,
  direction   TEXT NOT NULL CHECK(direction IN ('send','recv')),
  offset      INTEGER NOT NULL,
  hash_state  BLOB,
  updated_at  INTEGER NOT NULL
);
`,
	`
CREATE UNIQUE INDEX IF NOT EXISTS idx_transfers_identity
ON transfers (file_name, file_size, direction);
`,
}

// Record is one persisted transfer's resume state.
type Record struct {
	ID        string
	FileName  string
	FileSize  uint64
	Direction string
	// Offset is the last checkpointed byte position. Data up to Offset
	// is durable at the destination.
	Offset uint64
	// HashState is the marshaled running-checksum state at Offset.
	HashState []byte
	UpdatedAt time.Time
}

// Store is a sqlite-backed transfer state store. All methods are safe for
// concurrent use by multiple session workers.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the store at path and applies migrations in order.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open transfer store: %w", err)
	}
	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migration %d: %w", i, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"path":     path,
	}).Info("Transfer state store opened")

	return &Store{db: db}, nil
}

// Save upserts a record keyed by transfer identity. A nil *Store is a
// no-op, degrading to fresh transfers only.
func (s *Store) Save(rec *Record) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.UpdatedAt = time.Now()

	_, err := s.db.Exec(`
INSERT INTO transfers (id, file_name, file_size, direction, offset, hash_state, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(file_name, file_size, direction) DO UPDATE SET
  offset = excluded.offset,
  hash_state = excluded.hash_state,
  updated_at = excluded.updated_at
`, rec.ID, rec.FileName, rec.FileSize, rec.Direction, int64(rec.Offset), rec.HashState, rec.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save transfer state: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Save",
		"file_name": rec.FileName,
		"direction": rec.Direction,
		"offset":    rec.Offset,
	}).Debug("Transfer state checkpointed")

	return nil
}

// Load fetches the record for a transfer identity, or ErrNotFound. A nil
// *Store always reports ErrNotFound.
func (s *Store) Load(fileName string, fileSize uint64, direction string) (*Record, error) {
	if s == nil {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
SELECT id, offset, hash_state, updated_at FROM transfers
WHERE file_name = ? AND file_size = ? AND direction = ?
`, fileName, int64(fileSize), direction)

	rec := &Record{FileName: fileName, FileSize: fileSize, Direction: direction}
	var offset, updated int64
	if err := row.Scan(&rec.ID, &offset, &rec.HashState, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load transfer state: %w", err)
	}
	rec.Offset = uint64(offset)
	rec.UpdatedAt = time.Unix(updated, 0)
	return rec, nil
}

// Delete removes the record for a completed transfer. Missing records are
// not an error; a nil *Store is a no-op.
func (s *Store) Delete(fileName string, fileSize uint64, direction string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
DELETE FROM transfers WHERE file_name = ? AND file_size = ? AND direction = ?
`, fileName, int64(fileSize), direction)
	if err != nil {
		return fmt.Errorf("delete transfer state: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
