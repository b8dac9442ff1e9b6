// Package store implements C3, the TaskStore: crash-safe persistence of
// TaskRecord across process restarts. It is grounded on the teacher's
// internal/engine/state package (table layout, upsert-via-ON CONFLICT,
// withTx transaction wrapper) backed by modernc.org/sqlite, the teacher's
// own driver, via database/sql. The teacher's db-connection bootstrap
// (getDBHelper/initDB) wasn't present in the retrieved copy, so Open below
// is written fresh in the same withTx idiom the rest of state.go assumes.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/surge-downloader/surge/internal/engine/errs"
	"github.com/surge-downloader/surge/internal/engine/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id             TEXT PRIMARY KEY,
	request             BLOB NOT NULL,
	output_path         TEXT,
	state               TEXT NOT NULL,
	total_bytes         INTEGER NOT NULL DEFAULT -1,
	error               BLOB,
	segments            BLOB,
	source_type         TEXT,
	source_resume_state BLOB,
	source_metadata     BLOB,
	preempted           INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);
`

// Store is the sqlite-backed TaskStore. All writes are serialised through
// mu, matching the teacher's single-writer assumption for its sqlite file
// (modernc.org/sqlite's pure-Go driver doesn't tolerate concurrent writers
// well across connections).
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates (or opens) the sqlite database at path, creating its parent
// directory and the tasks table if absent.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errs.Disk(err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Disk(err)
	}
	// Single-writer, WAL for concurrent readers while a write is in flight.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errs.Disk(err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errs.Disk(err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Disk(err)
	}
	return &Store{db: db}, nil
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Disk(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Disk(err)
	}
	return nil
}

// Save upserts rec, stamping UpdatedAt (and CreatedAt, if unset).
func (s *Store) Save(rec *model.TaskRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	reqBlob, err := json.Marshal(rec.Request)
	if err != nil {
		return errs.Unknown(fmt.Errorf("store: marshal request: %w", err))
	}
	segBlob, err := json.Marshal(rec.Segments)
	if err != nil {
		return errs.Unknown(fmt.Errorf("store: marshal segments: %w", err))
	}
	var errBlob []byte
	if rec.Error != nil {
		errBlob, err = json.Marshal(rec.Error)
		if err != nil {
			return errs.Unknown(fmt.Errorf("store: marshal error: %w", err))
		}
	}
	var metaBlob []byte
	if len(rec.SourceMetadata) > 0 {
		metaBlob, err = json.Marshal(rec.SourceMetadata)
		if err != nil {
			return errs.Unknown(fmt.Errorf("store: marshal source metadata: %w", err))
		}
	}

	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tasks (
				task_id, request, output_path, state, total_bytes, error,
				segments, source_type, source_resume_state, source_metadata,
				preempted, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(task_id) DO UPDATE SET
				request=excluded.request,
				output_path=excluded.output_path,
				state=excluded.state,
				total_bytes=excluded.total_bytes,
				error=excluded.error,
				segments=excluded.segments,
				source_type=excluded.source_type,
				source_resume_state=excluded.source_resume_state,
				source_metadata=excluded.source_metadata,
				preempted=excluded.preempted,
				updated_at=excluded.updated_at
		`,
			rec.TaskID, reqBlob, rec.OutputPath, string(rec.State), rec.TotalBytes, errBlob,
			segBlob, rec.SourceType, rec.SourceResumeState, metaBlob, rec.Preempted,
			rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return errs.Disk(fmt.Errorf("store: upsert %s: %w", rec.TaskID, err))
		}
		return nil
	})
}

// Load returns the record for taskID, or (nil, nil) if absent.
func (s *Store) Load(taskID string) (*model.TaskRecord, error) {
	s.mu.Lock()
	row := s.db.QueryRow(`
		SELECT task_id, request, output_path, state, total_bytes, error,
		       segments, source_type, source_resume_state, source_metadata,
		       preempted, created_at, updated_at
		FROM tasks WHERE task_id = ?
	`, taskID)
	rec, err := scanRecord(row)
	s.mu.Unlock()
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Disk(fmt.Errorf("store: load %s: %w", taskID, err))
	}
	return rec, nil
}

// LoadAll returns every persisted record, for restoring queue/scheduler
// state on process start.
func (s *Store) LoadAll() ([]*model.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT task_id, request, output_path, state, total_bytes, error,
		       segments, source_type, source_resume_state, source_metadata,
		       preempted, created_at, updated_at
		FROM tasks
	`)
	if err != nil {
		return nil, errs.Disk(fmt.Errorf("store: load all: %w", err))
	}
	defer rows.Close()

	var out []*model.TaskRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errs.Disk(fmt.Errorf("store: scan row: %w", err))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Remove deletes taskID's record, if present. Removing an absent record is
// not an error (idempotent delete, matching spec.md's explicit-delete API).
func (s *Store) Remove(taskID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM tasks WHERE task_id = ?", taskID)
		if err != nil {
			return errs.Disk(fmt.Errorf("store: delete %s: %w", taskID, err))
		}
		return nil
	})
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errs.Disk(err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.TaskRecord, error) {
	var rec model.TaskRecord
	var reqBlob, segBlob, errBlob, metaBlob []byte
	var state string
	var createdMs, updatedMs int64
	var preempted int

	if err := row.Scan(
		&rec.TaskID, &reqBlob, &rec.OutputPath, &state, &rec.TotalBytes, &errBlob,
		&segBlob, &rec.SourceType, &rec.SourceResumeState, &metaBlob, &preempted,
		&createdMs, &updatedMs,
	); err != nil {
		return nil, err
	}

	rec.State = model.State(state)
	rec.Preempted = preempted != 0
	rec.CreatedAt = time.UnixMilli(createdMs)
	rec.UpdatedAt = time.UnixMilli(updatedMs)

	if len(reqBlob) > 0 {
		if err := json.Unmarshal(reqBlob, &rec.Request); err != nil {
			return nil, fmt.Errorf("unmarshal request: %w", err)
		}
	}
	if len(segBlob) > 0 {
		if err := json.Unmarshal(segBlob, &rec.Segments); err != nil {
			return nil, fmt.Errorf("unmarshal segments: %w", err)
		}
	}
	if len(errBlob) > 0 {
		rec.Error = &model.ErrorRecord{}
		if err := json.Unmarshal(errBlob, rec.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if len(metaBlob) > 0 {
		if err := json.Unmarshal(metaBlob, &rec.SourceMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal source metadata: %w", err)
		}
	}

	return &rec, nil
}
