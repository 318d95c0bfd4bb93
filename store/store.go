// Package store records generation runs in SQLite.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/classgen/bundle"
)

var log = commonlog.GetLogger("classgen.store")

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

// Run summarizes one stored run.
type Run struct {
	ID       string
	Created  time.Time
	Lines    string
	Concat   string
	Units    int
	Problems int
}

// UnitRecord is one stored class file.
type UnitRecord struct {
	Name   string
	Size   int
	SHA256 string
	Bytes  []byte
}

// Store handles SQLite storage for runs.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created INTEGER NOT NULL,
	lines TEXT NOT NULL,
	concat TEXT NOT NULL,
	class_version INTEGER NOT NULL,
	problems INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS units (
	run_id TEXT NOT NULL REFERENCES runs(id),
	name TEXT NOT NULL,
	sha256 TEXT NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (run_id, name)
);`

// Open opens or creates the database at path. Use ":memory:" for a
// private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun persists a bundle and its units in one transaction.
func (s *Store) SaveRun(b *bundle.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO runs (id, created, lines, concat, class_version, problems) VALUES (?, ?, ?, ?, ?, ?)",
		b.RunID, b.Created.Unix(), b.Options.Lines, b.Options.Concat, b.Options.ClassVersion, len(b.Problems),
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	for _, u := range b.Units {
		sum := sha256.Sum256(u.Bytes)
		_, err := tx.Exec(
			"INSERT INTO units (run_id, name, sha256, data) VALUES (?, ?, ?, ?)",
			b.RunID, u.Name, hex.EncodeToString(sum[:]), u.Bytes,
		)
		if err != nil {
			return fmt.Errorf("saving unit %s: %w", u.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	log.Debugf("stored run %s with %d unit(s)", b.RunID, len(b.Units))
	return nil
}

// Runs lists stored runs, newest first.
func (s *Store) Runs() ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT r.id, r.created, r.lines, r.concat, r.problems, COUNT(u.name)
		FROM runs r LEFT JOIN units u ON u.run_id = r.id
		GROUP BY r.id
		ORDER BY r.created DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created int64
		if err := rows.Scan(&r.ID, &created, &r.Lines, &r.Concat, &r.Problems, &r.Units); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Created = time.Unix(created, 0).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Units returns the class files stored for a run, ordered by name.
func (s *Store) Units(runID string) ([]UnitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM runs WHERE id = ?", runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	if exists == 0 {
		return nil, ErrRunNotFound
	}

	rows, err := s.db.Query("SELECT name, sha256, data FROM units WHERE run_id = ? ORDER BY name", runID)
	if err != nil {
		return nil, fmt.Errorf("querying units: %w", err)
	}
	defer rows.Close()

	var units []UnitRecord
	for rows.Next() {
		var u UnitRecord
		if err := rows.Scan(&u.Name, &u.SHA256, &u.Bytes); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		u.Size = len(u.Bytes)
		units = append(units, u)
	}
	return units, rows.Err()
}
