// Package store persists program artifacts in SQLite, keyed by name.
// Programs are stored in their canonical wire form, so the database can
// be shipped between hosts and loaded anywhere.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/casmkit/casm/vm"
	"github.com/casmkit/casm/wire"
)

// ErrProgramNotFound indicates the requested program doesn't exist.
var ErrProgramNotFound = errors.New("program not found")

// Store handles SQLite storage for programs.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) a program store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
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

// Save persists a program under name, replacing any previous version.
func (s *Store) Save(name string, p *vm.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := wire.MarshalProgram(p)
	if err != nil {
		return fmt.Errorf("encoding program %q: %w", name, err)
	}
	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO programs (name, data, updated_at) VALUES (?, ?, datetime('now'))",
		name, data,
	); err != nil {
		return fmt.Errorf("saving program %q: %w", name, err)
	}
	return nil
}

// Load retrieves a program by name.
func (s *Store) Load(name string) (*vm.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow("SELECT data FROM programs WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrProgramNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading program %q: %w", name, err)
	}
	p, err := wire.UnmarshalProgram(data)
	if err != nil {
		return nil, fmt.Errorf("decoding program %q: %w", name, err)
	}
	return p, nil
}

// List returns the names of all stored programs, sorted.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT name FROM programs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a program by name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM programs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting program %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrProgramNotFound, name)
	}
	return nil
}
