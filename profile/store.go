// Package profile persists interpreter profiler snapshots in SQLite so hot
// routines and opcode mixes can be compared across runs.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/vmrt/vm"
)

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("profile: run not found")

var schema = []string{`
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	image      TEXT NOT NULL,
	entry      INTEGER NOT NULL,
	started_at TEXT NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS routine_samples (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	entry       INTEGER NOT NULL,
	invocations INTEGER NOT NULL,
	hot         INTEGER NOT NULL,
	PRIMARY KEY (run_id, entry)
)`, `
CREATE TABLE IF NOT EXISTS opcode_samples (
	run_id TEXT NOT NULL REFERENCES runs(id),
	opcode INTEGER NOT NULL,
	name   TEXT NOT NULL,
	count  INTEGER NOT NULL,
	PRIMARY KEY (run_id, opcode)
)`}

// Run describes one persisted snapshot.
type Run struct {
	ID        string
	Image     string
	Entry     int
	StartedAt time.Time
}

// Store is a SQLite-backed snapshot store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records a snapshot taken while running entry of image and returns
// the new run's id.
func (s *Store) Save(ctx context.Context, image string, entry int, snap vm.Snapshot) (string, error) {
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("profile: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, image, entry, started_at) VALUES (?, ?, ?, ?)",
		id, image, entry, s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("profile: insert run: %w", err)
	}
	for _, r := range snap.Routines {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO routine_samples (run_id, entry, invocations, hot) VALUES (?, ?, ?, ?)",
			id, r.Entry, int64(r.Invocations), r.Hot); err != nil {
			return "", fmt.Errorf("profile: insert routine %04d: %w", r.Entry, err)
		}
	}
	for _, o := range snap.Opcodes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO opcode_samples (run_id, opcode, name, count) VALUES (?, ?, ?, ?)",
			id, int(o.Opcode), o.Opcode.Name(), int64(o.Count)); err != nil {
			return "", fmt.Errorf("profile: insert opcode %s: %w", o.Opcode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("profile: commit: %w", err)
	}
	return id, nil
}

// Runs lists persisted runs, most recent first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, image, entry, started_at FROM runs ORDER BY started_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("profile: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started string
		)
		if err := rows.Scan(&r.ID, &r.Image, &r.Entry, &started); err != nil {
			return nil, fmt.Errorf("profile: scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("profile: run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Load returns the snapshot saved under id.
func (s *Store) Load(ctx context.Context, id string) (vm.Snapshot, error) {
	var snap vm.Snapshot

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrRunNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("profile: query run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT entry, invocations, hot FROM routine_samples WHERE run_id = ? ORDER BY entry", id)
	if err != nil {
		return snap, fmt.Errorf("profile: query routines: %w", err)
	}
	for rows.Next() {
		var (
			r vm.RoutineSample
			n int64
		)
		if err := rows.Scan(&r.Entry, &n, &r.Hot); err != nil {
			rows.Close()
			return snap, fmt.Errorf("profile: scan routine: %w", err)
		}
		r.Invocations = uint64(n)
		snap.Routines = append(snap.Routines, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT opcode, count FROM opcode_samples WHERE run_id = ? ORDER BY opcode", id)
	if err != nil {
		return snap, fmt.Errorf("profile: query opcodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var op, n int64
		if err := rows.Scan(&op, &n); err != nil {
			return snap, fmt.Errorf("profile: scan opcode: %w", err)
		}
		snap.Opcodes = append(snap.Opcodes, vm.OpcodeSample{Opcode: vm.Opcode(op), Count: uint64(n)})
	}
	return snap, rows.Err()
}

// HotRoutines returns the entries marked hot in any run of image, ordered by
// total invocations.
func (s *Store) HotRoutines(ctx context.Context, image string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rs.entry FROM routine_samples rs
		JOIN runs r ON r.id = rs.run_id
		WHERE r.image = ? AND rs.hot != 0
		GROUP BY rs.entry
		ORDER BY SUM(rs.invocations) DESC, rs.entry`, image)
	if err != nil {
		return nil, fmt.Errorf("profile: query hot routines: %w", err)
	}
	defer rows.Close()

	var entries []int
	for rows.Next() {
		var e int
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("profile: scan hot routine: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
