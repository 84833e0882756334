// Package cache persists per-unit fingerprints so unchanged work is skipped
// on reruns. Records are loaded once at run start, consulted read-only during
// scheduling, and flushed per unit immediately after a successful apply so a
// crash between units never loses already-applied work.
package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// record is one persisted CacheRecord.
type record struct {
	fingerprint string
	lastRun     time.Time
}

// Store is the sqlite-backed change-detection cache. Mutation is serialized
// per store; concurrent workers never write the same record unordered.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	records map[string]record
}

// Open opens (creating if needed) the cache database at path, runs schema
// migrations, and loads all records into memory.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging cache database: %w", err)
	}

	s := &Store{db: db, records: make(map[string]record)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies the embedded schema migrations.
func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// load reads every record into the in-memory map.
func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT unit_id, fingerprint, last_run_at FROM cache_records")
	if err != nil {
		return fmt.Errorf("loading cache records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, fp string
		var lastRun int64
		if err := rows.Scan(&id, &fp, &lastRun); err != nil {
			return fmt.Errorf("scanning cache record: %w", err)
		}
		s.records[id] = record{fingerprint: fp, lastRun: time.Unix(0, lastRun)}
	}
	return rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ShouldRun implements the default policy — run iff no prior record exists or
// the stored fingerprint differs — plus the time gate: when refresh is
// positive, run whenever the record is at least refresh old, regardless of
// fingerprint.
func (s *Store) ShouldRun(unitID, fingerprint string, refresh time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	rec, ok := s.records[unitID]
	s.mu.Unlock()

	if !ok || rec.fingerprint != fingerprint {
		return true, nil
	}
	if refresh > 0 && now.Sub(rec.lastRun) >= refresh {
		return true, nil
	}
	return false, nil
}

// LastRun returns the stored last-run time for a unit.
func (s *Store) LastRun(unitID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[unitID]
	return rec.lastRun, ok
}

// Record upserts the unit's fingerprint and run time, flushing to disk before
// returning.
func (s *Store) Record(ctx context.Context, unitID, fingerprint string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_records (unit_id, fingerprint, last_run_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (unit_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			last_run_at = excluded.last_run_at,
			updated_at  = excluded.updated_at`,
		unitID, fingerprint, now.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("recording cache entry for %s: %w", unitID, err)
	}

	s.records[unitID] = record{fingerprint: fingerprint, lastRun: now}
	return nil
}

// Forget removes a unit's record, forcing it to run next time.
func (s *Store) Forget(ctx context.Context, unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_records WHERE unit_id = ?", unitID); err != nil {
		return fmt.Errorf("forgetting cache entry for %s: %w", unitID, err)
	}
	delete(s.records, unitID)
	return nil
}
