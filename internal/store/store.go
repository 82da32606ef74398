package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version. Bump it whenever
// schema.sql changes in a way an older journal cannot satisfy, and teach
// Open how to upgrade.
const schemaVersion = 1

// journalTables must all exist in an opened journal.
var journalTables = []string{"monitor_runs", "tracked_htlcs", "outcomes"}

// ErrNotJournal is returned when Open is pointed at a SQLite file that
// holds some other application's tables.
var ErrNotJournal = errors.New("not an htlc journal")

// Store is the monitor journal.
//
// One monitor writes at a time; `htlc history` reads concurrently through
// WAL.
type Store struct {
	db *sql.DB
}

// Open opens the journal at path, creating it if needed.
//
// A new file gets the schema and the current version. An existing journal
// must carry the current version and every journal table. Files from a
// newer build and unrelated databases are refused.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	// Writes come from the monitor loop only; one connection keeps them
	// serialized without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal %s: %s: %w", path, pragma, err)
		}
	}

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// prepare creates the schema in an empty file or checks an existing one.
func prepare(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	switch {
	case version == 0:
		var n int
		if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table'`).Scan(&n); err != nil {
			return fmt.Errorf("inspect database: %w", err)
		}
		if n > 0 {
			return ErrNotJournal
		}
		if _, err := db.Exec(schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	case version > schemaVersion:
		return fmt.Errorf("schema version %d is newer than supported version %d", version, schemaVersion)
	case version < schemaVersion:
		return fmt.Errorf("schema version %d cannot be upgraded to %d", version, schemaVersion)
	}

	return checkTables(db)
}

// checkTables fails with ErrNotJournal if any journal table is missing.
func checkTables(db *sql.DB) error {
	var missing []string
	for _, table := range journalTables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			missing = append(missing, table)
		case err != nil:
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotJournal, strings.Join(missing, ", "))
	}
	return nil
}
