// Package store implements Component D: the durable SQLite-backed
// repository for chat-archive datasets (spec §4.2). A single Store
// wraps one data.sqlite file and the dataset-root media directories
// beneath it, serializing mutations behind a process-wide read-write
// lock (spec §5) the way a single-writer desktop tool needs to.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/wesm/chatvault/internal/apperr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store provides database and on-disk media operations for chatvault.
// StorageRoot is the directory containing data.sqlite and every
// dataset's <ds_uuid>/ media subtree (spec §4.2.3).
type Store struct {
	db          *sql.DB
	dbPath      string
	StorageRoot string

	mu sync.RWMutex // serializes mutations; reads take it shared (spec §5)

	cache cache
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// isSQLiteError checks if err is a sqlite3.Error with a message
// containing substr, type-asserting through both value and pointer
// forms of the driver's error type.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// Open opens or creates the database at storageRoot/data.sqlite (spec
// §4.2.1, §6.1) and applies any pending migrations. storageRoot also
// becomes the root for every dataset's media subtree.
func Open(storageRoot string) (*Store, error) {
	if err := os.MkdirAll(storageRoot, 0o755); err != nil {
		return nil, apperr.WrapFS(err, "create storage root %s", storageRoot)
	}

	dbPath := filepath.Join(storageRoot, "data.sqlite")
	dsn := dbPath + defaultSQLiteParams
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.WrapDB(err, "open database")
	}
	// SQLite is single-writer; keep the pool small so `test_on_check_out`
	// style validation (Ping on acquire) stays cheap, matching spec §5's
	// connection-pooled single-writer model.
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperr.WrapDB(err, "ping database")
	}

	s := &Store{db: db, dbPath: dbPath, StorageRoot: storageRoot}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.cache.invalidate()
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection for advanced queries (backup,
// online diagnostics).
func (s *Store) DB() *sql.DB { return s.db }

// CheckOut validates the pooled connection is alive, standing in for
// the spec's `test_on_check_out = true` pool setting (spec §5).
func (s *Store) CheckOut() error {
	return s.db.Ping()
}

// withTx executes fn within a transaction, rolling back on error.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperr.WrapDB(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.WrapDB(err, "commit transaction")
	}
	return nil
}

// withWriteLock runs fn holding the store's write lock and invalidates
// the read cache before running it (spec §4.2.7: "invalidated at the
// start of every mutating method").
func (s *Store) withWriteLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.invalidate()
	return fn()
}

// withReadLock runs fn holding the store's read lock.
func (s *Store) withReadLock(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}

// migrate applies every embedded migration not yet recorded in
// schema_migrations, in ascending filename order, inside one
// transaction (spec §4.2.2 "ordered sequence of embedded migrations;
// missing migrations ⇒ fatal"). This generalizes the teacher's single
// go:embed schema.sql into an ordered, idempotent migration runner.
func (s *Store) migrate() error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return apperr.WrapDB(err, "read embedded migrations")
	}
	if len(entries) == 0 {
		return apperr.DB("no embedded migrations found")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	return s.withTx(func(tx *sql.Tx) error {
		// schema_migrations itself is created by the first migration;
		// probe for it defensively so re-opening an existing (pre-
		// migration-tracking) database doesn't replay migration 1.
		applied := map[string]bool{}
		if hasTable(tx, "schema_migrations") {
			rows, err := tx.Query(`SELECT name FROM schema_migrations`)
			if err != nil {
				return apperr.WrapDB(err, "read schema_migrations")
			}
			for rows.Next() {
				var name string
				if err := rows.Scan(&name); err != nil {
					rows.Close()
					return apperr.WrapDB(err, "scan schema_migrations")
				}
				applied[name] = true
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return apperr.WrapDB(err, "iterate schema_migrations")
			}
			rows.Close()
		}

		for i, name := range names {
			if applied[name] {
				continue
			}
			sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
			if err != nil {
				return apperr.WrapDB(err, "read migration %s", name)
			}
			if _, err := tx.Exec(string(sqlBytes)); err != nil {
				return apperr.WrapDB(err, "apply migration %s", name)
			}
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				i+1, name, time.Now().UTC().Format(time.RFC3339),
			); err != nil {
				return apperr.WrapDB(err, "record migration %s", name)
			}
		}
		return nil
	})
}

func hasTable(tx *sql.Tx, name string) bool {
	var n int
	err := tx.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name,
	).Scan(&n)
	return err == nil && n > 0
}

// Stats holds database statistics.
type Stats struct {
	DatasetCount int64
	UserCount    int64
	ChatCount    int64
	MessageCount int64
	DatabaseSize int64
}

// GetStats returns statistics about the database.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM dataset", &stats.DatasetCount},
		{"SELECT COUNT(*) FROM user", &stats.UserCount},
		{"SELECT COUNT(*) FROM chat", &stats.ChatCount},
		{"SELECT COUNT(*) FROM message", &stats.MessageCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, apperr.WrapDB(err, "get stats %q", q.query)
		}
	}
	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// queryInChunks executes a parameterized IN-query in chunks to stay
// within SQLite's parameter limit. queryTemplate must contain a single
// %s placeholder for the comma-separated "?" list.
func queryInChunks[T any](db *sql.DB, ids []T, prefixArgs []interface{}, queryTemplate string, fn func(*sql.Rows) error) error {
	const chunkSize = 500
	for i := 0; i < len(ids); i += chunkSize {
		end := i + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, 0, len(prefixArgs)+len(chunk))
		args = append(args, prefixArgs...)
		for j, id := range chunk {
			placeholders[j] = "?"
			args = append(args, id)
		}

		query := fmt.Sprintf(queryTemplate, strings.Join(placeholders, ","))
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			if err := fn(rows); err != nil {
				rows.Close()
				return err
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}
