// Package store is the sqlite persistence layer for apate: one database per
// server, with three tables per channel (messages, continuity ranges,
// embeddings). Grounded on the original serverPersistence/persistenceDatabase
// pair, which kept exactly this per-server-file, per-channel-table shape.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cronkit50/apate/internal/apateerr"
	. "github.com/cronkit50/apate/internal/logging"
	"github.com/cronkit50/apate/internal/snowflake"
)

const databaseFileName = "persistence.db"

// Store is a single server's persistence handle. All operations against it
// are serialized by mu: sqlite3 under mattn/go-sqlite3 allows only one
// writer at a time regardless of WAL mode, and the original C++ database
// wrapper made the same one-handle-per-server assumption.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the persistence database for one server
// under baseDir/<serverID>/persistence.db.
func Open(baseDir string, serverID snowflake.ID) (*Store, error) {
	dir := filepath.Join(baseDir, serverID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &apateerr.StorageError{Op: "mkdir " + dir, Err: err}
	}

	path := filepath.Join(dir, databaseFileName)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &apateerr.StorageError{Op: "open " + path, Err: err}
	}

	// One writer at a time anyway (mu), but a single shared connection
	// keeps sqlite3's own locking out of the picture entirely.
	db.SetMaxOpenConns(1)

	L_info("store: opened database", "server", serverID.String(), "path", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path, for logging/diagnostics.
func (s *Store) Path() string { return s.path }

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// tableSuffix validates and returns a channel id suitable for interpolation
// into a table name. Table names can't be bound parameters in sqlite3, so
// this digit-only check is what stands between a stored snowflake.ID and a
// SQL injection via a crafted channel id.
func tableSuffix(channelID snowflake.ID) (string, error) {
	s := channelID.String()
	if !digitsOnly.MatchString(s) {
		return "", fmt.Errorf("invalid channel id %q", s)
	}
	return s, nil
}

func messagesTable(channelID snowflake.ID) (string, error) {
	suf, err := tableSuffix(channelID)
	if err != nil {
		return "", err
	}
	return "messages_" + suf, nil
}

func continuityTable(channelID snowflake.ID) (string, error) {
	suf, err := tableSuffix(channelID)
	if err != nil {
		return "", err
	}
	return "continuity_" + suf, nil
}

func embeddingsTable(channelID snowflake.ID) (string, error) {
	suf, err := tableSuffix(channelID)
	if err != nil {
		return "", err
	}
	return "embeddings_" + suf, nil
}

// ListChannels enumerates every channel this store has ever created tables
// for, by reading table names back out of sqlite_master. Used by the
// maintenance sweep, which has no other way to discover which channels a
// server's persistence file knows about.
func (s *Store) ListChannels() ([]snowflake.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'messages_%'`)
	if err != nil {
		return nil, &apateerr.StorageError{Op: "list channels", Err: err}
	}
	defer rows.Close()

	var ids []snowflake.ID
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &apateerr.StorageError{Op: "scan channel table name", Err: err}
		}
		suf := name[len("messages_"):]
		id, err := snowflake.Parse(suf)
		if err != nil {
			L_warn("store: skipping unparseable channel table", "table", name, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &apateerr.StorageError{Op: "iterate channel table names", Err: err}
	}
	return ids, nil
}
