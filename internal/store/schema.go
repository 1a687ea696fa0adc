package store

import (
	"fmt"

	"github.com/cronkit50/apate/internal/apateerr"
	. "github.com/cronkit50/apate/internal/logging"
	"github.com/cronkit50/apate/internal/snowflake"
)

// CreateChannelTables idempotently creates the three tables a channel needs.
// Safe to call before every write; mirrors CreateChannelTables() from the
// original persistenceDatabase, which was likewise called defensively ahead
// of every insert rather than once at channel-discovery time.
func (s *Store) CreateChannelTables(channelID snowflake.ID) error {
	msgTable, err := messagesTable(channelID)
	if err != nil {
		return err
	}
	contTable, err := continuityTable(channelID)
	if err != nil {
		return err
	}
	embTable, err := embeddingsTable(channelID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			snowflake INTEGER PRIMARY KEY,
			channelsnowflake INTEGER NOT NULL,
			authorUserName TEXT NOT NULL,
			authorGlobalName TEXT NOT NULL,
			authorId INTEGER NOT NULL,
			timeStampUnixMs INTEGER NOT NULL,
			timeStampFriendly TEXT NOT NULL,
			message TEXT
		)`, msgTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			snowflakeBegin INTEGER PRIMARY KEY,
			snowflakeEnd INTEGER NOT NULL
		)`, contTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			snowflake INTEGER PRIMARY KEY,
			embedding BLOB
		)`, embTable),
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			L_warn("store: failed to create table", "path", s.path, "error", err)
			return &apateerr.StorageError{Op: "create tables for channel " + channelID.String(), Err: err}
		}
	}
	return nil
}
