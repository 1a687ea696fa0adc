package store

import (
	"database/sql"
	"fmt"

	"github.com/cronkit50/apate/internal/apateerr"
	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
)

// InsertMessage stores one message, creating the channel's tables first if
// needed. A duplicate message id is silently ignored (INSERT OR IGNORE),
// matching the original's idempotent-write behavior for re-delivered events.
func (s *Store) InsertMessage(msg model.MessageRecord) error {
	return s.InsertMessages([]model.MessageRecord{msg})
}

// InsertMessages stores a batch of messages for one channel in a single
// transaction. All records must share ChannelID.
func (s *Store) InsertMessages(msgs []model.MessageRecord) error {
	if len(msgs) == 0 {
		return nil
	}

	channelID := msgs[0].ChannelID
	if err := s.CreateChannelTables(channelID); err != nil {
		return err
	}

	table, err := messagesTable(channelID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return &apateerr.StorageError{Op: "begin insert messages", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf(
		`INSERT OR IGNORE INTO %s
			(snowflake, channelsnowflake, authorUserName, authorGlobalName, authorId, timeStampUnixMs, timeStampFriendly, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table))
	if err != nil {
		return &apateerr.StorageError{Op: "prepare insert message", Err: err}
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.Exec(
			uint64(m.MessageID), uint64(m.ChannelID),
			m.AuthorUserName, m.AuthorGlobalName, uint64(m.AuthorID),
			m.TimestampUnixMs, m.TimestampHumanReadable, m.Content,
		); err != nil {
			return &apateerr.StorageError{Op: "insert message " + m.MessageID.String(), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &apateerr.StorageError{Op: "commit insert messages", Err: err}
	}
	return nil
}

// FetchLatestByChannel returns up to limit messages for a channel, newest
// first.
func (s *Store) FetchLatestByChannel(channelID snowflake.ID, limit int) ([]model.MessageRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := s.CreateChannelTables(channelID); err != nil {
		return nil, err
	}
	table, err := messagesTable(channelID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT snowflake, channelsnowflake, authorUserName, authorGlobalName, authorId,
			timeStampUnixMs, timeStampFriendly, message
		 FROM %s ORDER BY snowflake DESC LIMIT ?`, table), limit)
	if err != nil {
		return nil, &apateerr.StorageError{Op: "fetch latest messages", Err: err}
	}
	defer rows.Close()

	return scanMessages(rows)
}

// FindMessage returns the single message with the given id, or
// apateerr.ErrNotFound if it isn't present.
func (s *Store) FindMessage(channelID, messageID snowflake.ID) (model.MessageRecord, error) {
	if err := s.CreateChannelTables(channelID); err != nil {
		return model.MessageRecord{}, err
	}
	table, err := messagesTable(channelID)
	if err != nil {
		return model.MessageRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT snowflake, channelsnowflake, authorUserName, authorGlobalName, authorId,
			timeStampUnixMs, timeStampFriendly, message
		 FROM %s WHERE snowflake = ?`, table), uint64(messageID))

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return model.MessageRecord{}, apateerr.ErrNotFound
	}
	if err != nil {
		return model.MessageRecord{}, &apateerr.StorageError{Op: "find message " + messageID.String(), Err: err}
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (model.MessageRecord, error) {
	var (
		msg                 model.MessageRecord
		rawID, rawChan, rawAuthor uint64
	)
	err := r.Scan(&rawID, &rawChan, &msg.AuthorUserName, &msg.AuthorGlobalName, &rawAuthor,
		&msg.TimestampUnixMs, &msg.TimestampHumanReadable, &msg.Content)
	if err != nil {
		return model.MessageRecord{}, err
	}
	msg.MessageID = snowflake.ID(rawID)
	msg.ChannelID = snowflake.ID(rawChan)
	msg.AuthorID = snowflake.ID(rawAuthor)
	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]model.MessageRecord, error) {
	var out []model.MessageRecord
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, &apateerr.StorageError{Op: "scan message row", Err: err}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &apateerr.StorageError{Op: "iterate message rows", Err: err}
	}
	return out, nil
}
