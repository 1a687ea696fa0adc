package store

import (
	"database/sql"
	"fmt"

	"github.com/cronkit50/apate/internal/apateerr"
	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
)

// FetchOverlappingRanges returns every stored continuity range for channelID
// that overlaps or touches [lo, hi]. Touching ranges are included (not just
// strict overlaps) so the caller can merge adjacent ranges into one, per the
// continuity invariant that stored ranges never sit next to each other
// unmerged.
func (s *Store) FetchOverlappingRanges(channelID snowflake.ID, lo, hi snowflake.ID) ([]model.ContinuityRange, error) {
	if err := s.CreateChannelTables(channelID); err != nil {
		return nil, err
	}
	table, err := continuityTable(channelID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A closed interval [lo,hi] overlaps-or-touches a stored [begin,end] when
	// begin <= hi+1 and end+1 >= lo (the +/-1 slack is what catches adjacency,
	// not just intersection).
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT snowflakeBegin, snowflakeEnd FROM %s
		 WHERE snowflakeBegin <= ? AND snowflakeEnd >= ?`, table),
		uint64(hi)+1, subOneClamped(lo))
	if err != nil {
		return nil, &apateerr.StorageError{Op: "fetch overlapping ranges", Err: err}
	}
	defer rows.Close()

	var out []model.ContinuityRange
	for rows.Next() {
		var begin, end uint64
		if err := rows.Scan(&begin, &end); err != nil {
			return nil, &apateerr.StorageError{Op: "scan continuity row", Err: err}
		}
		out = append(out, model.ContinuityRange{
			ChannelID: channelID,
			BeginID:   snowflake.ID(begin),
			EndID:     snowflake.ID(end),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &apateerr.StorageError{Op: "iterate continuity rows", Err: err}
	}
	return out, nil
}

func subOneClamped(id snowflake.ID) uint64 {
	if id == 0 {
		return 0
	}
	return uint64(id) - 1
}

// FindContinuityRangeContaining returns the stored range containing id, if
// any.
func (s *Store) FindContinuityRangeContaining(channelID, id snowflake.ID) (model.ContinuityRange, bool, error) {
	if err := s.CreateChannelTables(channelID); err != nil {
		return model.ContinuityRange{}, false, err
	}
	table, err := continuityTable(channelID)
	if err != nil {
		return model.ContinuityRange{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var begin, end uint64
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT snowflakeBegin, snowflakeEnd FROM %s
		 WHERE snowflakeBegin <= ? AND snowflakeEnd >= ? LIMIT 1`, table),
		uint64(id), uint64(id))
	err = row.Scan(&begin, &end)
	if err == sql.ErrNoRows {
		return model.ContinuityRange{}, false, nil
	}
	if err != nil {
		return model.ContinuityRange{}, false, &apateerr.StorageError{Op: "find continuity range", Err: err}
	}
	return model.ContinuityRange{ChannelID: channelID, BeginID: snowflake.ID(begin), EndID: snowflake.ID(end)}, true, nil
}

// DeleteContinuityRange removes the stored range beginning at begin.
func (s *Store) DeleteContinuityRange(channelID, begin snowflake.ID) error {
	table, err := continuityTable(channelID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE snowflakeBegin = ?`, table), uint64(begin)); err != nil {
		return &apateerr.StorageError{Op: "delete continuity range", Err: err}
	}
	return nil
}

// InsertContinuityRange stores a new [begin, end] range.
func (s *Store) InsertContinuityRange(channelID, begin, end snowflake.ID) error {
	if err := s.CreateChannelTables(channelID); err != nil {
		return err
	}
	table, err := continuityTable(channelID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO %s (snowflakeBegin, snowflakeEnd) VALUES (?, ?)`, table),
		uint64(begin), uint64(end)); err != nil {
		return &apateerr.StorageError{Op: "insert continuity range", Err: err}
	}
	return nil
}

// RecordContiguousTx inserts batch (if any) and merges [lo, hi] into
// channelID's stored continuity ranges — the message insert, the overlap
// scan, the deletes of every consumed range, and the final merged-range
// insert — all inside one sqlite transaction, so a crash mid-merge can
// never leave messages persisted with no covering range, or a deleted
// range with no replacement written back. Returns the final merged span
// and how many stored ranges were consumed into it.
func (s *Store) RecordContiguousTx(channelID snowflake.ID, batch []model.MessageRecord, lo, hi snowflake.ID) (mergedLo, mergedHi snowflake.ID, mergedRanges int, err error) {
	if err := s.CreateChannelTables(channelID); err != nil {
		return lo, hi, 0, err
	}
	msgTable, err := messagesTable(channelID)
	if err != nil {
		return lo, hi, 0, err
	}
	contTable, err := continuityTable(channelID)
	if err != nil {
		return lo, hi, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return lo, hi, 0, &apateerr.StorageError{Op: "begin record contiguous", Err: err}
	}
	defer tx.Rollback()

	if len(batch) > 0 {
		stmt, err := tx.Prepare(fmt.Sprintf(
			`INSERT OR IGNORE INTO %s
				(snowflake, channelsnowflake, authorUserName, authorGlobalName, authorId, timeStampUnixMs, timeStampFriendly, message)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, msgTable))
		if err != nil {
			return lo, hi, 0, &apateerr.StorageError{Op: "prepare insert message", Err: err}
		}
		for _, m := range batch {
			if _, err := stmt.Exec(
				uint64(m.MessageID), uint64(m.ChannelID),
				m.AuthorUserName, m.AuthorGlobalName, uint64(m.AuthorID),
				m.TimestampUnixMs, m.TimestampHumanReadable, m.Content,
			); err != nil {
				stmt.Close()
				return lo, hi, 0, &apateerr.StorageError{Op: "insert message " + m.MessageID.String(), Err: err}
			}
		}
		stmt.Close()
	}

	// Same overlap-or-touch query as FetchOverlappingRanges, issued against
	// tx instead of s.db so it sees the batch just inserted above and
	// participates in the same commit/rollback.
	rows, err := tx.Query(fmt.Sprintf(
		`SELECT snowflakeBegin, snowflakeEnd FROM %s
		 WHERE snowflakeBegin <= ? AND snowflakeEnd >= ?`, contTable),
		uint64(hi)+1, subOneClamped(lo))
	if err != nil {
		return lo, hi, 0, &apateerr.StorageError{Op: "fetch overlapping ranges", Err: err}
	}
	mergedLo, mergedHi = lo, hi
	var toDelete []snowflake.ID
	for rows.Next() {
		var begin, end uint64
		if err := rows.Scan(&begin, &end); err != nil {
			rows.Close()
			return lo, hi, 0, &apateerr.StorageError{Op: "scan continuity row", Err: err}
		}
		mergedLo = snowflake.Min(mergedLo, snowflake.ID(begin))
		mergedHi = snowflake.Max(mergedHi, snowflake.ID(end))
		toDelete = append(toDelete, snowflake.ID(begin))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return lo, hi, 0, &apateerr.StorageError{Op: "iterate continuity rows", Err: err}
	}
	rows.Close()

	for _, begin := range toDelete {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE snowflakeBegin = ?`, contTable), uint64(begin)); err != nil {
			return lo, hi, 0, &apateerr.StorageError{Op: "delete continuity range", Err: err}
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(
		`INSERT INTO %s (snowflakeBegin, snowflakeEnd) VALUES (?, ?)`, contTable),
		uint64(mergedLo), uint64(mergedHi)); err != nil {
		return lo, hi, 0, &apateerr.StorageError{Op: "insert continuity range", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return lo, hi, 0, &apateerr.StorageError{Op: "commit record contiguous", Err: err}
	}
	return mergedLo, mergedHi, len(toDelete), nil
}

// CountMessagesInRange returns how many stored messages fall within
// [lo, hi] inclusive.
func (s *Store) CountMessagesInRange(channelID, lo, hi snowflake.ID) (int, error) {
	if err := s.CreateChannelTables(channelID); err != nil {
		return 0, err
	}
	table, err := messagesTable(channelID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	row := s.db.QueryRow(fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE snowflake >= ? AND snowflake <= ?`, table),
		uint64(lo), uint64(hi))
	if err := row.Scan(&n); err != nil {
		return 0, &apateerr.StorageError{Op: "count messages in range", Err: err}
	}
	return n, nil
}
