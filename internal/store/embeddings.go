package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cronkit50/apate/internal/apateerr"
	. "github.com/cronkit50/apate/internal/logging"
	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
)

// encodeVector packs a []float32 as a little-endian blob, matching the raw
// memcpy-of-the-vector layout the original C++ store used
// (sqlite3_bind_blob over embedding.data()).
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// InsertEmbedding stores the embedding vector for one message. A message
// that already has an embedding is left untouched (INSERT OR IGNORE).
func (s *Store) InsertEmbedding(channelID, messageID snowflake.ID, vector []float32) error {
	if len(vector) == 0 {
		return nil
	}
	if err := s.CreateChannelTables(channelID); err != nil {
		return err
	}
	table, err := embeddingsTable(channelID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(fmt.Sprintf(
		`INSERT OR IGNORE INTO %s (snowflake, embedding) VALUES (?, ?)`, table),
		uint64(messageID), encodeVector(vector)); err != nil {
		return &apateerr.StorageError{Op: "insert embedding " + messageID.String(), Err: err}
	}
	return nil
}

// HasEmbedding reports whether messageID already has a stored embedding.
func (s *Store) HasEmbedding(channelID, messageID snowflake.ID) (bool, error) {
	if err := s.CreateChannelTables(channelID); err != nil {
		return false, err
	}
	table, err := embeddingsTable(channelID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	row := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE snowflake = ?`, table), uint64(messageID))
	if err := row.Scan(&n); err != nil {
		return false, &apateerr.StorageError{Op: "check embedding existence", Err: err}
	}
	return n > 0, nil
}

// FetchMessagesMissingEmbeddings returns every message in channelID at
// least minLen characters long that has no row in the channel's embeddings
// table yet, via a LEFT JOIN rather than one HasEmbedding check per row.
// Used by the maintenance sweep's retry pass.
func (s *Store) FetchMessagesMissingEmbeddings(channelID snowflake.ID, minLen int) ([]model.MessageRecord, error) {
	if err := s.CreateChannelTables(channelID); err != nil {
		return nil, err
	}
	msgTable, err := messagesTable(channelID)
	if err != nil {
		return nil, err
	}
	embTable, err := embeddingsTable(channelID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT m.snowflake, m.channelsnowflake, m.authorUserName, m.authorGlobalName, m.authorId,
			m.timeStampUnixMs, m.timeStampFriendly, m.message
		 FROM %s m LEFT JOIN %s e ON m.snowflake = e.snowflake
		 WHERE e.snowflake IS NULL AND length(m.message) >= ?`, msgTable, embTable), minLen)
	if err != nil {
		return nil, &apateerr.StorageError{Op: "fetch messages missing embeddings", Err: err}
	}
	defer rows.Close()

	return scanMessages(rows)
}

// FetchAllEmbeddings returns every stored embedding for a channel, for
// rebuilding the in-memory semantic index after a restart.
func (s *Store) FetchAllEmbeddings(channelID snowflake.ID) ([]model.EmbeddingRecord, error) {
	if err := s.CreateChannelTables(channelID); err != nil {
		return nil, err
	}
	table, err := embeddingsTable(channelID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(fmt.Sprintf(`SELECT snowflake, embedding FROM %s`, table))
	if err != nil {
		return nil, &apateerr.StorageError{Op: "fetch all embeddings", Err: err}
	}
	defer rows.Close()

	var out []model.EmbeddingRecord
	for rows.Next() {
		var id uint64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, &apateerr.StorageError{Op: "scan embedding row", Err: err}
		}
		vec := decodeVector(blob)
		if len(vec) != model.EmbeddingDimensions {
			L_warn("store: embedding has unexpected dimension, skipping",
				"channel", channelID.String(), "message", id, "dims", len(vec))
			continue
		}
		out = append(out, model.EmbeddingRecord{
			ChannelID: channelID,
			MessageID: snowflake.ID(id),
			Vector:    vec,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &apateerr.StorageError{Op: "iterate embedding rows", Err: err}
	}
	return out, nil
}
