// Package model defines the data types shared across the archiver,
// continuity tracker, persistence store, and semantic index.
package model

import "github.com/cronkit50/apate/internal/snowflake"

// MinEmbedLen is the minimum content length, in characters, a message must
// reach before an embedding is generated for it.
const MinEmbedLen = 10

// MessageRecord is a single observed chat message. Immutable once recorded;
// messageID is globally unique and is the primary key within its channel's
// messages table.
type MessageRecord struct {
	ServerID               snowflake.ID
	ChannelID              snowflake.ID
	MessageID              snowflake.ID
	AuthorID               snowflake.ID
	AuthorUserName         string
	AuthorGlobalName       string
	TimestampUnixMs        int64
	TimestampHumanReadable string
	Content                string
}

// ContinuityRange is a maximal interval of contiguously known message ids for
// a channel. Invariant: BeginID <= EndID. Ranges for a channel never overlap
// or touch in the stored representation — the tracker merges on every write.
type ContinuityRange struct {
	ChannelID snowflake.ID
	BeginID   snowflake.ID
	EndID     snowflake.ID
}

// Contains reports whether id falls within the closed interval [BeginID, EndID].
func (r ContinuityRange) Contains(id snowflake.ID) bool {
	return r.BeginID <= id && id <= r.EndID
}

// Overlaps reports whether r intersects the closed interval [lo, hi]; sharing
// a single id counts as an overlap. Ranges that only abut (r.EndID+1 == lo or
// hi+1 == r.BeginID) do not count.
func (r ContinuityRange) Overlaps(lo, hi snowflake.ID) bool {
	return r.BeginID <= hi && r.EndID >= lo
}

// EmbeddingRecord is a fixed-dimension embedding vector for a message. At most
// one embedding exists per messageID.
type EmbeddingRecord struct {
	ChannelID snowflake.ID
	MessageID snowflake.ID
	Vector    []float32
}

// EmbeddingDimensions is the deployment-fixed vector width. Not recorded per
// row; changing it requires rebuilding every persisted embedding.
const EmbeddingDimensions = 768
