// Package semanticindex maintains one HNSW approximate-nearest-neighbour
// index per channel over message embeddings, used to retrieve semantically
// relevant history for the conversation agent. The graph parameters are the
// original C++ implementation's HNSW index settings; the usearch-go usage is
// grounded on the pack's sidekick embedding.VectorActivities.VectorSearch,
// which builds this kind of index on demand from persisted vectors.
package semanticindex

import (
	"fmt"
	"sync"

	usearch "github.com/unum-cloud/usearch/golang"

	. "github.com/cronkit50/apate/internal/logging"
	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
)

// Connectivity is the HNSW graph degree (M).
const Connectivity = 64

// ExpansionSearch is the HNSW efSearch parameter: how many candidates are
// explored per query. Larger values trade query latency for recall.
const ExpansionSearch = 500

// Match is one search result: a message id and its similarity score.
type Match struct {
	MessageID snowflake.ID
	Score     float32
}

// EmbeddingSource loads every persisted embedding for a channel, used to
// (re)build an index from cold storage on first query.
type EmbeddingSource interface {
	FetchAllEmbeddings(channelID snowflake.ID) ([]model.EmbeddingRecord, error)
}

type channelIndex struct {
	mu                sync.RWMutex
	index             *usearch.Index
	messageIDByOrdinal []snowflake.ID
}

// Index holds one HNSW graph per channel, built lazily from persisted
// embeddings on first use.
type Index struct {
	source EmbeddingSource

	mu       sync.Mutex
	channels map[snowflake.ID]*channelIndex
}

// New creates a semantic index that pulls cold-start vectors from source.
func New(source EmbeddingSource) *Index {
	return &Index{
		source:   source,
		channels: make(map[snowflake.ID]*channelIndex),
	}
}

// getOrBuild returns the channel's index, building it from persisted
// embeddings if this is the first access. The lookup and the whole build run
// under the index-wide Index.mu, so a channel's index is built at most once;
// builds are not per-channel, and a build for one channel holds up first
// access to every other channel until it finishes.
func (idx *Index) getOrBuild(channelID snowflake.ID) (*channelIndex, error) {
	idx.mu.Lock()
	if ci, ok := idx.channels[channelID]; ok {
		idx.mu.Unlock()
		return ci, nil
	}

	records, err := idx.source.FetchAllEmbeddings(channelID)
	if err != nil {
		idx.mu.Unlock()
		return nil, err
	}

	conf := usearch.DefaultConfig(uint(model.EmbeddingDimensions))
	conf.Connectivity = Connectivity
	conf.ExpansionSearch = ExpansionSearch
	conf.Metric = usearch.InnerProduct

	usIndex, err := usearch.NewIndex(conf)
	if err != nil {
		idx.mu.Unlock()
		return nil, fmt.Errorf("semanticindex: create index for channel %s: %w", channelID.String(), err)
	}
	if err := usIndex.Reserve(uint(len(records))); err != nil {
		idx.mu.Unlock()
		return nil, fmt.Errorf("semanticindex: reserve capacity: %w", err)
	}

	ci := &channelIndex{index: usIndex}
	for ordinal, rec := range records {
		if err := usIndex.Add(usearch.Key(ordinal), rec.Vector); err != nil {
			idx.mu.Unlock()
			return nil, fmt.Errorf("semanticindex: add vector %d: %w", ordinal, err)
		}
		ci.messageIDByOrdinal = append(ci.messageIDByOrdinal, rec.MessageID)
	}

	idx.channels[channelID] = ci
	idx.mu.Unlock()

	L_info("semanticindex: built index", "channel", channelID.String(), "vectors", len(records))
	return ci, nil
}

// Search returns up to k nearest neighbours of queryVector in channelID's
// index, building the index on first use for that channel.
func (idx *Index) Search(channelID snowflake.ID, queryVector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	ci, err := idx.getOrBuild(channelID)
	if err != nil {
		return nil, err
	}

	ci.mu.RLock()
	defer ci.mu.RUnlock()

	keys, distances, err := ci.index.Search(queryVector, uint(k))
	if err != nil {
		return nil, fmt.Errorf("semanticindex: search channel %s: %w", channelID.String(), err)
	}

	matches := make([]Match, 0, len(keys))
	for i, key := range keys {
		ordinal := int(key)
		if ordinal < 0 || ordinal >= len(ci.messageIDByOrdinal) {
			L_warn("semanticindex: ordinal out of range, dropping", "channel", channelID.String(), "ordinal", ordinal)
			continue
		}
		score := float32(0)
		if i < len(distances) {
			score = distances[i]
		}
		matches = append(matches, Match{MessageID: ci.messageIDByOrdinal[ordinal], Score: score})
	}
	return matches, nil
}

// Insert appends a newly persisted embedding to channelID's live index, if
// one has been built. If no index exists yet for the channel, this is a
// no-op — the next Search call will build it fresh from persistence,
// picking up this embedding along with everything else.
func (idx *Index) Insert(channelID, messageID snowflake.ID, vector []float32) error {
	idx.mu.Lock()
	ci, ok := idx.channels[channelID]
	idx.mu.Unlock()
	if !ok {
		return nil
	}

	ci.mu.Lock()
	defer ci.mu.Unlock()

	ordinal := len(ci.messageIDByOrdinal)
	if err := ci.index.Add(usearch.Key(ordinal), vector); err != nil {
		return fmt.Errorf("semanticindex: insert vector for message %s: %w", messageID.String(), err)
	}
	ci.messageIDByOrdinal = append(ci.messageIDByOrdinal, messageID)
	return nil
}
