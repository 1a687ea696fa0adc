// Package continuity maintains, per channel, the set of maximal contiguous
// message-id ranges apate has actually observed. Grounded on the original
// serverPersistence/persistenceDatabase continuity bookkeeping
// (StoreContinousMessages / GetContinuousMessages / GetOldestContinuousTimestamp),
// reimplemented here as its own component with the merge performed inside a
// single sqlite transaction rather than the original's separate exec calls.
package continuity

import (
	. "github.com/cronkit50/apate/internal/logging"
	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
	"github.com/cronkit50/apate/internal/store"
)

// Tracker maintains continuity ranges for every channel of one server,
// backed by a single *store.Store.
type Tracker struct {
	db *store.Store
}

// New wraps a server's persistence store with continuity tracking.
func New(db *store.Store) *Tracker {
	return &Tracker{db: db}
}

// RecordContiguous inserts batch and merges it into the channel's continuity
// ranges in one transaction. adjacentHint, if non-zero, is an id the caller
// asserts is contiguous with the batch (for live arrivals: the previously
// known tail) and is folded into the merge span even though it isn't itself
// part of batch.
func (t *Tracker) RecordContiguous(channelID snowflake.ID, batch []model.MessageRecord, adjacentHint snowflake.ID) error {
	if len(batch) == 0 && adjacentHint.IsZero() {
		return nil
	}

	lo, hi := rangeOf(batch)
	if !adjacentHint.IsZero() {
		lo = snowflake.Min(lo, adjacentHint)
		hi = snowflake.Max(hi, adjacentHint)
	}

	// The batch insert, the overlap scan, the deletes of every range it
	// consumes, and the final merged-range insert all run inside one
	// *sql.Tx in Store.RecordContiguousTx, so a crash partway through can
	// never leave messages persisted without a covering range, or a
	// deleted range with no replacement.
	mergedLo, mergedHi, mergedRanges, err := t.db.RecordContiguousTx(channelID, batch, lo, hi)
	if err != nil {
		return err
	}

	L_debug("continuity: merged range", "channel", channelID.String(),
		"begin", mergedLo.String(), "end", mergedHi.String(), "mergedRanges", mergedRanges)
	return nil
}

// rangeOf returns [min(ids), max(ids)] for batch. If batch is empty the
// caller is relying solely on adjacentHint, so the zero value is returned
// and RecordContiguous widens from there.
func rangeOf(batch []model.MessageRecord) (lo, hi snowflake.ID) {
	if len(batch) == 0 {
		return snowflake.Zero, snowflake.Zero
	}
	lo, hi = batch[0].MessageID, batch[0].MessageID
	for _, m := range batch[1:] {
		lo = snowflake.Min(lo, m.MessageID)
		hi = snowflake.Max(hi, m.MessageID)
	}
	return lo, hi
}

// CountContinuousFrom returns how many stored messages exist in the
// contiguous run starting at the range containing since, up to and
// including since itself. Returns 0 if since falls outside any known range.
func (t *Tracker) CountContinuousFrom(channelID, since snowflake.ID) (int, error) {
	rng, found, err := t.db.FindContinuityRangeContaining(channelID, since)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return t.db.CountMessagesInRange(channelID, rng.BeginID, since)
}

// OldestContinuousFrom returns the beginning of the continuity range
// containing since, or since itself if no range contains it.
func (t *Tracker) OldestContinuousFrom(channelID, since snowflake.ID) (snowflake.ID, error) {
	rng, found, err := t.db.FindContinuityRangeContaining(channelID, since)
	if err != nil {
		return since, err
	}
	if !found {
		return since, nil
	}
	return rng.BeginID, nil
}
