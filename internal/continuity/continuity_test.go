package continuity

import (
	"testing"

	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
	"github.com/cronkit50/apate/internal/store"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	db, err := store.Open(t.TempDir(), snowflake.ID(1))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func msg(channel, id snowflake.ID) model.MessageRecord {
	return model.MessageRecord{ChannelID: channel, MessageID: id, Content: "x"}
}

func rangesContaining(t *testing.T, tr *Tracker, channel snowflake.ID, ids ...snowflake.ID) {
	t.Helper()
	for _, id := range ids {
		rng, found, err := tr.db.FindContinuityRangeContaining(channel, id)
		if err != nil {
			t.Fatalf("FindContinuityRangeContaining(%v): %v", id, err)
		}
		if !found {
			t.Errorf("expected a range containing %v, found none", id)
		} else {
			t.Logf("id %v is within range [%v,%v]", id, rng.BeginID, rng.EndID)
		}
	}
}

// Scenario 1: live append into empty state.
func TestLiveAppendIntoEmptyState(t *testing.T) {
	tr := newTestTracker(t)
	channel := snowflake.ID(1)

	if err := tr.RecordContiguous(channel, []model.MessageRecord{msg(channel, 100)}, snowflake.Zero); err != nil {
		t.Fatalf("RecordContiguous(m1): %v", err)
	}
	if err := tr.RecordContiguous(channel, []model.MessageRecord{msg(channel, 101)}, snowflake.ID(100)); err != nil {
		t.Fatalf("RecordContiguous(m2): %v", err)
	}

	rng, found, err := tr.db.FindContinuityRangeContaining(channel, snowflake.ID(101))
	if err != nil || !found {
		t.Fatalf("expected merged range, found=%v err=%v", found, err)
	}
	if rng.BeginID != 100 || rng.EndID != 101 {
		t.Fatalf("expected range [100,101], got [%v,%v]", rng.BeginID, rng.EndID)
	}

	count, err := tr.CountContinuousFrom(channel, snowflake.ID(101))
	if err != nil {
		t.Fatalf("CountContinuousFrom: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
}

// Scenario 2: backfill meets live.
func TestBackfillMeetsLive(t *testing.T) {
	tr := newTestTracker(t)
	channel := snowflake.ID(2)

	if err := tr.RecordContiguous(channel, []model.MessageRecord{msg(channel, 200)}, snowflake.Zero); err != nil {
		t.Fatalf("RecordContiguous(live): %v", err)
	}

	var backfillPage1 []model.MessageRecord
	for id := snowflake.ID(180); id <= 199; id++ {
		backfillPage1 = append(backfillPage1, msg(channel, id))
	}
	if err := tr.RecordContiguous(channel, backfillPage1, snowflake.Zero); err != nil {
		t.Fatalf("RecordContiguous(backfillPage1): %v", err)
	}

	rangesContaining(t, tr, channel, snowflake.ID(185), snowflake.ID(200))

	backfillPage2 := []model.MessageRecord{msg(channel, 199), msg(channel, 200)}
	if err := tr.RecordContiguous(channel, backfillPage2, snowflake.Zero); err != nil {
		t.Fatalf("RecordContiguous(backfillPage2): %v", err)
	}

	rng, found, err := tr.db.FindContinuityRangeContaining(channel, snowflake.ID(190))
	if err != nil || !found {
		t.Fatalf("expected single merged range, found=%v err=%v", found, err)
	}
	if rng.BeginID != 180 || rng.EndID != 200 {
		t.Fatalf("expected merged range [180,200], got [%v,%v]", rng.BeginID, rng.EndID)
	}
}

// Scenario 3: idempotent replay.
func TestIdempotentReplay(t *testing.T) {
	channel := snowflake.ID(3)

	apply := func(tr *Tracker) {
		_ = tr.RecordContiguous(channel, []model.MessageRecord{msg(channel, 100)}, snowflake.Zero)
		_ = tr.RecordContiguous(channel, []model.MessageRecord{msg(channel, 101)}, snowflake.ID(100))
	}

	once := newTestTracker(t)
	apply(once)

	twice := newTestTracker(t)
	apply(twice)
	apply(twice)

	rOnce, _, err := once.db.FindContinuityRangeContaining(channel, snowflake.ID(101))
	if err != nil {
		t.Fatalf("FindContinuityRangeContaining (once): %v", err)
	}
	rTwice, _, err := twice.db.FindContinuityRangeContaining(channel, snowflake.ID(101))
	if err != nil {
		t.Fatalf("FindContinuityRangeContaining (twice): %v", err)
	}
	if rOnce != rTwice {
		t.Errorf("expected identical state after replay, got %+v vs %+v", rOnce, rTwice)
	}
}

// A new message at an existing range's beginId-1, with an adjacency hint
// naming that range's beginId, must merge into one range.
func TestAdjacencyHintTouchingBoundaryMerges(t *testing.T) {
	tr := newTestTracker(t)
	channel := snowflake.ID(4)

	if err := tr.RecordContiguous(channel, []model.MessageRecord{msg(channel, 50)}, snowflake.Zero); err != nil {
		t.Fatalf("RecordContiguous: %v", err)
	}
	// New message 49, hinting that 50 (the existing range's beginId) is adjacent.
	if err := tr.RecordContiguous(channel, []model.MessageRecord{msg(channel, 49)}, snowflake.ID(50)); err != nil {
		t.Fatalf("RecordContiguous: %v", err)
	}

	rng, found, err := tr.db.FindContinuityRangeContaining(channel, snowflake.ID(49))
	if err != nil || !found {
		t.Fatalf("expected merged range, found=%v err=%v", found, err)
	}
	if rng.BeginID != 49 || rng.EndID != 50 {
		t.Fatalf("expected merged range [49,50], got [%v,%v]", rng.BeginID, rng.EndID)
	}
}

func TestEmptyBatchAndHintIsNoop(t *testing.T) {
	tr := newTestTracker(t)
	if err := tr.RecordContiguous(snowflake.ID(5), nil, snowflake.Zero); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}

// The batch insert and the range merge it triggers must land together: a
// successful RecordContiguous call can never leave a stored message with no
// covering continuity range.
func TestRecordContiguousLeavesMessagesAndRangeInSync(t *testing.T) {
	tr := newTestTracker(t)
	channel := snowflake.ID(6)

	batch := []model.MessageRecord{msg(channel, 10), msg(channel, 11), msg(channel, 12)}
	if err := tr.RecordContiguous(channel, batch, snowflake.Zero); err != nil {
		t.Fatalf("RecordContiguous: %v", err)
	}

	for _, id := range []snowflake.ID{10, 11, 12} {
		if _, err := tr.db.FindMessage(channel, id); err != nil {
			t.Fatalf("expected message %v to be stored: %v", id, err)
		}
	}

	rng, found, err := tr.db.FindContinuityRangeContaining(channel, snowflake.ID(11))
	if err != nil || !found {
		t.Fatalf("expected a continuity range covering the inserted batch, found=%v err=%v", found, err)
	}
	if rng.BeginID != 10 || rng.EndID != 12 {
		t.Fatalf("expected range [10,12], got [%v,%v]", rng.BeginID, rng.EndID)
	}
}

// Merging two stored ranges must replace both consumed ranges with exactly
// one merged range in the same call — never leave a deleted range with no
// replacement on disk.
func TestRecordContiguousMergeReplacesConsumedRangesAtomically(t *testing.T) {
	tr := newTestTracker(t)
	channel := snowflake.ID(7)

	if err := tr.RecordContiguous(channel, []model.MessageRecord{msg(channel, 1)}, snowflake.Zero); err != nil {
		t.Fatalf("RecordContiguous(first range): %v", err)
	}
	if err := tr.RecordContiguous(channel, []model.MessageRecord{msg(channel, 20)}, snowflake.Zero); err != nil {
		t.Fatalf("RecordContiguous(second range): %v", err)
	}

	// A batch spanning both prior ranges must consume and replace them both.
	var bridge []model.MessageRecord
	for id := snowflake.ID(1); id <= 20; id++ {
		bridge = append(bridge, msg(channel, id))
	}
	if err := tr.RecordContiguous(channel, bridge, snowflake.Zero); err != nil {
		t.Fatalf("RecordContiguous(bridge): %v", err)
	}

	rng, found, err := tr.db.FindContinuityRangeContaining(channel, snowflake.ID(10))
	if err != nil || !found {
		t.Fatalf("expected one merged range, found=%v err=%v", found, err)
	}
	if rng.BeginID != 1 || rng.EndID != 20 {
		t.Fatalf("expected merged range [1,20], got [%v,%v]", rng.BeginID, rng.EndID)
	}

	overlapping, err := tr.db.FetchOverlappingRanges(channel, snowflake.ID(1), snowflake.ID(20))
	if err != nil {
		t.Fatalf("FetchOverlappingRanges: %v", err)
	}
	if len(overlapping) != 1 {
		t.Fatalf("expected exactly one stored range after merge, got %d: %+v", len(overlapping), overlapping)
	}
}
