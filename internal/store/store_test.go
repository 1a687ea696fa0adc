package store

import (
	"testing"

	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), snowflake.ID(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndFetchMessage(t *testing.T) {
	s := newTestStore(t)

	channel := snowflake.ID(100)
	msg := model.MessageRecord{
		ChannelID:              channel,
		MessageID:              snowflake.ID(200),
		AuthorID:               snowflake.ID(300),
		AuthorUserName:         "alice",
		AuthorGlobalName:       "Alice",
		TimestampUnixMs:        1000,
		TimestampHumanReadable: "2026-01-01 00:00:00",
		Content:                "hello world",
	}

	if err := s.InsertMessage(msg); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	got, err := s.FindMessage(channel, msg.MessageID)
	if err != nil {
		t.Fatalf("FindMessage: %v", err)
	}
	if got.Content != msg.Content || got.AuthorUserName != msg.AuthorUserName {
		t.Errorf("round-tripped message mismatch: got %+v, want %+v", got, msg)
	}

	// Re-inserting the same id is a no-op, not an error.
	if err := s.InsertMessage(msg); err != nil {
		t.Fatalf("InsertMessage (duplicate): %v", err)
	}
}

func TestFindMessageNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindMessage(snowflake.ID(1), snowflake.ID(999))
	if err == nil {
		t.Fatal("expected error for missing message")
	}
}

func TestFetchLatestByChannelOrdersDescending(t *testing.T) {
	s := newTestStore(t)
	channel := snowflake.ID(5)

	for i := uint64(1); i <= 5; i++ {
		msg := model.MessageRecord{
			ChannelID: channel,
			MessageID: snowflake.ID(i),
			Content:   "msg",
		}
		if err := s.InsertMessage(msg); err != nil {
			t.Fatalf("InsertMessage %d: %v", i, err)
		}
	}

	got, err := s.FetchLatestByChannel(channel, 3)
	if err != nil {
		t.Fatalf("FetchLatestByChannel: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].MessageID != snowflake.ID(5) || got[2].MessageID != snowflake.ID(3) {
		t.Errorf("unexpected ordering: %+v", got)
	}
}

func TestContinuityRangeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	channel := snowflake.ID(7)

	if err := s.InsertContinuityRange(channel, snowflake.ID(10), snowflake.ID(20)); err != nil {
		t.Fatalf("InsertContinuityRange: %v", err)
	}

	rng, found, err := s.FindContinuityRangeContaining(channel, snowflake.ID(15))
	if err != nil {
		t.Fatalf("FindContinuityRangeContaining: %v", err)
	}
	if !found {
		t.Fatal("expected to find containing range")
	}
	if rng.BeginID != 10 || rng.EndID != 20 {
		t.Errorf("unexpected range: %+v", rng)
	}

	overlapping, err := s.FetchOverlappingRanges(channel, snowflake.ID(20), snowflake.ID(25))
	if err != nil {
		t.Fatalf("FetchOverlappingRanges: %v", err)
	}
	if len(overlapping) != 1 {
		t.Fatalf("expected 1 overlapping (touching) range, got %d", len(overlapping))
	}

	if err := s.DeleteContinuityRange(channel, snowflake.ID(10)); err != nil {
		t.Fatalf("DeleteContinuityRange: %v", err)
	}
	_, found, err = s.FindContinuityRangeContaining(channel, snowflake.ID(15))
	if err != nil {
		t.Fatalf("FindContinuityRangeContaining after delete: %v", err)
	}
	if found {
		t.Error("expected range to be gone after delete")
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	channel := snowflake.ID(9)
	msgID := snowflake.ID(11)

	vec := make([]float32, model.EmbeddingDimensions)
	for i := range vec {
		vec[i] = float32(i) * 0.5
	}

	has, err := s.HasEmbedding(channel, msgID)
	if err != nil {
		t.Fatalf("HasEmbedding: %v", err)
	}
	if has {
		t.Fatal("expected no embedding before insert")
	}

	if err := s.InsertEmbedding(channel, msgID, vec); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}

	has, err = s.HasEmbedding(channel, msgID)
	if err != nil {
		t.Fatalf("HasEmbedding: %v", err)
	}
	if !has {
		t.Fatal("expected embedding after insert")
	}

	all, err := s.FetchAllEmbeddings(channel)
	if err != nil {
		t.Fatalf("FetchAllEmbeddings: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 embedding, got %d", len(all))
	}
	if len(all[0].Vector) != len(vec) || all[0].Vector[10] != vec[10] {
		t.Errorf("embedding vector mismatch after round trip")
	}
}

func TestFetchMessagesMissingEmbeddings(t *testing.T) {
	s := newTestStore(t)
	channel := snowflake.ID(13)

	withEmbedding := model.MessageRecord{ChannelID: channel, MessageID: snowflake.ID(1), Content: "has an embedding already"}
	withoutEmbedding := model.MessageRecord{ChannelID: channel, MessageID: snowflake.ID(2), Content: "still missing its embedding"}
	tooShort := model.MessageRecord{ChannelID: channel, MessageID: snowflake.ID(3), Content: "hi"}

	for _, m := range []model.MessageRecord{withEmbedding, withoutEmbedding, tooShort} {
		if err := s.InsertMessage(m); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}
	if err := s.InsertEmbedding(channel, withEmbedding.MessageID, make([]float32, model.EmbeddingDimensions)); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}

	missing, err := s.FetchMessagesMissingEmbeddings(channel, model.MinEmbedLen)
	if err != nil {
		t.Fatalf("FetchMessagesMissingEmbeddings: %v", err)
	}
	if len(missing) != 1 || missing[0].MessageID != withoutEmbedding.MessageID {
		t.Errorf("unexpected missing set: %+v", missing)
	}
}

func TestListChannels(t *testing.T) {
	s := newTestStore(t)

	for _, ch := range []snowflake.ID{snowflake.ID(11), snowflake.ID(22)} {
		if err := s.CreateChannelTables(ch); err != nil {
			t.Fatalf("CreateChannelTables(%s): %v", ch.String(), err)
		}
	}

	channels, err := s.ListChannels()
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d: %+v", len(channels), channels)
	}

	seen := map[snowflake.ID]bool{}
	for _, c := range channels {
		seen[c] = true
	}
	if !seen[snowflake.ID(11)] || !seen[snowflake.ID(22)] {
		t.Errorf("unexpected channel set: %+v", channels)
	}
}

func TestRegistryGetIsCached(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	t.Cleanup(reg.CloseAll)

	a, err := reg.Get(snowflake.ID(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := reg.Get(snowflake.ID(1))
	if err != nil {
		t.Fatalf("Get (again): %v", err)
	}
	if a != b {
		t.Error("expected same *Store instance for repeated Get of same server")
	}
}
