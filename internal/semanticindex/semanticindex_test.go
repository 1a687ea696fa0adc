package semanticindex

import (
	"testing"

	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
)

type fakeSource struct {
	records map[snowflake.ID][]model.EmbeddingRecord
}

func (f *fakeSource) FetchAllEmbeddings(channelID snowflake.ID) ([]model.EmbeddingRecord, error) {
	return f.records[channelID], nil
}

func vec(lead float32) []float32 {
	v := make([]float32, model.EmbeddingDimensions)
	v[0] = lead
	return v
}

func TestSearchBuildsOnFirstUse(t *testing.T) {
	channel := snowflake.ID(1)
	src := &fakeSource{records: map[snowflake.ID][]model.EmbeddingRecord{
		channel: {
			{ChannelID: channel, MessageID: snowflake.ID(10), Vector: vec(1.0)},
			{ChannelID: channel, MessageID: snowflake.ID(11), Vector: vec(2.0)},
		},
	}}

	idx := New(src)
	matches, err := idx.Search(channel, vec(1.0), 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestSearchZeroKReturnsNil(t *testing.T) {
	idx := New(&fakeSource{})
	matches, err := idx.Search(snowflake.ID(1), vec(0), 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches != nil {
		t.Errorf("expected nil matches for k=0, got %v", matches)
	}
}

func TestInsertWithoutBuiltIndexIsNoop(t *testing.T) {
	idx := New(&fakeSource{})
	if err := idx.Insert(snowflake.ID(5), snowflake.ID(99), vec(1.0)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}
