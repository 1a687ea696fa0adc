package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cronkit50/apate/internal/archiver"
	"github.com/cronkit50/apate/internal/embedclient"
	"github.com/cronkit50/apate/internal/gateway"
	"github.com/cronkit50/apate/internal/llmqueue"
	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
	"github.com/cronkit50/apate/internal/store"
)

func TestStartsWithYes(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"yes, let's go", true},
		{"Yes.", true},
		{"YES", true},
		{"yesterday was nice", false},
		{"no thanks", false},
		{"  yes indeed", true},
		{"", false},
	}
	for _, tc := range cases {
		if got := startsWithYes(tc.text); got != tc.want {
			t.Errorf("startsWithYes(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

// Telegram message ids are a small per-chat sequence counter, not a
// Discord-style snowflake with an embedded timestamp, so
// TimestampHumanReadable must be derived from the event's own captured
// wall-clock time, not from MessageID.
func TestToMessageRecordDerivesTimestampFromEventTime(t *testing.T) {
	event := gateway.MessageEvent{
		ServerID:        snowflake.ID(1),
		ChannelID:       snowflake.ID(2),
		MessageID:       snowflake.ID(7), // small Telegram-style sequence id
		AuthorID:        snowflake.ID(3),
		Content:         "hi",
		TimestampUnixMs: 1735689600000, // 2025-01-01 00:00:00 UTC
	}

	msg := toMessageRecord(event)

	want := time.UnixMilli(event.TimestampUnixMs).UTC().Format(humanReadableLayout)
	if msg.TimestampHumanReadable != want {
		t.Errorf("TimestampHumanReadable = %q, want %q", msg.TimestampHumanReadable, want)
	}
	if bogus := event.MessageID.HumanReadable(); msg.TimestampHumanReadable == bogus {
		t.Errorf("TimestampHumanReadable must not equal the small MessageID's bogus decoded timestamp %q", bogus)
	}
}

func TestPartitionFlushesPeerBufferOnAgentMessage(t *testing.T) {
	self := snowflake.ID(99)
	peer := snowflake.ID(1)

	messages := []model.MessageRecord{
		{AuthorID: peer, AuthorGlobalName: "alice", Content: "hi"},
		{AuthorID: peer, AuthorGlobalName: "alice", Content: "you there?"},
		{AuthorID: self, AuthorGlobalName: "bot", Content: "yes, hello"},
		{AuthorID: peer, AuthorGlobalName: "alice", Content: "great"},
	}

	history, pending := partition(messages, self)

	if len(history) != 2 {
		t.Fatalf("expected 2 history turns, got %d: %+v", len(history), history)
	}
	if history[0].Role != llmqueue.RoleUser || !strings.Contains(history[0].Content, "hi") {
		t.Errorf("unexpected first history turn: %+v", history[0])
	}
	if history[1].Role != llmqueue.RoleAssistant || history[1].Content != "yes, hello" {
		t.Errorf("unexpected second history turn: %+v", history[1])
	}
	if len(pending) != 1 || pending[0].Content != "great" {
		t.Errorf("unexpected pending trailing buffer: %+v", pending)
	}
}

// fakeGateway is a minimal in-memory gateway.ChatGateway used to drive the
// agent end to end without a real chat network.
type fakeGateway struct {
	channels map[snowflake.ID]gateway.ChannelInfo
	sent     []string
	onMsg    func(gateway.MessageEvent)
	onReady  func(gateway.ReadyEvent)
}

func (g *fakeGateway) OnMessage(h func(gateway.MessageEvent)) { g.onMsg = h }
func (g *fakeGateway) OnReady(h func(gateway.ReadyEvent))     { g.onReady = h }

func (g *fakeGateway) FetchChannels(ctx context.Context, serverID snowflake.ID) (map[snowflake.ID]gateway.ChannelInfo, error) {
	return g.channels, nil
}

func (g *fakeGateway) FetchMessages(ctx context.Context, channelID, before snowflake.ID, limit int) (map[snowflake.ID]model.MessageRecord, error) {
	return map[snowflake.ID]model.MessageRecord{}, nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, channelID snowflake.ID, text string) error {
	g.sent = append(g.sent, text)
	return nil
}

// newTestAgent wires a real archiver (sqlite + fake embedding service) and a
// real llmqueue.Client against a fake LLM endpoint that answers
// prefilterAnswer to any prefilter call (system prompt contains "PREFILTER")
// and generateAnswer otherwise.
func newTestAgent(t *testing.T, prefilterAnswer, generateAnswer string) (*Agent, *fakeGateway) {
	t.Helper()

	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		vecs := make([][]float32, len(req.Texts))
		for i := range vecs {
			vecs[i] = make([]float32, model.EmbeddingDimensions)
		}
		json.NewEncoder(w).Encode(struct {
			Embedding [][]float32 `json:"embedding"`
		}{Embedding: vecs})
	}))
	t.Cleanup(embedSrv.Close)

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Instructions string `json:"instructions"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		text := generateAnswer
		if strings.Contains(req.Instructions, "PREFILTER") {
			text = prefilterAnswer
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "r1",
			"status": "completed",
			"output": []map[string]any{
				{"type": "message", "content": []map[string]any{{"text": text}}},
			},
		})
	}))
	t.Cleanup(llmSrv.Close)

	stores := store.NewRegistry(t.TempDir())
	t.Cleanup(stores.CloseAll)
	embed := embedclient.New(embedSrv.URL)
	archivers := archiver.NewRegistry(stores, embed)

	llm := llmqueue.New(llmSrv.URL, "test-key", 5*time.Second, 8)
	t.Cleanup(llm.Shutdown)

	gw := &fakeGateway{channels: map[snowflake.ID]gateway.ChannelInfo{}}

	cfg := Config{
		SelfID:          snowflake.ID(999),
		FastModel:       "fast",
		PrimaryModel:    "primary",
		PrefilterPrompt: "PREFILTER: answer yes or no",
		PersonaPrompt:   "You are the persona.",
	}
	a := New(gw, archivers, llm, cfg)
	return a, gw
}

func TestProcessRespondsWhenPrefilterSaysYes(t *testing.T) {
	a, gw := newTestAgent(t, "yes, worth responding", "hello there!")

	event := gateway.MessageEvent{
		ServerID:         snowflake.ID(1),
		ChannelID:        snowflake.ID(10),
		MessageID:        snowflake.ID(100),
		AuthorID:         snowflake.ID(1),
		AuthorGlobalName: "alice",
		Content:          "anyone around?",
	}
	a.process(event)

	if len(gw.sent) != 1 || gw.sent[0] != "hello there!" {
		t.Errorf("expected one reply %q, got %v", "hello there!", gw.sent)
	}
}

func TestProcessStaysQuietWhenPrefilterSaysNo(t *testing.T) {
	a, gw := newTestAgent(t, "no, not relevant", "hello there!")

	event := gateway.MessageEvent{
		ServerID:         snowflake.ID(1),
		ChannelID:        snowflake.ID(10),
		MessageID:        snowflake.ID(100),
		AuthorID:         snowflake.ID(1),
		AuthorGlobalName: "alice",
		Content:          "anyone around?",
	}
	a.process(event)

	if len(gw.sent) != 0 {
		t.Errorf("expected no reply, got %v", gw.sent)
	}
}

func TestProcessGuardIgnoresSelfAuthoredMessages(t *testing.T) {
	a, gw := newTestAgent(t, "yes", "should never be sent")

	event := gateway.MessageEvent{
		ServerID:  snowflake.ID(1),
		ChannelID: snowflake.ID(10),
		MessageID: snowflake.ID(100),
		AuthorID:  snowflake.ID(999), // matches cfg.SelfID
		Content:   "an agent message",
	}
	a.process(event)

	if len(gw.sent) != 0 {
		t.Errorf("expected no reply for a self-authored message, got %v", gw.sent)
	}
}
