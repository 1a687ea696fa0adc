// Package agent implements ConversationAgent: the per-message decision
// pipeline that turns an observed chat event into, at most, one generated
// reply. Grounded on the original discordBot::HandleMessageEvent glue
// (original_source/src/discord/discordbot.cpp) generalized to the richer
// record/guard/prefilter/decide/retrieve/generate/send pipeline spec.md
// §4.7 describes, and on the teacher's one-goroutine-per-event handler
// pattern in internal/channels/telegram/bot.go.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cronkit50/apate/internal/archiver"
	"github.com/cronkit50/apate/internal/gateway"
	"github.com/cronkit50/apate/internal/llmqueue"
	. "github.com/cronkit50/apate/internal/logging"
	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
)

// Agent is one persona's ConversationAgent: it watches a ChatGateway,
// archives every message it sees, and decides whether to generate a reply.
type Agent struct {
	gw        gateway.ChatGateway
	archivers *archiver.Registry
	llm       *llmqueue.Client
	cfg       Config

	// backfillCtx/cancel bound every startup backfill worker; Shutdown
	// cancels it and joins backfillWG with a timeout, per the spec.md §9
	// redesign note that supersedes the original's detach-and-forget.
	backfillCtx    context.Context
	cancelBackfill context.CancelFunc
	backfillWG     sync.WaitGroup
}

// New wires a ConversationAgent over gw, archivers, and llm. gw's OnMessage
// handler is registered immediately; each event is handled on its own
// goroutine per spec.md §4.7 ("tasks are independent and may run
// concurrently"). Call Start to also register startup backfill against
// gw's OnReady event.
func New(gw gateway.ChatGateway, archivers *archiver.Registry, llm *llmqueue.Client, cfg Config) *Agent {
	backfillCtx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		gw:             gw,
		archivers:      archivers,
		llm:            llm,
		cfg:            cfg.withDefaults(),
		backfillCtx:    backfillCtx,
		cancelBackfill: cancel,
	}
	gw.OnMessage(a.handle)
	return a
}

// handle runs the full state machine for one incoming message event,
// launched on its own goroutine so a slow LLM round-trip for one message
// never blocks the gateway's delivery of the next.
func (a *Agent) handle(event gateway.MessageEvent) {
	go a.process(event)
}

func (a *Agent) process(event gateway.MessageEvent) {
	ctx := context.Background()
	msg := toMessageRecord(event)

	arch, err := a.archivers.Get(event.ServerID)
	if err != nil {
		L_error("agent: resolving archiver failed, dropping event", "server", event.ServerID.String(), "error", err)
		return
	}

	// 1. Record.
	if err := arch.RecordLive(ctx, msg); err != nil {
		L_error("agent: recording live message failed, aborting", "channel", event.ChannelID.String(), "message", event.MessageID.String(), "error", err)
		return
	}

	// 2. Guard.
	if event.AuthorID == a.cfg.SelfID {
		return
	}

	// 3. Gather context.
	history, pending, err := a.gatherContext(arch, event.ChannelID, msg.MessageID)
	if err != nil {
		L_warn("agent: gathering context failed", "channel", event.ChannelID.String(), "error", err)
		return
	}
	requestText := formatLines(pending)

	// 4. Pre-filter call.
	prefilterResp := a.llm.Submit(llmqueue.Request{
		Model:        a.cfg.FastModel,
		SystemPrompt: a.cfg.PrefilterPrompt,
		History:      history,
		UserRequest:  requestText,
	}).Wait()

	// 5. Decision.
	if !shouldRespond(prefilterResp) {
		return
	}

	// 6. Retrieve relevant.
	relevant, err := arch.RetrieveRelevant(ctx, msg, a.cfg.RelCtx)
	if err != nil {
		L_warn("agent: retrieving relevant context failed, continuing without it", "channel", event.ChannelID.String(), "error", err)
	}
	augmented := requestText
	if len(relevant) > 0 {
		augmented = requestText + "\n\nRelevant earlier context:\n" + formatLines(relevant)
	}

	// 7. Generate call.
	genResp := a.llm.Submit(llmqueue.Request{
		Model:        a.cfg.PrimaryModel,
		SystemPrompt: a.cfg.PersonaPrompt,
		History:      history,
		UserRequest:  augmented,
	}).Wait()

	// 8. Send.
	a.sendOutputs(ctx, event.ChannelID, genResp)
}

// gatherContext retrieves up to PrefilterCtx of the most recent messages
// known to be contiguous with since (the message that triggered this
// event), oldest first, and partitions them into replay history plus the
// still-unanswered trailing peer messages.
func (a *Agent) gatherContext(arch *archiver.Archiver, channelID, since snowflake.ID) ([]llmqueue.HistoryTurn, []model.MessageRecord, error) {
	oldestContinuous, err := arch.OldestContinuous(channelID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("finding continuity floor: %w", err)
	}

	recent, err := arch.RetrieveRecent(channelID, a.cfg.PrefilterCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching recent messages: %w", err)
	}

	// recent is newest-first; keep only what's within the contiguous run and
	// reverse to oldest-first.
	oldestFirst := make([]model.MessageRecord, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].MessageID < oldestContinuous {
			continue
		}
		oldestFirst = append(oldestFirst, recent[i])
	}

	history, pending := partition(oldestFirst, a.cfg.SelfID)
	return history, pending, nil
}

// partition splits oldest-first messages into replay history and a
// trailing run of not-yet-responded-to peer messages. Whenever a message
// authored by selfID is encountered, any buffered peer messages are
// flushed as one "user" turn, followed by the agent's own message as an
// "assistant" turn.
func partition(messages []model.MessageRecord, selfID snowflake.ID) ([]llmqueue.HistoryTurn, []model.MessageRecord) {
	var history []llmqueue.HistoryTurn
	var peerBuf []model.MessageRecord

	flush := func() {
		if len(peerBuf) == 0 {
			return
		}
		history = append(history, llmqueue.HistoryTurn{Role: llmqueue.RoleUser, Content: formatLines(peerBuf)})
		peerBuf = nil
	}

	for _, m := range messages {
		if m.AuthorID == selfID {
			flush()
			history = append(history, llmqueue.HistoryTurn{Role: llmqueue.RoleAssistant, Content: m.Content})
			continue
		}
		peerBuf = append(peerBuf, m)
	}

	return history, peerBuf
}

// formatLines renders messages as "author: content" lines, one per line,
// the text form fed into both history turns and the augmented request.
func formatLines(messages []model.MessageRecord) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.AuthorGlobalName, m.Content))
	}
	return strings.Join(lines, "\n")
}

// shouldRespond implements the decision gate: the first non-refused message
// output whose text begins, case-insensitively, with the word "yes".
func shouldRespond(resp llmqueue.Response) bool {
	if !resp.ResponseOK {
		return false
	}
	for _, out := range resp.Outputs {
		if out.Type != llmqueue.OutputMessage || out.Refused || out.Text == "" {
			continue
		}
		return startsWithYes(out.Text)
	}
	return false
}

// startsWithYes reports whether text begins with the whole word "yes",
// case-insensitively — "Yes, I will" matches, "Yesterday" does not.
func startsWithYes(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 3 || !strings.EqualFold(trimmed[:3], "yes") {
		return false
	}
	if len(trimmed) == 3 {
		return true
	}
	next, _ := utf8.DecodeRuneInString(trimmed[3:])
	return !unicode.IsLetter(next)
}

// sendOutputs sends one outbound message per non-refused, non-empty message
// output in resp.
func (a *Agent) sendOutputs(ctx context.Context, channelID snowflake.ID, resp llmqueue.Response) {
	if !resp.ResponseOK {
		return
	}
	for _, out := range resp.Outputs {
		if out.Type != llmqueue.OutputMessage || out.Refused || out.Text == "" {
			continue
		}
		if err := a.gw.SendMessage(ctx, channelID, out.Text); err != nil {
			L_warn("agent: sending reply failed", "channel", channelID.String(), "error", err)
		}
	}
}

// humanReadableLayout matches snowflake.ID.HumanReadable's own format, so
// every stored message gets the same "YYYY-MM-DD HH:MM:SS" UTC rendering
// regardless of which gateway produced it.
const humanReadableLayout = "2006-01-02 15:04:05"

func toMessageRecord(event gateway.MessageEvent) model.MessageRecord {
	return model.MessageRecord{
		ServerID:         event.ServerID,
		ChannelID:        event.ChannelID,
		MessageID:        event.MessageID,
		AuthorID:         event.AuthorID,
		AuthorUserName:   event.AuthorUserName,
		AuthorGlobalName: event.AuthorGlobalName,
		TimestampUnixMs:  event.TimestampUnixMs,
		// event.MessageID is not a Discord-style snowflake with an embedded
		// timestamp for every gateway — Telegram's ids are a small
		// per-chat sequence counter, so snowflake.ID.Timestamp() would
		// decode to the epoch for any realistic value. The gateway's own
		// captured wall-clock time is the only reliable source.
		TimestampHumanReadable: time.UnixMilli(event.TimestampUnixMs).UTC().Format(humanReadableLayout),
		Content:                event.Content,
	}
}
