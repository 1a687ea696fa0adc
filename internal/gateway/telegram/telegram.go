// Package telegram adapts gopkg.in/telebot.v4 to the gateway.ChatGateway
// interface, grounded on the teacher's own Telegram channel
// (internal/channels/telegram/bot.go): same tele.Settings/LongPoller setup,
// same bot.Handle(tele.OnText, ...) registration, same send-with-HTML,
// fall-back-to-plain-text-on-error pattern for outbound messages. Telegram
// groups/supergroups are treated as the spec's "channels"; Telegram has no
// channel-kind enumeration of its own, so every group this bot is a member
// of is reported as ChannelText.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/cronkit50/apate/internal/gateway"
	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"

	. "github.com/cronkit50/apate/internal/logging"
)

// maxMessageLen is Telegram's hard per-message character cap. Outbound text
// longer than this is split on line boundaries, mirroring the teacher's own
// splitMessage helper.
const maxMessageLen = 4096

// Gateway is a gateway.ChatGateway backed by a single Telegram bot.
type Gateway struct {
	bot *tele.Bot

	onMessage func(gateway.MessageEvent)
	onReady   func(gateway.ReadyEvent)
}

// New constructs a Gateway authenticated with token. It does not start
// polling until Start is called.
func New(token string) (*Gateway, error) {
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	bot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("telegram: creating bot: %w", err)
	}

	g := &Gateway{bot: bot}
	bot.Handle(tele.OnText, g.handleText)
	return g, nil
}

// Start begins long-polling in a background goroutine and fires the
// registered OnReady handler, if any, once polling has started. Telegram's
// Bot API exposes no explicit "connection established" event distinct from
// the bot's own identity, so readiness here just means "about to start
// receiving updates".
func (g *Gateway) Start() {
	go g.bot.Start()
	if g.onReady != nil {
		g.onReady(gateway.ReadyEvent{})
	}
}

// Stop gracefully halts polling.
func (g *Gateway) Stop() {
	g.bot.Stop()
}

func (g *Gateway) OnMessage(handler func(gateway.MessageEvent)) { g.onMessage = handler }
func (g *Gateway) OnReady(handler func(gateway.ReadyEvent))     { g.onReady = handler }

func (g *Gateway) handleText(c tele.Context) error {
	if g.onMessage == nil {
		return nil
	}

	msg := c.Message()
	sender := c.Sender()

	event := gateway.MessageEvent{
		ServerID:        chatID(c.Chat().ID),
		ChannelID:       chatID(c.Chat().ID),
		MessageID:       messageID(msg.ID),
		Content:         msg.Text,
		TimestampUnixMs: msg.Unixtime * 1000,
	}
	if sender != nil {
		event.AuthorID = snowflake.ID(uint64(sender.ID))
		event.AuthorUserName = sender.Username
		event.AuthorGlobalName = strings.TrimSpace(sender.FirstName + " " + sender.LastName)
	}

	g.onMessage(event)
	return nil
}

// FetchChannels reports the chat whose id is serverID as a single text
// channel, looked up with ChatByID. Telegram's Bot API has no "list every
// group I'm a member of" call, so no other chats are listed; if the lookup
// fails, the failure is logged and an empty result is returned.
func (g *Gateway) FetchChannels(ctx context.Context, serverID snowflake.ID) (map[snowflake.ID]gateway.ChannelInfo, error) {
	chat, err := g.bot.ChatByID(int64(serverID))
	if err != nil {
		L_warn("telegram: ChatByID failed", "chat", serverID, "error", err)
		return map[snowflake.ID]gateway.ChannelInfo{}, nil
	}
	return map[snowflake.ID]gateway.ChannelInfo{
		serverID: {ID: serverID, Name: chat.Title, Kind: gateway.ChannelText},
	}, nil
}

// FetchMessages always returns an empty result. Telegram's Bot API has no
// endpoint for retrieving message history; a bot only ever observes
// messages sent while it is actively running. Startup backfill against a
// Telegram channel is therefore a documented no-op, not a bug: the
// continuity tracker simply has nothing to backfill until live traffic
// accumulates.
func (g *Gateway) FetchMessages(ctx context.Context, channelID snowflake.ID, before snowflake.ID, limit int) (map[snowflake.ID]model.MessageRecord, error) {
	return map[snowflake.ID]model.MessageRecord{}, nil
}

// SendMessage posts text to channelID, splitting on maxMessageLen and
// falling back to an unformatted send if HTML parsing of the message fails
// — the same degrade-gracefully behaviour the teacher's bot uses.
func (g *Gateway) SendMessage(ctx context.Context, channelID snowflake.ID, text string) error {
	chat := &tele.Chat{ID: int64(channelID)}

	for _, chunk := range splitMessage(text, maxMessageLen) {
		_, err := g.bot.Send(chat, chunk, &tele.SendOptions{ParseMode: tele.ModeHTML})
		if err != nil {
			L_warn("telegram: HTML send failed, retrying as plain text", "chat", channelID, "error", err)
			if _, err2 := g.bot.Send(chat, chunk); err2 != nil {
				return fmt.Errorf("telegram: sending message: %w", err2)
			}
		}
	}
	return nil
}

func chatID(id int64) snowflake.ID  { return snowflake.ID(uint64(id)) }
func messageID(id int) snowflake.ID { return snowflake.ID(uint64(id)) }

// splitMessage breaks text into chunks no longer than limit, preferring to
// break on a newline boundary so a single long message doesn't get cut
// mid-sentence any more than necessary.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		if idx := lastNewline(text[:limit]); idx > 0 {
			cut = idx
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i + 1
		}
	}
	return -1
}

