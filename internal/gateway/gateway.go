// Package gateway defines the abstract chat-network boundary. The rest of
// the tree (archiver, continuity tracker, agent) talks only to this
// interface; no package outside gateway's concrete adapters knows that a
// particular wire protocol exists.
package gateway

import (
	"context"

	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
)

// ChannelKind discriminates the channels a server exposes. Only Text
// channels are archived; voice/category/forum-style channels are surfaced
// so callers can filter them out but are never recorded.
type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelOther ChannelKind = "other"
)

// ChannelInfo describes one channel as reported by FetchChannels.
type ChannelInfo struct {
	ID   snowflake.ID
	Name string
	Kind ChannelKind
}

// MessageEvent is a single inbound chat message, normalised out of whatever
// wire shape the concrete adapter speaks.
type MessageEvent struct {
	ServerID        snowflake.ID
	ChannelID       snowflake.ID
	MessageID       snowflake.ID
	AuthorID        snowflake.ID
	AuthorUserName  string
	AuthorGlobalName string
	Content         string
	TimestampUnixMs int64
}

// ReadyEvent fires once per adapter at startup, after the underlying
// connection is established and the set of joined servers is known.
type ReadyEvent struct {
	ServerIDs []snowflake.ID
}

// ChatGateway is the abstract surface every chat-network adapter
// implements. Handlers registered via OnMessage/OnReady are invoked from
// whatever goroutine the adapter's own event loop runs on; callers that
// need to touch shared state from inside a handler are responsible for
// their own synchronisation.
type ChatGateway interface {
	// OnMessage registers handler to be called for every inbound message.
	// Only one handler is expected; registering a second replaces the first.
	OnMessage(handler func(MessageEvent))

	// OnReady registers handler to be called once the gateway has finished
	// connecting and knows which servers it belongs to.
	OnReady(handler func(ReadyEvent))

	// FetchChannels lists the channels visible in serverID.
	FetchChannels(ctx context.Context, serverID snowflake.ID) (map[snowflake.ID]ChannelInfo, error)

	// FetchMessages retrieves up to limit messages from channelID older than
	// before (or the most recent limit messages if before is Zero). Adapters
	// whose underlying network cannot serve history return an empty map
	// rather than an error — callers treat "no history available" as a
	// normal, expected outcome.
	FetchMessages(ctx context.Context, channelID snowflake.ID, before snowflake.ID, limit int) (map[snowflake.ID]model.MessageRecord, error)

	// SendMessage posts text to channelID.
	SendMessage(ctx context.Context, channelID snowflake.ID, text string) error
}
