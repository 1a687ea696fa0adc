package agent

import (
	"context"
	"time"

	"github.com/cronkit50/apate/internal/gateway"
	. "github.com/cronkit50/apate/internal/logging"
	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
)

// gatewayFetchTimeout bounds each channel-list and message-page fetch
// during startup backfill, per spec.md §4.7/§5's "10s for gateway fetches".
const gatewayFetchTimeout = 10 * time.Second

// maxPageRetries bounds how many fetch attempts a single page gets (the
// first try included; any fetch error counts, not only a timeout) before
// that channel's backfill gives up and moves on. spec.md says only
// "on timeout, retry the page" without bounding the attempt count; an
// unbounded retry would let one unreachable gateway wedge backfill forever,
// so this caps it (see DESIGN.md).
const maxPageRetries = 3

// Start registers startup backfill against gw's OnReady event: for every
// server reported ready, every text channel is paged backward and recorded
// through the archiver until LongTermCtx messages are contiguous or history
// is exhausted. Each channel backfills on its own goroutine, tracked so
// Shutdown can join them.
func (a *Agent) Start() {
	a.gw.OnReady(func(ready gateway.ReadyEvent) {
		for _, serverID := range ready.ServerIDs {
			a.backfillServer(serverID)
		}
	})
}

// Shutdown cancels any in-flight backfill I/O and waits up to timeout for
// every backfill worker to return.
func (a *Agent) Shutdown(timeout time.Duration) {
	a.cancelBackfill()

	done := make(chan struct{})
	go func() {
		a.backfillWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		L_warn("agent: backfill workers did not finish within shutdown timeout")
	}
}

func (a *Agent) backfillServer(serverID snowflake.ID) {
	ctx, cancel := context.WithTimeout(a.backfillCtx, gatewayFetchTimeout)
	channels, err := a.gw.FetchChannels(ctx, serverID)
	cancel()
	if err != nil {
		L_error("agent: fetching channel list failed, skipping backfill", "server", serverID.String(), "error", err)
		return
	}

	arch, err := a.archivers.Get(serverID)
	if err != nil {
		L_error("agent: resolving archiver for backfill failed", "server", serverID.String(), "error", err)
		return
	}

	for _, ch := range channels {
		if ch.Kind != gateway.ChannelText {
			continue
		}
		a.backfillWG.Add(1)
		go func(channelID snowflake.ID) {
			defer a.backfillWG.Done()
			a.backfillChannel(serverID, channelID, arch)
		}(ch.ID)
	}
}

// backfillArchiver is the narrow slice of *archiver.Archiver backfillChannel
// needs, kept as an interface purely so archiver_test-style fakes aren't
// required to implement the whole Archiver surface.
type backfillArchiver interface {
	RecordBatch(ctx context.Context, channelID snowflake.ID, msgs []model.MessageRecord) error
	CountContinuous(channelID, since snowflake.ID) (int, error)
}

func (a *Agent) backfillChannel(serverID, channelID snowflake.ID, arch backfillArchiver) {
	before := snowflake.Zero
	batchSize := a.cfg.OnStartBatch
	var anchor snowflake.ID

	for {
		page, err := a.fetchPageWithRetry(channelID, before, batchSize)
		if err != nil {
			L_warn("agent: giving up on backfill page", "channel", channelID.String(), "error", err)
			return
		}
		if len(page) == 0 {
			return
		}

		records := make([]model.MessageRecord, 0, len(page))
		oldest := snowflake.ID(^uint64(0))
		for id, rec := range page {
			records = append(records, rec)
			if id < oldest {
				oldest = id
			}
			anchor = snowflake.Max(anchor, id)
		}

		if err := arch.RecordBatch(a.backfillCtx, channelID, records); err != nil {
			L_warn("agent: recording backfill page failed", "channel", channelID.String(), "error", err)
			return
		}

		count, err := arch.CountContinuous(channelID, anchor)
		if err != nil {
			L_warn("agent: counting continuous backfill progress failed", "channel", channelID.String(), "error", err)
			return
		}
		if count >= a.cfg.LongTermCtx || len(page) < batchSize {
			return
		}

		before = oldest
		batchSize = a.cfg.ContinuousBatch

		select {
		case <-a.backfillCtx.Done():
			return
		default:
		}
	}
}

func (a *Agent) fetchPageWithRetry(channelID, before snowflake.ID, limit int) (map[snowflake.ID]model.MessageRecord, error) {
	var lastErr error
	for attempt := 0; attempt < maxPageRetries; attempt++ {
		ctx, cancel := context.WithTimeout(a.backfillCtx, gatewayFetchTimeout)
		page, err := a.gw.FetchMessages(ctx, channelID, before, limit)
		cancel()
		if err == nil {
			return page, nil
		}
		lastErr = err
		L_warn("agent: backfill page fetch failed, retrying", "channel", channelID.String(), "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}
