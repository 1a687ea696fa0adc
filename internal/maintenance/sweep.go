// Package maintenance runs the low-frequency background sweep described in
// SPEC_FULL.md §4.8: retrying embeddings for messages that qualify but
// still lack one, and logging per-channel continuity-range counts. Neither
// concern exists in the original C++ implementation; this closes a gap
// spec.md §7 calls out as merely "acceptable" for backfilled messages.
// Scheduled with github.com/robfig/cron/v3, the same scheduling library the
// teacher uses in internal/cron (there wrapped in its own job-history
// machinery; here used directly, since the sweep has only the one fixed
// job and needs none of that surrounding apparatus).
package maintenance

import (
	"context"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/cronkit50/apate/internal/archiver"
	. "github.com/cronkit50/apate/internal/logging"
	"github.com/cronkit50/apate/internal/snowflake"
	"github.com/cronkit50/apate/internal/store"
)

// sweepTimeout bounds one full sweep pass across every known server and
// channel, generous enough to cover many channels' worth of 120s embedding
// batches without running forever if an endpoint is down.
const sweepTimeout = 10 * time.Minute

// Sweeper periodically retries missing embeddings and logs continuity
// health across every known server and channel.
type Sweeper struct {
	stores    *store.Registry
	archivers *archiver.Registry
	cron      *cronlib.Cron
}

// New wires a Sweeper over the given registries. Call Start to schedule it.
func New(stores *store.Registry, archivers *archiver.Registry) *Sweeper {
	return &Sweeper{
		stores:    stores,
		archivers: archivers,
		cron:      cronlib.New(),
	}
}

// Start schedules the sweep to run on spec (standard 5-field cron syntax)
// and begins the scheduler's own goroutine.
func (s *Sweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return fmt.Errorf("maintenance: invalid schedule %q: %w", spec, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-progress sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runOnce performs a single sweep pass across every server this process
// knows about.
func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	servers, err := s.stores.DiscoverServers()
	if err != nil {
		L_error("maintenance: discovering servers failed", "error", err)
		return
	}

	for _, serverID := range servers {
		s.sweepServer(ctx, serverID)
	}
}

func (s *Sweeper) sweepServer(ctx context.Context, serverID snowflake.ID) {
	db, err := s.stores.Get(serverID)
	if err != nil {
		L_warn("maintenance: opening server store failed", "server", serverID.String(), "error", err)
		return
	}
	arch, err := s.archivers.Get(serverID)
	if err != nil {
		L_warn("maintenance: resolving archiver failed", "server", serverID.String(), "error", err)
		return
	}

	channels, err := db.ListChannels()
	if err != nil {
		L_warn("maintenance: listing channels failed", "server", serverID.String(), "error", err)
		return
	}

	for _, channelID := range channels {
		retried, err := arch.RetryMissingEmbeddings(ctx, channelID)
		if err != nil {
			L_warn("maintenance: retrying missing embeddings failed", "server", serverID.String(), "channel", channelID.String(), "error", err)
		} else if retried > 0 {
			L_info("maintenance: retried missing embeddings", "server", serverID.String(), "channel", channelID.String(), "count", retried)
		}

		count, err := arch.CountContinuous(channelID, latestKnown(db, channelID))
		if err != nil {
			L_warn("maintenance: counting continuity range failed", "server", serverID.String(), "channel", channelID.String(), "error", err)
			continue
		}
		L_info("maintenance: continuity status", "server", serverID.String(), "channel", channelID.String(), "continuousCount", count)
	}
}

// latestKnown returns the most recent message id stored for channelID, used
// as the "since" anchor for the observational continuity-count log. A zero
// id (empty channel) makes CountContinuous report zero, which is correct.
func latestKnown(db *store.Store, channelID snowflake.ID) snowflake.ID {
	recent, err := db.FetchLatestByChannel(channelID, 1)
	if err != nil || len(recent) == 0 {
		return snowflake.Zero
	}
	return recent[0].MessageID
}
