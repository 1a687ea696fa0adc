package archiver

import (
	"sync"

	"github.com/cronkit50/apate/internal/continuity"
	"github.com/cronkit50/apate/internal/embedclient"
	"github.com/cronkit50/apate/internal/semanticindex"
	"github.com/cronkit50/apate/internal/snowflake"
	"github.com/cronkit50/apate/internal/store"
)

// Registry lazily builds one Archiver per server, each with its own
// persistence store, continuity tracker, and semantic index — embeddings
// are persisted per server, so the index backing a server's channels must
// draw from that same server's store — while sharing one embedding-service
// client across all of them.
type Registry struct {
	stores *store.Registry
	embed  *embedclient.Client

	mu       sync.Mutex
	byServer map[snowflake.ID]*Archiver
}

// NewRegistry wraps an existing store.Registry with archiver construction.
func NewRegistry(stores *store.Registry, embed *embedclient.Client) *Registry {
	return &Registry{
		stores:   stores,
		embed:    embed,
		byServer: make(map[snowflake.ID]*Archiver),
	}
}

// Get returns the Archiver for serverID, constructing it (and opening its
// persistence store) on first access.
func (r *Registry) Get(serverID snowflake.ID) (*Archiver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.byServer[serverID]; ok {
		return a, nil
	}

	db, err := r.stores.Get(serverID)
	if err != nil {
		return nil, err
	}

	a := New(db, continuity.New(db), semanticindex.New(db), r.embed)
	r.byServer[serverID] = a
	return a, nil
}
