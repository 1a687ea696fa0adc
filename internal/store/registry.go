package store

import (
	"os"
	"sync"

	. "github.com/cronkit50/apate/internal/logging"
	"github.com/cronkit50/apate/internal/snowflake"
)

// Registry lazily opens and caches one *Store per server, generalizing the
// original serverPersistence::GetDbHandle() single-handle cache to the
// multi-guild case (the original process only ever ran against one server
// at a time).
type Registry struct {
	baseDir string

	mu       sync.Mutex
	byServer map[snowflake.ID]*Store
}

// NewRegistry creates a registry rooted at baseDir; per-server subdirectories
// are created on first use.
func NewRegistry(baseDir string) *Registry {
	return &Registry{
		baseDir:  baseDir,
		byServer: make(map[snowflake.ID]*Store),
	}
}

// Get returns the Store for serverID, opening it on first access.
func (r *Registry) Get(serverID snowflake.ID) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byServer[serverID]; ok {
		return s, nil
	}

	s, err := Open(r.baseDir, serverID)
	if err != nil {
		return nil, err
	}
	r.byServer[serverID] = s
	return s, nil
}

// DiscoverServers lists every server id with a persistence directory under
// baseDir, whether or not that server's Store has been opened this process
// lifetime. Used by the maintenance sweep, which needs to visit every known
// server even before any live traffic has touched its Registry entry.
func (r *Registry) DiscoverServers() ([]snowflake.ID, error) {
	entries, err := os.ReadDir(r.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []snowflake.ID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := snowflake.Parse(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CloseAll closes every opened Store. Intended for graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for serverID, s := range r.byServer {
		if err := s.Close(); err != nil {
			L_warn("store: error closing database", "server", serverID.String(), "error", err)
		}
	}
	r.byServer = make(map[snowflake.ID]*Store)
}
