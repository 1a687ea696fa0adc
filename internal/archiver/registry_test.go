package archiver

import (
	"testing"

	"github.com/cronkit50/apate/internal/embedclient"
	"github.com/cronkit50/apate/internal/snowflake"
	"github.com/cronkit50/apate/internal/store"
)

func TestRegistryGetIsCachedPerServer(t *testing.T) {
	stores := store.NewRegistry(t.TempDir())
	t.Cleanup(stores.CloseAll)

	embed := embedclient.New("http://127.0.0.1:1")
	reg := NewRegistry(stores, embed)

	a1, err := reg.Get(snowflake.ID(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	a2, err := reg.Get(snowflake.ID(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a1 != a2 {
		t.Error("expected the same Archiver instance on repeated Get for the same server")
	}

	a3, err := reg.Get(snowflake.ID(2))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a3 == a1 {
		t.Error("expected a distinct Archiver instance for a different server")
	}
}
