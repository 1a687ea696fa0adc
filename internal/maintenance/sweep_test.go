package maintenance

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cronkit50/apate/internal/archiver"
	"github.com/cronkit50/apate/internal/embedclient"
	"github.com/cronkit50/apate/internal/model"
	"github.com/cronkit50/apate/internal/snowflake"
	"github.com/cronkit50/apate/internal/store"
)

func TestRunOnceRetriesMissingEmbeddings(t *testing.T) {
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
	defer embedSrv.Close()

	stores := store.NewRegistry(t.TempDir())
	defer stores.CloseAll()
	archivers := archiver.NewRegistry(stores, embedclient.New(embedSrv.URL))

	serverID := snowflake.ID(1)
	channelID := snowflake.ID(10)

	db, err := stores.Get(serverID)
	if err != nil {
		t.Fatalf("stores.Get: %v", err)
	}
	if err := db.InsertMessage(model.MessageRecord{
		ChannelID: channelID,
		MessageID: snowflake.ID(1),
		Content:   "a message nobody ever embedded",
	}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	sweeper := New(stores, archivers)
	sweeper.runOnce()

	has, err := db.HasEmbedding(channelID, snowflake.ID(1))
	if err != nil {
		t.Fatalf("HasEmbedding: %v", err)
	}
	if !has {
		t.Error("expected sweep to have embedded the message")
	}
}
