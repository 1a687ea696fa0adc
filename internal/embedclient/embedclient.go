// Package embedclient talks to the sentence-embedding HTTP service. Grounded
// on the original TransformSentence(s) functions in embed.cpp, which POSTed
// a JSON { "texts": [...] } body and parsed back { "embedding": [[float...]] }
// over libcurl; this is the same request/response shape over net/http.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cronkit50/apate/internal/apateerr"
	. "github.com/cronkit50/apate/internal/logging"
)

// Client posts sentences to an embedding service and returns their vectors.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a Client against the embedding service at endpoint, e.g.
// "http://127.0.0.1:8008".
func New(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embedding [][]float32 `json:"embedding"`
}

// TransformSentences embeds each string in texts, preserving order: result[i]
// is the embedding of texts[i]. Returns an *apateerr.ProtocolError if the
// service's response array length doesn't match the request, and an
// *apateerr.TransportError on any HTTP/network failure.
func (c *Client) TransformSentences(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, &apateerr.ProtocolError{Endpoint: c.endpoint, Err: err}
	}

	url := c.endpoint + "/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &apateerr.TransportError{Endpoint: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		L_warn("embedclient: request failed", "endpoint", url, "error", err)
		return nil, &apateerr.TransportError{Endpoint: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &apateerr.TransportError{Endpoint: url, HTTPCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &apateerr.ProtocolError{Endpoint: url, Err: err}
	}

	if len(parsed.Embedding) != len(texts) {
		return nil, &apateerr.ProtocolError{Endpoint: url, Err: fmt.Errorf(
			"embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(parsed.Embedding))}
	}

	L_debug("embedclient: transformed sentences", "count", len(texts), "elapsed", time.Since(start))
	return parsed.Embedding, nil
}

// TransformSentence embeds a single string, a convenience wrapper over
// TransformSentences.
func (c *Client) TransformSentence(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.TransformSentences(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}
