// Package llmqueue is the single-worker FIFO dispatcher that serialises
// every LLM call. Grounded on the original chatGPT class in chatgpt.hpp/.cpp
// (std::queue + std::condition_variable + std::promise/future driving one
// dispatch thread); this reimplements the same queue-plus-one-worker shape
// with a Go channel standing in for the condition-variable-guarded queue and
// a result channel standing in for std::promise.
package llmqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	. "github.com/cronkit50/apate/internal/logging"
)

// Future resolves to a Response exactly once, whether the call succeeds,
// fails in transit, or is drained unresolved by shutdown.
type Future struct {
	ch chan Response
}

// Wait blocks until the future resolves.
func (f *Future) Wait() Response { return <-f.ch }

// WaitContext blocks until the future resolves or ctx is done, whichever
// comes first. On context cancellation it returns a synthetic
// ResponseOK=false result without consuming the eventual real resolution.
func (f *Future) WaitContext(ctx context.Context) Response {
	select {
	case r := <-f.ch:
		return r
	case <-ctx.Done():
		return Response{ResponseOK: false, FailureReason: ctx.Err().Error()}
	}
}

type dispatchItem struct {
	req Request
	fut *Future
}

// Client is a single-worker FIFO LLM dispatcher.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration

	queue chan dispatchItem
	stop  chan struct{}

	shutdownOnce sync.Once
	doneCh       chan struct{}
}

// New starts a Client's worker goroutine against endpoint, authenticating
// with apiKey via a Bearer token. queueDepth bounds how many submitted
// requests may sit waiting before Submit blocks.
func New(endpoint, apiKey string, timeout time.Duration, queueDepth int) *Client {
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    timeout,
		queue:      make(chan dispatchItem, queueDepth),
		stop:       make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Submit enqueues req and returns a Future that resolves once the worker has
// processed it (or the client has shut down).
func (c *Client) Submit(req Request) *Future {
	fut := &Future{ch: make(chan Response, 1)}

	// Checked first on its own: once stop is closed the worker no longer
	// reads the queue, and a select with room in the queue could otherwise
	// pick the enqueue case and leave the future unresolved.
	select {
	case <-c.stop:
		fut.ch <- Response{ResponseOK: false, HTTPCode: 0, FailureReason: "llmqueue: client is shut down"}
		return fut
	default:
	}

	select {
	case c.queue <- dispatchItem{req: req, fut: fut}:
	case <-c.stop:
		fut.ch <- Response{ResponseOK: false, HTTPCode: 0, FailureReason: "llmqueue: client is shut down"}
	}
	return fut
}

// Shutdown stops accepting new work and drains every already-queued request,
// resolving each with a failure response. Blocks until the worker has
// exited. Safe to call more than once.
func (c *Client) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.stop)
	})
	<-c.doneCh
}

func (c *Client) run() {
	defer close(c.doneCh)

	for {
		select {
		case item := <-c.queue:
			item.fut.ch <- c.dispatch(item.req)

		case <-c.stop:
			c.drain()
			return
		}
	}
}

// drain resolves every request left sitting in the queue at shutdown time
// with a transport-error result, never leaving a future unresolved.
func (c *Client) drain() {
	for {
		select {
		case item := <-c.queue:
			L_warn("llmqueue: dropping queued request on shutdown")
			item.fut.ch <- Response{
				ResponseOK:    false,
				HTTPCode:      0,
				FailureReason: "llmqueue: shutting down",
			}
		default:
			return
		}
	}
}

func (c *Client) dispatch(req Request) Response {
	// correlationID ties this dispatch's log lines together without
	// depending on the model/wire id, which doesn't exist until the
	// response comes back (or never does, on transport failure).
	correlationID := uuid.New().String()

	wireReq := buildWireRequest(req)

	body, err := json.Marshal(wireReq)
	if err != nil {
		L_warn("llmqueue: failed to marshal request", "correlationID", correlationID, "error", err)
		return Response{ResponseOK: false, FailureReason: err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{ResponseOK: false, FailureReason: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	L_debug("llmqueue: dispatching request", "correlationID", correlationID, "model", req.Model)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		L_warn("llmqueue: request failed", "correlationID", correlationID, "endpoint", c.endpoint, "error", err)
		return Response{ResponseOK: false, HTTPCode: 0, FailureReason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		L_warn("llmqueue: unexpected status", "correlationID", correlationID, "status", resp.StatusCode)
		return Response{
			ResponseOK:    false,
			HTTPCode:      resp.StatusCode,
			FailureReason: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	var parsed wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		L_warn("llmqueue: failed to parse response", "correlationID", correlationID, "error", err)
		return Response{ResponseOK: false, HTTPCode: resp.StatusCode, FailureReason: "malformed response body"}
	}

	return parseWireResponse(parsed, resp.StatusCode)
}
