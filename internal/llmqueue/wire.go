package llmqueue

import (
	"encoding/json"

	. "github.com/cronkit50/apate/internal/logging"
)

// Wire types for the LLM endpoint's Responses-API-shaped JSON, grounded on
// the teacher's internal/llm/oai_next_protocol.go request/output item
// shapes, adapted from that file's streaming WebSocket envelope to a single
// POST request/response pair per this system's contract.

// wireRequest is the JSON body POSTed to the LLM endpoint.
type wireRequest struct {
	Model        string      `json:"model"`
	Instructions string      `json:"instructions,omitempty"`
	Input        []wireInput `json:"input"`
}

// wireInput is one entry of the input array: a single-role message turn.
type wireInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireResponse is the parsed JSON body returned by the LLM endpoint.
type wireResponse struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	CreatedAt json.Number       `json:"created_at,omitempty"`
	Error     *wireError        `json:"error,omitempty"`
	Output    []wireOutputBlock `json:"output"`
}

type wireError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// wireOutputBlock is one entry of the output array. Type discriminates which
// of Content/Summary is populated.
type wireOutputBlock struct {
	Type    string              `json:"type"`
	ID      string              `json:"id,omitempty"`
	Content []wireContentEntry  `json:"content,omitempty"`
	Summary *wireSummary        `json:"summary,omitempty"`
}

type wireContentEntry struct {
	Text    string `json:"text,omitempty"`
	Refusal string `json:"refusal,omitempty"`
}

type wireSummary struct {
	Text string `json:"text,omitempty"`
}

// buildWireRequest assembles the outgoing JSON body: history turns followed
// by the new user request, per spec's "{...history..., {role: user, content:
// request}}" input shape.
func buildWireRequest(req Request) wireRequest {
	input := make([]wireInput, 0, len(req.History)+1)
	for _, h := range req.History {
		input = append(input, wireInput{Role: string(h.Role), Content: h.Content})
	}
	input = append(input, wireInput{Role: string(RoleUser), Content: req.UserRequest})

	return wireRequest{
		Model:        req.Model,
		Instructions: req.SystemPrompt,
		Input:        input,
	}
}

// parseWireResponse converts a decoded wireResponse into the client-facing
// Response. Never returns an error: a block it doesn't recognise is logged
// here at debug level and skipped, per the "parse failure never panics"
// contract.
func parseWireResponse(w wireResponse, httpCode int) Response {
	resp := Response{
		HTTPCode:   httpCode,
		ID:         w.ID,
		Status:     w.Status,
		ResponseOK: w.Status == "completed" && w.Error == nil,
	}
	if w.Error != nil {
		resp.FailureReason = w.Error.Reason
		if resp.FailureReason == "" {
			resp.FailureReason = w.Error.Code
		}
	}

	for _, block := range w.Output {
		switch OutputKind(block.Type) {
		case OutputMessage:
			out := Output{Type: OutputMessage, ID: block.ID}
			if len(block.Content) > 0 {
				first := block.Content[0]
				if first.Refusal != "" {
					out.Refused = true
					out.Text = first.Refusal
				} else {
					out.Text = first.Text
				}
			}
			resp.Outputs = append(resp.Outputs, out)
		case OutputReasoning:
			out := Output{Type: OutputReasoning, ID: block.ID}
			if block.Summary != nil {
				out.Text = block.Summary.Text
			}
			resp.Outputs = append(resp.Outputs, out)
		case OutputFileSearchCall, OutputFunctionCall, OutputWebSearchCall:
			// Recognised but not materialised: the agent has no use for
			// tool-call output today.
		default:
			L_debug("llmqueue: unrecognised output block type, skipping", "type", block.Type)
		}
	}

	return resp
}
