package llmqueue

// Role identifies the speaker of one history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryTurn is one prior message in the conversation replay passed to the
// LLM alongside the current request.
type HistoryTurn struct {
	Role    Role
	Content string
}

// Request is one LLM call: a model, a system prompt, replayed history (oldest
// first), and the new user request text.
type Request struct {
	Model        string
	SystemPrompt string
	History      []HistoryTurn
	UserRequest  string
}

// OutputKind discriminates Response.Outputs entries. Only "message" and
// "reasoning" are materialised into usable fields; the tool-call kinds are
// recognised but carry no payload the agent consumes.
type OutputKind string

const (
	OutputMessage        OutputKind = "message"
	OutputReasoning      OutputKind = "reasoning"
	OutputFileSearchCall OutputKind = "file_search_call"
	OutputFunctionCall   OutputKind = "function_call"
	OutputWebSearchCall  OutputKind = "web_search_call"
)

// Output is one entry of Response.Outputs.
type Output struct {
	Type    OutputKind
	ID      string
	Refused bool
	Text    string // message text, or reasoning summary for OutputReasoning
}

// Response is the fully parsed result of one LLM call. HTTPCode and
// ResponseOK are always set, even on transport/parse failure, so callers
// never need to distinguish "no response" from "empty response".
type Response struct {
	HTTPCode      int
	ResponseOK    bool
	Status        string
	FailureReason string
	ID            string
	Outputs       []Output
}

// FirstMessageText returns the text of the first non-refused "message"
// output, and whether one was found.
func (r Response) FirstMessageText() (string, bool) {
	for _, o := range r.Outputs {
		if o.Type == OutputMessage && !o.Refused && o.Text != "" {
			return o.Text, true
		}
	}
	return "", false
}
