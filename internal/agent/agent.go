// Package agent defines the invocation contract between the relay and a
// tool-using streaming agent, plus the local-mode Anthropic implementation.
//
// The relay treats agent output as opaque: an Invoker yields raw JSON
// chunks over a channel and the relay forwards them verbatim. The wire
// shape of those chunks is an invoker-side concern; deltas emitted by the
// built-in invoker are documented on Delta.
package agent

import (
	"context"
	"encoding/json"
)

// Request is one user turn handed to an Invoker.
type Request struct {
	SessionID string
	ActorID   string
	Text      string
}

// Chunk is one unit of agent output. Exactly one field is set: Data
// carries an opaque agent event, Err reports a terminal stream failure.
// The channel closes after the final chunk either way.
type Chunk struct {
	Data json.RawMessage
	Err  error
}

// Invoker runs one agent turn. The returned channel is closed when the
// turn finishes, fails, or ctx is canceled; a nil error from Invoke means
// the stream started, not that it will finish cleanly.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Delta is the wire shape of chunks produced by the built-in invoker.
// Type discriminates which of the optional fields are meaningful.
type Delta struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// Tool call fields, set on type "toolUse".
	ToolUseID string          `json:"toolUseId,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`

	// Usage fields, set on type "done".
	InputTokens  int   `json:"inputTokens,omitempty"`
	OutputTokens int   `json:"outputTokens,omitempty"`
	LatencyMS    int64 `json:"latencyMs,omitempty"`
}

// Delta types emitted by the built-in invoker.
const (
	DeltaText     = "text"
	DeltaThinking = "thinking"
	DeltaToolUse  = "toolUse"
	DeltaDone     = "done"
)

func (d Delta) encode() json.RawMessage {
	raw, err := json.Marshal(d)
	if err != nil {
		// Delta has no unmarshalable fields; this cannot trigger.
		return json.RawMessage(`{"type":"error"}`)
	}
	return raw
}
