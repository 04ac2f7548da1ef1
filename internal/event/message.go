package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for envelope and blob decoding. These are data-integrity
// errors: history reconstruction fails the whole request on them rather
// than returning partial history.
var (
	// ErrMissingMessage is returned when a conversational envelope has no
	// message field.
	ErrMissingMessage = errors.New("event envelope missing message field")

	// ErrMalformedEnvelope is returned when an envelope is not valid JSON.
	ErrMalformedEnvelope = errors.New("malformed event envelope")

	// ErrMalformedBlob is returned when a blob is not the expected
	// [serializedMessage, roleTag] pair.
	ErrMalformedBlob = errors.New("malformed blob payload")
)

// Envelope is the JSON wrapper around every conversational event's text.
// The message field is required; an envelope without it is a
// data-integrity violation, not a recoverable case.
type Envelope struct {
	Message json.RawMessage `json:"message"`
}

// AgentMessage is the structured message carried inside an envelope: an
// ordered list of content blocks.
type AgentMessage struct {
	Role    Role    `json:"role,omitempty"`
	Content []Block `json:"content"`
}

// Block is one entry of a message content list. Exactly one field is set:
// plain text, a tool invocation, a tool result, or an inline image (the
// legacy whole-message image shape older blobs carry).
type Block struct {
	Text       string      `json:"text,omitempty"`
	ToolUse    *ToolUse    `json:"toolUse,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
	Image      *Image      `json:"image,omitempty"`
}

// ToolUse records a tool invocation. The ID is shared with the eventual
// ToolResult and merges the two into one execution record.
type ToolUse struct {
	ID    string         `json:"toolUseId"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResult records the outcome of a tool invocation.
type ToolResult struct {
	ID      string          `json:"toolUseId"`
	Content []ResultContent `json:"content,omitempty"`
	Status  string          `json:"status,omitempty"`
}

// ResultContent is one item of a tool result's content list: text, an
// arbitrary JSON document, or an image.
type ResultContent struct {
	Text  string `json:"text,omitempty"`
	JSON  any    `json:"json,omitempty"`
	Image *Image `json:"image,omitempty"`
}

// Image is an encoded image attachment. Data is base64 on the wire
// (encoding/json handles []byte transparently). Images may arrive inline
// in a tool result or out-of-band in a blob event; both converge into this
// representation on the owning message.
type Image struct {
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// ToolExecution is the merged record of one tool call: the toolUse and
// toolResult halves joined by shared ID.
type ToolExecution struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input,omitempty"`
	Result    string         `json:"result,omitempty"`
	Images    []Image        `json:"images,omitempty"`
	Reasoning []string       `json:"reasoning,omitempty"`
	Complete  bool           `json:"complete"`
}

// Feedback is the user's verdict on a message.
type Feedback string

// Feedback values.
const (
	FeedbackNone Feedback = ""
	FeedbackUp   Feedback = "up"
	FeedbackDown Feedback = "down"
)

// Message is a reconstructed, display-facing message in chronological
// order. A message with only tool activity and no text has ToolOnly set
// and carries no independent text rendering.
type Message struct {
	Role           Role             `json:"role"`
	Text           string           `json:"text,omitempty"`
	Time           time.Time        `json:"time"`
	ToolExecutions []*ToolExecution `json:"toolExecutions,omitempty"`
	Images         []Image          `json:"images,omitempty"`
	ToolOnly       bool             `json:"toolOnly,omitempty"`

	// Optional turn metrics sourced from event metadata.
	LatencyMS    int64    `json:"latencyMs,omitempty"`
	InputTokens  int      `json:"inputTokens,omitempty"`
	OutputTokens int      `json:"outputTokens,omitempty"`
	Feedback     Feedback `json:"feedback,omitempty"`
}

// DecodeEnvelope parses a conversational event's text into an AgentMessage.
//
// The envelope's message field may be a bare JSON string (plain text, the
// shape user turns are logged with) or a structured message object with a
// content block list. Both decode into the same AgentMessage form; role
// falls back to the conversational event's role when the message itself
// carries none.
func DecodeEnvelope(text string, role Role) (AgentMessage, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return AgentMessage{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if len(env.Message) == 0 || string(env.Message) == "null" {
		return AgentMessage{}, ErrMissingMessage
	}

	// Bare string message: a single text block.
	var plain string
	if err := json.Unmarshal(env.Message, &plain); err == nil {
		return AgentMessage{Role: role, Content: []Block{{Text: plain}}}, nil
	}

	var msg AgentMessage
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		return AgentMessage{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if msg.Role == "" {
		msg.Role = role
	}
	return msg, nil
}

// DecodeBlob parses a blob event's payload: an ordered
// [serializedMessageJson, roleTag] pair where the first element is itself a
// JSON document serialized to a string.
func DecodeBlob(raw json.RawMessage) (AgentMessage, Role, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return AgentMessage{}, "", fmt.Errorf("%w: %w", ErrMalformedBlob, err)
	}
	if len(pair) != 2 {
		return AgentMessage{}, "", fmt.Errorf("%w: want 2 elements, got %d", ErrMalformedBlob, len(pair))
	}

	var serialized string
	if err := json.Unmarshal(pair[0], &serialized); err != nil {
		return AgentMessage{}, "", fmt.Errorf("%w: first element is not a string: %w", ErrMalformedBlob, err)
	}

	var roleTag string
	if err := json.Unmarshal(pair[1], &roleTag); err != nil {
		return AgentMessage{}, "", fmt.Errorf("%w: role tag is not a string: %w", ErrMalformedBlob, err)
	}

	var msg AgentMessage
	if err := json.Unmarshal([]byte(serialized), &msg); err != nil {
		return AgentMessage{}, "", fmt.Errorf("%w: serialized message: %w", ErrMalformedBlob, err)
	}

	role := Role(roleTag)
	if msg.Role == "" {
		msg.Role = role
	}
	return msg, role, nil
}

// EncodeBlob is the inverse of DecodeBlob, used by the agent runtime when
// appending a turn's side-channel event.
func EncodeBlob(msg AgentMessage, role Role) (json.RawMessage, error) {
	serialized, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling blob message: %w", err)
	}
	pair := []any{string(serialized), string(role)}
	raw, err := json.Marshal(pair)
	if err != nil {
		return nil, fmt.Errorf("marshaling blob pair: %w", err)
	}
	return raw, nil
}
