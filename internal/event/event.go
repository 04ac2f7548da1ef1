// Package event defines the closed event model shared by the event log,
// the streaming relay, and history reconstruction.
//
// Two event families live here:
//
//   - Log events: append-only entries written by the agent runtime during a
//     turn and read back newest-first. Each payload item is a closed tagged
//     union of conversational | blob, resolved once at parse time.
//   - Stream events: the discriminated set pushed to a client over the
//     relay's output channel (connected, keep-alive, error, agent-native
//     pass-through).
//
// Downstream code switches on the resolved tag exhaustively instead of
// probing fields defensively.
package event

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversational event or message.
type Role string

// Valid roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PayloadKind is the resolved tag of a log event payload item.
type PayloadKind int

const (
	// KindInvalid marks a payload with zero or both variants set.
	KindInvalid PayloadKind = iota
	// KindConversational carries a role and text content.
	KindConversational
	// KindBlob carries an opaque serialized side-channel payload for one
	// preceding conversational event.
	KindBlob
)

// LogEvent is one entry of the append-only event log.
type LogEvent struct {
	ID       string         `json:"eventId"`
	Time     time.Time      `json:"eventTime"`
	Payload  []Payload      `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Payload is the conversational|blob union. Exactly one variant is set in a
// well-formed event; Kind reports which.
type Payload struct {
	Conversational *Conversational `json:"conversational,omitempty"`
	Blob           json.RawMessage `json:"blob,omitempty"`
}

// Kind resolves the union tag. A payload carrying both or neither variant
// is KindInvalid.
func (p Payload) Kind() PayloadKind {
	hasConv := p.Conversational != nil
	hasBlob := len(p.Blob) > 0
	switch {
	case hasConv && !hasBlob:
		return KindConversational
	case hasBlob && !hasConv:
		return KindBlob
	default:
		return KindInvalid
	}
}

// Conversational is the chat half of the log union: who said it and the
// serialized envelope text.
type Conversational struct {
	Role    Role        `json:"role"`
	Content TextContent `json:"content"`
}

// TextContent wraps the text payload of a conversational event.
type TextContent struct {
	Text string `json:"text"`
}

// NewConversational builds a conversational log payload.
func NewConversational(role Role, text string) Payload {
	return Payload{Conversational: &Conversational{
		Role:    role,
		Content: TextContent{Text: text},
	}}
}

// NewBlob builds a blob log payload from an already-serialized value.
func NewBlob(raw json.RawMessage) Payload {
	return Payload{Blob: raw}
}
