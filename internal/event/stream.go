package event

import (
	"encoding/json"
	"time"
)

// StreamType discriminates the events pushed over a relay output channel.
type StreamType int

const (
	// StreamConnected marks the channel as established, emitted before the
	// agent produces anything so intermediary buffers treat the connection
	// as live from time zero. Comment-style on the wire.
	StreamConnected StreamType = iota

	// StreamKeepAlive is the idle-period heartbeat. Comment-style on the
	// wire; it carries no content and is never interleaved mid-burst.
	StreamKeepAlive

	// StreamError is the terminal failure event for a turn, carrying the
	// failure message and the session id.
	StreamError

	// StreamAgent wraps one agent-native event, forwarded verbatim and
	// opaque to the relay.
	StreamAgent
)

// StreamEvent is one discrete, independently pushable unit on the relay's
// output channel.
type StreamEvent struct {
	Type      StreamType
	Timestamp time.Time

	// Message and SessionID are set for StreamError.
	Message   string
	SessionID string

	// Data is the verbatim agent payload for StreamAgent.
	Data json.RawMessage
}

// Connected builds the synthetic channel-established marker.
func Connected(now time.Time) StreamEvent {
	return StreamEvent{Type: StreamConnected, Timestamp: now}
}

// KeepAlive builds the synthetic idle heartbeat.
func KeepAlive(now time.Time) StreamEvent {
	return StreamEvent{Type: StreamKeepAlive, Timestamp: now}
}

// StreamFailure builds the structured terminal error event for a turn.
func StreamFailure(now time.Time, sessionID, message string) StreamEvent {
	return StreamEvent{Type: StreamError, Timestamp: now, SessionID: sessionID, Message: message}
}

// AgentNative wraps an opaque agent event for verbatim forwarding.
func AgentNative(now time.Time, data json.RawMessage) StreamEvent {
	return StreamEvent{Type: StreamAgent, Timestamp: now, Data: data}
}

// ErrorPayload is the JSON body of a StreamError event on the wire.
type ErrorPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}
