package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/event"
)

// SSE event names for the chat stream.
const (
	sseEventError = "error"
	sseEventAgent = "agent"
)

// SSE comment markers. Comment frames reach intermediaries (resetting
// their idle timers) without surfacing as events in EventSource clients.
const (
	sseCommentConnected = "connected"
	sseCommentKeepAlive = "keep-alive"
)

// sseWriter renders stream events as Server-Sent Event frames.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// newSSEWriter sets the streaming headers and wraps w. Fails when the
// writer cannot flush, which makes streaming pointless.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeStreamEvent renders one relay event: comment frames for the
// connected/keep-alive markers, named events for errors and agent output.
func (s *sseWriter) writeStreamEvent(ev event.StreamEvent) error {
	switch ev.Type {
	case event.StreamConnected:
		return s.writeComment(sseCommentConnected, ev.Timestamp)
	case event.StreamKeepAlive:
		return s.writeComment(sseCommentKeepAlive, ev.Timestamp)
	case event.StreamError:
		payload, err := json.Marshal(event.ErrorPayload{
			Message:   ev.Message,
			SessionID: ev.SessionID,
		})
		if err != nil {
			return fmt.Errorf("marshaling error payload: %w", err)
		}
		return s.writeEvent(sseEventError, string(payload))
	case event.StreamAgent:
		return s.writeEvent(sseEventAgent, string(ev.Data))
	default:
		return fmt.Errorf("unknown stream event type %d", ev.Type)
	}
}

func (s *sseWriter) writeComment(text string, ts time.Time) error {
	if _, err := fmt.Fprintf(s.w, ": %s %s\n\n", text, ts.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("writing comment frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// writeEvent writes a named event; each line of multi-line data gets its
// own data: prefix per the SSE spec.
func (s *sseWriter) writeEvent(name, data string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
		return fmt.Errorf("writing event name: %w", err)
	}
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("writing data line: %w", err)
		}
	}
	if _, err := io.WriteString(s.w, "\n"); err != nil {
		return fmt.Errorf("writing terminator: %w", err)
	}
	s.flusher.Flush()
	return nil
}
