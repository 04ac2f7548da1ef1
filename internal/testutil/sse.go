// Package testutil provides shared test infrastructure: an SSE stream
// parser and a disposable PostgreSQL container.
package testutil

import (
	"bufio"
	"strings"
	"testing"
)

// SSEEvent is one parsed Server-Sent Event.
type SSEEvent struct {
	Type string // event: value, "message" when the stream used bare data:
	Data string // data: value, multi-line joined with \n
}

// ParseSSEEvents parses an SSE response body into structured events and,
// separately, the comment frames (lines starting with ":"). The relay uses
// comment frames for its connected and keep-alive markers, so tests care
// about both.
//
// Per the SSE spec: multiple data: lines join with newline, an empty line
// terminates an event, and data: without a preceding event: defaults to
// the "message" type.
func ParseSSEEvents(t *testing.T, body string) (events []SSEEvent, comments []string) {
	t.Helper()

	scanner := bufio.NewScanner(strings.NewReader(body))
	var current SSEEvent
	var dataLines []string
	lineNum := 0

	flush := func() {
		if current.Type == "" && len(dataLines) == 0 {
			return
		}
		if current.Type == "" {
			current.Type = "message"
		}
		current.Data = strings.Join(dataLines, "\n")
		events = append(events, current)
		current = SSEEvent{}
		dataLines = nil
	}

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			comments = append(comments, strings.TrimSpace(strings.TrimPrefix(line, ":")))
		case strings.HasPrefix(line, "event: "):
			if current.Type != "" {
				t.Fatalf("sse line %d: new event before previous terminated: %q", lineNum, line)
			}
			current.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		default:
			t.Fatalf("sse line %d: unexpected line %q", lineNum, line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("sse scan: %v", err)
	}
	flush()

	return events, comments
}

// FindEvent returns the first event of the given type, or nil.
func FindEvent(events []SSEEvent, eventType string) *SSEEvent {
	for i := range events {
		if events[i].Type == eventType {
			return &events[i]
		}
	}
	return nil
}

// FindAllEvents returns every event of the given type.
func FindAllEvents(events []SSEEvent, eventType string) []SSEEvent {
	var found []SSEEvent
	for _, e := range events {
		if e.Type == eventType {
			found = append(found, e)
		}
	}
	return found
}
