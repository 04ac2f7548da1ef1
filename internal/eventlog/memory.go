package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/event"
)

// MemoryLog is the non-durable event log used in local mode and for
// anonymous users. Events vanish on restart; this is a policy boundary,
// not a bug.
//
// MemoryLog is safe for concurrent use.
type MemoryLog struct {
	mu     sync.RWMutex
	events map[logKey][]event.LogEvent // append order
}

type logKey struct {
	sessionID string
	actorID   string
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{events: make(map[logKey][]event.LogEvent)}
}

// ListEvents returns up to limit events, newest-first, matching the read
// contract of the durable log.
func (l *MemoryLog) ListEvents(_ context.Context, sessionID, actorID string, limit int) ([]event.LogEvent, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	stored := l.events[logKey{sessionID, actorID}]
	n := len(stored)
	if limit > 0 && limit < n {
		n = limit
	}

	// Reverse the newest n entries of the append-ordered slice.
	out := make([]event.LogEvent, 0, n)
	for i := len(stored) - 1; i >= len(stored)-n; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

// AppendEvent appends one event at the current time.
func (l *MemoryLog) AppendEvent(_ context.Context, sessionID, actorID string, payload []event.Payload, metadata map[string]any) (event.LogEvent, error) {
	if sessionID == "" {
		return event.LogEvent{}, ErrEmptySession
	}

	ev := event.LogEvent{
		ID:       uuid.New().String(),
		Time:     time.Now().UTC(),
		Payload:  payload,
		Metadata: metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	key := logKey{sessionID, actorID}
	l.events[key] = append(l.events[key], ev)
	return ev, nil
}
