// Package eventlog provides the append-only event log consumed by history
// reconstruction and written by the agent runtime during a turn.
//
// The read contract is deliberately small: events come back newest-first
// per (session, actor), and the reconstructor is responsible for restoring
// chronological order. Two implementations exist: a PostgreSQL store for
// managed mode and a non-durable in-memory store for local mode and
// anonymous users.
package eventlog

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/event"
)

// ErrEmptySession indicates a query or append without a session id.
var ErrEmptySession = errors.New("eventlog: empty session id")

// Reader is the read half of the log contract. ListEvents returns up to
// limit events for (sessionID, actorID) in newest-first order.
type Reader interface {
	ListEvents(ctx context.Context, sessionID, actorID string, limit int) ([]event.LogEvent, error)
}

// Appender is the write half, used by the agent runtime while a turn is in
// flight. Append order defines the log's single source of chronology: a
// blob event is positional metadata for the conversational event appended
// immediately before it.
type Appender interface {
	AppendEvent(ctx context.Context, sessionID, actorID string, payload []event.Payload, metadata map[string]any) (event.LogEvent, error)
}

// Log combines both halves.
type Log interface {
	Reader
	Appender
}
