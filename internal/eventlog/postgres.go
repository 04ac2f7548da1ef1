package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/event"
	"github.com/parleyhq/parley/internal/log"
)

// PostgresLog stores events in PostgreSQL. Payload and metadata are JSONB;
// the serial seq column breaks event_time ties so that a single-writer
// turn keeps blobs adjacent to their owning conversational event even when
// timestamps collide.
//
// PostgresLog is safe for concurrent use.
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPostgresLog creates a PostgreSQL-backed event log.
func NewPostgresLog(pool *pgxpool.Pool, logger log.Logger) *PostgresLog {
	if logger == nil {
		logger = log.NewNop()
	}
	return &PostgresLog{pool: pool, logger: logger}
}

// ListEvents returns up to limit events for (sessionID, actorID),
// newest-first. Ties on event_time are broken by insertion order so the
// reversed result restores true append order.
func (l *PostgresLog) ListEvents(ctx context.Context, sessionID, actorID string, limit int) ([]event.LogEvent, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}

	rows, err := l.pool.Query(ctx, `
		SELECT event_id, event_time, payload, metadata
		FROM agent_events
		WHERE session_id = $1 AND actor_id = $2
		ORDER BY event_time DESC, seq DESC
		LIMIT $3`,
		sessionID, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var events []event.LogEvent
	for rows.Next() {
		var (
			ev       event.LogEvent
			payload  []byte
			metadata []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Time, &payload, &metadata); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshaling payload for event %s: %w", ev.ID, err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata for event %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	l.logger.Debug("listed events", "session_id", sessionID, "count", len(events))
	return events, nil
}

// AppendEvent inserts one event at the current time.
func (l *PostgresLog) AppendEvent(ctx context.Context, sessionID, actorID string, payload []event.Payload, metadata map[string]any) (event.LogEvent, error) {
	if sessionID == "" {
		return event.LogEvent{}, ErrEmptySession
	}

	ev := event.LogEvent{
		ID:       uuid.New().String(),
		Time:     time.Now().UTC(),
		Payload:  payload,
		Metadata: metadata,
	}

	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return event.LogEvent{}, fmt.Errorf("marshaling payload: %w", err)
	}

	var metadataJSON []byte
	if len(ev.Metadata) > 0 {
		if metadataJSON, err = json.Marshal(ev.Metadata); err != nil {
			return event.LogEvent{}, fmt.Errorf("marshaling metadata: %w", err)
		}
	}

	if _, err := l.pool.Exec(ctx, `
		INSERT INTO agent_events (event_id, session_id, actor_id, event_time, payload, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, sessionID, actorID, ev.Time, payloadJSON, metadataJSON); err != nil {
		return event.LogEvent{}, fmt.Errorf("inserting event for session %s: %w", sessionID, err)
	}

	l.logger.Debug("appended event", "session_id", sessionID, "event_id", ev.ID)
	return ev, nil
}
