package eventlog

import (
	"context"

	"github.com/parleyhq/parley/internal/event"
)

// RoutingLog sends the designated anonymous actor to a non-durable log and
// every other actor to the durable one, mirroring session.RoutingStore.
type RoutingLog struct {
	anonActor string
	anonymous Log
	durable   Log
}

// NewRoutingLog creates a log that routes anonActor to anonymous and
// everyone else to durable.
func NewRoutingLog(anonActor string, anonymous, durable Log) *RoutingLog {
	return &RoutingLog{anonActor: anonActor, anonymous: anonymous, durable: durable}
}

func (r *RoutingLog) pick(actorID string) Log {
	if actorID == r.anonActor {
		return r.anonymous
	}
	return r.durable
}

func (r *RoutingLog) ListEvents(ctx context.Context, sessionID, actorID string, limit int) ([]event.LogEvent, error) {
	return r.pick(actorID).ListEvents(ctx, sessionID, actorID, limit)
}

func (r *RoutingLog) AppendEvent(ctx context.Context, sessionID, actorID string, payload []event.Payload, metadata map[string]any) (event.LogEvent, error) {
	return r.pick(actorID).AppendEvent(ctx, sessionID, actorID, payload, metadata)
}
