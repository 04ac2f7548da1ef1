package eventlog

import (
	"context"
	"testing"

	"github.com/parleyhq/parley/internal/event"
)

func TestRoutingLog(t *testing.T) {
	ctx := context.Background()
	anon := NewMemoryLog()
	durable := NewMemoryLog()
	log := NewRoutingLog("anonymous", anon, durable)

	payload := []event.Payload{event.NewConversational(event.RoleUser, `{"message":"hi"}`)}

	if _, err := log.AppendEvent(ctx, "sess-1", "anonymous", payload, nil); err != nil {
		t.Fatalf("AppendEvent(anonymous) error = %v", err)
	}
	if _, err := log.AppendEvent(ctx, "sess-1", "alice", payload, nil); err != nil {
		t.Fatalf("AppendEvent(alice) error = %v", err)
	}

	anonEvents, err := anon.ListEvents(ctx, "sess-1", "anonymous", 10)
	if err != nil || len(anonEvents) != 1 {
		t.Errorf("anonymous store has %d events (err %v), want 1", len(anonEvents), err)
	}
	if leaked, _ := durable.ListEvents(ctx, "sess-1", "anonymous", 10); len(leaked) != 0 {
		t.Errorf("anonymous events leaked into the durable store: %d", len(leaked))
	}

	durableEvents, err := log.ListEvents(ctx, "sess-1", "alice", 10)
	if err != nil || len(durableEvents) != 1 {
		t.Errorf("ListEvents(alice) = %d events (err %v), want 1", len(durableEvents), err)
	}
}
