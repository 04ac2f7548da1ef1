//go:build integration

package eventlog_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/parleyhq/parley/internal/event"
	"github.com/parleyhq/parley/internal/eventlog"
	"github.com/parleyhq/parley/internal/testutil"
)

func TestPostgresLog_AppendAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := eventlog.NewPostgresLog(testDB.Pool, nil)

	first, err := log.AppendEvent(ctx, "sess-1", "alice",
		[]event.Payload{event.NewConversational(event.RoleUser, `{"message":"hello"}`)},
		nil)
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if first.ID == "" || first.Time.IsZero() {
		t.Fatalf("AppendEvent() = %+v, want id and time set", first)
	}

	second, err := log.AppendEvent(ctx, "sess-1", "alice",
		[]event.Payload{event.NewConversational(event.RoleAssistant, `{"message":"hi"}`)},
		map[string]any{"latencyMs": 1200})
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	events, err := log.ListEvents(ctx, "sess-1", "alice", 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ListEvents() returned %d events, want 2", len(events))
	}
	// Newest first.
	if events[0].ID != second.ID || events[1].ID != first.ID {
		t.Errorf("ListEvents() order = [%s %s], want [%s %s]",
			events[0].ID, events[1].ID, second.ID, first.ID)
	}
	if events[0].Payload[0].Conversational.Role != event.RoleAssistant {
		t.Errorf("newest event role = %s, want assistant", events[0].Payload[0].Conversational.Role)
	}
	if got, ok := events[0].Metadata["latencyMs"].(float64); !ok || got != 1200 {
		t.Errorf("Metadata[latencyMs] = %v, want 1200", events[0].Metadata["latencyMs"])
	}
}

// Same-timestamp appends must come back in reverse insertion order, so a
// blob stays adjacent to the conversational event written just before it.
func TestPostgresLog_TiedTimestampsKeepInsertOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := eventlog.NewPostgresLog(testDB.Pool, nil)

	var appended []string
	for range 5 {
		ev, err := log.AppendEvent(ctx, "sess-1", "alice",
			[]event.Payload{event.NewBlob(json.RawMessage(`["{}","ai"]`))},
			nil)
		if err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
		appended = append(appended, ev.ID)
	}

	events, err := log.ListEvents(ctx, "sess-1", "alice", 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("ListEvents() returned %d events, want 5", len(events))
	}
	for i, ev := range events {
		want := appended[len(appended)-1-i]
		if ev.ID != want {
			t.Fatalf("events[%d].ID = %s, want %s", i, ev.ID, want)
		}
	}
}

func TestPostgresLog_LimitAndScoping(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := eventlog.NewPostgresLog(testDB.Pool, nil)

	for i := range 3 {
		if _, err := log.AppendEvent(ctx, "sess-1", "alice",
			[]event.Payload{event.NewConversational(event.RoleUser, `{"message":"turn"}`)},
			map[string]any{"n": i}); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}
	if _, err := log.AppendEvent(ctx, "sess-2", "alice",
		[]event.Payload{event.NewConversational(event.RoleUser, `{"message":"elsewhere"}`)},
		nil); err != nil {
		t.Fatalf("AppendEvent(sess-2) error = %v", err)
	}
	if _, err := log.AppendEvent(ctx, "sess-1", "bob",
		[]event.Payload{event.NewConversational(event.RoleUser, `{"message":"other actor"}`)},
		nil); err != nil {
		t.Fatalf("AppendEvent(bob) error = %v", err)
	}

	events, err := log.ListEvents(ctx, "sess-1", "alice", 2)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ListEvents(limit 2) returned %d events, want 2", len(events))
	}
	// The limit keeps the newest events.
	if got := events[0].Metadata["n"].(float64); got != 2 {
		t.Errorf("newest event n = %v, want 2", got)
	}

	all, err := log.ListEvents(ctx, "sess-1", "alice", 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListEvents() for (sess-1, alice) returned %d events, want 3", len(all))
	}
}

func TestPostgresLog_EmptySessionRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := eventlog.NewPostgresLog(testDB.Pool, nil)

	if _, err := log.AppendEvent(ctx, "", "alice", nil, nil); err == nil {
		t.Error("AppendEvent() with empty session id: want error")
	}
	if _, err := log.ListEvents(ctx, "", "alice", 10); err == nil {
		t.Error("ListEvents() with empty session id: want error")
	}
}
