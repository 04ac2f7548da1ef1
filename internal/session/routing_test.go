package session

import (
	"context"
	"testing"
	"time"
)

func TestRoutingStore(t *testing.T) {
	ctx := context.Background()
	anon := NewMemoryStore()
	durable := NewMemoryStore()
	store := NewRoutingStore("anonymous", anon, durable)

	mkSession := func(owner string) *Session {
		return &Session{
			ID:           "sess-1",
			OwnerID:      owner,
			Title:        "routed",
			LastActivity: time.Now(),
			Status:       StatusActive,
		}
	}

	if err := store.Upsert(ctx, mkSession("anonymous")); err != nil {
		t.Fatalf("Upsert(anonymous) error = %v", err)
	}
	if err := store.Upsert(ctx, mkSession("alice")); err != nil {
		t.Fatalf("Upsert(alice) error = %v", err)
	}

	// Each session landed only in its own backing store.
	if _, err := anon.Get(ctx, "anonymous", "sess-1"); err != nil {
		t.Errorf("anonymous session missing from anonymous store: %v", err)
	}
	if _, err := anon.Get(ctx, "alice", "sess-1"); err == nil {
		t.Error("alice's session leaked into the anonymous store")
	}
	if _, err := durable.Get(ctx, "alice", "sess-1"); err != nil {
		t.Errorf("alice's session missing from durable store: %v", err)
	}
	if _, err := durable.Get(ctx, "anonymous", "sess-1"); err == nil {
		t.Error("anonymous session leaked into the durable store")
	}

	// Reads and lists route the same way as writes.
	if got, err := store.Get(ctx, "alice", "sess-1"); err != nil || got.OwnerID != "alice" {
		t.Errorf("Get(alice) = %v, %v", got, err)
	}
	if _, total, err := store.List(ctx, "anonymous", 10, 0); err != nil || total != 1 {
		t.Errorf("List(anonymous) total = %d, err = %v, want 1, nil", total, err)
	}

	if err := store.Delete(ctx, "anonymous", "sess-1"); err != nil {
		t.Fatalf("Delete(anonymous) error = %v", err)
	}
	if _, err := durable.Get(ctx, "alice", "sess-1"); err != nil {
		t.Errorf("deleting the anonymous session touched the durable store: %v", err)
	}
}
