package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestSession(owner, id string) *Session {
	return &Session{
		ID:           id,
		OwnerID:      owner,
		Title:        "test session",
		Status:       StatusActive,
		LastActivity: time.Now(),
	}
}

func TestMemoryStore_UpsertGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, newTestSession("u1", "s1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	sess, err := store.Get(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.Title != "test session" || sess.Status != StatusActive {
		t.Errorf("Get() = %+v, want active test session", sess)
	}
}

func TestMemoryStore_GetWrongOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, newTestSession("u1", "s1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if _, err := store.Get(ctx, "u2", "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, newTestSession("u1", "s1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	count := 3
	starred := true
	now := time.Now().Add(time.Minute)
	err := store.Update(ctx, "u1", "s1", Update{
		MessageCount: &count,
		Starred:      &starred,
		LastActivity: &now,
		Tags:         []string{"work"},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	sess, err := store.Get(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.MessageCount != 3 || !sess.Starred {
		t.Errorf("Update not applied: %+v", sess)
	}
	if len(sess.Tags) != 1 || sess.Tags[0] != "work" {
		t.Errorf("Tags = %v, want [work]", sess.Tags)
	}
	if sess.Title != "test session" {
		t.Errorf("Title changed by partial update: %q", sess.Title)
	}
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	store := NewMemoryStore()
	count := 1

	err := store.Update(context.Background(), "u1", "nope", Update{MessageCount: &count})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, newTestSession("u1", "s1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Delete(ctx, "u1", "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "u1", "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ListOrderAndPaging(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		sess := newTestSession("u1", id)
		sess.LastActivity = base.Add(time.Duration(i) * time.Minute)
		if err := store.Upsert(ctx, sess); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	sessions, total, err := store.List(ctx, "u1", 2, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	if sessions[0].ID != "c" || sessions[1].ID != "b" {
		t.Errorf("order = [%s %s], want [c b]", sessions[0].ID, sessions[1].ID)
	}

	rest, _, err := store.List(ctx, "u1", 2, 2)
	if err != nil {
		t.Fatalf("List(offset 2) error = %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "a" {
		t.Errorf("rest = %+v, want [a]", rest)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := newTestSession("u1", "s1")
	sess.Tags = []string{"one"}
	if err := store.Upsert(ctx, sess); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := store.Get(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.Tags[0] = "mutated"

	again, err := store.Get(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if again.Tags[0] != "one" {
		t.Error("Get() did not return a defensive copy")
	}
}

func TestDeriveTitle(t *testing.T) {
	short := "hello"
	if got := DeriveTitle(short); got != short {
		t.Errorf("DeriveTitle(%q) = %q", short, got)
	}

	long := ""
	for range 30 {
		long += "多字節字符"
	}
	got := DeriveTitle(long)
	if len([]rune(got)) != TitleMaxLen {
		t.Errorf("DeriveTitle length = %d runes, want %d", len([]rune(got)), TitleMaxLen)
	}
}
