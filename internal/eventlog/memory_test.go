package eventlog

import (
	"context"
	"errors"
	"testing"

	"github.com/parleyhq/parley/internal/event"
)

func appendText(t *testing.T, l *MemoryLog, session, text string) event.LogEvent {
	t.Helper()
	ev, err := l.AppendEvent(context.Background(), session, "actor-1",
		[]event.Payload{event.NewConversational(event.RoleUser, text)}, nil)
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	return ev
}

func TestMemoryLog_NewestFirst(t *testing.T) {
	l := NewMemoryLog()
	appendText(t, l, "s1", "first")
	appendText(t, l, "s1", "second")
	appendText(t, l, "s1", "third")

	events, err := l.ListEvents(context.Background(), "s1", "actor-1", 100)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}

	got := []string{
		events[0].Payload[0].Conversational.Content.Text,
		events[1].Payload[0].Conversational.Content.Text,
		events[2].Payload[0].Conversational.Content.Text,
	}
	want := []string{"third", "second", "first"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemoryLog_LimitKeepsNewest(t *testing.T) {
	l := NewMemoryLog()
	appendText(t, l, "s1", "old")
	appendText(t, l, "s1", "mid")
	appendText(t, l, "s1", "new")

	events, err := l.ListEvents(context.Background(), "s1", "actor-1", 2)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Payload[0].Conversational.Content.Text != "new" {
		t.Errorf("events[0] = %q, want newest", events[0].Payload[0].Conversational.Content.Text)
	}
	if events[1].Payload[0].Conversational.Content.Text != "mid" {
		t.Errorf("events[1] = %q, want mid", events[1].Payload[0].Conversational.Content.Text)
	}
}

func TestMemoryLog_SessionIsolation(t *testing.T) {
	l := NewMemoryLog()
	appendText(t, l, "s1", "for s1")
	appendText(t, l, "s2", "for s2")

	events, err := l.ListEvents(context.Background(), "s1", "actor-1", 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
}

func TestMemoryLog_EmptySession(t *testing.T) {
	l := NewMemoryLog()

	if _, err := l.ListEvents(context.Background(), "", "a", 10); !errors.Is(err, ErrEmptySession) {
		t.Errorf("ListEvents() error = %v, want ErrEmptySession", err)
	}
	if _, err := l.AppendEvent(context.Background(), "", "a", nil, nil); !errors.Is(err, ErrEmptySession) {
		t.Errorf("AppendEvent() error = %v, want ErrEmptySession", err)
	}
}
