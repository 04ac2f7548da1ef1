package history

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/parleyhq/parley/internal/event"
	"github.com/parleyhq/parley/internal/eventlog"
	"github.com/parleyhq/parley/internal/log"
)

const (
	testSession = "sess-1"
	testActor   = "actor-1"
)

func newTestReconstructor(l eventlog.Reader) *Reconstructor {
	return NewReconstructor(l, 100, log.NewNop())
}

// envelope wraps a message value in the on-wire conversational envelope.
func envelope(t *testing.T, msg any) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"message": msg})
	if err != nil {
		t.Fatalf("marshaling envelope: %v", err)
	}
	return string(raw)
}

func appendConv(t *testing.T, l *eventlog.MemoryLog, role event.Role, text string, meta map[string]any) {
	t.Helper()
	_, err := l.AppendEvent(context.Background(), testSession, testActor,
		[]event.Payload{event.NewConversational(role, text)}, meta)
	if err != nil {
		t.Fatalf("appending conversational event: %v", err)
	}
}

func appendBlob(t *testing.T, l *eventlog.MemoryLog, msg event.AgentMessage, role event.Role) {
	t.Helper()
	raw, err := event.EncodeBlob(msg, role)
	if err != nil {
		t.Fatalf("encoding blob: %v", err)
	}
	_, err = l.AppendEvent(context.Background(), testSession, testActor,
		[]event.Payload{event.NewBlob(raw)}, nil)
	if err != nil {
		t.Fatalf("appending blob event: %v", err)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	l := eventlog.NewMemoryLog()

	appendConv(t, l, event.RoleUser, envelope(t, "what's the weather in Taipei?"), nil)
	appendConv(t, l, event.RoleAssistant, envelope(t, event.AgentMessage{
		Role: event.RoleAssistant,
		Content: []event.Block{
			textBlock("let me check"),
			toolUseBlock("tu-1", "weather", map[string]any{"city": "Taipei"}),
		},
	}), nil)
	appendBlob(t, l, event.AgentMessage{
		Role: event.RoleTool,
		Content: []event.Block{
			toolResultBlock("tu-1", event.ResultContent{Text: "sunny, 31C"}),
		},
	}, event.RoleTool)
	appendConv(t, l, event.RoleAssistant, envelope(t, "It's sunny and 31C."), nil)

	msgs, err := newTestReconstructor(l).Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}

	if msgs[0].Role != event.RoleUser || msgs[0].Text != "what's the weather in Taipei?" {
		t.Errorf("message 0 = %+v, want user question", msgs[0])
	}

	tool := msgs[1]
	if tool.Role != event.RoleAssistant || tool.Text != "let me check" {
		t.Errorf("message 1 = %+v, want assistant tool turn", tool)
	}
	if len(tool.ToolExecutions) != 1 {
		t.Fatalf("message 1 has %d executions, want 1", len(tool.ToolExecutions))
	}
	exec := tool.ToolExecutions[0]
	if exec.Name != "weather" || !exec.Complete || exec.Result != "sunny, 31C" {
		t.Errorf("execution = %+v, want complete weather result", exec)
	}

	if msgs[2].Role != event.RoleAssistant || msgs[2].Text != "It's sunny and 31C." {
		t.Errorf("message 2 = %+v, want final assistant answer", msgs[2])
	}
}

func TestMessagesToolOnlyTurn(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendConv(t, l, event.RoleAssistant, envelope(t, event.AgentMessage{
		Content: []event.Block{toolUseBlock("tu-1", "search", nil)},
	}), nil)

	msgs, err := newTestReconstructor(l).Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !msgs[0].ToolOnly {
		t.Error("ToolOnly not set on text-less tool turn")
	}
	if msgs[0].ToolExecutions[0].Complete {
		t.Error("unanswered execution should be incomplete")
	}
}

func TestMessagesMalformedEnvelopeFailsWholeRequest(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendConv(t, l, event.RoleUser, envelope(t, "fine"), nil)
	appendConv(t, l, event.RoleUser, "{not json", nil)

	_, err := newTestReconstructor(l).Messages(context.Background(), testSession, testActor)
	if !errors.Is(err, event.ErrMalformedEnvelope) {
		t.Fatalf("err = %v, want ErrMalformedEnvelope", err)
	}
}

func TestMessagesMissingMessageFailsWholeRequest(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendConv(t, l, event.RoleUser, `{"other":"field"}`, nil)

	_, err := newTestReconstructor(l).Messages(context.Background(), testSession, testActor)
	if !errors.Is(err, event.ErrMissingMessage) {
		t.Fatalf("err = %v, want ErrMissingMessage", err)
	}
}

func TestMessagesLeadingBlobIgnored(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendBlob(t, l, event.AgentMessage{
		Content: []event.Block{toolResultBlock("tu-0", event.ResultContent{Text: "orphan"})},
	}, event.RoleTool)
	appendConv(t, l, event.RoleUser, envelope(t, "hello"), nil)

	msgs, err := newTestReconstructor(l).Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("got %+v, want just the user message", msgs)
	}
}

func TestMessagesBlobAfterUserEventIgnored(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendConv(t, l, event.RoleUser, envelope(t, "hello"), nil)
	appendBlob(t, l, event.AgentMessage{
		Content: []event.Block{toolResultBlock("tu-9", event.ResultContent{Text: "stray"})},
	}, event.RoleTool)

	msgs, err := newTestReconstructor(l).Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	// Tool side-channel material only belongs to assistant turns; a blob
	// trailing a user event must not bleed into the user message.
	if msgs[0].Role != event.RoleUser || msgs[0].Text != "hello" {
		t.Errorf("message = %+v, want untouched user message", msgs[0])
	}
	if len(msgs[0].ToolExecutions) != 0 {
		t.Errorf("user message carries %d tool executions, want 0", len(msgs[0].ToolExecutions))
	}
}

func TestMessagesToolResultOnlyEventExcluded(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendConv(t, l, event.RoleAssistant, envelope(t, event.AgentMessage{
		Content: []event.Block{toolUseBlock("tu-1", "calc", nil)},
	}), nil)
	appendConv(t, l, event.RoleTool, envelope(t, event.AgentMessage{
		Role:    event.RoleTool,
		Content: []event.Block{toolResultBlock("tu-1", event.ResultContent{Text: "42"})},
	}), nil)

	msgs, err := newTestReconstructor(l).Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (result-only turn folded)", len(msgs))
	}
	exec := msgs[0].ToolExecutions[0]
	if !exec.Complete || exec.Result != "42" {
		t.Errorf("execution = %+v, want merged result 42", exec)
	}
}

func TestMessagesLegacyBlobImage(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendConv(t, l, event.RoleAssistant, envelope(t, "here is the chart"), nil)
	appendBlob(t, l, event.AgentMessage{
		Content: []event.Block{{Image: &event.Image{Format: "png", Data: []byte{1, 2}}}},
	}, event.RoleAssistant)

	msgs, err := newTestReconstructor(l).Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || len(msgs[0].Images) != 1 || msgs[0].Images[0].Format != "png" {
		t.Fatalf("got %+v, want one legacy png image", msgs)
	}
}

func TestMessagesPerToolImagesWinOverLegacy(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendConv(t, l, event.RoleAssistant, envelope(t, event.AgentMessage{
		Content: []event.Block{toolUseBlock("tu-1", "render", nil)},
	}), nil)
	appendBlob(t, l, event.AgentMessage{
		Content: []event.Block{
			toolResultBlock("tu-1", event.ResultContent{Image: &event.Image{Format: "jpeg"}}),
			{Image: &event.Image{Format: "png"}},
		},
	}, event.RoleTool)

	msgs, err := newTestReconstructor(l).Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if len(msgs[0].Images) != 1 || msgs[0].Images[0].Format != "jpeg" {
		t.Errorf("images = %+v, want only the per-tool jpeg", msgs[0].Images)
	}
}

func TestMessagesMetricsFromMetadata(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendConv(t, l, event.RoleAssistant, envelope(t, "answer"), map[string]any{
		"latencyMs":    float64(820),
		"inputTokens":  float64(120),
		"outputTokens": float64(45),
		"feedback":     "up",
	})

	msgs, err := newTestReconstructor(l).Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	got := msgs[0]
	if got.LatencyMS != 820 || got.InputTokens != 120 || got.OutputTokens != 45 {
		t.Errorf("metrics = %d/%d/%d, want 820/120/45",
			got.LatencyMS, got.InputTokens, got.OutputTokens)
	}
	if got.Feedback != event.FeedbackUp {
		t.Errorf("Feedback = %q, want %q", got.Feedback, event.FeedbackUp)
	}
}

func TestMessagesLimitKeepsNewest(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendConv(t, l, event.RoleUser, envelope(t, "first"), nil)
	appendConv(t, l, event.RoleUser, envelope(t, "second"), nil)
	appendConv(t, l, event.RoleUser, envelope(t, "third"), nil)

	r := NewReconstructor(l, 2, log.NewNop())
	msgs, err := r.Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "second" || msgs[1].Text != "third" {
		t.Fatalf("got %+v, want the two newest in chronological order", msgs)
	}
}

func TestMessagesDeterministic(t *testing.T) {
	l := eventlog.NewMemoryLog()
	appendConv(t, l, event.RoleUser, envelope(t, "hi"), nil)
	appendConv(t, l, event.RoleAssistant, envelope(t, event.AgentMessage{
		Content: []event.Block{
			textBlock("working"),
			toolUseBlock("tu-1", "calc", nil),
		},
	}), nil)
	appendBlob(t, l, event.AgentMessage{
		Content: []event.Block{toolResultBlock("tu-1", event.ResultContent{Text: "done"})},
	}, event.RoleTool)

	r := newTestReconstructor(l)
	first, err := r.Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	second, err := r.Messages(context.Background(), testSession, testActor)
	if err != nil {
		t.Fatalf("Messages (second pass): %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reconstruction not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}
