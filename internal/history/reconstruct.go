package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/internal/event"
	"github.com/parleyhq/parley/internal/eventlog"
	"github.com/parleyhq/parley/internal/log"
)

// Reconstructor rebuilds a session's display history from the append-only
// event log.
//
// The log is read newest-first and reversed; blob events associate
// positionally to the immediately preceding event in the reversed order.
// Any malformed envelope or blob fails the whole request — callers get
// exact history or an error, never a partial one. Structural oddities that
// asynchronous writers can legitimately produce (a leading unowned blob, a
// result without its toolUse) degrade gracefully instead.
type Reconstructor struct {
	events eventlog.Reader
	limit  int
	logger log.Logger
}

// NewReconstructor builds a Reconstructor reading at most limit events per
// request.
func NewReconstructor(events eventlog.Reader, limit int, logger log.Logger) *Reconstructor {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Reconstructor{events: events, limit: limit, logger: logger}
}

// turn pairs one conversational log event with its decoded message and the
// side-channel material resolved for it.
type turn struct {
	ev          event.LogEvent
	role        event.Role
	msg         event.AgentMessage
	legacyImage *event.Image
}

// Messages returns the session's chronological display history.
func (r *Reconstructor) Messages(ctx context.Context, sessionID, actorID string) ([]event.Message, error) {
	raw, err := r.events.ListEvents(ctx, sessionID, actorID, r.limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	reverse(raw)

	turns, err := r.assemble(raw, sessionID)
	if err != nil {
		return nil, err
	}

	msgs := make([]event.AgentMessage, len(turns))
	for i, t := range turns {
		msgs[i] = t.msg
	}
	execs := MergeToolExecutions(msgs)

	return render(turns, execs), nil
}

// assemble classifies the chronological events, decodes conversational
// envelopes and splices each blob into the event it belongs to.
func (r *Reconstructor) assemble(events []event.LogEvent, sessionID string) ([]turn, error) {
	// Blob payloads keyed by the index of their owning event: a blob at
	// position i belongs to the event at i-1.
	blobs := make(map[int]json.RawMessage)
	var turns []turn
	owners := make(map[int]int) // event index -> turns index

	for i, ev := range events {
		payload, kind := resolvePayload(ev)
		switch kind {
		case event.KindBlob:
			if i == 0 {
				r.logger.Debug("dropping unowned leading blob",
					"session_id", sessionID, "event_id", ev.ID)
				continue
			}
			blobs[i-1] = payload.Blob

		case event.KindConversational:
			conv := payload.Conversational
			msg, err := event.DecodeEnvelope(conv.Content.Text, conv.Role)
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", ev.ID, err)
			}
			owners[i] = len(turns)
			turns = append(turns, turn{ev: ev, role: conv.Role, msg: msg})

		default:
			r.logger.Warn("dropping event with unresolvable payload",
				"session_id", sessionID, "event_id", ev.ID)
		}
	}

	for idx, raw := range blobs {
		ti, ok := owners[idx]
		if !ok {
			// The preceding event was itself a blob or was invalid.
			r.logger.Debug("dropping blob with non-conversational owner",
				"session_id", sessionID, "index", idx)
			continue
		}
		if turns[ti].role != event.RoleAssistant {
			// Only assistant turns carry tool side-channel material.
			r.logger.Debug("dropping blob owned by non-assistant event",
				"session_id", sessionID, "index", idx, "role", turns[ti].role)
			continue
		}
		if err := spliceBlob(&turns[ti], raw); err != nil {
			return nil, fmt.Errorf("event %s: %w", turns[ti].ev.ID, err)
		}
	}

	return turns, nil
}

// spliceBlob folds a decoded blob message into its owning turn: toolResult
// blocks slot in directly after the matching toolUse (or append when no
// match exists), and a whole-message image block is kept as the legacy
// image fallback.
func spliceBlob(t *turn, raw json.RawMessage) error {
	msg, _, err := event.DecodeBlob(raw)
	if err != nil {
		return err
	}

	for _, block := range msg.Content {
		switch {
		case block.ToolResult != nil:
			t.msg.Content = insertAfterToolUse(t.msg.Content, block)
		case block.Image != nil && t.legacyImage == nil:
			img := *block.Image
			t.legacyImage = &img
		}
	}
	return nil
}

// insertAfterToolUse places a toolResult block immediately after the
// toolUse that shares its id, preserving interleaving order for multi-tool
// turns. Without a match the block goes to the end.
func insertAfterToolUse(content []event.Block, result event.Block) []event.Block {
	id := result.ToolResult.ID
	for i, block := range content {
		if block.ToolUse != nil && block.ToolUse.ID == id {
			out := make([]event.Block, 0, len(content)+1)
			out = append(out, content[:i+1]...)
			out = append(out, result)
			out = append(out, content[i+1:]...)
			return out
		}
	}
	return append(content, result)
}

// render projects assembled turns onto display messages. Turns whose
// content is only toolResult blocks are folded away entirely; turns with
// tool activity but no text surface as tool-only markers.
func render(turns []turn, execs map[string]*event.ToolExecution) []event.Message {
	msgs := make([]event.Message, 0, len(turns))

	for _, t := range turns {
		if t.role != event.RoleUser && t.role != event.RoleAssistant {
			continue
		}

		var (
			text      string
			toolCalls []*event.ToolExecution
			seen      = map[string]bool{}
		)
		for _, block := range t.msg.Content {
			switch {
			case block.Text != "":
				if text != "" {
					text += "\n"
				}
				text += block.Text
			case block.ToolUse != nil:
				if exec, ok := execs[block.ToolUse.ID]; ok && !seen[exec.ID] {
					seen[exec.ID] = true
					toolCalls = append(toolCalls, exec)
				}
			}
		}

		if text == "" && len(toolCalls) == 0 {
			continue // toolResult-only or empty turn, nothing to display
		}

		msg := event.Message{
			Role:           t.role,
			Text:           text,
			Time:           t.ev.Time,
			ToolExecutions: toolCalls,
			ToolOnly:       text == "" && len(toolCalls) > 0,
			Images:         resolveImages(toolCalls, t.legacyImage),
		}
		applyMetrics(&msg, t.ev.Metadata)
		msgs = append(msgs, msg)
	}

	return msgs
}

// resolveImages picks the message-level images: per-tool-call images from
// merged executions win, a legacy whole-message blob image is the
// fallback, else none.
func resolveImages(execs []*event.ToolExecution, legacy *event.Image) []event.Image {
	var images []event.Image
	for _, exec := range execs {
		images = append(images, exec.Images...)
	}
	if len(images) > 0 {
		return images
	}
	if legacy != nil {
		return []event.Image{*legacy}
	}
	return nil
}

// applyMetrics lifts optional turn metrics out of event metadata.
func applyMetrics(msg *event.Message, meta map[string]any) {
	if meta == nil {
		return
	}
	msg.LatencyMS = metaInt64(meta, "latencyMs")
	msg.InputTokens = int(metaInt64(meta, "inputTokens"))
	msg.OutputTokens = int(metaInt64(meta, "outputTokens"))
	if fb, ok := meta["feedback"].(string); ok {
		msg.Feedback = event.Feedback(fb)
	}
}

// metaInt64 reads a numeric metadata value regardless of whether it
// arrived as a Go int or a decoded JSON float64.
func metaInt64(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// resolvePayload picks the first payload item with a resolvable kind.
func resolvePayload(ev event.LogEvent) (event.Payload, event.PayloadKind) {
	for _, p := range ev.Payload {
		if kind := p.Kind(); kind != event.KindInvalid {
			return p, kind
		}
	}
	return event.Payload{}, event.KindInvalid
}

func reverse(events []event.LogEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
