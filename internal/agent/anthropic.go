package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/parleyhq/parley/internal/event"
	"github.com/parleyhq/parley/internal/eventlog"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/log"
)

const defaultMaxTokens = 4096

// AnthropicConfig configures the local-mode invoker.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	System    string
}

// AnthropicInvoker runs turns against the Anthropic Messages API and
// records both halves of the conversation in the event log as it goes:
// the user envelope before the stream starts, the assistant envelope
// (with usage metadata) when it ends. History reconstruction reads those
// events back; the invoker never keeps conversation state of its own.
type AnthropicInvoker struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string

	events  eventlog.Log
	history *history.Reconstructor
	logger  log.Logger
}

// NewAnthropic builds an AnthropicInvoker. events receives the turn's
// conversational records; hist supplies prior turns as model context.
func NewAnthropic(cfg AnthropicConfig, events eventlog.Log, hist *history.Reconstructor, logger log.Logger) *AnthropicInvoker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &AnthropicInvoker{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		system:    cfg.System,
		events:    events,
		history:   hist,
		logger:    logger,
	}
}

// Invoke records the user turn, opens a streaming completion and returns
// the chunk channel. The stream is consumed on a separate goroutine;
// canceling ctx tears it down.
func (a *AnthropicInvoker) Invoke(ctx context.Context, req Request) (<-chan Chunk, error) {
	if err := a.appendUserEvent(ctx, req); err != nil {
		return nil, fmt.Errorf("recording user turn: %w", err)
	}

	msgs, err := a.contextMessages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("loading conversation context: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		Messages:  msgs,
		MaxTokens: a.maxTokens,
	}
	if a.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	stream := a.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan Chunk)
	started := time.Now()
	go a.run(ctx, stream, chunks, req, started)
	return chunks, nil
}

// run drains the SSE stream, translating API events into deltas and
// assembling the assistant message for the log. It owns chunks and closes
// it on exit.
func (a *AnthropicInvoker) run(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- Chunk, req Request, started time.Time) {
	defer close(chunks)

	var (
		text         strings.Builder
		toolBlocks   []event.Block
		curTool      *event.ToolUse
		curToolInput strings.Builder
		inputTokens  int
		outputTokens int
	)

	emit := func(d Delta) bool {
		select {
		case chunks <- Chunk{Data: d.encode()}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		ev := stream.Current()
		switch ev.Type {
		case "message_start":
			start := ev.AsMessageStart()
			inputTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			block := ev.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				curTool = &event.ToolUse{ID: tu.ID, Name: tu.Name}
				curToolInput.Reset()
			}

		case "content_block_delta":
			delta := ev.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				if !emit(Delta{Type: DeltaText, Text: delta.Text}) {
					return
				}
			case "thinking_delta":
				if delta.Thinking != "" && !emit(Delta{Type: DeltaThinking, Thinking: delta.Thinking}) {
					return
				}
			case "input_json_delta":
				curToolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if curTool == nil {
				continue
			}
			if raw := curToolInput.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &curTool.Input); err != nil {
					a.logger.Warn("discarding unparsable tool input",
						"session_id", req.SessionID, "tool", curTool.Name, "error", err)
				}
			}
			toolBlocks = append(toolBlocks, event.Block{ToolUse: curTool})
			input, _ := json.Marshal(curTool.Input)
			ok := emit(Delta{
				Type:      DeltaToolUse,
				ToolUseID: curTool.ID,
				ToolName:  curTool.Name,
				ToolInput: input,
			})
			curTool = nil
			if !ok {
				return
			}

		case "message_delta":
			if usage := ev.AsMessageDelta().Usage; usage.OutputTokens > 0 {
				outputTokens = int(usage.OutputTokens)
			}
		}
	}

	if err := stream.Err(); err != nil {
		a.logger.Error("anthropic stream failed",
			"session_id", req.SessionID, "error", err)
		select {
		case chunks <- Chunk{Err: fmt.Errorf("anthropic stream: %w", err)}:
		case <-ctx.Done():
		}
		return
	}

	latency := time.Since(started).Milliseconds()
	if err := a.appendAssistantEvent(ctx, req, text.String(), toolBlocks, metaFor(latency, inputTokens, outputTokens)); err != nil {
		a.logger.Error("recording assistant turn failed",
			"session_id", req.SessionID, "error", err)
	}

	emit(Delta{
		Type:         DeltaDone,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LatencyMS:    latency,
	})
}

func (a *AnthropicInvoker) appendUserEvent(ctx context.Context, req Request) error {
	env, err := json.Marshal(map[string]any{"message": req.Text})
	if err != nil {
		return err
	}
	_, err = a.events.AppendEvent(ctx, req.SessionID, req.ActorID,
		[]event.Payload{event.NewConversational(event.RoleUser, string(env))}, nil)
	return err
}

// appendAssistantEvent logs the completed assistant turn. It runs after
// the stream ends, possibly during client disconnect, so it detaches from
// cancellation: the record must land even when nobody is listening.
func (a *AnthropicInvoker) appendAssistantEvent(ctx context.Context, req Request, text string, toolBlocks []event.Block, meta map[string]any) error {
	var content []event.Block
	if text != "" {
		content = append(content, event.Block{Text: text})
	}
	content = append(content, toolBlocks...)
	if len(content) == 0 {
		return nil
	}

	env, err := json.Marshal(map[string]any{
		"message": event.AgentMessage{Role: event.RoleAssistant, Content: content},
	})
	if err != nil {
		return err
	}
	_, err = a.events.AppendEvent(context.WithoutCancel(ctx), req.SessionID, req.ActorID,
		[]event.Payload{event.NewConversational(event.RoleAssistant, string(env))}, meta)
	return err
}

// contextMessages renders prior display history into API message params.
// Tool-only markers are folded into their tool executions' text so the
// model sees what it previously did without the full tool protocol.
func (a *AnthropicInvoker) contextMessages(ctx context.Context, req Request) ([]anthropic.MessageParam, error) {
	prior, err := a.history.Messages(ctx, req.SessionID, req.ActorID)
	if err != nil {
		return nil, err
	}

	var msgs []anthropic.MessageParam
	for _, m := range prior {
		text := m.Text
		if text == "" {
			text = toolSummary(m.ToolExecutions)
		}
		if text == "" {
			continue
		}
		if m.Role == event.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}
	return msgs, nil
}

func toolSummary(execs []*event.ToolExecution) string {
	var parts []string
	for _, exec := range execs {
		if exec.Result != "" {
			parts = append(parts, fmt.Sprintf("[%s] %s", exec.Name, exec.Result))
		}
	}
	return strings.Join(parts, "\n")
}

func metaFor(latencyMS int64, inputTokens, outputTokens int) map[string]any {
	return map[string]any{
		"latencyMs":    latencyMS,
		"inputTokens":  inputTokens,
		"outputTokens": outputTokens,
	}
}
