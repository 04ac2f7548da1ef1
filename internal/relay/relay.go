// Package relay streams agent output to a client with keep-alive
// protection and guaranteed session finalization.
//
// One Stream call is one turn. The relay owns the output channel: it
// emits a connected marker first, forwards agent events verbatim as they
// arrive, injects a keep-alive heartbeat whenever the agent goes quiet
// for a full period, converts any failure into a single structured error
// event, finalizes the session exactly once, and closes the channel. The
// client never learns whether a turn ended cleanly or not from the
// channel closing alone; the error event is the only failure signal.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/event"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
)

// Turn is one user request entering the relay. An empty SessionID mints a
// fresh session before the agent is invoked.
type Turn struct {
	SessionID string
	ActorID   string
	Text      string
}

// Config bounds a turn's streaming behavior.
type Config struct {
	// KeepAlivePeriod is the idle interval after which a heartbeat is
	// injected. The timer restarts on every forwarded agent event.
	KeepAlivePeriod time.Duration

	// MaxTurnDuration caps a single turn end to end.
	MaxTurnDuration time.Duration
}

// Relay wires an agent invoker, a session store and pre-flight hooks into
// the streaming pipeline.
type Relay struct {
	cfg      Config
	invoker  agent.Invoker
	sessions session.Store
	hooks    []Hook
	logger   log.Logger
}

// New builds a Relay. Hooks run in the given order before every turn.
func New(cfg Config, invoker agent.Invoker, sessions session.Store, logger log.Logger, hooks ...Hook) *Relay {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Relay{cfg: cfg, invoker: invoker, sessions: sessions, hooks: hooks, logger: logger}
}

// Stream runs one turn and returns its output channel immediately. The
// channel always starts with a connected marker and is always closed,
// whatever happens in between; canceling ctx stops forwarding and tears
// the turn down. The returned session id is the turn's session, minted
// here when the caller supplied none.
func (r *Relay) Stream(ctx context.Context, turn Turn) (<-chan event.StreamEvent, string) {
	if turn.SessionID == "" {
		turn.SessionID = uuid.New().String()
	}
	out := make(chan event.StreamEvent)
	go r.run(ctx, turn, out)
	return out, turn.SessionID
}

func (r *Relay) run(ctx context.Context, turn Turn, out chan<- event.StreamEvent) {
	defer close(out)
	defer r.finalize(ctx, turn)

	if !send(ctx, out, event.Connected(time.Now())) {
		return
	}

	turnCtx := ctx
	if r.cfg.MaxTurnDuration > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, r.cfg.MaxTurnDuration)
		defer cancel()
	}

	// The heartbeat timer starts before the pre-stream awaits run. The
	// session persist, the hook chain and the invocation (which loads
	// history from the event log) are all potentially slow I/O; they
	// proceed concurrently so none of them can leave the channel silent.
	timer := time.NewTimer(r.cfg.KeepAlivePeriod)
	defer timer.Stop()

	ready := make(chan setupResult, 1)
	go func() {
		ready <- r.setup(turnCtx, turn)
	}()

	var chunks <-chan agent.Chunk
	for chunks == nil {
		select {
		case res := <-ready:
			if res.failMsg != "" {
				r.fail(ctx, out, turn, res.failMsg)
				return
			}
			chunks = res.chunks

		case <-timer.C:
			if !send(ctx, out, event.KeepAlive(time.Now())) {
				return
			}
			timer.Reset(r.cfg.KeepAlivePeriod)

		case <-ctx.Done():
			return
		}
	}

	r.forward(turnCtx, out, turn, chunks, timer)
}

type setupResult struct {
	chunks  <-chan agent.Chunk
	failMsg string
}

// setup is the pre-stream phase: eager session persist, then the hook
// chain, then the agent invocation. Hooks see the persisted session and
// may still rewrite the turn before it reaches the agent.
func (r *Relay) setup(ctx context.Context, turn Turn) setupResult {
	if err := r.ensureSession(ctx, turn); err != nil {
		r.logger.Error("session upsert failed",
			"session_id", turn.SessionID, "error", err)
		return setupResult{failMsg: "session unavailable"}
	}

	if err := r.runHooks(ctx, &turn); err != nil {
		return setupResult{failMsg: "request rejected"}
	}

	chunks, err := r.invoker.Invoke(ctx, agent.Request{
		SessionID: turn.SessionID,
		ActorID:   turn.ActorID,
		Text:      turn.Text,
	})
	if err != nil {
		r.logger.Error("agent invocation failed",
			"session_id", turn.SessionID, "error", err)
		return setupResult{failMsg: "agent unavailable"}
	}
	return setupResult{chunks: chunks}
}

// forward is the streaming core: a single select loop over agent chunks,
// the keep-alive timer and cancellation. The timer restarts only when a
// real event goes out, so a silent stretch of length T yields exactly
// floor(T/period) heartbeats and a chatty agent yields none.
func (r *Relay) forward(ctx context.Context, out chan<- event.StreamEvent, turn Turn, chunks <-chan agent.Chunk, timer *time.Timer) {
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return // agent done, channel closure is the completion signal
			}
			if chunk.Err != nil {
				r.logger.Error("agent stream failed",
					"session_id", turn.SessionID, "error", chunk.Err)
				r.fail(ctx, out, turn, "agent stream failed")
				return
			}
			if !send(ctx, out, event.AgentNative(time.Now(), chunk.Data)) {
				return
			}
			resetTimer(timer, r.cfg.KeepAlivePeriod)

		case <-timer.C:
			if !send(ctx, out, event.KeepAlive(time.Now())) {
				return
			}
			timer.Reset(r.cfg.KeepAlivePeriod)

		case <-ctx.Done():
			return
		}
	}
}

// ensureSession writes the session record before the agent is invoked, so
// a turn that dies mid-stream still has a session to finalize and list.
func (r *Relay) ensureSession(ctx context.Context, turn Turn) error {
	existing, err := r.sessions.Get(ctx, turn.ActorID, turn.SessionID)
	if err == nil && existing != nil {
		return nil
	}
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	return r.sessions.Upsert(ctx, &session.Session{
		ID:           turn.SessionID,
		OwnerID:      turn.ActorID,
		Title:        session.DeriveTitle(turn.Text),
		Status:       session.StatusActive,
		LastActivity: now,
		CreatedAt:    now,
	})
}

// finalize bumps the session's message count and activity time. It runs
// exactly once per turn, after the stream ends for any reason, detached
// from the request context; failures are logged and swallowed because the
// client can no longer be told.
func (r *Relay) finalize(ctx context.Context, turn Turn) {
	detached := context.WithoutCancel(ctx)

	sess, err := r.sessions.Get(detached, turn.ActorID, turn.SessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			r.logger.Error("finalization read failed",
				"session_id", turn.SessionID, "error", err)
		}
		return
	}

	count := sess.MessageCount + 1
	now := time.Now().UTC()
	err = r.sessions.Update(detached, turn.ActorID, turn.SessionID, session.Update{
		MessageCount: &count,
		LastActivity: &now,
	})
	if err != nil {
		r.logger.Error("finalization update failed",
			"session_id", turn.SessionID, "error", err)
	}
}

func (r *Relay) fail(ctx context.Context, out chan<- event.StreamEvent, turn Turn, msg string) {
	send(ctx, out, event.StreamFailure(time.Now(), turn.SessionID, msg))
}

func send(ctx context.Context, out chan<- event.StreamEvent, ev event.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// resetTimer restarts a possibly-fired timer without leaking a stale tick.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
