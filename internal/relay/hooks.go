package relay

import (
	"context"
	"errors"
)

// ErrAbortTurn is the fatal hook sentinel: a hook returning an error that
// wraps it stops the turn before the agent is invoked. Any other hook
// error is logged and the turn proceeds.
var ErrAbortTurn = errors.New("turn aborted by pre-flight hook")

// Hook runs before a turn's agent invocation, in registration order.
// Hooks may mutate the turn (e.g. rewrite the text, attach an actor).
type Hook func(ctx context.Context, turn *Turn) error

func (r *Relay) runHooks(ctx context.Context, turn *Turn) error {
	for _, hook := range r.hooks {
		if err := hook(ctx, turn); err != nil {
			if errors.Is(err, ErrAbortTurn) {
				r.logger.Warn("turn aborted by hook",
					"session_id", turn.SessionID, "error", err)
				return err
			}
			r.logger.Warn("pre-flight hook failed, continuing",
				"session_id", turn.SessionID, "error", err)
		}
	}
	return nil
}
