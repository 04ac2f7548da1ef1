package testutil

import (
	"context"

	"github.com/parleyhq/parley/internal/agent"
)

// ScriptedInvoker replays a fixed chunk sequence, standing in for a real
// agent in relay and API tests.
type ScriptedInvoker struct {
	Chunks []agent.Chunk
	// InvokeErr, when set, fails Invoke before any streaming happens.
	InvokeErr error
	// Hold keeps the stream open after the scripted chunks until the
	// context is canceled.
	Hold bool
}

// Invoke implements agent.Invoker.
func (s *ScriptedInvoker) Invoke(ctx context.Context, _ agent.Request) (<-chan agent.Chunk, error) {
	if s.InvokeErr != nil {
		return nil, s.InvokeErr
	}
	ch := make(chan agent.Chunk)
	go func() {
		defer close(ch)
		for _, c := range s.Chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if s.Hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}
