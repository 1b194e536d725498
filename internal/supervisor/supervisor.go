// Package supervisor manages the long-running goroutines of the process:
// named starts, panic recovery, shared cancellation and a timeout-aware
// wait on shutdown.
package supervisor

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	wg sync.WaitGroup
}

func New(parent context.Context, log zerolog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, log: log}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Go starts fn under the supervisor context. A panic is logged with its
// stack and does not take the process down; the goroutine just ends.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().
					Str("goroutine", name).
					Any("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("goroutine panicked")
			}
		}()
		s.log.Debug().Str("goroutine", name).Msg("started")
		fn(s.ctx)
		s.log.Debug().Str("goroutine", name).Msg("stopped")
	}()
}

// Cancel cancels the supervisor context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Wait blocks until all goroutines exited or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
