//go:build linux

package process

import (
	"context"

	"github.com/yoanbernabeu/nbexec/internal/reactor"
)

// Wait blocks the calling goroutine until the run completes. It must not be
// called on the loop goroutine. If ctx ends first the child's process group
// is killed, the real Result of the killed run is awaited and returned
// marked as canceled, together with ctx.Err().
//
// Wait never returns if the loop is stopped while the run is pending.
func (r *Runner) Wait(ctx context.Context) (Result, error) {
	if r.done == nil {
		return Result{}, ErrNotStarted
	}

	select {
	case <-r.done:
		return r.final, nil
	case <-ctx.Done():
	}

	if err := r.cancel(ctx.Err()); err != nil {
		return Result{}, err
	}
	<-r.done

	res := r.final
	if !res.Canceled {
		// Exited on its own before the kill landed.
		return res, nil
	}
	return res, ctx.Err()
}

// Run starts command on loop and waits for it. See Runner.Wait for the
// cancellation behavior.
func Run(ctx context.Context, loop *reactor.Loop, command string, opts ...Option) (Result, error) {
	r := New(loop, command, opts...)
	if _, err := r.Start(); err != nil {
		return Result{}, err
	}
	return r.Wait(ctx)
}
