package task

import (
	"context"
	"fmt"
)

// Run invokes body.Execute under h's cancellation signal, recovering a
// panic into the synthetic Failed("panicked") error the spec requires so
// that executors never leak a lock because a task body crashed.
//
// Bodies report cancellation through their own package's sentinel
// (subtask.ErrCancelled, download.ErrCancelled, ...), not this package's
// ErrCancelled — they have no reason to import task just to spell the same
// condition. If the body returned an error and h's cancel signal has fired,
// that error is folded into ErrCancelled here so Finish sees a single,
// consistent Cancelled case regardless of which layer detected it.
func Run(ctx context.Context, body Body, h *Handle) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task: failed: panicked: %v", r)
		}
	}()
	value, err = body.Execute(NewContext(ctx, h.CancelSignal()))
	if err != nil && h.IsCancelled() {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return value, err
}
