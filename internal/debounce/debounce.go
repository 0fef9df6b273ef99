// Package debounce collapses bursts of calls into the most recent one.
//
// A Func wraps a typed function. Each Call waits for the debounce window;
// if a newer Call arrives while an older one is still waiting, the older
// one returns ErrDebounced and only the newest runs the function. A call
// whose window has elapsed is no longer cancellable by newer calls.
//
//	search := debounce.New(yt.Search, 300*time.Millisecond)
//	results, err := search.Call(ctx, query)
//	if errors.Is(err, debounce.ErrDebounced) {
//	    return // a newer keystroke took over
//	}
package debounce

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDebounced is returned to a caller superseded by a newer call.
var ErrDebounced = errors.New("debounced")

// Func is a debounced function from T to R. It is safe for concurrent use.
type Func[T, R any] struct {
	fn   func(context.Context, T) (R, error)
	wait time.Duration

	mu      sync.Mutex
	gen     uint64
	pending context.CancelCauseFunc
}

// New wraps fn with a debounce window of wait.
func New[T, R any](fn func(context.Context, T) (R, error), wait time.Duration) *Func[T, R] {
	return &Func[T, R]{fn: fn, wait: wait}
}

// Call waits the default window and then runs fn, unless superseded.
func (f *Func[T, R]) Call(ctx context.Context, arg T) (R, error) {
	return f.CallAfter(ctx, arg, f.wait)
}

// CallAfter is Call with a per-call window. A zero window still supersedes
// any call that is waiting.
func (f *Func[T, R]) CallAfter(ctx context.Context, arg T, wait time.Duration) (R, error) {
	var zero R

	wctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	f.mu.Lock()
	if f.pending != nil {
		f.pending(ErrDebounced)
	}
	f.gen++
	gen := f.gen
	f.pending = cancel
	f.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-wctx.Done():
			timer.Stop()
			return zero, context.Cause(wctx)
		}
	}

	f.mu.Lock()
	if err := context.Cause(wctx); err != nil {
		f.mu.Unlock()
		return zero, err
	}
	if f.gen == gen {
		f.pending = nil
	}
	f.mu.Unlock()

	return f.fn(ctx, arg)
}

// Cancel supersedes the waiting call, if any. It reports whether a call
// was cancelled.
func (f *Func[T, R]) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return false
	}
	f.pending(ErrDebounced)
	f.pending = nil
	return true
}
