// Package deferred implements a settleable, promise-like future on top of
// Go's channel-close primitive: DeferredFuture gives the core and
// subscription manager resolve/reject/cancel/then/cascade/wrap ergonomics
// over a single one-shot handoff.
package deferred

import (
	"context"
	"errors"
)

// State is the lifecycle stage of a Future.
type State int

const (
	Pending State = iota
	Resolved
	Rejected
	Cancelled
)

// ErrInvalidState is returned when a settle operation targets a Future that
// has already left the Pending state.
var ErrInvalidState = errors.New("deferred: invalid state transition")

// OkFunc produces the continuation Future for a resolved value.
type OkFunc func(value any) *Future

// ErrFunc produces the continuation Future for a rejection or cancellation.
type ErrFunc func(err error) *Future

// Future is a one-shot settleable value.
type Future struct {
	mu       chan struct{} // 1-buffered mutex; cheaper than sync.Mutex to select alongside done
	done     chan struct{}
	state    State
	value    any
	err      error
	upstream *Future // set by Wrap; Cancel propagates to it
}

// New returns a Future in the Pending state.
func New() *Future {
	f := &Future{
		mu:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	f.mu <- struct{}{}
	return f
}

func (f *Future) lock()   { <-f.mu }
func (f *Future) unlock() { f.mu <- struct{}{} }

func (f *Future) settle(state State, value any, err error) error {
	f.lock()
	if f.state != Pending {
		f.unlock()
		return ErrInvalidState
	}
	f.state = state
	f.value = value
	f.err = err
	close(f.done)
	f.unlock()
	return nil
}

// Resolve settles the Future with a value. Returns ErrInvalidState if the
// Future is no longer Pending.
func (f *Future) Resolve(value any) error {
	return f.settle(Resolved, value, nil)
}

// Reject settles the Future with an error.
func (f *Future) Reject(err error) error {
	return f.settle(Rejected, nil, err)
}

// Cancel settles the Future as Cancelled with reason, and propagates the
// cancellation to the Future this one was wrapped from, if any.
func (f *Future) Cancel(reason string) error {
	f.lock()
	if f.state != Pending {
		f.unlock()
		return ErrInvalidState
	}
	f.state = Cancelled
	f.err = errors.New(reason)
	up := f.upstream
	close(f.done)
	f.unlock()

	if up != nil {
		_ = up.Cancel(reason)
	}
	return nil
}

func (f *Future) snapshot() (State, any, error) {
	f.lock()
	defer f.unlock()
	return f.state, f.value, f.err
}

func (f *Future) IsPending() bool   { s, _, _ := f.snapshot(); return s == Pending }
func (f *Future) IsResolved() bool  { s, _, _ := f.snapshot(); return s == Resolved }
func (f *Future) IsRejected() bool  { s, _, _ := f.snapshot(); return s == Rejected }
func (f *Future) IsCancelled() bool { s, _, _ := f.snapshot(); return s == Cancelled }

// Await blocks until the Future settles or ctx is done, returning the
// resolved value or the rejection/cancellation error.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		_, v, err := f.snapshot()
		return v, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cascade arranges for f to settle with other's eventual outcome. Returns
// ErrInvalidState if f is already settled.
func (f *Future) Cascade(other *Future) error {
	f.lock()
	if f.state != Pending {
		f.unlock()
		return ErrInvalidState
	}
	f.unlock()

	go func() {
		v, err := other.Await(context.Background())
		switch {
		case other.IsCancelled():
			_ = f.Cancel(err.Error())
		case err != nil:
			_ = f.Reject(err)
		default:
			_ = f.Resolve(v)
		}
	}()
	return nil
}

// Wrap returns a new Future shadowing other: it settles with other's
// outcome, and cancelling the wrapper cancels other in turn.
func Wrap(other *Future) *Future {
	w := New()
	w.upstream = other
	_ = w.Cascade(other)
	return w
}

// Then returns a new Future derived from f's eventual outcome. A cancelled
// f cancels the result with "Upstream future cancelled". A resolved f with
// onOk given mirrors onOk(value)'s Future; otherwise the value is forwarded
// unchanged. Rejection behaves symmetrically with onErr.
func (f *Future) Then(onOk OkFunc, onErr ErrFunc) *Future {
	out := New()
	go func() {
		v, err := f.Await(context.Background())
		switch {
		case f.IsCancelled():
			_ = out.Cancel("Upstream future cancelled")
		case err != nil:
			if onErr != nil {
				_ = out.Cascade(onErr(err))
			} else {
				_ = out.Reject(err)
			}
		default:
			if onOk != nil {
				_ = out.Cascade(onOk(v))
			} else {
				_ = out.Resolve(v)
			}
		}
	}()
	return out
}

// Catch is Then(nil, onErr).
func (f *Future) Catch(onErr ErrFunc) *Future {
	return f.Then(nil, onErr)
}
