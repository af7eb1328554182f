// Package multicast implements the hot, multi-consumer channel the core and
// subscription manager use to fan a single upstream stream out to any
// number of subscribers, plus the refcounted "share" operator subscriptions
// rely on to release server-side resources once the last consumer leaves.
package multicast

import (
	"context"
	"errors"
	"sync"

	"github.com/adred-codev/tradeapi-go/deferred"
)

// NextFunc receives an emitted value.
type NextFunc func(value any)

// ErrFunc receives a terminal error.
type ErrFunc func(err error)

// CompleteFunc is invoked on graceful completion.
type CompleteFunc func()

// Cancel detaches a subscriber. Safe to call more than once.
type Cancel func()

type subscriber struct {
	next     NextFunc
	err      ErrFunc
	complete CompleteFunc
}

// Channel is a hot multicast subject: Next, Error and Complete fan out
// synchronously to every current subscriber; Error and Complete are
// terminal and take effect only once.
type Channel struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	stopped     bool
	disposed    bool

	// onZero fires exactly once, the first time the subscriber count drops
	// from >=1 back to 0. Used by Share to release the upstream physical
	// subscription.
	onZero func()
}

// New returns an empty, live Channel.
func New() *Channel {
	return &Channel{subscribers: make(map[int]*subscriber)}
}

// Next delivers value to every current subscriber. No-op once stopped.
func (c *Channel) Next(value any) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	subs := c.snapshotLocked()
	c.mu.Unlock()

	for _, s := range subs {
		if s.next != nil {
			s.next(value)
		}
	}
}

// Error delivers a terminal error to every current subscriber and stops the
// channel. No-op once stopped.
func (c *Channel) Error(err error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	subs := c.snapshotLocked()
	c.mu.Unlock()

	for _, s := range subs {
		if s.err != nil {
			s.err(err)
		}
	}
}

// Complete signals graceful completion to every current subscriber and
// stops the channel. No-op once stopped.
func (c *Channel) Complete() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	subs := c.snapshotLocked()
	c.mu.Unlock()

	for _, s := range subs {
		if s.complete != nil {
			s.complete()
		}
	}
}

func (c *Channel) snapshotLocked() []*subscriber {
	subs := make([]*subscriber, 0, len(c.subscribers))
	for _, s := range c.subscribers {
		subs = append(subs, s)
	}
	return subs
}

// Subscribe registers observer callbacks and returns a Cancel to detach
// them. Any of next/err/complete may be nil.
func (c *Channel) Subscribe(next NextFunc, err ErrFunc, complete CompleteFunc) Cancel {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = &subscriber{next: next, err: err, complete: complete}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			var onZero func()
			if len(c.subscribers) == 0 {
				onZero = c.onZero
				c.onZero = nil
			}
			c.mu.Unlock()

			if onZero != nil {
				onZero()
			}
		})
	}
}

// IsStopped reports whether Error or Complete has already fired.
func (c *Channel) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// IsDisposed reports whether Dispose has been called.
func (c *Channel) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Dispose marks the channel disposed and drops all subscriber references.
// Safe to call after Complete/Error.
func (c *Channel) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.subscribers = make(map[int]*subscriber)
	c.mu.Unlock()
}

// errCompletedWithoutValue is returned by First's Future when the channel
// completes before ever emitting a value.
var errCompletedWithoutValue = errors.New("channel completed without a value")

// First returns a deferred.Future that settles with the channel's first
// emission: resolved on a value, rejected on an error, cancelled if the
// channel completes having emitted nothing.
func (c *Channel) First() *deferred.Future {
	f := deferred.New()
	var cancel Cancel
	cancel = c.Subscribe(
		func(v any) {
			_ = f.Resolve(v)
			cancel()
		},
		func(err error) {
			_ = f.Reject(err)
			cancel()
		},
		func() {
			_ = f.Cancel(errCompletedWithoutValue.Error())
			cancel()
		},
	)
	return f
}

// FirstCtx is First, but bound to ctx for the Await half of the round trip.
func (c *Channel) FirstCtx(ctx context.Context) (any, error) {
	return c.First().Await(ctx)
}

// Share returns a new Channel that mirrors orig and invokes onFinally
// exactly once, the first time the SHARED channel's own subscriber count
// transitions from >=1 back to 0. This is the refcounted fan-out the
// subscription manager uses: orig is the physical upstream subscription,
// the returned Channel is what every logical subscriber actually attaches
// to.
func Share(orig *Channel, onFinally func()) *Channel {
	shared := New()
	shared.onZero = onFinally
	orig.Subscribe(shared.Next, shared.Error, shared.Complete)
	return shared
}
