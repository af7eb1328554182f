// Package middleware implements the named-hook registry send() consults
// before and after talking to the wire.
package middleware

import (
	"sync"

	"github.com/adred-codev/tradeapi-go/apierrors"
)

// Request and Response mirror the wire-level maps used throughout the
// module; kept as aliases so middleware signatures read naturally.
type Request = map[string]any
type Response = map[string]any

// SendWillBeCalled may short-circuit send() by returning a non-empty
// Response; returning nil means "no override, proceed to the wire".
type SendWillBeCalled func(req Request) Response

// SendIsCalled may replace the (request, response) pair send() is about to
// return; returning nil means "use the actual response".
type SendIsCalled func(req Request, resp Response) Response

const (
	hookSendWillBeCalled = "sendWillBeCalled"
	hookSendIsCalled     = "sendIsCalled"
)

// Registry holds at most one callback per recognised hook name.
type Registry struct {
	mu           sync.RWMutex
	willBeCalled SendWillBeCalled
	isCalled     SendIsCalled
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Add registers fn under name. name must be one of "sendWillBeCalled" or
// "sendIsCalled", and fn must match the corresponding function type.
func (r *Registry) Add(name string, fn any) error {
	switch name {
	case hookSendWillBeCalled:
		cb, ok := fn.(SendWillBeCalled)
		if !ok {
			return apierrors.NewConstructionError("middleware %q: handler has the wrong signature", name)
		}
		r.mu.Lock()
		r.willBeCalled = cb
		r.mu.Unlock()
		return nil
	case hookSendIsCalled:
		cb, ok := fn.(SendIsCalled)
		if !ok {
			return apierrors.NewConstructionError("middleware %q: handler has the wrong signature", name)
		}
		r.mu.Lock()
		r.isCalled = cb
		r.mu.Unlock()
		return nil
	default:
		return apierrors.NewConstructionError("middleware: unknown hook %q", name)
	}
}

// CallSendWillBeCalled invokes the sendWillBeCalled hook, if any, returning
// nil when no handler is registered.
func (r *Registry) CallSendWillBeCalled(req Request) Response {
	r.mu.RLock()
	cb := r.willBeCalled
	r.mu.RUnlock()
	if cb == nil {
		return nil
	}
	return cb(req)
}

// CallSendIsCalled invokes the sendIsCalled hook, if any, returning nil when
// no handler is registered.
func (r *Registry) CallSendIsCalled(req Request, resp Response) Response {
	r.mu.RLock()
	cb := r.isCalled
	r.mu.RUnlock()
	if cb == nil {
		return nil
	}
	return cb(req, resp)
}
