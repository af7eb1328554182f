// Package apierrors defines the error taxonomy shared across the client core:
// construction-time misconfiguration, client-side protocol anomalies, server
// rejections, and background-task failures.
package apierrors

import "fmt"

// ConstructionError reports invalid configuration discovered while building
// a component (missing app id, malformed endpoint, a cache with no upstream).
type ConstructionError struct {
	Msg string
}

func (e *ConstructionError) Error() string { return "construction error: " + e.Msg }

// NewConstructionError returns a ConstructionError with the given message.
func NewConstructionError(format string, args ...any) *ConstructionError {
	return &ConstructionError{Msg: fmt.Sprintf(format, args...)}
}

// APIError reports a client-side protocol anomaly: an unsubscribable
// request, or a response bearing a req_id nothing is waiting on.
type APIError struct {
	Msg string
}

func (e *APIError) Error() string { return e.Msg }

// NewAPIError returns an APIError with the given message.
func NewAPIError(format string, args ...any) *APIError {
	return &APIError{Msg: fmt.Sprintf(format, args...)}
}

// ResponseError wraps a server-reported error for a non-parent-POC request.
type ResponseError struct {
	Code    string
	Message string
	EchoReq map[string]any
	MsgType string
	ReqID   int64
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s (msg_type=%s req_id=%d)", e.Code, e.Message, e.MsgType, e.ReqID)
}

// AddedTaskError wraps any error escaping a supervised background task. It
// is always routed to the sanity-error bus, never returned to a caller.
type AddedTaskError struct {
	Inner error
	Name  string
}

func (e *AddedTaskError) Error() string {
	return fmt.Sprintf("task %q: %v", e.Name, e.Inner)
}

func (e *AddedTaskError) Unwrap() error { return e.Inner }
