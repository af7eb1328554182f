package core

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-process stand-in for transport.Client: Send
// records every outgoing frame, and the test pushes frames in on in to
// simulate server replies.
type fakeTransport struct {
	mu        sync.Mutex
	sentFrame []map[string]any

	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.sentFrame = append(f.sentFrame, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Closed() <-chan struct{} { return f.closed }

// push simulates a server frame arriving on the wire.
func (f *fakeTransport) push(frame map[string]any) {
	data, _ := json.Marshal(frame)
	f.in <- data
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentFrame)
}

func (f *fakeTransport) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sentFrame[len(f.sentFrame)-1]
}

// waitSent blocks until at least n frames have been sent and returns the
// latest one. The core writes each request from its own goroutine, so a
// frame is not on the wire yet when SendAndGetSource returns.
func (f *fakeTransport) waitSent(t *testing.T, n int) map[string]any {
	t.Helper()
	deadline := time.After(time.Second)
	for f.sentCount() < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d outgoing frame(s), got %d", n, f.sentCount())
		case <-time.After(time.Millisecond):
		}
	}
	return f.last()
}
