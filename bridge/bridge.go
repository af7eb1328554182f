// Package bridge forwards subscription emissions onto external message
// brokers, for operators who want the stream replicated into their own
// infrastructure instead of (or alongside) consuming it in-process.
package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/adred-codev/tradeapi-go/multicast"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sink publishes one already-encoded message.
type Sink interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Bridge subscribes to a channel and republishes every emission on a Sink,
// throttled to protect the downstream broker from a burst of frames (ticks
// subscriptions in particular can run to tens of messages per second).
type Bridge struct {
	sink    Sink
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New builds a Bridge. ratePerSec <= 0 disables throttling (every emission
// is forwarded as soon as it arrives).
func New(sink Sink, ratePerSec float64, burst int, logger zerolog.Logger) *Bridge {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return &Bridge{sink: sink, limiter: limiter, logger: logger}
}

// Forward subscribes to ch and republishes every value under subject until
// ctx is done or ch completes. Errors publishing a single frame are logged
// and do not stop the forward; a terminal channel error or completion ends
// the loop.
func (b *Bridge) Forward(ctx context.Context, subject string, ch *multicast.Channel) {
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	cancel := ch.Subscribe(
		func(v any) { b.publish(ctx, subject, v) },
		func(err error) {
			b.logger.Warn().Err(err).Str("subject", subject).Msg("bridge source errored")
			closeDone()
		},
		closeDone,
	)

	select {
	case <-ctx.Done():
	case <-done:
	}
	cancel()
}

func (b *Bridge) publish(ctx context.Context, subject string, v any) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn().Err(err).Str("subject", subject).Msg("bridge: could not encode frame")
		return
	}

	if err := b.sink.Publish(ctx, subject, data); err != nil {
		b.logger.Warn().Err(err).Str("subject", subject).Msg("bridge: publish failed")
	}
}

// Close releases the underlying Sink's connection.
func (b *Bridge) Close() error {
	if b.sink == nil {
		return nil
	}
	return b.sink.Close()
}
