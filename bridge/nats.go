package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes bridged frames onto a NATS subject via a core NATS
// connection (no JetStream: emissions are fire-and-forget, matching the
// streaming data's own at-most-once delivery from upstream).
type NATSSink struct {
	conn *nats.Conn
}

// DialNATS connects to url with a bounded reconnect policy: at most 10
// attempts, one second apart plus jitter, rather than a tight loop.
func DialNATS(url string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("bridge: connect to NATS at %q: %w", url, err)
	}
	return &NATSSink{conn: conn}, nil
}

// Publish ignores subject hierarchy beyond what NATS itself enforces;
// ctx is accepted only to satisfy Sink, since nats.Conn.Publish is
// synchronous and does not take one.
func (s *NATSSink) Publish(ctx context.Context, subject string, data []byte) error {
	return s.conn.Publish(subject, data)
}

// Close drains and closes the underlying connection.
func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}
