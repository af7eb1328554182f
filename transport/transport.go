// Package transport implements the minimal WebSocket client dialer the core
// uses when it is not handed an externally-constructed transport. It
// satisfies the narrow send/recv/close/closed contract the core depends on
// (see core.Transport) without the core importing this package's dialing
// internals.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// BuildURL assembles the streaming endpoint from its parts, per the wire
// contract: wss://<host>/websockets/v3?app_id=<app_id>&l=<lang>&brand=<brand>.
// endpoint may carry its own ws:// or wss:// scheme; anything else (bare
// host, or no scheme at all) defaults to wss://.
func BuildURL(endpoint, appID, lang, brand string) (string, error) {
	raw := endpoint
	if !hasWSScheme(raw) {
		raw = "wss://" + trimScheme(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("transport: malformed endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("transport: endpoint %q is not a well-formed ws(s):// URL", endpoint)
	}
	if u.Host == "" {
		return "", fmt.Errorf("transport: endpoint %q has no host", endpoint)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/websockets/v3"
	}

	q := u.Query()
	q.Set("app_id", appID)
	q.Set("l", lang)
	q.Set("brand", brand)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func hasWSScheme(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}

func trimScheme(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		return s[i+3:]
	}
	return s
}

// Client is a gobwas/ws-backed WebSocket client transport.
type Client struct {
	conn      net.Conn
	closed    chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// Dial opens a client WebSocket connection to urlStr.
func Dial(ctx context.Context, urlStr string) (*Client, error) {
	conn, _, _, err := ws.Dial(ctx, urlStr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %q: %w", urlStr, err)
	}
	return &Client{conn: conn, closed: make(chan struct{})}, nil
}

// Send writes data as a single text frame. Safe for concurrent use: the
// core runs one writer goroutine per send, so writes can overlap.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Recv blocks for the next text frame, ignoring pings and pongs (gobwas/ws
// answers those transparently). Returns an error wrapping io.EOF-like
// conditions when the peer closes the connection. A read error or a close
// frame also signals Closed(), since the connection cannot be read again.
func (c *Client) Recv(ctx context.Context) ([]byte, error) {
	for {
		data, op, err := wsutil.ReadServerData(c.conn)
		if err != nil {
			c.closeOnce.Do(func() { close(c.closed) })
			return nil, err
		}
		switch op {
		case ws.OpText, ws.OpBinary:
			return data, nil
		case ws.OpClose:
			c.closeOnce.Do(func() { close(c.closed) })
			return nil, fmt.Errorf("transport: connection closed by peer")
		default:
			continue
		}
	}
}

// Close closes the underlying connection and signals Closed(). Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}

// Closed returns a channel closed once Close has run or Recv has seen the
// connection end.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}
