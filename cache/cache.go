// Package cache wraps a send-capable upstream with fingerprint-keyed
// memoisation: an identical request is answered from storage instead of
// being forwarded a second time.
package cache

import (
	"context"

	"github.com/adred-codev/tradeapi-go/apierrors"
	"github.com/adred-codev/tradeapi-go/fingerprint"
	"github.com/adred-codev/tradeapi-go/storage"
)

// Sender is anything that can answer a request, satisfied by both the core
// and by another Cache — this is what lets a persistent cache and a
// volatile cache chain in front of the core (§4.2 of the design).
type Sender interface {
	Send(ctx context.Context, req map[string]any) (map[string]any, error)
}

// Cache checks storage before forwarding to upstream, and records every
// upstream reply for future lookups.
type Cache struct {
	upstream Sender
	storage  storage.Storage
	onHit    func()
}

// New builds a Cache. upstream must be non-nil; storage defaults to a
// fresh in-memory store when nil.
func New(upstream Sender, store storage.Storage) (*Cache, error) {
	if upstream == nil {
		return nil, apierrors.NewConstructionError("cache: upstream sender is required")
	}
	if store == nil {
		store = storage.NewInMemory()
	}
	return &Cache{upstream: upstream, storage: store}, nil
}

// SetHitHook installs a callback invoked every time Send answers from
// storage without forwarding upstream. Used by the core to feed a cache-hit
// counter without this package depending on the metrics package.
func (c *Cache) SetHitHook(fn func()) { c.onHit = fn }

// Send answers req from storage when a matching fingerprint is cached,
// otherwise forwards to upstream and records the reply.
func (c *Cache) Send(ctx context.Context, req map[string]any) (map[string]any, error) {
	fp := fingerprint.Compute(req)
	if v, ok := c.storage.Get(fp); ok {
		if c.onHit != nil {
			c.onHit()
		}
		return v, nil
	}

	resp, err := c.upstream.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	c.storage.Set(fp, resp)
	return resp, nil
}

// Storage exposes the backing store.
func (c *Cache) Storage() storage.Storage { return c.storage }
