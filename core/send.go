package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adred-codev/tradeapi-go/deferred"
	"github.com/adred-codev/tradeapi-go/multicast"
)

// Send answers req from the cache when an identical request (ignoring
// req_id, passthrough, and subscribe) has already been sent, otherwise
// forwards it to the wire and records the reply for next time. This is the
// entry point typed per-method callers are expected to use; it never skips
// the cache the way SendAndGetSource does.
func (c *Core) Send(ctx context.Context, req map[string]any) (map[string]any, error) {
	return c.volatileCache.Send(ctx, req)
}

// sendRaw is the uncached wire round trip Send's cache chain bottoms out
// on: middleware pre-hook, dispatch, await the first reply, middleware
// post-hook.
func (c *Core) sendRaw(ctx context.Context, req map[string]any) (map[string]any, error) {
	if override := c.middlewares.CallSendWillBeCalled(req); len(override) > 0 {
		return override, nil
	}

	ch, err := c.SendAndGetSource(ctx, req)
	if err != nil {
		return nil, err
	}

	v, err := ch.FirstCtx(ctx)
	if err != nil {
		return nil, err
	}
	resp, _ := v.(map[string]any)

	if override := c.middlewares.CallSendIsCalled(req, resp); len(override) > 0 {
		return override, nil
	}
	return resp, nil
}

// SendAndGetSource registers req in the pending table under its own integer
// req_id, or the next generated one when it carries none, and returns its
// multicast channel immediately, then schedules an asynchronous writer that
// awaits Connected before touching the transport: a Send/Subscribe issued
// before Connect resolves does not race the nil pre-Connect transport, it
// simply waits. Any error from that wait, from marshalling, or from the
// transport write is routed to the channel as an error emission rather than
// returned here — by the time the caller observes it, the request is already
// irrevocably associated with this channel.
func (c *Core) SendAndGetSource(ctx context.Context, req map[string]any) (*multicast.Channel, error) {
	id, ok := reqIDOf(req)
	if !ok {
		id = c.nextReqID()
	}

	out := make(map[string]any, len(req)+1)
	for k, v := range req {
		out[k] = v
	}
	out["req_id"] = id

	ch := multicast.New()
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.AddTask(fmt.Sprintf("send:%d", id), func(context.Context) {
		if _, err := c.connectedFuture().Await(ctx); err != nil {
			ch.Error(fmt.Errorf("core: connect: %w", err))
			c.removePending(id)
			return
		}

		data, err := json.Marshal(out)
		if err != nil {
			ch.Error(fmt.Errorf("core: marshal request: %w", err))
			c.removePending(id)
			return
		}

		c.events.Next(Event{Name: "send", Data: out})

		if err := c.transport.Send(ctx, data); err != nil {
			ch.Error(fmt.Errorf("core: send frame: %w", err))
			c.removePending(id)
			return
		}

		if c.metrics != nil {
			c.metrics.RequestsSent.Inc()
		}
	})

	return ch, nil
}

// ExpectResponse waits for the next frame of msgType that answers a pending
// request, answering immediately from the storage of record when a reply of
// that type has already been stored there by Send.
func (c *Core) ExpectResponse(ctx context.Context, msgType string) (map[string]any, error) {
	if resp, ok := c.storage.GetByMsgType(msgType); ok {
		return resp, nil
	}

	f := deferred.New()
	c.expectMu.Lock()
	c.expectations[msgType] = f
	c.expectMu.Unlock()

	v, err := f.Await(ctx)
	if err != nil {
		c.expectMu.Lock()
		if cur, ok := c.expectations[msgType]; ok && cur == f {
			delete(c.expectations, msgType)
		}
		c.expectMu.Unlock()
		return nil, err
	}

	resp, _ := v.(map[string]any)
	return resp, nil
}

func (c *Core) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
