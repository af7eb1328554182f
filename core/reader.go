package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adred-codev/tradeapi-go/apierrors"
	"github.com/adred-codev/tradeapi-go/multicast"
)

// readLoop decodes frames off the transport until it closes or ctx is done,
// handing each one to handleFrame. A read error that means the connection
// itself is gone rejects connected and ends the loop; any other read error
// is just published on sanityErrors and the loop keeps going.
func (c *Core) readLoop(ctx context.Context) {
	for {
		data, err := c.transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.sanity.Next(err)
			if c.metrics != nil {
				c.metrics.SanityErrors.Inc()
			}
			if c.transportClosed() {
				c.transitionToDisconnected(err)
				return
			}
			continue
		}

		if c.metrics != nil {
			c.metrics.FramesProcessed.Inc()
		}

		var resp map[string]any
		if err := json.Unmarshal(data, &resp); err != nil {
			c.sanity.Next(apierrors.NewAPIError("core: malformed frame: %v", err))
			if c.metrics != nil {
				c.metrics.SanityErrors.Inc()
			}
			continue
		}

		c.handleFrame(resp)
	}
}

// transportClosed reports whether the transport already considers the
// connection closed, without blocking: the distinction between "recv failed
// because the peer went away" and "recv failed for some other, transient
// reason" the reader loop needs to decide whether to exit or keep going.
func (c *Core) transportClosed() bool {
	select {
	case <-c.transport.Closed():
		return true
	default:
		return false
	}
}

// handleFrame is the demultiplexing algorithm: emit the message event, check
// the frame actually belongs to a request this core made, settle any
// matching expectation, route server errors, and deliver to (or clean up
// after) the pending channel the request originally opened.
func (c *Core) handleFrame(resp map[string]any) {
	c.events.Next(Event{Name: "message", Data: resp})

	reqID, hasReqID := reqIDOf(resp)

	var ch *multicast.Channel
	if hasReqID {
		c.mu.Lock()
		ch = c.pending[reqID]
		c.mu.Unlock()
	}

	if ch == nil {
		c.sanity.Next(apierrors.NewAPIError("Extra response"))
		if c.metrics != nil {
			c.metrics.SanityErrors.Inc()
		}
		return
	}

	if mt, _ := resp["msg_type"].(string); mt != "" {
		c.resolveExpectation(mt, resp)
	}

	if errObj, ok := resp["error"].(map[string]any); ok && !isParentPOCEcho(resp) {
		apiErr := &apierrors.ResponseError{
			Code:    strField(errObj, "code"),
			Message: strField(errObj, "message"),
			EchoReq: mapField(resp, "echo_req"),
			MsgType: strField(resp, "msg_type"),
			ReqID:   reqID,
		}
		ch.Error(apiErr)
		c.removePending(reqID)
		return
	}

	if ch.IsStopped() {
		if subID := subscriptionIDOf(resp); subID != "" {
			c.scheduleForget(subID)
		}
		c.removePending(reqID)
		return
	}

	ch.Next(resp)

	if !looksLikeSubscriptionFrame(resp) {
		ch.Complete()
		ch.Dispose()
		c.removePending(reqID)
	}
}

func (c *Core) resolveExpectation(msgType string, resp map[string]any) {
	c.expectMu.Lock()
	f, ok := c.expectations[msgType]
	if ok {
		delete(c.expectations, msgType)
	}
	c.expectMu.Unlock()
	if ok {
		_ = f.Resolve(resp)
	}
}

// scheduleForget runs when a reply still arrives for a subscription id
// whose local pending channel was already stopped out from under it: the
// caller is gone, so the core forgets the subscription on its behalf
// instead of leaking it upstream.
func (c *Core) scheduleForget(subID string) {
	c.AddTask("forget-orphan:"+subID, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := c.Send(ctx, map[string]any{"forget": subID}); err != nil {
			c.sanity.Next(&apierrors.AddedTaskError{Inner: err, Name: "forget-orphan:" + subID})
		}
	})
}

func reqIDOf(resp map[string]any) (int64, bool) {
	v, ok := resp["req_id"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func isParentPOCEcho(resp map[string]any) bool {
	echo, ok := resp["echo_req"].(map[string]any)
	if !ok {
		return false
	}
	_, hasPOC := echo["proposal_open_contract"]
	_, hasContractID := echo["contract_id"]
	return hasPOC && !hasContractID
}

func subscriptionIDOf(resp map[string]any) string {
	sub, ok := resp["subscription"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := sub["id"].(string)
	return id
}

func looksLikeSubscriptionFrame(resp map[string]any) bool {
	if _, ok := resp["subscription"]; ok {
		return true
	}
	echo, ok := resp["echo_req"].(map[string]any)
	if !ok {
		return false
	}
	v, ok := echo["subscribe"]
	if !ok {
		return false
	}
	f, ok := v.(float64)
	return ok && f == 1
}

func strField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func mapField(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}
