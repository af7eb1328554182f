package subscription

import (
	"context"

	"github.com/adred-codev/tradeapi-go/apierrors"
	"github.com/adred-codev/tradeapi-go/fingerprint"
)

// Forget cancels the physical subscription carrying server-assigned id,
// completing its shared stream and notifying the upstream API. Unknown ids
// are rejected rather than silently ignored: a caller forgetting a stale id
// almost always indicates a bookkeeping bug worth surfacing.
func (m *Manager) Forget(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return apierrors.NewAPIError("subscription: unknown subscription id %q", id)
	}

	if retired := m.completeSubsByKey(e.key); retired != nil {
		retired.channel.Complete()
		retired.channel.Dispose()
		if m.metrics != nil {
			m.metrics.ActiveSubs.Dec()
		}
	}

	_, err := m.core.Send(ctx, map[string]any{"forget": id})
	return err
}

// ForgetAll cancels every open subscription whose request key matches one
// of types, issuing a single forget_all call and completing every matching
// local stream.
func (m *Manager) ForgetAll(ctx context.Context, types ...string) error {
	wanted := make(map[string]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	m.mu.Lock()
	var keys []fingerprint.Fingerprint
	for k, e := range m.byKey {
		if _, match := wanted[e.msgType]; match || len(types) == 0 {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()

	for _, k := range keys {
		if retired := m.completeSubsByKey(k); retired != nil {
			retired.channel.Complete()
			retired.channel.Dispose()
			if m.metrics != nil {
				m.metrics.ActiveSubs.Dec()
			}
		}
	}

	req := map[string]any{"forget_all": types}
	_, err := m.core.Send(ctx, req)
	return err
}
