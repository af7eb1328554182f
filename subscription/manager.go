// Package subscription manages the logical-to-physical fan-out of streaming
// requests: many local callers subscribing to an identical request share one
// upstream subscription, and proposal_open_contract subscriptions for a
// contract a caller just bought ride the buy stream's alias instead of
// opening a second one.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/adred-codev/tradeapi-go/apierrors"
	"github.com/adred-codev/tradeapi-go/fingerprint"
	"github.com/adred-codev/tradeapi-go/internal/metrics"
	"github.com/adred-codev/tradeapi-go/multicast"
	"github.com/rs/zerolog"
)

// Core is the slice of the connection core the manager depends on. Defined
// here rather than imported from package core so that core -> subscription
// stays a one-way dependency: core holds a *Manager, Manager holds this
// interface, and *core.Core happens to satisfy it.
type Core interface {
	Send(ctx context.Context, req map[string]any) (map[string]any, error)
	SendAndGetSource(ctx context.Context, req map[string]any) (*multicast.Channel, error)
	AddTask(name string, fn func(ctx context.Context))
}

// WatchTaskPrefix names every per-stream watcher task the manager registers
// via Core.AddTask; the fingerprint after it makes a new watcher for the
// same key replace the earlier one.
const WatchTaskPrefix = "subscription-watch:"

// subscribableTypes are the request keys that open a streaming subscription
// when sent with subscribe:1, ordered by first registration. Anything else
// passed to Subscribe is rejected. A request may carry more than one of
// these keys only in principle; msgType always picks the earliest one in
// this order, matching the upstream client's own registration order.
var subscribableTypes = []string{
	"balance", "candles", "p2p_advertiser", "p2p_order",
	"proposal", "proposal_array", "proposal_open_contract",
	"ticks", "ticks_history", "transaction", "website_status", "buy",
}

// msgType returns the subscribable key present in req, or "" if none is.
func msgType(req map[string]any) string {
	for _, k := range subscribableTypes {
		if _, ok := req[k]; ok {
			return k
		}
	}
	return ""
}

type buyAlias struct {
	contractID any
	buyKey     fingerprint.Fingerprint
}

type entry struct {
	key     fingerprint.Fingerprint
	msgType string
	channel *multicast.Channel

	mu sync.Mutex
	id string // latest server-assigned subscription.id, "" until the first frame arrives
}

// Manager is the subscription half of the connection core (§4.6 of the
// design): it owns the logical-key -> physical-stream table, the
// id -> entry index used by Forget, and the buy/proposal_open_contract alias
// table.
type Manager struct {
	core    Core
	logger  zerolog.Logger
	metrics *metrics.Collector

	mu               sync.Mutex
	byKey            map[fingerprint.Fingerprint]*entry
	byID             map[string]*entry
	buyKeyToContract map[fingerprint.Fingerprint]buyAlias
}

// New builds a Manager. metrics may be nil.
func New(core Core, logger zerolog.Logger, met *metrics.Collector) *Manager {
	return &Manager{
		core:             core,
		logger:           logger,
		metrics:          met,
		byKey:            make(map[fingerprint.Fingerprint]*entry),
		byID:             make(map[string]*entry),
		buyKeyToContract: make(map[fingerprint.Fingerprint]buyAlias),
	}
}

// Subscribe returns the shared stream for req, opening a new physical
// subscription only if none of the existing ones answer it already.
func (m *Manager) Subscribe(ctx context.Context, req map[string]any) (*multicast.Channel, error) {
	mt := msgType(req)
	if mt == "" {
		return nil, apierrors.NewAPIError("subscription: %v is not a subscribable request", req)
	}

	key := fingerprint.Compute(req)

	if e, ok := m.lookupExisting(mt, key, req); ok {
		if m.metrics != nil {
			m.metrics.SubscribeDedupHits.Inc()
		}
		return e.channel, nil
	}

	out := make(map[string]any, len(req)+1)
	for k, v := range req {
		out[k] = v
	}
	out["subscribe"] = 1

	orig, err := m.core.SendAndGetSource(ctx, out)
	if err != nil {
		return nil, err
	}

	e := &entry{key: key, msgType: mt}
	shared := multicast.Share(orig, func() { m.forgetOldSource(key) })
	e.channel = shared

	m.mu.Lock()
	m.byKey[key] = e
	m.mu.Unlock()

	taskName := WatchTaskPrefix + string(key)
	m.core.AddTask(taskName, func(ctx context.Context) {
		// The watcher listens on orig, not shared, so it never counts as a
		// consumer and cannot keep shared's refcount above zero.
		retire := func() {
			if m.completeSubsByKey(key) != nil && m.metrics != nil {
				m.metrics.ActiveSubs.Dec()
			}
		}
		cancel := orig.Subscribe(
			func(v any) { m.onEmission(key, mt, v) },
			func(error) { retire() },
			retire,
		)
		<-ctx.Done()
		cancel()
	})

	if m.metrics != nil {
		m.metrics.ActiveSubs.Inc()
	}

	return shared, nil
}

// lookupExisting returns an already-open stream answering (mt, key, req),
// either an exact fingerprint match or, for proposal_open_contract, a buy
// stream's alias sharing the same contract_id.
func (m *Manager) lookupExisting(mt string, key fingerprint.Fingerprint, req map[string]any) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byKey[key]; ok {
		return e, true
	}

	if mt != "proposal_open_contract" {
		return nil, false
	}
	cid, ok := req["contract_id"]
	if !ok {
		return nil, false
	}
	for _, alias := range m.buyKeyToContract {
		if alias.contractID == cid {
			if e, ok := m.byKey[alias.buyKey]; ok {
				return e, true
			}
		}
	}
	return nil, false
}

// onEmission watches every frame delivered on a physical stream to keep the
// id index and the buy/contract alias table current.
func (m *Manager) onEmission(key fingerprint.Fingerprint, mt string, v any) {
	resp, ok := v.(map[string]any)
	if !ok {
		return
	}

	if sub, ok := resp["subscription"].(map[string]any); ok {
		if id, ok := sub["id"].(string); ok && id != "" {
			m.saveSubsID(key, id)
		}
	}

	if mt == "buy" {
		if buy, ok := resp["buy"].(map[string]any); ok {
			if cid, ok := buy["contract_id"]; ok {
				m.mu.Lock()
				m.buyKeyToContract[key] = buyAlias{contractID: cid, buyKey: key}
				m.mu.Unlock()
			}
		}
	}
}

// saveSubsID records id as the current server-assigned subscription id for
// key, retiring whatever id it previously held.
func (m *Manager) saveSubsID(key fingerprint.Fingerprint, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byKey[key]
	if !ok {
		return
	}

	e.mu.Lock()
	old := e.id
	e.id = id
	e.mu.Unlock()

	if old != "" {
		delete(m.byID, old)
	}
	m.byID[id] = e
}

// forgetOldSource runs when a shared stream's last local subscriber
// detaches: it retires the bookkeeping immediately and, if a server id was
// ever assigned, sends forget for it on a short-lived background context.
func (m *Manager) forgetOldSource(key fingerprint.Fingerprint) {
	e := m.completeSubsByKey(key)
	if e == nil {
		return
	}

	e.channel.Dispose()
	if m.metrics != nil {
		m.metrics.ActiveSubs.Dec()
	}

	e.mu.Lock()
	id := e.id
	e.mu.Unlock()
	if id == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := m.core.Send(ctx, map[string]any{"forget": id}); err != nil {
			m.logger.Warn().Err(err).Str("subscription_id", id).Msg("forget failed for an orphaned subscription")
		}
	}()
}

// completeSubsByKey removes key from every index the manager keeps,
// including its buy/contract alias if it has one, and returns the retired
// entry (nil if key was already gone). Because buyKeyToContract is keyed by
// the buy request's own fingerprint, deleting that key here is sufficient to
// keep an alias from ever outliving the buy stream it points at — no
// separate reverse lookup by contract_id is needed.
func (m *Manager) completeSubsByKey(key fingerprint.Fingerprint) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byKey[key]
	if !ok {
		return nil
	}
	delete(m.byKey, key)
	delete(m.buyKeyToContract, key)

	e.mu.Lock()
	id := e.id
	e.mu.Unlock()
	if id != "" {
		delete(m.byID, id)
	}
	return e
}
