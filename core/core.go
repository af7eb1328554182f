// Package core implements ConnectionCore: the single physical connection to
// the streaming API, its request/response demultiplexer, and the event and
// sanity-error buses every other component observes.
package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/adred-codev/tradeapi-go/apierrors"
	"github.com/adred-codev/tradeapi-go/cache"
	"github.com/adred-codev/tradeapi-go/deferred"
	"github.com/adred-codev/tradeapi-go/internal/metrics"
	"github.com/adred-codev/tradeapi-go/middleware"
	"github.com/adred-codev/tradeapi-go/multicast"
	"github.com/adred-codev/tradeapi-go/storage"
	"github.com/adred-codev/tradeapi-go/subscription"
	"github.com/adred-codev/tradeapi-go/transport"
	"github.com/rs/zerolog"
)

const defaultEndpoint = "wss://ws.example-broker.test"

// errGracefulDisconnect settles connected when disconnect runs against an
// already-connected core.
var errGracefulDisconnect = errors.New("core: disconnected")

// Transport is the narrow wire contract the core depends on. transport.Client
// satisfies it; tests substitute an in-process fake.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
	Closed() <-chan struct{}
}

// Event is published on Events() for every send/message/connect/close
// transition the core goes through.
type Event struct {
	Name string
	Data any
}

// Options configures New. Transport or AppID (with optional
// Endpoint/Lang/Brand) must be set: supply Transport to drive an
// already-established connection, or leave it nil to have Connect dial
// Endpoint itself. When Transport is set, the dialing fields are unused.
type Options struct {
	Transport Transport

	Endpoint string
	AppID    string
	Lang     string
	Brand    string

	// PersistentStorage, if set, backs a second cache layer between the
	// volatile one and the wire, and doubles as the storage of record ExpectResponse
	// consults. Nil means the core keeps only the in-memory volatile layer.
	PersistentStorage storage.Storage

	Middlewares *middleware.Registry
	Metrics     *metrics.Collector
	Logger      zerolog.Logger
}

// Core is ConnectionCore (§4.5): it owns the transport, the pending and
// expectation tables, and delegates all streaming bookkeeping to an embedded
// subscription.Manager.
type Core struct {
	logger      zerolog.Logger
	metrics     *metrics.Collector
	middlewares *middleware.Registry

	transport      Transport
	transportOwned bool
	endpoint       string
	appID          string
	lang           string
	brand          string

	storage         storage.Storage
	persistentCache *cache.Cache
	volatileCache   *cache.Cache

	mu      sync.Mutex
	pending map[int64]*multicast.Channel
	reqSeq  int64

	expectMu     sync.Mutex
	expectations map[string]*deferred.Future

	connMu    sync.Mutex
	connected *deferred.Future
	events    *multicast.Channel
	sanity    *multicast.Channel

	tasksMu sync.Mutex
	tasks   map[string]context.CancelFunc
	taskWG  sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	sub *subscription.Manager
}

// New validates opts and builds a Core. Connect still has to be called
// before any request is sent.
func New(opts Options) (*Core, error) {
	if opts.Transport == nil && opts.AppID == "" {
		return nil, apierrors.NewConstructionError("app_id is required when no transport is supplied")
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	lang := opts.Lang
	if lang == "" {
		lang = "EN"
	}
	brand := opts.Brand
	if brand == "" {
		brand = "tradeapi"
	}

	mw := opts.Middlewares
	if mw == nil {
		mw = middleware.New()
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())

	c := &Core{
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		middlewares:    mw,
		transport:      opts.Transport,
		transportOwned: opts.Transport == nil,
		endpoint:       endpoint,
		appID:          opts.AppID,
		lang:           lang,
		brand:          brand,
		pending:        make(map[int64]*multicast.Channel),
		expectations:   make(map[string]*deferred.Future),
		connected:      deferred.New(),
		events:         multicast.New(),
		sanity:         multicast.New(),
		tasks:          make(map[string]context.CancelFunc),
		rootCtx:        rootCtx,
		rootCancel:     rootCancel,
	}

	volatileStorage := storage.NewInMemory()
	record := opts.PersistentStorage
	if record == nil {
		record = volatileStorage
	}
	c.storage = record

	var upstream cache.Sender = coreRawSender{c}
	if opts.PersistentStorage != nil {
		pc, err := cache.New(upstream, opts.PersistentStorage)
		if err != nil {
			return nil, err
		}
		c.persistentCache = pc
		upstream = pc
	}
	vc, err := cache.New(upstream, volatileStorage)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		vc.SetHitHook(func() { c.metrics.CacheHits.Inc() })
	}
	c.volatileCache = vc

	c.sub = subscription.New(c, c.logger, c.metrics)

	return c, nil
}

// coreRawSender adapts Core's wire-level dispatch to cache.Sender, so the
// cache layers can sit in front of it without the cache package knowing
// about core at all.
type coreRawSender struct{ core *Core }

func (s coreRawSender) Send(ctx context.Context, req map[string]any) (map[string]any, error) {
	return s.core.sendRaw(ctx, req)
}

// Connect dials the transport (if one was not supplied) and starts the
// reader loop. Safe to call only once per Core.
func (c *Core) Connect(ctx context.Context) error {
	if c.transport == nil {
		u, err := transport.BuildURL(c.endpoint, c.appID, c.lang, c.brand)
		if err != nil {
			_ = c.connected.Reject(err)
			return err
		}
		tr, err := transport.Dial(ctx, u)
		if err != nil {
			_ = c.connected.Reject(err)
			return err
		}
		c.transport = tr
	}

	_ = c.connected.Resolve(struct{}{})
	c.events.Next(Event{Name: "connect"})

	go c.readLoop(c.rootCtx)
	go func() {
		<-c.transport.Closed()
		c.events.Next(Event{Name: "close"})
	}()

	return nil
}

// connectedFuture returns the current connected future under lock: disconnect
// swaps in a freshly rejected one once the original has already resolved, so
// readers must not cache the pointer across a disconnect.
func (c *Core) connectedFuture() *deferred.Future {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connected
}

// Connected resolves once Connect has established the transport, is
// rejected if Connect fails to establish it, and is rejected again once
// disconnect runs.
func (c *Core) Connected() *deferred.Future { return c.connectedFuture() }

// Events returns the core's event bus (send/message/connect/close).
func (c *Core) Events() *multicast.Channel { return c.events }

// SanityErrors returns the bus non-fatal anomalies are published on, as
// values via Next: frames no pending request is waiting on, read and decode
// failures, and errors escaping supervised background tasks.
func (c *Core) SanityErrors() *multicast.Channel { return c.sanity }

// Subscribe opens or joins a streaming subscription for req, delegating the
// fan-out and aliasing logic to the embedded subscription manager.
func (c *Core) Subscribe(ctx context.Context, req map[string]any) (*multicast.Channel, error) {
	return c.sub.Subscribe(ctx, req)
}

// Forget cancels the subscription carrying server-assigned id.
func (c *Core) Forget(ctx context.Context, id string) error {
	return c.sub.Forget(ctx, id)
}

// ForgetAll cancels every open subscription matching msgTypes (all of them,
// if none are given).
func (c *Core) ForgetAll(ctx context.Context, msgTypes ...string) error {
	return c.sub.ForgetAll(ctx, msgTypes...)
}

// nextReqID hands out a unique request id for the lifetime of the Core.
func (c *Core) nextReqID() int64 {
	return atomic.AddInt64(&c.reqSeq, 1)
}

// transitionToDisconnected rejects connected with err, swapping in a freshly
// rejected future when the current one has already resolved (a Future
// settles only once, so re-rejecting it in place would silently no-op).
// Reports whether connected was actually resolved, i.e. whether there was
// anything to transition.
func (c *Core) transitionToDisconnected(err error) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if !c.connected.IsResolved() {
		return false
	}
	next := deferred.New()
	_ = next.Reject(err)
	c.connected = next
	return true
}

// Disconnect is a no-op unless the core is currently connected. Otherwise it
// rejects connected with a graceful-close error, emits close, and — only if
// the transport was created internally by Connect rather than supplied by
// the caller — closes it. An externally supplied transport outlives
// Disconnect; the caller owns its lifecycle.
func (c *Core) Disconnect() error {
	if !c.transitionToDisconnected(errGracefulDisconnect) {
		return nil
	}

	c.events.Next(Event{Name: "close"})

	if c.transportOwned && c.transport != nil {
		return c.transport.Close()
	}
	return nil
}

// Clear runs Disconnect, then cancels every background task the core owns
// (everything registered through AddTask: send writers, orphan-forget
// tasks, subscription watchers) and waits for them to exit.
func (c *Core) Clear() {
	_ = c.Disconnect()
	c.rootCancel()
	c.taskWG.Wait()
}
