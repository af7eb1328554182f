package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adred-codev/tradeapi-go/multicast"
	"github.com/rs/zerolog"
)

type fakeCore struct {
	mu          sync.Mutex
	sendCalls   []map[string]any
	sourceCalls []map[string]any
	nextSource  []*multicast.Channel
	tasks       map[string]context.CancelFunc
}

func (f *fakeCore) Send(ctx context.Context, req map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, req)
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeCore) SendAndGetSource(ctx context.Context, req map[string]any) (*multicast.Channel, error) {
	f.mu.Lock()
	f.sourceCalls = append(f.sourceCalls, req)
	var ch *multicast.Channel
	if len(f.nextSource) > 0 {
		ch = f.nextSource[0]
		f.nextSource = f.nextSource[1:]
	} else {
		ch = multicast.New()
	}
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeCore) AddTask(name string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	if f.tasks == nil {
		f.tasks = make(map[string]context.CancelFunc)
	}
	f.tasks[name] = cancel
	f.mu.Unlock()
	go fn(ctx)
}

func (f *fakeCore) lastSent() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls[len(f.sendCalls)-1]
}

func (f *fakeCore) sourceCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sourceCalls)
}

func newTestManager() (*Manager, *fakeCore) {
	fc := &fakeCore{}
	return New(fc, zerolog.Nop(), nil), fc
}

func TestSubscribe_RejectsNonSubscribableRequest(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.Subscribe(context.Background(), map[string]any{"active_symbols": "brief"})
	if err == nil {
		t.Fatal("Subscribe should reject a request with no subscribable key")
	}
}

func TestSubscribe_DedupSameFingerprint(t *testing.T) {
	m, fc := newTestManager()

	req := map[string]any{"ticks": "R_100", "subscribe": 1}
	ch1, err := m.Subscribe(context.Background(), req)
	if err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	ch2, err := m.Subscribe(context.Background(), req)
	if err != nil {
		t.Fatalf("second Subscribe: %v", err)
	}
	if ch1 != ch2 {
		t.Fatal("two Subscribe calls for the identical request returned different channels")
	}
	if fc.sourceCallCount() != 1 {
		t.Fatalf("SendAndGetSource called %d times, want 1", fc.sourceCallCount())
	}
}

func TestSubscribe_ProposalOpenContractRidesBuyAlias(t *testing.T) {
	m, fc := newTestManager()

	buyOrig := multicast.New()
	fc.mu.Lock()
	fc.nextSource = append(fc.nextSource, buyOrig)
	fc.mu.Unlock()

	buyCh, err := m.Subscribe(context.Background(), map[string]any{"buy": 1, "price": 10, "subscribe": 1})
	if err != nil {
		t.Fatalf("Subscribe(buy): %v", err)
	}

	// let the manager's watch task attach its onEmission subscriber before
	// the contract_id-bearing reply arrives.
	time.Sleep(10 * time.Millisecond)
	buyOrig.Next(map[string]any{
		"buy":          map[string]any{"contract_id": "C1"},
		"subscription": map[string]any{"id": "sub-buy-1"},
	})
	time.Sleep(10 * time.Millisecond)

	pocCh, err := m.Subscribe(context.Background(), map[string]any{
		"proposal_open_contract": 1,
		"contract_id":            "C1",
		"subscribe":              1,
	})
	if err != nil {
		t.Fatalf("Subscribe(proposal_open_contract): %v", err)
	}
	if pocCh != buyCh {
		t.Fatal("proposal_open_contract for the bought contract should alias the buy stream, not open a new one")
	}
	if fc.sourceCallCount() != 1 {
		t.Fatalf("SendAndGetSource called %d times, want 1 (alias should not open a physical stream)", fc.sourceCallCount())
	}
}

func TestForget_CompletesStreamAndSendsForget(t *testing.T) {
	m, fc := newTestManager()

	orig := multicast.New()
	fc.mu.Lock()
	fc.nextSource = append(fc.nextSource, orig)
	fc.mu.Unlock()

	ch, err := m.Subscribe(context.Background(), map[string]any{"ticks": "R_100", "subscribe": 1})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	orig.Next(map[string]any{
		"msg_type":     "tick",
		"subscription": map[string]any{"id": "sub-ticks-1"},
	})
	time.Sleep(10 * time.Millisecond)

	if err := m.Forget(context.Background(), "sub-ticks-1"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if !ch.IsStopped() {
		t.Fatal("Forget should complete the local shared stream")
	}
	if got := fc.lastSent(); got["forget"] != "sub-ticks-1" {
		t.Fatalf("lastSent = %v, want forget=sub-ticks-1", got)
	}
}

func TestForget_UnknownIDIsRejected(t *testing.T) {
	m, _ := newTestManager()
	if err := m.Forget(context.Background(), "no-such-id"); err == nil {
		t.Fatal("Forget should reject an id the manager never saw")
	}
}

func TestForgetAll_MatchesByMsgType(t *testing.T) {
	m, fc := newTestManager()

	ticksOrig := multicast.New()
	balanceOrig := multicast.New()
	fc.mu.Lock()
	fc.nextSource = append(fc.nextSource, ticksOrig, balanceOrig)
	fc.mu.Unlock()

	ticksCh, err := m.Subscribe(context.Background(), map[string]any{"ticks": "R_100", "subscribe": 1})
	if err != nil {
		t.Fatalf("Subscribe(ticks): %v", err)
	}
	balanceCh, err := m.Subscribe(context.Background(), map[string]any{"balance": 1, "subscribe": 1})
	if err != nil {
		t.Fatalf("Subscribe(balance): %v", err)
	}

	if err := m.ForgetAll(context.Background(), "ticks"); err != nil {
		t.Fatalf("ForgetAll: %v", err)
	}
	if !ticksCh.IsStopped() {
		t.Fatal("ForgetAll(\"ticks\") should have completed the ticks stream")
	}
	if balanceCh.IsStopped() {
		t.Fatal("ForgetAll(\"ticks\") should not touch the balance stream")
	}
}

func TestCompleteSubsByKey_AliasDoesNotOutliveItsBuyStream(t *testing.T) {
	m, fc := newTestManager()

	buyOrig := multicast.New()
	fc.mu.Lock()
	fc.nextSource = append(fc.nextSource, buyOrig)
	fc.mu.Unlock()

	_, err := m.Subscribe(context.Background(), map[string]any{"buy": 1, "price": 10, "subscribe": 1})
	if err != nil {
		t.Fatalf("Subscribe(buy): %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	buyOrig.Next(map[string]any{
		"buy":          map[string]any{"contract_id": "C9"},
		"subscription": map[string]any{"id": "sub-buy-9"},
	})
	time.Sleep(10 * time.Millisecond)

	if err := m.Forget(context.Background(), "sub-buy-9"); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	// A later proposal_open_contract for the same contract_id must open a
	// fresh physical stream rather than aliasing the now-forgotten buy
	// stream: the alias table entry must not outlive it.
	secondOrig := multicast.New()
	fc.mu.Lock()
	fc.nextSource = append(fc.nextSource, secondOrig)
	fc.mu.Unlock()
	before := fc.sourceCallCount()

	_, err = m.Subscribe(context.Background(), map[string]any{
		"proposal_open_contract": 1,
		"contract_id":            "C9",
		"subscribe":              1,
	})
	if err != nil {
		t.Fatalf("Subscribe(proposal_open_contract): %v", err)
	}
	if fc.sourceCallCount() != before+1 {
		t.Fatalf("SendAndGetSource called %d times after the buy stream was forgotten, want %d (a fresh stream)", fc.sourceCallCount(), before+1)
	}
}
