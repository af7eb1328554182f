package cache

import (
	"context"
	"testing"

	"github.com/adred-codev/tradeapi-go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingUpstream struct {
	calls int
	resp  map[string]any
	err   error
}

func (u *countingUpstream) Send(ctx context.Context, req map[string]any) (map[string]any, error) {
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	return u.resp, nil
}

func TestNew_RejectsNilUpstream(t *testing.T) {
	_, err := New(nil, storage.NewInMemory())
	require.Error(t, err)
}

func TestNew_DefaultsStorage(t *testing.T) {
	up := &countingUpstream{resp: map[string]any{"msg_type": "ping", "ping": "pong"}}
	c, err := New(up, nil)
	require.NoError(t, err)
	require.NotNil(t, c.Storage())
}

func TestSend_ForwardsOnMiss(t *testing.T) {
	up := &countingUpstream{resp: map[string]any{"msg_type": "ping", "ping": "pong"}}
	c, err := New(up, storage.NewInMemory())
	require.NoError(t, err)

	resp, err := c.Send(context.Background(), map[string]any{"ping": 1})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp["ping"])
	assert.Equal(t, 1, up.calls)
}

func TestSend_HitsCacheOnSecondCall(t *testing.T) {
	up := &countingUpstream{resp: map[string]any{"msg_type": "ping", "ping": "pong"}}
	c, err := New(up, storage.NewInMemory())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Send(ctx, map[string]any{"ping": 1})
	require.NoError(t, err)
	_, err = c.Send(ctx, map[string]any{"ping": 1, "req_id": 42})
	require.NoError(t, err)

	assert.Equal(t, 1, up.calls, "second send with a different req_id should answer from cache, not hit upstream again")
}

func TestSend_HitHookFiresOnlyOnHit(t *testing.T) {
	up := &countingUpstream{resp: map[string]any{"msg_type": "ping", "ping": "pong"}}
	c, err := New(up, storage.NewInMemory())
	require.NoError(t, err)

	hits := 0
	c.SetHitHook(func() { hits++ })

	ctx := context.Background()
	_, _ = c.Send(ctx, map[string]any{"ping": 1})
	assert.Equal(t, 0, hits)

	_, _ = c.Send(ctx, map[string]any{"ping": 1})
	assert.Equal(t, 1, hits)
}

func TestSend_PropagatesUpstreamError(t *testing.T) {
	up := &countingUpstream{err: assert.AnError}
	c, err := New(up, storage.NewInMemory())
	require.NoError(t, err)

	_, err = c.Send(context.Background(), map[string]any{"ping": 1})
	assert.ErrorIs(t, err, assert.AnError)
}
