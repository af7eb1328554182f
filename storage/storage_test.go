package storage

import (
	"testing"

	"github.com/adred-codev/tradeapi-go/fingerprint"
	"github.com/stretchr/testify/assert"
)

func TestInMemory_SetGetHas(t *testing.T) {
	s := NewInMemory()
	key := fingerprint.Fingerprint("k1")

	assert.False(t, s.Has(key))
	_, ok := s.Get(key)
	assert.False(t, ok)

	s.Set(key, Response{"msg_type": "ping", "ping": "pong"})

	assert.True(t, s.Has(key))
	v, ok := s.Get(key)
	assert.True(t, ok)
	assert.Equal(t, "pong", v["ping"])
}

func TestInMemory_GetByMsgType(t *testing.T) {
	s := NewInMemory()
	s.Set(fingerprint.Fingerprint("k1"), Response{"msg_type": "ticks", "ticks": map[string]any{"quote": 1}})

	v, ok := s.GetByMsgType("ticks")
	assert.True(t, ok)
	assert.Equal(t, "ticks", v["msg_type"])

	_, ok = s.GetByMsgType("balance")
	assert.False(t, ok)
}

func TestInMemory_SetWithoutMsgType(t *testing.T) {
	s := NewInMemory()
	s.Set(fingerprint.Fingerprint("k1"), Response{"ping": "pong"})

	_, ok := s.Get(fingerprint.Fingerprint("k1"))
	assert.True(t, ok)
	_, ok = s.GetByMsgType("")
	assert.False(t, ok)
}
