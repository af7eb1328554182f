package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RequestsSent.Inc()
	c.CacheHits.Inc()
	c.ActiveSubs.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var found bool
	for _, f := range families {
		if f.GetName() == "tradeapi_active_subscriptions" {
			found = true
			require.Len(t, f.Metric, 1)
			require.Equal(t, float64(3), f.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, found, "active subscriptions gauge should be registered and gathered")
}

func TestNewCollector_NilRegistryDoesNotPanic(t *testing.T) {
	c := NewCollector(nil)
	c.SanityErrors.Inc()

	m := &dto.Metric{}
	require.NoError(t, c.SanityErrors.Write(m))
	require.Equal(t, float64(1), m.GetCounter().GetValue())
}
