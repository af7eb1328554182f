// Package metrics exposes Prometheus instrumentation for the client core:
// request/cache activity, active subscriptions, and the non-fatal error
// streams. The core only updates these collectors; it does not own an HTTP
// server — wiring /metrics is left to the host binary (see cmd/example).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the collectors the core and subscription manager
// update. All fields are safe for concurrent use.
type Collector struct {
	RequestsSent       prometheus.Counter
	CacheHits          prometheus.Counter
	ActiveSubs         prometheus.Gauge
	SanityErrors       prometheus.Counter
	AddedTaskErrors    prometheus.Counter
	FramesProcessed    prometheus.Counter
	SubscribeDedupHits prometheus.Counter
}

// NewCollector builds and registers a Collector against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests, multiple
// clients in one process) or prometheus.DefaultRegisterer to expose on the
// process-wide /metrics endpoint.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeapi",
			Name:      "requests_sent_total",
			Help:      "Total requests sent to the upstream API.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeapi",
			Name:      "cache_hits_total",
			Help:      "Total requests answered from the response cache.",
		}),
		ActiveSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradeapi",
			Name:      "active_subscriptions",
			Help:      "Current number of physical upstream subscriptions.",
		}),
		SanityErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeapi",
			Name:      "sanity_errors_total",
			Help:      "Total non-fatal anomalies published on the sanity-error bus.",
		}),
		AddedTaskErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeapi",
			Name:      "added_task_errors_total",
			Help:      "Total errors escaping supervised background tasks.",
		}),
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeapi",
			Name:      "frames_processed_total",
			Help:      "Total inbound frames decoded by the reader loop.",
		}),
		SubscribeDedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeapi",
			Name:      "subscribe_dedup_hits_total",
			Help:      "Total subscribe calls answered by an existing physical subscription.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.RequestsSent, c.CacheHits, c.ActiveSubs,
			c.SanityErrors, c.AddedTaskErrors, c.FramesProcessed,
			c.SubscribeDedupHits,
		)
	}

	return c
}
