// Command example wires the client core to a live endpoint, exposes
// Prometheus metrics, and demonstrates a one-shot request plus a streaming
// subscription before shutting down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adred-codev/tradeapi-go/bridge"
	"github.com/adred-codev/tradeapi-go/core"
	"github.com/adred-codev/tradeapi-go/internal/config"
	"github.com/adred-codev/tradeapi-go/internal/health"
	"github.com/adred-codev/tradeapi-go/internal/logging"
	"github.com/adred-codev/tradeapi-go/internal/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	runID := uuid.NewString()

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Format:  logging.FormatJSON,
		Service: "tradeapi-example",
	})
	logger = logger.With().Str("run_id", runID).Logger()

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug().Msgf(format, args...)
	})); err != nil {
		logger.Warn().Err(err).Msg("could not adjust GOMAXPROCS for the container's cgroup limit")
	}

	cfg, err := config.Load(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
	}

	registry := prometheus.NewRegistry()
	met := metrics.NewCollector(registry)

	c, err := core.New(core.Options{
		Endpoint: cfg.Endpoint,
		AppID:    cfg.AppID,
		Lang:     cfg.Lang,
		Brand:    cfg.Brand,
		Metrics:  met,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("could not construct the client core")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("could not connect")
	}
	logger.Info().Msg("connected")

	var activeBridge *bridge.Bridge
	if cfg.NATSURL != "" {
		sink, err := bridge.DialNATS(cfg.NATSURL)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS bridge disabled: could not connect")
		} else {
			activeBridge = bridge.New(sink, cfg.BridgeRatePerSec, cfg.BridgeBurst, logger)
			logger.Info().Str("nats_url", cfg.NATSURL).Msg("NATS bridge enabled")
		}
	}

	go runSanityLog(ctx, c, logger)
	go serveMetrics(ctx, cfg.MetricsAddr, registry, logger)
	go reportHealth(ctx, logger)

	if resp, err := c.Send(ctx, map[string]any{"ping": 1}); err != nil {
		logger.Warn().Err(err).Msg("ping failed")
	} else {
		logger.Info().Interface("response", resp).Msg("ping succeeded")
	}

	ticks, err := c.Subscribe(ctx, map[string]any{"ticks": "R_100", "subscribe": 1})
	if err != nil {
		logger.Warn().Err(err).Msg("could not subscribe to ticks")
	} else {
		cancel := ticks.Subscribe(
			func(v any) { logger.Debug().Interface("tick", v).Msg("tick received") },
			func(err error) { logger.Warn().Err(err).Msg("ticks subscription errored") },
			func() { logger.Info().Msg("ticks subscription completed") },
		)
		defer cancel()

		if activeBridge != nil {
			go activeBridge.Forward(ctx, "tradeapi.ticks.R_100", ticks)
		}
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if err := c.ForgetAll(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("forget_all failed during shutdown")
	}
	c.Clear()
	if activeBridge != nil {
		_ = activeBridge.Close()
	}
}

// runSanityLog drains the core's non-fatal error bus until ctx is done, so
// frames nothing was waiting on don't vanish silently.
func runSanityLog(ctx context.Context, c *core.Core, logger zerolog.Logger) {
	done := make(chan struct{})
	cancel := c.SanityErrors().Subscribe(
		func(v any) { logger.Warn().Interface("anomaly", v).Msg("sanity error") },
		func(err error) { logger.Error().Err(err).Msg("sanity bus terminated with an error"); close(done) },
		func() { close(done) },
	)
	defer cancel()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// serveMetrics runs the Prometheus HTTP handler until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn().Err(err).Msg("metrics server stopped unexpectedly")
	}
}

// reportHealth logs a resource snapshot every 30 seconds until ctx is done.
func reportHealth(ctx context.Context, logger zerolog.Logger) {
	collector := health.NewCollector(nil)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := collector.Sample(time.Second)
			logger.Info().
				Float64("process_cpu_pct", snap.ProcessCPUPct).
				Float64("host_mem_used_pct", snap.HostMemUsedPct).
				Int64("cgroup_mem_limit", snap.CgroupMemLimit).
				Msg("health snapshot")
		}
	}
}
