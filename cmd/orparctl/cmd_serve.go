package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/orpar-labs/orpar-core/internal/bridge"
	"github.com/orpar-labs/orpar-core/internal/engine"
	"github.com/orpar-labs/orpar-core/internal/eventbus"
	"github.com/orpar-labs/orpar-core/internal/llm"
	"github.com/orpar-labs/orpar-core/internal/memory"
	"github.com/orpar-labs/orpar-core/internal/registry"
	"github.com/orpar-labs/orpar-core/internal/strata"
	"github.com/orpar-labs/orpar-core/internal/telemetry"
	"github.com/orpar-labs/orpar-core/internal/validation"
)

// runServe wires the Event Bus, loop engine, and network bridge together and
// serves them over HTTP, following the same construction order the test
// fixtures use (schema registry, bus, registry, validator, memory, router,
// engine, then bridge).
func runServe(cmd *cobra.Command, args []string) error {
	logger := telemetry.NewClueLogger()

	var promMetrics *telemetry.PrometheusMetrics
	var metrics telemetry.Metrics
	switch metricsBackend {
	case "prometheus":
		promMetrics = telemetry.NewPrometheusMetrics("orpar")
		metrics = promMetrics
	case "otel", "":
		metrics = telemetry.NewClueMetrics()
	default:
		return fmt.Errorf("orparctl: unknown --metrics-backend %q (want otel or prometheus)", metricsBackend)
	}

	schemas := eventbus.NewSchemaRegistry()
	if err := eventbus.RegisterDefaults(schemas); err != nil {
		return fmt.Errorf("orparctl: register default event schemas: %w", err)
	}
	bus := eventbus.New(eventbus.WithSchemaRegistry(schemas), eventbus.WithLogger(logger))

	cfg, err := LoadServeConfig(serveConfigPath)
	if err != nil {
		return err
	}

	reg := registry.New()
	val := validation.New()
	mem := memory.New()
	router := strata.New()

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	}
	if phaseClient, err := buildPhaseClient(cfg.LLM, router, mem, reg); err != nil {
		return err
	} else if phaseClient != nil {
		engOpts = append(engOpts, engine.WithReasoner(phaseClient), engine.WithPlanner(phaseClient))
	}
	eng := engine.New(bus, reg, val, mem, router, engOpts...)

	auth := &bridge.HandshakeAuthenticator{
		Keys:   mergeKeyStores(loadKeyStore(), cfg.toKeyStore()),
		Tokens: mergeTokenStores(loadTokenStore(), cfg.toTokenStore()),
	}

	opts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithMetrics(metrics),
	}
	if durableFanout {
		if redisAddr == "" {
			return fmt.Errorf("orparctl: --durable-fanout requires --redis-addr")
		}
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		opts = append(opts, bridge.WithDurableFanout(bridge.NewPulseFanout(rdb, 0)))
	}

	b := bridge.New(bus, eng, auth, opts...)
	b.Start()
	defer b.Close()

	r := chi.NewRouter()
	r.Mount("/", b.Router(bridge.CORSConfig{AllowedOrigins: serveCORSOrigin}))
	r.Get("/healthz", handleHealthz)
	if promMetrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(promMetrics.Registry(), promhttp.HandlerOpts{}))
	}

	srv := &http.Server{Addr: serveAddr, Handler: r}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "orparctl: listening", "addr", serveAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
