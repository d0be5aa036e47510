// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires the Envoy power data logger together.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soothill/envoy-data-logger/config"
	"github.com/soothill/envoy-data-logger/discovery"
	"github.com/soothill/envoy-data-logger/envoy"
	"github.com/soothill/envoy-data-logger/pkg/interfaces"
	"github.com/soothill/envoy-data-logger/pkg/logger"
	"github.com/soothill/envoy-data-logger/sampling"
	"github.com/soothill/envoy-data-logger/storage"
	"golang.org/x/time/rate"
)

const (
	signalChannelSize     = 1
	discoveryTimeout      = 10 * time.Second
	readinessCheckTimeout = 2 * time.Second
	shutdownTimeout       = 5 * time.Second

	envoyServiceType = "_enphase-envoy._tcp"
	envoyDomain      = "local."
)

// App represents the main application
type App struct {
	cfg         *config.Config
	metricsPort string
	server      *http.Server
	engine      interfaces.Engine
	store       interfaces.TimeSeriesStore
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

// New creates a new application instance
func New(cfg *config.Config, metricsPort string) (*App, error) {
	app := &App{
		cfg:         cfg,
		metricsPort: metricsPort,
	}

	envoyURL, err := resolveEnvoyURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to locate Envoy: %w", err)
	}
	logger.Info().Str("envoy_url", envoyURL).Msg("Using Envoy gateway")

	var tokens envoy.TokenSource
	if cfg.Enphase.Token != "" {
		tokens = envoy.StaticToken(cfg.Enphase.Token)
	} else {
		tokens = envoy.NewEnphaseAuth(cfg.Enphase.Email, cfg.Enphase.Password, cfg.Envoy.Serial)
	}
	device := envoy.NewClient(envoyURL, tokens, cfg.Envoy.Timeout)

	store, err := storage.NewInfluxDBStore(
		cfg.InfluxDB.URL,
		cfg.InfluxDB.Token,
		cfg.InfluxDB.Organization,
		cfg.InfluxDB.BucketHR,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize InfluxDB: %w", err)
	}
	app.store = store

	app.engine = sampling.New(device, store, sampling.Options{
		Interval:          cfg.Sampling.Interval,
		InverterInterval:  cfg.Sampling.InverterInterval,
		SourceTag:         cfg.Sampling.SourceTag,
		PowerRetries:      cfg.Sampling.PowerRetries,
		PowerRetryBackoff: cfg.Sampling.PowerRetryBackoff,
		WatermarkLookback: cfg.Sampling.WatermarkLookback,
		BucketHighRate:    cfg.InfluxDB.BucketHR,
		BucketDaily:       cfg.InfluxDB.BucketLR,
		ExpectedSerials:   cfg.ExpectedSerials(),
		InverterTags:      cfg.InverterTags,
	})

	app.server = newMetricsServer(metricsPort, store)

	return app, nil
}

// resolveEnvoyURL returns the configured URL or discovers the gateway via mDNS
func resolveEnvoyURL(cfg *config.Config) (string, error) {
	if cfg.Envoy.URL != "" {
		return cfg.Envoy.URL, nil
	}

	logger.Info().Str("serial", cfg.Envoy.Serial).Msg("No Envoy URL configured, discovering via mDNS")
	scanner := discovery.NewScanner(envoyServiceType, envoyDomain)
	gateway, err := scanner.Locate(context.Background(), cfg.Envoy.Serial, discoveryTimeout)
	if err != nil {
		return "", err
	}
	return gateway.URL(), nil
}

// newMetricsServer builds the localhost-only metrics and health server
func newMetricsServer(port string, store interfaces.TimeSeriesStore) *http.Server {
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, store)
	}))

	return &http.Server{
		Addr:    "localhost:" + port,
		Handler: mux,
	}
}

// Run starts the application and blocks until shutdown completes. Both
// sampling loops exit on the first interrupt; the store is flushed and
// closed afterwards.
func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	defer a.cancel()

	a.startMetricsServer()
	a.setupSignalHandler()

	a.engine.Run(ctx)

	a.performCleanup()
}

// startMetricsServer starts the HTTP server for metrics and health checks
func (a *App) startMetricsServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting metrics and health check server (localhost only)")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		a.cancel()
	}()
}

// performCleanup shuts the HTTP server down, flushes the store and waits
// for the remaining goroutines
func (a *App) performCleanup() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	a.store.Flush()
	a.store.Close()

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	logger.Info().Msg("All goroutines finished, exiting")
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	logger.Info().
		Dur("interval", a.cfg.Sampling.Interval).
		Dur("inverter_interval", a.cfg.Sampling.InverterInterval).
		Str("source", a.cfg.Sampling.SourceTag).
		Int("expected_inverters", len(a.cfg.Inverters)).
		Msg("Sampling configuration")

	for _, serial := range a.cfg.ExpectedSerials() {
		logger.Info().Str("serial", serial).Msg("Expected inverter")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024) // 1MB buffer
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded for health endpoint")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// healthCheckHandler handles health check requests
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler handles readiness check requests
func readinessCheckHandler(w http.ResponseWriter, _ *http.Request, store interfaces.TimeSeriesStore) {
	ctx, cancel := context.WithTimeout(context.Background(), readinessCheckTimeout)
	defer cancel()

	if err := store.Health(ctx); err != nil {
		logger.Warn().Err(err).Msg("Readiness check failed: InfluxDB unhealthy")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte("NOT READY: InfluxDB unhealthy")); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}
