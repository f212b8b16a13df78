// Chat client - canonical timeline ingestion for the agent chat platform
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workspace/chat-client/internal/auth"
	"github.com/workspace/chat-client/internal/backoff"
	"github.com/workspace/chat-client/internal/batcher"
	"github.com/workspace/chat-client/internal/config"
	"github.com/workspace/chat-client/internal/engine"
	"github.com/workspace/chat-client/internal/logging"
	"github.com/workspace/chat-client/internal/metrics"
	"github.com/workspace/chat-client/internal/persistence"
)

func main() {
	logging.Setup()
	slog.Info("Starting chat client...")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	cursors, err := persistence.Open(cfg.StateDBPath)
	if err != nil {
		slog.Error("Failed to open state database", "error", err, "path", cfg.StateDBPath)
		os.Exit(1)
	}
	defer cursors.Close()

	validator, err := auth.NewTokenValidator(cfg.JWKSEndpoint, cfg.JWTAudience, cfg.JWTIssuer)
	if err != nil {
		slog.Error("Failed to create token validator", "error", err)
		os.Exit(1)
	}
	defer validator.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	eng := engine.New(engine.Options{
		PlatformURL:     cfg.PlatformURL,
		DedupWindow:     cfg.DedupWindow,
		DedupMaxEntries: cfg.DedupMaxEntries,
		Batch: batcher.Config{
			ActiveThreshold: cfg.BatchActiveThreshold,
			IdleThreshold:   cfg.BatchIdleThreshold,
			ActiveDelay:     cfg.BatchActiveDelay,
			NormalDelay:     cfg.BatchNormalDelay,
			IdleDelay:       cfg.BatchIdleDelay,
		},
		Backoff: backoff.Policy{
			Base: cfg.BackoffBase,
			Cap:  cfg.BackoffCap,
		},
		WSHandshakeTimeout: cfg.WSHandshakeTimeout,
		WSReadBufferSize:   cfg.WSReadBufferSize,
		WSWriteBufferSize:  cfg.WSWriteBufferSize,
		Metrics:            metrics.NewSet(reg),
		Cursors:            cursors,
		Validator:          validator,
	})

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("Metrics listener started", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics listener failed", "error", err)
			}
		}()
	}

	ctx := context.Background()
	if userID, token := os.Getenv("STREAM_USER_ID"), os.Getenv("STREAM_TOKEN"); token != "" {
		if err := eng.ConnectUser(ctx, userID, token); err != nil {
			slog.Error("Failed to open user stream", "error", err)
			os.Exit(1)
		}
		slog.Info("User stream connected")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Received signal, shutting down...", "signal", sig.String())

	// Apply whatever was already read before tearing the streams down.
	eng.Disconnect()
	eng.Close()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Error during metrics shutdown", "error", err)
		}
	}

	slog.Info("Chat client stopped")
}
