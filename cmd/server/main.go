// wintrack server - tracks a target window and streams captured frames to
// WebSocket and REST clients.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wintrack/wintrack/internal/capture"
	"github.com/wintrack/wintrack/internal/config"
	"github.com/wintrack/wintrack/internal/frameproc"
	"github.com/wintrack/wintrack/internal/locator"
	"github.com/wintrack/wintrack/internal/pipeline"
	"github.com/wintrack/wintrack/internal/platform"
	"github.com/wintrack/wintrack/internal/server"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		overrides, err := config.LoadFile(path)
		if err != nil {
			slog.Error("failed to load config file", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = cfg.Merge(overrides)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	dir := platform.NewDirectory()
	defer func() { _ = dir.Close() }()

	// Window tracking
	loc := locator.New(dir, locator.ConfigFrom(cfg))
	loc.Start()
	defer loc.Stop()

	// Capture: worker resolves pattern targets through the locator
	backend := capture.NewScreenshotBackend(dir)
	worker := capture.NewWorker(backend, loc.Resolve, cfg.SessionTimeout)
	worker.Start()
	defer func() {
		if err := worker.Shutdown(); err != nil {
			slog.Error("capture worker shutdown", "error", err)
		}
	}()

	proc := frameproc.New(cfg.MaxFrameWidth, cfg.HashDistanceMax)
	defer proc.Close()

	pipe := pipeline.New(worker, proc, cfg.FPSMax)
	pipe.Start()
	defer pipe.Close()

	// HTTP/WebSocket surface
	srv := server.New(dir, loc, pipe)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold connections open
	}

	go func() {
		slog.Info("wintrack server starting", "http", cfg.HTTPAddr, "target", cfg.TargetPattern)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
