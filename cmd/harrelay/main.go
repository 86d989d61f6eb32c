package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/harrelay/internal/api"
	"github.com/dgnsrekt/harrelay/internal/channel"
	"github.com/dgnsrekt/harrelay/internal/config"
	"github.com/dgnsrekt/harrelay/internal/logging"
	"github.com/dgnsrekt/harrelay/internal/netutil"
	"github.com/dgnsrekt/harrelay/internal/relay"
	"github.com/dgnsrekt/harrelay/internal/sink"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		slog.Error("failed to load relay config", "error", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogFile, os.Stdout)
	if err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}
	defer func() { _ = logCloser.Close() }()

	slog.Info("harrelay config loaded",
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"config", cfg.ConfigPath,
		"native_app", cfg.NativeApp,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	proc := startNativeApp(cfg)

	broker := relay.NewBroker()
	var nativeSink relay.Sink
	if proc != nil {
		nativeSink = proc
	}
	hub := relay.NewHub(nativeSink, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := api.NewServer(hub, api.Options{
		Events:  relay.SSEHandler(broker),
		Connect: channel.Handler(ctx, hub),
	})

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	addr := ln.Addr().String()

	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info("harrelay listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("harrelay server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutdown signal received")

	// Hijacked channel connections are not tracked by Shutdown; cancelling
	// ctx closes them.
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("harrelay shutdown failed", "error", err)
	}
	if proc != nil {
		proc.Stop()
	}
	slog.Info("harrelay stopped")
}

// startNativeApp spawns the configured native app. Without one the hub
// still relays, but exported HARs are dropped.
func startNativeApp(cfg *config.RelayConfig) *sink.Process {
	rc, err := relay.LoadConfig(cfg.ConfigPath)
	if err != nil {
		slog.Warn("relay config unavailable, running without native app", "path", cfg.ConfigPath, "error", err)
		return nil
	}
	app, ok := rc.NativeApp(cfg.NativeApp)
	if !ok {
		slog.Warn("native app not configured, running without it", "name", cfg.NativeApp, "path", cfg.ConfigPath)
		return nil
	}
	proc, err := sink.Start(app.Name, app.Path, app.Args...)
	if err != nil {
		slog.Error("failed to start native app", "name", app.Name, "path", app.Path, "error", err)
		os.Exit(1)
	}
	return proc
}
