package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgnsrekt/harrelay/internal/agent"
	"github.com/dgnsrekt/harrelay/internal/browser"
	"github.com/dgnsrekt/harrelay/internal/cdp"
	"github.com/dgnsrekt/harrelay/internal/channel"
	"github.com/dgnsrekt/harrelay/internal/config"
	"github.com/dgnsrekt/harrelay/internal/logging"
	"github.com/dgnsrekt/harrelay/internal/types"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		slog.Error("failed to load agent config", "error", err)
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

	tab, err := types.ParseTabID(cfg.TabID)
	if err != nil {
		slog.Error("invalid AGENT_TAB_ID", "value", cfg.TabID, "error", err)
		os.Exit(1)
	}

	slog.Info("haragent config loaded",
		"hub_url", cfg.HubURL,
		"tab_id", tab,
		"poll_interval", cfg.PollInterval,
		"cdp_url", cfg.CDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"launch_browser", cfg.LaunchBrowser,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress:   cfg.CDPAddress,
			CDPPort:      cfg.CDPPort,
			StartURL:     cfg.StartURL,
			ProfileDir:   cfg.ProfileDir,
			Extensions:   cfg.Extensions,
			OpenDevtools: len(cfg.Extensions) > 0,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	recorder := cdp.NewRecorder(cdp.RecorderOptions{})
	defer recorder.Close()

	client := cdp.NewClient(cdp.ClientOptions{
		CDPURL:       cfg.CDPURL(),
		TabURLFilter: cfg.TabURLFilter,
		TabID:        tab,
		Reload:       cfg.ReloadOnAttach,
	}, recorder)
	if err := client.Connect(ctx); err != nil {
		slog.Error("failed to connect to browser", "error", err)
		slog.Info("make sure Chromium is running with remote debugging enabled, or set AGENT_LAUNCH_BROWSER=true")
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Warn("CDP close failed", "error", err)
		}
	}()

	conn, err := channel.Dial(ctx, cfg.HubURL)
	if err != nil {
		slog.Error("failed to connect to hub", "url", cfg.HubURL, "error", err)
		os.Exit(1)
	}

	a := agent.New(conn, tab, recorder, recorder, agent.Options{PollInterval: cfg.PollInterval})
	defer func() { _ = a.Close() }()
	info := client.Tab()
	slog.Info("haragent running", "tab_id", info.TabID, "target_id", info.TargetID, "url", info.URL)

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("agent stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("haragent stopped")
}
