package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ud-ai/InvestmentTracker/internal/api"
	"github.com/ud-ai/InvestmentTracker/internal/app"
	"github.com/ud-ai/InvestmentTracker/internal/infra"
	"github.com/ud-ai/InvestmentTracker/internal/remote"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./configs or the OS config dir)")
	addr := flag.String("addr", "", "debug API listen address (overrides debug.addr)")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Release()

	cfg := bootstrap.Config
	if *addr != "" {
		cfg.Debug.Addr = *addr
	}
	infra.PrintBanner(os.Stdout, cfg)

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Session (cache, market data, remote store, engines)
	session, err := app.Open(ctx, cfg, app.Options{CachePath: bootstrap.CachePath()})
	if err != nil {
		slog.Error("❌ Failed to open session", slog.Any("error", err))
		bootstrap.Release()
		os.Exit(1)
	}
	defer session.Close()

	// Loading screen: failures were already surfaced as notices; the engines
	// stay usable and the user can retry.
	go func() {
		if err := session.Warm(ctx); err != nil {
			slog.Warn("Session warm-up incomplete", slog.Any("error", err))
		}
	}()

	// 4. Debug API
	var realtime *remote.Server
	if session.Memory != nil {
		realtime = remote.NewServer(session.Memory)
	}
	var srv *http.Server
	if cfg.Debug.Addr != "" {
		deps := api.Deps{
			Monitor:   session.Monitor,
			Portfolio: session.Portfolio,
			Watchlist: session.Watchlist,
			Picker:    session.Picker,
			Writer:    session.Writer,
			Notices:   session.Notices,
		}
		if realtime != nil {
			deps.Realtime = realtime
		}
		srv = &http.Server{
			Addr:              cfg.Debug.Addr,
			Handler:           api.NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("🕵️ Debug API listening", slog.String("addr", cfg.Debug.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Debug API failed", slog.Any("error", err))
				stop()
			}
		}()
	}

	slog.InfoContext(ctx, "✨ Investment Tracker running. Press Ctrl+C to exit.")
	<-ctx.Done()
	slog.Info("👋 Shutting down gracefully...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Debug API shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	if realtime != nil {
		realtime.CloseSessions()
	}
}
