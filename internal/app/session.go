package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/engine"
	"github.com/ud-ai/InvestmentTracker/internal/infra"
	"github.com/ud-ai/InvestmentTracker/internal/infra/coingecko"
	"github.com/ud-ai/InvestmentTracker/internal/remote"
	"github.com/ud-ai/InvestmentTracker/internal/storage"
)

// Options override the backends chosen from the config. Zero values mean
// "build from config".
type Options struct {
	Store     remote.Store
	KV        storage.KV
	Market    engine.MarketData
	Notifier  domain.Notifier // Receives notices after they are logged
	CachePath string          // SQLite file for the sqlite backend
}

// Session is one signed-in user's set of running components.
type Session struct {
	Config *infra.Config

	Store     remote.Store
	Memory    *remote.MemoryStore // Set in memory mode only
	Cache     *storage.LocalCache
	Market    engine.MarketData
	Notices   *NoticeLog
	Monitor   *engine.ConnectivityMonitor
	Writer    *engine.RetryingWriter
	Portfolio *engine.PortfolioAggregator
	Watchlist *engine.WatchlistSyncEngine
	Picker    *engine.AssetPicker

	ws        *remote.WSStore
	closeOnce sync.Once
}

// Open builds and starts the components for cfg.Remote.UserID. The
// watchlist and picker are created but not loaded; call Warm.
func Open(ctx context.Context, cfg *infra.Config, opts Options) (*Session, error) {
	s := &Session{Config: cfg}
	s.Notices = NewNoticeLog(50, opts.Notifier)
	userID := cfg.Remote.UserID

	// 1. Local cache
	kv := opts.KV
	if kv == nil {
		var err error
		if kv, err = openKV(ctx, cfg, opts.CachePath); err != nil {
			return nil, err
		}
	}
	s.Cache = storage.NewLocalCache(kv)

	// 2. Market data
	s.Market = opts.Market
	if s.Market == nil {
		s.Market = coingecko.NewClientFromConfig(cfg)
	}

	// 3. Remote store
	s.Store = opts.Store
	if s.Store == nil {
		switch cfg.Remote.Mode {
		case infra.RemoteModeWebSocket:
			ws := remote.NewWSStore(cfg.Remote.WSURL)
			ws.Worker().UserAgent = infra.UserAgent(cfg.App.Version)
			ws.Start(ctx)
			s.ws = ws
			s.Store = ws
		default:
			s.Memory = remote.NewMemoryStore()
			s.Store = s.Memory
		}
	} else if m, ok := opts.Store.(*remote.MemoryStore); ok {
		s.Memory = m
	}

	// 4. Connectivity gates writes; a failing channel only means "offline"
	s.Monitor = engine.NewConnectivityMonitor(s.Store)
	s.Monitor.OnChange(func(connected bool) {
		slog.Info("Remote connectivity changed", slog.Bool("connected", connected))
	})
	s.Monitor.OnError(func(err error) {
		slog.Warn("Connectivity channel failed", slog.Any("error", err))
	})
	if err := s.Monitor.Start(); err != nil {
		slog.Warn("Connectivity unavailable, writes stay disabled", slog.Any("error", err))
	}

	// 5. Writer
	s.Writer = engine.NewRetryingWriter(s.Store, s.Monitor, userID, engine.WriterConfig{
		MaxRetries: cfg.Writer.MaxRetries,
		BaseDelay:  cfg.WriteBaseDelay(),
	}, s.Notices)

	// 6. Portfolio
	s.Portfolio = engine.NewPortfolioAggregator(s.Store, userID, 0)
	s.Portfolio.OnUpdate(func(p domain.PortfolioSnapshot) {
		slog.Debug("Portfolio updated", slog.Int("investments", p.Count), slog.Float64("value", p.TotalValue))
	})
	s.Portfolio.OnError(func(err error) {
		slog.Warn("Portfolio subscription error", slog.Any("error", err))
	})
	if err := s.Portfolio.Start(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start portfolio: %w", err)
	}

	// 7. Watchlist and picker
	s.Watchlist = engine.NewWatchlistSyncEngine(s.Market, s.Cache, engine.WatchlistConfig{
		VsCurrency:      cfg.MarketData.VsCurrency,
		InitialCount:    cfg.Watchlist.InitialCount,
		RefreshInterval: cfg.RefreshInterval(),
	}, s.Notices)
	s.Picker = engine.NewAssetPicker(s.Market, cfg.MarketData.VsCurrency, cfg.Watchlist.PickerCount,
		time.Duration(cfg.Watchlist.SearchDebounceMS)*time.Millisecond)

	slog.Info("✅ Session opened",
		slog.String("user", userID),
		slog.String("remote", cfg.Remote.Mode),
		slog.String("cache", cfg.Cache.Backend))
	return s, nil
}

func openKV(ctx context.Context, cfg *infra.Config, cachePath string) (storage.KV, error) {
	switch cfg.Cache.Backend {
	case infra.CacheBackendRedis:
		kv, err := storage.NewRedisKV(ctx, cfg.Cache.RedisURL, cfg.Remote.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis cache: %w", err)
		}
		return kv, nil
	default:
		if cachePath == "" {
			cachePath = cfg.Cache.Path
		}
		if cachePath == "" {
			return nil, errors.New("sqlite cache path is required")
		}
		kv, err := storage.NewSQLiteKV(cachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
		}
		return kv, nil
	}
}

// Warm loads the watchlist and the picker's asset list in parallel, then arms
// the watchlist refresh timer. Failures are returned joined; components that
// did load stay usable.
func (s *Session) Warm(ctx context.Context) error {
	slog.Info("🔄 Warming session...")

	var wg sync.WaitGroup
	var watchErr, pickErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		watchErr = s.Watchlist.Load(ctx)
	}()
	go func() {
		defer wg.Done()
		pickErr = s.Picker.Load(ctx)
	}()
	wg.Wait()

	if watchErr == nil {
		watchErr = s.Watchlist.Start(ctx)
	}
	if watchErr != nil {
		watchErr = fmt.Errorf("watchlist: %w", watchErr)
	}
	if pickErr != nil {
		pickErr = fmt.Errorf("asset picker: %w", pickErr)
	}

	if err := errors.Join(watchErr, pickErr); err != nil {
		return err
	}
	slog.Info("✨ Session warm", slog.Int("watchlist", len(s.Watchlist.Items())), slog.Int("assets", len(s.Picker.Assets())))
	return nil
}

// Close tears components down in reverse dependency order. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.Watchlist != nil {
			s.Watchlist.Dispose()
		}
		if s.Picker != nil {
			s.Picker.Close()
		}
		if s.Portfolio != nil {
			s.Portfolio.Stop()
		}
		if s.Monitor != nil {
			s.Monitor.Unsubscribe()
		}
		if s.ws != nil {
			s.ws.Close()
		}
		if s.Cache != nil {
			if err := s.Cache.Close(); err != nil {
				slog.Warn("Failed to close cache", slog.Any("error", err))
			}
		}
		slog.Info("👋 Session closed", slog.String("user", s.Config.Remote.UserID))
	})
}
