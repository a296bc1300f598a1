package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/engine"
	"github.com/ud-ai/InvestmentTracker/internal/infra"
	"github.com/ud-ai/InvestmentTracker/internal/remote"
)

// integration drives the realtime path end to end: connect, watch the
// portfolio, save one investment through the retrying writer and wait for the
// aggregate to reflect it. Without a configured websocket remote it serves an
// in-memory store on a loopback port first.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	userID := flag.String("user", "integration", "user id to write under")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("🚀 Starting realtime integration run...")

	if *configPath == "" {
		*configPath = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		slog.Error("❌ Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	wsURL := cfg.Remote.WSURL
	if cfg.Remote.Mode != infra.RemoteModeWebSocket {
		url, shutdown, err := serveLocal()
		if err != nil {
			slog.Error("❌ Failed to start local realtime server", slog.Any("error", err))
			os.Exit(1)
		}
		defer shutdown()
		wsURL = url
	}

	if err := run(ctx, wsURL, *userID, cfg); err != nil {
		slog.Error("❌ Integration run failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("✅ Integration run passed")
}

func serveLocal() (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	realtime := remote.NewServer(remote.NewMemoryStore())
	srv := &http.Server{Handler: realtime, ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln)

	slog.Info("🧪 Local realtime server", slog.String("addr", ln.Addr().String()))
	return "ws://" + ln.Addr().String(), func() {
		realtime.CloseSessions()
		srv.Close()
	}, nil
}

func run(ctx context.Context, wsURL, userID string, cfg *infra.Config) error {
	store := remote.NewWSStore(wsURL)
	store.Worker().UserAgent = infra.UserAgent(cfg.App.Version)
	store.Start(ctx)
	defer store.Close()

	monitor := engine.NewConnectivityMonitor(store)
	connected := make(chan struct{}, 1)
	monitor.OnChange(func(ok bool) {
		if ok {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	if err := monitor.Start(); err != nil {
		return err
	}
	defer monitor.Unsubscribe()

	select {
	case <-connected:
		slog.Info("🔌 Connected", slog.String("url", wsURL))
	case <-ctx.Done():
		return errors.New("timed out waiting for connection")
	}

	portfolio := engine.NewPortfolioAggregator(store, userID, 0)
	updates := make(chan domain.PortfolioSnapshot, 16)
	portfolio.OnUpdate(func(p domain.PortfolioSnapshot) {
		select {
		case updates <- p:
		default:
		}
	})
	if err := portfolio.Start(ctx); err != nil {
		return err
	}
	defer portfolio.Stop()

	before := waitSnapshot(ctx, updates)
	slog.Info("📊 Portfolio before", slog.Int("investments", before.Count), slog.Float64("value", before.TotalValue))

	notifier := domain.NotifierFunc(func(n domain.Notice) {
		slog.Info("💬 Notice", slog.String("kind", n.Kind.String()), slog.String("message", n.Message))
	})
	writer := engine.NewRetryingWriter(store, monitor, userID, engine.WriterConfig{
		MaxRetries: cfg.Writer.MaxRetries,
		BaseDelay:  cfg.WriteBaseDelay(),
	}, notifier)

	key, err := writer.Create(ctx, domain.Investment{
		AssetType:    "Bitcoin",
		Quantity:     0.01,
		Price:        50000,
		PurchaseDate: time.Now().Format("2006-01-02"),
	})
	if err != nil {
		return err
	}
	slog.Info("📝 Investment saved", slog.String("key", key))

	for {
		p := waitSnapshot(ctx, updates)
		if ctx.Err() != nil {
			return errors.New("timed out waiting for portfolio update")
		}
		if p.Count > before.Count {
			slog.Info("📊 Portfolio after", slog.Int("investments", p.Count), slog.Float64("value", p.TotalValue))
			return verifyStored(ctx, store, userID, key)
		}
	}
}

// verifyStored reads the collection once and checks the pushed key is there.
func verifyStored(ctx context.Context, store remote.Store, userID, key string) error {
	snap, err := store.ReadOnce(ctx, remote.InvestmentsPath(userID))
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	for _, c := range snap.Children {
		if c.Key == key {
			slog.Info("🔎 Record read back", slog.String("key", key), slog.Int("children", len(snap.Children)))
			return nil
		}
	}
	return fmt.Errorf("record %s missing from %s", key, snap.Path)
}

func waitSnapshot(ctx context.Context, updates <-chan domain.PortfolioSnapshot) domain.PortfolioSnapshot {
	select {
	case p := <-updates:
		return p
	case <-ctx.Done():
		return domain.PortfolioSnapshot{}
	}
}
