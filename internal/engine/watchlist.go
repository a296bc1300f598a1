package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/infra/coingecko"
	"github.com/ud-ai/InvestmentTracker/internal/metrics"
)

// ErrNotLoaded is returned by watchlist operations that need a loaded set.
var ErrNotLoaded = errors.New("watchlist not loaded")

// MarketData is the subset of the market-data client used by the engine.
type MarketData interface {
	GetPrice(ctx context.Context, ids []string, vs string) (coingecko.PriceTable, error)
	GetCoinMarkets(ctx context.Context, vs string, perPage int, order string) ([]domain.AssetReference, error)
	GetAllCoins(ctx context.Context) ([]domain.AssetReference, error)
}

// WatchlistCache persists the watchlist and the reference listing.
type WatchlistCache interface {
	LoadWatchlist(ctx context.Context) ([]domain.WatchItem, error)
	SaveWatchlist(ctx context.Context, items []domain.WatchItem) error
	LoadCoinList(ctx context.Context) ([]domain.AssetReference, error)
	SaveCoinList(ctx context.Context, assets []domain.AssetReference) error
}

// WatchlistState is the lifecycle of a WatchlistSyncEngine.
type WatchlistState int

const (
	WatchlistIdle WatchlistState = iota
	WatchlistLoading
	WatchlistReady
	WatchlistRefreshing
	WatchlistDisposed
)

func (s WatchlistState) String() string {
	switch s {
	case WatchlistIdle:
		return "IDLE"
	case WatchlistLoading:
		return "LOADING"
	case WatchlistReady:
		return "READY"
	case WatchlistRefreshing:
		return "REFRESHING"
	case WatchlistDisposed:
		return "DISPOSED"
	default:
		return "UNKNOWN"
	}
}

// WatchlistConfig controls the initial population and refresh cadence.
type WatchlistConfig struct {
	VsCurrency      string
	InitialCount    int
	RefreshInterval time.Duration
}

// DefaultWatchlistConfig seeds five assets and refreshes every five minutes.
func DefaultWatchlistConfig() WatchlistConfig {
	return WatchlistConfig{VsCurrency: "usd", InitialCount: 5, RefreshInterval: 5 * time.Minute}
}

// WatchlistSyncEngine owns the watchlist. Reads never block on refreshes;
// structural changes are persisted as a full snapshot.
type WatchlistSyncEngine struct {
	market   MarketData
	cache    WatchlistCache
	notifier domain.Notifier
	cfg      WatchlistConfig

	mu       sync.RWMutex
	state    WatchlistState
	items    []domain.WatchItem
	onChange []func([]domain.WatchItem)

	addMu sync.Mutex // serializes structural changes with their persistence
	refMu sync.Mutex // one listing fetch at a time

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// NewWatchlistSyncEngine creates an idle engine.
func NewWatchlistSyncEngine(market MarketData, cache WatchlistCache, cfg WatchlistConfig, notifier domain.Notifier) *WatchlistSyncEngine {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = "usd"
	}
	if cfg.InitialCount <= 0 {
		cfg.InitialCount = 5
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	return &WatchlistSyncEngine{
		market:   market,
		cache:    cache,
		notifier: notifier,
		cfg:      cfg,
		items:    []domain.WatchItem{},
	}
}

// State returns the current lifecycle state.
func (e *WatchlistSyncEngine) State() WatchlistState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Items returns a copy of the watchlist.
func (e *WatchlistSyncEngine) Items() []domain.WatchItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.WatchItem(nil), e.items...)
}

// OnChange registers a handler called with a copy of the set after every change.
func (e *WatchlistSyncEngine) OnChange(h func([]domain.WatchItem)) {
	e.mu.Lock()
	e.onChange = append(e.onChange, h)
	e.mu.Unlock()
}

// Load populates the set from the cache, or from the top markets when the
// cache is empty. A failed load returns to Idle so it can be retried.
func (e *WatchlistSyncEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case WatchlistDisposed:
		e.mu.Unlock()
		return domain.ErrDisposed
	case WatchlistIdle:
	default:
		e.mu.Unlock()
		return fmt.Errorf("load in state %s", e.state)
	}
	e.state = WatchlistLoading
	e.mu.Unlock()

	items, err := e.load(ctx)
	if err != nil {
		e.setStateUnlessDisposed(WatchlistIdle)
		return err
	}

	e.mu.Lock()
	if e.state == WatchlistDisposed {
		e.mu.Unlock()
		return domain.ErrDisposed
	}
	e.items = items
	e.state = WatchlistReady
	e.mu.Unlock()

	e.changed()
	return nil
}

func (e *WatchlistSyncEngine) load(ctx context.Context) ([]domain.WatchItem, error) {
	cached, err := e.cache.LoadWatchlist(ctx)
	if err != nil {
		slog.Warn("Watchlist cache unreadable, loading from network", slog.Any("error", err))
	} else if len(cached) > 0 {
		slog.Info("Watchlist loaded from cache", slog.Int("items", len(cached)))
		return cached, nil
	}

	assets, err := e.market.GetCoinMarkets(ctx, e.cfg.VsCurrency, e.cfg.InitialCount, coingecko.OrderMarketCapDesc)
	if err != nil {
		e.notify(domain.NoticeError, fmt.Sprintf("Failed to load coins: %v", err))
		return nil, fmt.Errorf("fetch top markets: %w", err)
	}

	items := make([]domain.WatchItem, 0, len(assets))
	for _, a := range assets {
		if domain.ContainsSymbol(items, a.Symbol) {
			continue
		}
		items = append(items, domain.NewWatchItem(a, e.cfg.VsCurrency))
	}

	if err := e.cache.SaveWatchlist(ctx, items); err != nil {
		slog.Warn("Failed to persist initial watchlist", slog.Any("error", err))
	}
	if err := e.cache.SaveCoinList(ctx, assets); err != nil {
		slog.Warn("Failed to persist coin list", slog.Any("error", err))
	}

	slog.Info("Watchlist seeded from top markets", slog.Int("items", len(items)))
	return items, nil
}

// Start arms the refresh timer. The first refresh runs one interval later.
// A manual refresh in flight does not prevent it.
func (e *WatchlistSyncEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.state == WatchlistDisposed:
		return domain.ErrDisposed
	case e.started:
		return ErrAlreadyStarted
	case e.state != WatchlistReady && e.state != WatchlistRefreshing:
		return ErrNotLoaded
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.refreshLoop(ctx)
	return nil
}

func (e *WatchlistSyncEngine) refreshLoop(ctx context.Context) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Watchlist refresh panic recovered", slog.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watchlist refresh stopped")
			return
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("Watchlist refresh failed", slog.Any("error", err))
			}
		}
	}
}

// Refresh updates prices in place with one batched request. Items missing
// from the response keep their price. Failures leave every price untouched.
// Refreshes are not persisted. A refresh already in flight makes this a no-op.
func (e *WatchlistSyncEngine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if e.state != WatchlistReady {
		state := e.state
		e.mu.Unlock()
		if state == WatchlistDisposed {
			return domain.ErrDisposed
		}
		return nil
	}
	if len(e.items) == 0 {
		e.mu.Unlock()
		return nil
	}
	e.state = WatchlistRefreshing
	keys := make([]string, 0, len(e.items))
	for _, it := range e.items {
		keys = append(keys, it.PriceKey())
	}
	e.mu.Unlock()

	prices, err := e.market.GetPrice(ctx, keys, e.cfg.VsCurrency)
	if err != nil {
		metrics.WatchlistRefreshes.WithLabelValues(metrics.OutcomeFailure).Inc()
		e.setStateUnlessDisposed(WatchlistReady)
		return fmt.Errorf("refresh prices: %w", err)
	}

	updated := 0
	e.mu.Lock()
	if e.state == WatchlistDisposed {
		e.mu.Unlock()
		return domain.ErrDisposed
	}
	for i := range e.items {
		if p, ok := prices.Price(e.items[i].PriceKey(), e.cfg.VsCurrency); ok {
			e.items[i].Price = p
			updated++
		}
	}
	e.state = WatchlistReady
	e.mu.Unlock()

	metrics.WatchlistRefreshes.WithLabelValues(metrics.OutcomeSuccess).Inc()
	slog.Debug("Watchlist prices refreshed", slog.Int("requested", len(keys)), slog.Int("updated", updated))
	e.changed()
	return nil
}

// ReferenceAssets returns the listing used to pick new entries, from the
// cache or, when absent, from one listing request that is then cached.
func (e *WatchlistSyncEngine) ReferenceAssets(ctx context.Context) ([]domain.AssetReference, error) {
	e.refMu.Lock()
	defer e.refMu.Unlock()

	cached, err := e.cache.LoadCoinList(ctx)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}
	if err != nil {
		slog.Warn("Coin list cache unreadable", slog.Any("error", err))
	}

	assets, err := e.market.GetAllCoins(ctx)
	if err != nil {
		e.notify(domain.NoticeError, fmt.Sprintf("Failed to load coins: %v", err))
		return nil, fmt.Errorf("fetch coin list: %w", err)
	}
	if err := e.cache.SaveCoinList(ctx, assets); err != nil {
		slog.Warn("Failed to persist coin list", slog.Any("error", err))
	}
	return assets, nil
}

// Add appends the asset unless its symbol is already watched, then persists
// the whole set. added is false for duplicates. If persisting fails the
// append is undone and the error returned.
func (e *WatchlistSyncEngine) Add(ctx context.Context, asset domain.AssetReference) (item domain.WatchItem, added bool, err error) {
	e.addMu.Lock()
	defer e.addMu.Unlock()

	item = domain.NewWatchItem(asset, e.cfg.VsCurrency)

	e.mu.Lock()
	switch e.state {
	case WatchlistDisposed:
		e.mu.Unlock()
		return item, false, domain.ErrDisposed
	case WatchlistIdle, WatchlistLoading:
		e.mu.Unlock()
		return item, false, ErrNotLoaded
	}
	if domain.ContainsSymbol(e.items, item.Symbol) {
		e.mu.Unlock()
		e.notify(domain.NoticeInfo, fmt.Sprintf("%s is already in watchlist", item.Name))
		return item, false, nil
	}
	e.items = append(e.items, item)
	snapshot := append([]domain.WatchItem(nil), e.items...)
	e.mu.Unlock()

	if err := e.cache.SaveWatchlist(ctx, snapshot); err != nil {
		e.mu.Lock()
		e.items = removeSymbol(e.items, item.Symbol)
		e.mu.Unlock()
		e.notify(domain.NoticeError, fmt.Sprintf("Failed to save watchlist: %v", err))
		return item, false, fmt.Errorf("persist watchlist: %w", err)
	}

	e.notify(domain.NoticeInfo, fmt.Sprintf("Added %s to watchlist", item.Name))
	e.changed()
	return item, true, nil
}

// Dispose stops the refresh timer and waits for it. Safe to call at any time,
// any number of times.
func (e *WatchlistSyncEngine) Dispose() {
	e.once.Do(func() {
		e.mu.Lock()
		e.state = WatchlistDisposed
		cancel := e.cancel
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		e.wg.Wait()
	})
}

func (e *WatchlistSyncEngine) setStateUnlessDisposed(s WatchlistState) {
	e.mu.Lock()
	if e.state != WatchlistDisposed {
		e.state = s
	}
	e.mu.Unlock()
}

func (e *WatchlistSyncEngine) changed() {
	e.mu.RLock()
	items := append([]domain.WatchItem(nil), e.items...)
	handlers := append([]func([]domain.WatchItem){}, e.onChange...)
	e.mu.RUnlock()

	metrics.WatchlistSize.Set(float64(len(items)))
	for _, h := range handlers {
		h(items)
	}
}

func (e *WatchlistSyncEngine) notify(kind domain.NoticeKind, msg string) {
	e.notifier.Notify(domain.Notice{Kind: kind, Message: msg})
}

func removeSymbol(items []domain.WatchItem, symbol string) []domain.WatchItem {
	out := items[:0]
	for _, it := range items {
		if it.Symbol != symbol {
			out = append(out, it)
		}
	}
	return out
}
