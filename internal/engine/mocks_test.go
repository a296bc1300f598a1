package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/infra/coingecko"
)

// MockMarketData is a mock implementation of MarketData for testing
type MockMarketData struct {
	mock.Mock
}

func (m *MockMarketData) GetPrice(ctx context.Context, ids []string, vs string) (coingecko.PriceTable, error) {
	args := m.Called(ctx, ids, vs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(coingecko.PriceTable), args.Error(1)
}

func (m *MockMarketData) GetCoinMarkets(ctx context.Context, vs string, perPage int, order string) ([]domain.AssetReference, error) {
	args := m.Called(ctx, vs, perPage, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AssetReference), args.Error(1)
}

func (m *MockMarketData) GetAllCoins(ctx context.Context) ([]domain.AssetReference, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AssetReference), args.Error(1)
}

// MockPusher is a mock implementation of Pusher for testing
type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) Push(ctx context.Context, path string, value any) (string, error) {
	args := m.Called(ctx, path, value)
	return args.String(0), args.Error(1)
}

// memCache is an in-memory WatchlistCache that counts writes.
type memCache struct {
	mu        sync.Mutex
	watchlist []domain.WatchItem
	coins     []domain.AssetReference
	saves     int
	failSave  error
}

func (c *memCache) LoadWatchlist(ctx context.Context) ([]domain.WatchItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.WatchItem{}, c.watchlist...), nil
}

func (c *memCache) SaveWatchlist(ctx context.Context, items []domain.WatchItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSave != nil {
		return c.failSave
	}
	c.saves++
	c.watchlist = append([]domain.WatchItem{}, items...)
	return nil
}

func (c *memCache) LoadCoinList(ctx context.Context) ([]domain.AssetReference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.AssetReference{}, c.coins...), nil
}

func (c *memCache) SaveCoinList(ctx context.Context, assets []domain.AssetReference) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coins = append([]domain.AssetReference{}, assets...)
	return nil
}

func (c *memCache) stored() ([]domain.WatchItem, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.WatchItem{}, c.watchlist...), c.saves
}

// noticeRecorder collects notices.
type noticeRecorder struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (r *noticeRecorder) Notify(n domain.Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *noticeRecorder) all() []domain.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notice(nil), r.notices...)
}

func (r *noticeRecorder) ofKind(kind domain.NoticeKind) []domain.Notice {
	var out []domain.Notice
	for _, n := range r.all() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fixedConn bool

func (c fixedConn) Connected() bool { return bool(c) }

var errBoom = errors.New("boom")
