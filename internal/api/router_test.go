package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/engine"
	"github.com/ud-ai/InvestmentTracker/internal/infra/coingecko"
	"github.com/ud-ai/InvestmentTracker/internal/remote"
	"github.com/ud-ai/InvestmentTracker/internal/storage"
)

type fakeMarket struct {
	assets []domain.AssetReference
	prices coingecko.PriceTable
}

func (m *fakeMarket) GetPrice(ctx context.Context, ids []string, vs string) (coingecko.PriceTable, error) {
	return m.prices, nil
}

func (m *fakeMarket) GetCoinMarkets(ctx context.Context, vs string, perPage int, order string) ([]domain.AssetReference, error) {
	if perPage < len(m.assets) {
		return m.assets[:perPage], nil
	}
	return m.assets, nil
}

func (m *fakeMarket) GetAllCoins(ctx context.Context) ([]domain.AssetReference, error) {
	return m.assets, nil
}

// mapKV is an in-memory storage.KV.
type mapKV struct {
	mu sync.Mutex
	m  map[string]string
}

func (kv *mapKV) Get(ctx context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.m[key]
	return v, ok, nil
}

func (kv *mapKV) Put(ctx context.Context, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.m[key] = value
	return nil
}

func (kv *mapKV) Close() error { return nil }

type recorder struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (r *recorder) Notify(n domain.Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *recorder) Recent() []domain.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notice(nil), r.notices...)
}

func usd(id, symbol, name string, price float64) domain.AssetReference {
	return domain.AssetReference{ID: id, Symbol: symbol, Name: name,
		MarketData: domain.MarketData{CurrentPrice: map[string]float64{"usd": price}}}
}

type testEnv struct {
	router  chi.Router
	store   *remote.MemoryStore
	deps    Deps
	notices *recorder
}

// newTestEnv wires real engine components over an in-memory store. The
// watchlist starts from a cached Bitcoin entry, so the reference list used by
// Add comes from GetAllCoins.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	market := &fakeMarket{
		assets: []domain.AssetReference{
			usd("bitcoin", "btc", "Bitcoin", 50000),
			usd("ethereum", "eth", "Ethereum", 3000),
			usd("solana", "sol", "Solana", 150),
		},
		prices: coingecko.PriceTable{"bitcoin": {"usd": 50000}},
	}
	store := remote.NewMemoryStore()
	notices := &recorder{}

	monitor := engine.NewConnectivityMonitor(store)
	require.NoError(t, monitor.Start())
	t.Cleanup(monitor.Unsubscribe)

	portfolio := engine.NewPortfolioAggregator(store, "u1", 0)
	require.NoError(t, portfolio.Start(context.Background()))
	t.Cleanup(portfolio.Stop)

	cache := storage.NewLocalCache(&mapKV{m: map[string]string{
		storage.SlotWatchlist: `[{"id":"bitcoin","symbol":"btc","name":"Bitcoin","price":50000}]`,
	}})
	watchlist := engine.NewWatchlistSyncEngine(market, cache,
		engine.WatchlistConfig{VsCurrency: "usd", InitialCount: 2, RefreshInterval: time.Hour}, notices)
	require.NoError(t, watchlist.Load(context.Background()))
	t.Cleanup(watchlist.Dispose)

	picker := engine.NewAssetPicker(market, "usd", 100, time.Millisecond)
	require.NoError(t, picker.Load(context.Background()))
	t.Cleanup(picker.Close)

	writer := engine.NewRetryingWriter(store, monitor, "u1",
		engine.WriterConfig{MaxRetries: 3, BaseDelay: time.Millisecond}, notices)

	deps := Deps{
		Monitor:   monitor,
		Portfolio: portfolio,
		Watchlist: watchlist,
		Picker:    picker,
		Writer:    writer,
		Notices:   notices,
		Realtime:  remote.NewServer(store),
	}
	return &testEnv{router: NewRouter(deps), store: store, deps: deps, notices: notices}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

var validInvestment = domain.Investment{AssetType: "Bitcoin", Quantity: 2, Price: 100, PurchaseDate: "2024-01-15"}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["connected"])

	env.store.SetConnected(false)
	w = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, false, decode[map[string]any](t, w)["connected"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/healthz", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tracker_http_requests_total")
}

func TestCreateInvestment_UpdatesPortfolio(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/investments", validInvestment)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, decode[map[string]string](t, w)["key"])

	require.Eventually(t, func() bool {
		return env.deps.Portfolio.Snapshot().Count == 1
	}, time.Second, 5*time.Millisecond)

	w = env.do(t, http.MethodGet, "/api/v1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[domain.PortfolioSnapshot](t, w)
	assert.Equal(t, 200.0, snap.TotalValue)
	assert.Equal(t, []domain.SeriesPoint{{Index: 0, Value: 200}}, snap.Series)
}

func TestCreateInvestment_Errors(t *testing.T) {
	t.Run("invalid body", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/investments", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation", func(t *testing.T) {
		env := newTestEnv(t)
		inv := validInvestment
		inv.Quantity = 0

		w := env.do(t, http.MethodPost, "/api/v1/investments", inv)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "quantity", decode[map[string]string](t, w)["field"])
	})

	t.Run("offline", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.SetConnected(false)

		w := env.do(t, http.MethodPost, "/api/v1/investments", validInvestment)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("permission denied after retries", func(t *testing.T) {
		env := newTestEnv(t)
		denied := &remote.Error{Code: remote.CodePermissionDenied, Message: "rules"}
		env.store.FailNextPushes(denied, denied, denied, denied)

		w := env.do(t, http.MethodPost, "/api/v1/investments", validInvestment)
		require.Equal(t, http.StatusBadGateway, w.Code)
		body := decode[map[string]string](t, w)
		assert.Equal(t, "PERMISSION", body["kind"])
		assert.Equal(t, "Permission denied. Please check your database rules.", body["error"])
	})
}

func TestWatchlistEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/watchlist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		State string             `json:"state"`
		Items []domain.WatchItem `json:"items"`
	}](t, w)
	assert.Equal(t, engine.WatchlistReady.String(), list.State)
	assert.Len(t, list.Items, 1)

	w = env.do(t, http.MethodPost, "/api/v1/watchlist", map[string]string{"symbol": "SOL"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/watchlist", map[string]string{"id": "solana"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["added"])
	assert.Len(t, env.deps.Watchlist.Items(), 2)

	w = env.do(t, http.MethodPost, "/api/v1/watchlist", map[string]string{"symbol": "doge"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/watchlist", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/watchlist/refresh", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAssetEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/assets?q=bit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assets := decode[[]domain.AssetReference](t, w)
	require.Len(t, assets, 1)
	assert.Equal(t, "bitcoin", assets[0].ID)

	w = env.do(t, http.MethodGet, "/api/v1/assets/Bitcoin/price?qty=2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "100000", decode[map[string]string](t, w)["total"])

	w = env.do(t, http.MethodGet, "/api/v1/assets/Dogecoin/price", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/assets/Bitcoin/price?qty=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNoticesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/watchlist", map[string]string{"symbol": "btc"})

	w := env.do(t, http.MethodGet, "/api/v1/notices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	notices := decode[[]domain.Notice](t, w)
	require.Len(t, notices, 1)
	assert.Equal(t, "Bitcoin is already in watchlist", notices[0].Message)
}

func TestRealtimeMounted(t *testing.T) {
	env := newTestEnv(t)

	// A plain GET is refused by the websocket upgrader rather than 404.
	w := env.do(t, http.MethodGet, "/realtime", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRealtimeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	client := remote.NewWSStore("ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime")
	client.Start(context.Background())
	defer client.Close()

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := client.Push(ctx, remote.InvestmentsPath("u1"), validInvestment)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return env.deps.Portfolio.Snapshot().Count == 1
	}, time.Second, 5*time.Millisecond)
}
