// Package coingecko is a typed client for the CoinGecko-shaped public
// market-data API. Each call is a single request: callers decide on retries.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/infra"
	"github.com/ud-ai/InvestmentTracker/internal/metrics"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// OrderMarketCapDesc is the GetCoinMarkets sort used for seeding and the picker.
const OrderMarketCapDesc = "market_cap_desc"

// Operation names used in FetchError.Op and metric labels.
const (
	OpSimplePrice = "simple/price"
	OpCoinMarkets = "coins/markets"
	OpCoinList    = "coins/list"
)

const apiKeyHeader = "x-cg-demo-api-key"

// maxBodySize bounds response bodies; /coins/list is several MB.
const maxBodySize = 32 << 20

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL   string
	APIKey    string        // Sent as x-cg-demo-api-key when set
	Timeout   time.Duration // 0 = no client timeout
	UserAgent string

	RateBurst     int
	RatePerSecond float64

	Breaker infra.CircuitBreakerConfig
}

// Client talks to the market-data API.
// Every call waits on the rate limiter and goes through the circuit breaker.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	limiter    *infra.RateLimiter
	breaker    *infra.CircuitBreaker
}

// NewClient creates a client from opts.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = infra.UserAgent("")
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 5
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 0.5
	}
	if opts.Breaker.Name == "" {
		opts.Breaker = infra.DefaultCircuitBreakerConfig("coingecko")
	}
	if opts.Breaker.OnStateChange == nil {
		opts.Breaker.OnStateChange = func(name string, from, to infra.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		userAgent:  opts.UserAgent,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    infra.NewRateLimiter(opts.RateBurst, opts.RatePerSecond),
		breaker:    infra.NewCircuitBreaker(opts.Breaker),
	}
}

// NewClientFromConfig builds a client from the market_data config section.
func NewClientFromConfig(cfg *infra.Config) *Client {
	md := cfg.MarketData
	return NewClient(Options{
		BaseURL:       md.BaseURL,
		APIKey:        md.APIKey,
		Timeout:       cfg.RequestTimeout(),
		UserAgent:     infra.UserAgent(cfg.App.Version),
		RateBurst:     md.RateLimit.Burst,
		RatePerSecond: md.RateLimit.PerSecond,
		Breaker: infra.CircuitBreakerConfig{
			Name:             "coingecko",
			FailureThreshold: md.Breaker.FailureThreshold,
			SuccessThreshold: md.Breaker.SuccessThreshold,
			Timeout:          time.Duration(md.Breaker.TimeoutSec) * time.Second,
		},
	})
}

// GetPrice returns prices of ids in vs with one batched request.
// Ids the provider does not know are absent from the result.
func (c *Client) GetPrice(ctx context.Context, ids []string, vs string) (PriceTable, error) {
	if len(ids) == 0 {
		return PriceTable{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", vs)

	var table PriceTable
	if err := c.get(ctx, OpSimplePrice, q, &table); err != nil {
		return nil, err
	}
	if table == nil {
		table = PriceTable{}
	}
	return table, nil
}

// GetCoinMarkets returns the first page of markets in vs ordered by order.
func (c *Client) GetCoinMarkets(ctx context.Context, vs string, perPage int, order string) ([]domain.AssetReference, error) {
	if order == "" {
		order = OrderMarketCapDesc
	}

	q := url.Values{}
	q.Set("vs_currency", vs)
	q.Set("order", order)
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", "1")
	q.Set("sparkline", "false")

	var items []coinItem
	if err := c.get(ctx, OpCoinMarkets, q, &items); err != nil {
		return nil, err
	}

	assets := make([]domain.AssetReference, 0, len(items))
	for _, it := range items {
		assets = append(assets, it.toAsset(vs))
	}
	return assets, nil
}

// GetAllCoins returns the full listing. Entries carry no prices.
func (c *Client) GetAllCoins(ctx context.Context) ([]domain.AssetReference, error) {
	var items []coinItem
	if err := c.get(ctx, OpCoinList, nil, &items); err != nil {
		return nil, err
	}

	assets := make([]domain.AssetReference, 0, len(items))
	for _, it := range items {
		assets = append(assets, it.toAsset(""))
	}
	return assets, nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() infra.State {
	return c.breaker.Current()
}

func (c *Client) get(ctx context.Context, op string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.MarketDataRequests.WithLabelValues(op, metrics.OutcomeRejected).Inc()
		return &domain.FetchError{Op: op, Cause: err}
	}

	start := time.Now()
	err := c.breaker.Do(func() error {
		return c.do(ctx, op, q, out)
	}, func(err error) bool { return ctx.Err() == nil && countsAgainstBreaker(err) })
	metrics.MarketDataLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.MarketDataRequests.WithLabelValues(op, metrics.OutcomeSuccess).Inc()
		return nil
	case errors.Is(err, infra.ErrCircuitOpen):
		metrics.MarketDataRequests.WithLabelValues(op, metrics.OutcomeRejected).Inc()
		return &domain.FetchError{Op: op, Cause: err}
	default:
		metrics.MarketDataRequests.WithLabelValues(op, metrics.OutcomeFailure).Inc()
		return err
	}
}

func (c *Client) do(ctx context.Context, op string, q url.Values, out any) error {
	endpoint := c.baseURL + "/" + op
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &domain.FetchError{Op: op, Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.FetchError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		slog.Debug("Market data request rejected", slog.String("op", op), slog.Int("status", resp.StatusCode))
		return &domain.FetchError{Op: op, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		return &domain.FetchError{Op: op, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// countsAgainstBreaker: outages and throttling trip the breaker, caller
// mistakes (4xx) do not. Cancelled calls are filtered out before this.
func countsAgainstBreaker(err error) bool {
	var fe *domain.FetchError
	if errors.As(err, &fe) && fe.Cause == nil {
		return fe.StatusCode >= 500 || fe.StatusCode == http.StatusTooManyRequests
	}
	return true
}
