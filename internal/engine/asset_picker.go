package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/infra"
	"github.com/ud-ai/InvestmentTracker/internal/infra/coingecko"
)

// ErrPriceUnavailable is returned when the provider has no price for an asset.
var ErrPriceUnavailable = errors.New("price unavailable")

// AssetPicker backs the add-investment form: the selectable assets, a
// debounced name search and the unit price of the chosen asset.
type AssetPicker struct {
	market    MarketData
	vs        string
	count     int
	debouncer *infra.Debouncer

	mu     sync.RWMutex
	assets []domain.AssetReference
}

// NewAssetPicker lists the top count markets in vs and debounces searches by window.
func NewAssetPicker(market MarketData, vs string, count int, window time.Duration) *AssetPicker {
	if count <= 0 {
		count = 100
	}
	return &AssetPicker{
		market:    market,
		vs:        vs,
		count:     count,
		debouncer: infra.NewDebouncer(window),
	}
}

// Load fetches the selectable assets by market cap.
func (p *AssetPicker) Load(ctx context.Context) error {
	assets, err := p.market.GetCoinMarkets(ctx, p.vs, p.count, coingecko.OrderMarketCapDesc)
	if err != nil {
		return fmt.Errorf("failed to fetch asset data: %w", err)
	}

	p.mu.Lock()
	p.assets = assets
	p.mu.Unlock()
	return nil
}

// Assets returns the loaded list.
func (p *AssetPicker) Assets() []domain.AssetReference {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.AssetReference(nil), p.assets...)
}

// Filter returns assets whose name contains query, ignoring case, in list order.
func (p *AssetPicker) Filter(query string) []domain.AssetReference {
	q := strings.ToLower(strings.TrimSpace(query))

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.AssetReference, 0, len(p.assets))
	for _, a := range p.assets {
		if strings.Contains(strings.ToLower(a.Name), q) {
			out = append(out, a)
		}
	}
	return out
}

// Search runs Filter once typing pauses; only the last query of a burst is delivered.
func (p *AssetPicker) Search(query string, deliver func([]domain.AssetReference)) {
	p.debouncer.Trigger(func() {
		deliver(p.Filter(query))
	})
}

// Find returns the asset with the given display name.
func (p *AssetPicker) Find(name string) (domain.AssetReference, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, a := range p.assets {
		if a.Name == name {
			return a, true
		}
	}
	for _, a := range p.assets {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return domain.AssetReference{}, false
}

// UnitPrice fetches the current price of the named asset.
func (p *AssetPicker) UnitPrice(ctx context.Context, name string) (decimal.Decimal, error) {
	asset, ok := p.Find(name)
	if !ok {
		return decimal.Zero, fmt.Errorf("%q: %w", name, domain.ErrAssetNotFound)
	}

	prices, err := p.market.GetPrice(ctx, []string{asset.ID}, p.vs)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch price: %w", err)
	}
	price, ok := prices.Price(asset.ID, p.vs)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", asset.ID, ErrPriceUnavailable)
	}
	return decimal.NewFromFloat(price), nil
}

// Total is the purchase amount for qty units.
func (p *AssetPicker) Total(unit decimal.Decimal, qty float64) decimal.Decimal {
	return unit.Mul(decimal.NewFromFloat(qty))
}

// Close drops any pending search.
func (p *AssetPicker) Close() {
	p.debouncer.Stop()
}
