package coingecko

import (
	"encoding/json"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
)

// PriceTable maps asset id -> currency -> price, as returned by /simple/price.
type PriceTable map[string]map[string]float64

// Price returns the price of id in currency and whether it was present.
func (t PriceTable) Price(id, currency string) (float64, bool) {
	byCurrency, ok := t[id]
	if !ok {
		return 0, false
	}
	p, ok := byCurrency[currency]
	return p, ok
}

// coinItem is one entry of /coins/markets or /coins/list.
// The live markets endpoint reports a flat current_price; some mirrors and
// fixtures nest per-currency prices under market_data.
type coinItem struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	CurrentPrice json.RawMessage `json:"current_price,omitempty"`
	MarketData   *struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data,omitempty"`
}

func (c coinItem) toAsset(vs string) domain.AssetReference {
	asset := domain.AssetReference{ID: c.ID, Symbol: c.Symbol, Name: c.Name}

	if c.MarketData != nil && len(c.MarketData.CurrentPrice) > 0 {
		asset.MarketData.CurrentPrice = c.MarketData.CurrentPrice
		return asset
	}

	if vs != "" && len(c.CurrentPrice) > 0 {
		var flat *float64
		if err := json.Unmarshal(c.CurrentPrice, &flat); err == nil && flat != nil {
			asset.MarketData.CurrentPrice = map[string]float64{vs: *flat}
		}
	}
	return asset
}
