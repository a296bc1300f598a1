package domain

// AssetReference is an immutable snapshot of a listed asset as returned by
// the market-data provider.
type AssetReference struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Name       string     `json:"name"`
	MarketData MarketData `json:"market_data"`
}

// MarketData holds the per-currency prices of an asset.
type MarketData struct {
	CurrentPrice map[string]float64 `json:"current_price"`
}

// CurrentPrice returns the price in currency, or 0 if the provider did not
// report one (e.g. entries coming from the bare listing endpoint).
func (a AssetReference) CurrentPrice(currency string) float64 {
	if a.MarketData.CurrentPrice == nil {
		return 0
	}
	return a.MarketData.CurrentPrice[currency]
}
