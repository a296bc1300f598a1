package domain

// WatchItem is one tracked asset in the user's watchlist.
// Symbol is the unique key within a watchlist.
type WatchItem struct {
	ID     string  `json:"id,omitempty"` // Market-data identifier, when known
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"` // Last known unit price
}

// PriceKey returns the identifier used when requesting prices for the item.
// Items cached before ids were recorded fall back to the symbol.
func (w WatchItem) PriceKey() string {
	if w.ID != "" {
		return w.ID
	}
	return w.Symbol
}

// NewWatchItem builds a watchlist entry from a reference asset using its
// current price in the given currency (0 when unknown).
func NewWatchItem(asset AssetReference, vsCurrency string) WatchItem {
	return WatchItem{
		ID:     asset.ID,
		Symbol: asset.Symbol,
		Name:   asset.Name,
		Price:  asset.CurrentPrice(vsCurrency),
	}
}

// ContainsSymbol reports whether items already hold the symbol.
func ContainsSymbol(items []WatchItem, symbol string) bool {
	for _, it := range items {
		if it.Symbol == symbol {
			return true
		}
	}
	return false
}
