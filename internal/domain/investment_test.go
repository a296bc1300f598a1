package domain

import (
	"errors"
	"testing"
)

func TestInvestment_Validate(t *testing.T) {
	valid := Investment{AssetType: "Bitcoin", Quantity: 2, Price: 100, PurchaseDate: "2024-01-02"}

	tests := []struct {
		name  string
		mut   func(i *Investment)
		field Field
	}{
		{"Valid", func(i *Investment) {}, ""},
		{"Missing asset", func(i *Investment) { i.AssetType = "  " }, FieldAssetType},
		{"Zero quantity", func(i *Investment) { i.Quantity = 0 }, FieldQuantity},
		{"Negative quantity", func(i *Investment) { i.Quantity = -1 }, FieldQuantity},
		{"Zero price", func(i *Investment) { i.Price = 0 }, FieldPrice},
		{"Missing date", func(i *Investment) { i.PurchaseDate = "" }, FieldPurchaseDate},
		{"First field wins", func(i *Investment) { i.AssetType = ""; i.Price = 0 }, FieldAssetType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := valid
			tt.mut(&inv)
			err := inv.Validate()

			if tt.field == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, vErr.Field)
			}
		})
	}
}

func TestWatchItem_PriceKey(t *testing.T) {
	if got := (WatchItem{ID: "bitcoin", Symbol: "btc"}).PriceKey(); got != "bitcoin" {
		t.Errorf("expected id key, got %s", got)
	}
	if got := (WatchItem{Symbol: "btc"}).PriceKey(); got != "btc" {
		t.Errorf("expected symbol fallback, got %s", got)
	}
}

func TestNewWatchItem_MissingPrice(t *testing.T) {
	asset := AssetReference{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"}
	item := NewWatchItem(asset, "usd")
	if item.Price != 0 {
		t.Errorf("expected 0 price for asset without market data, got %v", item.Price)
	}

	asset.MarketData.CurrentPrice = map[string]float64{"usd": 42000}
	item = NewWatchItem(asset, "usd")
	if item.Price != 42000 {
		t.Errorf("expected 42000, got %v", item.Price)
	}
}

func TestWriteError_Unwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := &WriteError{Kind: PermissionError, Attempts: 4, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("WriteError should unwrap to its cause")
	}
	if err.Kind.String() != "PERMISSION" {
		t.Errorf("unexpected kind string %s", err.Kind)
	}
}

func TestInvestment_Value(t *testing.T) {
	inv := Investment{AssetType: "Ethereum", Quantity: 0.1, Price: 0.2, PurchaseDate: "2024-01-02"}
	if got := inv.Value().String(); got != "0.02" {
		t.Errorf("Value() = %s, want 0.02", got)
	}
}
