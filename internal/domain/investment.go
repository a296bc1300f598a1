package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Investment is a single purchase record owned by one user account.
// Field names are the wire contract with the remote store.
type Investment struct {
	AssetType    string  `json:"assetType"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`        // Purchase unit price
	PurchaseDate string  `json:"purchaseDate"` // ISO date (YYYY-MM-DD)
}

// Validate checks the record field by field in the order the add-investment
// form is checked. The first failing field is reported.
func (i Investment) Validate() error {
	if strings.TrimSpace(i.AssetType) == "" {
		return &ValidationError{Field: FieldAssetType, Reason: "please select an asset"}
	}
	if i.Quantity <= 0 {
		return &ValidationError{Field: FieldQuantity, Reason: "please enter a valid quantity"}
	}
	if i.Price <= 0 {
		return &ValidationError{Field: FieldPrice, Reason: "please enter a valid price"}
	}
	if strings.TrimSpace(i.PurchaseDate) == "" {
		return &ValidationError{Field: FieldPurchaseDate, Reason: "please select purchase date"}
	}
	return nil
}

// Value returns quantity * price, computed in decimal so sums over many
// records do not drift.
func (i Investment) Value() decimal.Decimal {
	return decimal.NewFromFloat(i.Quantity).Mul(decimal.NewFromFloat(i.Price))
}
