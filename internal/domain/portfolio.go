package domain

// SeriesPoint is one chart sample: insertion index and holding value.
type SeriesPoint struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// PortfolioSnapshot is the derived view over a user's investments.
// It is recomputed on every collection change and never persisted.
type PortfolioSnapshot struct {
	TotalValue       float64       `json:"total_value"`
	TotalCost        float64       `json:"total_cost"`
	Growth           float64       `json:"growth"`
	GrowthPercentage float64       `json:"growth_percentage"`
	Series           []SeriesPoint `json:"series"`
	Count            int           `json:"count"`
}

// IsEmpty reports whether the snapshot describes an empty portfolio.
func (p PortfolioSnapshot) IsEmpty() bool {
	return p.Count == 0
}
