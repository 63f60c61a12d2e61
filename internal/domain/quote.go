package domain

import "github.com/shopspring/decimal"

// PriceQuote is a single symbol price observation from a feed. The feed may
// return a partial set of symbols; consumers must tolerate gaps.
type PriceQuote struct {
	Symbol    string           `json:"symbol"`
	Price     decimal.Decimal  `json:"price"` // USD
	Change24h *decimal.Decimal `json:"change_24h,omitempty"` // percent, when the source provides it
	Source    string           `json:"source"`
}
