package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// HealthFactorSentinel is reported when an account carries no debt. Using a
// large finite value keeps the figure renderable and comparable; the engine
// never emits infinity or NaN.
var HealthFactorSentinel = decimal.NewFromInt(999)

// PortfolioSnapshot is a derived value object describing an account's overall
// solvency at a point in time. Snapshots are recomputed on demand and never
// mutated in place, so concurrent readers always see a consistent view.
type PortfolioSnapshot struct {
	Account                 common.Address  `json:"account"`
	TotalCollateralValue    decimal.Decimal `json:"total_collateral_value"` // USD, collateral-factor weighted
	TotalBorrowValue        decimal.Decimal `json:"total_borrow_value"`     // USD
	HealthFactor            decimal.Decimal `json:"health_factor"`
	BorrowingPowerRemaining decimal.Decimal `json:"borrowing_power_remaining"` // USD
	EnteredMarketIDs        []string        `json:"entered_market_ids"`
	// PriceDataIncomplete is set when at least one supplied or borrowed
	// market had no usable price, so the figures may under- or over-state
	// the true values. Non-fatal: callers should warn, not abort.
	PriceDataIncomplete bool `json:"price_data_incomplete"`
}

// HasDebt reports whether the account owes anything.
func (s *PortfolioSnapshot) HasDebt() bool {
	return s.TotalBorrowValue.IsPositive()
}

// UtilizationPercent returns debt as a percentage of weighted collateral,
// or zero when there is no collateral.
func (s *PortfolioSnapshot) UtilizationPercent() decimal.Decimal {
	if !s.TotalCollateralValue.IsPositive() {
		return decimal.Zero
	}
	return s.TotalBorrowValue.Div(s.TotalCollateralValue).Mul(decimal.NewFromInt(100))
}

// IsEntered reports whether the given market counts toward collateral.
func (s *PortfolioSnapshot) IsEntered(marketID string) bool {
	for _, id := range s.EnteredMarketIDs {
		if id == marketID {
			return true
		}
	}
	return false
}
