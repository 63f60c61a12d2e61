package engine

import (
	"github.com/shopspring/decimal"

	"lend_go/internal/domain"
)

// RiskLevel classifies a projected position for the preview step.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var (
	highHealthFloor   = decimal.RequireFromString("1.2")
	mediumHealthFloor = decimal.RequireFromString("1.5")
	highUtilization   = decimal.NewFromInt(80)
	mediumUtilization = decimal.NewFromInt(60)
)

// ActionProjection is the preview of an action's effect on the portfolio.
// It is computed against an immutable snapshot and mutates nothing.
type ActionProjection struct {
	NewCollateralValue decimal.Decimal
	NewBorrowValue     decimal.Decimal
	NewHealthFactor    decimal.Decimal
	UtilizationBefore  decimal.Decimal // percent
	UtilizationAfter   decimal.Decimal // percent
	Risk               RiskLevel
}

// Project applies the candidate action to the snapshot values and classifies
// the resulting risk. Amount is in token units of the market's asset.
func (e *RiskEngine) Project(actionType domain.ActionType, market *domain.Market, snap *domain.PortfolioSnapshot, amount decimal.Decimal) *ActionProjection {
	proj := &ActionProjection{
		NewCollateralValue: snap.TotalCollateralValue,
		NewBorrowValue:     snap.TotalBorrowValue,
		UtilizationBefore:  snap.UtilizationPercent(),
	}

	delta := amount.Mul(market.Price)
	switch actionType {
	case domain.ActionSupply:
		proj.NewCollateralValue = proj.NewCollateralValue.Add(delta.Mul(market.CollateralFactor))
	case domain.ActionWithdraw:
		proj.NewCollateralValue = proj.NewCollateralValue.Sub(delta.Mul(market.CollateralFactor))
		if proj.NewCollateralValue.IsNegative() {
			proj.NewCollateralValue = decimal.Zero
		}
	case domain.ActionBorrow:
		proj.NewBorrowValue = proj.NewBorrowValue.Add(delta)
	case domain.ActionRepay:
		proj.NewBorrowValue = proj.NewBorrowValue.Sub(delta)
		if proj.NewBorrowValue.IsNegative() {
			proj.NewBorrowValue = decimal.Zero
		}
	}

	if proj.NewBorrowValue.IsPositive() {
		proj.NewHealthFactor = proj.NewCollateralValue.Div(proj.NewBorrowValue)
	} else {
		proj.NewHealthFactor = domain.HealthFactorSentinel
	}
	if proj.NewCollateralValue.IsPositive() {
		proj.UtilizationAfter = proj.NewBorrowValue.Div(proj.NewCollateralValue).Mul(hundred)
	}

	proj.Risk = classifyRisk(proj.NewHealthFactor, proj.UtilizationAfter)
	return proj
}

func classifyRisk(healthFactor, utilization decimal.Decimal) RiskLevel {
	switch {
	case healthFactor.LessThan(highHealthFloor) || utilization.GreaterThan(highUtilization):
		return RiskHigh
	case healthFactor.LessThan(mediumHealthFloor) || utilization.GreaterThan(mediumUtilization):
		return RiskMedium
	default:
		return RiskLow
	}
}
