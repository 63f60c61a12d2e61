package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"lend_go/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)

	// borrowSafetyMargin shaves borrow capacity so a small price move right
	// after the quote cannot push the account under water.
	borrowSafetyMargin = decimal.RequireFromString("0.95")

	// liquidityBuffer reserves a slice of protocol liquidity for interest
	// accrued between the quote and inclusion.
	liquidityBuffer = decimal.RequireFromString("0.98")

	// withdrawHealthFloor is the minimum post-withdrawal health factor.
	withdrawHealthFloor = decimal.RequireFromString("1.1")
)

// RiskEngine derives solvency figures and safe action bounds from market
// snapshots and positions. It is pure computation: no I/O, no stored state,
// and it never errors on empty portfolios: zero collateral and zero debt
// are both valid.
type RiskEngine struct{}

// NewRiskEngine creates a risk engine.
func NewRiskEngine() *RiskEngine {
	return &RiskEngine{}
}

// BorrowCapacity describes how much of a market the user can borrow and
// which constraint is binding.
type BorrowCapacity struct {
	MaxBorrowAmount    decimal.Decimal // token units, min of both bounds
	CurrentDebt        decimal.Decimal // token units
	AvailableLiquidity decimal.Decimal // token units, protocol side, unbuffered
	IsLiquidityLimited bool            // liquidity is the strictly smaller bound
	MaxFromCollateral  decimal.Decimal // token units, collateral-side bound
}

// CalculatePortfolio recomputes the account's solvency snapshot from the
// given markets and positions. Markets without a position are treated as
// zero balances. A missing or zero price contributes nothing and flags the
// snapshot as incomplete instead of failing the whole computation.
func (e *RiskEngine) CalculatePortfolio(account common.Address, markets []*domain.Market, positions map[string]*domain.Position) *domain.PortfolioSnapshot {
	snap := &domain.PortfolioSnapshot{Account: account}

	for _, market := range markets {
		if !market.IsActive {
			continue
		}
		pos := positions[market.ID]
		if pos.IsEmpty() {
			continue
		}
		if !market.HasPrice() {
			snap.PriceDataIncomplete = true
			continue
		}

		if pos.SupplyBalance.IsPositive() {
			collateral := pos.SupplyBalance.Mul(market.Price).Mul(market.CollateralFactor)
			snap.TotalCollateralValue = snap.TotalCollateralValue.Add(collateral)
			snap.EnteredMarketIDs = append(snap.EnteredMarketIDs, market.ID)
		}
		if pos.BorrowBalance.IsPositive() {
			snap.TotalBorrowValue = snap.TotalBorrowValue.Add(pos.BorrowBalance.Mul(market.Price))
		}
	}

	if snap.TotalBorrowValue.IsPositive() {
		snap.HealthFactor = snap.TotalCollateralValue.Div(snap.TotalBorrowValue)
	} else {
		snap.HealthFactor = domain.HealthFactorSentinel
	}

	remaining := snap.TotalCollateralValue.Sub(snap.TotalBorrowValue)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	snap.BorrowingPowerRemaining = remaining

	return snap
}

// MaxBorrow computes the binding borrow cap for one market: the smaller of
// the collateral-derived capacity and the protocol's available liquidity.
// MaxFromCollateral is reported separately so a caller can explain why the
// cap is lower than collateral alone would allow.
func (e *RiskEngine) MaxBorrow(market *domain.Market, snap *domain.PortfolioSnapshot, pos *domain.Position) *BorrowCapacity {
	cap := &BorrowCapacity{}
	if pos != nil {
		cap.CurrentDebt = pos.BorrowBalance
	}
	if market == nil || !market.Borrowable() || !market.HasPrice() {
		return cap
	}

	cap.MaxFromCollateral = snap.BorrowingPowerRemaining.
		Mul(borrowSafetyMargin).
		Div(market.Price)

	cap.AvailableLiquidity = market.AvailableLiquidityUSD().Div(market.Price)
	buffered := cap.AvailableLiquidity.Mul(liquidityBuffer)

	if cap.MaxFromCollateral.GreaterThan(buffered) {
		cap.MaxBorrowAmount = buffered
		cap.IsLiquidityLimited = true
	} else {
		cap.MaxBorrowAmount = cap.MaxFromCollateral
	}
	if cap.MaxBorrowAmount.IsNegative() {
		cap.MaxBorrowAmount = decimal.Zero
	}
	return cap
}

// MaxWithdraw computes how much of a supplied balance can be pulled out
// while keeping the post-withdrawal health factor above the safety floor.
// With no debt the whole supplied balance is withdrawable.
func (e *RiskEngine) MaxWithdraw(market *domain.Market, snap *domain.PortfolioSnapshot, pos *domain.Position) decimal.Decimal {
	if market == nil || pos == nil || !pos.SupplyBalance.IsPositive() {
		return decimal.Zero
	}
	if !snap.HasDebt() {
		return pos.SupplyBalance
	}
	if !market.HasPrice() || !snap.IsEntered(market.ID) {
		// Not collateralizing anything priced; the balance is free.
		return pos.SupplyBalance
	}

	// Keep TotalCollateralValue - x*price*cf >= floor * TotalBorrowValue.
	required := snap.TotalBorrowValue.Mul(withdrawHealthFloor)
	headroom := snap.TotalCollateralValue.Sub(required)
	if !headroom.IsPositive() {
		return decimal.Zero
	}
	unitValue := market.Price.Mul(market.CollateralFactor)
	if !unitValue.IsPositive() {
		return pos.SupplyBalance
	}
	maxByHealth := headroom.Div(unitValue)
	if maxByHealth.GreaterThan(pos.SupplyBalance) {
		return pos.SupplyBalance
	}
	return maxByHealth
}

// MaxRepay is bounded by the wallet balance and the outstanding debt.
func (e *RiskEngine) MaxRepay(pos *domain.Position, walletBalance decimal.Decimal) decimal.Decimal {
	if pos == nil || !pos.BorrowBalance.IsPositive() {
		return decimal.Zero
	}
	if walletBalance.LessThan(pos.BorrowBalance) {
		if walletBalance.IsNegative() {
			return decimal.Zero
		}
		return walletBalance
	}
	return pos.BorrowBalance
}
