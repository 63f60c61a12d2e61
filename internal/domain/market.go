package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeTokenAddress is the conventional sentinel address for the chain's
// native asset. Native markets have no ERC-20 allowance to manage.
var NativeTokenAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Market holds the read-only metadata and live figures for a single lending
// market. It is owned by the market data service and refreshed from the price
// feed; the core never mutates it during a transaction flow.
type Market struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Decimals         int             `json:"decimals"`
	TokenAddress     common.Address  `json:"token_address"`
	MarketAddress    common.Address  `json:"market_address"`
	Price            decimal.Decimal `json:"price"`        // USD per token unit
	SupplyAPY        decimal.Decimal `json:"supply_apy"`   // percent
	BorrowAPR        decimal.Decimal `json:"borrow_apr"`   // percent
	TotalSupply      decimal.Decimal `json:"total_supply"` // USD
	TotalBorrow      decimal.Decimal `json:"total_borrow"` // USD
	CollateralFactor decimal.Decimal `json:"collateral_factor"` // 0..1
	IsCollateralOnly bool            `json:"is_collateral_only"`
	IsActive         bool            `json:"is_active"`
}

// IsNative reports whether the market's underlying asset is the chain's
// native token (no allowance required).
func (m *Market) IsNative() bool {
	return m.TokenAddress == NativeTokenAddress
}

// Borrowable reports whether the market can be borrowed from at all.
// Collateral-only and inactive markets are never borrowable.
func (m *Market) Borrowable() bool {
	return m.IsActive && !m.IsCollateralOnly
}

// AvailableLiquidityUSD returns the protocol-side liquidity in USD, floored
// at zero when borrows exceed supply due to accrued interest.
func (m *Market) AvailableLiquidityUSD() decimal.Decimal {
	liquidity := m.TotalSupply.Sub(m.TotalBorrow)
	if liquidity.IsNegative() {
		return decimal.Zero
	}
	return liquidity
}

// HasPrice reports whether a usable price is present for this market.
func (m *Market) HasPrice() bool {
	return m.Price.IsPositive()
}

// Position is a user's per-market balance pair, in token units.
// It is produced by ContractGateway reads; the core only observes it.
type Position struct {
	MarketID      string          `json:"market_id"`
	SupplyBalance decimal.Decimal `json:"supply_balance"`
	BorrowBalance decimal.Decimal `json:"borrow_balance"`
}

// IsEmpty reports whether the position carries no balances at all.
func (p *Position) IsEmpty() bool {
	return p == nil || (p.SupplyBalance.IsZero() && p.BorrowBalance.IsZero())
}
