package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AllowanceState is a point-in-time view of an ERC-20 spend allowance against
// a required amount. Allowances can change from outside the app at any time,
// so this is always queried fresh and never cached across decisions.
type AllowanceState struct {
	Token            common.Address
	Owner            common.Address
	Spender          common.Address
	CurrentAllowance decimal.Decimal
	RequiredAmount   decimal.Decimal
	// Unlimited marks native assets, which have no allowance concept.
	Unlimited bool
}

// HasEnoughAllowance reports whether the main action can proceed without an
// approval transaction.
func (a *AllowanceState) HasEnoughAllowance() bool {
	if a.Unlimited {
		return true
	}
	return a.CurrentAllowance.GreaterThanOrEqual(a.RequiredAmount)
}
