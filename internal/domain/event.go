package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ChainEvent is an on-chain log entry already decoded into protocol terms.
// Confirmation tracking matches these by content (account, market, action)
// because the wallet integration may not have returned a transaction hash
// at submission time.
type ChainEvent struct {
	Type        ActionType      `json:"type"`
	Account     common.Address  `json:"account"`
	Amount      decimal.Decimal `json:"amount"`       // underlying token units
	TokenAmount decimal.Decimal `json:"token_amount"` // minted/burned market tokens, if any
	TxHash      common.Hash     `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	MarketID    string          `json:"market_id"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// Matches reports whether the event corresponds to the given pending action
// parameters. Amount is intentionally not compared: the on-chain figure can
// differ from the requested one by interest accrued between quote and
// inclusion.
func (e *ChainEvent) Matches(account common.Address, marketID string, actionType ActionType) bool {
	return e.Account == account && e.MarketID == marketID && e.Type == actionType
}
