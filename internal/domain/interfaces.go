package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TxRequest is the wallet-facing transaction shape. Value and Data are
// already encoded; the bridge only signs and submits.
type TxRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
	Gas   uint64
}

// WalletBridge submits a prepared transaction through whatever wallet
// integration hosts the app. The returned hash may be empty: some
// integrations do not report one at submission time, which is why
// confirmation tracking exists at all.
type WalletBridge interface {
	SendTransaction(ctx context.Context, req *TxRequest) (txHash string, err error)
}

// ContractGateway exposes the four protocol operations plus the reads the
// core needs. Each operation returns the transaction hash when the wallet
// reported one, or an empty string when it did not. Failures are either
// retriable NetworkErrors or fatal RevertErrors.
type ContractGateway interface {
	Supply(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (txHash string, err error)
	Borrow(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (txHash string, err error)
	Repay(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (txHash string, err error)
	Withdraw(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (txHash string, err error)

	// Approve grants the market contract a spend allowance on the
	// underlying token. No-op for native markets.
	Approve(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (txHash string, err error)

	// GetPosition reads the user's supplied and borrowed balances.
	GetPosition(ctx context.Context, marketID string, account common.Address) (*Position, error)

	// GetAllowance reads the current spend allowance of the market contract
	// on the underlying token, in token units.
	GetAllowance(ctx context.Context, marketID string, account common.Address) (decimal.Decimal, error)

	// GetWalletBalance reads the user's wallet balance of the underlying
	// token, in token units.
	GetWalletBalance(ctx context.Context, marketID string, account common.Address) (decimal.Decimal, error)
}

// EventSource queries on-chain log entries for a given account, market and
// action type over a block range. Used by confirmation tracking to correlate
// a submitted action to a later-observed event.
type EventSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FilterActionEvents(ctx context.Context, account common.Address, marketID string, actionType ActionType, fromBlock, toBlock uint64) ([]*ChainEvent, error)
}

// PriceFeed returns prices for the requested symbols. The map may be partial;
// missing symbols are not an error.
type PriceFeed interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]*PriceQuote, error)
}
