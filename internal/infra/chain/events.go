package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"lend_go/internal/domain"
)

// logFilterer is the slice of the RPC client the event source needs.
// Satisfied by *ethclient.Client.
type logFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// eventLayout describes where in the non-indexed data words the account and
// amount of one event type live. All market events emit their arguments
// unindexed, so the account is recovered from the data payload rather than
// from topics.
type eventLayout struct {
	topic       common.Hash
	accountWord int
	amountWord  int
	tokenWord   int // -1 when the event carries no market-token figure
}

var eventLayouts = map[domain.ActionType]eventLayout{
	domain.ActionSupply: {
		topic:       crypto.Keccak256Hash([]byte("Mint(address,uint256,uint256)")),
		accountWord: 0,
		amountWord:  1,
		tokenWord:   2,
	},
	domain.ActionWithdraw: {
		topic:       crypto.Keccak256Hash([]byte("Redeem(address,uint256,uint256)")),
		accountWord: 0,
		amountWord:  1,
		tokenWord:   2,
	},
	domain.ActionBorrow: {
		topic:       crypto.Keccak256Hash([]byte("Borrow(address,uint256,uint256,uint256,uint256,uint256)")),
		accountWord: 0,
		amountWord:  1,
		tokenWord:   -1,
	},
	domain.ActionRepay: {
		// RepayBorrow(payer, borrower, repayAmount, ...). The payer is the
		// acting wallet.
		topic:       crypto.Keccak256Hash([]byte("RepayBorrow(address,address,uint256,uint256,uint256,uint256,uint256)")),
		accountWord: 0,
		amountWord:  2,
		tokenWord:   -1,
	},
}

// EventSource reads market contract logs and decodes them into ChainEvents
// for confirmation tracking.
type EventSource struct {
	client  logFilterer
	markets MarketLookup
}

// NewEventSource creates an event source over the given RPC client.
func NewEventSource(client logFilterer, markets MarketLookup) *EventSource {
	return &EventSource{client: client, markets: markets}
}

// LatestBlock returns the current chain head number.
func (s *EventSource) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, domain.NewNetworkError("block number", err)
	}
	return n, nil
}

// FilterActionEvents returns decoded events of the given action type emitted
// by the market contract for the account within [fromBlock, toBlock]. Events
// for other accounts are filtered out after decoding.
func (s *EventSource) FilterActionEvents(ctx context.Context, account common.Address, marketID string, actionType domain.ActionType, fromBlock, toBlock uint64) ([]*domain.ChainEvent, error) {
	market := s.markets.Market(marketID)
	if market == nil {
		return nil, domain.ErrMarketNotFound
	}
	layout, ok := eventLayouts[actionType]
	if !ok {
		return nil, domain.NewValidationError("action", "no event layout for action type")
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{market.MarketAddress},
		Topics:    [][]common.Hash{{layout.topic}},
	}

	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, domain.NewNetworkError("filter logs", err)
	}

	events := make([]*domain.ChainEvent, 0, len(logs))
	for i := range logs {
		ev := s.decode(&logs[i], market, actionType, layout)
		if ev == nil || ev.Account != account {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// decode extracts one ChainEvent from a raw log, or nil when the data
// payload is malformed.
func (s *EventSource) decode(lg *types.Log, market *domain.Market, actionType domain.ActionType, layout eventLayout) *domain.ChainEvent {
	if lg.Removed {
		return nil
	}
	need := layout.amountWord
	if layout.tokenWord > need {
		need = layout.tokenWord
	}
	if layout.accountWord > need {
		need = layout.accountWord
	}
	if len(lg.Data) < (need+1)*32 {
		return nil
	}

	ev := &domain.ChainEvent{
		Type:        actionType,
		Account:     common.BytesToAddress(dataWord(lg.Data, layout.accountWord)),
		Amount:      weiToAmount(new(big.Int).SetBytes(dataWord(lg.Data, layout.amountWord)), market.Decimals),
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		MarketID:    market.ID,
		ObservedAt:  time.Now(),
	}
	if layout.tokenWord >= 0 {
		ev.TokenAmount = weiToAmount(new(big.Int).SetBytes(dataWord(lg.Data, layout.tokenWord)), market.Decimals)
	}
	return ev
}

func dataWord(data []byte, idx int) []byte {
	return data[idx*32 : (idx+1)*32]
}
