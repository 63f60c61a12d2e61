package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"lend_go/internal/domain"
)

const (
	defaultApprovalWaitInterval = 3 * time.Second
	defaultApprovalWaitTimeout  = 60 * time.Second
)

// ApprovalGate decides whether a spend allowance covers an amount and, when
// it does not, issues the approval and waits for it to actually take effect.
// The main action is never submitted while the allowance is short: approval
// completion is verified, not assumed from submission.
type ApprovalGate struct {
	gateway      domain.ContractGateway
	markets      *MarketDataService
	metrics      WaitMetrics
	waitInterval time.Duration
	waitTimeout  time.Duration
}

// WaitMetrics counts allowance polls. Optional.
type WaitMetrics interface {
	RecordApprovalWait()
}

// NewApprovalGate creates a gate over the gateway and market universe.
func NewApprovalGate(gateway domain.ContractGateway, markets *MarketDataService) *ApprovalGate {
	return &ApprovalGate{
		gateway:      gateway,
		markets:      markets,
		waitInterval: defaultApprovalWaitInterval,
		waitTimeout:  defaultApprovalWaitTimeout,
	}
}

// SetMetrics attaches optional wait counters.
func (g *ApprovalGate) SetMetrics(m WaitMetrics) { g.metrics = m }

// SetWaitBudget overrides the allowance polling cadence and budget.
func (g *ApprovalGate) SetWaitBudget(interval, timeout time.Duration) {
	if interval > 0 {
		g.waitInterval = interval
	}
	if timeout > 0 {
		g.waitTimeout = timeout
	}
}

// CheckAllowance queries the live allowance against the required amount.
// Native markets always pass: there is no allowance concept for them.
// The result is a fresh snapshot, never a cached one.
func (g *ApprovalGate) CheckAllowance(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (*domain.AllowanceState, error) {
	market := g.markets.Market(marketID)
	if market == nil {
		return nil, domain.ErrMarketNotFound
	}

	state := &domain.AllowanceState{
		Token:          market.TokenAddress,
		Owner:          account,
		Spender:        market.MarketAddress,
		RequiredAmount: amount,
	}
	if market.IsNative() {
		state.Unlimited = true
		return state, nil
	}

	allowance, err := g.gateway.GetAllowance(ctx, marketID, account)
	if err != nil {
		return nil, fmt.Errorf("check allowance: %w", err)
	}
	state.CurrentAllowance = allowance
	return state, nil
}

// EnsureApproval makes certain the allowance covers the amount before it
// returns nil. When the allowance is short it submits an approval and then
// polls the allowance until it reaches the required amount or the wait
// budget is exhausted. Submission alone is not completion.
func (g *ApprovalGate) EnsureApproval(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) error {
	state, err := g.CheckAllowance(ctx, marketID, amount, account)
	if err != nil {
		return err
	}
	if state.HasEnoughAllowance() {
		return nil
	}

	slog.Info("Allowance insufficient, approving",
		slog.String("market", marketID),
		slog.String("required", amount.String()),
		slog.String("current", state.CurrentAllowance.String()),
	)

	if _, err := g.gateway.Approve(ctx, marketID, amount, account); err != nil {
		return fmt.Errorf("approve: %w", err)
	}

	return g.waitForAllowance(ctx, marketID, amount, account)
}

// waitForAllowance polls until the on-chain allowance covers the amount.
func (g *ApprovalGate) waitForAllowance(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) error {
	deadline := time.NewTimer(g.waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.waitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return domain.ErrApprovalTimeout
		case <-ticker.C:
			if g.metrics != nil {
				g.metrics.RecordApprovalWait()
			}
			state, err := g.CheckAllowance(ctx, marketID, amount, account)
			if err != nil {
				if !domain.IsRetriable(err) {
					return err
				}
				slog.Warn("Allowance poll failed", slog.Any("error", err))
				continue
			}
			if state.HasEnoughAllowance() {
				slog.Info("Approval confirmed", slog.String("market", marketID))
				return nil
			}
		}
	}
}
