package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActionType identifies one of the four user-facing protocol operations.
type ActionType string

const (
	ActionSupply   ActionType = "supply"
	ActionBorrow   ActionType = "borrow"
	ActionRepay    ActionType = "repay"
	ActionWithdraw ActionType = "withdraw"
)

// Valid reports whether the action type is one of the four known operations.
func (a ActionType) Valid() bool {
	switch a {
	case ActionSupply, ActionBorrow, ActionRepay, ActionWithdraw:
		return true
	}
	return false
}

// RequiresAllowance reports whether the action moves tokens from the user
// into the protocol and therefore needs a spend allowance on non-native
// assets. Borrow and withdraw move tokens toward the user.
func (a ActionType) RequiresAllowance() bool {
	return a == ActionSupply || a == ActionRepay
}

// ActionState is the lifecycle state of a PendingAction.
type ActionState string

const (
	StateDraft         ActionState = "draft"
	StateNeedsApproval ActionState = "needs_approval"
	StateApproving     ActionState = "approving"
	StateSubmitting    ActionState = "submitting"
	StateConfirming    ActionState = "confirming"
	StateConfirmed     ActionState = "confirmed"
	StateFailed        ActionState = "failed"
	StateTimedOut      ActionState = "timed_out"
)

// actionTransitions encodes the allowed forward edges of the lifecycle.
// timed_out -> confirming exists so that retry-tracking can resume the same
// action without resubmitting the underlying transaction.
var actionTransitions = map[ActionState][]ActionState{
	StateDraft:         {StateNeedsApproval, StateSubmitting, StateFailed},
	StateNeedsApproval: {StateApproving, StateFailed},
	StateApproving:     {StateSubmitting, StateFailed},
	StateSubmitting:    {StateConfirming, StateConfirmed, StateFailed},
	StateConfirming:    {StateConfirmed, StateFailed, StateTimedOut},
	StateTimedOut:      {StateConfirming},
}

// IsTerminal reports whether no further transition is expected. timed_out is
// deliberately not terminal: it is recoverable via retry-tracking.
func (s ActionState) IsTerminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// PendingAction is the single in-flight user action for an account. It is
// created when the wizard commits and destroyed when the wizard resets.
type PendingAction struct {
	ID            string
	Type          ActionType
	MarketID      string
	Amount        decimal.Decimal
	Account       common.Address
	CreatedAt     time.Time
	State         ActionState
	TxHash        common.Hash
	FailureReason string
}

// NewPendingAction creates a draft action for the given commit parameters.
func NewPendingAction(actionType ActionType, marketID string, amount decimal.Decimal, account common.Address) *PendingAction {
	return &PendingAction{
		ID:        uuid.NewString(),
		Type:      actionType,
		MarketID:  marketID,
		Amount:    amount,
		Account:   account,
		CreatedAt: time.Now(),
		State:     StateDraft,
	}
}

// Transition moves the action to the next state, rejecting anything outside
// the allowed lifecycle edges.
func (p *PendingAction) Transition(to ActionState) error {
	for _, allowed := range actionTransitions[p.State] {
		if allowed == to {
			p.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.State, to)
}

// CancelSafe reports whether the action can still be abandoned without an
// on-chain side effect. Once submission starts the transaction may land
// regardless of what the caller does locally.
func (p *PendingAction) CancelSafe() bool {
	switch p.State {
	case StateDraft, StateNeedsApproval, StateApproving:
		return true
	}
	return false
}

// Fail records a failure reason and moves the action to failed.
func (p *PendingAction) Fail(reason string) {
	p.FailureReason = reason
	p.State = StateFailed
}
