package domain

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func newTestAction() *PendingAction {
	return NewPendingAction(
		ActionSupply,
		"usdt",
		decimal.NewFromInt(100),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
	)
}

func TestActionHappyPathWithApproval(t *testing.T) {
	a := newTestAction()

	steps := []ActionState{StateNeedsApproval, StateApproving, StateSubmitting, StateConfirming, StateConfirmed}
	for _, s := range steps {
		if err := a.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
	if !a.State.IsTerminal() {
		t.Error("confirmed should be terminal")
	}
}

func TestActionSkipsApprovalWhenNotNeeded(t *testing.T) {
	a := newTestAction()
	if err := a.Transition(StateSubmitting); err != nil {
		t.Fatalf("draft -> submitting failed: %v", err)
	}
	if err := a.Transition(StateConfirmed); err != nil {
		t.Fatalf("submitting -> confirmed failed: %v", err)
	}
}

func TestActionRejectsInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from ActionState
		to   ActionState
	}{
		{"draft to confirmed", StateDraft, StateConfirmed},
		{"draft to confirming", StateDraft, StateConfirming},
		{"confirmed is terminal", StateConfirmed, StateSubmitting},
		{"failed is terminal", StateFailed, StateConfirming},
		{"no backwards to draft", StateSubmitting, StateDraft},
		{"timed out cannot resubmit", StateTimedOut, StateSubmitting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAction()
			a.State = tt.from
			err := a.Transition(tt.to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestActionTimedOutResumesTracking(t *testing.T) {
	a := newTestAction()
	a.State = StateTimedOut

	if a.State.IsTerminal() {
		t.Error("timed_out must not be terminal")
	}
	if err := a.Transition(StateConfirming); err != nil {
		t.Fatalf("timed_out -> confirming failed: %v", err)
	}
}

func TestActionCancelSafe(t *testing.T) {
	safe := []ActionState{StateDraft, StateNeedsApproval, StateApproving}
	unsafe := []ActionState{StateSubmitting, StateConfirming, StateConfirmed, StateFailed, StateTimedOut}

	a := newTestAction()
	for _, s := range safe {
		a.State = s
		if !a.CancelSafe() {
			t.Errorf("%s should be cancel-safe", s)
		}
	}
	for _, s := range unsafe {
		a.State = s
		if a.CancelSafe() {
			t.Errorf("%s should not be cancel-safe", s)
		}
	}
}

func TestRequiresAllowance(t *testing.T) {
	if !ActionSupply.RequiresAllowance() || !ActionRepay.RequiresAllowance() {
		t.Error("supply and repay move tokens in and need allowance")
	}
	if ActionBorrow.RequiresAllowance() || ActionWithdraw.RequiresAllowance() {
		t.Error("borrow and withdraw move tokens out and need no allowance")
	}
}

func TestChainEventMatches(t *testing.T) {
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	ev := &ChainEvent{
		Type:     ActionSupply,
		Account:  account,
		MarketID: "usdt",
		Amount:   decimal.NewFromInt(99), // differs from requested on purpose
	}

	if !ev.Matches(account, "usdt", ActionSupply) {
		t.Error("expected match regardless of amount")
	}
	if ev.Matches(other, "usdt", ActionSupply) {
		t.Error("must not match a different account")
	}
	if ev.Matches(account, "kaia", ActionSupply) {
		t.Error("must not match a different market")
	}
	if ev.Matches(account, "usdt", ActionBorrow) {
		t.Error("must not match a different action type")
	}
}
