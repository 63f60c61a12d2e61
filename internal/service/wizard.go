package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"lend_go/internal/domain"
	"lend_go/internal/engine"
	"lend_go/internal/tracker"
)

// Step identifies a wizard screen. Steps advance strictly forward except
// for the allowed back-navigation window (select through preview).
type Step int

const (
	StepSelect Step = iota + 1
	StepAmount
	StepPreview
	StepCommit
	StepConfirm
	StepResult
)

func (s Step) String() string {
	switch s {
	case StepSelect:
		return "select"
	case StepAmount:
		return "amount"
	case StepPreview:
		return "preview"
	case StepCommit:
		return "commit"
	case StepConfirm:
		return "confirm"
	case StepResult:
		return "result"
	}
	return "unknown"
}

// HistoryRecorder persists terminal action outcomes. Optional.
type HistoryRecorder interface {
	SaveActionRecord(rec *domain.ActionRecord) error
}

// ActionMetrics counts action lifecycle outcomes. Optional.
type ActionMetrics interface {
	RecordActionSubmitted()
	RecordActionConfirmed()
	RecordActionFailed()
	RecordActionTimedOut()
}

// Result is the terminal outcome surfaced on the result step.
type Result struct {
	Success     bool
	Action      domain.ActionType
	MarketID    string
	Amount      decimal.Decimal
	TxHash      common.Hash
	NewPosition *domain.Position
	Reason      string
}

// TransactionWizard drives one user action (supply, borrow, repay or
// withdraw) through asset selection, amount entry, preview, approval,
// submission and confirmation. It owns the single PendingAction for the
// account; risk and allowance data are immutable snapshots reloaded on
// demand, never mutated in place.
type TransactionWizard struct {
	mu sync.Mutex

	actionType domain.ActionType
	account    common.Address

	engine  *engine.RiskEngine
	markets *MarketDataService
	gateway domain.ContractGateway
	gate    *ApprovalGate
	tracker *tracker.ConfirmationTracker
	history HistoryRecorder
	metrics ActionMetrics

	step     Step
	marketID string

	amount    decimal.Decimal
	amountSet bool

	// Asynchronously loaded context. canAdvance treats anything not yet
	// loaded as "cannot advance".
	snapshot      *domain.PortfolioSnapshot
	positions     map[string]*domain.Position
	bound         decimal.Decimal
	boundLoaded   bool
	capacity      *engine.BorrowCapacity
	allowance     *domain.AllowanceState
	walletBalance decimal.Decimal

	pending *domain.PendingAction
	stepErr error
	result  *Result
}

// NewTransactionWizard creates a wizard for one action type and account.
func NewTransactionWizard(
	actionType domain.ActionType,
	account common.Address,
	riskEngine *engine.RiskEngine,
	markets *MarketDataService,
	gateway domain.ContractGateway,
	gate *ApprovalGate,
	confirmTracker *tracker.ConfirmationTracker,
) *TransactionWizard {
	return &TransactionWizard{
		actionType: actionType,
		account:    account,
		engine:     riskEngine,
		markets:    markets,
		gateway:    gateway,
		gate:       gate,
		tracker:    confirmTracker,
		step:       StepSelect,
	}
}

// SetHistory attaches an optional terminal-outcome recorder.
func (w *TransactionWizard) SetHistory(h HistoryRecorder) { w.history = h }

// SetMetrics attaches optional lifecycle counters.
func (w *TransactionWizard) SetMetrics(m ActionMetrics) { w.metrics = m }

// Step returns the current step.
func (w *TransactionWizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// StepError returns the error attached to the current step, if any.
func (w *TransactionWizard) StepError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stepErr
}

// Pending returns the in-flight action, or nil.
func (w *TransactionWizard) Pending() *domain.PendingAction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// Result returns the terminal outcome once the result step is reached.
func (w *TransactionWizard) Result() *Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// SelectMarket picks the market to act on. For borrow, only active
// non-collateral-only markets are selectable. Selection never discards an
// already-entered amount on re-selection of the same market.
func (w *TransactionWizard) SelectMarket(marketID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	market := w.markets.Market(marketID)
	if market == nil || !market.IsActive {
		return domain.ErrMarketNotFound
	}
	if w.actionType == domain.ActionBorrow && !market.Borrowable() {
		return domain.NewValidationError("market", "asset cannot be borrowed")
	}

	if w.marketID != marketID {
		w.amount = decimal.Zero
		w.amountSet = false
		w.boundLoaded = false
		w.capacity = nil
		w.allowance = nil
	}
	w.marketID = marketID
	w.stepErr = nil
	return nil
}

// LoadRiskData refreshes positions, the portfolio snapshot, the action
// bound and (for token-inbound actions) the allowance. It is safe to call
// repeatedly from timers or input changes: once the pending action reaches
// submission the refresh becomes a no-op so it can never clobber an
// in-flight commit.
func (w *TransactionWizard) LoadRiskData(ctx context.Context) error {
	w.mu.Lock()
	if w.pending != nil && !w.pending.CancelSafe() {
		w.mu.Unlock()
		return nil
	}
	marketID := w.marketID
	amount := w.amount
	w.mu.Unlock()

	markets := w.markets.Snapshot()
	positions := make(map[string]*domain.Position, len(markets))
	for _, m := range markets {
		pos, err := w.gateway.GetPosition(ctx, m.ID, w.account)
		if err != nil {
			return err
		}
		if pos != nil {
			positions[m.ID] = pos
		}
	}
	snap := w.engine.CalculatePortfolio(w.account, markets, positions)
	if !w.markets.PriceDataComplete() {
		snap.PriceDataIncomplete = true
	}

	var (
		bound       decimal.Decimal
		boundLoaded bool
		capacity    *engine.BorrowCapacity
		wallet      decimal.Decimal
		allowance   *domain.AllowanceState
	)
	if marketID != "" {
		market := w.markets.Market(marketID)
		pos := positions[marketID]

		wb, err := w.gateway.GetWalletBalance(ctx, marketID, w.account)
		if err != nil {
			return err
		}
		wallet = wb

		switch w.actionType {
		case domain.ActionSupply:
			bound = wallet
		case domain.ActionBorrow:
			capacity = w.engine.MaxBorrow(market, snap, pos)
			bound = capacity.MaxBorrowAmount
		case domain.ActionRepay:
			bound = w.engine.MaxRepay(pos, wallet)
		case domain.ActionWithdraw:
			bound = w.engine.MaxWithdraw(market, snap, pos)
		}
		bound = engine.TruncateToSafeDecimals(bound, market.Decimals)
		boundLoaded = true

		if w.actionType.RequiresAllowance() && amount.IsPositive() {
			st, err := w.gate.CheckAllowance(ctx, marketID, amount, w.account)
			if err != nil {
				return err
			}
			allowance = st
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil && !w.pending.CancelSafe() {
		// A commit started while we were reading; drop the stale refresh.
		return nil
	}
	w.positions = positions
	w.snapshot = snap
	w.bound = bound
	w.boundLoaded = boundLoaded
	w.capacity = capacity
	w.walletBalance = wallet
	if !w.actionType.RequiresAllowance() {
		market := w.markets.Market(marketID)
		if market != nil {
			w.allowance = &domain.AllowanceState{Unlimited: true, Token: market.TokenAddress, Owner: w.account}
		}
	} else if allowance != nil {
		w.allowance = allowance
	}
	return nil
}

// Snapshot returns the last loaded portfolio snapshot, or nil.
func (w *TransactionWizard) Snapshot() *domain.PortfolioSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot
}

// Bound returns the action's maximum safe amount and whether it has loaded.
func (w *TransactionWizard) Bound() (decimal.Decimal, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bound, w.boundLoaded
}

// Capacity returns the borrow capacity breakdown when the action is borrow.
func (w *TransactionWizard) Capacity() *engine.BorrowCapacity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.capacity
}

// SetAmount validates and records the entered amount. Validation failures
// attach to the amount step and keep the previous input intact.
func (w *TransactionWizard) SetAmount(amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.boundLoaded {
		err := domain.NewValidationError("amount", "risk bounds not loaded yet")
		w.stepErr = err
		return err
	}
	if !amount.IsPositive() {
		err := domain.NewValidationError("amount", "must be greater than zero")
		w.stepErr = err
		return err
	}
	if amount.GreaterThan(w.bound) {
		err := domain.NewValidationError("amount", "exceeds maximum safe amount")
		w.stepErr = err
		return err
	}
	w.amount = amount
	w.amountSet = true
	w.allowance = nil // amount changed; allowance must be re-checked
	w.stepErr = nil
	return nil
}

// QuickAmount sets percentage% of the bound, truncated down to the asset's
// safe decimals so the result always passes a strict balance check.
func (w *TransactionWizard) QuickAmount(percentage int64) error {
	w.mu.Lock()
	if !w.boundLoaded || w.marketID == "" {
		w.mu.Unlock()
		return domain.NewValidationError("amount", "risk bounds not loaded yet")
	}
	market := w.markets.Market(w.marketID)
	amount := w.bound.
		Mul(decimal.NewFromInt(percentage)).
		Div(hundredPercent)
	amount = engine.TruncateToSafeDecimals(amount, market.Decimals)
	w.mu.Unlock()

	if !amount.IsPositive() {
		return domain.NewValidationError("amount", "quick amount rounds to zero")
	}
	return w.SetAmount(amount)
}

// MaxAmount sets the full decimal-safe bound.
func (w *TransactionWizard) MaxAmount() error {
	return w.QuickAmount(100)
}

var hundredPercent = decimal.NewFromInt(100)

// Preview recomputes the post-action projection without touching any stored
// state. Returns nil until risk data has loaded.
func (w *TransactionWizard) Preview() *engine.ActionProjection {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.snapshot == nil || !w.amountSet || w.marketID == "" {
		return nil
	}
	market := w.markets.Market(w.marketID)
	if market == nil {
		return nil
	}
	return w.engine.Project(w.actionType, market, w.snapshot, w.amount)
}

// CanAdvance is a pure predicate over the wizard's current data: no side
// effects, safe to re-evaluate on every input change. Data that has not
// loaded yet always means false, never "assume allowed".
func (w *TransactionWizard) CanAdvance(step Step) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canAdvanceLocked(step)
}

func (w *TransactionWizard) canAdvanceLocked(step Step) bool {
	switch step {
	case StepSelect:
		if w.marketID == "" {
			return false
		}
		market := w.markets.Market(w.marketID)
		if market == nil || !market.IsActive {
			return false
		}
		if w.actionType == domain.ActionBorrow {
			if !market.Borrowable() {
				return false
			}
			if w.snapshot == nil || !w.snapshot.BorrowingPowerRemaining.IsPositive() {
				return false
			}
		}
		return true
	case StepAmount:
		return w.boundLoaded && w.amountSet &&
			w.amount.IsPositive() && w.amount.LessThanOrEqual(w.bound)
	case StepPreview:
		if w.snapshot == nil || !w.amountSet {
			return false
		}
		// Token-inbound actions additionally need allowance data loaded
		// for this exact amount before commit is reachable.
		if w.actionType.RequiresAllowance() {
			return w.allowance != nil && w.allowance.RequiredAmount.Equal(w.amount)
		}
		return true
	case StepConfirm:
		return w.pending != nil && w.pending.State == domain.StateConfirmed
	}
	return false
}

// Next advances to the following step when the current one allows it.
func (w *TransactionWizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.canAdvanceLocked(w.step) {
		if w.stepErr != nil {
			return w.stepErr
		}
		return domain.NewValidationError(w.step.String(), "step incomplete")
	}
	if w.step < StepResult {
		w.step++
		w.stepErr = nil
	}
	return nil
}

// Back returns to the previous step. Allowed for the select, amount and
// preview steps; once a commit has produced an action that is submitting
// or later, the flow is no longer cancel-safe and back is refused.
func (w *TransactionWizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.step <= StepSelect || w.step > StepCommit {
		return domain.NewValidationError("step", "cannot go back from "+w.step.String())
	}
	if w.pending != nil && !w.pending.CancelSafe() {
		return domain.NewValidationError("step", "action already submitting")
	}
	w.step--
	w.stepErr = nil
	return nil
}

// Commit runs approval (when needed), submission and confirmation for the
// entered amount, blocking until a terminal or recoverable outcome. A hash
// returned by the wallet confirms immediately; an empty hash delegates to
// confirmation tracking.
func (w *TransactionWizard) Commit(ctx context.Context) error {
	w.mu.Lock()
	if w.pending != nil && !w.pending.State.IsTerminal() {
		w.mu.Unlock()
		return domain.ErrActionInFlight
	}
	if !w.canAdvanceLocked(StepPreview) {
		w.mu.Unlock()
		return domain.NewValidationError("commit", "preview incomplete")
	}
	marketID := w.marketID
	amount := w.amount
	pending := domain.NewPendingAction(w.actionType, marketID, amount, w.account)
	w.pending = pending
	w.step = StepCommit
	w.stepErr = nil
	w.mu.Unlock()

	// Approval phase. The allowance is re-read here rather than trusted
	// from the preview: it can change externally between steps, and the
	// main call must never go out while it is short. On failure the
	// pending action is discarded without ever reaching submission.
	if w.actionType.RequiresAllowance() {
		fresh, err := w.gate.CheckAllowance(ctx, marketID, amount, w.account)
		if err != nil {
			w.failApproval(err)
			return err
		}
		if !fresh.HasEnoughAllowance() {
			if err := pending.Transition(domain.StateNeedsApproval); err != nil {
				return err
			}
			if err := pending.Transition(domain.StateApproving); err != nil {
				return err
			}
			if err := w.gate.EnsureApproval(ctx, marketID, amount, w.account); err != nil {
				w.failApproval(err)
				return err
			}
		}
	}

	if err := pending.Transition(domain.StateSubmitting); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.RecordActionSubmitted()
	}

	txHash, err := w.submit(ctx, marketID, amount)
	if err != nil {
		w.failSubmission(pending, err)
		return err
	}

	if txHash != "" {
		// The wallet reported a hash; no correlation needed.
		pending.TxHash = common.HexToHash(txHash)
		if err := pending.Transition(domain.StateConfirmed); err != nil {
			return err
		}
		w.settle(ctx, pending, nil)
		return nil
	}

	if err := pending.Transition(domain.StateConfirming); err != nil {
		return err
	}
	w.setStep(StepConfirm)
	return w.track(ctx, pending)
}

// RetryTracking resumes confirmation for an action that timed out, without
// resubmitting anything.
func (w *TransactionWizard) RetryTracking(ctx context.Context) error {
	w.mu.Lock()
	pending := w.pending
	w.mu.Unlock()

	if pending == nil || pending.State != domain.StateTimedOut {
		return domain.NewValidationError("retry", "no timed-out action to resume")
	}
	if err := pending.Transition(domain.StateConfirming); err != nil {
		return err
	}
	return w.track(ctx, pending)
}

// RetryApproval re-runs the approval phase after an approval failure,
// reusing the entered market and amount.
func (w *TransactionWizard) RetryApproval(ctx context.Context) error {
	w.mu.Lock()
	if w.pending != nil {
		w.mu.Unlock()
		return domain.ErrActionInFlight
	}
	w.mu.Unlock()
	return w.Commit(ctx)
}

// Close cancels any outstanding tracking and resets the wizard. The
// underlying chain call cannot be cancelled, but nothing observed after
// this point alters wizard state.
func (w *TransactionWizard) Close() {
	w.tracker.Reset()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.step = StepSelect
	w.marketID = ""
	w.amount = decimal.Zero
	w.amountSet = false
	w.boundLoaded = false
	w.capacity = nil
	w.snapshot = nil
	w.allowance = nil
	w.pending = nil
	w.stepErr = nil
	w.result = nil
}

func (w *TransactionWizard) submit(ctx context.Context, marketID string, amount decimal.Decimal) (string, error) {
	switch w.actionType {
	case domain.ActionSupply:
		return w.gateway.Supply(ctx, marketID, amount, w.account)
	case domain.ActionBorrow:
		return w.gateway.Borrow(ctx, marketID, amount, w.account)
	case domain.ActionRepay:
		return w.gateway.Repay(ctx, marketID, amount, w.account)
	case domain.ActionWithdraw:
		return w.gateway.Withdraw(ctx, marketID, amount, w.account)
	}
	return "", domain.NewValidationError("action", "unknown action type")
}

// track runs one confirmation tracking session for the pending action.
func (w *TransactionWizard) track(ctx context.Context, pending *domain.PendingAction) error {
	outcomes, err := w.tracker.StartTracking(ctx, w.account, pending.MarketID, pending.Type)
	if err != nil {
		return err
	}

	out := <-outcomes
	switch out.State {
	case tracker.StateMatched:
		pending.TxHash = out.Event.TxHash
		if err := pending.Transition(domain.StateConfirmed); err != nil {
			return err
		}
		w.settle(ctx, pending, out.Event)
		return nil
	case tracker.StateTimedOut:
		if err := pending.Transition(domain.StateTimedOut); err != nil {
			return err
		}
		if w.metrics != nil {
			w.metrics.RecordActionTimedOut()
		}
		// Recoverable: the transaction may still be pending. Keep the
		// action and surface a retryable step error.
		w.mu.Lock()
		w.stepErr = domain.ErrConfirmationTimeout
		w.mu.Unlock()
		return domain.ErrConfirmationTimeout
	default:
		reason := "tracking failed"
		if out.Err != nil {
			reason = out.Err.Error()
		}
		pending.Fail(reason)
		w.recordHistory(pending)
		if w.metrics != nil {
			w.metrics.RecordActionFailed()
		}
		w.mu.Lock()
		w.stepErr = out.Err
		w.mu.Unlock()
		return out.Err
	}
}

// settle finalizes a confirmed action: rereads the position, records
// history and moves to the result step.
func (w *TransactionWizard) settle(ctx context.Context, pending *domain.PendingAction, ev *domain.ChainEvent) {
	if w.metrics != nil {
		w.metrics.RecordActionConfirmed()
	}
	newPos, err := w.gateway.GetPosition(ctx, pending.MarketID, w.account)
	if err != nil {
		slog.Warn("Post-action position read failed", slog.Any("error", err))
	}
	if ev != nil {
		slog.Info("Action confirmed via event",
			slog.String("action", string(pending.Type)),
			slog.String("tx", ev.TxHash.Hex()),
		)
	}
	w.recordHistory(pending)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.result = &Result{
		Success:     true,
		Action:      pending.Type,
		MarketID:    pending.MarketID,
		Amount:      pending.Amount,
		TxHash:      pending.TxHash,
		NewPosition: newPos,
	}
	w.step = StepResult
	w.stepErr = nil
}

// failApproval discards the pending action (it never reached submission)
// and returns the flow to preview with the error attached.
func (w *TransactionWizard) failApproval(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = nil
	w.step = StepPreview
	w.stepErr = err
	slog.Warn("Approval failed", slog.Any("error", err))
}

// failSubmission marks the action failed and returns the flow to preview.
// The entered market and amount are preserved for a retry.
func (w *TransactionWizard) failSubmission(pending *domain.PendingAction, err error) {
	pending.Fail(err.Error())
	w.recordHistory(pending)
	if w.metrics != nil {
		w.metrics.RecordActionFailed()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = nil
	w.step = StepPreview
	w.stepErr = err
	w.result = &Result{
		Success:  false,
		Action:   pending.Type,
		MarketID: pending.MarketID,
		Amount:   pending.Amount,
		Reason:   pending.FailureReason,
	}
	slog.Warn("Submission failed", slog.Any("error", err))
}

func (w *TransactionWizard) recordHistory(pending *domain.PendingAction) {
	if w.history == nil {
		return
	}
	rec := &domain.ActionRecord{
		ID:            pending.ID,
		Account:       pending.Account.Hex(),
		MarketID:      pending.MarketID,
		ActionType:    string(pending.Type),
		Amount:        pending.Amount.String(),
		State:         string(pending.State),
		TxHash:        pending.TxHash.Hex(),
		FailureReason: pending.FailureReason,
		CreatedAt:     pending.CreatedAt,
		CompletedAt:   time.Now(),
	}
	if err := w.history.SaveActionRecord(rec); err != nil {
		slog.Warn("Failed to persist action record", slog.Any("error", err))
	}
}

func (w *TransactionWizard) setStep(step Step) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.step = step
}
