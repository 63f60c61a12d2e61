package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"lend_go/internal/domain"
	"lend_go/internal/engine"
	"lend_go/internal/tracker"
)

// stubEvents is a scripted EventSource for the wizard's tracking path.
type stubEvents struct {
	mu     sync.Mutex
	block  uint64
	events []*domain.ChainEvent
}

func (s *stubEvents) LatestBlock(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block++
	return s.block, nil
}

func (s *stubEvents) FilterActionEvents(ctx context.Context, account common.Address, marketID string, actionType domain.ActionType, fromBlock, toBlock uint64) ([]*domain.ChainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ChainEvent
	for _, ev := range s.events {
		if ev.BlockNumber < fromBlock || ev.BlockNumber > toBlock {
			continue
		}
		if !ev.Matches(account, marketID, actionType) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *stubEvents) addEvent(ev *domain.ChainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *stubEvents) height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block
}

type fakeHistory struct {
	mu      sync.Mutex
	records []*domain.ActionRecord
}

func (f *fakeHistory) SaveActionRecord(rec *domain.ActionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type wizardFixture struct {
	wiz     *TransactionWizard
	gw      *fakeGateway
	markets *MarketDataService
	source  *stubEvents
	tr      *tracker.ConfirmationTracker
	history *fakeHistory
}

func newWizardFixture(t *testing.T, action domain.ActionType) *wizardFixture {
	t.Helper()

	markets := NewMarketDataService()
	markets.SetMarkets([]*domain.Market{
		{
			ID:               "usdt",
			Symbol:           "USDT",
			Decimals:         6,
			TokenAddress:     common.HexToAddress("0x0000000000000000000000000000000000000002"),
			MarketAddress:    common.HexToAddress("0x0000000000000000000000000000000000000003"),
			Price:            d("1"),
			CollateralFactor: d("0.8"),
			TotalSupply:      d("1000000"),
			IsActive:         true,
		},
		{
			ID:               "wbtc",
			Symbol:           "WBTC",
			Decimals:         8,
			TokenAddress:     common.HexToAddress("0x0000000000000000000000000000000000000004"),
			MarketAddress:    common.HexToAddress("0x0000000000000000000000000000000000000005"),
			Price:            d("60000"),
			CollateralFactor: d("0.7"),
			TotalSupply:      d("10000000"),
			IsCollateralOnly: true,
			IsActive:         true,
		},
	})

	gw := newFakeGateway()
	gw.walletBalance = d("1000")
	gw.allowance = d("1000000") // covered by default; tests lower it
	gw.submitHash = "0x00000000000000000000000000000000000000000000000000000000000000ff"

	source := &stubEvents{block: 10}
	tr := tracker.New(source, tracker.Config{
		PollInterval:     5 * time.Millisecond,
		Timeout:          150 * time.Millisecond,
		ScanWindowBlocks: 60,
		MaxBlocksPerScan: 100,
	})
	t.Cleanup(tr.Reset)

	gate := NewApprovalGate(gw, markets)
	gate.SetWaitBudget(5*time.Millisecond, 200*time.Millisecond)

	history := &fakeHistory{}
	wiz := NewTransactionWizard(action, testAccount, engine.NewRiskEngine(), markets, gw, gate, tr)
	wiz.SetHistory(history)

	return &wizardFixture{wiz: wiz, gw: gw, markets: markets, source: source, tr: tr, history: history}
}

// loadAndSetAmount walks the common select/load/amount/load sequence.
func (f *wizardFixture) loadAndSetAmount(t *testing.T, marketID, amount string) {
	t.Helper()
	ctx := context.Background()
	if err := f.wiz.SelectMarket(marketID); err != nil {
		t.Fatalf("SelectMarket failed: %v", err)
	}
	if err := f.wiz.LoadRiskData(ctx); err != nil {
		t.Fatalf("LoadRiskData failed: %v", err)
	}
	if err := f.wiz.SetAmount(d(amount)); err != nil {
		t.Fatalf("SetAmount failed: %v", err)
	}
	// Amount changed; allowance must be re-read for the new figure.
	if err := f.wiz.LoadRiskData(ctx); err != nil {
		t.Fatalf("LoadRiskData failed: %v", err)
	}
}

func TestWizardCanAdvanceRequiresLoadedData(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)

	if f.wiz.CanAdvance(StepSelect) {
		t.Error("no market selected; select must not advance")
	}

	if err := f.wiz.SelectMarket("usdt"); err != nil {
		t.Fatalf("SelectMarket failed: %v", err)
	}
	if !f.wiz.CanAdvance(StepSelect) {
		t.Error("market selected; select should advance")
	}
	// Bounds not loaded: amount step must hold even before any input.
	if f.wiz.CanAdvance(StepAmount) {
		t.Error("bounds not loaded; amount must not advance")
	}
	if f.wiz.CanAdvance(StepPreview) {
		t.Error("nothing loaded; preview must not advance")
	}
}

func TestWizardSetAmountValidation(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	ctx := context.Background()

	if err := f.wiz.SetAmount(d("10")); err == nil {
		t.Error("SetAmount before load must fail")
	}

	f.wiz.SelectMarket("usdt")
	if err := f.wiz.LoadRiskData(ctx); err != nil {
		t.Fatalf("LoadRiskData failed: %v", err)
	}

	if err := f.wiz.SetAmount(d("-5")); err == nil {
		t.Error("negative amount must fail")
	}
	if err := f.wiz.SetAmount(d("1000.000001")); err == nil {
		t.Error("amount above wallet balance must fail")
	}
	if err := f.wiz.SetAmount(d("500")); err != nil {
		t.Errorf("valid amount rejected: %v", err)
	}
}

func TestWizardMaxAmountNeverExceedsBalance(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.gw.walletBalance = d("123.4567891")

	f.wiz.SelectMarket("usdt")
	if err := f.wiz.LoadRiskData(context.Background()); err != nil {
		t.Fatalf("LoadRiskData failed: %v", err)
	}
	if err := f.wiz.MaxAmount(); err != nil {
		t.Fatalf("MaxAmount failed: %v", err)
	}

	bound, _ := f.wiz.Bound()
	if bound.GreaterThan(f.gw.walletBalance) {
		t.Errorf("bound %s exceeds wallet balance", bound)
	}
	// 6-decimal asset: the submitted figure is truncated, never rounded up.
	if !bound.Equal(d("123.456789")) {
		t.Errorf("bound = %s, want 123.456789", bound)
	}
}

func TestWizardBorrowRejectsCollateralOnlyMarket(t *testing.T) {
	f := newWizardFixture(t, domain.ActionBorrow)

	err := f.wiz.SelectMarket("wbtc")
	if err == nil {
		t.Fatal("collateral-only market must not be selectable for borrow")
	}
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestWizardBorrowNeedsBorrowingPower(t *testing.T) {
	f := newWizardFixture(t, domain.ActionBorrow)
	// No supplied collateral anywhere: borrowing power is zero.

	f.wiz.SelectMarket("usdt")
	if err := f.wiz.LoadRiskData(context.Background()); err != nil {
		t.Fatalf("LoadRiskData failed: %v", err)
	}
	if f.wiz.CanAdvance(StepSelect) {
		t.Error("zero borrowing power; borrow select must not advance")
	}

	f.gw.positions["usdt"] = &domain.Position{MarketID: "usdt", SupplyBalance: d("1000")}
	if err := f.wiz.LoadRiskData(context.Background()); err != nil {
		t.Fatalf("LoadRiskData failed: %v", err)
	}
	if !f.wiz.CanAdvance(StepSelect) {
		t.Error("collateral present; borrow select should advance")
	}
}

func TestWizardCommitWithHashConfirmsImmediately(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.loadAndSetAmount(t, "usdt", "100")

	if err := f.wiz.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if f.wiz.Step() != StepResult {
		t.Errorf("step = %s, want result", f.wiz.Step())
	}
	res := f.wiz.Result()
	if res == nil || !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TxHash == (common.Hash{}) {
		t.Error("result should carry the reported tx hash")
	}
	if len(f.gw.submitted) != 1 || f.gw.submitted[0] != "supply:usdt:100" {
		t.Errorf("submissions = %v", f.gw.submitted)
	}
	if len(f.history.records) != 1 || f.history.records[0].State != string(domain.StateConfirmed) {
		t.Errorf("history = %+v", f.history.records)
	}
}

func TestWizardCommitRunsApprovalFirst(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.gw.allowance = decimal.Zero
	f.gw.approveGrant = d("100")
	f.loadAndSetAmount(t, "usdt", "100")

	if err := f.wiz.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if f.gw.approveCalls != 1 {
		t.Errorf("approve calls = %d, want 1", f.gw.approveCalls)
	}
	if len(f.gw.submitted) != 1 {
		t.Fatalf("submissions = %v, want exactly one supply after approval", f.gw.submitted)
	}
}

func TestWizardApprovalFailureReturnsToPreview(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.gw.allowance = decimal.Zero
	f.gw.approveErr = &domain.RevertError{Op: "approve", Reason: "paused"}
	f.loadAndSetAmount(t, "usdt", "100")

	if err := f.wiz.Commit(context.Background()); err == nil {
		t.Fatal("expected approval failure")
	}

	if f.wiz.Step() != StepPreview {
		t.Errorf("step = %s, want preview", f.wiz.Step())
	}
	if f.wiz.Pending() != nil {
		t.Error("failed approval must discard the pending action")
	}
	if len(f.gw.submitted) != 0 {
		t.Errorf("submissions = %v, want none", f.gw.submitted)
	}
}

func TestWizardSubmissionFailureReturnsToPreview(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.gw.submitErr = &domain.RevertError{Op: "supply", Reason: "insufficient liquidity"}
	f.loadAndSetAmount(t, "usdt", "100")

	if err := f.wiz.Commit(context.Background()); err == nil {
		t.Fatal("expected submission failure")
	}

	if f.wiz.Step() != StepPreview {
		t.Errorf("step = %s, want preview", f.wiz.Step())
	}
	res := f.wiz.Result()
	if res == nil || res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	// Entered input survives for a retry.
	bound, loaded := f.wiz.Bound()
	if !loaded || !bound.IsPositive() {
		t.Error("risk data lost after failed submission")
	}
	if len(f.history.records) != 1 || f.history.records[0].State != string(domain.StateFailed) {
		t.Errorf("history = %+v", f.history.records)
	}
}

func TestWizardCommitWithoutHashTracksEvent(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.gw.submitHash = "" // wallet reports no hash; correlation takes over
	f.source.addEvent(&domain.ChainEvent{
		Type:        domain.ActionSupply,
		Account:     testAccount,
		MarketID:    "usdt",
		Amount:      d("100"),
		TxHash:      common.HexToHash("0xbeef"),
		BlockNumber: 13,
	})
	f.loadAndSetAmount(t, "usdt", "100")

	if err := f.wiz.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	res := f.wiz.Result()
	if res == nil || !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TxHash != common.HexToHash("0xbeef") {
		t.Errorf("tx hash = %s, want the matched event's", res.TxHash.Hex())
	}
}

func TestWizardTimeoutThenRetryTracking(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.gw.submitHash = ""
	f.loadAndSetAmount(t, "usdt", "100")

	err := f.wiz.Commit(context.Background())
	if !errors.Is(err, domain.ErrConfirmationTimeout) {
		t.Fatalf("expected ErrConfirmationTimeout, got %v", err)
	}

	pending := f.wiz.Pending()
	if pending == nil || pending.State != domain.StateTimedOut {
		t.Fatalf("pending = %+v, want timed_out", pending)
	}

	// The transaction lands late; resumed tracking must find it without a
	// second submission.
	f.source.addEvent(&domain.ChainEvent{
		Type:        domain.ActionSupply,
		Account:     testAccount,
		MarketID:    "usdt",
		Amount:      d("100"),
		TxHash:      common.HexToHash("0x1a7e"),
		BlockNumber: f.source.height() + 2,
	})

	if err := f.wiz.RetryTracking(context.Background()); err != nil {
		t.Fatalf("RetryTracking failed: %v", err)
	}
	if len(f.gw.submitted) != 1 {
		t.Errorf("submissions = %v, want exactly one", f.gw.submitted)
	}
	if f.wiz.Pending().State != domain.StateConfirmed {
		t.Errorf("state = %s, want confirmed", f.wiz.Pending().State)
	}
}

func TestWizardBackRules(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.loadAndSetAmount(t, "usdt", "100")

	if err := f.wiz.Next(); err != nil { // select -> amount
		t.Fatalf("Next failed: %v", err)
	}
	if err := f.wiz.Back(); err != nil {
		t.Errorf("back from amount should work: %v", err)
	}
	if f.wiz.Step() != StepSelect {
		t.Errorf("step = %s, want select", f.wiz.Step())
	}
	if err := f.wiz.Back(); err == nil {
		t.Error("back from select must fail")
	}

	// After a commit reaches a terminal step there is no way back.
	if err := f.wiz.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := f.wiz.Back(); err == nil {
		t.Error("back after commit must fail")
	}
}

func TestWizardCloseResets(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.loadAndSetAmount(t, "usdt", "100")

	f.wiz.Close()

	if f.wiz.Step() != StepSelect {
		t.Errorf("step = %s, want select", f.wiz.Step())
	}
	if _, loaded := f.wiz.Bound(); loaded {
		t.Error("bounds should be cleared on close")
	}
	if f.wiz.Pending() != nil {
		t.Error("pending should be cleared on close")
	}
}

func TestWizardCommitRechecksRevokedAllowance(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.loadAndSetAmount(t, "usdt", "100") // allowance ample when previewed

	// Revoked externally between preview and commit; the cached state
	// still says covered.
	f.gw.allowance = decimal.Zero
	f.gw.approveGrant = d("100")

	if err := f.wiz.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if f.gw.approveCalls != 1 {
		t.Errorf("approve calls = %d, want 1 (stale allowance must not skip approval)", f.gw.approveCalls)
	}
	if len(f.gw.submitted) != 1 || f.gw.submitted[0] != "supply:usdt:100" {
		t.Errorf("submissions = %v", f.gw.submitted)
	}
}

func TestWizardCloseUnblocksCommit(t *testing.T) {
	f := newWizardFixture(t, domain.ActionSupply)
	f.gw.submitHash = "" // no hash, so Commit waits on confirmation tracking
	f.loadAndSetAmount(t, "usdt", "100")

	done := make(chan error, 1)
	go func() {
		done <- f.wiz.Commit(context.Background())
	}()

	time.Sleep(30 * time.Millisecond)
	f.wiz.Close()

	// Close must release the blocked commit, not strand it.
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error from the cancelled commit")
		}
	case <-time.After(time.Second):
		t.Fatal("Commit still blocked after Close")
	}
}
