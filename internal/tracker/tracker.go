package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"lend_go/internal/domain"
)

// State is the tracker's session state.
type State string

const (
	StateIdle     State = "idle"
	StateTracking State = "tracking"
	StateMatched  State = "matched"
	StateError    State = "error"
	StateTimedOut State = "timed_out"
)

// Config bounds a tracking session. The timeout and poll interval are
// deliberately explicit configuration, not inferred constants.
type Config struct {
	PollInterval     time.Duration
	Timeout          time.Duration
	ScanWindowBlocks uint64
	MaxBlocksPerScan uint64
}

// DefaultConfig mirrors the production cToken event scanner: a 5s poll
// cadence, a two-minute budget, and a 60-block lookback capped at 100.
func DefaultConfig() Config {
	return Config{
		PollInterval:     5 * time.Second,
		Timeout:          120 * time.Second,
		ScanWindowBlocks: 60,
		MaxBlocksPerScan: 100,
	}
}

// Outcome is the terminal result of one tracking session. Exactly one
// outcome is delivered per session.
type Outcome struct {
	State State
	Event *domain.ChainEvent // set when State == StateMatched
	Err   error              // set when State == StateError
}

type session struct {
	id         string
	account    common.Address
	marketID   string
	actionType domain.ActionType
	startBlock uint64
	fenced     bool // startBlock established from a successful height read
	cancel     context.CancelFunc
	outcome    chan Outcome // buffered, capacity 1
}

// PollMetrics counts scan passes. Optional.
type PollMetrics interface {
	RecordTrackerPoll()
}

// ConfirmationTracker correlates a submitted action with a later on-chain
// event when no transaction hash was returned at submission time. One
// session may be active per tracker; starting a second is rejected rather
// than queued. All polling runs in a single cancellable loop.
type ConfirmationTracker struct {
	source  domain.EventSource
	cfg     Config
	metrics PollMetrics

	mu      sync.Mutex
	state   State
	current *session
	wg      sync.WaitGroup
}

// SetMetrics attaches optional poll counters.
func (t *ConfirmationTracker) SetMetrics(m PollMetrics) { t.metrics = m }

// New creates a tracker over the given event source.
func New(source domain.EventSource, cfg Config) *ConfirmationTracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.ScanWindowBlocks == 0 {
		cfg.ScanWindowBlocks = DefaultConfig().ScanWindowBlocks
	}
	if cfg.MaxBlocksPerScan == 0 {
		cfg.MaxBlocksPerScan = DefaultConfig().MaxBlocksPerScan
	}
	return &ConfirmationTracker{
		source: source,
		cfg:    cfg,
		state:  StateIdle,
	}
}

// State returns the current session state.
func (t *ConfirmationTracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StartTracking begins a session for (account, marketID, actionType) and
// returns a channel that delivers exactly one Outcome. Only events newer
// than the session's start block can match, so an earlier identical action
// never resolves a new one. Returns ErrTrackerBusy while a session is live.
func (t *ConfirmationTracker) StartTracking(ctx context.Context, account common.Address, marketID string, actionType domain.ActionType) (<-chan Outcome, error) {
	t.mu.Lock()
	if t.state == StateTracking {
		t.mu.Unlock()
		return nil, domain.ErrTrackerBusy
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		id:         uuid.NewString(),
		account:    account,
		marketID:   marketID,
		actionType: actionType,
		cancel:     cancel,
		outcome:    make(chan Outcome, 1),
	}
	t.current = sess
	t.state = StateTracking
	t.mu.Unlock()

	slog.Info("Tracking started",
		slog.String("session", sess.id),
		slog.String("market", marketID),
		slog.String("action", string(actionType)),
	)

	t.wg.Add(1)
	go t.pollLoop(sessCtx, sess)

	return sess.outcome, nil
}

// StopTracking cancels the active session, if any, and returns to idle.
// A poll that is already in flight can no longer deliver a match afterwards.
func (t *ConfirmationTracker) StopTracking() {
	t.mu.Lock()
	sess := t.current
	if sess != nil {
		t.current = nil
		t.state = StateIdle
	}
	t.mu.Unlock()

	if sess != nil {
		sess.cancel()
		slog.Info("Tracking stopped", slog.String("session", sess.id))
	}
}

// Reset is StopTracking plus a wait for the poll goroutine to exit. Called
// when the hosting flow closes.
func (t *ConfirmationTracker) Reset() {
	t.StopTracking()
	t.wg.Wait()
}

// pollLoop runs one session: an immediate check, then ticker-driven checks
// until a match, an unrecoverable error, the timeout, or cancellation.
func (t *ConfirmationTracker) pollLoop(ctx context.Context, sess *session) {
	defer t.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tracker poll panic recovered", slog.Any("panic", r))
			t.finish(sess, Outcome{State: StateError, Err: domain.ErrTrackingStopped})
		}
	}()

	timeout := time.NewTimer(t.cfg.Timeout)
	defer timeout.Stop()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	if done := t.checkOnce(ctx, sess); done {
		return
	}

	for {
		select {
		case <-ctx.Done():
			t.finish(sess, Outcome{State: StateError, Err: domain.ErrTrackingStopped})
			return
		case <-timeout.C:
			slog.Warn("Tracking timed out",
				slog.String("session", sess.id),
				slog.Duration("budget", t.cfg.Timeout),
			)
			t.finish(sess, Outcome{State: StateTimedOut})
			return
		case <-ticker.C:
			if done := t.checkOnce(ctx, sess); done {
				return
			}
		}
	}
}

// checkOnce scans the recent block window for a matching event. Returns true
// when the session reached an outcome. Transient source errors are logged
// and retried on the next tick; only cancellation ends the session early.
func (t *ConfirmationTracker) checkOnce(ctx context.Context, sess *session) bool {
	if t.metrics != nil {
		t.metrics.RecordTrackerPoll()
	}
	latest, err := t.source.LatestBlock(ctx)
	if err != nil {
		if ctx.Err() != nil {
			t.finish(sess, Outcome{State: StateError, Err: domain.ErrTrackingStopped})
			return true
		}
		slog.Warn("Tracker block height read failed", slog.Any("error", err))
		return false
	}

	// The first successful height read fences the session. No scan happens
	// unfenced: a pre-existing identical event must never resolve a new
	// action just because the initial read failed.
	if !sess.fenced {
		sess.startBlock = latest
		sess.fenced = true
	}

	window := t.cfg.ScanWindowBlocks
	if window > t.cfg.MaxBlocksPerScan {
		window = t.cfg.MaxBlocksPerScan
	}
	from := uint64(0)
	if latest > window {
		from = latest - window
	}
	if from < sess.startBlock {
		from = sess.startBlock
	}
	if latest < from {
		return false
	}

	events, err := t.source.FilterActionEvents(ctx, sess.account, sess.marketID, sess.actionType, from, latest)
	if err != nil {
		if ctx.Err() != nil {
			t.finish(sess, Outcome{State: StateError, Err: domain.ErrTrackingStopped})
			return true
		}
		if !domain.IsRetriable(err) {
			t.finish(sess, Outcome{State: StateError, Err: err})
			return true
		}
		slog.Warn("Tracker event filter failed", slog.Any("error", err))
		return false
	}

	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.BlockNumber < sess.startBlock {
			continue
		}
		if !ev.Matches(sess.account, sess.marketID, sess.actionType) {
			continue
		}
		slog.Info("Tracking matched",
			slog.String("session", sess.id),
			slog.String("tx", ev.TxHash.Hex()),
			slog.Uint64("block", ev.BlockNumber),
		)
		t.finish(sess, Outcome{State: StateMatched, Event: ev})
		return true
	}
	return false
}

// finish delivers the outcome exactly once and releases the session. The
// receiver is always unblocked, even when the session was already stopped
// externally; in that case a late match is downgraded to a stopped error so
// it can never alter the caller's state after cancellation.
func (t *ConfirmationTracker) finish(sess *session, out Outcome) {
	t.mu.Lock()
	live := t.current == sess
	if live {
		t.current = nil
		t.state = out.State
	}
	t.mu.Unlock()

	sess.cancel()
	if !live {
		out = Outcome{State: StateError, Err: domain.ErrTrackingStopped}
	}
	select {
	case sess.outcome <- out:
	default:
	}
}
