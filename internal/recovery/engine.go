// Package recovery classifies swap failures, schedules retries within the
// timelock window, and escalates exhausted swaps to manual intervention.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/lockbridge-exchange/lockbridge/internal/chain"
	"github.com/lockbridge-exchange/lockbridge/internal/config"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
	"github.com/lockbridge-exchange/lockbridge/internal/swap"
	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

// Recovery errors
var (
	ErrUnknownFailureType = errors.New("unknown failure type")
	ErrRecoveryExhausted  = errors.New("recovery retry budget exhausted")
	ErrAttemptNotPending  = errors.New("recovery attempt is not pending")
)

// FailureType classifies an observed swap failure.
type FailureType string

// The closed failure taxonomy.
const (
	FailureNetworkCongestion     FailureType = "network_congestion"
	FailureRelayerDowntime       FailureType = "relayer_downtime"
	FailureInsufficientGas       FailureType = "insufficient_gas"
	FailureDestinationChainIssue FailureType = "destination_chain_issue"
	FailureTimeoutExceeded       FailureType = "timeout_exceeded"
	FailureInvalidSecret         FailureType = "invalid_secret"
	FailureLiquidityShortage     FailureType = "liquidity_shortage"
)

// ParseFailureType validates a failure type string.
func ParseFailureType(s string) (FailureType, error) {
	switch ft := FailureType(s); ft {
	case FailureNetworkCongestion, FailureRelayerDowntime, FailureInsufficientGas,
		FailureDestinationChainIssue, FailureTimeoutExceeded, FailureInvalidSecret,
		FailureLiquidityShortage:
		return ft, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFailureType, s)
	}
}

// Action is a concrete recovery step dispatched by ExecuteRecovery.
type Action string

// Recovery actions
const (
	ActionRetryWithHigherGas   Action = "retry_with_higher_gas"
	ActionSwitchRelayer        Action = "switch_relayer"
	ActionIncreaseGasLimit     Action = "increase_gas_limit"
	ActionWaitAndRetry         Action = "wait_and_retry"
	ActionInitiateRefund       Action = "initiate_refund"
	ActionFindAlternativeRoute Action = "find_alternative_route"
	ActionManualIntervention   Action = "manual_intervention"
)

// Strategy pairs an action with its retry schedule.
type Strategy struct {
	Action      Action
	Delay       time.Duration
	MaxAttempts int
}

// strategies maps each failure type to its recovery policy. Types without an
// entry (invalid secret) fall through to manual intervention.
var strategies = map[FailureType]Strategy{
	FailureNetworkCongestion:     {Action: ActionRetryWithHigherGas, Delay: 60 * time.Second, MaxAttempts: 3},
	FailureRelayerDowntime:       {Action: ActionSwitchRelayer, Delay: 30 * time.Second, MaxAttempts: 5},
	FailureInsufficientGas:       {Action: ActionIncreaseGasLimit, Delay: 10 * time.Second, MaxAttempts: 2},
	FailureDestinationChainIssue: {Action: ActionWaitAndRetry, Delay: 120 * time.Second, MaxAttempts: 10},
	FailureTimeoutExceeded:       {Action: ActionInitiateRefund, Delay: 0, MaxAttempts: 1},
	FailureLiquidityShortage:     {Action: ActionFindAlternativeRoute, Delay: 30 * time.Second, MaxAttempts: 3},
}

var defaultStrategy = Strategy{Action: ActionManualIntervention, Delay: 0, MaxAttempts: 1}

// StrategyFor resolves the recovery strategy for a failure type. Pure lookup.
func StrategyFor(ft FailureType) Strategy {
	if s, ok := strategies[ft]; ok {
		return s
	}
	return defaultStrategy
}

// ActionExecutor performs a concrete chain-side recovery action. The engine
// only sequences actions; resubmitting transactions, rotating relayers and
// rerouting liquidity are the executor's business.
type ActionExecutor interface {
	Execute(ctx context.Context, action Action, s *swap.Swap) error
}

// LogExecutor acknowledges every action without touching a chain. It stands in
// until a chain-backed executor is wired.
type LogExecutor struct {
	log *logging.Logger
}

// NewLogExecutor creates an executor that only logs.
func NewLogExecutor() *LogExecutor {
	return &LogExecutor{log: logging.GetDefault().Component("recovery-exec")}
}

// Execute logs the action and reports success.
func (e *LogExecutor) Execute(_ context.Context, action Action, s *swap.Swap) error {
	e.log.Info("Executing recovery action", "action", action, "swap_id", s.ID)
	return nil
}

// Stats aggregates recovery outcomes.
type Stats struct {
	TotalRecoveries      int
	SuccessfulRecoveries int
	FailedRecoveries     int
	Escalations          int
	AverageRecoveryTime  time.Duration
}

// Engine is the recovery decision core. All scheduling goes through storage so
// pending attempts survive a restart.
type Engine struct {
	machine  *swap.Machine
	store    *storage.Storage
	observer chain.Observer
	executor ActionExecutor
	cfg      config.RecoveryConfig
	clock    clock.Clock
	log      *logging.Logger

	mu            sync.Mutex
	stats         Stats
	totalDuration time.Duration
	monitored     map[string]time.Time
}

// NewEngine creates a recovery engine.
func NewEngine(machine *swap.Machine, store *storage.Storage, observer chain.Observer, executor ActionExecutor, cfg config.RecoveryConfig, clk clock.Clock) *Engine {
	if executor == nil {
		executor = NewLogExecutor()
	}
	return &Engine{
		machine:   machine,
		store:     store,
		observer:  observer,
		executor:  executor,
		cfg:       cfg,
		clock:     clk,
		log:       logging.GetDefault().Component("recovery"),
		monitored: make(map[string]time.Time),
	}
}

// Monitor places a swap under active failure monitoring. Callers report
// failures on monitored swaps through DetectFailure; monitoring ends when the
// swap reaches a terminal status.
func (e *Engine) Monitor(swapID string) error {
	s, err := e.machine.Get(swapID)
	if err != nil {
		return err
	}
	if s.Status.IsTerminal() {
		return fmt.Errorf("%w: swap %s is %s", swap.ErrInvalidState, swapID, s.Status)
	}

	e.mu.Lock()
	if _, ok := e.monitored[swapID]; !ok {
		e.monitored[swapID] = e.clock.Now()
	}
	e.mu.Unlock()

	e.log.Debug("Monitoring swap", "swap_id", swapID)
	return nil
}

// Unmonitor removes a swap from active monitoring.
func (e *Engine) Unmonitor(swapID string) {
	e.mu.Lock()
	delete(e.monitored, swapID)
	e.mu.Unlock()
}

// MonitoredSwap is one entry of the monitored set.
type MonitoredSwap struct {
	SwapID string
	Status swap.Status
	Since  time.Time
}

// Monitored snapshots the swaps under active monitoring. Terminal swaps are
// evicted on the way out.
func (e *Engine) Monitored() []MonitoredSwap {
	e.mu.Lock()
	ids := make(map[string]time.Time, len(e.monitored))
	for id, since := range e.monitored {
		ids[id] = since
	}
	e.mu.Unlock()

	out := make([]MonitoredSwap, 0, len(ids))
	for id, since := range ids {
		s, err := e.machine.Get(id)
		if err != nil || s.Status.IsTerminal() {
			e.Unmonitor(id)
			continue
		}
		out = append(out, MonitoredSwap{SwapID: id, Status: s.Status, Since: since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// DetectFailure records a failure on a swap, marks it failed, and returns the
// resolved strategy. The swap must not be terminal.
func (e *Engine) DetectFailure(ctx context.Context, swapID string, kind FailureType, details string) (Strategy, error) {
	s, err := e.machine.Get(swapID)
	if err != nil {
		return Strategy{}, err
	}
	if s.Status.IsTerminal() {
		return Strategy{}, fmt.Errorf("%w: swap %s is %s", swap.ErrInvalidState, swapID, s.Status)
	}

	ev := &storage.FailureEventRecord{
		SwapID:      swapID,
		FailureType: string(kind),
		Details:     details,
		DetectedAt:  e.clock.Now(),
	}
	if e.observer != nil {
		ev.EthereumHeight, _ = e.observer.CurrentHeight(ctx, chain.Ethereum)
		ev.CosmosHeight, _ = e.observer.CurrentHeight(ctx, chain.Cosmos)
	}
	if err := e.store.AppendFailureEvent(ev); err != nil {
		return Strategy{}, err
	}

	// A swap already sitting in failed stays there; everything else moves.
	if s.Status != swap.StatusFailed {
		if _, err := e.machine.Advance(swapID, swap.StatusFailed); err != nil {
			return Strategy{}, err
		}
	}

	e.mu.Lock()
	if _, ok := e.monitored[swapID]; !ok {
		e.monitored[swapID] = e.clock.Now()
	}
	e.mu.Unlock()

	strategy := StrategyFor(kind)
	e.log.Warn("Swap failure detected",
		"swap_id", swapID,
		"failure_type", kind,
		"action", strategy.Action)
	return strategy, nil
}

// InitiateRecovery decides what happens to a failed swap: forced refund if the
// timelock has expired, escalation if the retry budget is spent, otherwise a
// scheduled RecoveryAttempt. The attempt's delay never reaches past the
// deadline; when it would, the refund path wins immediately.
func (e *Engine) InitiateRecovery(ctx context.Context, swapID string) (*storage.RecoveryAttemptRecord, error) {
	s, err := e.machine.Get(swapID)
	if err != nil {
		return nil, err
	}
	if s.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: swap %s is %s", swap.ErrInvalidState, swapID, s.Status)
	}

	now := e.clock.Now()
	if !now.Before(s.TimelockDeadline) {
		return e.scheduleImmediateRefund(swapID, now)
	}

	if s.RetryCount >= e.cfg.MaxRetries {
		if err := e.EscalateToManualIntervention(swapID, "maximum recovery attempts exceeded"); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: swap %s", ErrRecoveryExhausted, swapID)
	}

	events, err := e.store.ListFailureEvents(swapID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("swap %s has no failure history", swapID)
	}
	latest := events[len(events)-1]
	strategy := StrategyFor(FailureType(latest.FailureType))

	delay := strategy.Delay
	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	// Never schedule a retry that would fire after the deadline.
	if now.Add(delay).After(s.TimelockDeadline) {
		return e.scheduleImmediateRefund(swapID, now)
	}

	attempt := &storage.RecoveryAttemptRecord{
		ID:                 uuid.NewString(),
		SwapID:             swapID,
		Action:             string(strategy.Action),
		Delay:              delay,
		MaxAttempts:        strategy.MaxAttempts,
		Status:             "pending",
		CreatedAt:          now,
		ScheduledExecution: now.Add(delay),
	}
	if err := e.store.SaveRecoveryAttempt(attempt); err != nil {
		return nil, err
	}
	if err := e.store.AppendRecoveryAction(&storage.RecoveryActionRecord{
		SwapID:      swapID,
		Action:      string(strategy.Action),
		RecoveryID:  attempt.ID,
		ScheduledAt: now,
	}); err != nil {
		return nil, err
	}

	if _, err := e.machine.Advance(swapID, swap.StatusRecovering); err != nil {
		return nil, err
	}
	if _, err := e.machine.BumpRetryCount(swapID); err != nil {
		return nil, err
	}

	e.log.Info("Recovery initiated",
		"swap_id", swapID,
		"recovery_id", attempt.ID,
		"action", strategy.Action,
		"delay", delay)
	return attempt, nil
}

// scheduleImmediateRefund records a zero-delay refund attempt. The deadline has
// passed (or the strategy delay would overshoot it), so the refund path
// overrides whatever the policy table says.
func (e *Engine) scheduleImmediateRefund(swapID string, now time.Time) (*storage.RecoveryAttemptRecord, error) {
	attempt := &storage.RecoveryAttemptRecord{
		ID:                 uuid.NewString(),
		SwapID:             swapID,
		Action:             string(ActionInitiateRefund),
		Delay:              0,
		MaxAttempts:        1,
		Status:             "pending",
		CreatedAt:          now,
		ScheduledExecution: now,
	}
	if err := e.store.SaveRecoveryAttempt(attempt); err != nil {
		return nil, err
	}
	if err := e.store.AppendRecoveryAction(&storage.RecoveryActionRecord{
		SwapID:      swapID,
		Action:      string(ActionInitiateRefund),
		RecoveryID:  attempt.ID,
		ScheduledAt: now,
	}); err != nil {
		return nil, err
	}
	e.log.Info("Deadline reached, forcing refund path", "swap_id", swapID, "recovery_id", attempt.ID)
	return attempt, nil
}

// ExecuteRecovery runs a pending attempt. If the owning swap reached a
// terminal state first the attempt is stale and is closed without executing.
func (e *Engine) ExecuteRecovery(ctx context.Context, recoveryID string) (*storage.RecoveryAttemptRecord, error) {
	attempt, err := e.store.GetRecoveryAttempt(recoveryID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != "pending" {
		return nil, fmt.Errorf("%w: attempt %s is %s", ErrAttemptNotPending, recoveryID, attempt.Status)
	}

	s, err := e.machine.Get(attempt.SwapID)
	if err != nil {
		return nil, err
	}
	if s.Status.IsTerminal() {
		attempt.Status = "completed"
		attempt.Error = "superseded: swap already terminal"
		if err := e.store.SaveRecoveryAttempt(attempt); err != nil {
			return nil, err
		}
		e.log.Info("Skipped stale recovery attempt",
			"recovery_id", recoveryID,
			"swap_id", s.ID,
			"swap_status", s.Status)
		return attempt, nil
	}

	start := e.clock.Now()
	attempt.Status = "executing"
	attempt.ExecutionStart = &start
	if err := e.store.SaveRecoveryAttempt(attempt); err != nil {
		return nil, err
	}

	execErr := e.dispatch(ctx, Action(attempt.Action), s)

	end := e.clock.Now()
	attempt.ExecutionEnd = &end
	if execErr != nil {
		attempt.Status = "failed"
		attempt.Error = execErr.Error()
		e.log.Error("Recovery attempt failed",
			"recovery_id", recoveryID,
			"swap_id", s.ID,
			"action", attempt.Action,
			"error", execErr)
	} else {
		attempt.Status = "completed"
		e.log.Info("Recovery attempt completed",
			"recovery_id", recoveryID,
			"swap_id", s.ID,
			"action", attempt.Action)
	}
	if err := e.store.SaveRecoveryAttempt(attempt); err != nil {
		return nil, err
	}

	e.recordOutcome(execErr == nil, end.Sub(start))
	return attempt, nil
}

// dispatch routes an action. Refund and escalation are handled in-engine;
// everything else goes through the executor seam.
func (e *Engine) dispatch(ctx context.Context, action Action, s *swap.Swap) error {
	switch action {
	case ActionInitiateRefund:
		_, err := e.machine.ForceRefund(s.ID)
		return err
	case ActionManualIntervention:
		return e.EscalateToManualIntervention(s.ID, "recovery policy routed to manual intervention")
	case ActionRetryWithHigherGas, ActionSwitchRelayer, ActionIncreaseGasLimit,
		ActionWaitAndRetry, ActionFindAlternativeRoute:
		return e.executor.Execute(ctx, action, s)
	default:
		return fmt.Errorf("unknown recovery action: %s", action)
	}
}

// EscalateToManualIntervention hands a swap off to human operators and stops
// automatic recovery for it. Each swap escalates at most once.
func (e *Engine) EscalateToManualIntervention(swapID, reason string) error {
	s, err := e.machine.Get(swapID)
	if err != nil {
		return err
	}
	if s.Status.IsTerminal() {
		return fmt.Errorf("%w: swap %s is %s", swap.ErrInvalidState, swapID, s.Status)
	}

	esc := &storage.EscalationRecord{
		ID:         uuid.NewString(),
		SwapID:     swapID,
		Reason:     reason,
		Priority:   "high",
		AssignedTo: "support_team",
		CreatedAt:  e.clock.Now(),
	}
	if err := e.store.SaveEscalation(esc); err != nil {
		return err
	}
	if _, err := e.machine.Advance(swapID, swap.StatusManualIntervention); err != nil {
		return err
	}

	e.mu.Lock()
	e.stats.Escalations++
	delete(e.monitored, swapID)
	e.mu.Unlock()

	e.log.Warn("Swap escalated to manual intervention",
		"swap_id", swapID,
		"escalation_id", esc.ID,
		"reason", reason)
	return nil
}

// Escalation returns the escalation record for a swap, if any.
func (e *Engine) Escalation(swapID string) (*storage.EscalationRecord, error) {
	return e.store.GetEscalationBySwap(swapID)
}

// FailureHistory returns a swap's failure events in detection order.
func (e *Engine) FailureHistory(swapID string) ([]*storage.FailureEventRecord, error) {
	return e.store.ListFailureEvents(swapID)
}

// Attempts returns all recovery attempts for a swap.
func (e *Engine) Attempts(swapID string) ([]*storage.RecoveryAttemptRecord, error) {
	return e.store.ListRecoveryAttempts(swapID)
}

func (e *Engine) recordOutcome(success bool, took time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalRecoveries++
	if success {
		e.stats.SuccessfulRecoveries++
	} else {
		e.stats.FailedRecoveries++
	}
	e.totalDuration += took
	e.stats.AverageRecoveryTime = e.totalDuration / time.Duration(e.stats.TotalRecoveries)
}

// Stats returns a snapshot of aggregate recovery outcomes.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
