// Package resolver - Profit/risk scoring and resolution execution.
package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/lockbridge-exchange/lockbridge/internal/chain"
	"github.com/lockbridge-exchange/lockbridge/internal/config"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
	"github.com/lockbridge-exchange/lockbridge/internal/swap"
	"github.com/lockbridge-exchange/lockbridge/pkg/helpers"
	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

// Resolver errors
var (
	ErrValidation   = errors.New("validation failed")
	ErrRiskRejected = errors.New("order rejected by risk policy")
	ErrNotFound     = errors.New("resolution not found")
)

// Resolution statuses
const (
	ResolutionExecuting = "executing"
	ResolutionCompleted = "completed"
	ResolutionFailed    = "failed"
)

// The ordered settlement checklist every resolution walks through.
var resolutionSteps = []string{
	"create_ethereum_escrow",
	"create_cosmos_escrow",
	"reveal_secret",
	"claim_funds",
}

// Step is one checklist entry of a resolution.
type Step struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// Order is an opportunity presented to the resolver.
type Order struct {
	OrderID    string
	FromChain  chain.Name
	FromToken  string
	ToChain    chain.Name
	ToToken    string
	Amount     uint64
	Expiration time.Time
}

func (o *Order) validate() error {
	if o.OrderID == "" {
		return fmt.Errorf("%w: missing order id", ErrValidation)
	}
	if o.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if _, err := chain.GetToken(o.FromChain, o.FromToken); err != nil {
		return fmt.Errorf("%w: from token: %v", ErrValidation, err)
	}
	if _, err := chain.GetToken(o.ToChain, o.ToToken); err != nil {
		return fmt.Errorf("%w: to token: %v", ErrValidation, err)
	}
	return nil
}

// Evaluation is the structured outcome of scoring an order.
type Evaluation struct {
	OrderID            string  `json:"order_id"`
	Recommended        bool    `json:"recommended"`
	ProfitScore        float64 `json:"profit_score"`
	RiskScore          float64 `json:"risk_score"`
	InventoryAvailable bool    `json:"inventory_available"`
	EstimatedProfit    float64 `json:"estimated_profit"`
	GasCost            float64 `json:"gas_cost"`
}

// Stats aggregates resolution outcomes.
type Stats struct {
	TotalResolved         int
	SuccessfulResolutions int
	FailedResolutions     int
	ActiveSwaps           int
	TotalProfit           float64
}

// Engine scores orders and executes the profitable ones against the ledger.
type Engine struct {
	store      *storage.Storage
	ledger     *Ledger
	cfg        config.ResolverConfig
	clock      clock.Clock
	resolverID string
	locks      *swap.KeyMutex
	log        *logging.Logger

	mu    sync.Mutex
	stats Stats
}

// NewEngine creates a resolver engine.
func NewEngine(store *storage.Storage, ledger *Ledger, cfg config.ResolverConfig, clk clock.Clock, resolverID string) *Engine {
	return &Engine{
		store:      store,
		ledger:     ledger,
		cfg:        cfg,
		clock:      clk,
		resolverID: resolverID,
		locks:      swap.NewKeyMutex(),
		log:        logging.GetDefault().Component("resolver"),
	}
}

// Evaluate scores an order for profitability and risk. Pure with respect to
// engine state: it reads inventory but mutates nothing.
func (e *Engine) Evaluate(order *Order) (*Evaluation, error) {
	if err := order.validate(); err != nil {
		return nil, err
	}

	tok, err := chain.GetToken(order.FromChain, order.FromToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	amount := tok.ToWhole(order.Amount)

	available, err := e.ledger.Available(string(order.FromChain), order.FromToken)
	if err != nil {
		return nil, err
	}

	profitScore := e.profitScore(amount)
	riskScore := e.riskScore(amount, tok.ToWhole(available), order.Expiration)
	hasInventory := available >= order.Amount

	eval := &Evaluation{
		OrderID:            order.OrderID,
		ProfitScore:        profitScore,
		RiskScore:          riskScore,
		InventoryAvailable: hasInventory,
		EstimatedProfit:    amount * e.cfg.FeeRate,
		GasCost:            e.cfg.GasCost,
		Recommended: profitScore > 1.0 &&
			riskScore < e.cfg.MaxRiskExposure &&
			hasInventory,
	}

	e.log.Debug("Order evaluated",
		"order_id", order.OrderID,
		"profit_score", profitScore,
		"risk_score", riskScore,
		"recommended", eval.Recommended)
	return eval, nil
}

// profitScore normalizes net profit against gas cost; 1.0 is break-even.
func (e *Engine) profitScore(amount float64) float64 {
	net := amount*e.cfg.FeeRate + amount*e.cfg.MarketSpread - e.cfg.GasCost
	if e.cfg.GasCost <= 0 {
		return 0
	}
	score := net / e.cfg.GasCost
	if score < 0 {
		return 0
	}
	return score
}

// riskScore combines inventory utilization, expiry proximity and base market
// volatility into [0, 1]. Unknown inventory counts as fully utilized.
func (e *Engine) riskScore(amount, available float64, expiration time.Time) float64 {
	utilization := 1.0
	if available > 0 {
		utilization = amount / available
	}

	timeRisk := 1.0
	if remaining := expiration.Sub(e.clock.Now()); remaining > 0 {
		timeRisk = 1.0 - remaining.Seconds()/e.cfg.ReferenceWindow.Seconds()
		if timeRisk < 0 {
			timeRisk = 0
		}
	}

	total := 0.5*utilization + 0.3*timeRisk + 0.2*e.cfg.VolatilityRisk
	if total > 1.0 {
		return 1.0
	}
	return total
}

// Execute re-validates the decision, reserves inventory and opens an executing
// Resolution with a fresh secret commitment. The reservation is all-or-nothing;
// a risk rejection or reservation failure leaves no trace.
func (e *Engine) Execute(order *Order) (*storage.ResolutionRecord, error) {
	eval, err := e.Evaluate(order)
	if err != nil {
		return nil, err
	}
	if !eval.Recommended {
		if !eval.InventoryAvailable {
			return nil, fmt.Errorf("%w: order %s", ErrInsufficientInventory, order.OrderID)
		}
		return nil, fmt.Errorf("%w: order %s (profit %.2f, risk %.2f)",
			ErrRiskRejected, order.OrderID, eval.ProfitScore, eval.RiskScore)
	}

	reservationID, err := e.ledger.Reserve(string(order.FromChain), order.FromToken, order.Amount)
	if err != nil {
		return nil, err
	}

	secret, err := swap.NewSecret()
	if err != nil {
		e.releaseQuietly(reservationID)
		return nil, err
	}
	hash := swap.HashSecret(secret)

	steps := make([]Step, len(resolutionSteps))
	for i, name := range resolutionSteps {
		steps[i] = Step{Step: name, Status: "pending"}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		e.releaseQuietly(reservationID)
		return nil, err
	}

	rec := &storage.ResolutionRecord{
		ID:             uuid.NewString(),
		OrderID:        order.OrderID,
		ResolverID:     e.resolverID,
		Secret:         helpers.BytesToHex(secret),
		SecretHash:     helpers.BytesToHex(hash),
		Status:         ResolutionExecuting,
		ProfitEstimate: eval.EstimatedProfit,
		GasCost:        eval.GasCost,
		Steps:          stepsJSON,
		ReservationID:  reservationID,
		FromChain:      string(order.FromChain),
		FromToken:      order.FromToken,
		Amount:         order.Amount,
		CreatedAt:      e.clock.Now(),
	}
	if err := e.store.CreateResolution(rec); err != nil {
		e.releaseQuietly(reservationID)
		return nil, err
	}

	e.mu.Lock()
	e.stats.TotalResolved++
	e.stats.ActiveSwaps++
	e.mu.Unlock()

	e.log.Info("Resolution started",
		"resolution_id", rec.ID,
		"order_id", order.OrderID,
		"amount", order.Amount,
		"reservation_id", reservationID)
	return rec, nil
}

// Complete settles an executing resolution: every step is marked completed,
// the inventory hold becomes a permanent debit, and profit is realized.
func (e *Engine) Complete(resolutionID string) (*storage.ResolutionRecord, error) {
	e.locks.Lock(resolutionID)
	defer e.locks.Unlock(resolutionID)

	rec, err := e.get(resolutionID)
	if err != nil {
		return nil, err
	}
	if rec.Status != ResolutionExecuting {
		return nil, fmt.Errorf("%w: resolution %s is %s", swap.ErrInvalidState, resolutionID, rec.Status)
	}

	var steps []Step
	if err := json.Unmarshal(rec.Steps, &steps); err != nil {
		return nil, fmt.Errorf("corrupt step checklist for %s: %w", resolutionID, err)
	}
	for i := range steps {
		steps[i].Status = "completed"
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	rec.Status = ResolutionCompleted
	rec.ActualProfit = rec.ProfitEstimate - rec.GasCost
	rec.Steps = stepsJSON
	rec.CompletedAt = &now
	if err := e.store.UpdateResolution(rec); err != nil {
		return nil, err
	}

	if err := e.ledger.Commit(rec.ReservationID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.stats.SuccessfulResolutions++
	e.stats.ActiveSwaps--
	e.stats.TotalProfit += rec.ActualProfit
	e.mu.Unlock()

	e.log.Info("Resolution completed",
		"resolution_id", resolutionID,
		"actual_profit", rec.ActualProfit)
	return rec, nil
}

// Fail abandons an executing resolution and releases its inventory hold back
// to available. The held funds were never spent, so they must not stay debited.
func (e *Engine) Fail(resolutionID, reason string) (*storage.ResolutionRecord, error) {
	e.locks.Lock(resolutionID)
	defer e.locks.Unlock(resolutionID)

	rec, err := e.get(resolutionID)
	if err != nil {
		return nil, err
	}
	if rec.Status != ResolutionExecuting {
		return nil, fmt.Errorf("%w: resolution %s is %s", swap.ErrInvalidState, resolutionID, rec.Status)
	}

	now := e.clock.Now()
	rec.Status = ResolutionFailed
	rec.CompletedAt = &now
	if err := e.store.UpdateResolution(rec); err != nil {
		return nil, err
	}

	if err := e.ledger.Release(rec.ReservationID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.stats.FailedResolutions++
	e.stats.ActiveSwaps--
	e.mu.Unlock()

	e.log.Warn("Resolution failed",
		"resolution_id", resolutionID,
		"reason", reason)
	return rec, nil
}

// Get retrieves a resolution by ID.
func (e *Engine) Get(resolutionID string) (*storage.ResolutionRecord, error) {
	return e.get(resolutionID)
}

// GetByOrder retrieves the latest resolution for an order.
func (e *Engine) GetByOrder(orderID string) (*storage.ResolutionRecord, error) {
	rec, err := e.store.GetResolutionByOrder(orderID)
	if errors.Is(err, storage.ErrResolutionNotFound) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return rec, err
}

// ListActive returns every resolution still executing.
func (e *Engine) ListActive() ([]*storage.ResolutionRecord, error) {
	return e.store.ListResolutionsByStatus(ResolutionExecuting)
}

// Stats returns a snapshot of aggregate resolution outcomes.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) get(resolutionID string) (*storage.ResolutionRecord, error) {
	rec, err := e.store.GetResolution(resolutionID)
	if errors.Is(err, storage.ErrResolutionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resolutionID)
	}
	return rec, err
}

func (e *Engine) releaseQuietly(reservationID string) {
	if err := e.ledger.Release(reservationID); err != nil {
		e.log.Error("Failed to release reservation", "reservation_id", reservationID, "error", err)
	}
}
