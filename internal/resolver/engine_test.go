package resolver

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/lockbridge-exchange/lockbridge/internal/chain"
	"github.com/lockbridge-exchange/lockbridge/internal/config"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
	"github.com/lockbridge-exchange/lockbridge/internal/swap"
)

var testStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

const (
	ethUnit  = uint64(1000000000000000000)
	atomUnit = uint64(1000000)
)

func newTestEngine(t *testing.T) (*Engine, *Ledger, *clock.TestClock) {
	t.Helper()

	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("storage.NewInMemory() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clk := clock.NewTestClock(testStart)
	ledger := NewLedger(store, clk)
	engine := NewEngine(store, ledger, config.DefaultResolverConfig(), clk, "resolver-test")
	return engine, ledger, clk
}

func seedInventory(t *testing.T, ledger *Ledger) {
	t.Helper()

	// Mirrors the default book: 10 ETH, 1000 ATOM.
	if err := ledger.Deposit("ethereum", "ETH", 10*ethUnit); err != nil {
		t.Fatalf("Deposit(ETH) error = %v", err)
	}
	if err := ledger.Deposit("cosmos", "ATOM", 1000*atomUnit); err != nil {
		t.Fatalf("Deposit(ATOM) error = %v", err)
	}
}

func testOrder(amount uint64, expiration time.Time) *Order {
	return &Order{
		OrderID:    "order-1",
		FromChain:  chain.Ethereum,
		FromToken:  "ETH",
		ToChain:    chain.Cosmos,
		ToToken:    "ATOM",
		Amount:     amount,
		Expiration: expiration,
	}
}

func TestEvaluateProfitableOrder(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	seedInventory(t, ledger)

	// 1 ETH, expiring a full reference window away.
	eval, err := engine.Evaluate(testOrder(ethUnit, testStart.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	// net = 1*0.003 + 1*0.005 - 0.01 = -0.002 → clamped to 0: not profitable.
	if eval.ProfitScore != 0 {
		t.Errorf("ProfitScore = %v, want 0 for a 1 ETH order", eval.ProfitScore)
	}
	if eval.Recommended {
		t.Error("1 ETH order recommended despite negative net profit")
	}

	// 5 ETH: net = 5*0.008 - 0.01 = 0.03 → score 3.0.
	eval, err = engine.Evaluate(testOrder(5*ethUnit, testStart.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if math.Abs(eval.ProfitScore-3.0) > 1e-9 {
		t.Errorf("ProfitScore = %v, want 3.0", eval.ProfitScore)
	}
	// risk = 0.5*(5/10) + 0.3*0 + 0.2*0.1 = 0.27
	if math.Abs(eval.RiskScore-0.27) > 1e-9 {
		t.Errorf("RiskScore = %v, want 0.27", eval.RiskScore)
	}
	if !eval.Recommended {
		t.Errorf("5 ETH order not recommended: %+v", eval)
	}
}

func TestEvaluateUnknownInventoryIsFullRisk(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	// No inventory seeded: utilization defaults to 1.0.
	eval, err := engine.Evaluate(testOrder(5*ethUnit, testStart.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	// risk = 0.5*1.0 + 0.3*0 + 0.2*0.1 = 0.52
	if math.Abs(eval.RiskScore-0.52) > 1e-9 {
		t.Errorf("RiskScore = %v, want 0.52", eval.RiskScore)
	}
	if eval.InventoryAvailable {
		t.Error("InventoryAvailable = true with empty ledger")
	}
	if eval.Recommended {
		t.Error("order recommended with no inventory")
	}
}

func TestEvaluateTimeRiskNearExpiry(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	seedInventory(t, ledger)

	// Expiring in 15 minutes: time_risk = 1 - 900/3600 = 0.75.
	eval, err := engine.Evaluate(testOrder(5*ethUnit, testStart.Add(15*time.Minute)))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	// risk = 0.5*0.5 + 0.3*0.75 + 0.02 = 0.495
	if math.Abs(eval.RiskScore-0.495) > 1e-9 {
		t.Errorf("RiskScore = %v, want 0.495", eval.RiskScore)
	}

	// Already expired: time_risk pins to 1.
	eval, err = engine.Evaluate(testOrder(5*ethUnit, testStart.Add(-time.Minute)))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if math.Abs(eval.RiskScore-0.57) > 1e-9 {
		t.Errorf("RiskScore = %v, want 0.57 for expired order", eval.RiskScore)
	}
}

func TestEvaluateValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	order := testOrder(ethUnit, testStart.Add(time.Hour))
	order.FromToken = "DOGE"
	if _, err := engine.Evaluate(order); !errors.Is(err, ErrValidation) {
		t.Errorf("Evaluate(unknown token) error = %v, want ErrValidation", err)
	}

	order = testOrder(0, testStart.Add(time.Hour))
	if _, err := engine.Evaluate(order); !errors.Is(err, ErrValidation) {
		t.Errorf("Evaluate(zero amount) error = %v, want ErrValidation", err)
	}
}

func TestExecuteOpensResolution(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	seedInventory(t, ledger)

	rec, err := engine.Execute(testOrder(5*ethUnit, testStart.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rec.Status != ResolutionExecuting {
		t.Errorf("status = %s, want executing", rec.Status)
	}
	if rec.SecretHash == "" || rec.Secret == "" {
		t.Error("resolution missing secret commitment")
	}

	var steps []Step
	if err := json.Unmarshal(rec.Steps, &steps); err != nil {
		t.Fatalf("unmarshal steps: %v", err)
	}
	if len(steps) != 4 {
		t.Fatalf("len(steps) = %d, want 4", len(steps))
	}
	if steps[0].Step != "create_ethereum_escrow" || steps[0].Status != "pending" {
		t.Errorf("first step = %+v, want pending create_ethereum_escrow", steps[0])
	}

	// The 5 ETH hold is visible.
	available, err := ledger.Available("ethereum", "ETH")
	if err != nil {
		t.Fatalf("Available() error = %v", err)
	}
	if available != 5*ethUnit {
		t.Errorf("available = %d, want 5 ETH after reservation", available)
	}

	active, err := engine.ListActive()
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != rec.ID {
		t.Errorf("ListActive() = %v, want the new resolution", active)
	}
}

func TestExecuteRiskRejected(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	seedInventory(t, ledger)

	// 9 ETH of 10: utilization 0.9 → risk 0.47+... = 0.5*0.9+0.02 = 0.47, still
	// under 0.7. Push utilization and time risk together instead.
	order := testOrder(9*ethUnit, testStart.Add(-time.Minute))
	// risk = 0.5*0.9 + 0.3*1 + 0.02 = 0.77 ≥ 0.7
	if _, err := engine.Execute(order); !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("Execute() error = %v, want ErrRiskRejected", err)
	}

	// Rejection leaves no reservation behind.
	available, err := ledger.Available("ethereum", "ETH")
	if err != nil {
		t.Fatalf("Available() error = %v", err)
	}
	if available != 10*ethUnit {
		t.Errorf("available = %d, want untouched 10 ETH", available)
	}
}

func TestExecuteInsufficientInventory(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	seedInventory(t, ledger)

	order := testOrder(11*ethUnit, testStart.Add(time.Hour))
	if _, err := engine.Execute(order); !errors.Is(err, ErrInsufficientInventory) {
		t.Errorf("Execute() error = %v, want ErrInsufficientInventory", err)
	}
}

func TestCompleteCommitsReservation(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	seedInventory(t, ledger)

	rec, err := engine.Execute(testOrder(5*ethUnit, testStart.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	completed, err := engine.Complete(rec.ID)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completed.Status != ResolutionCompleted {
		t.Errorf("status = %s, want completed", completed.Status)
	}
	wantProfit := completed.ProfitEstimate - completed.GasCost
	if completed.ActualProfit != wantProfit {
		t.Errorf("ActualProfit = %v, want %v", completed.ActualProfit, wantProfit)
	}

	var steps []Step
	if err := json.Unmarshal(completed.Steps, &steps); err != nil {
		t.Fatalf("unmarshal steps: %v", err)
	}
	for _, step := range steps {
		if step.Status != "completed" {
			t.Errorf("step %s = %s, want completed", step.Step, step.Status)
		}
	}

	// Commit is a permanent debit: available stays at 5 ETH.
	available, err := ledger.Available("ethereum", "ETH")
	if err != nil {
		t.Fatalf("Available() error = %v", err)
	}
	if available != 5*ethUnit {
		t.Errorf("available = %d, want 5 ETH after commit", available)
	}

	// Completing twice is rejected.
	if _, err := engine.Complete(rec.ID); !errors.Is(err, swap.ErrInvalidState) {
		t.Errorf("second Complete() error = %v, want ErrInvalidState", err)
	}

	stats := engine.Stats()
	if stats.SuccessfulResolutions != 1 || stats.ActiveSwaps != 0 {
		t.Errorf("stats = %+v, want one success and no active swaps", stats)
	}
}

func TestFailReleasesReservation(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	seedInventory(t, ledger)

	rec, err := engine.Execute(testOrder(5*ethUnit, testStart.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	failed, err := engine.Fail(rec.ID, "counterparty escrow never appeared")
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if failed.Status != ResolutionFailed {
		t.Errorf("status = %s, want failed", failed.Status)
	}

	// Release round-trips the balance.
	available, err := ledger.Available("ethereum", "ETH")
	if err != nil {
		t.Fatalf("Available() error = %v", err)
	}
	if available != 10*ethUnit {
		t.Errorf("available = %d, want full 10 ETH after release", available)
	}

	if _, err := engine.Complete(rec.ID); !errors.Is(err, swap.ErrInvalidState) {
		t.Errorf("Complete() after Fail() error = %v, want ErrInvalidState", err)
	}
}

func TestLedgerReservationLifecycle(t *testing.T) {
	_, ledger, _ := newTestEngine(t)
	seedInventory(t, ledger)

	id, err := ledger.Reserve("ethereum", "ETH", 3*ethUnit)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	if err := ledger.Release(id); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := ledger.Release(id); !errors.Is(err, ErrReservationResolved) {
		t.Errorf("double Release() error = %v, want ErrReservationResolved", err)
	}
	if err := ledger.Commit(id); !errors.Is(err, ErrReservationResolved) {
		t.Errorf("Commit() after Release() error = %v, want ErrReservationResolved", err)
	}

	available, err := ledger.Available("ethereum", "ETH")
	if err != nil {
		t.Fatalf("Available() error = %v", err)
	}
	if available != 10*ethUnit {
		t.Errorf("available = %d, want round-tripped 10 ETH", available)
	}
}

func TestLedgerAllOrNothing(t *testing.T) {
	_, ledger, _ := newTestEngine(t)
	seedInventory(t, ledger)

	if _, err := ledger.Reserve("ethereum", "ETH", 11*ethUnit); !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("Reserve(11 ETH) error = %v, want ErrInsufficientInventory", err)
	}

	// Nothing was partially deducted.
	available, err := ledger.Available("ethereum", "ETH")
	if err != nil {
		t.Fatalf("Available() error = %v", err)
	}
	if available != 10*ethUnit {
		t.Errorf("available = %d, want untouched 10 ETH", available)
	}
}

func TestLedgerSnapshot(t *testing.T) {
	_, ledger, _ := newTestEngine(t)
	seedInventory(t, ledger)

	entries, totalUSD, err := ledger.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	// 10 ETH @ $2000 + 1000 ATOM @ $10 = $30000.
	if math.Abs(totalUSD-30000) > 1e-6 {
		t.Errorf("totalUSD = %v, want 30000", totalUSD)
	}

	displays := make(map[string]string)
	for _, e := range entries {
		displays[e.Token] = e.Display
	}
	if displays["ETH"] != "10 ETH" {
		t.Errorf("ETH display = %q, want %q", displays["ETH"], "10 ETH")
	}
	if displays["ATOM"] != "1000 ATOM" {
		t.Errorf("ATOM display = %q, want %q", displays["ATOM"], "1000 ATOM")
	}
}
