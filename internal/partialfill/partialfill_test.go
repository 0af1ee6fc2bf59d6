package partialfill

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/lockbridge-exchange/lockbridge/internal/storage"
)

var testStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestAuthenticator(t *testing.T) (*Authenticator, *clock.TestClock) {
	t.Helper()

	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("storage.NewInMemory() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clk := clock.NewTestClock(testStart)
	return NewAuthenticator(store, nil, clk), clk
}

func validParams() CreateParams {
	return CreateParams{
		Maker:       "cosmos1maker",
		TotalAmount: 1000,
		MakerDenom:  "ATOM",
		TakerDenom:  "ETH",
		Timelock:    time.Hour,
	}
}

func TestMerkleRoot(t *testing.T) {
	secrets, err := GenerateSecrets()
	if err != nil {
		t.Fatalf("GenerateSecrets() error = %v", err)
	}
	if len(secrets) != FillLevels {
		t.Fatalf("len(secrets) = %d, want %d", len(secrets), FillLevels)
	}

	root, err := Root(secrets)
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	if len(root) != 32 {
		t.Fatalf("len(root) = %d, want 32", len(root))
	}

	for i := 0; i < FillLevels; i++ {
		if !VerifyLeaf(secrets, i, root) {
			t.Errorf("VerifyLeaf(%d) = false for committed set", i)
		}
	}

	// Tampering with any secret breaks the commitment.
	tampered := make([][]byte, FillLevels)
	copy(tampered, secrets)
	tampered[2] = make([]byte, SecretSize)
	if VerifyLeaf(tampered, 2, root) {
		t.Error("VerifyLeaf accepted a tampered secret set")
	}

	if VerifyLeaf(secrets, FillLevels, root) {
		t.Error("VerifyLeaf accepted an out-of-range index")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	a, _ := newTestAuthenticator(t)

	tests := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{name: "missing maker", mutate: func(p *CreateParams) { p.Maker = "" }},
		{name: "amount below fill count", mutate: func(p *CreateParams) { p.TotalAmount = 3 }},
		{name: "missing denom", mutate: func(p *CreateParams) { p.TakerDenom = "" }},
		{name: "zero timelock", mutate: func(p *CreateParams) { p.Timelock = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(&params)
			if _, err := a.CreateOrder(params); !errors.Is(err, ErrValidation) {
				t.Errorf("CreateOrder() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestCreateOrderCommitsRoot(t *testing.T) {
	a, _ := newTestAuthenticator(t)

	rec, err := a.CreateOrder(validParams())
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if rec.Status != StatusOpen {
		t.Errorf("status = %s, want open", rec.Status)
	}

	secrets, root, err := decodeCommitment(rec)
	if err != nil {
		t.Fatalf("decodeCommitment() error = %v", err)
	}
	computed, err := Root(secrets)
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	if hex.EncodeToString(computed) != hex.EncodeToString(root) {
		t.Error("stored root does not match stored secrets")
	}
}

func TestFullFillLifecycle(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	ctx := context.Background()

	rec, err := a.CreateOrder(validParams())
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	wantIncrements := []uint64{250, 250, 250, 250}
	for level, want := range wantIncrements {
		updated, op, err := a.ExecuteFill(ctx, rec.ID, "R1", level)
		if err != nil {
			t.Fatalf("ExecuteFill(level %d) error = %v", level, err)
		}
		if op.Amount != want {
			t.Errorf("level %d increment = %d, want %d", level, op.Amount, want)
		}
		if updated.CurrentFillLevel != level+1 {
			t.Errorf("level after fill %d = %d, want %d", level, updated.CurrentFillLevel, level+1)
		}

		wantStatus := StatusPartiallyFilled
		if level == FillLevels-1 {
			wantStatus = StatusFilled
		}
		if updated.Status != wantStatus {
			t.Errorf("status after fill %d = %s, want %s", level, updated.Status, wantStatus)
		}
	}

	final, err := a.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if final.Order.FilledAmount != 1000 {
		t.Errorf("filled = %d, want full 1000", final.Order.FilledAmount)
	}
	if !final.CanComplete || final.CanFill {
		t.Errorf("progress flags = fill:%v complete:%v, want complete only",
			final.CanFill, final.CanComplete)
	}

	settled, err := a.CompleteOrder(ctx, rec.ID, "R1")
	if err != nil {
		t.Fatalf("CompleteOrder() error = %v", err)
	}
	if settled.Status != StatusSettled {
		t.Errorf("status = %s, want settled", settled.Status)
	}

	// Settlement is idempotent-reject.
	if _, err := a.CompleteOrder(ctx, rec.ID, "R1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second CompleteOrder() error = %v, want ErrInvalidState", err)
	}
	if _, _, err := a.ExecuteFill(ctx, rec.ID, "R1", 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ExecuteFill() after settle error = %v, want ErrInvalidState", err)
	}

	ops, err := a.FillHistory(rec.ID)
	if err != nil {
		t.Fatalf("FillHistory() error = %v", err)
	}
	if len(ops) != FillLevels+1 {
		t.Fatalf("len(ops) = %d, want %d fills plus completion", len(ops), FillLevels+1)
	}
	if ops[len(ops)-1].Type != opTypeCompletion {
		t.Errorf("last op type = %s, want completion", ops[len(ops)-1].Type)
	}
}

func TestFillRemainderAbsorbedAtLastLevel(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	ctx := context.Background()

	params := validParams()
	params.TotalAmount = 1003
	rec, err := a.CreateOrder(params)
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	var sum uint64
	wantIncrements := []uint64{250, 250, 250, 253}
	for level, want := range wantIncrements {
		_, op, err := a.ExecuteFill(ctx, rec.ID, "R1", level)
		if err != nil {
			t.Fatalf("ExecuteFill(level %d) error = %v", level, err)
		}
		if op.Amount != want {
			t.Errorf("level %d increment = %d, want %d", level, op.Amount, want)
		}
		sum += op.Amount
	}
	if sum != 1003 {
		t.Errorf("increment sum = %d, want exactly 1003", sum)
	}
}

func TestFillRejectsWrongSecretIndex(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	ctx := context.Background()

	rec, err := a.CreateOrder(validParams())
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	// Skipping ahead to level 2 before level 0 is released.
	if _, _, err := a.ExecuteFill(ctx, rec.ID, "R1", 2); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("ExecuteFill(index 2) error = %v, want ErrInvalidSecret", err)
	}

	// Replaying level 0 after it is consumed.
	if _, _, err := a.ExecuteFill(ctx, rec.ID, "R1", 0); err != nil {
		t.Fatalf("ExecuteFill(index 0) error = %v", err)
	}
	if _, _, err := a.ExecuteFill(ctx, rec.ID, "R1", 0); !errors.Is(err, ErrInvalidSecret) {
		t.Errorf("replayed ExecuteFill(index 0) error = %v, want ErrInvalidSecret", err)
	}

	// The rejected fills released nothing.
	info, err := a.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if info.Order.FilledAmount != 250 || info.Order.CurrentFillLevel != 1 {
		t.Errorf("order = %d filled at level %d, want 250 at level 1",
			info.Order.FilledAmount, info.Order.CurrentFillLevel)
	}
}

func TestFillExpiresLazily(t *testing.T) {
	a, clk := newTestAuthenticator(t)
	ctx := context.Background()

	rec, err := a.CreateOrder(validParams())
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	clk.SetTime(testStart.Add(2 * time.Hour))
	if _, _, err := a.ExecuteFill(ctx, rec.ID, "R1", 0); !errors.Is(err, ErrExpired) {
		t.Fatalf("ExecuteFill() past expiration error = %v, want ErrExpired", err)
	}

	info, err := a.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if info.Order.Status != StatusExpired {
		t.Errorf("status = %s, want expired after lazy transition", info.Order.Status)
	}

	// Expiry is sticky.
	if _, _, err := a.ExecuteFill(ctx, rec.ID, "R1", 0); !errors.Is(err, ErrExpired) {
		t.Errorf("ExecuteFill() on expired order error = %v, want ErrExpired", err)
	}
}

func TestCompleteRequiresFullFill(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	ctx := context.Background()

	rec, err := a.CreateOrder(validParams())
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if _, err := a.CompleteOrder(ctx, rec.ID, "R1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("CompleteOrder() on open order error = %v, want ErrInvalidState", err)
	}

	if _, _, err := a.ExecuteFill(ctx, rec.ID, "R1", 0); err != nil {
		t.Fatalf("ExecuteFill() error = %v", err)
	}
	if _, err := a.CompleteOrder(ctx, rec.ID, "R1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("CompleteOrder() at level 1 error = %v, want ErrInvalidState", err)
	}
}

func TestGetUnknownOrder(t *testing.T) {
	a, _ := newTestAuthenticator(t)

	if _, err := a.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}
