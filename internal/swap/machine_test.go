package swap

import (
	"errors"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/lockbridge-exchange/lockbridge/internal/config"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
)

var testStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestMachine(t *testing.T) (*Machine, *clock.TestClock) {
	t.Helper()

	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("storage.NewInMemory() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clk := clock.NewTestClock(testStart)
	return NewMachine(store, config.DefaultSwapConfig(), clk), clk
}

func validCreateParams() CreateParams {
	return CreateParams{
		Direction:        DirectionEthToCosmos,
		FromToken:        "ETH",
		ToToken:          "ATOM",
		Amount:           500000000000000000, // 0.5 ETH
		Sender:           "0xSender",
		Recipient:        "cosmos1recipient",
		TimelockDuration: time.Hour,
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{name: "zero amount", mutate: func(p *CreateParams) { p.Amount = 0 }},
		{name: "missing sender", mutate: func(p *CreateParams) { p.Sender = "" }},
		{name: "missing recipient", mutate: func(p *CreateParams) { p.Recipient = "" }},
		{name: "unknown direction", mutate: func(p *CreateParams) { p.Direction = "eth-to-solana" }},
		{name: "token not on from chain", mutate: func(p *CreateParams) { p.FromToken = "ATOM" }},
		{name: "token not on to chain", mutate: func(p *CreateParams) { p.ToToken = "ETH" }},
		{name: "timelock too long", mutate: func(p *CreateParams) { p.TimelockDuration = 30 * 24 * time.Hour }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMachine(t)
			params := validCreateParams()
			tt.mutate(&params)

			if _, err := m.Create(params); !errors.Is(err, ErrValidation) {
				t.Errorf("Create() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestCreateGeneratesCommitment(t *testing.T) {
	m, _ := newTestMachine(t)

	s, err := m.Create(validCreateParams())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if s.Status != StatusInitiated {
		t.Errorf("Status = %s, want initiated", s.Status)
	}
	if len(s.Secret) != 32 || len(s.Hashlock) != 32 {
		t.Fatalf("secret/hashlock lengths = %d/%d, want 32/32", len(s.Secret), len(s.Hashlock))
	}
	if !VerifySecret(s.Secret, s.Hashlock) {
		t.Error("generated secret does not match its hashlock")
	}
	if !s.TimelockDeadline.Equal(testStart.Add(time.Hour)) {
		t.Errorf("deadline = %v, want %v", s.TimelockDeadline, testStart.Add(time.Hour))
	}

	// The stored copy holds the commitment but not the preimage.
	stored, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(stored.Secret) != 0 {
		t.Error("secret persisted before reveal")
	}
}

func TestClaimWrongSecretLeavesStateUnchanged(t *testing.T) {
	m, _ := newTestMachine(t)

	s, err := m.Create(validCreateParams())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wrong := make([]byte, 32)
	if _, err := m.Claim(s.ID, wrong); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("Claim(wrong secret) error = %v, want ErrInvalidSecret", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusInitiated {
		t.Errorf("status after rejected claim = %s, want initiated", got.Status)
	}
}

func TestClaimCorrectSecretCompletes(t *testing.T) {
	m, _ := newTestMachine(t)

	s, err := m.Create(validCreateParams())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	claimed, err := m.Claim(s.ID, s.Secret)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", claimed.Status)
	}
	if claimed.ClaimedAt == nil {
		t.Error("ClaimedAt not set")
	}

	// The revealed secret is now permanently associated.
	stored, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !VerifySecret(stored.Secret, stored.Hashlock) {
		t.Error("revealed secret not persisted")
	}

	// Claim is not repeatable.
	if _, err := m.Claim(s.ID, s.Secret); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Claim() error = %v, want ErrInvalidState", err)
	}
}

func TestClaimAfterDeadline(t *testing.T) {
	m, clk := newTestMachine(t)

	s, err := m.Create(validCreateParams())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clk.SetTime(testStart.Add(2 * time.Hour))
	if _, err := m.Claim(s.ID, s.Secret); !errors.Is(err, ErrTimelockExpired) {
		t.Errorf("Claim() after deadline error = %v, want ErrTimelockExpired", err)
	}
}

func TestRefundLifecycle(t *testing.T) {
	m, clk := newTestMachine(t)

	params := validCreateParams()
	params.TimelockDuration = time.Second
	s, err := m.Create(params)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Too early
	if _, err := m.Refund(s.ID); !errors.Is(err, ErrTimelockActive) {
		t.Fatalf("early Refund() error = %v, want ErrTimelockActive", err)
	}

	clk.SetTime(testStart.Add(2 * time.Second))
	refunded, err := m.Refund(s.ID)
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Errorf("status = %s, want refunded", refunded.Status)
	}
	if refunded.RefundedAt == nil {
		t.Error("RefundedAt not set")
	}

	// Claim after refund is an invalid-state error, not a secret error.
	if _, err := m.Claim(s.ID, s.Secret); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Claim() after refund error = %v, want ErrInvalidState", err)
	}
}

func TestClaimRefundMutualExclusion(t *testing.T) {
	m, clk := newTestMachine(t)

	s, err := m.Create(validCreateParams())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := m.Claim(s.ID, s.Secret); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	clk.SetTime(testStart.Add(2 * time.Hour))
	if _, err := m.Refund(s.ID); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("Refund() after claim error = %v, want ErrAlreadyClaimed", err)
	}
}

func TestStatusTimeRemaining(t *testing.T) {
	m, clk := newTestMachine(t)

	s, err := m.Create(validCreateParams())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clk.SetTime(testStart.Add(15 * time.Minute))
	info, err := m.Status(s.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if info.TimeRemaining != 45*time.Minute {
		t.Errorf("TimeRemaining = %v, want 45m", info.TimeRemaining)
	}
	if info.TimelockExpired {
		t.Error("TimelockExpired = true before deadline")
	}

	clk.SetTime(testStart.Add(3 * time.Hour))
	info, err = m.Status(s.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if info.TimeRemaining != 0 || !info.TimelockExpired {
		t.Errorf("after deadline: remaining=%v expired=%v", info.TimeRemaining, info.TimelockExpired)
	}
}

func TestStatusNotFound(t *testing.T) {
	m, _ := newTestMachine(t)

	if _, err := m.Status("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAdvanceFollowsTable(t *testing.T) {
	m, _ := newTestMachine(t)

	s, err := m.Create(validCreateParams())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := m.Advance(s.ID, StatusEthereumConfirmed); err != nil {
		t.Fatalf("Advance(ethereum_confirmed) error = %v", err)
	}
	if _, err := m.Advance(s.ID, StatusCompleted); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Advance skip error = %v, want ErrInvalidState", err)
	}
}
