package swap

import (
	"testing"
	"time"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{name: "initiated to ethereum confirmed", from: StatusInitiated, to: StatusEthereumConfirmed},
		{name: "ethereum confirmed to cosmos pending", from: StatusEthereumConfirmed, to: StatusCosmosPending},
		{name: "cosmos confirmed to secret revealed", from: StatusCosmosConfirmed, to: StatusSecretRevealed},
		{name: "secret revealed to completed", from: StatusSecretRevealed, to: StatusCompleted},
		{name: "any progress state can fail", from: StatusCosmosPending, to: StatusFailed},
		{name: "failed to recovering", from: StatusFailed, to: StatusRecovering},
		{name: "failed to escalated", from: StatusFailed, to: StatusManualIntervention},
		{name: "recovering back onto the happy path", from: StatusRecovering, to: StatusEthereumConfirmed},
		{name: "recovering to refunded", from: StatusRecovering, to: StatusRefunded},
		{name: "completed is terminal", from: StatusCompleted, to: StatusFailed, wantErr: true},
		{name: "refunded is terminal", from: StatusRefunded, to: StatusRecovering, wantErr: true},
		{name: "escalated is terminal", from: StatusManualIntervention, to: StatusRecovering, wantErr: true},
		{name: "no skipping to completed from initiated", from: StatusInitiated, to: StatusCompleted, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Swap{Status: tt.from}
			err := s.TransitionTo(tt.to)
			if tt.wantErr {
				if err == nil {
					t.Errorf("TransitionTo(%s -> %s) succeeded, want error", tt.from, tt.to)
				}
				if s.Status != tt.from {
					t.Errorf("status mutated to %s on rejected transition", s.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("TransitionTo(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if s.Status != tt.to {
				t.Errorf("status = %s, want %s", s.Status, tt.to)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusRefunded, StatusManualIntervention}
	transient := []Status{
		StatusInitiated, StatusEthereumConfirmed, StatusCosmosPending,
		StatusCosmosConfirmed, StatusSecretRevealed, StatusFailed, StatusRecovering,
	}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
	for _, s := range transient {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

func TestVerifySecret(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret() error = %v", err)
	}
	if len(secret) != 32 {
		t.Fatalf("len(secret) = %d, want 32", len(secret))
	}

	hashlock := HashSecret(secret)
	if !VerifySecret(secret, hashlock) {
		t.Error("VerifySecret rejected the matching secret")
	}

	wrong := make([]byte, 32)
	copy(wrong, secret)
	wrong[0] ^= 0xff
	if VerifySecret(wrong, hashlock) {
		t.Error("VerifySecret accepted a non-matching secret")
	}

	if VerifySecret(secret, nil) {
		t.Error("VerifySecret accepted an empty hashlock")
	}
}

func TestTimeRemaining(t *testing.T) {
	deadline := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Swap{TimelockDeadline: deadline}

	if got := s.TimeRemaining(deadline.Add(-time.Hour)); got != time.Hour {
		t.Errorf("TimeRemaining before deadline = %v, want 1h", got)
	}
	if got := s.TimeRemaining(deadline.Add(time.Hour)); got != 0 {
		t.Errorf("TimeRemaining after deadline = %v, want 0", got)
	}
}

func TestDirectionChains(t *testing.T) {
	from, to, err := DirectionEthToCosmos.Chains()
	if err != nil {
		t.Fatalf("Chains() error = %v", err)
	}
	if from != "ethereum" || to != "cosmos" {
		t.Errorf("eth-to-cosmos = %s -> %s", from, to)
	}

	if _, _, err := Direction("eth-to-solana").Chains(); err == nil {
		t.Error("unknown direction accepted")
	}
}
