// Package swap implements the hashlock/timelock swap lifecycle.
// This package contains ONLY protocol logic (status machine, hashlock
// verification, deadline math). It uses existing packages directly:
//   - chain for the chain/token registry
//   - storage for persistence
//   - config for timelock parameters
package swap

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/lockbridge-exchange/lockbridge/internal/chain"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
	"github.com/lockbridge-exchange/lockbridge/pkg/helpers"
)

// Common errors
var (
	ErrValidation      = errors.New("invalid swap parameters")
	ErrNotFound        = errors.New("swap not found")
	ErrInvalidState    = errors.New("operation not legal from current state")
	ErrInvalidSecret   = errors.New("secret does not match hashlock")
	ErrTimelockExpired = errors.New("timelock expired")
	ErrTimelockActive  = errors.New("timelock has not expired yet")
	ErrAlreadyClaimed  = errors.New("swap already claimed")
)

// Direction identifies which chain initiates the swap.
type Direction string

const (
	DirectionEthToCosmos Direction = "eth-to-cosmos"
	DirectionCosmosToEth Direction = "cosmos-to-eth"
)

// Chains returns the (from, to) chains for a direction.
func (d Direction) Chains() (chain.Name, chain.Name, error) {
	switch d {
	case DirectionEthToCosmos:
		return chain.Ethereum, chain.Cosmos, nil
	case DirectionCosmosToEth:
		return chain.Cosmos, chain.Ethereum, nil
	default:
		return "", "", fmt.Errorf("%w: unknown direction %q", ErrValidation, d)
	}
}

// Status represents the current state of a swap.
type Status string

const (
	StatusInitiated         Status = "initiated"
	StatusEthereumConfirmed Status = "ethereum_confirmed"
	StatusCosmosPending     Status = "cosmos_pending"
	StatusCosmosConfirmed   Status = "cosmos_confirmed"
	StatusSecretRevealed    Status = "secret_revealed"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusRecovering        Status = "recovering"
	StatusRefunded          Status = "refunded"

	// StatusManualIntervention is the administrative terminal state
	// reached when automatic recovery exhausts its retry budget.
	StatusManualIntervention Status = "manual_intervention_required"
)

// happyPath lists the monitored progress states in order.
var happyPath = []Status{
	StatusInitiated, StatusEthereumConfirmed, StatusCosmosPending,
	StatusCosmosConfirmed, StatusSecretRevealed, StatusCompleted,
}

// validTransitions is the exhaustive transition table. Claim and refund
// bypass it deliberately: their guards (hashlock, deadline, terminality)
// are the authority, and both may fire from any transient state.
var validTransitions = map[Status][]Status{
	StatusInitiated:         {StatusEthereumConfirmed, StatusSecretRevealed, StatusFailed, StatusRecovering},
	StatusEthereumConfirmed: {StatusCosmosPending, StatusSecretRevealed, StatusFailed, StatusRecovering},
	StatusCosmosPending:     {StatusCosmosConfirmed, StatusSecretRevealed, StatusFailed, StatusRecovering},
	StatusCosmosConfirmed:   {StatusSecretRevealed, StatusFailed, StatusRecovering},
	StatusSecretRevealed:    {StatusCompleted, StatusFailed, StatusRecovering},
	StatusFailed:            {StatusRecovering, StatusRefunded, StatusManualIntervention},
	StatusRecovering: {
		StatusInitiated, StatusEthereumConfirmed, StatusCosmosPending,
		StatusCosmosConfirmed, StatusSecretRevealed,
		StatusFailed, StatusRefunded, StatusManualIntervention,
	},
	StatusCompleted:          {},
	StatusRefunded:           {},
	StatusManualIntervention: {},
}

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusManualIntervention:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the table permits s -> next.
func (s Status) CanTransition(next Status) bool {
	for _, v := range validTransitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// Swap represents a cross-chain hashlock/timelock swap.
type Swap struct {
	ID        string
	Direction Direction

	FromChain chain.Name
	ToChain   chain.Name
	FromToken string
	ToToken   string

	// Amount in the from-token's base units.
	Amount uint64

	Sender    string
	Recipient string

	// Hashlock is SHA256(secret); immutable once set.
	Hashlock []byte
	// Secret is empty until revealed by a successful claim, except in the
	// creator's own copy.
	Secret []byte

	// TimelockDeadline is the moment after which refund becomes legal and
	// claim becomes illegal.
	TimelockDeadline time.Time

	Status     Status
	RetryCount int

	CreatedAt  time.Time
	ClaimedAt  *time.Time
	RefundedAt *time.Time
}

// TransitionTo attempts to move the swap to a new status via the table.
func (s *Swap) TransitionTo(next Status) error {
	if _, ok := validTransitions[s.Status]; !ok {
		return fmt.Errorf("%w: unknown current status %s", ErrInvalidState, s.Status)
	}
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidState, s.Status, next)
	}
	s.Status = next
	return nil
}

// TimeRemaining returns the time left before the timelock deadline,
// clamped at zero.
func (s *Swap) TimeRemaining(now time.Time) time.Duration {
	remaining := s.TimelockDeadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NewSecret generates a random 32-byte secret.
func NewSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, nil
}

// HashSecret computes the SHA256 hashlock of a secret.
func HashSecret(secret []byte) []byte {
	hash := sha256.Sum256(secret)
	return hash[:]
}

// VerifySecret checks a secret against a hashlock in constant time.
func VerifySecret(secret, hashlock []byte) bool {
	if len(hashlock) == 0 {
		return false
	}
	hash := HashSecret(secret)
	return subtle.ConstantTimeCompare(hash, hashlock) == 1
}

// newSwapID generates a unique 16-byte hex swap identifier.
func newSwapID() (string, error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}
	return helpers.BytesToHex(idBytes), nil
}

// =============================================================================
// Storage conversion
// =============================================================================

// toRecord converts a Swap to its persisted form.
func (s *Swap) toRecord() *storage.SwapRecord {
	return &storage.SwapRecord{
		ID:               s.ID,
		Direction:        string(s.Direction),
		FromChain:        string(s.FromChain),
		ToChain:          string(s.ToChain),
		FromToken:        s.FromToken,
		ToToken:          s.ToToken,
		Amount:           s.Amount,
		Sender:           s.Sender,
		Recipient:        s.Recipient,
		Hashlock:         helpers.BytesToHex(s.Hashlock),
		Secret:           helpers.BytesToHex(s.Secret),
		TimelockDeadline: s.TimelockDeadline.Unix(),
		Status:           string(s.Status),
		RetryCount:       s.RetryCount,
		CreatedAt:        s.CreatedAt,
		ClaimedAt:        s.ClaimedAt,
		RefundedAt:       s.RefundedAt,
	}
}

// fromRecord converts a persisted record back to a Swap.
func fromRecord(rec *storage.SwapRecord) (*Swap, error) {
	hashlock, err := helpers.HexToBytes(rec.Hashlock)
	if err != nil {
		return nil, fmt.Errorf("corrupt hashlock for swap %s: %w", rec.ID, err)
	}

	var secret []byte
	if rec.Secret != "" {
		secret, err = helpers.HexToBytes(rec.Secret)
		if err != nil {
			return nil, fmt.Errorf("corrupt secret for swap %s: %w", rec.ID, err)
		}
	}

	return &Swap{
		ID:               rec.ID,
		Direction:        Direction(rec.Direction),
		FromChain:        chain.Name(rec.FromChain),
		ToChain:          chain.Name(rec.ToChain),
		FromToken:        rec.FromToken,
		ToToken:          rec.ToToken,
		Amount:           rec.Amount,
		Sender:           rec.Sender,
		Recipient:        rec.Recipient,
		Hashlock:         hashlock,
		Secret:           secret,
		TimelockDeadline: time.Unix(rec.TimelockDeadline, 0),
		Status:           Status(rec.Status),
		RetryCount:       rec.RetryCount,
		CreatedAt:        rec.CreatedAt,
		ClaimedAt:        rec.ClaimedAt,
		RefundedAt:       rec.RefundedAt,
	}, nil
}
