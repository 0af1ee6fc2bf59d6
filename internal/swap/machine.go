// Package swap - The swap state machine.
// The Machine is the single authority on swap transitions: every mutation
// goes through it, serialized per swap ID.
package swap

import (
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/lockbridge-exchange/lockbridge/internal/chain"
	"github.com/lockbridge-exchange/lockbridge/internal/config"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

// Machine enforces legal transitions over swaps.
type Machine struct {
	store *storage.Storage
	cfg   config.SwapConfig
	clock clock.Clock
	locks *KeyMutex
	log   *logging.Logger
}

// NewMachine creates a swap state machine over the given store.
func NewMachine(store *storage.Storage, cfg config.SwapConfig, clk clock.Clock) *Machine {
	return &Machine{
		store: store,
		cfg:   cfg,
		clock: clk,
		locks: NewKeyMutex(),
		log:   logging.GetDefault().Component("swap"),
	}
}

// CreateParams holds the caller-supplied fields for a new swap.
type CreateParams struct {
	Direction Direction
	FromToken string
	ToToken   string
	Amount    uint64
	Sender    string
	Recipient string

	// TimelockDuration is how long the hashlock stays claimable. Zero
	// selects the configured default.
	TimelockDuration time.Duration
}

// validate checks the parameters and resolves the chain pair.
func (p *CreateParams) validate(cfg config.SwapConfig) (chain.Name, chain.Name, error) {
	from, to, err := p.Direction.Chains()
	if err != nil {
		return "", "", err
	}
	if p.Amount == 0 {
		return "", "", fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if p.Sender == "" {
		return "", "", fmt.Errorf("%w: missing sender", ErrValidation)
	}
	if p.Recipient == "" {
		return "", "", fmt.Errorf("%w: missing recipient", ErrValidation)
	}
	if _, err := chain.GetToken(from, p.FromToken); err != nil {
		return "", "", fmt.Errorf("%w: from token: %v", ErrValidation, err)
	}
	if _, err := chain.GetToken(to, p.ToToken); err != nil {
		return "", "", fmt.Errorf("%w: to token: %v", ErrValidation, err)
	}
	if p.TimelockDuration < 0 || p.TimelockDuration > cfg.MaxTimelockDuration {
		return "", "", fmt.Errorf("%w: timelock duration out of range", ErrValidation)
	}
	if p.TimelockDuration != 0 && p.TimelockDuration < cfg.MinTimelockDuration {
		return "", "", fmt.Errorf("%w: timelock duration below minimum", ErrValidation)
	}
	return from, to, nil
}

// Create validates the parameters, generates the secret and hashlock, and
// persists a new swap in the initiated state. The returned Swap carries the
// secret; it belongs to the creating party and is never served again.
func (m *Machine) Create(params CreateParams) (*Swap, error) {
	fromChain, toChain, err := params.validate(m.cfg)
	if err != nil {
		return nil, err
	}

	duration := params.TimelockDuration
	if duration == 0 {
		duration = m.cfg.DefaultTimelockDuration
	}

	id, err := newSwapID()
	if err != nil {
		return nil, err
	}

	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	s := &Swap{
		ID:               id,
		Direction:        params.Direction,
		FromChain:        fromChain,
		ToChain:          toChain,
		FromToken:        params.FromToken,
		ToToken:          params.ToToken,
		Amount:           params.Amount,
		Sender:           params.Sender,
		Recipient:        params.Recipient,
		Hashlock:         HashSecret(secret),
		Secret:           secret,
		TimelockDeadline: now.Add(duration),
		Status:           StatusInitiated,
		CreatedAt:        now,
	}

	// Persist without the secret: the store holds the commitment only,
	// until a claim reveals the preimage.
	rec := s.toRecord()
	rec.Secret = ""
	if err := m.store.CreateSwap(rec); err != nil {
		return nil, err
	}

	m.log.Info("Swap created",
		"id", s.ID, "direction", s.Direction,
		"amount", s.Amount, "deadline", s.TimelockDeadline)
	return s, nil
}

// Claim reveals the secret and completes the swap. It succeeds only when
// the secret hashes to the hashlock, the deadline has not passed, and the
// swap is not already terminal.
func (m *Machine) Claim(id string, secret []byte) (*Swap, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	if s.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: swap %s is %s", ErrInvalidState, id, s.Status)
	}
	if !VerifySecret(secret, s.Hashlock) {
		return nil, fmt.Errorf("%w: swap %s", ErrInvalidSecret, id)
	}
	now := m.clock.Now()
	if !now.Before(s.TimelockDeadline) {
		return nil, fmt.Errorf("%w: swap %s deadline was %s", ErrTimelockExpired, id, s.TimelockDeadline)
	}

	prev := s.Status
	s.Secret = secret
	s.Status = StatusCompleted
	s.ClaimedAt = &now

	if err := m.store.UpdateSwap(s.toRecord(), string(prev)); err != nil {
		return nil, err
	}

	m.log.Info("Swap claimed", "id", id, "previous", prev)
	return s, nil
}

// Refund unwinds the swap after its deadline. It succeeds only when the
// deadline has passed and the swap has not completed.
func (m *Machine) Refund(id string) (*Swap, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	if s.Status == StatusCompleted {
		return nil, fmt.Errorf("%w: swap %s", ErrAlreadyClaimed, id)
	}
	if s.Status == StatusRefunded {
		return nil, fmt.Errorf("%w: swap %s already refunded", ErrInvalidState, id)
	}
	now := m.clock.Now()
	if now.Before(s.TimelockDeadline) {
		return nil, fmt.Errorf("%w: swap %s refundable at %s", ErrTimelockActive, id, s.TimelockDeadline)
	}

	prev := s.Status
	s.Status = StatusRefunded
	s.RefundedAt = &now

	if err := m.store.UpdateSwap(s.toRecord(), string(prev)); err != nil {
		return nil, err
	}

	m.log.Info("Swap refunded", "id", id, "previous", prev)
	return s, nil
}

// ForceRefund refunds a swap regardless of its deadline. Only the recovery
// engine calls this, on the timeout-exceeded path where waiting out the
// deadline is the failure being handled.
func (m *Machine) ForceRefund(id string) (*Swap, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	if s.Status == StatusCompleted {
		return nil, fmt.Errorf("%w: swap %s", ErrAlreadyClaimed, id)
	}
	if s.Status == StatusRefunded {
		return s, nil
	}

	now := m.clock.Now()
	prev := s.Status
	s.Status = StatusRefunded
	s.RefundedAt = &now

	if err := m.store.UpdateSwap(s.toRecord(), string(prev)); err != nil {
		return nil, err
	}

	m.log.Warn("Swap force-refunded", "id", id, "previous", prev)
	return s, nil
}

// StatusInfo is a read-only swap snapshot with derived deadline state.
type StatusInfo struct {
	Swap            *Swap
	TimeRemaining   time.Duration
	TimelockExpired bool
}

// Status returns a snapshot of the swap with its remaining timelock.
func (m *Machine) Status(id string) (*StatusInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	return &StatusInfo{
		Swap:            s,
		TimeRemaining:   s.TimeRemaining(now),
		TimelockExpired: !now.Before(s.TimelockDeadline),
	}, nil
}

// Advance moves a monitored swap along the progress table. Used by the
// recovery engine and status reporters, never by claim/refund.
func (m *Machine) Advance(id string, next Status) (*Swap, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	prev := s.Status
	if err := s.TransitionTo(next); err != nil {
		return nil, err
	}

	if err := m.store.UpdateSwap(s.toRecord(), string(prev)); err != nil {
		return nil, err
	}

	m.log.Info("Swap status changed", "id", id, "from", prev, "to", next)
	return s, nil
}

// BumpRetryCount increments the stored retry counter. Serialized with the
// other per-swap mutations.
func (m *Machine) BumpRetryCount(id string) (*Swap, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	s.RetryCount++
	if err := m.store.UpdateSwap(s.toRecord(), string(s.Status)); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a swap by ID.
func (m *Machine) Get(id string) (*Swap, error) {
	return m.get(id)
}

// List returns all swaps, newest first.
func (m *Machine) List() ([]*Swap, error) {
	recs, err := m.store.ListSwaps()
	if err != nil {
		return nil, err
	}

	swaps := make([]*Swap, 0, len(recs))
	for _, rec := range recs {
		s, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, s)
	}
	return swaps, nil
}

func (m *Machine) get(id string) (*Swap, error) {
	rec, err := m.store.GetSwap(id)
	if err != nil {
		if errors.Is(err, storage.ErrSwapNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return fromRecord(rec)
}
