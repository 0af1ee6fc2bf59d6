// Package partialfill - Order lifecycle and fill authentication.
package partialfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/lockbridge-exchange/lockbridge/internal/chain"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
	"github.com/lockbridge-exchange/lockbridge/internal/swap"
	"github.com/lockbridge-exchange/lockbridge/pkg/helpers"
	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

// Partial fill errors
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("partial order not found")
	ErrExpired       = errors.New("order expired")
	ErrInvalidState  = errors.New("operation not legal from current order state")
	ErrInvalidSecret = errors.New("secret does not match merkle commitment")
)

// Order statuses
const (
	StatusOpen            = "open"
	StatusPartiallyFilled = "partially_filled"
	StatusFilled          = "filled"
	StatusSettled         = "settled"
	StatusExpired         = "expired"
)

// Fill operation types
const (
	opTypePartial    = "partial"
	opTypeCompletion = "completion"
)

// CreateParams are the inputs for a new Merkle-committed order.
type CreateParams struct {
	Maker       string
	TotalAmount uint64
	MakerDenom  string
	TakerDenom  string
	Timelock    time.Duration
}

func (p *CreateParams) validate() error {
	if p.Maker == "" {
		return fmt.Errorf("%w: missing maker", ErrValidation)
	}
	if p.TotalAmount < FillLevels {
		return fmt.Errorf("%w: total amount must cover %d fills", ErrValidation, FillLevels)
	}
	if p.MakerDenom == "" || p.TakerDenom == "" {
		return fmt.Errorf("%w: missing denom", ErrValidation)
	}
	if p.Timelock <= 0 {
		return fmt.Errorf("%w: timelock must be positive", ErrValidation)
	}
	return nil
}

// OrderInfo is a read-model of an order with derived progress fields.
type OrderInfo struct {
	Order           *storage.PartialOrderRecord
	ProgressPercent float64
	NextFillAmount  uint64
	CanFill         bool
	CanComplete     bool
}

// Authenticator owns the partial fill lifecycle. Fill verification requires
// the secret committed at the current level, so fills release strictly in
// order and never skip a quartile.
type Authenticator struct {
	store    *storage.Storage
	observer chain.Observer
	clock    clock.Clock
	locks    *swap.KeyMutex
	log      *logging.Logger
}

// NewAuthenticator creates a partial fill authenticator.
func NewAuthenticator(store *storage.Storage, observer chain.Observer, clk clock.Clock) *Authenticator {
	return &Authenticator{
		store:    store,
		observer: observer,
		clock:    clk,
		locks:    swap.NewKeyMutex(),
		log:      logging.GetDefault().Component("partialfill"),
	}
}

// CreateOrder generates the four leaf secrets, commits to their Merkle root,
// and opens the order. The secrets stay with the order record for the maker;
// the transport layer exposes only the root.
func (a *Authenticator) CreateOrder(params CreateParams) (*storage.PartialOrderRecord, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	secrets, err := GenerateSecrets()
	if err != nil {
		return nil, err
	}
	root, err := Root(secrets)
	if err != nil {
		return nil, err
	}

	encoded := make([]string, len(secrets))
	for i, s := range secrets {
		encoded[i] = helpers.BytesToHex(s)
	}

	now := a.clock.Now()
	rec := &storage.PartialOrderRecord{
		ID:          uuid.NewString(),
		Maker:       params.Maker,
		TotalAmount: params.TotalAmount,
		MerkleRoot:  helpers.BytesToHex(root),
		Secrets:     strings.Join(encoded, ","),
		Status:      StatusOpen,
		MakerDenom:  params.MakerDenom,
		TakerDenom:  params.TakerDenom,
		Expiration:  now.Add(params.Timelock).Unix(),
		CreatedAt:   now,
	}
	if err := a.store.CreatePartialOrder(rec); err != nil {
		return nil, err
	}

	a.log.Info("Partial order created",
		"order_id", rec.ID,
		"maker", rec.Maker,
		"total_amount", rec.TotalAmount,
		"expiration", rec.Expiration)
	return rec, nil
}

// fillIncrement is the amount released at a level. Levels 0-2 release a flat
// quarter; level 3 absorbs the division remainder so the four increments sum
// to the total exactly.
func fillIncrement(total uint64, level int) uint64 {
	quarter := total / FillLevels
	if level == FillLevels-1 {
		return total - quarter*(FillLevels-1)
	}
	return quarter
}

// ExecuteFill releases the next quartile of an order. The supplied secret
// index must be the current fill level and that level's committed secret must
// still verify against the root.
func (a *Authenticator) ExecuteFill(ctx context.Context, orderID, resolver string, secretIndex int) (*storage.PartialOrderRecord, *storage.FillOperationRecord, error) {
	a.locks.Lock(orderID)
	defer a.locks.Unlock(orderID)

	rec, err := a.get(orderID)
	if err != nil {
		return nil, nil, err
	}

	switch rec.Status {
	case StatusSettled:
		return nil, nil, fmt.Errorf("%w: order %s already settled", ErrInvalidState, orderID)
	case StatusExpired:
		return nil, nil, fmt.Errorf("%w: order %s", ErrExpired, orderID)
	}

	if a.clock.Now().Unix() > rec.Expiration {
		prev := rec.Status
		rec.Status = StatusExpired
		if err := a.store.UpdatePartialOrder(rec, prev); err != nil {
			return nil, nil, err
		}
		a.log.Info("Partial order expired", "order_id", orderID)
		return nil, nil, fmt.Errorf("%w: order %s", ErrExpired, orderID)
	}

	if rec.CurrentFillLevel >= FillLevels {
		return nil, nil, fmt.Errorf("%w: order %s fully filled", ErrInvalidState, orderID)
	}

	if secretIndex != rec.CurrentFillLevel {
		return nil, nil, fmt.Errorf("%w: secret index %d, expected %d",
			ErrInvalidSecret, secretIndex, rec.CurrentFillLevel)
	}
	secrets, root, err := decodeCommitment(rec)
	if err != nil {
		return nil, nil, err
	}
	if !VerifyLeaf(secrets, secretIndex, root) {
		return nil, nil, fmt.Errorf("%w: order %s leaf %d", ErrInvalidSecret, orderID, secretIndex)
	}

	increment := fillIncrement(rec.TotalAmount, rec.CurrentFillLevel)

	prev := rec.Status
	rec.FilledAmount += increment
	rec.CurrentFillLevel++
	if rec.CurrentFillLevel == FillLevels {
		rec.Status = StatusFilled
	} else {
		rec.Status = StatusPartiallyFilled
	}
	if err := a.store.UpdatePartialOrder(rec, prev); err != nil {
		return nil, nil, err
	}

	op := &storage.FillOperationRecord{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Type:        opTypePartial,
		Resolver:    resolver,
		Amount:      increment,
		SecretIndex: secretIndex,
		CreatedAt:   a.clock.Now(),
	}
	if a.observer != nil {
		op.BlockHeight, _ = a.observer.CurrentHeight(ctx, chain.Ethereum)
	}
	if err := a.store.AppendFillOperation(op); err != nil {
		return nil, nil, err
	}

	a.log.Info("Fill executed",
		"order_id", orderID,
		"resolver", resolver,
		"level", secretIndex,
		"amount", increment,
		"status", rec.Status)
	return rec, op, nil
}

// CompleteOrder settles a fully filled order. Settlement happens once;
// repeats are rejected.
func (a *Authenticator) CompleteOrder(ctx context.Context, orderID, resolver string) (*storage.PartialOrderRecord, error) {
	a.locks.Lock(orderID)
	defer a.locks.Unlock(orderID)

	rec, err := a.get(orderID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusFilled || rec.CurrentFillLevel != FillLevels {
		return nil, fmt.Errorf("%w: order %s is %s at level %d",
			ErrInvalidState, orderID, rec.Status, rec.CurrentFillLevel)
	}

	rec.Status = StatusSettled
	if err := a.store.UpdatePartialOrder(rec, StatusFilled); err != nil {
		return nil, err
	}

	op := &storage.FillOperationRecord{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Type:        opTypeCompletion,
		Resolver:    resolver,
		SecretIndex: FillLevels - 1,
		CreatedAt:   a.clock.Now(),
	}
	if a.observer != nil {
		op.BlockHeight, _ = a.observer.CurrentHeight(ctx, chain.Ethereum)
	}
	if err := a.store.AppendFillOperation(op); err != nil {
		return nil, err
	}

	a.log.Info("Partial order settled", "order_id", orderID, "resolver", resolver)
	return rec, nil
}

// Get returns an order with its derived progress fields.
func (a *Authenticator) Get(orderID string) (*OrderInfo, error) {
	rec, err := a.get(orderID)
	if err != nil {
		return nil, err
	}

	info := &OrderInfo{
		Order:       rec,
		CanFill:     rec.CurrentFillLevel < FillLevels && !isTerminalStatus(rec.Status),
		CanComplete: rec.Status == StatusFilled && rec.CurrentFillLevel == FillLevels,
	}
	if rec.TotalAmount > 0 {
		info.ProgressPercent = 100 * float64(rec.FilledAmount) / float64(rec.TotalAmount)
	}
	if info.CanFill {
		info.NextFillAmount = fillIncrement(rec.TotalAmount, rec.CurrentFillLevel)
	}
	return info, nil
}

// List returns all orders, newest first.
func (a *Authenticator) List() ([]*storage.PartialOrderRecord, error) {
	return a.store.ListPartialOrders()
}

// FillHistory returns an order's fill operations in commit order.
func (a *Authenticator) FillHistory(orderID string) ([]*storage.FillOperationRecord, error) {
	return a.store.ListFillOperations(orderID)
}

func (a *Authenticator) get(orderID string) (*storage.PartialOrderRecord, error) {
	rec, err := a.store.GetPartialOrder(orderID)
	if errors.Is(err, storage.ErrPartialOrderNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	return rec, err
}

func isTerminalStatus(status string) bool {
	return status == StatusSettled || status == StatusExpired
}

func decodeCommitment(rec *storage.PartialOrderRecord) ([][]byte, []byte, error) {
	parts := strings.Split(rec.Secrets, ",")
	if len(parts) != FillLevels {
		return nil, nil, fmt.Errorf("corrupt secret set for order %s", rec.ID)
	}
	secrets := make([][]byte, FillLevels)
	for i, p := range parts {
		s, err := helpers.HexToBytes(p)
		if err != nil {
			return nil, nil, fmt.Errorf("corrupt secret %d for order %s: %w", i, rec.ID, err)
		}
		secrets[i] = s
	}
	root, err := helpers.HexToBytes(rec.MerkleRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("corrupt merkle root for order %s: %w", rec.ID, err)
	}
	return secrets, root, nil
}
