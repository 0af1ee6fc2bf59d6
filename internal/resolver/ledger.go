// Package resolver decides whether swaps are worth executing and tracks the
// inventory backing those decisions.
package resolver

import (
	"errors"
	"fmt"
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

// Ledger errors
var (
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrReservationResolved   = errors.New("reservation already resolved")
)

// Reservation statuses
const (
	reservationHeld      = "held"
	reservationCommitted = "committed"
	reservationReleased  = "released"
)

// Ledger tracks per-(chain, token) balances. Reserve moves funds from
// available to reserved; commit debits them permanently; release puts them
// back. All three are serialized per key so concurrent reservations can never
// overcommit a balance.
type Ledger struct {
	store *storage.Storage
	clock clock.Clock
	locks *swap.KeyMutex
	log   *logging.Logger
}

// NewLedger creates an inventory ledger.
func NewLedger(store *storage.Storage, clk clock.Clock) *Ledger {
	return &Ledger{
		store: store,
		clock: clk,
		locks: swap.NewKeyMutex(),
		log:   logging.GetDefault().Component("inventory"),
	}
}

func ledgerKey(chainName, token string) string {
	return chainName + "/" + token
}

// Deposit credits available inventory, creating the entry if needed.
func (l *Ledger) Deposit(chainName, token string, amount uint64) error {
	key := ledgerKey(chainName, token)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	inv, err := l.store.GetInventory(chainName, token)
	if errors.Is(err, storage.ErrInventoryNotFound) {
		inv = &storage.InventoryRecord{Chain: chainName, Token: token}
	} else if err != nil {
		return err
	}

	inv.Available += amount
	return l.store.SaveInventory(inv)
}

// Available returns the spendable balance for a (chain, token) pair, zero if
// the pair was never seeded.
func (l *Ledger) Available(chainName, token string) (uint64, error) {
	inv, err := l.store.GetInventory(chainName, token)
	if errors.Is(err, storage.ErrInventoryNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return inv.Available, nil
}

// Reserve takes an all-or-nothing hold on available inventory and returns the
// reservation ID. Nothing is deducted partially: either the full amount moves
// to reserved or the balance is untouched.
func (l *Ledger) Reserve(chainName, token string, amount uint64) (string, error) {
	key := ledgerKey(chainName, token)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	inv, err := l.store.GetInventory(chainName, token)
	if errors.Is(err, storage.ErrInventoryNotFound) {
		return "", fmt.Errorf("%w: no %s inventory on %s", ErrInsufficientInventory, token, chainName)
	}
	if err != nil {
		return "", err
	}
	if inv.Available < amount {
		return "", fmt.Errorf("%w: need %d %s on %s, have %d",
			ErrInsufficientInventory, amount, token, chainName, inv.Available)
	}

	inv.Available -= amount
	inv.Reserved += amount
	if err := l.store.SaveInventory(inv); err != nil {
		return "", err
	}

	res := &storage.ReservationRecord{
		ID:        uuid.NewString(),
		Chain:     chainName,
		Token:     token,
		Amount:    amount,
		Status:    reservationHeld,
		CreatedAt: l.clock.Now(),
	}
	if err := l.store.SaveReservation(res); err != nil {
		return "", err
	}

	l.log.Debug("Inventory reserved",
		"reservation_id", res.ID,
		"chain", chainName,
		"token", token,
		"amount", amount)
	return res.ID, nil
}

// Release returns a held reservation to available. A reservation resolves
// exactly once; releasing a committed or released one is rejected.
func (l *Ledger) Release(reservationID string) error {
	return l.resolve(reservationID, reservationReleased)
}

// Commit turns a held reservation into a permanent debit.
func (l *Ledger) Commit(reservationID string) error {
	return l.resolve(reservationID, reservationCommitted)
}

func (l *Ledger) resolve(reservationID, outcome string) error {
	res, err := l.store.GetReservation(reservationID)
	if err != nil {
		return err
	}

	key := ledgerKey(res.Chain, res.Token)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	// Re-read under the lock; a concurrent resolve may have won.
	res, err = l.store.GetReservation(reservationID)
	if err != nil {
		return err
	}
	if res.Status != reservationHeld {
		return fmt.Errorf("%w: reservation %s is %s", ErrReservationResolved, reservationID, res.Status)
	}

	inv, err := l.store.GetInventory(res.Chain, res.Token)
	if err != nil {
		return err
	}

	inv.Reserved -= res.Amount
	if outcome == reservationReleased {
		inv.Available += res.Amount
	}
	if err := l.store.SaveInventory(inv); err != nil {
		return err
	}

	now := l.clock.Now()
	res.Status = outcome
	res.ResolvedAt = &now
	if err := l.store.SaveReservation(res); err != nil {
		return err
	}

	l.log.Debug("Reservation resolved",
		"reservation_id", reservationID,
		"outcome", outcome,
		"amount", res.Amount)
	return nil
}

// InventoryEntry is one (chain, token) line of the snapshot.
type InventoryEntry struct {
	Chain     string    `json:"chain"`
	Token     string    `json:"token"`
	Available uint64    `json:"available"`
	Reserved  uint64    `json:"reserved"`
	Display   string    `json:"display,omitempty"`
	ValueUSD  float64   `json:"value_usd"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns every inventory entry with a USD valuation from the static
// price table. Reporting only; valuations never gate decisions.
func (l *Ledger) Snapshot() ([]InventoryEntry, float64, error) {
	records, err := l.store.ListInventory()
	if err != nil {
		return nil, 0, err
	}

	var entries []InventoryEntry
	var totalUSD float64
	for _, rec := range records {
		entry := InventoryEntry{
			Chain:     rec.Chain,
			Token:     rec.Token,
			Available: rec.Available,
			Reserved:  rec.Reserved,
			UpdatedAt: rec.UpdatedAt,
		}
		if tok, err := chain.GetToken(chain.Name(rec.Chain), rec.Token); err == nil {
			whole := tok.ToWhole(rec.Available + rec.Reserved)
			entry.ValueUSD = whole * config.PriceUSD(rec.Token)
			entry.Display = helpers.FormatAmount(rec.Available, tok.Decimals) + " " + rec.Token
		}
		totalUSD += entry.ValueUSD
		entries = append(entries, entry)
	}
	return entries, totalUSD, nil
}
