// Package storage - Swap persistence.
// CRUD operations for hashlock/timelock swaps, enabling recovery after
// daemon restart.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Swap persistence errors
var (
	ErrSwapNotFound = errors.New("swap not found")
	ErrSwapExists   = errors.New("swap already exists")
	ErrStaleSwap    = errors.New("swap status changed concurrently")
)

// SwapRecord represents a persisted swap in the database.
type SwapRecord struct {
	ID        string
	Direction string

	FromChain string
	ToChain   string
	FromToken string
	ToToken   string

	// Amount in the from-token's base units.
	Amount uint64

	Sender    string
	Recipient string

	// Hashlock is hex-encoded SHA256(secret); immutable once set.
	Hashlock string
	// Secret is hex-encoded, empty until revealed.
	Secret string

	// TimelockDeadline is unix seconds.
	TimelockDeadline int64

	Status     string
	RetryCount int

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ClaimedAt  *time.Time
	RefundedAt *time.Time
}

// CreateSwap inserts a new swap. Fails with ErrSwapExists on duplicate ID.
func (s *Storage) CreateSwap(swap *SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO swaps (
			id, direction, from_chain, to_chain, from_token, to_token,
			amount, sender, recipient, hashlock, secret,
			timelock_deadline, status, retry_count,
			created_at, updated_at, claimed_at, refunded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		swap.ID, swap.Direction, swap.FromChain, swap.ToChain,
		swap.FromToken, swap.ToToken, swap.Amount, swap.Sender,
		swap.Recipient, swap.Hashlock, nullIfEmpty(swap.Secret),
		swap.TimelockDeadline, swap.Status, swap.RetryCount,
		swap.CreatedAt.Unix(), swap.UpdatedAt.Unix(),
		timeToUnixOrNil(swap.ClaimedAt), timeToUnixOrNil(swap.RefundedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSwapExists
		}
		return fmt.Errorf("failed to create swap: %w", err)
	}
	return nil
}

// UpdateSwap rewrites a swap's mutable fields, guarded by the status the
// caller read. Fails with ErrStaleSwap if the stored status no longer
// matches, so racing writers cannot silently overwrite each other.
func (s *Storage) UpdateSwap(swap *SwapRecord, expectedStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap.UpdatedAt = time.Now()

	res, err := s.db.Exec(`
		UPDATE swaps SET
			secret = ?,
			status = ?,
			retry_count = ?,
			updated_at = ?,
			claimed_at = ?,
			refunded_at = ?
		WHERE id = ? AND status = ?
	`,
		nullIfEmpty(swap.Secret), swap.Status, swap.RetryCount,
		swap.UpdatedAt.Unix(),
		timeToUnixOrNil(swap.ClaimedAt), timeToUnixOrNil(swap.RefundedAt),
		swap.ID, expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to update swap: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check swap update: %w", err)
	}
	if n == 0 {
		// Either the swap is gone or its status moved under us.
		if _, getErr := s.getSwapLocked(swap.ID); getErr != nil {
			return getErr
		}
		return ErrStaleSwap
	}
	return nil
}

// GetSwap retrieves a swap by ID.
func (s *Storage) GetSwap(id string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSwapLocked(id)
}

func (s *Storage) getSwapLocked(id string) (*SwapRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, direction, from_chain, to_chain, from_token, to_token,
			   amount, sender, recipient, hashlock, secret,
			   timelock_deadline, status, retry_count,
			   created_at, updated_at, claimed_at, refunded_at
		FROM swaps WHERE id = ?
	`, id)

	swap, err := scanSwap(row)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}
	return swap, nil
}

// ListSwaps returns all swaps, newest first.
func (s *Storage) ListSwaps() ([]*SwapRecord, error) {
	return s.querySwaps(`
		SELECT id, direction, from_chain, to_chain, from_token, to_token,
			   amount, sender, recipient, hashlock, secret,
			   timelock_deadline, status, retry_count,
			   created_at, updated_at, claimed_at, refunded_at
		FROM swaps ORDER BY created_at DESC
	`)
}

// ListSwapsByStatus returns swaps in a given status, oldest first.
func (s *Storage) ListSwapsByStatus(status string) ([]*SwapRecord, error) {
	return s.querySwaps(`
		SELECT id, direction, from_chain, to_chain, from_token, to_token,
			   amount, sender, recipient, hashlock, secret,
			   timelock_deadline, status, retry_count,
			   created_at, updated_at, claimed_at, refunded_at
		FROM swaps WHERE status = ? ORDER BY created_at ASC
	`, status)
}

func (s *Storage) querySwaps(query string, args ...interface{}) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}
	defer rows.Close()

	var swaps []*SwapRecord
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swap: %w", err)
		}
		swaps = append(swaps, swap)
	}
	return swaps, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSwap(row scanner) (*SwapRecord, error) {
	var swap SwapRecord
	var secret sql.NullString
	var createdAt, updatedAt int64
	var claimedAt, refundedAt sql.NullInt64

	err := row.Scan(
		&swap.ID, &swap.Direction, &swap.FromChain, &swap.ToChain,
		&swap.FromToken, &swap.ToToken, &swap.Amount, &swap.Sender,
		&swap.Recipient, &swap.Hashlock, &secret,
		&swap.TimelockDeadline, &swap.Status, &swap.RetryCount,
		&createdAt, &updatedAt, &claimedAt, &refundedAt,
	)
	if err != nil {
		return nil, err
	}

	swap.Secret = secret.String
	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)
	swap.ClaimedAt = unixToTimeOrNil(claimedAt)
	swap.RefundedAt = unixToTimeOrNil(refundedAt)
	return &swap, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
