// Package storage - Partial fill order persistence.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Partial order persistence errors
var (
	ErrPartialOrderNotFound = errors.New("partial order not found")
	ErrPartialOrderExists   = errors.New("partial order already exists")
)

// PartialOrderRecord represents a persisted Merkle-committed order.
type PartialOrderRecord struct {
	ID    string
	Maker string

	// Amounts in the maker denom's base units.
	TotalAmount  uint64
	FilledAmount uint64

	// MerkleRoot is hex-encoded; immutable once set.
	MerkleRoot string

	// Secrets holds the four hex-encoded leaf secrets, comma-joined.
	// Maker-only data; never exposed through the transport layer.
	Secrets string

	CurrentFillLevel int

	// Status is open, partially_filled, filled, settled or expired.
	Status string

	MakerDenom string
	TakerDenom string

	// Expiration is unix seconds.
	Expiration int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreatePartialOrder inserts a new order.
func (s *Storage) CreatePartialOrder(o *PartialOrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO partial_orders (
			id, maker, total_amount, filled_amount, merkle_root, secrets,
			current_fill_level, status, maker_denom, taker_denom,
			expiration, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.Maker, o.TotalAmount, o.FilledAmount, o.MerkleRoot, o.Secrets,
		o.CurrentFillLevel, o.Status, o.MakerDenom, o.TakerDenom,
		o.Expiration, o.CreatedAt.Unix(), o.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrPartialOrderExists
		}
		return fmt.Errorf("failed to create partial order: %w", err)
	}
	return nil
}

// UpdatePartialOrder rewrites an order's mutable fields, guarded by the
// status the caller read.
func (s *Storage) UpdatePartialOrder(o *PartialOrderRecord, expectedStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.UpdatedAt = time.Now()

	res, err := s.db.Exec(`
		UPDATE partial_orders SET
			filled_amount = ?,
			current_fill_level = ?,
			status = ?,
			updated_at = ?
		WHERE id = ? AND status = ?
	`, o.FilledAmount, o.CurrentFillLevel, o.Status, o.UpdatedAt.Unix(),
		o.ID, expectedStatus)
	if err != nil {
		return fmt.Errorf("failed to update partial order: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check partial order update: %w", err)
	}
	if n == 0 {
		if _, getErr := s.getPartialOrderLocked(o.ID); getErr != nil {
			return getErr
		}
		return ErrStaleSwap
	}
	return nil
}

// GetPartialOrder retrieves an order by ID.
func (s *Storage) GetPartialOrder(id string) (*PartialOrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPartialOrderLocked(id)
}

func (s *Storage) getPartialOrderLocked(id string) (*PartialOrderRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, maker, total_amount, filled_amount, merkle_root, secrets,
			   current_fill_level, status, maker_denom, taker_denom,
			   expiration, created_at, updated_at
		FROM partial_orders WHERE id = ?
	`, id)

	o, err := scanPartialOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrPartialOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get partial order: %w", err)
	}
	return o, nil
}

// ListPartialOrders returns all orders, newest first.
func (s *Storage) ListPartialOrders() ([]*PartialOrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, maker, total_amount, filled_amount, merkle_root, secrets,
			   current_fill_level, status, maker_denom, taker_denom,
			   expiration, created_at, updated_at
		FROM partial_orders ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list partial orders: %w", err)
	}
	defer rows.Close()

	var orders []*PartialOrderRecord
	for rows.Next() {
		o, err := scanPartialOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan partial order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanPartialOrder(row scanner) (*PartialOrderRecord, error) {
	var o PartialOrderRecord
	var createdAt, updatedAt int64

	err := row.Scan(
		&o.ID, &o.Maker, &o.TotalAmount, &o.FilledAmount, &o.MerkleRoot,
		&o.Secrets, &o.CurrentFillLevel, &o.Status, &o.MakerDenom,
		&o.TakerDenom, &o.Expiration, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.CreatedAt = time.Unix(createdAt, 0)
	o.UpdatedAt = time.Unix(updatedAt, 0)
	return &o, nil
}

// FillOperationRecord is one committed fill (or the completion marker) on a
// partial order.
type FillOperationRecord struct {
	ID      string
	OrderID string

	// Type is partial or completion.
	Type string

	Resolver    string
	Amount      uint64
	SecretIndex int
	BlockHeight uint64
	CreatedAt   time.Time
}

// AppendFillOperation appends a fill operation to an order's history.
func (s *Storage) AppendFillOperation(op *FillOperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO fill_operations (
			id, order_id, op_type, resolver, amount,
			secret_index, block_height, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.OrderID, op.Type, op.Resolver, op.Amount,
		op.SecretIndex, op.BlockHeight, op.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append fill operation: %w", err)
	}
	return nil
}

// ListFillOperations returns an order's fill history in commit order.
func (s *Storage) ListFillOperations(orderID string) ([]*FillOperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, order_id, op_type, resolver, amount,
			   secret_index, block_height, created_at
		FROM fill_operations WHERE order_id = ? ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fill operations: %w", err)
	}
	defer rows.Close()

	var ops []*FillOperationRecord
	for rows.Next() {
		var op FillOperationRecord
		var createdAt int64
		if err := rows.Scan(
			&op.ID, &op.OrderID, &op.Type, &op.Resolver, &op.Amount,
			&op.SecretIndex, &op.BlockHeight, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fill operation: %w", err)
		}
		op.CreatedAt = time.Unix(createdAt, 0)
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}
