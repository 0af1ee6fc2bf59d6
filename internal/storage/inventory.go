// Package storage - Resolver inventory balances and reservations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Inventory persistence errors
var (
	ErrInventoryNotFound   = errors.New("inventory entry not found")
	ErrReservationNotFound = errors.New("reservation not found")
)

// InventoryRecord is the persisted balance for one (chain, token) pair.
type InventoryRecord struct {
	Chain     string
	Token     string
	Available uint64
	Reserved  uint64
	UpdatedAt time.Time
}

// SaveInventory inserts or updates an inventory entry.
func (s *Storage) SaveInventory(inv *InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv.UpdatedAt = time.Now()

	_, err := s.db.Exec(`
		INSERT INTO inventory (chain, token, available, reserved, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chain, token) DO UPDATE SET
			available = excluded.available,
			reserved = excluded.reserved,
			updated_at = excluded.updated_at
	`, inv.Chain, inv.Token, inv.Available, inv.Reserved, inv.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save inventory: %w", err)
	}
	return nil
}

// GetInventory retrieves the balance for a (chain, token) pair.
func (s *Storage) GetInventory(chain, token string) (*InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var inv InventoryRecord
	var updatedAt int64
	err := s.db.QueryRow(`
		SELECT chain, token, available, reserved, updated_at
		FROM inventory WHERE chain = ? AND token = ?
	`, chain, token).Scan(&inv.Chain, &inv.Token, &inv.Available, &inv.Reserved, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInventoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	inv.UpdatedAt = time.Unix(updatedAt, 0)
	return &inv, nil
}

// ListInventory returns every inventory entry.
func (s *Storage) ListInventory() ([]*InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT chain, token, available, reserved, updated_at
		FROM inventory ORDER BY chain, token
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	defer rows.Close()

	var entries []*InventoryRecord
	for rows.Next() {
		var inv InventoryRecord
		var updatedAt int64
		if err := rows.Scan(&inv.Chain, &inv.Token, &inv.Available, &inv.Reserved, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		inv.UpdatedAt = time.Unix(updatedAt, 0)
		entries = append(entries, &inv)
	}
	return entries, rows.Err()
}

// ReservationRecord is one inventory hold taken by a resolution.
type ReservationRecord struct {
	ID     string
	Chain  string
	Token  string
	Amount uint64

	// Status is held, committed or released.
	Status string

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// SaveReservation inserts or updates a reservation.
func (s *Storage) SaveReservation(r *ReservationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO reservations (id, chain, token, amount, status, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolved_at = excluded.resolved_at
	`, r.ID, r.Chain, r.Token, r.Amount, r.Status, r.CreatedAt.Unix(),
		timeToUnixOrNil(r.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

// GetReservation retrieves a reservation by ID.
func (s *Storage) GetReservation(id string) (*ReservationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r ReservationRecord
	var createdAt int64
	var resolvedAt sql.NullInt64
	err := s.db.QueryRow(`
		SELECT id, chain, token, amount, status, created_at, resolved_at
		FROM reservations WHERE id = ?
	`, id).Scan(&r.ID, &r.Chain, &r.Token, &r.Amount, &r.Status, &createdAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	r.CreatedAt = time.Unix(createdAt, 0)
	r.ResolvedAt = unixToTimeOrNil(resolvedAt)
	return &r, nil
}
