// Package storage - Resolution persistence.
// The step checklist is stored as a JSON blob so the resolver owns its
// shape, same as the swap method data in earlier schema revisions.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Resolution persistence errors
var (
	ErrResolutionNotFound = errors.New("resolution not found")
	ErrResolutionExists   = errors.New("resolution already exists")
)

// ResolutionRecord represents a persisted resolution.
type ResolutionRecord struct {
	ID         string
	OrderID    string
	ResolverID string

	// Secret and SecretHash are hex-encoded; the secret is the resolver's
	// own commitment, never the maker's.
	Secret     string
	SecretHash string

	// Status is executing, completed or failed.
	Status string

	ProfitEstimate float64
	GasCost        float64
	ActualProfit   float64

	// Steps is the ordered checklist, JSON-encoded.
	Steps json.RawMessage

	// ReservationID ties the resolution to its inventory hold.
	ReservationID string

	FromChain string
	FromToken string
	Amount    uint64

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// CreateResolution inserts a new resolution.
func (s *Storage) CreateResolution(r *ResolutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO resolutions (
			id, order_id, resolver_id, secret, secret_hash, status,
			profit_estimate, gas_cost, actual_profit, steps, reservation_id,
			from_chain, from_token, amount, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.OrderID, r.ResolverID, r.Secret, r.SecretHash, r.Status,
		r.ProfitEstimate, r.GasCost, r.ActualProfit, string(r.Steps),
		r.ReservationID, r.FromChain, r.FromToken, r.Amount,
		r.CreatedAt.Unix(), timeToUnixOrNil(r.CompletedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrResolutionExists
		}
		return fmt.Errorf("failed to create resolution: %w", err)
	}
	return nil
}

// UpdateResolution rewrites a resolution's mutable fields.
func (s *Storage) UpdateResolution(r *ResolutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE resolutions SET
			status = ?,
			actual_profit = ?,
			steps = ?,
			completed_at = ?
		WHERE id = ?
	`, r.Status, r.ActualProfit, string(r.Steps), timeToUnixOrNil(r.CompletedAt), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update resolution: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check resolution update: %w", err)
	}
	if n == 0 {
		return ErrResolutionNotFound
	}
	return nil
}

// GetResolution retrieves a resolution by ID.
func (s *Storage) GetResolution(id string) (*ResolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, order_id, resolver_id, secret, secret_hash, status,
			   profit_estimate, gas_cost, actual_profit, steps, reservation_id,
			   from_chain, from_token, amount, created_at, completed_at
		FROM resolutions WHERE id = ?
	`, id)

	r, err := scanResolution(row)
	if err == sql.ErrNoRows {
		return nil, ErrResolutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resolution: %w", err)
	}
	return r, nil
}

// GetResolutionByOrder retrieves the resolution for an order, if any.
func (s *Storage) GetResolutionByOrder(orderID string) (*ResolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, order_id, resolver_id, secret, secret_hash, status,
			   profit_estimate, gas_cost, actual_profit, steps, reservation_id,
			   from_chain, from_token, amount, created_at, completed_at
		FROM resolutions WHERE order_id = ? ORDER BY created_at DESC LIMIT 1
	`, orderID)

	r, err := scanResolution(row)
	if err == sql.ErrNoRows {
		return nil, ErrResolutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resolution by order: %w", err)
	}
	return r, nil
}

// ListResolutionsByStatus returns resolutions in a status, newest first.
func (s *Storage) ListResolutionsByStatus(status string) ([]*ResolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, order_id, resolver_id, secret, secret_hash, status,
			   profit_estimate, gas_cost, actual_profit, steps, reservation_id,
			   from_chain, from_token, amount, created_at, completed_at
		FROM resolutions WHERE status = ? ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolutions: %w", err)
	}
	defer rows.Close()

	var resolutions []*ResolutionRecord
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resolution: %w", err)
		}
		resolutions = append(resolutions, r)
	}
	return resolutions, rows.Err()
}

func scanResolution(row scanner) (*ResolutionRecord, error) {
	var r ResolutionRecord
	var steps string
	var actualProfit sql.NullFloat64
	var createdAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&r.ID, &r.OrderID, &r.ResolverID, &r.Secret, &r.SecretHash, &r.Status,
		&r.ProfitEstimate, &r.GasCost, &actualProfit, &steps, &r.ReservationID,
		&r.FromChain, &r.FromToken, &r.Amount, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ActualProfit = actualProfit.Float64
	r.Steps = json.RawMessage(steps)
	r.CreatedAt = time.Unix(createdAt, 0)
	r.CompletedAt = unixToTimeOrNil(completedAt)
	return &r, nil
}
