// Package storage - Recovery persistence: failure events, scheduled
// attempts, recovery actions and escalations.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Recovery persistence errors
var (
	ErrRecoveryNotFound   = errors.New("recovery attempt not found")
	ErrEscalationExists   = errors.New("swap already escalated")
	ErrEscalationNotFound = errors.New("escalation not found")
)

// FailureEventRecord is one observed failure on a swap.
type FailureEventRecord struct {
	ID             int64
	SwapID         string
	FailureType    string
	Details        string
	EthereumHeight uint64
	CosmosHeight   uint64
	DetectedAt     time.Time
}

// AppendFailureEvent appends a failure event to a swap's history.
func (s *Storage) AppendFailureEvent(ev *FailureEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO failure_events (
			swap_id, failure_type, details,
			ethereum_height, cosmos_height, detected_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		ev.SwapID, ev.FailureType, ev.Details,
		ev.EthereumHeight, ev.CosmosHeight, ev.DetectedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append failure event: %w", err)
	}

	ev.ID, _ = res.LastInsertId()
	return nil
}

// ListFailureEvents returns a swap's failure history in detection order.
func (s *Storage) ListFailureEvents(swapID string) ([]*FailureEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, swap_id, failure_type, details,
			   ethereum_height, cosmos_height, detected_at
		FROM failure_events WHERE swap_id = ? ORDER BY id ASC
	`, swapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failure events: %w", err)
	}
	defer rows.Close()

	var events []*FailureEventRecord
	for rows.Next() {
		var ev FailureEventRecord
		var detectedAt int64
		if err := rows.Scan(
			&ev.ID, &ev.SwapID, &ev.FailureType, &ev.Details,
			&ev.EthereumHeight, &ev.CosmosHeight, &detectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan failure event: %w", err)
		}
		ev.DetectedAt = time.Unix(detectedAt, 0)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// RecoveryActionRecord is one recovery action taken on a swap.
type RecoveryActionRecord struct {
	ID          int64
	SwapID      string
	Action      string
	RecoveryID  string
	ScheduledAt time.Time
}

// AppendRecoveryAction appends an action to a swap's recovery history.
func (s *Storage) AppendRecoveryAction(a *RecoveryActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ScheduledAt.IsZero() {
		a.ScheduledAt = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO recovery_actions (swap_id, action, recovery_id, scheduled_at)
		VALUES (?, ?, ?, ?)
	`, a.SwapID, a.Action, a.RecoveryID, a.ScheduledAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append recovery action: %w", err)
	}

	a.ID, _ = res.LastInsertId()
	return nil
}

// ListRecoveryActions returns a swap's recovery actions in schedule order.
func (s *Storage) ListRecoveryActions(swapID string) ([]*RecoveryActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, swap_id, action, recovery_id, scheduled_at
		FROM recovery_actions WHERE swap_id = ? ORDER BY id ASC
	`, swapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery actions: %w", err)
	}
	defer rows.Close()

	var actions []*RecoveryActionRecord
	for rows.Next() {
		var a RecoveryActionRecord
		var scheduledAt int64
		if err := rows.Scan(&a.ID, &a.SwapID, &a.Action, &a.RecoveryID, &scheduledAt); err != nil {
			return nil, fmt.Errorf("failed to scan recovery action: %w", err)
		}
		a.ScheduledAt = time.Unix(scheduledAt, 0)
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

// RecoveryAttemptRecord is a timer-fired recovery work item.
type RecoveryAttemptRecord struct {
	ID          string
	SwapID      string
	Action      string
	Delay       time.Duration
	MaxAttempts int

	// Status is pending, executing, completed or failed.
	Status string

	CreatedAt          time.Time
	ScheduledExecution time.Time
	ExecutionStart     *time.Time
	ExecutionEnd       *time.Time
	Error              string
}

// SaveRecoveryAttempt inserts or updates a recovery attempt.
func (s *Storage) SaveRecoveryAttempt(a *RecoveryAttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO recovery_attempts (
			id, swap_id, action, delay_seconds, max_attempts, status,
			created_at, scheduled_execution, execution_start, execution_end, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			execution_start = excluded.execution_start,
			execution_end = excluded.execution_end,
			error = excluded.error
	`,
		a.ID, a.SwapID, a.Action, int64(a.Delay.Seconds()), a.MaxAttempts,
		a.Status, a.CreatedAt.Unix(), a.ScheduledExecution.Unix(),
		timeToUnixOrNil(a.ExecutionStart), timeToUnixOrNil(a.ExecutionEnd),
		nullIfEmpty(a.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save recovery attempt: %w", err)
	}
	return nil
}

// GetRecoveryAttempt retrieves a recovery attempt by ID.
func (s *Storage) GetRecoveryAttempt(id string) (*RecoveryAttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, swap_id, action, delay_seconds, max_attempts, status,
			   created_at, scheduled_execution, execution_start, execution_end, error
		FROM recovery_attempts WHERE id = ?
	`, id)

	a, err := scanRecoveryAttempt(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecoveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recovery attempt: %w", err)
	}
	return a, nil
}

// ListDueRecoveryAttempts returns pending attempts whose scheduled execution
// time has passed, oldest first.
func (s *Storage) ListDueRecoveryAttempts(now time.Time, limit int) ([]*RecoveryAttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, swap_id, action, delay_seconds, max_attempts, status,
			   created_at, scheduled_execution, execution_start, execution_end, error
		FROM recovery_attempts
		WHERE status = 'pending' AND scheduled_execution <= ?
		ORDER BY scheduled_execution ASC
		LIMIT ?
	`, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*RecoveryAttemptRecord
	for rows.Next() {
		a, err := scanRecoveryAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recovery attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListRecoveryAttempts returns all attempts for a swap, oldest first.
func (s *Storage) ListRecoveryAttempts(swapID string) ([]*RecoveryAttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, swap_id, action, delay_seconds, max_attempts, status,
			   created_at, scheduled_execution, execution_start, execution_end, error
		FROM recovery_attempts WHERE swap_id = ? ORDER BY created_at ASC
	`, swapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*RecoveryAttemptRecord
	for rows.Next() {
		a, err := scanRecoveryAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recovery attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func scanRecoveryAttempt(row scanner) (*RecoveryAttemptRecord, error) {
	var a RecoveryAttemptRecord
	var delaySeconds, createdAt, scheduled int64
	var start, end sql.NullInt64
	var errText sql.NullString

	err := row.Scan(
		&a.ID, &a.SwapID, &a.Action, &delaySeconds, &a.MaxAttempts,
		&a.Status, &createdAt, &scheduled, &start, &end, &errText,
	)
	if err != nil {
		return nil, err
	}

	a.Delay = time.Duration(delaySeconds) * time.Second
	a.CreatedAt = time.Unix(createdAt, 0)
	a.ScheduledExecution = time.Unix(scheduled, 0)
	a.ExecutionStart = unixToTimeOrNil(start)
	a.ExecutionEnd = unixToTimeOrNil(end)
	a.Error = errText.String
	return &a, nil
}

// EscalationRecord is a swap handed off to manual intervention.
type EscalationRecord struct {
	ID         string
	SwapID     string
	Reason     string
	Priority   string
	AssignedTo string
	CreatedAt  time.Time
}

// SaveEscalation records an escalation. Each swap escalates at most once.
func (s *Storage) SaveEscalation(e *EscalationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO escalations (id, swap_id, reason, priority, assigned_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.SwapID, e.Reason, e.Priority, e.AssignedTo, e.CreatedAt.Unix())
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEscalationExists
		}
		return fmt.Errorf("failed to save escalation: %w", err)
	}
	return nil
}

// GetEscalationBySwap retrieves the escalation for a swap, if any.
func (s *Storage) GetEscalationBySwap(swapID string) (*EscalationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e EscalationRecord
	var createdAt int64
	err := s.db.QueryRow(`
		SELECT id, swap_id, reason, priority, assigned_to, created_at
		FROM escalations WHERE swap_id = ?
	`, swapID).Scan(&e.ID, &e.SwapID, &e.Reason, &e.Priority, &e.AssignedTo, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrEscalationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation: %w", err)
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	return &e, nil
}
