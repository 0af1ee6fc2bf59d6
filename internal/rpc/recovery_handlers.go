// Package rpc - Recovery engine methods.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lockbridge-exchange/lockbridge/internal/recovery"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
	"github.com/lockbridge-exchange/lockbridge/internal/swap"
)

// AttemptInfo is the wire representation of a recovery attempt.
type AttemptInfo struct {
	ID                 string `json:"id"`
	SwapID             string `json:"swap_id"`
	Action             string `json:"action"`
	DelaySeconds       int64  `json:"delay_seconds"`
	MaxAttempts        int    `json:"max_attempts"`
	Status             string `json:"status"`
	ScheduledExecution int64  `json:"scheduled_execution"`
	Error              string `json:"error,omitempty"`
}

func attemptToInfo(a *storage.RecoveryAttemptRecord) *AttemptInfo {
	return &AttemptInfo{
		ID:                 a.ID,
		SwapID:             a.SwapID,
		Action:             a.Action,
		DelaySeconds:       int64(a.Delay.Seconds()),
		MaxAttempts:        a.MaxAttempts,
		Status:             a.Status,
		ScheduledExecution: a.ScheduledExecution.Unix(),
		Error:              a.Error,
	}
}

// recoveryReportFailure classifies a failure and immediately initiates the
// recovery decision (refund, escalate or schedule).
func (s *Server) recoveryReportFailure(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID      string `json:"swap_id"`
		FailureType string `json:"failure_type"`
		Details     string `json:"details"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrValidation, err)
	}

	kind, err := recovery.ParseFailureType(req.FailureType)
	if err != nil {
		return nil, err
	}

	strategy, err := s.recovery.DetectFailure(ctx, req.SwapID, kind, req.Details)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"strategy": map[string]interface{}{
			"action":        string(strategy.Action),
			"delay_seconds": int64(strategy.Delay.Seconds()),
			"max_attempts":  strategy.MaxAttempts,
		},
	}

	attempt, err := s.recovery.InitiateRecovery(ctx, req.SwapID)
	if err != nil {
		// Escalation is an outcome, not a transport failure.
		if errors.Is(err, recovery.ErrRecoveryExhausted) {
			result["escalated"] = true
			s.broadcast(EventSwapEscalated, map[string]string{"swap_id": req.SwapID})
			return result, nil
		}
		return nil, err
	}
	result["recovery_attempt"] = attemptToInfo(attempt)

	s.broadcast(EventRecoveryInitiated, attemptToInfo(attempt))
	return result, nil
}

func (s *Server) recoveryExecute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		RecoveryID string `json:"recovery_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrValidation, err)
	}

	attempt, err := s.recovery.ExecuteRecovery(ctx, req.RecoveryID)
	if err != nil {
		return nil, err
	}

	info := attemptToInfo(attempt)
	s.broadcast(EventRecoveryExecuted, info)
	return info, nil
}

func (s *Server) recoveryAttempts(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID string `json:"swap_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrValidation, err)
	}

	attempts, err := s.recovery.Attempts(req.SwapID)
	if err != nil {
		return nil, err
	}
	events, err := s.recovery.FailureHistory(req.SwapID)
	if err != nil {
		return nil, err
	}

	infos := make([]*AttemptInfo, 0, len(attempts))
	for _, a := range attempts {
		infos = append(infos, attemptToInfo(a))
	}

	failures := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		failures = append(failures, map[string]interface{}{
			"failure_type":    ev.FailureType,
			"details":         ev.Details,
			"ethereum_height": ev.EthereumHeight,
			"cosmos_height":   ev.CosmosHeight,
			"detected_at":     ev.DetectedAt.Unix(),
		})
	}

	return map[string]interface{}{
		"attempts":        infos,
		"failure_history": failures,
	}, nil
}

func (s *Server) recoveryMonitor(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID string `json:"swap_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrValidation, err)
	}

	if err := s.recovery.Monitor(req.SwapID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"swap_id": req.SwapID, "monitored": true}, nil
}

func (s *Server) recoveryMonitored(ctx context.Context, params json.RawMessage) (interface{}, error) {
	entries := s.recovery.Monitored()

	swaps := make([]map[string]interface{}, 0, len(entries))
	for _, m := range entries {
		swaps = append(swaps, map[string]interface{}{
			"swap_id": m.SwapID,
			"status":  string(m.Status),
			"since":   m.Since.Unix(),
		})
	}
	return map[string]interface{}{
		"monitored_swaps": swaps,
		"count":           len(swaps),
	}, nil
}

func (s *Server) recoveryStats(ctx context.Context, params json.RawMessage) (interface{}, error) {
	stats := s.recovery.Stats()
	return map[string]interface{}{
		"total_recoveries":      stats.TotalRecoveries,
		"successful_recoveries": stats.SuccessfulRecoveries,
		"failed_recoveries":     stats.FailedRecoveries,
		"escalations":           stats.Escalations,
		"average_recovery_time": stats.AverageRecoveryTime.Seconds(),
	}, nil
}

func (s *Server) recoveryHealth(ctx context.Context, params json.RawMessage) (interface{}, error) {
	h := s.health.Latest()
	return map[string]interface{}{
		"ethereum_rpc":    h.EthereumRPC,
		"cosmos_rpc":      h.CosmosRPC,
		"relayer_network": h.RelayerNetwork,
		"healthy":         h.Healthy(),
		"last_check":      h.LastCheck.Unix(),
	}, nil
}
