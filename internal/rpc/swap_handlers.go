// Package rpc - Swap lifecycle methods.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lockbridge-exchange/lockbridge/internal/swap"
	"github.com/lockbridge-exchange/lockbridge/pkg/helpers"
)

// SwapInfo is the wire representation of a swap. The secret appears only in
// the create response (it belongs to the creator) and after a successful
// claim has revealed it.
type SwapInfo struct {
	ID               string  `json:"id"`
	Direction        string  `json:"direction"`
	FromChain        string  `json:"from_chain"`
	ToChain          string  `json:"to_chain"`
	FromToken        string  `json:"from_token"`
	ToToken          string  `json:"to_token"`
	Amount           uint64  `json:"amount"`
	Sender           string  `json:"sender"`
	Recipient        string  `json:"recipient"`
	Hashlock         string  `json:"hashlock"`
	Secret           string  `json:"secret,omitempty"`
	TimelockDeadline int64   `json:"timelock_deadline"`
	Status           string  `json:"status"`
	RetryCount       int     `json:"retry_count"`
	CreatedAt        int64   `json:"created_at"`
	ClaimedAt        *int64  `json:"claimed_at,omitempty"`
	RefundedAt       *int64  `json:"refunded_at,omitempty"`
	TimeRemaining    float64 `json:"time_remaining,omitempty"`
}

func swapToInfo(s *swap.Swap, includeSecret bool) *SwapInfo {
	info := &SwapInfo{
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
		TimelockDeadline: s.TimelockDeadline.Unix(),
		Status:           string(s.Status),
		RetryCount:       s.RetryCount,
		CreatedAt:        s.CreatedAt.Unix(),
	}
	if includeSecret && len(s.Secret) > 0 {
		info.Secret = helpers.BytesToHex(s.Secret)
	}
	if s.ClaimedAt != nil {
		t := s.ClaimedAt.Unix()
		info.ClaimedAt = &t
	}
	if s.RefundedAt != nil {
		t := s.RefundedAt.Unix()
		info.RefundedAt = &t
	}
	return info
}

func (s *Server) swapCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Direction       string `json:"direction"`
		FromToken       string `json:"from_token"`
		ToToken         string `json:"to_token"`
		Amount          uint64 `json:"amount"`
		Sender          string `json:"sender"`
		Recipient       string `json:"recipient"`
		TimelockSeconds int64  `json:"timelock_seconds"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrValidation, err)
	}

	created, err := s.machine.Create(swap.CreateParams{
		Direction:        swap.Direction(req.Direction),
		FromToken:        req.FromToken,
		ToToken:          req.ToToken,
		Amount:           req.Amount,
		Sender:           req.Sender,
		Recipient:        req.Recipient,
		TimelockDuration: time.Duration(req.TimelockSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	s.broadcast(EventSwapCreated, swapToInfo(created, false))
	return swapToInfo(created, true), nil
}

func (s *Server) swapClaim(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID string `json:"swap_id"`
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrValidation, err)
	}

	secret, err := helpers.HexToBytes(req.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: secret must be hex", swap.ErrValidation)
	}

	claimed, err := s.machine.Claim(req.SwapID, secret)
	if err != nil {
		return nil, err
	}

	info := swapToInfo(claimed, true)
	s.broadcast(EventSwapClaimed, info)
	return info, nil
}

func (s *Server) swapRefund(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID string `json:"swap_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrValidation, err)
	}

	refunded, err := s.machine.Refund(req.SwapID)
	if err != nil {
		return nil, err
	}

	info := swapToInfo(refunded, false)
	s.broadcast(EventSwapRefunded, info)
	return info, nil
}

func (s *Server) swapStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		SwapID string `json:"swap_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrValidation, err)
	}

	status, err := s.machine.Status(req.SwapID)
	if err != nil {
		return nil, err
	}

	info := swapToInfo(status.Swap, false)
	info.TimeRemaining = status.TimeRemaining.Seconds()
	return map[string]interface{}{
		"swap":             info,
		"time_remaining":   status.TimeRemaining.Seconds(),
		"timelock_expired": status.TimelockExpired,
	}, nil
}

func (s *Server) swapList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	swaps, err := s.machine.List()
	if err != nil {
		return nil, err
	}

	infos := make([]*SwapInfo, 0, len(swaps))
	for _, sw := range swaps {
		infos = append(infos, swapToInfo(sw, false))
	}
	return map[string]interface{}{"swaps": infos, "count": len(infos)}, nil
}
