// Package rpc - Partial fill order methods.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lockbridge-exchange/lockbridge/internal/partialfill"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
)

// PartialOrderInfo is the wire representation of a Merkle-committed order.
// The leaf secrets never leave the server; only the root commitment does.
type PartialOrderInfo struct {
	ID               string  `json:"id"`
	Maker            string  `json:"maker"`
	TotalAmount      uint64  `json:"total_amount"`
	FilledAmount     uint64  `json:"filled_amount"`
	MerkleRoot       string  `json:"merkle_root"`
	CurrentFillLevel int     `json:"current_fill_level"`
	Status           string  `json:"status"`
	MakerDenom       string  `json:"maker_denom"`
	TakerDenom       string  `json:"taker_denom"`
	Expiration       int64   `json:"expiration"`
	CreatedAt        int64   `json:"created_at"`
	ProgressPercent  float64 `json:"progress_percent"`
	NextFillAmount   uint64  `json:"next_fill_amount,omitempty"`
	CanFill          bool    `json:"can_fill"`
	CanComplete      bool    `json:"can_complete"`
}

// FillOperationInfo is the wire representation of one fill history entry.
type FillOperationInfo struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	Type        string `json:"type"`
	Resolver    string `json:"resolver"`
	Amount      uint64 `json:"amount"`
	SecretIndex int    `json:"secret_index"`
	BlockHeight uint64 `json:"block_height"`
	CreatedAt   int64  `json:"created_at"`
}

func partialOrderToInfo(rec *storage.PartialOrderRecord) *PartialOrderInfo {
	return &PartialOrderInfo{
		ID:               rec.ID,
		Maker:            rec.Maker,
		TotalAmount:      rec.TotalAmount,
		FilledAmount:     rec.FilledAmount,
		MerkleRoot:       rec.MerkleRoot,
		CurrentFillLevel: rec.CurrentFillLevel,
		Status:           rec.Status,
		MakerDenom:       rec.MakerDenom,
		TakerDenom:       rec.TakerDenom,
		Expiration:       rec.Expiration,
		CreatedAt:        rec.CreatedAt.Unix(),
	}
}

func fillOpToInfo(op *storage.FillOperationRecord) *FillOperationInfo {
	return &FillOperationInfo{
		ID:          op.ID,
		OrderID:     op.OrderID,
		Type:        op.Type,
		Resolver:    op.Resolver,
		Amount:      op.Amount,
		SecretIndex: op.SecretIndex,
		BlockHeight: op.BlockHeight,
		CreatedAt:   op.CreatedAt.Unix(),
	}
}

func (s *Server) partialCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		Maker           string `json:"maker"`
		TotalAmount     uint64 `json:"total_amount"`
		MakerDenom      string `json:"maker_denom"`
		TakerDenom      string `json:"taker_denom"`
		TimelockSeconds int64  `json:"timelock_seconds"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", partialfill.ErrValidation, err)
	}

	rec, err := s.partial.CreateOrder(partialfill.CreateParams{
		Maker:       req.Maker,
		TotalAmount: req.TotalAmount,
		MakerDenom:  req.MakerDenom,
		TakerDenom:  req.TakerDenom,
		Timelock:    time.Duration(req.TimelockSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return partialOrderToInfo(rec), nil
}

func (s *Server) partialFill(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		OrderID     string `json:"order_id"`
		Resolver    string `json:"resolver"`
		SecretIndex int    `json:"secret_index"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", partialfill.ErrValidation, err)
	}

	rec, op, err := s.partial.ExecuteFill(ctx, req.OrderID, req.Resolver, req.SecretIndex)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"order": partialOrderToInfo(rec),
		"fill":  fillOpToInfo(op),
	}
	s.broadcast(EventFillExecuted, result)
	return result, nil
}

func (s *Server) partialComplete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		OrderID  string `json:"order_id"`
		Resolver string `json:"resolver"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", partialfill.ErrValidation, err)
	}

	rec, err := s.partial.CompleteOrder(ctx, req.OrderID, req.Resolver)
	if err != nil {
		return nil, err
	}

	info := partialOrderToInfo(rec)
	s.broadcast(EventOrderSettled, info)
	return info, nil
}

func (s *Server) partialOrder(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", partialfill.ErrValidation, err)
	}

	state, err := s.partial.Get(req.OrderID)
	if err != nil {
		return nil, err
	}

	info := partialOrderToInfo(state.Order)
	info.ProgressPercent = state.ProgressPercent
	info.NextFillAmount = state.NextFillAmount
	info.CanFill = state.CanFill
	info.CanComplete = state.CanComplete

	history, err := s.partial.FillHistory(req.OrderID)
	if err != nil {
		return nil, err
	}
	ops := make([]*FillOperationInfo, 0, len(history))
	for _, op := range history {
		ops = append(ops, fillOpToInfo(op))
	}

	return map[string]interface{}{"order": info, "fills": ops}, nil
}

func (s *Server) partialOrders(ctx context.Context, params json.RawMessage) (interface{}, error) {
	records, err := s.partial.List()
	if err != nil {
		return nil, err
	}

	infos := make([]*PartialOrderInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, partialOrderToInfo(rec))
	}
	return map[string]interface{}{"orders": infos, "count": len(infos)}, nil
}
