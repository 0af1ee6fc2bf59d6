// Package rpc - Resolver decision methods.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lockbridge-exchange/lockbridge/internal/chain"
	"github.com/lockbridge-exchange/lockbridge/internal/resolver"
	"github.com/lockbridge-exchange/lockbridge/internal/storage"
)

// ResolutionInfo is the wire representation of a resolution. The resolver's
// secret preimage stays server-side; only the hash commitment is exposed.
type ResolutionInfo struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	ResolverID     string          `json:"resolver_id"`
	SecretHash     string          `json:"secret_hash"`
	Status         string          `json:"status"`
	ProfitEstimate float64         `json:"profit_estimate"`
	GasCost        float64         `json:"gas_cost"`
	ActualProfit   float64         `json:"actual_profit"`
	Steps          json.RawMessage `json:"steps"`
	FromChain      string          `json:"from_chain"`
	FromToken      string          `json:"from_token"`
	Amount         uint64          `json:"amount"`
	CreatedAt      int64           `json:"created_at"`
	CompletedAt    *int64          `json:"completed_at,omitempty"`
}

func resolutionToInfo(r *storage.ResolutionRecord) *ResolutionInfo {
	info := &ResolutionInfo{
		ID:             r.ID,
		OrderID:        r.OrderID,
		ResolverID:     r.ResolverID,
		SecretHash:     r.SecretHash,
		Status:         r.Status,
		ProfitEstimate: r.ProfitEstimate,
		GasCost:        r.GasCost,
		ActualProfit:   r.ActualProfit,
		Steps:          r.Steps,
		FromChain:      r.FromChain,
		FromToken:      r.FromToken,
		Amount:         r.Amount,
		CreatedAt:      r.CreatedAt.Unix(),
	}
	if r.CompletedAt != nil {
		t := r.CompletedAt.Unix()
		info.CompletedAt = &t
	}
	return info
}

type orderRequest struct {
	OrderID    string `json:"order_id"`
	FromChain  string `json:"from_chain"`
	FromToken  string `json:"from_token"`
	ToChain    string `json:"to_chain"`
	ToToken    string `json:"to_token"`
	Amount     uint64 `json:"amount"`
	Expiration int64  `json:"expiration"`
}

func (r *orderRequest) toOrder() *resolver.Order {
	return &resolver.Order{
		OrderID:    r.OrderID,
		FromChain:  chain.Name(r.FromChain),
		FromToken:  r.FromToken,
		ToChain:    chain.Name(r.ToChain),
		ToToken:    r.ToToken,
		Amount:     r.Amount,
		Expiration: time.Unix(r.Expiration, 0),
	}
}

func (s *Server) resolverEvaluate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req orderRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", resolver.ErrValidation, err)
	}

	eval, err := s.resolver.Evaluate(req.toOrder())
	if err != nil {
		return nil, err
	}
	return eval, nil
}

func (s *Server) resolverExecute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req orderRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", resolver.ErrValidation, err)
	}

	res, err := s.resolver.Execute(req.toOrder())
	if err != nil {
		return nil, err
	}

	info := resolutionToInfo(res)
	s.broadcast(EventResolutionStarted, info)
	return info, nil
}

func (s *Server) resolverComplete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		ResolutionID string `json:"resolution_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", resolver.ErrValidation, err)
	}

	res, err := s.resolver.Complete(req.ResolutionID)
	if err != nil {
		return nil, err
	}

	info := resolutionToInfo(res)
	s.broadcast(EventResolutionCompleted, info)
	return info, nil
}

func (s *Server) resolverFail(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req struct {
		ResolutionID string `json:"resolution_id"`
		Reason       string `json:"reason"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", resolver.ErrValidation, err)
	}

	res, err := s.resolver.Fail(req.ResolutionID, req.Reason)
	if err != nil {
		return nil, err
	}

	info := resolutionToInfo(res)
	s.broadcast(EventResolutionFailed, info)
	return info, nil
}

func (s *Server) resolverResolutions(ctx context.Context, params json.RawMessage) (interface{}, error) {
	active, err := s.resolver.ListActive()
	if err != nil {
		return nil, err
	}

	infos := make([]*ResolutionInfo, 0, len(active))
	for _, res := range active {
		infos = append(infos, resolutionToInfo(res))
	}
	return map[string]interface{}{"resolutions": infos, "count": len(infos)}, nil
}

func (s *Server) resolverInventory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	entries, totalUSD, err := s.ledger.Snapshot()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"inventory":       entries,
		"total_value_usd": totalUSD,
	}, nil
}

func (s *Server) resolverStats(ctx context.Context, params json.RawMessage) (interface{}, error) {
	stats := s.resolver.Stats()
	return map[string]interface{}{
		"total_resolved":         stats.TotalResolved,
		"successful_resolutions": stats.SuccessfulResolutions,
		"failed_resolutions":     stats.FailedResolutions,
		"active_swaps":           stats.ActiveSwaps,
		"total_profit":           stats.TotalProfit,
	}, nil
}
