// Package rpc provides the JSON-RPC 2.0 server for the lockbridge daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lockbridge-exchange/lockbridge/internal/partialfill"
	"github.com/lockbridge-exchange/lockbridge/internal/recovery"
	"github.com/lockbridge-exchange/lockbridge/internal/resolver"
	"github.com/lockbridge-exchange/lockbridge/internal/swap"
	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	machine  *swap.Machine
	recovery *recovery.Engine
	health   *recovery.HealthChecker
	resolver *resolver.Engine
	ledger   *resolver.Ledger
	partial  *partialfill.Authenticator
	log      *logging.Logger
	wsHub    *WSHub

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Application error codes, one per taxonomy member.
const (
	CodeNotFound              = -32001
	CodeInvalidState          = -32002
	CodeTimelockActive        = -32003
	CodeTimelockExpired       = -32004
	CodeInvalidSecret         = -32005
	CodeInsufficientInventory = -32006
	CodeRiskRejected          = -32007
	CodeExpired               = -32008
	CodeRecoveryExhausted     = -32009
)

// Deps bundles the engines the server fronts.
type Deps struct {
	Machine  *swap.Machine
	Recovery *recovery.Engine
	Health   *recovery.HealthChecker
	Resolver *resolver.Engine
	Ledger   *resolver.Ledger
	Partial  *partialfill.Authenticator
}

// NewServer creates a new JSON-RPC server.
func NewServer(deps Deps) *Server {
	s := &Server{
		machine:  deps.Machine,
		recovery: deps.Recovery,
		health:   deps.Health,
		resolver: deps.Resolver,
		ledger:   deps.Ledger,
		partial:  deps.Partial,
		log:      logging.GetDefault().Component("rpc"),
		handlers: make(map[string]Handler),
	}

	s.registerHandlers()
	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Swap methods
	s.handlers["swap_create"] = s.swapCreate
	s.handlers["swap_claim"] = s.swapClaim
	s.handlers["swap_refund"] = s.swapRefund
	s.handlers["swap_status"] = s.swapStatus
	s.handlers["swap_list"] = s.swapList

	// Recovery methods
	s.handlers["recovery_reportFailure"] = s.recoveryReportFailure
	s.handlers["recovery_execute"] = s.recoveryExecute
	s.handlers["recovery_attempts"] = s.recoveryAttempts
	s.handlers["recovery_monitor"] = s.recoveryMonitor
	s.handlers["recovery_monitored"] = s.recoveryMonitored
	s.handlers["recovery_stats"] = s.recoveryStats
	s.handlers["recovery_health"] = s.recoveryHealth

	// Resolver methods
	s.handlers["resolver_evaluate"] = s.resolverEvaluate
	s.handlers["resolver_execute"] = s.resolverExecute
	s.handlers["resolver_complete"] = s.resolverComplete
	s.handlers["resolver_fail"] = s.resolverFail
	s.handlers["resolver_resolutions"] = s.resolverResolutions
	s.handlers["resolver_inventory"] = s.resolverInventory
	s.handlers["resolver_stats"] = s.resolverStats

	// Partial fill methods
	s.handlers["partial_create"] = s.partialCreate
	s.handlers["partial_fill"] = s.partialFill
	s.handlers["partial_complete"] = s.partialComplete
	s.handlers["partial_order"] = s.partialOrder
	s.handlers["partial_orders"] = s.partialOrders
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.wsHub = NewWSHub()
	go s.wsHub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", addr, "ws", "ws://"+addr+"/ws")
	return nil
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.writeError(w, req.ID, errorCode(err), err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// errorCode maps taxonomy errors to their JSON-RPC codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, swap.ErrValidation),
		errors.Is(err, resolver.ErrValidation),
		errors.Is(err, partialfill.ErrValidation),
		errors.Is(err, recovery.ErrUnknownFailureType):
		return InvalidParams
	case errors.Is(err, swap.ErrNotFound),
		errors.Is(err, resolver.ErrNotFound),
		errors.Is(err, partialfill.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, swap.ErrTimelockActive):
		return CodeTimelockActive
	case errors.Is(err, swap.ErrTimelockExpired):
		return CodeTimelockExpired
	case errors.Is(err, swap.ErrInvalidSecret),
		errors.Is(err, partialfill.ErrInvalidSecret):
		return CodeInvalidSecret
	case errors.Is(err, resolver.ErrInsufficientInventory):
		return CodeInsufficientInventory
	case errors.Is(err, resolver.ErrRiskRejected):
		return CodeRiskRejected
	case errors.Is(err, partialfill.ErrExpired):
		return CodeExpired
	case errors.Is(err, recovery.ErrRecoveryExhausted):
		return CodeRecoveryExhausted
	case errors.Is(err, swap.ErrInvalidState),
		errors.Is(err, swap.ErrAlreadyClaimed),
		errors.Is(err, partialfill.ErrInvalidState),
		errors.Is(err, recovery.ErrAttemptNotPending):
		return CodeInvalidState
	default:
		return InternalError
	}
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// broadcast emits a WebSocket event if the hub is running.
func (s *Server) broadcast(eventType EventType, data interface{}) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(eventType, data)
	}
}
