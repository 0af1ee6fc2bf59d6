// Package recovery - Observer-gated action executor.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/lockbridge-exchange/lockbridge/internal/chain"
	"github.com/lockbridge-exchange/lockbridge/internal/swap"
	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

// ErrChainUnhealthy is returned when the chain an action depends on is down.
var ErrChainUnhealthy = errors.New("required chain is unhealthy")

// ObserverExecutor acknowledges recovery actions only when the chains they
// depend on report healthy. Gas actions need the source chain, wait-and-retry
// needs the destination, relayer actions need both.
type ObserverExecutor struct {
	observer chain.Observer
	log      *logging.Logger
}

// NewObserverExecutor creates an executor gated on chain health.
func NewObserverExecutor(observer chain.Observer) *ObserverExecutor {
	return &ObserverExecutor{
		observer: observer,
		log:      logging.GetDefault().Component("recovery-exec"),
	}
}

// Execute checks the relevant chain health and acknowledges the action.
func (e *ObserverExecutor) Execute(ctx context.Context, action Action, s *swap.Swap) error {
	var required []chain.Name
	switch action {
	case ActionRetryWithHigherGas, ActionIncreaseGasLimit:
		required = []chain.Name{s.FromChain}
	case ActionWaitAndRetry:
		required = []chain.Name{s.ToChain}
	case ActionSwitchRelayer, ActionFindAlternativeRoute:
		required = []chain.Name{s.FromChain, s.ToChain}
	default:
		required = nil
	}

	for _, name := range required {
		if !e.observer.IsHealthy(ctx, name) {
			return fmt.Errorf("%w: %s (action %s)", ErrChainUnhealthy, name, action)
		}
	}

	e.log.Info("Executing recovery action",
		"action", action,
		"swap_id", s.ID,
		"from_chain", s.FromChain,
		"to_chain", s.ToChain)
	return nil
}
