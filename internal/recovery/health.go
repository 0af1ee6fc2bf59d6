// Package recovery - Periodic chain and relayer health probing.
package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/lockbridge-exchange/lockbridge/internal/chain"
	"github.com/lockbridge-exchange/lockbridge/internal/config"
	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

// Health is a snapshot of the infrastructure the engine depends on.
type Health struct {
	EthereumRPC    bool
	CosmosRPC      bool
	RelayerNetwork bool
	LastCheck      time.Time
}

// Healthy reports whether every probed component is up.
func (h Health) Healthy() bool {
	return h.EthereumRPC && h.CosmosRPC && h.RelayerNetwork
}

// HealthChecker periodically probes chain observers and keeps the latest
// snapshot. The relayer network has no observer yet and reports the logical
// AND of both chains: if either side is down the relayer cannot make progress.
type HealthChecker struct {
	observer chain.Observer
	cfg      config.RecoveryConfig
	log      *logging.Logger

	mu     sync.RWMutex
	latest Health

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHealthChecker creates a health checker over the given observer.
func NewHealthChecker(observer chain.Observer, cfg config.RecoveryConfig) *HealthChecker {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthChecker{
		observer: observer,
		cfg:      cfg,
		log:      logging.GetDefault().Component("health"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the background probe loop after an initial synchronous check.
func (h *HealthChecker) Start() {
	h.Check(h.ctx)
	go h.run()
	h.log.Info("Health checker started", "interval", h.cfg.HealthInterval)
}

// Stop stops the health checker.
func (h *HealthChecker) Stop() {
	h.cancel()
	h.log.Info("Health checker stopped")
}

func (h *HealthChecker) run() {
	ticker := time.NewTicker(h.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.Check(h.ctx)
		}
	}
}

// Check probes both chains once and updates the snapshot.
func (h *HealthChecker) Check(ctx context.Context) Health {
	snapshot := Health{
		EthereumRPC: h.observer.IsHealthy(ctx, chain.Ethereum),
		CosmosRPC:   h.observer.IsHealthy(ctx, chain.Cosmos),
		LastCheck:   time.Now(),
	}
	snapshot.RelayerNetwork = snapshot.EthereumRPC && snapshot.CosmosRPC

	h.mu.Lock()
	prev := h.latest
	h.latest = snapshot
	h.mu.Unlock()

	if prev.LastCheck.IsZero() || prev.Healthy() != snapshot.Healthy() {
		if snapshot.Healthy() {
			h.log.Info("All systems healthy")
		} else {
			h.log.Warn("Degraded infrastructure",
				"ethereum_rpc", snapshot.EthereumRPC,
				"cosmos_rpc", snapshot.CosmosRPC,
				"relayer_network", snapshot.RelayerNetwork)
		}
	}
	return snapshot
}

// Latest returns the most recent snapshot.
func (h *HealthChecker) Latest() Health {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}
