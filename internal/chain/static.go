// Package chain - Static observer for tests and endpoint-less deployments.
package chain

import (
	"context"
	"sync"
)

// StaticObserver serves fixed heights and health flags. It is the default
// when no endpoint is configured for a chain, and the workhorse of tests.
type StaticObserver struct {
	mu      sync.RWMutex
	heights map[Name]uint64
	healthy map[Name]bool
}

// NewStaticObserver creates an observer that reports every registered chain
// as healthy at height zero.
func NewStaticObserver() *StaticObserver {
	o := &StaticObserver{
		heights: make(map[Name]uint64),
		healthy: make(map[Name]bool),
	}
	for name := range registry {
		o.healthy[name] = true
	}
	return o
}

// SetHeight sets the reported height for a chain.
func (o *StaticObserver) SetHeight(name Name, height uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.heights[name] = height
}

// SetHealthy sets the reported health for a chain.
func (o *StaticObserver) SetHealthy(name Name, healthy bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.healthy[name] = healthy
}

// CurrentHeight returns the configured height.
func (o *StaticObserver) CurrentHeight(ctx context.Context, name Name) (uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !Supported(name) {
		return 0, ErrUnsupportedChain
	}
	return o.heights[name], nil
}

// IsHealthy returns the configured health flag.
func (o *StaticObserver) IsHealthy(ctx context.Context, name Name) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.healthy[name]
}

// MultiObserver routes observation calls to a per-chain observer.
type MultiObserver struct {
	observers map[Name]Observer
	fallback  Observer
}

// NewMultiObserver creates a router over per-chain observers. Chains without
// an entry fall back to the given observer.
func NewMultiObserver(observers map[Name]Observer, fallback Observer) *MultiObserver {
	return &MultiObserver{observers: observers, fallback: fallback}
}

func (m *MultiObserver) pick(name Name) Observer {
	if o, ok := m.observers[name]; ok {
		return o
	}
	return m.fallback
}

// CurrentHeight routes to the observer for the chain.
func (m *MultiObserver) CurrentHeight(ctx context.Context, name Name) (uint64, error) {
	return m.pick(name).CurrentHeight(ctx, name)
}

// IsHealthy routes to the observer for the chain.
func (m *MultiObserver) IsHealthy(ctx context.Context, name Name) bool {
	return m.pick(name).IsHealthy(ctx, name)
}
