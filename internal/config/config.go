// Package config provides centralized configuration for the lockbridge engine.
// ALL tunable parameters (timelocks, fees, risk limits, retry budgets) MUST be
// defined here. No hardcoded values should exist elsewhere in the codebase.
package config

import "time"

// =============================================================================
// Swap Parameters
// =============================================================================

// SwapConfig holds hashlock/timelock swap parameters.
type SwapConfig struct {
	// DefaultTimelockDuration is used when the caller does not specify one.
	DefaultTimelockDuration time.Duration

	// MinTimelockDuration rejects swaps whose deadline is too close to be
	// recoverable.
	MinTimelockDuration time.Duration

	// MaxTimelockDuration bounds how long funds may stay locked.
	MaxTimelockDuration time.Duration

	// ClaimLegMargin is how much longer the claiming leg's timelock must be
	// than the initiating leg's when the two legs are built separately.
	// The engine derives both legs from one duration, so this is consumed
	// by the transport glue that constructs per-leg deadlines.
	ClaimLegMargin time.Duration
}

// DefaultSwapConfig returns the default swap parameters.
func DefaultSwapConfig() SwapConfig {
	return SwapConfig{
		DefaultTimelockDuration: 1 * time.Hour,
		MinTimelockDuration:     1 * time.Second,
		MaxTimelockDuration:     48 * time.Hour,
		ClaimLegMargin:          1 * time.Hour,
	}
}

// =============================================================================
// Resolver Parameters
// =============================================================================

// ResolverConfig holds the profit/risk decision parameters.
type ResolverConfig struct {
	// FeeRate is the resolver fee taken on each swap.
	FeeRate float64

	// MarketSpread is the assumed spread captured per swap.
	MarketSpread float64

	// GasCost is the estimated execution cost in whole-token units.
	GasCost float64

	// MinProfitMargin is the minimum acceptable profit as a fraction of
	// the swap amount.
	MinProfitMargin float64

	// MaxRiskExposure rejects orders whose risk score meets or exceeds it.
	MaxRiskExposure float64

	// VolatilityRisk is the base market volatility component of the risk
	// score.
	VolatilityRisk float64

	// ReferenceWindow normalizes time risk: an order expiring a full
	// window away carries zero time risk.
	ReferenceWindow time.Duration

	// EstimatedExecution is the expected end-to-end resolution time.
	EstimatedExecution time.Duration
}

// DefaultResolverConfig returns the default resolver parameters.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		FeeRate:            0.003, // 0.3% resolver fee
		MarketSpread:       0.005, // 0.5% typical spread
		GasCost:            0.01,
		MinProfitMargin:    0.02, // 2% minimum profit
		MaxRiskExposure:    0.7,  // 70% max risk
		VolatilityRisk:     0.1,
		ReferenceWindow:    1 * time.Hour,
		EstimatedExecution: 5 * time.Minute,
	}
}

// =============================================================================
// Recovery Parameters
// =============================================================================

// RecoveryConfig holds retry and escalation parameters.
type RecoveryConfig struct {
	// MaxRetries is the retry budget per swap before escalation.
	MaxRetries int

	// PollInterval is how often the scheduler checks for due attempts.
	PollInterval time.Duration

	// HealthInterval is how often chain/relayer health is probed.
	HealthInterval time.Duration

	// MaxDelay caps any single strategy delay.
	MaxDelay time.Duration
}

// DefaultRecoveryConfig returns the default recovery parameters.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxRetries:     5,
		PollInterval:   5 * time.Second,
		HealthInterval: 30 * time.Second,
		MaxDelay:       5 * time.Minute,
	}
}

// =============================================================================
// Token Prices
// =============================================================================

// TokenPricesUSD is the static valuation table used for inventory reporting.
// These are reporting prices only; they never enter the accept/reject decision.
var TokenPricesUSD = map[string]float64{
	"ETH":  2000,
	"USDC": 1,
	"DAI":  1,
	"ATOM": 10,
	"OSMO": 0.5,
	"JUNO": 2,
}

// PriceUSD returns the reporting price for a token, defaulting to 1.
func PriceUSD(token string) float64 {
	if p, ok := TokenPricesUSD[token]; ok {
		return p
	}
	return 1
}
