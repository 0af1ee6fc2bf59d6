// Package chain provides the registry of supported chains and the Observer
// capability used to read their state. The engine only consumes heights and
// health; it never signs or broadcasts transactions.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Common errors
var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrUnsupportedToken = errors.New("unsupported token")
	ErrObserverDown     = errors.New("chain observer unavailable")
)

// Name identifies a supported chain.
type Name string

const (
	Ethereum Name = "ethereum"
	Cosmos   Name = "cosmos"
)

// Token describes a token tradable on a chain.
type Token struct {
	Symbol   string
	Decimals uint8
}

// ToWhole converts base units to whole tokens. Lossy for very large amounts;
// use for scoring and reporting only, never for balance arithmetic.
func (t Token) ToWhole(baseUnits uint64) float64 {
	return float64(baseUnits) / math.Pow10(int(t.Decimals))
}

// FromWhole converts whole tokens to base units, truncating fractions below
// one base unit.
func (t Token) FromWhole(amount float64) uint64 {
	return uint64(amount * math.Pow10(int(t.Decimals)))
}

// Params holds chain-specific parameters.
type Params struct {
	Name Name
	// BlockInterval is the expected seconds between blocks, used only for
	// reporting, never for deadline math.
	BlockInterval uint32
	Tokens        map[string]Token
}

// registry defines all supported chains and their tokens.
var registry = map[Name]Params{
	Ethereum: {
		Name:          Ethereum,
		BlockInterval: 12,
		Tokens: map[string]Token{
			"ETH":  {Symbol: "ETH", Decimals: 18},
			"USDC": {Symbol: "USDC", Decimals: 6},
			"DAI":  {Symbol: "DAI", Decimals: 18},
		},
	},
	Cosmos: {
		Name:          Cosmos,
		BlockInterval: 6,
		Tokens: map[string]Token{
			"ATOM": {Symbol: "ATOM", Decimals: 6},
			"OSMO": {Symbol: "OSMO", Decimals: 6},
			"JUNO": {Symbol: "JUNO", Decimals: 6},
		},
	},
}

// Get returns the parameters for a chain.
func Get(name Name) (Params, bool) {
	p, ok := registry[name]
	return p, ok
}

// GetToken returns a token definition for a chain.
func GetToken(name Name, symbol string) (Token, error) {
	p, ok := registry[name]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnsupportedChain, name)
	}
	tok, ok := p.Tokens[symbol]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedToken, symbol, name)
	}
	return tok, nil
}

// Supported reports whether a chain name is in the registry.
func Supported(name Name) bool {
	_, ok := registry[name]
	return ok
}

// Observer reads state from a chain. Implementations must be safe for
// concurrent use.
type Observer interface {
	// CurrentHeight returns the chain's best block height.
	CurrentHeight(ctx context.Context, name Name) (uint64, error)

	// IsHealthy reports whether the chain is reachable and synced.
	IsHealthy(ctx context.Context, name Name) bool
}
