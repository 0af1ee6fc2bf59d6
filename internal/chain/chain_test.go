package chain

import (
	"context"
	"errors"
	"testing"
)

func TestGetToken(t *testing.T) {
	tests := []struct {
		name         string
		chain        Name
		symbol       string
		wantDecimals uint8
		wantErr      error
	}{
		{
			name:         "ETH on ethereum",
			chain:        Ethereum,
			symbol:       "ETH",
			wantDecimals: 18,
		},
		{
			name:         "USDC has 6 decimals",
			chain:        Ethereum,
			symbol:       "USDC",
			wantDecimals: 6,
		},
		{
			name:         "ATOM on cosmos",
			chain:        Cosmos,
			symbol:       "ATOM",
			wantDecimals: 6,
		},
		{
			name:    "ATOM not on ethereum",
			chain:   Ethereum,
			symbol:  "ATOM",
			wantErr: ErrUnsupportedToken,
		},
		{
			name:    "unknown chain",
			chain:   Name("solana"),
			symbol:  "SOL",
			wantErr: ErrUnsupportedChain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := GetToken(tt.chain, tt.symbol)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("GetToken() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetToken() error = %v", err)
			}
			if tok.Decimals != tt.wantDecimals {
				t.Errorf("Decimals = %d, want %d", tok.Decimals, tt.wantDecimals)
			}
		})
	}
}

func TestStaticObserver(t *testing.T) {
	obs := NewStaticObserver()
	ctx := context.Background()

	if !obs.IsHealthy(ctx, Ethereum) {
		t.Error("new static observer should report ethereum healthy")
	}

	obs.SetHeight(Ethereum, 18500000)
	obs.SetHealthy(Cosmos, false)

	height, err := obs.CurrentHeight(ctx, Ethereum)
	if err != nil {
		t.Fatalf("CurrentHeight() error = %v", err)
	}
	if height != 18500000 {
		t.Errorf("height = %d, want 18500000", height)
	}

	if obs.IsHealthy(ctx, Cosmos) {
		t.Error("cosmos should report unhealthy after SetHealthy(false)")
	}

	if _, err := obs.CurrentHeight(ctx, Name("solana")); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("unknown chain error = %v, want ErrUnsupportedChain", err)
	}
}

func TestMultiObserverRouting(t *testing.T) {
	eth := NewStaticObserver()
	eth.SetHeight(Ethereum, 100)
	fallback := NewStaticObserver()
	fallback.SetHeight(Cosmos, 200)

	multi := NewMultiObserver(map[Name]Observer{Ethereum: eth}, fallback)
	ctx := context.Background()

	h, err := multi.CurrentHeight(ctx, Ethereum)
	if err != nil || h != 100 {
		t.Errorf("ethereum height = %d, %v; want 100, nil", h, err)
	}
	h, err = multi.CurrentHeight(ctx, Cosmos)
	if err != nil || h != 200 {
		t.Errorf("cosmos height = %d, %v; want 200, nil", h, err)
	}
}
