// Package chain - Ethereum observer backed by go-ethereum's RPC client.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

// EthereumObserver reads heights and health from an Ethereum JSON-RPC node.
type EthereumObserver struct {
	client  *ethclient.Client
	rpcURL  string
	timeout time.Duration
	log     *logging.Logger
}

// NewEthereumObserver dials the given JSON-RPC endpoint.
func NewEthereumObserver(rpcURL string) (*EthereumObserver, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ethereum rpc: %w", err)
	}

	return &EthereumObserver{
		client:  client,
		rpcURL:  rpcURL,
		timeout: 10 * time.Second,
		log:     logging.GetDefault().Component("eth-observer"),
	}, nil
}

// CurrentHeight returns the best block number.
func (o *EthereumObserver) CurrentHeight(ctx context.Context, name Name) (uint64, error) {
	if name != Ethereum {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedChain, name)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	height, err := o.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrObserverDown, err)
	}
	return height, nil
}

// IsHealthy reports whether the node is reachable and not mid-sync.
func (o *EthereumObserver) IsHealthy(ctx context.Context, name Name) bool {
	if name != Ethereum {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	progress, err := o.client.SyncProgress(ctx)
	if err != nil {
		o.log.Warn("Ethereum health probe failed", "rpc", o.rpcURL, "error", err)
		return false
	}
	// Nil progress means the node reports itself fully synced.
	return progress == nil
}

// Close releases the underlying RPC connection.
func (o *EthereumObserver) Close() {
	o.client.Close()
}
