// Package chain - Cosmos observer polling a Tendermint RPC endpoint.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

// CosmosObserver reads heights and health from a Tendermint RPC node via
// the /status endpoint.
type CosmosObserver struct {
	rpcURL     string
	httpClient *http.Client
	log        *logging.Logger
}

// NewCosmosObserver creates an observer for the given Tendermint RPC URL.
func NewCosmosObserver(rpcURL string) *CosmosObserver {
	return &CosmosObserver{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logging.GetDefault().Component("cosmos-observer"),
	}
}

// statusResponse is the subset of the Tendermint /status reply we consume.
type statusResponse struct {
	Result struct {
		SyncInfo struct {
			LatestBlockHeight string `json:"latest_block_height"`
			CatchingUp        bool   `json:"catching_up"`
		} `json:"sync_info"`
	} `json:"result"`
}

func (o *CosmosObserver) status(ctx context.Context) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.rpcURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObserverDown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status HTTP %d", ErrObserverDown, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &status, nil
}

// CurrentHeight returns the latest committed block height.
func (o *CosmosObserver) CurrentHeight(ctx context.Context, name Name) (uint64, error) {
	if name != Cosmos {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedChain, name)
	}

	status, err := o.status(ctx)
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseUint(status.Result.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block height %q: %w", status.Result.SyncInfo.LatestBlockHeight, err)
	}
	return height, nil
}

// IsHealthy reports whether the node is reachable and caught up.
func (o *CosmosObserver) IsHealthy(ctx context.Context, name Name) bool {
	if name != Cosmos {
		return false
	}

	status, err := o.status(ctx)
	if err != nil {
		o.log.Warn("Cosmos health probe failed", "rpc", o.rpcURL, "error", err)
		return false
	}
	return !status.Result.SyncInfo.CatchingUp
}
