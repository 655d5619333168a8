// Package provider abstracts the Core Blockchain RPC surface the sync engine
// depends on: latest/by-number block lookup, new-heads subscription, receipt
// lookup, chain id, and node sync status.
package provider

import (
	"context"
	"errors"

	"github.com/core-coin/core-etl-go/internal/types"
)

// ErrReceiptNotFound is returned when a transaction receipt cannot be
// located for a given hash (a non-conforming node or a pruned receipt).
var ErrReceiptNotFound = errors.New("provider: receipt not found")

// Receipt is the subset of a transaction receipt the sync engine needs.
type Receipt struct {
	TransactionHash string
	Status          bool
}

// BlockHeader is the subset of a block header carried over the new-heads
// subscription. Headers with no Number populated are filtered by the caller
// before they reach the sync engine.
type BlockHeader struct {
	Number *int64
	Hash   string
}

// Provider is the abstract RPC surface consumed by ETLWorker. Implementations
// are expected to keep their own connection/retry policy; callers never see
// transport-level reconnection logic.
type Provider interface {
	// LatestBlock returns the block at the chain tip, without transactions.
	LatestBlock(ctx context.Context) (types.Block, error)

	// BlockByNumber returns the block at n. When withTxs is true, the
	// transaction slice is populated; otherwise it is nil.
	BlockByNumber(ctx context.Context, n int64, withTxs bool) (types.Block, []types.Transaction, error)

	// SubscribeNewHeads returns a channel of incoming block headers and a
	// channel that receives a single error if the subscription drops.
	// Headers with Number == nil must not be forwarded by implementations.
	SubscribeNewHeads(ctx context.Context) (<-chan BlockHeader, <-chan error, error)

	// TransactionReceipt fetches the receipt for a transaction hash.
	TransactionReceipt(ctx context.Context, txHash string) (Receipt, error)

	// ChainID returns the network's chain id.
	ChainID(ctx context.Context) (uint64, error)

	// SyncStatus returns nil when the node reports itself fully synced.
	SyncStatus(ctx context.Context) (*types.NodeSyncStatus, error)

	// Close releases the underlying transport.
	Close()
}
