package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/core-coin/core-etl-go/internal/types"
)

// Mock is an in-memory Provider used by ETLWorker tests. Blocks are keyed by
// number; receipts are keyed by transaction hash.
type Mock struct {
	mu       sync.Mutex
	Blocks   map[int64]types.Block
	Txs      map[int64][]types.Transaction
	Receipts map[string]Receipt
	Head     int64
	Status   *types.NodeSyncStatus
	Chain    uint64
	headers  chan BlockHeader
	errs     chan error
}

// NewMock constructs an empty Mock provider.
func NewMock() *Mock {
	return &Mock{
		Blocks:   map[int64]types.Block{},
		Txs:      map[int64][]types.Transaction{},
		Receipts: map[string]Receipt{},
		headers:  make(chan BlockHeader, 16),
		errs:     make(chan error, 1),
	}
}

func (m *Mock) LatestBlock(ctx context.Context) (types.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Blocks[m.Head]
	if !ok {
		return types.Block{}, fmt.Errorf("mock provider: no block at head %d", m.Head)
	}
	return b, nil
}

func (m *Mock) BlockByNumber(ctx context.Context, n int64, withTxs bool) (types.Block, []types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Blocks[n]
	if !ok {
		return types.Block{}, nil, fmt.Errorf("mock provider: no block %d", n)
	}
	if !withTxs {
		return b, nil, nil
	}
	return b, m.Txs[n], nil
}

func (m *Mock) SubscribeNewHeads(ctx context.Context) (<-chan BlockHeader, <-chan error, error) {
	return m.headers, m.errs, nil
}

// PushHead delivers a new-heads notification to subscribers.
func (m *Mock) PushHead(n int64, hash string) {
	nn := n
	m.headers <- BlockHeader{Number: &nn, Hash: hash}
}

func (m *Mock) TransactionReceipt(ctx context.Context, txHash string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Receipts[txHash]
	if !ok {
		return Receipt{}, ErrReceiptNotFound
	}
	return r, nil
}

func (m *Mock) ChainID(ctx context.Context) (uint64, error) {
	return m.Chain, nil
}

func (m *Mock) SyncStatus(ctx context.Context) (*types.NodeSyncStatus, error) {
	return m.Status, nil
}

func (m *Mock) Close() {}
