package storage

import (
	"context"
	"sync"
	"time"

	"github.com/core-coin/core-etl-go/internal/types"
)

// Mock is an in-memory Storage used by tests that exercise ETLWorker
// behavior without a real database. InsertBatch, CleanBlock, and Mature act
// on in-memory blocks, transactions, and transfers, and the block and
// transaction reads return them; LatestBlockNumber looks at stored blocks
// only. Prepare, CreateTransferTables, CleanLast, and StartCleanup are
// no-ops, and VerifyContiguity and TokenTransfers return empty results.
type Mock struct {
	mu       sync.Mutex
	Blocks   map[int64]types.Block
	Txs      map[string]types.Transaction
	Transfer map[string][]types.TokenTransfer
}

// NewMock constructs an empty Mock storage.
func NewMock() *Mock {
	return &Mock{
		Blocks:   map[int64]types.Block{},
		Txs:      map[string]types.Transaction{},
		Transfer: map[string][]types.TokenTransfer{},
	}
}

func (m *Mock) Prepare(ctx context.Context, modules Modules) error { return nil }

func (m *Mock) LatestBlockNumber(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for n := range m.Blocks {
		if n > max {
			max = n
		}
	}
	return max, nil
}

func (m *Mock) Mature(ctx context.Context, height int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, b := range m.Blocks {
		if n <= height && b.Matured == 0 {
			b.Matured = 1
			m.Blocks[n] = b
		}
	}
	return nil
}

func (m *Mock) CreateTransferTables(ctx context.Context, tokens []WatchedToken, withTxFK bool) error {
	return nil
}

func (m *Mock) InsertBatch(ctx context.Context, flush bool, batch *Batch) error {
	if !flush && len(batch.Blocks) < insertThreshold && len(batch.Txs) < insertThreshold {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range batch.Blocks {
		m.Blocks[b.Number] = b
	}
	for _, t := range batch.Txs {
		m.Txs[t.Hash] = t
	}
	for table, transfers := range batch.Transfers {
		m.Transfer[table] = append(m.Transfer[table], transfers...)
	}
	batch.Blocks = nil
	batch.Txs = nil
	batch.Transfers = map[string][]types.TokenTransfer{}
	return nil
}

func (m *Mock) CleanBlock(ctx context.Context, number int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Blocks, number)
	for h, t := range m.Txs {
		if t.BlockNumber == number {
			delete(m.Txs, h)
		}
	}
	for table, transfers := range m.Transfer {
		kept := transfers[:0]
		for _, tr := range transfers {
			if tr.BlockNumber != number {
				kept = append(kept, tr)
			}
		}
		m.Transfer[table] = kept
	}
	return nil
}

func (m *Mock) CleanLast(ctx context.Context, k int64) error { return nil }

func (m *Mock) StartCleanup(ctx context.Context, interval, retention time.Duration) {}

func (m *Mock) VerifyContiguity(ctx context.Context, from int64) ([]int64, error) {
	return nil, nil
}

func (m *Mock) BlockByNumber(ctx context.Context, number int64) (types.Block, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Blocks[number]
	return b, ok, nil
}

func (m *Mock) BlockByHash(ctx context.Context, hash string) (types.Block, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.Blocks {
		if b.Hash == hash {
			return b, true, nil
		}
	}
	return types.Block{}, false, nil
}

func (m *Mock) TransactionByHash(ctx context.Context, hash string) (types.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Txs[hash]
	return t, ok, nil
}

func (m *Mock) TransactionsByBlockNumber(ctx context.Context, number int64) ([]types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Transaction
	for _, t := range m.Txs {
		if t.BlockNumber == number {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Mock) TokenTransfers(ctx context.Context, table TransferTableRef, filter TransferFilter) ([]types.TokenTransfer, error) {
	return nil, nil
}

func (m *Mock) Close() error { return nil }
