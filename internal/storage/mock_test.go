package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/core-etl-go/internal/types"
)

func TestMock_InsertBatch_NoOpBelowThreshold(t *testing.T) {
	m := NewMock()
	batch := &Batch{
		Blocks:    []types.Block{{Number: 1, Hash: "a"}},
		Transfers: map[string][]types.TokenTransfer{},
	}
	require.NoError(t, m.InsertBatch(context.Background(), false, batch))

	// Below threshold and flush=false: the accumulator is left untouched.
	assert.Len(t, batch.Blocks, 1)
	_, ok, err := m.BlockByNumber(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMock_InsertBatch_Flush(t *testing.T) {
	m := NewMock()
	batch := &Batch{
		Blocks:    []types.Block{{Number: 1, Hash: "a", Timestamp: 1000}},
		Txs:       []types.Transaction{{Hash: "tx1", BlockNumber: 1}},
		Transfers: map[string][]types.TokenTransfer{"core_etl_cbc20_deadbeef_transfers": {{TxHash: "tx1", BlockNumber: 1, Index: 0}}},
	}
	require.NoError(t, m.InsertBatch(context.Background(), true, batch))

	assert.Empty(t, batch.Blocks)
	assert.Empty(t, batch.Txs)
	assert.Empty(t, batch.Transfers)

	b, ok, err := m.BlockByNumber(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", b.Hash)

	tx, ok, err := m.TransactionByHash(context.Background(), "tx1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), tx.BlockNumber)
}

func TestMock_InsertBatch_EmptyIsNoOp(t *testing.T) {
	m := NewMock()
	batch := &Batch{Transfers: map[string][]types.TokenTransfer{}}
	require.NoError(t, m.InsertBatch(context.Background(), true, batch))
	n, err := m.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMock_CleanBlock_ThenReinsert(t *testing.T) {
	m := NewMock()
	batch := &Batch{
		Blocks:    []types.Block{{Number: 5, Hash: "first", Timestamp: 1}},
		Txs:       []types.Transaction{{Hash: "tx5", BlockNumber: 5}},
		Transfers: map[string][]types.TokenTransfer{},
	}
	require.NoError(t, m.InsertBatch(context.Background(), true, batch))

	require.NoError(t, m.CleanBlock(context.Background(), 5))
	_, ok, err := m.BlockByNumber(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = m.TransactionByHash(context.Background(), "tx5")
	require.NoError(t, err)
	assert.False(t, ok)

	batch2 := &Batch{
		Blocks:    []types.Block{{Number: 5, Hash: "second", Timestamp: 1}},
		Transfers: map[string][]types.TokenTransfer{},
	}
	require.NoError(t, m.InsertBatch(context.Background(), true, batch2))
	b, ok, err := m.BlockByNumber(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", b.Hash)
}

func TestMock_Mature(t *testing.T) {
	m := NewMock()
	batch := &Batch{
		Blocks:    []types.Block{{Number: 1}, {Number: 2}, {Number: 3}},
		Transfers: map[string][]types.TokenTransfer{},
	}
	require.NoError(t, m.InsertBatch(context.Background(), true, batch))

	require.NoError(t, m.Mature(context.Background(), 2))

	b1, _, _ := m.BlockByNumber(context.Background(), 1)
	b2, _, _ := m.BlockByNumber(context.Background(), 2)
	b3, _, _ := m.BlockByNumber(context.Background(), 3)
	assert.EqualValues(t, 1, b1.Matured)
	assert.EqualValues(t, 1, b2.Matured)
	assert.EqualValues(t, 0, b3.Matured)
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, validIdentifier("core_etl_cbc20_deadbeef_transfers"))
	assert.False(t, validIdentifier("core_etl; DROP TABLE users"))
	assert.False(t, validIdentifier(""))
}

func TestTransferTableName(t *testing.T) {
	name, err := transferTableName(TransferTableRef{TablePrefix: "core_etl", Kind: "cbc20", Address: "cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c"})
	require.NoError(t, err)
	assert.Equal(t, "core_etl_cbc20_cb19c7ac_transfers", name)
}
