package etl

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/core-etl-go/internal/provider"
	"github.com/core-coin/core-etl-go/internal/storage"
	"github.com/core-coin/core-etl-go/internal/types"
)

// S4 — reorg recovery against a real backend. Sqlite3's blocks table has a
// plain PRIMARY KEY on number, so the second InsertBatch call for the same
// block number genuinely fails the unique constraint (InsertBatch issues a
// plain INSERT, never REPLACE, per storage.Sqlite3.InsertBatch) and
// handleHead must fall through to CleanBlock followed by a retry before the
// new hash is visible.
func TestHandleHead_ReorgRecoveryAgainstSqlite3(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "reorg.db")
	st, err := storage.OpenSqlite3(path, "core_etl", testLogger())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Prepare(ctx, storage.Modules{Blocks: true, Transactions: true}))

	require.NoError(t, st.InsertBatch(ctx, true, &storage.Batch{
		Blocks:    []types.Block{{Number: 100, Hash: "a"}},
		Transfers: map[string][]types.TokenTransfer{},
	}))

	prov := provider.NewMock()
	prov.Blocks[100] = types.Block{Number: 100, Hash: "b"}

	w := &Worker{cfg: Config{}, storage: st, provider: prov, log: testLogger()}

	require.NoError(t, w.handleHead(ctx, 100))

	b, ok, err := st.BlockByNumber(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", b.Hash)
}
