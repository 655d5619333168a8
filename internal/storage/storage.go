// Package storage defines the backend-polymorphic persistence contract
// consumed by the sync engine: schema migration, batched transactional
// insert, reorg cleanup, retention-driven deletion, and read queries.
//
// Storage is a capability set, not a class hierarchy: Sqlite3, Postgres, and
// Mock each implement the same interface with no shared mutable base.
// Implementations must be safe for concurrent use by reference; internal
// mutation is serialized by the SQL transaction or connection pool, never by
// an external mutex.
package storage

import (
	"context"
	"time"

	"github.com/core-coin/core-etl-go/internal/types"
)

// WatchedToken identifies a single contract this deployment decodes token
// transfers for.
type WatchedToken struct {
	Kind    string
	Address string
}

// Storage is the operation contract every backend implements.
type Storage interface {
	// Prepare creates tables for enabled modules and all indexes.
	// Idempotent: a second call is a no-op.
	Prepare(ctx context.Context, modules Modules) error

	// LatestBlockNumber returns the highest persisted block number across
	// blocks, else transactions, else any transfer table; 0 if empty.
	LatestBlockNumber(ctx context.Context) (int64, error)

	// Mature sets matured=1 for every block with number <= height and
	// matured=0.
	Mature(ctx context.Context, height int64) error

	// CreateTransferTables creates the per-contract transfer table for each
	// watched token, with a unique (tx_hash, transfer_index) constraint.
	CreateTransferTables(ctx context.Context, tokens []WatchedToken, withTxFK bool) error

	// InsertBatch atomically inserts blocks, transactions, and transfers in
	// that order within a single transaction. When flush is false, the
	// implementation only inserts once the accumulated block or transaction
	// count reaches its internal threshold; when flush is true, insertion
	// happens immediately regardless of size. batch is owned by the caller
	// (ETLWorker's accumulator) and passed by pointer so that, on a commit,
	// InsertBatch can drain it in place; when the threshold isn't reached
	// and flush is false, batch is left untouched.
	InsertBatch(ctx context.Context, flush bool, batch *Batch) error

	// CleanBlock deletes block n, all transactions with block_number=n, and
	// all transfers with block_number=n, in a single transaction.
	CleanBlock(ctx context.Context, number int64) error

	// CleanLast deletes rows whose block_number is strictly greater than
	// max(block_number) - k in each managed table.
	CleanLast(ctx context.Context, k int64) error

	// StartCleanup spawns a background task that periodically deletes rows
	// with created_at older than retention from every managed table. Errors
	// are logged internally and never terminate the task.
	StartCleanup(ctx context.Context, interval, retention time.Duration)

	// VerifyContiguity walks persisted block numbers from "from" to the
	// newest stored block and reports any gaps found (supplemented feature,
	// backs the "verify blocks" CLI command).
	VerifyContiguity(ctx context.Context, from int64) ([]int64, error)

	// Read surface backing the "view" CLI command.
	BlockByNumber(ctx context.Context, number int64) (types.Block, bool, error)
	BlockByHash(ctx context.Context, hash string) (types.Block, bool, error)
	TransactionByHash(ctx context.Context, hash string) (types.Transaction, bool, error)
	TransactionsByBlockNumber(ctx context.Context, number int64) ([]types.Transaction, error)
	TokenTransfers(ctx context.Context, table TransferTableRef, filter TransferFilter) ([]types.TokenTransfer, error)

	// Close releases the underlying connection/pool.
	Close() error
}

// Modules controls which tables Prepare creates (Blocks, Transactions) and
// whether the transactions table gets its block_hash foreign key. No backend
// reads TokenTransfers. InsertBatch does not consult Modules: it writes every
// block, transaction, and transfer in the batch, so a batch holding records
// for a table Prepare did not create fails.
type Modules struct {
	Blocks         bool
	Transactions   bool
	TokenTransfers bool
}

// Batch is the set of pending records a single InsertBatch call persists.
type Batch struct {
	Blocks    []types.Block
	Txs       []types.Transaction
	Transfers map[string][]types.TokenTransfer // table name -> transfers
}

// TransferTableRef names one per-contract transfer table.
type TransferTableRef struct {
	TablePrefix string
	Kind        string
	Address     string
}

// TransferFilter narrows a TokenTransfers read by address role.
type TransferFilter struct {
	From string
	To   string
}
