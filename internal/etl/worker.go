// Package etl implements the sync engine: a bounded-concurrency backfill
// loop followed by a live head-subscription loop, reorg recovery, maturity
// tracking, and retention scheduling. It is the only package that drives
// Provider, the contract registry, and Storage together.
package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/core-coin/core-etl-go/internal/contracts"
	"github.com/core-coin/core-etl-go/internal/provider"
	"github.com/core-coin/core-etl-go/internal/storage"
	"github.com/core-coin/core-etl-go/internal/types"
)

// maturityGap is the hard-coded confirmation depth at which a block is
// considered final.
const maturityGap = 5

// ErrChainNotSynced is returned from sync_old_blocks when the next block to
// fetch is already past the chain head.
var ErrChainNotSynced = errors.New("etl: next block is past chain head")

// Config is the subset of app configuration the worker consumes.
type Config struct {
	BlockNumber      int64
	TablePrefix      string
	WatchTokens      []storage.WatchedToken
	AddressFilter    map[string]struct{}
	RetentionSeconds int64
	CleanupInterval  time.Duration
	Lazy             bool
	Threads          int
	Modules          storage.Modules
}

// Worker is the sync engine described by spec.md §4.4.
type Worker struct {
	cfg      Config
	storage  storage.Storage
	provider provider.Provider
	log      *zap.Logger

	processors []contracts.Processor

	lastSavedBlock   int64
	lastCheckedBlock int64
}

// New constructs a Worker. It creates transfer tables and instantiates one
// ContractProcessor per watched token, and determines the backfill starting
// point from storage's current high-water mark.
func New(ctx context.Context, cfg Config, st storage.Storage, prov provider.Provider, log *zap.Logger) (*Worker, error) {
	w := &Worker{cfg: cfg, storage: st, provider: prov, log: log}

	if len(cfg.WatchTokens) > 0 {
		if err := st.CreateTransferTables(ctx, cfg.WatchTokens, cfg.Modules.Transactions); err != nil {
			return nil, fmt.Errorf("etl: create transfer tables: %w", err)
		}
		for _, tok := range cfg.WatchTokens {
			proc, err := contracts.New(tok.Kind, tok.Address)
			if err != nil {
				return nil, fmt.Errorf("etl: build processor for %s:%s: %w", tok.Kind, tok.Address, err)
			}
			w.processors = append(w.processors, proc)
		}
	}

	latest, err := st.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("etl: read latest block number: %w", err)
	}
	if latest > 0 {
		w.lastSavedBlock = latest
	} else {
		w.lastSavedBlock = cfg.BlockNumber - 1
	}
	w.lastCheckedBlock = 0

	return w, nil
}

// Run executes the full sequence: optional retention scheduler, optional
// lazy-sync wait, backfill, then the live subscription loop. It returns on a
// fatal error, when the caller's context is cancelled, or with nil when the
// provider closes the new-heads stream.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.RetentionSeconds > 0 {
		w.storage.StartCleanup(ctx, w.cfg.CleanupInterval, time.Duration(w.cfg.RetentionSeconds)*time.Second)
	}

	if w.cfg.Lazy {
		if err := w.waitForSync(ctx); err != nil {
			return err
		}
	}

	if err := w.syncOldBlocks(ctx); err != nil {
		return fmt.Errorf("etl: backfill: %w", err)
	}

	return w.syncNewBlocks(ctx)
}

func (w *Worker) waitForSync(ctx context.Context) error {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		status, err := w.provider.SyncStatus(ctx)
		if err != nil {
			return fmt.Errorf("etl: sync status: %w", err)
		}
		if status == nil {
			return nil
		}
		w.log.Info("node not yet synced, waiting",
			zap.Int64("current_block", status.CurrentBlock),
			zap.Int64("highest_block", status.HighestBlock))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// fetchResult is one backfill task's output, joined back in block order.
type fetchResult struct {
	block     types.Block
	txs       []types.Transaction
	transfers map[string][]types.TokenTransfer
}

// syncOldBlocks is the backfill loop: an outer loop stands in for the
// recursive tail call spec.md describes, to avoid unbounded stack growth
// across successive backfill passes.
func (w *Worker) syncOldBlocks(ctx context.Context) error {
	for {
		head, err := w.provider.LatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("etl: latest block: %w", err)
		}
		if err := w.storage.Mature(ctx, head.Number-maturityGap); err != nil {
			return fmt.Errorf("etl: mature: %w", err)
		}

		if w.lastSavedBlock == head.Number && w.lastCheckedBlock == head.Number {
			return nil
		}

		next := w.lastSavedBlock + 1
		if next > head.Number {
			return ErrChainNotSynced
		}

		batch := &storage.Batch{Transfers: map[string][]types.TokenTransfer{}}
		threads := w.cfg.Threads
		if threads < 1 {
			threads = 1
		}

		for next <= head.Number {
			width := threads
			if remaining := head.Number - next + 1; remaining < int64(width) {
				width = int(remaining)
			}

			results := make([]fetchResult, width)
			group, gctx := errgroup.WithContext(ctx)
			for i := 0; i < width; i++ {
				i := i
				n := next + int64(i)
				group.Go(func() error {
					res, err := w.fetchAndProcess(gctx, n)
					if err != nil {
						return fmt.Errorf("etl: fetch block %d: %w", n, err)
					}
					results[i] = res
					return nil
				})
			}
			if err := group.Wait(); err != nil {
				return err
			}

			for _, res := range results {
				batch.Blocks = append(batch.Blocks, res.block)
				batch.Txs = append(batch.Txs, res.txs...)
				for table, transfers := range res.transfers {
					batch.Transfers[table] = append(batch.Transfers[table], transfers...)
				}
			}

			next += int64(width)
			flush := next > head.Number
			if err := w.storage.InsertBatch(ctx, flush, batch); err != nil {
				return fmt.Errorf("etl: insert batch: %w", err)
			}
		}

		w.lastCheckedBlock = head.Number
		w.lastSavedBlock = head.Number
	}
}

// syncNewBlocks subscribes to new heads and, for each one, fetches and
// inserts that single block, recovering from a reorg exactly once.
func (w *Worker) syncNewBlocks(ctx context.Context) error {
	headers, errs, err := w.provider.SubscribeNewHeads(ctx)
	if err != nil {
		return fmt.Errorf("etl: subscribe new heads: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return fmt.Errorf("etl: subscription dropped: %w", err)
		case h, ok := <-headers:
			if !ok {
				return nil
			}
			if h.Number == nil {
				continue
			}
			if err := w.handleHead(ctx, *h.Number); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) handleHead(ctx context.Context, number int64) error {
	res, err := w.fetchAndProcess(ctx, number)
	if err != nil {
		return fmt.Errorf("etl: fetch head %d: %w", number, err)
	}

	batch := &storage.Batch{
		Blocks:    []types.Block{res.block},
		Txs:       res.txs,
		Transfers: res.transfers,
	}
	if err := w.storage.InsertBatch(ctx, true, batch); err != nil {
		w.log.Warn("insert of live block failed, treating as reorg", zap.Int64("number", number), zap.Error(err))
		if cleanErr := w.storage.CleanBlock(ctx, number); cleanErr != nil {
			return fmt.Errorf("etl: clean block %d during reorg recovery: %w", number, cleanErr)
		}
		retryBatch := &storage.Batch{
			Blocks:    []types.Block{res.block},
			Txs:       res.txs,
			Transfers: res.transfers,
		}
		if err := w.storage.InsertBatch(ctx, true, retryBatch); err != nil {
			return fmt.Errorf("etl: reorg recovery insert of block %d failed: %w", number, err)
		}
	}

	return w.storage.Mature(ctx, number-maturityGap)
}

// fetchAndProcess fetches block n with full transactions, extracts token
// transfers, and applies address_filter to the transaction list only.
func (w *Worker) fetchAndProcess(ctx context.Context, n int64) (fetchResult, error) {
	block, txs, err := w.provider.BlockByNumber(ctx, n, true)
	if err != nil {
		return fetchResult{}, err
	}

	transfers, err := w.extractTransfers(ctx, txs)
	if err != nil {
		return fetchResult{}, err
	}

	filtered := w.filterTransactions(txs)

	return fetchResult{block: block, txs: filtered, transfers: transfers}, nil
}

// filterTransactions keeps only transactions whose from or to address is in
// address_filter; an empty filter retains everything.
func (w *Worker) filterTransactions(txs []types.Transaction) []types.Transaction {
	if len(w.cfg.AddressFilter) == 0 {
		return txs
	}
	out := make([]types.Transaction, 0, len(txs))
	for _, tx := range txs {
		_, fromOK := w.cfg.AddressFilter[tx.From]
		_, toOK := w.cfg.AddressFilter[tx.To]
		if fromOK || toOK {
			out = append(out, tx)
		}
	}
	return out
}

// extractTransfers runs every watched processor against every transaction,
// keying results by the processor's transfer table name. address_filter
// does not apply here: transfers are never filtered.
func (w *Worker) extractTransfers(ctx context.Context, txs []types.Transaction) (map[string][]types.TokenTransfer, error) {
	out := map[string][]types.TokenTransfer{}
	if len(w.processors) == 0 {
		return out, nil
	}

	for _, tx := range txs {
		for _, proc := range w.processors {
			if proc.Address() != tx.To {
				continue
			}
			if !proc.Recognizes(tx.Input) {
				continue
			}

			receipt, err := w.provider.TransactionReceipt(ctx, tx.Hash)
			if err != nil {
				return nil, fmt.Errorf("etl: receipt for %s: %w", tx.Hash, err)
			}
			status := types.TransferReverted
			if receipt.Status {
				status = types.TransferSuccess
			}

			table := contracts.TableName(w.cfg.TablePrefix, proc.Kind(), proc.Address())
			for _, tr := range proc.Decode(tx.From, tx.Input) {
				out[table] = append(out[table], types.TokenTransfer{
					BlockNumber: tx.BlockNumber,
					From:        tr.From,
					To:          tr.To,
					Value:       tr.Value,
					TxHash:      tx.Hash,
					Address:     proc.Address(),
					Index:       tr.Index,
					Status:      status,
				})
			}
		}
	}
	return out, nil
}
