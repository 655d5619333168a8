package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/core-coin/core-etl-go/internal/types"
)

// Sqlite3 is the single-file Sqlite3 Storage backend.
type Sqlite3 struct {
	db          *sql.DB
	log         *zap.Logger
	tablePrefix string
}

// OpenSqlite3 opens (creating if necessary) the sqlite3 database at path.
func OpenSqlite3(path, tablePrefix string, log *zap.Logger) (*Sqlite3, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite3 %s: %w", path, err)
	}
	// A single file-backed connection avoids SQLITE_BUSY under concurrent
	// writers; the fetch pool's writes are serialized through InsertBatch
	// regardless, so this costs nothing in practice.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("storage: ping sqlite3 %s: %w", path, err)
	}
	log.Info("connected to sqlite3 storage", zap.String("path", path))
	return &Sqlite3{db: db, log: log, tablePrefix: tablePrefix}, nil
}

func (s *Sqlite3) Close() error { return s.db.Close() }

func (s *Sqlite3) Prepare(ctx context.Context, modules Modules) error {
	if modules.Blocks {
		if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+blocksTable(s.prefix())+` (
			number INTEGER PRIMARY KEY NOT NULL,
			hash TEXT NOT NULL UNIQUE,
			parent_hash TEXT NOT NULL,
			nonce TEXT NOT NULL,
			sha3_uncles TEXT NOT NULL,
			logs_bloom TEXT NOT NULL,
			transactions_root TEXT NOT NULL,
			state_root TEXT NOT NULL,
			receipts_root TEXT NOT NULL,
			miner TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			total_difficulty TEXT NOT NULL,
			extra_data TEXT NOT NULL,
			energy_limit INTEGER NOT NULL,
			energy_used INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			transaction_count INTEGER NOT NULL,
			matured INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`); err != nil {
			return fmt.Errorf("storage: create blocks table: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_`+s.prefix()+`_blocks_hash ON `+blocksTable(s.prefix())+`(hash)`); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_`+s.prefix()+`_blocks_number ON `+blocksTable(s.prefix())+`(number)`); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_`+s.prefix()+`_blocks_matured ON `+blocksTable(s.prefix())+`(matured)`); err != nil {
			return err
		}
	}
	if modules.Transactions {
		fk := ""
		if modules.Blocks {
			fk = fmt.Sprintf(", FOREIGN KEY(block_hash) REFERENCES %s(hash) ON DELETE CASCADE", blocksTable(s.prefix()))
		}
		if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+transactionsTable(s.prefix())+` (
			hash TEXT PRIMARY KEY NOT NULL,
			nonce INTEGER NOT NULL,
			block_hash TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			transaction_index INTEGER NOT NULL,
			from_addr TEXT NOT NULL,
			to_addr TEXT NOT NULL,
			value TEXT NOT NULL,
			energy INTEGER NOT NULL,
			energy_price TEXT NOT NULL,
			input TEXT NOT NULL,
			created_at INTEGER NOT NULL`+fk+`
		)`); err != nil {
			return fmt.Errorf("storage: create transactions table: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_`+s.prefix()+`_tx_block_hash ON `+transactionsTable(s.prefix())+`(block_hash)`); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_`+s.prefix()+`_tx_from ON `+transactionsTable(s.prefix())+`(from_addr)`); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_`+s.prefix()+`_tx_to ON `+transactionsTable(s.prefix())+`(to_addr)`); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sqlite3) prefix() string { return s.tablePrefix }

func (s *Sqlite3) CreateTransferTables(ctx context.Context, tokens []WatchedToken, withTxFK bool) error {
	for _, tok := range tokens {
		name, err := transferTableName(TransferTableRef{TablePrefix: s.prefix(), Kind: tok.Kind, Address: tok.Address})
		if err != nil {
			return err
		}
		fk := ""
		if withTxFK {
			fk = fmt.Sprintf(", FOREIGN KEY(tx_hash) REFERENCES %s(hash) ON DELETE CASCADE", transactionsTable(s.prefix()))
		}
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			block_number INTEGER NOT NULL,
			from_addr TEXT NOT NULL,
			to_addr TEXT NOT NULL,
			value TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			address TEXT NOT NULL,
			transfer_index INTEGER NOT NULL,
			status INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE(tx_hash, transfer_index)%s
		)`, name, fk)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("storage: create transfer table %s: %w", name, err)
		}
	}
	return nil
}

func (s *Sqlite3) LatestBlockNumber(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(number) FROM `+blocksTable(s.prefix())).Scan(&n); err == nil && n.Valid {
		return n.Int64, nil
	}
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(block_number) FROM `+transactionsTable(s.prefix())).Scan(&n); err == nil && n.Valid {
		return n.Int64, nil
	}
	for _, table := range s.transferTables(ctx) {
		if err := s.db.QueryRowContext(ctx, `SELECT MAX(block_number) FROM `+table).Scan(&n); err == nil && n.Valid {
			return n.Int64, nil
		}
	}
	return 0, nil
}

func (s *Sqlite3) Mature(ctx context.Context, height int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE `+blocksTable(s.prefix())+` SET matured=1 WHERE number <= ? AND matured=0`, height)
	if err != nil {
		return fmt.Errorf("storage: mature: %w", err)
	}
	return nil
}

// InsertBatch always performs a plain INSERT, never REPLACE: a block number
// or transaction hash already present in the table surfaces as a unique-
// constraint error rather than being silently overwritten, so the live-sync
// caller can tell a reorg apart from a normal insert and react to it (clean
// the conflicting block, then call InsertBatch again on the now-empty row).
func (s *Sqlite3) InsertBatch(ctx context.Context, flush bool, batch *Batch) error {
	if !flush && len(batch.Blocks) < insertThreshold && len(batch.Txs) < insertThreshold {
		return nil
	}
	if len(batch.Blocks) == 0 && len(batch.Txs) == 0 && len(batch.Transfers) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin insert batch: %w", err)
	}
	defer tx.Rollback()

	for _, b := range batch.Blocks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+blocksTable(s.prefix())+`
			(number, hash, parent_hash, nonce, sha3_uncles, logs_bloom, transactions_root, state_root, receipts_root,
			 miner, difficulty, total_difficulty, extra_data, energy_limit, energy_used, timestamp, transaction_count, matured, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			b.Number, b.Hash, b.ParentHash, b.Nonce, b.Sha3Uncles, b.LogsBloom, b.TransactionsRoot, b.StateRoot, b.ReceiptsRoot,
			b.Miner, b.Difficulty, b.TotalDifficulty, b.ExtraData, b.EnergyLimit, b.EnergyUsed, b.Timestamp, b.TransactionCount, b.Matured, b.Timestamp,
		); err != nil {
			return fmt.Errorf("storage: insert block %d: %w", b.Number, err)
		}
	}
	blockTimestamps := make(map[int64]int64, len(batch.Blocks))
	for _, b := range batch.Blocks {
		blockTimestamps[b.Number] = b.Timestamp
	}
	for _, t := range batch.Txs {
		createdAt := blockTimestamps[t.BlockNumber]
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+transactionsTable(s.prefix())+`
			(hash, nonce, block_hash, block_number, transaction_index, from_addr, to_addr, value, energy, energy_price, input, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			t.Hash, t.Nonce, t.BlockHash, t.BlockNumber, t.TransactionIndex, t.From, t.To, t.Value, t.Energy, t.EnergyPrice, t.Input, createdAt,
		); err != nil {
			return fmt.Errorf("storage: insert tx %s: %w", t.Hash, err)
		}
	}
	for table, transfers := range batch.Transfers {
		if !validIdentifier(table) {
			return fmt.Errorf("storage: unsafe transfer table %q", table)
		}
		for _, tr := range transfers {
			createdAt := blockTimestamps[tr.BlockNumber]
			if _, err := tx.ExecContext(ctx, `INSERT INTO `+table+`
				(block_number, from_addr, to_addr, value, tx_hash, address, transfer_index, status, created_at)
				VALUES (?,?,?,?,?,?,?,?,?)`,
				tr.BlockNumber, tr.From, tr.To, tr.Value, tr.TxHash, tr.Address, tr.Index, tr.Status, createdAt,
			); err != nil {
				return fmt.Errorf("storage: insert transfer %s#%d: %w", tr.TxHash, tr.Index, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit insert batch: %w", err)
	}
	batch.Blocks = nil
	batch.Txs = nil
	batch.Transfers = map[string][]types.TokenTransfer{}
	return nil
}

func (s *Sqlite3) CleanBlock(ctx context.Context, number int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin clean block: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+blocksTable(s.prefix())+` WHERE number=?`, number); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+transactionsTable(s.prefix())+` WHERE block_number=?`, number); err != nil {
		return err
	}
	for _, table := range s.transferTables(ctx) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE block_number=?`, number); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Sqlite3) CleanLast(ctx context.Context, k int64) error {
	latest, err := s.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}
	cutoff := latest - k
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin clean last: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+blocksTable(s.prefix())+` WHERE number > ?`, cutoff); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+transactionsTable(s.prefix())+` WHERE block_number > ?`, cutoff); err != nil {
		return err
	}
	for _, table := range s.transferTables(ctx) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE block_number > ?`, cutoff); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Sqlite3) StartCleanup(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention).Unix()
				if err := s.sweep(ctx, cutoff); err != nil {
					s.log.Error("retention sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *Sqlite3) sweep(ctx context.Context, cutoff int64) error {
	tables := append([]string{blocksTable(s.prefix()), transactionsTable(s.prefix())}, s.transferTables(ctx)...)
	for _, table := range tables {
		if !validIdentifier(table) {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, cutoff); err != nil {
			return fmt.Errorf("storage: retention sweep on %s: %w", table, err)
		}
	}
	return nil
}

// transferTables lists every watched-token transfer table that currently
// exists, by querying sqlite's schema catalog for tables matching the
// naming convention.
func (s *Sqlite3) transferTables(ctx context.Context) []string {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name LIKE ?`, s.prefix()+"_%_transfers")
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			out = append(out, name)
		}
	}
	return out
}

func (s *Sqlite3) VerifyContiguity(ctx context.Context, from int64) ([]int64, error) {
	latest, err := s.LatestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	var gaps []int64
	for n := from; n <= latest; n++ {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+blocksTable(s.prefix())+` WHERE number=?`, n).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			gaps = append(gaps, n)
		}
	}
	return gaps, nil
}

func (s *Sqlite3) BlockByNumber(ctx context.Context, number int64) (types.Block, bool, error) {
	return s.scanBlock(ctx, `SELECT number, hash, parent_hash, nonce, sha3_uncles, logs_bloom, transactions_root, state_root, receipts_root, miner, difficulty, total_difficulty, extra_data, energy_limit, energy_used, timestamp, transaction_count, matured FROM `+blocksTable(s.prefix())+` WHERE number=?`, number)
}

func (s *Sqlite3) BlockByHash(ctx context.Context, hash string) (types.Block, bool, error) {
	return s.scanBlock(ctx, `SELECT number, hash, parent_hash, nonce, sha3_uncles, logs_bloom, transactions_root, state_root, receipts_root, miner, difficulty, total_difficulty, extra_data, energy_limit, energy_used, timestamp, transaction_count, matured FROM `+blocksTable(s.prefix())+` WHERE hash=?`, hash)
}

func (s *Sqlite3) scanBlock(ctx context.Context, query string, arg interface{}) (types.Block, bool, error) {
	var b types.Block
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&b.Number, &b.Hash, &b.ParentHash, &b.Nonce, &b.Sha3Uncles, &b.LogsBloom, &b.TransactionsRoot, &b.StateRoot, &b.ReceiptsRoot,
		&b.Miner, &b.Difficulty, &b.TotalDifficulty, &b.ExtraData, &b.EnergyLimit, &b.EnergyUsed, &b.Timestamp, &b.TransactionCount, &b.Matured,
	)
	if err == sql.ErrNoRows {
		return types.Block{}, false, nil
	}
	if err != nil {
		return types.Block{}, false, fmt.Errorf("storage: scan block: %w", err)
	}
	return b, true, nil
}

func (s *Sqlite3) TransactionByHash(ctx context.Context, hash string) (types.Transaction, bool, error) {
	var t types.Transaction
	err := s.db.QueryRowContext(ctx, `SELECT hash, nonce, block_hash, block_number, transaction_index, from_addr, to_addr, value, energy, energy_price, input FROM `+transactionsTable(s.prefix())+` WHERE hash=?`, hash).
		Scan(&t.Hash, &t.Nonce, &t.BlockHash, &t.BlockNumber, &t.TransactionIndex, &t.From, &t.To, &t.Value, &t.Energy, &t.EnergyPrice, &t.Input)
	if err == sql.ErrNoRows {
		return types.Transaction{}, false, nil
	}
	if err != nil {
		return types.Transaction{}, false, fmt.Errorf("storage: scan transaction: %w", err)
	}
	return t, true, nil
}

func (s *Sqlite3) TransactionsByBlockNumber(ctx context.Context, number int64) ([]types.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash, nonce, block_hash, block_number, transaction_index, from_addr, to_addr, value, energy, energy_price, input FROM `+transactionsTable(s.prefix())+` WHERE block_number=? ORDER BY transaction_index`, number)
	if err != nil {
		return nil, fmt.Errorf("storage: query transactions by block: %w", err)
	}
	defer rows.Close()
	var out []types.Transaction
	for rows.Next() {
		var t types.Transaction
		if err := rows.Scan(&t.Hash, &t.Nonce, &t.BlockHash, &t.BlockNumber, &t.TransactionIndex, &t.From, &t.To, &t.Value, &t.Energy, &t.EnergyPrice, &t.Input); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Sqlite3) TokenTransfers(ctx context.Context, ref TransferTableRef, filter TransferFilter) ([]types.TokenTransfer, error) {
	table, err := transferTableName(ref)
	if err != nil {
		return nil, err
	}
	query := `SELECT block_number, from_addr, to_addr, value, tx_hash, address, transfer_index, status FROM ` + table + ` WHERE 1=1`
	var args []interface{}
	if filter.From != "" {
		query += ` AND from_addr=?`
		args = append(args, filter.From)
	}
	if filter.To != "" {
		query += ` AND to_addr=?`
		args = append(args, filter.To)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query transfers: %w", err)
	}
	defer rows.Close()
	var out []types.TokenTransfer
	for rows.Next() {
		var t types.TokenTransfer
		if err := rows.Scan(&t.BlockNumber, &t.From, &t.To, &t.Value, &t.TxHash, &t.Address, &t.Index, &t.Status); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
