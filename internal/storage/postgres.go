package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/core-coin/core-etl-go/internal/types"
)

const (
	postgresMaxOpenConns   = 10
	postgresAcquireTimeout = 60 * time.Second
)

// Postgres is the pooled Postgres Storage backend. It is opened against the
// lib/pq driver, registered under the "postgres" database/sql driver name,
// the same way every teacher service in the pack opens its connection; the
// pool itself is bounded through database/sql, not the driver: at most 10
// open connections, each kept for at most 60s, with the same 60s bounding
// the initial ping. No timeout is applied to acquiring a connection from
// the pool.
type Postgres struct {
	db          *sql.DB
	log         *zap.Logger
	tablePrefix string
}

// OpenPostgres connects to dsn with a bounded connection pool.
func OpenPostgres(ctx context.Context, dsn, tablePrefix string, log *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	db.SetMaxOpenConns(postgresMaxOpenConns)
	db.SetConnMaxLifetime(postgresAcquireTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, postgresAcquireTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	log.Info("connected to postgres storage")
	return &Postgres{db: db, log: log, tablePrefix: tablePrefix}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) prefix() string { return p.tablePrefix }

func (p *Postgres) Prepare(ctx context.Context, modules Modules) error {
	if modules.Blocks {
		if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+blocksTable(p.prefix())+` (
			number BIGINT PRIMARY KEY,
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
			energy_limit BIGINT NOT NULL,
			energy_used BIGINT NOT NULL,
			timestamp BIGINT NOT NULL,
			transaction_count BIGINT NOT NULL,
			matured SMALLINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`); err != nil {
			return fmt.Errorf("storage: create blocks table: %w", err)
		}
		for _, idx := range []string{
			`CREATE INDEX IF NOT EXISTS idx_` + p.prefix() + `_blocks_hash ON ` + blocksTable(p.prefix()) + `(hash)`,
			`CREATE INDEX IF NOT EXISTS idx_` + p.prefix() + `_blocks_number ON ` + blocksTable(p.prefix()) + `(number)`,
			`CREATE INDEX IF NOT EXISTS idx_` + p.prefix() + `_blocks_matured ON ` + blocksTable(p.prefix()) + `(matured)`,
		} {
			if _, err := p.db.ExecContext(ctx, idx); err != nil {
				return fmt.Errorf("storage: create index: %w", err)
			}
		}
	}
	if modules.Transactions {
		fk := ""
		if modules.Blocks {
			fk = fmt.Sprintf(", FOREIGN KEY(block_hash) REFERENCES %s(hash) ON DELETE CASCADE", blocksTable(p.prefix()))
		}
		if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+transactionsTable(p.prefix())+` (
			hash TEXT PRIMARY KEY,
			nonce BIGINT NOT NULL,
			block_hash TEXT NOT NULL,
			block_number BIGINT NOT NULL,
			transaction_index BIGINT NOT NULL,
			from_addr TEXT NOT NULL,
			to_addr TEXT NOT NULL,
			value TEXT NOT NULL,
			energy BIGINT NOT NULL,
			energy_price TEXT NOT NULL,
			input TEXT NOT NULL,
			created_at BIGINT NOT NULL`+fk+`
		)`); err != nil {
			return fmt.Errorf("storage: create transactions table: %w", err)
		}
		for _, idx := range []string{
			`CREATE INDEX IF NOT EXISTS idx_` + p.prefix() + `_tx_block_hash ON ` + transactionsTable(p.prefix()) + `(block_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_` + p.prefix() + `_tx_from ON ` + transactionsTable(p.prefix()) + `(from_addr)`,
			`CREATE INDEX IF NOT EXISTS idx_` + p.prefix() + `_tx_to ON ` + transactionsTable(p.prefix()) + `(to_addr)`,
		} {
			if _, err := p.db.ExecContext(ctx, idx); err != nil {
				return fmt.Errorf("storage: create index: %w", err)
			}
		}
	}
	return nil
}

func (p *Postgres) CreateTransferTables(ctx context.Context, tokens []WatchedToken, withTxFK bool) error {
	for _, tok := range tokens {
		name, err := transferTableName(TransferTableRef{TablePrefix: p.prefix(), Kind: tok.Kind, Address: tok.Address})
		if err != nil {
			return err
		}
		fk := ""
		if withTxFK {
			fk = fmt.Sprintf(", FOREIGN KEY(tx_hash) REFERENCES %s(hash) ON DELETE CASCADE", transactionsTable(p.prefix()))
		}
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			block_number BIGINT NOT NULL,
			from_addr TEXT NOT NULL,
			to_addr TEXT NOT NULL,
			value TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			address TEXT NOT NULL,
			transfer_index BIGINT NOT NULL,
			status SMALLINT NOT NULL,
			created_at BIGINT NOT NULL,
			UNIQUE(tx_hash, transfer_index)%s
		)`, name, fk)
		if _, err := p.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("storage: create transfer table %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) LatestBlockNumber(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	if err := p.db.QueryRowContext(ctx, `SELECT MAX(number) FROM `+blocksTable(p.prefix())).Scan(&n); err == nil && n.Valid {
		return n.Int64, nil
	}
	if err := p.db.QueryRowContext(ctx, `SELECT MAX(block_number) FROM `+transactionsTable(p.prefix())).Scan(&n); err == nil && n.Valid {
		return n.Int64, nil
	}
	for _, table := range p.transferTables(ctx) {
		if err := p.db.QueryRowContext(ctx, `SELECT MAX(block_number) FROM `+table).Scan(&n); err == nil && n.Valid {
			return n.Int64, nil
		}
	}
	return 0, nil
}

func (p *Postgres) Mature(ctx context.Context, height int64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE `+blocksTable(p.prefix())+` SET matured=1 WHERE number <= $1 AND matured=0`, height)
	if err != nil {
		return fmt.Errorf("storage: mature: %w", err)
	}
	return nil
}

// InsertBatch always performs a plain INSERT, never ON CONFLICT DO UPDATE: a
// block number or transaction hash already present in the table surfaces as
// a unique-constraint error rather than being silently overwritten, so the
// live-sync caller can tell a reorg apart from a normal insert and react to
// it (clean the conflicting block, then call InsertBatch again on the
// now-empty row).
func (p *Postgres) InsertBatch(ctx context.Context, flush bool, batch *Batch) error {
	if !flush && len(batch.Blocks) < insertThreshold && len(batch.Txs) < insertThreshold {
		return nil
	}
	if len(batch.Blocks) == 0 && len(batch.Txs) == 0 && len(batch.Transfers) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin insert batch: %w", err)
	}
	defer tx.Rollback()

	for _, b := range batch.Blocks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+blocksTable(p.prefix())+`
			(number, hash, parent_hash, nonce, sha3_uncles, logs_bloom, transactions_root, state_root, receipts_root,
			 miner, difficulty, total_difficulty, extra_data, energy_limit, energy_used, timestamp, transaction_count, matured, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
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
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+transactionsTable(p.prefix())+`
			(hash, nonce, block_hash, block_number, transaction_index, from_addr, to_addr, value, energy, energy_price, input, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
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
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
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

func (p *Postgres) CleanBlock(ctx context.Context, number int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin clean block: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+blocksTable(p.prefix())+` WHERE number=$1`, number); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+transactionsTable(p.prefix())+` WHERE block_number=$1`, number); err != nil {
		return err
	}
	for _, table := range p.transferTables(ctx) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE block_number=$1`, number); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) CleanLast(ctx context.Context, k int64) error {
	latest, err := p.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}
	cutoff := latest - k
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin clean last: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+blocksTable(p.prefix())+` WHERE number > $1`, cutoff); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+transactionsTable(p.prefix())+` WHERE block_number > $1`, cutoff); err != nil {
		return err
	}
	for _, table := range p.transferTables(ctx) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE block_number > $1`, cutoff); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) StartCleanup(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention).Unix()
				if err := p.sweep(ctx, cutoff); err != nil {
					p.log.Error("retention sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

func (p *Postgres) sweep(ctx context.Context, cutoff int64) error {
	tables := append([]string{blocksTable(p.prefix()), transactionsTable(p.prefix())}, p.transferTables(ctx)...)
	for _, table := range tables {
		if !validIdentifier(table) {
			continue
		}
		if _, err := p.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < $1`, cutoff); err != nil {
			return fmt.Errorf("storage: retention sweep on %s: %w", table, err)
		}
	}
	return nil
}

func (p *Postgres) transferTables(ctx context.Context) []string {
	rows, err := p.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema='public' AND table_name LIKE $1`, p.prefix()+"_%_transfers")
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

func (p *Postgres) VerifyContiguity(ctx context.Context, from int64) ([]int64, error) {
	latest, err := p.LatestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	var gaps []int64
	for n := from; n <= latest; n++ {
		var exists int
		if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+blocksTable(p.prefix())+` WHERE number=$1`, n).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			gaps = append(gaps, n)
		}
	}
	return gaps, nil
}

func (p *Postgres) BlockByNumber(ctx context.Context, number int64) (types.Block, bool, error) {
	return p.scanBlock(ctx, `SELECT number, hash, parent_hash, nonce, sha3_uncles, logs_bloom, transactions_root, state_root, receipts_root, miner, difficulty, total_difficulty, extra_data, energy_limit, energy_used, timestamp, transaction_count, matured FROM `+blocksTable(p.prefix())+` WHERE number=$1`, number)
}

func (p *Postgres) BlockByHash(ctx context.Context, hash string) (types.Block, bool, error) {
	return p.scanBlock(ctx, `SELECT number, hash, parent_hash, nonce, sha3_uncles, logs_bloom, transactions_root, state_root, receipts_root, miner, difficulty, total_difficulty, extra_data, energy_limit, energy_used, timestamp, transaction_count, matured FROM `+blocksTable(p.prefix())+` WHERE hash=$1`, hash)
}

func (p *Postgres) scanBlock(ctx context.Context, query string, arg interface{}) (types.Block, bool, error) {
	var b types.Block
	err := p.db.QueryRowContext(ctx, query, arg).Scan(
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

func (p *Postgres) TransactionByHash(ctx context.Context, hash string) (types.Transaction, bool, error) {
	var t types.Transaction
	err := p.db.QueryRowContext(ctx, `SELECT hash, nonce, block_hash, block_number, transaction_index, from_addr, to_addr, value, energy, energy_price, input FROM `+transactionsTable(p.prefix())+` WHERE hash=$1`, hash).
		Scan(&t.Hash, &t.Nonce, &t.BlockHash, &t.BlockNumber, &t.TransactionIndex, &t.From, &t.To, &t.Value, &t.Energy, &t.EnergyPrice, &t.Input)
	if err == sql.ErrNoRows {
		return types.Transaction{}, false, nil
	}
	if err != nil {
		return types.Transaction{}, false, fmt.Errorf("storage: scan transaction: %w", err)
	}
	return t, true, nil
}

func (p *Postgres) TransactionsByBlockNumber(ctx context.Context, number int64) ([]types.Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT hash, nonce, block_hash, block_number, transaction_index, from_addr, to_addr, value, energy, energy_price, input FROM `+transactionsTable(p.prefix())+` WHERE block_number=$1 ORDER BY transaction_index`, number)
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

func (p *Postgres) TokenTransfers(ctx context.Context, ref TransferTableRef, filter TransferFilter) ([]types.TokenTransfer, error) {
	table, err := transferTableName(ref)
	if err != nil {
		return nil, err
	}
	query := `SELECT block_number, from_addr, to_addr, value, tx_hash, address, transfer_index, status FROM ` + table + ` WHERE TRUE`
	var args []interface{}
	if filter.From != "" {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND from_addr=$%d", len(args))
	}
	if filter.To != "" {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND to_addr=$%d", len(args))
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
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
