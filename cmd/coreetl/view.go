package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/core-coin/core-etl-go/internal/logging"
	"github.com/core-coin/core-etl-go/internal/storage"
	"github.com/core-coin/core-etl-go/internal/types"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Read-only lookups against the configured storage backend",
}

var (
	viewBlockNumber int64
	viewBlockHash   string
)

var viewBlockCmd = &cobra.Command{
	Use:   "block",
	Short: "Look up a block by number or hash",
	RunE:  runViewBlock,
}

var (
	viewTxBlockNumber int64
	viewTxHash        string
)

var viewTransactionCmd = &cobra.Command{
	Use:   "transaction",
	Short: "Look up transactions by block number or by hash",
	RunE:  runViewTransaction,
}

var (
	viewTransferTokenAddress string
	viewTransferKind         string
	viewTransferFrom         string
	viewTransferTo           string
)

var viewTokenTransferCmd = &cobra.Command{
	Use:   "token-transfer",
	Short: "Look up decoded token transfers for a watched contract",
	RunE:  runViewTokenTransfer,
}

func init() {
	viewBlockCmd.Flags().Int64Var(&viewBlockNumber, "number", -1, "block number")
	viewBlockCmd.Flags().StringVar(&viewBlockHash, "hash", "", "block hash")

	viewTransactionCmd.Flags().Int64Var(&viewTxBlockNumber, "block-number", -1, "block number")
	viewTransactionCmd.Flags().StringVar(&viewTxHash, "hash", "", "transaction hash")

	viewTokenTransferCmd.Flags().StringVar(&viewTransferTokenAddress, "token-address", "", "watched contract address")
	viewTokenTransferCmd.Flags().StringVar(&viewTransferKind, "token-kind", "cbc20", "watched contract kind")
	viewTokenTransferCmd.Flags().StringVar(&viewTransferFrom, "from", "", "filter by sender address")
	viewTokenTransferCmd.Flags().StringVar(&viewTransferTo, "to", "", "filter by recipient address")

	viewCmd.AddCommand(viewBlockCmd, viewTransactionCmd, viewTokenTransferCmd)
	rootCmd.AddCommand(viewCmd)
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func runViewBlock(cmd *cobra.Command, args []string) error {
	log, err := logging.New(false)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		block types.Block
		found bool
	)
	switch {
	case viewBlockHash != "":
		block, found, err = store.BlockByHash(ctx, types.NormalizeHex(viewBlockHash))
	case viewBlockNumber >= 0:
		block, found, err = store.BlockByNumber(ctx, viewBlockNumber)
	default:
		return fmt.Errorf("coreetl: view block requires --number or --hash")
	}
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("coreetl: block not found")
	}
	return printJSON(block)
}

func runViewTransaction(cmd *cobra.Command, args []string) error {
	log, err := logging.New(false)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if viewTxHash != "" {
		tx, found, err := store.TransactionByHash(ctx, types.NormalizeHex(viewTxHash))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("coreetl: transaction not found")
		}
		return printJSON(tx)
	}
	if viewTxBlockNumber >= 0 {
		txs, err := store.TransactionsByBlockNumber(ctx, viewTxBlockNumber)
		if err != nil {
			return err
		}
		return printJSON(txs)
	}
	return fmt.Errorf("coreetl: view transaction requires --block-number or --hash")
}

func runViewTokenTransfer(cmd *cobra.Command, args []string) error {
	log, err := logging.New(false)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if viewTransferTokenAddress == "" {
		return fmt.Errorf("coreetl: view token-transfer requires --token-address")
	}
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	ref := storage.TransferTableRef{
		TablePrefix: cfg.TablesPrefix,
		Kind:        viewTransferKind,
		Address:     types.NormalizeHex(viewTransferTokenAddress),
	}
	filter := storage.TransferFilter{
		From: types.NormalizeHex(viewTransferFrom),
		To:   types.NormalizeHex(viewTransferTo),
	}
	transfers, err := store.TokenTransfers(ctx, ref, filter)
	if err != nil {
		return err
	}
	return printJSON(transfers)
}
