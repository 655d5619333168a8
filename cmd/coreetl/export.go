package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/core-coin/core-etl-go/internal/config"
	"github.com/core-coin/core-etl-go/internal/etl"
	"github.com/core-coin/core-etl-go/internal/logging"
	"github.com/core-coin/core-etl-go/internal/storage"
	"github.com/core-coin/core-etl-go/internal/types"
)

var (
	exportBlockNumber      int64
	exportWatchTokens      string
	exportAddressFilter    string
	exportRetentionSeconds int64
	exportCleanupSeconds   int64
	exportRewind           int64
	exportDebug            bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Start syncing blocks, transactions, and watched token transfers",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().Int64Var(&exportBlockNumber, "block", 0, "first block to backfill from when storage is empty")
	exportCmd.Flags().StringVar(&exportWatchTokens, "watch-tokens", "", "comma-separated kind:address pairs (address may be the literal \"ctn\")")
	exportCmd.Flags().StringVar(&exportAddressFilter, "address-filter", "", "comma-separated addresses; retain only transactions touching one of them")
	exportCmd.Flags().Int64Var(&exportRetentionSeconds, "retention-duration", 0, "seconds; rows older than this are swept, 0 disables retention")
	exportCmd.Flags().Int64Var(&exportCleanupSeconds, "cleanup-interval", 3600, "seconds between retention sweeps")
	exportCmd.Flags().Int64Var(&exportRewind, "rewind", 0, "on startup, delete the last N blocks before resuming (recovers from a bad prior run)")
	exportCmd.Flags().BoolVar(&exportDebug, "debug", false, "use a human-readable development logger instead of JSON")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	log, err := logging.New(exportDebug)
	if err != nil {
		return fmt.Errorf("coreetl: build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if exportRewind > 0 {
		log.Info("rewinding before resuming", zap.Int64("blocks", exportRewind))
		if err := store.CleanLast(ctx, exportRewind); err != nil {
			return fmt.Errorf("coreetl: rewind: %w", err)
		}
	}

	prov, err := openProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer prov.Close()

	rawTokens, err := config.ParseWatchTokens(exportWatchTokens)
	if err != nil {
		return err
	}
	chainID, err := prov.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("coreetl: chain id: %w", err)
	}
	expanded := config.ExpandWatchTokens(rawTokens, func() string { return types.CoreTokenAddress(chainID) })

	watchTokens := make([]storage.WatchedToken, 0, len(expanded))
	for _, t := range expanded {
		watchTokens = append(watchTokens, storage.WatchedToken{Kind: t.Kind, Address: types.NormalizeHex(t.Address)})
	}

	addressFilterList := config.ParseAddressFilter(exportAddressFilter)
	addressFilter := map[string]struct{}{}
	for _, a := range addressFilterList {
		addressFilter[types.NormalizeHex(a)] = struct{}{}
	}

	workerCfg := etl.Config{
		BlockNumber:      exportBlockNumber,
		TablePrefix:      cfg.TablesPrefix,
		WatchTokens:      watchTokens,
		AddressFilter:    addressFilter,
		RetentionSeconds: exportRetentionSeconds,
		CleanupInterval:  time.Duration(exportCleanupSeconds) * time.Second,
		Lazy:             cfg.Lazy,
		Threads:          cfg.Threads,
		Modules:          cfg.ToStorageModules(),
	}

	worker, err := etl.New(ctx, workerCfg, store, prov, log)
	if err != nil {
		return err
	}

	log.Info("starting export",
		zap.String("network", cfg.Network),
		zap.String("storage", string(cfg.Storage)),
		zap.Int("watch_tokens", len(watchTokens)))

	return worker.Run(ctx)
}
