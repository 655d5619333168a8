package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/core-coin/core-etl-go/internal/config"
	"github.com/core-coin/core-etl-go/internal/provider"
	"github.com/core-coin/core-etl-go/internal/storage"
	"github.com/core-coin/core-etl-go/internal/types"
)

func networkFromConfig(cfg *config.Config) types.Network {
	return types.ParseNetwork(cfg.Network)
}

// openStorage builds the configured Storage backend and prepares its schema
// for the configured modules.
func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	var (
		store storage.Storage
		err   error
	)
	switch cfg.Storage {
	case config.StorageSqlite3:
		store, err = storage.OpenSqlite3(cfg.Sqlite3Path, cfg.TablesPrefix, log)
	case config.StoragePostgres:
		store, err = storage.OpenPostgres(ctx, cfg.PostgresDSN, cfg.TablesPrefix, log)
	case config.StorageMock:
		store = storage.NewMock()
	default:
		return nil, fmt.Errorf("coreetl: unknown storage backend %q", cfg.Storage)
	}
	if err != nil {
		return nil, err
	}
	if err := store.Prepare(ctx, cfg.ToStorageModules()); err != nil {
		return nil, fmt.Errorf("coreetl: prepare storage: %w", err)
	}
	return store, nil
}

// openProvider dials the configured (or network-default) RPC endpoint.
func openProvider(ctx context.Context, cfg *config.Config, log *zap.Logger) (provider.Provider, error) {
	url := cfg.RPCURL
	if url == "" {
		net := networkFromConfig(cfg)
		url = net.RPCURL()
	}
	if url == "" {
		return nil, fmt.Errorf("coreetl: no rpc-url given and network %q has no default endpoint", cfg.Network)
	}
	return provider.Dial(ctx, url, log)
}
