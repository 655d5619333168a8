// Package config loads the core-etl-go configuration from CLI flags and
// environment variables, the way the teacher compliance service layers viper
// over cobra/pflag. No config file is read.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/core-coin/core-etl-go/internal/storage"
)

// StorageKind names a supported Storage backend.
type StorageKind string

const (
	StorageSqlite3  StorageKind = "sqlite3"
	StoragePostgres StorageKind = "postgres"
	StorageMock     StorageKind = "mock"
)

// WatchToken is one configured watch_tokens entry before "ctn" expansion.
type WatchToken struct {
	Kind    string
	Address string
}

// Config is the set of global flags shared by every subcommand. Export's own
// flags (block, watch-tokens, address-filter, retention-duration,
// cleanup-interval) are local to the export command, the way run.go's
// benchmark flags are local package vars rather than fields on a shared
// struct.
type Config struct {
	RPCURL       string      `mapstructure:"rpc_url"`
	Network      string      `mapstructure:"network"`
	Storage      StorageKind `mapstructure:"storage"`
	Sqlite3Path  string      `mapstructure:"sqlite3_path"`
	PostgresDSN  string      `mapstructure:"postgres_db_dsn"`
	TablesPrefix string      `mapstructure:"tables_prefix"`
	Modules      []string    `mapstructure:"modules"`
	Threads      int         `mapstructure:"threads"`
	Lazy         bool        `mapstructure:"lazy"`
}

// BindGlobalFlags registers the global flags shared by every subcommand onto
// fs and binds them into v under the uppercased CORE_ETL_ environment
// variable form.
func BindGlobalFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String("rpc-url", "", "websocket RPC endpoint")
	fs.String("network", "mainnet", "network preset: mainnet|devin")
	fs.String("storage", string(StorageSqlite3), "storage backend: sqlite3|postgres|mock")
	fs.String("sqlite3-path", "core-etl.db", "sqlite3 database file path")
	fs.String("postgres-db-dsn", "", "postgres connection string")
	fs.String("tables-prefix", "core_etl", "table name prefix")
	fs.StringSlice("modules", []string{"blocks", "transactions", "token_transfers"}, "enabled modules")
	fs.Int("threads", 3, "backfill fetch-pool width")
	fs.Bool("lazy", false, "wait for the node to report fully synced before ingesting")

	v.SetEnvPrefix("CORE_ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
}

// Load unmarshals v into a Config and validates the storage-backend choice.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		RPCURL:       v.GetString("rpc-url"),
		Network:      v.GetString("network"),
		Storage:      StorageKind(v.GetString("storage")),
		Sqlite3Path:  v.GetString("sqlite3-path"),
		PostgresDSN:  v.GetString("postgres-db-dsn"),
		TablesPrefix: v.GetString("tables-prefix"),
		Modules:      v.GetStringSlice("modules"),
		Threads:      v.GetInt("threads"),
		Lazy:         v.GetBool("lazy"),
	}

	switch cfg.Storage {
	case StorageSqlite3, StoragePostgres, StorageMock:
	default:
		return nil, fmt.Errorf("config: unknown storage backend %q", cfg.Storage)
	}
	if cfg.Storage == StoragePostgres && cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("config: --postgres-db-dsn is required for storage=postgres")
	}
	if cfg.Threads < 1 {
		return nil, fmt.Errorf("config: --threads must be at least 1")
	}

	return cfg, nil
}

// ToStorageModules derives the gating triple storage.Prepare consumes from
// the configured module list.
func (c *Config) ToStorageModules() storage.Modules {
	return storage.Modules{
		Blocks:         c.HasModule("blocks"),
		Transactions:   c.HasModule("transactions"),
		TokenTransfers: c.HasModule("token_transfers"),
	}
}

// HasModule reports whether name is present in the configured module list.
func (c *Config) HasModule(name string) bool {
	for _, m := range c.Modules {
		if m == name {
			return true
		}
	}
	return false
}

// ParseWatchTokens parses the "--watch-tokens kind:addr,kind:addr" flag
// value into a WatchToken list.
func ParseWatchTokens(raw string) ([]WatchToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []WatchToken
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("config: malformed watch-tokens entry %q, want kind:address", entry)
		}
		out = append(out, WatchToken{Kind: parts[0], Address: parts[1]})
	}
	return out, nil
}

// ParseAddressFilter parses the "--address-filter addr,addr" flag value.
func ParseAddressFilter(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// ExpandWatchTokens resolves the special "ctn" literal to the Core Token
// address for chainID before building the watch_tokens list ETLWorker
// consumes.
func ExpandWatchTokens(raw []WatchToken, coreTokenAddress func() string) []WatchToken {
	out := make([]WatchToken, 0, len(raw))
	for _, t := range raw {
		addr := t.Address
		if strings.EqualFold(addr, "ctn") {
			addr = coreTokenAddress()
		}
		out = append(out, WatchToken{Kind: t.Kind, Address: addr})
	}
	return out
}
