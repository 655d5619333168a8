// Command coreetl ingests Core Blockchain blocks, transactions, and watched
// token transfers into a pluggable storage backend, and serves read-only
// inspection and consistency-check subcommands against the same store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/core-coin/core-etl-go/internal/config"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "coreetl",
	Short: "Core Blockchain ETL pipeline",
}

func init() {
	config.BindGlobalFlags(rootCmd.PersistentFlags(), v)
}

func loadConfig() (*config.Config, error) {
	return config.Load(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
