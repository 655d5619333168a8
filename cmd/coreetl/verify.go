package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/core-coin/core-etl-go/internal/logging"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Consistency checks against the configured storage backend",
}

var verifyFromBlock int64

var verifyBlocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Validate that persisted block numbers are contiguous from --block to the newest stored block",
	RunE:  runVerifyBlocks,
}

func init() {
	verifyBlocksCmd.Flags().Int64Var(&verifyFromBlock, "block", 0, "lowest block number to check contiguity from")
	verifyCmd.AddCommand(verifyBlocksCmd)
	rootCmd.AddCommand(verifyCmd)
}

func runVerifyBlocks(cmd *cobra.Command, args []string) error {
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

	gaps, err := store.VerifyContiguity(ctx, verifyFromBlock)
	if err != nil {
		return err
	}
	if len(gaps) == 0 {
		fmt.Println("ok: no gaps found")
		return nil
	}
	fmt.Printf("found %d missing block(s): %v\n", len(gaps), gaps)
	return fmt.Errorf("coreetl: block contiguity check failed")
}
