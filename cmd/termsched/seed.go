package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"termsched/internal/planner"
	"termsched/internal/store"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load operations and holds from a YAML fixtures file",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "fixtures YAML file (required)")
	_ = seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	if _, ok := st.(*store.Memory); ok {
		logger.Warn().Msg("seeding the in-memory store; data is discarded on exit")
	}

	f, err := os.Open(seedFile)
	if err != nil {
		return err
	}
	defer f.Close()

	svc := planner.New(st, cfg.Terminal, planner.WithLogger(logger))
	fixtures, err := svc.ReadFixtures(f)
	if err != nil {
		return fmt.Errorf("%s: %w", seedFile, err)
	}
	ops, holds, err := svc.Seed(ctx, fixtures)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d operations and %d holds\n", ops, holds)
	return nil
}
