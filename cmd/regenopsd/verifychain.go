package main

import (
	"context"
	"fmt"

	"github.com/regenfab/regenops/app"
	"github.com/regenfab/regenops/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newVerifyChainCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "verify-chain <tenant-id>",
		Short: "Verify a tenant's evidence hash chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyChain(cmd.Context(), args[0], limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to verify (0 = service default)")
	return cmd
}

func runVerifyChain(ctx context.Context, tenantID string, limit int) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			deps.Logger.Error("failed to close dependencies", zap.Error(err))
		}
	}()

	verification, err := deps.Orchestrator.VerifyEvidenceChain(ctx, tenantID, limit)
	if err != nil {
		return err
	}

	if verification.Valid {
		fmt.Printf("chain OK: %d event(s) verified\n", verification.Checked)
		return nil
	}

	return fmt.Errorf("chain BROKEN at index %d: %s", verification.FailureIndex, verification.Reason)
}
