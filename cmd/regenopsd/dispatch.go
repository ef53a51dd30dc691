package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/regenfab/regenops/app"
	"github.com/regenfab/regenops/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDispatchCommand() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Drain the outbox queue without serving HTTP",
		Long: "Runs the outbox dispatcher standalone. With --once a single batch " +
			"is claimed and delivered, then the command exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd.Context(), once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "claim and deliver a single batch, then exit")
	return cmd
}

func runDispatch(ctx context.Context, once bool) error {
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

	if once {
		delivered, err := deps.Dispatcher.DispatchOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("delivered %d event(s)\n", delivered)
		return nil
	}

	if err := deps.Dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start outbox dispatcher: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps.Logger.Info("outbox dispatcher running, press Ctrl+C to stop")
	<-runCtx.Done()
	return nil
}
