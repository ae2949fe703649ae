package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PointsSettlement/internal/app"
	"PointsSettlement/internal/config"
	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/maintenance"
	"PointsSettlement/internal/worker"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pointsctl",
		Short:         "Operator commands for points orders and settlement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH or configs/config.yaml)")

	root.AddCommand(
		newFinishPendingCmd(),
		sweepCmd("reconcile", "Re-drive stuck orders and sync running operations", "reconcile",
			func(ctx context.Context, w *worker.Worker) (worker.Report, error) { return w.Reconcile(ctx) }),
		sweepCmd("refund", "Refund partially done and failed operations", "refund",
			func(ctx context.Context, w *worker.Worker) (worker.Report, error) { return w.RefundOperations(ctx) }),
		sweepCmd("resend-notifications", "Retry notifications for finished orders", "notify",
			func(ctx context.Context, w *worker.Worker) (worker.Report, error) { return w.ResendNotifications(ctx) }),
		newMaintenanceCmd(),
	)
	return root
}

func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

func newFinishPendingCmd() *cobra.Command {
	var orderID int64
	cmd := &cobra.Command{
		Use:   "finish-pending",
		Short: "Re-drive one order from its settlement status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if orderID <= 0 {
				return errors.New("--order-id is required")
			}
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			defer logger.Sync()

			rep, err := a.Worker().FinishPending(cmd.Context(), orderID)
			if err != nil {
				return err
			}
			printReport(cmd, rep)
			if rep.Failed > 0 {
				return fmt.Errorf("order %d could not be re-driven", orderID)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&orderID, "order-id", 0, "order id")
	return cmd
}

func sweepCmd(use, short, lock string, run func(context.Context, *worker.Worker) (worker.Report, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			defer logger.Sync()

			w := a.Worker()
			var rep worker.Report
			err = w.WithLock(cmd.Context(), lock, func(ctx context.Context) error {
				var err error
				rep, err = run(ctx, w)
				return err
			})
			if err != nil {
				return err
			}
			printReport(cmd, rep)
			return nil
		},
	}
}

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Switch purchases off or on",
	}
	set := func(disabled bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			gate, ok := a.Maintenance.(maintenance.RedisGate)
			if !ok {
				return errors.New("maintenance toggle needs redis.url")
			}
			if err := gate.Set(cmd.Context(), disabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "maintenance disabled=%t\n", disabled)
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "on", Short: "Disable purchases", RunE: set(true)},
		&cobra.Command{Use: "off", Short: "Enable purchases", RunE: set(false)},
	)
	return cmd
}

func printReport(cmd *cobra.Command, r worker.Report) {
	fmt.Fprintf(cmd.OutOrStdout(), "checked=%d applied=%d skipped=%d missing=%d failed=%d\n",
		r.Checked, r.Applied, r.Skipped, r.Missing, r.Failed)
}
