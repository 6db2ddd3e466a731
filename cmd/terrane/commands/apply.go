package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/providers/local"
	"github.com/terrane-io/terrane/pkg/state"
	"github.com/terrane-io/terrane/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		parallelism int
		dryRun      bool
		opDelay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "apply <file>...",
		Short: "Apply declared resources",
		Long: `Build the plan and execute it: creates and updates run in dependency
order, destroys in reverse dependency order, with at most --parallelism
operations in flight. A failed resource skips everything ordered after it;
independent subgraphs continue.`,
		Example: `  # Apply one document
  terrane apply resources.yaml

  # Walk the graph without touching anything
  terrane apply resources.yaml --dry-run

  # Serialize all operations
  terrane apply resources.yaml --parallelism 1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			metrics, err := telemetry.NewMetrics(cfg.Metrics)
			if err != nil {
				return fmt.Errorf("failed to create metrics: %w", err)
			}
			metrics.StartMetricsServer(log)

			tracer, err := telemetry.NewTracer(cfg.Tracing, cmd.Root().Version)
			if err != nil {
				return fmt.Errorf("failed to create tracer: %w", err)
			}
			defer func() {
				if err := tracer.Shutdown(cmd.Context()); err != nil {
					log.Errorf("failed to shut down tracer: %v", err)
				}
			}()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			plan, err := buildPlan(ctx, args, store)
			if err != nil {
				return err
			}

			executor := local.New(log)
			executor.Delay = opDelay

			if parallelism == 0 {
				parallelism = cfg.Parallelism
			}
			scheduler := engine.NewScheduler(executor, store, log, metrics)
			summary, err := scheduler.Execute(ctx, plan, engine.ScheduleOptions{
				Parallelism: parallelism,
				DryRun:      dryRun,
				Who:         whoami(),
			})
			if err != nil {
				var lockErr *state.LockError
				if errors.As(err, &lockErr) && lockErr.Info != nil {
					return fmt.Errorf("state is locked by %s (operation %s, since %s): %w",
						lockErr.Info.Who, lockErr.Info.Operation, lockErr.Info.Created.Format(time.RFC3339), err)
				}
				return err
			}

			printRunSummary(cmd, summary)
			if summary.Failed > 0 {
				return fmt.Errorf("%d resource(s) failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "max concurrent operations (0 = config default)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "walk the graph without invoking the executor")
	cmd.Flags().DurationVar(&opDelay, "op-delay", 0, "artificial per-operation delay")

	return cmd
}

// printRunSummary renders the run outcome.
func printRunSummary(cmd *cobra.Command, summary *engine.RunSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nRun %s finished in %s: %d applied, %d unchanged, %d failed, %d skipped.\n",
		summary.RunID, summary.Duration.Round(time.Millisecond),
		summary.Applied, summary.NoOp, summary.Failed, summary.Skipped)
	for _, addr := range summary.FailedAddresses() {
		fmt.Fprintf(out, "  failed: %s: %v\n", addr, summary.Errors[addr])
	}
}
