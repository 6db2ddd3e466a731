package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/addrs"
	"github.com/terrane-io/terrane/pkg/state"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and manage recorded state",
	}

	cmd.AddCommand(newStateListCommand())
	cmd.AddCommand(newStateShowCommand())
	cmd.AddCommand(newStateRmCommand())
	cmd.AddCommand(newStateRunsCommand())

	return cmd
}

func newStateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded resource addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List(ctx)
			if err != nil {
				return err
			}
			for _, addr := range list {
				fmt.Fprintln(cmd.OutOrStdout(), addr)
			}
			return nil
		},
	}
}

func newStateShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <address>",
		Short: "Show the recorded attributes of one resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			addr, err := addrs.Parse(args[0])
			if err != nil {
				return err
			}

			cfg, _, err := setup()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(ctx, addr)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no state recorded for %s", addr)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s (serial %d, updated %s)\n",
				rec.Address, rec.Serial, rec.UpdatedAt.Format(time.RFC3339))
			raw, err := state.EncodeAttrs(rec.Attrs)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(raw))
			for _, dep := range rec.Dependencies {
				fmt.Fprintf(out, "# depends on %s\n", dep)
			}
			return nil
		},
	}
}

func newStateRmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <address>",
		Short: "Remove one resource from state without destroying it",
		Long: `Drop the state record for an address. The remote object, if any, is left
alone; the next apply will plan a create for it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			addr, err := addrs.Parse(args[0])
			if err != nil {
				return err
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(ctx, addr); err != nil {
				return err
			}
			log.Infof("removed %s from state", addr)
			return nil
		},
	}
}

func newStateRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, run := range runs {
				status := "ok"
				if run.Error != "" {
					status = run.Error
				} else if run.Failed > 0 {
					status = fmt.Sprintf("%d failed", run.Failed)
				}
				fmt.Fprintf(out, "%s  %s  %s  %d applied, %d unchanged, %d skipped  [%s]\n",
					run.ID, run.StartedAt.Format(time.RFC3339),
					run.Duration.Round(time.Millisecond),
					run.Applied, run.NoOp, run.Skipped, status)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "max runs to list")

	return cmd
}
