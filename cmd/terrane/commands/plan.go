package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var dotFile string

	cmd := &cobra.Command{
		Use:   "plan <file>...",
		Short: "Show planned changes without applying them",
		Long: `Compare the declared resources against recorded state and print what an
apply would do: creates, in-place updates, replacements, and destroys of
resources no longer declared.`,
		Example: `  # Show the plan for one document
  terrane plan resources.yaml

  # Also write the graph as DOT for visualization
  terrane plan resources.yaml --dot plan.dot`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			plan, err := buildPlan(ctx, args, store)
			if err != nil {
				return err
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(engine.ToDOT(plan)), 0644); err != nil {
					return fmt.Errorf("failed to write dot file: %w", err)
				}
				log.Infof("graph written to %s", dotFile)
			}

			return printPlan(cmd, plan)
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "output DOT graph file (optional)")

	return cmd
}

// printPlan renders the per-node actions and the summary.
func printPlan(cmd *cobra.Command, plan *engine.Plan) error {
	summary := plan.Summary()

	if jsonOutput {
		out := struct {
			Changes map[string]*engine.Change `json:"changes"`
			Summary engine.PlanSummary        `json:"summary"`
		}{
			Changes: make(map[string]*engine.Change, plan.Len()),
			Summary: summary,
		}
		for _, addr := range plan.Addresses() {
			out.Changes[addr.String()] = plan.Node(addr).Change
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, addr := range plan.Addresses() {
		change := plan.Node(addr).Change
		if change.Action == engine.ActionNoop {
			continue
		}
		if len(change.ChangedAttrs) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s (%v)\n", change.Action, addr, change.ChangedAttrs)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", change.Action, addr)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"\nPlan: %d to create, %d to update, %d to replace, %d to destroy, %d unchanged.\n",
		summary.ToCreate, summary.ToUpdate, summary.ToReplace, summary.ToDestroy, summary.NoChange)
	return nil
}
