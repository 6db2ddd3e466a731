package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <file>...",
		Short: "Print the dependency graph as DOT",
		Long: `Build and diff the resource graph, then print it in Graphviz DOT format.
Nodes are colored by planned action.`,
		Example: `  terrane graph resources.yaml | dot -Tsvg -o graph.svg`,
		Args:    cobra.MinimumNArgs(1),
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

			plan, err := buildPlan(ctx, args, store)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), engine.ToDOT(plan))
			return nil
		},
	}

	return cmd
}
