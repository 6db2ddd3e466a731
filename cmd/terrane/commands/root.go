package commands

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/config"
	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/state"
	"github.com/terrane-io/terrane/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "terrane",
		Short: "Terrane - declarative resource orchestration engine",
		Long: `Terrane reconciles declared resources against recorded state.

It builds a dependency graph from the configuration, diffs each resource
against the state store, and executes the resulting plan with a bounded
worker pool: creates and updates in dependency order, destroys in reverse.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "terrane.yaml", "engine config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// setup loads the engine configuration and builds the logger.
func setup() (config.RuntimeConfig, *telemetry.Logger, error) {
	cfg, err := config.LoadRuntimeFile(configPath)
	if err != nil {
		return cfg, nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}

	log, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return cfg, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

// openStore opens and migrates the state store.
func openStore(ctx context.Context, cfg config.RuntimeConfig) (*state.SQLiteStore, error) {
	store, err := state.NewSQLiteStore(cfg.State)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store, nil
}

// buildPlan loads resource documents, constructs the graph, and diffs it
// against the store.
func buildPlan(ctx context.Context, files []string, store state.Store) (*engine.Plan, error) {
	loader := config.NewLoader()

	var decls []engine.ResourceDecl
	schemas := make(engine.SchemaSet)
	for _, f := range files {
		d, s, err := loader.LoadFile(f)
		if err != nil {
			return nil, err
		}
		decls = append(decls, d...)
		for t, sc := range s {
			if _, dup := schemas[t]; dup {
				return nil, fmt.Errorf("duplicate schema for type %q", t)
			}
			schemas[t] = sc
		}
	}

	plan, err := engine.NewGraphBuilder().Build(decls)
	if err != nil {
		return nil, err
	}
	if err := engine.NewDiffer(schemas).DiffPlan(ctx, plan, store); err != nil {
		return nil, err
	}
	return plan, nil
}

// whoami identifies the initiator for the state lock.
func whoami() string {
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil {
		return name
	}
	return name + "@" + host
}
