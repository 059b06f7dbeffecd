package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ironfleet",
		Short: "ironfleet - declarative fleet definitions and directory sync",
		Long: `ironfleet turns hierarchical fleet definitions (realms, clusters, facets,
servers) into concrete machine manifests, compares them with what the remote
directory and the cloud report, and syncs machines through phase-ordered
calls against the clients, nodes and roles services.

Settings are read from ironfleet.toml in the working directory unless
--config points elsewhere.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default ./ironfleet.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newManifestCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
