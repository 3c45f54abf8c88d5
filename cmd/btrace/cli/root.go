// Package cli implements the btrace command-line interface using Cobra.
// It provides commands for running traced commands and for observing the
// executions of an existing process subtree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/majorcontext/btrace/internal/log"
)

var (
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "btrace",
	Short: "Trace program executions for build provenance",
	Long: `btrace records every program execution in a workload to a shared
append-only log. Each record carries the (pid, start-tick) identity of the
process and its parent plus the working directory, program path, and
argument vector, which is enough to reconstruct the full process tree and
command lines of a build after the fact.

Processes that exec through the btrace library write their own records;
'btrace watch' covers everything else in a subtree via the kernel's exec
notifications.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Options{
			Verbose:    verbose,
			JSONFormat: jsonOut,
		})
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "log in JSON format")
}
