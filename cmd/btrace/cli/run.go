package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/majorcontext/btrace"
	"github.com/majorcontext/btrace/internal/config"
	"github.com/majorcontext/btrace/internal/log"
)

var (
	runLog      string
	runManifest string
	runEnv      []string
	runNoSearch bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Replace btrace with a command, tracing the execution",
	Long: `Run exports BTRACE_LOG and replaces the btrace process with the given
command through the tracing exec path, so the run itself becomes the first
record in the log. Descendants inherit BTRACE_LOG and extend the same
trace whenever they exec through the btrace library.

With no log path from --log, the manifest, or BTRACE_LOG, the command runs
untraced.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runLog, "log", "o", "", "trace log path (default: manifest, then $BTRACE_LOG)")
	runCmd.Flags().StringVar(&runManifest, "manifest", "", "manifest file (default ./"+config.ManifestName+")")
	runCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "extra KEY=VALUE environment for the command")
	runCmd.Flags().BoolVar(&runNoSearch, "no-search", false, "treat the command as a path, skipping the PATH search")
}

func runRun(cmd *cobra.Command, args []string) error {
	m, err := loadManifest(runManifest)
	if err != nil {
		return err
	}
	args = commandLine(args, m)
	if len(args) == 0 {
		return fmt.Errorf("no command given; pass one after -- or set command in %s", config.ManifestName)
	}

	logPath := resolveLogPath(runLog, m)
	if logPath != "" {
		if err := os.Setenv(btrace.LogEnvVar, logPath); err != nil {
			return err
		}
	}

	for k, v := range m.Env {
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	for _, kv := range runEnv {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid --env value %q, want KEY=VALUE", kv)
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}

	log.Debug("replacing process",
		"command", shellquote.Join(args...),
		"log", logPath,
	)

	// Reached only when the exec fails; on success the process image is
	// replaced and this function never returns.
	if runNoSearch {
		err = btrace.Execv(args[0], args)
	} else {
		err = btrace.Execvp(args[0], args)
	}
	return fmt.Errorf("exec %s: %w", args[0], err)
}
