package cli

import (
	"os"

	"github.com/majorcontext/btrace"
	"github.com/majorcontext/btrace/internal/config"
)

// loadManifest loads the manifest at path, or the one in the working
// directory when path is empty. A missing default manifest yields an empty
// manifest.
func loadManifest(path string) (*config.Manifest, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.LoadDir(wd)
}

// resolveLogPath picks the trace log path: flag over manifest over the
// BTRACE_LOG environment variable. Empty means tracing is disabled.
func resolveLogPath(flag string, m *config.Manifest) string {
	if flag != "" {
		return flag
	}
	if m.Log != "" {
		return m.Log
	}
	return os.Getenv(btrace.LogEnvVar)
}

// commandLine returns the argument list, falling back to the manifest's
// default command.
func commandLine(args []string, m *config.Manifest) []string {
	if len(args) > 0 {
		return args
	}
	return m.Command
}
