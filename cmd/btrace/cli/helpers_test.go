package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/btrace"
	"github.com/majorcontext/btrace/internal/config"
)

func TestResolveLogPathPrecedence(t *testing.T) {
	t.Setenv(btrace.LogEnvVar, "/from/env.log")

	m := &config.Manifest{Log: "/from/manifest.log"}

	assert.Equal(t, "/from/flag.log", resolveLogPath("/from/flag.log", m))
	assert.Equal(t, "/from/manifest.log", resolveLogPath("", m))
	assert.Equal(t, "/from/env.log", resolveLogPath("", &config.Manifest{}))

	t.Setenv(btrace.LogEnvVar, "")
	assert.Equal(t, "", resolveLogPath("", &config.Manifest{}))
}

func TestCommandLine(t *testing.T) {
	m := &config.Manifest{Command: []string{"make", "all"}}

	assert.Equal(t, []string{"go", "build"}, commandLine([]string{"go", "build"}, m))
	assert.Equal(t, []string{"make", "all"}, commandLine(nil, m))
	assert.Nil(t, commandLine(nil, &config.Manifest{}))
}

func TestLoadManifestExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: /tmp/t.log\n"), 0o644))

	m, err := loadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/t.log", m.Log)
}

func TestLoadManifestExplicitPathMissing(t *testing.T) {
	_, err := loadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
