// Package config handles btrace.yaml manifest parsing.
//
// The manifest supplies per-project defaults for the run and watch
// commands: the trace log path, extra environment for the traced command,
// and a default command line. Flags override the manifest; the manifest
// overrides the BTRACE_LOG environment variable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestName is the filename searched for in the working directory.
const ManifestName = "btrace.yaml"

// Manifest represents a btrace.yaml file.
type Manifest struct {
	// Log is the trace log path. Must be absolute.
	Log string `yaml:"log,omitempty"`

	// Env is extra environment exported to the traced command.
	Env map[string]string `yaml:"env,omitempty"`

	// Command is the default command line when none is given on the
	// command line.
	Command []string `yaml:"command,omitempty"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// LoadDir loads the manifest from dir if one exists. A missing manifest is
// not an error; the returned manifest is then empty.
func LoadDir(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	return Load(path)
}

// Validate checks manifest invariants.
func (m *Manifest) Validate() error {
	if m.Log != "" && !filepath.IsAbs(m.Log) {
		return fmt.Errorf("log path %q must be absolute", m.Log)
	}
	for k := range m.Env {
		if k == "" || strings.ContainsAny(k, "= \t\n") {
			return fmt.Errorf("invalid environment variable name %q", k)
		}
	}
	return nil
}
