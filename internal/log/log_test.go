package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitDefaultLevelSuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Stderr: &buf})

	Debug("hidden")
	Info("also hidden")
	Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug/info leaked at default level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warning missing from output: %q", out)
	}
}

func TestInitVerbose(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Verbose: true, Stderr: &buf})

	Debug("needle", "key", "value")

	if !strings.Contains(buf.String(), "needle") {
		t.Errorf("debug output missing in verbose mode: %q", buf.String())
	}
}

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{JSONFormat: true, Stderr: &buf})

	Error("boom", "code", 7)

	out := buf.String()
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"msg":"boom"`) {
		t.Errorf("expected JSON output, got %q", out)
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Verbose: true, Stderr: &buf})

	With("component", "watch").Info("attached")

	out := buf.String()
	if !strings.Contains(out, "component=watch") {
		t.Errorf("attribute missing: %q", out)
	}
}
