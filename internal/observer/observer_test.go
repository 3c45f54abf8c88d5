package observer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/majorcontext/btrace/internal/record"
)

func TestExecEventRecord(t *testing.T) {
	ev := ExecEvent{
		Time:            time.Now(),
		PID:             200,
		StartTick:       6000,
		ParentPID:       100,
		ParentStartTick: 5000,
		WorkingDir:      "/w",
		Filename:        "/bin/ls",
		Argv:            []string{"ls", "-l"},
	}

	want := record.Event{
		ParentPID:       100,
		ParentStartTick: 5000,
		SelfPID:         200,
		SelfStartTick:   6000,
		Cwd:             "/w",
		Filename:        "/bin/ls",
		Argv:            []string{"ls", "-l"},
	}

	got := ev.Record()
	if got.ParentPID != want.ParentPID ||
		got.ParentStartTick != want.ParentStartTick ||
		got.SelfPID != want.SelfPID ||
		got.SelfStartTick != want.SelfStartTick ||
		got.Cwd != want.Cwd ||
		got.Filename != want.Filename {
		t.Errorf("Record() = %+v, want %+v", got, want)
	}
	if len(got.Argv) != 2 || got.Argv[0] != "ls" || got.Argv[1] != "-l" {
		t.Errorf("Record().Argv = %v, want [ls -l]", got.Argv)
	}
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		argv []string
		want string
	}{
		{[]string{"ls", "-l"}, "ls -l"},
		{[]string{"sh", "-c", "echo hi"}, "sh -c 'echo hi'"},
		{nil, ""},
	}

	for _, tt := range tests {
		ev := ExecEvent{Argv: tt.argv}
		if got := ev.CommandLine(); got != tt.want {
			t.Errorf("CommandLine(%v) = %q, want %q", tt.argv, got, tt.want)
		}
	}
}

func TestSinkAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	sink := &Sink{Path: path}

	ev := ExecEvent{
		PID:             200,
		StartTick:       6000,
		ParentPID:       100,
		ParentStartTick: 5000,
		WorkingDir:      "/w",
		Filename:        "/bin/ls",
		Argv:            []string{"ls", "-l"},
	}
	if err := sink.Append(ev); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	want := "exec\n100\n5000\n200\n6000\n/w\n/bin/ls\nls -l\n\n"
	if string(content) != want {
		t.Errorf("sink wrote %q, want %q", content, want)
	}
}

func TestSinkAppendUnreachableLog(t *testing.T) {
	sink := &Sink{Path: filepath.Join(t.TempDir(), "missing", "t.log")}
	if err := sink.Append(ExecEvent{}); err == nil {
		t.Fatal("expected error for unreachable log")
	}
	if err := sink.Append(ExecEvent{}); err == nil || !strings.Contains(err.Error(), "trace log") {
		t.Errorf("unexpected error shape: %v", err)
	}
}
