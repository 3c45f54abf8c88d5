package record

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/majorcontext/btrace/internal/logfile"
)

// writeToString writes ev through a real session and returns the bytes that
// land in the log.
func writeToString(t *testing.T, ev Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.log")
	s, err := logfile.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := Write(s, ev); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	return string(content)
}

func baseEvent() Event {
	return Event{
		ParentPID:       100,
		ParentStartTick: 5000,
		SelfPID:         200,
		SelfStartTick:   6000,
		Cwd:             "/w",
	}
}

func TestWrite(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		argv     []string
		want     string
	}{
		{
			name:     "plain",
			filename: "/bin/ls",
			argv:     []string{"ls", "-l"},
			want:     "exec\n100\n5000\n200\n6000\n/w\n/bin/ls\nls -l\n\n",
		},
		{
			name:     "argument with space",
			filename: "/bin/ls",
			argv:     []string{"ls", "a b"},
			want:     "exec\n100\n5000\n200\n6000\n/w\n/bin/ls\nls \"a b\"\n\n",
		},
		{
			name:     "argument with embedded quotes",
			filename: "sh",
			argv:     []string{"sh", "-c", `echo "hi"`},
			want:     "exec\n100\n5000\n200\n6000\n/w\nsh\nsh -c \"echo \\\"hi\\\"\"\n\n",
		},
		{
			name:     "empty argument vector",
			filename: "/bin/ls",
			argv:     nil,
			want:     "exec\n100\n5000\n200\n6000\n/w\n/bin/ls\n\n\n",
		},
		{
			name:     "backslash without whitespace stays unquoted",
			filename: "/bin/echo",
			argv:     []string{"echo", `a\b`},
			want:     "exec\n100\n5000\n200\n6000\n/w\n/bin/echo\necho a\\\\b\n\n",
		},
		{
			name:     "newline in argument",
			filename: "/bin/echo",
			argv:     []string{"echo", "a\nb"},
			want:     "exec\n100\n5000\n200\n6000\n/w\n/bin/echo\necho \"a\nb\"\n\n",
		},
		{
			name:     "empty argument string",
			filename: "/bin/true",
			argv:     []string{"true", ""},
			want:     "exec\n100\n5000\n200\n6000\n/w\n/bin/true\ntrue \n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := baseEvent()
			ev.Filename = tt.filename
			ev.Argv = tt.argv
			got := writeToString(t, ev)
			if got != tt.want {
				t.Errorf("record = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteQuotesCwdAndFilename(t *testing.T) {
	ev := baseEvent()
	ev.Cwd = "/my projects/x"
	ev.Filename = "/my projects/x/run me"
	ev.Argv = []string{"run me"}

	want := "exec\n100\n5000\n200\n6000\n" +
		"\"/my projects/x\"\n" +
		"\"/my projects/x/run me\"\n" +
		"\"run me\"\n\n"
	if got := writeToString(t, ev); got != want {
		t.Errorf("record = %q, want %q", got, want)
	}
}

// Records concatenate with no separator beyond the trailing blank line, and
// each block is exactly nine lines.
func TestRecordsConcatenate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")

	for _, argv := range [][]string{{"make"}, {"cc", "-c", "main.c"}} {
		s, err := logfile.Open(path)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		ev := baseEvent()
		ev.Filename = argv[0]
		ev.Argv = argv
		if err := Write(s, ev); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	blocks := strings.Split(string(content), "\n\n")
	// A trailing empty element follows the final blank line.
	if len(blocks) != 3 || blocks[2] != "" {
		t.Fatalf("got %d blocks, want 2 records and a trailing empty split", len(blocks)-1)
	}
	for i, block := range blocks[:2] {
		lines := strings.Split(block, "\n")
		if len(lines) != 8 {
			t.Errorf("record %d has %d lines before the blank line, want 8", i, len(lines))
		}
		if lines[0] != "exec" {
			t.Errorf("record %d starts with %q, want \"exec\"", i, lines[0])
		}
	}
}

// unquote reverses the record quoting: strip enclosing quotes, then map
// \\ and \" back to the plain characters.
func unquote(s string) string {
	if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") && len(s) >= 2 {
		s = s[1 : len(s)-1]
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '\\' || s[i+1] == '"') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func TestQuotingRoundTrip(t *testing.T) {
	values := []string{
		"plain",
		"has space",
		`back\slash`,
		`quo"te`,
		`mixed "a b" \ c`,
		"",
		"tab\tstays",
	}

	for _, v := range values {
		ev := baseEvent()
		ev.Filename = "/bin/true"
		ev.Argv = []string{v}
		got := writeToString(t, ev)

		lines := strings.Split(got, "\n")
		// Line 8 (index 7) holds the argument vector. Multi-line quoted
		// values are out of scope here; none of the inputs contain \n.
		if decoded := unquote(lines[7]); decoded != v {
			t.Errorf("round trip of %q = %q", v, decoded)
		}
	}
}
