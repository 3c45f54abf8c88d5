// Package btrace traces program-replacement calls for build provenance.
//
// Every Exec function appends a record describing the calling process and
// the new program image to the log named by the BTRACE_LOG environment
// variable, then replaces the process image with the raw execve system
// call. The variable is inherited across program replacement, so every
// descendant that execs through this package extends the same trace, and
// the log reconstructs the parent/child relationships and command lines of
// an entire build after the fact.
//
// When BTRACE_LOG is unset, empty, or 1024 bytes or longer, the package is
// a pass-through: no log file is created, no identity is collected, and the
// Exec functions behave exactly like the underlying system calls.
//
// A failure to append — the log unopenable, the lock unobtainable, the
// procfs identity unreadable — aborts the process with a diagnostic on
// standard error. A tracer that silently dropped records would corrupt the
// provenance it exists to provide.
package btrace

import (
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/majorcontext/btrace/internal/diag"
	"github.com/majorcontext/btrace/internal/logfile"
	"github.com/majorcontext/btrace/internal/procid"
	"github.com/majorcontext/btrace/internal/record"
)

// LogEnvVar names the environment variable holding the trace log path.
const LogEnvVar = "BTRACE_LOG"

// maxLogPath bounds accepted BTRACE_LOG values. Values of maxLogPath bytes
// or longer are ignored and leave tracing disabled.
const maxLogPath = 1024

// shim is the process-wide tracer state. It is populated exactly once,
// before the first record is written, and is read-only afterwards, so Exec
// calls from any goroutine need no further synchronization.
type shim struct {
	logPath string // empty means disabled
	ids     procid.Reader
	execve  func(path string, argv, envp []string) error
	execvpe func(file string, argv, envp []string) error
}

var (
	global   shim
	initOnce sync.Once
)

func ensureInit() *shim {
	initOnce.Do(func() {
		global.init(os.Getenv(LogEnvVar))
	})
	return &global
}

func (sh *shim) init(logPath string) {
	// The real implementations are bound statically; there is no symbol
	// resolution to fail.
	sh.execve = unix.Exec
	sh.execvpe = execvpe

	if logPath == "" || len(logPath) >= maxLogPath {
		return
	}
	sh.logPath = logPath

	boot, err := procid.BootTick(procid.DefaultProcFS)
	if err != nil {
		diag.Fatal("btrace: ", err.Error())
	}
	sh.ids = procid.Reader{BootTick: boot}
}

// execvpe searches PATH for file, then replaces the process image.
func execvpe(file string, argv, envp []string) error {
	path, err := exec.LookPath(file)
	if err != nil {
		return err
	}
	return unix.Exec(path, argv, envp)
}

// Enabled reports whether this process appends trace records.
func Enabled() bool {
	return ensureInit().logPath != ""
}

// LogPath returns the active trace log path, or "" when tracing is
// disabled.
func LogPath() string {
	return ensureInit().logPath
}

// logExecution appends one record for an imminent program replacement.
// Any failure past this point is fatal; see the package comment.
func (sh *shim) logExecution(filename string, argv []string) {
	if sh.logPath == "" {
		return
	}

	self, err := sh.ids.Stat(os.Getpid())
	if err != nil {
		diag.Fatal("btrace: ", err.Error())
	}
	parentTick, err := sh.ids.StartTick(os.Getppid())
	if err != nil {
		diag.Fatal("btrace: ", err.Error())
	}
	cwd, err := sh.ids.Cwd()
	if err != nil {
		diag.Fatal("btrace: ", err.Error())
	}

	s, err := logfile.Open(sh.logPath)
	if err != nil {
		diag.Fatal("btrace: ", err.Error())
	}
	ev := record.Event{
		ParentPID:       os.Getppid(),
		ParentStartTick: parentTick,
		SelfPID:         self.PID,
		SelfStartTick:   self.StartTick,
		Cwd:             cwd,
		Filename:        filename,
		Argv:            argv,
	}
	if err := record.Write(s, ev); err != nil {
		diag.Fatal("btrace: ", err.Error())
	}
	if err := s.Close(); err != nil {
		diag.Fatal("btrace: ", err.Error())
	}
}
