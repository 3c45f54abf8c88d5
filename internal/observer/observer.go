// Package observer captures exec events for processes that do not link the
// tracer library.
//
// The library in the parent package only sees executions funneled through
// its own Exec calls. The observer covers the rest of a process subtree:
// on Linux it subscribes to the kernel's proc connector for fork/exec/exit
// notifications, resolves each exec to the same (pid, start-tick) identity
// tuple the library records, and hands the events to the caller. A Sink
// appends them to the shared trace log under the same locking discipline,
// so observed and library-written records never interleave.
//
// Requires CAP_NET_ADMIN or root on Linux. Other platforms get a stub whose
// Start fails.
package observer

import (
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/majorcontext/btrace/internal/logfile"
	"github.com/majorcontext/btrace/internal/record"
)

// Tracer captures program executions in a process subtree.
type Tracer interface {
	// Start begins capturing events.
	Start() error

	// Stop ends capture and closes the event channel.
	Stop() error

	// Events returns the channel of captured executions.
	Events() <-chan ExecEvent

	// OnExec registers a callback invoked for each execution.
	OnExec(func(ExecEvent))
}

// Config configures a tracer.
type Config struct {
	// PID roots the traced subtree. 0 captures every exec on the host.
	PID int

	// ProcFS is the procfs mount point; empty means /proc.
	ProcFS string

	// BootTick is the kernel boot time in clock ticks, folded into the
	// start-tick identity of every event.
	BootTick uint64
}

// ExecEvent is one observed program execution, carrying the same identity
// fields as a trace record.
type ExecEvent struct {
	Time            time.Time
	PID             int
	StartTick       uint64
	ParentPID       int
	ParentStartTick uint64
	WorkingDir      string
	Filename        string
	Argv            []string
}

// Record converts the event to its trace-log representation.
func (e ExecEvent) Record() record.Event {
	return record.Event{
		ParentPID:       e.ParentPID,
		ParentStartTick: e.ParentStartTick,
		SelfPID:         e.PID,
		SelfStartTick:   e.StartTick,
		Cwd:             e.WorkingDir,
		Filename:        e.Filename,
		Argv:            e.Argv,
	}
}

// CommandLine renders the argv as a shell-quoted string for display.
func (e ExecEvent) CommandLine() string {
	return shellquote.Join(e.Argv...)
}

// New creates the tracer for this platform. On Linux it uses the proc
// connector; elsewhere it returns a stub whose Start fails.
func New(cfg Config) (Tracer, error) {
	return newPlatformTracer(cfg)
}

// Sink appends observed events to the shared trace log. Each event gets its
// own locked session, so sink records are atomic with respect to every
// other writer of the log, in-process or not.
type Sink struct {
	Path string
}

// Append writes one event to the log.
func (k *Sink) Append(e ExecEvent) error {
	s, err := logfile.Open(k.Path)
	if err != nil {
		return err
	}
	if err := record.Write(s, e.Record()); err != nil {
		s.Close()
		return err
	}
	return s.Close()
}
