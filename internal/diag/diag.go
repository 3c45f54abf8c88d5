// Package diag emits fatal diagnostics for the trace path.
//
// A tracer that cannot append its record has no safe fallback: continuing
// would silently drop provenance, so the only disposition is to write one
// diagnostic to the standard error descriptor and abort the process. The
// message is assembled into a single buffer and written with one system
// call; no formatted-output machinery is involved.
package diag

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/majorcontext/btrace/internal/safebuf"
)

// Fatal concatenates parts, appends a newline, writes the result to the
// standard error descriptor in a single call, and aborts the process.
// It does not return.
func Fatal(parts ...string) {
	buf := make([]byte, 0, safebuf.JoinLen(parts...)+1)
	buf = safebuf.Join(buf, parts...)
	buf = append(buf, '\n')
	for {
		_, err := unix.Write(unix.Stderr, buf)
		if err != unix.EINTR {
			break
		}
	}
	_ = unix.Kill(unix.Getpid(), unix.SIGABRT)
	// Reached only if SIGABRT is blocked or handled.
	os.Exit(134)
}
