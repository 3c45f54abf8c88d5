// Package record composes the execution records appended to the trace log.
//
// One record is a nine-line ASCII block:
//
//	exec
//	<parent pid>
//	<parent start-tick-since-epoch>
//	<self pid>
//	<self start-tick-since-epoch>
//	<cwd>
//	<program filename>
//	<arg0> <arg1> ... <argN-1>
//	<blank line>
//
// Records are concatenated with no separator beyond the trailing blank
// line; consumers split on blank lines and read each block by position.
// The cwd, filename, and every argument are quoted when they contain a
// space or newline, with backslashes and double quotes backslash-escaped,
// so the argument line survives values with embedded whitespace.
package record

import (
	"strings"

	"github.com/majorcontext/btrace/internal/logfile"
	"github.com/majorcontext/btrace/internal/safebuf"
)

// Event describes one program-replacement call.
type Event struct {
	ParentPID       int
	ParentStartTick uint64
	SelfPID         int
	SelfStartTick   uint64
	Cwd             string
	Filename        string
	Argv            []string
}

// Write appends ev to the session as a single record. The session's lock
// makes the whole block atomic with respect to other writers.
func Write(s *logfile.Session, ev Event) error {
	if err := s.WriteString("exec\n"); err != nil {
		return err
	}
	if err := writeUintLine(s, uint64(ev.ParentPID)); err != nil {
		return err
	}
	if err := writeUintLine(s, ev.ParentStartTick); err != nil {
		return err
	}
	if err := writeUintLine(s, uint64(ev.SelfPID)); err != nil {
		return err
	}
	if err := writeUintLine(s, ev.SelfStartTick); err != nil {
		return err
	}
	if err := writeQuoted(s, ev.Cwd); err != nil {
		return err
	}
	if err := s.WriteByte('\n'); err != nil {
		return err
	}
	if err := writeQuoted(s, ev.Filename); err != nil {
		return err
	}
	if err := s.WriteByte('\n'); err != nil {
		return err
	}
	for i, arg := range ev.Argv {
		if i > 0 {
			if err := s.WriteByte(' '); err != nil {
				return err
			}
		}
		if err := writeQuoted(s, arg); err != nil {
			return err
		}
	}
	if err := s.WriteByte('\n'); err != nil {
		return err
	}
	return s.WriteByte('\n')
}

func writeUintLine(s *logfile.Session, v uint64) error {
	var buf [safebuf.UintBufLen]byte
	if _, err := s.Write(safebuf.AppendUint(buf[:0], v)); err != nil {
		return err
	}
	return s.WriteByte('\n')
}

// writeQuoted writes value, surrounding it with double quotes when it
// contains a space or newline and escaping every backslash and double
// quote. All other bytes pass through verbatim.
func writeQuoted(s *logfile.Session, value string) error {
	needsQuotes := strings.IndexByte(value, ' ') >= 0 ||
		strings.IndexByte(value, '\n') >= 0
	if needsQuotes {
		if err := s.WriteByte('"'); err != nil {
			return err
		}
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\\' || c == '"' {
			if err := s.WriteByte('\\'); err != nil {
				return err
			}
		}
		if err := s.WriteByte(c); err != nil {
			return err
		}
	}
	if needsQuotes {
		return s.WriteByte('"')
	}
	return nil
}
