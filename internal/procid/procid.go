// Package procid derives stable process identity from procfs.
//
// A pid alone is ambiguous — the kernel reuses them. The tuple
// (pid, start-tick-since-epoch) is stable: the kernel reports a process's
// start time in clock ticks since boot in field 22 of /proc/<pid>/stat, and
// adding the boot time converted to ticks yields a value that distinguishes
// reused pids across the life of the machine.
//
// Parsing the stat line is complicated by its second field, the executable
// name, which is parenthesized but may itself contain parentheses and
// spaces. Tokenizing left to right is therefore incorrect; like ps, the
// parser anchors on the rightmost ')' and walks fields from there.
package procid

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/tklauser/go-sysconf"
	"golang.org/x/sys/unix"

	"github.com/majorcontext/btrace/internal/safebuf"
)

// DefaultProcFS is the procfs mount point used when Reader.ProcFS is empty.
const DefaultProcFS = "/proc"

// statBufSize bounds the read of /proc/<pid>/stat. Fields 1-22 always fit
// in this window; ps relies on the same bound.
const statBufSize = 1024

// cwdBufStart and cwdBufLimit bound the readlink buffer for the working
// directory. The buffer doubles from cwdBufStart until the target fits
// strictly within it; a target that does not fit in cwdBufLimit is an error.
const (
	cwdBufStart = 256
	cwdBufLimit = 1 << 20
)

// Stat holds the identity-relevant fields of one /proc/<pid>/stat line.
type Stat struct {
	PID       int
	PPID      int
	StartTick uint64 // start time in ticks since the epoch
}

// Reader resolves process identity against a procfs mount.
// BootTick is the kernel boot time in ticks; it is added to the per-process
// start time so that StartTick values are epoch-relative.
type Reader struct {
	ProcFS   string
	BootTick uint64
}

func (r *Reader) procfs() string {
	if r.ProcFS == "" {
		return DefaultProcFS
	}
	return r.ProcFS
}

// Stat reads <procfs>/<pid>/stat and returns the pid's identity fields,
// with BootTick already folded into StartTick.
func (r *Reader) Stat(pid int) (Stat, error) {
	path := make([]byte, 0, len(r.procfs())+safebuf.UintBufLen+8)
	path = append(path, r.procfs()...)
	path = append(path, '/')
	path = safebuf.AppendUint(path, uint64(pid))
	path = append(path, "/stat"...)

	var fd int
	for {
		var err error
		fd, err = unix.Open(string(path), unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Stat{}, fmt.Errorf("opening %s: %w", path, err)
		}
		break
	}
	defer unix.Close(fd)

	var buf [statBufSize]byte
	var n int
	for {
		var err error
		n, err = unix.Read(fd, buf[:len(buf)-1])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Stat{}, fmt.Errorf("reading %s: %w", path, err)
		}
		break
	}

	ppid, sinceBoot, err := parseStat(buf[:n])
	if err != nil {
		return Stat{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return Stat{PID: pid, PPID: ppid, StartTick: r.BootTick + sinceBoot}, nil
}

// StartTick returns the start time of pid in ticks since the epoch.
func (r *Reader) StartTick(pid int) (uint64, error) {
	st, err := r.Stat(pid)
	if err != nil {
		return 0, err
	}
	return st.StartTick, nil
}

// parseStat extracts the ppid (field 4) and start time in ticks since boot
// (field 22) from a stat line. The executable name field ends at the
// rightmost ')'; the byte after the following space is field 3.
func parseStat(stat []byte) (ppid int, startTick uint64, err error) {
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 {
		return 0, 0, fmt.Errorf("no ')' in stat line")
	}
	if i+2 >= len(stat) || stat[i+1] != ' ' {
		return 0, 0, fmt.Errorf("stat line truncated after executable name")
	}
	p := stat[i+2:] // field 3, the state character

	// One space ahead lies field 4, the ppid.
	p, err = nextField(p, 3)
	if err != nil {
		return 0, 0, err
	}
	v, rest := safebuf.ParseUint(p)
	if len(rest) == len(p) {
		return 0, 0, fmt.Errorf("ppid field is not numeric")
	}
	ppid = int(v)

	// Fields 5 through 22: eighteen more space-delimited hops.
	for field := 4; field < 22; field++ {
		p, err = nextField(p, field)
		if err != nil {
			return 0, 0, err
		}
	}
	startTick, rest = safebuf.ParseUint(p)
	if len(rest) == len(p) {
		return 0, 0, fmt.Errorf("starttime field is not numeric")
	}
	if len(rest) == 0 || rest[0] != ' ' {
		return 0, 0, fmt.Errorf("starttime field is not terminated")
	}
	return ppid, startTick, nil
}

// nextField advances past the current space-delimited field.
func nextField(p []byte, field int) ([]byte, error) {
	sp := bytes.IndexByte(p, ' ')
	if sp < 0 {
		return nil, fmt.Errorf("stat line ends at field %d", field)
	}
	return p[sp+1:], nil
}

// Cwd returns the working directory of the calling process, read from the
// <procfs>/self/cwd symbolic link. The buffer doubles until the target fits
// strictly within it.
func (r *Reader) Cwd() (string, error) {
	link := r.procfs() + "/self/cwd"
	for size := cwdBufStart; size <= cwdBufLimit; size <<= 1 {
		buf := make([]byte, size)
		var n int
		for {
			var err error
			n, err = unix.Readlink(link, buf)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return "", fmt.Errorf("readlink %s: %w", link, err)
			}
			break
		}
		if n < size {
			return string(buf[:n]), nil
		}
	}
	return "", fmt.Errorf("symlink target of %s exceeds %d bytes", link, cwdBufLimit)
}

// BootTick returns the kernel boot time converted to clock ticks: the btime
// line of <procfs>/stat multiplied by the ticks-per-second system value.
func BootTick(procfs string) (uint64, error) {
	if procfs == "" {
		procfs = DefaultProcFS
	}
	tck, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil {
		return 0, fmt.Errorf("reading clock tick rate: %w", err)
	}
	if tck < 1 {
		return 0, fmt.Errorf("invalid clock tick rate %d", tck)
	}

	f, err := os.Open(procfs + "/stat")
	if err != nil {
		return 0, fmt.Errorf("opening %s/stat: %w", procfs, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		btime, rest := safebuf.ParseUint([]byte(line[len("btime "):]))
		if len(rest) == len(line)-len("btime ") {
			return 0, fmt.Errorf("malformed btime line in %s/stat", procfs)
		}
		boot := btime * uint64(tck)
		if boot == 0 {
			return 0, fmt.Errorf("zero btime in %s/stat", procfs)
		}
		return boot, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading %s/stat: %w", procfs, err)
	}
	return 0, fmt.Errorf("btime missing from %s/stat", procfs)
}
