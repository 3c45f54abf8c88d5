//go:build linux

package observer

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/majorcontext/btrace/internal/procid"
	"github.com/majorcontext/btrace/internal/safebuf"
)

// Netlink connector constants from linux/cn_proc.h.
const (
	cnIdxProc = 0x1
	cnValProc = 0x1

	procEventFork = 0x00000001
	procEventExec = 0x00000002
	procEventExit = 0x80000000

	procCnMcastListen = 1
	procCnMcastIgnore = 2

	netlinkConnector = 11
)

// staleSweepInterval is how often the tracked-pid set is checked against
// procfs, covering exit events lost to socket overruns.
const staleSweepInterval = 60 * time.Second

// ProcConnectorTracer observes executions through the Linux proc connector.
type ProcConnectorTracer struct {
	config    Config
	ids       procid.Reader
	sock      int
	events    chan ExecEvent
	callbacks []func(ExecEvent)
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	started   bool
	stopped   bool

	// Pids in the traced subtree, grown on fork, shrunk on exit.
	tracked   map[int]bool
	pidMu     sync.RWMutex
	lastSweep time.Time

	dropped int64
}

// NewProcConnectorTracer creates a proc connector tracer.
func NewProcConnectorTracer(cfg Config) (*ProcConnectorTracer, error) {
	return &ProcConnectorTracer{
		config:  cfg,
		ids:     procid.Reader{ProcFS: cfg.ProcFS, BootTick: cfg.BootTick},
		events:  make(chan ExecEvent, 100),
		done:    make(chan struct{}),
		tracked: make(map[int]bool),
	}, nil
}

func newPlatformTracer(cfg Config) (Tracer, error) {
	return NewProcConnectorTracer(cfg)
}

func (t *ProcConnectorTracer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("tracer already started")
	}

	sock, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_DGRAM, netlinkConnector)
	if err != nil {
		return fmt.Errorf("create netlink socket: %w (requires CAP_NET_ADMIN or root)", err)
	}
	t.sock = sock

	addr := &syscall.SockaddrNetlink{
		Family: syscall.AF_NETLINK,
		Groups: cnIdxProc,
		Pid:    uint32(syscall.Getpid()),
	}
	if err := syscall.Bind(sock, addr); err != nil {
		syscall.Close(sock)
		return fmt.Errorf("bind netlink socket: %w", err)
	}

	if err := t.subscribe(true); err != nil {
		syscall.Close(sock)
		return fmt.Errorf("subscribe to process events: %w", err)
	}

	if t.config.PID > 0 {
		t.tracked[t.config.PID] = true
	}

	t.started = true
	t.wg.Add(1)
	go t.readLoop()

	return nil
}

func (t *ProcConnectorTracer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started || t.stopped {
		return nil
	}

	t.stopped = true
	close(t.done)
	_ = t.subscribe(false)
	syscall.Close(t.sock)

	t.wg.Wait()
	close(t.events)
	t.started = false

	if t.dropped > 0 {
		slog.Debug("observer stopped", "dropped_events", t.dropped)
	}

	return nil
}

func (t *ProcConnectorTracer) Events() <-chan ExecEvent {
	return t.events
}

func (t *ProcConnectorTracer) OnExec(cb func(ExecEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// subscribe toggles membership in the proc-event multicast group.
// The message is nlmsghdr(16) + cn_msg(20) + op(4).
func (t *ProcConnectorTracer) subscribe(listen bool) error {
	op := uint32(procCnMcastIgnore)
	if listen {
		op = uint32(procCnMcastListen)
	}

	buf := make([]byte, 40)
	binary.LittleEndian.PutUint32(buf[0:], 40)
	binary.LittleEndian.PutUint16(buf[4:], syscall.NLMSG_DONE)
	binary.LittleEndian.PutUint16(buf[6:], 0)
	binary.LittleEndian.PutUint32(buf[8:], 1)
	binary.LittleEndian.PutUint32(buf[12:], uint32(syscall.Getpid()))

	binary.LittleEndian.PutUint32(buf[16:], cnIdxProc)
	binary.LittleEndian.PutUint32(buf[20:], cnValProc)
	binary.LittleEndian.PutUint32(buf[24:], 1)
	binary.LittleEndian.PutUint32(buf[28:], 0)
	binary.LittleEndian.PutUint16(buf[32:], 4)
	binary.LittleEndian.PutUint16(buf[34:], 0)

	binary.LittleEndian.PutUint32(buf[36:], op)

	addr := &syscall.SockaddrNetlink{
		Family: syscall.AF_NETLINK,
		Groups: cnIdxProc,
		Pid:    0,
	}
	return syscall.Sendto(t.sock, buf, 0, addr)
}

func (t *ProcConnectorTracer) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, 4096)
	consecutiveErrors := 0
	const maxConsecutiveErrors = 10

	for {
		select {
		case <-t.done:
			return
		default:
		}

		if time.Since(t.lastSweep) > staleSweepInterval {
			t.sweepStalePids()
		}

		// A receive timeout keeps the done channel responsive.
		tv := syscall.Timeval{Sec: 1, Usec: 0}
		if err := syscall.SetsockoptTimeval(t.sock, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
			slog.Debug("failed to set socket timeout", "error", err)
		}

		n, _, err := syscall.Recvfrom(t.sock, buf, 0)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				consecutiveErrors = 0
				continue
			}
			select {
			case <-t.done:
				return
			default:
				consecutiveErrors++
				if consecutiveErrors >= maxConsecutiveErrors {
					slog.Error("too many consecutive netlink errors, stopping observer",
						"error", err, "count", consecutiveErrors)
					return
				}
				slog.Debug("error reading from netlink socket", "error", err)
				continue
			}
		}
		consecutiveErrors = 0

		if n >= 52 { // nlmsghdr(16) + cn_msg(20) + proc_event header(16)
			t.parseMessage(buf[:n])
		}
	}
}

func (t *ProcConnectorTracer) parseMessage(buf []byte) {
	// Skip the netlink and connector headers.
	offset := 36

	if len(buf) < offset+16 {
		return
	}

	what := binary.LittleEndian.Uint32(buf[offset:])
	offset += 16 // what(4) + cpu(4) + timestamp(8)

	switch what {
	case procEventExec:
		if len(buf) < offset+8 {
			return
		}
		pid := int(binary.LittleEndian.Uint32(buf[offset:]))

		if t.shouldTrack(pid) {
			if ev := t.buildEvent(pid); ev != nil {
				t.emit(*ev)
			}
		}

	case procEventFork:
		if len(buf) < offset+16 {
			return
		}
		parentPid := int(binary.LittleEndian.Uint32(buf[offset:]))
		childPid := int(binary.LittleEndian.Uint32(buf[offset+8:]))

		t.pidMu.RLock()
		tracked := t.tracked[parentPid]
		t.pidMu.RUnlock()
		if tracked {
			t.pidMu.Lock()
			t.tracked[childPid] = true
			t.pidMu.Unlock()
		}

	case procEventExit:
		if len(buf) < offset+8 {
			return
		}
		pid := int(binary.LittleEndian.Uint32(buf[offset:]))
		t.pidMu.Lock()
		delete(t.tracked, pid)
		t.pidMu.Unlock()
	}
}

func (t *ProcConnectorTracer) shouldTrack(pid int) bool {
	if t.config.PID == 0 {
		return true
	}

	t.pidMu.RLock()
	tracked := t.tracked[pid]
	t.pidMu.RUnlock()
	return tracked
}

// sweepStalePids drops tracked pids that no longer exist in procfs,
// covering exit notifications lost to receive-buffer overruns.
func (t *ProcConnectorTracer) sweepStalePids() {
	t.pidMu.Lock()
	defer t.pidMu.Unlock()

	for pid := range t.tracked {
		if _, err := os.Stat(t.procDir(pid)); os.IsNotExist(err) {
			delete(t.tracked, pid)
		}
	}
	t.lastSweep = time.Now()
}

func (t *ProcConnectorTracer) procDir(pid int) string {
	procfs := t.config.ProcFS
	if procfs == "" {
		procfs = procid.DefaultProcFS
	}
	p := make([]byte, 0, len(procfs)+safebuf.UintBufLen+1)
	p = append(p, procfs...)
	p = append(p, '/')
	return string(safebuf.AppendUint(p, uint64(pid)))
}

// buildEvent resolves an exec notification to a full event. The process may
// exit before its procfs entries are read; such events are dropped.
func (t *ProcConnectorTracer) buildEvent(pid int) *ExecEvent {
	self, err := t.ids.Stat(pid)
	if err != nil {
		return nil
	}

	procDir := t.procDir(pid)

	cmdline, err := os.ReadFile(procDir + "/cmdline")
	if err != nil {
		return nil
	}
	var argv []string
	if trimmed := strings.TrimRight(string(cmdline), "\x00"); trimmed != "" {
		argv = strings.Split(trimmed, "\x00")
	}

	filename, err := os.Readlink(procDir + "/exe")
	if err != nil {
		if len(argv) == 0 {
			return nil
		}
		filename = argv[0]
	}

	cwd, _ := os.Readlink(procDir + "/cwd")

	// The parent may already be gone; its start-tick is then zero.
	parentTick, err := t.ids.StartTick(self.PPID)
	if err != nil {
		parentTick = 0
	}

	return &ExecEvent{
		Time:            time.Now(),
		PID:             pid,
		StartTick:       self.StartTick,
		ParentPID:       self.PPID,
		ParentStartTick: parentTick,
		WorkingDir:      cwd,
		Filename:        filename,
		Argv:            argv,
	}
}

func (t *ProcConnectorTracer) emit(ev ExecEvent) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	cbs := make([]func(ExecEvent), len(t.callbacks))
	copy(cbs, t.callbacks)

	// Non-blocking send under the lock so Stop cannot race the channel close.
	select {
	case t.events <- ev:
	default:
		t.dropped++
	}
	t.mu.Unlock()

	// Callbacks run outside the lock.
	for _, cb := range cbs {
		cb(ev)
	}
}

var _ Tracer = (*ProcConnectorTracer)(nil)
