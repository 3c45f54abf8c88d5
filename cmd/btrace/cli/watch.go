package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/btrace"
	"github.com/majorcontext/btrace/internal/config"
	"github.com/majorcontext/btrace/internal/log"
	"github.com/majorcontext/btrace/internal/observer"
	"github.com/majorcontext/btrace/internal/procid"
	"github.com/majorcontext/btrace/internal/term"
)

var (
	watchLog      string
	watchManifest string
)

var watchCmd = &cobra.Command{
	Use:   "watch [flags] -- command [args...]",
	Short: "Run a command and record every exec in its subtree",
	Long: `Watch runs a command and appends a record for each program execution
observed in its process subtree, covering programs that do not link the
btrace library. Observed records share the log, format, and locking
discipline of library-written records.

Exec observation uses the kernel proc connector and requires Linux with
CAP_NET_ADMIN or root.`,
	Args: cobra.ArbitraryArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchLog, "log", "o", "", "trace log path (default: manifest, then $BTRACE_LOG)")
	watchCmd.Flags().StringVar(&watchManifest, "manifest", "", "manifest file (default ./"+config.ManifestName+")")
}

func runWatch(cmd *cobra.Command, args []string) error {
	m, err := loadManifest(watchManifest)
	if err != nil {
		return err
	}
	args = commandLine(args, m)
	if len(args) == 0 {
		return fmt.Errorf("no command given; pass one after -- or set command in %s", config.ManifestName)
	}

	logPath := resolveLogPath(watchLog, m)
	if logPath == "" {
		return fmt.Errorf("no trace log; pass --log, set %s, or add log to %s", btrace.LogEnvVar, config.ManifestName)
	}

	boot, err := procid.BootTick(procid.DefaultProcFS)
	if err != nil {
		return err
	}

	child := exec.Command(args[0], args[1:]...)
	child.Env = append(os.Environ(), btrace.LogEnvVar+"="+logPath)
	for k, v := range m.Env {
		child.Env = append(child.Env, k+"="+v)
	}

	interactive := term.IsTerminal(os.Stdin)
	var ptmx *os.File
	var rawState *term.RawModeState
	if interactive {
		ptmx, err = pty.Start(child)
		if err != nil {
			return fmt.Errorf("starting %s: %w", args[0], err)
		}
		defer ptmx.Close()

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		go func() {
			for range winch {
				_ = pty.InheritSize(os.Stdin, ptmx)
			}
		}()
		winch <- syscall.SIGWINCH
		defer signal.Stop(winch)

		rawState, err = term.EnableRawMode(os.Stdin)
		if err != nil {
			log.Debug("raw mode unavailable", "error", err)
		}
		defer term.RestoreTerminal(rawState)

		// Never returns; the process exits before stdin closes.
		go func() {
			_, _ = io.Copy(ptmx, os.Stdin)
		}()
	} else {
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		if err := child.Start(); err != nil {
			return fmt.Errorf("starting %s: %w", args[0], err)
		}
	}

	tracer, err := observer.New(observer.Config{PID: child.Process.Pid, BootTick: boot})
	if err == nil {
		err = tracer.Start()
	}
	if err != nil {
		_ = child.Process.Kill()
		_ = child.Wait()
		return fmt.Errorf("starting exec observer: %w", err)
	}

	sink := &observer.Sink{Path: logPath}

	// The observer attaches after the child has already exec'd, so record
	// the root command ourselves; descendants arrive through the observer.
	count := 0
	if ev := rootEvent(child.Process.Pid, boot, args); ev != nil {
		if err := sink.Append(*ev); err != nil {
			return fmt.Errorf("recording root exec: %w", err)
		}
		count++
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		for ev := range tracer.Events() {
			if err := sink.Append(ev); err != nil {
				return err
			}
			count++
			log.Debug("recorded exec", "pid", ev.PID, "command", ev.CommandLine())
		}
		return nil
	})
	if interactive {
		g.Go(func() error {
			// EIO is how the pty reports child exit.
			_, _ = io.Copy(os.Stdout, ptmx)
			return nil
		})
	}

	waitErr := child.Wait()
	if stopErr := tracer.Stop(); stopErr != nil {
		log.Warn("stopping exec observer", "error", stopErr)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("recording events: %w", err)
	}

	if rawState != nil {
		_ = term.RestoreTerminal(rawState)
	}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("btrace: recorded %d exec(s) to %s\n", count, logPath)
	} else {
		log.Info("watch finished", "execs", count, "log", logPath)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("%s exited with status %d", args[0], exitErr.ExitCode())
		}
		return fmt.Errorf("waiting for %s: %w", args[0], waitErr)
	}
	return nil
}

// rootEvent builds the record for the watched command itself. The child may
// finish before its procfs entries are read; the root record is then
// skipped rather than failing the run.
func rootEvent(pid int, boot uint64, args []string) *observer.ExecEvent {
	ids := procid.Reader{BootTick: boot}
	self, err := ids.Stat(pid)
	if err != nil {
		return nil
	}
	parentTick, err := ids.StartTick(self.PPID)
	if err != nil {
		parentTick = 0
	}
	filename := args[0]
	if resolved, err := exec.LookPath(args[0]); err == nil {
		filename = resolved
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	return &observer.ExecEvent{
		Time:            time.Now(),
		PID:             pid,
		StartTick:       self.StartTick,
		ParentPID:       self.PPID,
		ParentStartTick: parentTick,
		WorkingDir:      cwd,
		Filename:        filename,
		Argv:            args,
	}
}
