package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"pkt.systems/pslog"
)

var errAbandoned = errors.New("debugger process abandoned")

// process is one running debugger. Wait is reaped exactly once and may be
// observed by any number of callers.
type process struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	log     pslog.Logger
	started time.Time

	reapOnce sync.Once
	done     chan struct{}
	waitErr  error

	abandonOnce sync.Once
	abandoned   chan struct{}
}

type spawnRequest struct {
	args        []string
	env         []string
	stdinPath   string
	killTimeout time.Duration
}

func startProcess(ctx context.Context, req spawnRequest, log pslog.Logger) (*process, error) {
	if len(req.args) == 0 || strings.TrimSpace(req.args[0]) == "" {
		return nil, errors.New("empty debugger command")
	}
	if log != nil {
		log.Info("debugger start", "args", req.args, "stdin", req.stdinPath != "")
	}
	cmd := exec.CommandContext(ctx, req.args[0], req.args[1:]...)
	cmd.Env = req.env
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.WaitDelay = req.killTimeout

	var stdin *os.File
	if req.stdinPath != "" {
		f, err := os.Open(req.stdinPath)
		if err != nil {
			return nil, fmt.Errorf("open debugger input: %w", err)
		}
		stdin = f
		cmd.Stdin = f
	}
	closeStdin := func() {
		if stdin != nil {
			_ = stdin.Close()
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeStdin()
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeStdin()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		closeStdin()
		if log != nil {
			log.Error("debugger start failed", "err", err)
		}
		return nil, err
	}
	closeStdin()
	if log != nil && cmd.Process != nil {
		log.Info("debugger started", "pid", cmd.Process.Pid)
	}
	go readStderr(stderr, log)
	return &process{
		cmd:       cmd,
		stdout:    stdout,
		log:       log,
		started:   time.Now(),
		done:      make(chan struct{}),
		abandoned: make(chan struct{}),
	}, nil
}

func readStderr(r io.Reader, log pslog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if log != nil {
			log.Debug("debugger stderr", "line", scanner.Text())
		}
	}
}

func (p *process) pid() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) reap() {
	p.reapOnce.Do(func() {
		go func() {
			err := p.cmd.Wait()
			p.waitErr = err
			p.logExit(err)
			close(p.done)
		}()
	})
}

// wait blocks until the process exits or is abandoned. Callers must have
// drained stdout first unless the output no longer matters.
func (p *process) wait() error {
	p.reap()
	select {
	case <-p.done:
		return p.waitErr
	case <-p.abandoned:
		return errAbandoned
	}
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// stop escalates terminate -> kill -> abandon, each step bounded. It
// reports whether the process had to be abandoned.
func (p *process) stop(terminateTimeout, killTimeout time.Duration) bool {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	p.reap()
	if p.exited() {
		return false
	}
	if p.log != nil {
		p.log.Info("debugger terminate", "pid", p.pid())
	}
	_ = p.cmd.Process.Signal(unix.SIGTERM)
	if p.waitFor(terminateTimeout) {
		return false
	}
	if p.log != nil {
		p.log.Warn("debugger kill", "pid", p.pid(), "after_ms", terminateTimeout.Milliseconds())
	}
	_ = p.cmd.Process.Kill()
	if p.waitFor(killTimeout) {
		return false
	}
	p.abandon()
	return true
}

func (p *process) waitFor(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// abandon stops tracking a process that survived SIGKILL. Its stdout is
// closed so the reader unblocks; the OS reparents whatever remains.
func (p *process) abandon() {
	p.abandonOnce.Do(func() {
		if p.log != nil {
			p.log.Error("debugger abandoned", "pid", p.pid())
		}
		_ = p.stdout.Close()
		_ = p.cmd.Process.Release()
		close(p.abandoned)
	})
}

func (p *process) logExit(err error) {
	if p.log == nil {
		return
	}
	exitCode, signal := exitStatus(err)
	fields := []any{
		"exit_code", exitCode,
		"duration_ms", time.Since(p.started).Milliseconds(),
	}
	if signal != "" {
		fields = append(fields, "signal", signal)
	}
	if err != nil {
		fields = append(fields, "err", err)
	}
	p.log.Info("debugger exited", fields...)
}

// exitStatus derives the exit code and terminating signal of a Wait error.
// Errors that are not exit statuses report code -1.
func exitStatus(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, ""
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return exitErr.ExitCode(), unix.SignalName(status.Signal())
	}
	return exitErr.ExitCode(), ""
}

// classifyExit turns a Wait error into a session error; nil means a clean exit.
func classifyExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code, signal := exitStatus(err)
		return &Error{Kind: ErrorExit, Op: "debugger", ExitCode: code, Signal: signal}
	}
	return newError(ErrorProcess, "debugger", err)
}

func filterEnv(env []string, keys ...string) []string {
	if len(env) == 0 {
		return env
	}
	out := make([]string, 0, len(env))
next:
	for _, entry := range env {
		for _, key := range keys {
			if strings.HasPrefix(entry, key+"=") {
				continue next
			}
		}
		out = append(out, entry)
	}
	return out
}
