package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// termEscalation is how long a terminate signal gets before the hard kill.
const termEscalation = 5 * time.Second

// ErrAlreadyRunning is returned by Start when a live handle exists.
var ErrAlreadyRunning = errors.New("instance already running")

// StartOptions carries the resolved launch parameters for one instance.
// The caller (action service) resolves binary, args, workdir and env; the
// supervisor only owns the OS process.
type StartOptions struct {
	Dir     string
	Env     []string
	Console io.Writer // interleaved stdout+stderr; nil discards
	// OnExit is invoked after the handle is removed. stopRequested reports
	// whether this supervisor initiated the shutdown, so callers can tell a
	// requested stop from a crash.
	OnExit func(exitErr error, stopRequested bool)
}

// handle wraps one live child process. done is closed by the reaper once
// cmd.Wait returns; exited flips before done closes so queries never treat a
// reaped process as running.
type handle struct {
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	done          chan struct{}
	exitErr       error
	exited        atomic.Bool
	stopRequested atomic.Bool
}

// Supervisor owns the OS process behind each instance: at most one live
// handle per instance name.
type Supervisor struct {
	mu      sync.Mutex
	handles map[string]*handle
	forced  map[string]bool // take-and-clear forced-kill markers
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		handles: make(map[string]*handle),
		forced:  make(map[string]bool),
		logger:  logger,
	}
}

// Start spawns the instance process with piped stdin and console output.
// It fails with ErrAlreadyRunning when a live handle exists and surfaces
// spawn errors synchronously; later crashes arrive via opts.OnExit only.
func (s *Supervisor) Start(name, bin string, args []string, opts StartOptions) (int, error) {
	s.mu.Lock()
	if h := s.handles[name]; h != nil && !h.exited.Load() {
		s.mu.Unlock()
		return 0, fmt.Errorf("%s: %w", name, ErrAlreadyRunning)
	}

	// #nosec G204 -- bin/args are resolved by the action service from config
	cmd := exec.Command(bin, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	configureSysProcAttr(cmd)
	out := opts.Console
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("spawn %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		_ = stdin.Close()
		return 0, fmt.Errorf("spawn %s: %w", name, err)
	}
	h := &handle{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	s.handles[name] = h
	s.mu.Unlock()

	go s.reap(name, h, opts.OnExit)
	return cmd.Process.Pid, nil
}

// reap waits for the child and removes the handle. Cleanup runs on every
// exit path and is idempotent: a newer handle for the same name is left
// untouched.
func (s *Supervisor) reap(name string, h *handle, onExit func(error, bool)) {
	err := h.cmd.Wait()
	h.exitErr = err
	h.exited.Store(true)
	close(h.done)
	_ = h.stdin.Close()

	s.mu.Lock()
	if s.handles[name] == h {
		delete(s.handles, name)
	}
	s.mu.Unlock()

	if onExit != nil {
		onExit(err, h.stopRequested.Load())
	}
}

func (s *Supervisor) get(name string) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[name]
}

// Stop terminates the instance's process group, escalating to a hard kill
// after 5 seconds. It returns whether a live process was actually targeted.
func (s *Supervisor) Stop(name string) bool {
	h := s.get(name)
	if h == nil || h.exited.Load() {
		return false
	}
	h.stopRequested.Store(true)
	pid := h.cmd.Process.Pid
	if err := terminateGroup(pid); err != nil {
		// Terminate unsupported or already gone; fall straight to kill.
		_ = killGroup(pid)
	}
	select {
	case <-h.done:
		return true
	case <-time.After(termEscalation):
	}
	s.logger.Warn("terminate timed out, escalating to kill", "instance", name, "pid", pid)
	s.markForced(name)
	_ = killGroup(pid)
	select {
	case <-h.done:
	case <-time.After(200 * time.Millisecond):
		// best-effort; the reaper will finish cleanup
	}
	return true
}

// StopGracefully writes the textual "stop" command to the process's stdin
// and waits up to timeout for a natural exit. A failed write falls back to
// Stop immediately; a timeout marks the instance force-killed and escalates.
// It returns whether a live process was targeted.
func (s *Supervisor) StopGracefully(name string, timeout time.Duration) bool {
	h := s.get(name)
	if h == nil || h.exited.Load() {
		return false
	}
	h.stopRequested.Store(true)
	if _, err := io.WriteString(h.stdin, "stop\n"); err != nil {
		s.logger.Debug("stdin not writable, falling back to terminate", "instance", name, "err", err)
		return s.Stop(name)
	}
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
	}
	s.logger.Warn("graceful stop timed out", "instance", name, "timeout", timeout)
	s.markForced(name)
	return s.Stop(name)
}

// SendCommand writes one line to the instance's stdin. Best effort: false
// when the instance is not running or the channel is not writable.
func (s *Supervisor) SendCommand(name, text string) bool {
	h := s.get(name)
	if h == nil || h.exited.Load() {
		return false
	}
	_, err := io.WriteString(h.stdin, text+"\n")
	return err == nil
}

// IsRunning reports whether a live handle exists. A handle whose exit has
// been observed counts as not running even before the reaper removes it.
func (s *Supervisor) IsRunning(name string) bool {
	h := s.get(name)
	return h != nil && !h.exited.Load()
}

// GetPid returns the pid of the live process, if any.
func (s *Supervisor) GetPid(name string) (int, bool) {
	h := s.get(name)
	if h == nil || h.exited.Load() {
		return 0, false
	}
	return h.cmd.Process.Pid, true
}

// Names lists instances with a current handle.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.handles))
	for n := range s.handles {
		out = append(out, n)
	}
	return out
}

func (s *Supervisor) markForced(name string) {
	s.mu.Lock()
	s.forced[name] = true
	s.mu.Unlock()
}

// TakeForcedKill reports whether the most recent stop escalated to a hard
// kill, clearing the marker so it is readable exactly once.
func (s *Supervisor) TakeForcedKill(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.forced[name]
	delete(s.forced, name)
	return v
}
