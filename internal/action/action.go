// Package action orchestrates instance lifecycle requests: it resolves the
// command line, drives the process supervisor, keeps the runtime state store
// truthful, and publishes lifecycle events in the order collaborators rely on.
package action

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/slumber/internal/env"
	"github.com/loykin/slumber/internal/events"
	"github.com/loykin/slumber/internal/logsink"
	"github.com/loykin/slumber/internal/metrics"
	"github.com/loykin/slumber/internal/props"
	"github.com/loykin/slumber/internal/registry"
	"github.com/loykin/slumber/internal/state"
	"github.com/loykin/slumber/internal/supervisor"
)

var (
	ErrUnknownInstance = errors.New("unknown instance")
	ErrEulaNotAccepted = errors.New("eula not accepted")
)

// PortGuard is anything holding the instance's game port that must let go
// before the real process binds it. Release blocks until the port is free.
type PortGuard interface {
	Release(instance string)
}

// Result is the caller-facing outcome of a lifecycle request.
type Result struct {
	Status state.Status `json:"status"`
	PID    int          `json:"pid,omitempty"`
}

// Service implements start/stop/restart on behalf of external callers.
type Service struct {
	reg       *registry.Registry
	sup       *supervisor.Supervisor
	st        *state.Store
	bus       *events.Bus
	sink      *logsink.Sink
	logger    *slog.Logger
	globalEnv []string
	guard     PortGuard

	mu     sync.Mutex
	settle map[string]*sync.Mutex // serializes Start's running write with the exit handler
}

func NewService(reg *registry.Registry, sup *supervisor.Supervisor, st *state.Store, bus *events.Bus, sink *logsink.Sink, globalEnv []string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		reg:       reg,
		sup:       sup,
		st:        st,
		bus:       bus,
		sink:      sink,
		globalEnv: globalEnv,
		logger:    logger,
		settle:    make(map[string]*sync.Mutex),
	}
}

func (a *Service) settleLock(name string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l := a.settle[name]
	if l == nil {
		l = &sync.Mutex{}
		a.settle[name] = l
	}
	return l
}

// SetPortGuard wires the wake listener after construction; the listener in
// turn depends on services built from this one.
func (a *Service) SetPortGuard(g PortGuard) { a.guard = g }

// Start launches the instance. The `starting` event is published and the
// port guard released before the process is spawned, so the wake listener
// can never race the real server for the game port.
func (a *Service) Start(name string) (Result, error) {
	in, ok := a.reg.GetInstance(name)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", name, ErrUnknownInstance)
	}
	if a.sup.IsRunning(name) {
		return Result{}, fmt.Errorf("%s: %w", name, supervisor.ErrAlreadyRunning)
	}
	if in.Dir != "" && !props.EulaAccepted(in.Dir) {
		return Result{}, fmt.Errorf("%s: %w", name, ErrEulaNotAccepted)
	}

	a.st.SetStartInProgress(name, true)
	defer a.st.SetStartInProgress(name, false)

	a.st.UpdateStatus(name, state.StatusStarting)
	a.bus.Publish(events.Event{Instance: name, Type: events.Starting})
	if a.guard != nil {
		a.guard.Release(name)
	}

	bin, args := in.BuildCommand()
	pid, err := a.sup.Start(name, bin, args, supervisor.StartOptions{
		Dir:     in.Dir,
		Env:     env.Merge(a.globalEnv, in.Env),
		Console: a.sink.ConsoleWriter(name),
		OnExit:  a.exitHandler(name),
	})
	if err != nil {
		a.st.UpdateStatus(name, state.StatusError)
		a.bus.Publish(events.Event{Instance: name, Type: events.StartFailed, Reason: err.Error()})
		a.sink.Append(name, "[slumber] start failed: "+err.Error())
		a.logger.Error("instance start failed", "instance", name, "err", err)
		return Result{Status: state.StatusError}, err
	}

	a.st.SetPID(name, pid)
	// The reaper can fire the exit handler before we get here when the
	// process dies instantly; the settle lock plus liveness check keep its
	// terminal transition from being overwritten with running.
	l := a.settleLock(name)
	l.Lock()
	alive := a.sup.IsRunning(name)
	if alive {
		a.st.UpdateStatus(name, state.StatusRunning)
	}
	l.Unlock()
	if !alive {
		st := a.st.Get(name).Status
		a.logger.Warn("instance exited immediately after start", "instance", name, "pid", pid, "status", st)
		return Result{Status: st, PID: pid}, nil
	}
	a.bus.Publish(events.Event{Instance: name, Type: events.Started, PID: pid})
	metrics.IncStart(name)
	a.logger.Info("instance started", "instance", name, "pid", pid)
	return Result{Status: state.StatusRunning, PID: pid}, nil
}

// exitHandler turns process death into the matching state transition:
// requested stops and clean exits settle as stopped, anything else as error.
func (a *Service) exitHandler(name string) func(error, bool) {
	return func(exitErr error, stopRequested bool) {
		l := a.settleLock(name)
		l.Lock()
		defer l.Unlock()
		if stopRequested || exitErr == nil {
			a.st.UpdateStatus(name, state.StatusStopped)
			a.bus.Publish(events.Event{Instance: name, Type: events.Stopped})
			a.sink.Append(name, "[slumber] process stopped")
		} else {
			a.st.UpdateStatus(name, state.StatusError)
			a.bus.Publish(events.Event{Instance: name, Type: events.Stopped, Reason: exitErr.Error()})
			a.sink.Append(name, "[slumber] process exited unexpectedly: "+exitErr.Error())
			a.logger.Warn("instance crashed", "instance", name, "err", exitErr)
		}
		metrics.IncStop(name)
	}
}

// Stop gracefully stops the instance; a no-op when nothing is running.
func (a *Service) Stop(name string) (Result, error) {
	in, ok := a.reg.GetInstance(name)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", name, ErrUnknownInstance)
	}
	if !a.sup.IsRunning(name) {
		return Result{Status: a.st.Get(name).Status}, nil
	}

	a.st.SetStopInProgress(name, true)
	defer a.st.SetStopInProgress(name, false)

	a.bus.Publish(events.Event{Instance: name, Type: events.Stopping})
	if a.guard != nil {
		a.guard.Release(name)
	}

	targeted := a.sup.StopGracefully(name, GracefulTimeout(in.Sleep))
	if a.sup.TakeForcedKill(name) {
		metrics.IncForcedKill(name)
		a.sink.Append(name, "[slumber] stop escalated to forced kill")
		a.logger.Warn("stop required forced kill", "instance", name)
	}
	if !targeted {
		return Result{Status: a.st.Get(name).Status}, nil
	}
	if a.sup.IsRunning(name) {
		err := fmt.Errorf("instance %s did not stop", name)
		a.bus.Publish(events.Event{Instance: name, Type: events.StopFailed, Reason: err.Error()})
		return Result{Status: a.st.Get(name).Status}, err
	}
	return Result{Status: state.StatusStopped}, nil
}

// Restart stops the instance when running, then starts it.
func (a *Service) Restart(name string) (Result, error) {
	if _, err := a.Stop(name); err != nil {
		return Result{}, err
	}
	// Give the exit handler a moment to settle state before restarting.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := a.st.Get(name).Status
		if st != state.StatusRunning && st != state.StatusStarting {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return a.Start(name)
}

// SendCommand forwards one console command line to the instance.
func (a *Service) SendCommand(name, text string) bool {
	ok := a.sup.SendCommand(name, text)
	if ok {
		a.sink.Append(name, "> "+text)
	}
	return ok
}

// GracefulTimeout derives the cooperative-stop window from the sleep policy:
// at least 10 seconds, otherwise the wake grace period.
func GracefulTimeout(s registry.SleepSettings) time.Duration {
	t := time.Duration(s.WakeGraceSeconds) * time.Second
	if t < 10*time.Second {
		t = 10 * time.Second
	}
	return t
}
