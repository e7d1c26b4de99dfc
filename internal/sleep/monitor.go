// Package sleep stops idle instances and owns the deduplicated wake
// operation used by the wake-on-connect listener.
package sleep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/slumber/internal/action"
	"github.com/loykin/slumber/internal/logsink"
	"github.com/loykin/slumber/internal/metrics"
	"github.com/loykin/slumber/internal/query"
	"github.com/loykin/slumber/internal/registry"
	"github.com/loykin/slumber/internal/state"
	"github.com/loykin/slumber/internal/supervisor"
)

// WakeResult is the outcome reported to whoever triggered a wake.
type WakeResult string

const (
	WakeStarted  WakeResult = "started"
	WakeStarting WakeResult = "starting"
	WakeFailed   WakeResult = "failed"
)

// Pinger queries a running instance for its live status.
type Pinger interface {
	Ping(host string, port int) (query.Result, error)
}

// Monitor sweeps all sleep-enabled instances on a fixed interval and stops
// the ones idle past their threshold. Per-instance locks keep overlapping
// sweeps and concurrent wake calls from racing.
type Monitor struct {
	reg      *registry.Registry
	st       *state.Store
	sup      *supervisor.Supervisor
	act      *action.Service
	sink     *logsink.Sink
	pinger   Pinger
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu           sync.Mutex
	stopCooldown map[string]time.Time // advisory throttle, expiry per instance
	stopLocks    map[string]bool      // in-flight idle stops
	startLocks   map[string]bool      // in-flight wake attempts
}

func NewMonitor(reg *registry.Registry, st *state.Store, sup *supervisor.Supervisor, act *action.Service, sink *logsink.Sink, pinger Pinger, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if pinger == nil {
		pinger = &query.Client{}
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Monitor{
		reg:          reg,
		st:           st,
		sup:          sup,
		act:          act,
		sink:         sink,
		pinger:       pinger,
		logger:       logger,
		interval:     interval,
		now:          time.Now,
		stopCooldown: make(map[string]time.Time),
		stopLocks:    make(map[string]bool),
		startLocks:   make(map[string]bool),
	}
}

// Run ticks until ctx is cancelled. Ticks are fired without waiting for the
// previous sweep; the per-instance locks make overlap harmless.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.SweepOnce()
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce evaluates every sleep-enabled instance once.
func (m *Monitor) SweepOnce() {
	for _, in := range m.reg.ListInstances() {
		if !in.Sleep.Enabled {
			continue
		}
		m.sweepInstance(in)
	}
}

func (m *Monitor) sweepInstance(in registry.Instance) {
	name := in.Name
	info := m.st.Get(name)
	if info.Status != state.StatusRunning {
		return
	}

	// Refresh the player count from the live server; failures leave the
	// last known value in place.
	if res, err := m.pinger.Ping("127.0.0.1", in.GamePort()); err == nil {
		m.st.UpdateOnlinePlayers(name, res.Online)
		metrics.ObservePingLatency(name, res.Latency.Seconds())
	}

	info = m.st.Get(name)
	if info.OnlinePlayers > 0 {
		// Never stop an instance with connected players.
		m.st.RecordActivity(name)
		return
	}

	idle := m.idleFor(info)
	threshold := time.Duration(in.Sleep.IdleMinutes) * time.Minute
	if idle < threshold {
		return
	}
	if info.StopInProgress {
		return
	}

	grace := time.Duration(in.Sleep.WakeGraceSeconds) * time.Second
	m.mu.Lock()
	if m.stopLocks[name] || m.now().Before(m.stopCooldown[name]) {
		m.mu.Unlock()
		return
	}
	m.stopLocks[name] = true
	m.stopCooldown[name] = m.now().Add(grace)
	m.mu.Unlock()

	defer func() {
		m.st.SetStopInProgress(name, false)
		m.mu.Lock()
		delete(m.stopLocks, name)
		m.mu.Unlock()
	}()
	m.st.SetStopInProgress(name, true)

	m.sink.Append(name, "[slumber] no players and no activity for "+idle.Truncate(time.Second).String()+", stopping to save resources")
	m.logger.Info("idle instance detected", "instance", name, "idle", idle, "threshold", threshold)

	targeted := m.sup.StopGracefully(name, action.GracefulTimeout(in.Sleep))
	forced := m.sup.TakeForcedKill(name)
	switch {
	case !targeted:
		m.logger.Warn("idle stop found no live process", "instance", name)
	case m.sup.IsRunning(name):
		m.sink.Append(name, "[slumber] idle stop failed, instance still running")
		m.logger.Error("idle stop failed", "instance", name)
	case forced:
		metrics.IncForcedKill(name)
		metrics.IncIdleStop(name)
		m.sink.Append(name, "[slumber] idle stop escalated to forced kill")
		m.logger.Warn("idle stop forced", "instance", name)
	default:
		metrics.IncIdleStop(name)
		m.sink.Append(name, "[slumber] instance stopped after idling")
		m.logger.Info("idle stop complete", "instance", name)
	}
}

// Forget drops the per-instance bookkeeping for a removed instance so the
// maps do not accumulate entries for names no longer in the registry.
func (m *Monitor) Forget(name string) {
	m.mu.Lock()
	delete(m.stopCooldown, name)
	delete(m.stopLocks, name)
	delete(m.startLocks, name)
	m.mu.Unlock()
}

// idleFor measures idleness against the later of last activity and start.
func (m *Monitor) idleFor(info state.Info) time.Duration {
	ref := info.LastActivityAt
	if info.StartedAt.After(ref) {
		ref = info.StartedAt
	}
	if ref.IsZero() {
		return 0
	}
	return m.now().Sub(ref)
}

// Wake starts a sleeping instance on behalf of the wake listener. At most
// one wake proceeds per instance; concurrent callers observe "starting".
// Already-running instances report "started" without side effects.
func (m *Monitor) Wake(name string) WakeResult {
	info := m.st.Get(name)
	switch {
	case info.Status == state.StatusRunning:
		return WakeStarted
	case info.Status == state.StatusStarting || info.StartInProgress:
		return WakeStarting
	}

	m.mu.Lock()
	if m.startLocks[name] {
		m.mu.Unlock()
		return WakeStarting
	}
	m.startLocks[name] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.startLocks, name)
		m.mu.Unlock()
	}()

	// Re-check after winning the lock; a racer may have finished a start.
	info = m.st.Get(name)
	if info.Status == state.StatusRunning {
		return WakeStarted
	}

	m.sink.Append(name, "[slumber] wake requested")
	if _, err := m.act.Start(name); err != nil {
		metrics.IncWake(name, string(WakeFailed))
		m.logger.Warn("wake failed", "instance", name, "err", err)
		return WakeFailed
	}
	if m.sup.IsRunning(name) {
		metrics.IncWake(name, string(WakeStarted))
		return WakeStarted
	}
	metrics.IncWake(name, string(WakeStarting))
	return WakeStarting
}
