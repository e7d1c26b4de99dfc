package state

import (
	"sync"
	"time"

	"github.com/loykin/slumber/internal/metrics"
)

// Status is the settled runtime state of one instance.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// PlayersUnknown marks OnlinePlayers before any successful status query.
const PlayersUnknown = -1

// Info is the volatile runtime record of one instance. It is rebuilt from
// the environment after a daemon restart, never persisted.
type Info struct {
	Status          Status
	PID             int // 0 while no live process
	StartedAt       time.Time
	LastActivityAt  time.Time
	StartInProgress bool
	StopInProgress  bool
	OnlinePlayers   int
}

// Change is one broadcast status transition.
type Change struct {
	Instance string
	Status   Status
}

// Store is the process-wide runtime state table, keyed by instance name.
// Entries appear lazily on first access with status stopped.
type Store struct {
	mu       sync.Mutex
	infos    map[string]*Info
	watchers []chan Change
}

func NewStore() *Store {
	return &Store{infos: make(map[string]*Info)}
}

func (s *Store) entry(name string) *Info {
	in := s.infos[name]
	if in == nil {
		in = &Info{Status: StatusStopped, OnlinePlayers: PlayersUnknown}
		s.infos[name] = in
	}
	return in
}

// Get returns a snapshot of the instance's runtime info, creating the
// default stopped entry if the instance was never seen before.
func (s *Store) Get(name string) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.entry(name)
}

// UpdateStatus transitions the instance to st and broadcasts the change.
// PID and StartedAt are valid only while starting or running; leaving those
// states clears them so the invariant cannot be violated by stale values.
func (s *Store) UpdateStatus(name string, st Status) {
	s.mu.Lock()
	in := s.entry(name)
	prev := in.Status
	in.Status = st
	switch st {
	case StatusRunning:
		now := time.Now()
		in.StartedAt = now
		in.LastActivityAt = now
	case StatusStopped, StatusError:
		in.PID = 0
		in.StartedAt = time.Time{}
		in.OnlinePlayers = PlayersUnknown
	}
	watchers := append([]chan Change(nil), s.watchers...)
	s.mu.Unlock()

	if prev != st {
		metrics.RecordStateTransition(name, string(prev), string(st))
		for _, q := range []Status{StatusStopped, StatusStarting, StatusRunning, StatusError} {
			metrics.SetCurrentState(name, string(q), q == st)
		}
	}
	ch := Change{Instance: name, Status: st}
	for _, w := range watchers {
		select {
		case w <- ch:
		default:
			// Slow consumers lose broadcasts rather than blocking the core.
		}
	}
}

// SetPID records the live process id while the instance is starting/running.
func (s *Store) SetPID(name string, pid int) {
	s.mu.Lock()
	in := s.entry(name)
	if in.Status == StatusStarting || in.Status == StatusRunning {
		in.PID = pid
	}
	s.mu.Unlock()
}

// RecordActivity resets the idle clock for the instance.
func (s *Store) RecordActivity(name string) {
	s.mu.Lock()
	s.entry(name).LastActivityAt = time.Now()
	s.mu.Unlock()
}

// UpdateOnlinePlayers stores the last observed player count. A positive
// count also counts as activity.
func (s *Store) UpdateOnlinePlayers(name string, n int) {
	s.mu.Lock()
	in := s.entry(name)
	in.OnlinePlayers = n
	if n > 0 {
		in.LastActivityAt = time.Now()
	}
	s.mu.Unlock()
	if n >= 0 {
		metrics.SetOnlinePlayers(name, n)
	}
}

// SetStartInProgress flags an in-flight start attempt.
func (s *Store) SetStartInProgress(name string, v bool) {
	s.mu.Lock()
	s.entry(name).StartInProgress = v
	s.mu.Unlock()
}

// SetStopInProgress flags an in-flight stop attempt.
func (s *Store) SetStopInProgress(name string, v bool) {
	s.mu.Lock()
	s.entry(name).StopInProgress = v
	s.mu.Unlock()
}

// Delete erases the instance's runtime record (instance deletion).
func (s *Store) Delete(name string) {
	s.mu.Lock()
	delete(s.infos, name)
	s.mu.Unlock()
}

// Names lists every instance currently tracked.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.infos))
	for n := range s.infos {
		out = append(out, n)
	}
	return out
}

// Watch registers a status-change subscriber. Broadcasts that would block
// are dropped; consumers needing completeness should poll Get.
func (s *Store) Watch() <-chan Change {
	ch := make(chan Change, 64)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}

// IdleFor returns how long the instance has been idle: now minus the later
// of LastActivityAt and StartedAt. Zero when either timestamp is unset.
func (s *Store) IdleFor(name string) time.Duration {
	s.mu.Lock()
	in := s.entry(name)
	ref := in.LastActivityAt
	if in.StartedAt.After(ref) {
		ref = in.StartedAt
	}
	s.mu.Unlock()
	if ref.IsZero() {
		return 0
	}
	return time.Since(ref)
}
