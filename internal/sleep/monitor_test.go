package sleep

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/loykin/slumber/internal/action"
	"github.com/loykin/slumber/internal/events"
	"github.com/loykin/slumber/internal/logger"
	"github.com/loykin/slumber/internal/logsink"
	"github.com/loykin/slumber/internal/query"
	"github.com/loykin/slumber/internal/registry"
	"github.com/loykin/slumber/internal/state"
	"github.com/loykin/slumber/internal/supervisor"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires unix shell and signals")
	}
}

type fakePinger struct {
	res query.Result
	err error
}

func (f *fakePinger) Ping(string, int) (query.Result, error) { return f.res, f.err }

type harness struct {
	reg *registry.Registry
	st  *state.Store
	sup *supervisor.Supervisor
	act *action.Service
	mon *Monitor
}

func newHarness(t *testing.T, pinger Pinger, ins ...registry.Instance) *harness {
	t.Helper()
	reg, err := registry.New(ins)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	st := state.NewStore()
	sup := supervisor.New(nil)
	bus := events.NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })
	sink := logsink.New(logger.Config{Dir: t.TempDir()}, func(name string) { st.RecordActivity(name) })
	t.Cleanup(sink.Close)
	act := action.NewService(reg, sup, st, bus, sink, nil, nil)
	mon := NewMonitor(reg, st, sup, act, sink, pinger, time.Minute, nil)
	return &harness{reg: reg, st: st, sup: sup, act: act, mon: mon}
}

func testInstance(t *testing.T, name string) registry.Instance {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "eula.txt"), []byte("eula=true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return registry.Instance{
		Name:    name,
		Dir:     dir,
		Command: `sh -c "read line; exit 0"`,
		Port:    25565,
		Sleep:   registry.SleepSettings{Enabled: true, IdleMinutes: 15, WakeOnPing: true, WakeGraceSeconds: 10},
	}
}

func waitStatus(t *testing.T, st *state.Store, name string, want state.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st.Get(name).Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("instance %s never reached %s, status %s", name, want, st.Get(name).Status)
}

func TestSweepStopsIdleInstance(t *testing.T) {
	requireUnix(t)
	in := testInstance(t, "survival")
	h := newHarness(t, &fakePinger{res: query.Result{Online: 0}}, in)

	if _, err := h.act.Start("survival"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Pretend 16 minutes pass without activity.
	h.mon.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	h.mon.SweepOnce()

	if h.sup.IsRunning("survival") {
		t.Fatal("idle instance still running after sweep")
	}
	waitStatus(t, h.st, "survival", state.StatusStopped)
}

func TestSweepSparesInstanceWithPlayers(t *testing.T) {
	requireUnix(t)
	in := testInstance(t, "survival")
	h := newHarness(t, &fakePinger{res: query.Result{Online: 2}}, in)

	if _, err := h.act.Start("survival"); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _, _ = h.act.Stop("survival") })

	h.mon.now = func() time.Time { return time.Now().Add(16 * time.Minute) }
	h.mon.SweepOnce()

	if !h.sup.IsRunning("survival") {
		t.Fatal("instance with players was stopped")
	}
	if h.st.Get("survival").OnlinePlayers != 2 {
		t.Fatalf("player count not refreshed: %d", h.st.Get("survival").OnlinePlayers)
	}
}

func TestSweepSparesInstanceBelowThreshold(t *testing.T) {
	requireUnix(t)
	in := testInstance(t, "survival")
	h := newHarness(t, &fakePinger{res: query.Result{Online: 0}}, in)

	if _, err := h.act.Start("survival"); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _, _ = h.act.Stop("survival") })

	h.mon.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	h.mon.SweepOnce()

	if !h.sup.IsRunning("survival") {
		t.Fatal("instance stopped before reaching its idle threshold")
	}
}

func TestSweepSkipsSleepDisabled(t *testing.T) {
	requireUnix(t)
	in := testInstance(t, "survival")
	in.Sleep.Enabled = false
	h := newHarness(t, &fakePinger{res: query.Result{Online: 0}}, in)

	if _, err := h.act.Start("survival"); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _, _ = h.act.Stop("survival") })

	h.mon.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	h.mon.SweepOnce()

	if !h.sup.IsRunning("survival") {
		t.Fatal("sleep-disabled instance was stopped")
	}
}

func TestWakeAlreadyRunning(t *testing.T) {
	requireUnix(t)
	in := testInstance(t, "survival")
	h := newHarness(t, &fakePinger{}, in)

	if _, err := h.act.Start("survival"); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _, _ = h.act.Stop("survival") })

	if res := h.mon.Wake("survival"); res != WakeStarted {
		t.Fatalf("expected started, got %s", res)
	}
}

func TestWakeStartsSleepingInstance(t *testing.T) {
	requireUnix(t)
	in := testInstance(t, "survival")
	h := newHarness(t, &fakePinger{}, in)

	if res := h.mon.Wake("survival"); res != WakeStarted && res != WakeStarting {
		t.Fatalf("expected started/starting, got %s", res)
	}
	t.Cleanup(func() { _, _ = h.act.Stop("survival") })
	if !h.sup.IsRunning("survival") {
		t.Fatal("wake did not start the instance")
	}
}

func TestWakeFailureReported(t *testing.T) {
	in := registry.Instance{
		Name:    "broken",
		Dir:     t.TempDir(), // no eula.txt, so the start is rejected
		Command: "/bin/true",
		Port:    25565,
		Sleep:   registry.SleepSettings{Enabled: true, IdleMinutes: 15, WakeOnPing: true, WakeGraceSeconds: 10},
	}
	h := newHarness(t, &fakePinger{}, in)
	if res := h.mon.Wake("broken"); res != WakeFailed {
		t.Fatalf("expected failed, got %s", res)
	}
}

func TestConcurrentWakesStartOneProcess(t *testing.T) {
	requireUnix(t)
	in := testInstance(t, "survival")
	h := newHarness(t, &fakePinger{}, in)

	const n = 8
	results := make([]WakeResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.mon.Wake("survival")
		}(i)
	}
	wg.Wait()
	t.Cleanup(func() { _, _ = h.act.Stop("survival") })

	for i, res := range results {
		if res == WakeFailed {
			t.Fatalf("wake %d failed", i)
		}
	}
	if got := len(h.sup.Names()); got != 1 {
		t.Fatalf("expected exactly one supervised process, got %d", got)
	}
}

func TestForgetClearsBookkeeping(t *testing.T) {
	in := testInstance(t, "survival")
	h := newHarness(t, &fakePinger{}, in)

	h.mon.mu.Lock()
	h.mon.stopCooldown["survival"] = time.Now().Add(time.Hour)
	h.mon.stopLocks["survival"] = true
	h.mon.startLocks["survival"] = true
	h.mon.mu.Unlock()

	h.mon.Forget("survival")

	h.mon.mu.Lock()
	defer h.mon.mu.Unlock()
	if len(h.mon.stopCooldown)+len(h.mon.stopLocks)+len(h.mon.startLocks) != 0 {
		t.Fatal("Forget left stale entries behind")
	}
}
