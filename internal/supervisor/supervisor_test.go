package supervisor

import (
	"bytes"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// syncBuffer guards concurrent writes from the child's stdout pipe.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStartRejectsSecondLiveHandle(t *testing.T) {
	requireUnix(t)
	s := New(nil)
	pid, err := s.Start("srv", "sleep", []string{"5"}, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("bad pid %d", pid)
	}
	if !s.IsRunning("srv") {
		t.Fatalf("expected running after start")
	}
	if _, err := s.Start("srv", "sleep", []string{"5"}, StartOptions{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start: got %v want ErrAlreadyRunning", err)
	}
	if !s.Stop("srv") {
		t.Fatalf("stop should have targeted a process")
	}
}

func TestStartSurfacesSpawnError(t *testing.T) {
	requireUnix(t)
	s := New(nil)
	if _, err := s.Start("srv", "/nonexistent/binary", nil, StartOptions{}); err == nil {
		t.Fatalf("expected spawn error")
	}
	if s.IsRunning("srv") {
		t.Fatalf("failed spawn must not leave a handle")
	}
}

func TestStopGracefullyCooperativeExit(t *testing.T) {
	requireUnix(t)
	s := New(nil)
	// The child exits as soon as it reads the "stop" line.
	if _, err := s.Start("srv", "sh", []string{"-c", "read line; exit 0"}, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	start := time.Now()
	if !s.StopGracefully("srv", 5*time.Second) {
		t.Fatalf("graceful stop should have targeted a process")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cooperative stop took too long: %v", elapsed)
	}
	if s.TakeForcedKill("srv") {
		t.Fatalf("cooperative exit must not set the forced marker")
	}
	if s.IsRunning("srv") {
		t.Fatalf("still running after graceful stop")
	}
}

func TestStopGracefullyEscalatesOnTimeout(t *testing.T) {
	requireUnix(t)
	s := New(nil)
	// sleep never reads stdin, so the "stop" line is ignored.
	if _, err := s.Start("srv", "sleep", []string{"30"}, StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.StopGracefully("srv", 300*time.Millisecond) {
		t.Fatalf("graceful stop should have targeted a process")
	}
	if s.IsRunning("srv") {
		t.Fatalf("still running after escalation")
	}
	if !s.TakeForcedKill("srv") {
		t.Fatalf("escalated stop must set the forced marker")
	}
	// Consume-once: the second read must come back clear.
	if s.TakeForcedKill("srv") {
		t.Fatalf("forced marker must clear after first read")
	}
}

func TestSendCommandReachesStdin(t *testing.T) {
	requireUnix(t)
	s := New(nil)
	out := &syncBuffer{}
	if _, err := s.Start("srv", "sh", []string{"-c", "read line; echo got:$line"}, StartOptions{Console: out}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.SendCommand("srv", "say hello") {
		t.Fatalf("send command failed")
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), "got:say hello") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("command never echoed; console=%q", out.String())
}

func TestSendCommandFalseWhenStopped(t *testing.T) {
	s := New(nil)
	if s.SendCommand("ghost", "stop") {
		t.Fatalf("send to unknown instance should fail")
	}
	if s.Stop("ghost") {
		t.Fatalf("stop of unknown instance should report no target")
	}
}

func TestExitRemovesHandleAndNotifies(t *testing.T) {
	requireUnix(t)
	s := New(nil)
	exited := make(chan error, 1)
	_, err := s.Start("srv", "sh", []string{"-c", "exit 3"}, StartOptions{OnExit: func(err error, stopRequested bool) {
		if stopRequested {
			t.Errorf("unexpected stopRequested on natural exit")
		}
		exited <- err
	}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case err := <-exited:
		if err == nil {
			t.Fatalf("expected non-zero exit error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("exit callback never fired")
	}
	if s.IsRunning("srv") {
		t.Fatalf("handle should be gone after exit")
	}
	if _, ok := s.GetPid("srv"); ok {
		t.Fatalf("pid should be unavailable after exit")
	}
}
