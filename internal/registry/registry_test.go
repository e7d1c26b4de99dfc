package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateClampsSleepMinimums(t *testing.T) {
	in := Instance{
		Name:    "survival",
		Command: "java -jar server.jar",
		Sleep:   SleepSettings{Enabled: true, IdleMinutes: 0, WakeGraceSeconds: 3},
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if in.Sleep.IdleMinutes != MinIdleMinutes {
		t.Fatalf("idle minutes not clamped: %d", in.Sleep.IdleMinutes)
	}
	if in.Sleep.WakeGraceSeconds != MinWakeGraceSecs {
		t.Fatalf("wake grace not clamped: %d", in.Sleep.WakeGraceSeconds)
	}
	if in.Sleep.StopMethod != StopMethodGraceful {
		t.Fatalf("stop method not defaulted: %q", in.Sleep.StopMethod)
	}
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	cases := []Instance{
		{Name: "", Command: "x"},
		{Name: "a b", Command: "x"},
		{Name: "up/../down", Command: "x"},
		{Name: "ok", Command: ""},
		{Name: "ok", Command: "x", Sleep: SleepSettings{StopMethod: "sigkill"}},
	}
	for _, in := range cases {
		if err := in.Validate(); err == nil {
			t.Errorf("expected error for %+v", in)
		}
	}
}

func TestBuildCommand(t *testing.T) {
	plain := Instance{Name: "a", Command: "java -Xmx2G -jar server.jar nogui"}
	bin, args := plain.BuildCommand()
	if bin != "java" || len(args) != 4 {
		t.Fatalf("plain split wrong: %q %v", bin, args)
	}

	shelly := Instance{Name: "a", Command: "java -jar server.jar > out.log"}
	bin, args = shelly.BuildCommand()
	if bin != "/bin/sh" || len(args) != 2 || args[0] != "-c" {
		t.Fatalf("metacharacters should run under sh -c: %q %v", bin, args)
	}
}

func TestGamePortPrefersConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "server.properties"), []byte("server-port=25570\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	withPort := Instance{Name: "a", Command: "x", Port: 25600, Dir: dir}
	if p := withPort.GamePort(); p != 25600 {
		t.Fatalf("configured port ignored: %d", p)
	}
	fromProps := Instance{Name: "a", Command: "x", Dir: dir}
	if p := fromProps.GamePort(); p != 25570 {
		t.Fatalf("server.properties port not used: %d", p)
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	_, err := New([]Instance{
		{Name: "a", Command: "x"},
		{Name: "a", Command: "y"},
	})
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestRegistryListSorted(t *testing.T) {
	r, err := New([]Instance{
		{Name: "zeta", Command: "x"},
		{Name: "alpha", Command: "x"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	list := r.ListInstances()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Fatalf("not sorted: %+v", list)
	}
	if _, ok := r.GetInstance("zeta"); !ok {
		t.Fatal("zeta missing")
	}
	if r.Remove("alpha") != true || r.Remove("alpha") != false {
		t.Fatal("Remove should report prior existence")
	}
}
