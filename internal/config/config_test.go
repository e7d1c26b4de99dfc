package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slumber.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
env = ["JAVA_HOME=/opt/java"]

[server]
listen = "0.0.0.0:9000"
base_path = "/api"

[log]
dir = "/var/log/slumber"
max_size_mb = 50

[store]
driver = "sqlite"
dsn = "/var/lib/slumber/history.db"

[monitor]
sweep_interval = "30s"
refresh_interval = "5s"

[[instances]]
name = "survival"
dir = "/srv/mc/survival"
command = "java -Xmx4G -jar server.jar nogui"
port = 25565
env = ["JVM_OPTS=-XX:+UseG1GC"]

  [instances.sleep]
  enabled = true
  idle_minutes = 20
  wake_on_ping = true
  wake_grace_seconds = 30
`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.LogLevel != "debug" || fc.Server.Listen != "0.0.0.0:9000" || fc.Server.BasePath != "/api" {
		t.Fatalf("top-level fields wrong: %+v", fc)
	}
	if fc.Log.Dir != "/var/log/slumber" || fc.Log.MaxSizeMB != 50 {
		t.Fatalf("log section wrong: %+v", fc.Log)
	}
	if fc.Store.Driver != "sqlite" || fc.Store.DSN == "" {
		t.Fatalf("store section wrong: %+v", fc.Store)
	}
	if fc.Monitor.SweepInterval != 30*time.Second || fc.Monitor.RefreshInterval != 5*time.Second {
		t.Fatalf("monitor intervals wrong: %+v", fc.Monitor)
	}
	if len(fc.Instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(fc.Instances))
	}
	in := fc.Instances[0]
	if in.Name != "survival" || in.Port != 25565 || !in.Sleep.Enabled || in.Sleep.IdleMinutes != 20 {
		t.Fatalf("instance wrong: %+v", in)
	}

	regs := fc.RegistryInstances()
	if len(regs) != 1 || regs[0].Sleep.WakeGraceSeconds != 30 {
		t.Fatalf("registry conversion wrong: %+v", regs)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `log_level = "info"`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.Server.Listen != "127.0.0.1:8113" {
		t.Fatalf("listen default wrong: %q", fc.Server.Listen)
	}
	if fc.Monitor.SweepInterval != DefaultSweepInterval || fc.Monitor.RefreshInterval != DefaultRefreshInterval {
		t.Fatalf("interval defaults wrong: %+v", fc.Monitor)
	}
}

func TestLoadRejectsBadStore(t *testing.T) {
	if _, err := Load(writeConfig(t, "[store]\ndriver = \"mongodb\"\ndsn = \"x\"\n")); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Load(writeConfig(t, "[store]\ndriver = \"postgres\"\n")); err == nil {
		t.Fatal("expected error for driver without dsn")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
