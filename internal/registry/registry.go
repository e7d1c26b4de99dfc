package registry

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/slumber/internal/props"
)

// Sleep minimums; lower configured values are clamped, not rejected.
const (
	MinIdleMinutes     = 1
	MinWakeGraceSecs   = 10
	StopMethodGraceful = "graceful"
)

// SleepSettings is the per-instance idle-sleep policy. Read-only to the
// runtime core.
type SleepSettings struct {
	Enabled          bool   `toml:"enabled" mapstructure:"enabled"`
	IdleMinutes      int    `toml:"idle_minutes" mapstructure:"idle_minutes"`
	WakeOnPing       bool   `toml:"wake_on_ping" mapstructure:"wake_on_ping"`
	WakeGraceSeconds int    `toml:"wake_grace_seconds" mapstructure:"wake_grace_seconds"`
	StopMethod       string `toml:"stop_method" mapstructure:"stop_method"`
}

// Instance describes one managed game server.
type Instance struct {
	Name    string
	Dir     string // working directory; server.properties and eula.txt live here
	Command string // full command line, shell metacharacters allowed
	Env     []string
	Port    int // configured game port; 0 defers to server.properties
	Sleep   SleepSettings
}

// Validate normalizes the sleep policy and rejects impossible definitions.
func (i *Instance) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("instance name required")
	}
	if strings.ContainsAny(i.Name, " \t/\\") || strings.Contains(i.Name, "..") {
		return fmt.Errorf("instance %q: invalid name", i.Name)
	}
	if strings.TrimSpace(i.Command) == "" {
		return fmt.Errorf("instance %q: command required", i.Name)
	}
	if i.Sleep.IdleMinutes < MinIdleMinutes {
		i.Sleep.IdleMinutes = MinIdleMinutes
	}
	if i.Sleep.WakeGraceSeconds < MinWakeGraceSecs {
		i.Sleep.WakeGraceSeconds = MinWakeGraceSecs
	}
	if i.Sleep.StopMethod == "" {
		i.Sleep.StopMethod = StopMethodGraceful
	}
	if i.Sleep.StopMethod != StopMethodGraceful {
		return fmt.Errorf("instance %q: unsupported stop_method %q", i.Name, i.Sleep.StopMethod)
	}
	return nil
}

// BuildCommand splits the command line into binary and args. Commands with
// shell metacharacters run under /bin/sh -c; plain commands run directly.
func (i *Instance) BuildCommand() (string, []string) {
	cmdStr := strings.TrimSpace(i.Command)
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return "/bin/sh", []string{"-c", cmdStr}
	}
	parts := strings.Fields(cmdStr)
	if len(parts) == 0 {
		return "/bin/true", nil
	}
	return parts[0], parts[1:]
}

// LookBin resolves the command binary against PATH, surfacing missing
// executables before a spawn is attempted.
func (i *Instance) LookBin() (string, error) {
	bin, _ := i.BuildCommand()
	return exec.LookPath(bin)
}

// GamePort returns the configured port, falling back to server.properties
// (and its default) when the config leaves it unset.
func (i *Instance) GamePort() int {
	if i.Port > 0 {
		return i.Port
	}
	return props.ResolveServerPort(i.Dir)
}

// Registry is the read-mostly table of instance definitions.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]Instance
}

func New(list []Instance) (*Registry, error) {
	r := &Registry{instances: make(map[string]Instance, len(list))}
	for _, in := range list {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.instances[in.Name]; dup {
			return nil, fmt.Errorf("duplicate instance %q", in.Name)
		}
		r.instances[in.Name] = in
	}
	return r, nil
}

// GetInstance returns the definition for name.
func (r *Registry) GetInstance(name string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instances[name]
	return in, ok
}

// ListInstances returns all definitions sorted by name.
func (r *Registry) ListInstances() []Instance {
	r.mu.RLock()
	out := make([]Instance, 0, len(r.instances))
	for _, in := range r.instances {
		out = append(out, in)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Put adds or replaces a definition.
func (r *Registry) Put(in Instance) error {
	if err := in.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.instances[in.Name] = in
	r.mu.Unlock()
	return nil
}

// Remove deletes a definition and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.instances[name]
	delete(r.instances, name)
	return ok
}
