package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/slumber/internal/logger"
	"github.com/loykin/slumber/internal/registry"
)

// Defaults for the periodic loops. Overridable for tests and tuning, not
// normally touched in production configs.
const (
	DefaultSweepInterval   = 60 * time.Second
	DefaultRefreshInterval = 15 * time.Second
)

// ServerConfig is the HTTP control surface.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// StoreConfig selects the lifecycle history backends. Driver is "sqlite" or
// "postgres"; empty disables persistence. ClickHouseDSN optionally adds an
// analytics sink on top.
type StoreConfig struct {
	Driver        string `toml:"driver" mapstructure:"driver"`
	DSN           string `toml:"dsn" mapstructure:"dsn"`
	ClickHouseDSN string `toml:"clickhouse_dsn" mapstructure:"clickhouse_dsn"`
}

// MonitorConfig tunes the idle-sweep and listener-refresh tickers.
type MonitorConfig struct {
	SweepInterval   time.Duration `toml:"sweep_interval" mapstructure:"sweep_interval"`
	RefreshInterval time.Duration `toml:"refresh_interval" mapstructure:"refresh_interval"`
}

// InstanceConfig is one [[instances]] entry.
type InstanceConfig struct {
	Name    string                 `toml:"name" mapstructure:"name"`
	Dir     string                 `toml:"dir" mapstructure:"dir"`
	Command string                 `toml:"command" mapstructure:"command"`
	Env     []string               `toml:"env" mapstructure:"env"`
	Port    int                    `toml:"port" mapstructure:"port"`
	Sleep   registry.SleepSettings `toml:"sleep" mapstructure:"sleep"`
}

// FileConfig is the top-level TOML structure.
type FileConfig struct {
	LogLevel  string           `toml:"log_level" mapstructure:"log_level"`
	Env       []string         `toml:"env" mapstructure:"env"`
	Server    ServerConfig     `toml:"server" mapstructure:"server"`
	Log       logger.Config    `toml:"log" mapstructure:"log"`
	Store     StoreConfig      `toml:"store" mapstructure:"store"`
	Monitor   MonitorConfig    `toml:"monitor" mapstructure:"monitor"`
	Instances []InstanceConfig `toml:"instances" mapstructure:"instances"`
}

// Load reads and validates the TOML config at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	fc.applyDefaults()
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) applyDefaults() {
	if fc.Server.Listen == "" {
		fc.Server.Listen = "127.0.0.1:8113"
	}
	if fc.Monitor.SweepInterval <= 0 {
		fc.Monitor.SweepInterval = DefaultSweepInterval
	}
	if fc.Monitor.RefreshInterval <= 0 {
		fc.Monitor.RefreshInterval = DefaultRefreshInterval
	}
}

func (fc *FileConfig) validate() error {
	switch fc.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver %q: must be sqlite or postgres", fc.Store.Driver)
	}
	if fc.Store.Driver != "" && fc.Store.DSN == "" {
		return fmt.Errorf("store.driver %q requires store.dsn", fc.Store.Driver)
	}
	return nil
}

// RegistryInstances converts the [[instances]] entries to registry form.
func (fc *FileConfig) RegistryInstances() []registry.Instance {
	out := make([]registry.Instance, 0, len(fc.Instances))
	for _, ic := range fc.Instances {
		out = append(out, registry.Instance{
			Name:    ic.Name,
			Dir:     ic.Dir,
			Command: ic.Command,
			Env:     ic.Env,
			Port:    ic.Port,
			Sleep:   ic.Sleep,
		})
	}
	return out
}
