package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for instance console logs.
const (
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 14
)

// Config describes where instance console output is written. Each instance
// gets one rotating file Dir/<name>.console.log; game servers interleave
// stdout and stderr so they share a single file.
type Config struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// ConsoleWriter returns a rotating writer for one instance's console log,
// or nil when no log directory is configured.
func (c Config) ConsoleWriter(name string) io.WriteCloser {
	if c.Dir == "" {
		return nil
	}
	_ = os.MkdirAll(c.Dir, 0o750)
	return &lj.Logger{
		Filename:   filepath.Join(c.Dir, name+".console.log"),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Setup builds the daemon's slog logger writing to w. Colors are applied per
// level when color is true (interactive terminals).
func Setup(w io.Writer, level string, color bool) *slog.Logger {
	lv := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if color {
		h = NewColorTextHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
