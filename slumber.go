// Package slumber wires the instance runtime together: supervisor, state
// store, idle-sleep monitor, wake-on-connect listeners, lifecycle history,
// and the HTTP control surface. The cmd/slumberd binary and embedders both
// build on this facade.
package slumber

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/slumber/internal/action"
	"github.com/loykin/slumber/internal/config"
	"github.com/loykin/slumber/internal/events"
	"github.com/loykin/slumber/internal/history"
	"github.com/loykin/slumber/internal/history/clickhouse"
	"github.com/loykin/slumber/internal/logger"
	"github.com/loykin/slumber/internal/logsink"
	"github.com/loykin/slumber/internal/metrics"
	"github.com/loykin/slumber/internal/query"
	"github.com/loykin/slumber/internal/registry"
	"github.com/loykin/slumber/internal/server"
	"github.com/loykin/slumber/internal/sleep"
	"github.com/loykin/slumber/internal/state"
	"github.com/loykin/slumber/internal/supervisor"
	"github.com/loykin/slumber/internal/wake"
)

// Re-export the types external consumers need. Aliases keep conversions
// zero-cost.

type Config = config.FileConfig

type Instance = registry.Instance

type SleepSettings = registry.SleepSettings

type InstanceInfo = state.Info

type LifecycleEvent = events.Event

type PingResult = query.Result

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Daemon is one fully wired runtime.
type Daemon struct {
	cfg    *config.FileConfig
	logger *slog.Logger

	reg  *registry.Registry
	st   *state.Store
	sup  *supervisor.Supervisor
	bus  *events.Bus
	sink *logsink.Sink
	act  *action.Service
	mon  *sleep.Monitor
	wl   *wake.Listeners

	sqlHist *history.SQLSink
	chHist  *clickhouse.Sink
	rec     *history.Recorder

	httpSrv *http.Server

	closeOnce sync.Once
}

// New builds a daemon from cfg. Nothing is started until Run.
func New(cfg *config.FileConfig) (*Daemon, error) {
	var out io.Writer = os.Stdout
	if cfg.Log.Dir != "" {
		out = io.MultiWriter(os.Stdout, cfg.Log.ConsoleWriter("slumber"))
	}
	log := logger.Setup(out, cfg.LogLevel, cfg.Log.Dir == "")
	slog.SetDefault(log)

	reg, err := registry.New(cfg.RegistryInstances())
	if err != nil {
		return nil, err
	}

	st := state.NewStore()
	sup := supervisor.New(log)
	bus := events.NewBus(log)
	sink := logsink.New(cfg.Log, st.RecordActivity)
	act := action.NewService(reg, sup, st, bus, sink, cfg.Env, log)
	mon := sleep.NewMonitor(reg, st, sup, act, sink, nil, cfg.Monitor.SweepInterval, log)
	wl := wake.NewListeners(reg, st, mon, bus, sink, cfg.Monitor.RefreshInterval, log)
	act.SetPortGuard(wl)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration incomplete", "err", err)
	}

	d := &Daemon{
		cfg:    cfg,
		logger: log,
		reg:    reg,
		st:     st,
		sup:    sup,
		bus:    bus,
		sink:   sink,
		act:    act,
		mon:    mon,
		wl:     wl,
	}

	var sinks []history.Sink
	if cfg.Store.Driver != "" {
		d.sqlHist, err = history.NewSQLSink(cfg.Store.DSN)
		if err != nil {
			d.closeSinks()
			return nil, err
		}
		sinks = append(sinks, d.sqlHist)
	}
	if cfg.Store.ClickHouseDSN != "" {
		d.chHist, err = clickhouse.New(cfg.Store.ClickHouseDSN, "")
		if err != nil {
			d.closeSinks()
			return nil, err
		}
		sinks = append(sinks, d.chHist)
	}
	if len(sinks) > 0 {
		d.rec = history.NewRecorder(bus, log, sinks...)
	}
	return d, nil
}

// Router returns the HTTP control surface handler, for embedding in an
// existing mux instead of running the built-in server.
func (d *Daemon) Router() http.Handler {
	return server.NewRouter(d.reg, d.st, d.act, d.mon, d.sqlHist, d.cfg.Server.BasePath).Handler()
}

// Actions exposes the lifecycle service for embedders.
func (d *Daemon) Actions() *action.Service { return d.act }

// State exposes the runtime state store for embedders.
func (d *Daemon) State() *state.Store { return d.st }

// RemoveInstance stops the named instance and drops every trace of it:
// registry entry, runtime state, wake listener, and monitor bookkeeping.
func (d *Daemon) RemoveInstance(name string) error {
	if _, err := d.act.Stop(name); err != nil {
		return err
	}
	if !d.reg.Remove(name) {
		return errors.New("unknown instance: " + name)
	}
	d.wl.Forget(name)
	d.mon.Forget(name)
	d.st.Delete(name)
	d.logger.Info("instance removed", "instance", name)
	return nil
}

// Run starts all background loops and the HTTP server, then blocks until
// ctx is cancelled. Shutdown stops every running instance gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.rec != nil {
		go func() {
			if err := d.rec.Run(runCtx); err != nil {
				d.logger.Warn("history recorder stopped", "err", err)
			}
		}()
	}
	go d.mon.Run(runCtx)
	go func() {
		if err := d.wl.Run(runCtx); err != nil {
			d.logger.Error("wake listeners stopped", "err", err)
		}
	}()

	router := server.NewRouter(d.reg, d.st, d.act, d.mon, d.sqlHist, d.cfg.Server.BasePath)
	d.httpSrv = server.NewServer(d.cfg.Server.Listen, router)
	d.logger.Info("daemon ready",
		"listen", d.cfg.Server.Listen,
		"instances", len(d.reg.ListInstances()))

	<-ctx.Done()
	d.shutdown()
	return nil
}

func (d *Daemon) shutdown() {
	d.closeOnce.Do(func() {
		d.logger.Info("shutting down")
		if d.httpSrv != nil {
			shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = d.httpSrv.Shutdown(shCtx)
			shCancel()
		}

		// Stop every supervised instance before tearing anything else down.
		var wg sync.WaitGroup
		for _, name := range d.sup.Names() {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				if _, err := d.act.Stop(name); err != nil {
					d.logger.Error("shutdown stop failed", "instance", name, "err", err)
				}
			}(name)
		}
		wg.Wait()

		d.wl.CloseAll()
		_ = d.bus.Close()
		d.closeSinks()
		d.sink.Close()
		d.logger.Info("shutdown complete")
	})
}

func (d *Daemon) closeSinks() {
	if d.sqlHist != nil {
		_ = d.sqlHist.Close()
	}
	if d.chHist != nil {
		_ = d.chHist.Close()
	}
}

// ErrNoConfig is returned by helpers that need a config file path.
var ErrNoConfig = errors.New("config file required")
