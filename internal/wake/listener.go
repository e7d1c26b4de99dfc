// Package wake masquerades as sleeping instances on their game ports. An
// inbound status request or join attempt triggers a wake; the port is
// released synchronously the moment the real process is about to claim it.
package wake

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/loykin/slumber/internal/events"
	"github.com/loykin/slumber/internal/logsink"
	"github.com/loykin/slumber/internal/props"
	"github.com/loykin/slumber/internal/protocol"
	"github.com/loykin/slumber/internal/registry"
	"github.com/loykin/slumber/internal/sleep"
	"github.com/loykin/slumber/internal/state"
)

const (
	// wakeCooldown suppresses repeated wake attempts after a failure.
	wakeCooldown = 30 * time.Second
	// connDeadline bounds one emulated connection end to end.
	connDeadline = 10 * time.Second

	descWaking   = "Waking up..."
	descCooldown = "Offline / Start failed, retry shortly"
)

// Listeners maintains one TCP listener per sleeping wake-enabled instance.
// It implements action.PortGuard.
type Listeners struct {
	reg      *registry.Registry
	st       *state.Store
	mon      *sleep.Monitor
	bus      *events.Bus
	sink     *logsink.Sink
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	bound    map[string]net.Listener
	cooldown map[string]time.Time // wake-cooldown expiry per instance
	closed   bool
}

func NewListeners(reg *registry.Registry, st *state.Store, mon *sleep.Monitor, bus *events.Bus, sink *logsink.Sink, interval time.Duration, logger *slog.Logger) *Listeners {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Listeners{
		reg:      reg,
		st:       st,
		mon:      mon,
		bus:      bus,
		sink:     sink,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		bound:    make(map[string]net.Listener),
		cooldown: make(map[string]time.Time),
	}
}

// Run reacts to lifecycle events immediately and reconciles the listener set
// on the refresh interval until ctx is cancelled.
func (w *Listeners) Run(ctx context.Context) error {
	evs, err := w.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	w.Refresh()
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case ev, ok := <-evs:
			if !ok {
				w.CloseAll()
				return nil
			}
			w.handleEvent(ev)
		case <-t.C:
			w.Refresh()
		case <-ctx.Done():
			w.CloseAll()
			return nil
		}
	}
}

func (w *Listeners) handleEvent(ev events.Event) {
	switch ev.Type {
	case events.Starting, events.Stopping, events.Started:
		// The real process owns (or is about to own) the port.
		w.Release(ev.Instance)
	case events.Stopped, events.StartFailed:
		if in, ok := w.reg.GetInstance(ev.Instance); ok {
			w.ensure(in)
		}
	}
}

// Release closes the instance's emulation listener. It returns only after
// the socket is closed, so a subsequent bind by the real process cannot
// collide with it.
func (w *Listeners) Release(name string) {
	w.mu.Lock()
	ln := w.bound[name]
	delete(w.bound, name)
	w.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
		w.logger.Debug("released wake listener", "instance", name)
	}
}

// Refresh reconciles listeners against the desired set: bound exactly for
// sleep-enabled, wake-on-ping instances that are neither running nor
// starting. Bind failures are retried on the next refresh.
func (w *Listeners) Refresh() {
	for _, in := range w.reg.ListInstances() {
		if w.desired(in) {
			w.ensure(in)
		} else {
			w.Release(in.Name)
		}
	}
}

func (w *Listeners) desired(in registry.Instance) bool {
	if !in.Sleep.Enabled || !in.Sleep.WakeOnPing {
		return false
	}
	info := w.st.Get(in.Name)
	if info.Status == state.StatusRunning || info.Status == state.StatusStarting || info.StartInProgress {
		return false
	}
	return true
}

func (w *Listeners) ensure(in registry.Instance) {
	if !w.desired(in) {
		return
	}
	w.mu.Lock()
	if w.closed || w.bound[in.Name] != nil {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	port := in.GamePort()
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		// Port still held (often by the just-exiting server); retry later.
		w.logger.Warn("wake listener bind failed, will retry", "instance", in.Name, "port", port, "err", err)
		return
	}

	w.mu.Lock()
	if w.closed || w.bound[in.Name] != nil {
		w.mu.Unlock()
		_ = ln.Close()
		return
	}
	w.bound[in.Name] = ln
	w.mu.Unlock()

	w.logger.Info("wake listener bound", "instance", in.Name, "port", port)
	go w.acceptLoop(in, ln)
}

func (w *Listeners) acceptLoop(in registry.Instance, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go w.handleConn(in, conn)
	}
}

// handleConn speaks just enough of the server list ping to either answer a
// status query or recognize a join attempt. Malformed traffic closes the
// connection without further effect.
func (w *Listeners) handleConn(in registry.Instance, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	var dec protocol.Decoder
	var queue []protocol.Packet
	buf := make([]byte, 1024)
	next := func() (protocol.Packet, bool) {
		for {
			if len(queue) > 0 {
				p := queue[0]
				queue = queue[1:]
				return p, true
			}
			n, err := conn.Read(buf)
			if n > 0 {
				pkts, perr := dec.Feed(buf[:n])
				if perr != nil {
					return protocol.Packet{}, false
				}
				queue = append(queue, pkts...)
				continue
			}
			if err != nil {
				return protocol.Packet{}, false
			}
		}
	}

	first, ok := next()
	if !ok || first.ID != protocol.IDHandshake {
		return
	}
	hs, err := protocol.ParseHandshake(first.Body)
	if err != nil {
		return
	}
	switch hs.NextState {
	case protocol.StateLogin:
		// A player is trying to join; wake and drop the connection (we
		// cannot speak the login protocol on the server's behalf).
		w.sink.Append(in.Name, "[slumber] join attempt while sleeping, waking instance")
		w.triggerWake(in.Name)
		return
	case protocol.StateStatus:
	default:
		return
	}

	for {
		pkt, ok := next()
		if !ok {
			return
		}
		switch {
		case pkt.ID == protocol.IDStatusRequest && len(pkt.Body) == 0:
			desc := w.statusDescription(in)
			resp, err := protocol.EncodeStatusResponse(protocol.NewStatus(desc, 0, props.ExtractMaxPlayers(in.Dir)))
			if err != nil {
				return
			}
			if _, err := conn.Write(resp); err != nil {
				return
			}
			// Connection stays open for the client's latency ping.
		case pkt.ID == protocol.IDPing && len(pkt.Body) == 8:
			_, _ = conn.Write(protocol.EncodePong(pkt.Body))
			return
		default:
			return
		}
	}
}

// statusDescription decides what a pinging client sees and, when warranted,
// triggers the wake itself. A bare ping never reaches this path.
func (w *Listeners) statusDescription(in registry.Instance) string {
	info := w.st.Get(in.Name)
	if info.StartInProgress || info.Status == state.StatusStarting {
		return descWaking
	}
	if w.cooldownActive(in.Name) {
		return descCooldown
	}
	w.sink.Append(in.Name, "[slumber] status ping while sleeping, waking instance")
	if w.triggerWake(in.Name) == sleep.WakeFailed {
		return descCooldown
	}
	return descWaking
}

// triggerWake frees our own hold on the port, then delegates to the sleep
// monitor's deduplicated wake. Failures arm the 30s wake-cooldown.
func (w *Listeners) triggerWake(name string) sleep.WakeResult {
	if w.cooldownActive(name) {
		return sleep.WakeFailed
	}
	w.Release(name)
	res := w.mon.Wake(name)
	if res == sleep.WakeFailed {
		w.mu.Lock()
		w.cooldown[name] = w.now().Add(wakeCooldown)
		w.mu.Unlock()
		w.sink.Append(name, "[slumber] wake failed, backing off for "+wakeCooldown.String())
	}
	return res
}

// Forget releases the instance's listener and drops its cooldown entry;
// called when an instance is removed from the registry.
func (w *Listeners) Forget(name string) {
	w.Release(name)
	w.mu.Lock()
	delete(w.cooldown, name)
	w.mu.Unlock()
}

func (w *Listeners) cooldownActive(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now().Before(w.cooldown[name])
}

// Bound reports whether an emulation listener currently holds the port.
func (w *Listeners) Bound(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bound[name] != nil
}

// CloseAll closes every listener; used on shutdown.
func (w *Listeners) CloseAll() {
	w.mu.Lock()
	w.closed = true
	lns := make([]net.Listener, 0, len(w.bound))
	for name, ln := range w.bound {
		lns = append(lns, ln)
		delete(w.bound, name)
	}
	w.mu.Unlock()
	for _, ln := range lns {
		_ = ln.Close()
	}
}
