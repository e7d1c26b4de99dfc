// Package server exposes the HTTP control surface for the daemon.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/slumber/internal/action"
	"github.com/loykin/slumber/internal/history"
	"github.com/loykin/slumber/internal/metrics"
	"github.com/loykin/slumber/internal/query"
	"github.com/loykin/slumber/internal/registry"
	"github.com/loykin/slumber/internal/sleep"
	"github.com/loykin/slumber/internal/state"
)

// Router provides embeddable HTTP handlers for managing instances.
// Endpoints under basePath:
//
//	GET  /instances                    list all instances with status
//	GET  /instances/:name/status      single instance status
//	GET  /instances/:name/ping        live status query against the game port
//	GET  /instances/:name/history     recent lifecycle entries (when a store is configured)
//	POST /instances/:name/start
//	POST /instances/:name/stop
//	POST /instances/:name/restart
//	POST /instances/:name/wake
//	POST /instances/:name/command     body: {"command": "..."}
//	GET  /metrics                     prometheus
type Router struct {
	reg      *registry.Registry
	st       *state.Store
	act      *action.Service
	mon      *sleep.Monitor
	pinger   sleep.Pinger
	hist     *history.SQLSink // nil when no store is configured
	basePath string
}

func NewRouter(reg *registry.Registry, st *state.Store, act *action.Service, mon *sleep.Monitor, hist *history.SQLSink, basePath string) *Router {
	return &Router{
		reg:      reg,
		st:       st,
		act:      act,
		mon:      mon,
		pinger:   &query.Client{},
		hist:     hist,
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/instances", r.handleList)
	group.GET("/instances/:name/status", r.handleStatus)
	group.GET("/instances/:name/ping", r.handlePing)
	group.GET("/instances/:name/history", r.handleHistory)
	group.POST("/instances/:name/start", r.handleStart)
	group.POST("/instances/:name/stop", r.handleStop)
	group.POST("/instances/:name/restart", r.handleRestart)
	group.POST("/instances/:name/wake", r.handleWake)
	group.POST("/instances/:name/command", r.handleCommand)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	PID    int    `json:"pid,omitempty"`
}

type statusResp struct {
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	PID            int       `json:"pid,omitempty"`
	Port           int       `json:"port"`
	OnlinePlayers  int       `json:"online_players"`
	SleepEnabled   bool      `json:"sleep_enabled"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IdleSeconds    int       `json:"idle_seconds"`
}

func (r *Router) lookup(c *gin.Context) (registry.Instance, bool) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid instance name: allowed [A-Za-z0-9._-]"})
		return registry.Instance{}, false
	}
	in, ok := r.reg.GetInstance(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown instance: " + name})
		return registry.Instance{}, false
	}
	return in, true
}

func (r *Router) status(in registry.Instance) statusResp {
	info := r.st.Get(in.Name)
	players := info.OnlinePlayers
	if players == state.PlayersUnknown {
		players = 0
	}
	return statusResp{
		Name:           in.Name,
		Status:         string(info.Status),
		PID:            info.PID,
		Port:           in.GamePort(),
		OnlinePlayers:  players,
		SleepEnabled:   in.Sleep.Enabled,
		StartedAt:      info.StartedAt,
		LastActivityAt: info.LastActivityAt,
		IdleSeconds:    int(r.st.IdleFor(in.Name).Seconds()),
	}
}

func (r *Router) handleList(c *gin.Context) {
	ins := r.reg.ListInstances()
	out := make([]statusResp, 0, len(ins))
	for _, in := range ins {
		out = append(out, r.status(in))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStatus(c *gin.Context) {
	in, ok := r.lookup(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r.status(in))
}

func (r *Router) handlePing(c *gin.Context) {
	in, ok := r.lookup(c)
	if !ok {
		return
	}
	res, err := r.pinger.Ping("127.0.0.1", in.GamePort())
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"online":      res.Online,
		"max":         res.Max,
		"description": res.Description,
		"version":     res.Version,
		"latency_ms":  res.Latency.Milliseconds(),
	})
}

func (r *Router) handleHistory(c *gin.Context) {
	in, ok := r.lookup(c)
	if !ok {
		return
	}
	if r.hist == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "no history store configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	entries, err := r.hist.Recent(ctx, in.Name, 50)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(c, http.StatusOK, entries)
}

func (r *Router) handleStart(c *gin.Context) {
	in, ok := r.lookup(c)
	if !ok {
		return
	}
	res, err := r.act.Start(in.Name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Status: string(res.Status), PID: res.PID})
}

func (r *Router) handleStop(c *gin.Context) {
	in, ok := r.lookup(c)
	if !ok {
		return
	}
	res, err := r.act.Stop(in.Name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Status: string(res.Status)})
}

func (r *Router) handleRestart(c *gin.Context) {
	in, ok := r.lookup(c)
	if !ok {
		return
	}
	res, err := r.act.Restart(in.Name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, Status: string(res.Status), PID: res.PID})
}

func (r *Router) handleWake(c *gin.Context) {
	in, ok := r.lookup(c)
	if !ok {
		return
	}
	res := r.mon.Wake(in.Name)
	code := http.StatusOK
	if res == sleep.WakeFailed {
		code = http.StatusBadGateway
	}
	writeJSON(c, code, okResp{OK: res != sleep.WakeFailed, Status: string(res)})
}

type commandReq struct {
	Command string `json:"command"`
}

func (r *Router) handleCommand(c *gin.Context) {
	in, ok := r.lookup(c)
	if !ok {
		return
	}
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if !r.act.SendCommand(in.Name, req.Command) {
		writeJSON(c, http.StatusConflict, errorResp{Error: "instance is not running"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
