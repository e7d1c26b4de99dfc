package client

import "time"

// InstanceStatus is the daemon's view of one instance.
type InstanceStatus struct {
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

// PingResult is a live status query answered by the instance itself.
type PingResult struct {
	Online      int    `json:"online"`
	Max         int    `json:"max"`
	Description string `json:"description"`
	Version     string `json:"version"`
	LatencyMS   int64  `json:"latency_ms"`
}

// HistoryEntry is one recorded lifecycle transition.
type HistoryEntry struct {
	Instance   string    `json:"instance"`
	Event      string    `json:"event"`
	PID        int       `json:"pid"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ActionResult is the outcome of a start/stop/restart/wake request.
type ActionResult struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	PID    int    `json:"pid,omitempty"`
}

// ErrorResponse is the daemon's JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
