package models

import "time"

// Health summarizes coordinator state for health endpoints.
type Health struct {
	Running           bool          `json:"running"`
	Interval          time.Duration `json:"-"`
	IntervalSeconds   int           `json:"interval_seconds"`
	Pairs             int           `json:"pairs"`
	Pending           int           `json:"pending"`
	Fresh             int           `json:"fresh"`
	Stale             int           `json:"stale"`
	Unresolved        int           `json:"unresolved"`
	Degraded          []string      `json:"degraded"`
	LastCycleAt       *time.Time    `json:"last_cycle_at"`
	LastCycleDuration time.Duration `json:"-"`
	LastCycleMillis   int64         `json:"last_cycle_ms"`
}

// Healthy reports whether no pair is degraded and at least one pair is polled.
func (h Health) Healthy() bool {
	return h.Running && len(h.Degraded) == 0 && h.Pairs > h.Unresolved
}
