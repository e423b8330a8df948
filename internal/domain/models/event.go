package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a diagnostics event emitted by the coordinator.
type EventType string

const (
	EventCycleStarted    EventType = "cycle_started"
	EventCycleCompleted  EventType = "cycle_completed"
	EventCycleSkipped    EventType = "cycle_skipped"
	EventFetchSucceeded  EventType = "fetch_succeeded"
	EventFetchFailed     EventType = "fetch_failed"
	EventPairTransition  EventType = "pair_transition"
	EventPairUnresolved  EventType = "pair_unresolved"
	EventPairDegraded    EventType = "pair_degraded"
	EventPairRecovered   EventType = "pair_recovered"
	EventConfigApplied   EventType = "config_applied"
	EventDeliveryFailed  EventType = "delivery_failed"
	EventDeliveryDropped EventType = "delivery_dropped"
)

// Event is a structured diagnostics record. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	At       time.Time
	CycleID  uuid.UUID
	PairKey  string
	Currency string
	From     PairState
	To       PairState
	Quote    *Quote
	Kind     FetchErrorKind
	Count    int
	Failed   int
	Duration time.Duration
	Err      error
	// Keys is the configured pair set, on config_applied.
	Keys []string
}
