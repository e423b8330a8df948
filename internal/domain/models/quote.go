package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quote is one price observation for a pair. A refresh builds a new Quote;
// existing values are never modified.
type Quote struct {
	Price     decimal.Decimal     `json:"price"`
	Change24h decimal.NullDecimal `json:"change_24h"`
	Volume24h decimal.NullDecimal `json:"volume_24h"`
	MarketCap decimal.NullDecimal `json:"market_cap"`
	AsOf      time.Time           `json:"as_of"`
}

// PairState is the lifecycle state of a registered pair.
type PairState string

const (
	StatePending    PairState = "pending"
	StateFresh      PairState = "fresh"
	StateStale      PairState = "stale"
	StateUnresolved PairState = "unresolved"
)

// Polled reports whether pairs in this state take part in fetch cycles.
func (s PairState) Polled() bool {
	return s == StatePending || s == StateFresh || s == StateStale
}

// Snapshot is a read-only view of a pair handed to consumers.
type Snapshot struct {
	Key                 string     `json:"key"`
	Coin                string     `json:"coin"`
	Currency            string     `json:"currency"`
	RemoteID            string     `json:"remote_id,omitempty"`
	State               PairState  `json:"state"`
	Quote               *Quote     `json:"quote"`
	LastUpdated         *time.Time `json:"last_updated"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Degraded            bool       `json:"degraded"`
	LastError           string     `json:"last_error,omitempty"`
}

// SubscriptionToken identifies a registered subscription.
type SubscriptionToken = uuid.UUID

// Notification is delivered to subscribers after every refresh attempt of a pair.
// Err is set when the refresh failed; Quote then holds the last known value, if any.
type Notification struct {
	PairKey  string   `json:"pair_key"`
	Snapshot Snapshot `json:"snapshot"`
	Quote    *Quote   `json:"quote,omitempty"`
	Changed  bool     `json:"changed"`
	Err      error    `json:"-"`
}
