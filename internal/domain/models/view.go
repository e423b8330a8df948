package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Attribution is shown alongside every published price.
const Attribution = "Data provided by CoinGecko"

// PairView is the external JSON shape of a pair, shared by the HTTP API, the
// WebSocket stream and the Kafka topic.
type PairView struct {
	Key                 string           `json:"key"`
	Coin                string           `json:"coin"`
	Currency            string           `json:"currency"`
	CoinID              string           `json:"coin_id,omitempty"`
	State               PairState        `json:"state"`
	Price               *decimal.Decimal `json:"price"`
	Unit                string           `json:"unit"`
	Change24h           *float64         `json:"change_24h"`
	Volume24h           *decimal.Decimal `json:"volume_24h"`
	MarketCap           *decimal.Decimal `json:"market_cap"`
	AsOf                *time.Time       `json:"as_of,omitempty"`
	LastUpdated         *time.Time       `json:"last_updated"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	Degraded            bool             `json:"degraded"`
	LastError           string           `json:"last_error,omitempty"`
	Attribution         string           `json:"attribution"`
}

// NewPairView builds the external view of s. The 24h change is rounded to two
// decimal places.
func NewPairView(s Snapshot) PairView {
	v := PairView{
		Key:                 s.Key,
		Coin:                s.Coin,
		Currency:            s.Currency,
		CoinID:              s.RemoteID,
		State:               s.State,
		Unit:                s.Currency,
		LastUpdated:         s.LastUpdated,
		ConsecutiveFailures: s.ConsecutiveFailures,
		Degraded:            s.Degraded,
		LastError:           s.LastError,
		Attribution:         Attribution,
	}
	if q := s.Quote; q != nil {
		price := q.Price
		v.Price = &price
		if q.Change24h.Valid {
			ch, _ := q.Change24h.Decimal.Round(2).Float64()
			v.Change24h = &ch
		}
		if q.Volume24h.Valid {
			vol := q.Volume24h.Decimal
			v.Volume24h = &vol
		}
		if q.MarketCap.Valid {
			mc := q.MarketCap.Decimal
			v.MarketCap = &mc
		}
		if !q.AsOf.IsZero() {
			asOf := q.AsOf
			v.AsOf = &asOf
		}
	}
	return v
}

// NewPairViews maps NewPairView over snaps.
func NewPairViews(snaps []Snapshot) []PairView {
	out := make([]PairView, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, NewPairView(s))
	}
	return out
}

// NotificationMessage is the payload published for a notification.
type NotificationMessage struct {
	Pair    PairView  `json:"pair"`
	Changed bool      `json:"changed"`
	Error   string    `json:"error,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// NewNotificationMessage builds the published form of n.
func NewNotificationMessage(n Notification, now time.Time) NotificationMessage {
	m := NotificationMessage{Pair: NewPairView(n.Snapshot), Changed: n.Changed, SentAt: now.UTC()}
	if n.Err != nil {
		m.Error = n.Err.Error()
	}
	return m
}
