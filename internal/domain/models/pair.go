package models

import "time"

// AllPairs is the subscription key that matches every pair.
const AllPairs = "*"

// PairSpec identifies a tracked coin/currency pair, e.g. BTC/AUD.
type PairSpec struct {
	Coin     string `json:"coin"`
	Currency string `json:"currency"`
}

// Key returns the external identity of the pair ("BTCAUD").
func (p PairSpec) Key() string { return p.Coin + p.Currency }

func (p PairSpec) String() string { return p.Coin + "/" + p.Currency }

// InvalidReason classifies why a configured token was rejected.
type InvalidReason string

const (
	ReasonEmpty           InvalidReason = "empty"
	ReasonMalformed       InvalidReason = "malformed"
	ReasonUnknownCurrency InvalidReason = "unknown_currency"
	ReasonUnknownCoin     InvalidReason = "unknown_coin"
	ReasonDuplicate       InvalidReason = "duplicate"
)

// InvalidToken is a rejected entry of a pair list.
type InvalidToken struct {
	Token   string        `json:"token"`
	Reason  InvalidReason `json:"reason"`
	Message string        `json:"message"`
}

// ParseResult is the outcome of parsing a comma-separated pair list.
// Partial validity is normal; only an empty Valid list is a configuration error.
type ParseResult struct {
	Valid   []PairSpec     `json:"valid"`
	Invalid []InvalidToken `json:"invalid"`
}

// Keys returns the keys of all valid pairs in input order.
func (r ParseResult) Keys() []string {
	keys := make([]string, 0, len(r.Valid))
	for _, p := range r.Valid {
		keys = append(keys, p.Key())
	}
	return keys
}

// Err returns a *ConfigError when no token was valid.
func (r ParseResult) Err() error {
	if len(r.Valid) > 0 {
		return nil
	}
	return &ConfigError{
		Field:   "pairs",
		Message: "no valid pairs configured",
		Invalid: r.Invalid,
	}
}

// Settings is the coordinator configuration input.
//
// In Reconfigure, an empty Pairs keeps the current pair set and a zero
// IntervalSeconds keeps the current interval.
type Settings struct {
	Pairs           string `json:"pairs"`
	IntervalSeconds int    `json:"interval_seconds"`
}

const (
	DefaultIntervalSeconds = 900
	MinIntervalSeconds     = 60
	MaxIntervalSeconds     = 86400
)

// ValidateInterval checks the polling interval bounds.
func ValidateInterval(seconds int) error {
	if seconds < MinIntervalSeconds || seconds > MaxIntervalSeconds {
		return &ConfigError{
			Field:   "interval_seconds",
			Message: "interval_seconds must be between 60 and 86400",
		}
	}
	return nil
}

// Interval converts seconds to a duration.
func Interval(seconds int) time.Duration { return time.Duration(seconds) * time.Second }
