package models

// Requests for the pairs HTTP API.

type HistoryRequest struct {
	Key   string `param:"key" validate:"required"`
	From  string `query:"from"`
	To    string `query:"to"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type ValidatePairsRequest struct {
	Pairs string `json:"pairs" validate:"required"`
}

type ConfigRequest struct {
	Pairs           string `json:"pairs"`
	IntervalSeconds int    `json:"interval_seconds" validate:"gte=0"`
}

type StreamRequest struct {
	Key string `query:"key" default:"*"`
}

// ConfigResponse reports how a reconfiguration request was parsed. The new
// settings take effect at the next cycle boundary.
type ConfigResponse struct {
	Pairs           []string       `json:"pairs"`
	Invalid         []InvalidToken `json:"invalid"`
	IntervalSeconds int            `json:"interval_seconds,omitempty"`
}
