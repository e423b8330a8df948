package usecase

import "time"

// Ticker drives the poll schedule. It is injectable so tests control time.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

// NewStdTicker wraps time.Ticker.
func NewStdTicker(d time.Duration) Ticker { return &stdTicker{t: time.NewTicker(d)} }

func (s *stdTicker) C() <-chan time.Time   { return s.t.C }
func (s *stdTicker) Reset(d time.Duration) { s.t.Reset(d) }
func (s *stdTicker) Stop()                 { s.t.Stop() }
