// Package diagnostics turns coordinator events into log lines and metrics.
package diagnostics

import (
	"errors"
	"sync"

	"CoinPull/internal/domain/models"
	"CoinPull/internal/domain/repository"
	applogger "CoinPull/pkg/logger"
)

// Sink implements repository.EventSink. It also subscribes to notifications
// to keep the price gauges current.
type Sink struct {
	logger  *applogger.Logger
	metrics repository.Metrics

	// seen holds pairs with per-pair series. active is the configured set,
	// nil until the first config_applied. Coordinator events always name a
	// configured pair; notifications may arrive after their pair was removed.
	mu     sync.Mutex
	seen   map[string]struct{}
	active map[string]struct{}
}

// New creates a Sink.
func New(logger *applogger.Logger, metrics repository.Metrics) *Sink {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &Sink{
		logger:  logger.With(applogger.String("component", "coordinator")),
		metrics: metrics,
		seen:    make(map[string]struct{}),
	}
}

// track marks pair as having series.
func (s *Sink) track(pair string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active[pair] = struct{}{}
	}
	s.seen[pair] = struct{}{}
}

// trackDelivered is track for notifications. It reports false for pairs that
// are no longer configured.
func (s *Sink) trackDelivered(pair string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		if _, ok := s.active[pair]; !ok {
			return false
		}
	}
	s.seen[pair] = struct{}{}
	return true
}

// retain drops the series of every pair outside keys.
func (s *Sink) retain(keys []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s.active[k] = struct{}{}
	}
	var removed []string
	for k := range s.seen {
		if _, ok := s.active[k]; !ok {
			delete(s.seen, k)
			s.metrics.ForgetPair(k)
			removed = append(removed, k)
		}
	}
	return removed
}

// Emit logs and records ev.
func (s *Sink) Emit(ev models.Event) {
	switch ev.Type {
	case models.EventCycleStarted:
		s.logger.Debug("poll cycle started",
			applogger.String("cycle_id", ev.CycleID.String()),
			applogger.Int("pairs", ev.Count),
		)

	case models.EventCycleCompleted:
		result := "ok"
		switch {
		case ev.Count > 0 && ev.Failed == ev.Count:
			result = "failed"
		case ev.Failed > 0:
			result = "partial"
		}
		s.metrics.RecordCycle(result, ev.Duration.Seconds())
		s.logger.Info("poll cycle complete",
			applogger.String("cycle_id", ev.CycleID.String()),
			applogger.String("result", result),
			applogger.Int("groups", ev.Count),
			applogger.Int("failed", ev.Failed),
			applogger.Duration("duration_ms", ev.Duration),
		)

	case models.EventCycleSkipped:
		s.metrics.RecordCycleSkipped()
		s.logger.Warn("poll cycle skipped, previous cycle still running")

	case models.EventFetchSucceeded:
		s.metrics.RecordFetch(ev.Currency, "ok", ev.Duration.Seconds())

	case models.EventFetchFailed:
		s.metrics.RecordFetch(ev.Currency, string(ev.Kind), ev.Duration.Seconds())
		s.metrics.RecordError(string(ev.Kind))
		fields := []applogger.Field{
			applogger.String("cycle_id", ev.CycleID.String()),
			applogger.String("currency", ev.Currency),
			applogger.String("kind", string(ev.Kind)),
			applogger.Int("pairs", ev.Count),
			applogger.Error(ev.Err),
		}
		var fe *models.FetchError
		if errors.As(ev.Err, &fe) && fe.RetryAfter > 0 {
			fields = append(fields, applogger.Duration("retry_after_ms", fe.RetryAfter))
		}
		s.logger.Warn("fetch failed", fields...)

	case models.EventPairTransition:
		s.track(ev.PairKey)
		s.metrics.RecordPairState(ev.PairKey, ev.To)
		s.logger.Debug("pair state changed",
			applogger.String("pair", ev.PairKey),
			applogger.String("from", string(ev.From)),
			applogger.String("to", string(ev.To)),
		)

	case models.EventPairUnresolved:
		s.track(ev.PairKey)
		s.metrics.RecordPairState(ev.PairKey, models.StateUnresolved)
		s.metrics.RecordError("unresolved")
		s.logger.Warn("pair unresolved",
			applogger.String("pair", ev.PairKey),
			applogger.Error(ev.Err),
		)

	case models.EventPairDegraded:
		s.track(ev.PairKey)
		s.metrics.RecordDegraded(ev.PairKey, true)
		s.logger.Warn("pair degraded",
			applogger.String("pair", ev.PairKey),
			applogger.Int("consecutive_failures", ev.Count),
			applogger.String("kind", string(ev.Kind)),
		)

	case models.EventPairRecovered:
		s.track(ev.PairKey)
		s.metrics.RecordDegraded(ev.PairKey, false)
		s.logger.Info("pair recovered", applogger.String("pair", ev.PairKey))

	case models.EventConfigApplied:
		removed := s.retain(ev.Keys)
		s.logger.Info("configuration applied",
			applogger.Int("pairs", ev.Count),
			applogger.Int("interval_seconds", int(ev.Duration.Seconds())),
			applogger.Int("removed", len(removed)),
		)

	case models.EventDeliveryFailed:
		s.metrics.RecordDelivery("failed")
		s.logger.Error("subscriber delivery failed",
			applogger.String("pair", ev.PairKey),
			applogger.Error(ev.Err),
		)

	case models.EventDeliveryDropped:
		s.metrics.RecordDelivery("dropped")
		s.logger.Warn("subscriber mailbox full, notification dropped",
			applogger.String("pair", ev.PairKey),
		)
	}
}

// Deliver records the latest price of a refreshed pair.
func (s *Sink) Deliver(n models.Notification) error {
	if n.Err != nil || n.Quote == nil {
		return nil
	}
	if !s.trackDelivered(n.PairKey) {
		return nil
	}
	price, _ := n.Quote.Price.Float64()
	s.metrics.RecordLastPrice(n.PairKey, price)
	return nil
}
