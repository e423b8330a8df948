package repository

import (
	"context"
	"time"

	"CoinPull/internal/domain/models"
)

// QuoteFetcher is the remote price API boundary. Implementations never retry.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, ids []string, currency string, timeout time.Duration) (map[string]models.Quote, error)
}

// PairParser turns a comma-separated pair list into validated pair specs.
type PairParser interface {
	Parse(raw string) models.ParseResult
}

// SymbolResolver maps coin symbols to remote identifiers.
type SymbolResolver interface {
	Resolve(symbol string) (string, error)
}

// EventSink consumes coordinator diagnostics. Emit must not block for long.
type EventSink interface {
	Emit(ev models.Event)
}

// NotificationHandler receives pair notifications from the subscription registry.
type NotificationHandler interface {
	Deliver(n models.Notification) error
}

// NotificationHandlerFunc adapts a function to NotificationHandler.
type NotificationHandlerFunc func(models.Notification) error

func (f NotificationHandlerFunc) Deliver(n models.Notification) error { return f(n) }

// QuoteStore persists quote history.
type QuoteStore interface {
	Init(ctx context.Context) error
	StoreQuote(ctx context.Context, key string, q models.Quote) error
	History(ctx context.Context, key string, from, to time.Time, limit int) ([]models.Quote, error)
	Health(ctx context.Context) error
	Close() error
}

// NotificationPublisher forwards notifications to an external bus.
type NotificationPublisher interface {
	Publish(ctx context.Context, n models.Notification) error
	Close() error
}

// SnapshotMirror copies snapshots to a shared cache for out-of-process readers.
type SnapshotMirror interface {
	Put(ctx context.Context, s models.Snapshot) error
	Get(ctx context.Context, key string) (models.Snapshot, error)
}

// Metrics records service metrics.
type Metrics interface {
	RecordCycle(result string, seconds float64)
	RecordCycleSkipped()
	RecordFetch(currency string, result string, seconds float64)
	RecordLastPrice(pair string, price float64)
	RecordPairState(pair string, state models.PairState)
	RecordDegraded(pair string, degraded bool)
	RecordDelivery(result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordSinkBuffer(depth int)
	ForgetPair(pair string)
}
