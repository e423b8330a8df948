package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"CoinPull/internal/domain/models"
	"CoinPull/internal/domain/repository"
	applogger "CoinPull/pkg/logger"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CHQuoteStore implements QuoteStore backed by ClickHouse.
type CHQuoteStore struct {
	db       *sql.DB
	database string
	table    string
	l        *applogger.Logger
}

var _ repository.QuoteStore = (*CHQuoteStore)(nil)

// NewCHQuoteStore creates a quote store writing to database.table.
func NewCHQuoteStore(db *sql.DB, database, table string, l *applogger.Logger) (*CHQuoteStore, error) {
	if !identRe.MatchString(database) || !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse identifier %q.%q", database, table)
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &CHQuoteStore{db: db, database: database, table: table, l: l}, nil
}

func (s *CHQuoteStore) qualified() string { return s.database + "." + s.table }

// schema returns the idempotent DDL for the quote table.
func (s *CHQuoteStore) schema() []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            ts          DateTime64(3, 'UTC'),
            pair        LowCardinality(String),
            price       Decimal(38, 18),
            change_24h  Nullable(Decimal(38, 18)),
            volume_24h  Nullable(Decimal(38, 18)),
            market_cap  Nullable(Decimal(38, 18))
        ) ENGINE = ReplacingMergeTree
        PARTITION BY toYYYYMM(ts)
        ORDER BY (pair, ts)`, s.qualified()),
	}
}

func (s *CHQuoteStore) Init(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init quote table: %w", err)
		}
	}
	return nil
}

func (s *CHQuoteStore) StoreQuote(ctx context.Context, key string, q models.Quote) error {
	query := fmt.Sprintf("INSERT INTO %s (ts, pair, price, change_24h, volume_24h, market_cap) VALUES (?, ?, ?, ?, ?, ?)", s.qualified())
	_, err := s.db.ExecContext(ctx, query,
		q.AsOf.UTC(),
		key,
		q.Price,
		nullable(q.Change24h),
		nullable(q.Volume24h),
		nullable(q.MarketCap),
	)
	if err != nil {
		return fmt.Errorf("store quote %s: %w", key, err)
	}
	return nil
}

// History returns quotes of key in [from, to], oldest first, capped at limit.
func (s *CHQuoteStore) History(ctx context.Context, key string, from, to time.Time, limit int) ([]models.Quote, error) {
	start := time.Now()
	const qtpl = `
        SELECT ts, toString(price), toString(change_24h), toString(volume_24h), toString(market_cap)
        FROM %s FINAL
        WHERE pair = ? AND ts >= ? AND ts <= ?
        ORDER BY ts DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.qualified()), key, from.UTC(), to.UTC(), limit)
	if err != nil {
		s.l.Error("clickhouse history query error", applogger.String("pair", key), applogger.Error(err))
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]models.Quote, 0, limit)
	for rows.Next() {
		var (
			ts                   time.Time
			price                string
			change, volume, mcap sql.NullString
		)
		if err := rows.Scan(&ts, &price, &change, &volume, &mcap); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		q, err := quoteFromRow(ts, price, change, volume, mcap)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	s.l.Debug("clickhouse history ok",
		applogger.String("pair", key),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHQuoteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *CHQuoteStore) Close() error {
	return nil
}

func nullable(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}

func quoteFromRow(ts time.Time, price string, change, volume, mcap sql.NullString) (models.Quote, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return models.Quote{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	q := models.Quote{Price: p, AsOf: ts.UTC()}
	for _, f := range []struct {
		raw sql.NullString
		dst *decimal.NullDecimal
	}{
		{change, &q.Change24h},
		{volume, &q.Volume24h},
		{mcap, &q.MarketCap},
	} {
		if !f.raw.Valid {
			continue
		}
		d, err := decimal.NewFromString(f.raw.String)
		if err != nil {
			return models.Quote{}, fmt.Errorf("parse %q: %w", f.raw.String, err)
		}
		*f.dst = decimal.NewNullDecimal(d)
	}
	return q, nil
}

// Name implements middleware.Sink.
func (s *CHQuoteStore) Name() string { return "clickhouse" }

// Accept keeps successful refreshes only; failures carry a stale quote.
func (s *CHQuoteStore) Accept(n models.Notification) bool {
	return n.Err == nil && n.Quote != nil
}

// Write stores the refreshed quote.
func (s *CHQuoteStore) Write(ctx context.Context, n models.Notification) error {
	return s.StoreQuote(ctx, n.PairKey, *n.Quote)
}
