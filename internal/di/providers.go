package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/handler/api"
	mid "CoinPull/internal/middleware"
	internalrepo "CoinPull/internal/repository"
	"CoinPull/internal/service/coingecko"
	"CoinPull/internal/service/diagnostics"
	"CoinPull/internal/service/pairs"
	"CoinPull/internal/service/ratelimit"
	"CoinPull/internal/service/resolver"
	"CoinPull/internal/usecase"
	"CoinPull/pkg/cache"
	pkgch "CoinPull/pkg/clickhouse"
	"CoinPull/pkg/config"
	xhttp "CoinPull/pkg/http"
	pkgkafka "CoinPull/pkg/kafka"
	applogger "CoinPull/pkg/logger"
	"CoinPull/pkg/metrics"
	"CoinPull/pkg/server"
)

const connectTimeout = 10 * time.Second

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry exposed on the metrics path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return metrics.New(reg)
}

// ProvideDiagnostics maps coordinator events to logs and metrics.
func ProvideDiagnostics(l *applogger.Logger, m domrepo.Metrics) *diagnostics.Sink {
	return diagnostics.New(l, m)
}

// ProvideCoinGeckoClient creates the remote price API client.
func ProvideCoinGeckoClient(cfg *config.Config) *coingecko.Client {
	return coingecko.New(
		coingecko.WithBaseURL(cfg.CoinGecko.BaseURL),
		coingecko.WithAPIKey(cfg.CoinGecko.APIKey, cfg.CoinGecko.APIPlan),
		coingecko.WithHTTPTimeout(cfg.CoinGecko.Timeout),
	)
}

// ProvideResolver creates the symbol resolver. The remote coin list is only
// polled when a refresh interval is configured.
func ProvideResolver(cfg *config.Config, client *coingecko.Client, l *applogger.Logger) *resolver.Resolver {
	return resolver.New(
		resolver.WithOverrides(cfg.Resolver.Symbols),
		resolver.WithRefresh(client, cfg.Resolver.RefreshInterval),
		resolver.WithLogger(l),
	)
}

// ProvideParser creates the pair list parser used by the coordinator. It does
// not consult the resolver: unknown coins register as Unresolved pairs instead
// of failing configuration.
func ProvideParser(cfg *config.Config) *pairs.Parser {
	return pairs.NewParser(pairs.WithCurrencies(cfg.CoinGecko.Currencies))
}

// validationParser backs POST /api/pairs/validate, where unknown coins are
// reported early.
func validationParser(cfg *config.Config, r *resolver.Resolver) *pairs.Parser {
	return pairs.NewParser(
		pairs.WithCurrencies(cfg.CoinGecko.Currencies),
		pairs.WithCoinChecker(r),
	)
}

// ProvideCoordinator creates the polling coordinator.
func ProvideCoordinator(
	cfg *config.Config,
	client *coingecko.Client,
	r *resolver.Resolver,
	p *pairs.Parser,
	diag *diagnostics.Sink,
) *usecase.Coordinator {
	return usecase.NewCoordinator(client, r, p, usecase.CoordinatorConfig{
		CycleTimeout:      cfg.Coordinator.CycleTimeout,
		FetchTimeout:      cfg.Coordinator.FetchTimeout,
		Concurrency:       cfg.Coordinator.Concurrency,
		DegradedThreshold: cfg.Coordinator.DegradedThreshold,
		MailboxSize:       cfg.Coordinator.MailboxSize,
	}, usecase.WithEventSink(diag))
}

// ProvideSnapshotCache connects to Redis behind an in-process LRU. It returns
// nil when Redis is disabled.
func ProvideSnapshotCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	remote, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return cache.NewLayeredCache(remote, cache.WithLayeredMemoryTTL(time.Minute)), nil
}

// ProvideSnapshotMirror mirrors snapshots to the shared cache.
func ProvideSnapshotMirror(cfg *config.Config, c cache.Service) *internalrepo.SnapshotMirror {
	if c == nil {
		return nil
	}
	return internalrepo.NewSnapshotMirror(c, cfg.Redis.TTL)
}

// ProvideClickHouseClient creates a ClickHouse client. It returns nil when
// ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideQuoteStore creates the quote history table on first use.
func ProvideQuoteStore(cfg *config.Config, client *pkgch.Client, l *applogger.Logger) (*internalrepo.CHQuoteStore, error) {
	if client == nil {
		return nil, nil
	}
	store, err := internalrepo.NewCHQuoteStore(client.DB(), cfg.ClickHouse.Database, cfg.ClickHouse.Table, l)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer. It returns nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerMetrics(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaPublisher publishes notifications to the quotes topic.
func ProvideKafkaPublisher(cfg *config.Config, producer *pkgkafka.Producer) *internalrepo.KafkaPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic, cfg.Kafka.PublishUnchanged)
}

// ProvideSinkPipeline fans notifications out to every enabled store.
func ProvideSinkPipeline(
	m domrepo.Metrics,
	l *applogger.Logger,
	mirror *internalrepo.SnapshotMirror,
	quotes *internalrepo.CHQuoteStore,
	publisher *internalrepo.KafkaPublisher,
) *mid.SinkPipeline {
	var sinks []mid.Sink
	if mirror != nil {
		sinks = append(sinks, mirror)
	}
	if quotes != nil {
		sinks = append(sinks, quotes)
	}
	if publisher != nil {
		sinks = append(sinks, publisher)
	}
	return mid.NewSinkPipeline(m, sinks, mid.WithPipelineLogger(l))
}

// ProvideKafkaConsumer creates the control topic consumer. It returns nil when
// Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.ControlTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideControlHandler applies reconfiguration commands from the control topic.
func ProvideControlHandler(cfg *config.Config, coord *usecase.Coordinator, l *applogger.Logger) *usecase.ControlHandler {
	return usecase.NewControlHandler(cfg.Kafka.ControlTopic, coord, l)
}

// ProvideRateLimiter creates the per-client limiter. It returns nil when rate
// limiting is disabled.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.Server.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
}

// ProvidePairsHandler creates the REST and WebSocket handler.
func ProvidePairsHandler(
	cfg *config.Config,
	l *applogger.Logger,
	coord *usecase.Coordinator,
	r *resolver.Resolver,
	quotes *internalrepo.CHQuoteStore,
) *api.PairsHandler {
	var history api.HistoryReader
	if quotes != nil {
		history = quotes
	}
	return api.NewPairsHandler(l, coord, validationParser(cfg, r), history, api.StreamConfig{})
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	h *api.PairsHandler,
	limiter *ratelimit.Limiter,
) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true, cfg.Server.CORSOrigins...),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, cfg.Metrics.Path))
	}
	if limiter != nil {
		opts = append(opts, xhttp.WithMiddleware(limiter.Middleware()))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	coord *usecase.Coordinator,
	r *resolver.Resolver,
	diag *diagnostics.Sink,
	pipeline *mid.SinkPipeline,
	consumer *pkgkafka.Consumer,
	control *usecase.ControlHandler,
	srv *xhttp.Server,
	limiter *ratelimit.Limiter,
	snapshots cache.Service,
	ch *pkgch.Client,
	publisher *internalrepo.KafkaPublisher,
) *server.App {
	var closers []io.Closer
	if publisher != nil {
		closers = append(closers, publisher)
	}
	if ch != nil {
		closers = append(closers, ch)
	}
	if snapshots != nil {
		closers = append(closers, snapshots)
	}

	opts := []server.Option{
		server.WithSubscriber(models.AllPairs, diag),
		server.WithClosers(closers...),
	}
	if pipeline.Len() > 0 {
		opts = append(opts,
			server.WithSubscriber(models.AllPairs, pipeline),
			server.WithPipeline(pipeline),
		)
	}

	app := server.New(cfg, l, coord, r, srv, opts...)
	if consumer != nil {
		app.SetConsumer(consumer, control)
	}
	if limiter != nil {
		app.SetLimiter(limiter)
	}
	return app
}
