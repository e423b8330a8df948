package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/service/ratelimit"
	"CoinPull/internal/service/resolver"
	"CoinPull/internal/usecase"
	"CoinPull/pkg/config"
	xhttp "CoinPull/pkg/http"
	pkgkafka "CoinPull/pkg/kafka"
	applogger "CoinPull/pkg/logger"
)

const limiterSweepInterval = time.Minute

// Pipeline is a background sink writer started and stopped with the app.
type Pipeline interface {
	Start(ctx context.Context)
	Stop()
}

type subscriber struct {
	key     string
	handler domrepo.NotificationHandler
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	coord      *usecase.Coordinator
	resolver   *resolver.Resolver
	httpServer *xhttp.Server

	subscribers []subscriber
	tokens      []models.SubscriptionToken
	pipeline    Pipeline
	consumer    *pkgkafka.Consumer
	control     pkgkafka.MessageHandler
	limiter     *ratelimit.Limiter
	closers     []io.Closer

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures App.
type Option func(*App)

// WithSubscriber subscribes handler to key before the coordinator starts.
func WithSubscriber(key string, handler domrepo.NotificationHandler) Option {
	return func(a *App) {
		if handler != nil {
			a.subscribers = append(a.subscribers, subscriber{key: key, handler: handler})
		}
	}
}

// WithPipeline registers a background writer.
func WithPipeline(p Pipeline) Option {
	return func(a *App) { a.pipeline = p }
}

// WithClosers registers resources closed last on shutdown.
func WithClosers(c ...io.Closer) Option {
	return func(a *App) { a.closers = append(a.closers, c...) }
}

// New creates a new App instance with all dependencies. httpServer may be nil.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	coord *usecase.Coordinator,
	r *resolver.Resolver,
	httpServer *xhttp.Server,
	opts ...Option,
) *App {
	if logger == nil {
		logger = applogger.Nop()
	}
	a := &App{
		cfg:        cfg,
		logger:     logger,
		coord:      coord,
		resolver:   r,
		httpServer: httpServer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetConsumer attaches the control topic consumer.
func (a *App) SetConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer = c
	a.control = h
}

// SetLimiter attaches the HTTP rate limiter so idle buckets are swept.
func (a *App) SetLimiter(l *ratelimit.Limiter) { a.limiter = l }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(context.Background()); err != nil {
		return err
	}

	sig := <-sigCh
	a.logger.Info("shutdown signal received", applogger.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// Start brings every component up without blocking.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	if a.resolver != nil {
		a.resolver.Start(ctx)
	}

	// Subscribers attach before the first cycle runs so they see its results.
	for _, s := range a.subscribers {
		a.tokens = append(a.tokens, a.coord.Subscribe(s.key, s.handler))
	}

	res, err := a.coord.Start(ctx, models.Settings{
		Pairs:           a.cfg.Coordinator.Pairs,
		IntervalSeconds: a.cfg.Coordinator.IntervalSeconds,
	})
	for _, inv := range res.Invalid {
		a.logger.Warn("ignoring invalid pair",
			applogger.String("token", inv.Token),
			applogger.String("reason", string(inv.Reason)),
			applogger.String("message", inv.Message),
		)
	}
	if err != nil {
		a.unsubscribe()
		a.cancel()
		a.cancel = nil
		if a.resolver != nil {
			a.resolver.Stop()
		}
		return err
	}
	a.logger.Info("coordinator started",
		applogger.Strings("pairs", res.Keys()),
		applogger.Int("interval_seconds", a.cfg.Coordinator.IntervalSeconds),
	)

	if a.pipeline != nil {
		a.pipeline.Start(ctx)
	}

	if a.consumer != nil && a.control != nil {
		a.consumer.RegisterHandler(a.control)
		if err := a.consumer.Start(ctx); err != nil {
			a.logger.Error("kafka consumer start error", applogger.Error(err))
		} else {
			a.logger.Info("kafka consumer started", applogger.String("topic", a.control.Topic()))
		}
	}

	go a.sweep(ctx)

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.logger.Error("http server start error", applogger.Error(err))
			return err
		}
	}
	return nil
}

func (a *App) unsubscribe() {
	for _, tok := range a.tokens {
		a.coord.Unsubscribe(tok)
	}
	a.tokens = nil
}

func (a *App) sweep(ctx context.Context) {
	defer close(a.done)
	if a.limiter == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Sweep(); n > 0 {
				a.logger.Debug("rate limiter swept", applogger.Int("buckets", n))
			}
		}
	}
}

// Shutdown stops components in reverse start order.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")
	var errs []error

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.unsubscribe()
	if err := a.coord.Stop(ctx); err != nil {
		a.logger.Warn("coordinator stop error", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.pipeline != nil {
		a.pipeline.Stop()
	}
	if a.resolver != nil {
		a.resolver.Stop()
	}

	if a.cancel != nil {
		a.cancel()
		<-a.done
	}

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
