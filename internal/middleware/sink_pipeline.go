package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	applogger "CoinPull/pkg/logger"
)

// Sink is a downstream consumer of pair notifications (bus, store, cache).
type Sink interface {
	Name() string
	Accept(n models.Notification) bool
	Write(ctx context.Context, n models.Notification) error
}

// ErrBufferFull is returned by Deliver when a failed write could not be queued for retry.
var ErrBufferFull = errors.New("sink pipeline buffer full")

type pending struct {
	sink     Sink
	n        models.Notification
	attempts int
}

// SinkPipeline sits between the subscription registry and slow sinks.
// Writes go straight through; failed writes are buffered and retried in the
// background with capped exponential back-off until MaxAttempts.
type SinkPipeline struct {
	sinks        []Sink
	metrics      domrepo.Metrics
	logger       *applogger.Logger
	bufSize      int
	writeTimeout time.Duration
	maxAttempts  int
	backoffMin   time.Duration
	backoffMax   time.Duration

	bufCh   chan pending
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

type PipelineOption func(*SinkPipeline)

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *SinkPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithWriteTimeout bounds every sink write.
func WithWriteTimeout(d time.Duration) PipelineOption {
	return func(p *SinkPipeline) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// WithRetry sets the attempt budget and back-off range of buffered writes.
func WithRetry(maxAttempts int, backoffMin, backoffMax time.Duration) PipelineOption {
	return func(p *SinkPipeline) {
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if backoffMin > 0 {
			p.backoffMin = backoffMin
		}
		if backoffMax >= p.backoffMin {
			p.backoffMax = backoffMax
		}
	}
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *SinkPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewSinkPipeline creates a pipeline over sinks.
func NewSinkPipeline(metrics domrepo.Metrics, sinks []Sink, opts ...PipelineOption) *SinkPipeline {
	p := &SinkPipeline{
		sinks:        sinks,
		metrics:      metrics,
		logger:       applogger.Nop(),
		bufSize:      1000,
		writeTimeout: 5 * time.Second,
		maxAttempts:  5,
		backoffMin:   50 * time.Millisecond,
		backoffMax:   2 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan pending, p.bufSize)
	p.logger = p.logger.With(applogger.String("component", "sink_pipeline"))
	return p
}

// Len returns the number of configured sinks.
func (p *SinkPipeline) Len() int { return len(p.sinks) }

// Start launches background flushing of buffered writes.
func (p *SinkPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.wg.Add(1)
	go p.flush(ctx)
}

// Stop stops the background flushing. Writes still buffered are dropped.
func (p *SinkPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	if n := len(p.bufCh); n > 0 {
		p.logger.Warn("dropping buffered sink writes", applogger.Int("count", n))
	}
}

// Deliver implements NotificationHandler. It writes n to every accepting sink.
func (p *SinkPipeline) Deliver(n models.Notification) error {
	var errs []error
	for _, s := range p.sinks {
		if !s.Accept(n) {
			continue
		}
		start := time.Now()
		if err := p.write(context.Background(), s, n); err != nil {
			p.metrics.RecordError("sink_" + s.Name())
			if !p.enqueue(pending{sink: s, n: n, attempts: 1}) {
				errs = append(errs, fmt.Errorf("%s: %w: %v", s.Name(), ErrBufferFull, err))
			}
			continue
		}
		p.metrics.RecordLatency("sink_"+s.Name(), time.Since(start).Seconds())
	}
	return errors.Join(errs...)
}

func (p *SinkPipeline) write(ctx context.Context, s Sink, n models.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	return s.Write(ctx, n)
}

func (p *SinkPipeline) enqueue(item pending) bool {
	select {
	case p.bufCh <- item:
		p.metrics.RecordSinkBuffer(len(p.bufCh))
		return true
	default:
		p.metrics.RecordError("sink_buffer_full")
		return false
	}
}

func (p *SinkPipeline) flush(ctx context.Context) {
	defer p.wg.Done()

	backoff := p.backoffMin
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case item := <-p.bufCh:
			p.metrics.RecordSinkBuffer(len(p.bufCh))
			err := p.write(ctx, item.sink, item.n)
			if err == nil {
				backoff = p.backoffMin
				continue
			}

			item.attempts++
			if item.attempts >= p.maxAttempts {
				p.drop(item, "max attempts", err)
				continue
			}

			select {
			case <-time.After(backoff):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > p.backoffMax {
				backoff = p.backoffMax
			}
			if !p.enqueue(item) {
				p.drop(item, "buffer full", err)
			}
		}
	}
}

func (p *SinkPipeline) drop(item pending, reason string, err error) {
	p.metrics.RecordError("sink_drop")
	p.logger.Warn("sink write dropped",
		applogger.String("sink", item.sink.Name()),
		applogger.String("pair", item.n.PairKey),
		applogger.String("reason", reason),
		applogger.Int("attempts", item.attempts),
		applogger.Error(err),
	)
}
