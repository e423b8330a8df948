package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"CoinPull/internal/domain/models"
	"CoinPull/internal/domain/repository"
)

// CoordinatorConfig holds poll tuning that does not change at runtime.
type CoordinatorConfig struct {
	CycleTimeout      time.Duration // whole-cycle deadline (default: 60s)
	FetchTimeout      time.Duration // per remote call (default: 30s)
	Concurrency       int           // currency groups fetched in parallel (default: 4)
	DegradedThreshold int           // failures tolerated before a pair is degraded (default: 5)
	MailboxSize       int           // per-subscription buffer (default: 64)
}

// DefaultCoordinatorConfig returns sensible defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		CycleTimeout:      60 * time.Second,
		FetchTimeout:      30 * time.Second,
		Concurrency:       4,
		DegradedThreshold: 5,
		MailboxSize:       DefaultMailboxSize,
	}
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	d := DefaultCoordinatorConfig()
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = d.CycleTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = d.DegradedThreshold
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = d.MailboxSize
	}
	return c
}

// pairRecord is an immutable view of one pair. Updates swap in a new record.
type pairRecord struct {
	spec        models.PairSpec
	remoteID    string
	state       models.PairState
	quote       *models.Quote
	lastUpdated time.Time
	failures    int
	lastErr     string
	degraded    bool
}

func (r *pairRecord) snapshot() models.Snapshot {
	s := models.Snapshot{
		Key:                 r.spec.Key(),
		Coin:                r.spec.Coin,
		Currency:            r.spec.Currency,
		RemoteID:            r.remoteID,
		State:               r.state,
		ConsecutiveFailures: r.failures,
		Degraded:            r.degraded,
		LastError:           r.lastErr,
	}
	if r.quote != nil {
		q := *r.quote
		s.Quote = &q
	}
	if !r.lastUpdated.IsZero() {
		t := r.lastUpdated
		s.LastUpdated = &t
	}
	return s
}

type pairEntry struct {
	rec atomic.Pointer[pairRecord]
}

type pendingConfig struct {
	specs    []models.PairSpec // nil keeps the current pair set
	interval time.Duration     // zero keeps the current interval
}

// Coordinator keeps a set of pairs refreshed from the remote API on a fixed
// interval and fans results out to subscribers. It never logs; diagnostics
// go to the EventSink.
type Coordinator struct {
	fetcher  repository.QuoteFetcher
	resolver repository.SymbolResolver
	parser   repository.PairParser
	events   repository.EventSink
	registry *Registry

	cfg       CoordinatorConfig
	newTicker TickerFactory
	now       func() time.Time

	mu          sync.RWMutex
	entries     map[string]*pairEntry
	order       []string
	interval    time.Duration
	pending     *pendingConfig
	running     bool
	lastCycle   time.Time
	lastCycleIn time.Duration

	reconfig chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// CoordinatorOption configures Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTicker replaces the ticker factory.
func WithTicker(f TickerFactory) CoordinatorOption {
	return func(c *Coordinator) { c.newTicker = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithEventSink sets the diagnostics sink.
func WithEventSink(s repository.EventSink) CoordinatorOption {
	return func(c *Coordinator) {
		if s != nil {
			c.events = s
		}
	}
}

type nopSink struct{}

func (nopSink) Emit(models.Event) {}

// NewCoordinator creates a stopped Coordinator.
func NewCoordinator(
	fetcher repository.QuoteFetcher,
	resolver repository.SymbolResolver,
	parser repository.PairParser,
	cfg CoordinatorConfig,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		fetcher:   fetcher,
		resolver:  resolver,
		parser:    parser,
		events:    nopSink{},
		cfg:       cfg.withDefaults(),
		newTicker: NewStdTicker,
		now:       time.Now,
		entries:   make(map[string]*pairEntry),
		interval:  models.Interval(models.DefaultIntervalSeconds),
		reconfig:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.registry = NewRegistry(
		WithMailboxSize(c.cfg.MailboxSize),
		WithDeliveryErrorHandler(func(err *models.DeliveryError) {
			c.emit(models.Event{Type: models.EventDeliveryFailed, PairKey: err.PairKey, Err: err})
		}),
		WithDropHandler(func(_ models.SubscriptionToken, pairKey string) {
			c.emit(models.Event{Type: models.EventDeliveryDropped, PairKey: pairKey})
		}),
	)
	return c
}

// Start validates settings, registers the pairs and begins polling. The first
// cycle runs immediately. Only a bad interval or zero valid pairs fail Start;
// the returned ParseResult lists every rejected token either way.
func (c *Coordinator) Start(ctx context.Context, s models.Settings) (models.ParseResult, error) {
	seconds := s.IntervalSeconds
	if seconds == 0 {
		seconds = models.DefaultIntervalSeconds
	}
	if err := models.ValidateInterval(seconds); err != nil {
		return models.ParseResult{}, err
	}
	res := c.parser.Parse(s.Pairs)
	if err := res.Err(); err != nil {
		return res, err
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return res, models.ErrAlreadyStarted
	}
	c.entries = make(map[string]*pairEntry)
	c.order = nil
	c.pending = nil
	events := c.setPairsLocked(res.Valid)
	c.interval = models.Interval(seconds)
	c.running = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	ticker := c.newTicker(c.interval)
	c.mu.Unlock()

	for _, ev := range events {
		c.emit(ev)
	}

	go c.loop(ctx, ticker)
	return res, nil
}

// Reconfigure queues new settings. They apply when the in-flight cycle
// completes, or at once when idle. Empty Pairs keeps the pair set; a zero
// interval keeps the interval. Invalid input is rejected without side effects.
func (c *Coordinator) Reconfigure(s models.Settings) (models.ParseResult, error) {
	var res models.ParseResult
	p := pendingConfig{}

	if s.IntervalSeconds != 0 {
		if err := models.ValidateInterval(s.IntervalSeconds); err != nil {
			return res, err
		}
		p.interval = models.Interval(s.IntervalSeconds)
	}
	if s.Pairs != "" {
		res = c.parser.Parse(s.Pairs)
		if err := res.Err(); err != nil {
			return res, err
		}
		p.specs = res.Valid
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return res, models.ErrNotStarted
	}
	if c.pending == nil {
		c.pending = &pendingConfig{}
	}
	if p.specs != nil {
		c.pending.specs = p.specs
	}
	if p.interval != 0 {
		c.pending.interval = p.interval
	}
	c.mu.Unlock()

	select {
	case c.reconfig <- struct{}{}:
	default:
	}
	return res, nil
}

// Stop ends polling and subscriber delivery. Cached snapshots stay readable.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.registry.Close(ctx)
}

// Snapshot returns the current view of one pair.
func (c *Coordinator) Snapshot(key string) (models.Snapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[normalizeKey(key)]
	c.mu.RUnlock()
	if !ok {
		return models.Snapshot{}, false
	}
	return e.rec.Load().snapshot(), true
}

// Snapshots returns every pair in configuration order.
func (c *Coordinator) Snapshots() []models.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Snapshot, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.entries[key].rec.Load().snapshot())
	}
	return out
}

// Health summarizes pair states and the last cycle.
func (c *Coordinator) Health() models.Health {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := models.Health{
		Running:           c.running,
		Interval:          c.interval,
		IntervalSeconds:   int(c.interval / time.Second),
		Pairs:             len(c.order),
		Degraded:          []string{},
		LastCycleDuration: c.lastCycleIn,
		LastCycleMillis:   c.lastCycleIn.Milliseconds(),
	}
	if !c.lastCycle.IsZero() {
		t := c.lastCycle
		h.LastCycleAt = &t
	}
	for _, key := range c.order {
		rec := c.entries[key].rec.Load()
		switch rec.state {
		case models.StatePending:
			h.Pending++
		case models.StateFresh:
			h.Fresh++
		case models.StateStale:
			h.Stale++
		case models.StateUnresolved:
			h.Unresolved++
		}
		if rec.degraded {
			h.Degraded = append(h.Degraded, key)
		}
	}
	return h
}

// Subscribe registers handler for pairKey, or models.AllPairs.
func (c *Coordinator) Subscribe(pairKey string, handler repository.NotificationHandler) models.SubscriptionToken {
	return c.registry.Subscribe(pairKey, handler)
}

// Unsubscribe removes a subscription.
func (c *Coordinator) Unsubscribe(token models.SubscriptionToken) bool {
	return c.registry.Unsubscribe(token)
}

func (c *Coordinator) loop(ctx context.Context, ticker Ticker) {
	defer close(c.done)
	defer ticker.Stop()

	cycleDone := make(chan struct{}, 1)
	inFlight := false
	start := func() {
		inFlight = true
		go func() {
			c.runCycle(ctx)
			cycleDone <- struct{}{}
		}()
	}

	start()
	for {
		select {
		case <-ctx.Done():
			if inFlight {
				<-cycleDone
			}
			return
		case <-ticker.C():
			if inFlight {
				c.emit(models.Event{Type: models.EventCycleSkipped})
				continue
			}
			start()
		case <-cycleDone:
			inFlight = false
			c.applyPending(ticker)
		case <-c.reconfig:
			if !inFlight {
				c.applyPending(ticker)
			}
		}
	}
}

// applyPending installs queued settings. Called only between cycles.
func (c *Coordinator) applyPending(ticker Ticker) {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	if p == nil {
		c.mu.Unlock()
		return
	}

	var events []models.Event
	if p.specs != nil {
		events = c.setPairsLocked(p.specs)
	}
	if p.interval != 0 && p.interval != c.interval {
		c.interval = p.interval
		ticker.Reset(p.interval)
	}
	applied := models.Event{
		Type:     models.EventConfigApplied,
		Count:    len(c.order),
		Duration: c.interval,
		Keys:     append([]string(nil), c.order...),
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.emit(ev)
	}
	c.emit(applied)
}

// setPairsLocked replaces the pair set. Kept pairs keep their state, except
// Unresolved ones which are resolved again; new pairs start Pending.
func (c *Coordinator) setPairsLocked(specs []models.PairSpec) []models.Event {
	var events []models.Event
	next := make(map[string]*pairEntry, len(specs))
	order := make([]string, 0, len(specs))

	for _, spec := range specs {
		key := spec.Key()
		order = append(order, key)
		if e, ok := c.entries[key]; ok && e.rec.Load().state != models.StateUnresolved {
			next[key] = e
			continue
		}

		rec := &pairRecord{spec: spec, state: models.StatePending}
		id, err := c.resolver.Resolve(spec.Coin)
		if err != nil {
			rerr := &models.ResolutionError{Symbol: spec.Coin, Err: err}
			rec.state = models.StateUnresolved
			rec.lastErr = rerr.Error()
			events = append(events, models.Event{
				Type:     models.EventPairUnresolved,
				PairKey:  key,
				Currency: spec.Currency,
				To:       models.StateUnresolved,
				Err:      rerr,
			})
		} else {
			rec.remoteID = id
		}
		e := &pairEntry{}
		e.rec.Store(rec)
		next[key] = e
	}

	c.entries = next
	c.order = order
	return events
}

type batch struct {
	currency string
	entries  []*pairEntry
	records  []*pairRecord
}

// partition groups polled pairs by currency.
func (c *Coordinator) partition() []*batch {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byCur := make(map[string]*batch)
	for _, key := range c.order {
		e := c.entries[key]
		rec := e.rec.Load()
		if !rec.state.Polled() {
			continue
		}
		b, ok := byCur[rec.spec.Currency]
		if !ok {
			b = &batch{currency: rec.spec.Currency}
			byCur[rec.spec.Currency] = b
		}
		b.entries = append(b.entries, e)
		b.records = append(b.records, rec)
	}

	out := make([]*batch, 0, len(byCur))
	for _, b := range byCur {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].currency < out[j].currency })
	return out
}

// runCycle performs one fetch of every polled pair, one remote call per currency.
func (c *Coordinator) runCycle(ctx context.Context) {
	cycleID := uuid.New()
	start := c.now()

	batches := c.partition()
	pairs := 0
	for _, b := range batches {
		pairs += len(b.entries)
	}
	c.emit(models.Event{Type: models.EventCycleStarted, CycleID: cycleID, Count: pairs})

	cctx, cancel := context.WithTimeout(ctx, c.cfg.CycleTimeout)
	defer cancel()

	var failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Concurrency)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			if err := c.fetchBatch(cctx, cycleID, b); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := c.now().Sub(start)
	c.mu.Lock()
	c.lastCycle = start
	c.lastCycleIn = elapsed
	c.mu.Unlock()

	c.emit(models.Event{
		Type:     models.EventCycleCompleted,
		CycleID:  cycleID,
		Count:    len(batches),
		Failed:   int(failed.Load()),
		Duration: elapsed,
	})
}

func (c *Coordinator) fetchBatch(ctx context.Context, cycleID uuid.UUID, b *batch) error {
	ids := make([]string, 0, len(b.records))
	seen := make(map[string]struct{}, len(b.records))
	for _, rec := range b.records {
		if _, ok := seen[rec.remoteID]; ok {
			continue
		}
		seen[rec.remoteID] = struct{}{}
		ids = append(ids, rec.remoteID)
	}

	start := c.now()
	var (
		quotes map[string]models.Quote
		err    error
	)
	if ctx.Err() != nil {
		err = &models.FetchError{Kind: models.FetchTimeout, Err: ctx.Err()}
	} else {
		quotes, err = c.fetcher.FetchQuotes(ctx, ids, b.currency, c.cfg.FetchTimeout)
	}
	if err != nil {
		var fe *models.FetchError
		if !errors.As(err, &fe) {
			kind := models.FetchUnavailable
			if ctx.Err() != nil {
				kind = models.FetchTimeout
			}
			err = &models.FetchError{Kind: kind, Err: err}
		}
		quotes = nil
	}

	ev := models.Event{
		Type:     models.EventFetchSucceeded,
		CycleID:  cycleID,
		Currency: b.currency,
		Count:    len(ids),
		Duration: c.now().Sub(start),
	}
	if err != nil {
		ev.Type = models.EventFetchFailed
		ev.Kind = models.FetchErrorKindOf(err)
		ev.Err = err
	}
	c.emit(ev)

	for i, e := range b.entries {
		c.update(cycleID, e, b.records[i], quotes, err)
	}
	return err
}

// update is the single write path for pair records during a cycle. Results for
// entries that were removed meanwhile are discarded.
func (c *Coordinator) update(cycleID uuid.UUID, e *pairEntry, prev *pairRecord, quotes map[string]models.Quote, fetchErr error) {
	next := *prev
	var (
		events []models.Event
		n      models.Notification
	)
	key := prev.spec.Key()

	q, ok := quotes[prev.remoteID]
	switch {
	case fetchErr == nil && ok:
		next.quote = &q
		next.lastUpdated = c.now()
		next.failures = 0
		next.lastErr = ""
		next.state = models.StateFresh
		next.degraded = false
		if prev.degraded {
			events = append(events, models.Event{Type: models.EventPairRecovered, CycleID: cycleID, PairKey: key, Currency: prev.spec.Currency})
		}
		changed := prev.quote == nil || !prev.quote.Price.Equal(q.Price)
		n = models.Notification{PairKey: key, Quote: next.quote, Changed: changed}
	default:
		err := fetchErr
		if err == nil {
			err = models.ErrQuoteMissing
		}
		next.state = models.StateStale
		next.failures = prev.failures + 1
		next.lastErr = err.Error()
		if !prev.degraded && next.failures > c.cfg.DegradedThreshold {
			next.degraded = true
			events = append(events, models.Event{
				Type:     models.EventPairDegraded,
				CycleID:  cycleID,
				PairKey:  key,
				Currency: prev.spec.Currency,
				Count:    next.failures,
				Kind:     models.FetchErrorKindOf(err),
				Err:      err,
			})
		}
		n = models.Notification{PairKey: key, Quote: prev.quote, Err: err}
	}

	if prev.state != next.state {
		events = append([]models.Event{{
			Type:     models.EventPairTransition,
			CycleID:  cycleID,
			PairKey:  key,
			Currency: prev.spec.Currency,
			From:     prev.state,
			To:       next.state,
			Quote:    next.quote,
		}}, events...)
	}

	c.mu.RLock()
	current := c.entries[key] == e
	if current {
		e.rec.Store(&next)
	}
	c.mu.RUnlock()
	if !current {
		return
	}

	n.Snapshot = next.snapshot()
	for _, ev := range events {
		c.emit(ev)
	}
	c.registry.Notify(n)
}

func (c *Coordinator) emit(ev models.Event) {
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	c.events.Emit(ev)
}
