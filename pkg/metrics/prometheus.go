package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"CoinPull/internal/domain/models"
)

var pairStates = []models.PairState{
	models.StatePending,
	models.StateFresh,
	models.StateStale,
	models.StateUnresolved,
}

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cyclesSkipped prometheus.Counter
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	lastPrice     *prometheus.GaugeVec
	pairState     *prometheus.GaugeVec
	degraded      *prometheus.GaugeVec
	deliveries    *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	sinkBuffer    prometheus.Gauge
}

// New creates a Prometheus metrics recorder registered on reg.
// A nil reg registers on the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_cycles_total",
				Help: "Completed poll cycles by result",
			},
			[]string{"result"},
		),
		cycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coinpull_cycle_duration_seconds",
				Help:    "Duration of poll cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		cyclesSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "coinpull_cycles_skipped_total",
				Help: "Ticks skipped because a cycle was still in flight",
			},
		),
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_fetches_total",
				Help: "Remote fetches by currency and result",
			},
			[]string{"currency", "result"},
		),
		fetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinpull_fetch_duration_seconds",
				Help:    "Duration of remote fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"currency"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coinpull_last_price",
				Help: "Last fetched price of a pair",
			},
			[]string{"pair"},
		),
		pairState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coinpull_pair_state",
				Help: "1 for the current state of a pair, 0 otherwise",
			},
			[]string{"pair", "state"},
		),
		degraded: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coinpull_pair_degraded",
				Help: "1 while a pair exceeds the failure threshold",
			},
			[]string{"pair"},
		),
		deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_deliveries_total",
				Help: "Subscriber deliveries by result",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		sinkBuffer: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinpull_sink_buffer_depth",
				Help: "Sink writes waiting in the retry buffer",
			},
		),
	}
}

// RecordCycle records a completed cycle.
func (r *Recorder) RecordCycle(result string, seconds float64) {
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(seconds)
}

// RecordCycleSkipped counts a tick that found a cycle in flight.
func (r *Recorder) RecordCycleSkipped() {
	r.cyclesSkipped.Inc()
}

// RecordFetch records one remote call for a currency group.
func (r *Recorder) RecordFetch(currency, result string, seconds float64) {
	r.fetches.WithLabelValues(currency, result).Inc()
	r.fetchDuration.WithLabelValues(currency).Observe(seconds)
}

// RecordLastPrice records the last price for a pair.
func (r *Recorder) RecordLastPrice(pair string, price float64) {
	r.lastPrice.WithLabelValues(pair).Set(price)
}

// RecordPairState sets the state gauge of pair.
func (r *Recorder) RecordPairState(pair string, state models.PairState) {
	for _, s := range pairStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.pairState.WithLabelValues(pair, string(s)).Set(v)
	}
}

// RecordDegraded flags or clears the degraded gauge of pair.
func (r *Recorder) RecordDegraded(pair string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1
	}
	r.degraded.WithLabelValues(pair).Set(v)
}

// RecordDelivery counts a subscriber delivery outcome.
func (r *Recorder) RecordDelivery(result string) {
	r.deliveries.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordSinkBuffer sets the current depth of the sink retry buffer.
func (r *Recorder) RecordSinkBuffer(depth int) {
	r.sinkBuffer.Set(float64(depth))
}

// ForgetPair deletes every per-pair series of pair.
func (r *Recorder) ForgetPair(pair string) {
	r.lastPrice.DeleteLabelValues(pair)
	r.degraded.DeleteLabelValues(pair)
	for _, s := range pairStates {
		r.pairState.DeleteLabelValues(pair, string(s))
	}
}
