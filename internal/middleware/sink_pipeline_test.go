package middleware

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CoinPull/internal/domain/models"
	applogger "CoinPull/pkg/logger"
)

type countingMetrics struct {
	mu       sync.Mutex
	errors   map[string]int
	maxDepth int
}

func (m *countingMetrics) RecordCycle(string, float64) {}
func (m *countingMetrics) RecordCycleSkipped() {}
func (m *countingMetrics) RecordFetch(string, string, float64) {}
func (m *countingMetrics) RecordLastPrice(string, float64) {}
func (m *countingMetrics) RecordPairState(string, models.PairState) {}
func (m *countingMetrics) RecordDegraded(string, bool) {}
func (m *countingMetrics) RecordDelivery(string) {}
func (m *countingMetrics) RecordLatency(string, float64) {}
func (m *countingMetrics) ForgetPair(string) {}
func (m *countingMetrics) RecordSinkBuffer(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if depth > m.maxDepth {
		m.maxDepth = depth
	}
}
func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = make(map[string]int)
	}
	m.errors[kind]++
}

func (m *countingMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *countingMetrics) depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxDepth
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeSink struct {
	name    string
	accept  func(models.Notification) bool
	mu      sync.Mutex
	failFor int
	calls   int
	written []string
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Accept(n models.Notification) bool {
	if s.accept == nil {
		return true
	}
	return s.accept(n)
}

func (s *fakeSink) Write(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFor {
		return errors.New("downstream unavailable")
	}
	s.written = append(s.written, n.PairKey)
	return nil
}

func (s *fakeSink) snapshot() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]string(nil), s.written...)
}

func TestSinkPipeline_WritesAcceptedSinks(t *testing.T) {
	m := &countingMetrics{}
	all := &fakeSink{name: "redis"}
	changedOnly := &fakeSink{name: "kafka", accept: func(n models.Notification) bool { return n.Changed }}
	p := NewSinkPipeline(m, []Sink{all, changedOnly})

	require.NoError(t, p.Deliver(models.Notification{PairKey: "BTCAUD", Changed: true}))
	require.NoError(t, p.Deliver(models.Notification{PairKey: "ETHAUD"}))

	_, w := all.snapshot()
	assert.Equal(t, []string{"BTCAUD", "ETHAUD"}, w)
	_, w = changedOnly.snapshot()
	assert.Equal(t, []string{"BTCAUD"}, w)
}

func TestSinkPipeline_RetriesBufferedWrites(t *testing.T) {
	m := &countingMetrics{}
	s := &fakeSink{name: "clickhouse", failFor: 2}
	p := NewSinkPipeline(m, []Sink{s}, WithRetry(5, time.Millisecond, 2*time.Millisecond))
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	require.NoError(t, p.Deliver(models.Notification{PairKey: "BTCAUD"}))

	require.Eventually(t, func() bool {
		_, w := s.snapshot()
		return len(w) == 1
	}, 2*time.Second, 5*time.Millisecond)
	calls, _ := s.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, m.count("sink_clickhouse"))
}

func TestSinkPipeline_DropsAfterMaxAttempts(t *testing.T) {
	m := &countingMetrics{}
	s := &fakeSink{name: "kafka", failFor: 100}
	p := NewSinkPipeline(m, []Sink{s}, WithRetry(3, time.Millisecond, time.Millisecond))
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	require.NoError(t, p.Deliver(models.Notification{PairKey: "BTCAUD"}))

	require.Eventually(t, func() bool { return m.count("sink_drop") == 1 }, 2*time.Second, 5*time.Millisecond)
	calls, _ := s.snapshot()
	assert.Equal(t, 3, calls)
}

func TestSinkPipeline_FullBufferReturnsError(t *testing.T) {
	m := &countingMetrics{}
	s := &fakeSink{name: "redis", failFor: 100}
	p := NewSinkPipeline(m, []Sink{s}, WithBufferSize(1))

	require.NoError(t, p.Deliver(models.Notification{PairKey: "BTCAUD"}))
	err := p.Deliver(models.Notification{PairKey: "ETHAUD"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, 1, m.count("sink_buffer_full"))
}

func TestSinkPipeline_RecordsBufferDepth(t *testing.T) {
	m := &countingMetrics{}
	s := &fakeSink{name: "redis", failFor: 100}
	p := NewSinkPipeline(m, []Sink{s}, WithBufferSize(4))

	require.NoError(t, p.Deliver(models.Notification{PairKey: "BTCAUD"}))
	require.NoError(t, p.Deliver(models.Notification{PairKey: "ETHAUD"}))

	assert.Equal(t, 2, m.depth())
	assert.Zero(t, m.count("sink_drop"))
}

func TestSinkPipeline_FullBufferOnRetryDropsWrite(t *testing.T) {
	m := &countingMetrics{}
	logs := &syncBuffer{}
	s := &fakeSink{name: "clickhouse", failFor: 100}
	p := NewSinkPipeline(m, []Sink{s},
		WithBufferSize(1),
		WithRetry(5, 200*time.Millisecond, 200*time.Millisecond),
		WithPipelineLogger(applogger.NewWithWriter(logs, zerolog.WarnLevel)),
	)

	require.NoError(t, p.Deliver(models.Notification{PairKey: "BTCAUD"}))
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	// BTCAUD is out of the buffer and waiting to be retried; ETHAUD takes its slot.
	require.Eventually(t, func() bool {
		calls, _ := s.snapshot()
		return calls == 2
	}, time.Second, time.Millisecond)
	require.NoError(t, p.Deliver(models.Notification{PairKey: "ETHAUD"}))

	require.Eventually(t, func() bool { return m.count("sink_drop") == 1 }, 2*time.Second, 5*time.Millisecond)
	out := logs.String()
	assert.Contains(t, out, `"message":"sink write dropped"`)
	assert.Contains(t, out, `"pair":"BTCAUD"`)
	assert.Contains(t, out, `"reason":"buffer full"`)
	assert.Contains(t, out, `"attempts":2`)
}
