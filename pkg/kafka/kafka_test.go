package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_PublishEncodesAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	w := &fakeWriter{}
	p := newProducer(w, "snappy", reg)

	require.NoError(t, p.Publish(context.Background(), "coinpull.quotes", []byte("BTCAUD"), map[string]string{"price": "1"}))
	require.NoError(t, p.Publish(context.Background(), "coinpull.quotes", nil, "raw"))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "coinpull.quotes", w.msgs[0].Topic)
	assert.Equal(t, []byte("BTCAUD"), w.msgs[0].Key)
	assert.JSONEq(t, `{"price":"1"}`, string(w.msgs[0].Value))
	assert.Equal(t, "raw", string(w.msgs[1].Value))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.msgs.WithLabelValues("coinpull.quotes", "snappy", "ok")))

	w.err = errors.New("broker down")
	err := p.Publish(context.Background(), "coinpull.quotes", nil, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, w.err)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.errs.WithLabelValues("coinpull.quotes")))
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m, ok := <-r.msgs:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type funcHandler struct {
	topic string
	fn    func(key, value []byte) error
}

func (h funcHandler) Topic() string { return h.topic }
func (h funcHandler) Handle(_ context.Context, key, value []byte) error {
	return h.fn(key, value)
}

func TestConsumer_RetriesThenCommits(t *testing.T) {
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	)
	require.NoError(t, err)

	reader := &fakeReader{msgs: make(chan kafka.Message, 4)}
	c.newReader = func(string) messageReader { return reader }

	var calls atomic.Int32
	c.RegisterHandler(funcHandler{topic: "control", fn: func(_, value []byte) error {
		n := calls.Add(1)
		if string(value) == "flaky" && n == 1 {
			return errors.New("transient")
		}
		if string(value) == "poison" {
			panic("bad message")
		}
		return nil
	}})

	reader.msgs <- kafka.Message{Offset: 1, Value: []byte("flaky")}
	reader.msgs <- kafka.Message{Offset: 2, Value: []byte("poison")}
	reader.msgs <- kafka.Message{Offset: 3, Value: []byte("ok")}

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	// flaky: 2 calls, poison: 1 + 2 retries, ok: 1
	assert.Equal(t, int32(6), calls.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.True(t, reader.closed)
}

func TestBackoffWithJitter_Bounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}
