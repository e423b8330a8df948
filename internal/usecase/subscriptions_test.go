package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CoinPull/internal/domain/models"
	"CoinPull/internal/domain/repository"
)

const waitFor = 2 * time.Second

func chanHandler(ch chan<- models.Notification) repository.NotificationHandler {
	return repository.NotificationHandlerFunc(func(n models.Notification) error {
		ch <- n
		return nil
	})
}

func recv(t *testing.T, ch <-chan models.Notification) models.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(waitFor):
		t.Fatal("no notification received")
		return models.Notification{}
	}
}

func TestRegistry_DeliversByKeyAndWildcard(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	byKey := make(chan models.Notification, 4)
	all := make(chan models.Notification, 4)
	other := make(chan models.Notification, 4)
	r.Subscribe("btcaud", chanHandler(byKey))
	r.Subscribe(models.AllPairs, chanHandler(all))
	r.Subscribe("NOTAPAIR", chanHandler(other))

	r.Notify(models.Notification{PairKey: "BTCAUD", Changed: true})
	r.Notify(models.Notification{PairKey: "ETHUSD"})

	assert.Equal(t, "BTCAUD", recv(t, byKey).PairKey)
	assert.Equal(t, "BTCAUD", recv(t, all).PairKey)
	assert.Equal(t, "ETHUSD", recv(t, all).PairKey)
	assert.Never(t, func() bool { return len(other) > 0 || len(byKey) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_NoDeliveryAfterUnsubscribe(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	var calls atomic.Int32
	tok := r.Subscribe("BTCAUD", repository.NotificationHandlerFunc(func(models.Notification) error {
		calls.Add(1)
		return nil
	}))

	require.True(t, r.Unsubscribe(tok))
	assert.False(t, r.Unsubscribe(tok))

	r.Notify(models.Notification{PairKey: "BTCAUD"})
	assert.Never(t, func() bool { return calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestRegistry_UnsubscribeFromInsideHandler(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	var (
		calls atomic.Int32
		tok   models.SubscriptionToken
	)
	tok = r.Subscribe("BTCAUD", repository.NotificationHandlerFunc(func(models.Notification) error {
		calls.Add(1)
		r.Unsubscribe(tok)
		return nil
	}))

	r.Notify(models.Notification{PairKey: "BTCAUD"})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, 5*time.Millisecond)

	r.Notify(models.Notification{PairKey: "BTCAUD"})
	r.Notify(models.Notification{PairKey: "BTCAUD"})
	assert.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Zero(t, r.Len())
}

func TestRegistry_IsolatesPanicsAndErrors(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []*models.DeliveryError
	)
	r := NewRegistry(WithDeliveryErrorHandler(func(err *models.DeliveryError) {
		mu.Lock()
		failed = append(failed, err)
		mu.Unlock()
	}))
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	panicky := r.Subscribe("BTCAUD", repository.NotificationHandlerFunc(func(models.Notification) error {
		panic("boom")
	}))
	errBad := errors.New("bad handler")
	r.Subscribe("BTCAUD", repository.NotificationHandlerFunc(func(models.Notification) error {
		return errBad
	}))
	healthy := make(chan models.Notification, 2)
	r.Subscribe("BTCAUD", chanHandler(healthy))

	r.Notify(models.Notification{PairKey: "BTCAUD"})
	r.Notify(models.Notification{PairKey: "BTCAUD"})

	recv(t, healthy)
	recv(t, healthy)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failed) == 4
	}, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var panics, errs int
	for _, f := range failed {
		assert.Equal(t, "BTCAUD", f.PairKey)
		if f.Token == panicky {
			panics++
			assert.Contains(t, f.Error(), "handler panic")
		}
		if errors.Is(f, errBad) {
			errs++
		}
	}
	assert.Equal(t, 2, panics)
	assert.Equal(t, 2, errs)
}

func TestRegistry_FullMailboxDrops(t *testing.T) {
	var drops atomic.Int32
	r := NewRegistry(
		WithMailboxSize(1),
		WithDropHandler(func(models.SubscriptionToken, string) { drops.Add(1) }),
	)

	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	var delivered atomic.Int32
	r.Subscribe("BTCAUD", repository.NotificationHandlerFunc(func(models.Notification) error {
		delivered.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
		return nil
	}))

	r.Notify(models.Notification{PairKey: "BTCAUD"})
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("handler not entered")
	}

	done := make(chan struct{})
	go func() {
		r.Notify(models.Notification{PairKey: "BTCAUD"}) // buffered
		r.Notify(models.Notification{PairKey: "BTCAUD"}) // dropped
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Notify blocked on a slow handler")
	}
	assert.Equal(t, int32(1), drops.Load())

	close(gate)
	require.Eventually(t, func() bool { return delivered.Load() == 2 }, waitFor, 5*time.Millisecond)
	require.NoError(t, r.Close(context.Background()))
}

func TestRegistry_CloseStopsDelivery(t *testing.T) {
	r := NewRegistry()
	var calls atomic.Int32
	r.Subscribe(models.AllPairs, repository.NotificationHandlerFunc(func(models.Notification) error {
		calls.Add(1)
		return nil
	}))

	require.NoError(t, r.Close(context.Background()))
	r.Notify(models.Notification{PairKey: "BTCAUD"})
	assert.Zero(t, r.Len())
	assert.Never(t, func() bool { return calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}
