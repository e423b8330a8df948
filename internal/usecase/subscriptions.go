package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"CoinPull/internal/domain/models"
	"CoinPull/internal/domain/repository"
)

// DefaultMailboxSize is the per-subscription buffer used when none is configured.
const DefaultMailboxSize = 64

type subscription struct {
	token   models.SubscriptionToken
	key     string
	handler repository.NotificationHandler

	mu      sync.Mutex // guards closed and sends on mailbox
	closed  bool
	mailbox chan models.Notification
}

// Registry fans notifications out to subscribers. Each subscription owns a
// buffered mailbox drained by its own goroutine, so Notify never blocks on a
// slow handler.
type Registry struct {
	mu      sync.RWMutex
	byToken map[models.SubscriptionToken]*subscription
	byKey   map[string]map[models.SubscriptionToken]*subscription

	mailboxSize int
	onError     func(*models.DeliveryError)
	onDrop      func(token models.SubscriptionToken, pairKey string)

	wg sync.WaitGroup
}

// RegistryOption configures Registry.
type RegistryOption func(*Registry)

// WithMailboxSize sets the per-subscription buffer.
func WithMailboxSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.mailboxSize = n
		}
	}
}

// WithDeliveryErrorHandler receives handler errors and recovered panics.
func WithDeliveryErrorHandler(fn func(*models.DeliveryError)) RegistryOption {
	return func(r *Registry) { r.onError = fn }
}

// WithDropHandler is called when a full mailbox drops a notification.
func WithDropHandler(fn func(token models.SubscriptionToken, pairKey string)) RegistryOption {
	return func(r *Registry) { r.onDrop = fn }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byToken:     make(map[models.SubscriptionToken]*subscription),
		byKey:       make(map[string]map[models.SubscriptionToken]*subscription),
		mailboxSize: DefaultMailboxSize,
		onError:     func(*models.DeliveryError) {},
		onDrop:      func(models.SubscriptionToken, string) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == models.AllPairs {
		return key
	}
	return strings.ToUpper(key)
}

// Subscribe registers handler for pairKey. Unknown keys are accepted and start
// receiving once such a pair is refreshed. models.AllPairs matches every pair.
func (r *Registry) Subscribe(pairKey string, handler repository.NotificationHandler) models.SubscriptionToken {
	sub := &subscription{
		token:   uuid.New(),
		key:     normalizeKey(pairKey),
		handler: handler,
		mailbox: make(chan models.Notification, r.mailboxSize),
	}

	r.mu.Lock()
	r.byToken[sub.token] = sub
	if r.byKey[sub.key] == nil {
		r.byKey[sub.key] = make(map[models.SubscriptionToken]*subscription)
	}
	r.byKey[sub.key][sub.token] = sub
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(sub)

	return sub.token
}

// Unsubscribe removes a subscription. No delivery to it starts after
// Unsubscribe returns; it is safe to call from inside the handler.
func (r *Registry) Unsubscribe(token models.SubscriptionToken) bool {
	r.mu.Lock()
	sub, ok := r.byToken[token]
	if ok {
		delete(r.byToken, token)
		if subs := r.byKey[sub.key]; subs != nil {
			delete(subs, token)
			if len(subs) == 0 {
				delete(r.byKey, sub.key)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	sub.close()
	return true
}

// Notify queues n for every subscriber of its pair and of models.AllPairs.
func (r *Registry) Notify(n models.Notification) {
	r.mu.RLock()
	targets := make([]*subscription, 0, len(r.byKey[n.PairKey])+len(r.byKey[models.AllPairs]))
	for _, sub := range r.byKey[n.PairKey] {
		targets = append(targets, sub)
	}
	for _, sub := range r.byKey[models.AllPairs] {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		if !sub.offer(n) {
			r.onDrop(sub.token, n.PairKey)
		}
	}
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}

// Close removes every subscription and waits for in-flight deliveries.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.byToken))
	for _, sub := range r.byToken {
		subs = append(subs, sub)
	}
	r.byToken = make(map[models.SubscriptionToken]*subscription)
	r.byKey = make(map[string]map[models.SubscriptionToken]*subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) run(sub *subscription) {
	defer r.wg.Done()
	for n := range sub.mailbox {
		if !sub.active() {
			return
		}
		r.deliver(sub, n)
	}
}

func (r *Registry) deliver(sub *subscription, n models.Notification) {
	defer func() {
		if p := recover(); p != nil {
			r.onError(&models.DeliveryError{
				Token:   sub.token,
				PairKey: n.PairKey,
				Err:     fmt.Errorf("handler panic: %v", p),
			})
		}
	}()

	if err := sub.handler.Deliver(n); err != nil {
		r.onError(&models.DeliveryError{Token: sub.token, PairKey: n.PairKey, Err: err})
	}
}

// offer enqueues n without blocking. It reports false when the mailbox is full.
func (s *subscription) offer(n models.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.mailbox <- n:
		return true
	default:
		return false
	}
}

func (s *subscription) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.mailbox)
}
