// Package resolver maps coin ticker symbols to CoinGecko coin ids.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"CoinPull/internal/domain/models"
	applogger "CoinPull/pkg/logger"
)

// DefaultSymbols maps well-known tickers to CoinGecko ids.
var DefaultSymbols = map[string]string{
	"ADA":   "cardano",
	"ALGO":  "algorand",
	"ATOM":  "cosmos",
	"AVAX":  "avalanche-2",
	"BCH":   "bitcoin-cash",
	"BNB":   "binancecoin",
	"BTC":   "bitcoin",
	"DAI":   "dai",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"ETC":   "ethereum-classic",
	"ETH":   "ethereum",
	"FIL":   "filecoin",
	"HBAR":  "hedera-hashgraph",
	"LINK":  "chainlink",
	"LTC":   "litecoin",
	"MATIC": "matic-network",
	"NEAR":  "near",
	"SHIB":  "shiba-inu",
	"SOL":   "solana",
	"TON":   "the-open-network",
	"TRX":   "tron",
	"UNI":   "uniswap",
	"USDC":  "usd-coin",
	"USDT":  "tether",
	"XLM":   "stellar",
	"XMR":   "monero",
	"XRP":   "ripple",
}

// CoinLister fetches the remote coin list used to extend the static table.
type CoinLister interface {
	ListCoins(ctx context.Context) ([]models.Coin, error)
}

// Resolver resolves symbols from a static table, optionally extended by
// a periodically refreshed remote coin list. Static entries always win.
type Resolver struct {
	mu      sync.RWMutex
	static  map[string]string
	dynamic map[string]string

	lister   CoinLister
	interval time.Duration
	logger   *applogger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures Resolver.
type Option func(*Resolver)

// WithOverrides adds or replaces static entries.
func WithOverrides(m map[string]string) Option {
	return func(r *Resolver) {
		for sym, id := range m {
			r.static[strings.ToUpper(strings.TrimSpace(sym))] = strings.TrimSpace(id)
		}
	}
}

// WithRefresh enables periodic refresh from a coin list. A zero interval disables it.
func WithRefresh(lister CoinLister, interval time.Duration) Option {
	return func(r *Resolver) {
		r.lister = lister
		r.interval = interval
	}
}

// WithLogger sets the logger used for refresh failures.
func WithLogger(l *applogger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Resolver seeded with DefaultSymbols.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		static:  make(map[string]string, len(DefaultSymbols)),
		dynamic: make(map[string]string),
		logger:  applogger.Nop(),
	}
	for sym, id := range DefaultSymbols {
		r.static[sym] = id
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the remote id for symbol, or models.ErrSymbolNotFound.
func (r *Resolver) Resolve(symbol string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.static[sym]; ok {
		return id, nil
	}
	if id, ok := r.dynamic[sym]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%s: %w", sym, models.ErrSymbolNotFound)
}

// Known reports whether symbol resolves.
func (r *Resolver) Known(symbol string) bool {
	_, err := r.Resolve(symbol)
	return err == nil
}

// Len returns the number of resolvable symbols.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.static)
	for sym := range r.dynamic {
		if _, ok := r.static[sym]; !ok {
			n++
		}
	}
	return n
}

// Refresh replaces the dynamic table from the coin list. Symbols shared by
// several coins are skipped as ambiguous.
func (r *Resolver) Refresh(ctx context.Context) error {
	if r.lister == nil {
		return nil
	}
	coins, err := r.lister.ListCoins(ctx)
	if err != nil {
		return fmt.Errorf("list coins: %w", err)
	}

	ids := make(map[string]string, len(coins))
	ambiguous := make(map[string]struct{})
	for _, c := range coins {
		sym := strings.ToUpper(strings.TrimSpace(c.Symbol))
		if sym == "" || c.ID == "" {
			continue
		}
		if prev, ok := ids[sym]; ok && prev != c.ID {
			ambiguous[sym] = struct{}{}
			continue
		}
		ids[sym] = c.ID
	}
	for sym := range ambiguous {
		delete(ids, sym)
	}

	r.mu.Lock()
	r.dynamic = ids
	r.mu.Unlock()
	return nil
}

// Start runs an initial refresh and then refreshes on the configured interval.
func (r *Resolver) Start(ctx context.Context) {
	if r.lister == nil || r.interval <= 0 {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)

	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("resolver refresh failed", applogger.Error(err))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					r.logger.Warn("resolver refresh failed", applogger.Error(err))
					continue
				}
				r.logger.Debug("resolver refreshed", applogger.Int("symbols", r.Len()))
			}
		}
	}()
}

// Stop ends the refresh loop.
func (r *Resolver) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
