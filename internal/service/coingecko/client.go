// Package coingecko is the CoinGecko REST boundary. The client keeps no state
// between calls and never retries; scheduling belongs to the caller.
package coingecko

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"CoinPull/internal/domain/models"
	xhttp "CoinPull/pkg/http"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	ProBaseURL     = "https://pro-api.coingecko.com/api/v3"

	PlanDemo = "demo"
	PlanPro  = "pro"
)

// Client calls the CoinGecko API.
type Client struct {
	baseURL string
	http    *xhttp.Client
	now     func() time.Time
}

type options struct {
	baseURL string
	apiKey  string
	plan    string
	timeout time.Duration
	rt      http.RoundTripper
}

// Option configures Client.
type Option func(*options)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithAPIKey sends key in the header matching plan ("demo" or "pro").
func WithAPIKey(key, plan string) Option {
	return func(o *options) {
		o.apiKey = key
		o.plan = plan
	}
}

// WithHTTPTimeout caps every request regardless of the per-call timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.rt = rt }
}

// New creates a Client.
func New(opts ...Option) *Client {
	o := options{baseURL: DefaultBaseURL, plan: PlanDemo, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.plan == PlanPro && o.baseURL == DefaultBaseURL {
		o.baseURL = ProBaseURL
	}

	httpOpts := []xhttp.ClientOption{
		xhttp.WithTimeout(o.timeout),
		xhttp.WithHeader("Accept", "application/json"),
	}
	if o.apiKey != "" {
		header := "x-cg-demo-api-key"
		if o.plan == PlanPro {
			header = "x-cg-pro-api-key"
		}
		httpOpts = append(httpOpts, xhttp.WithHeader(header, o.apiKey))
	}
	if o.rt != nil {
		httpOpts = append(httpOpts, xhttp.WithTransport(o.rt))
	}

	return &Client{
		baseURL: o.baseURL,
		http:    xhttp.NewClient(httpOpts...),
		now:     time.Now,
	}
}

// FetchQuotes fetches quotes for ids priced in currency with a single
// /simple/price request. Ids absent from the response are absent from the
// result. Any failure returns a *models.FetchError and no quotes.
func (c *Client) FetchQuotes(ctx context.Context, ids []string, currency string, timeout time.Duration) (map[string]models.Quote, error) {
	if len(ids) == 0 {
		return map[string]models.Quote{}, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cur := strings.ToLower(currency)
	var body map[string]map[string]decimal.NullDecimal
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/simple/price",
		QueryParams: map[string][]string{
			"ids":                     {strings.Join(ids, ",")},
			"vs_currencies":           {cur},
			"include_24hr_change":     {"true"},
			"include_24hr_vol":        {"true"},
			"include_market_cap":      {"true"},
			"include_last_updated_at": {"true"},
			"precision":               {"full"},
		},
	}, &body)
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	now := c.now().UTC()
	out := make(map[string]models.Quote, len(body))
	for id, fields := range body {
		price, ok := fields[cur]
		if !ok || !price.Valid {
			continue
		}
		q := models.Quote{
			Price:     price.Decimal,
			Change24h: fields[cur+"_24h_change"],
			Volume24h: fields[cur+"_24h_vol"],
			MarketCap: fields[cur+"_market_cap"],
			AsOf:      now,
		}
		if ts, ok := fields["last_updated_at"]; ok && ts.Valid && ts.Decimal.IsPositive() {
			q.AsOf = time.Unix(ts.Decimal.IntPart(), 0).UTC()
		}
		out[id] = q
	}
	return out, nil
}

// ListCoins returns the full coin list used to extend symbol resolution.
func (c *Client) ListCoins(ctx context.Context) ([]models.Coin, error) {
	var coins []models.Coin
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/coins/list",
	}, &coins)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return coins, nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	var statusErr *xhttp.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return &models.FetchError{
				Kind:       models.FetchRateLimited,
				Status:     statusErr.StatusCode,
				RetryAfter: parseRetryAfter(statusErr.Header.Get("Retry-After"), c.now()),
				Err:        err,
			}
		}
		return &models.FetchError{Kind: models.FetchUnavailable, Status: statusErr.StatusCode, Err: err}
	}

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &models.FetchError{Kind: models.FetchTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &models.FetchError{Kind: models.FetchTimeout, Err: err}
	}
	if errors.Is(err, xhttp.ErrDecode) {
		return &models.FetchError{Kind: models.FetchMalformed, Err: err}
	}
	return &models.FetchError{Kind: models.FetchUnavailable, Err: err}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
