package coingecko

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CoinPull/internal/domain/models"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(WithBaseURL(srv.URL), WithAPIKey("k-123", PlanDemo))
}

func fetchErr(t *testing.T, err error) *models.FetchError {
	t.Helper()
	var fe *models.FetchError
	require.True(t, errors.As(err, &fe), "expected FetchError, got %v", err)
	return fe
}

func TestFetchQuotes_Success(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "bitcoin,ethereum,nope", q.Get("ids"))
		assert.Equal(t, "aud", q.Get("vs_currencies"))
		assert.Equal(t, "true", q.Get("include_24hr_change"))
		assert.Equal(t, "true", q.Get("include_last_updated_at"))
		assert.Equal(t, "full", q.Get("precision"))
		assert.Equal(t, "k-123", r.Header.Get("x-cg-demo-api-key"))

		_, _ = w.Write([]byte(`{
			"bitcoin": {"aud": 101000.55, "aud_24h_change": -1.234, "aud_24h_vol": 12345.6, "aud_market_cap": 2000000000, "last_updated_at": 1711111111},
			"ethereum": {"aud": 5000.1, "aud_24h_change": null}
		}`))
	})

	quotes, err := c.FetchQuotes(context.Background(), []string{"bitcoin", "ethereum", "nope"}, "AUD", time.Second)
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	btc := quotes["bitcoin"]
	assert.Equal(t, "101000.55", btc.Price.String())
	require.True(t, btc.Change24h.Valid)
	assert.Equal(t, "-1.234", btc.Change24h.Decimal.String())
	assert.True(t, btc.MarketCap.Valid)
	assert.Equal(t, time.Unix(1711111111, 0).UTC(), btc.AsOf)

	eth := quotes["ethereum"]
	assert.Equal(t, "5000.1", eth.Price.String())
	assert.False(t, eth.Change24h.Valid)
	assert.False(t, eth.Volume24h.Valid)
	assert.False(t, eth.AsOf.IsZero())

	_, ok := quotes["nope"]
	assert.False(t, ok)
}

func TestFetchQuotes_RateLimited(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchQuotes(context.Background(), []string{"bitcoin"}, "usd", time.Second)
	fe := fetchErr(t, err)
	assert.Equal(t, models.FetchRateLimited, fe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, fe.Status)
	assert.Equal(t, 120*time.Second, fe.RetryAfter)
}

func TestFetchQuotes_ServerErrorIsUnavailable(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	_, err := c.FetchQuotes(context.Background(), []string{"bitcoin"}, "usd", time.Second)
	fe := fetchErr(t, err)
	assert.Equal(t, models.FetchUnavailable, fe.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
}

func TestFetchQuotes_MalformedBody(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": {"error_code": 1}`))
	})

	_, err := c.FetchQuotes(context.Background(), []string{"bitcoin"}, "usd", time.Second)
	assert.Equal(t, models.FetchMalformed, fetchErr(t, err).Kind)
}

func TestFetchQuotes_Timeout(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	start := time.Now()
	quotes, err := c.FetchQuotes(context.Background(), []string{"bitcoin"}, "usd", 50*time.Millisecond)
	assert.Nil(t, quotes)
	assert.Equal(t, models.FetchTimeout, fetchErr(t, err).Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchQuotes_ConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(WithBaseURL(url)).FetchQuotes(context.Background(), []string{"bitcoin"}, "usd", time.Second)
	assert.Equal(t, models.FetchUnavailable, fetchErr(t, err).Kind)
}

func TestFetchQuotes_NoIDsSkipsRequest(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})

	quotes, err := c.FetchQuotes(context.Background(), nil, "usd", time.Second)
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestListCoins(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/list", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"bitcoin","symbol":"btc","name":"Bitcoin"}]`))
	})

	coins, err := c.ListCoins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Coin{{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"}}, coins)
}

func TestProPlanUsesProHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pro-key", r.Header.Get("x-cg-pro-api-key"))
		assert.Empty(t, r.Header.Get("x-cg-demo-api-key"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithAPIKey("pro-key", PlanPro))
	_, err := c.FetchQuotes(context.Background(), []string{"bitcoin"}, "usd", time.Second)
	require.NoError(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-4", now))
	assert.Equal(t, time.Minute, parseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
}
