package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CoinPull/internal/domain/models"
	"CoinPull/internal/service/pairs"
	"CoinPull/internal/usecase"
	xhttp "CoinPull/pkg/http"
)

type fakePairs struct {
	*usecase.Registry
	snaps  []models.Snapshot
	health models.Health
	reconf func(models.Settings) (models.ParseResult, error)
}

func (f *fakePairs) Snapshot(key string) (models.Snapshot, bool) {
	for _, s := range f.snaps {
		if s.Key == strings.ToUpper(key) {
			return s, true
		}
	}
	return models.Snapshot{}, false
}

func (f *fakePairs) Snapshots() []models.Snapshot { return f.snaps }
func (f *fakePairs) Health() models.Health { return f.health }

func (f *fakePairs) Reconfigure(s models.Settings) (models.ParseResult, error) {
	return f.reconf(s)
}

type fakeHistory struct {
	key   string
	limit int
	from  time.Time
	to    time.Time
}

func (f *fakeHistory) History(_ context.Context, key string, from, to time.Time, limit int) ([]models.Quote, error) {
	f.key, f.from, f.to, f.limit = key, from, to, limit
	return []models.Quote{{Price: decimal.NewFromInt(100), AsOf: from}}, nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func btcSnapshot() models.Snapshot {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.Snapshot{
		Key: "BTCAUD", Coin: "BTC", Currency: "AUD", RemoteID: "bitcoin", State: models.StateFresh,
		Quote: &models.Quote{
			Price:     decimal.RequireFromString("101000.5"),
			Change24h: decimal.NewNullDecimal(decimal.RequireFromString("2.3456")),
			AsOf:      ts,
		},
		LastUpdated: &ts,
	}
}

func newTestServer(t *testing.T, history HistoryReader) (*xhttp.Server, *fakePairs) {
	t.Helper()
	reg := usecase.NewRegistry()
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	fp := &fakePairs{
		Registry: reg,
		snaps:    []models.Snapshot{btcSnapshot(), {Key: "ETHUSD", Coin: "ETH", Currency: "USD", State: models.StatePending}},
		health:   models.Health{Running: true, Pairs: 2, Fresh: 1, Pending: 1, Degraded: []string{}},
		reconf: func(models.Settings) (models.ParseResult, error) {
			return models.ParseResult{}, models.ErrNotStarted
		},
	}
	h := NewPairsHandler(nil, fp, pairs.NewParser(), history, StreamConfig{PingInterval: time.Second})
	h.now = func() time.Time { return time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC) }
	return xhttp.NewServer(h), fp
}

func do(t *testing.T, srv *xhttp.Server, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestListPairs(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec, env := do(t, srv, http.MethodGet, "/api/pairs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Rows  []models.PairView `json:"rows"`
		Total int64             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 2)
	assert.EqualValues(t, 2, list.Total)
	assert.Equal(t, "BTCAUD", list.Rows[0].Key)
	assert.Equal(t, "AUD", list.Rows[0].Unit)
	assert.Equal(t, models.Attribution, list.Rows[0].Attribution)
	require.NotNil(t, list.Rows[0].Change24h)
	assert.Equal(t, 2.35, *list.Rows[0].Change24h)
	assert.Nil(t, list.Rows[1].Price)
}

func TestGetPair(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec, env := do(t, srv, http.MethodGet, "/api/pairs/btcaud", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v models.PairView
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, models.StateFresh, v.State)

	rec, _ = do(t, srv, http.MethodGet, "/api/pairs/DOGEUSD", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_NOT_FOUND")
}

func TestConfigure(t *testing.T) {
	srv, fp := newTestServer(t, nil)

	rec, _ := do(t, srv, http.MethodPut, "/api/config", `{"pairs":"BTCAUD"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	parser := pairs.NewParser()
	var got models.Settings
	fp.reconf = func(s models.Settings) (models.ParseResult, error) {
		got = s
		res := parser.Parse(s.Pairs)
		return res, res.Err()
	}

	rec, env := do(t, srv, http.MethodPut, "/api/config", `{"pairs":"NOPE,XX","interval_seconds":120}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var appErrs []struct {
		Code   string                 `json:"code"`
		Field  string                 `json:"field"`
		Params map[string]interface{} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &appErrs))
	require.Len(t, appErrs, 1)
	assert.Equal(t, "ERR_CONFIG", appErrs[0].Code)
	assert.Equal(t, "pairs", appErrs[0].Field)
	assert.Len(t, appErrs[0].Params["invalid"], 2)

	rec, env = do(t, srv, http.MethodPut, "/api/config", `{"pairs":"BTCAUD, bogus, ETHUSD","interval_seconds":120}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.Settings{Pairs: "BTCAUD, bogus, ETHUSD", IntervalSeconds: 120}, got)
	var resp models.ConfigResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, []string{"BTCAUD", "ETHUSD"}, resp.Pairs)
	require.Len(t, resp.Invalid, 1)
	assert.Equal(t, "BOGUS", resp.Invalid[0].Token)
}

func TestValidatePairs(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec, env := do(t, srv, http.MethodPost, "/api/pairs/validate", `{"pairs":"BTCAUD,BTCAUD"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res models.ParseResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Len(t, res.Valid, 1)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, models.ReasonDuplicate, res.Invalid[0].Reason)

	rec, _ = do(t, srv, http.MethodPost, "/api/pairs/validate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	srv, fp := newTestServer(t, nil)

	rec, _ := do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	fp.health.Degraded = []string{"BTCAUD"}
	rec, env := do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "BTCAUD")
}

func TestHistory(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec, _ := do(t, srv, http.MethodGet, "/api/pairs/BTCAUD/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	hist := &fakeHistory{}
	srv, _ = newTestServer(t, hist)

	rec, _ = do(t, srv, http.MethodGet, "/api/pairs/btcaud/history?limit=10&from=2024-03-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTCAUD", hist.key)
	assert.Equal(t, 10, hist.limit)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), hist.from.UTC())
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), hist.to.UTC())

	rec, _ = do(t, srv, http.MethodGet, "/api/pairs/BTCAUD/history?limit=0", "")
	assert.Equal(t, http.StatusOK, rec.Code, "zero limit falls back to the default")
	assert.Equal(t, 100, hist.limit)

	rec, _ = do(t, srv, http.MethodGet, "/api/pairs/BTCAUD/history?limit=99999", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv, http.MethodGet, "/api/pairs/BTCAUD/history?from=2024-03-05T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStream_SendsSnapshotThenUpdates(t *testing.T) {
	srv, fp := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/pairs?key=btcaud"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first models.NotificationMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "BTCAUD", first.Pair.Key)
	assert.False(t, first.Changed)

	require.Eventually(t, func() bool { return fp.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	snap := btcSnapshot()
	snap.Quote.Price = decimal.RequireFromString("102000")
	fp.Notify(models.Notification{PairKey: "BTCAUD", Snapshot: snap, Quote: snap.Quote, Changed: true})
	fp.Notify(models.Notification{PairKey: "ETHUSD"})

	var next models.NotificationMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.True(t, next.Changed)
	require.NotNil(t, next.Pair.Price)
	assert.True(t, next.Pair.Price.Equal(decimal.NewFromInt(102000)))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return fp.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}
