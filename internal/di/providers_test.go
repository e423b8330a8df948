package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CoinPull/internal/domain/models"
	"CoinPull/pkg/config"
	applogger "CoinPull/pkg/logger"
	"CoinPull/pkg/metrics"
)

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.CoinGecko.BaseURL = baseURL
	cfg.CoinGecko.Timeout = time.Second
	cfg.Coordinator.FetchTimeout = time.Second
	cfg.Coordinator.CycleTimeout = 2 * time.Second
	return cfg
}

func TestCoordinatorWiring_UnknownCoinIsUnresolved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	l := applogger.Nop()
	client := ProvideCoinGeckoClient(cfg)
	r := ProvideResolver(cfg, client, l)
	p := ProvideParser(cfg)
	diag := ProvideDiagnostics(l, metrics.New(prometheus.NewRegistry()))
	coord := ProvideCoordinator(cfg, client, r, p, diag)

	res, err := coord.Start(context.Background(), models.Settings{Pairs: "BTCAUD,FOOAUD"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Stop(context.Background()) })

	assert.Empty(t, res.Invalid)
	assert.Equal(t, []string{"BTCAUD", "FOOAUD"}, res.Keys())

	foo, ok := coord.Snapshot("FOOAUD")
	require.True(t, ok)
	assert.Equal(t, models.StateUnresolved, foo.State)
	assert.Contains(t, foo.LastError, "FOO")
	assert.Equal(t, 1, coord.Health().Unresolved)
}

func TestCoordinatorWiring_OnlyUnknownCoinsStillStart(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	l := applogger.Nop()
	client := ProvideCoinGeckoClient(cfg)
	r := ProvideResolver(cfg, client, l)
	coord := ProvideCoordinator(cfg, client, r, ProvideParser(cfg), ProvideDiagnostics(l, metrics.New(prometheus.NewRegistry())))

	_, err := coord.Start(context.Background(), models.Settings{Pairs: "FOOAUD"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Stop(context.Background()) })

	s, ok := coord.Snapshot("FOOAUD")
	require.True(t, ok)
	assert.Equal(t, models.StateUnresolved, s.State)
}

func TestValidationParser_ReportsUnknownCoin(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	l := applogger.Nop()
	r := ProvideResolver(cfg, ProvideCoinGeckoClient(cfg), l)

	res := validationParser(cfg, r).Parse("BTCAUD,FOOAUD")
	assert.Equal(t, []string{"BTCAUD"}, res.Keys())
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, models.ReasonUnknownCoin, res.Invalid[0].Reason)
}
