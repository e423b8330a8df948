package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPairView_RoundsChangeAndCarriesUnit(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Snapshot{
		Key:      "BTCAUD",
		Coin:     "BTC",
		Currency: "AUD",
		RemoteID: "bitcoin",
		State:    StateFresh,
		Quote: &Quote{
			Price:     decimal.RequireFromString("101234.56"),
			Change24h: decimal.NewNullDecimal(decimal.RequireFromString("-1.23789")),
			Volume24h: decimal.NewNullDecimal(decimal.RequireFromString("123456789.1")),
			AsOf:      ts,
		},
		LastUpdated: &ts,
	}

	v := NewPairView(s)
	assert.Equal(t, "AUD", v.Unit)
	assert.Equal(t, Attribution, v.Attribution)
	require.NotNil(t, v.Change24h)
	assert.Equal(t, -1.24, *v.Change24h)
	assert.Nil(t, v.MarketCap)
	assert.Equal(t, "bitcoin", v.CoinID)

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"price":"101234.56"`)
	assert.Contains(t, string(raw), `"market_cap":null`)
}

func TestNewPairView_NoQuote(t *testing.T) {
	v := NewPairView(Snapshot{Key: "ETHUSD", Currency: "USD", State: StatePending})
	assert.Nil(t, v.Price)
	assert.Nil(t, v.Change24h)
	assert.Nil(t, v.AsOf)
	assert.Equal(t, "USD", v.Unit)
}

func TestNewNotificationMessage_CarriesError(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewNotificationMessage(Notification{
		PairKey:  "BTCAUD",
		Snapshot: Snapshot{Key: "BTCAUD", State: StateStale},
		Err:      errors.New("fetch timeout"),
	}, now)

	assert.Equal(t, "fetch timeout", m.Error)
	assert.Equal(t, "BTCAUD", m.Pair.Key)
	assert.Equal(t, now, m.SentAt)
}
