package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel).With(String("component", "coordinator"))

	l.Warn("fetch failed",
		String("currency", "usd"),
		Int("pairs", 3),
		Float64("price", 1.5),
		Duration("elapsed", 250*time.Millisecond),
		Bool("degraded", true),
		Error(errors.New("boom")),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "fetch failed", entry["message"])
	assert.Equal(t, "coordinator", entry["component"])
	assert.Equal(t, "usd", entry["currency"])
	assert.EqualValues(t, 3, entry["pairs"])
	assert.EqualValues(t, 1.5, entry["price"])
	assert.EqualValues(t, 250, entry["elapsed"])
	assert.Equal(t, true, entry["degraded"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.InfoLevel)

	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Error("ignored", Error(nil)) })
}
