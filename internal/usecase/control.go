package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"CoinPull/internal/domain/models"
	applogger "CoinPull/pkg/logger"
)

// Reconfigurer is the part of Coordinator driven by control messages.
type Reconfigurer interface {
	Reconfigure(s models.Settings) (models.ParseResult, error)
}

// ControlHandler applies reconfiguration commands read from a Kafka topic.
// A command is JSON: {"pairs": "BTCAUD,ETHUSD", "interval_seconds": 300}.
type ControlHandler struct {
	topic  string
	target Reconfigurer
	logger *applogger.Logger
}

// NewControlHandler creates a handler for topic.
func NewControlHandler(topic string, target Reconfigurer, logger *applogger.Logger) *ControlHandler {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &ControlHandler{topic: topic, target: target, logger: logger.With(applogger.String("component", "control"))}
}

func (h *ControlHandler) Topic() string { return h.topic }

// Handle applies one command. Malformed or rejected commands are logged and
// acknowledged; only a coordinator that is not running yet asks for a retry.
func (h *ControlHandler) Handle(_ context.Context, key, value []byte) error {
	var s models.Settings
	if err := json.Unmarshal(value, &s); err != nil {
		h.logger.Warn("ignoring malformed control message", applogger.String("key", string(key)), applogger.Error(err))
		return nil
	}

	res, err := h.target.Reconfigure(s)
	if err != nil {
		if errors.Is(err, models.ErrNotStarted) {
			return err
		}
		h.logger.Warn("control message rejected", applogger.String("key", string(key)), applogger.Error(err))
		return nil
	}

	fields := []applogger.Field{
		applogger.String("key", string(key)),
		applogger.Strings("pairs", res.Keys()),
		applogger.Int("interval_seconds", s.IntervalSeconds),
	}
	if len(res.Invalid) > 0 {
		fields = append(fields, applogger.Int("invalid", len(res.Invalid)))
	}
	h.logger.Info("control message applied", fields...)
	return nil
}
