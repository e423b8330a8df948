package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	xhttp "CoinPull/pkg/http"
	xlogger "CoinPull/pkg/logger"
)

var errSlowClient = errors.New("websocket client too slow, notification dropped")

// StreamConfig tunes the WebSocket stream.
type StreamConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == models.AllPairs {
		return key
	}
	return strings.ToUpper(key)
}

// Stream upgrades to a WebSocket and pushes a message per refresh of the
// requested pair (or every pair for key=*). Current snapshots are sent first.
func (h *PairsHandler) Stream(c echo.Context) error {
	req := &models.StreamRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := normalizeKey(req.Key)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		h.logger.Debug("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	out := make(chan models.Notification, h.stream.SendBuffer)
	token := h.pairs.Subscribe(key, domrepo.NotificationHandlerFunc(func(n models.Notification) error {
		select {
		case out <- n:
			return nil
		default:
			return errSlowClient
		}
	}))
	defer h.pairs.Unsubscribe(token)

	log := h.logger.With(xlogger.String("stream_key", key), xlogger.String("remote_ip", c.RealIP()))
	log.Debug("websocket stream opened")
	defer log.Debug("websocket stream closed")

	for _, s := range h.initialSnapshots(key) {
		if err := h.writeJSON(conn, models.NotificationMessage{Pair: models.NewPairView(s), SentAt: h.now().UTC()}); err != nil {
			return nil
		}
	}

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	ping := time.NewTicker(h.stream.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return nil
		case n := <-out:
			if err := h.writeJSON(conn, models.NewNotificationMessage(n, h.now())); err != nil {
				log.Debug("websocket write failed", xlogger.Error(err))
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.stream.WriteTimeout)); err != nil {
				return nil
			}
		}
	}
}

func (h *PairsHandler) initialSnapshots(key string) []models.Snapshot {
	if key == models.AllPairs {
		return h.pairs.Snapshots()
	}
	if s, ok := h.pairs.Snapshot(key); ok {
		return []models.Snapshot{s}
	}
	return nil
}

func (h *PairsHandler) writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.stream.WriteTimeout))
	return conn.WriteJSON(v)
}

// readPump discards client frames and closes done when the peer goes away.
func (h *PairsHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	wait := 2 * h.stream.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
