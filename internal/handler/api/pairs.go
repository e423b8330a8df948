package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	xhttp "CoinPull/pkg/http"
	xlogger "CoinPull/pkg/logger"
)

// PairService is the coordinator surface used by the HTTP API.
type PairService interface {
	Snapshot(key string) (models.Snapshot, bool)
	Snapshots() []models.Snapshot
	Health() models.Health
	Reconfigure(s models.Settings) (models.ParseResult, error)
	Subscribe(pairKey string, handler domrepo.NotificationHandler) models.SubscriptionToken
	Unsubscribe(token models.SubscriptionToken) bool
}

// HistoryReader reads stored quotes.
type HistoryReader interface {
	History(ctx context.Context, key string, from, to time.Time, limit int) ([]models.Quote, error)
}

// PairsHandler serves pair snapshots, history and reconfiguration.
type PairsHandler struct {
	logger  *xlogger.Logger
	pairs   PairService
	parser  domrepo.PairParser
	history HistoryReader
	stream  StreamConfig
	now     func() time.Time
}

// NewPairsHandler creates the handler. history may be nil when no quote store
// is configured; the history endpoint then answers 503.
func NewPairsHandler(logger *xlogger.Logger, pairs PairService, parser domrepo.PairParser, history HistoryReader, stream StreamConfig) *PairsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &PairsHandler{
		logger:  logger,
		pairs:   pairs,
		parser:  parser,
		history: history,
		stream:  stream.withDefaults(),
		now:     time.Now,
	}
}

func (h *PairsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/pairs", h.List)
	g.GET("/pairs/:key", h.Get)
	g.GET("/pairs/:key/history", h.History)
	g.POST("/pairs/validate", h.Validate)
	g.PUT("/config", h.Configure)
	g.GET("/health", h.Health)

	e.GET("/ws/pairs", h.Stream)
}

func (h *PairsHandler) List(c echo.Context) error {
	views := models.NewPairViews(h.pairs.Snapshots())
	return xhttp.ListResponse(c, views, int64(len(views)))
}

func (h *PairsHandler) Get(c echo.Context) error {
	s, ok := h.pairs.Snapshot(c.Param("key"))
	if !ok {
		return xhttp.NotFoundErrorf("pair %s is not configured", c.Param("key"))
	}
	return xhttp.SuccessResponse(c, models.NewPairView(s))
}

func (h *PairsHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.history == nil {
		return xhttp.ServiceUnavailableError("quote history is not enabled")
	}

	to := xhttp.ParseTimeDefault(req.To, h.now())
	from := xhttp.ParseTimeDefault(req.From, to.Add(-24*time.Hour))
	if from.After(to) {
		return xhttp.BadRequestError("from must not be after to").WithParam("from", req.From).WithParam("to", req.To)
	}

	quotes, err := h.history.History(c.Request().Context(), normalizeKey(req.Key), from, to, req.Limit)
	if err != nil {
		h.logger.Error("history query failed", xlogger.String("pair", req.Key), xlogger.Error(err))
		return xhttp.InternalError("history query failed").WithError(err)
	}
	return xhttp.ListResponse(c, quotes, int64(len(quotes)))
}

func (h *PairsHandler) Validate(c echo.Context) error {
	req := &models.ValidatePairsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.parser.Parse(req.Pairs))
}

func (h *PairsHandler) Configure(c echo.Context) error {
	req := &models.ConfigRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.pairs.Reconfigure(models.Settings{Pairs: req.Pairs, IntervalSeconds: req.IntervalSeconds})
	if err != nil {
		var cfgErr *models.ConfigError
		switch {
		case errors.As(err, &cfgErr):
			return configAppError(cfgErr)
		case errors.Is(err, models.ErrNotStarted):
			return xhttp.ServiceUnavailableError("coordinator is not running")
		default:
			return err
		}
	}

	h.logger.Info("reconfiguration accepted",
		xlogger.Strings("pairs", res.Keys()),
		xlogger.Int("invalid", len(res.Invalid)),
		xlogger.Int("interval_seconds", req.IntervalSeconds),
	)
	return xhttp.AcceptedResponse(c, models.ConfigResponse{
		Pairs:           res.Keys(),
		Invalid:         res.Invalid,
		IntervalSeconds: req.IntervalSeconds,
	})
}

func (h *PairsHandler) Health(c echo.Context) error {
	health := h.pairs.Health()
	status := http.StatusOK
	if !health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	return xhttp.DataResponse(c, status, health)
}

func configAppError(e *models.ConfigError) *xhttp.AppError {
	appErr := xhttp.NewAppError("ERR_CONFIG", e.Field, e.Message, http.StatusBadRequest).WithError(e)
	if len(e.Invalid) > 0 {
		appErr.WithParam("invalid", e.Invalid)
	}
	return appErr
}
