package api

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"FuturesPilot/internal/domain/models"
	domrepo "FuturesPilot/internal/domain/repository"
	"FuturesPilot/internal/handler/ws"
	"FuturesPilot/internal/services/monitor"
	"FuturesPilot/internal/services/performance"
	"FuturesPilot/internal/services/recommend"
	"FuturesPilot/internal/services/risk"
	"FuturesPilot/internal/services/selector"
	"FuturesPilot/internal/usecase"
	xhttp "FuturesPilot/pkg/http"
	xlogger "FuturesPilot/pkg/logger"
)

// Deps are the components the API reads from and drives. Hub may be nil when
// the websocket stream is disabled.
type Deps struct {
	Selector    *selector.Selector
	Recommender *recommend.Recommender
	Tracker     *performance.Tracker
	Positions   *risk.Store
	Monitor     *monitor.Supervisor
	Outcomes    *usecase.OutcomeRecorder
	Runner      *usecase.SelectionRunner
	State       domrepo.StateStore
	Hub         *ws.Hub
}

// Handler implements the Echo HTTP API.
type Handler struct {
	logger *xlogger.Logger
	d      Deps
}

var _ xhttp.Handler = (*Handler)(nil)

func NewHandler(logger *xlogger.Logger, d Deps) *Handler {
	return &Handler{logger: logger, d: d}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/v1")
	g.GET("/status", h.Status)

	g.GET("/recommendation", h.Recommendation)
	g.GET("/recommendations", h.Recommendations)
	g.GET("/switches", h.Switches)
	g.GET("/selector/stats", h.SelectorStats)
	g.POST("/selector/override", h.Override)
	g.POST("/selector/auto", h.AutoSwitch)
	g.POST("/selector/evaluate", h.Evaluate)

	g.GET("/performance", h.Performance)
	g.GET("/performance/:strategy", h.StrategyPerformance)

	g.GET("/positions", h.Positions)
	g.GET("/positions/summary", h.PositionSummary)
	g.POST("/positions", h.OpenPosition)
	g.POST("/positions/close-all", h.CloseAll)
	g.POST("/positions/:symbol/close", h.ClosePosition)
	g.POST("/positions/:symbol/leverage", h.AdjustLeverage)
	g.POST("/positions/:symbol/stop-loss", h.StopLoss)
	g.POST("/positions/:symbol/take-profit", h.TakeProfit)

	g.GET("/risk", h.Risk)
	g.GET("/risk/liquidation", h.Liquidation)
	g.GET("/funding/:symbol", h.Funding)

	g.GET("/monitor/status", h.MonitorStatus)
	g.GET("/monitor/performance", h.MonitorPerformance)
	g.GET("/monitor/history", h.MonitorHistory)
	g.GET("/monitor/alerts", h.Alerts)

	g.POST("/outcomes", h.RecordOutcome)
	g.GET("/outcomes", h.ListOutcomes)

	if h.d.Hub != nil {
		g.GET("/ws/alerts", h.d.Hub.Handle)
	}
}

// StatusResponse is the one-call overview of the pilot.
type StatusResponse struct {
	ActiveStrategy models.StrategyID         `json:"active_strategy"`
	AutoSwitch     bool                      `json:"auto_switch"`
	Regime         models.MarketRegime       `json:"regime,omitempty"`
	Confidence     float64                   `json:"confidence,omitempty"`
	Monitor        models.MonitorStatus      `json:"monitor"`
	Positions      int                       `json:"positions"`
	TotalPnL       float64                   `json:"total_pnl"`
	LastEvaluation string                    `json:"last_evaluation,omitempty"`
	Selector       models.SelectorStats      `json:"selector"`
	Performance    models.PerformanceSummary `json:"performance"`
}

func (h *Handler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *Handler) Status(c echo.Context) error {
	stats := h.d.Selector.Stats()
	summary := h.d.Positions.Summary()
	res := StatusResponse{
		ActiveStrategy: stats.Active,
		AutoSwitch:     stats.AutoSwitch,
		Monitor:        h.d.Monitor.Status(),
		Positions:      summary.Count,
		TotalPnL:       summary.TotalPnL,
		Selector:       stats,
		Performance:    h.d.Monitor.PerformanceSummary(),
	}
	if rec, ok := h.d.Recommender.Latest(); ok {
		res.Regime = rec.Regime
		res.Confidence = rec.Confidence
	}
	if last := h.d.Runner.LastRun(); !last.IsZero() {
		res.LastEvaluation = last.UTC().Format(time.RFC3339)
	}
	return xhttp.SuccessResponse(c, res)
}

func symbolParam(c echo.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
}

// resultResponse maps a structured mutation result onto the response envelope.
func resultResponse(c echo.Context, res models.Result) error {
	if res.OK() {
		return xhttp.SuccessResponse(c, res)
	}
	return xhttp.BadRequestResponse(c, res)
}
