package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/repository"
	xhttp "FuturesPilot/pkg/http"
	xlogger "FuturesPilot/pkg/logger"
)

// Recommendation returns the latest recommendation, falling back to the
// persisted one after a restart.
func (h *Handler) Recommendation(c echo.Context) error {
	if rec, ok := h.d.Recommender.Latest(); ok {
		return xhttp.SuccessResponse(c, rec)
	}
	rec, err := h.d.State.LatestRecommendation(c.Request().Context())
	if errors.Is(err, repository.ErrNoState) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no recommendation yet"))
	}
	if err != nil {
		h.logger.Error("load recommendation failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("load recommendation failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *Handler) Recommendations(c echo.Context) error {
	req := &models.LimitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := h.d.Recommender.History(req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *Handler) Switches(c echo.Context) error {
	req := &models.LimitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := h.d.Selector.SwitchHistory(req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *Handler) SelectorStats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.d.Selector.Stats())
}

type overrideResponse struct {
	Switched bool                `json:"switched"`
	Active   models.StrategyID   `json:"active"`
	Event    *models.SwitchEvent `json:"event,omitempty"`
}

func (h *Handler) Override(c echo.Context) error {
	req := &models.OverrideRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ev, switched, err := h.d.Selector.ManualOverride(c.Request().Context(), req.Strategy, req.Reason)
	if err != nil {
		h.logger.Warn("manual override rejected", xlogger.String("strategy", string(req.Strategy)), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.RejectedError("strategy", err.Error()).WithError(err))
	}
	res := overrideResponse{Switched: switched, Active: req.Strategy}
	if switched {
		res.Event = &ev
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *Handler) AutoSwitch(c echo.Context) error {
	req := &models.AutoSwitchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.d.Selector.SetAutoSwitch(req.Enabled)
	return xhttp.SuccessResponse(c, map[string]bool{"auto_switch": h.d.Selector.AutoSwitch()})
}

// Evaluate runs one selection round immediately.
func (h *Handler) Evaluate(c echo.Context) error {
	res, err := h.d.Runner.RunOnce(c.Request().Context())
	if err != nil {
		h.logger.Error("on-demand evaluation failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError("", "market data unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *Handler) Performance(c echo.Context) error {
	rows := h.d.Tracker.Summary()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *Handler) StrategyPerformance(c echo.Context) error {
	id := models.StrategyID(c.Param("strategy"))
	for _, sp := range h.d.Tracker.Summary() {
		if sp.Strategy == id {
			return xhttp.SuccessResponse(c, sp)
		}
	}
	return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no performance recorded for %s", id))
}
