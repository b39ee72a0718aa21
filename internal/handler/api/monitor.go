package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/usecase"
	xhttp "FuturesPilot/pkg/http"
	xlogger "FuturesPilot/pkg/logger"
)

func (h *Handler) MonitorStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.d.Monitor.Status())
}

func (h *Handler) MonitorPerformance(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.d.Monitor.PerformanceSummary())
}

func (h *Handler) MonitorHistory(c echo.Context) error {
	req := &models.LimitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := h.d.Monitor.History(req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *Handler) Alerts(c echo.Context) error {
	rows := h.d.Monitor.ActiveAlerts()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *Handler) RecordOutcome(c echo.Context) error {
	req := &models.OutcomeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	o := h.d.Outcomes.FromRequest(*req)
	if err := h.d.Outcomes.Record(c.Request().Context(), o); err != nil {
		if errors.Is(err, usecase.ErrUnknownStrategy) {
			return xhttp.AppErrorResponse(c, xhttp.RejectedError("strategy_id", err.Error()))
		}
		h.logger.Error("record outcome failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("record outcome failed").WithError(err))
	}
	return xhttp.CreatedResponse(c, o)
}

// ListOutcomes reads the journal. since defaults to 24h ago.
func (h *Handler) ListOutcomes(c echo.Context) error {
	since := xhttp.QueryTime(c, "since", time.Now().Add(-24*time.Hour))
	limit := xhttp.QueryInt(c, "limit", 100)
	if limit < 1 || limit > 10000 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("limit must be between 1 and 10000").WithParam("min", 1).WithParam("max", 10000))
	}
	rows, err := h.d.Outcomes.List(c.Request().Context(), since, limit)
	if err != nil {
		h.logger.Error("list outcomes failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("list outcomes failed").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
