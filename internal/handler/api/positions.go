package api

import (
	"strings"

	"github.com/labstack/echo/v4"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/services/risk"
	xhttp "FuturesPilot/pkg/http"
	xlogger "FuturesPilot/pkg/logger"
)

func (h *Handler) Positions(c echo.Context) error {
	rows := h.d.Positions.Positions()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *Handler) PositionSummary(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.d.Positions.Summary())
}

func (h *Handler) OpenPosition(c echo.Context) error {
	req := &models.OpenPositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res := h.d.Positions.Open(c.Request().Context(), risk.OpenRequest{
		Symbol:     strings.ToUpper(req.Symbol),
		Side:       req.Side,
		Size:       req.Size,
		Leverage:   req.Leverage,
		MarginMode: req.MarginMode,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if !res.OK() {
		h.logger.Warn("open position failed", xlogger.String("symbol", req.Symbol), xlogger.String("reason", res.Message))
	}
	return resultResponse(c, res)
}

func (h *Handler) ClosePosition(c echo.Context) error {
	req := &models.ClosePositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return resultResponse(c, h.d.Positions.Close(c.Request().Context(), symbolParam(c), req.Percentage))
}

// CloseAll is the emergency exit. It always answers with every per-symbol result.
func (h *Handler) CloseAll(c echo.Context) error {
	results := h.d.Positions.EmergencyCloseAll(c.Request().Context())
	h.logger.Warn("emergency close all requested", xlogger.Int("positions", len(results)))
	return xhttp.ListResponse(c, results, int64(len(results)))
}

func (h *Handler) AdjustLeverage(c echo.Context) error {
	req := &models.LeverageRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return resultResponse(c, h.d.Positions.AdjustLeverage(c.Request().Context(), symbolParam(c), req.Leverage))
}

func (h *Handler) StopLoss(c echo.Context) error {
	req := &models.PriceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return resultResponse(c, h.d.Positions.AddStopLoss(c.Request().Context(), symbolParam(c), req.Price))
}

func (h *Handler) TakeProfit(c echo.Context) error {
	req := &models.PriceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return resultResponse(c, h.d.Positions.AddTakeProfit(c.Request().Context(), symbolParam(c), req.Price))
}

func (h *Handler) Risk(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.d.Positions.RiskMetrics(c.Request().Context()))
}

func (h *Handler) Liquidation(c echo.Context) error {
	rows := h.d.Positions.LiquidationRisk()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *Handler) Funding(c echo.Context) error {
	symbol := symbolParam(c)
	rate, err := h.d.Positions.FundingRate(c.Request().Context(), symbol)
	if err != nil {
		h.logger.Warn("funding rate unavailable", xlogger.String("symbol", symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError("symbol", "funding rate unavailable").WithParam("symbol", symbol).WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbol":            rate.Symbol,
		"rate":              rate.Rate,
		"annualized":        rate.Annualized(),
		"next_funding_time": rate.NextFundingTime,
	})
}
