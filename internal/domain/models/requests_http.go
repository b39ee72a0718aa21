package models

// Requests for the HTTP API. Defined in domain for consistency and reuse.

type LimitRequest struct {
	Limit int `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=500"`
}

type OverrideRequest struct {
	Strategy StrategyID `json:"strategy" validate:"required"`
	Reason   string     `json:"reason" default:"manual override"`
}

type AutoSwitchRequest struct {
	Enabled bool `json:"enabled"`
}

type OpenPositionRequest struct {
	Symbol     string       `json:"symbol" validate:"required,symbol"`
	Side       PositionSide `json:"side" validate:"required,oneof=LONG SHORT"`
	Size       float64      `json:"size" validate:"gt=0"`
	Leverage   int          `json:"leverage" default:"1" validate:"gte=1,lte=125"`
	MarginMode MarginMode   `json:"margin_mode" default:"ISOLATED" validate:"oneof=ISOLATED CROSS"`
	StopLoss   float64      `json:"stop_loss" validate:"gte=0"`
	TakeProfit float64      `json:"take_profit" validate:"gte=0"`
}

type ClosePositionRequest struct {
	Percentage float64 `json:"percentage" default:"100" validate:"gt=0,lte=100"`
}

type LeverageRequest struct {
	Leverage int `json:"leverage" validate:"gte=1,lte=125"`
}

type PriceRequest struct {
	Price float64 `json:"price" validate:"gt=0"`
}

// OutcomeRequest reports a closed trade over HTTP or the outcomes topic.
// ClosedAt accepts RFC3339 or unix seconds/milliseconds and defaults to now.
type OutcomeRequest struct {
	ID         string       `json:"id"`
	StrategyID StrategyID   `json:"strategy_id" validate:"required"`
	Symbol     string       `json:"symbol"`
	PnL        float64      `json:"pnl"`
	PnLPct     float64      `json:"pnl_pct"`
	DurationS  int64        `json:"duration_s" validate:"gte=0"`
	Regime     MarketRegime `json:"regime"`
	ClosedAt   string       `json:"closed_at"`
}
