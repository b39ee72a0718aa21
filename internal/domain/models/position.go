package models

import (
	"encoding/json"
	"math"
	"time"
)

type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// Opposite returns the side that reduces a position of this side.
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

type MarginMode string

const (
	MarginIsolated MarginMode = "ISOLATED"
	MarginCross    MarginMode = "CROSS"
)

// Position is one open futures position. Contracts is signed: negative for shorts.
type Position struct {
	Symbol           string       `json:"symbol"`
	Side             PositionSide `json:"side"`
	Contracts        float64      `json:"contracts"`
	EntryPrice       float64      `json:"entry_price"`
	MarkPrice        float64      `json:"mark_price"`
	LiquidationPrice float64      `json:"liquidation_price"`
	UnrealizedPnL    float64      `json:"unrealized_pnl"`
	RealizedPnL      float64      `json:"realized_pnl"`
	Margin           float64      `json:"margin"`
	Leverage         int          `json:"leverage"`
	MarginMode       MarginMode   `json:"margin_mode"`
	SyncedAt         time.Time    `json:"synced_at"`
}

// Size is the absolute contract count.
func (p Position) Size() float64 { return math.Abs(p.Contracts) }

// Notional is size times mark price.
func (p Position) Notional() float64 { return p.Size() * p.MarkPrice }

// PnLPercentage is unrealized pnl relative to margin, in percent.
func (p Position) PnLPercentage() float64 {
	if p.Margin == 0 {
		return 0
	}
	return p.UnrealizedPnL / p.Margin * 100
}

// MarginRatio is notional over margin.
func (p Position) MarginRatio() float64 {
	if p.Margin == 0 {
		return 0
	}
	return p.Notional() / p.Margin
}

type Balance struct {
	Asset string  `json:"asset"`
	Total float64 `json:"total"`
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
}

type FundingRate struct {
	Symbol          string    `json:"symbol"`
	Rate            float64   `json:"rate"`
	NextFundingTime time.Time `json:"next_funding_time"`
}

// Annualized assumes three funding intervals per day.
func (f FundingRate) Annualized() float64 { return f.Rate * 3 * 365 }

// RiskMetrics is recomputed wholesale on each poll. MarginLevel is +Inf when no
// margin is in use.
type RiskMetrics struct {
	MaxLeverage     int       `json:"max_leverage"`
	CurrentLeverage float64   `json:"current_leverage"`
	TotalMargin     float64   `json:"total_margin"`
	FreeMargin      float64   `json:"free_margin"`
	UsedMargin      float64   `json:"used_margin"`
	MarginLevel     float64   `json:"margin_level"`
	PositionsCount  int       `json:"positions_count"`
	TotalNotional   float64   `json:"total_notional"`
	MaxPositionSize float64   `json:"max_position_size"`
	DailyPnL        float64   `json:"daily_pnl"`
	WeeklyPnL       float64   `json:"weekly_pnl"`
	MarginUsagePct  float64   `json:"margin_usage_pct"`
	IsOverleveraged bool      `json:"is_overleveraged"`
	Degraded        bool      `json:"degraded"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SafeRiskMetrics is returned when the account cannot be read.
func SafeRiskMetrics(now time.Time) RiskMetrics {
	return RiskMetrics{
		MaxLeverage:     1,
		CurrentLeverage: 1,
		MarginLevel:     100,
		Degraded:        true,
		UpdatedAt:       now,
	}
}

func (m RiskMetrics) MarshalJSON() ([]byte, error) {
	type alias RiskMetrics
	return json.Marshal(struct {
		alias
		MarginLevel *float64 `json:"margin_level"`
	}{alias: alias(m), MarginLevel: finiteOrNil(m.MarginLevel)})
}

type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
)

type LiquidationRisk struct {
	Symbol           string       `json:"symbol"`
	Side             PositionSide `json:"side"`
	MarkPrice        float64      `json:"mark_price"`
	LiquidationPrice float64      `json:"liquidation_price"`
	DistancePct      float64      `json:"distance_pct"`
	Level            RiskLevel    `json:"risk_level"`
}

type PositionSummary struct {
	Count         int        `json:"count"`
	TotalNotional float64    `json:"total_notional"`
	TotalPnL      float64    `json:"total_pnl"`
	PnLPct        float64    `json:"pnl_pct"`
	Positions     []Position `json:"positions"`
}

type OrderType string

const (
	OrderMarket           OrderType = "MARKET"
	OrderLimit            OrderType = "LIMIT"
	OrderStopMarket       OrderType = "STOP_MARKET"
	OrderTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderSideFor returns the order side that opens a position of the given side.
func OrderSideFor(side PositionSide) OrderSide {
	if side == SideShort {
		return OrderSell
	}
	return OrderBuy
}

type OrderRequest struct {
	ClientID   string    `json:"client_id"`
	Symbol     string    `json:"symbol"`
	Type       OrderType `json:"type"`
	Side       OrderSide `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price,omitempty"`
	StopPrice  float64   `json:"stop_price,omitempty"`
	ReduceOnly bool      `json:"reduce_only"`
}

type Order struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Symbol    string    `json:"symbol"`
	Type      OrderType `json:"type"`
	Side      OrderSide `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	StopPrice float64   `json:"stop_price,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Result is the structured outcome of a position mutation.
type Result struct {
	Status  string `json:"status"`
	Symbol  string `json:"symbol"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}

func (r Result) OK() bool { return r.Status == ResultOK }

func OKResult(symbol, message string, order *Order) Result {
	return Result{Status: ResultOK, Symbol: symbol, Message: message, Order: order}
}

func ErrorResult(symbol, message string) Result {
	return Result{Status: ResultError, Symbol: symbol, Message: message}
}
