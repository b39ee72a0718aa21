package models

import (
	"encoding/json"
	"math"
	"time"
)

// StrategyID identifies a registered trading strategy.
type StrategyID string

const (
	StrategyBreakout           StrategyID = "breakout"
	StrategyScalping           StrategyID = "scalping"
	StrategyTrend              StrategyID = "trend"
	StrategyFundingArbitrage   StrategyID = "funding_arbitrage"
	StrategyGridTrading        StrategyID = "grid_trading"
	StrategyLongShortSwitching StrategyID = "long_short_switching"
	StrategyVolatilityBreakout StrategyID = "volatility_breakout"
)

// TradeOutcome is created once when a position closes.
type TradeOutcome struct {
	ID         string        `json:"id"`
	StrategyID StrategyID    `json:"strategy_id" validate:"required"`
	Symbol     string        `json:"symbol"`
	PnL        float64       `json:"pnl"`
	PnLPct     float64       `json:"pnl_pct"`
	Duration   time.Duration `json:"duration"`
	Regime     MarketRegime  `json:"regime"`
	ClosedAt   time.Time     `json:"closed_at"`
}

// IsWin reports whether the trade closed in profit.
func (o TradeOutcome) IsWin() bool { return o.PnL > 0 }

// PerformanceMetrics are recomputed from the full outcome history of a scope.
// WinRate is a fraction in [0,1]. ProfitFactor is +Inf when there are no losses.
type PerformanceMetrics struct {
	TotalTrades          int       `json:"total_trades"`
	Wins                 int       `json:"wins"`
	Losses               int       `json:"losses"`
	ConsecutiveWins      int       `json:"consecutive_wins"`
	ConsecutiveLosses    int       `json:"consecutive_losses"`
	MaxConsecutiveWins   int       `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int       `json:"max_consecutive_losses"`
	TotalPnL             float64   `json:"total_pnl"`
	WinRate              float64   `json:"win_rate"`
	AvgWin               float64   `json:"avg_win"`
	AvgLoss              float64   `json:"avg_loss"`
	ProfitFactor         float64   `json:"profit_factor"`
	MaxDrawdown          float64   `json:"max_drawdown"`
	SharpeRatio          float64   `json:"sharpe_ratio"`
	RecoveryFactor       float64   `json:"recovery_factor"`
	LastTradeAt          time.Time `json:"last_trade_at"`
}

// MarshalJSON encodes an infinite profit factor as null.
func (m PerformanceMetrics) MarshalJSON() ([]byte, error) {
	type alias PerformanceMetrics
	return json.Marshal(struct {
		alias
		ProfitFactor *float64 `json:"profit_factor"`
	}{alias: alias(m), ProfitFactor: finiteOrNil(m.ProfitFactor)})
}

// StrategyPerformance bundles the global and per-regime metrics of one strategy.
type StrategyPerformance struct {
	Strategy StrategyID                          `json:"strategy"`
	Global   PerformanceMetrics                  `json:"global"`
	ByRegime map[MarketRegime]PerformanceMetrics `json:"by_regime"`
	Score    float64                             `json:"score"`
}

type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

// StrategyScore holds the raw [0,1] components and the weighted total.
type StrategyScore struct {
	Suitability float64 `json:"suitability"`
	Performance float64 `json:"performance"`
	Alignment   float64 `json:"alignment"`
	Risk        float64 `json:"risk"`
	Total       float64 `json:"total"`
}

type Alternative struct {
	Strategy StrategyID `json:"strategy"`
	Score    float64    `json:"score"`
	Gap      float64    `json:"gap"`
}

type MarketSummary struct {
	Trend      string `json:"trend"`
	Volatility string `json:"volatility"`
	Momentum   string `json:"momentum"`
}

// Recommendation is an immutable snapshot of one scoring round.
type Recommendation struct {
	ID              string                       `json:"id"`
	Timestamp       time.Time                    `json:"timestamp"`
	Regime          MarketRegime                 `json:"regime"`
	Scores          map[StrategyID]StrategyScore `json:"scores"`
	Strategy        StrategyID                   `json:"strategy"`
	Confidence      float64                      `json:"confidence"`
	ConfidenceLevel ConfidenceLevel              `json:"confidence_level"`
	Reasoning       []string                     `json:"reasoning"`
	Alternatives    []Alternative                `json:"alternatives"`
	MarketSummary   MarketSummary                `json:"market_summary"`
}

// SwitchEvent is appended to the selector log on every strategy change.
type SwitchEvent struct {
	ID         string       `json:"id"`
	Timestamp  time.Time    `json:"timestamp"`
	From       StrategyID   `json:"from"`
	To         StrategyID   `json:"to"`
	Reason     string       `json:"reason"`
	Confidence float64      `json:"confidence"`
	Regime     MarketRegime `json:"regime"`
	Manual     bool         `json:"manual"`
}

// SelectionResult describes one evaluate-and-select round.
type SelectionResult struct {
	Timestamp      time.Time      `json:"timestamp"`
	Current        StrategyID     `json:"current"`
	Recommended    StrategyID     `json:"recommended"`
	ShouldSwitch   bool           `json:"should_switch"`
	Reason         string         `json:"reason"`
	CanSwitch      bool           `json:"can_switch"`
	Switched       bool           `json:"switched"`
	NewStrategy    StrategyID     `json:"new_strategy,omitempty"`
	Recommendation Recommendation `json:"recommendation"`
}

type SelectorStats struct {
	Active          StrategyID         `json:"active"`
	AutoSwitch      bool               `json:"auto_switch"`
	TotalSwitches   int                `json:"total_switches"`
	SwitchesPerHour float64            `json:"switches_per_hour"`
	TimeOnCurrent   time.Duration      `json:"time_on_current"`
	StrategyUsage   map[StrategyID]int `json:"strategy_usage"`
	TradeCounts     map[StrategyID]int `json:"trade_counts"`
	LastSwitch      *SwitchEvent       `json:"last_switch,omitempty"`
}

func finiteOrNil(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
