package models

import (
	"fmt"
	"time"
)

// PriceBar is a single OHLCV candle. Bars are ordered oldest first.
type PriceBar struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// MarketRegime is the mutually exclusive classification of the latest window.
type MarketRegime string

const (
	RegimeTrendingUp    MarketRegime = "TRENDING_UP"
	RegimeTrendingDown  MarketRegime = "TRENDING_DOWN"
	RegimeRanging       MarketRegime = "RANGING"
	RegimeVolatile      MarketRegime = "VOLATILE"
	RegimeBreakout      MarketRegime = "BREAKOUT"
	RegimeConsolidating MarketRegime = "CONSOLIDATING"

	// RegimeUnknown marks recommendations produced without a usable assessment.
	RegimeUnknown MarketRegime = "UNKNOWN"
	// RegimeManual marks switch events issued by an operator.
	RegimeManual MarketRegime = "MANUAL"
)

// Regimes lists the classifiable regimes.
var Regimes = []MarketRegime{
	RegimeTrendingUp, RegimeTrendingDown, RegimeRanging,
	RegimeVolatile, RegimeBreakout, RegimeConsolidating,
}

type TrendStrength string

const (
	TrendStrong   TrendStrength = "STRONG"
	TrendModerate TrendStrength = "MODERATE"
	TrendWeak     TrendStrength = "WEAK"
	TrendNone     TrendStrength = "NONE"
)

type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

type VolatilityLevel string

const (
	VolatilityHigh   VolatilityLevel = "HIGH"
	VolatilityNormal VolatilityLevel = "NORMAL"
	VolatilityLow    VolatilityLevel = "LOW"
)

// Trend values shared by volatility and volume assessments.
type Trend string

const (
	TrendIncreasing Trend = "INCREASING"
	TrendDecreasing Trend = "DECREASING"
	TrendStable     Trend = "STABLE"
)

type MomentumState string

const (
	MomentumOverbought MomentumState = "OVERBOUGHT"
	MomentumOversold   MomentumState = "OVERSOLD"
	MomentumNeutral    MomentumState = "NEUTRAL"
)

type MACDTrend string

const (
	MACDBullish MACDTrend = "BULLISH"
	MACDBearish MACDTrend = "BEARISH"
)

type MomentumStrength string

const (
	MomentumStrong   MomentumStrength = "STRONG"
	MomentumModerate MomentumStrength = "MODERATE"
	MomentumWeak     MomentumStrength = "WEAK"
)

type VolumeLevel string

const (
	VolumeHigh   VolumeLevel = "HIGH"
	VolumeNormal VolumeLevel = "NORMAL"
	VolumeLow    VolumeLevel = "LOW"
)

type TrendAssessment struct {
	Direction  Direction     `json:"direction"`
	Strength   TrendStrength `json:"strength"`
	ADX        float64       `json:"adx"`
	PlusDI     float64       `json:"plus_di"`
	MinusDI    float64       `json:"minus_di"`
	MAAligned  bool          `json:"ma_aligned"`
	IsTrending bool          `json:"is_trending"`
}

type VolatilityAssessment struct {
	Level              VolatilityLevel `json:"level"`
	Trend              Trend           `json:"trend"`
	ATRPct             float64         `json:"atr_pct"`
	BBWidth            float64         `json:"bb_width"`
	RelativeVolatility float64         `json:"relative_volatility"`
}

type MomentumAssessment struct {
	RSI           float64          `json:"rsi"`
	State         MomentumState    `json:"state"`
	MACDTrend     MACDTrend        `json:"macd_trend"`
	MACDHistogram float64          `json:"macd_histogram"`
	Strength      MomentumStrength `json:"strength"`
}

type VolumeAssessment struct {
	Level         VolumeLevel `json:"level"`
	Trend         Trend       `json:"trend"`
	Ratio         float64     `json:"ratio"`
	IsSignificant bool        `json:"is_significant"`
}

type PatternAssessment struct {
	Breakout          bool      `json:"breakout"`
	BreakoutDirection Direction `json:"breakout_direction,omitempty"`
	Consolidation     bool      `json:"consolidation"`
	Reversal          bool      `json:"reversal"`
	RecentHigh        float64   `json:"recent_high"`
	RecentLow         float64   `json:"recent_low"`
}

// RegimeAssessment is produced fresh by every classification and never mutated.
// The zero value is the insufficient-data sentinel.
type RegimeAssessment struct {
	Timestamp  time.Time            `json:"timestamp"`
	Regime     MarketRegime         `json:"regime"`
	Price      float64              `json:"price"`
	Trend      TrendAssessment      `json:"trend"`
	Volatility VolatilityAssessment `json:"volatility"`
	Momentum   MomentumAssessment   `json:"momentum"`
	Volume     VolumeAssessment     `json:"volume"`
	Patterns   PatternAssessment    `json:"patterns"`
}

// IsEmpty reports whether the assessment is the insufficient-data sentinel.
func (a RegimeAssessment) IsEmpty() bool { return a.Regime == "" }

// Summary renders a one-line human readable description.
func (a RegimeAssessment) Summary() string {
	if a.IsEmpty() {
		return "Insufficient data for market analysis"
	}
	return fmt.Sprintf("Market: %s | Trend: %s %s (ADX %.1f) | Volatility: %s (%.2f%%, %s) | RSI %.1f %s | MACD %s",
		a.Regime,
		a.Trend.Strength, a.Trend.Direction, a.Trend.ADX,
		a.Volatility.Level, a.Volatility.ATRPct, a.Volatility.Trend,
		a.Momentum.RSI, a.Momentum.State, a.Momentum.MACDTrend,
	)
}
