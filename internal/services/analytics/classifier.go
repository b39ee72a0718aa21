package analytics

import (
	"math"
	"time"

	"FuturesPilot/internal/domain/models"
	domsvc "FuturesPilot/internal/domain/service"
	"FuturesPilot/internal/services/features"
)

// ClassifierConfig holds the classification thresholds.
type ClassifierConfig struct {
	MinBars int

	ADXTrending float64
	ADXStrong   float64
	ADXModerate float64
	ADXWeak     float64

	HighVolatilityPct float64
	LowVolatilityPct  float64
	VolChangePct      float64

	RSIOverbought float64
	RSIOversold   float64

	Lookback            int
	ConsolidationRange  float64
	ConsolidationATRPct float64
}

// DefaultClassifierConfig returns the stock thresholds.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MinBars:             100,
		ADXTrending:         25,
		ADXStrong:           50,
		ADXModerate:         25,
		ADXWeak:             15,
		HighVolatilityPct:   2.5,
		LowVolatilityPct:    0.5,
		VolChangePct:        20,
		RSIOverbought:       70,
		RSIOversold:         30,
		Lookback:            20,
		ConsolidationRange:  5,
		ConsolidationATRPct: 1,
	}
}

// Classifier is a rule-based market regime classifier.
type Classifier struct {
	cfg     ClassifierConfig
	compute features.ComputeFunc
	rules   []Rule
	now     func() time.Time
}

type ClassifierOption func(*Classifier)

// WithComputeFunc swaps the indicator implementation.
func WithComputeFunc(fn features.ComputeFunc) ClassifierOption {
	return func(c *Classifier) { c.compute = fn }
}

// WithRules replaces the regime resolution rules.
func WithRules(rules []Rule) ClassifierOption {
	return func(c *Classifier) { c.rules = rules }
}

func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) { c.now = now }
}

func NewClassifier(cfg ClassifierConfig, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		cfg:     cfg,
		compute: features.Compute,
		rules:   DefaultRules(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Rules returns the resolution order in effect.
func (c *Classifier) Rules() []Rule { return c.rules }

func (c *Classifier) Config() ClassifierConfig { return c.cfg }

// Classify returns the empty assessment when the window is too short or the
// indicators are not finite.
func (c *Classifier) Classify(bars []models.PriceBar) models.RegimeAssessment {
	if len(bars) < c.cfg.MinBars {
		return models.RegimeAssessment{}
	}
	set := c.compute(bars)

	price := features.Last(set.Close)
	for _, v := range []float64{
		price,
		features.Last(set.ADX), features.Last(set.PlusDI), features.Last(set.MinusDI),
		features.Last(set.SMA20), features.Last(set.SMA50),
		features.Last(set.RSI), features.Last(set.MACDHist),
		features.Last(set.ATRPct),
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.RegimeAssessment{}
		}
	}

	a := models.RegimeAssessment{
		Timestamp:  c.now(),
		Price:      price,
		Trend:      c.trend(set),
		Volatility: c.volatility(set),
		Momentum:   c.momentum(set),
		Volume:     c.volume(set),
	}
	a.Patterns = c.patterns(set)
	a.Regime = Resolve(c.rules, a)
	return a
}

func (c *Classifier) trend(s features.Set) models.TrendAssessment {
	adx := features.Last(s.ADX)
	plus := features.Last(s.PlusDI)
	minus := features.Last(s.MinusDI)
	sma20 := features.Last(s.SMA20)
	sma50 := features.Last(s.SMA50)

	t := models.TrendAssessment{
		Direction:  models.DirectionDown,
		ADX:        adx,
		PlusDI:     plus,
		MinusDI:    minus,
		IsTrending: adx > c.cfg.ADXTrending,
	}
	if plus > minus {
		t.Direction = models.DirectionUp
	}
	switch {
	case adx > c.cfg.ADXStrong:
		t.Strength = models.TrendStrong
	case adx > c.cfg.ADXModerate:
		t.Strength = models.TrendModerate
	case adx > c.cfg.ADXWeak:
		t.Strength = models.TrendWeak
	default:
		t.Strength = models.TrendNone
	}
	if t.Direction == models.DirectionUp {
		t.MAAligned = sma20 > sma50
	} else {
		t.MAAligned = sma20 < sma50
	}
	return t
}

func (c *Classifier) volatility(s features.Set) models.VolatilityAssessment {
	cur := features.Last(s.ATRPct)
	mean := features.Mean(features.Tail(s.ATRPct, c.cfg.Lookback))

	v := models.VolatilityAssessment{
		Level:   models.VolatilityNormal,
		Trend:   models.TrendStable,
		ATRPct:  cur,
		BBWidth: finiteOrZero(features.Last(s.BBWidth)),
	}
	switch {
	case cur > c.cfg.HighVolatilityPct:
		v.Level = models.VolatilityHigh
	case cur < c.cfg.LowVolatilityPct:
		v.Level = models.VolatilityLow
	}
	if mean > 0 {
		change := (cur - mean) / mean * 100
		switch {
		case change > c.cfg.VolChangePct:
			v.Trend = models.TrendIncreasing
		case change < -c.cfg.VolChangePct:
			v.Trend = models.TrendDecreasing
		}
		v.RelativeVolatility = cur / mean
	} else {
		v.RelativeVolatility = 1
	}
	return v
}

func (c *Classifier) momentum(s features.Set) models.MomentumAssessment {
	rsi := features.Last(s.RSI)
	hist := features.Last(s.MACDHist)

	m := models.MomentumAssessment{
		RSI:           rsi,
		State:         models.MomentumNeutral,
		MACDTrend:     models.MACDBearish,
		MACDHistogram: hist,
		Strength:      models.MomentumWeak,
	}
	switch {
	case rsi > c.cfg.RSIOverbought:
		m.State = models.MomentumOverbought
	case rsi < c.cfg.RSIOversold:
		m.State = models.MomentumOversold
	}
	if hist > 0 {
		m.MACDTrend = models.MACDBullish
	}
	switch dev := math.Abs(rsi - 50); {
	case dev > 30:
		m.Strength = models.MomentumStrong
	case dev > 15:
		m.Strength = models.MomentumModerate
	}
	return m
}

func (c *Classifier) volume(s features.Set) models.VolumeAssessment {
	ma5 := features.Mean(features.Tail(s.Volume, 5))
	ma20 := features.Mean(features.Tail(s.Volume, c.cfg.Lookback))
	ratio := finiteOrZero(features.Last(s.VolumeRatio))

	v := models.VolumeAssessment{
		Level:         models.VolumeNormal,
		Trend:         models.TrendStable,
		Ratio:         ratio,
		IsSignificant: ratio > 1.5,
	}
	switch {
	case ma5 > ma20*1.2:
		v.Trend = models.TrendIncreasing
	case ma5 < ma20*0.8:
		v.Trend = models.TrendDecreasing
	}
	switch {
	case ratio > 2:
		v.Level = models.VolumeHigh
	case ratio < 0.5:
		v.Level = models.VolumeLow
	}
	return v
}

// patterns compares the latest close against the range of the prior window,
// excluding the latest bar.
func (c *Classifier) patterns(s features.Set) models.PatternAssessment {
	n := len(s.Close)
	lb := c.cfg.Lookback
	p := models.PatternAssessment{}
	if n < lb+1 {
		return p
	}
	high := features.Last(features.RollingMax(s.High[:n-1], lb))
	low := features.Last(features.RollingMin(s.Low[:n-1], lb))
	price := s.Close[n-1]
	p.RecentHigh, p.RecentLow = high, low

	switch {
	case price > high:
		p.Breakout, p.BreakoutDirection = true, models.DirectionUp
	case price < low:
		p.Breakout, p.BreakoutDirection = true, models.DirectionDown
	}

	atrPct := features.Last(s.ATRPct)
	if low > 0 && (high-low)/low*100 < c.cfg.ConsolidationRange && atrPct < c.cfg.ConsolidationATRPct {
		p.Consolidation = true
	}

	rsi := features.Last(s.RSI)
	hist := features.Last(s.MACDHist)
	if (rsi > c.cfg.RSIOverbought && hist < 0) || (rsi < c.cfg.RSIOversold && hist > 0) {
		p.Reversal = true
	}
	return p
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

var _ domsvc.RegimeClassifier = (*Classifier)(nil)
