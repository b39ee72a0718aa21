package analytics

import (
	"testing"
	"time"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/services/features"
)

// uptrendBars rises one point per bar and ends on a small pullback so the last
// close stays inside the prior range.
func uptrendBars(n int) []models.PriceBar {
	bars := make([]models.PriceBar, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n-1; i++ {
		c := 100 + float64(i)
		bars[i] = models.PriceBar{OpenTime: start.Add(time.Duration(i) * time.Hour), Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	prev := bars[n-2].Close
	bars[n-1] = models.PriceBar{OpenTime: start.Add(time.Duration(n-1) * time.Hour), Open: prev, High: prev + 0.2, Low: prev - 1.5, Close: prev - 0.5, Volume: 1000}
	return bars
}

func flatBars(n int) []models.PriceBar {
	bars := make([]models.PriceBar, n)
	for i := range bars {
		bars[i] = models.PriceBar{Open: 100, High: 100.2, Low: 99.8, Close: 100, Volume: 500}
	}
	return bars
}

func choppyBars(n int) []models.PriceBar {
	bars := make([]models.PriceBar, n)
	for i := range bars {
		c := 100.0
		if i%2 == 1 {
			c = 104
		}
		bars[i] = models.PriceBar{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 800}
	}
	return bars
}

func TestClassifyInsufficientData(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	a := c.Classify(uptrendBars(99))
	if !a.IsEmpty() {
		t.Fatalf("expected empty assessment, got %s", a.Regime)
	}
}

func TestClassifyUptrend(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	a := c.Classify(uptrendBars(150))
	if a.Regime != models.RegimeTrendingUp {
		t.Fatalf("expected TRENDING_UP, got %s (%s)", a.Regime, a.Summary())
	}
	if !a.Trend.IsTrending || a.Trend.Direction != models.DirectionUp {
		t.Fatalf("unexpected trend: %+v", a.Trend)
	}
	if a.Volatility.Level != models.VolatilityNormal {
		t.Fatalf("expected normal volatility, got %s (%.2f%%)", a.Volatility.Level, a.Volatility.ATRPct)
	}
	if a.Patterns.Breakout {
		t.Fatalf("pullback bar should not be a breakout")
	}
}

func TestClassifyBreakoutTakesPrecedence(t *testing.T) {
	bars := uptrendBars(150)
	last := bars[len(bars)-2].Close + 2
	bars[len(bars)-1] = models.PriceBar{Open: last - 1, High: last + 1, Low: last - 1, Close: last, Volume: 1000}
	a := NewClassifier(DefaultClassifierConfig()).Classify(bars)
	if a.Regime != models.RegimeBreakout {
		t.Fatalf("expected BREAKOUT, got %s", a.Regime)
	}
	if a.Patterns.BreakoutDirection != models.DirectionUp {
		t.Fatalf("expected upward breakout, got %s", a.Patterns.BreakoutDirection)
	}
}

func TestClassifyLowVolatilityConsolidates(t *testing.T) {
	a := NewClassifier(DefaultClassifierConfig()).Classify(flatBars(120))
	if a.Regime != models.RegimeConsolidating {
		t.Fatalf("expected CONSOLIDATING, got %s (%s)", a.Regime, a.Summary())
	}
	if a.Trend.Strength != models.TrendNone {
		t.Fatalf("expected no trend, got %s", a.Trend.Strength)
	}
}

func TestClassifyChoppyMarketIsVolatile(t *testing.T) {
	a := NewClassifier(DefaultClassifierConfig()).Classify(choppyBars(120))
	if a.Regime != models.RegimeVolatile {
		t.Fatalf("expected VOLATILE, got %s (%s)", a.Regime, a.Summary())
	}
}

func TestResolveOrder(t *testing.T) {
	rules := DefaultRules()
	a := models.RegimeAssessment{
		Trend:      models.TrendAssessment{IsTrending: true, Strength: models.TrendStrong, Direction: models.DirectionDown},
		Volatility: models.VolatilityAssessment{Level: models.VolatilityLow},
		Patterns:   models.PatternAssessment{Breakout: true},
	}
	if got := Resolve(rules, a); got != models.RegimeBreakout {
		t.Fatalf("breakout must win, got %s", got)
	}
	a.Patterns.Breakout = false
	if got := Resolve(rules, a); got != models.RegimeTrendingDown {
		t.Fatalf("trend must beat low volatility, got %s", got)
	}
	a.Trend.Strength = models.TrendWeak
	if got := Resolve(rules, a); got != models.RegimeConsolidating {
		t.Fatalf("weak trend with low vol should consolidate, got %s", got)
	}
	a.Volatility.Level = models.VolatilityNormal
	if got := Resolve(rules, a); got != models.RegimeRanging {
		t.Fatalf("default should be ranging, got %s", got)
	}
}

func TestClassifyUsesCustomCompute(t *testing.T) {
	called := false
	c := NewClassifier(DefaultClassifierConfig(), WithComputeFunc(func(bars []models.PriceBar) features.Set {
		called = true
		return features.Compute(bars)
	}))
	c.Classify(uptrendBars(120))
	if !called {
		t.Fatalf("custom compute func was not used")
	}
}
