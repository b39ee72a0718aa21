package recommend

import (
	"math"
	"testing"
	"time"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/services/analytics"
	"FuturesPilot/internal/services/performance"
)

type fixedScorer map[models.StrategyID]float64

func (f fixedScorer) Score(id models.StrategyID, _ models.MarketRegime) float64 {
	if v, ok := f[id]; ok {
		return v
	}
	return 50
}

func (f fixedScorer) ConsecutiveLosses(models.StrategyID) int { return 0 }

var allThree = []models.StrategyID{models.StrategyBreakout, models.StrategyScalping, models.StrategyTrend}

func trendingUp() models.RegimeAssessment {
	return models.RegimeAssessment{
		Regime: models.RegimeTrendingUp,
		Trend: models.TrendAssessment{
			Direction: models.DirectionUp, Strength: models.TrendStrong, ADX: 60,
			IsTrending: true, MAAligned: true,
		},
		Volatility: models.VolatilityAssessment{Level: models.VolatilityNormal, Trend: models.TrendStable, ATRPct: 1},
		Momentum:   models.MomentumAssessment{RSI: 65, MACDTrend: models.MACDBullish},
	}
}

func TestRecommendTrendingMarket(t *testing.T) {
	r := NewRecommender(fixedScorer{})
	rec := r.Recommend(trendingUp(), allThree)
	if rec.Strategy != models.StrategyTrend {
		t.Fatalf("expected trend, got %s", rec.Strategy)
	}
	// suitability .95, perf .5, alignment 1, risk .7
	want := 0.4*0.95 + 0.3*0.5 + 0.2*1 + 0.1*0.7
	if got := rec.Scores[models.StrategyTrend].Total; math.Abs(got-want) > 1e-9 {
		t.Fatalf("trend total: got %v want %v", got, want)
	}
	if rec.ConfidenceLevel != models.ConfidenceHigh {
		t.Fatalf("expected HIGH confidence, got %s (%.3f)", rec.ConfidenceLevel, rec.Confidence)
	}
	if len(rec.Alternatives) != 2 || rec.Alternatives[0].Strategy != models.StrategyBreakout {
		t.Fatalf("unexpected alternatives: %+v", rec.Alternatives)
	}
	if rec.Alternatives[0].Gap <= 0 {
		t.Fatalf("gap should be positive: %+v", rec.Alternatives[0])
	}
	if rec.Reasoning[0] != "Market is currently trending up" {
		t.Fatalf("unexpected reasoning: %v", rec.Reasoning)
	}
}

func TestRecommendDefaultOnEmptyAssessment(t *testing.T) {
	r := NewRecommender(fixedScorer{})
	rec := r.Recommend(models.RegimeAssessment{}, allThree)
	if rec.Strategy != models.StrategyBreakout || rec.Confidence != 0.5 || rec.ConfidenceLevel != models.ConfidenceLow {
		t.Fatalf("unexpected default: %+v", rec)
	}
	if rec.Regime != models.RegimeUnknown {
		t.Fatalf("expected UNKNOWN regime, got %s", rec.Regime)
	}
}

func TestConfidenceAdjustments(t *testing.T) {
	if got := confidenceFor(0.7, []float64{0.7}, models.TrendWeak); got != 0.7 {
		t.Fatalf("single candidate must not get dispersion adjustment, got %v", got)
	}
	if got := confidenceFor(0.7, []float64{0.7, 0.69, 0.68}, models.TrendNone); math.Abs(got-0.55) > 1e-9 {
		t.Fatalf("close call with no trend: got %v", got)
	}
	if got := confidenceFor(0.98, []float64{0.98, 0.2}, models.TrendStrong); got != 1 {
		t.Fatalf("confidence must clamp to 1, got %v", got)
	}
}

func TestLevelFor(t *testing.T) {
	cases := map[float64]models.ConfidenceLevel{
		0.8: models.ConfidenceHigh, 0.79: models.ConfidenceMedium,
		0.6: models.ConfidenceMedium, 0.59: models.ConfidenceLow,
	}
	for in, want := range cases {
		if got := LevelFor(in); got != want {
			t.Fatalf("LevelFor(%v) = %s, want %s", in, got, want)
		}
	}
}

func TestUnknownStrategyUsesNeutralSuitability(t *testing.T) {
	r := NewRecommender(fixedScorer{})
	rec := r.Recommend(trendingUp(), []models.StrategyID{models.StrategyGridTrading})
	if s := rec.Scores[models.StrategyGridTrading]; s.Suitability != DefaultSuitability || s.Alignment != 0.5 || s.Risk != 0.7 {
		t.Fatalf("unexpected neutral score: %+v", s)
	}
}

func TestHistoryBounded(t *testing.T) {
	r := NewRecommender(fixedScorer{}, WithHistoryLimit(3))
	for i := 0; i < 5; i++ {
		r.Recommend(trendingUp(), allThree)
	}
	if got := len(r.History(0)); got != 3 {
		t.Fatalf("history should be capped at 3, got %d", got)
	}
	if got := len(r.History(2)); got != 2 {
		t.Fatalf("limit not applied, got %d", got)
	}
	if _, ok := r.Latest(); !ok {
		t.Fatalf("latest should exist")
	}
}

func TestEndToEndUptrend(t *testing.T) {
	bars := make([]models.PriceBar, 150)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 149; i++ {
		c := 100 + float64(i)
		bars[i] = models.PriceBar{OpenTime: start.Add(time.Duration(i) * time.Hour), Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	prev := bars[148].Close
	bars[149] = models.PriceBar{OpenTime: start.Add(149 * time.Hour), Open: prev, High: prev + 0.2, Low: prev - 1.5, Close: prev - 0.5, Volume: 1000}

	a := analytics.NewClassifier(analytics.DefaultClassifierConfig()).Classify(bars)
	if a.Regime != models.RegimeTrendingUp || !a.Trend.IsTrending {
		t.Fatalf("expected trending up, got %s (%s)", a.Regime, a.Summary())
	}
	rec := NewRecommender(performance.NewTracker()).Recommend(a, allThree)
	if rec.Strategy != models.StrategyTrend {
		t.Fatalf("expected trend strategy, got %s", rec.Strategy)
	}
	if rec.Confidence < 0.6 {
		t.Fatalf("expected confidence >= 0.6, got %v", rec.Confidence)
	}
}
