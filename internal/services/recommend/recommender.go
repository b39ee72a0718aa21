package recommend

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"FuturesPilot/internal/domain/models"
	domsvc "FuturesPilot/internal/domain/service"
)

// Weights of the composite strategy score.
const (
	WeightSuitability = 0.4
	WeightPerformance = 0.3
	WeightAlignment   = 0.2
	WeightRisk        = 0.1
)

const defaultHistoryLimit = 100

// Recommender ranks strategies for the current market assessment.
type Recommender struct {
	scorer       domsvc.PerformanceScorer
	table        SuitabilityTable
	historyLimit int
	now          func() time.Time

	mu      sync.RWMutex
	history []models.Recommendation
}

type Option func(*Recommender)

func WithSuitabilityTable(t SuitabilityTable) Option {
	return func(r *Recommender) { r.table = t }
}

func WithHistoryLimit(n int) Option {
	return func(r *Recommender) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recommender) { r.now = now }
}

func NewRecommender(scorer domsvc.PerformanceScorer, opts ...Option) *Recommender {
	r := &Recommender{
		scorer:       scorer,
		table:        DefaultSuitabilityTable(),
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Recommend scores every candidate and picks the best one. It falls back to a
// default recommendation when the assessment is empty.
func (r *Recommender) Recommend(a models.RegimeAssessment, candidates []models.StrategyID) models.Recommendation {
	if a.IsEmpty() || len(candidates) == 0 {
		rec := r.defaultRecommendation(candidates)
		r.remember(rec)
		return rec
	}

	scores := make(map[models.StrategyID]models.StrategyScore, len(candidates))
	totals := make([]float64, 0, len(candidates))
	best := candidates[0]
	for _, id := range candidates {
		s := models.StrategyScore{
			Suitability: r.table.Lookup(id, a.Regime),
			Performance: r.scorer.Score(id, a.Regime) / 100,
			Alignment:   alignment(id, a),
			Risk:        riskScore(id, a),
		}
		s.Total = WeightSuitability*s.Suitability +
			WeightPerformance*s.Performance +
			WeightAlignment*s.Alignment +
			WeightRisk*s.Risk
		scores[id] = s
		totals = append(totals, s.Total)
		if s.Total > scores[best].Total {
			best = id
		}
	}

	confidence := confidenceFor(scores[best].Total, totals, a.Trend.Strength)
	rec := models.Recommendation{
		ID:              uuid.NewString(),
		Timestamp:       r.now(),
		Regime:          a.Regime,
		Scores:          scores,
		Strategy:        best,
		Confidence:      confidence,
		ConfidenceLevel: LevelFor(confidence),
		Reasoning:       reasoning(best, scores[best], a),
		Alternatives:    alternatives(best, candidates, scores),
		MarketSummary: models.MarketSummary{
			Trend:      fmt.Sprintf("%s %s", a.Trend.Strength, a.Trend.Direction),
			Volatility: fmt.Sprintf("%s (%s)", a.Volatility.Level, a.Volatility.Trend),
			Momentum:   fmt.Sprintf("%s (RSI %.1f)", a.Momentum.State, a.Momentum.RSI),
		},
	}
	r.remember(rec)
	return rec
}

// History returns up to limit recommendations, newest last.
func (r *Recommender) History(limit int) []models.Recommendation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := 0
	if limit > 0 && len(r.history) > limit {
		start = len(r.history) - limit
	}
	out := make([]models.Recommendation, len(r.history)-start)
	copy(out, r.history[start:])
	return out
}

// Latest returns the most recent recommendation.
func (r *Recommender) Latest() (models.Recommendation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.history) == 0 {
		return models.Recommendation{}, false
	}
	return r.history[len(r.history)-1], true
}

func (r *Recommender) remember(rec models.Recommendation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, rec)
	if over := len(r.history) - r.historyLimit; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
}

func (r *Recommender) defaultRecommendation(candidates []models.StrategyID) models.Recommendation {
	var id models.StrategyID
	if len(candidates) > 0 {
		id = candidates[0]
	}
	return models.Recommendation{
		ID:              uuid.NewString(),
		Timestamp:       r.now(),
		Regime:          models.RegimeUnknown,
		Scores:          map[models.StrategyID]models.StrategyScore{},
		Strategy:        id,
		Confidence:      0.5,
		ConfidenceLevel: models.ConfidenceLow,
		Reasoning:       []string{"Unable to analyze market conditions", "Using default strategy selection"},
	}
}

// LevelFor maps a confidence value to its level.
func LevelFor(confidence float64) models.ConfidenceLevel {
	switch {
	case confidence >= 0.8:
		return models.ConfidenceHigh
	case confidence >= 0.6:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func confidenceFor(best float64, totals []float64, strength models.TrendStrength) float64 {
	c := best
	if len(totals) > 1 {
		switch std := stdDev(totals); {
		case std > 0.1:
			c += 0.1
		case std < 0.05:
			c -= 0.1
		}
	}
	switch strength {
	case models.TrendStrong:
		c += 0.05
	case models.TrendNone:
		c -= 0.05
	}
	return math.Max(0, math.Min(1, c))
}

func reasoning(id models.StrategyID, s models.StrategyScore, a models.RegimeAssessment) []string {
	out := []string{fmt.Sprintf("Market is currently %s", regimeText(a.Regime))}

	name := strategyName(id)
	switch {
	case s.Suitability > 0.8:
		out = append(out, fmt.Sprintf("%s strategy is highly suitable for this market", name))
	case s.Suitability > 0.6:
		out = append(out, fmt.Sprintf("%s strategy is moderately suitable for this market", name))
	}

	switch {
	case s.Performance > 0.7:
		out = append(out, "Strong historical performance in similar conditions")
	case s.Performance < 0.3:
		out = append(out, "Limited historical performance data available")
	}

	if a.Volatility.Level == models.VolatilityHigh {
		out = append(out, "High volatility presents both opportunity and risk")
	}
	if a.Trend.IsTrending {
		out = append(out, fmt.Sprintf("Clear %s trend detected", strings.ToLower(string(a.Trend.Direction))))
	}
	return out
}

func alternatives(best models.StrategyID, candidates []models.StrategyID, scores map[models.StrategyID]models.StrategyScore) []models.Alternative {
	rest := make([]models.StrategyID, 0, len(candidates))
	for _, id := range candidates {
		if id != best {
			rest = append(rest, id)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return scores[rest[i]].Total > scores[rest[j]].Total })
	if len(rest) > 2 {
		rest = rest[:2]
	}
	out := make([]models.Alternative, 0, len(rest))
	for _, id := range rest {
		out = append(out, models.Alternative{
			Strategy: id,
			Score:    scores[id].Total,
			Gap:      scores[best].Total - scores[id].Total,
		})
	}
	return out
}

func regimeText(r models.MarketRegime) string {
	return strings.ToLower(strings.ReplaceAll(string(r), "_", " "))
}

func strategyName(id models.StrategyID) string {
	s := strings.ReplaceAll(string(id), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func stdDev(values []float64) float64 {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	ss := 0.0
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)))
}

var _ domsvc.Recommender = (*Recommender)(nil)
