package analytics

import "FuturesPilot/internal/domain/models"

// Rule maps a predicate over an assessment to a regime. Rules are evaluated in
// order and the first match wins.
type Rule struct {
	Name   string
	Match  func(a models.RegimeAssessment) bool
	Regime func(a models.RegimeAssessment) models.MarketRegime
}

func fixed(r models.MarketRegime) func(models.RegimeAssessment) models.MarketRegime {
	return func(models.RegimeAssessment) models.MarketRegime { return r }
}

// DefaultRules encodes the precedence: breakout, strong or moderate trend,
// consolidation, high volatility. Anything else is ranging.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "breakout",
			Match:  func(a models.RegimeAssessment) bool { return a.Patterns.Breakout },
			Regime: fixed(models.RegimeBreakout),
		},
		{
			Name: "trending",
			Match: func(a models.RegimeAssessment) bool {
				s := a.Trend.Strength
				return a.Trend.IsTrending && (s == models.TrendStrong || s == models.TrendModerate)
			},
			Regime: func(a models.RegimeAssessment) models.MarketRegime {
				if a.Trend.Direction == models.DirectionUp {
					return models.RegimeTrendingUp
				}
				return models.RegimeTrendingDown
			},
		},
		{
			Name: "consolidating",
			Match: func(a models.RegimeAssessment) bool {
				return a.Patterns.Consolidation || a.Volatility.Level == models.VolatilityLow
			},
			Regime: fixed(models.RegimeConsolidating),
		},
		{
			Name:   "volatile",
			Match:  func(a models.RegimeAssessment) bool { return a.Volatility.Level == models.VolatilityHigh },
			Regime: fixed(models.RegimeVolatile),
		},
	}
}

// Resolve applies the rules and falls back to ranging.
func Resolve(rules []Rule, a models.RegimeAssessment) models.MarketRegime {
	for _, r := range rules {
		if r.Match(a) {
			return r.Regime(a)
		}
	}
	return models.RegimeRanging
}
