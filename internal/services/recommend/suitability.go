package recommend

import "FuturesPilot/internal/domain/models"

// DefaultSuitability is used for pairs missing from the table.
const DefaultSuitability = 0.5

// SuitabilityTable holds domain priors for strategy x regime affinity.
type SuitabilityTable map[models.StrategyID]map[models.MarketRegime]float64

// Lookup returns the prior for the pair, or DefaultSuitability.
func (t SuitabilityTable) Lookup(id models.StrategyID, regime models.MarketRegime) float64 {
	if row, ok := t[id]; ok {
		if v, ok := row[regime]; ok {
			return v
		}
	}
	return DefaultSuitability
}

// DefaultSuitabilityTable covers the directional strategies. Futures specific
// strategies fall back to the neutral prior.
func DefaultSuitabilityTable() SuitabilityTable {
	return SuitabilityTable{
		models.StrategyBreakout: {
			models.RegimeBreakout:      0.9,
			models.RegimeTrendingUp:    0.8,
			models.RegimeTrendingDown:  0.7,
			models.RegimeVolatile:      0.6,
			models.RegimeRanging:       0.3,
			models.RegimeConsolidating: 0.4,
		},
		models.StrategyScalping: {
			models.RegimeBreakout:      0.3,
			models.RegimeTrendingUp:    0.4,
			models.RegimeTrendingDown:  0.4,
			models.RegimeVolatile:      0.8,
			models.RegimeRanging:       0.9,
			models.RegimeConsolidating: 0.7,
		},
		models.StrategyTrend: {
			models.RegimeBreakout:      0.7,
			models.RegimeTrendingUp:    0.95,
			models.RegimeTrendingDown:  0.9,
			models.RegimeVolatile:      0.5,
			models.RegimeRanging:       0.2,
			models.RegimeConsolidating: 0.2,
		},
	}
}

// alignment boosts a strategy when the assessment details favour it.
func alignment(id models.StrategyID, a models.RegimeAssessment) float64 {
	score := 0.5
	switch id {
	case models.StrategyBreakout:
		if a.Trend.Strength == models.TrendStrong || a.Trend.Strength == models.TrendModerate {
			score += 0.2
		}
		if a.Volatility.Trend == models.TrendIncreasing {
			score += 0.2
		}
		if abs(a.Momentum.RSI-50) > 20 {
			score += 0.1
		}
	case models.StrategyScalping:
		if !a.Trend.IsTrending {
			score += 0.3
		}
		if a.Volatility.Level == models.VolatilityNormal {
			score += 0.2
		}
		if a.Momentum.RSI > 40 && a.Momentum.RSI < 60 {
			score += 0.1
		}
	case models.StrategyTrend:
		if a.Trend.IsTrending && a.Trend.MAAligned {
			score += 0.3
		}
		if a.Trend.Strength == models.TrendStrong {
			score += 0.2
		}
		if a.Momentum.MACDTrend == models.MACDBullish && a.Trend.Direction == models.DirectionUp {
			score += 0.1
		}
	}
	if score > 1 {
		return 1
	}
	return score
}

// riskScore penalizes combinations known to be dangerous.
func riskScore(id models.StrategyID, a models.RegimeAssessment) float64 {
	switch a.Volatility.Level {
	case models.VolatilityHigh:
		switch id {
		case models.StrategyScalping:
			return 0.5
		case models.StrategyTrend:
			return 0.8
		}
	case models.VolatilityLow:
		if id == models.StrategyBreakout {
			return 0.6
		}
	}
	return 0.7
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
