package service

import "FuturesPilot/internal/domain/models"

// RegimeClassifier turns a window of bars into a regime assessment.
// Too little data yields the empty assessment, never an error.
type RegimeClassifier interface {
	Classify(bars []models.PriceBar) models.RegimeAssessment
}

// PerformanceScorer exposes historical strategy scores in [0,100].
type PerformanceScorer interface {
	Score(id models.StrategyID, regime models.MarketRegime) float64
	ConsecutiveLosses(id models.StrategyID) int
}

// Recommender ranks candidate strategies for an assessment.
type Recommender interface {
	Recommend(a models.RegimeAssessment, candidates []models.StrategyID) models.Recommendation
}
