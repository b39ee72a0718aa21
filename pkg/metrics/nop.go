package metrics

import "FuturesPilot/internal/domain/models"

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordPosition(models.Position)                          {}
func (Nop) ResetPositions()                                         {}
func (Nop) RecordRisk(models.RiskMetrics)                           {}
func (Nop) RecordFundingRate(string, float64)                       {}
func (Nop) RecordPerformance(models.PerformanceSnapshot)            {}
func (Nop) RecordAlert(string, models.AlertSeverity)                {}
func (Nop) RecordSwitch(models.StrategyID, models.StrategyID, bool) {}
func (Nop) RecordRecommendation(models.Recommendation)              {}
func (Nop) RecordOutcome(models.TradeOutcome)                       {}
func (Nop) RecordError(string)                                      {}
func (Nop) RecordLatency(string, float64)                           {}
