package performance

import (
	"math"
	"testing"
	"time"

	"FuturesPilot/internal/domain/models"
)

func outcome(id models.StrategyID, pnl float64, regime models.MarketRegime) models.TradeOutcome {
	return models.TradeOutcome{StrategyID: id, PnL: pnl, PnLPct: pnl / 10, Regime: regime, ClosedAt: time.Now()}
}

func TestScoreNeutralWithFewTrades(t *testing.T) {
	tr := NewTracker()
	if s := tr.Score(models.StrategyTrend, ""); s != NeutralScore {
		t.Fatalf("unknown strategy should score 50, got %v", s)
	}
	for i := 0; i < 4; i++ {
		tr.RecordOutcome(outcome(models.StrategyTrend, 10, models.RegimeTrendingUp))
	}
	if s := tr.Score(models.StrategyTrend, ""); s != NeutralScore {
		t.Fatalf("4 trades should score 50, got %v", s)
	}
	if s := tr.Score(models.StrategyTrend, models.RegimeTrendingUp); s != NeutralScore {
		t.Fatalf("4 regime trades should score 50, got %v", s)
	}
}

func TestStreaksResetOnLoss(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 3; i++ {
		tr.RecordOutcome(outcome(models.StrategyScalping, 5, models.RegimeRanging))
	}
	m, _ := tr.Metrics(models.StrategyScalping)
	if m.ConsecutiveWins != 3 || m.MaxConsecutiveWins != 3 {
		t.Fatalf("unexpected win streak: %+v", m)
	}
	tr.RecordOutcome(outcome(models.StrategyScalping, -2, models.RegimeRanging))
	m, _ = tr.Metrics(models.StrategyScalping)
	if m.ConsecutiveWins != 0 || m.ConsecutiveLosses != 1 {
		t.Fatalf("loss should reset wins: %+v", m)
	}
	if m.MaxConsecutiveWins != 3 {
		t.Fatalf("max streak must be kept, got %d", m.MaxConsecutiveWins)
	}
	if tr.ConsecutiveLosses(models.StrategyScalping) != 1 {
		t.Fatalf("consecutive losses accessor mismatch")
	}
}

func TestComputeDerivedMetrics(t *testing.T) {
	hist := []models.TradeOutcome{
		{PnL: 100, PnLPct: 1},
		{PnL: -50, PnLPct: -0.5},
		{PnL: -30, PnLPct: -0.3},
		{PnL: 80, PnLPct: 0.8},
	}
	m := Compute(hist)
	if m.WinRate != 0.5 {
		t.Fatalf("win rate: %v", m.WinRate)
	}
	if math.Abs(m.ProfitFactor-180.0/80.0) > 1e-9 {
		t.Fatalf("profit factor: %v", m.ProfitFactor)
	}
	if m.MaxDrawdown != 80 {
		t.Fatalf("max drawdown: %v", m.MaxDrawdown)
	}
	if m.AvgWin != 90 || m.AvgLoss != 40 {
		t.Fatalf("averages: %v %v", m.AvgWin, m.AvgLoss)
	}
	if math.Abs(m.RecoveryFactor-100.0/80.0) > 1e-9 {
		t.Fatalf("recovery factor: %v", m.RecoveryFactor)
	}
	if m.SharpeRatio <= 0 {
		t.Fatalf("sharpe should be positive, got %v", m.SharpeRatio)
	}
}

func TestProfitFactorInfiniteWithoutLosses(t *testing.T) {
	m := Compute([]models.TradeOutcome{{PnL: 1}, {PnL: 2}})
	if !math.IsInf(m.ProfitFactor, 1) {
		t.Fatalf("expected +Inf, got %v", m.ProfitFactor)
	}
}

func TestScoreBounded(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 20; i++ {
		tr.RecordOutcome(outcome(models.StrategyTrend, 50, models.RegimeTrendingUp))
		tr.RecordOutcome(outcome(models.StrategyBreakout, -500, models.RegimeVolatile))
	}
	good := tr.Score(models.StrategyTrend, "")
	bad := tr.Score(models.StrategyBreakout, "")
	if good < 0 || good > 100 || bad < 0 || bad > 100 {
		t.Fatalf("scores out of range: %v %v", good, bad)
	}
	if good <= bad {
		t.Fatalf("winning strategy should outscore losing one: %v <= %v", good, bad)
	}
	// all winners, zero variance: 25 + 20 + 0 + 15 + 15 + 10
	if good != 85 {
		t.Fatalf("expected 85, got %v", good)
	}
}

func TestRegimeScopeFallsBackToGlobal(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 6; i++ {
		tr.RecordOutcome(outcome(models.StrategyTrend, 10, models.RegimeTrendingUp))
	}
	if got, want := tr.Score(models.StrategyTrend, models.RegimeRanging), tr.Score(models.StrategyTrend, ""); got != want {
		t.Fatalf("missing regime scope should use global: %v != %v", got, want)
	}
	best, _, ok := tr.BestForRegime(models.RegimeTrendingUp)
	if !ok || best != models.StrategyTrend {
		t.Fatalf("best for regime: %v %v", best, ok)
	}
}

func TestResetAndSummary(t *testing.T) {
	tr := NewTracker()
	tr.RecordOutcome(outcome(models.StrategyTrend, 1, models.RegimeRanging))
	tr.RecordOutcome(outcome(models.StrategyScalping, 1, models.RegimeRanging))
	if got := len(tr.Summary()); got != 2 {
		t.Fatalf("summary size: %d", got)
	}
	tr.Reset(models.StrategyTrend)
	if _, ok := tr.Metrics(models.StrategyTrend); ok {
		t.Fatalf("reset should drop metrics")
	}
	if _, ok := tr.RegimeMetrics(models.StrategyTrend, models.RegimeRanging); ok {
		t.Fatalf("reset should drop regime metrics")
	}
}
