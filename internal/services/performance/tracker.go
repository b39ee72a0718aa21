package performance

import (
	"math"
	"sort"
	"sync"

	"FuturesPilot/internal/domain/models"
	domsvc "FuturesPilot/internal/domain/service"
)

const (
	// NeutralScore is returned for scopes with too little history.
	NeutralScore     = 50.0
	minScoredTrades  = 5
	tradingPeriods   = 252.0
	recencyWindow    = 5
	recencyMinTrades = 3
	drawdownScale    = 1000.0
)

type scope struct {
	history []models.TradeOutcome
	metrics models.PerformanceMetrics
}

func (s *scope) add(o models.TradeOutcome) {
	s.history = append(s.history, o)
	s.metrics = Compute(s.history)
}

// Tracker accumulates trade outcomes per strategy and per (strategy, regime).
type Tracker struct {
	mu       sync.RWMutex
	global   map[models.StrategyID]*scope
	byRegime map[models.StrategyID]map[models.MarketRegime]*scope
}

func NewTracker() *Tracker {
	return &Tracker{
		global:   make(map[models.StrategyID]*scope),
		byRegime: make(map[models.StrategyID]map[models.MarketRegime]*scope),
	}
}

// RecordOutcome appends the outcome to both scopes and recomputes their metrics.
func (t *Tracker) RecordOutcome(o models.TradeOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.global[o.StrategyID]
	if !ok {
		g = &scope{}
		t.global[o.StrategyID] = g
	}
	g.add(o)

	if o.Regime == "" {
		return
	}
	regimes, ok := t.byRegime[o.StrategyID]
	if !ok {
		regimes = make(map[models.MarketRegime]*scope)
		t.byRegime[o.StrategyID] = regimes
	}
	r, ok := regimes[o.Regime]
	if !ok {
		r = &scope{}
		regimes[o.Regime] = r
	}
	r.add(o)
}

// Metrics returns the global metrics of a strategy.
func (t *Tracker) Metrics(id models.StrategyID) (models.PerformanceMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.global[id]
	if !ok {
		return models.PerformanceMetrics{}, false
	}
	return g.metrics, true
}

func (t *Tracker) RegimeMetrics(id models.StrategyID, regime models.MarketRegime) (models.PerformanceMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byRegime[id][regime]
	if !ok {
		return models.PerformanceMetrics{}, false
	}
	return r.metrics, true
}

func (t *Tracker) ConsecutiveLosses(id models.StrategyID) int {
	m, _ := t.Metrics(id)
	return m.ConsecutiveLosses
}

// Score returns a composite score in [0,100]. A regime-scoped score is used when
// the strategy has history in that regime; otherwise the global scope is used.
func (t *Tracker) Score(id models.StrategyID, regime models.MarketRegime) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scoreLocked(id, regime)
}

func (t *Tracker) scoreLocked(id models.StrategyID, regime models.MarketRegime) float64 {
	s := t.global[id]
	if r, ok := t.byRegime[id][regime]; ok && regime != "" {
		s = r
	}
	if s == nil {
		return NeutralScore
	}
	return ScoreMetrics(s.metrics, s.history)
}

// BestForRegime returns the strategy with the highest regime score among
// strategies that traded in that regime.
func (t *Tracker) BestForRegime(regime models.MarketRegime) (models.StrategyID, float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.byRegime))
	for id, regimes := range t.byRegime {
		if _, ok := regimes[regime]; ok {
			ids = append(ids, string(id))
		}
	}
	sort.Strings(ids)

	var best models.StrategyID
	bestScore := -1.0
	for _, id := range ids {
		if sc := t.scoreLocked(models.StrategyID(id), regime); sc > bestScore {
			best, bestScore = models.StrategyID(id), sc
		}
	}
	return best, bestScore, best != ""
}

// Summary lists every tracked strategy ordered by id.
func (t *Tracker) Summary() []models.StrategyPerformance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.global))
	for id := range t.global {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	out := make([]models.StrategyPerformance, 0, len(ids))
	for _, raw := range ids {
		id := models.StrategyID(raw)
		sp := models.StrategyPerformance{
			Strategy: id,
			Global:   t.global[id].metrics,
			ByRegime: make(map[models.MarketRegime]models.PerformanceMetrics),
			Score:    t.scoreLocked(id, ""),
		}
		for regime, s := range t.byRegime[id] {
			sp.ByRegime[regime] = s.metrics
		}
		out = append(out, sp)
	}
	return out
}

// Reset drops all history of a strategy.
func (t *Tracker) Reset(id models.StrategyID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.global, id)
	delete(t.byRegime, id)
}

// Compute derives metrics from a full outcome history.
func Compute(history []models.TradeOutcome) models.PerformanceMetrics {
	m := models.PerformanceMetrics{TotalTrades: len(history)}
	if len(history) == 0 {
		return m
	}

	var grossWin, grossLoss, cum, peak float64
	var lossCount int
	returns := make([]float64, 0, len(history))
	for _, o := range history {
		m.TotalPnL += o.PnL
		if o.IsWin() {
			m.Wins++
			grossWin += o.PnL
			m.ConsecutiveWins++
			m.ConsecutiveLosses = 0
		} else {
			m.Losses++
			m.ConsecutiveLosses++
			m.ConsecutiveWins = 0
			if o.PnL < 0 {
				grossLoss += -o.PnL
				lossCount++
			}
		}
		if m.ConsecutiveWins > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = m.ConsecutiveWins
		}
		if m.ConsecutiveLosses > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = m.ConsecutiveLosses
		}

		cum += o.PnL
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
		returns = append(returns, o.PnLPct)
		if o.ClosedAt.After(m.LastTradeAt) {
			m.LastTradeAt = o.ClosedAt
		}
	}

	m.WinRate = float64(m.Wins) / float64(m.TotalTrades)
	if m.Wins > 0 {
		m.AvgWin = grossWin / float64(m.Wins)
	}
	if lossCount > 0 {
		m.AvgLoss = grossLoss / float64(lossCount)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	} else {
		m.ProfitFactor = math.Inf(1)
	}
	if len(returns) > 1 {
		mean, std := meanStd(returns)
		if std > 0 {
			m.SharpeRatio = mean / std * math.Sqrt(tradingPeriods)
		}
	}
	if m.MaxDrawdown > 0 {
		m.RecoveryFactor = m.TotalPnL / m.MaxDrawdown
	}
	return m
}

// ScoreMetrics weights the metrics of a scope into [0,100].
func ScoreMetrics(m models.PerformanceMetrics, history []models.TradeOutcome) float64 {
	if m.TotalTrades < minScoredTrades {
		return NeutralScore
	}
	score := m.WinRate * 25
	score += math.Min(m.ProfitFactor/2, 1) * 20
	score += clamp(m.SharpeRatio/2, 0, 1) * 15
	score += (1 - math.Min(float64(m.MaxConsecutiveLosses)/5, 1)) * 15
	score += (1 - math.Min(m.MaxDrawdown/drawdownScale, 1)) * 15
	score += recency(history) * 10
	return clamp(score, 0, 100)
}

func recency(history []models.TradeOutcome) float64 {
	if len(history) < recencyMinTrades {
		return 0.5
	}
	recent := history
	if len(recent) > recencyWindow {
		recent = recent[len(recent)-recencyWindow:]
	}
	wins := 0
	for _, o := range recent {
		if o.IsWin() {
			wins++
		}
	}
	return float64(wins) / float64(len(recent))
}

func meanStd(values []float64) (float64, float64) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	ss := 0.0
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(len(values)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

var _ domsvc.PerformanceScorer = (*Tracker)(nil)
