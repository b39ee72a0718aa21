package selector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
	domsvc "FuturesPilot/internal/domain/service"
	"FuturesPilot/pkg/logger"
)

// Config holds the switching policy.
type Config struct {
	AutoSwitch           bool
	MinTrades            int
	MinInterval          time.Duration
	ConfidenceThreshold  float64
	ImprovementThreshold float64
	LossStreakOverride   int
	HistoryLimit         int
}

func DefaultConfig() Config {
	return Config{
		MinTrades:            5,
		MinInterval:          4 * time.Hour,
		ConfidenceThreshold:  0.7,
		ImprovementThreshold: 0.15,
		LossStreakOverride:   3,
		HistoryLimit:         1000,
	}
}

// Selector owns the active strategy and the switch guards. EvaluateAndSelect,
// ManualOverride and RecordTrade are serialized by one mutex.
type Selector struct {
	cfg         Config
	classifier  domsvc.RegimeClassifier
	recommender domsvc.Recommender
	registry    repository.StrategyRegistry
	scorer      domsvc.PerformanceScorer
	log         *logger.Logger
	now         func() time.Time

	mu           sync.Mutex
	auto         bool
	startedAt    time.Time
	lastSwitch   time.Time
	currentSince time.Time
	tradeCounts  map[models.StrategyID]int
	history      []models.SwitchEvent

	subMu      sync.RWMutex
	onSelect   []func(models.SelectionResult)
	onSwitched []func(models.SwitchEvent)
}

type Option func(*Selector)

func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

func New(
	cfg Config,
	classifier domsvc.RegimeClassifier,
	recommender domsvc.Recommender,
	registry repository.StrategyRegistry,
	scorer domsvc.PerformanceScorer,
	log *logger.Logger,
	opts ...Option,
) *Selector {
	s := &Selector{
		cfg:         cfg,
		classifier:  classifier,
		recommender: recommender,
		registry:    registry,
		scorer:      scorer,
		log:         log,
		now:         time.Now,
		auto:        cfg.AutoSwitch,
		tradeCounts: make(map[models.StrategyID]int),
	}
	for _, o := range opts {
		o(s)
	}
	s.startedAt = s.now()
	if active := registry.Active(); active != "" {
		s.currentSince = s.startedAt
	}
	return s
}

// Subscribe registers a callback for every evaluation result.
func (s *Selector) Subscribe(fn func(models.SelectionResult)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.onSelect = append(s.onSelect, fn)
}

// OnSwitch registers a callback for every executed switch, manual or automatic.
func (s *Selector) OnSwitch(fn func(models.SwitchEvent)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.onSwitched = append(s.onSwitched, fn)
}

func (s *Selector) SetAutoSwitch(enabled bool) {
	s.mu.Lock()
	s.auto = enabled
	s.mu.Unlock()
	s.log.Info("auto switching updated", logger.Bool("enabled", enabled))
}

func (s *Selector) AutoSwitch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auto
}

// Restore activates a strategy without recording a switch event.
func (s *Selector) Restore(id models.StrategyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.registry.SetActive(id); err != nil {
		return err
	}
	s.currentSince = s.now()
	return nil
}

// EvaluateAndSelect classifies the bars, asks for a recommendation and switches
// when the policy and the guards allow it.
func (s *Selector) EvaluateAndSelect(ctx context.Context, bars []models.PriceBar) models.SelectionResult {
	s.mu.Lock()
	active := s.registry.Active()
	assessment := s.classifier.Classify(bars)
	rec := s.recommender.Recommend(assessment, s.registry.Available())

	res := models.SelectionResult{
		Timestamp:      s.now(),
		Current:        active,
		Recommended:    rec.Strategy,
		Recommendation: rec,
		CanSwitch:      s.canSwitchLocked(active),
	}

	var ev *models.SwitchEvent
	switch {
	case !s.auto:
		res.Reason = "auto switching disabled"
	case active == "":
		if rec.Strategy != "" {
			res.ShouldSwitch, res.Reason = true, "initial selection"
		} else {
			res.Reason = "no strategy available"
		}
	default:
		res.ShouldSwitch, res.Reason = s.ShouldSwitch(active, rec)
	}

	if res.ShouldSwitch && res.CanSwitch {
		e, err := s.executeLocked(active, rec.Strategy, res.Reason, rec.Confidence, rec.Regime, false)
		if err != nil {
			s.log.Error("strategy switch failed", logger.Error(err),
				logger.String("from", string(active)), logger.String("to", string(rec.Strategy)))
			res.Reason = fmt.Sprintf("%s; switch failed: %v", res.Reason, err)
		} else {
			ev = &e
			res.Switched = true
			res.NewStrategy = rec.Strategy
		}
	}
	s.mu.Unlock()

	s.log.Debug("strategy evaluation",
		logger.String("regime", string(rec.Regime)),
		logger.String("current", string(active)),
		logger.String("recommended", string(rec.Strategy)),
		logger.Float64("confidence", rec.Confidence),
		logger.Bool("switched", res.Switched),
		logger.String("reason", res.Reason),
	)

	s.emitSelection(res)
	if ev != nil {
		s.emitSwitch(*ev)
	}
	return res
}

// ShouldSwitch applies the switching policy to a recommendation. The loss-streak
// and high-confidence overrides bypass the improvement threshold.
func (s *Selector) ShouldSwitch(active models.StrategyID, rec models.Recommendation) (bool, string) {
	if rec.Strategy == "" || rec.Strategy == active {
		return false, "recommended strategy is already active"
	}
	if rec.Confidence < s.cfg.ConfidenceThreshold {
		return false, fmt.Sprintf("low confidence (%.2f < %.2f)", rec.Confidence, s.cfg.ConfidenceThreshold)
	}

	improvement := rec.Scores[rec.Strategy].Total - rec.Scores[active].Total
	if improvement >= s.cfg.ImprovementThreshold {
		return true, fmt.Sprintf("score improvement %.2f", improvement)
	}
	if losses := s.scorer.ConsecutiveLosses(active); s.cfg.LossStreakOverride > 0 && losses >= s.cfg.LossStreakOverride {
		return true, fmt.Sprintf("consecutive losses on %s (%d)", active, losses)
	}
	if rec.ConfidenceLevel == models.ConfidenceHigh {
		return true, "high confidence in new market conditions"
	}
	return false, fmt.Sprintf("insufficient improvement (%.2f < %.2f)", improvement, s.cfg.ImprovementThreshold)
}

// CanSwitchNow evaluates the hysteresis and open-position guards.
func (s *Selector) CanSwitchNow(active models.StrategyID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canSwitchLocked(active)
}

func (s *Selector) canSwitchLocked(active models.StrategyID) bool {
	if active == "" {
		return true
	}
	if !s.lastSwitch.IsZero() && s.now().Sub(s.lastSwitch) < s.cfg.MinInterval {
		return false
	}
	if s.tradeCounts[active] < s.cfg.MinTrades {
		return false
	}
	return !s.registry.HasOpenPosition(active)
}

// ManualOverride switches immediately, bypassing every guard. It reports false
// when the strategy is already active.
func (s *Selector) ManualOverride(ctx context.Context, id models.StrategyID, reason string) (models.SwitchEvent, bool, error) {
	s.mu.Lock()
	if !s.registry.Has(id) {
		s.mu.Unlock()
		return models.SwitchEvent{}, false, fmt.Errorf("unknown strategy %q", id)
	}
	active := s.registry.Active()
	if active == id {
		s.mu.Unlock()
		return models.SwitchEvent{}, false, nil
	}
	ev, err := s.executeLocked(active, id, reason, 1.0, models.RegimeManual, true)
	s.mu.Unlock()
	if err != nil {
		return models.SwitchEvent{}, false, err
	}
	s.emitSwitch(ev)
	return ev, true, nil
}

// RecordTrade counts a completed trade toward the min-trades guard.
func (s *Selector) RecordTrade(id models.StrategyID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeCounts[id]++
}

// SwitchHistory returns up to limit events, newest last.
func (s *Selector) SwitchHistory(limit int) []models.SwitchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if limit > 0 && len(s.history) > limit {
		start = len(s.history) - limit
	}
	out := make([]models.SwitchEvent, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

func (s *Selector) Stats() models.SelectorStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := models.SelectorStats{
		Active:        s.registry.Active(),
		AutoSwitch:    s.auto,
		TotalSwitches: len(s.history),
		StrategyUsage: make(map[models.StrategyID]int),
		TradeCounts:   make(map[models.StrategyID]int, len(s.tradeCounts)),
	}
	if hours := now.Sub(s.startedAt).Hours(); hours > 0 {
		st.SwitchesPerHour = float64(len(s.history)) / hours
	}
	if st.Active != "" && !s.currentSince.IsZero() {
		st.TimeOnCurrent = now.Sub(s.currentSince)
	}
	for _, ev := range s.history {
		st.StrategyUsage[ev.To]++
	}
	for id, n := range s.tradeCounts {
		st.TradeCounts[id] = n
	}
	if n := len(s.history); n > 0 {
		last := s.history[n-1]
		st.LastSwitch = &last
	}
	return st
}

func (s *Selector) executeLocked(
	from, to models.StrategyID,
	reason string,
	confidence float64,
	regime models.MarketRegime,
	manual bool,
) (models.SwitchEvent, error) {
	if err := s.registry.SetActive(to); err != nil {
		return models.SwitchEvent{}, fmt.Errorf("activate %s: %w", to, err)
	}
	now := s.now()
	ev := models.SwitchEvent{
		ID:         uuid.NewString(),
		Timestamp:  now,
		From:       from,
		To:         to,
		Reason:     reason,
		Confidence: confidence,
		Regime:     regime,
		Manual:     manual,
	}
	s.history = append(s.history, ev)
	if limit := s.cfg.HistoryLimit; limit > 0 && len(s.history) > limit {
		s.history = append(s.history[:0:0], s.history[len(s.history)-limit:]...)
	}
	s.lastSwitch = now
	s.currentSince = now
	s.tradeCounts[to] = 0

	s.log.Info("strategy switched",
		logger.String("from", string(from)),
		logger.String("to", string(to)),
		logger.String("reason", reason),
		logger.Float64("confidence", confidence),
		logger.Bool("manual", manual),
	)
	return ev, nil
}

func (s *Selector) emitSelection(res models.SelectionResult) {
	s.subMu.RLock()
	subs := append([]func(models.SelectionResult){}, s.onSelect...)
	s.subMu.RUnlock()
	for _, fn := range subs {
		s.safeCall("selection", func() { fn(res) })
	}
}

func (s *Selector) emitSwitch(ev models.SwitchEvent) {
	s.subMu.RLock()
	subs := append([]func(models.SwitchEvent){}, s.onSwitched...)
	s.subMu.RUnlock()
	for _, fn := range subs {
		s.safeCall("switch", func() { fn(ev) })
	}
}

func (s *Selector) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("subscriber panicked", logger.String("kind", kind), logger.Any("panic", r))
		}
	}()
	fn()
}
