package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FuturesPilot/internal/domain/models"
	domrepo "FuturesPilot/internal/domain/repository"
	"FuturesPilot/pkg/cache"
	"FuturesPilot/pkg/logger"
)

// KlineSource fetches the bars the selector classifies.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol string, tf domrepo.Timeframe, limit int) ([]models.PriceBar, error)
}

// SelectionEngine is the strategy selector as seen by the runner.
type SelectionEngine interface {
	EvaluateAndSelect(ctx context.Context, bars []models.PriceBar) models.SelectionResult
	Subscribe(fn func(models.SelectionResult))
	OnSwitch(fn func(models.SwitchEvent))
	Restore(id models.StrategyID) error
}

// Alerter raises deduplicated operator alerts.
type Alerter interface {
	SendAlert(ctx context.Context, id, message string, severity models.AlertSeverity) bool
}

// RoundLock keeps replicas sharing one Redis from evaluating the same round.
// Satisfied by cache.Service.
type RoundLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type RunnerConfig struct {
	Symbol    string
	Timeframe domrepo.Timeframe
	Bars      int
	Interval  time.Duration
	// SideEffectTimeout bounds publishing and persisting one decision.
	SideEffectTimeout time.Duration
}

var ErrRunnerRunning = errors.New("selection runner already running")

type RunnerOption func(*SelectionRunner)

// WithRoundLock makes scheduled rounds claim a shared lock first. On-demand
// RunOnce calls never take it.
func WithRoundLock(l RoundLock) RunnerOption {
	return func(r *SelectionRunner) { r.lock = l }
}

// SelectionRunner drives the selector on a fixed cadence and fans its
// decisions out to metrics, the event bus, the state store and alerts.
type SelectionRunner struct {
	cfg       RunnerConfig
	market    KlineSource
	engine    SelectionEngine
	registry  domrepo.StrategyRegistry
	publisher domrepo.EventPublisher
	state     domrepo.StateStore
	alerter   Alerter
	metrics   domrepo.Metrics
	log       *logger.Logger
	lock      RoundLock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   time.Time
}

func NewSelectionRunner(
	cfg RunnerConfig,
	market KlineSource,
	engine SelectionEngine,
	registry domrepo.StrategyRegistry,
	publisher domrepo.EventPublisher,
	state domrepo.StateStore,
	alerter Alerter,
	metrics domrepo.Metrics,
	log *logger.Logger,
	opts ...RunnerOption,
) *SelectionRunner {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Bars <= 0 {
		cfg.Bars = 200
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = domrepo.DefaultTimeframe()
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 10 * time.Second
	}
	r := &SelectionRunner{
		cfg:       cfg,
		market:    market,
		engine:    engine,
		registry:  registry,
		publisher: publisher,
		state:     state,
		alerter:   alerter,
		metrics:   metrics,
		log:       log,
	}
	for _, o := range opts {
		o(r)
	}
	engine.Subscribe(r.onSelection)
	engine.OnSwitch(r.onSwitch)
	return r
}

// Start restores the persisted strategy and launches the evaluation loop.
func (r *SelectionRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrRunnerRunning
	}

	r.restore(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, r.done)

	r.log.Info("selection runner started",
		logger.String("symbol", r.cfg.Symbol),
		logger.String("timeframe", string(r.cfg.Timeframe)),
		logger.Duration("interval", r.cfg.Interval))
	return nil
}

// Stop cancels the loop and waits for the in-flight evaluation.
func (r *SelectionRunner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Info("selection runner stopped")
}

// RunOnce fetches bars and runs one evaluate-and-select round.
func (r *SelectionRunner) RunOnce(ctx context.Context) (models.SelectionResult, error) {
	start := time.Now()
	bars, err := r.market.GetKlines(ctx, r.cfg.Symbol, r.cfg.Timeframe, r.cfg.Bars)
	if err != nil {
		r.metrics.RecordError("selection_klines")
		return models.SelectionResult{}, fmt.Errorf("fetch klines %s %s: %w", r.cfg.Symbol, r.cfg.Timeframe, err)
	}
	res := r.engine.EvaluateAndSelect(ctx, bars)
	r.metrics.RecordLatency("selection_round", time.Since(start).Seconds())

	r.mu.Lock()
	r.last = res.Timestamp
	r.mu.Unlock()
	return res, nil
}

// LastRun returns the time of the last completed round.
func (r *SelectionRunner) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *SelectionRunner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.scheduledRound(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *SelectionRunner) scheduledRound(ctx context.Context) {
	if r.lock != nil {
		key := cache.Key("lock", "selection", r.cfg.Symbol, string(r.cfg.Timeframe))
		// held for most of the interval and left to expire
		ok, err := r.lock.TryLock(ctx, key, r.cfg.Interval*9/10)
		if err != nil {
			r.metrics.RecordError("selection_lock")
			r.log.Warn("round lock unavailable, evaluating anyway", logger.Error(err))
		} else if !ok {
			r.log.Debug("round claimed by another instance")
			return
		}
	}
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.log.Error("strategy evaluation failed", logger.Error(err))
	}
}

func (r *SelectionRunner) restore(ctx context.Context) {
	if r.registry.Active() != "" {
		return
	}
	id, err := r.state.ActiveStrategy(ctx)
	if err != nil || id == "" {
		return
	}
	if !r.registry.Has(id) {
		r.log.Warn("persisted strategy no longer registered", logger.String("strategy", string(id)))
		return
	}
	if err := r.engine.Restore(id); err != nil {
		r.log.Error("restore active strategy failed", logger.String("strategy", string(id)), logger.Error(err))
		return
	}
	r.log.Info("active strategy restored", logger.String("strategy", string(id)))
}

func (r *SelectionRunner) onSelection(res models.SelectionResult) {
	rec := res.Recommendation
	r.metrics.RecordRecommendation(rec)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SideEffectTimeout)
	defer cancel()

	if err := r.publisher.PublishRecommendation(ctx, rec); err != nil {
		r.metrics.RecordError("publish_recommendation")
		r.log.Warn("publish recommendation failed", logger.Error(err))
	}
	if err := r.state.SaveRecommendation(ctx, rec); err != nil {
		r.metrics.RecordError("state_recommendation")
		r.log.Warn("persist recommendation failed", logger.Error(err))
	}
}

func (r *SelectionRunner) onSwitch(ev models.SwitchEvent) {
	r.metrics.RecordSwitch(ev.From, ev.To, ev.Manual)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SideEffectTimeout)
	defer cancel()

	if err := r.publisher.PublishSwitch(ctx, ev); err != nil {
		r.metrics.RecordError("publish_switch")
		r.log.Warn("publish switch failed", logger.Error(err))
	}
	if err := r.state.SaveActiveStrategy(ctx, ev.To); err != nil {
		r.metrics.RecordError("state_active_strategy")
		r.log.Warn("persist active strategy failed", logger.Error(err))
	}

	from := string(ev.From)
	if from == "" {
		from = "none"
	}
	kind := "automatic"
	if ev.Manual {
		kind = "manual"
	}
	r.alerter.SendAlert(ctx, "strategy_switch_"+ev.ID,
		fmt.Sprintf("Strategy switch (%s): %s -> %s. %s", kind, from, ev.To, ev.Reason),
		models.SeverityInfo)
}
