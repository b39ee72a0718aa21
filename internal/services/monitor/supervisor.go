package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
	"FuturesPilot/pkg/logger"
)

// PositionSource is the read and sync surface of the position risk store.
type PositionSource interface {
	Sync(ctx context.Context) error
	Positions() []models.Position
	Summary() models.PositionSummary
	RiskMetrics(ctx context.Context) models.RiskMetrics
	LiquidationRisk() []models.LiquidationRisk
	FundingRate(ctx context.Context, symbol string) (models.FundingRate, error)
}

// Config holds loop cadences and alert thresholds. Percent values are in
// percent units, ratios are fractions.
type Config struct {
	PositionInterval    time.Duration
	RiskInterval        time.Duration
	FundingInterval     time.Duration
	PerformanceInterval time.Duration
	AlertSweepInterval  time.Duration
	AlertCooldown       time.Duration

	MarginRatioLimit float64 // max notional over position margin
	PositionLossPct  float64
	MarginUsagePct   float64
	MaxPositions     int
	FundingRateLimit float64
	DailyLossLimit   float64 // share of starting capital
	StartingCapital  float64
	LowWinRate       float64
	WinRateWindow    int
	HistorySize      int
	FundingWatchlist []string
}

func DefaultConfig() Config {
	return Config{
		PositionInterval:    5 * time.Second,
		RiskInterval:        30 * time.Second,
		FundingInterval:     time.Hour,
		PerformanceInterval: 5 * time.Minute,
		AlertSweepInterval:  time.Minute,
		AlertCooldown:       15 * time.Minute,
		MarginRatioLimit:    0.5,
		PositionLossPct:     -10,
		MarginUsagePct:      80,
		MaxPositions:        10,
		FundingRateLimit:    0.01,
		DailyLossLimit:      0.05,
		StartingCapital:     10000,
		LowWinRate:          0.3,
		WinRateWindow:       12,
		HistorySize:         288,
	}
}

var ErrAlreadyRunning = errors.New("monitor already running")

// Supervisor runs the periodic monitoring loops over a shared position source.
type Supervisor struct {
	cfg      Config
	source   PositionSource
	metrics  repository.Metrics
	notifier repository.Notifier
	log      *logger.Logger
	now      func() time.Time

	alertsMu sync.Mutex
	alerts   map[string]models.Alert

	perfMu      sync.RWMutex
	history     *ring[models.PerformanceSnapshot]
	dayStartPnL float64
	day         time.Time

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type Option func(*Supervisor)

func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

func New(cfg Config, source PositionSource, metrics repository.Metrics, notifier repository.Notifier, log *logger.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		source:   source,
		metrics:  metrics,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		alerts:   make(map[string]models.Alert),
		history:  newRing[models.PerformanceSnapshot](cfg.HistorySize),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start captures the daily baseline and launches the five loops.
func (s *Supervisor) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	s.resetDay(s.source.Summary().TotalPnL)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.spawn(loopCtx, "positions", s.cfg.PositionInterval, s.checkPositions)
	s.spawn(loopCtx, "risk", s.cfg.RiskInterval, s.checkRisk)
	s.spawn(loopCtx, "funding", s.cfg.FundingInterval, s.checkFunding)
	s.spawn(loopCtx, "performance", s.cfg.PerformanceInterval, s.checkPerformance)
	s.spawn(loopCtx, "alerts", s.cfg.AlertSweepInterval, s.sweepAlerts)

	s.log.Info("monitoring started")
	return nil
}

// Stop cancels every loop and waits for them to exit. In-flight exchange calls
// finish on their own.
func (s *Supervisor) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.runMu.Unlock()

	s.wg.Wait()
	s.log.Info("monitoring stopped")
}

func (s *Supervisor) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Supervisor) spawn(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(ctx, name, interval, fn)
	}()
}

// runLoop runs fn immediately and then on every tick. A failed iteration is
// logged and the loop continues.
func (s *Supervisor) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.iterate(ctx, name, fn)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) iterate(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("monitor loop panicked", logger.String("loop", name), logger.Any("panic", r))
			s.metrics.RecordError("monitor_" + name)
		}
	}()
	start := time.Now()
	if err := fn(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("monitor iteration failed", logger.String("loop", name), logger.Error(err))
		s.metrics.RecordError("monitor_" + name)
	}
	s.metrics.RecordLatency("monitor_"+name, time.Since(start).Seconds())
}

func (s *Supervisor) checkPositions(ctx context.Context) error {
	if err := s.source.Sync(ctx); err != nil {
		return err
	}
	positions := s.source.Positions()
	s.metrics.ResetPositions()
	for _, p := range positions {
		s.metrics.RecordPosition(p)

		if p.Margin > 0 && p.MarginRatio() > s.cfg.MarginRatioLimit {
			s.SendAlert(ctx, "large_position_"+p.Symbol,
				fmt.Sprintf("Large position alert for %s: notional is %.1fx margin", p.Symbol, p.MarginRatio()),
				models.SeverityWarning)
		}
		if pct := p.PnLPercentage(); pct < s.cfg.PositionLossPct {
			s.SendAlert(ctx, "large_loss_"+p.Symbol,
				fmt.Sprintf("Large loss alert for %s: %.2f%%", p.Symbol, pct),
				models.SeverityWarning)
		}
	}
	return nil
}

func (s *Supervisor) checkRisk(ctx context.Context) error {
	m := s.source.RiskMetrics(ctx)
	s.metrics.RecordRisk(m)

	if m.IsOverleveraged {
		s.SendAlert(ctx, "overleveraged",
			fmt.Sprintf("Account overleveraged! Margin level: %.1f%%", m.MarginLevel), models.SeverityCritical)
	}
	if m.MarginUsagePct > s.cfg.MarginUsagePct {
		s.SendAlert(ctx, "high_margin_usage",
			fmt.Sprintf("High margin usage: %.1f%%", m.MarginUsagePct), models.SeverityWarning)
	}
	if m.PositionsCount > s.cfg.MaxPositions {
		s.SendAlert(ctx, "too_many_positions",
			fmt.Sprintf("Too many open positions: %d", m.PositionsCount), models.SeverityWarning)
	}

	for _, r := range s.source.LiquidationRisk() {
		severity := models.SeverityWarning
		if r.Level == models.RiskHigh {
			severity = models.SeverityCritical
		}
		s.SendAlert(ctx, "liquidation_risk_"+r.Symbol,
			fmt.Sprintf("%s liquidation risk for %s: %.2f%% from liquidation", r.Level, r.Symbol, r.DistancePct),
			severity)
	}
	return nil
}

func (s *Supervisor) checkFunding(ctx context.Context) error {
	var failed []string
	for _, symbol := range s.fundingSymbols() {
		fr, err := s.source.FundingRate(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("funding rate fetch failed", logger.String("symbol", symbol), logger.Error(err))
			failed = append(failed, symbol)
			continue
		}
		s.metrics.RecordFundingRate(symbol, fr.Rate)
		switch {
		case fr.Rate > s.cfg.FundingRateLimit:
			s.SendAlert(ctx, "high_funding_"+symbol,
				fmt.Sprintf("High funding rate for %s: %.4f%% (annual %.2f%%)", symbol, fr.Rate*100, fr.Annualized()*100),
				models.SeverityWarning)
		case fr.Rate < -s.cfg.FundingRateLimit:
			s.SendAlert(ctx, "negative_funding_"+symbol,
				fmt.Sprintf("Negative funding rate for %s: %.4f%% (annual %.2f%%)", symbol, fr.Rate*100, fr.Annualized()*100),
				models.SeverityWarning)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("funding rate unavailable for %v", failed)
	}
	return nil
}

func (s *Supervisor) fundingSymbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range s.source.Positions() {
		if _, ok := seen[p.Symbol]; !ok {
			seen[p.Symbol] = struct{}{}
			out = append(out, p.Symbol)
		}
	}
	for _, sym := range s.cfg.FundingWatchlist {
		if _, ok := seen[sym]; !ok {
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}

func (s *Supervisor) checkPerformance(ctx context.Context) error {
	snap := s.snapshot(ctx)
	s.metrics.RecordPerformance(snap)

	limit := -s.cfg.DailyLossLimit * s.cfg.StartingCapital
	if snap.DailyPnL < limit {
		s.SendAlert(ctx, "daily_loss_limit",
			fmt.Sprintf("Daily loss limit reached: $%.2f", snap.DailyPnL), models.SeverityCritical)
	}

	s.perfMu.RLock()
	samples := s.history.len()
	s.perfMu.RUnlock()
	if samples >= s.cfg.WinRateWindow && snap.WinRate < s.cfg.LowWinRate {
		s.SendAlert(ctx, "low_win_rate",
			fmt.Sprintf("Low win rate: %.1f%%", snap.WinRate*100), models.SeverityWarning)
	}
	return nil
}

// snapshot computes and appends one performance sample. The win rate covers
// the samples recorded before this one.
func (s *Supervisor) snapshot(ctx context.Context) models.PerformanceSnapshot {
	summary := s.source.Summary()
	risk := s.source.RiskMetrics(ctx)
	now := s.now()

	s.perfMu.Lock()
	defer s.perfMu.Unlock()

	if !sameDay(s.day, now) {
		s.dayStartPnL = summary.TotalPnL
		s.day = now
	}

	snap := models.PerformanceSnapshot{
		Timestamp:      now,
		TotalPnL:       summary.TotalPnL,
		DailyPnL:       summary.TotalPnL - s.dayStartPnL,
		PeriodPnL:      summary.TotalPnL,
		PositionsCount: summary.Count,
		TotalNotional:  summary.TotalNotional,
		MarginUsage:    risk.MarginUsagePct,
		Leverage:       risk.CurrentLeverage,
	}
	if prev, ok := s.history.last(); ok {
		snap.PeriodPnL = summary.TotalPnL - prev.TotalPnL
	}
	if recent := s.history.tail(s.cfg.WinRateWindow); len(recent) > 0 {
		wins := 0
		for _, p := range recent {
			if p.PeriodPnL > 0 {
				wins++
			}
		}
		snap.WinRate = float64(wins) / float64(len(recent))
	}
	s.history.push(snap)
	return snap
}

func (s *Supervisor) resetDay(baseline float64) {
	s.perfMu.Lock()
	defer s.perfMu.Unlock()
	s.dayStartPnL = baseline
	s.day = s.now()
}

func (s *Supervisor) Config() Config { return s.cfg }

// Status reports the supervisor state.
func (s *Supervisor) Status() models.MonitorStatus {
	st := models.MonitorStatus{
		IsMonitoring:       s.IsRunning(),
		ActiveAlerts:       len(s.ActiveAlerts()),
		PositionsMonitored: len(s.source.Positions()),
	}
	s.perfMu.RLock()
	defer s.perfMu.RUnlock()
	st.HistorySize = s.history.len()
	if last, ok := s.history.last(); ok {
		st.LastUpdate = last.Timestamp
	}
	return st
}

// History returns up to limit performance samples, oldest first.
func (s *Supervisor) History(limit int) []models.PerformanceSnapshot {
	s.perfMu.RLock()
	defer s.perfMu.RUnlock()
	return s.history.tail(limit)
}

// PerformanceSummary aggregates the performance buffer.
func (s *Supervisor) PerformanceSummary() models.PerformanceSummary {
	s.perfMu.RLock()
	defer s.perfMu.RUnlock()

	all := s.history.tail(0)
	if len(all) == 0 {
		return models.PerformanceSummary{}
	}
	latest := all[len(all)-1]
	sum := models.PerformanceSummary{
		TotalPnL:   latest.TotalPnL,
		DailyPnL:   latest.DailyPnL,
		WinRate:    latest.WinRate,
		Samples:    len(all),
		LastUpdate: latest.Timestamp,
	}
	for _, p := range s.history.tail(s.cfg.WinRateWindow) {
		sum.HourlyPnL += p.PeriodPnL
	}
	var peak, lev float64
	for _, p := range all {
		lev += p.Leverage
		if p.TotalPnL > peak {
			peak = p.TotalPnL
		}
		if peak != 0 {
			if dd := (peak - p.TotalPnL) / abs(peak); dd > sum.MaxDrawdown {
				sum.MaxDrawdown = dd
			}
		}
	}
	sum.AvgLeverage = lev / float64(len(all))
	return sum
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
