package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/pkg/logger"
	"FuturesPilot/pkg/metrics"
)

type fakeSource struct {
	mu        sync.Mutex
	positions []models.Position
	summary   models.PositionSummary
	risk      models.RiskMetrics
	liq       []models.LiquidationRisk
	funding   map[string]float64
	syncs     int
}

func (f *fakeSource) Sync(context.Context) error {
	f.mu.Lock()
	f.syncs++
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Positions() []models.Position { return f.positions }

func (f *fakeSource) Summary() models.PositionSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary
}

func (f *fakeSource) RiskMetrics(context.Context) models.RiskMetrics { return f.risk }

func (f *fakeSource) LiquidationRisk() []models.LiquidationRisk { return f.liq }

func (f *fakeSource) FundingRate(_ context.Context, symbol string) (models.FundingRate, error) {
	rate, ok := f.funding[symbol]
	if !ok {
		return models.FundingRate{}, errors.New("unavailable")
	}
	return models.FundingRate{Symbol: symbol, Rate: rate}, nil
}

func (f *fakeSource) setTotal(pnl float64) {
	f.mu.Lock()
	f.summary.TotalPnL = pnl
	f.mu.Unlock()
}

type captureNotifier struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (c *captureNotifier) Notify(_ context.Context, a models.Alert) error {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
	return nil
}

func (c *captureNotifier) ids() map[string]models.AlertSeverity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.AlertSeverity, len(c.alerts))
	for _, a := range c.alerts {
		out[a.ID] = a.Severity
	}
	return out
}

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newSupervisor(src *fakeSource, n *captureNotifier, clock *manualClock) *Supervisor {
	cfg := DefaultConfig()
	cfg.FundingWatchlist = []string{"ETHUSDT"}
	return New(cfg, src, metrics.Nop{}, n, logger.Nop(), WithClock(clock.now))
}

func TestSendAlertCooldown(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	n := &captureNotifier{}
	s := newSupervisor(&fakeSource{}, n, clock)
	ctx := context.Background()

	if !s.SendAlert(ctx, "x", "first", models.SeverityWarning) {
		t.Fatalf("first alert should dispatch")
	}
	clock.advance(10 * time.Minute)
	if s.SendAlert(ctx, "x", "second", models.SeverityWarning) {
		t.Fatalf("alert within cooldown should be suppressed")
	}
	if !s.SendAlert(ctx, "y", "other", models.SeverityInfo) {
		t.Fatalf("different id should dispatch")
	}
	clock.advance(6 * time.Minute)
	if !s.SendAlert(ctx, "x", "third", models.SeverityWarning) {
		t.Fatalf("alert after cooldown should dispatch")
	}
	if len(n.alerts) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(n.alerts))
	}
}

func TestSweepDropsExpiredAlerts(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	s := newSupervisor(&fakeSource{}, &captureNotifier{}, clock)
	s.SendAlert(context.Background(), "old", "m", models.SeverityInfo)
	clock.advance(20 * time.Minute)
	s.SendAlert(context.Background(), "new", "m", models.SeverityInfo)
	_ = s.sweepAlerts(context.Background())
	active := s.ActiveAlerts()
	if len(active) != 1 || active[0].ID != "new" {
		t.Fatalf("expected only the new alert, got %+v", active)
	}
}

func TestPositionChecks(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	src := &fakeSource{
		positions: []models.Position{
			// notional 6000 over margin 600
			{Symbol: "BTCUSDT", Contracts: 0.1, MarkPrice: 60000, Margin: 600, UnrealizedPnL: 10},
			// -15% pnl
			{Symbol: "ETHUSDT", Contracts: -1, MarkPrice: 3000, Margin: 300, UnrealizedPnL: -45},
			// notional 0.1 over margin 1
			{Symbol: "DOGEUSDT", Contracts: 1, MarkPrice: 0.1, Margin: 1},
			{Symbol: "XRPUSDT", Contracts: 10, MarkPrice: 0.5},
		},
		// account size must not matter to the ratio check
		risk: models.RiskMetrics{TotalMargin: 100000, MarginLevel: 100},
	}
	n := &captureNotifier{}
	s := newSupervisor(src, n, clock)
	_ = s.checkRisk(context.Background())
	if err := s.checkPositions(context.Background()); err != nil {
		t.Fatalf("checkPositions: %v", err)
	}
	ids := n.ids()
	for _, id := range []string{"large_position_BTCUSDT", "large_position_ETHUSDT", "large_loss_ETHUSDT"} {
		if _, ok := ids[id]; !ok {
			t.Fatalf("missing alert %s: %v", id, ids)
		}
	}
	for _, id := range []string{"large_position_DOGEUSDT", "large_position_XRPUSDT", "large_loss_BTCUSDT"} {
		if _, ok := ids[id]; ok {
			t.Fatalf("unexpected alert %s", id)
		}
	}
	if src.syncs != 1 {
		t.Fatalf("expected one sync, got %d", src.syncs)
	}
}

func TestMarginRatioLimitConfigurable(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	src := &fakeSource{positions: []models.Position{
		{Symbol: "BTCUSDT", Contracts: 0.1, MarkPrice: 60000, Margin: 600},
		{Symbol: "ETHUSDT", Contracts: 2, MarkPrice: 3000, Margin: 200},
	}}
	n := &captureNotifier{}
	cfg := DefaultConfig()
	cfg.MarginRatioLimit = 20
	s := New(cfg, src, metrics.Nop{}, n, logger.Nop(), WithClock(clock.now))
	if err := s.checkPositions(context.Background()); err != nil {
		t.Fatalf("checkPositions: %v", err)
	}
	ids := n.ids()
	if _, ok := ids["large_position_BTCUSDT"]; ok {
		t.Fatalf("10x is under a 20x limit: %v", ids)
	}
	if _, ok := ids["large_position_ETHUSDT"]; !ok {
		t.Fatalf("30x is over a 20x limit: %v", ids)
	}
}

func TestRiskChecks(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	src := &fakeSource{
		risk: models.RiskMetrics{IsOverleveraged: true, MarginLevel: 120, MarginUsagePct: 85, PositionsCount: 11, TotalMargin: 5000},
		liq: []models.LiquidationRisk{
			{Symbol: "BTCUSDT", DistancePct: 3, Level: models.RiskHigh},
			{Symbol: "ETHUSDT", DistancePct: 8, Level: models.RiskMedium},
		},
	}
	n := &captureNotifier{}
	s := newSupervisor(src, n, clock)
	_ = s.checkRisk(context.Background())

	ids := n.ids()
	want := map[string]models.AlertSeverity{
		"overleveraged":            models.SeverityCritical,
		"high_margin_usage":        models.SeverityWarning,
		"too_many_positions":       models.SeverityWarning,
		"liquidation_risk_BTCUSDT": models.SeverityCritical,
		"liquidation_risk_ETHUSDT": models.SeverityWarning,
	}
	for id, sev := range want {
		if ids[id] != sev {
			t.Fatalf("alert %s: want %s, got %q", id, sev, ids[id])
		}
	}
}

func TestFundingChecks(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	src := &fakeSource{
		positions: []models.Position{{Symbol: "BTCUSDT"}, {Symbol: "SOLUSDT"}},
		funding:   map[string]float64{"BTCUSDT": 0.02, "ETHUSDT": -0.02},
	}
	n := &captureNotifier{}
	s := newSupervisor(src, n, clock)
	if err := s.checkFunding(context.Background()); err == nil {
		t.Fatalf("expected error for the unavailable SOLUSDT rate")
	}
	ids := n.ids()
	if _, ok := ids["high_funding_BTCUSDT"]; !ok {
		t.Fatalf("missing high funding alert: %v", ids)
	}
	if _, ok := ids["negative_funding_ETHUSDT"]; !ok {
		t.Fatalf("missing negative funding alert: %v", ids)
	}
}

func TestPerformanceSnapshots(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	src := &fakeSource{}
	n := &captureNotifier{}
	s := newSupervisor(src, n, clock)
	s.resetDay(0)
	ctx := context.Background()

	for _, total := range []float64{100, 50, 80, 80, -600} {
		src.setTotal(total)
		_ = s.checkPerformance(ctx)
		clock.advance(5 * time.Minute)
	}
	hist := s.History(0)
	if len(hist) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(hist))
	}
	// periods: 100, -50, 30, 0, -680; win rate of the last sample covers the first four
	if hist[4].WinRate != 0.5 {
		t.Fatalf("expected win rate 0.5, got %v", hist[4].WinRate)
	}
	if hist[0].WinRate != 0 {
		t.Fatalf("first sample has no prior history, got %v", hist[0].WinRate)
	}
	if hist[4].DailyPnL != -600 {
		t.Fatalf("daily pnl: got %v", hist[4].DailyPnL)
	}
	if _, ok := n.ids()["daily_loss_limit"]; !ok {
		t.Fatalf("expected daily loss alert")
	}
	sum := s.PerformanceSummary()
	if sum.Samples != 5 || sum.TotalPnL != -600 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.MaxDrawdown != 7 {
		t.Fatalf("expected drawdown 7 (100 to -600), got %v", sum.MaxDrawdown)
	}
}

func TestDailyBaselineRollsOver(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 23, 58, 0, 0, time.UTC)}
	src := &fakeSource{}
	s := newSupervisor(src, &captureNotifier{}, clock)
	s.resetDay(0)

	src.setTotal(200)
	_ = s.checkPerformance(context.Background())
	clock.advance(5 * time.Minute)
	src.setTotal(250)
	_ = s.checkPerformance(context.Background())

	hist := s.History(0)
	if hist[0].DailyPnL != 200 {
		t.Fatalf("before midnight daily pnl: got %v", hist[0].DailyPnL)
	}
	if hist[1].DailyPnL != 0 {
		t.Fatalf("after midnight the baseline resets, got %v", hist[1].DailyPnL)
	}
}

func TestStartStop(t *testing.T) {
	src := &fakeSource{}
	s := New(DefaultConfig(), src, metrics.Nop{}, &captureNotifier{}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		src.mu.Lock()
		n := src.syncs
		src.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("position loop never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !s.Status().IsMonitoring {
		t.Fatalf("status should report monitoring")
	}
	s.Stop()
	if s.Status().IsMonitoring {
		t.Fatalf("status should report stopped")
	}
	s.Stop()
}
