package risk

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
	"FuturesPilot/pkg/logger"
)

type fakeExchange struct {
	positions  []models.Position
	balance    map[string]models.Balance
	balanceErr error
	orderErr   map[string]error
	orders     []models.OrderRequest
	leverage   map[string]int
	maxLev     int
	closed     []string
}

func (f *fakeExchange) GetPositions(context.Context) ([]models.Position, error) {
	out := make([]models.Position, len(f.positions))
	copy(out, f.positions)
	return out, nil
}

func (f *fakeExchange) GetBalance(context.Context) (map[string]models.Balance, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeExchange) GetKlines(context.Context, string, repository.Timeframe, int) ([]models.PriceBar, error) {
	return nil, nil
}

func (f *fakeExchange) GetFundingRate(_ context.Context, symbol string) (models.FundingRate, error) {
	return models.FundingRate{Symbol: symbol, Rate: 0.0001}, nil
}

func (f *fakeExchange) GetMaxLeverage(context.Context, string) (int, error) { return f.maxLev, nil }

func (f *fakeExchange) SetLeverage(_ context.Context, symbol string, lev int) error {
	if f.leverage == nil {
		f.leverage = map[string]int{}
	}
	f.leverage[symbol] = lev
	return nil
}

func (f *fakeExchange) SetMarginMode(context.Context, string, models.MarginMode) error { return nil }

func (f *fakeExchange) CreateOrder(_ context.Context, req models.OrderRequest) (models.Order, error) {
	if err := f.orderErr[req.Symbol]; err != nil {
		return models.Order{}, err
	}
	f.orders = append(f.orders, req)
	if req.Type == models.OrderMarket && !req.ReduceOnly {
		qty := req.Quantity
		if req.Side == models.OrderSell {
			qty = -qty
		}
		f.positions = append(f.positions, models.Position{Symbol: req.Symbol, Contracts: qty, MarkPrice: 100, Margin: 10, Leverage: f.leverage[req.Symbol]})
	}
	return models.Order{ID: "1", Symbol: req.Symbol, Side: req.Side, Type: req.Type, Quantity: req.Quantity}, nil
}

func (f *fakeExchange) ClosePosition(_ context.Context, symbol string) (models.Order, error) {
	if err := f.orderErr[symbol]; err != nil {
		return models.Order{}, err
	}
	f.closed = append(f.closed, symbol)
	return models.Order{ID: "close-" + symbol, Symbol: symbol, Type: models.OrderMarket}, nil
}

func newStore(ex *fakeExchange) *Store {
	return NewStore(DefaultConfig(), ex, logger.Nop(), WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
}

func TestSyncReplacesWholeMap(t *testing.T) {
	ex := &fakeExchange{positions: []models.Position{
		{Symbol: "BTCUSDT", Contracts: 1},
		{Symbol: "ETHUSDT", Contracts: -2},
		{Symbol: "XRPUSDT", Contracts: 0},
	}}
	s := newStore(ex)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := len(s.Positions()); got != 2 {
		t.Fatalf("zero-contract entries must be skipped, got %d", got)
	}
	if p, _ := s.Position("ETHUSDT"); p.Side != models.SideShort {
		t.Fatalf("negative contracts should be short, got %s", p.Side)
	}
	ex.positions = []models.Position{{Symbol: "SOLUSDT", Contracts: 3}}
	_ = s.Sync(context.Background())
	if _, ok := s.Position("BTCUSDT"); ok {
		t.Fatalf("stale symbol must be dropped")
	}
	if _, ok := s.Position("SOLUSDT"); !ok {
		t.Fatalf("new symbol missing")
	}
}

func TestOpenAndClose(t *testing.T) {
	ex := &fakeExchange{}
	s := newStore(ex)
	ctx := context.Background()

	res := s.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Side: models.SideShort, Size: 2, Leverage: 5, StopLoss: 110})
	if !res.OK() {
		t.Fatalf("open failed: %+v", res)
	}
	if ex.leverage["BTCUSDT"] != 5 {
		t.Fatalf("leverage not set")
	}
	if len(ex.orders) != 2 || ex.orders[1].Type != models.OrderStopMarket || ex.orders[1].Side != models.OrderBuy || ex.orders[1].Quantity != 2 {
		t.Fatalf("unexpected orders: %+v", ex.orders)
	}
	if again := s.Open(ctx, OpenRequest{Symbol: "BTCUSDT", Side: models.SideLong, Size: 1}); again.OK() {
		t.Fatalf("opening an existing position must fail")
	}

	res = s.Close(ctx, "BTCUSDT", 50)
	if !res.OK() {
		t.Fatalf("close failed: %+v", res)
	}
	last := ex.orders[len(ex.orders)-1]
	if last.Side != models.OrderBuy || last.Quantity != 1 || !last.ReduceOnly {
		t.Fatalf("unexpected close order: %+v", last)
	}
	if r := s.Close(ctx, "ETHUSDT", 100); r.OK() || r.Status != models.ResultError {
		t.Fatalf("closing a missing position must return an error result")
	}
}

func TestEmergencyCloseAllCollectsPartialFailures(t *testing.T) {
	ex := &fakeExchange{
		positions: []models.Position{{Symbol: "BTCUSDT", Contracts: 1}, {Symbol: "ETHUSDT", Contracts: 1}},
		orderErr:  map[string]error{"BTCUSDT": errors.New("rejected")},
	}
	s := newStore(ex)
	_ = s.Sync(context.Background())
	results := s.EmergencyCloseAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].OK() || !results[1].OK() {
		t.Fatalf("unexpected results: %+v", results)
	}
	if len(ex.closed) != 1 || ex.closed[0] != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT flattened through ClosePosition, got %v", ex.closed)
	}
	if len(ex.orders) != 0 {
		t.Fatalf("emergency close must not build its own orders: %+v", ex.orders)
	}
}

func TestRiskMetricsSafeDefault(t *testing.T) {
	ex := &fakeExchange{
		positions:  []models.Position{{Symbol: "BTCUSDT", Contracts: 1}},
		balanceErr: errors.New("timeout"),
	}
	s := newStore(ex)
	_ = s.Sync(context.Background())
	m := s.RiskMetrics(context.Background())
	if m.PositionsCount != 0 || m.MarginLevel != 100 || m.IsOverleveraged {
		t.Fatalf("unexpected safe metrics: %+v", m)
	}
	if !m.Degraded {
		t.Fatalf("safe metrics should be flagged degraded")
	}
}

func TestRiskMetricsComputed(t *testing.T) {
	ex := &fakeExchange{
		positions: []models.Position{
			{Symbol: "BTCUSDT", Contracts: 0.1, MarkPrice: 50000, Leverage: 10, UnrealizedPnL: 20},
			{Symbol: "ETHUSDT", Contracts: -2, MarkPrice: 2500, Leverage: 5, UnrealizedPnL: -5},
		},
		balance: map[string]models.Balance{"USDT": {Asset: "USDT", Total: 10000, Free: 8000, Used: 2000}},
	}
	s := newStore(ex)
	_ = s.Sync(context.Background())
	m := s.RiskMetrics(context.Background())
	if m.TotalNotional != 10000 || m.MaxLeverage != 10 || m.CurrentLeverage != 1 {
		t.Fatalf("unexpected exposure: %+v", m)
	}
	if m.MarginLevel != 500 || m.IsOverleveraged {
		t.Fatalf("unexpected margin level: %+v", m)
	}
	if m.MarginUsagePct != 20 || m.DailyPnL != 15 || m.MaxPositionSize != 1000 {
		t.Fatalf("unexpected derived fields: %+v", m)
	}

	ex.balance["USDT"] = models.Balance{Asset: "USDT", Total: 1000, Free: 0, Used: 0}
	if m := s.RiskMetrics(context.Background()); !math.IsInf(m.MarginLevel, 1) || m.IsOverleveraged {
		t.Fatalf("zero used margin should give infinite margin level: %+v", m)
	}
}

func TestLiquidationRiskLevels(t *testing.T) {
	ex := &fakeExchange{positions: []models.Position{
		{Symbol: "A", Contracts: 1, MarkPrice: 46000, LiquidationPrice: 45000},
		{Symbol: "B", Contracts: 1, MarkPrice: 48000, LiquidationPrice: 45000},
		{Symbol: "C", Contracts: 1, MarkPrice: 60000, LiquidationPrice: 45000},
		{Symbol: "D", Contracts: -1, MarkPrice: 100, LiquidationPrice: 103},
		{Symbol: "E", Contracts: 1, MarkPrice: 100},
	}}
	s := newStore(ex)
	_ = s.Sync(context.Background())
	risks := s.LiquidationRisk()
	if len(risks) != 3 {
		t.Fatalf("expected 3 risky positions, got %+v", risks)
	}
	levels := map[string]models.RiskLevel{}
	for _, r := range risks {
		levels[r.Symbol] = r.Level
	}
	if levels["A"] != models.RiskHigh || levels["B"] != models.RiskMedium || levels["D"] != models.RiskHigh {
		t.Fatalf("unexpected levels: %+v", levels)
	}
	if math.Abs(risks[0].DistancePct-2.1739) > 1e-3 {
		t.Fatalf("nearest should be A at ~2.17%%, got %+v", risks[0])
	}
}

func TestAdjustLeverageChecksMaximum(t *testing.T) {
	ex := &fakeExchange{maxLev: 20}
	s := newStore(ex)
	if r := s.AdjustLeverage(context.Background(), "BTCUSDT", 50); r.OK() {
		t.Fatalf("leverage above maximum must fail")
	}
	if r := s.AdjustLeverage(context.Background(), "BTCUSDT", 10); !r.OK() {
		t.Fatalf("adjust failed: %+v", r)
	}
}

func TestSummary(t *testing.T) {
	ex := &fakeExchange{positions: []models.Position{
		{Symbol: "A", Contracts: 1, MarkPrice: 100, UnrealizedPnL: 10, Margin: 50},
		{Symbol: "B", Contracts: -1, MarkPrice: 200, UnrealizedPnL: -5, Margin: 50},
	}}
	s := newStore(ex)
	_ = s.Sync(context.Background())
	sum := s.Summary()
	if sum.Count != 2 || sum.TotalNotional != 300 || sum.TotalPnL != 5 || sum.PnLPct != 5 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

// cyclingExchange alternates between fixed position snapshots on every fetch.
type cyclingExchange struct {
	*fakeExchange
	n         atomic.Int64
	snapshots [][]models.Position
}

func (c *cyclingExchange) GetPositions(context.Context) ([]models.Position, error) {
	snap := c.snapshots[int(c.n.Add(1))%len(c.snapshots)]
	out := make([]models.Position, len(snap))
	copy(out, snap)
	return out, nil
}

func TestSyncIsAtomicForConcurrentReaders(t *testing.T) {
	ex := &cyclingExchange{
		fakeExchange: &fakeExchange{
			balance: map[string]models.Balance{"USDT": {Asset: "USDT", Total: 1000, Free: 900, Used: 100}},
		},
		snapshots: [][]models.Position{
			{
				{Symbol: "BTCUSDT", Contracts: 1, MarkPrice: 100, LiquidationPrice: 96, Margin: 10},
				{Symbol: "ETHUSDT", Contracts: 1, MarkPrice: 100, Margin: 10},
			},
			{
				{Symbol: "SOLUSDT", Contracts: 2, MarkPrice: 50, Margin: 10},
				{Symbol: "XRPUSDT", Contracts: 2, MarkPrice: 50, Margin: 10},
				{Symbol: "ADAUSDT", Contracts: 2, MarkPrice: 50, Margin: 10},
			},
		},
	}
	s := NewStore(DefaultConfig(), ex, logger.Nop())
	ctx := context.Background()
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// every snapshot holds 2 positions worth 200 or 3 positions worth 300
	consistent := func(count int, notional float64) bool {
		return (count == 2 && notional == 200) || (count == 3 && notional == 300)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := s.Sync(ctx); err != nil {
					t.Errorf("sync: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if sum := s.Summary(); !consistent(sum.Count, sum.TotalNotional) {
					t.Errorf("summary mixes snapshots: %+v", sum)
					return
				}
				if m := s.RiskMetrics(ctx); !consistent(m.PositionsCount, m.TotalNotional) {
					t.Errorf("risk metrics mix snapshots: %+v", m)
					return
				}
				risks := s.LiquidationRisk()
				if len(risks) > 1 || (len(risks) == 1 && risks[0].Symbol != "BTCUSDT") {
					t.Errorf("unexpected liquidation risks: %+v", risks)
					return
				}
				var symbols string
				for _, p := range s.Positions() {
					symbols += p.Symbol + " "
				}
				if symbols != "BTCUSDT ETHUSDT " && symbols != "ADAUSDT SOLUSDT XRPUSDT " {
					t.Errorf("positions mix snapshots: %q", symbols)
					return
				}
			}
		}()
	}
	wg.Wait()
}
