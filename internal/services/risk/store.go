package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
	"FuturesPilot/pkg/logger"
)

// Config holds account level risk parameters.
type Config struct {
	QuoteAsset         string
	MaxPositionPct     float64 // share of total margin allowed per position
	OverleverageLevel  float64 // margin level (%) below which the account is overleveraged
	LiquidationWarnPct float64
	LiquidationHighPct float64
}

func DefaultConfig() Config {
	return Config{
		QuoteAsset:         "USDT",
		MaxPositionPct:     0.1,
		OverleverageLevel:  150,
		LiquidationWarnPct: 10,
		LiquidationHighPct: 5,
	}
}

type snapshot struct {
	positions map[string]models.Position
	syncedAt  time.Time
}

// Store is the synchronized view of open positions. Only Sync replaces the
// position map; readers load an immutable snapshot.
type Store struct {
	cfg      Config
	exchange repository.Exchange
	log      *logger.Logger
	now      func() time.Time

	mu   sync.Mutex // serializes sync and mutations
	snap atomic.Pointer[snapshot]
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(cfg Config, exchange repository.Exchange, log *logger.Logger, opts ...Option) *Store {
	s := &Store{cfg: cfg, exchange: exchange, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.snap.Store(&snapshot{positions: map[string]models.Position{}})
	return s
}

// Sync replaces the position map with a fresh exchange snapshot.
func (s *Store) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked(ctx)
}

func (s *Store) syncLocked(ctx context.Context) error {
	list, err := s.exchange.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	now := s.now()
	next := make(map[string]models.Position, len(list))
	for _, p := range list {
		if p.Contracts == 0 {
			continue
		}
		p.SyncedAt = now
		if p.Side == "" {
			p.Side = models.SideLong
			if p.Contracts < 0 {
				p.Side = models.SideShort
			}
		}
		next[p.Symbol] = p
	}
	s.snap.Store(&snapshot{positions: next, syncedAt: now})
	return nil
}

// Positions returns the current positions ordered by symbol.
func (s *Store) Positions() []models.Position {
	snap := s.snap.Load()
	out := make([]models.Position, 0, len(snap.positions))
	for _, p := range snap.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Store) Position(symbol string) (models.Position, bool) {
	p, ok := s.snap.Load().positions[symbol]
	return p, ok
}

// LastSync returns the time of the last completed sync.
func (s *Store) LastSync() time.Time { return s.snap.Load().syncedAt }

// OpenRequest describes a new position.
type OpenRequest struct {
	Symbol     string
	Side       models.PositionSide
	Size       float64
	Leverage   int
	MarginMode models.MarginMode
	StopLoss   float64
	TakeProfit float64
}

// Open sets leverage and margin mode, then submits a market order with
// optional protective orders.
func (s *Store) Open(ctx context.Context, req OpenRequest) models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snap.Load().positions[req.Symbol]; exists {
		return models.ErrorResult(req.Symbol, fmt.Sprintf("position already exists for %s", req.Symbol))
	}
	if req.Size <= 0 {
		return models.ErrorResult(req.Symbol, "size must be positive")
	}
	if req.Leverage <= 0 {
		req.Leverage = 1
	}
	if req.MarginMode == "" {
		req.MarginMode = models.MarginIsolated
	}

	if err := s.exchange.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
		return s.fail(req.Symbol, "set leverage", err)
	}
	if err := s.exchange.SetMarginMode(ctx, req.Symbol, req.MarginMode); err != nil {
		return s.fail(req.Symbol, "set margin mode", err)
	}

	side := models.OrderSideFor(req.Side)
	order, err := s.exchange.CreateOrder(ctx, models.OrderRequest{
		ClientID: uuid.NewString(),
		Symbol:   req.Symbol,
		Type:     models.OrderMarket,
		Side:     side,
		Quantity: req.Size,
	})
	if err != nil {
		return s.fail(req.Symbol, "create order", err)
	}

	exit := oppositeOrderSide(side)
	if req.StopLoss > 0 {
		if _, err := s.placeProtective(ctx, req.Symbol, models.OrderStopMarket, exit, req.Size, req.StopLoss); err != nil {
			s.log.Warn("stop loss placement failed", logger.String("symbol", req.Symbol), logger.Error(err))
		}
	}
	if req.TakeProfit > 0 {
		if _, err := s.placeProtective(ctx, req.Symbol, models.OrderTakeProfitMarket, exit, req.Size, req.TakeProfit); err != nil {
			s.log.Warn("take profit placement failed", logger.String("symbol", req.Symbol), logger.Error(err))
		}
	}

	if err := s.syncLocked(ctx); err != nil {
		s.log.Warn("sync after open failed", logger.String("symbol", req.Symbol), logger.Error(err))
	}
	s.log.Info("position opened",
		logger.String("symbol", req.Symbol),
		logger.String("side", string(req.Side)),
		logger.Float64("size", req.Size),
		logger.Int("leverage", req.Leverage),
	)
	return models.OKResult(req.Symbol, fmt.Sprintf("opened %s %s %g", req.Side, req.Symbol, req.Size), &order)
}

// Close reduces a position by pct percent of its size.
func (s *Store) Close(ctx context.Context, symbol string, pct float64) models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(ctx, symbol, pct)
}

func (s *Store) closeLocked(ctx context.Context, symbol string, pct float64) models.Result {
	p, ok := s.snap.Load().positions[symbol]
	if !ok {
		return models.ErrorResult(symbol, fmt.Sprintf("no position found for %s", symbol))
	}
	if pct <= 0 || pct > 100 {
		return models.ErrorResult(symbol, fmt.Sprintf("invalid close percentage %g", pct))
	}

	qty := p.Size() * pct / 100
	order, err := s.exchange.CreateOrder(ctx, models.OrderRequest{
		ClientID:   uuid.NewString(),
		Symbol:     symbol,
		Type:       models.OrderMarket,
		Side:       models.OrderSideFor(p.Side.Opposite()),
		Quantity:   qty,
		ReduceOnly: true,
	})
	if err != nil {
		return s.fail(symbol, "close order", err)
	}
	if err := s.syncLocked(ctx); err != nil {
		s.log.Warn("sync after close failed", logger.String("symbol", symbol), logger.Error(err))
	}
	s.log.Info("position closed", logger.String("symbol", symbol), logger.Float64("pct", pct), logger.Float64("qty", qty))
	return models.OKResult(symbol, fmt.Sprintf("closed %g%% of %s", pct, symbol), &order)
}

// EmergencyCloseAll flattens every position through the venue's close call.
// A failure on one symbol does not stop the others.
func (s *Store) EmergencyCloseAll(ctx context.Context) []models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := s.Positions()
	results := make([]models.Result, 0, len(positions))
	for _, p := range positions {
		results = append(results, s.flattenLocked(ctx, p.Symbol))
	}
	if err := s.syncLocked(ctx); err != nil {
		s.log.Warn("sync after emergency close failed", logger.Error(err))
	}
	s.log.Warn("emergency close executed", logger.Int("positions", len(positions)))
	return results
}

func (s *Store) flattenLocked(ctx context.Context, symbol string) models.Result {
	order, err := s.exchange.ClosePosition(ctx, symbol)
	if err != nil {
		return s.fail(symbol, "close position", err)
	}
	s.log.Info("position flattened", logger.String("symbol", symbol), logger.String("order", order.ID))
	return models.OKResult(symbol, fmt.Sprintf("closed 100%% of %s", symbol), &order)
}

// AdjustLeverage changes leverage after checking the venue maximum.
func (s *Store) AdjustLeverage(ctx context.Context, symbol string, leverage int) models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if leverage < 1 {
		return models.ErrorResult(symbol, "leverage must be at least 1")
	}
	maxLev, err := s.exchange.GetMaxLeverage(ctx, symbol)
	if err != nil {
		return s.fail(symbol, "max leverage", err)
	}
	if maxLev > 0 && leverage > maxLev {
		return models.ErrorResult(symbol, fmt.Sprintf("leverage %d exceeds maximum %d", leverage, maxLev))
	}
	if err := s.exchange.SetLeverage(ctx, symbol, leverage); err != nil {
		return s.fail(symbol, "set leverage", err)
	}
	if err := s.syncLocked(ctx); err != nil {
		s.log.Warn("sync after leverage change failed", logger.String("symbol", symbol), logger.Error(err))
	}
	return models.OKResult(symbol, fmt.Sprintf("leverage set to %dx", leverage), nil)
}

// AddStopLoss places a reduce-only stop market order against the position.
func (s *Store) AddStopLoss(ctx context.Context, symbol string, price float64) models.Result {
	return s.addProtective(ctx, symbol, models.OrderStopMarket, price, "stop loss")
}

// AddTakeProfit places a reduce-only take-profit market order.
func (s *Store) AddTakeProfit(ctx context.Context, symbol string, price float64) models.Result {
	return s.addProtective(ctx, symbol, models.OrderTakeProfitMarket, price, "take profit")
}

func (s *Store) addProtective(ctx context.Context, symbol string, typ models.OrderType, price float64, label string) models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.snap.Load().positions[symbol]
	if !ok {
		return models.ErrorResult(symbol, fmt.Sprintf("no position found for %s", symbol))
	}
	if price <= 0 {
		return models.ErrorResult(symbol, "price must be positive")
	}
	order, err := s.placeProtective(ctx, symbol, typ, models.OrderSideFor(p.Side.Opposite()), p.Size(), price)
	if err != nil {
		return s.fail(symbol, label, err)
	}
	return models.OKResult(symbol, fmt.Sprintf("%s set at %g", label, price), &order)
}

func (s *Store) placeProtective(ctx context.Context, symbol string, typ models.OrderType, side models.OrderSide, qty, price float64) (models.Order, error) {
	return s.exchange.CreateOrder(ctx, models.OrderRequest{
		ClientID:   uuid.NewString(),
		Symbol:     symbol,
		Type:       typ,
		Side:       side,
		Quantity:   qty,
		StopPrice:  price,
		ReduceOnly: true,
	})
}

// FundingRate queries the current funding rate of a symbol.
func (s *Store) FundingRate(ctx context.Context, symbol string) (models.FundingRate, error) {
	fr, err := s.exchange.GetFundingRate(ctx, symbol)
	if err != nil {
		return models.FundingRate{}, fmt.Errorf("funding rate %s: %w", symbol, err)
	}
	return fr, nil
}

// RiskMetrics recomputes account risk from the current positions and a fresh
// balance. It returns the safe default when the balance cannot be read.
func (s *Store) RiskMetrics(ctx context.Context) models.RiskMetrics {
	now := s.now()
	balances, err := s.exchange.GetBalance(ctx)
	if err != nil {
		s.log.Warn("balance fetch failed, using safe risk metrics", logger.Error(err))
		return models.SafeRiskMetrics(now)
	}
	bal, ok := balances[s.cfg.QuoteAsset]
	if !ok {
		s.log.Warn("quote asset missing from balance", logger.String("asset", s.cfg.QuoteAsset))
		return models.SafeRiskMetrics(now)
	}
	return s.computeMetrics(bal, s.Positions(), now)
}

func (s *Store) computeMetrics(bal models.Balance, positions []models.Position, now time.Time) models.RiskMetrics {
	m := models.RiskMetrics{
		TotalMargin:     bal.Total,
		FreeMargin:      bal.Free,
		UsedMargin:      bal.Used,
		PositionsCount:  len(positions),
		MaxPositionSize: bal.Total * s.cfg.MaxPositionPct,
		UpdatedAt:       now,
	}
	var pnl float64
	for _, p := range positions {
		m.TotalNotional += p.Notional()
		if p.Leverage > m.MaxLeverage {
			m.MaxLeverage = p.Leverage
		}
		pnl += p.UnrealizedPnL
	}
	m.DailyPnL = pnl
	m.WeeklyPnL = pnl
	if bal.Total > 0 {
		m.CurrentLeverage = m.TotalNotional / bal.Total
		m.MarginUsagePct = (bal.Total - bal.Free) / bal.Total * 100
	}
	if bal.Used > 0 {
		m.MarginLevel = bal.Total / bal.Used * 100
	} else {
		m.MarginLevel = math.Inf(1)
	}
	m.IsOverleveraged = m.MarginLevel < s.cfg.OverleverageLevel
	return m
}

// LiquidationRisk lists positions close to their liquidation price, nearest first.
func (s *Store) LiquidationRisk() []models.LiquidationRisk {
	out := make([]models.LiquidationRisk, 0)
	for _, p := range s.Positions() {
		if p.LiquidationPrice <= 0 || p.MarkPrice <= 0 {
			continue
		}
		var dist float64
		if p.Side == models.SideLong {
			dist = (p.MarkPrice - p.LiquidationPrice) / p.MarkPrice * 100
		} else {
			dist = (p.LiquidationPrice - p.MarkPrice) / p.MarkPrice * 100
		}
		if dist >= s.cfg.LiquidationWarnPct {
			continue
		}
		level := models.RiskMedium
		if dist < s.cfg.LiquidationHighPct {
			level = models.RiskHigh
		}
		out = append(out, models.LiquidationRisk{
			Symbol:           p.Symbol,
			Side:             p.Side,
			MarkPrice:        p.MarkPrice,
			LiquidationPrice: p.LiquidationPrice,
			DistancePct:      dist,
			Level:            level,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistancePct < out[j].DistancePct })
	return out
}

// Summary aggregates the open positions.
func (s *Store) Summary() models.PositionSummary {
	positions := s.Positions()
	sum := models.PositionSummary{Count: len(positions), Positions: positions}
	var margin float64
	for _, p := range positions {
		sum.TotalNotional += p.Notional()
		sum.TotalPnL += p.UnrealizedPnL
		margin += p.Margin
	}
	if margin > 0 {
		sum.PnLPct = sum.TotalPnL / margin * 100
	}
	return sum
}

func (s *Store) fail(symbol, op string, err error) models.Result {
	s.log.Error("position operation failed", logger.String("symbol", symbol), logger.String("op", op), logger.Error(err))
	return models.ErrorResult(symbol, fmt.Sprintf("%s: %v", op, err))
}

func oppositeOrderSide(side models.OrderSide) models.OrderSide {
	if side == models.OrderBuy {
		return models.OrderSell
	}
	return models.OrderBuy
}
