package exchange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
	"FuturesPilot/pkg/logger"
)

type PaperConfig struct {
	QuoteAsset        string
	InitialBalance    float64
	FeeRate           float64
	MaintenanceMargin float64
	MaxLeverage       int
	QuantityPrecision int32
}

func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		QuoteAsset:        "USDT",
		InitialBalance:    10000,
		FeeRate:           0.0004,
		MaintenanceMargin: 0.004,
		MaxLeverage:       125,
		QuantityPrecision: 3,
	}
}

type paperPosition struct {
	contracts float64
	entry     float64
	margin    float64
	leverage  int
	mode      models.MarginMode
	realized  float64
}

// Paper simulates a futures account in memory. Market data comes from an
// optional upstream exchange; marks can also be set directly.
type Paper struct {
	cfg      PaperConfig
	upstream repository.Exchange
	log      *logger.Logger
	now      func() time.Time

	mu        sync.Mutex
	wallet    float64
	marks     map[string]float64
	leverage  map[string]int
	modes     map[string]models.MarginMode
	positions map[string]*paperPosition
	resting   []models.Order
	seq       int64
}

func NewPaper(cfg PaperConfig, upstream repository.Exchange, log *logger.Logger) *Paper {
	return &Paper{
		cfg:       cfg,
		upstream:  upstream,
		log:       log,
		now:       time.Now,
		wallet:    cfg.InitialBalance,
		marks:     make(map[string]float64),
		leverage:  make(map[string]int),
		modes:     make(map[string]models.MarginMode),
		positions: make(map[string]*paperPosition),
	}
}

// SetMark overrides the mark price for symbol and fires any triggered protective orders.
func (p *Paper) SetMark(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price
	p.triggerLocked(symbol)
}

func (p *Paper) refreshMark(ctx context.Context, symbol string) error {
	if p.upstream == nil {
		return nil
	}
	bars, err := p.upstream.GetKlines(ctx, symbol, repository.TF1m, 1)
	if err != nil {
		return err
	}
	if len(bars) > 0 {
		p.SetMark(symbol, bars[len(bars)-1].Close)
	}
	return nil
}

func (p *Paper) mark(symbol string) (float64, bool) {
	m, ok := p.marks[symbol]
	return m, ok && m > 0
}

func (p *Paper) GetPositions(ctx context.Context) ([]models.Position, error) {
	p.mu.Lock()
	symbols := make([]string, 0, len(p.positions))
	for s := range p.positions {
		symbols = append(symbols, s)
	}
	p.mu.Unlock()

	for _, s := range symbols {
		if err := p.refreshMark(ctx, s); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make([]models.Position, 0, len(p.positions))
	for s, pp := range p.positions {
		out = append(out, p.viewLocked(s, pp, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (p *Paper) viewLocked(symbol string, pp *paperPosition, now time.Time) models.Position {
	mark, ok := p.mark(symbol)
	if !ok {
		mark = pp.entry
	}
	pos := models.Position{
		Symbol:        symbol,
		Side:          models.SideLong,
		Contracts:     pp.contracts,
		EntryPrice:    pp.entry,
		MarkPrice:     mark,
		UnrealizedPnL: pp.contracts * (mark - pp.entry),
		RealizedPnL:   pp.realized,
		Margin:        pp.margin,
		Leverage:      pp.leverage,
		MarginMode:    pp.mode,
		SyncedAt:      now,
	}
	inv := 1 / float64(pp.leverage)
	if pp.contracts < 0 {
		pos.Side = models.SideShort
		pos.LiquidationPrice = pp.entry * (1 + inv - p.cfg.MaintenanceMargin)
	} else {
		pos.LiquidationPrice = pp.entry * (1 - inv + p.cfg.MaintenanceMargin)
	}
	return pos
}

func (p *Paper) GetBalance(context.Context) (map[string]models.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var used, upnl float64
	for s, pp := range p.positions {
		used += pp.margin
		if mark, ok := p.mark(s); ok {
			upnl += pp.contracts * (mark - pp.entry)
		}
	}
	return map[string]models.Balance{
		p.cfg.QuoteAsset: {
			Asset: p.cfg.QuoteAsset,
			Total: p.wallet + upnl,
			Free:  p.wallet - used,
			Used:  used,
		},
	}, nil
}

func (p *Paper) GetKlines(ctx context.Context, symbol string, tf repository.Timeframe, limit int) ([]models.PriceBar, error) {
	if p.upstream == nil {
		return nil, &Error{Op: "klines", Kind: KindUnknown, Err: fmt.Errorf("paper exchange has no market data source")}
	}
	return p.upstream.GetKlines(ctx, symbol, tf, limit)
}

func (p *Paper) GetFundingRate(ctx context.Context, symbol string) (models.FundingRate, error) {
	if p.upstream == nil {
		return models.FundingRate{Symbol: symbol, NextFundingTime: p.now().Truncate(8 * time.Hour).Add(8 * time.Hour)}, nil
	}
	return p.upstream.GetFundingRate(ctx, symbol)
}

func (p *Paper) GetMaxLeverage(context.Context, string) (int, error) { return p.cfg.MaxLeverage, nil }

func (p *Paper) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage < 1 || leverage > p.cfg.MaxLeverage {
		return &Error{Op: "set_leverage", Kind: KindInvalidOrder, Err: fmt.Errorf("leverage %d out of range", leverage)}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[symbol] = leverage
	if pp, ok := p.positions[symbol]; ok {
		pp.leverage = leverage
		pp.margin = math.Abs(pp.contracts) * pp.entry / float64(leverage)
	}
	return nil
}

func (p *Paper) SetMarginMode(_ context.Context, symbol string, mode models.MarginMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modes[symbol] = mode
	return nil
}

func (p *Paper) CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	if req.Type == models.OrderMarket {
		if _, ok := p.currentMark(req.Symbol); !ok {
			if err := p.refreshMark(ctx, req.Symbol); err != nil {
				return models.Order{}, err
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	qty, _ := decimal.NewFromFloat(req.Quantity).Truncate(p.cfg.QuantityPrecision).Float64()
	if qty <= 0 {
		return models.Order{}, &Error{Op: "create_order", Kind: KindInvalidOrder, Err: fmt.Errorf("quantity %v rounds to zero", req.Quantity)}
	}
	if req.ClientID == "" {
		req.ClientID = NewClientOrderID()
	}
	p.seq++
	order := models.Order{
		ID:        strconv.FormatInt(p.seq, 10),
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Type:      req.Type,
		Side:      req.Side,
		Quantity:  qty,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Status:    "NEW",
		CreatedAt: p.now(),
	}

	switch req.Type {
	case models.OrderStopMarket, models.OrderTakeProfitMarket:
		if req.StopPrice <= 0 {
			return models.Order{}, &Error{Op: "create_order", Kind: KindInvalidOrder, Err: fmt.Errorf("stop price required")}
		}
		p.resting = append(p.resting, order)
		return order, nil
	case models.OrderLimit:
		return models.Order{}, &Error{Op: "create_order", Kind: KindInvalidOrder, Err: fmt.Errorf("limit orders are not simulated")}
	}

	mark, ok := p.mark(req.Symbol)
	if !ok {
		return models.Order{}, &Error{Op: "create_order", Kind: KindInvalidOrder, Err: fmt.Errorf("no mark price for %s", req.Symbol)}
	}
	signed := qty
	if req.Side == models.OrderSell {
		signed = -qty
	}
	if err := p.fillLocked(req.Symbol, signed, mark, req.ReduceOnly); err != nil {
		return models.Order{}, err
	}
	order.Price = mark
	order.Status = "FILLED"
	p.log.Info("paper order filled",
		logger.String("symbol", req.Symbol), logger.String("side", string(req.Side)),
		logger.Float64("quantity", qty), logger.Float64("price", mark))
	return order, nil
}

func (p *Paper) currentMark(symbol string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mark(symbol)
}

// fillLocked applies a signed fill at price. Reducing fills realize pnl;
// opening fills reserve margin.
func (p *Paper) fillLocked(symbol string, signed, price float64, reduceOnly bool) error {
	pp := p.positions[symbol]
	if pp != nil && sameSign(pp.contracts, -signed) {
		closing := math.Min(math.Abs(signed), math.Abs(pp.contracts))
		frac := closing / math.Abs(pp.contracts)
		pnl := closing * (price - pp.entry)
		if pp.contracts < 0 {
			pnl = -pnl
		}
		pnl -= closing * price * p.cfg.FeeRate
		p.wallet += pnl
		pp.realized += pnl
		pp.margin -= pp.margin * frac
		if pp.contracts > 0 {
			pp.contracts -= closing
		} else {
			pp.contracts += closing
		}
		if math.Abs(pp.contracts) < 1e-12 {
			delete(p.positions, symbol)
			p.dropRestingLocked(symbol)
			pp = nil
		}
		remaining := math.Abs(signed) - closing
		if remaining <= 1e-12 || reduceOnly {
			return nil
		}
		if signed < 0 {
			signed = -remaining
		} else {
			signed = remaining
		}
	} else if reduceOnly {
		return &Error{Op: "create_order", Kind: KindPositionNotFound, Err: fmt.Errorf("reduce-only order with no position for %s", symbol)}
	}

	lev := p.leverage[symbol]
	if lev <= 0 {
		lev = 1
	}
	need := math.Abs(signed) * price / float64(lev)
	fee := math.Abs(signed) * price * p.cfg.FeeRate
	var used float64
	for _, o := range p.positions {
		used += o.margin
	}
	if p.wallet-used < need+fee {
		return &Error{Op: "create_order", Kind: KindInsufficientBalance, Err: fmt.Errorf("need %.2f, free %.2f", need+fee, p.wallet-used)}
	}
	p.wallet -= fee

	if pp == nil {
		mode := p.modes[symbol]
		if mode == "" {
			mode = models.MarginIsolated
		}
		p.positions[symbol] = &paperPosition{contracts: signed, entry: price, margin: need, leverage: lev, mode: mode}
		return nil
	}
	total := pp.contracts + signed
	pp.entry = (pp.entry*math.Abs(pp.contracts) + price*math.Abs(signed)) / math.Abs(total)
	pp.contracts = total
	pp.margin += need
	return nil
}

// triggerLocked fills resting stop and take-profit orders crossed by the mark.
func (p *Paper) triggerLocked(symbol string) {
	mark, ok := p.mark(symbol)
	if !ok {
		return
	}
	kept := p.resting[:0]
	var fire []models.Order
	for _, o := range p.resting {
		if o.Symbol == symbol && triggered(o, mark) {
			fire = append(fire, o)
			continue
		}
		kept = append(kept, o)
	}
	p.resting = kept
	for _, o := range fire {
		signed := o.Quantity
		if o.Side == models.OrderSell {
			signed = -signed
		}
		if err := p.fillLocked(symbol, signed, mark, true); err != nil {
			p.log.Warn("paper trigger skipped", logger.String("symbol", symbol), logger.Error(err))
			continue
		}
		p.log.Info("paper protective order triggered",
			logger.String("symbol", symbol), logger.String("type", string(o.Type)), logger.Float64("mark", mark))
	}
}

// triggered reports whether the mark has crossed o's stop price in the
// direction that closes the protected position.
func triggered(o models.Order, mark float64) bool {
	sell := o.Side == models.OrderSell
	switch o.Type {
	case models.OrderStopMarket:
		return (sell && mark <= o.StopPrice) || (!sell && mark >= o.StopPrice)
	case models.OrderTakeProfitMarket:
		return (sell && mark >= o.StopPrice) || (!sell && mark <= o.StopPrice)
	}
	return false
}

func (p *Paper) dropRestingLocked(symbol string) {
	kept := p.resting[:0]
	for _, o := range p.resting {
		if o.Symbol != symbol {
			kept = append(kept, o)
		}
	}
	p.resting = kept
}

func (p *Paper) ClosePosition(ctx context.Context, symbol string) (models.Order, error) {
	p.mu.Lock()
	pp, ok := p.positions[symbol]
	var side models.OrderSide
	var qty float64
	if ok {
		side = models.OrderBuy
		if pp.contracts > 0 {
			side = models.OrderSell
		}
		qty = math.Abs(pp.contracts)
	}
	p.mu.Unlock()
	if !ok {
		return models.Order{}, &Error{Op: "close_position", Kind: KindPositionNotFound, Err: fmt.Errorf("no open position for %s", symbol)}
	}
	return p.CreateOrder(ctx, models.OrderRequest{Symbol: symbol, Type: models.OrderMarket, Side: side, Quantity: qty, ReduceOnly: true})
}

// RestingOrders returns protective orders not yet triggered.
func (p *Paper) RestingOrders() []models.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Order, len(p.resting))
	copy(out, p.resting)
	return out
}

func sameSign(a, b float64) bool { return (a > 0 && b > 0) || (a < 0 && b < 0) }
