package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
	"FuturesPilot/internal/service/cache"
	"FuturesPilot/internal/service/ratelimit"
	"FuturesPilot/pkg/logger"
)

type BinanceConfig struct {
	APIKey            string
	SecretKey         string
	Testnet           bool
	RequestsPerSecond float64
	Burst             float64
	KlineTTL          time.Duration
	MetaTTL           time.Duration
}

type symbolMeta struct {
	quantityPrecision int32
	pricePrecision    int32
}

// Binance is the USDT-margined futures adapter.
type Binance struct {
	client  *futures.Client
	cfg     BinanceConfig
	limiter *ratelimit.Limiter
	klines  *cache.TTLCache[[]models.PriceBar]
	meta    *cache.TTLCache[symbolMeta]
	maxLev  *cache.TTLCache[int]
	retry   *retrier
	log     *logger.Logger
	now     func() time.Time
}

func NewBinance(cfg BinanceConfig, log *logger.Logger) *Binance {
	// Must be set before the client is built; the endpoint is resolved at construction.
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.MetaTTL <= 0 {
		cfg.MetaTTL = time.Hour
	}
	return &Binance{
		client:  futures.NewClient(cfg.APIKey, cfg.SecretKey),
		cfg:     cfg,
		limiter: ratelimit.New(),
		klines:  cache.NewTTLCache[[]models.PriceBar](),
		meta:    cache.NewTTLCache[symbolMeta](),
		maxLev:  cache.NewTTLCache[int](),
		retry:   newRetrier(log),
		log:     log,
		now:     time.Now,
	}
}

func (b *Binance) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return b.retry.do(ctx, op, func(ctx context.Context) error {
		if err := b.limiter.Wait(ctx, "rest", b.cfg.Burst, b.cfg.RequestsPerSecond); err != nil {
			return err
		}
		return fn(ctx)
	})
}

func (b *Binance) GetPositions(ctx context.Context) ([]models.Position, error) {
	var raw []*futures.PositionRisk
	err := b.call(ctx, "positions", func(ctx context.Context) error {
		var err error
		raw, err = b.client.NewGetPositionRiskService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := b.now()
	out := make([]models.Position, 0, len(raw))
	for _, r := range raw {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		p := models.Position{
			Symbol:           r.Symbol,
			Side:             models.SideLong,
			Contracts:        amt,
			EntryPrice:       parseFloat(r.EntryPrice),
			MarkPrice:        parseFloat(r.MarkPrice),
			LiquidationPrice: parseFloat(r.LiquidationPrice),
			UnrealizedPnL:    parseFloat(r.UnRealizedProfit),
			Leverage:         int(parseFloat(r.Leverage)),
			MarginMode:       marginModeFrom(r.MarginType),
			SyncedAt:         now,
		}
		if amt < 0 {
			p.Side = models.SideShort
		}
		if p.MarginMode == models.MarginIsolated {
			p.Margin = parseFloat(r.IsolatedMargin)
		} else if p.Leverage > 0 {
			p.Margin = p.Notional() / float64(p.Leverage)
		}
		out = append(out, p)
	}
	return out, nil
}

func (b *Binance) GetBalance(ctx context.Context) (map[string]models.Balance, error) {
	var acct *futures.Account
	err := b.call(ctx, "balance", func(ctx context.Context) error {
		var err error
		acct, err = b.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Balance, len(acct.Assets))
	for _, a := range acct.Assets {
		total := parseFloat(a.MarginBalance)
		free := parseFloat(a.AvailableBalance)
		out[a.Asset] = models.Balance{Asset: a.Asset, Total: total, Free: free, Used: parseFloat(a.InitialMargin)}
	}
	return out, nil
}

func (b *Binance) GetKlines(ctx context.Context, symbol string, tf repository.Timeframe, limit int) ([]models.PriceBar, error) {
	key := fmt.Sprintf("%s|%s|%d", symbol, tf, limit)
	if bars, ok := b.klines.Get(key); ok {
		return bars, nil
	}

	var raw []*futures.Kline
	err := b.call(ctx, "klines", func(ctx context.Context) error {
		var err error
		raw, err = b.client.NewKlinesService().Symbol(symbol).Interval(string(tf)).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	bars := make([]models.PriceBar, len(raw))
	for i, k := range raw {
		bars[i] = models.PriceBar{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		}
	}
	if b.cfg.KlineTTL > 0 {
		b.klines.Set(key, bars, b.cfg.KlineTTL)
	}
	return bars, nil
}

func (b *Binance) GetFundingRate(ctx context.Context, symbol string) (models.FundingRate, error) {
	var raw []*futures.PremiumIndex
	err := b.call(ctx, "funding_rate", func(ctx context.Context) error {
		var err error
		raw, err = b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return models.FundingRate{}, err
	}
	for _, p := range raw {
		if p.Symbol == symbol {
			return models.FundingRate{
				Symbol:          symbol,
				Rate:            parseFloat(p.LastFundingRate),
				NextFundingTime: time.UnixMilli(p.NextFundingTime).UTC(),
			}, nil
		}
	}
	return models.FundingRate{}, &Error{Op: "funding_rate", Kind: KindUnknown, Err: fmt.Errorf("no premium index for %s", symbol)}
}

func (b *Binance) GetMaxLeverage(ctx context.Context, symbol string) (int, error) {
	if lev, ok := b.maxLev.Get(symbol); ok {
		return lev, nil
	}
	var raw []*futures.LeverageBracket
	err := b.call(ctx, "leverage_bracket", func(ctx context.Context) error {
		var err error
		raw, err = b.client.NewGetLeverageBracketService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	best := 1
	for _, lb := range raw {
		for _, br := range lb.Brackets {
			if br.InitialLeverage > best {
				best = br.InitialLeverage
			}
		}
	}
	b.maxLev.Set(symbol, best, b.cfg.MetaTTL)
	return best, nil
}

func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return b.call(ctx, "set_leverage", func(ctx context.Context) error {
		_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return err
	})
}

func (b *Binance) SetMarginMode(ctx context.Context, symbol string, mode models.MarginMode) error {
	mt := futures.MarginTypeIsolated
	if mode == models.MarginCross {
		mt = futures.MarginTypeCrossed
	}
	err := b.call(ctx, "set_margin_mode", func(ctx context.Context) error {
		return b.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(mt).Do(ctx)
	})
	var e *Error
	// -4046: margin type already set.
	if errors.As(err, &e) && e.Code == -4046 {
		return nil
	}
	return err
}

func (b *Binance) CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	meta, err := b.symbolMeta(ctx, req.Symbol)
	if err != nil {
		return models.Order{}, err
	}
	qty := formatDecimal(req.Quantity, meta.quantityPrecision)
	if qty == "0" {
		return models.Order{}, &Error{Op: "create_order", Kind: KindInvalidOrder, Err: fmt.Errorf("quantity %v rounds to zero", req.Quantity)}
	}
	if req.ClientID == "" {
		req.ClientID = NewClientOrderID()
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(qty).
		NewClientOrderID(req.ClientID)
	switch req.Type {
	case models.OrderLimit:
		svc = svc.Price(formatDecimal(req.Price, meta.pricePrecision)).TimeInForce(futures.TimeInForceTypeGTC)
	case models.OrderStopMarket, models.OrderTakeProfitMarket:
		svc = svc.StopPrice(formatDecimal(req.StopPrice, meta.pricePrecision)).WorkingType(futures.WorkingTypeMarkPrice)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	var resp *futures.CreateOrderResponse
	err = b.call(ctx, "create_order", func(ctx context.Context) error {
		var err error
		resp, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return models.Order{}, err
	}
	b.log.Info("order placed",
		logger.String("symbol", req.Symbol), logger.String("side", string(req.Side)),
		logger.String("type", string(req.Type)), logger.String("quantity", qty),
		logger.Int64("order_id", resp.OrderID))

	return models.Order{
		ID:        strconv.FormatInt(resp.OrderID, 10),
		ClientID:  resp.ClientOrderID,
		Symbol:    resp.Symbol,
		Type:      req.Type,
		Side:      req.Side,
		Quantity:  parseFloat(resp.OrigQuantity),
		Price:     parseFloat(resp.AvgPrice),
		StopPrice: parseFloat(resp.StopPrice),
		Status:    string(resp.Status),
		CreatedAt: time.UnixMilli(resp.UpdateTime).UTC(),
	}, nil
}

// ClosePosition flattens the whole position with a reduce-only market order.
func (b *Binance) ClosePosition(ctx context.Context, symbol string) (models.Order, error) {
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return models.Order{}, err
	}
	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}
		return b.CreateOrder(ctx, models.OrderRequest{
			Symbol:     symbol,
			Type:       models.OrderMarket,
			Side:       models.OrderSideFor(p.Side.Opposite()),
			Quantity:   p.Size(),
			ReduceOnly: true,
		})
	}
	return models.Order{}, &Error{Op: "close_position", Kind: KindPositionNotFound, Err: fmt.Errorf("no open position for %s", symbol)}
}

func (b *Binance) symbolMeta(ctx context.Context, symbol string) (symbolMeta, error) {
	if m, ok := b.meta.Get(symbol); ok {
		return m, nil
	}
	var info *futures.ExchangeInfo
	err := b.call(ctx, "exchange_info", func(ctx context.Context) error {
		var err error
		info, err = b.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return symbolMeta{}, err
	}
	var found *symbolMeta
	for _, s := range info.Symbols {
		m := symbolMeta{quantityPrecision: int32(s.QuantityPrecision), pricePrecision: int32(s.PricePrecision)}
		b.meta.Set(s.Symbol, m, b.cfg.MetaTTL)
		if s.Symbol == symbol {
			found = &m
		}
	}
	if found == nil {
		return symbolMeta{}, &Error{Op: "exchange_info", Kind: KindInvalidOrder, Err: fmt.Errorf("unknown symbol %s", symbol)}
	}
	return *found, nil
}

// NewClientOrderID returns an id within the venue's 36 character limit.
func NewClientOrderID() string {
	return "fp-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// formatDecimal truncates toward zero so a rounded quantity never exceeds the request.
func formatDecimal(v float64, precision int32) string {
	return decimal.NewFromFloat(v).Truncate(precision).String()
}

func marginModeFrom(s string) models.MarginMode {
	if strings.EqualFold(s, "isolated") {
		return models.MarginIsolated
	}
	return models.MarginCross
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
