package exchange

import (
	"context"
	"errors"
	"math"
	"testing"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/pkg/logger"
)

func newPaper() *Paper {
	cfg := DefaultPaperConfig()
	cfg.FeeRate = 0
	return NewPaper(cfg, nil, logger.Nop())
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestPaperOpenAndClose(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	p.SetMark("BTCUSDT", 100)
	if err := p.SetLeverage(ctx, "BTCUSDT", 10); err != nil {
		t.Fatalf("leverage: %v", err)
	}
	if _, err := p.CreateOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Type: models.OrderMarket, Side: models.OrderBuy, Quantity: 2}); err != nil {
		t.Fatalf("open: %v", err)
	}
	p.SetMark("BTCUSDT", 110)

	positions, _ := p.GetPositions(ctx)
	if len(positions) != 1 {
		t.Fatalf("expected one position, got %d", len(positions))
	}
	pos := positions[0]
	if pos.Side != models.SideLong || !approx(pos.Margin, 20) || !approx(pos.UnrealizedPnL, 20) {
		t.Fatalf("unexpected position %+v", pos)
	}
	if !approx(pos.LiquidationPrice, 100*(1-0.1+0.004)) {
		t.Fatalf("liquidation price %v", pos.LiquidationPrice)
	}

	bal, _ := p.GetBalance(ctx)
	if !approx(bal["USDT"].Used, 20) || !approx(bal["USDT"].Total, 10020) {
		t.Fatalf("balance %+v", bal["USDT"])
	}

	if _, err := p.ClosePosition(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("close: %v", err)
	}
	positions, _ = p.GetPositions(ctx)
	if len(positions) != 0 {
		t.Fatalf("position should be gone")
	}
	bal, _ = p.GetBalance(ctx)
	if !approx(bal["USDT"].Total, 10020) || bal["USDT"].Used != 0 {
		t.Fatalf("realized balance %+v", bal["USDT"])
	}
}

func TestPaperPartialReduceShort(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	p.SetMark("ETHUSDT", 50)
	_, _ = p.CreateOrder(ctx, models.OrderRequest{Symbol: "ETHUSDT", Type: models.OrderMarket, Side: models.OrderSell, Quantity: 4})
	p.SetMark("ETHUSDT", 40)
	_, err := p.CreateOrder(ctx, models.OrderRequest{Symbol: "ETHUSDT", Type: models.OrderMarket, Side: models.OrderBuy, Quantity: 1, ReduceOnly: true})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	positions, _ := p.GetPositions(ctx)
	if positions[0].Contracts != -3 || !approx(positions[0].RealizedPnL, 10) {
		t.Fatalf("unexpected position %+v", positions[0])
	}
}

func TestPaperRejects(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	p.SetMark("BTCUSDT", 100)
	_, err := p.CreateOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Type: models.OrderMarket, Side: models.OrderBuy, Quantity: 1000})
	if KindOf(err) != KindInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	_, err = p.ClosePosition(ctx, "BTCUSDT")
	if !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected position not found, got %v", err)
	}
	_, err = p.CreateOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Type: models.OrderMarket, Side: models.OrderBuy, Quantity: 0.0001})
	if KindOf(err) != KindInvalidOrder {
		t.Fatalf("expected invalid order, got %v", err)
	}
}

func TestPaperStopLossTriggers(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	p.SetMark("BTCUSDT", 100)
	_, _ = p.CreateOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Type: models.OrderMarket, Side: models.OrderBuy, Quantity: 1})
	_, err := p.CreateOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Type: models.OrderStopMarket, Side: models.OrderSell, Quantity: 1, StopPrice: 95, ReduceOnly: true})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	_, _ = p.CreateOrder(ctx, models.OrderRequest{Symbol: "BTCUSDT", Type: models.OrderTakeProfitMarket, Side: models.OrderSell, Quantity: 1, StopPrice: 120, ReduceOnly: true})
	if len(p.RestingOrders()) != 2 {
		t.Fatalf("expected two resting orders")
	}

	p.SetMark("BTCUSDT", 97)
	if positions, _ := p.GetPositions(ctx); len(positions) != 1 {
		t.Fatalf("stop should not fire above 95")
	}
	p.SetMark("BTCUSDT", 94)
	if positions, _ := p.GetPositions(ctx); len(positions) != 0 {
		t.Fatalf("stop should have closed the position")
	}
	if len(p.RestingOrders()) != 0 {
		t.Fatalf("take profit should be cancelled with the position")
	}
}
