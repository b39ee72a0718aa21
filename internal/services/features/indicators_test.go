package features

import (
	"math"
	"testing"
	"time"

	"FuturesPilot/internal/domain/models"
)

func approx(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	if !math.IsNaN(got[1]) {
		t.Fatalf("expected NaN during warm-up, got %v", got[1])
	}
	if got[2] != 2 || got[4] != 4 {
		t.Fatalf("unexpected sma: %v", got)
	}
}

func TestEMAConstantSeries(t *testing.T) {
	vals := []float64{5, 5, 5, 5, 5, 5}
	got := EMA(vals, 3)
	if got[5] != 5 {
		t.Fatalf("ema of constant series should be constant, got %v", got[5])
	}
}

func TestRSIBounds(t *testing.T) {
	up := make([]float64, 40)
	for i := range up {
		up[i] = float64(100 + i)
	}
	rsi := RSI(up, 14)
	if Last(rsi) != 100 {
		t.Fatalf("monotonic rise should give RSI 100, got %v", Last(rsi))
	}
	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 10
	}
	if v := Last(RSI(flat, 14)); v != 50 {
		t.Fatalf("flat series should give RSI 50, got %v", v)
	}
}

func TestATRConstantRange(t *testing.T) {
	bars := make([]models.PriceBar, 30)
	for i := range bars {
		bars[i] = models.PriceBar{OpenTime: time.Unix(int64(i*60), 0), Open: 100, High: 101, Low: 99, Close: 100}
	}
	if v := Last(ATR(bars, 14)); !approx(v, 2, 1e-9) {
		t.Fatalf("expected ATR 2, got %v", v)
	}
}

func TestADXStrongUptrend(t *testing.T) {
	bars := make([]models.PriceBar, 60)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = models.PriceBar{High: c + 1, Low: c - 1, Close: c}
	}
	adx, plus, minus := ADX(bars, 14)
	if Last(adx) < 50 {
		t.Fatalf("expected strong ADX, got %v", Last(adx))
	}
	if Last(plus) <= Last(minus) {
		t.Fatalf("expected +DI > -DI, got %v <= %v", Last(plus), Last(minus))
	}
}

func TestRollingAndTail(t *testing.T) {
	vals := []float64{3, 1, 4, 1, 5, 9, 2}
	if v := Last(RollingMax(vals, 3)); v != 9 {
		t.Fatalf("rolling max: %v", v)
	}
	if v := Last(RollingMin(vals, 3)); v != 2 {
		t.Fatalf("rolling min: %v", v)
	}
	tail := Tail(SMA(vals, 3), 2)
	if len(tail) != 2 || !approx(tail[1], 16.0/3, 1e-9) {
		t.Fatalf("tail: %v", tail)
	}
}

func TestMACDHistogramSign(t *testing.T) {
	vals := make([]float64, 80)
	for i := range vals {
		vals[i] = float64(i) * float64(i) / 10
	}
	_, _, hist := MACD(vals, 12, 26, 9)
	if Last(hist) <= 0 {
		t.Fatalf("accelerating rise should have positive histogram, got %v", Last(hist))
	}
}
