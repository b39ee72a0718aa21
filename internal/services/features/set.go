package features

import (
	"math"

	"FuturesPilot/internal/domain/models"
)

// Set holds the indicator series the regime classifier consumes.
type Set struct {
	Close, High, Low, Volume []float64

	SMA20, SMA50 []float64
	EMA12, EMA26 []float64

	ADX, PlusDI, MinusDI []float64
	RSI                  []float64

	MACD, MACDSignal, MACDHist []float64

	BBUpper, BBMiddle, BBLower, BBWidth []float64

	ATR, ATRPct []float64

	VolumeSMA20, VolumeRatio []float64
}

// ComputeFunc produces an indicator set from bars. The classifier accepts any
// implementation so indicator arithmetic stays swappable.
type ComputeFunc func(bars []models.PriceBar) Set

// Compute is the default ComputeFunc.
func Compute(bars []models.PriceBar) Set {
	n := len(bars)
	s := Set{
		Close:  make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Volume: make([]float64, n),
	}
	for i, b := range bars {
		s.Close[i] = b.Close
		s.High[i] = b.High
		s.Low[i] = b.Low
		s.Volume[i] = b.Volume
	}

	s.SMA20 = SMA(s.Close, 20)
	s.SMA50 = SMA(s.Close, 50)
	s.EMA12 = EMA(s.Close, 12)
	s.EMA26 = EMA(s.Close, 26)
	s.ADX, s.PlusDI, s.MinusDI = ADX(bars, 14)
	s.RSI = RSI(s.Close, 14)
	s.MACD, s.MACDSignal, s.MACDHist = MACD(s.Close, 12, 26, 9)
	s.BBUpper, s.BBMiddle, s.BBLower = Bollinger(s.Close, 20, 2)

	s.BBWidth = nanSeries(n)
	for i := range s.BBWidth {
		if s.BBMiddle[i] != 0 && !math.IsNaN(s.BBMiddle[i]) {
			s.BBWidth[i] = (s.BBUpper[i] - s.BBLower[i]) / s.BBMiddle[i] * 100
		}
	}

	s.ATR = ATR(bars, 14)
	s.ATRPct = nanSeries(n)
	for i := range s.ATRPct {
		if s.Close[i] != 0 && !math.IsNaN(s.ATR[i]) {
			s.ATRPct[i] = s.ATR[i] / s.Close[i] * 100
		}
	}

	s.VolumeSMA20 = SMA(s.Volume, 20)
	s.VolumeRatio = nanSeries(n)
	for i := range s.VolumeRatio {
		if s.VolumeSMA20[i] > 0 {
			s.VolumeRatio[i] = s.Volume[i] / s.VolumeSMA20[i]
		}
	}
	return s
}

// Last returns the final element of a series, NaN when empty.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// Tail returns the last n finite values of a series.
func Tail(series []float64, n int) []float64 {
	out := make([]float64, 0, n)
	for i := len(series) - 1; i >= 0 && len(out) < n; i-- {
		if !math.IsNaN(series[i]) {
			out = append(out, series[i])
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}
