package features

import (
	"math"

	"FuturesPilot/internal/domain/models"
)

// Indicator series are aligned with the input bars. Positions without enough
// history hold NaN.

// SMA computes a simple moving average.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes an exponential moving average seeded with the first value.
// The first period-1 positions are NaN.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	ema := values[0]
	for i, v := range values {
		if i > 0 {
			ema = alpha*v + (1-alpha)*ema
		}
		if i >= period-1 {
			out[i] = ema
		}
	}
	return out
}

// RollingMax returns the maximum over a trailing window.
func RollingMax(values []float64, period int) []float64 {
	return rolling(values, period, func(w []float64) float64 {
		m := w[0]
		for _, v := range w[1:] {
			m = math.Max(m, v)
		}
		return m
	})
}

// RollingMin returns the minimum over a trailing window.
func RollingMin(values []float64, period int) []float64 {
	return rolling(values, period, func(w []float64) float64 {
		m := w[0]
		for _, v := range w[1:] {
			m = math.Min(m, v)
		}
		return m
	})
}

// RollingStd returns the population standard deviation over a trailing window.
func RollingStd(values []float64, period int) []float64 {
	return rolling(values, period, StdDev)
}

// Mean of a slice, 0 when empty.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev is the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)))
}

// RSI uses Wilder smoothing of gains and losses.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	out[period] = rsiValue(gain, loss)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		up, down := 0.0, 0.0
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		gain = (gain*float64(period-1) + up) / float64(period)
		loss = (loss*float64(period-1) + down) / float64(period)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// MACD returns the macd line, its signal line and the histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	line = nanSeries(len(closes))
	start := -1
	for i := range closes {
		if !math.IsNaN(fastEMA[i]) && !math.IsNaN(slowEMA[i]) {
			line[i] = fastEMA[i] - slowEMA[i]
			if start < 0 {
				start = i
			}
		}
	}
	sig = nanSeries(len(closes))
	hist = nanSeries(len(closes))
	if start < 0 {
		return line, sig, hist
	}
	s := EMA(line[start:], signal)
	copy(sig[start:], s)
	for i := range closes {
		if !math.IsNaN(line[i]) && !math.IsNaN(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return line, sig, hist
}

// Bollinger returns upper, middle and lower bands.
func Bollinger(closes []float64, period int, k float64) (upper, middle, lower []float64) {
	middle = SMA(closes, period)
	std := RollingStd(closes, period)
	upper = nanSeries(len(closes))
	lower = nanSeries(len(closes))
	for i := range closes {
		if math.IsNaN(middle[i]) {
			continue
		}
		upper[i] = middle[i] + k*std[i]
		lower[i] = middle[i] - k*std[i]
	}
	return upper, middle, lower
}

// TrueRange of each bar; the first bar uses its own high-low range.
func TrueRange(bars []models.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATR is the Wilder-smoothed average true range.
func ATR(bars []models.PriceBar, period int) []float64 {
	tr := TrueRange(bars)
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period {
		return out
	}
	atr := Mean(tr[:period])
	out[period-1] = atr
	for i := period; i < len(bars); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// ADX returns the average directional index with the +DI and -DI lines.
func ADX(bars []models.PriceBar, period int) (adx, plusDI, minusDI []float64) {
	n := len(bars)
	adx, plusDI, minusDI = nanSeries(n), nanSeries(n), nanSeries(n)
	if period <= 0 || n < 2*period+1 {
		return adx, plusDI, minusDI
	}
	tr := TrueRange(bars)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	var sTR, sPlus, sMinus float64
	for i := 1; i <= period; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}
	dx := nanSeries(n)
	p := float64(period)
	for i := period; i < n; i++ {
		if i > period {
			sTR = sTR - sTR/p + tr[i]
			sPlus = sPlus - sPlus/p + plusDM[i]
			sMinus = sMinus - sMinus/p + minusDM[i]
		}
		if sTR == 0 {
			plusDI[i], minusDI[i], dx[i] = 0, 0, 0
			continue
		}
		plusDI[i] = 100 * sPlus / sTR
		minusDI[i] = 100 * sMinus / sTR
		if sum := plusDI[i] + minusDI[i]; sum > 0 {
			dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / sum
		} else {
			dx[i] = 0
		}
	}

	first := 2*period - 1
	avg := Mean(dx[period : first+1])
	adx[first] = avg
	for i := first + 1; i < n; i++ {
		avg = (avg*(p-1) + dx[i]) / p
		adx[i] = avg
	}
	return adx, plusDI, minusDI
}

func rolling(values []float64, period int, fn func([]float64) float64) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		out[i] = fn(values[i-period+1 : i+1])
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
