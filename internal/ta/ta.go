package ta

import (
	"math"

	"llm-dealer/internal/types"
)

// Standard windows. Every indicator clamps its window to the number of
// available values, so short histories yield a value instead of NaN.
const (
	SMAWindow    = 10
	EMAWindow    = 20
	RSIWindow    = 14
	MACDFast     = 12
	MACDSlow     = 26
	MACDSignal   = 9
	BBWindow     = 20
	BBDeviations = 2.0
	ATRWindow    = 14
)

func clamp(n, available int) int {
	if n > available {
		n = available
	}
	return n
}

func SMA(closes []float64, n int) float64 {
	n = clamp(n, len(closes))
	if n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

// EMASeries returns the exponential moving average of every point, seeded
// with the first value (alpha = 2/(span+1), no bias adjustment).
func EMASeries(vals []float64, span int) []float64 {
	span = clamp(span, len(vals))
	if span <= 0 {
		return nil
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(vals))
	out[0] = vals[0]
	for i := 1; i < len(vals); i++ {
		out[i] = alpha*vals[i] + (1-alpha)*out[i-1]
	}
	return out
}

func EMA(vals []float64, span int) float64 {
	s := EMASeries(vals, span)
	if len(s) == 0 {
		return math.NaN()
	}
	return s[len(s)-1]
}

// RSI averages gains and losses over the last period changes. With fewer
// than two closes there is no change to measure and 50 is returned.
func RSI(closes []float64, period int) float64 {
	period = clamp(period, len(closes)-1)
	if period <= 0 {
		if len(closes) == 0 {
			return math.NaN()
		}
		return 50.0
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

// MACD returns the fast-minus-slow EMA line and its signal EMA.
func MACD(closes []float64, fast, slow, signal int) (line, sig float64) {
	if len(closes) == 0 {
		return math.NaN(), math.NaN()
	}
	f := EMASeries(closes, fast)
	s := EMASeries(closes, slow)
	diff := make([]float64, len(closes))
	for i := range closes {
		diff[i] = f[i] - s[i]
	}
	return diff[len(diff)-1], EMA(diff, signal)
}

func StdDev(vals []float64, n int) float64 {
	n = clamp(n, len(vals))
	if n <= 0 {
		return math.NaN()
	}
	m := SMA(vals, n)
	s := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - m
		s += d * d
	}
	return math.Sqrt(s / float64(n))
}

func Bollinger(closes []float64, n int, k float64) (mid, up, low float64) {
	mid = SMA(closes, n)
	sd := StdDev(closes, n)
	up = mid + k*sd
	low = mid - k*sd
	return
}

// ATR averages the true range of the last period bars. The first bar in
// the series has no previous close and contributes high-low only.
func ATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) != len(lows) || len(lows) != len(closes) {
		return math.NaN()
	}
	n := clamp(period, len(closes))
	if n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		tr := highs[i] - lows[i]
		if i > 0 {
			tr = math.Max(tr, math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		}
		sum += tr
	}
	return sum / float64(n)
}

// Compute evaluates every indicator over bars, oldest first.
func Compute(bars []types.Bar) types.Indicators {
	var ind types.Indicators
	if len(bars) == 0 {
		return ind
	}
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], highs[i], lows[i] = b.Close, b.High, b.Low
	}
	n := len(bars)
	ind.SMA10 = SMA(closes, SMAWindow)
	ind.EMA20 = EMA(closes, EMAWindow)
	ind.RSI = RSI(closes, RSIWindow)
	ind.MACD, ind.MACDSignal = MACD(closes, MACDFast, MACDSlow, MACDSignal)
	ind.BB.Middle, ind.BB.Upper, ind.BB.Lower = Bollinger(closes, BBWindow, BBDeviations)
	ind.ATR = ATR(highs, lows, closes, ATRWindow)
	ind.Windows = map[string]int{
		"sma":       clamp(SMAWindow, n),
		"ema":       clamp(EMAWindow, n),
		"rsi":       clamp(RSIWindow, n-1),
		"macd_fast": clamp(MACDFast, n),
		"macd_slow": clamp(MACDSlow, n),
		"bollinger": clamp(BBWindow, n),
		"atr":       clamp(ATRWindow, n),
	}
	ind.Valid = true
	return ind
}
