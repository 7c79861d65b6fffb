package ta

import (
	"math"
	"testing"
	"time"

	"llm-dealer/internal/types"
)

func TestSMAClampsWindow(t *testing.T) {
	got := SMA([]float64{1, 2, 3}, 10)
	if got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
	if !math.IsNaN(SMA(nil, 10)) {
		t.Errorf("expected NaN for empty input")
	}
}

func TestEMASeededWithFirstValue(t *testing.T) {
	s := EMASeries([]float64{10, 20}, 3)
	// alpha = 2/(2+1) after clamping span to 2
	want := 10 + (2.0/3.0)*(20-10)
	if math.Abs(s[1]-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, s[1])
	}
}

func TestRSI(t *testing.T) {
	if got := RSI([]float64{1, 2, 3, 4}, 14); got != 100 {
		t.Errorf("expected 100 for monotonic rise, got %v", got)
	}
	if got := RSI([]float64{5}, 14); got != 50 {
		t.Errorf("expected neutral 50 for a single close, got %v", got)
	}
	got := RSI([]float64{10, 11, 10}, 14)
	if math.Abs(got-50) > 1e-9 {
		t.Errorf("expected 50 for equal gain and loss, got %v", got)
	}
}

func TestComputeShortHistory(t *testing.T) {
	base := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	closes := []float64{10, 11, 9, 12, 13}
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{Time: base.Add(time.Duration(i) * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c}
	}

	ind := Compute(bars)
	if !ind.Valid {
		t.Fatalf("expected indicators to be valid")
	}
	for name, v := range map[string]float64{
		"sma": ind.SMA10, "ema": ind.EMA20, "rsi": ind.RSI, "macd": ind.MACD,
		"signal": ind.MACDSignal, "bb_upper": ind.BB.Upper, "bb_lower": ind.BB.Lower, "atr": ind.ATR,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("expected finite %s, got %v", name, v)
		}
	}
	if ind.Windows["sma"] != 5 {
		t.Errorf("expected sma window 5, got %d", ind.Windows["sma"])
	}
	if ind.Windows["rsi"] != 4 {
		t.Errorf("expected rsi window 4, got %d", ind.Windows["rsi"])
	}
	if math.Abs(ind.SMA10-11) > 1e-9 {
		t.Errorf("expected sma 11, got %v", ind.SMA10)
	}
	if ind.BB.Upper < ind.BB.Middle || ind.BB.Lower > ind.BB.Middle {
		t.Errorf("expected bands around middle, got %+v", ind.BB)
	}
}

func TestComputeEmpty(t *testing.T) {
	if Compute(nil).Valid {
		t.Errorf("expected invalid indicators for empty history")
	}
}
