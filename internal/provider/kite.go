package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/types"
)

// KiteHistory serves historical bars from the Kite Connect API.
type KiteHistory struct {
	kc       *kiteconnect.Client
	exchange string
	loc      *time.Location
	limiter  *RateLimiter

	mu     sync.Mutex
	tokens map[string]int
}

var _ interfaces.HistorySource = (*KiteHistory)(nil)

func NewKiteHistory(apiKey, accessToken, exchange string, loc *time.Location, limiter *RateLimiter) *KiteHistory {
	kc := kiteconnect.New(apiKey)
	kc.SetAccessToken(accessToken)
	if loc == nil {
		loc = time.Local
	}
	return &KiteHistory{kc: kc, exchange: exchange, loc: loc, limiter: limiter}
}

// Token resolves symbol to its instrument token, loading the exchange
// instrument list on first use.
func (k *KiteHistory) Token(ctx context.Context, symbol string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.tokens == nil {
		if err := k.limiter.Wait(ctx); err != nil {
			return 0, err
		}
		instruments, err := k.kc.GetInstrumentsByExchange(k.exchange)
		if err != nil {
			return 0, fmt.Errorf("failed to load %s instruments: %w", k.exchange, err)
		}
		k.tokens = make(map[string]int, len(instruments))
		for _, in := range instruments {
			k.tokens[in.Tradingsymbol] = int(in.InstrumentToken)
		}
		logger.Info(ctx, "Instrument list loaded", "exchange", k.exchange, "count", len(k.tokens))
	}
	tok, ok := k.tokens[symbol]
	if !ok {
		return 0, fmt.Errorf("unknown %s symbol %s", k.exchange, symbol)
	}
	return tok, nil
}

func (k *KiteHistory) Bars(ctx context.Context, symbol, interval string, from, to time.Time) ([]types.Bar, error) {
	tok, err := k.Token(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if err := k.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	data, err := k.kc.GetHistoricalData(tok, interval, from, to, false, true)
	if err != nil {
		return nil, fmt.Errorf("historical %s bars for %s: %w", interval, symbol, err)
	}
	out := make([]types.Bar, 0, len(data))
	for _, d := range data {
		out = append(out, types.Bar{
			Symbol:       symbol,
			Time:         d.Date.Time.In(k.loc),
			Open:         d.Open,
			High:         d.High,
			Low:          d.Low,
			Close:        d.Close,
			Volume:       float64(d.Volume),
			OpenInterest: float64(d.OI),
		})
	}
	logger.Debug(ctx, "Historical bars fetched", "symbol", symbol, "interval", interval, "count", len(out))
	return out, nil
}
