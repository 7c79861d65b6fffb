package feed

import (
	"context"
	"fmt"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/types"
)

// TokenResolver maps a trading symbol to its Kite instrument token.
type TokenResolver interface {
	Token(ctx context.Context, symbol string) (int, error)
}

// Kite streams live ticks over the Kite websocket and emits minute bars.
type Kite struct {
	apiKey      string
	accessToken string
	symbols     []string
	resolver    TokenResolver
	loc         *time.Location
	agg         *Aggregator

	// OnOrderUpdate receives the order postbacks carried on the same
	// socket.
	OnOrderUpdate func(kiteconnect.Order)
}

var _ interfaces.Feed = (*Kite)(nil)

func NewKite(apiKey, accessToken string, symbols []string, resolver TokenResolver, loc *time.Location) *Kite {
	if loc == nil {
		loc = time.Local
	}
	return &Kite{
		apiKey:      apiKey,
		accessToken: accessToken,
		symbols:     symbols,
		resolver:    resolver,
		loc:         loc,
		agg:         NewAggregator(),
	}
}

// Run blocks until ctx is done. Completed bars are delivered to fn from
// the calling goroutine, in arrival order.
func (k *Kite) Run(ctx context.Context, fn func(types.Bar)) error {
	tokenToSymbol := make(map[uint32]string, len(k.symbols))
	tokens := make([]uint32, 0, len(k.symbols))
	for _, s := range k.symbols {
		tok, err := k.resolver.Token(ctx, s)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", s, err)
		}
		tokenToSymbol[uint32(tok)] = s
		tokens = append(tokens, uint32(tok))
	}

	bars := make(chan types.Bar, 256)
	ticker := kiteticker.New(k.apiKey, k.accessToken)

	ticker.OnConnect(func() {
		if err := ticker.Subscribe(tokens); err != nil {
			logger.ErrorWithErr(ctx, "Failed to subscribe", err, "symbols", k.symbols)
			return
		}
		if err := ticker.SetMode(kiteticker.ModeFull, tokens); err != nil {
			logger.ErrorWithErr(ctx, "Failed to set ticker mode", err)
			return
		}
		logger.Info(ctx, "Ticker connected", "symbols", k.symbols)
	})
	ticker.OnTick(func(tick models.Tick) {
		sym, ok := tokenToSymbol[tick.InstrumentToken]
		if !ok {
			return
		}
		if bar, done := k.agg.Add(k.tick(sym, tick)); done {
			select {
			case bars <- bar:
			default:
				logger.Warn(ctx, "Bar dropped, consumer is behind", "symbol", sym, "time", bar.Time)
			}
		}
	})
	ticker.OnOrderUpdate(func(o kiteconnect.Order) {
		if k.OnOrderUpdate != nil {
			k.OnOrderUpdate(o)
		}
	})
	ticker.OnError(func(err error) {
		logger.ErrorWithErr(ctx, "Ticker error", err)
	})
	ticker.OnReconnect(func(attempt int, delay time.Duration) {
		logger.Warn(ctx, "Ticker reconnecting", "attempt", attempt, "delay", delay)
	})
	ticker.OnNoReconnect(func(attempt int) {
		logger.Error(ctx, "Ticker gave up reconnecting", "attempts", attempt)
	})

	go ticker.Serve()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-bars:
			fn(b)
		}
	}
}

func (k *Kite) tick(symbol string, t models.Tick) Tick {
	at := t.Timestamp.Time
	if at.IsZero() {
		at = time.Now()
	}
	return Tick{
		Symbol:       symbol,
		Time:         at.In(k.loc),
		Price:        t.LastPrice,
		Volume:       float64(t.VolumeTraded),
		OpenInterest: float64(t.OI),
	}
}
