package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/ta"
	"llm-dealer/internal/types"
)

// RegisterMarket adds the bar, indicator and news functions backed by the
// given sources. Either source may be nil, in which case its functions are
// left out.
func RegisterMarket(r *Registry, hist interfaces.HistorySource, news interfaces.NewsSource, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	fs := []Func{{
		Name: "latest_trading_date",
		Doc:  "Returns the most recent weekday as YYYY-MM-DD in the exchange timezone.",
		Call: func(ctx context.Context, _ map[string]any) (any, error) {
			return LatestTradingDate(time.Now().In(loc)).Format(time.DateOnly), nil
		},
	}}
	if hist != nil {
		fs = append(fs,
			Func{
				Name: "history",
				Doc: `Returns OHLCV bars for a symbol, oldest first.
Each bar is a dict with keys time, open, high, low, close, volume and open_interest.`,
				Params: []Param{
					{Name: "symbol", Doc: "trading symbol, e.g. RELIANCE", Required: true},
					{Name: "interval", Doc: `"minute", "60minute" or "day"`, Default: "day"},
					{Name: "days", Doc: "calendar days to look back", Default: int64(30)},
				},
				Cacheable: true,
				Call: func(ctx context.Context, args map[string]any) (any, error) {
					return bars(ctx, hist, loc, args)
				},
			},
			Func{
				Name: "indicators",
				Doc: `Computes SMA-10, EMA-20, RSI-14, MACD with signal, Bollinger bands and ATR over recent bars.
Windows shrink to the number of bars available; "windows" reports the sizes used.`,
				Params: []Param{
					{Name: "symbol", Doc: "trading symbol", Required: true},
					{Name: "interval", Doc: `"minute", "60minute" or "day"`, Default: "day"},
					{Name: "days", Doc: "calendar days to look back", Default: int64(90)},
				},
				Call: func(ctx context.Context, args map[string]any) (any, error) {
					bs, err := bars(ctx, hist, loc, args)
					if err != nil {
						return nil, err
					}
					return ta.Compute(bs), nil
				},
			},
		)
	}
	if news != nil {
		fs = append(fs, Func{
			Name: "news",
			Doc:  "Returns the latest news items, newest first. Each item has title, content, url, source, tag and published_at.",
			Params: []Param{
				{Name: "symbol", Doc: "trading symbol, or empty for market-wide news", Default: ""},
				{Name: "limit", Doc: "maximum number of items", Default: int64(20)},
			},
			Call: func(ctx context.Context, args map[string]any) (any, error) {
				limit, err := intArg(args, "limit")
				if err != nil {
					return nil, err
				}
				return news.Latest(ctx, stringArg(args, "symbol"), limit)
			},
		})
	}
	for _, f := range fs {
		if err := r.Register(f); err != nil {
			return err
		}
	}
	return nil
}

func bars(ctx context.Context, hist interfaces.HistorySource, loc *time.Location, args map[string]any) ([]types.Bar, error) {
	days, err := intArg(args, "days")
	if err != nil {
		return nil, err
	}
	to := time.Now().In(loc)
	return hist.Bars(ctx, stringArg(args, "symbol"), stringArg(args, "interval"), to.AddDate(0, 0, -days), to)
}

// LatestTradingDate steps back from a weekend to the preceding Friday.
func LatestTradingDate(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		t = t.AddDate(0, 0, -1)
	case time.Sunday:
		t = t.AddDate(0, 0, -2)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func stringArg(args map[string]any, name string) string {
	switch v := args[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intArg(args map[string]any, name string) (int, error) {
	switch v := args[name].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("argument %s: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("argument %s: expected an integer, got %T", name, v)
	}
}
