package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"llm-dealer/internal/types"
)

type fakeHistory struct {
	calls int
}

func (f *fakeHistory) Bars(_ context.Context, symbol, interval string, from, to time.Time) ([]types.Bar, error) {
	f.calls++
	var out []types.Bar
	for i := range 5 {
		c := float64(10 + i)
		out = append(out, types.Bar{Symbol: symbol, Time: from.Add(time.Duration(i) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100})
	}
	return out, nil
}

type fakeNews struct{}

func (fakeNews) Latest(_ context.Context, symbol string, limit int) ([]types.NewsItem, error) {
	return []types.NewsItem{{Title: "headline for " + symbol}}, nil
}

func echoFunc() Func {
	return Func{
		Name: "echo",
		Doc:  "Echoes its arguments.\nSecond line.",
		Params: []Param{
			{Name: "text", Doc: "what to echo", Required: true},
			{Name: "times", Doc: "repeat count", Default: int64(1)},
		},
		Call: func(_ context.Context, args map[string]any) (any, error) {
			n, err := intArg(args, "times")
			if err != nil {
				return nil, err
			}
			return strings.Repeat(stringArg(args, "text"), n), nil
		},
	}
}

func TestDescribeAndDocs(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoFunc())

	desc := r.Describe()
	if !strings.Contains(desc, "echo(text, times=1): Echoes its arguments.") {
		t.Errorf("unexpected description: %q", desc)
	}
	if strings.Contains(desc, "Second line") {
		t.Errorf("expected only the first doc line in the catalog")
	}
	docs := r.Docs([]string{"echo", "missing"})
	if !strings.Contains(docs, "Second line.") || !strings.Contains(docs, "times: repeat count") {
		t.Errorf("expected full docs, got %q", docs)
	}
	if !strings.Contains(docs, "missing: not available") {
		t.Errorf("expected unknown function to be flagged")
	}
	if err := r.Register(echoFunc()); err == nil {
		t.Errorf("expected duplicate registration to fail")
	}
}

func TestCallBindsArguments(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoFunc())
	ctx := context.Background()

	got, err := r.Call(ctx, "echo", map[string]any{"text": "ab", "times": int64(2)})
	if err != nil || got != "abab" {
		t.Errorf("expected abab, got %v (%v)", got, err)
	}
	if _, err := r.Call(ctx, "echo", nil); err == nil {
		t.Errorf("expected missing argument error")
	}
	if _, err := r.Call(ctx, "echo", map[string]any{"text": "a", "bogus": 1}); err == nil {
		t.Errorf("expected unexpected argument error")
	}
	if _, err := r.Call(ctx, "nope", nil); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("expected ErrUnknownFunction, got %v", err)
	}
}

func TestCacheableCallsHitCache(t *testing.T) {
	cache, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	hist := &fakeHistory{}
	r := NewRegistry(WithCache(cache))
	if err := RegisterMarket(r, hist, nil, time.UTC); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	args := map[string]any{"symbol": "INFY", "interval": "day", "days": int64(3)}

	first, err := r.Call(ctx, "history", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Call(ctx, "history", args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hist.calls != 1 {
		t.Errorf("expected one upstream call, got %d", hist.calls)
	}
	rows, ok := first.([]any)
	if !ok || len(rows) != 5 {
		t.Fatalf("expected 5 decoded bars, got %T", first)
	}
	if row := rows[0].(map[string]any); row["close"] != 10.0 {
		t.Errorf("expected close 10, got %v", row["close"])
	}
}

func TestIndicatorsFromHistory(t *testing.T) {
	hist := &fakeHistory{}
	r := NewRegistry()
	if err := RegisterMarket(r, hist, nil, time.UTC); err != nil {
		t.Fatal(err)
	}

	got, err := r.Call(context.Background(), "indicators", map[string]any{"symbol": "INFY"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ind, ok := got.(types.Indicators)
	if !ok {
		t.Fatalf("expected types.Indicators, got %T", got)
	}
	if !ind.Valid || ind.Windows["sma"] != 5 {
		t.Errorf("expected valid indicators over 5 bars, got %+v", ind)
	}
	if ind.SMA10 != 12 {
		t.Errorf("expected SMA 12, got %v", ind.SMA10)
	}
	if hist.calls != 1 {
		t.Errorf("expected one history call, got %d", hist.calls)
	}
}

func TestModuleFromStarlark(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoFunc())
	if err := RegisterMarket(r, &fakeHistory{}, fakeNews{}, time.UTC); err != nil {
		t.Fatal(err)
	}
	globals := starlark.StringDict{"provider": r.Module(context.Background())}
	src := `
a = provider.echo("x", times=3)
b = provider.echo(text="y")
ind = provider.indicators("INFY", days=2)
n = provider.news("INFY")
`
	thread := &starlark.Thread{Name: "test"}
	out, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, "t.star", src, globals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["a"] != starlark.String("xxx") || out["b"] != starlark.String("y") {
		t.Errorf("unexpected echo results: %v %v", out["a"], out["b"])
	}
	ind, ok := out["ind"].(*starlark.Dict)
	if !ok {
		t.Fatalf("expected indicators dict, got %s", out["ind"].Type())
	}
	if v, found, _ := ind.Get(starlark.String("sma_10")); !found || v != starlark.Float(12) {
		t.Errorf("expected sma_10 of 12 over 5 bars, got %v", v)
	}
	news, ok := out["n"].(*starlark.List)
	if !ok || news.Len() != 1 {
		t.Fatalf("expected one news item, got %v", out["n"])
	}

	_, err = starlark.ExecFileOptions(&syntax.FileOptions{}, thread, "t.star", `provider.echo("a", "b", "c")`, globals)
	if err == nil {
		t.Errorf("expected too many arguments to fail")
	}
}

func TestLatestTradingDate(t *testing.T) {
	sat := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	if got := LatestTradingDate(sat); got.Weekday() != time.Friday || got.Day() != 8 {
		t.Errorf("expected Friday the 8th, got %v", got)
	}
	tue := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	if got := LatestTradingDate(tue); got.Day() != 5 {
		t.Errorf("expected same day, got %v", got)
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("expected first token immediately, got %v", err)
	}
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline while waiting for a refill, got %v", err)
	}
	var nilLimiter *RateLimiter
	if err := nilLimiter.Wait(context.Background()); err != nil {
		t.Errorf("expected nil limiter to pass, got %v", err)
	}
}
