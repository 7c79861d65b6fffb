package interfaces

import (
	"context"
	"time"

	"llm-dealer/internal/types"
)

type Dealer interface {
	ProcessBar(ctx context.Context, bar types.Bar) (types.Decision, error)
	Symbol() string
}

// HistorySource loads bars for warm start and for provider functions.
// interval is one of "minute", "60minute", "day".
type HistorySource interface {
	Bars(ctx context.Context, symbol, interval string, from, to time.Time) ([]types.Bar, error)
}

// NewsSource returns the latest items for a symbol, newest first.
type NewsSource interface {
	Latest(ctx context.Context, symbol string, limit int) ([]types.NewsItem, error)
}

// Feed delivers completed bars to fn until ctx is done or the source is exhausted.
type Feed interface {
	Run(ctx context.Context, fn func(types.Bar)) error
}
