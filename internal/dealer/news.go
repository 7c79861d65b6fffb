package dealer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"llm-dealer/internal/logger"
)

const (
	newsFetchLimit  = 20
	newsSummaryMax  = 200
	newsPromptTitle = "Condense the following headlines into a trading brief for today of at most 200 characters:\n\n"
)

// newsMemo remembers the newest item already summarised. An item without
// a publish time is identified by its title.
type newsMemo struct {
	summary   string
	lastTime  time.Time
	lastTitle string
	seen      bool
}

func (m *newsMemo) reset() { *m = newsMemo{} }

// refreshNews summarises the latest headlines when something newer than the
// memo appears and reports whether the summary text changed.
func (d *Dealer) refreshNews(ctx context.Context) bool {
	if d.news == nil || d.cfg.Backtest || !d.cfg.NewsEnabled {
		return false
	}

	items, err := d.news.Latest(ctx, d.cfg.Symbol, newsFetchLimit)
	if err != nil {
		logger.WarnSkip(ctx, 1, "News fetch failed", "symbol", d.cfg.Symbol, "error", err)
		return false
	}
	if len(items) == 0 {
		logger.Debug(ctx, "No news available", "symbol", d.cfg.Symbol)
		return false
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].PublishedAt.After(items[j].PublishedAt) })

	latest := items[0]
	newer := !d.memo.seen
	if !newer {
		if latest.PublishedAt.IsZero() {
			newer = latest.Title != d.memo.lastTitle
		} else {
			newer = latest.PublishedAt.After(d.memo.lastTime)
		}
	}
	if !newer {
		return false
	}
	d.memo.seen = true
	d.memo.lastTime = latest.PublishedAt
	d.memo.lastTitle = latest.Title

	var b strings.Builder
	b.WriteString(newsPromptTitle)
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", it.Title)
	}
	summary, err := d.llm.Chat(ctx, b.String())
	if err != nil {
		logger.WarnSkip(ctx, 1, "News summary failed", "symbol", d.cfg.Symbol, "error", err)
		return false
	}
	summary = truncateRunes(strings.TrimSpace(summary), newsSummaryMax)
	if summary == d.memo.summary {
		return false
	}
	d.memo.summary = summary
	logger.Info(ctx, "News summary updated", "symbol", d.cfg.Symbol, "summary", truncateRunes(summary, 100))
	return true
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
