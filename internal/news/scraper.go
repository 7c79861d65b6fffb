package news

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"llm-dealer/internal/logger"
	"llm-dealer/internal/types"
)

// Scraper collects headlines from HTML listing pages.
type Scraper struct {
	sources []Source
	timeout time.Duration
	loc     *time.Location
}

// Source describes one listing page and where its items live.
type Source struct {
	Name       string
	BaseURL    string
	SearchPath string // "{symbol}" is replaced with the lower-cased symbol
	Selectors  ArticleSelectors
	RateLimit  time.Duration
}

// ArticleSelectors are CSS selectors relative to one listing item.
type ArticleSelectors struct {
	ArticleContainer string
	Title            string
	URL              string
	Content          string
	PublishedAt      string
}

func NewScraper(sources []Source, timeout time.Duration, loc *time.Location) *Scraper {
	if loc == nil {
		loc = time.Local
	}
	return &Scraper{sources: sources, timeout: timeout, loc: loc}
}

// DefaultSources lists the financial news sites scraped when nothing else
// is configured.
func DefaultSources() []Source {
	return []Source{
		{
			Name:       "MoneyControl",
			BaseURL:    "https://www.moneycontrol.com",
			SearchPath: "/news/tags/{symbol}.html",
			Selectors: ArticleSelectors{
				ArticleContainer: "li.clearfix",
				Title:            "h2 a, h3 a",
				URL:              "h2 a, h3 a",
				Content:          "p",
				PublishedAt:      "span.ago",
			},
			RateLimit: 2 * time.Second,
		},
		{
			Name:       "EconomicTimes",
			BaseURL:    "https://economictimes.indiatimes.com",
			SearchPath: "/topic/{symbol}",
			Selectors: ArticleSelectors{
				ArticleContainer: "div.story-box",
				Title:            "a",
				URL:              "a",
				Content:          "p",
				PublishedAt:      "time",
			},
			RateLimit: 2 * time.Second,
		},
	}
}

func (s *Scraper) Name() string { return "scraper" }

// Fetch scrapes every source, splitting limit evenly between them. A
// failing source is logged and skipped.
func (s *Scraper) Fetch(ctx context.Context, symbol string, limit int) ([]types.NewsItem, error) {
	if len(s.sources) == 0 || symbol == "" {
		return nil, nil
	}
	perSource := max(limit/len(s.sources), 1)

	var all []types.NewsItem
	for _, source := range s.sources {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		items, err := s.scrapeSource(ctx, source, symbol, perSource)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to scrape source", err, "source", source.Name, "symbol", symbol)
			continue
		}
		all = append(all, items...)
	}
	logger.Info(ctx, "News scraping completed", "symbol", symbol, "articles", len(all))
	return all, nil
}

func (s *Scraper) scrapeSource(ctx context.Context, source Source, symbol string, limit int) ([]types.NewsItem, error) {
	var items []types.NewsItem

	c := colly.NewCollector(
		colly.AllowedDomains(hostname(source.BaseURL)),
		colly.MaxDepth(1),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.timeout)
	if source.RateLimit > 0 {
		if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: source.RateLimit}); err != nil {
			return nil, err
		}
	}

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	})

	c.OnHTML(source.Selectors.ArticleContainer, func(e *colly.HTMLElement) {
		if len(items) >= limit {
			return
		}
		title := collapse(e.ChildText(source.Selectors.Title))
		if title == "" {
			return
		}
		link := e.Request.AbsoluteURL(e.ChildAttr(source.Selectors.URL, "href"))
		items = append(items, types.NewsItem{
			Title:       title,
			URL:         link,
			Content:     collapse(selectionText(e.DOM.Find(source.Selectors.Content))),
			Source:      source.Name,
			Symbol:      symbol,
			PublishedAt: parsePublished(e.ChildText(source.Selectors.PublishedAt), s.loc),
		})
	})

	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("%s returned %d: %w", r.Request.URL, r.StatusCode, err)
	})

	searchURL := source.BaseURL + strings.ReplaceAll(source.SearchPath, "{symbol}", url.PathEscape(strings.ToLower(symbol)))
	if err := c.Visit(searchURL); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", searchURL, err)
	}
	c.Wait()
	if visitErr != nil {
		return nil, visitErr
	}
	return items, nil
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// selectionText returns the text of sel without script and style content.
func selectionText(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find("script, style, noscript").Remove()
	return clone.Text()
}

// HTMLText converts an HTML fragment to whitespace-collapsed text. Plain
// text passes through unchanged apart from whitespace.
func HTMLText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return collapse(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapse(fragment)
	}
	return collapse(selectionText(doc.Selection))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var publishedLayouts = []string{
	time.RFC3339,
	time.DateTime,
	"2006-01-02 15:04",
	time.DateOnly,
	"Jan 02, 2006 15:04",
	"January 02, 2006",
	"02 Jan 2006",
}

// parsePublished reads absolute timestamps only. Relative ones such as
// "2 hours ago" give the zero time.
func parsePublished(raw string, loc *time.Location) time.Time {
	raw = collapse(raw)
	for _, layout := range publishedLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}
