package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"llm-dealer/internal/api"
	"llm-dealer/internal/types"
)

// Express reads the flash-news JSON feed of a finance portal.
type Express struct {
	client   *api.Client
	endpoint string
	loc      *time.Location
	retry    *api.RetryConfig
}

func NewExpress(client *api.Client, endpoint string, loc *time.Location) *Express {
	if client == nil {
		client = api.NewClient(api.WithTimeout(15 * time.Second))
	}
	if loc == nil {
		loc = time.Local
	}
	return &Express{client: client, endpoint: endpoint, loc: loc, retry: api.DefaultRetryConfig()}
}

func (e *Express) Name() string { return "express" }

type expressResponse struct {
	Result struct {
		Content struct {
			List []expressItem `json:"list"`
		} `json:"content"`
	} `json:"Result"`
}

type expressItem struct {
	Title   string `json:"title"`
	Content struct {
		Items []struct {
			Data string `json:"data"`
		} `json:"items"`
	} `json:"content"`
	PublishTime json.RawMessage `json:"publish_time"`
	Tag         string          `json:"tag"`
	Provider    string          `json:"provider"`
	URL         string          `json:"url"`
}

// Fetch requests the first page of flash news. An empty symbol asks for
// market-wide news.
func (e *Express) Fetch(ctx context.Context, symbol string, limit int) ([]types.NewsItem, error) {
	req := api.NewRequest("GET", e.endpoint)
	for k, v := range api.BrowserHeaders() {
		req.WithHeader(k, v)
	}
	req.WithQuery("rn", strconv.Itoa(limit)).
		WithQuery("pn", "0").
		WithQuery("finClientType", "pc")
	if symbol != "" {
		req.WithQuery("financeType", "stock").WithQuery("code", symbol)
	}

	resp, err := e.client.DoWithRetry(ctx, req, e.retry)
	if err != nil {
		return nil, fmt.Errorf("express news: %w", err)
	}
	items, err := ParseExpress(resp.Body, e.loc)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Symbol = symbol
	}
	return items, nil
}

// ParseExpress decodes a flash-news payload. Body fragments are joined
// with single spaces and stripped of markup.
func ParseExpress(body []byte, loc *time.Location) ([]types.NewsItem, error) {
	var payload expressResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode express news: %w", err)
	}
	out := make([]types.NewsItem, 0, len(payload.Result.Content.List))
	for _, it := range payload.Result.Content.List {
		var parts []string
		for _, c := range it.Content.Items {
			if text := HTMLText(c.Data); text != "" {
				parts = append(parts, text)
			}
		}
		out = append(out, types.NewsItem{
			Title:       HTMLText(it.Title),
			Content:     strings.Join(parts, " "),
			URL:         it.URL,
			Source:      it.Provider,
			Tag:         it.Tag,
			PublishedAt: epoch(it.PublishTime, loc),
		})
	}
	return out, nil
}

// epoch accepts publish_time as either a JSON number or a numeric string.
func epoch(raw json.RawMessage, loc *time.Location) time.Time {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).In(loc)
}

// ExpressURL validates the configured endpoint.
func ExpressURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid express news url %q", raw)
	}
	return raw, nil
}
