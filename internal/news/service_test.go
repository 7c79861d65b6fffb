package news

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"llm-dealer/internal/api"
	"llm-dealer/internal/types"
)

type stubFetcher struct {
	name  string
	items []types.NewsItem
	err   error
	calls int
}

func (s *stubFetcher) Name() string { return s.name }

func (s *stubFetcher) Fetch(ctx context.Context, symbol string, limit int) ([]types.NewsItem, error) {
	s.calls++
	return s.items, s.err
}

func at(h int) time.Time { return time.Date(2024, 3, 8, h, 0, 0, 0, time.UTC) }

func TestServiceMergesNewestFirst(t *testing.T) {
	a := &stubFetcher{name: "a", items: []types.NewsItem{{Title: "old", PublishedAt: at(8)}, {Title: "Dup", PublishedAt: at(9)}}}
	b := &stubFetcher{name: "b", items: []types.NewsItem{{Title: "new", PublishedAt: at(11)}, {Title: "dup", PublishedAt: at(10)}}}
	svc := NewService(nil, a, b)

	got, err := svc.Latest(context.Background(), "rb", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var titles []string
	for _, it := range got {
		titles = append(titles, it.Title)
	}
	if strings.Join(titles, ",") != "new,Dup,old" {
		t.Errorf("expected new,Dup,old, got %v", titles)
	}

	top, _ := svc.Latest(context.Background(), "RB", 1)
	if len(top) != 1 || top[0].Title != "new" {
		t.Errorf("expected cached newest item, got %v", top)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("expected second call to hit the cache, got %d/%d fetches", a.calls, b.calls)
	}
}

func TestServiceCacheExpires(t *testing.T) {
	f := &stubFetcher{name: "a", items: []types.NewsItem{{Title: "x"}}}
	svc := NewService(&ServiceConfig{CacheDuration: time.Minute}, f)
	now := at(9)
	svc.now = func() time.Time { return now }

	svc.Latest(context.Background(), "RB", 5)
	now = now.Add(2 * time.Minute)
	svc.Latest(context.Background(), "RB", 5)
	if f.calls != 2 {
		t.Errorf("expected refetch after expiry, got %d fetches", f.calls)
	}
}

func TestServiceFailures(t *testing.T) {
	broken := &stubFetcher{name: "broken", err: errors.New("down")}
	ok := &stubFetcher{name: "ok", items: []types.NewsItem{{Title: "x"}}}

	got, err := NewService(nil, broken, ok).Latest(context.Background(), "RB", 5)
	if err != nil || len(got) != 1 {
		t.Errorf("expected partial success, got %v (%v)", got, err)
	}
	if _, err := NewService(nil, broken).Latest(context.Background(), "RB", 5); err == nil {
		t.Errorf("expected error when every fetcher fails")
	}
}

const expressPayload = `{"Result":{"content":{"list":[
 {"title":"Output <b>cut</b>","content":{"items":[{"data":"<p>Mills   trim</p>"},{"data":""},{"data":"runs"}]},"publish_time":"1709888400","tag":"steel","provider":"wire"},
 {"title":"Second","content":{"items":[]},"publish_time":1709892000,"tag":"","provider":"desk"}
]}}}`

func TestParseExpress(t *testing.T) {
	items, err := ParseExpress([]byte(expressPayload), time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first := items[0]
	if first.Title != "Output cut" || first.Content != "Mills trim runs" {
		t.Errorf("unexpected text: %q / %q", first.Title, first.Content)
	}
	if first.Tag != "steel" || first.Source != "wire" {
		t.Errorf("unexpected tag/source: %+v", first)
	}
	if !first.PublishedAt.Equal(time.Unix(1709888400, 0)) || !items[1].PublishedAt.Equal(time.Unix(1709892000, 0)) {
		t.Errorf("unexpected publish times: %v %v", first.PublishedAt, items[1].PublishedAt)
	}
	if _, err := ParseExpress([]byte("not json"), time.UTC); err == nil {
		t.Errorf("expected decode error")
	}
}

func TestExpressFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("code") != "RB2405" || q.Get("rn") != "5" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, expressPayload)
	}))
	defer srv.Close()

	e := NewExpress(api.NewClient(), srv.URL, time.UTC)
	items, err := e.Fetch(context.Background(), "RB2405", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].Symbol != "RB2405" {
		t.Errorf("expected symbol stamped on items, got %+v", items)
	}
}

func TestScraperFetch(t *testing.T) {
	page := `<html><body><ul>
<li class="item"><h2><a href="/a/1">  Steel   rallies </a></h2><p>Prices <script>x()</script>up</p><span class="ts">2024-03-08 09:30</span></li>
<li class="item"><h2><a href="/a/2">Iron ore slips</a></h2><p>Down</p><span class="ts">3 hours ago</span></li>
<li class="item"><h2></h2></li>
</ul></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tag/rb" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	source := Source{
		Name:       "test",
		BaseURL:    srv.URL,
		SearchPath: "/tag/{symbol}",
		Selectors: ArticleSelectors{
			ArticleContainer: "li.item",
			Title:            "h2 a",
			URL:              "h2 a",
			Content:          "p",
			PublishedAt:      "span.ts",
		},
	}
	s := NewScraper([]Source{source}, 5*time.Second, time.UTC)
	items, err := s.Fetch(context.Background(), "RB", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "Steel rallies" || items[0].Content != "Prices up" {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if items[0].URL != srv.URL+"/a/1" {
		t.Errorf("expected absolute url, got %q", items[0].URL)
	}
	if !items[0].PublishedAt.Equal(time.Date(2024, 3, 8, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected publish time %v", items[0].PublishedAt)
	}
	if !items[1].PublishedAt.IsZero() {
		t.Errorf("expected relative time to stay zero, got %v", items[1].PublishedAt)
	}

	t.Run("failing source is skipped", func(t *testing.T) {
		bad := source
		bad.SearchPath = "/missing/{symbol}"
		items, err := NewScraper([]Source{bad}, time.Second, time.UTC).Fetch(context.Background(), "RB", 10)
		if err != nil || len(items) != 0 {
			t.Errorf("expected empty result, got %v (%v)", items, err)
		}
	})
}

func TestHTMLText(t *testing.T) {
	if got := HTMLText("plain   text"); got != "plain text" {
		t.Errorf("expected plain text, got %q", got)
	}
	if got := HTMLText("<div>a<style>.x{}</style> <b>b</b></div>"); got != "a b" {
		t.Errorf("expected a b, got %q", got)
	}
}
