// Package bootstrap builds the collaborators shared by the commands from a
// loaded config.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"llm-dealer/internal/api"
	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/llm"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/news"
	"llm-dealer/internal/plan"
	"llm-dealer/internal/provider"
	"llm-dealer/internal/query"
	"llm-dealer/internal/sandbox"
	"llm-dealer/internal/store"
	"llm-dealer/internal/trace"
)

// Init loads .env, then the logger and tracer.
func Init() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// Shutdown flushes the tracer and logger sinks.
func Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = trace.Shutdown(ctx)
	_ = logger.Shutdown(ctx)
}

func LoadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// KiteCredentials reads the Kite Connect key and access token from the
// environment.
func KiteCredentials() (apiKey, accessToken string, ok bool) {
	apiKey = os.Getenv("KITE_API_KEY")
	accessToken = os.Getenv("KITE_ACCESS_TOKEN")
	return apiKey, accessToken, apiKey != "" && accessToken != ""
}

// RateLimiter is shared by every Kite data request of the process.
func RateLimiter(cfg *store.Config) *provider.RateLimiter {
	return provider.NewRateLimiter(cfg.Provider.RatePerSecond)
}

// KiteHistory returns nil when no Kite credentials are configured.
func KiteHistory(ctx context.Context, cfg *store.Config, limiter *provider.RateLimiter) *provider.KiteHistory {
	apiKey, token, ok := KiteCredentials()
	if !ok {
		logger.Warn(ctx, "Kite credentials not set, historical bars unavailable")
		return nil
	}
	return provider.NewKiteHistory(apiKey, token, cfg.Gateway.Exchange, cfg.Location(), limiter)
}

// News merges the express feed, when configured, with the scraped sites.
func News(ctx context.Context, cfg *store.Config) *news.Service {
	loc := cfg.Location()
	fetchers := []news.Fetcher{news.NewScraper(news.DefaultSources(), 20*time.Second, loc)}
	if raw := cfg.Provider.ExpressNewsURL; raw != "" {
		if endpoint, err := news.ExpressURL(raw); err != nil {
			logger.Warn(ctx, "Express news disabled", "error", err)
		} else {
			client := api.NewClient(api.WithTimeout(15*time.Second), api.WithLogging(logger.IsDebugEnabled()))
			fetchers = append([]news.Fetcher{news.NewExpress(client, endpoint, loc)}, fetchers...)
		}
	}
	return news.NewService(news.DefaultServiceConfig(), fetchers...)
}

// Registry builds the provider catalog. hist may be nil.
func Registry(ctx context.Context, cfg *store.Config, hist interfaces.HistorySource, newsSrc interfaces.NewsSource, limiter *provider.RateLimiter) (*provider.Registry, error) {
	cache, err := provider.NewCache(cfg.Provider.CacheDir, time.Duration(cfg.Provider.CacheTTLMinutes)*time.Minute)
	if err != nil {
		return nil, err
	}
	if err := cache.CleanupExpired(); err != nil {
		logger.Warn(ctx, "Provider cache cleanup failed", "error", err)
	}
	reg := provider.NewRegistry(provider.WithCache(cache), provider.WithRateLimiter(limiter))
	if err := provider.RegisterMarket(reg, hist, newsSrc, cfg.Location()); err != nil {
		return nil, err
	}
	return reg, nil
}

// Orchestrator wires the query engine: LLM, provider catalog, templates
// and sandbox.
func Orchestrator(ctx context.Context, cfg *store.Config) (*query.Orchestrator, error) {
	client, err := llm.New(cfg)
	if err != nil {
		return nil, err
	}

	limiter := RateLimiter(cfg)
	var hist interfaces.HistorySource
	if kh := KiteHistory(ctx, cfg, limiter); kh != nil {
		hist = kh
	}
	reg, err := Registry(ctx, cfg, hist, News(ctx, cfg), limiter)
	if err != nil {
		return nil, fmt.Errorf("provider registry: %w", err)
	}

	var templates *plan.TemplateStore
	if path := cfg.Query.TemplatePath; path != "" {
		templates, err = plan.LoadTemplates(path)
		if err != nil {
			return nil, err
		}
		logger.Info(ctx, "Plan templates loaded", "path", path, "count", templates.Len())
	}

	runner := sandbox.New(sandbox.WithProgressInterval(time.Duration(cfg.Query.ProgressIntervalMS) * time.Millisecond))
	return query.New(query.Deps{
		LLM:         client,
		Provider:    reg,
		Templates:   templates,
		Runner:      runner,
		MaxAttempts: cfg.Query.MaxRepairAttempts,
		ResultKey:   cfg.Query.ResultKey,
		Markdown:    cfg.Query.Markdown,
	}), nil
}
