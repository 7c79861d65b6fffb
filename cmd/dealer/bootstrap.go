package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"llm-dealer/internal/bootstrap"
	"llm-dealer/internal/dealer"
	"llm-dealer/internal/dealer/dealerobs"
	"llm-dealer/internal/engine"
	"llm-dealer/internal/engine/engineobs"
	"llm-dealer/internal/eod"
	"llm-dealer/internal/eod/eodobs"
	"llm-dealer/internal/feed"
	"llm-dealer/internal/gateway"
	"llm-dealer/internal/gateway/gatewayobs"
	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/provider"
	"llm-dealer/internal/store"
	"llm-dealer/internal/tradelog"
)

// initializeDealers builds one observed dealer per configured symbol.
func initializeDealers(ctx context.Context, cfg *store.Config, llm interfaces.LLM, hist interfaces.HistorySource, news interfaces.NewsSource) ([]interfaces.Dealer, error) {
	if len(cfg.Dealer.Symbols) == 0 {
		return nil, errors.New("dealer.symbols is empty")
	}
	var opts []dealer.Option
	if cfg.Dealer.WarmStart {
		if hist == nil {
			logger.Warn(ctx, "Warm start requested without a history source")
		} else {
			opts = append(opts, dealer.WithHistory(hist))
		}
	}
	if cfg.Dealer.NewsEnabled && !cfg.Dealer.Backtest {
		opts = append(opts, dealer.WithNews(news))
	}

	dealers := make([]interfaces.Dealer, 0, len(cfg.Dealer.Symbols))
	for _, sym := range cfg.Dealer.Symbols {
		d, err := dealer.New(dealer.ConfigFromStore(cfg, sym), llm, opts...)
		if err != nil {
			return nil, fmt.Errorf("dealer %s: %w", sym, err)
		}
		dealers = append(dealers, dealerobs.Wrap(d))
	}
	return dealers, nil
}

// initializeGateway returns the observed gateway. The Kite gateway is also
// returned unwrapped so the live feed can hand it order updates.
func initializeGateway(ctx context.Context, cfg *store.Config) (interfaces.Gateway, *gateway.Kite, error) {
	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
		return gatewayobs.Wrap(gateway.NewDryRun()), nil, nil
	}
	apiKey, token, _ := bootstrap.KiteCredentials()
	kite, err := gateway.NewKite(apiKey, token, cfg.Gateway.Exchange, cfg.Gateway.Product, cfg.Location())
	if err != nil {
		return nil, nil, fmt.Errorf("kite gateway: %w", err)
	}
	logger.Info(ctx, "Routing orders to Kite", "exchange", cfg.Gateway.Exchange, "product", cfg.Gateway.Product)
	return gatewayobs.Wrap(kite), kite, nil
}

// initializeFeed selects the bar source. The live feed resolves
// instrument tokens through the history client.
func initializeFeed(ctx context.Context, cfg *store.Config, hist *provider.KiteHistory, kiteGW *gateway.Kite) (interfaces.Feed, error) {
	loc := cfg.Location()
	switch cfg.Feed.Source {
	case "CSV":
		if cfg.Feed.CSVPath == "" {
			return nil, errors.New("feed.csv_path is required for CSV replay")
		}
		symbol := ""
		if len(cfg.Dealer.Symbols) == 1 {
			symbol = cfg.Dealer.Symbols[0]
		}
		logger.Info(ctx, "Replaying bars from CSV", "path", cfg.Feed.CSVPath)
		return feed.NewCSV(cfg.Feed.CSVPath, symbol, loc), nil
	case "KITE":
		apiKey, token, ok := bootstrap.KiteCredentials()
		if !ok || hist == nil {
			return nil, errors.New("KITE feed needs KITE_API_KEY and KITE_ACCESS_TOKEN")
		}
		f := feed.NewKite(apiKey, token, cfg.Dealer.Symbols, hist, loc)
		if kiteGW != nil {
			f.OnOrderUpdate = kiteGW.HandleOrderUpdate
		}
		logger.Info(ctx, "Using LIVE ticks from Kite", "symbols", cfg.Dealer.Symbols)
		return f, nil
	}
	return nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
}

// initializeEngine builds the observed router.
func initializeEngine(cfg *store.Config, dealers []interfaces.Dealer, gw interfaces.Gateway, journal *tradelog.Journal) (interfaces.Engine, error) {
	opts := engine.Options{
		Pricing: gateway.Pricing{
			UseMarketOrder: cfg.Gateway.UseMarketOrder,
			Tolerance:      cfg.Gateway.PriceTolerance,
		},
		Journal: journal,
	}
	if s := cfg.Feed.StartTime; s != "" {
		t, err := dealer.ParseTimestamp(s, cfg.Location())
		if err != nil {
			return nil, fmt.Errorf("feed.start_time: %w", err)
		}
		opts.StartTime = t
	}
	return engineobs.Wrap(engine.New(dealers, gw, opts)), nil
}

// eodCutoff is when a process started late in the day catches up on a
// missed summary.
const eodCutoff = 15*time.Hour + 40*time.Minute

func initializeEOD(cfg *store.Config, journal *tradelog.Journal) interfaces.EodSummarizer {
	return eodobs.Wrap(eod.NewSummarizer(journal, cfg.Location(), eodCutoff))
}
