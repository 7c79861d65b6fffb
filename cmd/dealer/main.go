package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"llm-dealer/internal/bootstrap"
	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/llm"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/schedule"
	"llm-dealer/internal/server"
	"llm-dealer/internal/tradelog"
	"llm-dealer/internal/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	logDir := flag.String("logs", "logs", "journal directory")
	serveMetrics := flag.Bool("metrics", true, "serve /metrics and /healthz on server.addr")
	flag.Parse()

	if err := bootstrap.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer bootstrap.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.LoadConfig(ctx, *configPath)
	if err != nil {
		return 1
	}
	loc := cfg.Location()
	journal := tradelog.New(*logDir, loc)
	compressOldLogs(ctx, journal, cfg.EOD.RetentionDays)

	client, err := llm.New(cfg)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build LLM client", err)
		return 1
	}
	kh := bootstrap.KiteHistory(ctx, cfg, bootstrap.RateLimiter(cfg))
	var hist interfaces.HistorySource
	if kh != nil {
		hist = kh
	}

	dealers, err := initializeDealers(ctx, cfg, client, hist, bootstrap.News(ctx, cfg))
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build dealers", err)
		return 1
	}
	gw, kiteGW, err := initializeGateway(ctx, cfg)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build gateway", err)
		return 1
	}
	bars, err := initializeFeed(ctx, cfg, kh, kiteGW)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build feed", err)
		return 1
	}
	eng, err := initializeEngine(cfg, dealers, gw, journal)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build engine", err)
		return 1
	}
	summarizer := initializeEOD(cfg, journal)

	cron := schedule.New(ctx, loc)
	if _, err := cron.Add("eod", cfg.EOD.Cron, func(ctx context.Context) {
		writeSummary(ctx, summarizer, time.Now())
		compressOldLogs(ctx, journal, cfg.EOD.RetentionDays)
	}); err != nil {
		logger.ErrorWithErr(ctx, "Invalid eod.cron", err, "cron", cfg.EOD.Cron)
		return 1
	}
	cron.Start()
	defer cron.Stop()

	if ok, path := summarizer.ShouldRunNow(); ok {
		logger.Info(ctx, "Catching up on missed EOD summary", "path", path)
		writeSummary(ctx, summarizer, time.Now())
	}

	if *serveMetrics {
		gin.SetMode(gin.ReleaseMode)
		go func() {
			if err := server.Run(ctx, cfg.Server.Addr, server.NewEngine()); err != nil {
				logger.ErrorWithErr(ctx, "Metrics server failed", err, "addr", cfg.Server.Addr)
			}
		}()
	}

	logger.Info(ctx, "Dealer started", "mode", cfg.Mode, "symbols", cfg.Dealer.Symbols, "feed", cfg.Feed.Source)

	// Each trading day is summarized once the feed moves past it.
	var day time.Time
	err = bars.Run(ctx, func(bar types.Bar) {
		d := bar.Time.In(loc)
		if !day.IsZero() && d.Format(time.DateOnly) != day.Format(time.DateOnly) {
			writeSummary(ctx, summarizer, day)
		}
		day = d

		res, err := eng.OnBar(ctx, bar)
		if err != nil || res == nil || res.Skipped != "" {
			return
		}
		b, _ := json.Marshal(res)
		fmt.Println(string(b))
	})
	if !day.IsZero() {
		writeSummary(context.WithoutCancel(ctx), summarizer, day)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorWithErr(ctx, "Feed stopped", err)
		return 1
	}
	logger.Info(ctx, "Shutting down...")
	return 0
}

func writeSummary(ctx context.Context, s interfaces.EodSummarizer, day time.Time) {
	path, err := s.SummarizeDay(ctx, day)
	if err != nil {
		return
	}
	if path != "" {
		logger.Info(ctx, "EOD CSV written", "path", path)
	}
}

// compressOldLogs gzips journal files past the retention window.
func compressOldLogs(ctx context.Context, journal *tradelog.Journal, retentionDays int) {
	n, err := journal.CompressOlder(retentionDays, time.Now())
	if err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
		return
	}
	if n > 0 {
		logger.Info(ctx, "Compressed old journal files", "count", n)
	}
}
