package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"llm-dealer/internal/bootstrap"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	addr := flag.String("addr", "", "listen address (overrides server.addr)")
	debug := flag.Bool("debug", false, "gin debug mode")
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
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	orch, err := bootstrap.Orchestrator(ctx, cfg)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build query orchestrator", err)
		return 1
	}

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := server.NewEngine(server.NewQueryHandler(orch))

	if err := server.Run(ctx, cfg.Server.Addr, engine); err != nil {
		logger.ErrorWithErr(ctx, "HTTP server failed", err, "addr", cfg.Server.Addr)
		return 1
	}
	return 0
}
