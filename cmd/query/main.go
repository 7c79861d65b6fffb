package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"llm-dealer/internal/bootstrap"
	"llm-dealer/internal/query"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	stream := flag.Bool("stream", false, "print every event as a JSON line instead of the final answer")
	flag.Parse()

	text := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if text == "" {
		fmt.Println("Error: a query is required")
		flag.Usage()
		return 1
	}

	if err := bootstrap.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer bootstrap.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.LoadConfig(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	orch, err := bootstrap.Orchestrator(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building orchestrator: %v\n", err)
		return 1
	}

	if *stream {
		return runStream(ctx, orch, text)
	}

	ans, err := orch.Query(ctx, text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		return 1
	}
	for _, f := range ans.Failures {
		fmt.Fprintf(os.Stderr, "step %d failed after %d attempts: %s\n", f.Step, f.Attempts, f.Error)
	}
	fmt.Println(ans.Result)
	if !ans.Found {
		return 2
	}
	return 0
}

func runStream(ctx context.Context, orch *query.Orchestrator, text string) int {
	enc := json.NewEncoder(os.Stdout)
	code := 1
	for ev := range orch.Stream(ctx, text) {
		if err := enc.Encode(ev); err != nil {
			return 1
		}
		switch ev.Type {
		case query.EventResult:
			code = 0
			if ev.Content == query.NoResult {
				code = 2
			}
		case query.EventError:
			code = 1
		}
	}
	return code
}
