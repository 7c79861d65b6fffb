package llmobs

import (
	"context"
	"iter"
	"time"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/metrics"
	"llm-dealer/internal/trace"
)

// observableLLM wraps an LLM with logging, tracing and call counters.
type observableLLM struct {
	llm      interfaces.LLM
	provider string
}

var _ interfaces.LLM = (*observableLLM)(nil)

func Wrap(llm interfaces.LLM, provider string) interfaces.LLM {
	return &observableLLM{llm: llm, provider: provider}
}

func (o *observableLLM) Chat(ctx context.Context, prompt string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Chat")
	defer span.End()

	start := time.Now()
	logger.DebugSkip(ctx, 1, "LLM request", "provider", o.provider, "prompt_chars", len(prompt))

	reply, err := o.llm.Chat(ctx, prompt)
	if err != nil {
		metrics.LLMCalls.WithLabelValues(o.provider, "chat", "error").Inc()
		logger.ErrorWithErrSkip(ctx, 1, "LLM request failed", err,
			"provider", o.provider,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}
	metrics.LLMCalls.WithLabelValues(o.provider, "chat", "ok").Inc()
	logger.DebugSkip(ctx, 1, "LLM reply",
		"provider", o.provider,
		"reply_chars", len(reply),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

func (o *observableLLM) ChatStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := trace.StartSpan(ctx, "llm.ChatStream")
		defer span.End()

		start := time.Now()
		status, chars := "ok", 0
		defer func() {
			metrics.LLMCalls.WithLabelValues(o.provider, "stream", status).Inc()
			logger.Debug(ctx, "LLM stream finished",
				"provider", o.provider,
				"status", status,
				"reply_chars", chars,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}()

		for chunk, err := range o.llm.ChatStream(ctx, prompt) {
			if err != nil {
				status = "error"
				logger.ErrorWithErr(ctx, "LLM stream failed", err, "provider", o.provider)
			}
			chars += len(chunk)
			if !yield(chunk, err) {
				if status == "ok" {
					status = "abandoned"
				}
				return
			}
		}
	}
}
