package llmobs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"llm-dealer/internal/llm/scripted"
	"llm-dealer/internal/metrics"
)

func TestWrapCountsCalls(t *testing.T) {
	ok := metrics.LLMCalls.WithLabelValues("obs-test", "chat", "ok")
	failed := metrics.LLMCalls.WithLabelValues("obs-test", "chat", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	inner := scripted.New("hello")
	llm := Wrap(inner, "obs-test")
	reply, err := llm.Chat(context.Background(), "hi")
	if err != nil || reply != "hello" {
		t.Fatalf("expected hello, got %q (%v)", reply, err)
	}
	inner.Err = errors.New("boom")
	if _, err := llm.Chat(context.Background(), "hi"); err == nil {
		t.Errorf("expected error to pass through")
	}

	if got := testutil.ToFloat64(ok) - okBefore; got != 1 {
		t.Errorf("expected 1 ok call, got %v", got)
	}
	if got := testutil.ToFloat64(failed) - failedBefore; got != 1 {
		t.Errorf("expected 1 failed call, got %v", got)
	}
}

func TestWrapStream(t *testing.T) {
	inner := scripted.New("streamed reply text")
	inner.ChunkSize = 4
	llm := Wrap(inner, "obs-stream")

	var b strings.Builder
	for chunk, err := range llm.ChatStream(context.Background(), "hi") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b.WriteString(chunk)
	}
	if b.String() != "streamed reply text" {
		t.Errorf("expected full reply, got %q", b.String())
	}

	abandoned := metrics.LLMCalls.WithLabelValues("obs-stream", "stream", "abandoned")
	before := testutil.ToFloat64(abandoned)
	for range llm.ChatStream(context.Background(), "hi") {
		break
	}
	if got := testutil.ToFloat64(abandoned) - before; got != 1 {
		t.Errorf("expected abandoned stream to be counted, got %v", got)
	}
}
