// Package repair runs step code and, when it fails, feeds the code and the
// error back to the LLM for a fixed version, up to a bounded attempt count.
package repair

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.starlark.net/starlark"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/metrics"
	"llm-dealer/internal/plan"
	"llm-dealer/internal/sandbox"
	"llm-dealer/internal/synth"
)

const DefaultMaxAttempts = 8

var ErrExhausted = errors.New("repair attempts exhausted")

type Executor interface {
	Run(ctx context.Context, code string, env starlark.StringDict) sandbox.Result
	RunStream(ctx context.Context, code string, env starlark.StringDict) iter.Seq[sandbox.Event]
}

// Observer receives loop activity. Event, when set, switches execution to
// streaming mode and gets every runner event except the result; Retry is
// called before each fix request. Returning false from either stops the loop.
type Observer struct {
	Event func(sandbox.Event) bool
	Retry func(attempt, max int, errText string) bool
}

// Task is one step program to run. Prompt is the request that produced
// Code; fixes repeat it. Last marks the final step of the plan.
type Task struct {
	Code   string
	Prompt string
	Env    starlark.StringDict
	Last   bool
}

type Outcome struct {
	Code     string
	Attempts int
	Result   sandbox.Result
}

type Loop struct {
	llm         interfaces.LLM
	exec        Executor
	maxAttempts int
	resultKey   string
}

func New(llm interfaces.LLM, exec Executor, maxAttempts int, resultKey string) *Loop {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if resultKey == "" {
		resultKey = plan.DefaultResultKey
	}
	return &Loop{llm: llm, exec: exec, maxAttempts: maxAttempts, resultKey: resultKey}
}

func (l *Loop) MaxAttempts() int { return l.maxAttempts }

var errStopped = errors.New("stopped by observer")

// Execute runs the task code and repairs it until it succeeds or the
// attempts run out. A *sandbox.SecurityViolation ends the loop at once. On exhaustion
// the error wraps ErrExhausted and Outcome holds the last failed result.
func (l *Loop) Execute(ctx context.Context, task Task, obs Observer) (Outcome, error) {
	out := Outcome{Code: task.Code}
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		res, err := l.run(ctx, out.Code, task.Env, obs)
		if err != nil {
			return out, err
		}
		out.Result = res
		if !res.Failed() {
			if attempt > 1 {
				metrics.QueryRepairs.WithLabelValues("fixed").Inc()
				logger.Info(ctx, "Step code repaired", "attempts", attempt)
			}
			return out, nil
		}

		var sv *sandbox.SecurityViolation
		if errors.As(res.Err, &sv) {
			metrics.QueryRepairs.WithLabelValues("refused").Inc()
			logger.Warn(ctx, "Step code rejected, not retrying", "call", sv.Call)
			return out, res.Err
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if attempt >= l.maxAttempts {
			metrics.QueryRepairs.WithLabelValues("exhausted").Inc()
			logger.Error(ctx, "Step code failed after all repair attempts", "attempts", attempt, "last_error", res.Error)
			return out, fmt.Errorf("%w after %d attempts: %s", ErrExhausted, attempt, res.Error)
		}

		logger.Repair(ctx, attempt, l.maxAttempts, res.Err)
		metrics.QueryRepairs.WithLabelValues("retry").Inc()
		if obs.Retry != nil && !obs.Retry(attempt, l.maxAttempts, res.Error) {
			return out, errStopped
		}
		fixed, err := l.llm.Chat(ctx, l.FixPrompt(out.Code, res.Error, task.Prompt, task.Last))
		if err != nil {
			return out, fmt.Errorf("repair request failed: %w", err)
		}
		out.Code = synth.Code(fixed)
	}
}

func (l *Loop) run(ctx context.Context, code string, env starlark.StringDict, obs Observer) (sandbox.Result, error) {
	if obs.Event == nil {
		return l.exec.Run(ctx, code, env), nil
	}
	var res sandbox.Result
	stopped := false
	for ev := range l.exec.RunStream(ctx, code, env) {
		if ev.Type == sandbox.EventResult {
			res = *ev.Result
			continue
		}
		if !obs.Event(ev) {
			stopped = true
			break
		}
	}
	if stopped {
		return res, errStopped
	}
	return res, nil
}

// FixPrompt asks for a corrected version of code that failed with errText.
func (l *Loop) FixPrompt(code, errText, original string, last bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Running this program failed:\n\n```python\n%s\n```\n\n", code)
	fmt.Fprintf(&b, "Error:\n%s\n\n", errText)
	fmt.Fprintf(&b, "Original instructions:\n%s\n\n", original)
	b.WriteString("Fix the program so the error goes away. Keep every requirement of the original instructions, in particular:\n")
	b.WriteString(synth.Rules(l.resultKey, last))
	b.WriteString("\nReply with the complete corrected code only, wrapped in ```python and ```.\n")
	return b.String()
}

// IsStopped reports whether err came from an observer ending the loop.
func IsStopped(err error) bool { return errors.Is(err, errStopped) }
