package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"llm-dealer/internal/logger"
	"llm-dealer/internal/metrics"
	"llm-dealer/internal/plan"
	"llm-dealer/internal/repair"
	"llm-dealer/internal/sandbox"
)

type EventType string

const (
	EventMessage  EventType = "message"
	EventProgress EventType = "progress"
	EventError    EventType = "error"
	EventResult   EventType = "result"
)

// PlanDone marks the message that carries the parsed plan.
const PlanDone = "data: [Done]"

type Event struct {
	Type     EventType           `json:"type"`
	Content  string              `json:"content"`
	Progress float64             `json:"progress,omitempty"`
	Plan     *plan.ExecutionPlan `json:"plan,omitempty"`
}

// Stream answers text with a single-step plan, yielding events in causal
// order: plan tokens, execution status, then the Markdown result tokens.
// The sequence ends with a result event unless the run fails or the
// consumer stops. Breaking out of the range or cancelling ctx stops it.
func (o *Orchestrator) Stream(ctx context.Context, text string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		status := "ok"
		defer func() { metrics.QueryRuns.WithLabelValues("stream", status).Inc() }()

		send := func(ev Event) bool {
			if ctx.Err() != nil {
				status = "cancelled"
				return false
			}
			if !yield(ev) {
				status = "cancelled"
				return false
			}
			return true
		}
		msg := func(s string) bool { return send(Event{Type: EventMessage, Content: s}) }
		fail := func(s string) { send(Event{Type: EventError, Content: s}) }

		logger.Info(ctx, "Streaming query started", "query", text)
		if !msg("generating plan...") {
			return
		}

		p, err := o.gen.GenerateStream(ctx, text, msg)
		if err != nil {
			if status != "cancelled" {
				status = "plan_error"
				fail(fmt.Sprintf("plan generation failed: %v", err))
			}
			return
		}
		if !send(Event{Type: EventMessage, Content: PlanDone, Plan: &p}) || !msg("plan ready, executing...") {
			return
		}

		step := p.Steps[0]
		env := o.begin(ctx)
		o.store.BeginStep(0)
		if !msg("executing step: " + step.Description) {
			return
		}

		code, prompt, err := o.synth.Synthesize(ctx, step, text, 0, 1)
		if err != nil {
			status = "step_failed"
			fail(fmt.Sprintf("code generation failed: %v", err))
			return
		}

		obs := repair.Observer{
			Event: func(ev sandbox.Event) bool {
				switch ev.Type {
				case sandbox.EventProgress:
					return send(Event{Type: EventProgress, Progress: ev.Progress})
				case sandbox.EventOutput:
					return msg(ev.Text)
				case sandbox.EventError:
					return send(Event{Type: EventError, Content: ev.Text})
				}
				return true
			},
			Retry: func(attempt, max int, _ string) bool {
				return msg(fmt.Sprintf("execution failed, repairing (attempt %d/%d)", attempt, max))
			},
		}
		_, err = o.loop.Execute(ctx, repair.Task{Code: code, Prompt: prompt, Env: env, Last: true}, obs)
		if err != nil {
			var sv *sandbox.SecurityViolation
			switch {
			case repair.IsStopped(err) || status == "cancelled":
				status = "cancelled"
			case errors.As(err, &sv):
				status = "refused"
				fail(fmt.Sprintf("execution refused: %v", sv))
			default:
				status = "step_failed"
				fail(fmt.Sprintf("execution failed: %v", err))
			}
			return
		}

		if !msg("success, generating result...") {
			return
		}
		result, found := o.result(ctx)
		if !found {
			status = "no_result"
			if msg(NoResult) {
				send(Event{Type: EventResult, Content: NoResult})
			}
			return
		}

		var md strings.Builder
		for chunk, err := range o.llm.ChatStream(ctx, markdownPrompt(result)) {
			if err != nil {
				logger.Warn(ctx, "Markdown stream failed, returning raw result", "error", err)
				md.Reset()
				md.WriteString(result)
				if !msg(result) {
					return
				}
				break
			}
			md.WriteString(chunk)
			if !msg(chunk) {
				return
			}
		}
		send(Event{Type: EventResult, Content: md.String()})
	}
}
