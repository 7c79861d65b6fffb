// Package query answers natural-language requests by planning, generating
// one program per plan step, running each with repair and reading the
// result variable back from the shared store.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.starlark.net/starlark"

	"llm-dealer/internal/codetools"
	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/metrics"
	"llm-dealer/internal/plan"
	"llm-dealer/internal/repair"
	"llm-dealer/internal/sandbox"
	"llm-dealer/internal/synth"
)

// NoResult is returned when the plan ran but never stored its answer.
const NoResult = "no result"

type Deps struct {
	LLM         interfaces.LLM
	Provider    Provider
	Templates   *plan.TemplateStore
	Store       *codetools.Store
	Runner      repair.Executor
	MaxAttempts int
	ResultKey   string
	// Markdown reformats batch answers through one more LLM call.
	Markdown bool
}

// Orchestrator runs one query at a time against its store.
type Orchestrator struct {
	llm       interfaces.LLM
	provider  Provider
	store     *codetools.Store
	gen       *plan.Generator
	synth     *synth.Synthesizer
	loop      *repair.Loop
	resultKey string
	markdown  bool
}

func New(d Deps) *Orchestrator {
	if d.ResultKey == "" {
		d.ResultKey = plan.DefaultResultKey
	}
	if d.Store == nil {
		d.Store = codetools.New()
	}
	if d.Runner == nil {
		d.Runner = sandbox.New()
	}
	var catalog plan.Catalog
	var docs synth.Docs
	if d.Provider != nil {
		catalog, docs = d.Provider, d.Provider
	}
	return &Orchestrator{
		llm:       d.LLM,
		provider:  d.Provider,
		store:     d.Store,
		gen:       plan.NewGenerator(d.LLM, catalog, d.Templates, d.ResultKey),
		synth:     synth.New(d.LLM, docs, d.Store, d.ResultKey),
		loop:      repair.New(d.LLM, d.Runner, d.MaxAttempts, d.ResultKey),
		resultKey: d.ResultKey,
		markdown:  d.Markdown,
	}
}

// StepFailure records a step that could not be completed.
type StepFailure struct {
	Step     int    `json:"step"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

type Answer struct {
	ID       string              `json:"id"`
	Query    string              `json:"query"`
	Result   string              `json:"result"`
	Found    bool                `json:"found"`
	Plan     *plan.ExecutionPlan `json:"plan,omitempty"`
	Failures []StepFailure       `json:"failures,omitempty"`
}

// Query plans and runs text. Plan parse and contract failures and security
// violations are returned as errors. A step that exhausts its repairs stops
// the run and the answer falls back to NoResult with the failure recorded.
func (o *Orchestrator) Query(ctx context.Context, text string) (Answer, error) {
	ans := Answer{ID: uuid.NewString(), Query: text}
	op := logger.StartOperation(ctx, "query", "query_id", ans.ID)
	ctx = op.GetContext()

	p, err := o.gen.Generate(ctx, text)
	if err != nil {
		metrics.QueryRuns.WithLabelValues("batch", "plan_error").Inc()
		op.EndWithError(err)
		return ans, err
	}
	ans.Plan = &p

	env := o.begin(ctx)
	for i, step := range p.Steps {
		o.store.BeginStep(i)
		logger.Info(ctx, "Executing plan step", "query_id", ans.ID, "step", i+1, "total", len(p.Steps), "description", step.Description)

		code, prompt, err := o.synth.Synthesize(ctx, step, text, i, len(p.Steps))
		if err != nil {
			ans.Failures = append(ans.Failures, StepFailure{Step: i + 1, Error: err.Error()})
			break
		}
		out, err := o.loop.Execute(ctx, repair.Task{Code: code, Prompt: prompt, Env: env, Last: i == len(p.Steps)-1}, repair.Observer{})
		if err != nil {
			var sv *sandbox.SecurityViolation
			if errors.As(err, &sv) {
				metrics.QueryRuns.WithLabelValues("batch", "refused").Inc()
				op.EndWithError(err)
				return ans, err
			}
			ans.Failures = append(ans.Failures, StepFailure{Step: i + 1, Attempts: out.Attempts, Error: err.Error()})
			break
		}
	}

	ans.Result, ans.Found = o.result(ctx)
	if ans.Found && o.markdown {
		md, err := o.llm.Chat(ctx, markdownPrompt(ans.Result))
		if err != nil {
			logger.Warn(ctx, "Markdown rendering failed, returning raw result", "error", err)
		} else {
			ans.Result = md
		}
	}

	status := "ok"
	switch {
	case len(ans.Failures) > 0:
		status = "step_failed"
	case !ans.Found:
		status = "no_result"
	}
	metrics.QueryRuns.WithLabelValues("batch", status).Inc()
	op.End("status", status, "steps", len(p.Steps))
	return ans, nil
}

// begin resets the store for a new query, registers the collaborators and
// returns the globals every step program starts with.
func (o *Orchestrator) begin(ctx context.Context) starlark.StringDict {
	o.store.BeginQuery()
	llm := llmModule(ctx, o.llm)
	o.store.AddVar("llm_client", llm)
	env := starlark.StringDict{
		"code_tools": o.store.Starlark(),
		"llm":        llm,
	}
	if o.provider != nil {
		mod := o.provider.Module(ctx)
		o.store.AddVar("provider", mod)
		env["provider"] = mod
	}
	return env
}

func (o *Orchestrator) result(ctx context.Context) (string, bool) {
	v, err := o.store.Get(o.resultKey)
	if err != nil {
		logger.Warn(ctx, "Query finished without a result", "key", o.resultKey)
		return NoResult, false
	}
	return render(v), true
}

func markdownPrompt(result string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Turn the following query result into clear, well-structured Markdown:\n\nResult:\n%s\n\n", result)
	b.WriteString(`Make sure to:
1. organise the content with headings, lists and tables
2. keep every important detail in a more readable form
3. put numeric data in tables where it fits
4. add a short explanation or summary for each main part
5. separate multiple parts with headings

Reply with the Markdown text only.
`)
	return b.String()
}
