package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"llm-dealer/internal/codetools"
	"llm-dealer/internal/llm/scripted"
	"llm-dealer/internal/plan"
	"llm-dealer/internal/sandbox"
)

type fakeProvider struct{}

func (fakeProvider) Describe() string { return "hot_rank(): today's hot list" }

func (fakeProvider) Docs(names []string) string { return strings.Join(names, ", ") + ": documented" }

func (fakeProvider) Module(context.Context) starlark.Value {
	hot := starlark.NewBuiltin("hot_rank", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return starlark.NewList([]starlark.Value{starlark.String("AAA"), starlark.String("BBB")}), nil
	})
	return &starlarkstruct.Module{Name: "provider", Members: starlark.StringDict{"hot_rank": hot}}
}

func python(code string) string { return "```python\n" + code + "\n```" }

const twoStepPlan = "```json\n" + `[
  {"description": "fetch", "pseudocode": "", "tip_help": "", "functions": ["hot_rank"],
   "input_vars": [], "output_vars": [{"name": "hot", "description": "hot list"}]},
  {"description": "count", "pseudocode": "", "tip_help": "", "functions": [],
   "input_vars": [{"name": "hot", "description": "hot list"}],
   "output_vars": [{"name": "output_result", "description": "answer"}]}
]` + "\n```"

func newOrchestrator(llm *scripted.Client, attempts int) (*Orchestrator, *codetools.Store) {
	store := codetools.New()
	return New(Deps{LLM: llm, Provider: fakeProvider{}, Store: store, Runner: sandbox.New(), MaxAttempts: attempts}), store
}

func TestQueryRunsStepsInOrder(t *testing.T) {
	llm := scripted.New(
		twoStepPlan,
		python(`code_tools.add("hot", provider.hot_rank())`),
		python(`code_tools.add("output_result", "count %d" % len(code_tools["hot"]))`),
	)
	o, store := newOrchestrator(llm, 3)

	ans, err := o.Query(context.Background(), "how many hot stocks")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ans.Found || ans.Result != "count 2" {
		t.Errorf("expected found result 'count 2', got %+v", ans)
	}
	if ans.ID == "" || ans.Plan == nil || len(ans.Plan.Steps) != 2 {
		t.Errorf("expected id and plan, got %+v", ans)
	}
	if !store.Has("llm_client") || !store.Has("provider") {
		t.Errorf("expected collaborators to be registered")
	}
	if !strings.Contains(llm.Prompts()[1], "hot_rank: documented") {
		t.Errorf("expected step prompt to document the declared function")
	}
}

func TestQueryRejectsRedefinitionByLaterStep(t *testing.T) {
	llm := scripted.New(
		twoStepPlan,
		python(`code_tools.add("hot", [1])`),
	).WithFallback(python(`code_tools.add("hot", [2])`))
	o, _ := newOrchestrator(llm, 1)

	ans, err := o.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Found || ans.Result != NoResult {
		t.Errorf("expected no result, got %+v", ans)
	}
	if len(ans.Failures) != 1 || ans.Failures[0].Step != 2 || !strings.Contains(ans.Failures[0].Error, "cannot be redefined") {
		t.Errorf("expected step 2 redefinition failure, got %+v", ans.Failures)
	}
}

func TestQueryPlanErrorsAreFatal(t *testing.T) {
	o, _ := newOrchestrator(scripted.New("I cannot help with that."), 3)
	_, err := o.Query(context.Background(), "q")
	var pe *plan.ParseError
	if !errors.As(err, &pe) {
		t.Errorf("expected ParseError, got %v", err)
	}
}

func TestQuerySecurityViolationIsReturned(t *testing.T) {
	llm := scripted.New(twoStepPlan, python(`os.remove("hot.csv")`))
	o, _ := newOrchestrator(llm, 3)
	_, err := o.Query(context.Background(), "q")
	var sv *sandbox.SecurityViolation
	if !errors.As(err, &sv) {
		t.Errorf("expected SecurityViolation, got %v", err)
	}
}

func TestQueryMarkdown(t *testing.T) {
	llm := scripted.New(
		"```json\n[{\"description\": \"x\", \"output_vars\": [{\"name\": \"output_result\"}]}]\n```",
		python(`code_tools.add("output_result", {"a": 1})`),
		"# Report",
	)
	store := codetools.New()
	o := New(Deps{LLM: llm, Store: store, Markdown: true})
	ans, err := o.Query(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Result != "# Report" {
		t.Errorf("expected rendered markdown, got %q", ans.Result)
	}
	if !strings.Contains(llm.Prompts()[2], `"a": 1`) {
		t.Errorf("expected raw result in markdown prompt, got %q", llm.Prompts()[2])
	}
}

const oneStepPlan = "```json\n{\"description\": \"rank\", \"pseudocode\": \"p\", \"tip_help\": \"t\", \"functions\": [\"hot_rank\"]}\n```"

func TestStreamRepairsThenRendersMarkdown(t *testing.T) {
	llm := scripted.New(
		oneStepPlan,
		python("picks = missing_name"),
		python("picks = provider.hot_rank()\ncode_tools.add(\"output_result\", \", \".join(picks))"),
		"# Picks\n\nAAA, BBB",
	)
	llm.ChunkSize = 5
	o, _ := newOrchestrator(llm, 8)

	var events []Event
	for ev := range o.Stream(context.Background(), "pick stocks") {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("expected events")
	}

	idx := func(pred func(Event) bool) int {
		for i, ev := range events {
			if pred(ev) {
				return i
			}
		}
		return -1
	}
	done := idx(func(ev Event) bool { return ev.Content == PlanDone })
	repairing := idx(func(ev Event) bool {
		return ev.Type == EventMessage && strings.HasPrefix(ev.Content, "execution failed, repairing (attempt 1/8)")
	})
	success := idx(func(ev Event) bool { return ev.Content == "success, generating result..." })
	if done < 1 || repairing <= done || success <= repairing {
		t.Fatalf("expected plan done < repair < success, got %d %d %d in %+v", done, repairing, success, events)
	}
	if events[done].Plan == nil || events[done].Plan.Steps[0].Description != "rank" {
		t.Errorf("expected plan on the done marker")
	}
	if events[0].Content != "generating plan..." {
		t.Errorf("expected first message to announce planning, got %q", events[0].Content)
	}

	var planText strings.Builder
	for _, ev := range events[1:done] {
		planText.WriteString(ev.Content)
	}
	if planText.String() != oneStepPlan {
		t.Errorf("expected plan chunks to concatenate to the reply, got %q", planText.String())
	}

	last := events[len(events)-1]
	if last.Type != EventResult || last.Content != "# Picks\n\nAAA, BBB" {
		t.Errorf("expected markdown result last, got %+v", last)
	}
	var mdText strings.Builder
	for _, ev := range events[success+1 : len(events)-1] {
		mdText.WriteString(ev.Content)
	}
	if mdText.String() != last.Content {
		t.Errorf("expected markdown chunks before the result, got %q", mdText.String())
	}
}

func TestStreamNoResult(t *testing.T) {
	llm := scripted.New(oneStepPlan, python("x = 1"))
	o, _ := newOrchestrator(llm, 2)
	var last Event
	for ev := range o.Stream(context.Background(), "q") {
		last = ev
	}
	if last.Type != EventResult || last.Content != NoResult {
		t.Errorf("expected no-result event, got %+v", last)
	}
}

func TestStreamReportsExhaustion(t *testing.T) {
	llm := scripted.New(oneStepPlan).WithFallback(python("fail('nope')"))
	o, _ := newOrchestrator(llm, 2)
	var last Event
	for ev := range o.Stream(context.Background(), "q") {
		last = ev
	}
	if last.Type != EventError || !strings.Contains(last.Content, "execution failed") {
		t.Errorf("expected terminal error event, got %+v", last)
	}
}

func TestStreamConsumerStops(t *testing.T) {
	llm := scripted.New(oneStepPlan)
	o, _ := newOrchestrator(llm, 2)
	n := 0
	for range o.Stream(context.Background(), "q") {
		n++
		if n == 2 {
			break
		}
	}
	if llm.Calls() != 1 {
		t.Errorf("expected only the plan request, got %d calls", llm.Calls())
	}
}
