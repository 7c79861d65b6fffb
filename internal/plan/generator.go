package plan

import (
	"context"
	"fmt"
	"strings"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
)

// Catalog describes the data-provider functions generated code may call.
type Catalog interface {
	Describe() string
}

type Generator struct {
	llm       interfaces.LLM
	catalog   Catalog
	templates *TemplateStore
	resultKey string
}

func NewGenerator(llm interfaces.LLM, catalog Catalog, templates *TemplateStore, resultKey string) *Generator {
	if resultKey == "" {
		resultKey = DefaultResultKey
	}
	return &Generator{llm: llm, catalog: catalog, templates: templates, resultKey: resultKey}
}

func (g *Generator) ResultKey() string { return g.resultKey }

// Generate asks for a multi-step plan. Parse and contract failures are
// returned as *ParseError and *ContractError and are not retried.
func (g *Generator) Generate(ctx context.Context, query string) (ExecutionPlan, error) {
	op := logger.StartOperation(ctx, "plan_generate", "query", query)
	ctx = op.GetContext()

	reply, err := g.llm.Chat(ctx, g.multiStepPrompt(ctx, query))
	if err != nil {
		op.EndWithError(err)
		return ExecutionPlan{}, fmt.Errorf("plan request failed: %w", err)
	}
	p, err := Parse(reply)
	if err == nil {
		err = p.CheckResult(g.resultKey)
	}
	if err != nil {
		op.EndWithError(err)
		return ExecutionPlan{}, err
	}
	op.End("steps", len(p.Steps))
	return p, nil
}

// GenerateStream asks for a single-step plan over the streaming API and
// hands every chunk to onChunk before parsing the accumulated reply.
// Returning false from onChunk abandons the request.
func (g *Generator) GenerateStream(ctx context.Context, query string, onChunk func(string) bool) (ExecutionPlan, error) {
	var reply strings.Builder
	for chunk, err := range g.llm.ChatStream(ctx, g.singleStepPrompt(ctx, query)) {
		if err != nil {
			return ExecutionPlan{}, fmt.Errorf("plan stream failed: %w", err)
		}
		reply.WriteString(chunk)
		if !onChunk(chunk) {
			return ExecutionPlan{}, context.Canceled
		}
	}
	p, err := Parse(reply.String())
	if err != nil {
		return ExecutionPlan{}, err
	}
	p.Steps = p.Steps[:1]
	logger.Info(ctx, "Single-step plan generated", "description", p.Steps[0].Description, "functions", p.Steps[0].Functions)
	return p, nil
}

func (g *Generator) catalogText() string {
	if g.catalog == nil {
		return "(none)"
	}
	return g.catalog.Describe()
}

func (g *Generator) templateText(ctx context.Context, query string) string {
	t, ok := g.templates.Best(query)
	if !ok {
		return ""
	}
	logger.Info(ctx, "Plan template selected", "template", t.Name)
	return t.Template
}

func (g *Generator) multiStepPrompt(ctx context.Context, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Build an execution plan for this request:\n%s\n\n", query)
	fmt.Fprintf(&b, "Available data-provider functions:\n%s\n\n", g.catalogText())
	if t := g.templateText(ctx, query); t != "" {
		fmt.Fprintf(&b, "Base the plan on this template:\n%s\n\n", t)
	}
	fmt.Fprintf(&b, `Produce a plan with several steps as a JSON array. Each step has these fields:
1. "description": what the step must achieve
2. "pseudocode": pseudocode for the step
3. "tip_help": things to watch out for in this step
4. "functions": the data-provider functions the step needs, only from the list above
5. "input_vars": variables the step reads, each with "name" and "description"
6. "output_vars": variables the step produces, each with "name" and "description"

Cover these aspects:
1. select the relevant instruments
2. fetch the market, financial, news or historical data needed
3. analyse and score the data with the LLM
4. combine the results into a conclusion

Every variable name is written by exactly one step. The last step must list %q in output_vars and store the final answer under it.

Return the plan as formatted JSON wrapped in `+"```json and ```.\n", g.resultKey)
	return b.String()
}

func (g *Generator) singleStepPrompt(ctx context.Context, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Build a single-step execution plan for this request:\n%s\n\n", query)
	fmt.Fprintf(&b, "Available data-provider functions:\n%s\n\n", g.catalogText())
	if t := g.templateText(ctx, query); t != "" {
		fmt.Fprintf(&b, "Base the plan on this template:\n%s\n\n", t)
	}
	fmt.Fprintf(&b, `Produce the plan as one JSON object with these fields:
1. "description": what the step must achieve
2. "pseudocode": pseudocode for the step
3. "tip_help": things to watch out for in this step
4. "functions": the data-provider functions the step needs, only from the list above

Include detailed guidance on how to build prompts and what output format they require.
End the pseudocode with code_tools.add(%q, final_result) to store the final answer.

Where the step uses the LLM for analysis, spell out in the pseudocode:
1. a detailed prompt containing all data and context it needs
2. that the LLM must answer in JSON
3. everything the template asks for
4. that the call is llm.chat(prompt)

Return the plan as formatted JSON wrapped in `+"```json and ```.\n", g.resultKey)
	return b.String()
}
