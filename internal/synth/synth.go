// Package synth turns one plan step into a Starlark program.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"llm-dealer/internal/codetools"
	"llm-dealer/internal/fence"
	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/plan"
)

// Docs returns the documentation of the named provider functions.
type Docs interface {
	Docs(names []string) string
}

type Synthesizer struct {
	llm       interfaces.LLM
	docs      Docs
	store     *codetools.Store
	resultKey string
}

func New(llm interfaces.LLM, docs Docs, store *codetools.Store, resultKey string) *Synthesizer {
	if resultKey == "" {
		resultKey = plan.DefaultResultKey
	}
	return &Synthesizer{llm: llm, docs: docs, store: store, resultKey: resultKey}
}

// Synthesize asks for the code of step index (zero-based) out of total and
// returns it along with the prompt used, which repairs repeat.
func (s *Synthesizer) Synthesize(ctx context.Context, step plan.Step, query string, index, total int) (code, prompt string, err error) {
	prompt = s.Prompt(step, query, index, total)
	reply, err := s.llm.Chat(ctx, prompt)
	if err != nil {
		return "", prompt, fmt.Errorf("step %d code request failed: %w", index+1, err)
	}
	code = Code(reply)
	logger.Debug(ctx, "Step code generated", "step", index+1, "total", total, "code_bytes", len(code))
	return code, prompt, nil
}

// Code takes the first ```python (or ```starlark) block of reply, or the
// whole reply when it has no fence.
func Code(reply string) string {
	if body, ok := fence.Extract(reply, "python"); ok {
		return body
	}
	if body, ok := fence.Extract(reply, "starlark"); ok {
		return body
	}
	return strings.TrimSpace(reply)
}

func (s *Synthesizer) Prompt(step plan.Step, query string, index, total int) string {
	var b strings.Builder
	b.WriteString("Write an executable program for the following plan step.\n\n")
	fmt.Fprintf(&b, "Overall request: %s\n", query)
	fmt.Fprintf(&b, "Step %d of %d: %s\n", index+1, total, step.Description)
	fmt.Fprintf(&b, "Pseudocode: %s\n", step.Pseudocode)
	if step.TipHelp != "" {
		fmt.Fprintf(&b, "Notes: %s\n", step.TipHelp)
	}
	b.WriteString("\n")

	if len(step.InputVars) > 0 {
		fmt.Fprintf(&b, "Input variables:\n%s\n\n", jsonIndent(step.InputVars))
		if sum := s.summaries(step.InputVars); sum != "" {
			fmt.Fprintf(&b, "What the input variables hold:\n%s\n", sum)
		}
	}
	if len(step.OutputVars) > 0 {
		fmt.Fprintf(&b, "Output variables:\n%s\n\n", jsonIndent(step.OutputVars))
	}
	if len(step.Functions) > 0 && s.docs != nil {
		fmt.Fprintf(&b, "Provider functions available to this step:\n%s\n\n", s.docs.Docs(step.Functions))
	}

	b.WriteString(Rules(s.resultKey, index == total-1))
	b.WriteString("\nReply with the code only, wrapped in ```python and ```.\n")
	return b.String()
}

// Rules lists the conventions every step program must follow.
func Rules(resultKey string, last bool) string {
	var b strings.Builder
	b.WriteString(`The program runs in a Starlark interpreter (Python syntax, no import, no class, no try/except, no while-True loops without an exit).
Follow these rules:
1. code_tools, provider and llm are predeclared; do not import anything.
2. Read inputs with code_tools["name"].
3. Store outputs with code_tools.add("name", value). Never reuse a name another step produced.
4. Call data functions only as provider.<function>(...), and only the functions listed above.
5. Use llm.chat(prompt) for LLM analysis; ask for JSON and decode it with json.decode.
6. For large outputs also store a short description with code_tools.set_summary("name", text).
`)
	if last {
		fmt.Fprintf(&b, "7. This is the last step: store the final answer with code_tools.add(%q, final_result).\n", resultKey)
	}
	return b.String()
}

func (s *Synthesizer) summaries(vars []plan.VarSpec) string {
	if s.store == nil {
		return ""
	}
	var b strings.Builder
	for _, v := range vars {
		if sum := s.store.Summary(v.Name); sum != "" {
			fmt.Fprintf(&b, "- %s: %s\n", v.Name, sum)
		}
	}
	return b.String()
}

func jsonIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
