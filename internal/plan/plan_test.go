package plan

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"llm-dealer/internal/llm/scripted"
)

const multiReply = "Here is the plan:\n```json\n" + `[
  {"description": "pick hot stocks", "pseudocode": "rank = provider.hot_rank()", "tip_help": "top 20 only",
   "functions": ["hot_rank"], "input_vars": [], "output_vars": [{"name": "hot", "description": "hot list"}]},
  {"description": "score them", "code": "score each", "functions": [],
   "input_vars": [{"name": "hot", "description": "hot list"}],
   "output_vars": [{"name": "output_result", "description": "final picks"}]}
]` + "\n```\nGood luck."

type catalog string

func (c catalog) Describe() string { return string(c) }

func TestParseMultiStep(t *testing.T) {
	p, err := Parse(multiReply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(p.Steps))
	}
	first := p.Steps[0]
	if first.Description != "pick hot stocks" || first.TipHelp != "top 20 only" || first.Functions[0] != "hot_rank" {
		t.Errorf("unexpected first step: %+v", first)
	}
	if p.Steps[1].Pseudocode != "score each" {
		t.Errorf("expected code field to fill pseudocode, got %q", p.Steps[1].Pseudocode)
	}
	if err := p.CheckResult(DefaultResultKey); err != nil {
		t.Errorf("expected result contract to hold, got %v", err)
	}
}

func TestParseSingleObject(t *testing.T) {
	p, err := Parse("```json\n{\"description\": \"one shot\", \"pseudocode\": \"x\", \"tip_help\": \"\", \"functions\": [\"a\"]}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Steps) != 1 || p.Steps[0].Description != "one shot" {
		t.Errorf("expected one step, got %+v", p.Steps)
	}
}

func TestParseFailures(t *testing.T) {
	cases := map[string]string{
		"no fence":     `[{"description": "x"}]`,
		"invalid json": "```json\n[{\"description\": }]\n```",
		"empty array":  "```json\n[]\n```",
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(reply)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %v", err)
			}
		})
	}
}

func TestCheckResultContract(t *testing.T) {
	p := ExecutionPlan{Steps: []Step{{Description: "a", OutputVars: []VarSpec{{Name: "other"}}}}}
	err := p.CheckResult(DefaultResultKey)
	var ce *ContractError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ContractError, got %v", err)
	}
	if ce.Key != DefaultResultKey || ce.Step != 0 {
		t.Errorf("unexpected contract error: %+v", ce)
	}
}

func TestGenerate(t *testing.T) {
	llm := scripted.New(multiReply)
	store := NewTemplateStore(Template{Name: "hot list", Keywords: []string{"hot"}, Template: "TEMPLATE BODY"})
	g := NewGenerator(llm, catalog("hot_rank: returns the hot list"), store, "")

	p, err := g.Generate(context.Background(), "pick 5 hot stocks")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(p.Steps))
	}
	prompt := llm.Prompts()[0]
	for _, want := range []string{"pick 5 hot stocks", "hot_rank: returns the hot list", "TEMPLATE BODY", `"output_result"`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
}

type ctxKey struct{}

// ctxHandler records the context value each log record was emitted with.
type ctxHandler struct {
	mu   sync.Mutex
	seen map[string]any
}

func (h *ctxHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *ctxHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *ctxHandler) WithGroup(string) slog.Handler            { return h }
func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[r.Message] = ctx.Value(ctxKey{})
	return nil
}

func TestTemplateSelectionLogsWithQueryContext(t *testing.T) {
	h := &ctxHandler{seen: map[string]any{}}
	prev := slog.Default()
	slog.SetDefault(slog.New(h))
	defer slog.SetDefault(prev)

	store := NewTemplateStore(Template{Name: "hot list", Keywords: []string{"hot"}, Template: "TEMPLATE BODY"})
	g := NewGenerator(scripted.New(multiReply), nil, store, "")
	ctx := context.WithValue(context.Background(), ctxKey{}, "run-1")
	if _, err := g.Generate(ctx, "pick 5 hot stocks"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if got := h.seen["Plan template selected"]; got != "run-1" {
		t.Errorf("expected template log to carry the query context, got %v", got)
	}
}

func TestGenerateContractFailure(t *testing.T) {
	reply := "```json\n[{\"description\": \"a\", \"output_vars\": [{\"name\": \"x\"}]}]\n```"
	g := NewGenerator(scripted.New(reply), nil, nil, "")
	_, err := g.Generate(context.Background(), "q")
	var ce *ContractError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ContractError, got %v", err)
	}
}

func TestGenerateStream(t *testing.T) {
	reply := "```json\n{\"description\": \"rank\", \"pseudocode\": \"p\", \"tip_help\": \"t\", \"functions\": [\"hot_rank\"]}\n```"
	llm := scripted.New(reply)
	llm.ChunkSize = 7
	g := NewGenerator(llm, catalog("hot_rank"), nil, "")

	var chunks []string
	p, err := g.GenerateStream(context.Background(), "q", func(c string) bool {
		chunks = append(chunks, c)
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Errorf("expected several chunks, got %d", len(chunks))
	}
	if strings.Join(chunks, "") != reply {
		t.Errorf("expected chunks to concatenate to the reply")
	}
	if p.Steps[0].Description != "rank" {
		t.Errorf("expected parsed step, got %+v", p.Steps[0])
	}
}

func TestGenerateStreamAbandoned(t *testing.T) {
	g := NewGenerator(scripted.New("```json\n{}\n```"), nil, nil, "")
	_, err := g.GenerateStream(context.Background(), "q", func(string) bool { return false })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTemplateStoreBest(t *testing.T) {
	data := []byte(`
templates:
  - name: general
    keywords: []
    description: any query
    template: generic outline
  - name: hot list picks
    keywords: [hot, 热门]
    description: short-term picks from the hot list
    template: hot outline
  - name: fundamentals
    keywords: [valuation, pe]
    description: valuation screen
    template: valuation outline
`)
	s, err := ParseTemplates(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := map[string]string{
		"pick 5 short-term stocks from the hot list": "hot list picks",
		"从热门榜选5只股票":                                  "hot list picks",
		"screen by PE valuation":                     "fundamentals",
		"something unrelated":                        "general",
	}
	for q, want := range cases {
		got, ok := s.Best(q)
		if !ok || got.Name != want {
			t.Errorf("query %q: expected %q, got %q", q, want, got.Name)
		}
	}
	if _, ok := (*TemplateStore)(nil).Best("x"); ok {
		t.Errorf("expected nil store to match nothing")
	}
}

func TestParseTemplatesRejectsEmptyBody(t *testing.T) {
	if _, err := ParseTemplates([]byte("templates:\n  - name: x\n")); err == nil {
		t.Errorf("expected error for template without body")
	}
}
