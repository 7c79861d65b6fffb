package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"llm-dealer/internal/store"
)

const templates = `templates:
  - name: answer
    keywords: [answer]
    description: answer a question
    template: |
      one step storing output_result
`

func scriptedConfig(t *testing.T, dir string) *store.Config {
	t.Helper()
	path := filepath.Join(dir, "templates.yaml")
	if err := os.WriteFile(path, []byte(templates), 0o644); err != nil {
		t.Fatal(err)
	}
	plan := "```json\n" + `[{"description": "answer", "pseudocode": "", "tip_help": "", "functions": [],
  "input_vars": [], "output_vars": [{"name": "output_result", "description": "answer"}]}]` + "\n```"
	code := "```python\ncode_tools.add(\"output_result\", \"42\")\n```"

	yaml := fmt.Sprintf(`mode: DRY_RUN
timezone: UTC
llm:
  provider: SCRIPTED
  script:
    - %q
    - %q
query:
  template_path: %s
provider:
  cache_dir: %s
`, plan, code, path, filepath.Join(dir, "cache"))
	cfg, err := store.ParseConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	return cfg
}

func TestOrchestratorFromConfig(t *testing.T) {
	t.Setenv("KITE_API_KEY", "")
	t.Setenv("KITE_ACCESS_TOKEN", "")
	cfg := scriptedConfig(t, t.TempDir())

	o, err := Orchestrator(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ans, err := o.Query(context.Background(), "what is the answer")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if !ans.Found || ans.Result != "42" {
		t.Errorf("expected result 42, got %+v", ans)
	}
}

func TestOrchestratorMissingTemplates(t *testing.T) {
	cfg := scriptedConfig(t, t.TempDir())
	cfg.Query.TemplatePath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := Orchestrator(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "template") {
		t.Errorf("expected template load error, got %v", err)
	}
}

func TestKiteHistoryNeedsCredentials(t *testing.T) {
	t.Setenv("KITE_API_KEY", "key")
	t.Setenv("KITE_ACCESS_TOKEN", "")
	cfg := scriptedConfig(t, t.TempDir())
	if h := KiteHistory(context.Background(), cfg, nil); h != nil {
		t.Errorf("expected no history source without an access token")
	}
	t.Setenv("KITE_ACCESS_TOKEN", "token")
	if h := KiteHistory(context.Background(), cfg, nil); h == nil {
		t.Errorf("expected history source with credentials")
	}
}

func TestRegistryListsMarketFunctions(t *testing.T) {
	cfg := scriptedConfig(t, t.TempDir())
	reg, err := Registry(context.Background(), cfg, nil, News(context.Background(), cfg), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	desc := reg.Describe()
	if !strings.Contains(desc, "latest_trading_date") || strings.Contains(desc, "history(") {
		t.Errorf("expected date and news functions without history, got:\n%s", desc)
	}
}
