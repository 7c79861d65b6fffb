package codetools

import (
	"errors"
	"testing"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

func TestRedefinitionAcrossSteps(t *testing.T) {
	s := New()
	s.BeginQuery()
	s.BeginStep(0)
	if err := s.Add("stocks", []string{"600000"}); err != nil {
		t.Fatal(err)
	}
	// a retry of the same step may rewrite its own output
	if err := s.Add("stocks", []string{"600036"}); err != nil {
		t.Errorf("expected rewrite by owner to succeed, got %v", err)
	}

	s.BeginStep(1)
	err := s.Add("stocks", nil)
	var redef *RedefinitionError
	if !errors.As(err, &redef) {
		t.Fatalf("expected RedefinitionError, got %v", err)
	}
	if redef.Owner != 0 || redef.Step != 1 {
		t.Errorf("unexpected error fields %+v", redef)
	}
	if err := s.Delete("stocks"); !errors.As(err, &redef) {
		t.Errorf("expected delete by another step to be refused, got %v", err)
	}
}

func TestBeginQueryKeepsCollaborators(t *testing.T) {
	s := New()
	s.AddVar("provider", "handle")
	s.BeginQuery()
	if err := s.Add("output_result", "done"); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("provider", "other"); err == nil {
		t.Errorf("expected collaborator to be protected")
	}

	s.BeginQuery()
	if s.Has("output_result") {
		t.Errorf("expected step output dropped by new query")
	}
	if !s.Has("provider") {
		t.Errorf("expected collaborator to survive")
	}
	if _, err := s.Get("output_result"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	s := New()
	if err := s.Add("prices", []float64{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSummary("prices", "list of 2 closes"); err != nil {
		t.Fatal(err)
	}
	if got := s.Summary("prices"); got != "list of 2 closes" {
		t.Errorf("expected summary, got %q", got)
	}
	if got := s.Summary("missing"); got != "" {
		t.Errorf("expected empty summary, got %q", got)
	}
}

func exec(t *testing.T, s *Store, src string) error {
	t.Helper()
	thread := &starlark.Thread{Name: "test"}
	globals := starlark.StringDict{"code_tools": s.Starlark()}
	_, err := starlark.ExecFileOptions(&syntax.FileOptions{TopLevelControl: true}, thread, "step.star", src, globals)
	return err
}

func TestStarlarkBinding(t *testing.T) {
	s := New()
	s.AddVar("threshold", 3)
	s.BeginQuery()

	src := `
code_tools.add("picked", [x for x in [1, 2, 3, 4] if x >= code_tools["threshold"]])
code_tools["note"] = "ok"
code_tools.set_summary("picked", "ints at or above threshold")
if "picked" not in code_tools:
    fail("missing picked")
if code_tools.get("absent", None) != None:
    fail("expected default")
`
	if err := exec(t, s, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := s.Get("picked")
	if err != nil {
		t.Fatal(err)
	}
	if list, ok := v.(*starlark.List); !ok || list.Len() != 2 {
		t.Errorf("expected list of two, got %v", v)
	}
	if s.Summary("picked") != "ints at or above threshold" {
		t.Errorf("unexpected summary %q", s.Summary("picked"))
	}

	s.BeginStep(1)
	if err := exec(t, s, `code_tools["note"] = "again"`); err == nil {
		t.Errorf("expected redefinition error from a later step")
	}
}
