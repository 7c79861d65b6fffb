package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"llm-dealer/internal/codetools"
	"llm-dealer/internal/llm/scripted"
	"llm-dealer/internal/query"
	"llm-dealer/internal/sandbox"
)

func init() { gin.SetMode(gin.TestMode) }

func python(code string) string { return "```python\n" + code + "\n```" }

const batchPlan = "```json\n" + `[{"description": "answer", "pseudocode": "", "tip_help": "", "functions": [],
  "input_vars": [], "output_vars": [{"name": "output_result", "description": "answer"}]}]` + "\n```"

const streamPlan = "```json\n{\"description\": \"answer\", \"pseudocode\": \"p\", \"tip_help\": \"t\", \"functions\": []}\n```"

func newServer(replies ...string) (*gin.Engine, *QueryHandler) {
	o := query.New(query.Deps{
		LLM:         scripted.New(replies...),
		Store:       codetools.New(),
		Runner:      sandbox.New(),
		MaxAttempts: 2,
	})
	h := NewQueryHandler(o)
	return NewEngine(h), h
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := newServer()
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 from %s, got %d", path, rec.Code)
		}
	}
}

func TestQuery(t *testing.T) {
	r, _ := newServer(batchPlan, python(`code_tools.add("output_result", "42")`))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query": "what is the answer"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Code int          `json:"code"`
		Data query.Answer `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Data.Found || resp.Data.Result != "42" || resp.Data.Query != "what is the answer" {
		t.Errorf("unexpected answer %+v", resp.Data)
	}
}

func TestQueryErrors(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		r, _ := newServer()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query": "  "}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unparseable plan", func(t *testing.T) {
		r, _ := newServer("no plan here")
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query": "q"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("cancelled while queued", func(t *testing.T) {
		r, h := newServer()
		h.slot <- struct{}{}
		defer h.release()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query": "q"}`)).WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
	})
}

func TestQueryStream(t *testing.T) {
	r, _ := newServer(streamPlan, python(`code_tools.add("output_result", "42")`), "**42**")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/query/stream?q="+url.QueryEscape("the answer"), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("expected event stream, got %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"event:message", "generating plan", query.PlanDone, "event:result"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in stream, got:\n%s", want, body)
		}
	}
	if strings.Index(body, "event:result") < strings.Index(body, "success, generating result") {
		t.Errorf("expected result after the success message")
	}
	if !strings.Contains(body, `"content":"**42**"`) {
		t.Errorf("expected rendered result in stream, got:\n%s", body)
	}
}

func TestQueryStreamRequiresQuery(t *testing.T) {
	r, _ := newServer()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query/stream", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
