package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRequiresKeyAndModel(t *testing.T) {
	if _, err := New(Options{Model: "m"}); err == nil {
		t.Errorf("expected missing key error")
	}
	if _, err := New(Options{APIKey: "k"}); err == nil {
		t.Errorf("expected missing model error")
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if body.Model != "gpt-test" || len(body.Messages) != 2 || body.Messages[1].Content != "ping" {
			t.Errorf("unexpected request body %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
"choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c, err := New(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Model: "gpt-test", System: "be brief"})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := c.Chat(context.Background(), "ping")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "pong" {
		t.Errorf("expected pong, got %q", reply)
	}
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"po", "ng"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-test\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := New(Options{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "gpt-test"})
	if err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	for chunk, err := range c.ChatStream(context.Background(), "ping") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b.WriteString(chunk)
	}
	if b.String() != "pong" {
		t.Errorf("expected pong, got %q", b.String())
	}
}
