// Package llm builds the configured chat client.
package llm

import (
	"fmt"
	"os"
	"time"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/llm/claude"
	"llm-dealer/internal/llm/llmobs"
	"llm-dealer/internal/llm/openai"
	"llm-dealer/internal/llm/scripted"
	"llm-dealer/internal/store"
)

var defaultKeyEnv = map[string]string{
	"OPENAI": "OPENAI_API_KEY",
	"CLAUDE": "CLAUDE_API_KEY",
}

// New returns the client selected by llm.provider, wrapped for
// observability. The API key is read from the variable named by
// llm.api_key_env.
func New(cfg *store.Config) (interfaces.LLM, error) {
	c := cfg.LLM
	keyEnv := c.APIKeyEnv
	if keyEnv == "" {
		keyEnv = defaultKeyEnv[c.Provider]
	}
	timeout := time.Duration(c.TimeoutSeconds) * time.Second

	var (
		client interfaces.LLM
		err    error
	)
	switch c.Provider {
	case "OPENAI":
		client, err = openai.New(openai.Options{
			APIKey:      os.Getenv(keyEnv),
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			System:      c.System,
			MaxTokens:   c.MaxTokens,
			Temperature: float64(c.Temperature),
			Timeout:     timeout,
		})
	case "CLAUDE":
		client, err = claude.New(claude.Options{
			APIKey:      os.Getenv(keyEnv),
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			System:      c.System,
			MaxTokens:   c.MaxTokens,
			Temperature: float64(c.Temperature),
			Timeout:     timeout,
		})
	case "SCRIPTED":
		client = scripted.New(c.Script...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", c.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s client (key from %s): %w", c.Provider, keyEnv, err)
	}
	return llmobs.Wrap(client, c.Provider), nil
}
