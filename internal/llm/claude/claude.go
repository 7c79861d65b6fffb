// Package claude adapts the Anthropic Messages API to interfaces.LLM.
package claude

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"llm-dealer/internal/interfaces"
)

const defaultMaxTokens = 2048

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	System      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type Client struct {
	client anthropic.Client
	opts   Options
}

var _ interfaces.LLM = (*Client)(nil)

func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("claude: api key missing")
	}
	if opts.Model == "" {
		return nil, errors.New("claude: model missing")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	return &Client{client: anthropic.NewClient(reqOpts...), opts: opts}, nil
}

func (c *Client) params(prompt string) anthropic.MessageNewParams {
	p := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.opts.Model),
		MaxTokens:   int64(c.opts.MaxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(c.opts.Temperature),
	}
	if c.opts.System != "" {
		p.System = []anthropic.TextBlockParam{{Text: c.opts.System}}
	}
	return p
}

func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.params(prompt))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("claude: reply has no text")
	}
	return b.String(), nil
}

func (c *Client) ChatStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := c.client.Messages.NewStreaming(ctx, c.params(prompt))
		defer stream.Close()
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !yield(text.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", err)
		}
	}
}
