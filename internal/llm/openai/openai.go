// Package openai adapts the OpenAI chat-completions API (and compatible
// gateways reached through base_url) to interfaces.LLM.
package openai

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"llm-dealer/internal/interfaces"
)

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
	client openai.Client
	opts   Options
}

var _ interfaces.LLM = (*Client)(nil)

func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai: api key missing")
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model missing")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	return &Client{client: openai.NewClient(reqOpts...), opts: opts}, nil
}

func (c *Client) params(prompt string) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if c.opts.System != "" {
		msgs = append(msgs, openai.SystemMessage(c.opts.System))
	}
	msgs = append(msgs, openai.UserMessage(prompt))
	p := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.opts.Model),
		Messages:    msgs,
		Temperature: openai.Float(c.opts.Temperature),
	}
	if c.opts.MaxTokens > 0 {
		p.MaxTokens = openai.Int(int64(c.opts.MaxTokens))
	}
	return p
}

func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) ChatStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(prompt))
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", err)
		}
	}
}
