// Package scripted is an LLM that replays canned replies in order. It
// backs dry runs and tests; once the script is exhausted every call gets
// the fallback reply, which by default holds.
package scripted

import (
	"context"
	"iter"
	"sync"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
)

const HoldReply = "```json\n{\"trade_instruction\": \"hold\", \"next_message\": \"\", \"trade_reason\": \"scripted fallback\", \"trade_plan\": \"\"}\n```"

type Client struct {
	mu       sync.Mutex
	replies  []string
	next     int
	prompts  []string
	fallback string
	// ChunkSize is the rune count of each streamed chunk.
	ChunkSize int
	// Err, when set, fails every call.
	Err error
}

var _ interfaces.LLM = (*Client)(nil)

func New(replies ...string) *Client {
	return &Client{replies: replies, fallback: HoldReply, ChunkSize: 16}
}

// WithFallback replaces the reply used after the script runs out.
func (c *Client) WithFallback(reply string) *Client {
	c.fallback = reply
	return c
}

func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if c.Err != nil {
		return "", c.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.next >= len(c.replies) {
		logger.Debug(ctx, "Scripted LLM exhausted, using fallback", "calls", len(c.prompts))
		return c.fallback, nil
	}
	r := c.replies[c.next]
	c.next++
	return r, nil
}

func (c *Client) ChatStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reply, err := c.Chat(ctx, prompt)
		if err != nil {
			yield("", err)
			return
		}
		size := c.ChunkSize
		if size <= 0 {
			size = len(reply)
		}
		r := []rune(reply)
		for i := 0; i < len(r); i += size {
			if !yield(string(r[i:min(i+size, len(r))]), nil) {
				return
			}
		}
	}
}

// Prompts returns every prompt received so far.
func (c *Client) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// Calls is the number of prompts received.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}
