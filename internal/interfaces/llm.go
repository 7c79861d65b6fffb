package interfaces

import (
	"context"
	"iter"
)

// LLM is a chat-completion client. The chunks yielded by ChatStream
// concatenate to the reply Chat would have returned.
type LLM interface {
	Chat(ctx context.Context, prompt string) (string, error)
	ChatStream(ctx context.Context, prompt string) iter.Seq2[string, error]
}
