package query

import (
	"context"
	"encoding/json"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/starconv"
)

// Provider is the data-provider surface generated code works against.
type Provider interface {
	Describe() string
	Docs(names []string) string
	Module(ctx context.Context) starlark.Value
}

// llmModule exposes chat(prompt) to step programs.
func llmModule(ctx context.Context, llm interfaces.LLM) *starlarkstruct.Module {
	chat := starlark.NewBuiltin("chat", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var prompt string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &prompt); err != nil {
			return nil, err
		}
		reply, err := llm.Chat(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("llm.chat: %w", err)
		}
		return starlark.String(reply), nil
	})
	return &starlarkstruct.Module{
		Name:    "llm",
		Members: starlark.StringDict{"chat": chat, "one_chat": chat},
	}
}

// render turns a stored result into text for the caller.
func render(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case starlark.String:
		return v.GoString()
	case starlark.Value:
		g := starconv.FromValue(v)
		if s, ok := g.(string); ok {
			return s
		}
		return marshal(g)
	default:
		return marshal(v)
	}
}

func marshal(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
