package provider

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"llm-dealer/internal/starconv"
)

// Module binds every registered function as a builtin of a Starlark
// module named provider. Positional arguments follow the declared order.
func (r *Registry) Module(ctx context.Context) starlark.Value {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()

	members := make(starlark.StringDict, len(names))
	for _, name := range names {
		f, _ := r.lookup(name)
		members[name] = starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			pos, kw := starconv.Args(args, kwargs)
			if len(pos) > len(f.Params) {
				return nil, fmt.Errorf("%s: takes at most %d arguments (%d given)", b.Name(), len(f.Params), len(pos))
			}
			for i, v := range pos {
				if _, dup := kw[f.Params[i].Name]; dup {
					return nil, fmt.Errorf("%s: got multiple values for %s", b.Name(), f.Params[i].Name)
				}
				kw[f.Params[i].Name] = v
			}
			out, err := r.Call(ctx, name, kw)
			if err != nil {
				return nil, err
			}
			return starconv.ToValue(out)
		})
	}
	return &starlarkstruct.Module{Name: "provider", Members: members}
}
