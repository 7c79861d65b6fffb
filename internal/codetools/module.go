package codetools

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"

	"llm-dealer/internal/starconv"
)

// Value exposes a Store to Starlark as code_tools. It supports
// code_tools["x"], code_tools["x"] = v, "x" in code_tools and the methods
// add, get, has, delete, summary, set_summary and names.
type Value struct {
	store *Store
}

var (
	_ starlark.HasAttrs  = (*Value)(nil)
	_ starlark.Mapping   = (*Value)(nil)
	_ starlark.HasSetKey = (*Value)(nil)
)

func (s *Store) Starlark() *Value { return &Value{store: s} }

func (v *Value) String() string        { return "<code_tools>" }
func (v *Value) Type() string          { return "code_tools" }
func (v *Value) Freeze()               {}
func (v *Value) Truth() starlark.Bool  { return starlark.True }
func (v *Value) Hash() (uint32, error) { return 0, errors.New("unhashable: code_tools") }

func (v *Value) get(name string) (starlark.Value, error) {
	raw, err := v.store.Get(name)
	if err != nil {
		return nil, err
	}
	return starconv.ToValue(raw)
}

func (v *Value) Get(k starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("code_tools key must be a string, got %s", k.Type())
	}
	val, err := v.get(name)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (v *Value) SetKey(k, val starlark.Value) error {
	name, ok := starlark.AsString(k)
	if !ok {
		return fmt.Errorf("code_tools key must be a string, got %s", k.Type())
	}
	return v.store.Add(name, val)
}

var methods = map[string]func(v *Value, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error){
	"add": func(v *Value, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var val starlark.Value
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "value", &val); err != nil {
			return nil, err
		}
		return starlark.None, v.store.Add(name, val)
	},
	"get": func(v *Value, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var def starlark.Value
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
			return nil, err
		}
		val, err := v.get(name)
		if errors.Is(err, ErrNotFound) && def != nil {
			return def, nil
		}
		return val, err
	},
	"has": func(v *Value, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		return starlark.Bool(v.store.Has(name)), nil
	},
	"delete": func(v *Value, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		return starlark.None, v.store.Delete(name)
	},
	"summary": func(v *Value, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		return starlark.String(v.store.Summary(name)), nil
	},
	"set_summary": func(v *Value, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name, text string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "summary", &text); err != nil {
			return nil, err
		}
		return starlark.None, v.store.SetSummary(name, text)
	},
	"names": func(v *Value, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		names := v.store.Names()
		elems := make([]starlark.Value, len(names))
		for i, n := range names {
			elems[i] = starlark.String(n)
		}
		return starlark.NewList(elems), nil
	},
}

func (v *Value) Attr(name string) (starlark.Value, error) {
	m, ok := methods[name]
	if !ok {
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return m(v, b, args, kwargs)
	}), nil
}

func (v *Value) AttrNames() []string {
	return []string{"add", "delete", "get", "has", "names", "set_summary", "summary"}
}
