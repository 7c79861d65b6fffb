// Package provider is the catalog of named data functions that plans may
// reference and generated step programs call as provider.<name>(...).
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"llm-dealer/internal/logger"
)

var ErrUnknownFunction = errors.New("unknown provider function")

type Param struct {
	Name     string
	Doc      string
	Default  any
	Required bool
}

// Func is one callable data function. Call receives the arguments keyed by
// parameter name with defaults filled in.
type Func struct {
	Name      string
	Doc       string
	Params    []Param
	Cacheable bool
	Call      func(ctx context.Context, args map[string]any) (any, error)
}

func (f Func) signature() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		switch {
		case p.Required:
			parts[i] = p.Name
		default:
			parts[i] = fmt.Sprintf("%s=%v", p.Name, formatDefault(p.Default))
		}
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(parts, ", "))
}

func formatDefault(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	if v == nil {
		return "None"
	}
	return fmt.Sprint(v)
}

type Registry struct {
	mu      sync.RWMutex
	funcs   map[string]Func
	order   []string
	cache   *Cache
	limiter *RateLimiter
}

type Option func(*Registry)

// WithCache stores results of cacheable functions.
func WithCache(c *Cache) Option { return func(r *Registry) { r.cache = c } }

// WithRateLimiter throttles every call.
func WithRateLimiter(l *RateLimiter) Option { return func(r *Registry) { r.limiter = l } }

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Register(f Func) error {
	if f.Name == "" || f.Call == nil {
		return fmt.Errorf("provider function needs a name and a body")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[f.Name]; ok {
		return fmt.Errorf("provider function %s already registered", f.Name)
	}
	r.funcs[f.Name] = f
	r.order = append(r.order, f.Name)
	return nil
}

func (r *Registry) MustRegister(fs ...Func) {
	for _, f := range fs {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funcs[name]
	return f, ok
}

// Describe lists every function with its signature and first doc line.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for _, name := range r.order {
		f := r.funcs[name]
		first, _, _ := strings.Cut(strings.TrimSpace(f.Doc), "\n")
		fmt.Fprintf(&b, "- %s: %s\n", f.signature(), first)
	}
	return b.String()
}

// Docs returns the full documentation of the named functions.
func (r *Registry) Docs(names []string) string {
	var b strings.Builder
	for _, name := range names {
		f, ok := r.lookup(name)
		if !ok {
			fmt.Fprintf(&b, "%s: not available\n\n", name)
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n", f.signature(), strings.TrimSpace(f.Doc))
		for _, p := range f.Params {
			fmt.Fprintf(&b, "  %s: %s\n", p.Name, p.Doc)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Call invokes name with args after filling defaults. Results of cacheable
// functions come back as decoded JSON.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	f, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	full, err := bind(f, args)
	if err != nil {
		return nil, err
	}

	fetch := func() (any, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		logger.Debug(ctx, "Provider call", "function", name, "args", full)
		return f.Call(ctx, full)
	}
	if !f.Cacheable || r.cache == nil {
		return fetch()
	}

	keyArgs, err := json.Marshal(full)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s arguments: %w", name, err)
	}
	data, err := r.cache.GetOrFetch(MakeKey(name, string(keyArgs)), func() ([]byte, error) {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode cached %s result: %w", name, err)
	}
	return out, nil
}

func bind(f Func, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(f.Params))
	known := make(map[string]bool, len(f.Params))
	for _, p := range f.Params {
		known[p.Name] = true
		if v, ok := args[p.Name]; ok {
			out[p.Name] = v
			continue
		}
		if p.Required {
			return nil, fmt.Errorf("%s: missing argument %s", f.Name, p.Name)
		}
		out[p.Name] = p.Default
	}
	for k := range args {
		if !known[k] {
			return nil, fmt.Errorf("%s: unexpected argument %s", f.Name, k)
		}
	}
	return out, nil
}
