// Package sandbox runs generated step programs as Starlark with output
// capture, a best-effort deny-list check and optional progress events.
// Executions are serialised process-wide.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"strings"
	"sync"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"llm-dealer/internal/logger"
	"llm-dealer/internal/metrics"
)

// execMu keeps at most one program running at a time.
var execMu sync.Mutex

type EventType string

const (
	EventProgress EventType = "progress"
	EventOutput   EventType = "output"
	EventError    EventType = "error"
	EventDebug    EventType = "debug"
	EventResult   EventType = "result"
)

type Event struct {
	Type     EventType
	Progress float64
	Text     string
	Result   *Result
}

// Result is the outcome of one run. Err is nil on success; otherwise it is
// a *SecurityViolation, a parse or resolve error, or a *starlark.EvalError,
// and Error holds its text with the backtrace.
type Result struct {
	Output      string
	Error       string
	Err         error
	UpdatedVars starlark.StringDict
	Progress    float64
}

func (r *Result) Failed() bool { return r.Err != nil }

type Runner struct {
	debug    bool
	interval time.Duration
	root     string
	maxSteps uint64
}

type Option func(*Runner)

// WithDebug emits the program text as a debug event before running.
func WithDebug(on bool) Option { return func(r *Runner) { r.debug = on } }

// WithProgressInterval sets the minimum gap between progress events.
func WithProgressInterval(d time.Duration) Option { return func(r *Runner) { r.interval = d } }

// WithRoot confines os.read_file and os.listdir to dir.
func WithRoot(dir string) Option { return func(r *Runner) { r.root = dir } }

// WithMaxSteps cancels programs after n Starlark computation steps.
func WithMaxSteps(n uint64) Option { return func(r *Runner) { r.maxSteps = n } }

func New(opts ...Option) *Runner {
	r := &Runner{interval: 100 * time.Millisecond, root: "."}
	for _, o := range opts {
		o(r)
	}
	return r
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Run executes code with env as its initial globals and returns the result.
func (r *Runner) Run(ctx context.Context, code string, env starlark.StringDict) Result {
	var res Result
	r.exec(ctx, code, env, func(ev Event) bool {
		if ev.Type == EventResult {
			res = *ev.Result
		}
		return true
	})
	return res
}

// RunStream executes code one top-level statement at a time, yielding
// progress, output and error events and a final result event. Stopping
// the iteration cancels the program.
func (r *Runner) RunStream(ctx context.Context, code string, env starlark.StringDict) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		r.exec(ctx, code, env, yield)
	}
}

func (r *Runner) exec(ctx context.Context, code string, env starlark.StringDict, emit func(Event) bool) {
	execMu.Lock()
	defer execMu.Unlock()

	start := time.Now()
	defer func() { metrics.SandboxExecSeconds.Observe(time.Since(start).Seconds()) }()

	var out strings.Builder
	res := &Result{}
	stopped := false
	send := func(ev Event) {
		if !stopped && !emit(ev) {
			stopped = true
		}
	}
	finish := func() {
		res.Output = out.String()
		if res.Err != nil {
			res.Error = describe(res.Err)
			send(Event{Type: EventError, Text: res.Error})
		}
		if res.Output != "" {
			send(Event{Type: EventOutput, Text: res.Output})
		}
		send(Event{Type: EventResult, Result: res})
		logger.Debug(ctx, "Sandbox run finished",
			"duration_ms", time.Since(start).Milliseconds(),
			"failed", res.Err != nil,
			"updated_vars", len(res.UpdatedVars),
		)
	}

	if r.debug {
		send(Event{Type: EventDebug, Text: "about to run:\n" + code})
	}

	f, err := fileOptions.Parse("step.star", code, 0)
	if err != nil {
		res.Err = err
		finish()
		return
	}
	if err := checkSecurity(f); err != nil {
		res.Err = err
		finish()
		return
	}

	globals, err := r.globals(env)
	if err != nil {
		res.Err = err
		finish()
		return
	}
	initial := make(starlark.StringDict, len(globals))
	for k, v := range globals {
		initial[k] = v
	}

	thread := &starlark.Thread{
		Name:  "step",
		Print: func(_ *starlark.Thread, msg string) { out.WriteString(msg); out.WriteByte('\n') },
	}
	if r.maxSteps > 0 {
		thread.SetMaxExecutionSteps(r.maxSteps)
	}
	stopCancel := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
	defer stopCancel()

	total := len(f.Stmts)
	var last time.Time
	progress := func(executed int) {
		p := 1.0
		if total > 0 {
			p = float64(executed) / float64(total)
		}
		res.Progress = p
		if now := time.Now(); now.Sub(last) >= r.interval {
			last = now
			send(Event{Type: EventProgress, Progress: p})
		}
	}

	if total == 0 {
		progress(0)
	}
	for i, stmt := range f.Stmts {
		if stopped {
			res.Err = errors.New("execution stopped by consumer")
			break
		}
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("execution cancelled: %w", context.Cause(ctx))
			break
		}
		chunk := &syntax.File{Path: f.Path, Stmts: []syntax.Stmt{stmt}, Options: f.Options}
		if err := execChunk(chunk, thread, globals); err != nil {
			res.Err = err
			break
		}
		progress(i + 1)
	}

	res.UpdatedVars = updatedVars(initial, globals)
	finish()
}

// execChunk runs one statement. A Go panic raised by a builtin becomes
// the statement's error.
func execChunk(chunk *syntax.File, thread *starlark.Thread, globals starlark.StringDict) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s: %v", thread.Name, p)
		}
	}()
	return starlark.ExecREPLChunk(chunk, thread, globals)
}

func (r *Runner) globals(env starlark.StringDict) (starlark.StringDict, error) {
	osm, err := osModule(r.root)
	if err != nil {
		return nil, err
	}
	g := starlark.StringDict{
		"os":   osm,
		"json": starlarkjson.Module,
		"math": starlarkmath.Module,
		"time": starlarktime.Module,
	}
	for k, v := range env {
		g[k] = v
	}
	return g, nil
}

// describe renders err with the Starlark backtrace when there is one.
func describe(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	var sv *SecurityViolation
	if errors.As(err, &sv) {
		return sv.Error()
	}
	return fmt.Sprintf("%T: %v", err, err)
}

// updatedVars returns the globals that are new or no longer the same value.
func updatedVars(initial, final starlark.StringDict) starlark.StringDict {
	out := make(starlark.StringDict)
	for k, v := range final {
		if old, ok := initial[k]; !ok || !same(old, v) {
			out[k] = v
		}
	}
	return out
}

// same is identity for reference values and equality for the rest.
func same(a, b starlark.Value) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil || ta.Comparable() {
		return a == b
	}
	eq, err := starlark.Equal(a, b)
	return err == nil && eq
}
