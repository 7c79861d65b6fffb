// Package plan asks the LLM for an execution plan and parses its reply.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"llm-dealer/internal/fence"
)

// DefaultResultKey is the variable the last step stores its answer under.
const DefaultResultKey = "output_result"

type VarSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Step struct {
	Description string    `json:"description"`
	Pseudocode  string    `json:"pseudocode"`
	TipHelp     string    `json:"tip_help"`
	Functions   []string  `json:"functions"`
	InputVars   []VarSpec `json:"input_vars"`
	OutputVars  []VarSpec `json:"output_vars"`
}

// UnmarshalJSON also accepts "code" as the pseudocode field, which some
// models emit for multi-step plans.
func (s *Step) UnmarshalJSON(data []byte) error {
	type alias Step
	var raw struct {
		alias
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Step(raw.alias)
	if s.Pseudocode == "" {
		s.Pseudocode = raw.Code
	}
	return nil
}

// Declares reports whether the step lists name among its outputs.
func (s Step) Declares(name string) bool {
	return slices.ContainsFunc(s.OutputVars, func(v VarSpec) bool { return v.Name == name })
}

type ExecutionPlan struct {
	Steps []Step `json:"steps"`
}

func (p ExecutionPlan) Last() (Step, bool) {
	if len(p.Steps) == 0 {
		return Step{}, false
	}
	return p.Steps[len(p.Steps)-1], true
}

// ParseError means the reply held no usable plan. It is not retried.
type ParseError struct {
	Reason   string
	Response string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plan parse: %s: %v", e.Reason, e.Err)
	}
	return "plan parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// ContractError means the final step does not produce the result key.
type ContractError struct {
	Key  string
	Step int
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("plan contract: final step %d does not declare output %q", e.Step+1, e.Key)
}

var errEmpty = errors.New("plan has no steps")

// Parse reads the first ```json block of response. Both an array of steps
// and a single step object are accepted.
func Parse(response string) (ExecutionPlan, error) {
	body, ok := fence.Extract(response, "json")
	if !ok {
		return ExecutionPlan{}, &ParseError{Reason: "no ```json block found", Response: response}
	}
	body = strings.TrimSpace(body)

	var p ExecutionPlan
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &p.Steps); err != nil {
			return ExecutionPlan{}, &ParseError{Reason: "invalid plan json", Response: response, Err: err}
		}
	} else {
		var s Step
		if err := json.Unmarshal([]byte(body), &s); err != nil {
			return ExecutionPlan{}, &ParseError{Reason: "invalid plan json", Response: response, Err: err}
		}
		p.Steps = []Step{s}
	}
	if len(p.Steps) == 0 {
		return ExecutionPlan{}, &ParseError{Reason: "empty plan", Response: response, Err: errEmpty}
	}
	return p, nil
}

// CheckResult fails with a ContractError unless the last step declares key.
func (p ExecutionPlan) CheckResult(key string) error {
	last, ok := p.Last()
	if !ok {
		return &ParseError{Reason: "empty plan", Err: errEmpty}
	}
	if !last.Declares(key) {
		return &ContractError{Key: key, Step: len(p.Steps) - 1}
	}
	return nil
}
