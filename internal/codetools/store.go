// Package codetools is the shared variable store through which generated
// step programs exchange data. Within one query a name belongs to the step
// that first wrote it; retries of that step may rewrite it, other steps may not.
package codetools

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("variable not found")

// RedefinitionError reports a write to a name owned by another step or
// registered as a collaborator.
type RedefinitionError struct {
	Name  string
	Owner int
	Step  int
}

func (e *RedefinitionError) Error() string {
	if e.Owner < 0 {
		return fmt.Sprintf("variable %q is a registered collaborator and cannot be reassigned", e.Name)
	}
	return fmt.Sprintf("variable %q was defined by step %d and cannot be redefined by step %d", e.Name, e.Owner+1, e.Step+1)
}

const collaborator = -1

const summarySuffix = "_summary"

type Store struct {
	mu     sync.RWMutex
	values map[string]any
	owner  map[string]int
	step   int
}

func New() *Store {
	return &Store{
		values: make(map[string]any),
		owner:  make(map[string]int),
	}
}

// BeginQuery drops every step-produced variable and resets ownership.
// Collaborators survive.
func (s *Store) BeginQuery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, o := range s.owner {
		if o != collaborator {
			delete(s.values, name)
			delete(s.owner, name)
		}
	}
	s.step = 0
}

// BeginStep sets the zero-based step that subsequent writes belong to.
func (s *Store) BeginStep(step int) {
	s.mu.Lock()
	s.step = step
	s.mu.Unlock()
}

// Add binds name to value on behalf of the current step.
func (s *Store) Add(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.owner[name]; ok && o != s.step {
		return &RedefinitionError{Name: name, Owner: o, Step: s.step}
	}
	s.values[name] = value
	s.owner[name] = s.step
	return nil
}

// AddVar registers a long-lived collaborator such as the LLM client or a
// data provider. Collaborators may be replaced by AddVar but not by Add.
func (s *Store) AddVar(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	s.owner[name] = collaborator
}

func (s *Store) Get(name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[name]
	return ok
}

// Delete removes name. Removing a name owned by another step is a redefinition.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owner[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if o != s.step {
		return &RedefinitionError{Name: name, Owner: o, Step: s.step}
	}
	delete(s.values, name)
	delete(s.owner, name)
	return nil
}

// SetSummary stores the description paired with name.
func (s *Store) SetSummary(name, summary string) error {
	return s.Add(name+summarySuffix, summary)
}

// Summary returns the paired description of name, or "" when none was set.
func (s *Store) Summary(name string) string {
	v, err := s.Get(name + summarySuffix)
	if err != nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Names lists every bound name in order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.values))
	for n := range s.values {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
