// Package check defines the Check domain entity and the configured check-set
// that the Check Execution Engine drives for a pull request.
package check

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind distinguishes the two polymorphic check executor implementations.
type Kind string

const (
	KindForgeWorkflow Kind = "forge_workflow"
	KindLocalScript   Kind = "local_script"
)

// Status is a check's terminal or in-flight state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut Status = "timed_out"
)

// Terminal reports whether s ends the check's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Check is one configured check run for a QueueEntry.
type Check struct {
	ID            string          `json:"id"`
	EntryID       string          `json:"entry_id"`
	Name          string          `json:"name"`
	Kind          Kind            `json:"kind"`
	KindConfig    json.RawMessage `json:"kind_config"`
	Status        Status          `json:"status"`
	Configuration Configuration   `json:"configuration"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Output        string          `json:"output"`
}

// Configuration is one entry of a configured CheckSet: a named check, its
// kind, kind-specific settings, the checks it depends on, and its own
// timeout override.
type Configuration struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Kind         Kind            `json:"kind"`
	KindConfig   json.RawMessage `json:"kind_config"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Timeout      time.Duration   `json:"timeout,omitempty"`
}

// Set is the full configured check-set for a queue's pipeline stage.
type Set struct {
	Checks   []Configuration `json:"checks"`
	FailFast bool            `json:"fail_fast"`
}

// Validate checks that the set is acyclic and every dependency references a
// known check id, as required before the set can be loaded by the engine.
func (s Set) Validate() error {
	known := make(map[string]Configuration, len(s.Checks))
	for _, c := range s.Checks {
		if _, dup := known[c.ID]; dup {
			return fmt.Errorf("check set: duplicate check id %q", c.ID)
		}
		known[c.ID] = c
	}
	for _, c := range s.Checks {
		for _, dep := range c.Dependencies {
			if _, ok := known[dep]; !ok {
				return fmt.Errorf("check %q: unknown dependency %q", c.ID, dep)
			}
		}
	}
	// Cycle detection via DFS coloring.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(s.Checks))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range known[id].Dependencies {
			switch color[dep] {
			case gray:
				return fmt.Errorf("check set: dependency cycle involving %q", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, c := range s.Checks {
		if color[c.ID] == white {
			if err := visit(c.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExecutionResult is the outcome of one check run, produced by a
// CheckExecutor.
type ExecutionResult struct {
	Status      Status        `json:"status"`
	Output      string        `json:"output"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}
