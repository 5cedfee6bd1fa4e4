package subworkflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Step is one entry of a subworkflow.
type Step struct {
	Name            string `json:"step"`
	Condition       string `json:"condition,omitempty"`
	ContinueOnError bool   `json:"continue_on_error,omitempty"`
	// MaxRetries is the number of retries after the first attempt. Nil means
	// the configured default; an explicit zero allows a single attempt.
	MaxRetries *int `json:"max_retries,omitempty"`
}

// RetryBudget resolves MaxRetries against the configured default.
func (s Step) RetryBudget(defaultMax int) int {
	if s.MaxRetries != nil && *s.MaxRetries >= 0 {
		return *s.MaxRetries
	}
	if defaultMax < 0 {
		return 0
	}
	return defaultMax
}

// Retries is a convenience for building steps with an explicit retry budget.
func Retries(n int) *int {
	return &n
}

// Definition is the named, ordered pipeline for one workflow type.
type Definition struct {
	Type        string
	Description string
	Steps       []Step
}

// Validate checks that the definition has a type and uniquely named steps.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Type) == "" {
		return errors.New("subworkflow: type is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("subworkflow %s: at least one step is required", d.Type)
	}
	return validateSteps(d.Type, d.Steps)
}

func validateSteps(workflowType string, steps []Step) error {
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		name := strings.TrimSpace(step.Name)
		if name == "" {
			return fmt.Errorf("subworkflow %s: step %d has no name", workflowType, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("subworkflow %s: step %q appears twice", workflowType, name)
		}
		seen[name] = struct{}{}
		if step.MaxRetries != nil && *step.MaxRetries < 0 {
			return fmt.Errorf("subworkflow %s: step %q has negative max_retries", workflowType, name)
		}
	}
	return nil
}

// StepNames lists the steps in order.
func (d Definition) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, step := range d.Steps {
		names[i] = step.Name
	}
	return names
}

// Encode renders steps in the stored JSON form.
func Encode(steps []Step) (json.RawMessage, error) {
	data, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("encode subworkflow: %w", err)
	}
	return data, nil
}

// Decode parses the stored JSON form.
func Decode(raw json.RawMessage) ([]Step, error) {
	var steps []Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("decode subworkflow: %w", err)
	}
	return steps, nil
}
