// Package action implements the seven pluggable step handlers:
// invoke-agent, run-command, validate, transform, conditional,
// parallel-group, and wait. Handlers are registered by action kind in a
// Dispatcher, so embedders can add their own kinds next to the built-ins.
//
// The Step type lives in this package rather than pkg/workflow because
// the dispatcher needs the full step schema (including the nested
// sub-steps a conditional or parallel-group carries) to recurse, while
// pkg/workflow (the DAG-aware executor) depends on pkg/action rather than
// the other way around, keeping the package graph acyclic.
package action

import (
	"regexp"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

// Kind identifies one of the seven step actions.
type Kind string

const (
	KindInvokeAgent   Kind = "invoke-agent"
	KindRunCommand    Kind = "run-command"
	KindValidate      Kind = "validate"
	KindTransform     Kind = "transform"
	KindConditional   Kind = "conditional"
	KindParallelGroup Kind = "parallel-group"
	KindWait          Kind = "wait"
)

var validKinds = map[Kind]bool{
	KindInvokeAgent:   true,
	KindRunCommand:    true,
	KindValidate:      true,
	KindTransform:     true,
	KindConditional:   true,
	KindParallelGroup: true,
	KindWait:          true,
}

// StepIDPattern is the naming rule step IDs must match.
var StepIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// RetryPolicy bounds a step's retry envelope.
type RetryPolicy struct {
	MaxAttempts  int `yaml:"max_attempts" json:"max_attempts"`
	DelaySeconds int `yaml:"delay_seconds" json:"delay_seconds"`
}

func (r RetryPolicy) attempts() int {
	if r.MaxAttempts <= 0 {
		return 1
	}
	return r.MaxAttempts
}

func (r RetryPolicy) delay() int {
	if r.DelaySeconds <= 0 {
		return 1
	}
	return r.DelaySeconds
}

// Step is one node of a workflow's step list. Exactly one action kind
// applies per step; the fields below that aren't relevant to Action are
// left zero.
type Step struct {
	ID        string            `yaml:"id" json:"id"`
	Action    Kind              `yaml:"action" json:"action"`
	Agent     string            `yaml:"agent,omitempty" json:"agent,omitempty"`
	Command   interface{}       `yaml:"command,omitempty" json:"command,omitempty"` // string or []string
	Inputs    map[string]interface{} `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs   map[string]string `yaml:"outputs,omitempty" json:"outputs,omitempty"` // documentation only, per spec §3
	Condition string            `yaml:"condition,omitempty" json:"condition,omitempty"`
	DependsOn []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Retry     *RetryPolicy      `yaml:"retry,omitempty" json:"retry,omitempty"`
	Timeout   int               `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// parallel-group
	Steps []Step `yaml:"steps,omitempty" json:"steps,omitempty"`

	// conditional
	Then []Step `yaml:"then,omitempty" json:"then,omitempty"`
	Else []Step `yaml:"else,omitempty" json:"else,omitempty"`

	// wait
	DurationSeconds *int   `yaml:"duration_seconds,omitempty" json:"duration_seconds,omitempty"`
	WaitCondition   string `yaml:"wait_condition,omitempty" json:"wait_condition,omitempty"`

	// validate
	Schema map[string]interface{} `yaml:"schema,omitempty" json:"schema,omitempty"`

	// validate / transform
	Expression string      `yaml:"expression,omitempty" json:"expression,omitempty"`
	Data       interface{} `yaml:"data,omitempty" json:"data,omitempty"`

	// transform
	Template map[string]interface{} `yaml:"template,omitempty" json:"template,omitempty"`
}

// RetryAttempts returns the configured attempt budget, defaulting to 1.
func (s Step) RetryAttempts() int {
	if s.Retry == nil {
		return 1
	}
	return s.Retry.attempts()
}

// RetryDelaySeconds returns the configured inter-attempt delay, defaulting to 1.
func (s Step) RetryDelaySeconds() int {
	if s.Retry == nil {
		return 1
	}
	return s.Retry.delay()
}

// Validate checks the step's own shape: ID syntax, a known action kind,
// and the presence of the fields its action requires. It does not check
// depends_on resolvability; that is a whole-workflow concern handled by
// the DAG builder (pkg/dag).
func (s Step) Validate() error {
	if !StepIDPattern.MatchString(s.ID) {
		return &apperrors.ValidationError{
			Field:      "id",
			Message:    "step id \"" + s.ID + "\" must match ^[a-z][a-z0-9-]*$",
			Suggestion: "use lowercase letters, digits, and hyphens, starting with a letter",
		}
	}
	if !validKinds[s.Action] {
		return &apperrors.ValidationError{
			Field:   "action",
			Message: "step \"" + s.ID + "\" has unknown action \"" + string(s.Action) + "\"",
		}
	}

	switch s.Action {
	case KindInvokeAgent:
		if s.Agent == "" {
			return fieldErr(s.ID, "agent", "invoke-agent step requires \"agent\"")
		}
	case KindRunCommand:
		if s.Command == nil {
			return fieldErr(s.ID, "command", "run-command step requires \"command\"")
		}
	case KindParallelGroup:
		if len(s.Steps) == 0 {
			return fieldErr(s.ID, "steps", "parallel-group step requires \"steps\"")
		}
	case KindConditional:
		if s.Condition == "" {
			return fieldErr(s.ID, "condition", "conditional step requires \"condition\"")
		}
	case KindWait:
		if s.DurationSeconds == nil && s.WaitCondition == "" {
			return fieldErr(s.ID, "duration_seconds", "wait step requires \"duration_seconds\" or \"wait_condition\"")
		}
	case KindValidate:
		if s.Schema == nil && s.Expression == "" {
			return fieldErr(s.ID, "schema", "validate step requires \"schema\" and/or \"expression\"")
		}
	case KindTransform:
		// template, expression, and bare data-passthrough are all valid; no
		// required field.
	}
	return nil
}

func fieldErr(stepID, field, msg string) error {
	return &apperrors.ValidationError{Field: field, Message: "step \"" + stepID + "\": " + msg}
}
