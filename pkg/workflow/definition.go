package workflow

import (
	"regexp"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
	"github.com/mattmre/agentflow/pkg/action"
	"github.com/mattmre/agentflow/pkg/agent"
)

var (
	namePattern    = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// ExecutionMode selects how the executor schedules a run's steps.
type ExecutionMode string

const (
	ModeSequential      ExecutionMode = "sequential"
	ModeParallel        ExecutionMode = "parallel"
	ModeDependencyAware ExecutionMode = "dependency-aware"
)

// ExecutionConfig governs concurrency, error handling, and the overall
// run timeout.
type ExecutionConfig struct {
	Mode            ExecutionMode `yaml:"mode,omitempty" json:"mode,omitempty"`
	ParallelLimit   int           `yaml:"parallel_limit,omitempty" json:"parallel_limit,omitempty"`
	ContinueOnError bool          `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
	// FailFast defaults to true when absent; a pointer distinguishes the
	// two cases in parsed definitions.
	FailFast       *bool `yaml:"fail_fast,omitempty" json:"fail_fast,omitempty"`
	TimeoutSeconds int   `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	DryRun         bool  `yaml:"dry_run,omitempty" json:"dry_run,omitempty"`
}

func (c ExecutionConfig) failFast() bool {
	if c.FailFast == nil {
		return true
	}
	return *c.FailFast
}

// abortOnFailure reports whether a failed step should stop the remaining
// layers: fail_fast set (or defaulted) and continue_on_error unset.
func (c ExecutionConfig) abortOnFailure() bool {
	return c.failFast() && !c.ContinueOnError
}

func (c ExecutionConfig) mode() ExecutionMode {
	if c.Mode == "" {
		return ModeDependencyAware
	}
	return c.Mode
}

func (c ExecutionConfig) parallelLimit() int {
	if c.ParallelLimit <= 0 {
		return 4
	}
	return c.ParallelLimit
}

// Triggers describes what the Sensor Kernel should watch to fire this
// workflow automatically; the workflow itself is agnostic to how it is
// invoked.
type Triggers struct {
	Manual   bool     `yaml:"manual,omitempty" json:"manual,omitempty"`
	Schedule string   `yaml:"schedule,omitempty" json:"schedule,omitempty"` // cron expression
	OnChange []string `yaml:"on_change,omitempty" json:"on_change,omitempty"`
	OnEvent  []string `yaml:"on_event,omitempty" json:"on_event,omitempty"`
}

// Definition is the static, registrable description of a workflow: its
// parameter schemas, step list, execution policy, and triggers.
type Definition struct {
	WorkflowName string                      `yaml:"name" json:"name"`
	Version      string                      `yaml:"version,omitempty" json:"version,omitempty"`
	Inputs       map[string]agent.Parameter  `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs      map[string]agent.Parameter  `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Steps        []action.Step               `yaml:"steps" json:"steps"`
	Execution    ExecutionConfig             `yaml:"execution,omitempty" json:"execution,omitempty"`
	Triggers     Triggers                    `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// Name satisfies registry.Named.
func (d Definition) Name() string { return d.WorkflowName }

// Validate checks the definition's own shape: name/version syntax, per-step
// validity, step ID uniqueness, depends_on resolvability, and DAG
// acyclicity. It delegates cycle/edge checking to pkg/dag so the rule lives
// in one place.
func (d Definition) Validate() error {
	if !namePattern.MatchString(d.WorkflowName) {
		return &apperrors.ValidationError{
			Field:      "name",
			Message:    "workflow name \"" + d.WorkflowName + "\" must match ^[a-z][a-z0-9-]*$",
			Suggestion: "use lowercase letters, digits, and hyphens, starting with a letter",
		}
	}
	if d.Version != "" && !versionPattern.MatchString(d.Version) {
		return &apperrors.ValidationError{
			Field:   "version",
			Message: "version \"" + d.Version + "\" must be MAJOR.MINOR.PATCH",
		}
	}
	if len(d.Steps) == 0 {
		return &apperrors.ValidationError{Field: "steps", Message: "workflow \"" + d.WorkflowName + "\" has no steps"}
	}

	for _, s := range d.Steps {
		if err := validateStepTree(s); err != nil {
			return err
		}
	}

	return validateDAG(d.Steps)
}

// validateStepTree validates a step and, recursively, the nested step
// lists a conditional or parallel-group step carries.
func validateStepTree(s action.Step) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, sub := range s.Steps {
		if err := validateStepTree(sub); err != nil {
			return err
		}
	}
	for _, sub := range s.Then {
		if err := validateStepTree(sub); err != nil {
			return err
		}
	}
	for _, sub := range s.Else {
		if err := validateStepTree(sub); err != nil {
			return err
		}
	}
	return nil
}
