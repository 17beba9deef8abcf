// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
	"strings"
)

// CycleDetectedError indicates the DAG builder found a dependency cycle.
type CycleDetectedError struct {
	// CyclePath lists step IDs in the order they form the cycle, with the
	// first ID repeated at the end (a -> b -> c -> a).
	CyclePath []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("cycle detected in step dependencies: %s", strings.Join(e.CyclePath, " -> "))
}

func (e *CycleDetectedError) ErrorType() string { return "cycle_detected" }
func (e *CycleDetectedError) IsRetryable() bool { return false }

// ExpressionErrorKind distinguishes the expression evaluator's failure modes.
type ExpressionErrorKind string

const (
	ExpressionErrorUnknownName ExpressionErrorKind = "unknown_name"
	ExpressionErrorBadType     ExpressionErrorKind = "bad_type"
)

// ExpressionError represents a failure to compile or evaluate an expression.
type ExpressionError struct {
	Kind       ExpressionErrorKind
	Expression string
	Message    string
	Cause      error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression error (%s) in %q: %s", e.Kind, e.Expression, e.Message)
}

func (e *ExpressionError) Unwrap() error { return e.Cause }

func (e *ExpressionError) ErrorType() string { return "expression" }
func (e *ExpressionError) IsRetryable() bool { return false }

// AgentParseError indicates the agent runtime could not structurally parse
// a model's raw text output. It is always swallowed by the agent runtime
// (the raw text is salvaged into the declared output field instead), but is
// kept as a distinct type so callers that inspect it for diagnostics can.
type AgentParseError struct {
	AgentName string
	RawOutput string
	Cause     error
}

func (e *AgentParseError) Error() string {
	return fmt.Sprintf("agent %s: failed to parse structured output: %v", e.AgentName, e.Cause)
}

func (e *AgentParseError) Unwrap() error { return e.Cause }

// CommandFailed indicates a run-command action exited non-zero.
type CommandFailed struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandFailed) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
}

func (e *CommandFailed) ErrorType() string { return "command_failed" }
func (e *CommandFailed) IsRetryable() bool { return false }

// CancelledError indicates a step or workflow was cancelled, typically by a
// workflow-level timeout or an explicit cancellation of the run context.
type CancelledError struct {
	Reason string
	Cause  error
}

func (e *CancelledError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cancelled: %s", e.Reason)
	}
	return "cancelled"
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) ErrorType() string { return "cancelled" }
func (e *CancelledError) IsRetryable() bool { return false }

// DependencyFailed is the synthetic failure assigned to a step that never
// ran because one of its (transitive) dependencies failed.
type DependencyFailed struct {
	StepID       string
	DependencyID string
}

func (e *DependencyFailed) Error() string {
	return fmt.Sprintf("step %q did not run: dependency %q failed", e.StepID, e.DependencyID)
}

func (e *DependencyFailed) ErrorType() string { return "dependency_failed" }
func (e *DependencyFailed) IsRetryable() bool { return false }

// CheckpointError indicates the checkpoint store failed to save or load a
// run's state.
type CheckpointError struct {
	RunID  string
	Op     string // "save", "load_latest", "list"
	Cause  error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s failed for run %s: %v", e.Op, e.RunID, e.Cause)
}

func (e *CheckpointError) Unwrap() error { return e.Cause }

func (e *CheckpointError) ErrorType() string { return "checkpoint" }
func (e *CheckpointError) IsRetryable() bool { return true }

// IsUserVisible / UserMessage / Suggestion implementations so these types
// satisfy the UserVisibleError contract.

func (e *CycleDetectedError) IsUserVisible() bool { return true }
func (e *CycleDetectedError) UserMessage() string {
	return "workflow steps form a dependency cycle and cannot be scheduled"
}
func (e *CycleDetectedError) Suggestion() string {
	return "break the cycle by removing one of the depends_on edges listed in the cycle path"
}

func (e *ExpressionError) IsUserVisible() bool { return true }
func (e *ExpressionError) UserMessage() string {
	return "a workflow expression could not be evaluated"
}
func (e *ExpressionError) Suggestion() string {
	switch e.Kind {
	case ExpressionErrorUnknownName:
		return "check that referenced inputs and step outputs exist at this point in the workflow"
	case ExpressionErrorBadType:
		return "check that the expression's operands are of compatible types"
	default:
		return ""
	}
}

func (e *CommandFailed) IsUserVisible() bool  { return true }
func (e *CommandFailed) UserMessage() string  { return "the command step exited with a non-zero status" }
func (e *CommandFailed) Suggestion() string   { return "inspect the command's stderr and exit code" }

func (e *DependencyFailed) IsUserVisible() bool { return true }
func (e *DependencyFailed) UserMessage() string {
	return "a step did not run because a dependency did not succeed"
}
func (e *DependencyFailed) Suggestion() string { return "fix the failing dependency and rerun the workflow" }

// FinalStateError indicates an event was sent to a statechart machine
// that has already reached a final state and therefore refuses all further
// events.
type FinalStateError struct {
	MachineID string
	State     string
	Event     string
}

func (e *FinalStateError) Error() string {
	return fmt.Sprintf("statechart %q: state %q is final, cannot accept event %q", e.MachineID, e.State, e.Event)
}

func (e *FinalStateError) ErrorType() string { return "final_state" }
func (e *FinalStateError) IsRetryable() bool { return false }

func (e *FinalStateError) IsUserVisible() bool { return true }
func (e *FinalStateError) UserMessage() string {
	return "this workflow has already reached its final state"
}
func (e *FinalStateError) Suggestion() string { return "start a new run instead of sending more events" }
