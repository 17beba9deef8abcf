package action

import (
	"context"
	"fmt"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

// StepResult is one step's settled outcome, returned by Recurse so
// conditional/parallel-group handlers can inspect sub-step results.
type StepResult struct {
	StepID     string
	Status     string // success, failed, skipped
	Outputs    map[string]interface{}
	Error      string // narrative detail
	ErrorKind  string // machine-readable tag (errors.ErrorClassifier's ErrorType)
	DurationMS int64
}

// Recurse lets the conditional and parallel-group handlers hand a sub-step
// list back to the workflow executor for dependency-aware, concurrency
// bounded execution, without pkg/action importing pkg/workflow. The
// executor supplies this callback when it builds a Request.
type Recurse func(ctx context.Context, steps []Step, state map[string]map[string]interface{}) ([]StepResult, error)

// AgentInvoker is the subset of the agent runtime the invoke-agent
// handler needs. pkg/agent.Runtime satisfies this.
type AgentInvoker interface {
	RunNamed(ctx context.Context, agentName string, inputs map[string]interface{}) (map[string]interface{}, error)
}

// Evaluator is the subset of the expression evaluator handlers need.
// pkg/expr.Evaluator satisfies this.
type Evaluator interface {
	Evaluate(expression string, ctx map[string]interface{}) (interface{}, error)
	EvaluateBool(expression string, ctx map[string]interface{}) (bool, error)
}

// SchemaValidator is the subset of pkg/workflow/schema.Validator the
// validate handler needs.
type SchemaValidator interface {
	Validate(schema map[string]interface{}, data interface{}) error
}

// Request bundles everything a Handler needs to run one step.
type Request struct {
	Step            Step
	ResolvedInputs  map[string]interface{}
	State           map[string]map[string]interface{} // read-only snapshot: step_id -> outputs
	EvalContext     map[string]interface{}            // the expression context built over State
	Agents          AgentInvoker
	Eval            Evaluator
	Schema          SchemaValidator
	ParallelLimit   int
	Recurse         Recurse
}

// Handler executes one action kind.
type Handler interface {
	Execute(ctx context.Context, req Request) (map[string]interface{}, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (map[string]interface{}, error)

func (f HandlerFunc) Execute(ctx context.Context, req Request) (map[string]interface{}, error) {
	return f(ctx, req)
}

// Dispatcher routes a step to its registered Handler by Kind.
type Dispatcher struct {
	handlers map[Kind]Handler
}

// NewDispatcher builds a Dispatcher with the seven built-in handlers
// registered.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[Kind]Handler)}
	d.Register(KindInvokeAgent, HandlerFunc(invokeAgentHandler))
	d.Register(KindRunCommand, HandlerFunc(runCommandHandler))
	d.Register(KindValidate, HandlerFunc(validateHandler))
	d.Register(KindTransform, HandlerFunc(transformHandler))
	d.Register(KindConditional, HandlerFunc(conditionalHandler))
	d.Register(KindParallelGroup, HandlerFunc(parallelGroupHandler))
	d.Register(KindWait, HandlerFunc(waitHandler))
	return d
}

// Register installs (or overrides) the handler for a kind. Exposed so
// embedding applications can add custom action kinds without touching the
// executor.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// Dispatch routes req.Step.Action to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (map[string]interface{}, error) {
	h, ok := d.handlers[req.Step.Action]
	if !ok {
		return nil, &apperrors.ConfigError{Key: "action", Reason: fmt.Sprintf("no handler registered for action %q", req.Step.Action)}
	}
	return h.Execute(ctx, req)
}
