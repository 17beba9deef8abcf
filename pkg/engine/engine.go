// Package engine bundles the core components behind the programmatic API
// an embedding HTTP/CLI layer consumes: definition registries, agent
// invocation, and workflow execution (live or dry-run). The engine holds
// no transport or storage opinions of its own — the router, checkpoint
// store, and logger are injected by the caller.
package engine

import (
	"context"
	"log/slog"

	"github.com/mattmre/agentflow/pkg/action"
	"github.com/mattmre/agentflow/pkg/agent"
	"github.com/mattmre/agentflow/pkg/checkpoint"
	"github.com/mattmre/agentflow/pkg/expr"
	"github.com/mattmre/agentflow/pkg/harness"
	"github.com/mattmre/agentflow/pkg/llm"
	"github.com/mattmre/agentflow/pkg/registry"
	"github.com/mattmre/agentflow/pkg/sensor"
	"github.com/mattmre/agentflow/pkg/workflow"
	"github.com/mattmre/agentflow/pkg/workflow/schema"
)

// Engine is the façade over registries, the agent runtime, and the
// workflow executor.
type Engine struct {
	agents    *registry.Registry[agent.Definition]
	workflows *registry.Registry[workflow.Definition]
	runtime   *agent.Runtime
	executor  *workflow.Executor
	eval      *expr.Evaluator
}

// New wires an Engine over the given router. The checkpoint store may be
// nil, in which case runs are not resumable.
func New(router *llm.Router, store checkpoint.Store) *Engine {
	eval := expr.New()
	agents := registry.New[agent.Definition]()
	runtime := agent.NewRuntime(router, eval, agents)

	executor := workflow.NewExecutor(action.NewDispatcher(), eval, runtime).
		WithSchema(schema.NewValidator())
	if store != nil {
		executor.WithCheckpointStore(store)
	}

	return &Engine{
		agents:    agents,
		workflows: registry.New[workflow.Definition](),
		runtime:   runtime,
		executor:  executor,
		eval:      eval,
	}
}

// WithLogger propagates a logger to the executor.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.executor.WithLogger(l)
	return e
}

// Evaluator exposes the engine's shared expression evaluator, e.g. for a
// sensor kernel constructed alongside the engine.
func (e *Engine) Evaluator() *expr.Evaluator { return e.eval }

// RegisterAgent validates and stores an agent definition under its name.
func (e *Engine) RegisterAgent(def agent.Definition) error {
	return e.agents.Register(def)
}

// RegisterWorkflow validates and stores a workflow definition under its
// name. The registry runs Definition.Validate, so cycle detection happens
// here at registration time and a bad graph never reaches the executor.
func (e *Engine) RegisterWorkflow(def workflow.Definition) error {
	return e.workflows.Register(def)
}

// GetAgent returns the registered agent definition for name.
func (e *Engine) GetAgent(name string) (agent.Definition, error) {
	return e.agents.Get(name)
}

// GetWorkflow returns the registered workflow definition for name.
func (e *Engine) GetWorkflow(name string) (workflow.Definition, error) {
	return e.workflows.Get(name)
}

// InvokeAgent runs a registered agent directly, outside any workflow.
func (e *Engine) InvokeAgent(ctx context.Context, name string, inputs map[string]interface{}) (*agent.AgentResult, error) {
	def, err := e.agents.Get(name)
	if err != nil {
		return nil, err
	}
	return e.runtime.Run(ctx, def, inputs)
}

// ExecuteOptions configures one ExecuteWorkflow call.
type ExecuteOptions struct {
	RunID  string
	Resume bool
	// DryRun plans the workflow without executing any action; the result
	// carries the plan in DryRunReport and no step results.
	DryRun bool
}

// ExecuteResult is either a live run's WorkflowResult or, for a dry run,
// the planner's report.
type ExecuteResult struct {
	Run          *workflow.WorkflowResult
	DryRunReport *harness.PlanReport
}

// ExecuteWorkflow looks up name and runs it (or plans it, under DryRun).
func (e *Engine) ExecuteWorkflow(ctx context.Context, name string, inputs map[string]interface{}, opts ExecuteOptions) (*ExecuteResult, error) {
	def, err := e.workflows.Get(name)
	if err != nil {
		return nil, err
	}

	if opts.DryRun || def.Execution.DryRun {
		report, err := harness.DryRun(def)
		if err != nil {
			return nil, err
		}
		return &ExecuteResult{DryRunReport: report}, nil
	}

	result, runErr := e.executor.Execute(ctx, def, inputs, workflow.ExecuteOptions{RunID: opts.RunID, Resume: opts.Resume})
	if result == nil {
		return nil, runErr
	}
	// A failed run still returns its result; per-step detail lives there.
	return &ExecuteResult{Run: result}, nil
}

// ExecuteByName satisfies sensor.WorkflowExecutor so a Kernel can submit
// sensor-triggered runs through the engine.
func (e *Engine) ExecuteByName(ctx context.Context, workflowName string, inputs map[string]interface{}) (sensor.Outcome, error) {
	res, err := e.ExecuteWorkflow(ctx, workflowName, inputs, ExecuteOptions{})
	if err != nil {
		return sensor.Outcome{Status: string(workflow.StatusFailed), Error: err.Error()}, err
	}
	out := sensor.Outcome{Status: string(res.Run.Status), Error: res.Run.Error}
	return out, nil
}
