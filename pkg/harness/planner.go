// Package harness is the test harness: a dry-run planner that reports how
// a workflow would execute without running any action, and mock-LLM
// plumbing that swaps the real router for a fixture-backed provider so
// workflows with invoke-agent steps run deterministically in tests.
package harness

import (
	"github.com/mattmre/agentflow/pkg/action"
	"github.com/mattmre/agentflow/pkg/workflow"
)

// StepPlan describes how one step would be scheduled.
type StepPlan struct {
	ID        string   `json:"id"`
	Action    string   `json:"action"`
	Agent     string   `json:"agent,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	Layer     int      `json:"layer"`
	Guarded   bool     `json:"guarded"` // step has a condition and may be skipped
	Attempts  int      `json:"attempts"`
}

// PlanReport is the dry-run planner's output: the layered execution order
// a run of the workflow would follow, without any action executed.
type PlanReport struct {
	WorkflowName   string     `json:"workflow_name"`
	TotalSteps     int        `json:"total_steps"`
	ExecutionOrder []string   `json:"execution_order"`
	ParallelGroups [][]string `json:"parallel_groups"`
	Steps          []StepPlan `json:"per_step_plan"`
}

// DryRun validates def, builds its DAG layers, and reports the execution
// plan. It never dispatches a step, calls a provider, or touches the
// checkpoint store.
func DryRun(def workflow.Definition) (*PlanReport, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	plan, err := workflow.Plan(def.Steps)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]action.Step, len(def.Steps))
	for _, s := range def.Steps {
		byID[s.ID] = s
	}

	report := &PlanReport{
		WorkflowName:   def.WorkflowName,
		TotalSteps:     len(def.Steps),
		ParallelGroups: plan.Layers,
	}

	for layerIdx, layer := range plan.Layers {
		for _, id := range layer {
			step := byID[id]
			report.ExecutionOrder = append(report.ExecutionOrder, id)
			report.Steps = append(report.Steps, StepPlan{
				ID:        id,
				Action:    string(step.Action),
				Agent:     step.Agent,
				DependsOn: step.DependsOn,
				Layer:     layerIdx,
				Guarded:   step.Condition != "",
				Attempts:  step.RetryAttempts(),
			})
		}
	}

	return report, nil
}
