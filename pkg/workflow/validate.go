package workflow

import (
	"github.com/mattmre/agentflow/pkg/action"
	"github.com/mattmre/agentflow/pkg/dag"
)

// validateDAG builds a dag.Plan over the top-level step list, surfacing
// cycle-detection and unresolved-dependency errors at registration time
// rather than at run time. Nested step lists (parallel-group children,
// conditional branches) are independent of the outer dependency graph, so
// each is validated as its own, separate DAG.
func validateDAG(steps []action.Step) error {
	if err := validateStepListDAG(steps); err != nil {
		return err
	}
	for _, s := range steps {
		if len(s.Steps) > 0 {
			if err := validateStepListDAG(s.Steps); err != nil {
				return err
			}
		}
		if len(s.Then) > 0 {
			if err := validateStepListDAG(s.Then); err != nil {
				return err
			}
		}
		if len(s.Else) > 0 {
			if err := validateStepListDAG(s.Else); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateStepListDAG(steps []action.Step) error {
	nodes := make([]dag.Node, len(steps))
	for i, s := range steps {
		nodes[i] = dag.Node{ID: s.ID, DependsOn: s.DependsOn}
	}
	_, err := dag.Build(nodes)
	return err
}

// Plan builds the layered execution plan for a step list, used by both the
// executor and the dry-run test harness.
func Plan(steps []action.Step) (*dag.Plan, error) {
	nodes := make([]dag.Node, len(steps))
	for i, s := range steps {
		nodes[i] = dag.Node{ID: s.ID, DependsOn: s.DependsOn}
	}
	return dag.Build(nodes)
}
