package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattmre/agentflow/pkg/action"
	"github.com/mattmre/agentflow/pkg/agent"
	"github.com/mattmre/agentflow/pkg/checkpoint"
	"github.com/mattmre/agentflow/pkg/harness"
	"github.com/mattmre/agentflow/pkg/sensor"
	"github.com/mattmre/agentflow/pkg/workflow"
)

func newEngine(t *testing.T, responses map[string]string) *Engine {
	t.Helper()
	router, err := harness.NewMockRouter(harness.Responses(responses))
	require.NoError(t, err)
	return New(router, checkpoint.NewMemoryStore())
}

func TestRegisterAndGetDefinitions(t *testing.T) {
	e := newEngine(t, nil)

	require.NoError(t, e.RegisterAgent(agent.Definition{AgentName: "writer", Model: "claude-3-5-sonnet"}))
	require.Error(t, e.RegisterAgent(agent.Definition{AgentName: "writer", Model: "claude-3-5-sonnet"}), "duplicate names are rejected")

	def, err := e.GetAgent("writer")
	require.NoError(t, err)
	assert.Equal(t, "writer", def.AgentName)

	_, err = e.GetAgent("ghost")
	require.Error(t, err)

	require.NoError(t, e.RegisterWorkflow(workflow.Definition{
		WorkflowName: "noop",
		Steps:        []action.Step{{ID: "only", Action: action.KindTransform, Data: "x"}},
	}))

	wf, err := e.GetWorkflow("noop")
	require.NoError(t, err)
	assert.Equal(t, "noop", wf.WorkflowName)
}

func TestRegisterWorkflowRejectsCycle(t *testing.T) {
	e := newEngine(t, nil)

	err := e.RegisterWorkflow(workflow.Definition{
		WorkflowName: "cyclic",
		Steps: []action.Step{
			{ID: "a", Action: action.KindTransform, DependsOn: []string{"b"}},
			{ID: "b", Action: action.KindTransform, DependsOn: []string{"a"}},
		},
	})
	require.Error(t, err)
}

func TestInvokeAgentDirectly(t *testing.T) {
	e := newEngine(t, map[string]string{"ping": `{"pong": true}`})

	require.NoError(t, e.RegisterAgent(agent.Definition{
		AgentName: "ponger",
		Model:     "claude-3-5-sonnet",
		Outputs:   map[string]agent.Parameter{"pong": {Type: agent.ParameterBoolean}},
	}))

	res, err := e.InvokeAgent(context.Background(), "ponger", map[string]interface{}{"msg": "ping"})
	require.NoError(t, err)
	assert.Equal(t, true, res.ParsedOutput["pong"])
}

func TestExecuteWorkflowLiveAndDryRun(t *testing.T) {
	e := newEngine(t, nil)

	require.NoError(t, e.RegisterWorkflow(workflow.Definition{
		WorkflowName: "double",
		Steps: []action.Step{
			{ID: "calc", Action: action.KindTransform, Template: map[string]interface{}{"out": "n * 2"}},
		},
	}))

	live, err := e.ExecuteWorkflow(context.Background(), "double", map[string]interface{}{"n": 21}, ExecuteOptions{})
	require.NoError(t, err)
	require.NotNil(t, live.Run)
	assert.Equal(t, workflow.StatusSuccess, live.Run.Status)
	assert.EqualValues(t, 42, live.Run.Outputs["calc"]["out"])

	dry, err := e.ExecuteWorkflow(context.Background(), "double", nil, ExecuteOptions{DryRun: true})
	require.NoError(t, err)
	require.NotNil(t, dry.DryRunReport)
	assert.Nil(t, dry.Run)
	assert.Equal(t, 1, dry.DryRunReport.TotalSteps)
}

func TestEngineDrivesSensorKernel(t *testing.T) {
	e := newEngine(t, nil)

	require.NoError(t, e.RegisterWorkflow(workflow.Definition{
		WorkflowName: "on-change",
		Steps: []action.Step{
			{ID: "note", Action: action.KindTransform, Template: map[string]interface{}{"path": "changed_path"}},
		},
	}))

	kernel := sensor.NewKernel(e.Evaluator(), e)
	require.NoError(t, kernel.Register(sensor.Definition{
		Name:           "watcher",
		Kind:           sensor.KindFileChange,
		TargetWorkflow: "on-change",
		InputBindings:  map[string]interface{}{"changed_path": "event.path"},
	}))

	err := kernel.Fire(context.Background(), "watcher", sensor.Event{
		Fingerprint: "f1",
		Payload:     map[string]interface{}{"path": "/tmp/x.go"},
		Time:        time.Now(),
	})
	require.NoError(t, err)
}
