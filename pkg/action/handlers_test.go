package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
	"github.com/mattmre/agentflow/pkg/expr"
	"github.com/mattmre/agentflow/pkg/workflow/schema"
)

func newRequest(step Step) Request {
	eval := expr.New()
	return Request{
		Step:        step,
		State:       map[string]map[string]interface{}{},
		EvalContext: map[string]interface{}{},
		Eval:        eval,
		Schema:      schema.NewValidator(),
	}
}

func dispatch(t *testing.T, req Request) (map[string]interface{}, error) {
	t.Helper()
	return NewDispatcher().Dispatch(context.Background(), req)
}

func TestRunCommandCapturesOutput(t *testing.T) {
	req := newRequest(Step{ID: "echo", Action: KindRunCommand, Command: "echo hello"})
	out, err := dispatch(t, req)
	require.NoError(t, err)
	assert.Equal(t, "hello", out["stdout"])
	assert.Equal(t, 0, out["return_code"])
}

func TestRunCommandPassesInputsAsEnv(t *testing.T) {
	req := newRequest(Step{ID: "env", Action: KindRunCommand, Command: "echo $TARGET_NAME"})
	req.ResolvedInputs = map[string]interface{}{"target-name": "prod"}
	out, err := dispatch(t, req)
	require.NoError(t, err)
	assert.Equal(t, "prod", out["stdout"])
}

func TestRunCommandNonZeroExitIsCommandFailed(t *testing.T) {
	req := newRequest(Step{ID: "boom", Action: KindRunCommand, Command: "echo oops >&2; exit 3"})
	_, err := dispatch(t, req)
	require.Error(t, err)

	var cmdErr *apperrors.CommandFailed
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "oops", cmdErr.Stderr)
}

func TestRunCommandArrayForm(t *testing.T) {
	req := newRequest(Step{ID: "argv", Action: KindRunCommand, Command: []interface{}{"echo", "a b"}})
	out, err := dispatch(t, req)
	require.NoError(t, err)
	assert.Equal(t, "a b", out["stdout"])
}

func TestValidateSchemaAndExpressionBothPass(t *testing.T) {
	step := Step{
		ID:     "check",
		Action: KindValidate,
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"name"},
		},
		Expression: `data_count > 0`,
		Data:       map[string]interface{}{"name": "x"},
	}
	req := newRequest(step)
	req.EvalContext = map[string]interface{}{"data_count": 2}

	out, err := dispatch(t, req)
	require.NoError(t, err)
	assert.Equal(t, true, out["valid"])
}

func TestValidateSchemaFailure(t *testing.T) {
	step := Step{
		ID:     "check",
		Action: KindValidate,
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"name"},
		},
		Data: map[string]interface{}{},
	}
	_, err := dispatch(t, newRequest(step))
	require.Error(t, err)

	var valErr *apperrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestTransformTemplate(t *testing.T) {
	step := Step{
		ID:     "shape",
		Action: KindTransform,
		Template: map[string]interface{}{
			"doubled": "n * 2",
			"label":   123, // non-string template values pass through
		},
	}
	req := newRequest(step)
	req.EvalContext = map[string]interface{}{"n": 21}

	out, err := dispatch(t, req)
	require.NoError(t, err)
	assert.EqualValues(t, 42, out["doubled"])
	assert.Equal(t, 123, out["label"])
}

func TestTransformExpressionWrapsResult(t *testing.T) {
	step := Step{ID: "calc", Action: KindTransform, Expression: "1 + 1"}
	out, err := dispatch(t, newRequest(step))
	require.NoError(t, err)
	assert.EqualValues(t, 2, out["result"])
}

func TestTransformJQExpression(t *testing.T) {
	step := Step{
		ID:         "pick",
		Action:     KindTransform,
		Expression: ".items | length",
		Data:       map[string]interface{}{"items": []interface{}{1, 2, 3}},
	}
	out, err := dispatch(t, newRequest(step))
	require.NoError(t, err)
	assert.EqualValues(t, 3, out["result"])
}

func TestTransformDataPassthrough(t *testing.T) {
	step := Step{ID: "pass", Action: KindTransform, Data: "as-is"}
	out, err := dispatch(t, newRequest(step))
	require.NoError(t, err)
	assert.Equal(t, "as-is", out["result"])
}

func TestConditionalEntersThenBranch(t *testing.T) {
	step := Step{
		ID:        "branch",
		Action:    KindConditional,
		Condition: "true",
		Then:      []Step{{ID: "then-step", Action: KindTransform, Data: "yes"}},
		Else:      []Step{{ID: "else-step", Action: KindTransform, Data: "no"}},
	}
	req := newRequest(step)
	req.Recurse = func(ctx context.Context, steps []Step, state map[string]map[string]interface{}) ([]StepResult, error) {
		results := make([]StepResult, len(steps))
		for i, s := range steps {
			results[i] = StepResult{StepID: s.ID, Status: "success", Outputs: map[string]interface{}{"value": s.Data}}
		}
		return results, nil
	}

	out, err := dispatch(t, req)
	require.NoError(t, err)
	assert.Equal(t, "then", out["branch"])
	assert.Equal(t, true, out["condition_result"])
	assert.Equal(t, "yes", out["value"])
}

func TestParallelGroupCollectsByStepID(t *testing.T) {
	step := Step{
		ID:     "group",
		Action: KindParallelGroup,
		Steps: []Step{
			{ID: "sub-a", Action: KindTransform, Data: "a"},
			{ID: "sub-b", Action: KindTransform, Data: "b"},
		},
	}
	req := newRequest(step)
	req.Recurse = func(ctx context.Context, steps []Step, state map[string]map[string]interface{}) ([]StepResult, error) {
		return []StepResult{
			{StepID: "sub-a", Status: "success", Outputs: map[string]interface{}{"v": "a"}},
			{StepID: "sub-b", Status: "failed", Error: "boom"},
		}, nil
	}

	out, err := dispatch(t, req)
	require.NoError(t, err)
	results := out["results"].(map[string]interface{})
	assert.Contains(t, results, "sub-a")
	assert.Contains(t, results, "sub-b")
	errs := out["errors"].([]string)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "sub-b")
}

func TestWaitFixedDuration(t *testing.T) {
	duration := 1
	step := Step{ID: "nap", Action: KindWait, DurationSeconds: &duration}

	start := time.Now()
	out, err := dispatch(t, newRequest(step))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, true, out["condition_met"])
}

func TestWaitCancelled(t *testing.T) {
	duration := 60
	step := Step{ID: "nap", Action: KindWait, DurationSeconds: &duration}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewDispatcher().Dispatch(ctx, newRequest(step))
	require.Error(t, err)

	var cancelled *apperrors.CancelledError
	assert.ErrorAs(t, err, &cancelled)
}

func TestWaitConditionAlreadyTrue(t *testing.T) {
	step := Step{ID: "poll", Action: KindWait, WaitCondition: "ready", Timeout: 10}
	req := newRequest(step)
	req.EvalContext = map[string]interface{}{"ready": true}

	out, err := dispatch(t, req)
	require.NoError(t, err)
	assert.Equal(t, true, out["condition_met"])
}

func TestDispatchUnknownActionIsConfigError(t *testing.T) {
	_, err := dispatch(t, newRequest(Step{ID: "x", Action: Kind("teleport")}))
	require.Error(t, err)

	var cfgErr *apperrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStepValidateActionFields(t *testing.T) {
	cases := []struct {
		name string
		step Step
		ok   bool
	}{
		{"valid transform", Step{ID: "t", Action: KindTransform}, true},
		{"bad id", Step{ID: "Bad_ID", Action: KindTransform}, false},
		{"unknown action", Step{ID: "x", Action: Kind("fly")}, false},
		{"agent without name", Step{ID: "a", Action: KindInvokeAgent}, false},
		{"command without command", Step{ID: "c", Action: KindRunCommand}, false},
		{"group without steps", Step{ID: "g", Action: KindParallelGroup}, false},
		{"conditional without condition", Step{ID: "i", Action: KindConditional}, false},
		{"wait without duration or condition", Step{ID: "w", Action: KindWait}, false},
		{"validate without schema or expression", Step{ID: "v", Action: KindValidate}, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
