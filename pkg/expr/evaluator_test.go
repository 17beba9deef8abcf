package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

func TestEvaluateBool(t *testing.T) {
	e := New()
	ctx := BuildContextFromMaps(
		map[string]interface{}{"count": 3},
		map[string]map[string]interface{}{
			"fetch": {"status": "ok"},
		},
		nil,
	)

	ok, err := e.EvaluateBool(`steps.fetch.status == "ok"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateBool(`inputs.count > 5`, ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateUnknownNameIsClassified(t *testing.T) {
	e := New()
	_, err := e.Evaluate(`inputs.missing.deeper`, map[string]interface{}{"inputs": map[string]interface{}{}})
	require.Error(t, err)
	var exprErr *apperrors.ExpressionError
	require.ErrorAs(t, err, &exprErr)
}

func TestRenderSingleExpressionPreservesType(t *testing.T) {
	e := New()
	ctx := map[string]interface{}{"inputs": map[string]interface{}{"n": 42}}

	out, err := Render(e, `{{ inputs.n }}`, ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestRenderMixedTextProducesString(t *testing.T) {
	e := New()
	ctx := map[string]interface{}{"inputs": map[string]interface{}{"name": "world"}}

	out, err := Render(e, `hello, {{ inputs.name }}!`, ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello, world!", out)
}

func TestRenderForLoop(t *testing.T) {
	e := New()
	ctx := map[string]interface{}{"inputs": map[string]interface{}{"items": []interface{}{"a", "b", "c"}}}

	out, err := Render(e, `{% for x in inputs.items %}[{{ x }}]{% endfor %}`, ctx)
	require.NoError(t, err)
	assert.Equal(t, "[a][b][c]", out)
}

func TestRenderTojsonFromjson(t *testing.T) {
	e := New()
	ctx := map[string]interface{}{"inputs": map[string]interface{}{"obj": map[string]interface{}{"a": 1}}}

	out, err := Render(e, `{{ inputs.obj | tojson }}`, ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, out.(string))

	ctx2 := map[string]interface{}{"inputs": map[string]interface{}{"raw": `{"b":2}`}}
	out2, err := Render(e, `{{ inputs.raw | fromjson }}`, ctx2)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"b": 2.0}, out2)
}

func TestAllowlistedFunctions(t *testing.T) {
	e := New()
	ctx := map[string]interface{}{"inputs": map[string]interface{}{"xs": []interface{}{1, 2, 3}}}

	out, err := e.Evaluate(`len(inputs.xs)`, ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, out)

	out, err = e.Evaluate(`str(inputs.xs[0])`, ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", out)
}
