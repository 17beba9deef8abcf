package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
	"github.com/mattmre/agentflow/pkg/llm"
	"github.com/mattmre/agentflow/pkg/registry"
)

type stubProvider struct {
	name string
	resp *llm.CompletionResponse
	err  error
}

func (s *stubProvider) Name() string                  { return s.name }
func (s *stubProvider) Capabilities() llm.Capabilities { return llm.Capabilities{} }
func (s *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return s.resp, s.err
}
func (s *stubProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, nil
}

func newTestRuntime(t *testing.T, content string) *Runtime {
	t.Helper()
	reg := llm.NewRegistry()
	require.NoError(t, reg.Register(&stubProvider{name: "anthropic", resp: &llm.CompletionResponse{Content: content}}))
	router := llm.NewRouter(reg, "anthropic")
	return NewRuntime(router, nil, nil)
}

func TestRunMissingRequiredInputIsValidationError(t *testing.T) {
	rt := newTestRuntime(t, "hi")
	def := Definition{
		AgentName: "greeter",
		Model:     "claude-3-5-sonnet",
		Inputs:    map[string]Parameter{"who": {Type: ParameterString, Required: true}},
	}

	_, err := rt.Run(context.Background(), def, map[string]interface{}{})
	require.Error(t, err)
	var verr *apperrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRunRendersPromptFromInputs(t *testing.T) {
	rt := newTestRuntime(t, "done")
	def := Definition{
		AgentName: "greeter",
		Model:     "claude-3-5-sonnet",
		Prompts:   &Prompts{User: "hello {{ inputs.name }}"},
	}

	out, err := rt.Run(context.Background(), def, map[string]interface{}{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "done", out.ParsedOutput["result"])
	assert.Equal(t, "done", out.RawResponse)
}

func TestRunNamedLooksUpRegisteredDefinition(t *testing.T) {
	reg := llm.NewRegistry()
	require.NoError(t, reg.Register(&stubProvider{name: "anthropic", resp: &llm.CompletionResponse{Content: "done"}}))
	router := llm.NewRouter(reg, "anthropic")

	agents := registry.New[Definition]()
	require.NoError(t, agents.Register(Definition{AgentName: "greeter", Model: "claude-3-5-sonnet"}))

	rt := NewRuntime(router, nil, agents)
	out, err := rt.RunNamed(context.Background(), "greeter", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "done", out["result"])
}

func TestRunNamedUnknownAgentIsNotFound(t *testing.T) {
	rt := newTestRuntime(t, "hi")
	_, err := rt.RunNamed(context.Background(), "missing", map[string]interface{}{})
	require.Error(t, err)
	var nf *apperrors.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestParseOutputStructuredObject(t *testing.T) {
	out := parseOutput(`{"summary": "ok"}`, nil)
	assert.Equal(t, "ok", out["summary"])
}

func TestParseOutputStructuredArrayWrapped(t *testing.T) {
	out := parseOutput(`[1, 2, 3]`, nil)
	result, ok := out["result"].([]interface{})
	require.True(t, ok)
	assert.Len(t, result, 3)
}

func TestParseOutputStructuredScalarWrapped(t *testing.T) {
	out := parseOutput(`42`, nil)
	assert.Equal(t, float64(42), out["result"])
}

func TestParseOutputSingleFieldFallback(t *testing.T) {
	out := parseOutput("not json", map[string]Parameter{"summary": {Type: ParameterString}})
	assert.Equal(t, "not json", out["summary"])
}

func TestParseOutputResultFallback(t *testing.T) {
	out := parseOutput("not json", map[string]Parameter{"a": {Type: ParameterString}, "b": {Type: ParameterString}})
	assert.Equal(t, "not json", out["result"])
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "plain", stripCodeFence("plain"))
}
