package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/mattmre/agentflow/pkg/errors"
)

type stubProvider struct {
	name string
	resp *CompletionResponse
	err  error
}

func (s *stubProvider) Name() string                 { return s.name }
func (s *stubProvider) Capabilities() Capabilities    { return Capabilities{} }
func (s *stubProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return s.resp, s.err
}
func (s *stubProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	return nil, nil
}

func TestProviderForPrefixes(t *testing.T) {
	cases := map[string]string{
		"gpt-4o":           "openai",
		"ft:gpt-4o:acme":   "openai",
		"o1-preview":       "openai",
		"o3-mini":          "openai",
		"claude-3-5-sonnet": "anthropic",
		"llama3":           "default",
	}
	for model, want := range cases {
		assert.Equal(t, want, ProviderFor(model, "default"), model)
	}
}

func TestRouterCompleteDispatchesToMappedProvider(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubProvider{name: "anthropic", resp: &CompletionResponse{Content: "hi"}}))

	router := NewRouter(reg, "anthropic")
	resp, err := router.Complete(context.Background(), CompletionRequest{Model: "claude-3-5-sonnet"})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
}

func TestRouterCompleteUnregisteredProviderIsConfigError(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, "anthropic")

	_, err := router.Complete(context.Background(), CompletionRequest{Model: "gpt-4o"})
	require.Error(t, err)
	var cfgErr *pkgerrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRouterCompleteSkipsUnregisteredMapping(t *testing.T) {
	// gpt- maps to openai, which is not registered; the request must fall
	// through to the registered default instead of failing.
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubProvider{name: "local", resp: &CompletionResponse{Content: "fallback"}}))

	router := NewRouter(reg, "local")
	resp, err := router.Complete(context.Background(), CompletionRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Content)
}

func TestRouterWithPrefixesOverride(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubProvider{name: "tuned", resp: &CompletionResponse{Content: "tuned"}}))
	require.NoError(t, reg.Register(&stubProvider{name: "base", resp: &CompletionResponse{Content: "base"}}))

	router := NewRouter(reg, "base").WithPrefixes([]PrefixMapping{
		{Prefix: "custom-", Provider: "tuned"},
	})

	resp, err := router.Complete(context.Background(), CompletionRequest{Model: "custom-1"})
	require.NoError(t, err)
	assert.Equal(t, "tuned", resp.Content)

	resp, err = router.Complete(context.Background(), CompletionRequest{Model: "claude-3"})
	require.NoError(t, err)
	assert.Equal(t, "base", resp.Content)
}
