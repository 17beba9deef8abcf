// Package mock implements the test harness's mock LLM provider: a
// llm.Provider that never calls a real model, returning canned responses
// from a fixture table instead.
package mock

import (
	"context"
	"strings"
	"time"

	"github.com/mattmre/agentflow/internal/testing/fixture"
	"github.com/mattmre/agentflow/pkg/llm"
)

// Provider is a llm.Provider backed by a fixture.LLMFixture lookup table.
// Complete resolves a response by matching the fixture's conditions
// against the request's last user message (and, when present, the
// "step_id" request metadata key) in order, falling back to the fixture's
// Default-marked entry, then its bare Response string, and finally to an
// echo of the last user message.
type Provider struct {
	name    string
	fixture fixture.LLMFixture
}

// NewProvider builds a mock Provider named name over f.
func NewProvider(name string, f fixture.LLMFixture) *Provider {
	return &Provider{name: name, fixture: f}
}

// Name satisfies llm.Provider.
func (p *Provider) Name() string { return p.name }

// Capabilities satisfies llm.Provider. The mock advertises no streaming or
// tool support since it never calls a real model.
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Models: []llm.ModelInfo{{ID: "mock", Name: "mock", Tier: llm.ModelTierBalanced}}}
}

// Complete resolves req against the fixture table and returns it as a
// CompletionResponse, never touching the network.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	content := p.resolve(req)
	return &llm.CompletionResponse{
		Content:      content,
		FinishReason: llm.FinishReasonStop,
		Model:        req.Model,
		Created:      time.Now(),
	}, nil
}

// Stream satisfies llm.Provider by resolving the full response up front and
// emitting it as a single chunk, since the mock has no notion of
// incremental generation.
func (p *Provider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	content := p.resolve(req)
	ch <- llm.StreamChunk{Delta: llm.StreamDelta{Content: content}, FinishReason: llm.FinishReasonStop}
	close(ch)
	return ch, nil
}

func (p *Provider) resolve(req llm.CompletionRequest) string {
	lastUser := lastUserMessage(req)
	stepID := req.Metadata["step_id"]

	var fallback string
	var hasFallback bool
	for _, r := range p.fixture.Responses {
		if r.Default && !hasFallback {
			fallback = r.Return
			hasFallback = true
		}
		if r.When == nil {
			continue
		}
		if r.When.StepID != "" && r.When.StepID != stepID {
			continue
		}
		if r.When.PromptContains != "" && !strings.Contains(lastUser, r.When.PromptContains) {
			continue
		}
		if r.When.StepID != "" || r.When.PromptContains != "" {
			return r.Return
		}
	}
	if hasFallback {
		return fallback
	}
	if p.fixture.Response != "" {
		return p.fixture.Response
	}
	return lastUser
}

func lastUserMessage(req llm.CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.MessageRoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
