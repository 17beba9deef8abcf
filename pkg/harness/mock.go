package harness

import (
	"github.com/mattmre/agentflow/internal/testing/fixture"
	"github.com/mattmre/agentflow/internal/testing/mock"
	"github.com/mattmre/agentflow/pkg/llm"
)

// MockProviderName is the provider name the harness registers its
// fixture-backed provider under.
const MockProviderName = "mock"

// NewMockRouter builds a router whose only registered provider is a
// fixture-backed mock, set as the default so every model name routes to
// it. Handing this router to an agent.Runtime is the harness's only
// intervention; no other code path changes.
func NewMockRouter(f fixture.LLMFixture) (*llm.Router, error) {
	reg := llm.NewRegistry()
	if err := reg.Register(mock.NewProvider(MockProviderName, f)); err != nil {
		return nil, err
	}
	if err := reg.SetDefault(MockProviderName); err != nil {
		return nil, err
	}
	return llm.NewRouter(reg, MockProviderName), nil
}

// Responses is a convenience constructor for the common table-driven case:
// each key is a substring matched against the last user message, each
// value the canned response. A lookup that matches no key echoes the last
// user message back, per the mock provider's fallback rule.
func Responses(table map[string]string) fixture.LLMFixture {
	var f fixture.LLMFixture
	for contains, ret := range table {
		f.Responses = append(f.Responses, fixture.LLMResponse{
			When:   &fixture.LLMCondition{PromptContains: contains},
			Return: ret,
		})
	}
	return f
}
