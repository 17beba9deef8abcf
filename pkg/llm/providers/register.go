package providers

import "github.com/mattmre/agentflow/pkg/llm"

// RegisterDefaults registers the built-in provider factories with the given
// registry. Call once at startup before activating any provider by name.
func RegisterDefaults(reg *llm.Registry) {
	reg.RegisterFactory("anthropic", NewAnthropicWithCredentials)
	reg.RegisterFactory("openai", NewOpenAIWithCredentials)
	reg.RegisterFactory("ollama", NewOllamaWithCredentials)
}
