package llm

// Credentials carries the authentication material a provider factory needs
// to construct a client. Only one of APIKey/BaseURL is typically set,
// depending on the provider.
type Credentials struct {
	// APIKey authenticates with hosted providers (Anthropic, OpenAI).
	APIKey string

	// BaseURL overrides the default endpoint, used for self-hosted
	// providers (Ollama) or API-compatible proxies.
	BaseURL string
}
