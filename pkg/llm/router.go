package llm

import (
	"context"
	"strings"

	pkgerrors "github.com/mattmre/agentflow/pkg/errors"
)

// PrefixMapping binds a model-name prefix to the provider that serves it.
type PrefixMapping struct {
	Prefix   string
	Provider string
}

// DefaultPrefixes is the built-in model-prefix map. Mappings are checked
// in list order and the first match wins; no built-in prefix is a prefix
// of another, so their order does not change which provider is picked.
func DefaultPrefixes() []PrefixMapping {
	return []PrefixMapping{
		{"ft:gpt-", "openai"},
		{"gpt-", "openai"},
		{"o1", "openai"},
		{"o3", "openai"},
		{"claude-", "anthropic"},
	}
}

// Router dispatches a completion request to the provider implied by the
// request's model name, retrying transient failures with exponential
// backoff before giving up.
type Router struct {
	registry        *Registry
	defaultProvider string
	prefixes        []PrefixMapping
	retryConfig     RetryConfig
}

// NewRouter creates a router over the given registry. defaultProvider is
// used for model names that match none of the known prefixes.
func NewRouter(registry *Registry, defaultProvider string) *Router {
	return &Router{
		registry:        registry,
		defaultProvider: defaultProvider,
		prefixes:        DefaultPrefixes(),
		retryConfig:     DefaultRouterRetryConfig(),
	}
}

// WithRetryConfig overrides the router's retry behavior.
func (r *Router) WithRetryConfig(config RetryConfig) *Router {
	r.retryConfig = config
	return r
}

// WithPrefixes replaces the router's model-prefix map. Mappings are
// consulted in the given order, so callers supplying overlapping prefixes
// must list the more specific ones first.
func (r *Router) WithPrefixes(prefixes []PrefixMapping) *Router {
	r.prefixes = prefixes
	return r
}

// ProviderFor returns the provider name a model would be routed to under
// the default prefix map, without consulting any registry.
func ProviderFor(model string, defaultProvider string) string {
	for _, m := range DefaultPrefixes() {
		if strings.HasPrefix(model, m.Prefix) {
			return m.Provider
		}
	}
	return defaultProvider
}

// resolve picks the provider for a model: the first prefix mapping that
// matches the model AND whose provider is registered wins; a mapping whose
// provider was never registered is skipped rather than failing the
// request. Models matching no usable mapping fall back to the default
// provider — and if that is not registered either, the config is broken
// and the request fails.
func (r *Router) resolve(model string) (Provider, error) {
	for _, m := range r.prefixes {
		if !strings.HasPrefix(model, m.Prefix) {
			continue
		}
		if p, err := r.registry.Get(m.Provider); err == nil {
			return p, nil
		}
	}

	p, err := r.registry.Get(r.defaultProvider)
	if err != nil {
		return nil, &pkgerrors.ConfigError{
			Key:    "provider_missing",
			Reason: "no provider registered for model \"" + model + "\" and default provider \"" + r.defaultProvider + "\" is not registered",
		}
	}
	return p, nil
}

// Complete resolves req.Model to a provider and executes the request,
// retrying retryable errors with exponential backoff up to the router's
// configured attempt cap. Non-retryable errors propagate immediately.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	provider, err := r.resolve(req.Model)
	if err != nil {
		return nil, err
	}

	wrapped := NewRetryableProvider(provider, r.retryConfig)
	return wrapped.Complete(ctx, req)
}
