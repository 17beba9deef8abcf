// Package providers implements the built-in LLM Provider factories the
// router dispatches to: Anthropic, OpenAI, and Ollama. Each is a thin
// net/http wrapper around the vendor's REST completion endpoint; no vendor
// SDK dependency is involved.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mattmre/agentflow/pkg/errors"
	"github.com/mattmre/agentflow/pkg/llm"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com/v1/messages"

// AnthropicProvider calls Anthropic's Messages API.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropicProvider constructs a provider bound to a single API key.
func NewAnthropicProvider(apiKey string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{Key: "api_key", Reason: "anthropic provider requires an API key"}
	}
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: defaultAnthropicBaseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// NewAnthropicWithCredentials adapts the provider to the llm.ProviderFactory
// signature for registration with llm.Registry.
func NewAnthropicWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	return NewAnthropicProvider(creds.APIKey)
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: true, Tools: true}
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	Messages    []anthropicMessage  `json:"messages"`
	System      string              `json:"system,omitempty"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
	Stop        []string            `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
}

// Complete sends a synchronous completion request to Anthropic.
func (p *AnthropicProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := anthropicRequest{Model: req.Model, MaxTokens: 4096, Temperature: req.Temperature}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
	}
	body.Stop = req.StopSequences

	for _, m := range req.Messages {
		if m.Role == llm.MessageRoleSystem {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal anthropic request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build anthropic request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: p.Name(), Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read anthropic response")
	}

	if resp.StatusCode >= 400 {
		return nil, &errors.ProviderError{
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("anthropic API error: %s", string(respBody)),
		}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode anthropic response")
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &llm.CompletionResponse{
		Content:      text,
		FinishReason: mapAnthropicStopReason(parsed.StopReason),
		Usage: llm.TokenUsage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
		Model:     req.Model,
		RequestID: parsed.RequestID,
		Created:   time.Now(),
	}, nil
}

// Stream is not implemented for this provider; the workflow executor only
// uses synchronous completions, so streaming is out of scope here.
func (p *AnthropicProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, &errors.ConfigError{Key: "streaming", Reason: "anthropic provider does not support streaming in this build"}
}

func mapAnthropicStopReason(reason string) llm.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return llm.FinishReasonStop
	case "max_tokens":
		return llm.FinishReasonLength
	case "tool_use":
		return llm.FinishReasonToolCalls
	default:
		return llm.FinishReasonStop
	}
}
