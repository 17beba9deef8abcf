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

const defaultOpenAIBaseURL = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider calls OpenAI's Chat Completions API. The same client also
// serves the fine-tuned "ft:gpt-" and "o1"/"o3" reasoning-model prefixes,
// since all share one request/response shape.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{Key: "api_key", Reason: "openai provider requires an API key"}
	}
	return &OpenAIProvider{apiKey: apiKey, baseURL: defaultOpenAIBaseURL, client: &http.Client{Timeout: 2 * time.Minute}}, nil
}

func NewOpenAIWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	return NewOpenAIProvider(creds.APIKey)
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: true, Tools: true}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	ID string `json:"id"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := openAIRequest{Model: req.Model, Temperature: req.Temperature, MaxTokens: req.MaxTokens, Stop: req.StopSequences}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal openai request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build openai request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: p.Name(), Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read openai response")
	}

	if resp.StatusCode >= 400 {
		return nil, &errors.ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: fmt.Sprintf("openai API error: %s", string(respBody))}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode openai response")
	}
	if len(parsed.Choices) == 0 {
		return nil, &errors.ProviderError{Provider: p.Name(), Message: "openai response contained no choices"}
	}

	return &llm.CompletionResponse{
		Content:      parsed.Choices[0].Message.Content,
		FinishReason: mapOpenAIFinishReason(parsed.Choices[0].FinishReason),
		Usage: llm.TokenUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		},
		Model:     req.Model,
		RequestID: parsed.ID,
		Created:   time.Now(),
	}, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, &errors.ConfigError{Key: "streaming", Reason: "openai provider does not support streaming in this build"}
}

func mapOpenAIFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishReasonStop
	case "length":
		return llm.FinishReasonLength
	case "tool_calls", "function_call":
		return llm.FinishReasonToolCalls
	case "content_filter":
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}
