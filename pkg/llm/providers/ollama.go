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

const defaultOllamaBaseURL = "http://localhost:11434/api/chat"

// OllamaProvider calls a self-hosted Ollama server's chat API. Unlike the
// hosted providers it authenticates with nothing, so BaseURL is the only
// credential that matters.
type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

func NewOllamaProvider(baseURL string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaProvider{baseURL: baseURL, client: &http.Client{Timeout: 2 * time.Minute}}, nil
}

func NewOllamaWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	return NewOllamaProvider(creds.BaseURL)
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: true, Tools: false}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *OllamaProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := ollamaRequest{
		Model:   req.Model,
		Stream:  false,
		Options: ollamaOptions{Temperature: req.Temperature, Stop: req.StopSequences},
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal ollama request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build ollama request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: p.Name(), Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read ollama response")
	}

	if resp.StatusCode >= 400 {
		return nil, &errors.ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: fmt.Sprintf("ollama API error: %s", string(respBody))}
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode ollama response")
	}

	return &llm.CompletionResponse{
		Content:      parsed.Message.Content,
		FinishReason: llm.FinishReasonStop,
		Usage: llm.TokenUsage{
			InputTokens:  parsed.PromptEvalCount,
			OutputTokens: parsed.EvalCount,
			TotalTokens:  parsed.PromptEvalCount + parsed.EvalCount,
		},
		Model:   req.Model,
		Created: time.Now(),
	}, nil
}

func (p *OllamaProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, &errors.ConfigError{Key: "streaming", Reason: "ollama provider does not support streaming in this build"}
}
