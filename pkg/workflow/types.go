package workflow

import (
	"fmt"
	"time"
)

// ErrKeyNotFound represents an error when a requested key does not exist in the context.
type ErrKeyNotFound struct {
	Key string
}

// Error implements the error interface.
// Security: Does not include the actual value to prevent credential leakage.
func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key %q not found", e.Key)
}

// ErrTypeAssertion represents an error when a value cannot be asserted to the expected type.
type ErrTypeAssertion struct {
	Key  string // The key that was accessed
	Got  string // The actual type received (as string representation)
	Want string // The expected type
}

// Error implements the error interface.
// Security: Does not include the actual value to prevent credential leakage.
func (e ErrTypeAssertion) Error() string {
	return fmt.Sprintf("key %q is %s, not %s", e.Key, e.Got, e.Want)
}

// WorkflowContext provides type-safe access to a run's inputs and the
// outputs of steps that have settled so far. Methods are safe for
// concurrent reads but NOT safe for concurrent writes; the executor guards
// mutations with its run-state mutex.
type WorkflowContext struct {
	inputs  map[string]any
	outputs map[string]StepOutput
}

// NewWorkflowContext creates a new WorkflowContext with the provided inputs.
func NewWorkflowContext(inputs map[string]any) *WorkflowContext {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return &WorkflowContext{
		inputs:  inputs,
		outputs: make(map[string]StepOutput),
	}
}

// GetString retrieves a string value from the workflow inputs.
// Returns ErrKeyNotFound if key doesn't exist, ErrTypeAssertion if wrong type.
// Security: Error messages do not include the actual value to prevent leaks.
func (c *WorkflowContext) GetString(key string) (string, error) {
	val, ok := c.inputs[key]
	if !ok {
		return "", ErrKeyNotFound{Key: key}
	}
	str, ok := val.(string)
	if !ok {
		return "", ErrTypeAssertion{Key: key, Got: fmt.Sprintf("%T", val), Want: "string"}
	}
	return str, nil
}

// GetStringOr returns a string value or the default if key is missing or wrong type.
func (c *WorkflowContext) GetStringOr(key string, defaultVal string) string {
	str, err := c.GetString(key)
	if err != nil {
		return defaultVal
	}
	return str
}

// GetInt64 retrieves an int64 value from the workflow inputs, converting
// from the various numeric types JSON/YAML unmarshaling produces.
// Returns ErrKeyNotFound if key doesn't exist, ErrTypeAssertion if wrong type.
func (c *WorkflowContext) GetInt64(key string) (int64, error) {
	val, ok := c.inputs[key]
	if !ok {
		return 0, ErrKeyNotFound{Key: key}
	}

	switch v := val.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		// JSON numbers are unmarshaled as float64
		return int64(v), nil
	default:
		return 0, ErrTypeAssertion{Key: key, Got: fmt.Sprintf("%T", val), Want: "int64"}
	}
}

// GetInt64Or returns an int64 value or the default if key is missing or wrong type.
func (c *WorkflowContext) GetInt64Or(key string, defaultVal int64) int64 {
	i, err := c.GetInt64(key)
	if err != nil {
		return defaultVal
	}
	return i
}

// GetBool retrieves a bool value from the workflow inputs.
// Returns ErrKeyNotFound if key doesn't exist, ErrTypeAssertion if wrong type.
func (c *WorkflowContext) GetBool(key string) (bool, error) {
	val, ok := c.inputs[key]
	if !ok {
		return false, ErrKeyNotFound{Key: key}
	}
	b, ok := val.(bool)
	if !ok {
		return false, ErrTypeAssertion{Key: key, Got: fmt.Sprintf("%T", val), Want: "bool"}
	}
	return b, nil
}

// GetBoolOr returns a bool value or the default if key is missing or wrong type.
func (c *WorkflowContext) GetBoolOr(key string, defaultVal bool) bool {
	b, err := c.GetBool(key)
	if err != nil {
		return defaultVal
	}
	return b
}

// GetMap retrieves a map value from the workflow inputs.
// Returns ErrKeyNotFound if key doesn't exist, ErrTypeAssertion if wrong type.
func (c *WorkflowContext) GetMap(key string) (map[string]interface{}, error) {
	val, ok := c.inputs[key]
	if !ok {
		return nil, ErrKeyNotFound{Key: key}
	}
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil, ErrTypeAssertion{Key: key, Got: fmt.Sprintf("%T", val), Want: "map[string]interface{}"}
	}
	return m, nil
}

// GetSlice retrieves a slice value from the workflow inputs.
// Returns ErrKeyNotFound if key doesn't exist, ErrTypeAssertion if wrong type.
func (c *WorkflowContext) GetSlice(key string) ([]interface{}, error) {
	val, ok := c.inputs[key]
	if !ok {
		return nil, ErrKeyNotFound{Key: key}
	}
	slice, ok := val.([]interface{})
	if !ok {
		return nil, ErrTypeAssertion{Key: key, Got: fmt.Sprintf("%T", val), Want: "[]interface{}"}
	}
	return slice, nil
}

// GetInputs returns the underlying inputs map for expression evaluation.
// Safe for concurrent reads.
func (c *WorkflowContext) GetInputs() map[string]any {
	return c.inputs
}

// GetOutputs returns the step outputs map for expression evaluation.
// Safe for concurrent reads.
func (c *WorkflowContext) GetOutputs() map[string]StepOutput {
	return c.outputs
}

// SetOutput stores a step output in the context.
// NOT safe for concurrent writes - caller must synchronize.
func (c *WorkflowContext) SetOutput(stepID string, output StepOutput) {
	c.outputs[stepID] = output
}

// StepOutput is the structured record of one settled step: its outputs
// map, its error (when it failed), and execution metadata.
type StepOutput struct {
	// Data holds the outputs map the step's handler returned
	Data map[string]interface{} `json:"data,omitempty"`

	// Error contains the error message if the step failed
	Error string `json:"error,omitempty"`

	// Metadata contains execution metadata (duration, token usage, etc.)
	Metadata OutputMetadata `json:"metadata"`
}

// OutputMetadata contains metadata about step execution.
type OutputMetadata struct {
	// Duration is the time taken to execute the step
	Duration time.Duration `json:"duration,omitempty"`

	// TokenUsage captures LLM token consumption for invoke-agent steps
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`

	// Provider is the LLM provider used (e.g., "anthropic", "openai")
	Provider string `json:"provider,omitempty"`

	// Model is the specific model used
	Model string `json:"model,omitempty"`
}

// TokenUsage captures consumption metrics from the LLM provider.
type TokenUsage struct {
	// InputTokens is the number of tokens in the input/prompt
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the number of tokens in the generated output
	OutputTokens int `json:"output_tokens"`

	// TotalTokens is the sum of input and output tokens
	TotalTokens int `json:"total_tokens"`
}

// ToMap converts StepOutput to an untyped map for expression evaluation.
func (s StepOutput) ToMap() map[string]interface{} {
	result := make(map[string]interface{}, len(s.Data)+1)
	for k, v := range s.Data {
		result[k] = v
	}
	if s.Error != "" {
		result["error"] = s.Error
	}
	return result
}
