// Package agent builds prompts from agent definitions, dispatches them
// through the LLM router, and parses the resulting text into structured
// step outputs.
//
// Unlike a multi-turn tool-using loop, an agent run here is a single
// request/response exchange: build one prompt, call the provider (with
// retry up to the definition's retry budget), then parse the response body
// into the fields the definition declares.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
	"github.com/mattmre/agentflow/pkg/expr"
	"github.com/mattmre/agentflow/pkg/llm"
	"github.com/mattmre/agentflow/pkg/registry"
)

// Role is one of the fixed personas an agent definition may declare.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleDirector     Role = "director"
	RoleWorker       Role = "worker"
	RoleReviewer     Role = "reviewer"
	RoleResearcher   Role = "researcher"
	RoleValidator    Role = "validator"
)

var validRoles = map[Role]bool{
	RoleOrchestrator: true, RoleDirector: true, RoleWorker: true,
	RoleReviewer: true, RoleResearcher: true, RoleValidator: true,
}

// ParameterType is the type tag of a Parameter descriptor.
type ParameterType string

const (
	ParameterString  ParameterType = "string"
	ParameterNumber  ParameterType = "number"
	ParameterBoolean ParameterType = "boolean"
	ParameterArray   ParameterType = "array"
	ParameterObject  ParameterType = "object"
	ParameterPath    ParameterType = "path"
)

// Parameter describes one named input or output slot, shared by agent and
// workflow definitions.
type Parameter struct {
	Type        ParameterType `yaml:"type" json:"type"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool          `yaml:"required,omitempty" json:"required,omitempty"`
	Default     interface{}   `yaml:"default,omitempty" json:"default,omitempty"`
	Enum        []interface{} `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// Constraints bounds an agent invocation's resource usage.
type Constraints struct {
	MaxTokens      int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	MaxRetries     int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	// ParallelAllowed defaults to true when absent; setting it false
	// serializes every invocation of this agent within the runtime, even
	// when the invoking steps run in the same layer.
	ParallelAllowed *bool `yaml:"parallel_allowed,omitempty" json:"parallel_allowed,omitempty"`
}

func (c Constraints) parallelAllowed() bool {
	if c.ParallelAllowed == nil {
		return true
	}
	return *c.ParallelAllowed
}

func (c Constraints) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c Constraints) attempts() int {
	if c.MaxRetries < 0 {
		return 1
	}
	return c.MaxRetries + 1
}

// Prompts holds optional explicit templates; when both are empty the
// runtime synthesizes a system prompt from the definition's identity,
// description, capabilities, and parameter schemas instead.
type Prompts struct {
	System string `yaml:"system,omitempty" json:"system,omitempty"`
	User   string `yaml:"user,omitempty" json:"user,omitempty"`
}

// Definition is the static, immutable-once-registered description of an
// agent: its identity, parameter schemas, optional explicit prompts, and
// resource constraints.
type Definition struct {
	AgentName    string               `yaml:"name" json:"name"`
	Version      string               `yaml:"version,omitempty" json:"version,omitempty"`
	Model        string               `yaml:"model" json:"model"`
	Role         Role                 `yaml:"role,omitempty" json:"role,omitempty"`
	Description  string               `yaml:"description,omitempty" json:"description,omitempty"`
	Capabilities []string             `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Inputs       map[string]Parameter `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs      map[string]Parameter `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Prompts      *Prompts             `yaml:"prompts,omitempty" json:"prompts,omitempty"`
	Constraints  Constraints          `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Metadata     map[string]string    `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Name satisfies registry.Named so agent definitions can be registered
// directly in a registry.Registry[Definition].
func (d Definition) Name() string { return d.AgentName }

var (
	namePattern    = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// Validate checks the definition against the registration rules: naming
// and semver syntax, a known role, the description length cap, and the
// numeric constraint ranges.
func (d Definition) Validate() error {
	if len(d.AgentName) < 2 || len(d.AgentName) > 64 || !namePattern.MatchString(d.AgentName) {
		return &apperrors.ValidationError{
			Field:      "name",
			Message:    fmt.Sprintf("agent name %q must be 2-64 chars matching ^[a-z][a-z0-9-]*$", d.AgentName),
			Suggestion: "use lowercase letters, digits, and hyphens, starting with a letter",
		}
	}
	if d.Version != "" && !versionPattern.MatchString(d.Version) {
		return &apperrors.ValidationError{Field: "version", Message: fmt.Sprintf("version %q must be MAJOR.MINOR.PATCH", d.Version)}
	}
	if d.Role != "" && !validRoles[d.Role] {
		return &apperrors.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", d.Role)}
	}
	if len(d.Description) > 500 {
		return &apperrors.ValidationError{Field: "description", Message: "description exceeds 500 characters"}
	}
	if d.Constraints.MaxTokens != 0 && (d.Constraints.MaxTokens < 100 || d.Constraints.MaxTokens > 200000) {
		return &apperrors.ValidationError{Field: "constraints.max_tokens", Message: "max_tokens must be within [100, 200000]"}
	}
	if d.Constraints.TimeoutSeconds != 0 && (d.Constraints.TimeoutSeconds < 10 || d.Constraints.TimeoutSeconds > 3600) {
		return &apperrors.ValidationError{Field: "constraints.timeout_seconds", Message: "timeout_seconds must be within [10, 3600]"}
	}
	if d.Constraints.MaxRetries < 0 || d.Constraints.MaxRetries > 10 {
		return &apperrors.ValidationError{Field: "constraints.max_retries", Message: "max_retries must be within [0, 10]"}
	}
	return nil
}

// Runtime builds prompts and drives the LLM router on behalf of agent
// definitions.
type Runtime struct {
	router         *llm.Router
	evaluator      *expr.Evaluator
	registry       *registry.Registry[Definition]
	contextManager *ContextManager
	serial         sync.Map // agent name -> *sync.Mutex, for parallel_allowed=false
}

// NewRuntime creates a runtime bound to the given router. evaluator may be
// nil, in which case a fresh one is created. reg may also be nil; in that
// case RunNamed always returns a NotFoundError, which suits callers (such
// as the test harness) that only ever run agents by Definition value.
func NewRuntime(router *llm.Router, evaluator *expr.Evaluator, reg *registry.Registry[Definition]) *Runtime {
	if evaluator == nil {
		evaluator = expr.New()
	}
	return &Runtime{router: router, evaluator: evaluator, registry: reg, contextManager: NewContextManager(8000)}
}

// RunNamed looks up agentName in the runtime's registry and runs it. This is
// the entry point the workflow executor's invoke-agent handler calls
// through the pkg/action.AgentInvoker interface, keeping pkg/action free of
// any dependency on pkg/agent's concrete types.
func (rt *Runtime) RunNamed(ctx context.Context, agentName string, inputs map[string]interface{}) (map[string]interface{}, error) {
	if rt.registry == nil {
		return nil, &apperrors.NotFoundError{Resource: "agent", ID: agentName}
	}
	def, err := rt.registry.Get(agentName)
	if err != nil {
		return nil, err
	}
	result, err := rt.Run(ctx, def, inputs)
	if err != nil {
		return nil, err
	}
	return result.ParsedOutput, nil
}

// AgentResult is one agent invocation's full record: the parsed output
// fields merged into step state, plus the raw text and accounting data a
// caller may want for logging or cost tracking.
type AgentResult struct {
	ParsedOutput map[string]interface{}
	RawResponse  string
	TokensUsed   llm.TokenUsage
	Model        string
}

// Run validates required inputs, renders the prompt, invokes the router
// (retrying per the definition's attempt budget and honoring its timeout),
// and parses the response into a field map.
func (rt *Runtime) Run(ctx context.Context, def Definition, inputs map[string]interface{}) (*AgentResult, error) {
	if err := rt.validateInputs(def, inputs); err != nil {
		return nil, err
	}

	if !def.Constraints.parallelAllowed() {
		mu, _ := rt.serial.LoadOrStore(def.AgentName, &sync.Mutex{})
		mu.(*sync.Mutex).Lock()
		defer mu.(*sync.Mutex).Unlock()
	}

	systemPrompt, userPrompt, err := rt.renderPrompts(def, inputs)
	if err != nil {
		return nil, err
	}
	if def.Constraints.MaxTokens > 0 {
		maxPromptTokens := def.Constraints.MaxTokens / 2
		systemPrompt = rt.contextManager.TruncateContent(systemPrompt, maxPromptTokens)
	}

	ctx, cancel := context.WithTimeout(ctx, def.Constraints.timeout())
	defer cancel()

	messages := []llm.Message{}
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.MessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.MessageRoleUser, Content: userPrompt})

	req := llm.CompletionRequest{
		Messages: messages,
		Model:    def.Model,
	}
	if def.Constraints.MaxTokens > 0 {
		maxTokens := def.Constraints.MaxTokens
		req.MaxTokens = &maxTokens
	}

	var resp *llm.CompletionResponse
	var lastErr error
	for attempt := 0; attempt < def.Constraints.attempts(); attempt++ {
		resp, lastErr = rt.router.Complete(ctx, req)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	return &AgentResult{
		ParsedOutput: parseOutput(resp.Content, def.Outputs),
		RawResponse:  resp.Content,
		TokensUsed:   resp.Usage,
		Model:        resp.Model,
	}, nil
}

func (rt *Runtime) validateInputs(def Definition, inputs map[string]interface{}) error {
	for name, p := range def.Inputs {
		if !p.Required {
			continue
		}
		if _, ok := inputs[name]; !ok {
			return &apperrors.ValidationError{
				Field:      name,
				Message:    fmt.Sprintf("agent %q requires input %q which was not provided", def.AgentName, name),
				Suggestion: "provide this input or mark it not required",
			}
		}
	}
	return nil
}

// renderPrompts returns the system and user prompt text for one invocation.
// When the definition supplies explicit templates, those are rendered
// through the expression evaluator. Otherwise the system prompt is
// synthesized deterministically from the definition's identity,
// description, capabilities, and parameter schemas, and the user prompt is
// the input map serialized as pretty-printed JSON.
func (rt *Runtime) renderPrompts(def Definition, inputs map[string]interface{}) (string, string, error) {
	evalCtx := expr.BuildContextFromMaps(inputs, nil, nil)

	var systemPrompt string
	if def.Prompts != nil && def.Prompts.System != "" {
		rendered, err := expr.Render(rt.evaluator, def.Prompts.System, evalCtx)
		if err != nil {
			return "", "", err
		}
		systemPrompt = asString(rendered)
	} else {
		systemPrompt = synthesizeSystemPrompt(def)
	}

	var userPrompt string
	if def.Prompts != nil && def.Prompts.User != "" {
		rendered, err := expr.Render(rt.evaluator, def.Prompts.User, evalCtx)
		if err != nil {
			return "", "", err
		}
		userPrompt = asString(rendered)
	} else {
		encoded, err := json.MarshalIndent(inputs, "", "  ")
		if err != nil {
			return "", "", &apperrors.ValidationError{Field: "inputs", Message: "inputs are not JSON-serializable: " + err.Error()}
		}
		userPrompt = string(encoded)
	}

	return systemPrompt, userPrompt, nil
}

// synthesizeSystemPrompt builds the deterministic prompt: identity line,
// description, capability list, input schema, output schema, numeric
// constraints, and a closing instruction to respond with exactly the
// declared output fields.
func synthesizeSystemPrompt(def Definition) string {
	var b strings.Builder

	if def.Role != "" {
		fmt.Fprintf(&b, "You are %s, a %s agent.\n", def.AgentName, def.Role)
	} else {
		fmt.Fprintf(&b, "You are %s.\n", def.AgentName)
	}

	if def.Description != "" {
		b.WriteString(def.Description)
		b.WriteString("\n")
	}

	if len(def.Capabilities) > 0 {
		b.WriteString("Capabilities: ")
		b.WriteString(strings.Join(def.Capabilities, ", "))
		b.WriteString("\n")
	}

	if len(def.Inputs) > 0 {
		b.WriteString("\nInputs:\n")
		for _, name := range sortedKeys(def.Inputs) {
			p := def.Inputs[name]
			fmt.Fprintf(&b, "- %s (%s)%s: %s\n", name, p.Type, requiredSuffix(p.Required), p.Description)
		}
	}

	if len(def.Outputs) > 0 {
		b.WriteString("\nRespond with a JSON object containing exactly these fields:\n")
		for _, name := range sortedKeys(def.Outputs) {
			p := def.Outputs[name]
			fmt.Fprintf(&b, "- %s (%s): %s\n", name, p.Type, p.Description)
		}
	}

	var constraints []string
	if def.Constraints.MaxTokens > 0 {
		constraints = append(constraints, "max_tokens="+strconv.Itoa(def.Constraints.MaxTokens))
	}
	if def.Constraints.TimeoutSeconds > 0 {
		constraints = append(constraints, "timeout_seconds="+strconv.Itoa(def.Constraints.TimeoutSeconds))
	}
	if len(constraints) > 0 {
		b.WriteString("\nConstraints: ")
		b.WriteString(strings.Join(constraints, ", "))
		b.WriteString("\n")
	}

	b.WriteString("\nRespond only with the structured object described above, with no surrounding prose.")
	return b.String()
}

func sortedKeys(m map[string]Parameter) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func requiredSuffix(required bool) string {
	if required {
		return ", required"
	}
	return ""
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// parseOutput implements the ordered output-binding branches: strip any
// surrounding code fence, try a structured (JSON) parse and return it
// directly if it's an object, wrap a non-object scalar/array result as
// {"result": value}, fall back to binding the raw text to the single
// declared output field, and finally fall back to binding it under
// "result". Parsing never raises on its own; a parse failure just falls
// through to the next branch.
func parseOutput(raw string, outputs map[string]Parameter) map[string]interface{} {
	text := stripCodeFence(raw)
	trimmed := strings.TrimSpace(text)

	var parsed interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		if obj, ok := parsed.(map[string]interface{}); ok {
			return obj
		}
		return map[string]interface{}{"result": parsed}
	}

	if len(outputs) == 1 {
		for name := range outputs {
			return map[string]interface{}{name: text}
		}
	}

	return map[string]interface{}{"result": text}
}

func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}

	// Drop the opening fence line (which may carry a language tag, e.g. ```json).
	lines = lines[1:]

	if last := strings.TrimSpace(lines[len(lines)-1]); last == "```" {
		lines = lines[:len(lines)-1]
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
