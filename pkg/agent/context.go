package agent

import "strings"

// ContextManager bounds prompt size against an agent's token budget. The
// estimate is a simple 4-characters-per-token heuristic, not a real
// tokenizer — good enough to decide when to truncate without pulling in a
// model-specific dependency.
type ContextManager struct {
	maxTokens      int
	pruneThreshold int
}

// NewContextManager creates a manager for a token budget of maxTokens.
func NewContextManager(maxTokens int) *ContextManager {
	return &ContextManager{
		maxTokens:      maxTokens,
		pruneThreshold: int(float64(maxTokens) * 0.8),
	}
}

// ShouldPrune reports whether messages exceeds the prune threshold.
func (cm *ContextManager) ShouldPrune(messages []Message) bool {
	return cm.EstimateTokens(messages) > cm.pruneThreshold
}

// Prune keeps the first (system) message and as many of the most recent
// remaining messages as fit the token budget, dropping older turns.
func (cm *ContextManager) Prune(messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}

	pruned := []Message{messages[0]}
	remaining := cm.maxTokens - cm.EstimateTokens(pruned)

	for i := len(messages) - 1; i > 0; i-- {
		tokens := cm.estimateMessageTokens(&messages[i])
		if remaining-tokens < 0 {
			break
		}
		remaining -= tokens
		rest := append([]Message{messages[i]}, pruned[1:]...)
		pruned = append([]Message{messages[0]}, rest...)
	}

	return pruned
}

// EstimateTokens sums the per-message estimate across messages.
func (cm *ContextManager) EstimateTokens(messages []Message) int {
	total := 0
	for i := range messages {
		total += cm.estimateMessageTokens(&messages[i])
	}
	return total
}

func (cm *ContextManager) estimateMessageTokens(msg *Message) int {
	tokens := len(msg.Content)/4 + 10

	for _, call := range msg.ToolCalls {
		tokens += len(call.Name)/4 + 20
		switch args := call.Arguments.(type) {
		case string:
			tokens += len(args) / 4
		case map[string]interface{}:
			tokens += cm.estimateMapTokens(args)
		}
	}

	return tokens
}

func (cm *ContextManager) estimateMapTokens(m map[string]interface{}) int {
	tokens := 0
	for key, value := range m {
		tokens += len(key)/4 + cm.estimateValueTokens(value)
	}
	return tokens
}

func (cm *ContextManager) estimateValueTokens(value interface{}) int {
	switch v := value.(type) {
	case string:
		return len(v) / 4
	case int, int64, float64, bool:
		return 1
	case map[string]interface{}:
		return cm.estimateMapTokens(v)
	case []interface{}:
		tokens := 0
		for _, item := range v {
			tokens += cm.estimateValueTokens(item)
		}
		return tokens
	default:
		return 10
	}
}

// TruncateContent bounds content to roughly maxTokens, breaking on a word
// boundary and appending an ellipsis when it had to cut. Used to keep a
// synthesized system prompt within an agent's constraints.max_tokens budget.
func (cm *ContextManager) TruncateContent(content string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(content) <= maxChars || maxChars <= 3 {
		return content
	}

	truncated := content[:maxChars-3]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}

// ContextStats summarizes current context usage, useful for logging.
type ContextStats struct {
	MessageCount    int
	EstimatedTokens int
	MaxTokens       int
	UtilizationPct  float64
}

// GetStats computes usage statistics for messages.
func (cm *ContextManager) GetStats(messages []Message) ContextStats {
	estimated := cm.EstimateTokens(messages)
	return ContextStats{
		MessageCount:    len(messages),
		EstimatedTokens: estimated,
		MaxTokens:       cm.maxTokens,
		UtilizationPct:  float64(estimated) / float64(cm.maxTokens) * 100,
	}
}

// Message is a minimal conversation turn used only by ContextManager's
// token accounting; the agent runtime's actual LLM exchange uses
// llm.Message instead.
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
}

// ToolCall is referenced only for token-estimation purposes here.
type ToolCall struct {
	ID        string
	Name      string
	Arguments interface{}
}
