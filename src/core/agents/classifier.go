package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tasknest-ai-server/src/core/providers/llm"
	"tasknest-ai-server/src/core/types"
	"tasknest-ai-server/src/core/utils"
)

// ConfidenceThreshold 意图置信度阈值，低于该值按unknown处理
const ConfidenceThreshold = 0.7

// 历史上下文最多带入的消息条数
const maxHistoryMessages = 10

const classifyPrompt = `You are a friendly, understanding AI assistant for todo management.

PERSONALITY:
- Be conversational and helpful
- Understand typos and informal language
- Users make mistakes - interpret intent, not exact spelling

Classify user messages into one of these intents:
- create_task: User wants to create a new task
- list_tasks: User wants to view their tasks (show, list, display, view)
- update_task: User wants to modify an existing task
- delete_task: User wants to delete/remove a task (single or batch)
- complete_task: User wants to mark a task as done/complete
- chitchat: Greeting or small talk unrelated to tasks
- unknown: Intent cannot be determined

Extract relevant entities:
- title: Task title/description
- priority: high, medium, or low
- due_date: Date mentioned (YYYY-MM-DD if possible)
- task_id: Numeric task ID if mentioned in ANY format ("task 5", "id 20", "#42", "id20")
- task_reference: Text reference to a task (e.g., "the grocery one", "first task", "it", "that")
- completed: true/false for completion status
- tags: List of tags mentioned
- filter_completed: true if user wants to filter by completed status

CONTEXT AWARENESS:
If conversation history is provided and user says "it", "that", "the one", etc.,
check recent messages for task references.

Return JSON only:
{
    "intent": "intent_name",
    "confidence": 0.0-1.0,
    "entities": {}
}

Confidence scoring:
- 1.0: Extremely clear intent with explicit keywords
- 0.7-0.9: Clear intent, may need minor clarification
- 0.4-0.6: Ambiguous, needs user confirmation
- 0.0-0.3: Unclear, cannot determine intent

Examples:
"remind me to call mom" -> {"intent": "create_task", "confidence": 0.95, "entities": {"title": "call mom"}}
"show my tasks" -> {"intent": "list_tasks", "confidence": 1.0, "entities": {}}
"mark task 5 as done" -> {"intent": "complete_task", "confidence": 0.98, "entities": {"task_id": 5}}
"delete completed tasks" -> {"intent": "list_tasks", "confidence": 0.9, "entities": {"filter_completed": true}}
"delete id4" -> {"intent": "delete_task", "confidence": 0.98, "entities": {"task_id": 4}}
"delete aaa" -> {"intent": "delete_task", "confidence": 0.95, "entities": {"task_reference": "aaa"}}
"thanks, you're great!" -> {"intent": "chitchat", "confidence": 0.9, "entities": {}}
"hjkl" -> {"intent": "unknown", "confidence": 0.1, "entities": {}}`

// Classifier 意图分类器
// 优先走LLM，调用失败重试一次后降级到规则分类
type Classifier struct {
	provider   llm.Provider
	rules      *RuleClassifier
	logger     *utils.Logger
	retryDelay time.Duration
}

// NewClassifier 创建分类器，provider为nil时只使用规则分类
func NewClassifier(provider llm.Provider, logger *utils.Logger) *Classifier {
	return &Classifier{
		provider:   provider,
		rules:      NewRuleClassifier(),
		logger:     logger,
		retryDelay: 500 * time.Millisecond,
	}
}

// Classify 分类一条用户消息，history为该会话最近的消息
// 永不返回error，任何失败路径都落到规则分类
func (c *Classifier) Classify(ctx context.Context, message string, history []types.Message) types.Classification {
	if c.provider == nil {
		return c.rules.Classify(message)
	}

	userContent := buildClassifyContent(message, history)
	messages := []types.Message{{Role: "user", Content: userContent}}

	raw, err := c.provider.ChatJSON(ctx, classifyPrompt, messages)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("意图分类LLM调用失败，%v后重试: %v", c.retryDelay, err)
		}
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return c.rules.Classify(message)
		}
		raw, err = c.provider.ChatJSON(ctx, classifyPrompt, messages)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("意图分类LLM重试仍失败，降级到规则分类: %v", err)
			}
			return c.rules.Classify(message)
		}
	}

	result, parseErr := parseClassification(raw)
	if parseErr != nil {
		if c.logger != nil {
			c.logger.Warn("意图分类结果解析失败，降级到规则分类: %v", parseErr)
		}
		return c.rules.Classify(message)
	}
	return result
}

func buildClassifyContent(message string, history []types.Message) string {
	var sb strings.Builder
	if len(history) > 0 {
		if len(history) > maxHistoryMessages {
			history = history[len(history)-maxHistoryMessages:]
		}
		sb.WriteString("RECENT CONVERSATION:\n")
		for _, m := range history {
			role := "Assistant"
			if m.Role == "user" {
				role = "User"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "CURRENT USER MESSAGE: %s\n\nRespond with JSON only.", message)
	return sb.String()
}

type classificationWire struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Entities   struct {
		Title           string      `json:"title"`
		Description     string      `json:"description"`
		Priority        string      `json:"priority"`
		DueDate         string      `json:"due_date"`
		TaskID          interface{} `json:"task_id"`
		TaskReference   string      `json:"task_reference"`
		Tags            []string    `json:"tags"`
		Completed       *bool       `json:"completed"`
		FilterCompleted *bool       `json:"filter_completed"`
	} `json:"entities"`
}

// parseClassification 解析LLM输出，容忍markdown围栏
func parseClassification(raw string) (types.Classification, error) {
	text := stripFences(raw)

	var wire classificationWire
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return types.Classification{}, fmt.Errorf("JSON解析失败: %w", err)
	}
	if !types.IsValidIntent(wire.Intent) {
		return types.Classification{}, fmt.Errorf("非法intent: %s", wire.Intent)
	}

	result := types.Classification{
		Intent:     wire.Intent,
		Confidence: wire.Confidence,
		Entities: types.Entities{
			Title:           wire.Entities.Title,
			Description:     wire.Entities.Description,
			Priority:        wire.Entities.Priority,
			DueDate:         wire.Entities.DueDate,
			TaskReference:   wire.Entities.TaskReference,
			Tags:            wire.Entities.Tags,
			Completed:       wire.Entities.Completed,
			FilterCompleted: wire.Entities.FilterCompleted,
		},
	}

	// task_id可能是数字或字符串
	switch v := wire.Entities.TaskID.(type) {
	case float64:
		result.Entities.TaskID = int(v)
	case string:
		var id int
		if _, err := fmt.Sscanf(v, "%d", &id); err == nil {
			result.Entities.TaskID = id
		}
	}
	return result, nil
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	return strings.TrimSpace(text)
}
