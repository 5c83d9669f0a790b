package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"tasknest-ai-server/src/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	responses []string
	errs      []error
	calls     int
	lastUser  string
}

func (p *fakeProvider) ChatJSON(_ context.Context, _ string, messages []types.Message) (string, error) {
	idx := p.calls
	p.calls++
	if len(messages) > 0 {
		p.lastUser = messages[len(messages)-1].Content
	}
	var err error
	if idx < len(p.errs) {
		err = p.errs[idx]
	}
	var resp string
	if idx < len(p.responses) {
		resp = p.responses[idx]
	}
	return resp, err
}

func fastClassifier(provider *fakeProvider) *Classifier {
	c := NewClassifier(provider, nil)
	c.retryDelay = time.Millisecond
	return c
}

func TestClassifyParsesLLMResult(t *testing.T) {
	provider := &fakeProvider{
		responses: []string{`{"intent": "create_task", "confidence": 0.95, "entities": {"title": "call mom", "priority": "high"}}`},
	}
	c := fastClassifier(provider)

	result := c.Classify(context.Background(), "remind me to call mom", nil)
	assert.Equal(t, types.IntentCreateTask, result.Intent)
	assert.Equal(t, 0.95, result.Confidence)
	assert.Equal(t, "call mom", result.Entities.Title)
	assert.Equal(t, "high", result.Entities.Priority)
	assert.Equal(t, 1, provider.calls)
}

func TestClassifyStripsMarkdownFences(t *testing.T) {
	provider := &fakeProvider{
		responses: []string{"```json\n{\"intent\": \"complete_task\", \"confidence\": 0.98, \"entities\": {\"task_id\": 5}}\n```"},
	}
	c := fastClassifier(provider)

	result := c.Classify(context.Background(), "mark task 5 as done", nil)
	assert.Equal(t, types.IntentCompleteTask, result.Intent)
	assert.Equal(t, 5, result.Entities.TaskID)
}

func TestClassifyCoercesStringTaskID(t *testing.T) {
	provider := &fakeProvider{
		responses: []string{`{"intent": "delete_task", "confidence": 0.9, "entities": {"task_id": "12"}}`},
	}
	c := fastClassifier(provider)

	result := c.Classify(context.Background(), "delete task 12", nil)
	assert.Equal(t, 12, result.Entities.TaskID)
}

// 首次失败后重试一次，成功结果正常返回
func TestClassifyRetriesOnce(t *testing.T) {
	provider := &fakeProvider{
		errs:      []error{errors.New("429 rate limited"), nil},
		responses: []string{"", `{"intent": "list_tasks", "confidence": 1.0, "entities": {}}`},
	}
	c := fastClassifier(provider)

	result := c.Classify(context.Background(), "show my tasks", nil)
	assert.Equal(t, types.IntentListTasks, result.Intent)
	assert.Equal(t, 2, provider.calls)
}

// 重试仍失败时降级到规则分类，不返回错误
func TestClassifyFallsBackToRules(t *testing.T) {
	provider := &fakeProvider{
		errs: []error{errors.New("boom"), errors.New("boom")},
	}
	c := fastClassifier(provider)

	result := c.Classify(context.Background(), "show my tasks", nil)
	assert.Equal(t, types.IntentListTasks, result.Intent)
	assert.Equal(t, 2, provider.calls)
}

func TestClassifyInvalidJSONFallsBack(t *testing.T) {
	provider := &fakeProvider{
		responses: []string{"I think the user wants to list tasks"},
	}
	c := fastClassifier(provider)

	result := c.Classify(context.Background(), "show my tasks", nil)
	assert.Equal(t, types.IntentListTasks, result.Intent)
}

func TestClassifyInvalidIntentFallsBack(t *testing.T) {
	provider := &fakeProvider{
		responses: []string{`{"intent": "make_coffee", "confidence": 0.9, "entities": {}}`},
	}
	c := fastClassifier(provider)

	result := c.Classify(context.Background(), "show my tasks", nil)
	assert.Equal(t, types.IntentListTasks, result.Intent)
}

func TestClassifyNilProviderUsesRules(t *testing.T) {
	c := NewClassifier(nil, nil)
	result := c.Classify(context.Background(), "delete task 5", nil)
	assert.Equal(t, types.IntentDeleteTask, result.Intent)
	assert.Equal(t, 5, result.Entities.TaskID)
}

// 历史只带最近10条
func TestClassifyHistoryWindow(t *testing.T) {
	provider := &fakeProvider{
		responses: []string{`{"intent": "list_tasks", "confidence": 1.0, "entities": {}}`},
	}
	c := fastClassifier(provider)

	history := make([]types.Message, 15)
	for i := range history {
		history[i] = types.Message{Role: "user", Content: "msg"}
	}
	c.Classify(context.Background(), "show my tasks", history)

	require.NotEmpty(t, provider.lastUser)
	assert.Contains(t, provider.lastUser, "RECENT CONVERSATION:")
	assert.Equal(t, 10, countOccurrences(provider.lastUser, "User: msg"))
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
			i += len(sub) - 1
		}
	}
	return count
}
