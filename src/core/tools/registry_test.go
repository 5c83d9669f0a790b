package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHasAllTools(t *testing.T) {
	r := NewRegistry()
	assert.ElementsMatch(t, []string{
		ToolAddTask, ToolListTasks, ToolCompleteTask, ToolUpdateTask, ToolDeleteTask,
	}, r.Names())
}

func TestRegistryMutatingFlags(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name     string
		mutating bool
	}{
		{ToolAddTask, true},
		{ToolListTasks, false},
		{ToolCompleteTask, true},
		{ToolUpdateTask, true},
		{ToolDeleteTask, true},
	}
	for _, tt := range tests {
		entry, ok := r.Get(tt.name)
		require.True(t, ok, tt.name)
		assert.Equal(t, tt.mutating, entry.Mutating, tt.name)
	}
}

func TestValidateHappyPath(t *testing.T) {
	r := NewRegistry()

	err := r.Validate(ToolAddTask, map[string]interface{}{
		"title":    "buy milk",
		"priority": "high",
		"due_date": "2026-08-20",
		"tags":     []string{"errands"},
	})
	assert.NoError(t, err)

	err = r.Validate(ToolListTasks, map[string]interface{}{
		"status": "pending",
		"limit":  float64(50), // JSON反序列化的数字是float64
	})
	assert.NoError(t, err)

	err = r.Validate(ToolCompleteTask, map[string]interface{}{
		"task_id":   5,
		"completed": false,
	})
	assert.NoError(t, err)
}

func TestValidateMissingRequired(t *testing.T) {
	r := NewRegistry()

	err := r.Validate(ToolAddTask, map[string]interface{}{"priority": "low"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")

	err = r.Validate(ToolDeleteTask, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task_id")
}

func TestValidateUnknownParam(t *testing.T) {
	r := NewRegistry()
	err := r.Validate(ToolDeleteTask, map[string]interface{}{
		"task_id": 1,
		"force":   true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "force")
}

func TestValidateEnumViolation(t *testing.T) {
	r := NewRegistry()

	err := r.Validate(ToolAddTask, map[string]interface{}{
		"title":    "buy milk",
		"priority": "urgent",
	})
	assert.Error(t, err)

	err = r.Validate(ToolListTasks, map[string]interface{}{"status": "archived"})
	assert.Error(t, err)
}

func TestValidateTypeMismatch(t *testing.T) {
	r := NewRegistry()

	err := r.Validate(ToolCompleteTask, map[string]interface{}{"task_id": "five"})
	assert.Error(t, err)

	err = r.Validate(ToolCompleteTask, map[string]interface{}{
		"task_id":   5,
		"completed": "yes",
	})
	assert.Error(t, err)

	err = r.Validate(ToolAddTask, map[string]interface{}{
		"title": "x",
		"tags":  "errands",
	})
	assert.Error(t, err)
}

func TestValidateUnregisteredTool(t *testing.T) {
	r := NewRegistry()
	err := r.Validate("drop_database", map[string]interface{}{})
	assert.Error(t, err)
}
