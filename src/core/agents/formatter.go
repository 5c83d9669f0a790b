package agents

import (
	"fmt"
	"strings"

	"tasknest-ai-server/src/core/taskstore"
	"tasknest-ai-server/src/core/tools"
	"tasknest-ai-server/src/core/types"
)

// 列表展示的条数上限与确认候选上限
const (
	listDisplayLimit  = 10
	matchDisplayLimit = 5
)

// Formatter 将工具执行结果渲染为自然语言回复
// 纯模板拼接，不走LLM，输出完全确定
type Formatter struct{}

// NewFormatter 创建格式化器
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Format 按意图渲染执行结果
func (f *Formatter) Format(intent string, outcome tools.Outcome) string {
	if outcome.Failed() {
		return f.formatError(intent, outcome)
	}

	switch intent {
	case types.IntentCreateTask:
		return f.formatCreateTask(outcome.Task)
	case types.IntentListTasks:
		return f.formatListTasks(outcome.Tasks)
	case types.IntentCompleteTask:
		return f.formatCompleteTask(outcome.Task)
	case types.IntentDeleteTask:
		return "✓ Task deleted successfully. It's been removed from your list."
	case types.IntentUpdateTask:
		return f.formatUpdateTask(outcome.Task)
	}
	return "I processed your request, but I'm not sure how to describe what happened."
}

// FormatConfirmation 渲染多匹配时的确认请求
func (f *Formatter) FormatConfirmation(matches []taskstore.Task) string {
	lines := []string{"I found multiple tasks matching your request. Which one did you mean?"}
	for i, match := range matches {
		if i >= matchDisplayLimit {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s (ID: %d)", i+1, titleOrDefault(match.Title), match.ID))
	}
	lines = append(lines, "\nPlease specify the task ID (e.g., 'mark task 5 as done').")
	return strings.Join(lines, "\n")
}

// FormatChitchat 渲染闲聊回复
func (f *Formatter) FormatChitchat() string {
	return "Hi! I'm your task assistant. Try 'add a task to [task name]' or 'show my tasks' to get started."
}

// FormatRateLimited 渲染限流回复
func (f *Formatter) FormatRateLimited(limit int) string {
	return fmt.Sprintf("You have exceeded the rate limit of %d requests per hour. Please try again later.", limit)
}

// FormatHelp 渲染低置信度时的引导回复
func (f *Formatter) FormatHelp() string {
	return "I'm not sure what you want to do. Here are some things you can try:\n" +
		"- 'add a task to [task name]' - Create a new task\n" +
		"- 'show my tasks' - View all your tasks\n" +
		"- 'mark task [number] as done' - Complete a task\n" +
		"- 'delete task [number]' - Remove a task\n" +
		"\nPlease rephrase your request."
}

func (f *Formatter) formatCreateTask(task *taskstore.Task) string {
	if task == nil {
		return "✓ Task created."
	}
	response := fmt.Sprintf("✓ Created task: '%s' (ID: %d).", titleOrDefault(task.Title), task.ID)
	if task.Priority == "high" {
		response += " Marked as high priority."
	}
	if task.DueDate != "" {
		response += fmt.Sprintf(" Due: %s.", strings.SplitN(task.DueDate, "T", 2)[0])
	}
	return response
}

func (f *Formatter) formatListTasks(tasks []taskstore.Task) string {
	if len(tasks) == 0 {
		return "You don't have any tasks yet. Try creating one by saying 'add a task to...'."
	}

	lines := []string{fmt.Sprintf("You have %d task(s):", len(tasks))}
	for i, task := range tasks {
		if i >= listDisplayLimit {
			break
		}
		icon := "○"
		if task.Completed {
			icon = "✓"
		}
		line := fmt.Sprintf("%d. [%s] %s (ID: %d)", i+1, icon, titleOrDefault(task.Title), task.ID)
		switch task.Priority {
		case "high":
			line += " 🔴"
		case "low":
			line += " 🟢"
		}
		lines = append(lines, line)
	}
	if len(tasks) > listDisplayLimit {
		lines = append(lines, fmt.Sprintf("...and %d more tasks.", len(tasks)-listDisplayLimit))
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) formatCompleteTask(task *taskstore.Task) string {
	if task == nil {
		return "✓ Task updated."
	}
	if task.Completed {
		return fmt.Sprintf("✓ Marked '%s' as complete. Great job! 🎉", titleOrDefault(task.Title))
	}
	return fmt.Sprintf("○ Unmarked '%s' as complete.", titleOrDefault(task.Title))
}

func (f *Formatter) formatUpdateTask(task *taskstore.Task) string {
	if task == nil {
		return "✓ Task updated."
	}
	return fmt.Sprintf("✓ Updated task '%s' successfully.", titleOrDefault(task.Title))
}

// formatError 按错误分类渲染用户可读的失败回复
func (f *Formatter) formatError(intent string, outcome tools.Outcome) string {
	switch outcome.ErrorKind {
	case types.ErrTaskNotFound, types.ErrPermissionDenied:
		return "I couldn't find that task. Try 'show my tasks' to see your task list."
	case types.ErrValidationFailed:
		if intent == types.IntentCreateTask {
			return "Task title is required. Try: 'add a task to [task name]'."
		}
		return fmt.Sprintf("Missing required information. %s", outcome.Message)
	}
	return fmt.Sprintf("I ran into an issue: %s. Please try again or rephrase your request.", outcome.Message)
}

func titleOrDefault(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}
