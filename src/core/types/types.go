package types

// 意图常量（封闭集合）
const (
	IntentCreateTask   = "create_task"
	IntentListTasks    = "list_tasks"
	IntentCompleteTask = "complete_task"
	IntentUpdateTask   = "update_task"
	IntentDeleteTask   = "delete_task"
	IntentChitchat     = "chitchat"
	IntentUnknown      = "unknown"
)

// 错误分类常量
const (
	ErrRateLimited          = "rate_limited"
	ErrClassificationFailed = "classification_failed"
	ErrAmbiguousReference   = "ambiguous_reference"
	ErrTaskNotFound         = "task_not_found"
	ErrValidationFailed     = "validation_failed"
	ErrToolCallFailed       = "tool_call_failed"
	ErrPermissionDenied     = "permission_denied"
	ErrInternal             = "internal_error"
)

// 工具调用状态常量
const (
	StatusOK        = "ok"
	StatusRetriedOK = "retried_ok"
	StatusFailed    = "failed"
)

// Message LLM对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Entities 分类器抽取的参数包（边界处完成校验与类型转换）
type Entities struct {
	Title           string   `json:"title,omitempty"`
	Description     string   `json:"description,omitempty"`
	Priority        string   `json:"priority,omitempty"` // high/medium/low
	DueDate         string   `json:"due_date,omitempty"` // YYYY-MM-DD
	TaskID          int      `json:"task_id,omitempty"`
	TaskReference   string   `json:"task_reference,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	FilterCompleted *bool    `json:"filter_completed,omitempty"`
	Completed       *bool    `json:"completed,omitempty"`
}

// Classification 意图分类结果
type Classification struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Entities   Entities `json:"entities"`
}

// IsValidIntent 判断是否属于封闭意图集合
func IsValidIntent(intent string) bool {
	switch intent {
	case IntentCreateTask, IntentListTasks, IntentCompleteTask,
		IntentUpdateTask, IntentDeleteTask, IntentChitchat, IntentUnknown:
		return true
	}
	return false
}

// NeedsTaskResolution 判断意图是否需要任务引用消解
func NeedsTaskResolution(intent string) bool {
	switch intent {
	case IntentCompleteTask, IntentUpdateTask, IntentDeleteTask:
		return true
	}
	return false
}
