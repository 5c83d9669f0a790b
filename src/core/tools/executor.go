package tools

import (
	"context"
	"fmt"
	"time"

	"tasknest-ai-server/src/core/taskstore"
	"tasknest-ai-server/src/core/types"
	"tasknest-ai-server/src/core/utils"
)

// Store 任务存储接口，便于测试替换
type Store interface {
	ListTasks(ctx context.Context, userID string, filter taskstore.ListFilter) ([]taskstore.Task, error)
	AddTask(ctx context.Context, userID string, req taskstore.AddTaskRequest, idemKey string) (*taskstore.Task, error)
	CompleteTask(ctx context.Context, userID string, taskID int, completed bool, idemKey string) (*taskstore.Task, error)
	UpdateTask(ctx context.Context, userID string, taskID int, req taskstore.UpdateTaskRequest, idemKey string) (*taskstore.Task, error)
	DeleteTask(ctx context.Context, userID string, taskID int, idemKey string) error
}

// Outcome 工具执行结果
type Outcome struct {
	Status    string           // types.StatusOK / StatusRetriedOK / StatusFailed
	ErrorKind string           // 失败时的错误分类
	Message   string           // 失败时的说明
	Task      *taskstore.Task  // 单任务结果
	Tasks     []taskstore.Task // 列表结果
	Deleted   int              // 删除的任务ID
}

// Failed 判断本次执行是否失败
func (o Outcome) Failed() bool {
	return o.Status == types.StatusFailed
}

// Executor 工具执行器
// 先按注册表schema校验参数，再调用任务存储；瞬时失败复用同一幂等键重试一次
type Executor struct {
	registry   *Registry
	store      Store
	logger     *utils.Logger
	retryDelay time.Duration
}

// NewExecutor 创建执行器，重试间隔固定500ms
func NewExecutor(registry *Registry, store Store, logger *utils.Logger) *Executor {
	return &Executor{
		registry:   registry,
		store:      store,
		logger:     logger,
		retryDelay: 500 * time.Millisecond,
	}
}

// Execute 执行一次工具调用
// 变更类调用必须携带幂等键；重试时复用同一个键，由存储侧去重保证至多生效一次
func (e *Executor) Execute(ctx context.Context, userID, toolName string, params map[string]interface{}, idemKey string) Outcome {
	entry, ok := e.registry.Get(toolName)
	if !ok {
		return Outcome{Status: types.StatusFailed, ErrorKind: types.ErrValidationFailed, Message: fmt.Sprintf("未知工具: %s", toolName)}
	}
	if err := e.registry.Validate(toolName, params); err != nil {
		return Outcome{Status: types.StatusFailed, ErrorKind: types.ErrValidationFailed, Message: err.Error()}
	}
	if entry.Mutating && idemKey == "" {
		return Outcome{Status: types.StatusFailed, ErrorKind: types.ErrInternal, Message: "变更调用缺少幂等键"}
	}

	outcome, err := e.call(ctx, userID, toolName, params, idemKey)
	if err == nil {
		outcome.Status = types.StatusOK
		return outcome
	}

	storeErr, ok := err.(*taskstore.StoreError)
	if !ok {
		return Outcome{Status: types.StatusFailed, ErrorKind: types.ErrInternal, Message: err.Error()}
	}
	if !storeErr.Transient() {
		return Outcome{Status: types.StatusFailed, ErrorKind: storeErr.Kind, Message: storeErr.Message}
	}

	// 瞬时失败重试一次，只读调用无幂等键可直接重放
	if e.logger != nil {
		e.logger.Warn("工具调用瞬时失败，%v后重试: tool=%s, err=%v", e.retryDelay, toolName, err)
	}
	select {
	case <-time.After(e.retryDelay):
	case <-ctx.Done():
		return Outcome{Status: types.StatusFailed, ErrorKind: types.ErrToolCallFailed, Message: ctx.Err().Error()}
	}

	outcome, err = e.call(ctx, userID, toolName, params, idemKey)
	if err == nil {
		outcome.Status = types.StatusRetriedOK
		return outcome
	}
	if storeErr, ok := err.(*taskstore.StoreError); ok {
		return Outcome{Status: types.StatusFailed, ErrorKind: storeErr.Kind, Message: storeErr.Message}
	}
	return Outcome{Status: types.StatusFailed, ErrorKind: types.ErrInternal, Message: err.Error()}
}

func (e *Executor) call(ctx context.Context, userID, toolName string, params map[string]interface{}, idemKey string) (Outcome, error) {
	switch toolName {
	case ToolListTasks:
		filter := taskstore.ListFilter{
			Status:   asString(params, "status"),
			Priority: asString(params, "priority"),
			Tags:     asStrings(params, "tags"),
			Limit:    asInt(params, "limit"),
		}
		tasks, err := e.store.ListTasks(ctx, userID, filter)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Tasks: tasks}, nil

	case ToolAddTask:
		req := taskstore.AddTaskRequest{
			Title:       asString(params, "title"),
			Description: asString(params, "description"),
			Priority:    asString(params, "priority"),
			DueDate:     asString(params, "due_date"),
			Tags:        asStrings(params, "tags"),
		}
		task, err := e.store.AddTask(ctx, userID, req, idemKey)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Task: task}, nil

	case ToolCompleteTask:
		completed := true
		if v, ok := params["completed"].(bool); ok {
			completed = v
		}
		task, err := e.store.CompleteTask(ctx, userID, asInt(params, "task_id"), completed, idemKey)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Task: task}, nil

	case ToolUpdateTask:
		req := taskstore.UpdateTaskRequest{
			Title:       asStringPtr(params, "title"),
			Description: asStringPtr(params, "description"),
			Priority:    asStringPtr(params, "priority"),
			DueDate:     asStringPtr(params, "due_date"),
			Tags:        asStrings(params, "tags"),
		}
		task, err := e.store.UpdateTask(ctx, userID, asInt(params, "task_id"), req, idemKey)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Task: task}, nil

	case ToolDeleteTask:
		taskID := asInt(params, "task_id")
		if err := e.store.DeleteTask(ctx, userID, taskID, idemKey); err != nil {
			return Outcome{}, err
		}
		return Outcome{Deleted: taskID}, nil
	}
	return Outcome{}, fmt.Errorf("未知工具: %s", toolName)
}

func asString(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func asStringPtr(params map[string]interface{}, key string) *string {
	if s, ok := params[key].(string); ok {
		return &s
	}
	return nil
}

// asInt 兼容JSON反序列化产生的float64
func asInt(params map[string]interface{}, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func asStrings(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
