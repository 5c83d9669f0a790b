package tools

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// 工具名常量
const (
	ToolAddTask      = "add_task"
	ToolListTasks    = "list_tasks"
	ToolCompleteTask = "complete_task"
	ToolUpdateTask   = "update_task"
	ToolDeleteTask   = "delete_task"
)

// Entry 注册表中的一个工具条目
type Entry struct {
	Tool     mcp.Tool
	Mutating bool // 变更类调用需要幂等键，只读调用可直接重试
}

// Registry 固定的任务工具注册表
type Registry struct {
	entries map[string]Entry
}

// NewRegistry 注册全部五个任务工具及其参数schema
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Entry)}

	r.register(mcp.NewTool(ToolAddTask,
		mcp.WithDescription("创建新任务"),
		mcp.WithString("title", mcp.Required(), mcp.Description("任务标题")),
		mcp.WithString("description", mcp.Description("任务描述")),
		mcp.WithString("priority", mcp.Enum("high", "medium", "low"), mcp.Description("优先级")),
		mcp.WithString("due_date", mcp.Description("截止日期 YYYY-MM-DD")),
		mcp.WithArray("tags", mcp.Description("标签列表"), mcp.Items(map[string]any{"type": "string"})),
	), true)

	r.register(mcp.NewTool(ToolListTasks,
		mcp.WithDescription("查询任务列表"),
		mcp.WithString("status", mcp.Enum("all", "pending", "completed"), mcp.Description("状态过滤")),
		mcp.WithString("priority", mcp.Enum("high", "medium", "low"), mcp.Description("优先级过滤")),
		mcp.WithArray("tags", mcp.Description("标签过滤"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithNumber("limit", mcp.Description("返回条数上限")),
	), false)

	r.register(mcp.NewTool(ToolCompleteTask,
		mcp.WithDescription("设置任务完成状态"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("任务ID")),
		mcp.WithBoolean("completed", mcp.Description("目标状态，默认完成")),
	), true)

	r.register(mcp.NewTool(ToolUpdateTask,
		mcp.WithDescription("更新任务字段"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("任务ID")),
		mcp.WithString("title", mcp.Description("新标题")),
		mcp.WithString("description", mcp.Description("新描述")),
		mcp.WithString("priority", mcp.Enum("high", "medium", "low"), mcp.Description("新优先级")),
		mcp.WithString("due_date", mcp.Description("新截止日期 YYYY-MM-DD")),
		mcp.WithArray("tags", mcp.Description("新标签列表"), mcp.Items(map[string]any{"type": "string"})),
	), true)

	r.register(mcp.NewTool(ToolDeleteTask,
		mcp.WithDescription("删除任务（软删除）"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("任务ID")),
	), true)

	return r
}

func (r *Registry) register(tool mcp.Tool, mutating bool) {
	r.entries[tool.Name] = Entry{Tool: tool, Mutating: mutating}
}

// Get 按名称查找工具
func (r *Registry) Get(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names 返回全部已注册工具名
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Validate 按schema校验参数：必填齐全、无未知参数、类型与枚举匹配
func (r *Registry) Validate(name string, params map[string]interface{}) error {
	entry, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("未注册的工具: %s", name)
	}
	schema := entry.Tool.InputSchema

	for _, required := range schema.Required {
		if v, ok := params[required]; !ok || v == nil {
			return fmt.Errorf("缺少必填参数: %s", required)
		}
	}

	for key, value := range params {
		propRaw, ok := schema.Properties[key]
		if !ok {
			return fmt.Errorf("未知参数: %s", key)
		}
		if value == nil {
			continue
		}
		prop, _ := propRaw.(map[string]interface{})
		if err := validateValue(key, value, prop); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(key string, value interface{}, prop map[string]interface{}) error {
	propType, _ := prop["type"].(string)
	switch propType {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("参数 %s 应为字符串", key)
		}
		if enum := enumValues(prop); len(enum) > 0 && !contains(enum, s) {
			return fmt.Errorf("参数 %s 取值非法: %s", key, s)
		}
	case "number":
		switch value.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("参数 %s 应为数字", key)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("参数 %s 应为布尔值", key)
		}
	case "array":
		switch value.(type) {
		case []string, []interface{}:
		default:
			return fmt.Errorf("参数 %s 应为数组", key)
		}
	}
	return nil
}

func enumValues(prop map[string]interface{}) []string {
	switch raw := prop["enum"].(type) {
	case []string:
		return raw
	case []interface{}:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
