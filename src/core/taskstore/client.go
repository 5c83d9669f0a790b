package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"tasknest-ai-server/src/configs"
	"tasknest-ai-server/src/core/types"
)

// Task 外部任务存储的任务结构
type Task struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Completed   bool     `json:"completed"`
	Priority    string   `json:"priority,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// AddTaskRequest 创建任务请求
type AddTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// UpdateTaskRequest 更新任务请求，nil字段不更新
type UpdateTaskRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	DueDate     *string  `json:"due_date,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ListFilter 任务列表过滤条件
type ListFilter struct {
	Status   string // all/pending/completed
	Priority string
	Tags     []string
	Limit    int
}

// StoreError 任务存储调用错误，携带错误分类
type StoreError struct {
	Kind    string // types.Err* 常量
	Message string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Transient 判断错误是否可重试（超时、5xx）
func (e *StoreError) Transient() bool {
	return e.Kind == types.ErrToolCallFailed
}

// Client 外部任务CRUD服务的HTTP客户端
// 所有调用按 userID 隔离；变更类调用透传幂等键，由存储侧去重
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient 创建任务存储客户端
func NewClient(cfg configs.TaskStoreConfig) *Client {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

type taskEnvelope struct {
	Success bool   `json:"success"`
	Task    *Task  `json:"task,omitempty"`
	Tasks   []Task `json:"tasks,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ListTasks 获取用户任务列表（只读，不带幂等键）
func (c *Client) ListTasks(ctx context.Context, userID string, filter ListFilter) ([]Task, error) {
	url := fmt.Sprintf("%s/api/%s/tasks?status=%s", c.baseURL, userID, statusOrAll(filter.Status))
	if filter.Priority != "" {
		url += "&priority=" + filter.Priority
	}
	if len(filter.Tags) > 0 {
		url += "&tags=" + neturl.QueryEscape(strings.Join(filter.Tags, ","))
	}
	if filter.Limit > 0 {
		url += fmt.Sprintf("&limit=%d", filter.Limit)
	}

	env, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}
	return env.Tasks, nil
}

// AddTask 创建任务
func (c *Client) AddTask(ctx context.Context, userID string, req AddTaskRequest, idemKey string) (*Task, error) {
	url := fmt.Sprintf("%s/api/%s/tasks", c.baseURL, userID)
	env, err := c.do(ctx, http.MethodPost, url, req, idemKey)
	if err != nil {
		return nil, err
	}
	return env.Task, nil
}

// CompleteTask 设置任务完成状态
func (c *Client) CompleteTask(ctx context.Context, userID string, taskID int, completed bool, idemKey string) (*Task, error) {
	url := fmt.Sprintf("%s/api/%s/tasks/%d/toggle", c.baseURL, userID, taskID)
	env, err := c.do(ctx, http.MethodPatch, url, map[string]bool{"completed": completed}, idemKey)
	if err != nil {
		return nil, err
	}
	return env.Task, nil
}

// UpdateTask 更新任务字段
func (c *Client) UpdateTask(ctx context.Context, userID string, taskID int, req UpdateTaskRequest, idemKey string) (*Task, error) {
	url := fmt.Sprintf("%s/api/%s/tasks/%d", c.baseURL, userID, taskID)
	env, err := c.do(ctx, http.MethodPut, url, req, idemKey)
	if err != nil {
		return nil, err
	}
	return env.Task, nil
}

// DeleteTask 软删除任务
func (c *Client) DeleteTask(ctx context.Context, userID string, taskID int, idemKey string) error {
	url := fmt.Sprintf("%s/api/%s/tasks/%d", c.baseURL, userID, taskID)
	_, err := c.do(ctx, http.MethodDelete, url, nil, idemKey)
	return err
}

func statusOrAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

func (c *Client) do(ctx context.Context, method, url string, body interface{}, idemKey string) (*taskEnvelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &StoreError{Kind: types.ErrInternal, Message: err.Error()}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &StoreError{Kind: types.ErrInternal, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// 超时与网络错误视为瞬时失败，可重试
		return nil, &StoreError{Kind: types.ErrToolCallFailed, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &StoreError{Kind: types.ErrToolCallFailed, Message: err.Error()}
	}

	if resp.StatusCode >= 500 {
		return nil, &StoreError{Kind: types.ErrToolCallFailed, Message: fmt.Sprintf("上游返回%d", resp.StatusCode)}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, &StoreError{Kind: types.ErrTaskNotFound, Message: "任务不存在"}
	case http.StatusForbidden:
		return nil, &StoreError{Kind: types.ErrPermissionDenied, Message: "无权访问该任务"}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, &StoreError{Kind: types.ErrValidationFailed, Message: upstreamError(data)}
	}

	var env taskEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &StoreError{Kind: types.ErrToolCallFailed, Message: "响应解析失败: " + err.Error()}
	}
	if !env.Success {
		return nil, &StoreError{Kind: types.ErrToolCallFailed, Message: env.Error}
	}
	return &env, nil
}

func upstreamError(data []byte) string {
	var env taskEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error != "" {
		return env.Error
	}
	return "参数校验失败"
}
