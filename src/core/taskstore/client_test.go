package taskstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tasknest-ai-server/src/configs"
	"tasknest-ai-server/src/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method  string
	path    string
	query   string
	idemKey string
	auth    string
	body    map[string]interface{}
}

func newTestClient(t *testing.T, status int, payload interface{}) (*Client, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.idemKey = r.Header.Get("Idempotency-Key")
		rec.auth = r.Header.Get("Authorization")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)

	return NewClient(configs.TaskStoreConfig{
		BaseURL:   server.URL,
		Token:     "secret-token",
		TimeoutMS: 2000,
	}), rec
}

func TestListTasksQueryParams(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, taskEnvelope{
		Success: true,
		Tasks:   []Task{{ID: 1, Title: "Alpha"}},
	})

	tasks, err := client.ListTasks(context.Background(), "user-1", ListFilter{
		Status:   "pending",
		Priority: "high",
		Tags:     []string{"errands", "home"},
		Limit:    20,
	})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/api/user-1/tasks", rec.path)
	assert.Contains(t, rec.query, "status=pending")
	assert.Contains(t, rec.query, "priority=high")
	assert.Contains(t, rec.query, "tags=errands%2Chome")
	assert.Contains(t, rec.query, "limit=20")
	assert.Empty(t, rec.idemKey)
	assert.Equal(t, "Bearer secret-token", rec.auth)
}

func TestListTasksDefaultsStatusAll(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, taskEnvelope{Success: true})

	_, err := client.ListTasks(context.Background(), "user-1", ListFilter{})
	require.NoError(t, err)
	assert.Contains(t, rec.query, "status=all")
}

func TestAddTaskSendsIdempotencyKey(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, taskEnvelope{
		Success: true,
		Task:    &Task{ID: 7, Title: "buy milk"},
	})

	task, err := client.AddTask(context.Background(), "user-1", AddTaskRequest{
		Title:    "buy milk",
		Priority: "high",
	}, "conv:1:add_task")
	require.NoError(t, err)
	assert.Equal(t, 7, task.ID)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "conv:1:add_task", rec.idemKey)
	assert.Equal(t, "buy milk", rec.body["title"])
}

func TestCompleteTaskTogglePayload(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, taskEnvelope{
		Success: true,
		Task:    &Task{ID: 3, Title: "demo", Completed: false},
	})

	task, err := client.CompleteTask(context.Background(), "user-1", 3, false, "conv:2:complete_task")
	require.NoError(t, err)
	assert.False(t, task.Completed)
	assert.Equal(t, http.MethodPatch, rec.method)
	assert.Equal(t, "/api/user-1/tasks/3/toggle", rec.path)
	assert.Equal(t, false, rec.body["completed"])
	assert.Equal(t, "conv:2:complete_task", rec.idemKey)
}

func TestDeleteTask(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, taskEnvelope{Success: true})

	err := client.DeleteTask(context.Background(), "user-1", 9, "conv:4:delete_task")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, rec.method)
	assert.Equal(t, "/api/user-1/tasks/9", rec.path)
	assert.Equal(t, "conv:4:delete_task", rec.idemKey)
}

// 上游状态码映射到错误分类
func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   string
	}{
		{http.StatusNotFound, types.ErrTaskNotFound},
		{http.StatusForbidden, types.ErrPermissionDenied},
		{http.StatusBadRequest, types.ErrValidationFailed},
		{http.StatusUnprocessableEntity, types.ErrValidationFailed},
		{http.StatusInternalServerError, types.ErrToolCallFailed},
		{http.StatusServiceUnavailable, types.ErrToolCallFailed},
	}
	for _, tt := range tests {
		client, _ := newTestClient(t, tt.status, taskEnvelope{Error: "boom"})
		err := client.DeleteTask(context.Background(), "user-1", 1, "k")
		require.Error(t, err, "status %d", tt.status)
		storeErr, ok := err.(*StoreError)
		require.True(t, ok, "status %d", tt.status)
		assert.Equal(t, tt.kind, storeErr.Kind, "status %d", tt.status)
	}
}

// 只有tool_call_failed可重试
func TestTransientOnlyForToolCallFailed(t *testing.T) {
	assert.True(t, (&StoreError{Kind: types.ErrToolCallFailed}).Transient())
	assert.False(t, (&StoreError{Kind: types.ErrTaskNotFound}).Transient())
	assert.False(t, (&StoreError{Kind: types.ErrValidationFailed}).Transient())
}

func TestEnvelopeFailureBecomesError(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, taskEnvelope{
		Success: false,
		Error:   "task store unavailable",
	})

	_, err := client.ListTasks(context.Background(), "user-1", ListFilter{})
	require.Error(t, err)
	storeErr, ok := err.(*StoreError)
	require.True(t, ok)
	assert.Equal(t, types.ErrToolCallFailed, storeErr.Kind)
}

func TestConnectionErrorIsTransient(t *testing.T) {
	client := NewClient(configs.TaskStoreConfig{
		BaseURL:   "http://127.0.0.1:1", // 必然拒绝连接
		TimeoutMS: 500,
	})
	_, err := client.ListTasks(context.Background(), "user-1", ListFilter{})
	require.Error(t, err)
	storeErr, ok := err.(*StoreError)
	require.True(t, ok)
	assert.True(t, storeErr.Transient())
}
