package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"tasknest-ai-server/src/core/taskstore"
	"tasknest-ai-server/src/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore 可注入失败序列的任务存储，记录每次调用携带的幂等键
type fakeStore struct {
	failures []error
	calls    int
	idemKeys []string
	tasks    []taskstore.Task
}

func (s *fakeStore) nextErr() error {
	idx := s.calls
	s.calls++
	if idx < len(s.failures) {
		return s.failures[idx]
	}
	return nil
}

func (s *fakeStore) ListTasks(_ context.Context, _ string, _ taskstore.ListFilter) ([]taskstore.Task, error) {
	s.idemKeys = append(s.idemKeys, "")
	if err := s.nextErr(); err != nil {
		return nil, err
	}
	return s.tasks, nil
}

func (s *fakeStore) AddTask(_ context.Context, _ string, req taskstore.AddTaskRequest, idemKey string) (*taskstore.Task, error) {
	s.idemKeys = append(s.idemKeys, idemKey)
	if err := s.nextErr(); err != nil {
		return nil, err
	}
	return &taskstore.Task{ID: 1, Title: req.Title, Priority: req.Priority}, nil
}

func (s *fakeStore) CompleteTask(_ context.Context, _ string, taskID int, completed bool, idemKey string) (*taskstore.Task, error) {
	s.idemKeys = append(s.idemKeys, idemKey)
	if err := s.nextErr(); err != nil {
		return nil, err
	}
	return &taskstore.Task{ID: taskID, Title: "demo", Completed: completed}, nil
}

func (s *fakeStore) UpdateTask(_ context.Context, _ string, taskID int, _ taskstore.UpdateTaskRequest, idemKey string) (*taskstore.Task, error) {
	s.idemKeys = append(s.idemKeys, idemKey)
	if err := s.nextErr(); err != nil {
		return nil, err
	}
	return &taskstore.Task{ID: taskID, Title: "demo"}, nil
}

func (s *fakeStore) DeleteTask(_ context.Context, _ string, _ int, idemKey string) error {
	s.idemKeys = append(s.idemKeys, idemKey)
	return s.nextErr()
}

func fastExecutor(store Store) *Executor {
	e := NewExecutor(NewRegistry(), store, nil)
	e.retryDelay = time.Millisecond
	return e
}

func transientErr() *taskstore.StoreError {
	return &taskstore.StoreError{Kind: types.ErrToolCallFailed, Message: "上游返回503"}
}

func TestExecuteSuccess(t *testing.T) {
	store := &fakeStore{}
	e := fastExecutor(store)

	out := e.Execute(context.Background(), "user-1", ToolAddTask,
		map[string]interface{}{"title": "buy milk"}, "conv:1:add_task")
	assert.Equal(t, types.StatusOK, out.Status)
	assert.False(t, out.Failed())
	require.NotNil(t, out.Task)
	assert.Equal(t, "buy milk", out.Task.Title)
	assert.Equal(t, []string{"conv:1:add_task"}, store.idemKeys)
}

// 瞬时失败重试一次且复用同一幂等键
func TestExecuteRetriesTransientWithSameKey(t *testing.T) {
	store := &fakeStore{failures: []error{transientErr()}}
	e := fastExecutor(store)

	out := e.Execute(context.Background(), "user-1", ToolCompleteTask,
		map[string]interface{}{"task_id": 5}, "conv:3:complete_task")
	assert.Equal(t, types.StatusRetriedOK, out.Status)
	require.NotNil(t, out.Task)
	assert.True(t, out.Task.Completed)
	assert.Equal(t, []string{"conv:3:complete_task", "conv:3:complete_task"}, store.idemKeys)
}

// 重试后仍失败则只重试这一次
func TestExecuteRetryExhausted(t *testing.T) {
	store := &fakeStore{failures: []error{transientErr(), transientErr()}}
	e := fastExecutor(store)

	out := e.Execute(context.Background(), "user-1", ToolDeleteTask,
		map[string]interface{}{"task_id": 5}, "conv:4:delete_task")
	assert.Equal(t, types.StatusFailed, out.Status)
	assert.Equal(t, types.ErrToolCallFailed, out.ErrorKind)
	assert.Equal(t, 2, store.calls)
}

// 非瞬时失败不重试
func TestExecuteNonTransientNoRetry(t *testing.T) {
	store := &fakeStore{failures: []error{
		&taskstore.StoreError{Kind: types.ErrTaskNotFound, Message: "任务不存在"},
	}}
	e := fastExecutor(store)

	out := e.Execute(context.Background(), "user-1", ToolDeleteTask,
		map[string]interface{}{"task_id": 999}, "conv:5:delete_task")
	assert.Equal(t, types.StatusFailed, out.Status)
	assert.Equal(t, types.ErrTaskNotFound, out.ErrorKind)
	assert.Equal(t, 1, store.calls)
}

func TestExecuteMutatingRequiresIdemKey(t *testing.T) {
	store := &fakeStore{}
	e := fastExecutor(store)

	out := e.Execute(context.Background(), "user-1", ToolAddTask,
		map[string]interface{}{"title": "buy milk"}, "")
	assert.Equal(t, types.StatusFailed, out.Status)
	assert.Equal(t, types.ErrInternal, out.ErrorKind)
	assert.Zero(t, store.calls)
}

// 只读调用无幂等键也可重试
func TestExecuteListRetriesWithoutKey(t *testing.T) {
	store := &fakeStore{
		failures: []error{transientErr()},
		tasks:    []taskstore.Task{{ID: 1, Title: "Alpha"}},
	}
	e := fastExecutor(store)

	out := e.Execute(context.Background(), "user-1", ToolListTasks,
		map[string]interface{}{"status": "all"}, "")
	assert.Equal(t, types.StatusRetriedOK, out.Status)
	assert.Len(t, out.Tasks, 1)
}

func TestExecuteValidationFailure(t *testing.T) {
	store := &fakeStore{}
	e := fastExecutor(store)

	out := e.Execute(context.Background(), "user-1", ToolAddTask,
		map[string]interface{}{"priority": "high"}, "conv:1:add_task")
	assert.Equal(t, types.StatusFailed, out.Status)
	assert.Equal(t, types.ErrValidationFailed, out.ErrorKind)
	assert.Zero(t, store.calls)
}

func TestExecuteUnknownTool(t *testing.T) {
	e := fastExecutor(&fakeStore{})
	out := e.Execute(context.Background(), "user-1", "drop_database", nil, "k")
	assert.Equal(t, types.StatusFailed, out.Status)
	assert.Equal(t, types.ErrValidationFailed, out.ErrorKind)
}

// 非StoreError的意外错误归为internal_error
func TestExecuteUnexpectedError(t *testing.T) {
	store := &fakeStore{failures: []error{errors.New("panic adjacent")}}
	e := fastExecutor(store)

	out := e.Execute(context.Background(), "user-1", ToolDeleteTask,
		map[string]interface{}{"task_id": 1}, "conv:9:delete_task")
	assert.Equal(t, types.StatusFailed, out.Status)
	assert.Equal(t, types.ErrInternal, out.ErrorKind)
	assert.Equal(t, 1, store.calls)
}
