package agents

import (
	"context"
	"errors"
	"testing"

	"tasknest-ai-server/src/core/taskstore"
	"tasknest-ai-server/src/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	tasks   map[string][]taskstore.Task // key: status
	failure error
}

func (f *fakeLister) ListTasks(_ context.Context, _ string, filter taskstore.ListFilter) ([]taskstore.Task, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	status := filter.Status
	if status == "" {
		status = "all"
	}
	return f.tasks[status], nil
}

func testResolver(lister TaskLister) *Resolver {
	return NewResolver(lister, nil)
}

func TestResolveExplicitID(t *testing.T) {
	r := testResolver(&fakeLister{})
	res := r.Resolve(context.Background(), "user-1", types.Entities{TaskID: 5})
	assert.True(t, res.Resolved())
	assert.Equal(t, []int{5}, res.TaskIDs)
}

func TestResolveNoReference(t *testing.T) {
	r := testResolver(&fakeLister{})
	res := r.Resolve(context.Background(), "user-1", types.Entities{})
	assert.False(t, res.Resolved())
	assert.Equal(t, types.ErrAmbiguousReference, res.ErrKind)
}

func TestResolveSingleSubstringMatch(t *testing.T) {
	lister := &fakeLister{tasks: map[string][]taskstore.Task{
		"all": {
			{ID: 1, Title: "Buy groceries"},
			{ID: 2, Title: "Write report"},
		},
	}}
	r := testResolver(lister)

	res := r.Resolve(context.Background(), "user-1", types.Entities{TaskReference: "groceries"})
	require.True(t, res.Resolved())
	assert.Equal(t, []int{1}, res.TaskIDs)
}

// 最高分并列时进入确认流程，不擅自选择
func TestResolveAmbiguousTie(t *testing.T) {
	lister := &fakeLister{tasks: map[string][]taskstore.Task{
		"all": {
			{ID: 1, Title: "grocery run"},
			{ID: 2, Title: "grocery list"},
			{ID: 3, Title: "Write report"},
		},
	}}
	r := testResolver(lister)

	res := r.Resolve(context.Background(), "user-1", types.Entities{TaskReference: "grocery"})
	assert.False(t, res.Resolved())
	assert.True(t, res.ConfirmationNeeded)
	assert.ElementsMatch(t, []int{1, 2}, res.TaskIDs)
	assert.Len(t, res.Matches, 2)
}

func TestResolveTokenOverlapBeatsThreshold(t *testing.T) {
	lister := &fakeLister{tasks: map[string][]taskstore.Task{
		"all": {
			{ID: 1, Title: "call mom about dinner"},
			{ID: 2, Title: "write weekly report"},
		},
	}}
	r := testResolver(lister)

	// 非子串，但两个词都命中第一个标题
	res := r.Resolve(context.Background(), "user-1", types.Entities{TaskReference: "mom dinner"})
	require.True(t, res.Resolved())
	assert.Equal(t, []int{1}, res.TaskIDs)
}

func TestResolveNotFound(t *testing.T) {
	lister := &fakeLister{tasks: map[string][]taskstore.Task{
		"all": {{ID: 1, Title: "Buy groceries"}},
	}}
	r := testResolver(lister)

	res := r.Resolve(context.Background(), "user-1", types.Entities{TaskReference: "quarterly budget"})
	assert.False(t, res.Resolved())
	assert.Equal(t, types.ErrTaskNotFound, res.ErrKind)
	assert.Contains(t, res.Message, "quarterly budget")
}

func TestResolvePositional(t *testing.T) {
	lister := &fakeLister{tasks: map[string][]taskstore.Task{
		"pending": {
			{ID: 10, Title: "Alpha"},
			{ID: 20, Title: "Beta"},
			{ID: 30, Title: "Gamma"},
		},
	}}
	r := testResolver(lister)

	res := r.Resolve(context.Background(), "user-1", types.Entities{TaskReference: "first task"})
	require.True(t, res.Resolved())
	assert.Equal(t, []int{10}, res.TaskIDs)

	res = r.Resolve(context.Background(), "user-1", types.Entities{TaskReference: "the last one"})
	require.True(t, res.Resolved())
	assert.Equal(t, []int{30}, res.TaskIDs)

	res = r.Resolve(context.Background(), "user-1", types.Entities{TaskReference: "second task"})
	require.True(t, res.Resolved())
	assert.Equal(t, []int{20}, res.TaskIDs)
}

func TestResolveListFailure(t *testing.T) {
	lister := &fakeLister{failure: errors.New("connection refused")}
	r := testResolver(lister)

	res := r.Resolve(context.Background(), "user-1", types.Entities{TaskReference: "groceries"})
	assert.False(t, res.Resolved())
	assert.Equal(t, types.ErrToolCallFailed, res.ErrKind)
}
