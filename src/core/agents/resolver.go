package agents

import (
	"context"
	"fmt"
	"strings"

	"tasknest-ai-server/src/core/taskstore"
	"tasknest-ai-server/src/core/types"
	"tasknest-ai-server/src/core/utils"
)

// TaskLister 任务列表只读接口，解析引用时查询候选
type TaskLister interface {
	ListTasks(ctx context.Context, userID string, filter taskstore.ListFilter) ([]taskstore.Task, error)
}

// Resolution 任务引用解析结果
type Resolution struct {
	TaskIDs            []int
	ConfirmationNeeded bool             // 多个匹配，需要用户二次确认
	Matches            []taskstore.Task // 匹配到的候选任务
	ErrKind            string           // 解析失败时的错误分类
	Message            string           // 解析失败时的说明
}

// Resolved 判断是否解析到唯一任务
func (r Resolution) Resolved() bool {
	return len(r.TaskIDs) == 1 && !r.ConfirmationNeeded && r.ErrKind == ""
}

// 位置序数映射，-1表示最后一个
var ordinalMap = []struct {
	word  string
	index int
}{
	{"first", 0}, {"1st", 0},
	{"second", 1}, {"2nd", 1},
	{"third", 2}, {"3rd", 2},
	{"fourth", 3}, {"4th", 3},
	{"fifth", 4}, {"5th", 4},
	{"last", -1},
}

// Resolver 任务引用解析器
// 显式ID直接采用；文本引用对任务标题做子串匹配；序数词按未完成列表定位
type Resolver struct {
	lister TaskLister
	logger *utils.Logger
}

// NewResolver 创建解析器
func NewResolver(lister TaskLister, logger *utils.Logger) *Resolver {
	return &Resolver{lister: lister, logger: logger}
}

// Resolve 将实体中的任务引用解析为任务ID
func (r *Resolver) Resolve(ctx context.Context, userID string, entities types.Entities) Resolution {
	// 显式ID优先，不做存在性校验，由后续工具调用兜底
	if entities.TaskID > 0 {
		return Resolution{TaskIDs: []int{entities.TaskID}}
	}

	reference := strings.ToLower(strings.TrimSpace(entities.TaskReference))
	if reference == "" {
		return Resolution{
			ErrKind: types.ErrAmbiguousReference,
			Message: "No task reference found in message",
		}
	}

	// 序数引用按未完成任务的顺序定位
	if res, ok := r.resolvePositional(ctx, userID, reference); ok {
		return res
	}

	tasks, err := r.lister.ListTasks(ctx, userID, taskstore.ListFilter{Status: "all"})
	if err != nil {
		if r.logger != nil {
			r.logger.Error("解析任务引用时查询列表失败: user=%s, err=%v", userID, err)
		}
		return Resolution{ErrKind: types.ErrToolCallFailed, Message: "Failed to retrieve tasks"}
	}

	// 子串命中记满分，否则按词重叠率打分，只保留达到阈值的候选
	best := 0.0
	var matches []taskstore.Task
	for _, task := range tasks {
		score := matchScore(reference, strings.ToLower(task.Title))
		if score < resolveThreshold {
			continue
		}
		if score > best {
			best = score
			matches = matches[:0]
		}
		if score == best {
			matches = append(matches, task)
		}
	}

	switch len(matches) {
	case 0:
		return Resolution{
			ErrKind: types.ErrTaskNotFound,
			Message: fmt.Sprintf("No tasks found matching '%s'", reference),
		}
	case 1:
		return Resolution{TaskIDs: []int{matches[0].ID}, Matches: matches}
	default:
		// 最高分并列，需要用户指定
		ids := make([]int, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		return Resolution{TaskIDs: ids, ConfirmationNeeded: true, Matches: matches}
	}
}

// 候选进入确认流程的最低匹配分
const resolveThreshold = 0.5

// matchScore 计算引用文本与任务标题的匹配分
// 任一方向的子串命中记1.0，否则取引用分词在标题中的命中比例
func matchScore(reference, title string) float64 {
	if strings.Contains(title, reference) || strings.Contains(reference, title) {
		return 1.0
	}
	refTokens := strings.Fields(reference)
	if len(refTokens) == 0 {
		return 0
	}
	titleTokens := make(map[string]bool)
	for _, tok := range strings.Fields(title) {
		titleTokens[tok] = true
	}
	hit := 0
	for _, tok := range refTokens {
		if titleTokens[tok] {
			hit++
		}
	}
	return float64(hit) / float64(len(refTokens))
}

func (r *Resolver) resolvePositional(ctx context.Context, userID, reference string) (Resolution, bool) {
	for _, ord := range ordinalMap {
		if !strings.Contains(reference, ord.word) {
			continue
		}
		tasks, err := r.lister.ListTasks(ctx, userID, taskstore.ListFilter{Status: "pending"})
		if err != nil || len(tasks) == 0 {
			return Resolution{}, false
		}
		index := ord.index
		if index == -1 {
			index = len(tasks) - 1
		}
		if index >= len(tasks) {
			return Resolution{}, false
		}
		return Resolution{
			TaskIDs: []int{tasks[index].ID},
			Matches: []taskstore.Task{tasks[index]},
		}, true
	}
	return Resolution{}, false
}
