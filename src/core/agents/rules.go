package agents

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"tasknest-ai-server/src/core/types"
)

// RuleClassifier 基于规则的意图分类器
// LLM不可用或限流时的降级路径，纯本地匹配，无外部调用
type RuleClassifier struct {
	now func() time.Time // 可注入，便于测试日期解析
}

// NewRuleClassifier 创建规则分类器
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{now: time.Now}
}

var (
	taskIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bid\s*(\d+)`),
		regexp.MustCompile(`\btask\s*id\s*(\d+)`),
		regexp.MustCompile(`\btask\s+(\d+)`),
		regexp.MustCompile(`\bnumber\s+(\d+)`),
		regexp.MustCompile(`#(\d+)`),
		regexp.MustCompile(`\btask(\d+)`),
		regexp.MustCompile(`\bid(\d+)`),
		regexp.MustCompile(`(\d+)\s+task`),
	}

	createTitlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`add\s+(?:a\s+|new\s+)?task\s+(?:to\s+)?(.+)`),
		regexp.MustCompile(`create\s+(?:a\s+|new\s+)?(?:\d+\s+)?tasks?\s+(?:for\s+|to\s+)?(.+)`),
		regexp.MustCompile(`make\s+(?:a\s+|new\s+|\d+\s+)?tasks?\s+(?:for\s+|to\s+)?(.+)`),
		regexp.MustCompile(`remind\s+me\s+to\s+(.+)`),
		regexp.MustCompile(`new\s+tasks?\s+(?:for\s+)?(.+)`),
		regexp.MustCompile(`add\s+new\s+task\s*(?::\s*)?(.+)`),
		regexp.MustCompile(`(?:add|create)\s+(?:task\s+)?(.+)`),
	}

	tagPatterns = []*regexp.Regexp{
		regexp.MustCompile(`with\s+tags?\s+"([^"]+)"`),
		regexp.MustCompile(`tags?\s+"([^"]+)"`),
		regexp.MustCompile(`with\s+tags?\s+(\w+)`),
		regexp.MustCompile(`tags?\s+(\w+)`),
	}

	statusSuffixRe   = regexp.MustCompile(`\s+as\s+(completed?|done|finished?)\s*$`)
	leadingTaskRe    = regexp.MustCompile(`^\s*(the\s+)?task\s+`)
	leadingMyTaskRe  = regexp.MustCompile(`^\s*my\s+task\s+`)
	titleTagQuoted1  = regexp.MustCompile(`\bwith\s+tags?\s+"[^"]+"\s*`)
	titleTagQuoted2  = regexp.MustCompile(`\btags?\s+"[^"]+"\s*`)
	titleTagBare1    = regexp.MustCompile(`\bwith\s+tags?\s+\w+\s*`)
	titleTagBare2    = regexp.MustCompile(`\btags?\s+\w+\s*`)
	titlePriorityRe  = regexp.MustCompile(`\bas\s+(high|medium|low)\s+priority\b`)
	titleDueRe       = regexp.MustCompile(`\bdue\s+date\s+(tomorrow|today)\b`)
	titleRelativeRe  = regexp.MustCompile(`\b(tomorrow|today|next week|this week)\b`)
	titleDateRe      = regexp.MustCompile(`\bdate\s+\d{1,2}\s+\d{1,2}\s+(?:and\s+)?\d{4}\b`)
	spacesRe         = regexp.MustCompile(`\s+`)
	wordDateRe       = regexp.MustCompile(`date\s+(\d{1,2})\s+(\d{1,2})\s+(?:and\s+)?(\d{4})`)
	numericDateRe    = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{4})`)
	updateStopWordRe = regexp.MustCompile(`\b(update|task|the|a|an|my)\b`)
	attrTailRe       = regexp.MustCompile(`(?i)\b(due date|tomorrow|today|with tag|priority)\b.*`)
)

// Classify 按关键词与正则匹配分类，分支顺序决定优先级
// 先判delete再判complete，否则"delete completed tasks"会被误判为完成
func (rc *RuleClassifier) Classify(message string) types.Classification {
	msg := strings.ToLower(strings.TrimSpace(message))

	if rc.isListTasks(msg) {
		return types.Classification{
			Intent:     types.IntentListTasks,
			Confidence: 0.95,
			Entities:   rc.extractListFilters(msg),
		}
	}
	if rc.isDeleteTask(msg) {
		return types.Classification{
			Intent:     types.IntentDeleteTask,
			Confidence: 0.9,
			Entities:   rc.extractTaskReference(msg),
		}
	}
	if rc.isCompleteTask(msg) {
		return types.Classification{
			Intent:     types.IntentCompleteTask,
			Confidence: 0.9,
			Entities:   rc.extractTaskReference(msg),
		}
	}
	if rc.isCreateTask(msg) {
		return types.Classification{
			Intent:     types.IntentCreateTask,
			Confidence: 0.9,
			Entities:   rc.extractCreateEntities(msg),
		}
	}
	if rc.isUpdateTask(msg) {
		return types.Classification{
			Intent:     types.IntentUpdateTask,
			Confidence: 0.85,
			Entities:   rc.extractUpdateEntities(msg),
		}
	}

	if rc.isChitchat(msg) {
		return types.Classification{Intent: types.IntentChitchat, Confidence: 0.8}
	}

	return types.Classification{Intent: types.IntentUnknown, Confidence: 0.2}
}

func (rc *RuleClassifier) isChitchat(msg string) bool {
	switch msg {
	case "hi", "hello", "hey", "yo", "thanks", "thank you", "good morning", "good night", "how are you":
		return true
	}
	return false
}

func containsAny(msg string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func (rc *RuleClassifier) isListTasks(msg string) bool {
	return containsAny(msg, "show", "list", "view", "display") && containsAny(msg, "task", "todo")
}

func (rc *RuleClassifier) isCreateTask(msg string) bool {
	if strings.Contains(msg, "remind me") {
		return true
	}
	if strings.Contains(msg, "make") && containsAny(msg, "task", "todo") {
		return true
	}
	return containsAny(msg, "add", "create", "new", "remind") && containsAny(msg, "task", "todo", "reminder")
}

func (rc *RuleClassifier) isCompleteTask(msg string) bool {
	return containsAny(msg, "mark", "complete", "done", "finish", "completed")
}

func (rc *RuleClassifier) isDeleteTask(msg string) bool {
	return containsAny(msg, "delete", "remove", "trash", "cancel")
}

func (rc *RuleClassifier) isUpdateTask(msg string) bool {
	return containsAny(msg, "update", "change", "edit", "modify", "rename")
}

// extractTaskReference 提取任务ID或文本引用
func (rc *RuleClassifier) extractTaskReference(msg string) types.Entities {
	var entities types.Entities

	// 批量删除已完成任务，转为带过滤的列表请求
	if containsAny(msg, "delete", "remove") {
		if containsAny(msg, "completed", "done", "finished") && strings.Contains(msg, "task") {
			t := true
			entities.FilterCompleted = &t
			return entities
		}
	}

	for _, pattern := range taskIDPatterns {
		if m := pattern.FindStringSubmatch(msg); m != nil {
			if id, err := strconv.Atoi(m[1]); err == nil {
				entities.TaskID = id
				return entities
			}
		}
	}

	// 关键词后的剩余文本作为标题引用
	for _, keyword := range []string{"delete", "remove", "complete", "done", "mark", "finish"} {
		idx := strings.Index(msg, keyword)
		if idx < 0 {
			continue
		}
		ref := strings.TrimSpace(msg[idx+len(keyword):])
		ref = strings.TrimSpace(statusSuffixRe.ReplaceAllString(ref, ""))
		ref = strings.TrimSpace(leadingTaskRe.ReplaceAllString(ref, ""))
		ref = strings.TrimSpace(leadingMyTaskRe.ReplaceAllString(ref, ""))
		if len(ref) > 2 {
			entities.TaskReference = ref
			return entities
		}
	}

	return entities
}

// extractCreateEntities 提取新建任务的标题及属性
func (rc *RuleClassifier) extractCreateEntities(msg string) types.Entities {
	var entities types.Entities

	var title string
	for _, pattern := range createTitlePatterns {
		if m := pattern.FindStringSubmatch(msg); m != nil {
			candidate := strings.TrimSpace(m[1])
			if len(candidate) > 2 && !isDigits(candidate) {
				title = candidate
				break
			}
		}
	}

	if title != "" {
		title = titleTagQuoted1.ReplaceAllString(title, "")
		title = titleTagQuoted2.ReplaceAllString(title, "")
		title = titleTagBare1.ReplaceAllString(title, "")
		title = titleTagBare2.ReplaceAllString(title, "")
		title = titlePriorityRe.ReplaceAllString(title, "")
		title = titleDueRe.ReplaceAllString(title, "")
		title = titleRelativeRe.ReplaceAllString(title, "")
		title = titleDateRe.ReplaceAllString(title, "")
		title = strings.Trim(title, `"' `)
		title = strings.TrimSpace(spacesRe.ReplaceAllString(title, " "))
		entities.Title = title
	}

	entities.DueDate = rc.extractDueDate(msg)
	entities.Tags = extractTags(msg)
	entities.Priority = extractPriority(msg)
	return entities
}

// extractDueDate 解析截止日期短语，统一输出 YYYY-MM-DD
func (rc *RuleClassifier) extractDueDate(msg string) string {
	today := rc.now()

	if strings.Contains(msg, "tomorrow") {
		return today.AddDate(0, 0, 1).Format("2006-01-02")
	}
	if strings.Contains(msg, "today") {
		return today.Format("2006-01-02")
	}
	if strings.Contains(msg, "next week") {
		return today.AddDate(0, 0, 7).Format("2006-01-02")
	}
	if strings.Contains(msg, "this week") {
		// 本周五
		daysUntilFriday := (int(time.Friday) - int(today.Weekday()) + 7) % 7
		return today.AddDate(0, 0, daysUntilFriday).Format("2006-01-02")
	}

	for _, pattern := range []*regexp.Regexp{wordDateRe, numericDateRe} {
		if m := pattern.FindStringSubmatch(msg); m != nil {
			day, _ := strconv.Atoi(m[1])
			month, _ := strconv.Atoi(m[2])
			year, _ := strconv.Atoi(m[3])
			if d, ok := validDate(year, month, day); ok {
				return d.Format("2006-01-02")
			}
		}
	}
	return ""
}

func validDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
	// time.Date会自动进位，31号传入2月会变成3月，这里视为非法
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, false
	}
	return d, true
}

func extractTags(msg string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, pattern := range tagPatterns {
		for _, m := range pattern.FindAllStringSubmatch(msg, -1) {
			for _, tag := range strings.Split(m[1], ",") {
				tag = strings.TrimSpace(tag)
				if tag != "" && !seen[tag] {
					seen[tag] = true
					tags = append(tags, tag)
				}
			}
		}
	}
	return tags
}

func extractPriority(msg string) string {
	switch {
	case containsAny(msg, "high priority", "urgent", "important", "as high"):
		return "high"
	case containsAny(msg, "low priority", "as low"):
		return "low"
	case containsAny(msg, "medium priority", "as medium"):
		return "medium"
	}
	return ""
}

// extractUpdateEntities 提取更新任务的引用与变更字段
func (rc *RuleClassifier) extractUpdateEntities(msg string) types.Entities {
	var entities types.Entities

	for _, pattern := range taskIDPatterns[:3] {
		if m := pattern.FindStringSubmatch(msg); m != nil {
			if id, err := strconv.Atoi(m[1]); err == nil {
				entities.TaskID = id
				break
			}
		}
	}

	// 无ID时取"update"与"with/to/as/due"之间的文本作为引用
	if entities.TaskID == 0 {
		for _, keyword := range []string{"with", "to", "as", "due"} {
			idx := strings.Index(msg, keyword)
			if idx < 0 {
				continue
			}
			ref := strings.TrimSpace(updateStopWordRe.ReplaceAllString(msg[:idx], ""))
			ref = strings.TrimSpace(spacesRe.ReplaceAllString(ref, " "))
			if len(ref) > 2 {
				entities.TaskReference = ref
				break
			}
		}
	}

	if idx := strings.Index(msg, "with description"); idx >= 0 {
		desc := strings.TrimSpace(msg[idx+len("with description"):])
		desc = strings.Trim(desc, `"'`)
		desc = strings.TrimSpace(attrTailRe.ReplaceAllString(desc, ""))
		if desc != "" {
			entities.Description = desc
		}
	} else if strings.Contains(msg, "description") && !strings.Contains(msg, "with") {
		idx := strings.Index(msg, "description")
		desc := strings.TrimSpace(msg[idx+len("description"):])
		desc = strings.Trim(desc, `"'`)
		desc = strings.TrimSpace(attrTailRe.ReplaceAllString(desc, ""))
		if desc != "" {
			entities.Description = desc
		}
	}

	if idx := strings.Index(msg, " to "); idx >= 0 && !strings.Contains(msg, "description") && !strings.Contains(msg, "due") {
		title := strings.TrimSpace(msg[idx+len(" to "):])
		title = strings.TrimSpace(attrTailRe.ReplaceAllString(title, ""))
		if title != "" {
			entities.Title = title
		}
	}

	entities.DueDate = rc.extractDueDate(msg)
	entities.Tags = extractTags(msg)
	entities.Priority = extractPriority(msg)
	return entities
}

// extractListFilters 提取列表过滤条件
func (rc *RuleClassifier) extractListFilters(msg string) types.Entities {
	var entities types.Entities

	if containsAny(msg, "completed", "done", "finished") {
		t := true
		entities.FilterCompleted = &t
	} else if containsAny(msg, "pending", "active", "todo") {
		f := false
		entities.FilterCompleted = &f
	}

	if containsAny(msg, "urgent", "high priority") {
		entities.Priority = "high"
	}
	return entities
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
