package chat

import (
	"context"
	"fmt"
	"time"

	"tasknest-ai-server/src/configs"
	"tasknest-ai-server/src/core/agents"
	corechat "tasknest-ai-server/src/core/chat"
	"tasknest-ai-server/src/core/taskstore"
	"tasknest-ai-server/src/core/tools"
	"tasknest-ai-server/src/core/types"
	"tasknest-ai-server/src/core/utils"
	"tasknest-ai-server/src/models"

	"gorm.io/gorm"
)

// ChatResult 一次消息处理的结果
type ChatResult struct {
	Response          string
	ConversationID    string
	Intent            string
	Success           bool
	NeedsConfirmation bool
	ErrKind           string // 非空表示处理链路失败，internal_error时由上层返回5xx
}

// ChatService 聊天编排服务
type ChatService interface {
	ProcessMessage(ctx context.Context, userID, message, conversationID, correlationID string) ChatResult
	ListConversations(ctx context.Context, userID string, page, pageSize int) ([]ConversationSummary, int64, error)
	ConversationMessages(ctx context.Context, userID, conversationID string, page, pageSize int) ([]MessageItem, int64, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
}

// DefaultChatService 默认聊天编排实现
// 流水线：分类 → 引用消解 → 工具执行 → 回复渲染 → 落库
// 每条失败路径同样落库，保证对话审计完整
type DefaultChatService struct {
	store         *corechat.Store
	classifier    *agents.Classifier
	resolver      *agents.Resolver
	formatter     *agents.Formatter
	executor      *tools.Executor
	logger        *utils.Logger
	contextWindow int
}

// NewDefaultChatService 创建聊天编排服务
func NewDefaultChatService(
	db *gorm.DB,
	cfg *configs.Config,
	classifier *agents.Classifier,
	storeClient *taskstore.Client,
	logger *utils.Logger,
) *DefaultChatService {
	contextWindow := cfg.ContextWindow
	if contextWindow <= 0 {
		contextWindow = 10
	}
	registry := tools.NewRegistry()
	return &DefaultChatService{
		store:         corechat.NewStore(db, logger),
		classifier:    classifier,
		resolver:      agents.NewResolver(storeClient, logger),
		formatter:     agents.NewFormatter(),
		executor:      tools.NewExecutor(registry, storeClient, logger),
		logger:        logger,
		contextWindow: contextWindow,
	}
}

// ProcessMessage 处理一条用户消息
func (s *DefaultChatService) ProcessMessage(ctx context.Context, userID, message, conversationID, correlationID string) ChatResult {
	conv, err := s.store.GetOrCreate(ctx, userID, conversationID)
	if err != nil {
		s.logger.Error("[%s] 加载会话失败: user=%s, err=%v", correlationID, userID, err)
		return ChatResult{
			Response:       "I encountered an error while processing your message. Please try again.",
			ConversationID: conversationID,
			Intent:         types.IntentUnknown,
			ErrKind:        types.ErrInternal,
		}
	}

	history, err := s.store.RecentMessages(ctx, conv.ID, s.contextWindow)
	if err != nil {
		s.logger.Warn("[%s] 查询会话历史失败，不带上下文继续: %v", correlationID, err)
	}

	classification := s.classifier.Classify(ctx, message, history)
	intent := classification.Intent
	entities := classification.Entities
	s.logger.Info("[%s] 意图分类完成: user=%s, intent=%s, confidence=%.2f",
		correlationID, userID, intent, classification.Confidence)

	if intent == types.IntentChitchat && classification.Confidence >= agents.ConfidenceThreshold {
		response := s.formatter.FormatChitchat()
		if err := s.persistTurn(ctx, conv, message, response, intent, nil, correlationID); err != nil {
			return s.internalFailure(conv.ID, intent)
		}
		return ChatResult{Response: response, ConversationID: conv.ID, Intent: intent, Success: true}
	}

	if classification.Confidence < agents.ConfidenceThreshold || intent == types.IntentUnknown {
		response := s.formatter.FormatHelp()
		if err := s.persistTurn(ctx, conv, message, response, types.IntentUnknown, nil, correlationID); err != nil {
			return s.internalFailure(conv.ID, types.IntentUnknown)
		}
		return ChatResult{Response: response, ConversationID: conv.ID, Intent: types.IntentUnknown}
	}

	// 批量删除已完成任务不直接执行，改为展示已完成列表让用户逐个确认
	if intent == types.IntentDeleteTask && entities.TaskID == 0 && entities.TaskReference == "" &&
		entities.FilterCompleted != nil && *entities.FilterCompleted {
		intent = types.IntentListTasks
	}

	if types.NeedsTaskResolution(intent) && entities.TaskID == 0 {
		resolution := s.resolver.Resolve(ctx, userID, entities)
		switch {
		case resolution.ConfirmationNeeded:
			response := s.formatter.FormatConfirmation(resolution.Matches)
			if err := s.persistTurn(ctx, conv, message, response, intent, nil, correlationID); err != nil {
				return s.internalFailure(conv.ID, intent)
			}
			return ChatResult{
				Response:          response,
				ConversationID:    conv.ID,
				Intent:            intent,
				NeedsConfirmation: true,
			}
		case resolution.Resolved():
			entities.TaskID = resolution.TaskIDs[0]
		case resolution.ErrKind == types.ErrAmbiguousReference:
			// 完全没有可解析引用时降级为unknown，引导用户换个说法
			response := s.formatter.FormatHelp()
			if err := s.persistTurn(ctx, conv, message, response, types.IntentUnknown, nil, correlationID); err != nil {
				return s.internalFailure(conv.ID, types.IntentUnknown)
			}
			return ChatResult{Response: response, ConversationID: conv.ID, Intent: types.IntentUnknown}
		default:
			// 破坏性操作引用解析失败时不做任何变更
			response := resolution.Message
			if response == "" {
				response = s.formatter.FormatHelp()
			}
			if err := s.persistTurn(ctx, conv, message, response, intent, nil, correlationID); err != nil {
				return s.internalFailure(conv.ID, intent)
			}
			return ChatResult{Response: response, ConversationID: conv.ID, Intent: intent}
		}
	}

	toolName, params := buildToolCall(intent, entities)

	// 序号预留到落库共用同一会话锁，并发轮次各自拿到不同的幂等键
	seq, release, err := s.store.ReserveTurn(ctx, conv.ID)
	if err != nil {
		s.logger.Error("[%s] 预留消息序号失败: %v", correlationID, err)
		return s.internalFailure(conv.ID, intent)
	}
	defer release()
	idemKey := fmt.Sprintf("%s:%d:%s", conv.ID, seq, toolName)

	outcome := s.executor.Execute(ctx, userID, toolName, params, idemKey)
	response := s.formatter.Format(intent, outcome)
	s.logger.Info("[%s] 工具执行完成: user=%s, tool=%s, status=%s, error_kind=%s",
		correlationID, userID, toolName, outcome.Status, outcome.ErrorKind)

	record := &models.ToolCallRecord{
		ToolName:       toolName,
		Parameters:     params,
		IdempotencyKey: idemKey,
		Status:         outcome.Status,
		ErrorKind:      outcome.ErrorKind,
	}
	if err := s.persistReservedTurn(ctx, conv, message, response, intent, record, seq, correlationID); err != nil {
		// 工具可能已生效但审计缺失，按内部错误上报
		return ChatResult{
			Response:       response,
			ConversationID: conv.ID,
			Intent:         intent,
			ErrKind:        types.ErrInternal,
		}
	}
	release()

	return ChatResult{
		Response:       response,
		ConversationID: conv.ID,
		Intent:         intent,
		Success:        !outcome.Failed(),
		ErrKind:        outcome.ErrorKind,
	}
}

// internalFailure 处理链路失败时的兜底结果
func (s *DefaultChatService) internalFailure(conversationID, intent string) ChatResult {
	return ChatResult{
		Response:       "I encountered an error while processing your message. Please try again.",
		ConversationID: conversationID,
		Intent:         intent,
		ErrKind:        types.ErrInternal,
	}
}

// persistTurn 落库一轮对话
// 使用与请求解耦的上下文，客户端断连后审计记录仍然写入；
// 落库失败必须向调用方报告，不能留下没有审计记录的"成功"轮次
func (s *DefaultChatService) persistTurn(ctx context.Context, conv *models.Conversation, userMessage, assistantMessage, intent string, record *models.ToolCallRecord, correlationID string) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.AppendTurn(pctx, conv, userMessage, assistantMessage, intent, record); err != nil {
		s.logger.Error("[%s] 落库对话失败: conversation=%s, err=%v", correlationID, conv.ID, err)
		return err
	}
	return nil
}

// persistReservedTurn 按预留序号落库一轮对话，调用方持有ReserveTurn返回的预留
func (s *DefaultChatService) persistReservedTurn(ctx context.Context, conv *models.Conversation, userMessage, assistantMessage, intent string, record *models.ToolCallRecord, seq int, correlationID string) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.AppendReservedTurn(pctx, conv, userMessage, assistantMessage, intent, record, seq); err != nil {
		s.logger.Error("[%s] 落库对话失败: conversation=%s, err=%v", correlationID, conv.ID, err)
		return err
	}
	return nil
}

// buildToolCall 按意图构造工具名与参数
func buildToolCall(intent string, entities types.Entities) (string, map[string]interface{}) {
	params := make(map[string]interface{})
	switch intent {
	case types.IntentCreateTask:
		if entities.Title != "" {
			params["title"] = entities.Title
		}
		if entities.Description != "" {
			params["description"] = entities.Description
		}
		if entities.Priority != "" {
			params["priority"] = entities.Priority
		}
		if entities.DueDate != "" {
			params["due_date"] = entities.DueDate
		}
		if len(entities.Tags) > 0 {
			params["tags"] = entities.Tags
		}
		return tools.ToolAddTask, params

	case types.IntentListTasks:
		status := "all"
		if entities.FilterCompleted != nil {
			if *entities.FilterCompleted {
				status = "completed"
			} else {
				status = "pending"
			}
		}
		params["status"] = status
		if entities.Priority != "" {
			params["priority"] = entities.Priority
		}
		params["limit"] = 50
		return tools.ToolListTasks, params

	case types.IntentCompleteTask:
		params["task_id"] = entities.TaskID
		if entities.Completed != nil {
			params["completed"] = *entities.Completed
		}
		return tools.ToolCompleteTask, params

	case types.IntentUpdateTask:
		params["task_id"] = entities.TaskID
		if entities.Title != "" {
			params["title"] = entities.Title
		}
		if entities.Description != "" {
			params["description"] = entities.Description
		}
		if entities.Priority != "" {
			params["priority"] = entities.Priority
		}
		if entities.DueDate != "" {
			params["due_date"] = entities.DueDate
		}
		if len(entities.Tags) > 0 {
			params["tags"] = entities.Tags
		}
		return tools.ToolUpdateTask, params

	case types.IntentDeleteTask:
		params["task_id"] = entities.TaskID
		return tools.ToolDeleteTask, params
	}
	return "", params
}

// ListConversations 分页返回用户的活跃会话
func (s *DefaultChatService) ListConversations(ctx context.Context, userID string, page, pageSize int) ([]ConversationSummary, int64, error) {
	conversations, total, err := s.store.ListActive(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		count, err := s.store.MessageCount(ctx, conv.ID)
		if err != nil {
			s.logger.Warn("统计会话消息数失败: conversation=%s, err=%v", conv.ID, err)
		}
		summaries = append(summaries, ConversationSummary{
			ID:           conv.ID,
			MessageCount: count,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		})
	}
	return summaries, total, nil
}

// ConversationMessages 分页返回会话消息，按序号正序
func (s *DefaultChatService) ConversationMessages(ctx context.Context, userID, conversationID string, page, pageSize int) ([]MessageItem, int64, error) {
	rows, total, err := s.store.Messages(ctx, userID, conversationID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]MessageItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, MessageItem{
			ID:        r.ID,
			Seq:       r.Seq,
			Role:      r.Role,
			Content:   r.Content,
			Intent:    r.Intent,
			CreatedAt: r.CreatedAt,
		})
	}
	return items, total, nil
}

// DeleteConversation 软删除会话
func (s *DefaultChatService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	return s.store.SoftDelete(ctx, userID, conversationID)
}
