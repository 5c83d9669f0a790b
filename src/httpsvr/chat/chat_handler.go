package chat

import (
	"fmt"
	"net/http"

	"tasknest-ai-server/src/core/agents"
	"tasknest-ai-server/src/core/auth"
	"tasknest-ai-server/src/core/middleware"
	"tasknest-ai-server/src/core/ratelimit"
	"tasknest-ai-server/src/core/types"
	"tasknest-ai-server/src/core/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ChatHandler 聊天处理器
type ChatHandler struct {
	service   ChatService
	limiter   ratelimit.Limiter
	formatter *agents.Formatter
	logger    *utils.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(service ChatService, limiter ratelimit.Limiter, logger *utils.Logger) *ChatHandler {
	return &ChatHandler{
		service:   service,
		limiter:   limiter,
		formatter: agents.NewFormatter(),
		logger:    logger,
	}
}

// RegisterRoutes 注册聊天与会话管理路由
// 路径中的 :user_id 必须与token一致，由认证中间件保证
func (h *ChatHandler) RegisterRoutes(apiGroup *gin.RouterGroup, authToken *auth.AuthToken) {
	userGroup := apiGroup.Group("/:user_id").Use(middleware.UserJWTAuth(authToken, h.logger))
	{
		userGroup.POST("/chat", h.HandleChat)
		userGroup.GET("/conversations", h.HandleListConversations)
		userGroup.GET("/conversations/:conversation_id/messages", h.HandleConversationMessages)
		userGroup.DELETE("/conversations/:conversation_id", h.HandleDeleteConversation)
	}
}

// HandleChat 处理一条聊天消息
// 限流在分类与工具调用之前短路，超限请求不消耗下游资源
func (h *ChatHandler) HandleChat(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	correlationID := middleware.GetCorrelationID(c)

	decision, err := h.limiter.Allow(c.Request.Context(), userID)
	if err != nil {
		// 限流存储故障时放行，聊天可用性优先于限流精度
		h.logger.Error("[%s] 限流判定失败，放行请求: %v", correlationID, err)
	} else {
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))
		if !decision.Permitted {
			c.Header("Retry-After", fmt.Sprintf("%d", decision.RetryAfterSeconds))
			utils.Custom(c, http.StatusTooManyRequests, gin.H{
				"success":     false,
				"error":       types.ErrRateLimited,
				"message":     h.formatter.FormatRateLimited(decision.Limit),
				"limit":       decision.Limit,
				"remaining":   decision.Remaining,
				"retry_after": decision.RetryAfterSeconds,
			})
			return
		}
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Custom(c, http.StatusBadRequest, gin.H{
			"success": false,
			"error":   types.ErrValidationFailed,
			"message": "message不能为空",
		})
		return
	}

	result := h.service.ProcessMessage(c.Request.Context(), userID, req.Message, req.ConversationID, correlationID)
	if result.ErrKind == types.ErrInternal && result.Response == "" {
		utils.Error(c, http.StatusInternalServerError, "服务内部错误")
		return
	}
	if result.ErrKind == types.ErrInternal {
		utils.Custom(c, http.StatusInternalServerError, ChatResponse{
			Success:        false,
			Response:       result.Response,
			ConversationID: result.ConversationID,
			Intent:         result.Intent,
			CorrelationID:  correlationID,
		})
		return
	}

	utils.Custom(c, http.StatusOK, ChatResponse{
		Success:           result.Success,
		Response:          result.Response,
		ConversationID:    result.ConversationID,
		Intent:            result.Intent,
		CorrelationID:     correlationID,
		NeedsConfirmation: result.NeedsConfirmation,
	})
}

// HandleListConversations 获取用户的活跃会话列表
func (h *ChatHandler) HandleListConversations(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)

	pp := utils.ParsePageParams(c, 1, 20, 100)
	summaries, total, err := h.service.ListConversations(c.Request.Context(), userID, pp.Page, pp.PageSize)
	if err != nil {
		h.logger.Error("查询会话列表失败: user=%s, err=%v", userID, err)
		utils.Error(c, http.StatusInternalServerError, "查询会话列表失败")
		return
	}

	utils.Custom(c, http.StatusOK, ConversationListResponse{
		Success:       true,
		Conversations: summaries,
		Total:         total,
		Page:          pp.Page,
		PageSize:      pp.PageSize,
	})
}

// HandleConversationMessages 获取会话消息，按序号正序分页
func (h *ChatHandler) HandleConversationMessages(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	conversationID := c.Param("conversation_id")

	pp := utils.ParsePageParams(c, 1, 50, 200)
	messages, total, err := h.service.ConversationMessages(c.Request.Context(), userID, conversationID, pp.Page, pp.PageSize)
	if err == gorm.ErrRecordNotFound {
		utils.Error(c, http.StatusNotFound, "会话不存在")
		return
	}
	if err != nil {
		h.logger.Error("查询会话消息失败: conversation=%s, err=%v", conversationID, err)
		utils.Error(c, http.StatusInternalServerError, "查询会话消息失败")
		return
	}

	utils.Custom(c, http.StatusOK, MessagesResponse{
		Success:        true,
		ConversationID: conversationID,
		Messages:       messages,
		Total:          total,
		Page:           pp.Page,
		PageSize:       pp.PageSize,
	})
}

// HandleDeleteConversation 软删除会话
func (h *ChatHandler) HandleDeleteConversation(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	conversationID := c.Param("conversation_id")

	err := h.service.DeleteConversation(c.Request.Context(), userID, conversationID)
	if err == gorm.ErrRecordNotFound {
		utils.Error(c, http.StatusNotFound, "会话不存在")
		return
	}
	if err != nil {
		h.logger.Error("删除会话失败: conversation=%s, err=%v", conversationID, err)
		utils.Error(c, http.StatusInternalServerError, "删除会话失败")
		return
	}

	h.logger.Info("用户 %s 删除会话成功: %s", userID, conversationID)
	utils.Success(c, gin.H{"message": "会话已删除"})
}
