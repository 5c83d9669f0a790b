package chat

import "time"

// ChatRequest 聊天请求
type ChatRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id"`
}

// ChatResponse 聊天响应
type ChatResponse struct {
	Success           bool   `json:"success"`
	Response          string `json:"response"`
	ConversationID    string `json:"conversation_id"`
	Intent            string `json:"intent"`
	CorrelationID     string `json:"correlation_id"`
	NeedsConfirmation bool   `json:"needs_confirmation,omitempty"`
}

// ConversationSummary 会话摘要
type ConversationSummary struct {
	ID           string    `json:"id"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConversationListResponse 会话列表响应
type ConversationListResponse struct {
	Success       bool                  `json:"success"`
	Conversations []ConversationSummary `json:"conversations"`
	Total         int64                 `json:"total"`
	Page          int                   `json:"page"`
	PageSize      int                   `json:"page_size"`
}

// MessageItem 会话消息条目
type MessageItem struct {
	ID        uint      `json:"id"`
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Intent    string    `json:"intent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MessagesResponse 会话消息列表响应
type MessagesResponse struct {
	Success        bool          `json:"success"`
	ConversationID string        `json:"conversation_id"`
	Messages       []MessageItem `json:"messages"`
	Total          int64         `json:"total"`
	Page           int           `json:"page"`
	PageSize       int           `json:"page_size"`
}
