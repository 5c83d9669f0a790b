package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 消息角色常量
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation 用户与助手之间的一个会话线程
type Conversation struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string         `gorm:"type:varchar(64);not null;index:idx_conversations_user_updated,priority:1" json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `gorm:"index:idx_conversations_user_updated,priority:2" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"` // 软删除字段，归档前保留可查
}

func (Conversation) TableName() string { return "conversations" }

// BeforeCreate 服务端生成会话ID
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Message 会话中的单条消息（按 Seq 追加，只增不改）
type Message struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ConversationID string         `gorm:"type:varchar(36);not null;uniqueIndex:uniq_messages_conv_seq,priority:1;index" json:"conversation_id"`
	UserID         string         `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Seq            int            `gorm:"not null;uniqueIndex:uniq_messages_conv_seq,priority:2" json:"seq"` // 会话内单调递增序号
	Role           string         `gorm:"size:32;not null" json:"role"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	Intent         string         `gorm:"size:32" json:"intent,omitempty"`         // 分类出的意图标签，user消息为空
	ToolCalls      datatypes.JSON `gorm:"type:json" json:"tool_calls,omitempty"`   // 工具调用审计记录，写入后不再修改
	CreatedAt      time.Time      `json:"created_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Message) TableName() string { return "messages" }

// ToolCallRecord 单次工具调用的审计记录（内嵌于 Message.ToolCalls）
type ToolCallRecord struct {
	ToolName       string                 `json:"tool_name"`
	Parameters     map[string]interface{} `json:"parameters"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"` // 只读工具不携带
	Status         string                 `json:"status"`                    // ok/retried_ok/failed
	ErrorKind      string                 `json:"error_kind,omitempty"`
}
