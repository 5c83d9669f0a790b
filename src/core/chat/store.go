package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tasknest-ai-server/src/core/types"
	"tasknest-ai-server/src/core/utils"
	"tasknest-ai-server/src/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store 会话与消息的持久化存储
// 一轮对话的用户消息和助手回复在同一事务内成对落库，序号连续
type Store struct {
	db     *gorm.DB
	logger *utils.Logger

	mu    sync.Mutex
	locks map[string]*convLock // 按会话加锁，保证序号分配不竞争
}

// convLock 带引用计数的会话锁，无人持有时从map中移除
type convLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore 创建会话存储
func NewStore(db *gorm.DB, logger *utils.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		locks:  make(map[string]*convLock),
	}
}

func (s *Store) acquire(conversationID string) *convLock {
	s.mu.Lock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &convLock{}
		s.locks[conversationID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (s *Store) release(conversationID string, lock *convLock) {
	lock.mu.Unlock()

	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, conversationID)
	}
	s.mu.Unlock()
}

// GetOrCreate 加载已有会话或创建新会话
// 传入的会话ID不存在或不属于该用户时，不报错而是新建一个会话
func (s *Store) GetOrCreate(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	if conversationID != "" {
		var conv models.Conversation
		err := s.db.WithContext(ctx).
			Where("id = ? AND user_id = ?", conversationID, userID).
			First(&conv).Error
		if err == nil {
			return &conv, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("查询会话失败: %w", err)
		}
		if s.logger != nil {
			s.logger.Warn("会话不存在，新建会话: user=%s, conversation=%s", userID, conversationID)
		}
	}

	conv := models.Conversation{UserID: userID}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	return &conv, nil
}

// AppendTurn 追加一轮对话
// 同一事务内写入用户消息与助手回复两条记录，序号基于当前最大值递增
func (s *Store) AppendTurn(ctx context.Context, conv *models.Conversation, userMessage, assistantMessage, intent string, toolCall *models.ToolCallRecord) error {
	lock := s.acquire(conv.ID)
	defer s.release(conv.ID, lock)

	maxSeq, err := s.maxSeq(ctx, conv.ID)
	if err != nil {
		return err
	}
	return s.appendTurnLocked(ctx, conv, userMessage, assistantMessage, intent, toolCall, maxSeq+1)
}

// ReserveTurn 预留本轮的起始序号，并持有会话锁直到release被调用
// 序号的预留与落库在同一临界区内完成，并发轮次不会派生出相同的幂等键，
// 预留序号也不会与最终落库序号错位
func (s *Store) ReserveTurn(ctx context.Context, conversationID string) (int, func(), error) {
	lock := s.acquire(conversationID)

	maxSeq, err := s.maxSeq(ctx, conversationID)
	if err != nil {
		s.release(conversationID, lock)
		return 0, nil, err
	}

	var once sync.Once
	releaseFn := func() {
		once.Do(func() { s.release(conversationID, lock) })
	}
	return maxSeq + 1, releaseFn, nil
}

// AppendReservedTurn 按ReserveTurn预留的序号落库，调用方必须仍持有该预留
func (s *Store) AppendReservedTurn(ctx context.Context, conv *models.Conversation, userMessage, assistantMessage, intent string, toolCall *models.ToolCallRecord, seq int) error {
	return s.appendTurnLocked(ctx, conv, userMessage, assistantMessage, intent, toolCall, seq)
}

func (s *Store) maxSeq(ctx context.Context, conversationID string) (int, error) {
	var maxSeq int
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error; err != nil {
		return 0, fmt.Errorf("查询消息序号失败: %w", err)
	}
	return maxSeq, nil
}

// appendTurnLocked 写入一轮对话，调用方持有会话锁
func (s *Store) appendTurnLocked(ctx context.Context, conv *models.Conversation, userMessage, assistantMessage, intent string, toolCall *models.ToolCallRecord, baseSeq int) error {
	var toolCallsJSON datatypes.JSON
	if toolCall != nil {
		data, err := json.Marshal([]models.ToolCallRecord{*toolCall})
		if err != nil {
			return fmt.Errorf("序列化工具调用记录失败: %w", err)
		}
		toolCallsJSON = data
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userMsg := models.Message{
			ConversationID: conv.ID,
			UserID:         conv.UserID,
			Seq:            baseSeq,
			Role:           models.RoleUser,
			Content:        userMessage,
		}
		assistantMsg := models.Message{
			ConversationID: conv.ID,
			UserID:         conv.UserID,
			Seq:            baseSeq + 1,
			Role:           models.RoleAssistant,
			Content:        assistantMessage,
			Intent:         intent,
			ToolCalls:      toolCallsJSON,
		}
		if err := tx.Create(&userMsg).Error; err != nil {
			return fmt.Errorf("写入用户消息失败: %w", err)
		}
		if err := tx.Create(&assistantMsg).Error; err != nil {
			return fmt.Errorf("写入助手消息失败: %w", err)
		}

		return tx.Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			Update("updated_at", time.Now()).Error
	})
}

// RecentMessages 获取会话最近n条消息，按序号正序返回
func (s *Store) RecentMessages(ctx context.Context, conversationID string, n int) ([]types.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []models.Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq DESC").
		Limit(n).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询会话消息失败: %w", err)
	}

	// 反转为序号正序
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	messages := make([]types.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, types.Message{Role: r.Role, Content: r.Content})
	}
	return messages, nil
}

// ListActive 分页查询用户的活跃会话，按更新时间倒序
func (s *Store) ListActive(ctx context.Context, userID string, page, pageSize int) ([]models.Conversation, int64, error) {
	var total int64
	query := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计会话数失败: %w", err)
	}

	var conversations []models.Conversation
	if err := query.
		Order("updated_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&conversations).Error; err != nil {
		return nil, 0, fmt.Errorf("查询会话列表失败: %w", err)
	}
	return conversations, total, nil
}

// Messages 分页查询会话消息，按序号正序
func (s *Store) Messages(ctx context.Context, userID, conversationID string, page, pageSize int) ([]models.Message, int64, error) {
	// 先校验会话归属
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", conversationID, userID).
		First(&conv).Error
	if err == gorm.ErrRecordNotFound {
		return nil, 0, gorm.ErrRecordNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("查询会话失败: %w", err)
	}

	var total int64
	query := s.db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", conversationID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计消息数失败: %w", err)
	}

	var rows []models.Message
	if err := query.
		Order("seq ASC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("查询消息失败: %w", err)
	}
	return rows, total, nil
}

// MessageCount 统计会话消息条数
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error; err != nil {
		return 0, fmt.Errorf("统计消息数失败: %w", err)
	}
	return total, nil
}

// SoftDelete 软删除会话及其消息，归档任务后续导出后再物理清理
func (s *Store) SoftDelete(ctx context.Context, userID, conversationID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", conversationID, userID).
			Delete(&models.Conversation{})
		if result.Error != nil {
			return fmt.Errorf("删除会话失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Where("conversation_id = ?", conversationID).
			Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("删除会话消息失败: %w", err)
		}
		return nil
	})
}
