package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tasknest-ai-server/src/configs"
	"tasknest-ai-server/src/core/utils"
	"tasknest-ai-server/src/models"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"gorm.io/gorm"
)

// ObjectStore 归档对象写入接口
type ObjectStore interface {
	PutObject(key string, data []byte) error
}

// OSSStore 阿里云OSS归档存储
type OSSStore struct {
	bucket *oss.Bucket
	prefix string
}

// NewOSSStore 创建OSS归档存储
func NewOSSStore(cfg configs.OSSConfig) (*OSSStore, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("创建OSS客户端失败: %v", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("获取Bucket失败: %v", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "conversations"
	}
	return &OSSStore{bucket: bucket, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

// PutObject 上传归档对象
func (s *OSSStore) PutObject(key string, data []byte) error {
	return s.bucket.PutObject(s.prefix+"/"+key, bytes.NewReader(data))
}

// archivedConversation 归档文件结构
type archivedConversation struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
	ArchivedAt   time.Time           `json:"archived_at"`
}

// Archiver 软删除会话归档器
// 定期扫描超过保留期的软删除会话，导出JSON到对象存储后物理删除
type Archiver struct {
	db        *gorm.DB
	store     ObjectStore
	logger    *utils.Logger
	interval  time.Duration
	retention time.Duration
}

// NewArchiver 创建归档器
func NewArchiver(db *gorm.DB, store ObjectStore, cfg configs.ArchiveConfig, logger *utils.Logger) *Archiver {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Archiver{
		db:        db,
		store:     store,
		logger:    logger,
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Run 归档主循环，ctx取消后退出
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := a.ArchiveOnce(ctx); err != nil {
				a.logger.Error("归档扫描失败: %v", err)
			} else if n > 0 {
				a.logger.Info("归档完成，共处理%d个会话", n)
			}
		}
	}
}

// ArchiveOnce 执行一轮归档，返回处理的会话数
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-a.retention)

	// Unscoped取出软删除记录
	var conversations []models.Conversation
	if err := a.db.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Limit(100).
		Find(&conversations).Error; err != nil {
		return 0, fmt.Errorf("查询待归档会话失败: %w", err)
	}

	archived := 0
	for _, conv := range conversations {
		if err := a.archiveConversation(ctx, conv); err != nil {
			a.logger.Error("归档会话失败: conversation=%s, err=%v", conv.ID, err)
			continue
		}
		archived++
	}
	return archived, nil
}

// archiveConversation 导出单个会话后物理删除
// 先上传后删除，上传失败时数据保留，下一轮重试
func (a *Archiver) archiveConversation(ctx context.Context, conv models.Conversation) error {
	var messages []models.Message
	if err := a.db.WithContext(ctx).Unscoped().
		Where("conversation_id = ?", conv.ID).
		Order("seq ASC").
		Find(&messages).Error; err != nil {
		return fmt.Errorf("查询会话消息失败: %w", err)
	}

	data, err := json.Marshal(archivedConversation{
		Conversation: conv,
		Messages:     messages,
		ArchivedAt:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("序列化归档数据失败: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s.json", conv.UserID, conv.DeletedAt.Time.Format("2006-01-02"), conv.ID)
	if err := a.store.PutObject(key, data); err != nil {
		return fmt.Errorf("上传归档对象失败: %w", err)
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("conversation_id = ?", conv.ID).
			Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("物理删除消息失败: %w", err)
		}
		if err := tx.Unscoped().Where("id = ?", conv.ID).
			Delete(&models.Conversation{}).Error; err != nil {
			return fmt.Errorf("物理删除会话失败: %w", err)
		}
		return nil
	})
}
