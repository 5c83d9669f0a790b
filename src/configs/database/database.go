package database

import (
	"fmt"
	"sync"

	"tasknest-ai-server/src/configs"
	"tasknest-ai-server/src/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	db   *gorm.DB
	once sync.Once
)

// InitDB 按配置初始化数据库连接并迁移表结构
func InitDB(cfg configs.DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Dialect {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Dialect)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	if err := conn.AutoMigrate(&models.Conversation{}, &models.Message{}); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	db = conn
	return db, nil
}

// GetDB 获取全局数据库连接
func GetDB() *gorm.DB {
	return db
}

// SetDB 设置全局数据库连接（测试用）
func SetDB(conn *gorm.DB) {
	db = conn
}
