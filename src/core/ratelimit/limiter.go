package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tasknest-ai-server/src/configs"
	"tasknest-ai-server/src/core/utils"

	"github.com/redis/go-redis/v9"
)

// Decision 限流判定结果
type Decision struct {
	Permitted         bool      `json:"permitted"`
	Limit             int       `json:"limit"`
	Remaining         int       `json:"remaining"`
	RetryAfterSeconds int64     `json:"retry_after_seconds"`
	ResetAt           time.Time `json:"reset_at"`
}

// Limiter 按用户固定窗口限流
type Limiter interface {
	Allow(ctx context.Context, userID string) (Decision, error)
}

// NewLimiter 按配置创建限流器（redis/memory）
func NewLimiter(cfg configs.RateLimitConfig, redisCfg configs.RedisConfig, logger *utils.Logger) (Limiter, error) {
	switch cfg.Store {
	case "redis":
		return NewRedisLimiter(cfg, redisCfg)
	case "memory", "":
		return NewMemoryLimiter(cfg), nil
	default:
		return nil, fmt.Errorf("不支持的限流存储类型: %s", cfg.Store)
	}
}

// RedisLimiter Redis固定窗口限流器，多实例共享计数
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter 创建Redis限流器
func NewRedisLimiter(cfg configs.RateLimitConfig, redisCfg configs.RedisConfig) (*RedisLimiter, error) {
	if redisCfg.Addr == "" {
		return nil, fmt.Errorf("Redis地址未配置")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	service := redisCfg.Service
	if service == "" {
		service = "tasknest"
	}

	return &RedisLimiter{
		client: client,
		prefix: fmt.Sprintf("%s:ratelimit", service),
		limit:  cfg.MaxRequests,
		window: time.Duration(cfg.WindowSeconds) * time.Second,
	}, nil
}

// Allow 原子计数，同一窗口内超过上限则拒绝
// INCR保证check-then-increment不存在竞态，边界上不会放过第101个请求
func (rl *RedisLimiter) Allow(ctx context.Context, userID string) (Decision, error) {
	now := time.Now()
	windowSec := int64(rl.window / time.Second)
	windowStart := now.Unix() / windowSec
	key := fmt.Sprintf("%s:%s:%d", rl.prefix, userID, windowStart)
	resetAt := time.Unix((windowStart+1)*windowSec, 0)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("限流计数失败: %w", err)
	}

	count := int(incr.Val())
	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Permitted: count <= rl.limit,
		Limit:     rl.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !d.Permitted {
		d.RetryAfterSeconds = int64(time.Until(resetAt) / time.Second)
		if d.RetryAfterSeconds < 1 {
			d.RetryAfterSeconds = 1
		}
	}
	return d, nil
}

type memoryWindow struct {
	start int64
	count int
}

// MemoryLimiter 进程内固定窗口限流器（单实例部署用）
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	limit   int
	window  time.Duration
}

// NewMemoryLimiter 创建内存限流器
func NewMemoryLimiter(cfg configs.RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*memoryWindow),
		limit:   cfg.MaxRequests,
		window:  time.Duration(cfg.WindowSeconds) * time.Second,
	}
}

// Allow 互斥锁保护计数，检查与递增在同一临界区内完成
func (ml *MemoryLimiter) Allow(_ context.Context, userID string) (Decision, error) {
	now := time.Now()
	windowSec := int64(ml.window / time.Second)
	windowStart := now.Unix() / windowSec
	resetAt := time.Unix((windowStart+1)*windowSec, 0)

	ml.mu.Lock()
	defer ml.mu.Unlock()

	w, ok := ml.windows[userID]
	if !ok || w.start != windowStart {
		w = &memoryWindow{start: windowStart}
		ml.windows[userID] = w
	}
	w.count++

	remaining := ml.limit - w.count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Permitted: w.count <= ml.limit,
		Limit:     ml.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !d.Permitted {
		d.RetryAfterSeconds = int64(time.Until(resetAt) / time.Second)
		if d.RetryAfterSeconds < 1 {
			d.RetryAfterSeconds = 1
		}
	}
	return d, nil
}
