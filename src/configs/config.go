package configs

import (
	"os"

	"gopkg.in/yaml.v3"
)

// JWTConfig 用户JWT配置
type JWTConfig struct {
	Key    string `yaml:"key" json:"key"`
	Issuer string `yaml:"issuer" json:"issuer"`
	Expiry int    `yaml:"expiry" json:"expiry"` // 过期时间(小时)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`         // Redis地址
	Password string `yaml:"password" json:"password"` // Redis密码
	DB       int    `yaml:"db" json:"db"`             // Redis数据库
	Service  string `yaml:"service" json:"service"`   // Redis服务名称
}

// DBConfig 数据库配置
type DBConfig struct {
	Dialect string `yaml:"dialect" json:"dialect"` // 数据库类型 postgres/sqlite
	DSN     string `yaml:"dsn" json:"dsn"`         // 数据库连接字符串
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Store         string `yaml:"store" json:"store"`                   // 计数器存储，可选：redis/memory
	MaxRequests   int    `yaml:"max_requests" json:"max_requests"`     // 窗口内最大请求数
	WindowSeconds int    `yaml:"window_seconds" json:"window_seconds"` // 窗口长度(秒)
}

// LLMConfig LLM配置结构
type LLMConfig struct {
	Type        string  `yaml:"type"        json:"type"`        // LLM类型
	ModelName   string  `yaml:"model_name"  json:"model_name"`  // 模型名称
	BaseURL     string  `yaml:"url"         json:"url"`         // API地址
	APIKey      string  `yaml:"api_key"     json:"api_key"`     // API密钥
	Temperature float32 `yaml:"temperature" json:"temperature"` // 温度参数
	MaxTokens   int     `yaml:"max_tokens"  json:"max_tokens"`  // 最大令牌数
	TimeoutMS   int     `yaml:"timeout_ms"  json:"timeout_ms"`  // 单次调用超时(毫秒)
}

// TaskStoreConfig 外部任务存储配置
type TaskStoreConfig struct {
	BaseURL   string `yaml:"url" json:"url"`               // 任务CRUD服务地址
	Token     string `yaml:"token" json:"token"`           // 服务间调用令牌
	TimeoutMS int    `yaml:"timeout_ms" json:"timeout_ms"` // 单次调用超时(毫秒)
}

// OSSConfig 对象存储配置（归档用）
type OSSConfig struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret" json:"access_key_secret"`
	Prefix          string `yaml:"prefix" json:"prefix"` // 对象Key前缀
}

// ArchiveConfig 软删除会话归档配置
type ArchiveConfig struct {
	Enabled         bool      `yaml:"enabled" json:"enabled"`
	IntervalSeconds int       `yaml:"interval_seconds" json:"interval_seconds"` // 扫描间隔(秒)
	RetentionDays   int       `yaml:"retention_days" json:"retention_days"`     // 软删除后保留天数
	OSS             OSSConfig `yaml:"oss" json:"oss"`
}

// Config 主配置结构
type Config struct {
	Server struct {
		IP   string `yaml:"ip" json:"ip"`
		Port int    `yaml:"port" json:"port"`
	} `yaml:"server" json:"server"`

	// 用户认证JWT配置
	JWT JWTConfig `yaml:"jwt" json:"jwt"`

	// Redis缓存配置
	RedisCache RedisConfig `yaml:"redis_cache" json:"redis_cache"`

	// 数据库配置
	DB DBConfig `yaml:"db" json:"db"`

	// 限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// 外部任务存储配置
	TaskStore TaskStoreConfig `yaml:"task_store" json:"task_store"`

	// 软删除会话归档配置
	Archive ArchiveConfig `yaml:"archive" json:"archive"`

	Log struct {
		LogLevel string `yaml:"log_level" json:"log_level"`
		LogDir   string `yaml:"log_dir" json:"log_dir"`
		LogFile  string `yaml:"log_file" json:"log_file"`
	} `yaml:"log" json:"log"`

	SelectedLLM string               `yaml:"selected_llm" json:"selected_llm"` // 意图分类使用的LLM
	LLM         map[string]LLMConfig `yaml:"LLM" json:"LLM"`

	ContextWindow int `yaml:"context_window" json:"context_window"` // 分类器可见的历史消息条数
}

var (
	Cfg *Config
)

func (cfg *Config) ToString() string {
	data, _ := yaml.Marshal(cfg)
	return string(data)
}

func (cfg *Config) FromString(data string) error {
	return yaml.Unmarshal([]byte(data), cfg)
}

func (cfg *Config) setDefaults() {
	cfg.Server.IP = "0.0.0.0"
	cfg.Server.Port = 8080

	cfg.DB.Dialect = "sqlite"
	cfg.DB.DSN = "tasknest.db"

	cfg.RateLimit.Store = "memory"
	cfg.RateLimit.MaxRequests = 100
	cfg.RateLimit.WindowSeconds = 3600

	cfg.TaskStore.TimeoutMS = 5000

	cfg.Archive.IntervalSeconds = 3600
	cfg.Archive.RetentionDays = 30

	cfg.Log.LogDir = "logs"
	cfg.Log.LogLevel = "INFO"
	cfg.Log.LogFile = "server.log"

	cfg.ContextWindow = 10
}

// 从config.yaml加载
func LoadConfig() (*Config, string, error) {
	config := &Config{}
	path := "config.yaml"

	config.setDefaults()
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, path, err
		}
	}

	Cfg = config
	return config, path, nil
}
