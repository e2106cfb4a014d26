package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 CalPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Queue     QueueConfig     `json:"queue"`
	Session   SessionConfig   `json:"session"`
	LLM       LLMConfig       `json:"llm"`
	Google    GoogleConfig    `json:"google"`
	Assistant AssistantConfig `json:"assistant"`
	Briefing  BriefingConfig  `json:"briefing"`
	Notify    NotifyConfig    `json:"notify"`
	Auth      AuthConfig      `json:"auth"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述 MySQL 等后端的连接信息。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	AutoMigrate            bool   `json:"auto_migrate"`
}

// QueueConfig 描述通知队列的驱动选择。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 的连接参数，会话缓存与队列共用。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// SessionConfig 控制会话上下文缓存的驱动与过期策略。
type SessionConfig struct {
	Driver         string      `json:"driver"`
	TTLSeconds     int         `json:"ttl_seconds"`
	SweepSeconds   int         `json:"sweep_seconds"`
	MaxTurns       int         `json:"max_turns"`
	Redis          RedisConfig `json:"redis"`
	RedisKeyPrefix string      `json:"redis_key_prefix"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider  string          `json:"provider"`
	Gemini    GeminiConfig    `json:"gemini"`
	OpenAI    OpenAIConfig    `json:"openai"`
	CmdBridge CmdBridgeConfig `json:"cmd_bridge"`
}

// GeminiConfig 描述调用 Google Gemini 所需的信息。
type GeminiConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// OpenAIConfig 描述调用 OpenAI 兼容接口所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 OpenAI 请求的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CmdBridgeConfig 描述通过本地命令完成推理时所需的信息。
type CmdBridgeConfig struct {
	Command    string `json:"command"`
	ScriptPath string `json:"script_path"`
	WorkingDir string `json:"working_dir"`
}

// GoogleConfig 描述 Google Calendar 同步所需的 OAuth 凭据。
type GoogleConfig struct {
	Enabled         bool   `json:"enabled"`
	ClientID        string `json:"client_id"`
	ClientSecret    string `json:"client_secret"`
	ClientSecretEnv string `json:"client_secret_env"`
	RefreshToken    string `json:"refresh_token"`
	RefreshTokenEnv string `json:"refresh_token_env"`
	CalendarID      string `json:"calendar_id"`
	SyncCron        string `json:"sync_cron"`
}

// AssistantConfig 控制意图路由与抽取行为。
type AssistantConfig struct {
	MemoryDepth       int     `json:"memory_depth"`
	LLMTimeoutSeconds int     `json:"llm_timeout_seconds"`
	MinConfidence     float64 `json:"min_confidence"`
	Timezone          string  `json:"timezone"`
	KnowledgeSource   string  `json:"knowledge_source"`
	KnowledgeResults  int     `json:"knowledge_max_results"`
}

// LLMTimeout 返回意图路由调用大模型的超时时间。
func (c AssistantConfig) LLMTimeout() time.Duration {
	if c.LLMTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// BriefingConfig 控制每日简报的生成时间。
type BriefingConfig struct {
	Cron        string `json:"cron"`
	HorizonDays int    `json:"horizon_days"`
}

// NotifyConfig 控制提醒扫描与投递重试。
type NotifyConfig struct {
	Retries          int    `json:"retries"`
	ReminderLeadMin  int    `json:"reminder_lead_minutes"`
	ReminderScanCron string `json:"reminder_scan_cron"`
	ChannelManifest  string `json:"channel_manifest"`
	// AlertWebhook 非空时，投递告警会以 JSON POST 到该地址。
	AlertWebhook string `json:"alert_webhook"`
}

// AuthConfig 描述身份认证的工作模式。
type AuthConfig struct {
	Mode         string     `json:"mode"`
	JWTSecret    string     `json:"jwt_secret"`
	JWTSecretEnv string     `json:"jwt_secret_env"`
	Issuer       string     `json:"issuer"`
	AccessTTL    int64      `json:"access_ttl_seconds"`
	RefreshTTL   int64      `json:"refresh_ttl_seconds"`
	Seeds        []AuthSeed `json:"seeds"`
}

// AuthSeed 定义初始账号。
type AuthSeed struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// MetricsConfig 控制独立的指标监听端口。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnvOverrides()

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}
	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.TTLSeconds <= 0 {
		c.Session.TTLSeconds = 1800
	}
	if c.Session.SweepSeconds <= 0 {
		c.Session.SweepSeconds = 60
	}
	if c.Session.MaxTurns <= 0 {
		c.Session.MaxTurns = 20
	}
	if c.Session.RedisKeyPrefix == "" {
		c.Session.RedisKeyPrefix = "calpilot:session:"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "gemini"
	}
	if c.LLM.Gemini.Model == "" {
		c.LLM.Gemini.Model = "gemini-2.0-flash"
	}
	if c.LLM.Gemini.APIKeyEnv == "" {
		c.LLM.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Google.SyncCron == "" {
		c.Google.SyncCron = "@every 15m"
	}
	if c.Assistant.MemoryDepth <= 0 {
		c.Assistant.MemoryDepth = 8
	}
	if c.Assistant.MinConfidence <= 0 {
		c.Assistant.MinConfidence = 0.55
	}
	if c.Assistant.Timezone == "" {
		c.Assistant.Timezone = "Local"
	}
	if c.Assistant.KnowledgeResults <= 0 {
		c.Assistant.KnowledgeResults = 3
	}
	if c.Briefing.Cron == "" {
		c.Briefing.Cron = "0 7 * * *"
	}
	if c.Briefing.HorizonDays <= 0 {
		c.Briefing.HorizonDays = 1
	}
	if c.Notify.Retries <= 0 {
		c.Notify.Retries = 3
	}
	if c.Notify.ReminderLeadMin <= 0 {
		c.Notify.ReminderLeadMin = 30
	}
	if c.Notify.ReminderScanCron == "" {
		c.Notify.ReminderScanCron = "@every 5m"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9091"
	}
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// applyEnvOverrides 从环境变量读取不便落盘的密钥类配置。
func (c *Config) applyEnvOverrides() {
	if c.LLM.Gemini.APIKey == "" && c.LLM.Gemini.APIKeyEnv != "" {
		c.LLM.Gemini.APIKey = strings.TrimSpace(os.Getenv(c.LLM.Gemini.APIKeyEnv))
	}
	if c.LLM.OpenAI.APIKey == "" && c.LLM.OpenAI.APIKeyEnv != "" {
		c.LLM.OpenAI.APIKey = strings.TrimSpace(os.Getenv(c.LLM.OpenAI.APIKeyEnv))
	}
	if c.Google.ClientSecret == "" && c.Google.ClientSecretEnv != "" {
		c.Google.ClientSecret = strings.TrimSpace(os.Getenv(c.Google.ClientSecretEnv))
	}
	if c.Google.RefreshToken == "" && c.Google.RefreshTokenEnv != "" {
		c.Google.RefreshToken = strings.TrimSpace(os.Getenv(c.Google.RefreshTokenEnv))
	}
	if c.Auth.JWTSecret == "" && c.Auth.JWTSecretEnv != "" {
		c.Auth.JWTSecret = strings.TrimSpace(os.Getenv(c.Auth.JWTSecretEnv))
	}
	if dsn := strings.TrimSpace(os.Getenv("CALPILOT_MYSQL_DSN")); dsn != "" {
		c.Storage.DSN = dsn
	}
}
