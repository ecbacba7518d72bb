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

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "STAKEPILOT_CONFIG"

// DefaultPath 是未设置环境变量时的配置文件路径。
var DefaultPath = filepath.Join("configs", "stakepilot.json")

// Config 描述了 StakePilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Storage       StorageConfig       `json:"storage"`
	Followup      FollowupConfig      `json:"followup"`
	Web3          Web3Config          `json:"web3"`
	Locking       LockingConfig       `json:"locking"`
	Logging       LoggingConfig       `json:"logging"`
	Observability ObservabilityConfig `json:"observability"`
	Runtime       RuntimeConfig       `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 描述消息流的持久化后端。
type StorageConfig struct {
	MessageStore MessageStoreConfig `json:"message_store"`
}

// MessageStoreConfig 支持 memory、file、mysql 三种驱动。
type MessageStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// FollowupConfig 描述通知智能体运行时的事件队列。
type FollowupConfig struct {
	Driver                string         `json:"driver"`
	Workers               int            `json:"workers"`
	WebhookURL            string         `json:"webhook_url"`
	WebhookTimeoutSeconds int            `json:"webhook_timeout_seconds"`
	Redis                 RedisConfig    `json:"redis"`
	RabbitMQ              RabbitMQConfig `json:"rabbitmq"`
}

// WebhookTimeout 返回回调超时时间。
func (f FollowupConfig) WebhookTimeout() time.Duration {
	return time.Duration(f.WebhookTimeoutSeconds) * time.Second
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Web3Config 包含访问区块链节点与钱包签名所需的参数。
type Web3Config struct {
	ChainConfig           string `json:"chain_config"`
	DefaultChain          string `json:"default_chain"`
	RPCURL                string `json:"rpc_url"`
	ExplorerHost          string `json:"explorer_host"`
	SFCAddress            string `json:"sfc_address"`
	ReceiptTimeoutSeconds int    `json:"receipt_timeout_seconds"`
	GasLimit              uint64 `json:"gas_limit"`
	PrivateKeyEnv         string `json:"private_key_env"`
}

// ReceiptTimeout 返回等待交易回执的上限。
func (w Web3Config) ReceiptTimeout() time.Duration {
	return time.Duration(w.ReceiptTimeoutSeconds) * time.Second
}

// LockingConfig 选择关联键锁的实现。file 在同一主机的进程间互斥，redis 跨主机，
// memory 只在单进程内互斥。
type LockingConfig struct {
	Driver string          `json:"driver"`
	Dir    string          `json:"dir"`
	Redis  RedisLockConfig `json:"redis"`
}

// RedisLockConfig 描述分布式锁使用的 Redis 参数。
type RedisLockConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	Prefix     string `json:"prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TTL 返回锁的过期时间。
func (r RedisLockConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的输出与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// ObservabilityConfig 控制指标端口与告警回调。
type ObservabilityConfig struct {
	MetricsAddress          string `json:"metrics_address"`
	AlertWebhookURL         string `json:"alert_webhook_url"`
	AlertSlackWebhookURL    string `json:"alert_slack_webhook_url"`
	AlertDingTalkWebhookURL string `json:"alert_dingtalk_webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Path 返回环境变量指定的配置路径，未设置时返回 DefaultPath。
func Path() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault 在配置文件不存在时返回默认配置。
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Default 返回以当前目录为基准的默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// Validate 检查驱动名称等枚举字段。
func (c *Config) Validate() error {
	switch c.Storage.MessageStore.Driver {
	case "memory", "file":
	case "mysql":
		if strings.TrimSpace(c.Storage.MessageStore.DSN) == "" {
			return errors.New("mysql 消息存储需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的消息存储驱动: %s", c.Storage.MessageStore.Driver)
	}
	switch c.Followup.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.Followup.Driver)
	}
	switch c.Locking.Driver {
	case "memory", "file":
	case "redis":
		if strings.TrimSpace(c.Locking.Redis.Address) == "" {
			return errors.New("redis 锁需要配置 address")
		}
	default:
		return fmt.Errorf("未知的锁驱动: %s", c.Locking.Driver)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.MessageStore.Driver == "" {
		c.Storage.MessageStore.Driver = "file"
	}

	if c.Followup.Driver == "" {
		c.Followup.Driver = "memory"
	}
	if c.Followup.Workers <= 0 {
		c.Followup.Workers = 2
	}
	if c.Followup.WebhookTimeoutSeconds <= 0 {
		c.Followup.WebhookTimeoutSeconds = 10
	}
	if c.Followup.Redis.Queue == "" {
		c.Followup.Redis.Queue = "stakepilot:followups"
	}
	if c.Followup.Redis.BlockWaitSeconds <= 0 {
		c.Followup.Redis.BlockWaitSeconds = 5
	}
	if c.Followup.RabbitMQ.Queue == "" {
		c.Followup.RabbitMQ.Queue = "stakepilot.followups"
	}

	if c.Web3.ReceiptTimeoutSeconds <= 0 {
		c.Web3.ReceiptTimeoutSeconds = 180
	}
	if c.Web3.ExplorerHost == "" {
		c.Web3.ExplorerHost = "u2uscan.xyz"
	}
	if c.Web3.PrivateKeyEnv == "" {
		c.Web3.PrivateKeyEnv = "STAKEPILOT_PRIVATE_KEY"
	}
	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Locking.Driver == "" {
		c.Locking.Driver = "file"
	}
	if c.Locking.Redis.Prefix == "" {
		c.Locking.Redis.Prefix = "stakepilot:lock:"
	}
	if c.Locking.Redis.TTLSeconds <= 0 {
		// 需覆盖一次完整的回执等待。
		c.Locking.Redis.TTLSeconds = c.Web3.ReceiptTimeoutSeconds + 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Locking.Dir == "" {
		c.Locking.Dir = filepath.Join(c.Runtime.DataDir, "locks")
	} else if !filepath.IsAbs(c.Locking.Dir) {
		c.Locking.Dir = filepath.Join(baseDir, c.Locking.Dir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}
