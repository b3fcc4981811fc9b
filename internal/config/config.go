package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"Prophet-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// EnvPrefix 是所有环境变量覆盖项的前缀。
const EnvPrefix = "PROPHET_"

// Config 描述了 prophetd 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Web3     Web3Config     `json:"web3"`
	Guard    GuardConfig    `json:"guard"`
	Oracles  OraclesConfig  `json:"oracles"`
	Alerting AlertingConfig `json:"alerting"`
	Metrics  MetricsConfig  `json:"metrics"`
	Log      logger.Config  `json:"log"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address"`
	ReadTimeoutSeconds     int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `json:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

// AuthConfig 描述 API Key 鉴权。
type AuthConfig struct {
	Enabled bool           `json:"enabled"`
	APIKeys []APIKeyConfig `json:"api_keys"`
}

// APIKeyConfig 定义单个 API Key，Key 为空时从 KeyEnv 指定的环境变量读取。
type APIKeyConfig struct {
	ID          string   `json:"id"`
	Key         string   `json:"key"`
	KeyEnv      string   `json:"key_env"`
	Permissions []string `json:"permissions"`
}

// StorageConfig 统一描述持久化后端的连接信息。
type StorageConfig struct {
	Ledger LedgerConfig `json:"ledger"`
}

// LedgerConfig 控制已提交交易账本的存储方式。
type LedgerConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	MaxAttempts            int    `json:"max_attempts"`
}

// QueueConfig 控制超时交易对账队列。
type QueueConfig struct {
	Driver            string         `json:"driver"`
	Buffer            int            `json:"buffer"`
	Workers           int            `json:"workers"`
	RetryDelaySeconds int            `json:"retry_delay_seconds"`
	Redis             RedisConfig    `json:"redis"`
	RabbitMQ          RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Web3Config 包含访问区块链节点与合约所需的信息。
type Web3Config struct {
	ChainConfig      string `json:"chain_config"`
	DefaultChain     string `json:"default_chain"`
	RPCURL           string `json:"rpc_url"`
	ChainID          int64  `json:"chain_id"`
	TokenAddress     string `json:"token_address"`
	TokenDecimals    uint8  `json:"token_decimals"`
	ProphetAddress   string `json:"prophet_address"`
	PrivateKeyEnv    string `json:"private_key_env"`
	PollIntervalMS   int    `json:"poll_interval_ms"`
	GasBufferPercent int    `json:"gas_buffer_percent"`
}

// PrivateKey 读取签名私钥，私钥只允许来自环境变量。
func (w Web3Config) PrivateKey() string {
	if w.PrivateKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(w.PrivateKeyEnv))
}

// PollInterval 返回回执轮询间隔。
func (w Web3Config) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// GuardConfig 对应编排器的策略参数，零值使用内置默认值。
type GuardConfig struct {
	SettleDelayMS              int   `json:"settle_delay_ms"`
	AllowanceRetries           int   `json:"allowance_retries"`
	ApprovalTimeoutSeconds     int   `json:"approval_timeout_seconds"`
	ConfirmTimeoutSeconds      int   `json:"confirm_timeout_seconds"`
	SkipApprovalWhenSufficient *bool `json:"skip_approval_when_sufficient"`
}

// SettleDelay 返回授权确认后的等待时长。
func (g GuardConfig) SettleDelay() time.Duration {
	return time.Duration(g.SettleDelayMS) * time.Millisecond
}

// ApprovalTimeout 返回授权交易确认超时。
func (g GuardConfig) ApprovalTimeout() time.Duration {
	return time.Duration(g.ApprovalTimeoutSeconds) * time.Second
}

// ConfirmTimeout 返回业务交易确认超时。
func (g GuardConfig) ConfirmTimeout() time.Duration {
	return time.Duration(g.ConfirmTimeoutSeconds) * time.Second
}

// OraclesConfig 指定预言机目录文件，为空时使用内置目录。
type OraclesConfig struct {
	Source string `json:"source"`
}

// AlertingConfig 描述告警通道。
type AlertingConfig struct {
	Enabled        bool     `json:"enabled"`
	Webhooks       []string `json:"webhooks"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// MetricsConfig 控制指标端点。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	Path    string `json:"path"`
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

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 使用 PROPHET_ 前缀的环境变量覆盖文件中的配置。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str("SERVER_ADDRESS", &c.Server.Address)
	str("LEDGER_DRIVER", &c.Storage.Ledger.Driver)
	str("LEDGER_DSN", &c.Storage.Ledger.DSN)
	str("QUEUE_DRIVER", &c.Queue.Driver)
	num("QUEUE_WORKERS", &c.Queue.Workers)
	str("REDIS_ADDRESS", &c.Queue.Redis.Address)
	str("REDIS_PASSWORD", &c.Queue.Redis.Password)
	str("RABBITMQ_URL", &c.Queue.RabbitMQ.URL)
	str("CHAIN_CONFIG", &c.Web3.ChainConfig)
	str("DEFAULT_CHAIN", &c.Web3.DefaultChain)
	str("RPC_URL", &c.Web3.RPCURL)
	str("TOKEN_ADDRESS", &c.Web3.TokenAddress)
	str("PROPHET_ADDRESS", &c.Web3.ProphetAddress)
	num("SETTLE_DELAY_MS", &c.Guard.SettleDelayMS)
	num("CONFIRM_TIMEOUT_SECONDS", &c.Guard.ConfirmTimeoutSeconds)
	str("LOG_LEVEL", &c.Log.Level)
	str("METRICS_ADDRESS", &c.Metrics.Address)
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	// 创建预言需要等待三笔交易确认，写超时必须覆盖完整流程。
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 240
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}

	if c.Storage.Ledger.Driver == "" {
		c.Storage.Ledger.Driver = "memory"
	}
	if c.Storage.Ledger.MaxAttempts <= 0 {
		c.Storage.Ledger.MaxAttempts = 10
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 256
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.RetryDelaySeconds <= 0 {
		c.Queue.RetryDelaySeconds = 30
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "prophet:reconcile"
	}
	if c.Queue.Redis.BlockWaitSeconds <= 0 {
		c.Queue.Redis.BlockWaitSeconds = 5
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "prophet.reconcile"
	}
	if c.Queue.RabbitMQ.Prefetch <= 0 {
		c.Queue.RabbitMQ.Prefetch = 1
	}

	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)
	if c.Web3.TokenDecimals == 0 {
		c.Web3.TokenDecimals = 6
	}
	if c.Web3.PrivateKeyEnv == "" {
		c.Web3.PrivateKeyEnv = "PROPHET_PRIVATE_KEY"
	}
	if c.Web3.PollIntervalMS <= 0 {
		c.Web3.PollIntervalMS = 1000
	}
	if c.Web3.GasBufferPercent <= 0 {
		c.Web3.GasBufferPercent = 20
	}

	c.Oracles.Source = resolvePath(baseDir, c.Oracles.Source)

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Audit.Enabled {
		if c.Log.Audit.Path == "" {
			c.Log.Audit.Path = filepath.Join("logs", "audit.log")
		}
		c.Log.Audit.Path = resolvePath(baseDir, c.Log.Audit.Path)
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 校验配置的完整性，启动时调用。
func (c *Config) Validate() error {
	var problems []string

	switch c.Storage.Ledger.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.Ledger.DSN) == "" {
			problems = append(problems, "storage.ledger.dsn 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的账本驱动: %s", c.Storage.Ledger.Driver))
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Queue.Redis.Address) == "" {
			problems = append(problems, "queue.redis.address 不能为空")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Queue.RabbitMQ.URL) == "" {
			problems = append(problems, "queue.rabbitmq.url 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的队列驱动: %s", c.Queue.Driver))
	}

	if c.Web3.ChainConfig == "" {
		if strings.TrimSpace(c.Web3.RPCURL) == "" {
			problems = append(problems, "web3.chain_config 与 web3.rpc_url 至少配置一个")
		}
		if !common.IsHexAddress(c.Web3.TokenAddress) {
			problems = append(problems, "web3.token_address 不是合法地址")
		}
		if !common.IsHexAddress(c.Web3.ProphetAddress) {
			problems = append(problems, "web3.prophet_address 不是合法地址")
		}
	}

	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		problems = append(problems, "启用鉴权时必须配置 api_keys")
	}
	if c.Guard.SettleDelayMS < 0 || c.Guard.AllowanceRetries < 0 {
		problems = append(problems, "guard 参数不能为负数")
	}

	if len(problems) > 0 {
		return fmt.Errorf("配置无效: %s", strings.Join(problems, "; "))
	}
	return nil
}
