package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"SnowRail/pkg/logger"
)

const (
	defaultTreasuryAddress = "0xcba2318C6C4d9c98f7732c5fDe09D1BAe12c27be"
	defaultTokenAddress    = "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"

	// 1,000,000 USDC（6 位小数）。
	defaultInitialBalance = 1_000_000_000_000
)

// Config 描述了 SnowRail 在启动阶段需要加载的全部配置，加载后只读。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Network      string             `json:"network"`
	Metering     MeteringConfig     `json:"metering"`
	Settlement   SettlementConfig   `json:"settlement"`
	Rail         RailConfig         `json:"rail"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Storage      StorageConfig      `json:"storage"`
	Events       EventsConfig       `json:"events"`
	Alerting     AlertingConfig     `json:"alerting"`
	Treasury     TreasuryConfig     `json:"treasury"`
	Logging      logger.Config      `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
	PublicBaseURL  string `json:"public_base_url"`
}

// MeteringConfig 描述按次计费网关的价格表与凭证设置。
type MeteringConfig struct {
	PriceTable    string `json:"price_table"`
	SentinelToken string `json:"sentinel_token"`
}

// SettlementConfig 描述链上结算服务的连接信息。
type SettlementConfig struct {
	Driver             string `json:"driver"`
	RPCURL             string `json:"rpc_url"`
	ContractAddress    string `json:"contract_address"`
	TokenAddress       string `json:"token_address"`
	TokenDecimals      int    `json:"token_decimals"`
	PayerAddress       string `json:"payer_address"`
	PrivateKeyEnv      string `json:"private_key_env"`
	InitialBalance     int64  `json:"initial_balance"`
	CallTimeoutSeconds int    `json:"call_timeout_seconds"`
}

// CallTimeout 返回单次结算调用的超时时间。
func (c SettlementConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// RailConfig 描述法币通道客户端的模拟参数。
type RailConfig struct {
	MinLatencyMillis   int     `json:"min_latency_ms"`
	MaxLatencyMillis   int     `json:"max_latency_ms"`
	FailureRate        float64 `json:"failure_rate"`
	CallTimeoutSeconds int     `json:"call_timeout_seconds"`
}

// CallTimeout 返回单次法币通道调用的超时时间。
func (c RailConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// OrchestratorConfig 控制支付编排的整体行为。
type OrchestratorConfig struct {
	FlowTimeoutSeconds int    `json:"flow_timeout_seconds"`
	RailPolicy         string `json:"rail_policy"`
	DefaultPayee       string `json:"default_payee"`
}

// FlowTimeout 返回一次编排允许的最长时间。
func (c OrchestratorConfig) FlowTimeout() time.Duration {
	return time.Duration(c.FlowTimeoutSeconds) * time.Second
}

// StorageConfig 描述支付记录的持久化后端。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// EventsConfig 描述支付结果事件的投递方式。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AlertingConfig 描述失败支付的告警渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// TreasuryConfig 控制定时的金库只读巡检，CheckSchedule 为空时不启用。
type TreasuryConfig struct {
	CheckSchedule string `json:"check_schedule"`
	// MinBalance 以代币最小单位计，低于该值时告警。
	MinBalance int64 `json:"min_balance"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":3000"
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = "http://localhost" + c.Server.Address
	}
	if c.Network == "" {
		c.Network = "fuji"
	}

	if c.Metering.PriceTable == "" {
		c.Metering.PriceTable = "metering.yaml"
	}
	c.Metering.PriceTable = resolvePath(baseDir, c.Metering.PriceTable)
	if c.Metering.SentinelToken == "" {
		c.Metering.SentinelToken = "demo-token"
	}

	if c.Settlement.Driver == "" {
		c.Settlement.Driver = "memory"
	}
	if c.Settlement.Driver == "memory" {
		// 内存账本默认沿用测试合约与 USDC 地址。
		if c.Settlement.ContractAddress == "" {
			c.Settlement.ContractAddress = defaultTreasuryAddress
		}
		if c.Settlement.TokenAddress == "" {
			c.Settlement.TokenAddress = defaultTokenAddress
		}
		if c.Settlement.InitialBalance <= 0 {
			c.Settlement.InitialBalance = defaultInitialBalance
		}
	}
	if c.Settlement.TokenDecimals <= 0 {
		c.Settlement.TokenDecimals = 6
	}
	if c.Settlement.CallTimeoutSeconds <= 0 {
		c.Settlement.CallTimeoutSeconds = 30
	}
	if c.Settlement.PrivateKeyEnv == "" {
		c.Settlement.PrivateKeyEnv = "SNOWRAIL_PRIVATE_KEY"
	}

	if c.Rail.MinLatencyMillis <= 0 {
		c.Rail.MinLatencyMillis = 1000
	}
	if c.Rail.MaxLatencyMillis < c.Rail.MinLatencyMillis {
		c.Rail.MaxLatencyMillis = c.Rail.MinLatencyMillis + 1000
	}
	if c.Rail.FailureRate < 0 {
		c.Rail.FailureRate = 0
	}
	if c.Rail.CallTimeoutSeconds <= 0 {
		c.Rail.CallTimeoutSeconds = 10
	}

	if c.Orchestrator.FlowTimeoutSeconds <= 0 {
		c.Orchestrator.FlowTimeoutSeconds = 120
	}
	if c.Orchestrator.RailPolicy == "" {
		c.Orchestrator.RailPolicy = "always"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Workers <= 0 {
		c.Events.Workers = 2
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)
	}
}

func (c *Config) validate() error {
	switch c.Network {
	case "fuji", "avalanche":
	default:
		return fmt.Errorf("未知的网络: %s", c.Network)
	}
	switch c.Settlement.Driver {
	case "memory", "evm":
	default:
		return fmt.Errorf("未知的结算驱动: %s", c.Settlement.Driver)
	}
	switch c.Orchestrator.RailPolicy {
	case "always", "require_onchain":
	default:
		return fmt.Errorf("未知的法币通道策略: %s", c.Orchestrator.RailPolicy)
	}
	if c.Rail.FailureRate > 1 {
		return fmt.Errorf("rail.failure_rate 必须位于 [0,1] 区间: %v", c.Rail.FailureRate)
	}
	// 代币精度低于法币最小单位时，金额换算会二次舍入。
	if c.Settlement.TokenDecimals < 2 {
		return fmt.Errorf("settlement.token_decimals 不能小于 2: %d", c.Settlement.TokenDecimals)
	}
	if c.Treasury.MinBalance < 0 {
		return fmt.Errorf("treasury.min_balance 不能为负数: %d", c.Treasury.MinBalance)
	}
	return nil
}

// ChainID 返回当前网络对应的 EVM 链 ID。
func (c *Config) ChainID() int64 {
	if c.Network == "avalanche" {
		return 43114
	}
	return 43113
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
