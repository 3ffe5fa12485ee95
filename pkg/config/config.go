// Package config 提供 TOML 配置加载与环境变量覆盖。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// Oxapay 支付网关配置
	Oxapay OxapayConfig `mapstructure:"oxapay"`
	// 结算业务配置
	Broker BrokerConfig `mapstructure:"broker"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	// 监听地址
	Host string `mapstructure:"host"`
	// 监听端口
	Port int `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 主机地址
	Host string `mapstructure:"host"`
	// 端口
	Port int `mapstructure:"port"`
	// 密码
	Password string `mapstructure:"password"`
	// 数据库编号
	DB int `mapstructure:"db"`
	// 最大连接数
	PoolSize int `mapstructure:"pool_size"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// Broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// 最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// 重试退避（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// OxapayConfig Oxapay 支付网关配置
type OxapayConfig struct {
	// 网关地址
	BaseURL string `mapstructure:"base_url"`
	// 收款 API Key
	MerchantAPIKey string `mapstructure:"merchant_api_key"`
	// 出金 API Key
	PayoutAPIKey string `mapstructure:"payout_api_key"`
	// Webhook 签名密钥，留空表示跳过验签（仅限开发环境）
	WebhookSecret string `mapstructure:"webhook_secret"`
	// Webhook 回调地址
	CallbackURL string `mapstructure:"callback_url"`
	// 请求超时（秒）
	RequestTimeout int `mapstructure:"request_timeout"`
}

// BrokerConfig 结算业务配置
type BrokerConfig struct {
	// 法币单位
	FiatCurrency string `mapstructure:"fiat_currency"`
	// 美元兑法币汇率
	FiatPerUSD string `mapstructure:"fiat_per_usd"`
	// 最低买入金额（法币）
	MinBuyAmount string `mapstructure:"min_buy_amount"`
	// 最低卖出所得（法币）
	MinSellProceeds string `mapstructure:"min_sell_proceeds"`
	// 最低充值金额（法币）
	MinDepositAmount string `mapstructure:"min_deposit_amount"`
	// 最低提现金额（法币）
	MinWithdrawalAmount string `mapstructure:"min_withdrawal_amount"`
	// 默认买卖价差（百分比）
	DefaultMarginPct string `mapstructure:"default_margin_pct"`
	// 卖单入金窗口（秒）
	SellDepositWindow int `mapstructure:"sell_deposit_window"`
	// 买单过期时间（秒）
	BuyOrderLifetime int `mapstructure:"buy_order_lifetime"`
	// 过期订单扫描周期（秒）
	ExpirySweepInterval int `mapstructure:"expiry_sweep_interval"`
	// 汇率缓存有效期（秒）
	RateCacheTTL int `mapstructure:"rate_cache_ttl"`
}

// Load 从 TOML 文件加载配置，支持 APP_ 前缀的环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Oxapay.MerchantAPIKey == "" && c.Environment != "dev" {
		return fmt.Errorf("oxapay.merchant_api_key is required outside dev")
	}
	if c.Oxapay.WebhookSecret == "" && c.Environment != "dev" {
		return fmt.Errorf("oxapay.webhook_secret is required outside dev")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "cryptobroker")
	v.SetDefault("environment", "dev")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("oxapay.base_url", "https://api.oxapay.com")
	v.SetDefault("oxapay.request_timeout", 30)
	v.SetDefault("broker.fiat_currency", "IDR")
	v.SetDefault("broker.fiat_per_usd", "16000")
	v.SetDefault("broker.min_buy_amount", "10000")
	v.SetDefault("broker.min_sell_proceeds", "10000")
	v.SetDefault("broker.min_deposit_amount", "10000")
	v.SetDefault("broker.min_withdrawal_amount", "50000")
	v.SetDefault("broker.default_margin_pct", "2")
	v.SetDefault("broker.sell_deposit_window", 3600)
	v.SetDefault("broker.buy_order_lifetime", 86400)
	v.SetDefault("broker.expiry_sweep_interval", 60)
	v.SetDefault("broker.rate_cache_ttl", 30)
}
