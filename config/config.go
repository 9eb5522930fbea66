package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PayTR     PayTRConfig     `mapstructure:"paytr"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Checkout  CheckoutConfig  `mapstructure:"checkout"`
	Mail      MailConfig      `mapstructure:"mail"`
	Invoice   InvoiceConfig   `mapstructure:"invoice"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

// RedisConfig Addr 为空时不启用 Redis，锁退化为进程内锁
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PayTRConfig struct {
	MerchantID     string        `mapstructure:"merchant_id"`
	MerchantKey    string        `mapstructure:"merchant_key"`
	MerchantSalt   string        `mapstructure:"merchant_salt"`
	BaseURL        string        `mapstructure:"base_url"`
	OkURL          string        `mapstructure:"ok_url"`
	FailURL        string        `mapstructure:"fail_url"`
	TestMode       bool          `mapstructure:"test_mode"`
	NoInstallment  bool          `mapstructure:"no_installment"`
	MaxInstallment int           `mapstructure:"max_installment"`
	TimeoutLimit   int           `mapstructure:"timeout_limit"` // 分钟
	Currency       string        `mapstructure:"currency"`
	Lang           string        `mapstructure:"lang"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type PricingConfig struct {
	FreeShippingThreshold string `mapstructure:"free_shipping_threshold"`
	FlatShippingFee       string `mapstructure:"flat_shipping_fee"`
}

type CheckoutConfig struct {
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	StatusTTL     time.Duration `mapstructure:"status_ttl"`
}

type MailConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from"`
	AdminEmail string `mapstructure:"admin_email"`
}

type InvoiceConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type RateLimitConfig struct {
	RPS   float64       `mapstructure:"rps"`
	Burst int           `mapstructure:"burst"`
	TTL   time.Duration `mapstructure:"ttl"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "storefront.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("paytr.base_url", "https://www.paytr.com")
	v.SetDefault("paytr.test_mode", true)
	v.SetDefault("paytr.no_installment", false)
	v.SetDefault("paytr.max_installment", 0)
	v.SetDefault("paytr.timeout_limit", 30)
	v.SetDefault("paytr.currency", "TL")
	v.SetDefault("paytr.lang", "tr")
	v.SetDefault("paytr.request_timeout", 15*time.Second)

	v.SetDefault("pricing.free_shipping_threshold", "2500")
	v.SetDefault("pricing.flat_shipping_fee", "150")

	v.SetDefault("checkout.pending_ttl", time.Hour)
	v.SetDefault("checkout.sweep_interval", 5*time.Minute)
	v.SetDefault("checkout.lock_ttl", 30*time.Second)
	v.SetDefault("checkout.status_ttl", 10*time.Minute)

	v.SetDefault("mail.port", 587)
	v.SetDefault("invoice.timeout", 20*time.Second)

	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("ratelimit.ttl", 10*time.Minute)

	v.SetDefault("tracing.service_name", "storefront")

	// 无默认值的键也要注册，否则 AutomaticEnv 不会在 Unmarshal 时生效
	for _, key := range []string{
		"redis.addr", "redis.password", "redis.db",
		"paytr.merchant_id", "paytr.merchant_key", "paytr.merchant_salt", "paytr.ok_url", "paytr.fail_url",
		"mail.host", "mail.username", "mail.password", "mail.from", "mail.admin_email",
		"invoice.enabled", "invoice.base_url", "invoice.api_key",
		"auth.jwt_secret",
		"sentry.dsn", "sentry.environment",
		"tracing.enabled", "tracing.otlp_endpoint",
	} {
		v.SetDefault(key, "")
	}
}

// Load 读取 config.yaml 并叠加 STOREFRONT_ 前缀的环境变量
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查启动必需的配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Server.Mode == "release" {
		if c.PayTR.MerchantID == "" || c.PayTR.MerchantKey == "" || c.PayTR.MerchantSalt == "" {
			return errors.New("paytr merchant credentials are required in release mode")
		}
	}
	return nil
}
