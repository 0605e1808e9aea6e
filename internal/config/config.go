package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Env         string            `mapstructure:"env"` // 环境: development, production
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	OpenFGA     OpenFGAConfig     `mapstructure:"openfga"`
	Keycloak    KeycloakConfig    `mapstructure:"keycloak"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Signature   SignatureConfig   `mapstructure:"signature"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	ForceHTTPS bool   `mapstructure:"force_https"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Path            string `mapstructure:"path"`   // SQLite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 秒
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 秒
}

// OpenFGAConfig OpenFGA 配置
type OpenFGAConfig struct {
	APIURL  string `mapstructure:"api_url"`
	StoreID string `mapstructure:"store_id"`
	ModelID string `mapstructure:"model_id"`
}

// KeycloakConfig Keycloak 配置
type KeycloakConfig struct {
	Issuer  string `mapstructure:"issuer"`
	JWKSURL string `mapstructure:"jwks_url"`
}

// PermissionsConfig 权限配置
type PermissionsConfig struct {
	Provider        string              `mapstructure:"provider"`         // claims, openfga
	CacheTTL        int                 `mapstructure:"cache_ttl"`        // 秒，0 表示不缓存
	RolePermissions map[string][]string `mapstructure:"role_permissions"` // 角色名 -> 权限名
}

// SignatureConfig 电子签名配置
type SignatureConfig struct {
	PINMinLength  int    `mapstructure:"pin_min_length"`
	PINCost       int    `mapstructure:"pin_cost"`       // bcrypt cost
	EncryptionKey string `mapstructure:"encryption_key"` // 签名载荷加密密钥，至少 32 字节
}

// AuditConfig 审计配置
type AuditConfig struct {
	VerifyBatchSize int `mapstructure:"verify_batch_size"`
}

// NotifyConfig 通知配置
type NotifyConfig struct {
	WebhookURL  string              `mapstructure:"webhook_url"`
	Timeout     int                 `mapstructure:"timeout"` // 秒
	Workers     int                 `mapstructure:"workers"`
	MaxRetries  int                 `mapstructure:"max_retries"`
	RoleMembers map[string][]string `mapstructure:"role_members"` // 角色名 -> 用户 ID，用于通知审批人
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ExpireCron string `mapstructure:"expire_cron"`
	VerifyCron string `mapstructure:"verify_cron"`
	Timezone   string `mapstructure:"timezone"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRatio    float64 `mapstructure:"sample_ratio"` // 0~1，上游已采样的请求始终保留
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error
	Format string `mapstructure:"format"` // 日志格式: json, text
	Output string `mapstructure:"output"` // 输出位置: stdout, file, both
	File   string `mapstructure:"file"`   // output 为 file/both 时的日志文件
}

// Load 加载配置,支持配置文件和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.docflow")
		// 配置文件不存在时使用默认值
		_ = v.ReadInConfig()
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Permissions.Provider {
	case "", "claims", "openfga":
	default:
		return fmt.Errorf("unsupported permission provider: %s", c.Permissions.Provider)
	}
	if c.Signature.EncryptionKey != "" && len(c.Signature.EncryptionKey) < 32 {
		return fmt.Errorf("signature.encryption_key must be at least 32 bytes")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.Signature.PINMinLength < 4 {
		return fmt.Errorf("signature.pin_min_length must be at least 4")
	}
	return nil
}

// IsProduction 判断是否为生产环境
func IsProduction(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Env == "production"
}

// Default 返回默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	env := v.GetString("env")
	if env == "" {
		env = os.Getenv("APP_ENV")
		if env == "" {
			env = "development"
		}
	}
	v.SetDefault("env", env)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.force_https", false)

	// 开发环境默认使用 SQLite
	if env == "production" {
		v.SetDefault("database.driver", "postgres")
	} else {
		v.SetDefault("database.driver", "sqlite")
	}
	v.SetDefault("database.path", "docflow.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "docflow")
	v.SetDefault("database.sslmode", "disable")

	if env == "production" {
		v.SetDefault("database.max_idle_conns", 20)
		v.SetDefault("database.max_open_conns", 200)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 300) // 5 分钟
	} else {
		v.SetDefault("database.max_idle_conns", 10)
		v.SetDefault("database.max_open_conns", 100)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 600) // 10 分钟
	}

	v.SetDefault("openfga.api_url", "http://localhost:8081")
	v.SetDefault("openfga.store_id", "")
	v.SetDefault("openfga.model_id", "")

	v.SetDefault("keycloak.issuer", "")
	v.SetDefault("keycloak.jwks_url", "")

	v.SetDefault("permissions.provider", "claims")
	v.SetDefault("permissions.cache_ttl", 60)
	v.SetDefault("permissions.role_permissions", map[string][]string{
		"QA_Manager": {"workflow.approve", "workflow.manage", "document.manage"},
		"admin":      {"workflow.approve", "workflow.manage", "document.manage", "audit.view", "signature.revoke", "signature.manage"},
	})

	v.SetDefault("signature.pin_min_length", 6)
	v.SetDefault("signature.pin_cost", 12)
	v.SetDefault("signature.encryption_key", "")

	v.SetDefault("audit.verify_batch_size", 500)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", 5)
	v.SetDefault("notify.workers", 2)
	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.role_members", map[string][]string{})

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.expire_cron", "0 * * * *")
	v.SetDefault("scheduler.verify_cron", "30 2 * * *")
	v.SetDefault("scheduler.timezone", "UTC")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.service_name", "docflow")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("rate_limit.rps", 100)
	v.SetDefault("rate_limit.burst", 200)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Request-ID"})
	v.SetDefault("cors.max_age", 86400)

	if env == "production" {
		v.SetDefault("log.level", "warn")
		v.SetDefault("log.format", "json")
	} else {
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.format", "text")
	}
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/docflow.log")
}
