package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides
const EnvPrefix = "STORESYNC"

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Auth      AuthConfig
	Shopify   ShopifyConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Security  SecurityConfig
	Telemetry TelemetryConfig
	Profiling ProfilingConfig
	Archive   ArchiveConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	TrustedProxies   []string
	WebhookRate      float64 // webhook deliveries per second per shop
	WebhookBurst     int
}

// AuthConfig holds bearer token settings. With an empty secret the tenant
// is taken from the X-Tenant-ID header.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// ShopifyConfig holds store API client settings
type ShopifyConfig struct {
	APIVersion     string
	BaseURL        string // overrides https://{shop}.myshopify.com, used in tests
	PageTimeout    time.Duration
	VerifyTimeout  time.Duration
	RequestsPerSec float64
	Burst          int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	BreakerTimeout time.Duration
	BreakerTrips   uint32 // consecutive failures that open the breaker
	WebhookSecret  string // verifies X-Shopify-Hmac-Sha256 when set
}

// SyncConfig holds orchestrator settings
type SyncConfig struct {
	Registry     string // memory or redis
	LockTTL      time.Duration
	LockPrefix   string
	PageSize     int
	WorkerBudget int // maximum concurrently running jobs per process
}

// SchedulerConfig holds scheduled task settings
type SchedulerConfig struct {
	Enabled           bool
	SyncCheckSchedule string
	CleanupSchedule   string
	HealthSchedule    string
	FailureThreshold  int
	FailureWindow     time.Duration
	RunRetention      time.Duration
	MemoryWarnMB      uint64
}

// SecurityConfig holds secrets used at rest
type SecurityConfig struct {
	TokenEncryptionKey string // base64, 32 bytes
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
	DBTraceEnabled    bool
	SlowQuery         time.Duration
	LogsEnabled       bool // ship zap logs to the collector as well as stdout
}

// ProfilingConfig holds Pyroscope continuous profiling settings
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
	ProfileTypes      []string // cpu, alloc_space, inuse_space, goroutines, mutex, block
	SpanProfiles      bool     // label CPU profiles with trace span ids
}

// ArchiveConfig holds the S3-compatible bucket that keeps finished sync run
// reports. Any S3 API works (AWS S3, MinIO, RustFS).
type ArchiveConfig struct {
	Enabled           bool
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	UsePathStyle      bool
	Prefix            string
	PresignExpiration time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with STORESYNC_ prefix (e.g., STORESYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			WebhookRate:      v.GetFloat64("http.webhook_rate"),
			WebhookBurst:     v.GetInt("http.webhook_burst"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
		},
		Shopify: ShopifyConfig{
			APIVersion:     v.GetString("shopify.api_version"),
			BaseURL:        v.GetString("shopify.base_url"),
			PageTimeout:    v.GetDuration("shopify.page_timeout"),
			VerifyTimeout:  v.GetDuration("shopify.verify_timeout"),
			RequestsPerSec: v.GetFloat64("shopify.requests_per_sec"),
			Burst:          v.GetInt("shopify.burst"),
			MaxAttempts:    v.GetInt("shopify.max_attempts"),
			RetryBaseDelay: v.GetDuration("shopify.retry_base_delay"),
			RetryMaxDelay:  v.GetDuration("shopify.retry_max_delay"),
			BreakerTimeout: v.GetDuration("shopify.breaker_timeout"),
			BreakerTrips:   v.GetUint32("shopify.breaker_trips"),
			WebhookSecret:  v.GetString("shopify.webhook_secret"),
		},
		Sync: SyncConfig{
			Registry:     v.GetString("sync.registry"),
			LockTTL:      v.GetDuration("sync.lock_ttl"),
			LockPrefix:   v.GetString("sync.lock_prefix"),
			PageSize:     v.GetInt("sync.page_size"),
			WorkerBudget: v.GetInt("sync.worker_budget"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			SyncCheckSchedule: v.GetString("scheduler.sync_check_schedule"),
			CleanupSchedule:   v.GetString("scheduler.cleanup_schedule"),
			HealthSchedule:    v.GetString("scheduler.health_schedule"),
			FailureThreshold:  v.GetInt("scheduler.failure_threshold"),
			FailureWindow:     v.GetDuration("scheduler.failure_window"),
			RunRetention:      v.GetDuration("scheduler.run_retention"),
			MemoryWarnMB:      v.GetUint64("scheduler.memory_warn_mb"),
		},
		Security: SecurityConfig{
			TokenEncryptionKey: v.GetString("security.token_encryption_key"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			SlowQuery:         v.GetDuration("telemetry.slow_query"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
		},
		Profiling: ProfilingConfig{
			Enabled:           v.GetBool("profiling.enabled"),
			ServerAddress:     v.GetString("profiling.server_address"),
			ApplicationName:   v.GetString("profiling.application_name"),
			BasicAuthUser:     v.GetString("profiling.basic_auth_user"),
			BasicAuthPassword: v.GetString("profiling.basic_auth_password"),
			ProfileTypes:      v.GetStringSlice("profiling.profile_types"),
			SpanProfiles:      v.GetBool("profiling.span_profiles"),
		},
		Archive: ArchiveConfig{
			Enabled:           v.GetBool("archive.enabled"),
			Endpoint:          v.GetString("archive.endpoint"),
			Region:            v.GetString("archive.region"),
			Bucket:            v.GetString("archive.bucket"),
			AccessKey:         v.GetString("archive.access_key"),
			SecretKey:         v.GetString("archive.secret_key"),
			UseSSL:            v.GetBool("archive.use_ssl"),
			UsePathStyle:      v.GetBool("archive.use_path_style"),
			Prefix:            v.GetString("archive.prefix"),
			PresignExpiration: v.GetDuration("archive.presign_expiration"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "storesync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "storesync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 5 << 20
	}
	if cfg.HTTP.WebhookRate == 0 {
		cfg.HTTP.WebhookRate = 10
	}
	if cfg.HTTP.WebhookBurst == 0 {
		cfg.HTTP.WebhookBurst = 40
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "storesync"
	}
	if cfg.Shopify.APIVersion == "" {
		cfg.Shopify.APIVersion = "2023-10"
	}
	if cfg.Shopify.PageTimeout == 0 {
		cfg.Shopify.PageTimeout = 30 * time.Second
	}
	if cfg.Shopify.VerifyTimeout == 0 {
		cfg.Shopify.VerifyTimeout = 10 * time.Second
	}
	if cfg.Shopify.RequestsPerSec == 0 {
		cfg.Shopify.RequestsPerSec = 2
	}
	if cfg.Shopify.Burst == 0 {
		cfg.Shopify.Burst = 4
	}
	if cfg.Shopify.MaxAttempts == 0 {
		cfg.Shopify.MaxAttempts = 3
	}
	if cfg.Shopify.RetryBaseDelay == 0 {
		cfg.Shopify.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Shopify.RetryMaxDelay == 0 {
		cfg.Shopify.RetryMaxDelay = 5 * time.Second
	}
	if cfg.Shopify.BreakerTimeout == 0 {
		cfg.Shopify.BreakerTimeout = time.Minute
	}
	if cfg.Shopify.BreakerTrips == 0 {
		cfg.Shopify.BreakerTrips = 5
	}
	if cfg.Sync.Registry == "" {
		cfg.Sync.Registry = "memory"
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 10 * time.Minute
	}
	if cfg.Sync.LockPrefix == "" {
		cfg.Sync.LockPrefix = "storesync:"
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = 250
	}
	if cfg.Sync.WorkerBudget == 0 {
		cfg.Sync.WorkerBudget = 10
	}
	if cfg.Scheduler.SyncCheckSchedule == "" {
		cfg.Scheduler.SyncCheckSchedule = "0 * * * *"
	}
	if cfg.Scheduler.CleanupSchedule == "" {
		cfg.Scheduler.CleanupSchedule = "0 2 * * *"
	}
	if cfg.Scheduler.HealthSchedule == "" {
		cfg.Scheduler.HealthSchedule = "*/15 * * * *"
	}
	if cfg.Scheduler.FailureThreshold == 0 {
		cfg.Scheduler.FailureThreshold = 3
	}
	if cfg.Scheduler.FailureWindow == 0 {
		cfg.Scheduler.FailureWindow = 24 * time.Hour
	}
	if cfg.Scheduler.RunRetention == 0 {
		cfg.Scheduler.RunRetention = 30 * 24 * time.Hour
	}
	if cfg.Scheduler.MemoryWarnMB == 0 {
		cfg.Scheduler.MemoryWarnMB = 1000
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "storesync"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.SlowQuery == 0 {
		cfg.Telemetry.SlowQuery = 200 * time.Millisecond
	}
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = cfg.Telemetry.ServiceName
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "sync-runs"
	}
	if cfg.Archive.PresignExpiration == 0 {
		cfg.Archive.PresignExpiration = 15 * time.Minute
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Sync.Registry {
	case "memory", "redis":
	default:
		return fmt.Errorf("sync.registry must be 'memory' or 'redis', got %q", c.Sync.Registry)
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 250 {
		return fmt.Errorf("sync.page_size must be between 1 and 250, got %d", c.Sync.PageSize)
	}
	if c.Shopify.MaxAttempts < 1 {
		return fmt.Errorf("shopify.max_attempts must be at least 1")
	}
	if c.Shopify.RequestsPerSec < 0 {
		return fmt.Errorf("shopify.requests_per_sec cannot be negative")
	}
	if c.Scheduler.FailureThreshold < 1 {
		return fmt.Errorf("scheduler.failure_threshold must be at least 1")
	}

	if c.Security.TokenEncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Security.TokenEncryptionKey)
		if err != nil {
			return fmt.Errorf("security.token_encryption_key must be base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("security.token_encryption_key must decode to 32 bytes, got %d", len(key))
		}
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Security.TokenEncryptionKey == "" {
			return fmt.Errorf("security.token_encryption_key is required in production")
		}
		if c.Auth.JWTSecret == "" || len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters in production")
		}
		if c.Shopify.BaseURL != "" {
			return fmt.Errorf("shopify.base_url override is not allowed in production")
		}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive.enabled is set")
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
