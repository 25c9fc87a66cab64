package config

import (
	"encoding/base64"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedEnv = []string{
	"STORESYNC_APP_NAME",
	"STORESYNC_APP_ENV",
	"STORESYNC_APP_PORT",
	"STORESYNC_DATABASE_HOST",
	"STORESYNC_DATABASE_PORT",
	"STORESYNC_DATABASE_PASSWORD",
	"STORESYNC_DATABASE_DBNAME",
	"STORESYNC_DATABASE_SSLMODE",
	"STORESYNC_DATABASE_MAX_OPEN_CONNS",
	"STORESYNC_DATABASE_MAX_IDLE_CONNS",
	"STORESYNC_AUTH_JWT_SECRET",
	"STORESYNC_SHOPIFY_API_VERSION",
	"STORESYNC_SHOPIFY_BASE_URL",
	"STORESYNC_SHOPIFY_PAGE_TIMEOUT",
	"STORESYNC_SHOPIFY_WEBHOOK_SECRET",
	"STORESYNC_PROFILING_ENABLED",
	"STORESYNC_PROFILING_SERVER_ADDRESS",
	"STORESYNC_ARCHIVE_ENABLED",
	"STORESYNC_ARCHIVE_BUCKET",
	"STORESYNC_SYNC_REGISTRY",
	"STORESYNC_SYNC_PAGE_SIZE",
	"STORESYNC_SCHEDULER_ENABLED",
	"STORESYNC_SCHEDULER_FAILURE_THRESHOLD",
	"STORESYNC_SECURITY_TOKEN_ENCRYPTION_KEY",
}

// clearEnv unsets every managed variable and restores the originals when the test ends
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range managedEnv {
		if v, ok := os.LookupEnv(k); ok {
			t.Setenv(k, v)
			os.Unsetenv(k)
		}
	}
}

func validKey() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "storesync", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "storesync", cfg.Database.DBName)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5, cfg.Database.MaxIdleConns)

		assert.Equal(t, "2023-10", cfg.Shopify.APIVersion)
		assert.Equal(t, 30*time.Second, cfg.Shopify.PageTimeout)
		assert.Equal(t, 10*time.Second, cfg.Shopify.VerifyTimeout)
		assert.Equal(t, 3, cfg.Shopify.MaxAttempts)

		assert.Equal(t, "memory", cfg.Sync.Registry)
		assert.Equal(t, 250, cfg.Sync.PageSize)

		assert.Equal(t, "0 * * * *", cfg.Scheduler.SyncCheckSchedule)
		assert.Equal(t, "0 2 * * *", cfg.Scheduler.CleanupSchedule)
		assert.Equal(t, "*/15 * * * *", cfg.Scheduler.HealthSchedule)
		assert.Equal(t, 3, cfg.Scheduler.FailureThreshold)
		assert.Equal(t, 24*time.Hour, cfg.Scheduler.FailureWindow)

		assert.Empty(t, cfg.Shopify.WebhookSecret)
		assert.False(t, cfg.Profiling.Enabled)
		assert.Equal(t, cfg.Telemetry.ServiceName, cfg.Profiling.ApplicationName)

		assert.False(t, cfg.Archive.Enabled)
		assert.Equal(t, "us-east-1", cfg.Archive.Region)
		assert.Equal(t, "sync-runs", cfg.Archive.Prefix)
		assert.Equal(t, 15*time.Minute, cfg.Archive.PresignExpiration)
	})

	t.Run("loads values from environment variables with STORESYNC prefix", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORESYNC_APP_NAME", "test-app")
		t.Setenv("STORESYNC_APP_PORT", "9000")
		t.Setenv("STORESYNC_DATABASE_HOST", "testdb.local")
		t.Setenv("STORESYNC_DATABASE_PORT", "5433")
		t.Setenv("STORESYNC_SHOPIFY_BASE_URL", "http://127.0.0.1:9999")
		t.Setenv("STORESYNC_SHOPIFY_PAGE_TIMEOUT", "5s")
		t.Setenv("STORESYNC_SYNC_REGISTRY", "redis")
		t.Setenv("STORESYNC_SCHEDULER_ENABLED", "true")
		t.Setenv("STORESYNC_SHOPIFY_WEBHOOK_SECRET", "hush")
		t.Setenv("STORESYNC_PROFILING_ENABLED", "true")
		t.Setenv("STORESYNC_PROFILING_SERVER_ADDRESS", "http://pyroscope:4040")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-app", cfg.App.Name)
		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, "http://127.0.0.1:9999", cfg.Shopify.BaseURL)
		assert.Equal(t, 5*time.Second, cfg.Shopify.PageTimeout)
		assert.Equal(t, "redis", cfg.Sync.Registry)
		assert.True(t, cfg.Scheduler.Enabled)
		assert.Equal(t, "hush", cfg.Shopify.WebhookSecret)
		assert.True(t, cfg.Profiling.Enabled)
		assert.Equal(t, "http://pyroscope:4040", cfg.Profiling.ServerAddress)
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORESYNC_DATABASE_MAX_OPEN_CONNS", "10")
		t.Setenv("STORESYNC_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("rejects unknown registry", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORESYNC_SYNC_REGISTRY", "etcd")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.registry")
	})

	t.Run("rejects page size above the source maximum", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORESYNC_SYNC_PAGE_SIZE", "500")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.page_size")
	})

	t.Run("rejects malformed encryption key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORESYNC_SECURITY_TOKEN_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("short")))

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "32 bytes")
	})

	t.Run("archive requires a bucket when enabled", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORESYNC_ARCHIVE_ENABLED", "true")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "archive.bucket")

		t.Setenv("STORESYNC_ARCHIVE_BUCKET", "sync-reports")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "sync-reports", cfg.Archive.Bucket)
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	setValidProductionBase := func(t *testing.T) {
		t.Setenv("STORESYNC_APP_ENV", "production")
		t.Setenv("STORESYNC_AUTH_JWT_SECRET", "this-is-a-very-secure-jwt-secret-key-32chars")
		t.Setenv("STORESYNC_DATABASE_PASSWORD", "secure-password")
		t.Setenv("STORESYNC_DATABASE_SSLMODE", "require")
		t.Setenv("STORESYNC_SECURITY_TOKEN_ENCRYPTION_KEY", validKey())
	}

	t.Run("passes validation with valid production config", func(t *testing.T) {
		clearEnv(t)
		setValidProductionBase(t)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"requires database password", map[string]string{"STORESYNC_DATABASE_PASSWORD": ""}, "database.password is required"},
		{"requires ssl", map[string]string{"STORESYNC_DATABASE_SSLMODE": "disable"}, "database.sslmode cannot be 'disable'"},
		{"requires encryption key", map[string]string{"STORESYNC_SECURITY_TOKEN_ENCRYPTION_KEY": ""}, "token_encryption_key is required"},
		{"requires long jwt secret", map[string]string{"STORESYNC_AUTH_JWT_SECRET": "short"}, "auth.jwt_secret must be at least 32"},
		{"forbids base url override", map[string]string{"STORESYNC_SHOPIFY_BASE_URL": "http://localhost"}, "shopify.base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setValidProductionBase(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "/testdb")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{Host: "localhost", Port: 5432, User: "user", Password: "pass@word#123", DBName: "db", SSLMode: "disable"}
		assert.Contains(t, cfg.DSN(), "pass%40word%23123")
	})
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.Addr())
}
