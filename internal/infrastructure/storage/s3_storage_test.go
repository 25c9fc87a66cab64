package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/storesync/backend/internal/infrastructure/config"
)

func testArchiveConfig() *config.ArchiveConfig {
	return &config.ArchiveConfig{
		Bucket:            "sync-reports",
		AccessKey:         "test-key",
		SecretKey:         "test-secret",
		Endpoint:          "http://localhost:9000",
		UsePathStyle:      true,
		PresignExpiration: 15 * time.Minute,
	}
}

func TestNewS3ObjectStorage_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration is required")
	})

	tests := []struct {
		name    string
		mutate  func(*config.ArchiveConfig)
		wantErr string
	}{
		{"missing bucket", func(c *config.ArchiveConfig) { c.Bucket = "" }, "bucket is required"},
		{"missing access key", func(c *config.ArchiveConfig) { c.AccessKey = "" }, "access key is required"},
		{"missing secret key", func(c *config.ArchiveConfig) { c.SecretKey = "" }, "secret key is required"},
		{"endpoint without scheme", func(c *config.ArchiveConfig) { c.Endpoint = "localhost:9000" }, ""},
		{"endpoint without scheme over TLS", func(c *config.ArchiveConfig) { c.Endpoint = "minio:9000"; c.UseSSL = true }, ""},
		{"default endpoint and region", func(c *config.ArchiveConfig) { c.Endpoint = ""; c.Region = "" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testArchiveConfig()
			tt.mutate(cfg)
			s, err := NewS3ObjectStorage(cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "sync-reports", s.Bucket())
		})
	}
}

func TestS3ObjectStorage_Options(t *testing.T) {
	cfg := testArchiveConfig()
	cfg.PresignExpiration = 0

	s, err := NewS3ObjectStorage(cfg)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, s.presignExpiration, "zero falls back to the default")

	s, err = NewS3ObjectStorage(cfg, WithLogger(zaptest.NewLogger(t)), WithPresignExpiration(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, s.presignExpiration)
	assert.NotNil(t, s.logger)
}

func TestS3ObjectStorage_PresignGet(t *testing.T) {
	s, err := NewS3ObjectStorage(testArchiveConfig())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("empty key", func(t *testing.T) {
		u, _, err := s.PresignGet(ctx, "", time.Minute)
		assert.ErrorIs(t, err, ErrEmptyKey)
		assert.Empty(t, u)
	})

	t.Run("signed path-style URL", func(t *testing.T) {
		u, expiresAt, err := s.PresignGet(ctx, "sync-runs/t/j.json", time.Hour)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(u, "http://localhost:9000/sync-reports/"))
		assert.Contains(t, u, "X-Amz-Signature=")
		assert.True(t, expiresAt.After(time.Now().Add(59*time.Minute)))
	})

	t.Run("default expiration", func(t *testing.T) {
		_, expiresAt, err := s.PresignGet(ctx, "sync-runs/t/j.json", 0)
		require.NoError(t, err)
		assert.True(t, expiresAt.Before(time.Now().Add(16*time.Minute)))
	})
}

func TestS3ObjectStorage_EmptyKey(t *testing.T) {
	s, err := NewS3ObjectStorage(testArchiveConfig())
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, s.Put(ctx, "", []byte("x"), "text/plain"), ErrEmptyKey)
	_, err = s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = s.Exists(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.ErrorIs(t, s.Delete(ctx, ""), ErrEmptyKey)
}

// newIntegrationStorage connects to the bucket named by STORESYNC_TEST_S3_ENDPOINT,
// e.g. a local MinIO with the default credentials.
func newIntegrationStorage(t *testing.T) *S3ObjectStorage {
	t.Helper()
	endpoint := os.Getenv("STORESYNC_TEST_S3_ENDPOINT")
	if endpoint == "" || testing.Short() {
		t.Skip("Set STORESYNC_TEST_S3_ENDPOINT to run object storage integration tests")
	}
	s, err := NewS3ObjectStorage(&config.ArchiveConfig{
		Endpoint:     endpoint,
		Bucket:       "storesync-it",
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UsePathStyle: true,
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(context.Background()))
	require.NoError(t, s.EnsureBucket(context.Background()), "existing bucket is fine")
	return s
}

func TestIntegration_S3RoundTrip(t *testing.T) {
	s := newIntegrationStorage(t)
	ctx := context.Background()
	key := "it/round-trip.json"

	require.NoError(t, s.Put(ctx, key, []byte(`{"ok":true}`), "application/json"))
	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
