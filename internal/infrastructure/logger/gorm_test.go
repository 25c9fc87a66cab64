package logger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGorm(level gormlogger.LogLevel, opts ...GormLoggerOption) (*GormLogger, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewGormLogger(zap.New(core), level, opts...), recorded
}

func TestGormLogger_LogMode(t *testing.T) {
	gl, _ := newObservedGorm(gormlogger.Info)
	changed, ok := gl.LogMode(gormlogger.Warn).(*GormLogger)
	require.True(t, ok)

	assert.Equal(t, gormlogger.Info, gl.logLevel)
	assert.Equal(t, gormlogger.Warn, changed.logLevel)
}

func TestGormLogger_Trace(t *testing.T) {
	query := func() (string, int64) { return "INSERT INTO customers ...", 3 }

	t.Run("error is logged with job context", func(t *testing.T) {
		gl, recorded := newObservedGorm(gormlogger.Warn)
		ctx := WithJobID(context.Background(), "job-7")
		gl.Trace(ctx, time.Now(), query, errors.New("duplicate key"))

		entries := recorded.FilterMessage("SQL Error").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "job-7", entries[0].ContextMap()["job_id"])
	})

	t.Run("record not found is ignored", func(t *testing.T) {
		gl, recorded := newObservedGorm(gormlogger.Warn)
		gl.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
		assert.Zero(t, recorded.Len())
	})

	t.Run("slow statement warns", func(t *testing.T) {
		gl, recorded := newObservedGorm(gormlogger.Warn, WithSlowThreshold(time.Millisecond))
		gl.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
		assert.Equal(t, 1, recorded.FilterMessage("Slow SQL").Len())
	})

	t.Run("silent logs nothing", func(t *testing.T) {
		gl, recorded := newObservedGorm(gormlogger.Silent)
		gl.Trace(context.Background(), time.Now(), query, errors.New("x"))
		assert.Zero(t, recorded.Len())
	})

	t.Run("long statements are truncated", func(t *testing.T) {
		gl, recorded := newObservedGorm(gormlogger.Info, WithMaxSQLLength(10))
		long := func() (string, int64) { return strings.Repeat("x", 100), 0 }
		gl.Trace(context.Background(), time.Now(), long, nil)

		sql := recorded.FilterMessage("SQL Query").All()[0].ContextMap()["sql"]
		assert.Equal(t, strings.Repeat("x", 10)+"...", sql)
	})
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("info"))
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("FATAL"))
}

func TestGormLogger_CompactsWhitespace(t *testing.T) {
	gl, recorded := newObservedGorm(gormlogger.Info)
	query := func() (string, int64) { return "SELECT *\n\tFROM   stores\n WHERE id = 1", 1 }
	gl.Trace(context.Background(), time.Now(), query, nil)

	entries := recorded.FilterMessage("SQL Query").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "SELECT * FROM stores WHERE id = 1", entries[0].ContextMap()["sql"])
}

func TestGormLogger_Printf(t *testing.T) {
	gl, recorded := newObservedGorm(gormlogger.Warn)
	gl.Info(context.Background(), "migrated %d tables", 3)
	gl.Warn(context.Background(), "index %s missing", "idx_orders")

	assert.Zero(t, recorded.FilterMessage("migrated 3 tables").Len())
	assert.Equal(t, 1, recorded.FilterMessage("index idx_orders missing").Len())
}
