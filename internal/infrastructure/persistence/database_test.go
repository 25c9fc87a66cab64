package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/storesync/backend/internal/infrastructure/config"
)

// newMockDatabase wraps a sqlmock connection that expects explicit pings
func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true, Logger: gormlogger.Discard})
	require.NoError(t, err)

	db, err := wrap(gormDB)
	require.NoError(t, err)
	return db, mock, mockDB
}

func TestDatabase_Ping(t *testing.T) {
	t.Run("healthy connection", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectPing()
		assert.NoError(t, db.Ping(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unreachable database", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		err := db.Ping(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestDatabase_ConfigurePool(t *testing.T) {
	db, _, mockDB := newMockDatabase(t)
	defer mockDB.Close()

	db.configurePool(&config.DatabaseConfig{MaxOpenConns: 7, MaxIdleConns: 2})
	assert.Equal(t, 7, mockDB.Stats().MaxOpenConnections)
}

func TestDatabase_Close(t *testing.T) {
	db, mock, _ := newMockDatabase(t)

	mock.ExpectClose()
	require.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, db.Ping(context.Background()), "a closed pool cannot be pinged")
}

func TestNewDatabase_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping connection test in short mode")
	}
	_, err := NewDatabase(&config.DatabaseConfig{
		Host:         "127.0.0.1",
		Port:         1,
		User:         "nobody",
		DBName:       "storesync",
		SSLMode:      "disable",
		MaxOpenConns: 1,
	}, zaptest.NewLogger(t), gormlogger.Silent)
	require.Error(t, err)
}
