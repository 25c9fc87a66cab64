package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/storesync/backend/internal/infrastructure/migration"
)

func TestMigrations_StatusAndUpIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping container test in short mode")
	}
	tdb := NewTestDB(t)
	pool, err := tdb.DB.DB()
	require.NoError(t, err)

	m, err := migration.New(pool, migrationsDir(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	st, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, uint(3), st.Version)
	assert.False(t, st.Dirty)
	assert.Empty(t, st.Pending)

	assert.NoError(t, m.Up(), "a current schema is not an error")
}
