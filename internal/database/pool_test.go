package database

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newTestPool(t *testing.T, config PoolConfig) *PoolManager {
	t.Helper()
	manager, err := NewPoolManager(setupTestDB(t), "sqlite", config, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestNewPoolManager(t *testing.T) {
	config := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	manager := newTestPool(t, config)
	assert.NotNil(t, manager.DB())
	assert.Equal(t, config, manager.config)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, "sqlite", DefaultPoolConfig(), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	manager := newTestPool(t, DefaultPoolConfig())
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestPoolManager_PingAfterClose(t *testing.T) {
	manager := newTestPool(t, PoolConfig{MaxOpenConns: 5, MaxIdleConns: 2})
	require.NoError(t, manager.Close())

	err := manager.Ping(context.Background())
	assert.Error(t, err)
}

func TestPoolManager_GetStats(t *testing.T) {
	manager := newTestPool(t, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	stats := manager.GetStats()
	assert.Equal(t, 10, stats.MaxOpenConnections)
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
	assert.GreaterOrEqual(t, stats.InUse, 0)
	assert.GreaterOrEqual(t, stats.Idle, 0)
}

func TestPoolManager_WithTransaction(t *testing.T) {
	manager := newTestPool(t, DefaultPoolConfig())
	require.NoError(t, manager.DB().Exec("CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)").Error)

	err := manager.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return tx.Exec("INSERT INTO notes (body) VALUES ('hello')").Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, manager.DB().Raw("SELECT COUNT(*) FROM notes").Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPoolManager_WithTransactionRollback(t *testing.T) {
	manager := newTestPool(t, DefaultPoolConfig())
	require.NoError(t, manager.DB().Exec("CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)").Error)

	err := manager.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Exec("INSERT INTO notes (body) VALUES ('doomed')").Error; err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, manager.DB().Raw("SELECT COUNT(*) FROM notes").Scan(&count).Error)
	assert.Equal(t, int64(0), count, "rollback must discard the insert")
}

func TestPoolManager_WithTransactionRetry_NonRetryable(t *testing.T) {
	manager := newTestPool(t, DefaultPoolConfig())

	calls := 0
	err := manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		calls++
		return assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable failures must not be retried")
}

func TestPoolManager_CloseIdempotent(t *testing.T) {
	manager := newTestPool(t, DefaultPoolConfig())
	assert.NoError(t, manager.Close())
	assert.NoError(t, manager.Close())
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"deadlock detected", true},
		{"ERROR: could not serialize access (SQLSTATE 40001)", true},
		{"read tcp: connection reset by peer", true},
		{"driver: bad connection", true},
		{"Lock wait timeout exceeded", true},
		{"UNIQUE constraint failed: notes.id", false},
		{"syntax error", false},
	}
	for _, tt := range tests {
		err := &testError{tt.msg}
		assert.Equal(t, tt.want, isRetryableError(err), tt.msg)
	}
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(assert.AnError))
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
