package database_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDBForDatabase 创建测试数据库
func setupTestDBForDatabase(t *testing.T) *gorm.DB {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })
	return db
}

func newDocument(id string) *model.DocumentModel {
	return &model.DocumentModel{
		ID:             id,
		DocumentNumber: "SOP-" + id,
		Title:          "Cleaning procedure",
		StatusCode:     "draft",
	}
}

func countDocuments(t *testing.T, db *gorm.DB) int64 {
	var n int64
	require.NoError(t, db.Model(&model.DocumentModel{}).Count(&n).Error)
	return n
}

// TestTransaction_Commit 测试事务提交
func TestTransaction_Commit(t *testing.T) {
	db := setupTestDBForDatabase(t)
	ctx := context.Background()

	assert.False(t, database.InTransaction(ctx))
	err := database.Transaction(ctx, db, func(ctx context.Context) error {
		assert.True(t, database.InTransaction(ctx))
		return database.Conn(ctx, db).Create(newDocument("doc-001")).Error
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), countDocuments(t, db))
}

// TestTransaction_Rollback 测试错误时回滚
func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDBForDatabase(t)
	boom := errors.New("boom")

	err := database.Transaction(context.Background(), db, func(ctx context.Context) error {
		if err := database.Conn(ctx, db).Create(newDocument("doc-001")).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), countDocuments(t, db))
}

// TestTransaction_JoinsOuter 测试嵌套调用加入外层事务
func TestTransaction_JoinsOuter(t *testing.T) {
	db := setupTestDBForDatabase(t)

	err := database.Transaction(context.Background(), db, func(ctx context.Context) error {
		inner := database.Transaction(ctx, db, func(ctx context.Context) error {
			return database.Conn(ctx, db).Create(newDocument("doc-001")).Error
		})
		require.NoError(t, inner)
		return errors.New("outer failed")
	})
	require.Error(t, err)

	// 内层写入随外层一起回滚
	assert.Equal(t, int64(0), countDocuments(t, db))
}

// TestIsUniqueViolation 测试唯一约束冲突识别
func TestIsUniqueViolation(t *testing.T) {
	db := setupTestDBForDatabase(t)
	ctx := context.Background()

	require.NoError(t, database.Conn(ctx, db).Create(newDocument("doc-001")).Error)
	err := database.Conn(ctx, db).Create(newDocument("doc-001")).Error
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
	assert.True(t, database.IsUniqueViolation(fmt.Errorf("save: %w", err)))

	assert.False(t, database.IsUniqueViolation(nil))
	assert.False(t, database.IsUniqueViolation(errors.New("connection refused")))
}

// TestIsNotFound 测试记录不存在识别
func TestIsNotFound(t *testing.T) {
	db := setupTestDBForDatabase(t)

	var doc model.DocumentModel
	err := db.Where("id = ?", "missing").First(&doc).Error
	assert.True(t, database.IsNotFound(err))
	assert.False(t, database.IsNotFound(errors.New("other")))
}

// TestConnect_UnsupportedDriver 测试不支持的驱动
func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := database.Connect(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

// TestCheckHealth 测试健康检查
func TestCheckHealth(t *testing.T) {
	db := setupTestDBForDatabase(t)
	assert.True(t, database.CheckHealth(db))
	assert.False(t, database.CheckHealth(nil))
}
