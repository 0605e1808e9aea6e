package repository

import (
	"context"

	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"gorm.io/gorm"
)

// StateHistoryRepository 状态历史仓储接口
type StateHistoryRepository interface {
	Create(ctx context.Context, history *model.StateHistoryModel) error
	FindByInstanceID(ctx context.Context, instanceID string) ([]*model.StateHistoryModel, error)
}

// stateHistoryRepository 状态历史仓储实现
type stateHistoryRepository struct {
	db *gorm.DB
}

// NewStateHistoryRepository 创建状态历史仓储
func NewStateHistoryRepository(db *gorm.DB) StateHistoryRepository {
	return &stateHistoryRepository{db: db}
}

// Create 保存状态历史
func (r *stateHistoryRepository) Create(ctx context.Context, history *model.StateHistoryModel) error {
	if err := history.Validate(); err != nil {
		return err
	}
	return database.Conn(ctx, r.db).Create(history).Error
}

// FindByInstanceID 根据实例 ID 查找状态历史
func (r *stateHistoryRepository) FindByInstanceID(ctx context.Context, instanceID string) ([]*model.StateHistoryModel, error) {
	var histories []*model.StateHistoryModel
	err := database.Conn(ctx, r.db).
		Where("instance_id = ?", instanceID).
		Order("created_at ASC").
		Find(&histories).Error
	return histories, err
}
