package repository

import (
	"context"

	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"gorm.io/gorm"
)

// StepActionRepository 步骤动作仓储接口
type StepActionRepository interface {
	Create(ctx context.Context, action *model.StepActionModel) error
	FindByInstanceID(ctx context.Context, instanceID string) ([]*model.StepActionModel, error)
	FindByUserID(ctx context.Context, userID string) ([]*model.StepActionModel, error)
}

// stepActionRepository 步骤动作仓储实现
type stepActionRepository struct {
	db *gorm.DB
}

// NewStepActionRepository 创建步骤动作仓储
func NewStepActionRepository(db *gorm.DB) StepActionRepository {
	return &stepActionRepository{db: db}
}

// Create 记录步骤动作
func (r *stepActionRepository) Create(ctx context.Context, action *model.StepActionModel) error {
	if err := action.Validate(); err != nil {
		return err
	}
	return database.Conn(ctx, r.db).Create(action).Error
}

// FindByInstanceID 根据实例 ID 查找步骤动作
func (r *stepActionRepository) FindByInstanceID(ctx context.Context, instanceID string) ([]*model.StepActionModel, error) {
	var actions []*model.StepActionModel
	err := database.Conn(ctx, r.db).
		Where("instance_id = ?", instanceID).
		Order("action_at ASC").
		Find(&actions).Error
	return actions, err
}

// FindByUserID 根据操作人查找步骤动作
func (r *stepActionRepository) FindByUserID(ctx context.Context, userID string) ([]*model.StepActionModel, error) {
	var actions []*model.StepActionModel
	err := database.Conn(ctx, r.db).
		Where("user_id = ?", userID).
		Order("action_at DESC").
		Find(&actions).Error
	return actions, err
}
