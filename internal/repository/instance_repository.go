package repository

import (
	"context"
	"time"

	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InstanceRepository 工作流实例仓储接口
type InstanceRepository interface {
	Create(ctx context.Context, instance *model.WorkflowInstanceModel) error
	Save(ctx context.Context, instance *model.WorkflowInstanceModel) error
	FindByID(ctx context.Context, id string) (*model.WorkflowInstanceModel, error)
	FindByIDForUpdate(ctx context.Context, id string) (*model.WorkflowInstanceModel, error)
	FindActiveByDocument(ctx context.Context, documentID string) (*model.WorkflowInstanceModel, error)
	ListByDocument(ctx context.Context, documentID string) ([]*model.WorkflowInstanceModel, error)
	ListActive(ctx context.Context) ([]*model.WorkflowInstanceModel, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*model.WorkflowInstanceModel, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// instanceRepository 工作流实例仓储实现
type instanceRepository struct {
	db *gorm.DB
}

// NewInstanceRepository 创建工作流实例仓储
func NewInstanceRepository(db *gorm.DB) InstanceRepository {
	return &instanceRepository{db: db}
}

// Create 创建实例
func (r *instanceRepository) Create(ctx context.Context, instance *model.WorkflowInstanceModel) error {
	if err := instance.Validate(); err != nil {
		return err
	}
	instance.SyncActiveSlot()
	return database.Conn(ctx, r.db).Create(instance).Error
}

// Save 保存实例，活跃文档占位随状态同步
func (r *instanceRepository) Save(ctx context.Context, instance *model.WorkflowInstanceModel) error {
	instance.SyncActiveSlot()
	return database.Conn(ctx, r.db).Save(instance).Error
}

// FindByID 根据 ID 查找实例
func (r *instanceRepository) FindByID(ctx context.Context, id string) (*model.WorkflowInstanceModel, error) {
	var instance model.WorkflowInstanceModel
	if err := database.Conn(ctx, r.db).Where("id = ?", id).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// FindByIDForUpdate 根据 ID 查找实例并加行锁
func (r *instanceRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.WorkflowInstanceModel, error) {
	q := database.Conn(ctx, r.db)
	if database.IsPostgres(q) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var instance model.WorkflowInstanceModel
	if err := q.Where("id = ?", id).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// FindActiveByDocument 查找文档的活跃实例，不存在时返回 nil
func (r *instanceRepository) FindActiveByDocument(ctx context.Context, documentID string) (*model.WorkflowInstanceModel, error) {
	var instances []*model.WorkflowInstanceModel
	err := database.Conn(ctx, r.db).
		Where("document_id = ? AND status IN ?", documentID, []string{model.InstanceStatusPending, model.InstanceStatusInProgress}).
		Limit(1).
		Find(&instances).Error
	if err != nil || len(instances) == 0 {
		return nil, err
	}
	return instances[0], nil
}

// ListByDocument 列出文档的全部实例
func (r *instanceRepository) ListByDocument(ctx context.Context, documentID string) ([]*model.WorkflowInstanceModel, error) {
	var instances []*model.WorkflowInstanceModel
	err := database.Conn(ctx, r.db).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Find(&instances).Error
	return instances, err
}

// ListActive 列出全部活跃实例
func (r *instanceRepository) ListActive(ctx context.Context) ([]*model.WorkflowInstanceModel, error) {
	var instances []*model.WorkflowInstanceModel
	err := database.Conn(ctx, r.db).
		Where("status IN ?", []string{model.InstanceStatusPending, model.InstanceStatusInProgress}).
		Order("submitted_at ASC").
		Find(&instances).Error
	return instances, err
}

// ListOverdue 列出已超过截止时间的活跃实例
func (r *instanceRepository) ListOverdue(ctx context.Context, now time.Time) ([]*model.WorkflowInstanceModel, error) {
	var instances []*model.WorkflowInstanceModel
	err := database.Conn(ctx, r.db).
		Where("status IN ? AND due_date IS NOT NULL AND due_date < ?",
			[]string{model.InstanceStatusPending, model.InstanceStatusInProgress}, now.UTC()).
		Find(&instances).Error
	return instances, err
}

// CountByStatus 按状态统计实例数
func (r *instanceRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := database.Conn(ctx, r.db).
		Model(&model.WorkflowInstanceModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.Status] = row.Count
	}
	return result, nil
}
