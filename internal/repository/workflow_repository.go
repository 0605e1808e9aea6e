package repository

import (
	"context"

	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"gorm.io/gorm"
)

// WorkflowRepository 工作流模板仓储接口
type WorkflowRepository interface {
	Create(ctx context.Context, workflow *model.WorkflowModel) error
	FindByID(ctx context.Context, id string) (*model.WorkflowModel, error)
	List(ctx context.Context, activeOnly bool) ([]*model.WorkflowModel, error)
	FindStep(ctx context.Context, stepID string) (*model.WorkflowStepModel, error)
	FirstStep(ctx context.Context, workflowID string) (*model.WorkflowStepModel, error)
	NextStep(ctx context.Context, workflowID string, afterOrder int) (*model.WorkflowStepModel, error)
}

// workflowRepository 工作流模板仓储实现
type workflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository 创建工作流模板仓储
func NewWorkflowRepository(db *gorm.DB) WorkflowRepository {
	return &workflowRepository{db: db}
}

func orderedSteps(db *gorm.DB) *gorm.DB {
	return db.Order("step_order ASC")
}

// Create 创建工作流及其步骤
func (r *workflowRepository) Create(ctx context.Context, workflow *model.WorkflowModel) error {
	if err := workflow.Validate(); err != nil {
		return err
	}
	for i := range workflow.Steps {
		workflow.Steps[i].WorkflowID = workflow.ID
		if err := workflow.Steps[i].Validate(); err != nil {
			return err
		}
	}
	return database.Conn(ctx, r.db).Create(workflow).Error
}

// FindByID 根据 ID 查找工作流，步骤按顺序加载
func (r *workflowRepository) FindByID(ctx context.Context, id string) (*model.WorkflowModel, error) {
	var workflow model.WorkflowModel
	err := database.Conn(ctx, r.db).
		Preload("Steps", orderedSteps).
		Where("id = ?", id).
		First(&workflow).Error
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

// List 列出工作流
func (r *workflowRepository) List(ctx context.Context, activeOnly bool) ([]*model.WorkflowModel, error) {
	q := database.Conn(ctx, r.db).Preload("Steps", orderedSteps)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var workflows []*model.WorkflowModel
	err := q.Order("name ASC").Find(&workflows).Error
	return workflows, err
}

// FindStep 根据 ID 查找步骤
func (r *workflowRepository) FindStep(ctx context.Context, stepID string) (*model.WorkflowStepModel, error) {
	var step model.WorkflowStepModel
	if err := database.Conn(ctx, r.db).Where("id = ?", stepID).First(&step).Error; err != nil {
		return nil, err
	}
	return &step, nil
}

// FirstStep 获取顺序最小的启用步骤，不存在时返回 nil
func (r *workflowRepository) FirstStep(ctx context.Context, workflowID string) (*model.WorkflowStepModel, error) {
	return r.NextStep(ctx, workflowID, 0)
}

// NextStep 获取顺序严格大于 afterOrder 的第一个启用步骤，不存在时返回 nil
func (r *workflowRepository) NextStep(ctx context.Context, workflowID string, afterOrder int) (*model.WorkflowStepModel, error) {
	var steps []*model.WorkflowStepModel
	err := database.Conn(ctx, r.db).
		Where("workflow_id = ? AND is_active = ? AND step_order > ?", workflowID, true, afterOrder).
		Order("step_order ASC").
		Limit(1).
		Find(&steps).Error
	if err != nil || len(steps) == 0 {
		return nil, err
	}
	return steps[0], nil
}
