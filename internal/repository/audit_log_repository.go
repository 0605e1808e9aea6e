package repository

import (
	"context"
	"time"

	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"gorm.io/gorm"
)

// AuditFilter 审计查询条件
type AuditFilter struct {
	From         *time.Time
	To           *time.Time
	DocumentID   string
	UserID       string
	Category     string
	Action       string
	CriticalOnly bool
	Limit        int
	Offset       int
}

// AuditLogRepository 审计日志仓储接口
// 仅提供追加与查询，不提供任何修改或删除方法
type AuditLogRepository interface {
	Create(ctx context.Context, entry *model.AuditLogModel) error
	Latest(ctx context.Context) (*model.AuditLogModel, error)
	Predecessor(ctx context.Context, sequence int64) (*model.AuditLogModel, error)
	FindByID(ctx context.Context, id string) (*model.AuditLogModel, error)
	Walk(ctx context.Context, fromSequence int64, batchSize int, fn func([]*model.AuditLogModel) error) error
	Query(ctx context.Context, filter AuditFilter) ([]*model.AuditLogModel, int64, error)
	FindBySubject(ctx context.Context, subjectType string, subjectID string) ([]*model.AuditLogModel, error)
	FindByUserID(ctx context.Context, userID string) ([]*model.AuditLogModel, error)
}

// auditLogRepository 审计日志仓储实现
type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓储
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

// Create 追加审计日志
func (r *auditLogRepository) Create(ctx context.Context, entry *model.AuditLogModel) error {
	return database.Conn(ctx, r.db).Create(entry).Error
}

// Latest 获取最新一条审计日志，链为空时返回 nil
func (r *auditLogRepository) Latest(ctx context.Context) (*model.AuditLogModel, error) {
	var entries []*model.AuditLogModel
	err := database.Conn(ctx, r.db).Order("sequence DESC").Limit(1).Find(&entries).Error
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// Predecessor 获取指定序号之前的一条审计日志
func (r *auditLogRepository) Predecessor(ctx context.Context, sequence int64) (*model.AuditLogModel, error) {
	var entries []*model.AuditLogModel
	err := database.Conn(ctx, r.db).
		Where("sequence < ?", sequence).
		Order("sequence DESC").
		Limit(1).
		Find(&entries).Error
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// FindByID 根据 ID 查找审计日志
func (r *auditLogRepository) FindByID(ctx context.Context, id string) (*model.AuditLogModel, error) {
	var entry model.AuditLogModel
	if err := database.Conn(ctx, r.db).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// Walk 按序号升序分批遍历
func (r *auditLogRepository) Walk(ctx context.Context, fromSequence int64, batchSize int, fn func([]*model.AuditLogModel) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	cursor := fromSequence
	first := true
	for {
		var batch []*model.AuditLogModel
		q := database.Conn(ctx, r.db)
		if first {
			q = q.Where("sequence >= ?", cursor)
		} else {
			q = q.Where("sequence > ?", cursor)
		}
		if err := q.Order("sequence ASC").Limit(batchSize).Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		cursor = batch[len(batch)-1].Sequence
		first = false
	}
}

// Query 按条件查询审计日志
func (r *auditLogRepository) Query(ctx context.Context, filter AuditFilter) ([]*model.AuditLogModel, int64, error) {
	q := database.Conn(ctx, r.db).Model(&model.AuditLogModel{})
	if filter.From != nil {
		q = q.Where("occurred_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("occurred_at <= ?", filter.To.UTC())
	}
	if filter.DocumentID != "" {
		q = q.Where("document_id = ?", filter.DocumentID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.CriticalOnly {
		q = q.Where("is_gmp_critical = ?", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q = q.Order("sequence ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}
	var entries []*model.AuditLogModel
	if err := q.Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// FindBySubject 根据审计对象查找
func (r *auditLogRepository) FindBySubject(ctx context.Context, subjectType string, subjectID string) ([]*model.AuditLogModel, error) {
	var entries []*model.AuditLogModel
	err := database.Conn(ctx, r.db).
		Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		Order("sequence ASC").
		Find(&entries).Error
	return entries, err
}

// FindByUserID 根据用户 ID 查找审计日志
func (r *auditLogRepository) FindByUserID(ctx context.Context, userID string) ([]*model.AuditLogModel, error) {
	var entries []*model.AuditLogModel
	err := database.Conn(ctx, r.db).Where("user_id = ?", userID).Order("sequence DESC").Find(&entries).Error
	return entries, err
}
