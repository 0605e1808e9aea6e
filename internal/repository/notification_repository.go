package repository

import (
	"context"
	"time"

	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"gorm.io/gorm"
)

// NotificationRepository 通知仓储接口
type NotificationRepository interface {
	Create(ctx context.Context, notification *model.NotificationModel) error
	FindByUser(ctx context.Context, userID string, unreadOnly bool) ([]*model.NotificationModel, error)
	MarkRead(ctx context.Context, id string, userID string, at time.Time) (bool, error)
	UpdateDelivery(ctx context.Context, id string, delivery string, retryCount int) error
}

// notificationRepository 通知仓储实现
type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository 创建通知仓储
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// Create 保存通知
func (r *notificationRepository) Create(ctx context.Context, notification *model.NotificationModel) error {
	if err := notification.Validate(); err != nil {
		return err
	}
	return database.Conn(ctx, r.db).Create(notification).Error
}

// FindByUser 查找用户通知
func (r *notificationRepository) FindByUser(ctx context.Context, userID string, unreadOnly bool) ([]*model.NotificationModel, error) {
	q := database.Conn(ctx, r.db).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var notifications []*model.NotificationModel
	err := q.Order("created_at DESC").Find(&notifications).Error
	return notifications, err
}

// MarkRead 标记已读
func (r *notificationRepository) MarkRead(ctx context.Context, id string, userID string, at time.Time) (bool, error) {
	result := database.Conn(ctx, r.db).
		Model(&model.NotificationModel{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).
		Update("read_at", at)
	return result.RowsAffected > 0, result.Error
}

// UpdateDelivery 更新投递状态
func (r *notificationRepository) UpdateDelivery(ctx context.Context, id string, delivery string, retryCount int) error {
	return database.Conn(ctx, r.db).
		Model(&model.NotificationModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"delivery": delivery, "retry_count": retryCount}).Error
}
