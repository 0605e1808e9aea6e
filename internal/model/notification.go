package model

import (
	"errors"
	"time"
)

// 通知类型
const (
	NotificationWorkflowPending   = "workflow_pending"
	NotificationWorkflowApproved  = "workflow_approved"
	NotificationWorkflowRejected  = "workflow_rejected"
	NotificationRevisionRequested = "workflow_revision_requested"
	NotificationWorkflowCancelled = "workflow_cancelled"
	NotificationWorkflowExpired   = "workflow_expired"
)

// 投递状态
const (
	DeliveryStored    = "stored"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// NotificationModel 站内通知数据模型
type NotificationModel struct {
	ID          string     `gorm:"primaryKey;type:varchar(64)"`
	UserID      string     `gorm:"type:varchar(64);not null;index"`
	Type        string     `gorm:"type:varchar(64);not null;index"`
	Title       string     `gorm:"type:varchar(255);not null"`
	Message     string     `gorm:"type:text"`
	Priority    string     `gorm:"type:varchar(16);not null"` // low/normal/high
	SubjectType string     `gorm:"type:varchar(64)"`
	SubjectID   string     `gorm:"type:varchar(64)"`
	Delivery    string     `gorm:"type:varchar(16);not null"`
	RetryCount  int        `gorm:"type:int"`
	ReadAt      *time.Time
	CreatedAt   time.Time  `gorm:"not null;index"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

// TableName 指定表名
func (NotificationModel) TableName() string {
	return "notifications"
}

// Validate 验证通知模型
func (m *NotificationModel) Validate() error {
	if m.ID == "" {
		return errors.New("notification ID is required")
	}
	if m.UserID == "" {
		return errors.New("user ID is required")
	}
	if m.Type == "" {
		return errors.New("notification type is required")
	}
	if m.Priority == "" {
		m.Priority = "normal"
	}
	if m.Delivery == "" {
		m.Delivery = DeliveryStored
	}
	return nil
}
