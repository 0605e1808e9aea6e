package model

import (
	"errors"
	"time"
)

// 实例状态
const (
	InstanceStatusDraft      = "draft"
	InstanceStatusPending    = "pending"
	InstanceStatusInProgress = "in_progress"
	InstanceStatusApproved   = "approved"
	InstanceStatusRejected   = "rejected"
	InstanceStatusCancelled  = "cancelled"
	InstanceStatusExpired    = "expired"
)

// WorkflowInstanceModel 工作流实例数据模型
type WorkflowInstanceModel struct {
	ID                string     `gorm:"primaryKey;type:varchar(64)"`
	WorkflowID        string     `gorm:"type:varchar(64);not null;index"`
	DocumentID        string     `gorm:"type:varchar(64);not null;index"`
	DocumentVersionID string     `gorm:"type:varchar(64);not null"`
	InitiatedBy       string     `gorm:"type:varchar(64);not null;index"`
	Status            string     `gorm:"type:varchar(32);not null;index"`
	CurrentStepOrder  int        `gorm:"type:int;not null"`
	CurrentStepID     *string    `gorm:"type:varchar(64)"`
	ActiveDocumentID  *string    `gorm:"type:varchar(64);uniqueIndex:idx_instances_active_document"` // 活跃期间等于 DocumentID
	InitiatedAt       time.Time  `gorm:"not null"`
	SubmittedAt       *time.Time
	CompletedAt       *time.Time
	CompletedBy       string     `gorm:"type:varchar(64)"`
	DueDate           *time.Time `gorm:"index"`
	FinalComment      string     `gorm:"type:text"`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null;index"`
}

// TableName 指定表名
func (WorkflowInstanceModel) TableName() string {
	return "workflow_instances"
}

// IsActive 是否处于活跃状态
func (m *WorkflowInstanceModel) IsActive() bool {
	return m.Status == InstanceStatusPending || m.Status == InstanceStatusInProgress
}

// IsTerminal 是否为终态
func (m *WorkflowInstanceModel) IsTerminal() bool {
	switch m.Status {
	case InstanceStatusApproved, InstanceStatusRejected, InstanceStatusCancelled, InstanceStatusExpired:
		return true
	}
	return false
}

// SyncActiveSlot 根据状态维护活跃文档占位
func (m *WorkflowInstanceModel) SyncActiveSlot() {
	if m.IsActive() {
		docID := m.DocumentID
		m.ActiveDocumentID = &docID
		return
	}
	m.ActiveDocumentID = nil
}

// BindStep 绑定当前步骤，step 为 nil 时清空
func (m *WorkflowInstanceModel) BindStep(step *WorkflowStepModel) {
	if step == nil {
		m.CurrentStepID = nil
		m.CurrentStepOrder = 0
		return
	}
	id := step.ID
	m.CurrentStepID = &id
	m.CurrentStepOrder = step.StepOrder
}

// Validate 验证实例模型
func (m *WorkflowInstanceModel) Validate() error {
	if m.ID == "" {
		return errors.New("instance ID is required")
	}
	if m.WorkflowID == "" {
		return errors.New("workflow ID is required")
	}
	if m.DocumentID == "" {
		return errors.New("document ID is required")
	}
	if m.Status == "" {
		return errors.New("instance status is required")
	}
	return nil
}
