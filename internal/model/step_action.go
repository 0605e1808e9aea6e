package model

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// 步骤动作
const (
	ActionSubmitted         = "submitted"
	ActionApproved          = "approved"
	ActionRejected          = "rejected"
	ActionRevisionRequested = "revision_requested"
	ActionCommented         = "commented"
	ActionDelegated         = "delegated"
	ActionEscalated         = "escalated"
	ActionSkipped           = "skipped"
	ActionTimedOut          = "timed_out"
)

// ErrStepActionImmutable 步骤动作只允许新增
var ErrStepActionImmutable = errors.New("workflow step actions are immutable")

// StepActionModel 工作流步骤动作数据模型
type StepActionModel struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)"`
	InstanceID        string    `gorm:"type:varchar(64);not null;index"`
	StepID            string    `gorm:"type:varchar(64);index"`
	StepOrder         int       `gorm:"type:int;not null"`
	UserID            string    `gorm:"type:varchar(64);not null;index"`
	OnBehalfOf        string    `gorm:"type:varchar(64)"` // 委托人
	Action            string    `gorm:"type:varchar(32);not null"`
	Comment           string    `gorm:"type:text"`
	ActionAt          time.Time `gorm:"not null;index"`
	SignatureRequired bool      `gorm:"not null"`
	SignatureProvided bool      `gorm:"not null"`
	SignatureID       string    `gorm:"type:varchar(64)"`
	IPAddress         string    `gorm:"type:varchar(45)"`
	UserAgent         string    `gorm:"type:text"`
}

// TableName 指定表名
func (StepActionModel) TableName() string {
	return "workflow_step_actions"
}

// BeforeUpdate 禁止修改
func (m *StepActionModel) BeforeUpdate(tx *gorm.DB) error {
	return ErrStepActionImmutable
}

// BeforeDelete 禁止删除
func (m *StepActionModel) BeforeDelete(tx *gorm.DB) error {
	return ErrStepActionImmutable
}

// Validate 验证步骤动作模型
func (m *StepActionModel) Validate() error {
	if m.ID == "" {
		return errors.New("action ID is required")
	}
	if m.InstanceID == "" {
		return errors.New("instance ID is required")
	}
	if m.UserID == "" {
		return errors.New("user ID is required")
	}
	if m.Action == "" {
		return errors.New("action is required")
	}
	return nil
}
