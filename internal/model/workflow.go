package model

import (
	"errors"
	"time"
)

// 工作流类型
const (
	WorkflowTypeApproval      = "approval"
	WorkflowTypeReview        = "review"
	WorkflowTypeValidation    = "validation"
	WorkflowTypeChangeControl = "change_control"
)

// 步骤类型
const (
	StepTypeReview             = "review"
	StepTypeApproval           = "approval"
	StepTypeSignature          = "signature"
	StepTypeQAApproval         = "qa_approval"
	StepTypeRegulatoryApproval = "regulatory_approval"
	StepTypeFinalApproval      = "final_approval"
)

// WorkflowModel 工作流模板数据模型
type WorkflowModel struct {
	ID                         string              `gorm:"primaryKey;type:varchar(64)"`
	Code                       string              `gorm:"type:varchar(64);uniqueIndex"`
	Name                       string              `gorm:"type:varchar(255);not null"`
	Description                string              `gorm:"type:text"`
	Type                       string              `gorm:"type:varchar(32);not null"`
	RequiresSequentialApproval bool                `gorm:"not null"`
	AllowsParallelApproval     bool                `gorm:"not null"`
	RequiresAllApprovers       bool                `gorm:"not null"`
	MinApprovers               int                 `gorm:"type:int"`
	AllowsDelegation           bool                `gorm:"not null"`
	AllowsRejection            bool                `gorm:"not null"`
	AllowsRevisionRequest      bool                `gorm:"not null"`
	EscalationDays             int                 `gorm:"type:int"`
	EscalationRoleID           string              `gorm:"type:varchar(64)"`
	IsActive                   bool                `gorm:"not null;index"`
	Steps                      []WorkflowStepModel `gorm:"foreignKey:WorkflowID"`
	CreatedBy                  string              `gorm:"type:varchar(64)"`
	CreatedAt                  time.Time           `gorm:"not null"`
	UpdatedAt                  time.Time           `gorm:"not null"`
}

// TableName 指定表名
func (WorkflowModel) TableName() string {
	return "workflows"
}

// Validate 验证工作流模型
func (wm *WorkflowModel) Validate() error {
	if wm.ID == "" {
		return errors.New("workflow ID is required")
	}
	if wm.Name == "" {
		return errors.New("workflow name is required")
	}
	switch wm.Type {
	case WorkflowTypeApproval, WorkflowTypeReview, WorkflowTypeValidation, WorkflowTypeChangeControl:
	default:
		return errors.New("invalid workflow type")
	}
	seen := make(map[int]bool, len(wm.Steps))
	for i := range wm.Steps {
		if seen[wm.Steps[i].StepOrder] {
			return errors.New("duplicate step order")
		}
		seen[wm.Steps[i].StepOrder] = true
	}
	return nil
}

// WorkflowStepModel 工作流步骤数据模型
// 资格规则按 RequiredUserID、RequiredRoleID、AllowedRoles、AnyUserWithPermission 的顺序取第一个已配置项
type WorkflowStepModel struct {
	ID                    string    `gorm:"primaryKey;type:varchar(64)"`
	WorkflowID            string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_step_position,priority:1"`
	Name                  string    `gorm:"type:varchar(255);not null"`
	Description           string    `gorm:"type:text"`
	StepOrder             int       `gorm:"type:int;not null;uniqueIndex:idx_step_position,priority:2"`
	StepType              string    `gorm:"type:varchar(32);not null"`
	RequiredUserID        string    `gorm:"type:varchar(64)"`
	RequiredRoleID        string    `gorm:"type:varchar(64)"`
	AllowedRoles          []string  `gorm:"type:text;serializer:json"`
	AnyUserWithPermission bool      `gorm:"not null"`
	RequiresComment       bool      `gorm:"not null"`
	RequiresSignature     bool      `gorm:"not null"`
	TimeoutDays           int       `gorm:"type:int"`
	TargetStatus          string    `gorm:"type:varchar(32)"` // 通过后文档状态
	RejectionStatus       string    `gorm:"type:varchar(32)"` // 驳回后文档状态
	IsActive              bool      `gorm:"not null"`
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

// TableName 指定表名
func (WorkflowStepModel) TableName() string {
	return "workflow_steps"
}

// RequiresElectronicSignature 是否需要电子签名
func (s *WorkflowStepModel) RequiresElectronicSignature() bool {
	return s.RequiresSignature || s.StepType == StepTypeSignature
}

// IsApprovalStep 是否为审批类步骤
func (s *WorkflowStepModel) IsApprovalStep() bool {
	switch s.StepType {
	case StepTypeApproval, StepTypeQAApproval, StepTypeRegulatoryApproval, StepTypeFinalApproval:
		return true
	}
	return false
}

// Validate 验证步骤模型
func (s *WorkflowStepModel) Validate() error {
	if s.ID == "" {
		return errors.New("step ID is required")
	}
	if s.WorkflowID == "" {
		return errors.New("workflow ID is required")
	}
	if s.StepOrder <= 0 {
		return errors.New("step order must be positive")
	}
	switch s.StepType {
	case StepTypeReview, StepTypeApproval, StepTypeSignature, StepTypeQAApproval, StepTypeRegulatoryApproval, StepTypeFinalApproval:
	default:
		return errors.New("invalid step type")
	}
	return nil
}
