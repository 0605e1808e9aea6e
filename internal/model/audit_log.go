package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GenesisHash 审计链首条记录的前序哈希
const GenesisHash = "genesis"

// 审计类别
const (
	AuditCategoryDocument  = "document"
	AuditCategoryWorkflow  = "workflow"
	AuditCategoryUser      = "user"
	AuditCategorySystem    = "system"
	AuditCategoryAccess    = "access"
	AuditCategorySignature = "signature"
	AuditCategoryTraining  = "training"
)

// 审计动作
const (
	AuditActionCreate      = "create"
	AuditActionUpdate      = "update"
	AuditActionDelete      = "delete"
	AuditActionView        = "view"
	AuditActionDownload    = "download"
	AuditActionPrint       = "print"
	AuditActionExport      = "export"
	AuditActionApprove     = "approve"
	AuditActionReject      = "reject"
	AuditActionSign        = "sign"
	AuditActionSubmit      = "submit"
	AuditActionLogin       = "login"
	AuditActionLogout      = "logout"
	AuditActionLoginFailed = "login_failed"
)

// 审计结果
const (
	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

// ErrAuditImmutable 审计记录只允许追加
var ErrAuditImmutable = errors.New("audit log entries are immutable")

// AuditLogModel 审计日志数据模型
type AuditLogModel struct {
	ID              string            `gorm:"primaryKey;type:varchar(64)"`
	Sequence        int64             `gorm:"not null;uniqueIndex:idx_audit_sequence"`
	UserID          string            `gorm:"type:varchar(64);not null;index"`
	UserName        string            `gorm:"type:varchar(255)"`
	UserEmail       string            `gorm:"type:varchar(255)"`
	UserRoleID      string            `gorm:"type:varchar(64)"`
	UserRoleName    string            `gorm:"type:varchar(128)"`
	Action          string            `gorm:"type:varchar(64);not null;index"`
	Category        string            `gorm:"type:varchar(32);not null;index"`
	Description     string            `gorm:"type:text"`
	SubjectType     string            `gorm:"type:varchar(64);index:idx_audit_subject"`
	SubjectID       string            `gorm:"type:varchar(64);index:idx_audit_subject"`
	SubjectLabel    string            `gorm:"type:varchar(255)"`
	DocumentID      string            `gorm:"type:varchar(64);index"`
	OldValues       datatypes.JSONMap `gorm:"type:json"`
	NewValues       datatypes.JSONMap `gorm:"type:json"`
	ChangedFields   []string          `gorm:"type:text;serializer:json"`
	Metadata        datatypes.JSONMap `gorm:"type:json"`
	Comment         string            `gorm:"type:text"`
	Status          string            `gorm:"type:varchar(16);not null"`
	FailureReason   string            `gorm:"type:text"`
	OccurredAt      time.Time         `gorm:"not null;index"`
	IPAddress       string            `gorm:"type:varchar(45)"` // IPv4 或 IPv6
	UserAgent       string            `gorm:"type:text"`
	SessionID       string            `gorm:"type:varchar(128)"`
	RequestID       string            `gorm:"type:varchar(64);index"`
	IsGMPCritical   bool              `gorm:"not null;index"`
	IsSecurityEvent bool              `gorm:"not null"`
	PreviousHash    string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_audit_previous_hash"`
	EntryHash       string            `gorm:"type:varchar(64);not null"`
}

// TableName 指定表名
func (AuditLogModel) TableName() string {
	return "audit_logs"
}

// BeforeUpdate 禁止修改
func (alm *AuditLogModel) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditImmutable
}

// BeforeDelete 禁止删除
func (alm *AuditLogModel) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditImmutable
}

// Validate 验证审计日志模型
func (alm *AuditLogModel) Validate() error {
	if alm.ID == "" {
		return errors.New("audit log ID is required")
	}
	if alm.UserID == "" {
		return errors.New("user ID is required")
	}
	if alm.Action == "" {
		return errors.New("action is required")
	}
	if alm.Category == "" {
		return errors.New("category is required")
	}
	if alm.PreviousHash == "" || alm.EntryHash == "" {
		return errors.New("chain hashes are required")
	}
	return nil
}
