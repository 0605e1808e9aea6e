package types

import (
	"context"
	"time"
)

// 文档状态码
const (
	DocumentStatusDraft           = "draft"
	DocumentStatusPendingApproval = "pending_approval"
	DocumentStatusApproved        = "approved"
)

// 权限名
const (
	PermissionWorkflowApprove = "workflow.approve"
	PermissionWorkflowManage  = "workflow.manage"
	PermissionAuditView       = "audit.view"
	PermissionSignatureRevoke = "signature.revoke"
	PermissionSignatureManage = "signature.manage"
	PermissionDocumentManage  = "document.manage"
)

// PermissionChecker 权限检查
type PermissionChecker interface {
	HasRole(ctx context.Context, actor Actor, roleID string) (bool, error)
	HasAnyRole(ctx context.Context, actor Actor, roleNames []string) (bool, error)
	HasPermission(ctx context.Context, actor Actor, permission string) (bool, error)
}

// DocumentInfo 文档摘要
type DocumentInfo struct {
	ID            string
	Number        string
	Title         string
	Status        string
	IsGMPCritical bool
}

// VersionRef 文档版本引用
type VersionRef struct {
	ID            string
	DocumentID    string
	VersionNumber string
	FileHash      string
	UpdatedAt     time.Time
}

// DocumentStore 文档存储
type DocumentStore interface {
	Describe(ctx context.Context, documentID string) (*DocumentInfo, error)
	// CurrentVersion 文档没有当前版本时返回 nil, nil
	CurrentVersion(ctx context.Context, documentID string) (*VersionRef, error)
	Version(ctx context.Context, versionID string) (*VersionRef, error)
	// ContentHash 版本未记录文件哈希时返回空串
	ContentHash(ctx context.Context, versionID string) (string, error)
	SetStatus(ctx context.Context, documentID string, status string) error
	MarkVersionApproved(ctx context.Context, versionID string, approvedBy string, at time.Time) error
}

// Notification 通知
type Notification struct {
	UserID      string
	Type        string
	Title       string
	Message     string
	Priority    string
	SubjectType string
	SubjectID   string
}

// NotificationDispatcher 通知分发
type NotificationDispatcher interface {
	Notify(ctx context.Context, n Notification) error
}
