package signature

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mautops/docflow-gin/internal/types"
	"github.com/mautops/docflow-gin/internal/utils"
)

// 签名对象类型
const (
	SignableDocumentVersion  = "document_version"
	SignableWorkflowInstance = "workflow_instance"
	SignableTrainingAck      = "training_acknowledgment"
)

// SigningContext 签名对象的只读投影
type SigningContext struct {
	DocumentID  string
	VersionID   string
	ContentHash string
}

// Target 可签名对象
// 只有本包内定义的变体可以实现
type Target interface {
	SignableType() string
	SignableID() string
	Resolve(ctx context.Context, docs types.DocumentStore) (*SigningContext, error)
	sealed()
}

// DocumentVersionTarget 对文档版本签名
type DocumentVersionTarget struct {
	VersionID string
}

func (t DocumentVersionTarget) SignableType() string { return SignableDocumentVersion }
func (t DocumentVersionTarget) SignableID() string   { return t.VersionID }
func (DocumentVersionTarget) sealed()                {}

// Resolve 解析签名上下文
func (t DocumentVersionTarget) Resolve(ctx context.Context, docs types.DocumentStore) (*SigningContext, error) {
	version, err := docs.Version(ctx, t.VersionID)
	if err != nil {
		return nil, err
	}
	hash, err := VersionHash(ctx, docs, version.ID)
	if err != nil {
		return nil, err
	}
	return &SigningContext{DocumentID: version.DocumentID, VersionID: version.ID, ContentHash: hash}, nil
}

// WorkflowInstanceTarget 对工作流步骤签名
// 绑定文档版本内容哈希，签名对象记录为工作流实例
type WorkflowInstanceTarget struct {
	InstanceID string
	DocumentID string
	VersionID  string
	UpdatedAt  time.Time
}

func (t WorkflowInstanceTarget) SignableType() string { return SignableWorkflowInstance }
func (t WorkflowInstanceTarget) SignableID() string   { return t.InstanceID }
func (WorkflowInstanceTarget) sealed()                {}

// Resolve 解析签名上下文
func (t WorkflowInstanceTarget) Resolve(ctx context.Context, docs types.DocumentStore) (*SigningContext, error) {
	return resolveWithFallback(ctx, docs, t.DocumentID, t.VersionID, t.SignableType(), t.InstanceID, t.UpdatedAt)
}

// TrainingAckTarget 培训确认签名
type TrainingAckTarget struct {
	ID         string
	DocumentID string
	VersionID  string
	UpdatedAt  time.Time
}

func (t TrainingAckTarget) SignableType() string { return SignableTrainingAck }
func (t TrainingAckTarget) SignableID() string   { return t.ID }
func (TrainingAckTarget) sealed()                {}

// Resolve 解析签名上下文
func (t TrainingAckTarget) Resolve(ctx context.Context, docs types.DocumentStore) (*SigningContext, error) {
	return resolveWithFallback(ctx, docs, t.DocumentID, t.VersionID, t.SignableType(), t.ID, t.UpdatedAt)
}

func resolveWithFallback(ctx context.Context, docs types.DocumentStore, documentID, versionID, signableType, signableID string, updatedAt time.Time) (*SigningContext, error) {
	sc := &SigningContext{DocumentID: documentID, VersionID: versionID}
	if versionID != "" {
		hash, err := VersionHash(ctx, docs, versionID)
		if err != nil {
			return nil, err
		}
		sc.ContentHash = hash
		return sc, nil
	}
	sc.ContentHash = IdentityHash(signableID, signableType, updatedAt)
	return sc, nil
}

// VersionHash 文档版本内容哈希
// 版本没有记录文件哈希时退化为标识哈希
func VersionHash(ctx context.Context, docs types.DocumentStore, versionID string) (string, error) {
	hash, err := docs.ContentHash(ctx, versionID)
	if err != nil {
		return "", fmt.Errorf("failed to read content hash: %w", err)
	}
	if hash != "" {
		return hash, nil
	}
	version, err := docs.Version(ctx, versionID)
	if err != nil {
		return "", err
	}
	return IdentityHash(version.ID, SignableDocumentVersion, version.UpdatedAt), nil
}

// IdentityHash SHA-256(JSON{id, type, updated_at})
func IdentityHash(id string, signableType string, updatedAt time.Time) string {
	raw, _ := json.Marshal(struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		UpdatedAt string `json:"updated_at"`
	}{
		ID:        id,
		Type:      signableType,
		UpdatedAt: types.NormalizeTime(updatedAt).Format(time.RFC3339Nano),
	})
	return utils.SHA256Hex(raw)
}
