package repository

import (
	"context"

	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"gorm.io/gorm"
)

// CredentialRepository 签名凭证仓储接口
type CredentialRepository interface {
	Find(ctx context.Context, userID string) (*model.SignerCredentialModel, error)
	Save(ctx context.Context, credential *model.SignerCredentialModel) error
}

// credentialRepository 签名凭证仓储实现
type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository 创建签名凭证仓储
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

// Find 查找凭证，不存在时返回 nil
func (r *credentialRepository) Find(ctx context.Context, userID string) (*model.SignerCredentialModel, error) {
	var credentials []*model.SignerCredentialModel
	err := database.Conn(ctx, r.db).Where("user_id = ?", userID).Limit(1).Find(&credentials).Error
	if err != nil || len(credentials) == 0 {
		return nil, err
	}
	return credentials[0], nil
}

// Save 保存凭证
func (r *credentialRepository) Save(ctx context.Context, credential *model.SignerCredentialModel) error {
	return database.Conn(ctx, r.db).Save(credential).Error
}
