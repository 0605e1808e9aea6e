package repository

import (
	"context"
	"time"

	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"gorm.io/gorm"
)

// SignatureRepository 电子签名仓储接口
// 撤销是唯一允许的更新
type SignatureRepository interface {
	Create(ctx context.Context, signature *model.SignatureModel) error
	FindByID(ctx context.Context, id string) (*model.SignatureModel, error)
	FindByDocument(ctx context.Context, documentID string) ([]*model.SignatureModel, error)
	FindBySigner(ctx context.Context, signerID string) ([]*model.SignatureModel, error)
	FindBySignable(ctx context.Context, signableType string, signableID string) ([]*model.SignatureModel, error)
	// Revoke 仅撤销未撤销的签名，返回是否发生变更
	Revoke(ctx context.Context, id string, revokedBy string, at time.Time, reason string) (bool, error)
}

// signatureRepository 电子签名仓储实现
type signatureRepository struct {
	db *gorm.DB
}

// NewSignatureRepository 创建电子签名仓储
func NewSignatureRepository(db *gorm.DB) SignatureRepository {
	return &signatureRepository{db: db}
}

// Create 保存签名
func (r *signatureRepository) Create(ctx context.Context, signature *model.SignatureModel) error {
	if err := signature.Validate(); err != nil {
		return err
	}
	return database.Conn(ctx, r.db).Create(signature).Error
}

// FindByID 根据 ID 查找签名
func (r *signatureRepository) FindByID(ctx context.Context, id string) (*model.SignatureModel, error) {
	var signature model.SignatureModel
	if err := database.Conn(ctx, r.db).Where("id = ?", id).First(&signature).Error; err != nil {
		return nil, err
	}
	return &signature, nil
}

// FindByDocument 根据文档查找签名
func (r *signatureRepository) FindByDocument(ctx context.Context, documentID string) ([]*model.SignatureModel, error) {
	var signatures []*model.SignatureModel
	err := database.Conn(ctx, r.db).
		Where("document_id = ?", documentID).
		Order("signed_at DESC").
		Find(&signatures).Error
	return signatures, err
}

// FindBySigner 根据签名人查找签名
func (r *signatureRepository) FindBySigner(ctx context.Context, signerID string) ([]*model.SignatureModel, error) {
	var signatures []*model.SignatureModel
	err := database.Conn(ctx, r.db).
		Where("signer_id = ?", signerID).
		Order("signed_at DESC").
		Find(&signatures).Error
	return signatures, err
}

// FindBySignable 根据签名对象查找签名
func (r *signatureRepository) FindBySignable(ctx context.Context, signableType string, signableID string) ([]*model.SignatureModel, error) {
	var signatures []*model.SignatureModel
	err := database.Conn(ctx, r.db).
		Where("signable_type = ? AND signable_id = ?", signableType, signableID).
		Order("signed_at ASC").
		Find(&signatures).Error
	return signatures, err
}

// Revoke 撤销签名
func (r *signatureRepository) Revoke(ctx context.Context, id string, revokedBy string, at time.Time, reason string) (bool, error) {
	result := database.Conn(ctx, r.db).
		Model(&model.SignatureModel{}).
		Where("id = ? AND is_revoked = ?", id, false).
		Updates(map[string]interface{}{
			"is_revoked":        true,
			"is_valid":          false,
			"revoked_at":        at,
			"revoked_by":        revokedBy,
			"revocation_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
