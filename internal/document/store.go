package document

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/types"
	"gorm.io/gorm"
)

// Store 基于 GORM 的文档存储
type Store struct {
	db *gorm.DB
}

// NewStore 创建文档存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Describe 获取文档摘要
func (s *Store) Describe(ctx context.Context, documentID string) (*types.DocumentInfo, error) {
	doc, err := s.find(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &types.DocumentInfo{
		ID:            doc.ID,
		Number:        doc.DocumentNumber,
		Title:         doc.Title,
		Status:        doc.StatusCode,
		IsGMPCritical: doc.IsGMPCritical,
	}, nil
}

// CurrentVersion 获取文档当前版本，没有当前版本时返回 nil
func (s *Store) CurrentVersion(ctx context.Context, documentID string) (*types.VersionRef, error) {
	doc, err := s.find(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.CurrentVersionID == nil || *doc.CurrentVersionID == "" {
		return nil, nil
	}
	return s.Version(ctx, *doc.CurrentVersionID)
}

// Version 获取文档版本
func (s *Store) Version(ctx context.Context, versionID string) (*types.VersionRef, error) {
	version, err := s.findVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return &types.VersionRef{
		ID:            version.ID,
		DocumentID:    version.DocumentID,
		VersionNumber: version.VersionNumber,
		FileHash:      version.FileHash,
		UpdatedAt:     types.NormalizeTime(version.UpdatedAt),
	}, nil
}

// ContentHash 获取版本内容哈希
func (s *Store) ContentHash(ctx context.Context, versionID string) (string, error) {
	version, err := s.findVersion(ctx, versionID)
	if err != nil {
		return "", err
	}
	return version.FileHash, nil
}

// SetStatus 更新文档状态
func (s *Store) SetStatus(ctx context.Context, documentID string, status string) error {
	result := database.Conn(ctx, s.db).
		Model(&model.DocumentModel{}).
		Where("id = ?", documentID).
		Update("status_code", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrNotFound.Withf("document %s not found", documentID)
	}
	return nil
}

// MarkVersionApproved 标记版本已批准
// 不修改 updated_at，版本标识哈希保持不变
func (s *Store) MarkVersionApproved(ctx context.Context, versionID string, approvedBy string, at time.Time) error {
	result := database.Conn(ctx, s.db).
		Model(&model.DocumentVersionModel{}).
		Where("id = ?", versionID).
		UpdateColumns(map[string]interface{}{
			"is_approved": true,
			"approved_at": at,
			"approved_by": approvedBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrNotFound.Withf("document version %s not found", versionID)
	}
	return nil
}

// Create 登记文档及其首个版本
func (s *Store) Create(ctx context.Context, doc *model.DocumentModel, version *model.DocumentVersionModel) error {
	if err := doc.Validate(); err != nil {
		return types.ErrInvalidInput.Wrap(err)
	}
	return database.Transaction(ctx, s.db, func(ctx context.Context) error {
		if doc.StatusCode == "" {
			doc.StatusCode = types.DocumentStatusDraft
		}
		if version != nil {
			version.DocumentID = doc.ID
			id := version.ID
			doc.CurrentVersionID = &id
		}
		if err := database.Conn(ctx, s.db).Create(doc).Error; err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		if version != nil {
			if err := database.Conn(ctx, s.db).Create(version).Error; err != nil {
				return fmt.Errorf("failed to create document version: %w", err)
			}
		}
		return nil
	})
}

// Get 获取文档
func (s *Store) Get(ctx context.Context, documentID string) (*model.DocumentModel, error) {
	return s.find(ctx, documentID)
}

func (s *Store) find(ctx context.Context, documentID string) (*model.DocumentModel, error) {
	var doc model.DocumentModel
	err := database.Conn(ctx, s.db).Where("id = ?", documentID).First(&doc).Error
	if database.IsNotFound(err) {
		return nil, types.ErrNotFound.Withf("document %s not found", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &doc, nil
}

func (s *Store) findVersion(ctx context.Context, versionID string) (*model.DocumentVersionModel, error) {
	var version model.DocumentVersionModel
	err := database.Conn(ctx, s.db).Where("id = ?", versionID).First(&version).Error
	if database.IsNotFound(err) {
		return nil, types.ErrNotFound.Withf("document version %s not found", versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document version: %w", err)
	}
	return &version, nil
}
