package model

import (
	"errors"
	"time"
)

// DocumentModel 受控文档数据模型
type DocumentModel struct {
	ID               string    `gorm:"primaryKey;type:varchar(64)"`
	DocumentNumber   string    `gorm:"type:varchar(64);uniqueIndex"`
	Title            string    `gorm:"type:varchar(255);not null"`
	StatusCode       string    `gorm:"type:varchar(32);not null;index"`
	CurrentVersionID *string   `gorm:"type:varchar(64)"`
	IsGMPCritical    bool      `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName 指定表名
func (DocumentModel) TableName() string {
	return "documents"
}

// Validate 验证文档模型
func (m *DocumentModel) Validate() error {
	if m.ID == "" {
		return errors.New("document ID is required")
	}
	if m.Title == "" {
		return errors.New("document title is required")
	}
	return nil
}

// DocumentVersionModel 文档版本数据模型
type DocumentVersionModel struct {
	ID            string     `gorm:"primaryKey;type:varchar(64)"`
	DocumentID    string     `gorm:"type:varchar(64);not null;index"`
	VersionNumber string     `gorm:"type:varchar(32);not null"`
	FileHash      string     `gorm:"type:varchar(64)"` // 文件 SHA-256
	IsApproved    bool       `gorm:"not null"`
	ApprovedAt    *time.Time
	ApprovedBy    string     `gorm:"type:varchar(64)"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

// TableName 指定表名
func (DocumentVersionModel) TableName() string {
	return "document_versions"
}
