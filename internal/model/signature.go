package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 签名含义
const (
	MeaningCreated      = "created"
	MeaningReviewed     = "reviewed"
	MeaningVerified     = "verified"
	MeaningApproved     = "approved"
	MeaningAuthorized   = "authorized"
	MeaningReleased     = "released"
	MeaningAcknowledged = "acknowledged"
	MeaningWitnessed    = "witnessed"
	MeaningRejected     = "rejected"
)

// MeaningDescriptions 签名含义说明
var MeaningDescriptions = map[string]string{
	MeaningCreated:      "I am the author of this document",
	MeaningReviewed:     "I have reviewed this document",
	MeaningVerified:     "I have verified the content of this document",
	MeaningApproved:     "I approve this document",
	MeaningAuthorized:   "I authorize the use of this document",
	MeaningReleased:     "I release this document for use",
	MeaningAcknowledged: "I acknowledge that I have read and understood this document",
	MeaningWitnessed:    "I witnessed this action",
	MeaningRejected:     "I reject this document",
}

// 认证方式
const (
	AuthMethodPIN         = "pin"
	AuthMethodPassword    = "password"
	AuthMethod2FA         = "2fa"
	AuthMethodBiometric   = "biometric"
	AuthMethodCertificate = "certificate"
)

// ErrSignatureUndeletable 签名记录不可删除
var ErrSignatureUndeletable = errors.New("electronic signatures cannot be deleted")

// SignatureModel 电子签名数据模型
// 创建后仅允许撤销相关字段变更
type SignatureModel struct {
	ID                   string            `gorm:"primaryKey;type:varchar(64)"`
	SignerID             string            `gorm:"type:varchar(64);not null;index"`
	DocumentID           string            `gorm:"type:varchar(64);index"`
	DocumentVersionID    string            `gorm:"type:varchar(64)"`
	SignableType         string            `gorm:"type:varchar(64);not null;index:idx_signature_signable"`
	SignableID           string            `gorm:"type:varchar(64);not null;index:idx_signature_signable"`
	Meaning              string            `gorm:"type:varchar(32);not null"`
	MeaningDescription   string            `gorm:"type:varchar(255)"`
	AuthenticationMethod string            `gorm:"type:varchar(32);not null"`
	IdentityVerified     bool              `gorm:"not null"`
	AuthenticatedAt      time.Time         `gorm:"not null"`
	SignatureData        string            `gorm:"type:text;not null"` // 签名载荷，配置密钥时加密存储
	SignatureHash        string            `gorm:"type:varchar(64);not null"`
	DocumentHash         string            `gorm:"type:varchar(64);not null"`
	Nonce                string            `gorm:"type:varchar(64);not null"`
	SignerName           string            `gorm:"type:varchar(255);not null"`
	SignerEmail          string            `gorm:"type:varchar(255)"`
	SignerTitle          string            `gorm:"type:varchar(255)"`
	SignerDepartment     string            `gorm:"type:varchar(255)"`
	SignedAt             time.Time         `gorm:"not null;index"`
	IPAddress            string            `gorm:"type:varchar(45)"`
	UserAgent            string            `gorm:"type:text"`
	SessionID            string            `gorm:"type:varchar(128)"`
	DeviceInfo           datatypes.JSONMap `gorm:"type:json"`
	IsValid              bool              `gorm:"not null"`
	IsRevoked            bool              `gorm:"not null;index"`
	RevokedAt            *time.Time
	RevokedBy            string            `gorm:"type:varchar(64)"`
	RevocationReason     string            `gorm:"type:text"`
	Reason               string            `gorm:"type:text"`
	Comment              string            `gorm:"type:text"`
}

// TableName 指定表名
func (SignatureModel) TableName() string {
	return "electronic_signatures"
}

// BeforeDelete 禁止删除
func (m *SignatureModel) BeforeDelete(tx *gorm.DB) error {
	return ErrSignatureUndeletable
}

// IsValidMeaning 是否为合法签名含义
func IsValidMeaning(meaning string) bool {
	_, ok := MeaningDescriptions[meaning]
	return ok
}

// Validate 验证签名模型
func (m *SignatureModel) Validate() error {
	if m.ID == "" {
		return errors.New("signature ID is required")
	}
	if m.SignerID == "" {
		return errors.New("signer ID is required")
	}
	if !IsValidMeaning(m.Meaning) {
		return errors.New("invalid signature meaning")
	}
	if m.SignatureHash == "" {
		return errors.New("signature hash is required")
	}
	return nil
}

// SignerCredentialModel 签名凭证数据模型
type SignerCredentialModel struct {
	UserID    string     `gorm:"primaryKey;type:varchar(64)"`
	CanSign   bool       `gorm:"not null"`
	PINHash   string     `gorm:"type:varchar(255)"`
	PINSetAt  *time.Time
	CreatedAt time.Time  `gorm:"not null"`
	UpdatedAt time.Time  `gorm:"not null"`
}

// TableName 指定表名
func (SignerCredentialModel) TableName() string {
	return "signer_credentials"
}

// HasPIN 是否已设置签名 PIN
func (m *SignerCredentialModel) HasPIN() bool {
	return m.PINHash != ""
}
