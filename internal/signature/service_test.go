package signature_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/auth"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/document"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/signature"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/mautops/docflow-gin/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testPIN       = "246810"
	testVersionID = "ver-001"
	testKey       = "0123456789abcdef0123456789abcdef"
)

var fileHash = utils.SHA256Hex([]byte("SOP-001 rev 1.0 content"))

// setupTestDBForSignature 创建电子签名测试数据库并登记一份带版本的文档
func setupTestDBForSignature(t *testing.T) *gorm.DB {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })

	err = document.NewStore(db).Create(context.Background(),
		&model.DocumentModel{ID: "doc-001", DocumentNumber: "SOP-001", Title: "Cleaning procedure", IsGMPCritical: true},
		&model.DocumentVersionModel{ID: testVersionID, VersionNumber: "1.0", FileHash: fileHash},
	)
	require.NoError(t, err)
	return db
}

func newService(db *gorm.DB, key string) signature.Service {
	checker := auth.NewClaimsChecker(map[string][]string{
		"admin": {types.PermissionSignatureRevoke, types.PermissionSignatureManage},
	})
	cfg := config.SignatureConfig{PINMinLength: 6, PINCost: bcrypt.MinCost, EncryptionKey: key}
	return signature.NewService(db, document.NewStore(db), audit.NewChain(db), cfg,
		signature.WithPermissionChecker(checker))
}

func signer() types.ActionContext {
	return types.ActionContext{
		Actor: types.Actor{
			ID:         "user-signer",
			Name:       "Sam Signer",
			Email:      "sam@example.com",
			Title:      "QA Lead",
			Department: "Quality",
		},
		ClientIP:  "10.0.0.5",
		UserAgent: "test-agent",
		SessionID: "sess-001",
	}
}

func other() types.ActionContext {
	return types.ActionContext{Actor: types.Actor{ID: "user-other", Name: "Olive Other"}}
}

func admin() types.ActionContext {
	return types.ActionContext{Actor: types.Actor{ID: "user-admin", Name: "Ada Admin", Roles: []string{"admin"}}}
}

// enroll 设置 PIN 并由管理员授予签名能力
func enroll(t *testing.T, svc signature.Service, actx types.ActionContext) {
	require.NoError(t, svc.SetupPIN(context.Background(), actx, testPIN))
	require.NoError(t, svc.SetSigningCapability(context.Background(), admin(), actx.Actor.ID, true))
}

func signVersion(t *testing.T, svc signature.Service) *model.SignatureModel {
	enroll(t, svc, signer())
	record, err := svc.Create(context.Background(), signer(), signature.CreateRequest{
		Target:  signature.DocumentVersionTarget{VersionID: testVersionID},
		Meaning: model.MeaningApproved,
		PIN:     testPIN,
		Reason:  "periodic review",
		Comment: "content verified",
	})
	require.NoError(t, err)
	return record
}

func countAudit(t *testing.T, db *gorm.DB, where string, args ...interface{}) int64 {
	var count int64
	require.NoError(t, db.Model(&model.AuditLogModel{}).Where(where, args...).Count(&count).Error)
	return count
}

// TestService_Create 测试创建签名并冻结签名人信息
func TestService_Create(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")

	record := signVersion(t, svc)

	assert.Equal(t, "user-signer", record.SignerID)
	assert.Equal(t, "doc-001", record.DocumentID)
	assert.Equal(t, testVersionID, record.DocumentVersionID)
	assert.Equal(t, signature.SignableDocumentVersion, record.SignableType)
	assert.Equal(t, testVersionID, record.SignableID)
	assert.Equal(t, fileHash, record.DocumentHash)
	assert.Equal(t, model.MeaningDescriptions[model.MeaningApproved], record.MeaningDescription)
	assert.Equal(t, model.AuthMethodPIN, record.AuthenticationMethod)
	assert.Equal(t, "Sam Signer", record.SignerName)
	assert.Equal(t, "QA Lead", record.SignerTitle)
	assert.Equal(t, "Quality", record.SignerDepartment)
	assert.Len(t, record.Nonce, 32)
	assert.True(t, record.IsValid)
	assert.False(t, record.IsRevoked)
	assert.Equal(t, utils.SHA256Hex([]byte(record.SignatureData)), record.SignatureHash)
	assert.Equal(t, "10.0.0.5", record.DeviceInfo["ip_address"])

	// 签名记入审计链且为 GMP 关键
	assert.Equal(t, int64(1), countAudit(t, db, "action = ? AND is_gmp_critical = ?", model.AuditActionSign, true))
}

// TestService_Verify 测试签名校验全部通过
func TestService_Verify(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	record := signVersion(t, svc)

	report, err := svc.Verify(context.Background(), record.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, record.ID, report.SignatureID)
	for _, name := range []string{
		signature.CheckRevocation,
		signature.CheckHashIntegrity,
		signature.CheckPayloadIntegrity,
		signature.CheckDocumentIntegrity,
	} {
		assert.True(t, report.Checks[name].Passed, name)
	}
}

// TestService_Verify_DocumentChanged 测试文档内容变化后签名失效
func TestService_Verify_DocumentChanged(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	record := signVersion(t, svc)

	err := db.Model(&model.DocumentVersionModel{}).
		Where("id = ?", testVersionID).
		Update("file_hash", utils.SHA256Hex([]byte("edited content"))).Error
	require.NoError(t, err)

	report, err := svc.Verify(context.Background(), record.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.False(t, report.Checks[signature.CheckDocumentIntegrity].Passed)
	assert.True(t, report.Checks[signature.CheckHashIntegrity].Passed)
}

// TestService_Verify_RecordTampered 测试签名记录被改写后校验失败
func TestService_Verify_RecordTampered(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	record := signVersion(t, svc)

	err := db.Exec("UPDATE electronic_signatures SET signer_name = ? WHERE id = ?", "Mallory", record.ID).Error
	require.NoError(t, err)

	report, err := svc.Verify(context.Background(), record.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.False(t, report.Checks[signature.CheckPayloadIntegrity].Passed)
	assert.Contains(t, report.Checks[signature.CheckPayloadIntegrity].Message, "signer_name")
}

// TestService_Verify_FrozenSignerFields 测试签名人冻结字段被改写后校验失败
func TestService_Verify_FrozenSignerFields(t *testing.T) {
	for _, column := range []string{"signer_name", "signer_email", "signer_title", "signer_department"} {
		t.Run(column, func(t *testing.T) {
			db := setupTestDBForSignature(t)
			svc := newService(db, "")
			record := signVersion(t, svc)

			err := db.Exec("UPDATE electronic_signatures SET "+column+" = ? WHERE id = ?", "FORGED", record.ID).Error
			require.NoError(t, err)

			report, err := svc.Verify(context.Background(), record.ID)
			require.NoError(t, err)
			assert.False(t, report.Valid)
			assert.True(t, report.Checks[signature.CheckHashIntegrity].Passed)
			assert.False(t, report.Checks[signature.CheckPayloadIntegrity].Passed)
			assert.Contains(t, report.Checks[signature.CheckPayloadIntegrity].Message, column)
		})
	}
}

// TestService_Verify_NotFound 测试校验不存在的签名
func TestService_Verify_NotFound(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")

	_, err := svc.Verify(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// TestService_Create_Encrypted 测试配置密钥后载荷加密存储
func TestService_Create_Encrypted(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, testKey)
	record := signVersion(t, svc)

	assert.False(t, strings.HasPrefix(record.SignatureData, "{"))
	plain, err := utils.Decrypt(record.SignatureData, testKey)
	require.NoError(t, err)
	assert.Equal(t, utils.SHA256Hex([]byte(plain)), record.SignatureHash)

	report, err := svc.Verify(context.Background(), record.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)

	// 密钥不匹配时无法还原载荷
	wrongKey := newService(db, "fedcba9876543210fedcba9876543210")
	report, err = wrongKey.Verify(context.Background(), record.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.False(t, report.Checks[signature.CheckHashIntegrity].Passed)
}

// TestService_Create_InvalidPIN 测试 PIN 错误时拒绝并记录失败审计
func TestService_Create_InvalidPIN(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	enroll(t, svc, signer())

	_, err := svc.Create(context.Background(), signer(), signature.CreateRequest{
		Target:  signature.DocumentVersionTarget{VersionID: testVersionID},
		Meaning: model.MeaningApproved,
		PIN:     "000000",
	})
	assert.ErrorIs(t, err, types.ErrInvalidCredential)

	signatures, err := svc.ForSigner(context.Background(), "user-signer")
	require.NoError(t, err)
	assert.Empty(t, signatures)
	assert.Equal(t, int64(1), countAudit(t, db, "status = ? AND category = ?", model.AuditStatusFailure, model.AuditCategorySignature))
}

// TestService_Create_NotCapable 测试没有签名能力的用户不能签名
func TestService_Create_NotCapable(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	ctx := context.Background()

	req := signature.CreateRequest{
		Target:  signature.DocumentVersionTarget{VersionID: testVersionID},
		Meaning: model.MeaningReviewed,
		PIN:     testPIN,
	}

	// 未设置 PIN
	_, err := svc.Create(ctx, signer(), req)
	assert.ErrorIs(t, err, types.ErrNotAuthorizedToSign)

	// 只设置 PIN 不会获得签名能力
	require.NoError(t, svc.SetupPIN(ctx, signer(), testPIN))
	_, err = svc.Create(ctx, signer(), req)
	assert.ErrorIs(t, err, types.ErrNotAuthorizedToSign)

	// 授予后可以签名
	require.NoError(t, svc.SetSigningCapability(ctx, admin(), "user-signer", true))
	_, err = svc.Create(ctx, signer(), req)
	assert.NoError(t, err)

	// 签名能力被禁用
	require.NoError(t, svc.SetSigningCapability(ctx, admin(), "user-signer", false))
	_, err = svc.Create(ctx, signer(), req)
	assert.ErrorIs(t, err, types.ErrNotAuthorizedToSign)

	// 重新启用
	require.NoError(t, svc.SetSigningCapability(ctx, admin(), "user-signer", true))
	_, err = svc.Create(ctx, signer(), req)
	assert.NoError(t, err)

	// 系统操作不能签名
	_, err = svc.Create(ctx, types.System(time.Now()), req)
	assert.ErrorIs(t, err, types.ErrNotAuthorizedToSign)
}

// TestService_Create_InvalidMeaning 测试非法签名含义
func TestService_Create_InvalidMeaning(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	enroll(t, svc, signer())

	_, err := svc.Create(context.Background(), signer(), signature.CreateRequest{
		Target:  signature.DocumentVersionTarget{VersionID: testVersionID},
		Meaning: "liked",
		PIN:     testPIN,
	})
	assert.ErrorIs(t, err, types.ErrInvalidMeaning)

	_, err = svc.Create(context.Background(), signer(), signature.CreateRequest{Meaning: model.MeaningApproved, PIN: testPIN})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

// TestService_Revoke 测试撤销签名不可逆
func TestService_Revoke(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	record := signVersion(t, svc)
	ctx := context.Background()

	_, err := svc.Revoke(ctx, signer(), record.ID, "  ")
	assert.ErrorIs(t, err, types.ErrReasonRequired)

	revoked, err := svc.Revoke(ctx, signer(), record.ID, "signed wrong version")
	require.NoError(t, err)
	assert.True(t, revoked.IsRevoked)
	assert.False(t, revoked.IsValid)
	assert.Equal(t, "user-signer", revoked.RevokedBy)
	assert.Equal(t, "signed wrong version", revoked.RevocationReason)
	require.NotNil(t, revoked.RevokedAt)

	_, err = svc.Revoke(ctx, signer(), record.ID, "again")
	assert.ErrorIs(t, err, types.ErrAlreadyRevoked)

	report, err := svc.Verify(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.False(t, report.Checks[signature.CheckRevocation].Passed)
}

// TestService_Revoke_Authorization 测试只有签名人或有权限的用户可以撤销
func TestService_Revoke_Authorization(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	record := signVersion(t, svc)

	_, err := svc.Revoke(context.Background(), other(), record.ID, "not mine")
	assert.ErrorIs(t, err, types.ErrNotAuthorizedToRevoke)

	revoked, err := svc.Revoke(context.Background(), admin(), record.ID, "withdrawn by QA")
	require.NoError(t, err)
	assert.Equal(t, "user-admin", revoked.RevokedBy)
}

// TestService_SetupPIN 测试首次设置 PIN
func TestService_SetupPIN(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	ctx := context.Background()

	err := svc.SetupPIN(ctx, signer(), "123")
	assert.ErrorIs(t, err, types.ErrPINTooShort)

	require.NoError(t, svc.SetupPIN(ctx, signer(), testPIN))

	err = svc.SetupPIN(ctx, signer(), "13579111")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	var credential model.SignerCredentialModel
	require.NoError(t, db.Where("user_id = ?", "user-signer").First(&credential).Error)
	assert.False(t, credential.CanSign)
	assert.NotEqual(t, testPIN, credential.PINHash)
	assert.True(t, utils.VerifyPassword(testPIN, credential.PINHash))
}

// TestService_ChangePIN 测试修改 PIN 后旧 PIN 失效
func TestService_ChangePIN(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	ctx := context.Background()

	err := svc.ChangePIN(ctx, signer(), testPIN, "97531000")
	assert.ErrorIs(t, err, types.ErrNotAuthorizedToSign)

	enroll(t, svc, signer())

	err = svc.ChangePIN(ctx, signer(), "000000", "97531000")
	assert.ErrorIs(t, err, types.ErrInvalidCredential)

	err = svc.ChangePIN(ctx, signer(), testPIN, "12")
	assert.ErrorIs(t, err, types.ErrPINTooShort)

	require.NoError(t, svc.ChangePIN(ctx, signer(), testPIN, "97531000"))

	req := signature.CreateRequest{
		Target:  signature.DocumentVersionTarget{VersionID: testVersionID},
		Meaning: model.MeaningVerified,
		PIN:     testPIN,
	}
	_, err = svc.Create(ctx, signer(), req)
	assert.ErrorIs(t, err, types.ErrInvalidCredential)

	req.PIN = "97531000"
	_, err = svc.Create(ctx, signer(), req)
	assert.NoError(t, err)
}

// TestService_SetSigningCapability_Forbidden 测试无管理权限不能修改签名能力
func TestService_SetSigningCapability_Forbidden(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")

	err := svc.SetSigningCapability(context.Background(), other(), "user-signer", true)
	assert.ErrorIs(t, err, types.ErrNotAuthorizedToManage)
}

// TestService_Queries 测试按文档、签名人、签名对象查询
func TestService_Queries(t *testing.T) {
	db := setupTestDBForSignature(t)
	svc := newService(db, "")
	record := signVersion(t, svc)
	ctx := context.Background()

	byDoc, err := svc.ForDocument(ctx, "doc-001")
	require.NoError(t, err)
	require.Len(t, byDoc, 1)
	assert.Equal(t, record.ID, byDoc[0].ID)

	bySigner, err := svc.ForSigner(ctx, "user-signer")
	require.NoError(t, err)
	assert.Len(t, bySigner, 1)

	byTarget, err := svc.ForTarget(ctx, signature.DocumentVersionTarget{VersionID: testVersionID})
	require.NoError(t, err)
	assert.Len(t, byTarget, 1)

	none, err := svc.ForSigner(ctx, "user-other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestService_Create_IdentityHashFallback 测试版本未记录文件哈希时使用标识哈希
func TestService_Create_IdentityHashFallback(t *testing.T) {
	db := setupTestDBForSignature(t)
	ctx := context.Background()
	require.NoError(t, document.NewStore(db).Create(ctx,
		&model.DocumentModel{ID: "doc-002", DocumentNumber: "SOP-002", Title: "Gowning"},
		&model.DocumentVersionModel{ID: "ver-002", VersionNumber: "1.0"},
	))
	svc := newService(db, "")
	enroll(t, svc, signer())

	record, err := svc.Create(ctx, signer(), signature.CreateRequest{
		Target:  signature.DocumentVersionTarget{VersionID: "ver-002"},
		Meaning: model.MeaningReviewed,
		PIN:     testPIN,
	})
	require.NoError(t, err)

	version, err := document.NewStore(db).Version(ctx, "ver-002")
	require.NoError(t, err)
	assert.Equal(t, signature.IdentityHash("ver-002", signature.SignableDocumentVersion, version.UpdatedAt), record.DocumentHash)

	report, err := svc.Verify(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}
