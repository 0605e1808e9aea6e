package signature

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/metrics"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/repository"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/mautops/docflow-gin/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 校验项
const (
	CheckRevocation        = "revocation"
	CheckHashIntegrity     = "hash_integrity"
	CheckPayloadIntegrity  = "payload_integrity"
	CheckDocumentIntegrity = "document_integrity"
)

// CreateRequest 签名请求
type CreateRequest struct {
	Target     Target
	Meaning    string
	PIN        string
	Reason     string
	Comment    string
	DeviceInfo map[string]interface{}
}

// Check 单项校验结果
type Check struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// VerificationReport 签名校验报告
type VerificationReport struct {
	SignatureID string           `json:"signature_id"`
	Valid       bool             `json:"valid"`
	Checks      map[string]Check `json:"checks"`
	VerifiedAt  time.Time        `json:"verified_at"`
}

// Service 电子签名服务接口
type Service interface {
	Create(ctx context.Context, actx types.ActionContext, req CreateRequest) (*model.SignatureModel, error)
	Verify(ctx context.Context, id string) (*VerificationReport, error)
	Revoke(ctx context.Context, actx types.ActionContext, id string, reason string) (*model.SignatureModel, error)
	SetupPIN(ctx context.Context, actx types.ActionContext, pin string) error
	ChangePIN(ctx context.Context, actx types.ActionContext, currentPIN string, newPIN string) error
	SetSigningCapability(ctx context.Context, actx types.ActionContext, userID string, canSign bool) error
	Get(ctx context.Context, id string) (*model.SignatureModel, error)
	ForDocument(ctx context.Context, documentID string) ([]*model.SignatureModel, error)
	ForSigner(ctx context.Context, signerID string) ([]*model.SignatureModel, error)
	ForTarget(ctx context.Context, target Target) ([]*model.SignatureModel, error)
}

// payload 签名载荷
// 字段顺序固定，序列化结果即规范形式
type payload struct {
	SignerID         string `json:"signer_id"`
	SignerName       string `json:"signer_name"`
	SignerEmail      string `json:"signer_email"`
	SignerTitle      string `json:"signer_title"`
	SignerDepartment string `json:"signer_department"`
	Meaning          string `json:"meaning"`
	DocumentHash     string `json:"document_hash"`
	SignableType     string `json:"signable_type"`
	SignableID       string `json:"signable_id"`
	SignedAt         string `json:"signed_at"`
	Nonce            string `json:"nonce"`
}

// service 电子签名服务实现
type service struct {
	db          *gorm.DB
	signatures  repository.SignatureRepository
	credentials repository.CredentialRepository
	docs        types.DocumentStore
	chain       audit.Chain
	permissions types.PermissionChecker
	clock       types.Clock
	logger      *logrus.Logger

	pinMinLength  int
	pinCost       int
	encryptionKey string
}

// Option 签名服务选项
type Option func(*service)

// WithClock 指定时钟
func WithClock(clock types.Clock) Option {
	return func(s *service) { s.clock = clock }
}

// WithLogger 指定日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// WithPermissionChecker 指定权限检查器
func WithPermissionChecker(checker types.PermissionChecker) Option {
	return func(s *service) { s.permissions = checker }
}

// NewService 创建电子签名服务
func NewService(db *gorm.DB, docs types.DocumentStore, chain audit.Chain, cfg config.SignatureConfig, opts ...Option) Service {
	s := &service{
		db:            db,
		signatures:    repository.NewSignatureRepository(db),
		credentials:   repository.NewCredentialRepository(db),
		docs:          docs,
		chain:         chain,
		clock:         types.SystemClock{},
		logger:        logrus.StandardLogger(),
		pinMinLength:  cfg.PINMinLength,
		pinCost:       cfg.PINCost,
		encryptionKey: cfg.EncryptionKey,
	}
	if s.pinMinLength <= 0 {
		s.pinMinLength = 6
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create 创建电子签名
func (s *service) Create(ctx context.Context, actx types.ActionContext, req CreateRequest) (*model.SignatureModel, error) {
	if req.Target == nil {
		return nil, types.ErrInvalidInput.Withf("signature target is required")
	}
	if !model.IsValidMeaning(req.Meaning) {
		return nil, types.ErrInvalidMeaning.Withf("invalid signature meaning: %s", req.Meaning)
	}

	actor := actx.Actor
	if actor.IsSystem() {
		return nil, types.ErrNotAuthorizedToSign
	}

	// 1. 校验签名能力与 PIN
	credential, err := s.credentials.Find(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load signer credential: %w", err)
	}
	if credential == nil || !credential.CanSign || !credential.HasPIN() {
		s.recordFailure(ctx, actx, req, "signer not authorized")
		return nil, types.ErrNotAuthorizedToSign
	}
	if !utils.VerifyPassword(req.PIN, credential.PINHash) {
		s.recordFailure(ctx, actx, req, "invalid credential")
		return nil, types.ErrInvalidCredential
	}

	// 2. 解析签名对象
	sc, err := req.Target.Resolve(ctx, s.docs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signing context: %w", err)
	}

	// 3. 构建载荷
	signedAt := actx.At(s.clock)
	nonce, err := utils.RandomHex(16)
	if err != nil {
		return nil, err
	}
	p := payload{
		SignerID:         actor.ID,
		SignerName:       actor.Name,
		SignerEmail:      actor.Email,
		SignerTitle:      actor.Title,
		SignerDepartment: actor.Department,
		Meaning:          req.Meaning,
		DocumentHash:     sc.ContentHash,
		SignableType:     req.Target.SignableType(),
		SignableID:       req.Target.SignableID(),
		SignedAt:         signedAt.Format(time.RFC3339Nano),
		Nonce:            nonce,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signature payload: %w", err)
	}
	data := string(raw)
	if s.encryptionKey != "" {
		if data, err = utils.Encrypt(data, s.encryptionKey); err != nil {
			return nil, err
		}
	}

	record := &model.SignatureModel{
		ID:                   uuid.New().String(),
		SignerID:             actor.ID,
		DocumentID:           sc.DocumentID,
		DocumentVersionID:    sc.VersionID,
		SignableType:         p.SignableType,
		SignableID:           p.SignableID,
		Meaning:              req.Meaning,
		MeaningDescription:   model.MeaningDescriptions[req.Meaning],
		AuthenticationMethod: model.AuthMethodPIN,
		IdentityVerified:     true,
		AuthenticatedAt:      signedAt,
		SignatureData:        data,
		SignatureHash:        utils.SHA256Hex(raw),
		DocumentHash:         sc.ContentHash,
		Nonce:                nonce,
		SignerName:           actor.Name,
		SignerEmail:          actor.Email,
		SignerTitle:          actor.Title,
		SignerDepartment:     actor.Department,
		SignedAt:             signedAt,
		IPAddress:            actx.ClientIP,
		UserAgent:            actx.UserAgent,
		SessionID:            actx.SessionID,
		DeviceInfo:           deviceInfo(actx, req.DeviceInfo),
		IsValid:              true,
		Reason:               req.Reason,
		Comment:              req.Comment,
	}

	// 4. 持久化并记入审计链
	err = database.Transaction(ctx, s.db, func(ctx context.Context) error {
		if err := s.signatures.Create(ctx, record); err != nil {
			return fmt.Errorf("failed to save signature: %w", err)
		}
		_, err := s.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionSign,
			Category:    model.AuditCategorySignature,
			Description: fmt.Sprintf("Electronic signature applied: %s", req.Meaning),
			Subject:     &audit.Subject{Type: p.SignableType, ID: p.SignableID},
			DocumentID:  sc.DocumentID,
			After: map[string]interface{}{
				"signature_id":   record.ID,
				"meaning":        record.Meaning,
				"document_hash":  record.DocumentHash,
				"signature_hash": record.SignatureHash,
			},
			Comment:  req.Comment,
			Critical: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordSignature("create", req.Meaning)
	s.logger.WithFields(logrus.Fields{
		"signature_id": record.ID,
		"signer_id":    record.SignerID,
		"meaning":      record.Meaning,
	}).Info("electronic signature created")
	return record, nil
}

// recordFailure 记录失败的签名尝试
// 调用方事务会因错误回滚，此时只写日志
func (s *service) recordFailure(ctx context.Context, actx types.ActionContext, req CreateRequest, reason string) {
	fields := logrus.Fields{"user_id": actx.Actor.ID, "reason": reason}
	if database.InTransaction(ctx) {
		s.logger.WithFields(fields).Warn("electronic signature attempt failed")
		return
	}
	entry := audit.Entry{
		Action:        model.AuditActionSign,
		Category:      model.AuditCategorySignature,
		Description:   "Electronic signature attempt failed",
		Metadata:      map[string]interface{}{"meaning": req.Meaning},
		Failed:        true,
		FailureReason: reason,
	}
	if req.Target != nil {
		entry.Subject = &audit.Subject{Type: req.Target.SignableType(), ID: req.Target.SignableID()}
	}
	if _, err := s.chain.Append(ctx, actx, entry); err != nil {
		s.logger.WithError(err).WithFields(fields).Error("failed to audit signature failure")
	}
}

func deviceInfo(actx types.ActionContext, extra map[string]interface{}) map[string]interface{} {
	info := map[string]interface{}{}
	for k, v := range extra {
		info[k] = v
	}
	if actx.UserAgent != "" {
		info["user_agent"] = actx.UserAgent
	}
	if actx.ClientIP != "" {
		info["ip_address"] = actx.ClientIP
	}
	return info
}

// Verify 校验电子签名
// 校验结论作为数据返回，只有读取失败才返回 error
func (s *service) Verify(ctx context.Context, id string) (*VerificationReport, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{
		SignatureID: record.ID,
		Checks:      map[string]Check{},
		VerifiedAt:  types.NormalizeTime(s.clock.Now()),
	}

	if record.IsRevoked {
		report.Checks[CheckRevocation] = Check{Passed: false, Message: "signature has been revoked"}
	} else {
		report.Checks[CheckRevocation] = Check{Passed: true, Message: "signature is not revoked"}
	}

	raw := record.SignatureData
	if s.encryptionKey != "" {
		if plain, err := utils.Decrypt(raw, s.encryptionKey); err == nil {
			raw = plain
		} else {
			raw = ""
		}
	}

	if raw != "" && utils.SHA256Hex([]byte(raw)) == record.SignatureHash {
		report.Checks[CheckHashIntegrity] = Check{Passed: true, Message: "signature hash matches payload"}
	} else {
		report.Checks[CheckHashIntegrity] = Check{Passed: false, Message: "signature hash does not match payload"}
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		report.Checks[CheckPayloadIntegrity] = Check{Passed: false, Message: "signature payload unreadable"}
	} else if mismatch := payloadMismatch(p, record); mismatch != "" {
		report.Checks[CheckPayloadIntegrity] = Check{Passed: false, Message: "payload does not match record: " + mismatch}
	} else {
		report.Checks[CheckPayloadIntegrity] = Check{Passed: true, Message: "payload matches record"}
	}

	if record.DocumentVersionID != "" {
		current, err := VersionHash(ctx, s.docs, record.DocumentVersionID)
		switch {
		case err != nil:
			report.Checks[CheckDocumentIntegrity] = Check{Passed: false, Message: "document version unavailable"}
		case current != record.DocumentHash:
			report.Checks[CheckDocumentIntegrity] = Check{Passed: false, Message: "document content changed since signing"}
		default:
			report.Checks[CheckDocumentIntegrity] = Check{Passed: true, Message: "document content unchanged"}
		}
	}

	report.Valid = true
	for _, check := range report.Checks {
		if !check.Passed {
			report.Valid = false
		}
	}

	metrics.RecordSignatureVerification(report.Valid)
	return report, nil
}

func payloadMismatch(p payload, record *model.SignatureModel) string {
	switch {
	case p.SignerID != record.SignerID:
		return "signer_id"
	case p.SignerName != record.SignerName:
		return "signer_name"
	case p.SignerEmail != record.SignerEmail:
		return "signer_email"
	case p.SignerTitle != record.SignerTitle:
		return "signer_title"
	case p.SignerDepartment != record.SignerDepartment:
		return "signer_department"
	case p.Meaning != record.Meaning:
		return "meaning"
	case p.DocumentHash != record.DocumentHash:
		return "document_hash"
	case p.SignableType != record.SignableType || p.SignableID != record.SignableID:
		return "signable"
	case p.Nonce != record.Nonce:
		return "nonce"
	}
	signedAt, err := time.Parse(time.RFC3339Nano, p.SignedAt)
	if err != nil || !signedAt.Equal(types.NormalizeTime(record.SignedAt)) {
		return "signed_at"
	}
	return ""
}

// Revoke 撤销电子签名
func (s *service) Revoke(ctx context.Context, actx types.ActionContext, id string, reason string) (*model.SignatureModel, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, types.ErrReasonRequired.Withf("revocation reason is required")
	}

	var result *model.SignatureModel
	err := database.Transaction(ctx, s.db, func(ctx context.Context) error {
		record, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if record.IsRevoked {
			return types.ErrAlreadyRevoked
		}
		if err := s.authorizeRevoke(ctx, actx.Actor, record); err != nil {
			return err
		}

		at := actx.At(s.clock)
		changed, err := s.signatures.Revoke(ctx, id, actx.Actor.AuditID(), at, reason)
		if err != nil {
			return fmt.Errorf("failed to revoke signature: %w", err)
		}
		if !changed {
			return types.ErrAlreadyRevoked
		}

		if _, err := s.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionUpdate,
			Category:    model.AuditCategorySignature,
			Description: "Electronic signature revoked",
			Subject:     &audit.Subject{Type: "electronic_signature", ID: record.ID, Label: record.Meaning},
			DocumentID:  record.DocumentID,
			Before:      map[string]interface{}{"is_revoked": false, "is_valid": record.IsValid},
			After:       map[string]interface{}{"is_revoked": true, "is_valid": false},
			Comment:     reason,
			Critical:    true,
		}); err != nil {
			return err
		}

		result, err = s.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordSignature("revoke", result.Meaning)
	return result, nil
}

func (s *service) authorizeRevoke(ctx context.Context, actor types.Actor, record *model.SignatureModel) error {
	if !actor.IsSystem() && actor.ID == record.SignerID {
		return nil
	}
	if s.permissions != nil {
		ok, err := s.permissions.HasPermission(ctx, actor, types.PermissionSignatureRevoke)
		if err != nil {
			return fmt.Errorf("failed to check revoke permission: %w", err)
		}
		if ok {
			return nil
		}
	}
	return types.ErrNotAuthorizedToRevoke
}

// SetupPIN 首次设置签名 PIN
func (s *service) SetupPIN(ctx context.Context, actx types.ActionContext, pin string) error {
	actor := actx.Actor
	if actor.IsSystem() {
		return types.ErrNotAuthorizedToSign
	}
	if len(pin) < s.pinMinLength {
		return types.ErrPINTooShort.Withf("signature PIN must be at least %d characters", s.pinMinLength)
	}

	return database.Transaction(ctx, s.db, func(ctx context.Context) error {
		credential, err := s.credentials.Find(ctx, actor.ID)
		if err != nil {
			return fmt.Errorf("failed to load signer credential: %w", err)
		}
		if credential != nil && credential.HasPIN() {
			return types.ErrInvalidInput.Withf("signature PIN already set")
		}
		// 签名能力只能由 SetSigningCapability 授予
		if credential == nil {
			credential = &model.SignerCredentialModel{UserID: actor.ID}
		}

		hash, err := utils.HashPassword(pin, s.pinCost)
		if err != nil {
			return err
		}
		at := actx.At(s.clock)
		credential.PINHash = hash
		credential.PINSetAt = &at
		if err := s.credentials.Save(ctx, credential); err != nil {
			return fmt.Errorf("failed to save signer credential: %w", err)
		}

		_, err = s.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionCreate,
			Category:    model.AuditCategorySignature,
			Description: "Signature PIN configured",
			Subject:     &audit.Subject{Type: "signer_credential", ID: actor.ID, Label: actor.Name},
			After:       map[string]interface{}{"pin_set": true, "can_sign": credential.CanSign},
			Critical:    true,
		})
		return err
	})
}

// ChangePIN 修改签名 PIN
func (s *service) ChangePIN(ctx context.Context, actx types.ActionContext, currentPIN string, newPIN string) error {
	actor := actx.Actor
	if len(newPIN) < s.pinMinLength {
		return types.ErrPINTooShort.Withf("signature PIN must be at least %d characters", s.pinMinLength)
	}

	return database.Transaction(ctx, s.db, func(ctx context.Context) error {
		credential, err := s.credentials.Find(ctx, actor.ID)
		if err != nil {
			return fmt.Errorf("failed to load signer credential: %w", err)
		}
		if credential == nil || !credential.HasPIN() {
			return types.ErrNotAuthorizedToSign
		}
		if !utils.VerifyPassword(currentPIN, credential.PINHash) {
			return types.ErrInvalidCredential
		}

		hash, err := utils.HashPassword(newPIN, s.pinCost)
		if err != nil {
			return err
		}
		at := actx.At(s.clock)
		credential.PINHash = hash
		credential.PINSetAt = &at
		if err := s.credentials.Save(ctx, credential); err != nil {
			return fmt.Errorf("failed to save signer credential: %w", err)
		}

		_, err = s.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionUpdate,
			Category:    model.AuditCategorySignature,
			Description: "Signature PIN changed",
			Subject:     &audit.Subject{Type: "signer_credential", ID: actor.ID, Label: actor.Name},
			After:       map[string]interface{}{"pin_changed_at": at.Format(time.RFC3339Nano)},
			Critical:    true,
		})
		return err
	})
}

// SetSigningCapability 启用或禁用用户的签名能力
func (s *service) SetSigningCapability(ctx context.Context, actx types.ActionContext, userID string, canSign bool) error {
	if s.permissions == nil {
		return types.ErrNotAuthorizedToManage
	}
	ok, err := s.permissions.HasPermission(ctx, actx.Actor, types.PermissionSignatureManage)
	if err != nil {
		return fmt.Errorf("failed to check manage permission: %w", err)
	}
	if !ok {
		return types.ErrNotAuthorizedToManage
	}

	return database.Transaction(ctx, s.db, func(ctx context.Context) error {
		credential, err := s.credentials.Find(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load signer credential: %w", err)
		}
		before := false
		if credential == nil {
			credential = &model.SignerCredentialModel{UserID: userID}
		} else {
			before = credential.CanSign
		}
		credential.CanSign = canSign
		if err := s.credentials.Save(ctx, credential); err != nil {
			return fmt.Errorf("failed to save signer credential: %w", err)
		}

		_, err = s.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionUpdate,
			Category:    model.AuditCategorySignature,
			Description: "Signing capability changed",
			Subject:     &audit.Subject{Type: "signer_credential", ID: userID},
			Before:      map[string]interface{}{"can_sign": before},
			After:       map[string]interface{}{"can_sign": canSign},
			Critical:    true,
		})
		return err
	})
}

// Get 获取签名
func (s *service) Get(ctx context.Context, id string) (*model.SignatureModel, error) {
	record, err := s.signatures.FindByID(ctx, id)
	if database.IsNotFound(err) {
		return nil, types.ErrNotFound.Withf("signature %s not found", id)
	}
	return record, err
}

// ForDocument 获取文档的全部签名
func (s *service) ForDocument(ctx context.Context, documentID string) ([]*model.SignatureModel, error) {
	return s.signatures.FindByDocument(ctx, documentID)
}

// ForSigner 获取签名人的全部签名
func (s *service) ForSigner(ctx context.Context, signerID string) ([]*model.SignatureModel, error) {
	return s.signatures.FindBySigner(ctx, signerID)
}

// ForTarget 获取签名对象的全部签名
func (s *service) ForTarget(ctx context.Context, target Target) ([]*model.SignatureModel, error) {
	return s.signatures.FindBySignable(ctx, target.SignableType(), target.SignableID())
}
