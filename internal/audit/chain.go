package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/metrics"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/repository"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// chainLockKey 审计链写入的咨询锁键
const chainLockKey int64 = 0x617564697463 // "auditc"

// 校验问题类型
const (
	FindingEntryHashInvalid = "entry_hash_invalid"
	FindingChainBreak       = "chain_break"
)

// Subject 审计对象
type Subject struct {
	Type  string
	ID    string
	Label string
}

// Entry 待追加的审计内容
type Entry struct {
	Action        string
	Category      string
	Description   string
	Subject       *Subject
	DocumentID    string
	Before        map[string]interface{}
	After         map[string]interface{}
	Metadata      map[string]interface{}
	Comment       string
	Critical      bool
	Failed        bool
	FailureReason string
}

// Finding 审计链校验问题
type Finding struct {
	EntryID  string `json:"entry_id"`
	Sequence int64  `json:"sequence"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// Verification 审计链校验结果
type Verification struct {
	Checked  int       `json:"checked"`
	Findings []Finding `json:"findings"`
}

// Intact 审计链是否完整
func (v *Verification) Intact() bool {
	return len(v.Findings) == 0
}

// Chain 审计链
// 只提供追加与读取，不存在任何修改或删除入口
type Chain interface {
	Append(ctx context.Context, actx types.ActionContext, entry Entry) (*model.AuditLogModel, error)
	VerifyChain(ctx context.Context, fromSequence int64) (*Verification, error)
	Report(ctx context.Context, actx types.ActionContext, req ReportRequest) (*Report, error)
	History(ctx context.Context, subjectType string, subjectID string) ([]*model.AuditLogModel, error)
	Get(ctx context.Context, id string) (*model.AuditLogModel, error)
}

// chain 审计链实现
type chain struct {
	db        *gorm.DB
	repo      repository.AuditLogRepository
	clock     types.Clock
	batchSize int
	logger    *logrus.Logger
}

// Option 审计链选项
type Option func(*chain)

// WithClock 指定时钟
func WithClock(clock types.Clock) Option {
	return func(c *chain) { c.clock = clock }
}

// WithBatchSize 指定校验批大小
func WithBatchSize(n int) Option {
	return func(c *chain) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithLogger 指定日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(c *chain) { c.logger = logger }
}

// NewChain 创建审计链
func NewChain(db *gorm.DB, opts ...Option) Chain {
	c := &chain{
		db:        db,
		repo:      repository.NewAuditLogRepository(db),
		clock:     types.SystemClock{},
		batchSize: 500,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append 追加审计记录
// 在调用方事务中执行；ctx 中没有事务时单独开启
func (c *chain) Append(ctx context.Context, actx types.ActionContext, entry Entry) (*model.AuditLogModel, error) {
	if entry.Action == "" || entry.Category == "" {
		return nil, types.ErrInvalidInput.Withf("audit action and category are required")
	}

	var record *model.AuditLogModel
	err := database.Transaction(ctx, c.db, func(ctx context.Context) error {
		// 1. 串行化写入
		if err := database.AdvisoryLock(database.Conn(ctx, c.db), chainLockKey); err != nil {
			return fmt.Errorf("failed to lock audit chain: %w", err)
		}

		// 2. 读取链尾
		latest, err := c.repo.Latest(ctx)
		if err != nil {
			return fmt.Errorf("failed to read chain head: %w", err)
		}
		previousHash := model.GenesisHash
		var sequence int64 = 1
		if latest != nil {
			previousHash = latest.EntryHash
			sequence = latest.Sequence + 1
		}

		// 3. 构建并计算哈希
		record = c.build(actx, entry)
		record.Sequence = sequence
		record.PreviousHash = previousHash
		record.EntryHash = ComputeEntryHash(record)

		// 4. 持久化
		return c.repo.Create(ctx, record)
	})
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action":   entry.Action,
			"category": entry.Category,
		}).Error("audit append failed")
		return nil, types.ErrIntegrityWrite.Wrap(err)
	}

	metrics.RecordAuditAppend(entry.Category)
	return record, nil
}

// build 组装审计记录
func (c *chain) build(actx types.ActionContext, entry Entry) *model.AuditLogModel {
	status := model.AuditStatusSuccess
	if entry.Failed {
		status = model.AuditStatusFailure
	}

	record := &model.AuditLogModel{
		ID:              uuid.New().String(),
		UserID:          actx.Actor.AuditID(),
		UserName:        actx.Actor.Name,
		UserEmail:       actx.Actor.Email,
		UserRoleID:      actx.Actor.RoleID,
		UserRoleName:    actx.Actor.RoleName,
		Action:          entry.Action,
		Category:        entry.Category,
		Description:     entry.Description,
		DocumentID:      entry.DocumentID,
		OldValues:       nonNilMap(entry.Before),
		NewValues:       nonNilMap(entry.After),
		ChangedFields:   ChangedFields(entry.Before, entry.After),
		Metadata:        nonNilMap(entry.Metadata),
		Comment:         entry.Comment,
		Status:          status,
		FailureReason:   entry.FailureReason,
		OccurredAt:      actx.At(c.clock),
		IPAddress:       actx.ClientIP,
		UserAgent:       actx.UserAgent,
		SessionID:       actx.SessionID,
		RequestID:       actx.RequestID,
		IsGMPCritical:   entry.Critical || entry.Category == model.AuditCategorySignature,
		IsSecurityEvent: isSecurityEvent(entry),
	}
	if entry.Subject != nil {
		record.SubjectType = entry.Subject.Type
		record.SubjectID = entry.Subject.ID
		record.SubjectLabel = entry.Subject.Label
	}
	return record
}

func isSecurityEvent(entry Entry) bool {
	switch entry.Action {
	case model.AuditActionLogin, model.AuditActionLogout, model.AuditActionLoginFailed:
		return true
	}
	return entry.Category == model.AuditCategoryAccess
}

// VerifyChain 从指定序号开始校验审计链
// 校验问题作为结果返回，只有读取失败才返回 error
func (c *chain) VerifyChain(ctx context.Context, fromSequence int64) (*Verification, error) {
	result := &Verification{Findings: []Finding{}}

	var prev *model.AuditLogModel
	if fromSequence > 1 {
		p, err := c.repo.Predecessor(ctx, fromSequence)
		if err != nil {
			return nil, fmt.Errorf("failed to load predecessor: %w", err)
		}
		prev = p
	}

	err := c.repo.Walk(ctx, fromSequence, c.batchSize, func(batch []*model.AuditLogModel) error {
		for _, entry := range batch {
			result.Checked++

			if ComputeEntryHash(entry) != entry.EntryHash {
				result.Findings = append(result.Findings, Finding{
					EntryID:  entry.ID,
					Sequence: entry.Sequence,
					Kind:     FindingEntryHashInvalid,
					Message:  "entry hash invalid",
				})
			}

			expected := model.GenesisHash
			if prev != nil {
				expected = prev.EntryHash
			}
			if entry.PreviousHash != expected {
				result.Findings = append(result.Findings, Finding{
					EntryID:  entry.ID,
					Sequence: entry.Sequence,
					Kind:     FindingChainBreak,
					Message:  "chain break detected",
				})
			}
			prev = entry
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk audit chain: %w", err)
	}

	metrics.SetChainFindings(len(result.Findings))
	if !result.Intact() {
		c.logger.WithField("findings", len(result.Findings)).Warn("audit chain integrity findings detected")
	}
	return result, nil
}

// History 获取审计对象的记录
func (c *chain) History(ctx context.Context, subjectType string, subjectID string) ([]*model.AuditLogModel, error) {
	return c.repo.FindBySubject(ctx, subjectType, subjectID)
}

// Get 获取单条审计记录
func (c *chain) Get(ctx context.Context, id string) (*model.AuditLogModel, error) {
	entry, err := c.repo.FindByID(ctx, id)
	if database.IsNotFound(err) {
		return nil, types.ErrNotFound.Withf("audit entry %s not found", id)
	}
	return entry, err
}
