package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/auth"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/document"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/repository"
	"github.com/mautops/docflow-gin/internal/signature"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/mautops/docflow-gin/internal/utils"
	"github.com/mautops/docflow-gin/internal/workflow"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const qaPIN = "135790"

var (
	baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	fileHash = utils.SHA256Hex([]byte("SOP-001 rev 2.0"))
)

// recordingNotifier 记录通知的测试分发器，设置 err 时每次发送都失败
type recordingNotifier struct {
	mu    sync.Mutex
	items []types.Notification
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, item types.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
	return n.err
}

func (n *recordingNotifier) byType(typ string) []types.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []types.Notification
	for _, item := range n.items {
		if item.Type == typ {
			result = append(result, item)
		}
	}
	return result
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}

// tickingClock 每次读取前进一秒
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	db       *gorm.DB
	engine   workflow.Engine
	sigs     signature.Service
	chain    audit.Chain
	docs     *document.Store
	notifier *recordingNotifier
}

// setupTestDBForWorkflow 创建工作流测试数据库、文档与两步审批模板
func setupTestDBForWorkflow(t *testing.T) *fixture {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })

	ctx := context.Background()
	docs := document.NewStore(db)
	require.NoError(t, docs.Create(ctx,
		&model.DocumentModel{ID: "doc-001", DocumentNumber: "SOP-001", Title: "Cleaning procedure", IsGMPCritical: true},
		&model.DocumentVersionModel{ID: "ver-001", VersionNumber: "2.0", FileHash: fileHash},
	))
	require.NoError(t, docs.Create(ctx,
		&model.DocumentModel{ID: "doc-empty", DocumentNumber: "SOP-002", Title: "Unwritten procedure"},
		nil,
	))
	require.NoError(t, repository.NewWorkflowRepository(db).Create(ctx, twoStepWorkflow("wf-001", true, true)))

	checker := testChecker()
	chain := audit.NewChain(db)
	sigs := signature.NewService(db, docs, chain, config.SignatureConfig{PINMinLength: 6, PINCost: bcrypt.MinCost},
		signature.WithPermissionChecker(checker))
	notifier := &recordingNotifier{}
	engine := newEngine(db, docs, chain, sigs, notifier, logrus.StandardLogger())

	return &fixture{db: db, engine: engine, sigs: sigs, chain: chain, docs: docs, notifier: notifier}
}

func testChecker() types.PermissionChecker {
	return auth.NewClaimsChecker(map[string][]string{
		"QA_Manager": {types.PermissionWorkflowApprove, types.PermissionWorkflowManage},
		"admin":      {types.PermissionSignatureManage},
	})
}

func newEngine(db *gorm.DB, docs types.DocumentStore, chain audit.Chain, sigs signature.Service, notifier types.NotificationDispatcher, logger *logrus.Logger) workflow.Engine {
	return workflow.NewEngine(db, docs, chain, sigs, testChecker(),
		workflow.WithClock(&tickingClock{now: baseTime}),
		workflow.WithNotifier(notifier),
		workflow.WithLogger(logger),
		workflow.WithDirectory(workflow.NewRoleDirectory(map[string][]string{
			"qa_manager": {"user-qa", "user-qa-2"},
		})),
	)
}

func twoStepWorkflow(id string, allowsRejection bool, allowsRevision bool) *model.WorkflowModel {
	return &model.WorkflowModel{
		ID:                         id,
		Code:                       id,
		Name:                       "SOP approval",
		Type:                       model.WorkflowTypeApproval,
		RequiresSequentialApproval: true,
		AllowsRejection:            allowsRejection,
		AllowsRevisionRequest:      allowsRevision,
		IsActive:                   true,
		Steps: []model.WorkflowStepModel{
			{
				ID:             id + "-review",
				Name:           "Technical review",
				StepOrder:      1,
				StepType:       model.StepTypeReview,
				RequiredUserID: "user-reviewer",
				TimeoutDays:    3,
				IsActive:       true,
			},
			{
				ID:                id + "-qa",
				Name:              "QA approval",
				StepOrder:         2,
				StepType:          model.StepTypeQAApproval,
				RequiredRoleID:    "QA_Manager",
				RequiresSignature: true,
				IsActive:          true,
			},
		},
	}
}

func actor(id string, roles ...string) types.ActionContext {
	a := types.Actor{ID: id, Name: id, Email: id + "@example.com", Roles: roles}
	if len(roles) > 0 {
		a.RoleID = roles[0]
		a.RoleName = roles[0]
	}
	return types.ActionContext{Actor: a, ClientIP: "10.1.1.1", UserAgent: "test-agent"}
}

func author() types.ActionContext   { return actor("user-author", "Author") }
func reviewer() types.ActionContext { return actor("user-reviewer") }
func qa() types.ActionContext       { return actor("user-qa", "QA_Manager") }
func outsider() types.ActionContext { return actor("user-outsider") }
func admin() types.ActionContext    { return actor("user-admin", "admin") }

func (f *fixture) submitted(t *testing.T) *model.WorkflowInstanceModel {
	ctx := context.Background()
	instance, err := f.engine.Initiate(ctx, author(), "doc-001", "wf-001")
	require.NoError(t, err)
	instance, err = f.engine.Submit(ctx, author(), instance.ID)
	require.NoError(t, err)
	return instance
}

func (f *fixture) documentStatus(t *testing.T, id string) string {
	info, err := f.docs.Describe(context.Background(), id)
	require.NoError(t, err)
	return info.Status
}

func (f *fixture) countAudit(t *testing.T, action string) int64 {
	var count int64
	require.NoError(t, f.db.Model(&model.AuditLogModel{}).
		Where("action = ? AND category = ?", action, model.AuditCategoryWorkflow).
		Count(&count).Error)
	return count
}

// TestEngine_Initiate 测试发起草稿实例
func TestEngine_Initiate(t *testing.T) {
	f := setupTestDBForWorkflow(t)

	instance, err := f.engine.Initiate(context.Background(), author(), "doc-001", "wf-001")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusDraft, instance.Status)
	assert.Equal(t, "ver-001", instance.DocumentVersionID)
	assert.Equal(t, "user-author", instance.InitiatedBy)
	assert.Nil(t, instance.CurrentStepID)
	assert.Nil(t, instance.ActiveDocumentID)
	assert.Equal(t, types.DocumentStatusDraft, f.documentStatus(t, "doc-001"))

	history, err := f.engine.History(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.InstanceStatusDraft, history[0].ToState)
	assert.Equal(t, int64(1), f.countAudit(t, model.AuditActionCreate))
}

// TestEngine_Initiate_Preconditions 测试发起前置条件
func TestEngine_Initiate_Preconditions(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()

	_, err := f.engine.Initiate(ctx, author(), "doc-missing", "wf-001")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.engine.Initiate(ctx, author(), "doc-empty", "wf-001")
	assert.ErrorIs(t, err, types.ErrNoCurrentVersion)

	_, err = f.engine.Initiate(ctx, author(), "doc-001", "wf-missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	inactive := twoStepWorkflow("wf-retired", true, true)
	inactive.IsActive = false
	require.NoError(t, repository.NewWorkflowRepository(f.db).Create(ctx, inactive))
	_, err = f.engine.Initiate(ctx, author(), "doc-001", "wf-retired")
	assert.ErrorIs(t, err, types.ErrWorkflowInactive)

	// 失败的操作不留下任何痕迹
	var count int64
	require.NoError(t, f.db.Model(&model.WorkflowInstanceModel{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, int64(0), f.countAudit(t, model.AuditActionCreate))
}

// TestEngine_Submit 测试提交后激活第一个步骤
func TestEngine_Submit(t *testing.T) {
	f := setupTestDBForWorkflow(t)

	instance := f.submitted(t)
	assert.Equal(t, model.InstanceStatusPending, instance.Status)
	assert.Equal(t, 1, instance.CurrentStepOrder)
	require.NotNil(t, instance.CurrentStepID)
	assert.Equal(t, "wf-001-review", *instance.CurrentStepID)
	require.NotNil(t, instance.ActiveDocumentID)
	assert.Equal(t, "doc-001", *instance.ActiveDocumentID)
	require.NotNil(t, instance.SubmittedAt)
	require.NotNil(t, instance.DueDate)
	assert.Equal(t, 72*time.Hour, instance.DueDate.Sub(*instance.SubmittedAt))
	assert.Equal(t, types.DocumentStatusPendingApproval, f.documentStatus(t, "doc-001"))

	pending := f.notifier.byType(model.NotificationWorkflowPending)
	require.Len(t, pending, 1)
	assert.Equal(t, "user-reviewer", pending[0].UserID)
	assert.Equal(t, "high", pending[0].Priority)

	_, err := f.engine.Submit(context.Background(), author(), instance.ID)
	assert.ErrorIs(t, err, types.ErrAlreadySubmitted)
}

// TestEngine_Submit_NoActiveSteps 测试没有启用步骤的模板不能提交
func TestEngine_Submit_NoActiveSteps(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()

	empty := twoStepWorkflow("wf-empty", true, true)
	for i := range empty.Steps {
		empty.Steps[i].IsActive = false
	}
	require.NoError(t, repository.NewWorkflowRepository(f.db).Create(ctx, empty))

	instance, err := f.engine.Initiate(ctx, author(), "doc-001", "wf-empty")
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, author(), instance.ID)
	assert.ErrorIs(t, err, types.ErrNoSteps)

	stored, err := f.engine.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusDraft, stored.Status)
}

// TestEngine_SingleActiveInstance 测试同一文档只能有一个活跃实例
func TestEngine_SingleActiveInstance(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()

	// 两个草稿可以并存
	first, err := f.engine.Initiate(ctx, author(), "doc-001", "wf-001")
	require.NoError(t, err)
	second, err := f.engine.Initiate(ctx, author(), "doc-001", "wf-001")
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, author(), first.ID)
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, author(), second.ID)
	assert.ErrorIs(t, err, types.ErrWorkflowAlreadyActive)

	_, err = f.engine.Initiate(ctx, author(), "doc-001", "wf-001")
	assert.ErrorIs(t, err, types.ErrWorkflowAlreadyActive)

	stored, err := f.engine.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusDraft, stored.Status)

	active, err := f.engine.ActiveForDocument(ctx, "doc-001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

// TestEngine_LinearApproval 测试两步审批完成后文档与版本被批准
func TestEngine_LinearApproval(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()
	instance := f.submitted(t)

	// 第一步指定了审批人
	_, err := f.engine.ApproveStep(ctx, qa(), instance.ID, workflow.ApproveRequest{})
	assert.ErrorIs(t, err, types.ErrNotEligible)

	instance, err = f.engine.ApproveStep(ctx, reviewer(), instance.ID, workflow.ApproveRequest{Comment: "  technically sound  "})
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusInProgress, instance.Status)
	assert.Equal(t, 2, instance.CurrentStepOrder)
	assert.Nil(t, instance.DueDate)

	pending := f.notifier.byType(model.NotificationWorkflowPending)
	require.Len(t, pending, 3)
	assert.ElementsMatch(t, []string{"user-reviewer", "user-qa", "user-qa-2"},
		[]string{pending[0].UserID, pending[1].UserID, pending[2].UserID})

	// 第二步要求电子签名
	_, err = f.engine.ApproveStep(ctx, qa(), instance.ID, workflow.ApproveRequest{Comment: "ok"})
	assert.ErrorIs(t, err, types.ErrSignatureRequired)

	require.NoError(t, f.sigs.SetupPIN(ctx, qa(), qaPIN))
	require.NoError(t, f.sigs.SetSigningCapability(ctx, admin(), "user-qa", true))
	_, err = f.engine.ApproveStep(ctx, qa(), instance.ID, workflow.ApproveRequest{PIN: "000000"})
	assert.ErrorIs(t, err, types.ErrInvalidCredential)

	instance, err = f.engine.ApproveStep(ctx, qa(), instance.ID, workflow.ApproveRequest{Comment: "released", PIN: qaPIN})
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusApproved, instance.Status)
	assert.Nil(t, instance.CurrentStepID)
	assert.Nil(t, instance.ActiveDocumentID)
	assert.Equal(t, "user-qa", instance.CompletedBy)
	assert.Equal(t, "released", instance.FinalComment)
	require.NotNil(t, instance.CompletedAt)

	assert.Equal(t, types.DocumentStatusApproved, f.documentStatus(t, "doc-001"))
	var version model.DocumentVersionModel
	require.NoError(t, f.db.Where("id = ?", "ver-001").First(&version).Error)
	assert.True(t, version.IsApproved)
	assert.Equal(t, "user-qa", version.ApprovedBy)

	// 签名绑定文档版本内容
	sigs, err := f.sigs.ForTarget(ctx, signature.WorkflowInstanceTarget{InstanceID: instance.ID})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, fileHash, sigs[0].DocumentHash)
	assert.Equal(t, model.MeaningApproved, sigs[0].Meaning)

	actions, err := f.engine.Actions(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, model.ActionSubmitted, actions[0].Action)
	assert.Equal(t, model.ActionApproved, actions[1].Action)
	assert.Equal(t, "technically sound", actions[1].Comment)
	assert.Equal(t, model.ActionApproved, actions[2].Action)
	assert.True(t, actions[2].SignatureRequired)
	assert.True(t, actions[2].SignatureProvided)
	assert.Equal(t, sigs[0].ID, actions[2].SignatureID)

	history, err := f.engine.History(ctx, instance.ID)
	require.NoError(t, err)
	states := make([]string, 0, len(history))
	for _, h := range history {
		states = append(states, h.ToState)
	}
	assert.Equal(t, []string{
		model.InstanceStatusDraft,
		model.InstanceStatusPending,
		model.InstanceStatusInProgress,
		model.InstanceStatusApproved,
	}, states)

	assert.Equal(t, int64(1), f.countAudit(t, model.AuditActionSubmit))
	assert.Equal(t, int64(2), f.countAudit(t, model.AuditActionApprove))

	approved := f.notifier.byType(model.NotificationWorkflowApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, "user-author", approved[0].UserID)

	verification, err := f.chain.VerifyChain(ctx, 0)
	require.NoError(t, err)
	assert.True(t, verification.Intact())

	// 终态实例不再接受操作
	_, err = f.engine.ApproveStep(ctx, qa(), instance.ID, workflow.ApproveRequest{PIN: qaPIN})
	assert.ErrorIs(t, err, types.ErrNoActiveStep)
}

// TestEngine_ApproveStep_RequiresComment 测试步骤要求意见
func TestEngine_ApproveStep_RequiresComment(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()

	wf := twoStepWorkflow("wf-comment", true, true)
	wf.Steps[0].RequiresComment = true
	require.NoError(t, repository.NewWorkflowRepository(f.db).Create(ctx, wf))

	instance, err := f.engine.Initiate(ctx, author(), "doc-001", "wf-comment")
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, author(), instance.ID)
	require.NoError(t, err)

	_, err = f.engine.ApproveStep(ctx, reviewer(), instance.ID, workflow.ApproveRequest{Comment: "   "})
	assert.ErrorIs(t, err, types.ErrCommentRequired)

	_, err = f.engine.ApproveStep(ctx, reviewer(), instance.ID, workflow.ApproveRequest{Comment: "reviewed"})
	assert.NoError(t, err)
}

// TestEngine_RejectWorkflow 测试驳回后文档回到草稿
func TestEngine_RejectWorkflow(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()
	instance := f.submitted(t)

	_, err := f.engine.RejectWorkflow(ctx, reviewer(), instance.ID, workflow.RejectRequest{Reason: " "})
	assert.ErrorIs(t, err, types.ErrReasonRequired)

	_, err = f.engine.RejectWorkflow(ctx, outsider(), instance.ID, workflow.RejectRequest{Reason: "no"})
	assert.ErrorIs(t, err, types.ErrNotEligible)

	instance, err = f.engine.RejectWorkflow(ctx, reviewer(), instance.ID, workflow.RejectRequest{Reason: "section 4 incomplete"})
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusRejected, instance.Status)
	assert.True(t, instance.IsTerminal())
	assert.Equal(t, "section 4 incomplete", instance.FinalComment)
	assert.Equal(t, types.DocumentStatusDraft, f.documentStatus(t, "doc-001"))

	rejected := f.notifier.byType(model.NotificationWorkflowRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "user-author", rejected[0].UserID)

	// 驳回后可以重新发起
	_, err = f.engine.Initiate(ctx, author(), "doc-001", "wf-001")
	assert.NoError(t, err)
}

// TestEngine_RejectWorkflow_NotAllowed 测试模板不允许驳回
func TestEngine_RejectWorkflow_NotAllowed(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()
	require.NoError(t, repository.NewWorkflowRepository(f.db).Create(ctx, twoStepWorkflow("wf-strict", false, false)))

	instance, err := f.engine.Initiate(ctx, author(), "doc-001", "wf-strict")
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, author(), instance.ID)
	require.NoError(t, err)

	_, err = f.engine.RejectWorkflow(ctx, reviewer(), instance.ID, workflow.RejectRequest{Reason: "no"})
	assert.ErrorIs(t, err, types.ErrRejectionNotAllowed)

	_, err = f.engine.RequestRevision(ctx, reviewer(), instance.ID, "fix typo")
	assert.ErrorIs(t, err, types.ErrRevisionNotAllowed)
}

// TestEngine_RequestRevision 测试退回修改不是终态
func TestEngine_RequestRevision(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()
	instance := f.submitted(t)

	_, err := f.engine.RequestRevision(ctx, reviewer(), instance.ID, "")
	assert.ErrorIs(t, err, types.ErrCommentRequired)

	instance, err = f.engine.RequestRevision(ctx, reviewer(), instance.ID, "update the flow chart")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusDraft, instance.Status)
	assert.False(t, instance.IsTerminal())
	assert.Nil(t, instance.CurrentStepID)
	assert.Nil(t, instance.ActiveDocumentID)
	assert.Equal(t, types.DocumentStatusDraft, f.documentStatus(t, "doc-001"))
	assert.Len(t, f.notifier.byType(model.NotificationRevisionRequested), 1)

	// 修改后重新提交，从第一步开始
	instance, err = f.engine.Submit(ctx, author(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusPending, instance.Status)
	assert.Equal(t, 1, instance.CurrentStepOrder)
}

// TestEngine_CancelWorkflow 测试取消权限
func TestEngine_CancelWorkflow(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()

	draft, err := f.engine.Initiate(ctx, author(), "doc-001", "wf-001")
	require.NoError(t, err)
	_, err = f.engine.CancelWorkflow(ctx, author(), draft.ID, "")
	assert.ErrorIs(t, err, types.ErrNotActive)

	instance, err := f.engine.Submit(ctx, author(), draft.ID)
	require.NoError(t, err)

	_, err = f.engine.CancelWorkflow(ctx, outsider(), instance.ID, "not mine")
	assert.ErrorIs(t, err, types.ErrNotAuthorizedToCancel)

	// 发起人取消不通知自己
	instance, err = f.engine.CancelWorkflow(ctx, author(), instance.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusCancelled, instance.Status)
	assert.Equal(t, types.DocumentStatusDraft, f.documentStatus(t, "doc-001"))
	assert.Empty(t, f.notifier.byType(model.NotificationWorkflowCancelled))

	_, err = f.engine.CancelWorkflow(ctx, author(), instance.ID, "")
	assert.ErrorIs(t, err, types.ErrNotActive)
}

// TestEngine_CancelWorkflow_Manager 测试持有管理权限的用户可以取消他人的实例
func TestEngine_CancelWorkflow_Manager(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	instance := f.submitted(t)

	instance, err := f.engine.CancelWorkflow(context.Background(), qa(), instance.ID, "superseded by change control")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusCancelled, instance.Status)
	assert.Equal(t, "user-qa", instance.CompletedBy)

	cancelled := f.notifier.byType(model.NotificationWorkflowCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "user-author", cancelled[0].UserID)
}

// TestEngine_ExpireOverdue 测试超时实例过期
func TestEngine_ExpireOverdue(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()
	instance := f.submitted(t)

	expired, err := f.engine.ExpireOverdue(ctx, types.System(baseTime.AddDate(0, 0, 2)))
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	expired, err = f.engine.ExpireOverdue(ctx, types.System(baseTime.AddDate(0, 0, 4)))
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, err := f.engine.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusExpired, stored.Status)
	assert.Equal(t, types.SystemActorID, stored.CompletedBy)
	assert.Nil(t, stored.ActiveDocumentID)
	assert.Equal(t, types.DocumentStatusDraft, f.documentStatus(t, "doc-001"))

	actions, err := f.engine.Actions(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionTimedOut, actions[len(actions)-1].Action)
	assert.Len(t, f.notifier.byType(model.NotificationWorkflowExpired), 1)

	_, err = f.engine.Expire(ctx, types.System(baseTime), instance.ID)
	assert.ErrorIs(t, err, types.ErrNotActive)
}

// TestEngine_PendingForUser 测试待办列表随步骤推进变化
func TestEngine_PendingForUser(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()
	instance := f.submitted(t)

	pending, err := f.engine.PendingForUser(ctx, reviewer().Actor)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, instance.ID, pending[0].ID)

	pending, err = f.engine.PendingForUser(ctx, qa().Actor)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.engine.ApproveStep(ctx, reviewer(), instance.ID, workflow.ApproveRequest{})
	require.NoError(t, err)

	pending, err = f.engine.PendingForUser(ctx, reviewer().Actor)
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = f.engine.PendingForUser(ctx, qa().Actor)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// TestEngine_FailedActionSendsNothing 测试失败的操作不发送通知
func TestEngine_FailedActionSendsNothing(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	instance := f.submitted(t)
	before := f.notifier.count()

	_, err := f.engine.RejectWorkflow(context.Background(), outsider(), instance.ID, workflow.RejectRequest{Reason: "no"})
	require.Error(t, err)
	assert.Equal(t, before, f.notifier.count())
}

// TestEngine_NotificationFailureIgnored 测试通知发送失败不影响已提交的操作
func TestEngine_NotificationFailureIgnored(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	notifier := &recordingNotifier{err: errors.New("smtp relay down")}
	engine := newEngine(f.db, f.docs, f.chain, f.sigs, notifier, logger)

	instance, err := engine.Initiate(ctx, author(), "doc-001", "wf-001")
	require.NoError(t, err)
	instance, err = engine.Submit(ctx, author(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusPending, instance.Status)

	instance, err = engine.ApproveStep(ctx, reviewer(), instance.ID, workflow.ApproveRequest{Comment: "ok"})
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusInProgress, instance.Status)

	// 状态已提交
	stored, err := engine.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusInProgress, stored.Status)
	assert.Equal(t, 2, stored.CurrentStepOrder)
	assert.Equal(t, types.DocumentStatusPendingApproval, f.documentStatus(t, "doc-001"))
	assert.Equal(t, int64(1), f.countAudit(t, model.AuditActionSubmit))
	assert.Equal(t, int64(1), f.countAudit(t, model.AuditActionApprove))

	// 每条通知都尝试过并记录警告
	require.NotZero(t, notifier.count())
	var warnings int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "failed to dispatch notification" {
			warnings++
		}
	}
	assert.Equal(t, notifier.count(), warnings)
}

// TestEngine_Get_NotFound 测试获取不存在的实例
func TestEngine_Get_NotFound(t *testing.T) {
	f := setupTestDBForWorkflow(t)
	ctx := context.Background()

	_, err := f.engine.Get(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.engine.Submit(ctx, author(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.engine.ActiveForDocument(ctx, "doc-001")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
