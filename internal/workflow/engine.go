package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/metrics"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/repository"
	"github.com/mautops/docflow-gin/internal/signature"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/mautops/docflow-gin/internal/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// maxCommentLength 审批意见最大长度
const maxCommentLength = 10000

// subjectType 审计对象类型
const subjectType = "workflow_instance"

// ApproveRequest 审批通过请求
type ApproveRequest struct {
	Comment string `json:"comment"`
	PIN     string `json:"pin"`
}

// RejectRequest 驳回请求
type RejectRequest struct {
	Reason string `json:"reason"`
	PIN    string `json:"pin"`
}

// Engine 工作流引擎接口
// 每个操作在单个事务内完成，成功时返回最新的实例
type Engine interface {
	Initiate(ctx context.Context, actx types.ActionContext, documentID string, workflowID string) (*model.WorkflowInstanceModel, error)
	Submit(ctx context.Context, actx types.ActionContext, instanceID string) (*model.WorkflowInstanceModel, error)
	ApproveStep(ctx context.Context, actx types.ActionContext, instanceID string, req ApproveRequest) (*model.WorkflowInstanceModel, error)
	RejectWorkflow(ctx context.Context, actx types.ActionContext, instanceID string, req RejectRequest) (*model.WorkflowInstanceModel, error)
	RequestRevision(ctx context.Context, actx types.ActionContext, instanceID string, comment string) (*model.WorkflowInstanceModel, error)
	CancelWorkflow(ctx context.Context, actx types.ActionContext, instanceID string, reason string) (*model.WorkflowInstanceModel, error)
	Expire(ctx context.Context, actx types.ActionContext, instanceID string) (*model.WorkflowInstanceModel, error)
	ExpireOverdue(ctx context.Context, actx types.ActionContext) (int, error)
	Get(ctx context.Context, instanceID string) (*model.WorkflowInstanceModel, error)
	Actions(ctx context.Context, instanceID string) ([]*model.StepActionModel, error)
	History(ctx context.Context, instanceID string) ([]*model.StateHistoryModel, error)
	PendingForUser(ctx context.Context, actor types.Actor) ([]*model.WorkflowInstanceModel, error)
	ActiveForDocument(ctx context.Context, documentID string) (*model.WorkflowInstanceModel, error)
}

// engine 工作流引擎实现
type engine struct {
	db          *gorm.DB
	workflows   repository.WorkflowRepository
	instances   repository.InstanceRepository
	actions     repository.StepActionRepository
	history     repository.StateHistoryRepository
	docs        types.DocumentStore
	chain       audit.Chain
	signatures  signature.Service
	permissions types.PermissionChecker
	notifier    types.NotificationDispatcher
	directory   ApproverDirectory
	clock       types.Clock
	logger      *logrus.Logger
	tracer      trace.Tracer
}

// Option 引擎选项
type Option func(*engine)

// WithClock 指定时钟
func WithClock(clock types.Clock) Option {
	return func(e *engine) { e.clock = clock }
}

// WithLogger 指定日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(e *engine) { e.logger = logger }
}

// WithNotifier 指定通知分发器
func WithNotifier(notifier types.NotificationDispatcher) Option {
	return func(e *engine) { e.notifier = notifier }
}

// WithDirectory 指定审批人目录
func WithDirectory(directory ApproverDirectory) Option {
	return func(e *engine) { e.directory = directory }
}

// NewEngine 创建工作流引擎
func NewEngine(db *gorm.DB, docs types.DocumentStore, chain audit.Chain, signatures signature.Service, permissions types.PermissionChecker, opts ...Option) Engine {
	e := &engine{
		db:          db,
		workflows:   repository.NewWorkflowRepository(db),
		instances:   repository.NewInstanceRepository(db),
		actions:     repository.NewStepActionRepository(db),
		history:     repository.NewStateHistoryRepository(db),
		docs:        docs,
		chain:       chain,
		signatures:  signatures,
		permissions: permissions,
		clock:       types.SystemClock{},
		logger:      logrus.StandardLogger(),
		tracer:      otel.Tracer("docflow/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// outbox 事务提交后再发送的通知
type outbox struct {
	items []types.Notification
}

func (o *outbox) add(n types.Notification) {
	o.items = append(o.items, n)
}

// execute 在事务中执行操作，提交后分发通知
func (e *engine) execute(ctx context.Context, op string, instanceID string, fn func(ctx context.Context, out *outbox) error) error {
	ctx, span := e.tracer.Start(ctx, "workflow."+op, trace.WithAttributes(
		attribute.String("workflow.instance_id", instanceID),
	))
	defer span.End()

	out := &outbox{}
	err := database.Transaction(ctx, e.db, func(ctx context.Context) error {
		return fn(ctx, out)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	metrics.RecordWorkflowAction(op)
	e.dispatch(ctx, out.items)
	return nil
}

// dispatch 发送通知，失败只记录日志
func (e *engine) dispatch(ctx context.Context, items []types.Notification) {
	if e.notifier == nil {
		return
	}
	for _, n := range items {
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"user_id": n.UserID,
				"type":    n.Type,
			}).Warn("failed to dispatch notification")
		}
	}
}

// Initiate 为文档创建草稿状态的工作流实例
func (e *engine) Initiate(ctx context.Context, actx types.ActionContext, documentID string, workflowID string) (*model.WorkflowInstanceModel, error) {
	var instance *model.WorkflowInstanceModel
	err := e.execute(ctx, "initiate", "", func(ctx context.Context, _ *outbox) error {
		doc, err := e.docs.Describe(ctx, documentID)
		if err != nil {
			return err
		}

		active, err := e.instances.FindActiveByDocument(ctx, documentID)
		if err != nil {
			return fmt.Errorf("failed to check active workflow: %w", err)
		}
		if active != nil {
			return types.ErrWorkflowAlreadyActive
		}

		version, err := e.docs.CurrentVersion(ctx, documentID)
		if err != nil {
			return err
		}
		if version == nil {
			return types.ErrNoCurrentVersion
		}

		workflow, err := e.workflows.FindByID(ctx, workflowID)
		if database.IsNotFound(err) {
			return types.ErrNotFound.Withf("workflow %s not found", workflowID)
		}
		if err != nil {
			return fmt.Errorf("failed to load workflow: %w", err)
		}
		if !workflow.IsActive {
			return types.ErrWorkflowInactive
		}

		at := actx.At(e.clock)
		instance = &model.WorkflowInstanceModel{
			ID:                uuid.New().String(),
			WorkflowID:        workflow.ID,
			DocumentID:        documentID,
			DocumentVersionID: version.ID,
			InitiatedBy:       actx.Actor.AuditID(),
			Status:            model.InstanceStatusDraft,
			InitiatedAt:       at,
		}
		if err := e.instances.Create(ctx, instance); err != nil {
			return fmt.Errorf("failed to create workflow instance: %w", err)
		}
		if err := e.history.Create(ctx, &model.StateHistoryModel{
			ID:         uuid.New().String(),
			InstanceID: instance.ID,
			ToState:    model.InstanceStatusDraft,
			Reason:     "workflow initiated",
			Operator:   actx.Actor.AuditID(),
			CreatedAt:  at,
		}); err != nil {
			return fmt.Errorf("failed to save state history: %w", err)
		}

		_, err = e.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionCreate,
			Category:    model.AuditCategoryWorkflow,
			Description: fmt.Sprintf("Workflow %s initiated", workflow.Name),
			Subject:     subject(instance, doc),
			DocumentID:  documentID,
			After: map[string]interface{}{
				"status":              instance.Status,
				"workflow_id":         workflow.ID,
				"document_version_id": version.ID,
			},
			Critical: doc.IsGMPCritical,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// Submit 提交草稿实例，激活第一个步骤
func (e *engine) Submit(ctx context.Context, actx types.ActionContext, instanceID string) (*model.WorkflowInstanceModel, error) {
	var instance *model.WorkflowInstanceModel
	err := e.execute(ctx, "submit", instanceID, func(ctx context.Context, out *outbox) error {
		var err error
		if instance, err = e.load(ctx, instanceID); err != nil {
			return err
		}
		if instance.Status != model.InstanceStatusDraft {
			return types.ErrAlreadySubmitted
		}

		workflow, err := e.workflows.FindByID(ctx, instance.WorkflowID)
		if err != nil {
			return fmt.Errorf("failed to load workflow: %w", err)
		}
		if !workflow.IsActive {
			return types.ErrWorkflowInactive
		}
		first, err := e.workflows.FirstStep(ctx, workflow.ID)
		if err != nil {
			return fmt.Errorf("failed to load first step: %w", err)
		}
		if first == nil {
			return types.ErrNoSteps
		}
		doc, err := e.docs.Describe(ctx, instance.DocumentID)
		if err != nil {
			return err
		}

		before := snapshot(instance)
		at := actx.At(e.clock)
		if err := e.transition(ctx, actx, instance, model.InstanceStatusPending, "submitted for approval"); err != nil {
			return err
		}
		instance.BindStep(first)
		instance.SubmittedAt = &at
		instance.DueDate = dueDate(at, first)
		instance.CompletedAt = nil
		instance.CompletedBy = ""
		if err := e.save(ctx, instance); err != nil {
			return err
		}

		if err := e.recordAction(ctx, actx, instance, first, model.ActionSubmitted, "", ""); err != nil {
			return err
		}
		if err := e.docs.SetStatus(ctx, instance.DocumentID, types.DocumentStatusPendingApproval); err != nil {
			return fmt.Errorf("failed to update document status: %w", err)
		}

		if _, err := e.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionSubmit,
			Category:    model.AuditCategoryWorkflow,
			Description: fmt.Sprintf("Document %s submitted for %s", doc.Number, workflow.Name),
			Subject:     subject(instance, doc),
			DocumentID:  instance.DocumentID,
			Before:      before,
			After:       snapshot(instance),
			Metadata:    stepMetadata(first),
			Critical:    doc.IsGMPCritical,
		}); err != nil {
			return err
		}

		e.notifyApprovers(ctx, out, instance, first, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ApproveStep 通过当前步骤
// 存在后续步骤时推进，否则完成工作流
func (e *engine) ApproveStep(ctx context.Context, actx types.ActionContext, instanceID string, req ApproveRequest) (*model.WorkflowInstanceModel, error) {
	var instance *model.WorkflowInstanceModel
	err := e.execute(ctx, "approve", instanceID, func(ctx context.Context, out *outbox) error {
		var err error
		if instance, err = e.load(ctx, instanceID); err != nil {
			return err
		}
		step, err := e.activeStep(ctx, instance)
		if err != nil {
			return err
		}
		if err := e.requireEligible(ctx, actx.Actor, step); err != nil {
			return err
		}

		comment, err := utils.ValidateComment(req.Comment, maxCommentLength)
		if err != nil {
			return types.ErrInvalidInput.Withf("comment is too long")
		}
		if step.RequiresComment && comment == "" {
			return types.ErrCommentRequired
		}

		var signatureID string
		if step.RequiresElectronicSignature() {
			if req.PIN == "" {
				return types.ErrSignatureRequired
			}
			sig, err := e.sign(ctx, actx, instance, model.MeaningApproved, req.PIN, comment)
			if err != nil {
				return err
			}
			signatureID = sig.ID
		}

		doc, err := e.docs.Describe(ctx, instance.DocumentID)
		if err != nil {
			return err
		}

		before := snapshot(instance)
		if err := e.recordAction(ctx, actx, instance, step, model.ActionApproved, comment, signatureID); err != nil {
			return err
		}
		if step.TargetStatus != "" {
			if err := e.docs.SetStatus(ctx, instance.DocumentID, step.TargetStatus); err != nil {
				return fmt.Errorf("failed to update document status: %w", err)
			}
		}

		next, err := e.workflows.NextStep(ctx, instance.WorkflowID, step.StepOrder)
		if err != nil {
			return fmt.Errorf("failed to load next step: %w", err)
		}

		at := actx.At(e.clock)
		completed := next == nil
		if completed {
			if err := e.transition(ctx, actx, instance, model.InstanceStatusApproved, "all steps approved"); err != nil {
				return err
			}
			instance.BindStep(nil)
			instance.CompletedAt = &at
			instance.CompletedBy = actx.Actor.AuditID()
			instance.FinalComment = comment
			instance.DueDate = nil
		} else {
			if err := e.transition(ctx, actx, instance, model.InstanceStatusInProgress, fmt.Sprintf("step %s approved", step.Name)); err != nil {
				return err
			}
			instance.BindStep(next)
			instance.DueDate = dueDate(at, next)
		}
		if err := e.save(ctx, instance); err != nil {
			return err
		}

		metadata := stepMetadata(step)
		if signatureID != "" {
			metadata["signature_id"] = signatureID
		}
		if _, err := e.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionApprove,
			Category:    model.AuditCategoryWorkflow,
			Description: fmt.Sprintf("Step %s approved", step.Name),
			Subject:     subject(instance, doc),
			DocumentID:  instance.DocumentID,
			Before:      before,
			After:       snapshot(instance),
			Metadata:    metadata,
			Comment:     comment,
			Critical:    doc.IsGMPCritical || signatureID != "",
		}); err != nil {
			return err
		}

		if !completed {
			e.notifyApprovers(ctx, out, instance, next, doc)
			return nil
		}
		return e.complete(ctx, actx, out, instance, doc, at)
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// complete 工作流全部步骤通过后的收尾
func (e *engine) complete(ctx context.Context, actx types.ActionContext, out *outbox, instance *model.WorkflowInstanceModel, doc *types.DocumentInfo, at time.Time) error {
	if err := e.docs.SetStatus(ctx, instance.DocumentID, types.DocumentStatusApproved); err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if err := e.docs.MarkVersionApproved(ctx, instance.DocumentVersionID, actx.Actor.AuditID(), at); err != nil {
		return fmt.Errorf("failed to mark version approved: %w", err)
	}

	if _, err := e.chain.Append(ctx, actx, audit.Entry{
		Action:      model.AuditActionUpdate,
		Category:    model.AuditCategoryWorkflow,
		Description: fmt.Sprintf("Workflow completed, document %s approved", doc.Number),
		Subject:     subject(instance, doc),
		DocumentID:  instance.DocumentID,
		Before:      map[string]interface{}{"document_status": types.DocumentStatusPendingApproval},
		After: map[string]interface{}{
			"document_status":     types.DocumentStatusApproved,
			"document_version_id": instance.DocumentVersionID,
		},
		Critical: true,
	}); err != nil {
		return err
	}

	out.add(types.Notification{
		UserID:      instance.InitiatedBy,
		Type:        model.NotificationWorkflowApproved,
		Title:       "Workflow approved",
		Message:     fmt.Sprintf("Document %s has been approved", doc.Number),
		Priority:    "normal",
		SubjectType: subjectType,
		SubjectID:   instance.ID,
	})
	return nil
}

// RejectWorkflow 驳回工作流
func (e *engine) RejectWorkflow(ctx context.Context, actx types.ActionContext, instanceID string, req RejectRequest) (*model.WorkflowInstanceModel, error) {
	var instance *model.WorkflowInstanceModel
	err := e.execute(ctx, "reject", instanceID, func(ctx context.Context, out *outbox) error {
		var err error
		if instance, err = e.load(ctx, instanceID); err != nil {
			return err
		}
		step, err := e.activeStep(ctx, instance)
		if err != nil {
			return err
		}
		if err := e.requireEligible(ctx, actx.Actor, step); err != nil {
			return err
		}

		reason, err := utils.ValidateComment(req.Reason, maxCommentLength)
		if err != nil {
			return types.ErrInvalidInput.Withf("reason is too long")
		}
		if reason == "" {
			return types.ErrReasonRequired.Withf("rejection reason is required")
		}

		workflow, err := e.workflows.FindByID(ctx, instance.WorkflowID)
		if err != nil {
			return fmt.Errorf("failed to load workflow: %w", err)
		}
		if !workflow.AllowsRejection {
			return types.ErrRejectionNotAllowed
		}

		var signatureID string
		if step.RequiresElectronicSignature() && req.PIN != "" {
			sig, err := e.sign(ctx, actx, instance, model.MeaningRejected, req.PIN, reason)
			if err != nil {
				return err
			}
			signatureID = sig.ID
		}

		doc, err := e.docs.Describe(ctx, instance.DocumentID)
		if err != nil {
			return err
		}

		before := snapshot(instance)
		if err := e.recordAction(ctx, actx, instance, step, model.ActionRejected, reason, signatureID); err != nil {
			return err
		}

		at := actx.At(e.clock)
		if err := e.transition(ctx, actx, instance, model.InstanceStatusRejected, reason); err != nil {
			return err
		}
		instance.BindStep(nil)
		instance.CompletedAt = &at
		instance.CompletedBy = actx.Actor.AuditID()
		instance.FinalComment = reason
		instance.DueDate = nil
		if err := e.save(ctx, instance); err != nil {
			return err
		}

		docStatus := step.RejectionStatus
		if docStatus == "" {
			docStatus = types.DocumentStatusDraft
		}
		if err := e.docs.SetStatus(ctx, instance.DocumentID, docStatus); err != nil {
			return fmt.Errorf("failed to update document status: %w", err)
		}

		metadata := stepMetadata(step)
		metadata["document_status"] = docStatus
		if signatureID != "" {
			metadata["signature_id"] = signatureID
		}
		if _, err := e.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionReject,
			Category:    model.AuditCategoryWorkflow,
			Description: fmt.Sprintf("Step %s rejected", step.Name),
			Subject:     subject(instance, doc),
			DocumentID:  instance.DocumentID,
			Before:      before,
			After:       snapshot(instance),
			Metadata:    metadata,
			Comment:     reason,
			Critical:    doc.IsGMPCritical || signatureID != "",
		}); err != nil {
			return err
		}

		out.add(types.Notification{
			UserID:      instance.InitiatedBy,
			Type:        model.NotificationWorkflowRejected,
			Title:       "Workflow rejected",
			Message:     fmt.Sprintf("Document %s was rejected: %s", doc.Number, reason),
			Priority:    "high",
			SubjectType: subjectType,
			SubjectID:   instance.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// RequestRevision 退回修改，实例回到草稿状态
func (e *engine) RequestRevision(ctx context.Context, actx types.ActionContext, instanceID string, comment string) (*model.WorkflowInstanceModel, error) {
	var instance *model.WorkflowInstanceModel
	err := e.execute(ctx, "request_revision", instanceID, func(ctx context.Context, out *outbox) error {
		var err error
		if instance, err = e.load(ctx, instanceID); err != nil {
			return err
		}
		step, err := e.activeStep(ctx, instance)
		if err != nil {
			return err
		}
		if err := e.requireEligible(ctx, actx.Actor, step); err != nil {
			return err
		}

		comment, err := utils.ValidateComment(comment, maxCommentLength)
		if err != nil {
			return types.ErrInvalidInput.Withf("comment is too long")
		}
		if comment == "" {
			return types.ErrCommentRequired.Withf("revision request requires a comment")
		}

		workflow, err := e.workflows.FindByID(ctx, instance.WorkflowID)
		if err != nil {
			return fmt.Errorf("failed to load workflow: %w", err)
		}
		if !workflow.AllowsRevisionRequest {
			return types.ErrRevisionNotAllowed
		}
		doc, err := e.docs.Describe(ctx, instance.DocumentID)
		if err != nil {
			return err
		}

		before := snapshot(instance)
		if err := e.recordAction(ctx, actx, instance, step, model.ActionRevisionRequested, comment, ""); err != nil {
			return err
		}
		if err := e.transition(ctx, actx, instance, model.InstanceStatusDraft, comment); err != nil {
			return err
		}
		instance.BindStep(nil)
		instance.DueDate = nil
		if err := e.save(ctx, instance); err != nil {
			return err
		}
		if err := e.docs.SetStatus(ctx, instance.DocumentID, types.DocumentStatusDraft); err != nil {
			return fmt.Errorf("failed to update document status: %w", err)
		}

		if _, err := e.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionUpdate,
			Category:    model.AuditCategoryWorkflow,
			Description: fmt.Sprintf("Revision requested at step %s", step.Name),
			Subject:     subject(instance, doc),
			DocumentID:  instance.DocumentID,
			Before:      before,
			After:       snapshot(instance),
			Metadata:    stepMetadata(step),
			Comment:     comment,
			Critical:    doc.IsGMPCritical,
		}); err != nil {
			return err
		}

		out.add(types.Notification{
			UserID:      instance.InitiatedBy,
			Type:        model.NotificationRevisionRequested,
			Title:       "Revision requested",
			Message:     fmt.Sprintf("Revision requested for document %s: %s", doc.Number, comment),
			Priority:    "high",
			SubjectType: subjectType,
			SubjectID:   instance.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// CancelWorkflow 取消活跃的工作流
// 仅发起人或持有 workflow.manage 权限的用户可以取消
func (e *engine) CancelWorkflow(ctx context.Context, actx types.ActionContext, instanceID string, reason string) (*model.WorkflowInstanceModel, error) {
	var instance *model.WorkflowInstanceModel
	err := e.execute(ctx, "cancel", instanceID, func(ctx context.Context, out *outbox) error {
		var err error
		if instance, err = e.load(ctx, instanceID); err != nil {
			return err
		}
		if !instance.IsActive() {
			return types.ErrNotActive
		}
		if err := e.authorizeCancel(ctx, actx.Actor, instance); err != nil {
			return err
		}

		reason, err := utils.ValidateComment(reason, maxCommentLength)
		if err != nil {
			return types.ErrInvalidInput.Withf("reason is too long")
		}
		doc, err := e.docs.Describe(ctx, instance.DocumentID)
		if err != nil {
			return err
		}

		before := snapshot(instance)
		at := actx.At(e.clock)
		if err := e.transition(ctx, actx, instance, model.InstanceStatusCancelled, reason); err != nil {
			return err
		}
		instance.BindStep(nil)
		instance.CompletedAt = &at
		instance.CompletedBy = actx.Actor.AuditID()
		instance.FinalComment = reason
		instance.DueDate = nil
		if err := e.save(ctx, instance); err != nil {
			return err
		}
		if err := e.docs.SetStatus(ctx, instance.DocumentID, types.DocumentStatusDraft); err != nil {
			return fmt.Errorf("failed to update document status: %w", err)
		}

		if _, err := e.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionUpdate,
			Category:    model.AuditCategoryWorkflow,
			Description: "Workflow cancelled",
			Subject:     subject(instance, doc),
			DocumentID:  instance.DocumentID,
			Before:      before,
			After:       snapshot(instance),
			Comment:     reason,
			Critical:    doc.IsGMPCritical,
		}); err != nil {
			return err
		}

		if instance.InitiatedBy != actx.Actor.AuditID() {
			out.add(types.Notification{
				UserID:      instance.InitiatedBy,
				Type:        model.NotificationWorkflowCancelled,
				Title:       "Workflow cancelled",
				Message:     fmt.Sprintf("Workflow for document %s was cancelled", doc.Number),
				Priority:    "normal",
				SubjectType: subjectType,
				SubjectID:   instance.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func (e *engine) authorizeCancel(ctx context.Context, actor types.Actor, instance *model.WorkflowInstanceModel) error {
	if !actor.IsSystem() && actor.ID == instance.InitiatedBy {
		return nil
	}
	if e.permissions != nil {
		ok, err := e.permissions.HasPermission(ctx, actor, types.PermissionWorkflowManage)
		if err != nil {
			return fmt.Errorf("failed to check manage permission: %w", err)
		}
		if ok {
			return nil
		}
	}
	return types.ErrNotAuthorizedToCancel
}

// Expire 将超时的实例置为过期
func (e *engine) Expire(ctx context.Context, actx types.ActionContext, instanceID string) (*model.WorkflowInstanceModel, error) {
	var instance *model.WorkflowInstanceModel
	err := e.execute(ctx, "expire", instanceID, func(ctx context.Context, out *outbox) error {
		var err error
		if instance, err = e.load(ctx, instanceID); err != nil {
			return err
		}
		if !instance.IsActive() {
			return types.ErrNotActive
		}
		doc, err := e.docs.Describe(ctx, instance.DocumentID)
		if err != nil {
			return err
		}

		var step *model.WorkflowStepModel
		if instance.CurrentStepID != nil {
			if step, err = e.workflows.FindStep(ctx, *instance.CurrentStepID); err != nil {
				return fmt.Errorf("failed to load current step: %w", err)
			}
		}

		before := snapshot(instance)
		if err := e.recordAction(ctx, actx, instance, step, model.ActionTimedOut, "", ""); err != nil {
			return err
		}
		at := actx.At(e.clock)
		if err := e.transition(ctx, actx, instance, model.InstanceStatusExpired, "approval deadline exceeded"); err != nil {
			return err
		}
		instance.BindStep(nil)
		instance.CompletedAt = &at
		instance.CompletedBy = actx.Actor.AuditID()
		instance.DueDate = nil
		if err := e.save(ctx, instance); err != nil {
			return err
		}
		if err := e.docs.SetStatus(ctx, instance.DocumentID, types.DocumentStatusDraft); err != nil {
			return fmt.Errorf("failed to update document status: %w", err)
		}

		if _, err := e.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionUpdate,
			Category:    model.AuditCategoryWorkflow,
			Description: "Workflow expired",
			Subject:     subject(instance, doc),
			DocumentID:  instance.DocumentID,
			Before:      before,
			After:       snapshot(instance),
			Critical:    doc.IsGMPCritical,
		}); err != nil {
			return err
		}

		out.add(types.Notification{
			UserID:      instance.InitiatedBy,
			Type:        model.NotificationWorkflowExpired,
			Title:       "Workflow expired",
			Message:     fmt.Sprintf("Workflow for document %s expired before completion", doc.Number),
			Priority:    "high",
			SubjectType: subjectType,
			SubjectID:   instance.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ExpireOverdue 使所有超过截止时间的活跃实例过期，返回处理数量
// 单个实例失败不影响其余实例
func (e *engine) ExpireOverdue(ctx context.Context, actx types.ActionContext) (int, error) {
	overdue, err := e.instances.ListOverdue(ctx, actx.At(e.clock))
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue workflows: %w", err)
	}

	expired := 0
	for _, instance := range overdue {
		if _, err := e.Expire(ctx, actx, instance.ID); err != nil {
			e.logger.WithError(err).WithField("instance_id", instance.ID).Warn("failed to expire workflow instance")
			continue
		}
		expired++
	}
	return expired, nil
}

// Get 获取实例
func (e *engine) Get(ctx context.Context, instanceID string) (*model.WorkflowInstanceModel, error) {
	instance, err := e.instances.FindByID(ctx, instanceID)
	if database.IsNotFound(err) {
		return nil, types.ErrNotFound.Withf("workflow instance %s not found", instanceID)
	}
	return instance, err
}

// Actions 获取实例的步骤动作
func (e *engine) Actions(ctx context.Context, instanceID string) ([]*model.StepActionModel, error) {
	return e.actions.FindByInstanceID(ctx, instanceID)
}

// History 获取实例的状态历史
func (e *engine) History(ctx context.Context, instanceID string) ([]*model.StateHistoryModel, error) {
	return e.history.FindByInstanceID(ctx, instanceID)
}

// PendingForUser 获取操作人可以处理的活跃实例
func (e *engine) PendingForUser(ctx context.Context, actor types.Actor) ([]*model.WorkflowInstanceModel, error) {
	active, err := e.instances.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflows: %w", err)
	}

	steps := make(map[string]*model.WorkflowStepModel)
	pending := make([]*model.WorkflowInstanceModel, 0)
	for _, instance := range active {
		if instance.CurrentStepID == nil {
			continue
		}
		step, ok := steps[*instance.CurrentStepID]
		if !ok {
			if step, err = e.workflows.FindStep(ctx, *instance.CurrentStepID); err != nil {
				return nil, fmt.Errorf("failed to load step: %w", err)
			}
			steps[step.ID] = step
		}
		eligible, err := IsEligible(ctx, e.permissions, actor, step)
		if err != nil {
			return nil, err
		}
		if eligible {
			pending = append(pending, instance)
		}
	}
	return pending, nil
}

// ActiveForDocument 获取文档的活跃实例
func (e *engine) ActiveForDocument(ctx context.Context, documentID string) (*model.WorkflowInstanceModel, error) {
	instance, err := e.instances.FindActiveByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, types.ErrNotFound.Withf("document %s has no active workflow", documentID)
	}
	return instance, nil
}

// load 加锁读取实例
func (e *engine) load(ctx context.Context, instanceID string) (*model.WorkflowInstanceModel, error) {
	instance, err := e.instances.FindByIDForUpdate(ctx, instanceID)
	if database.IsNotFound(err) {
		return nil, types.ErrNotFound.Withf("workflow instance %s not found", instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow instance: %w", err)
	}
	return instance, nil
}

// activeStep 获取实例当前步骤
func (e *engine) activeStep(ctx context.Context, instance *model.WorkflowInstanceModel) (*model.WorkflowStepModel, error) {
	if !instance.IsActive() || instance.CurrentStepID == nil {
		return nil, types.ErrNoActiveStep
	}
	step, err := e.workflows.FindStep(ctx, *instance.CurrentStepID)
	if database.IsNotFound(err) {
		return nil, types.ErrNoActiveStep
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current step: %w", err)
	}
	return step, nil
}

func (e *engine) requireEligible(ctx context.Context, actor types.Actor, step *model.WorkflowStepModel) error {
	ok, err := IsEligible(ctx, e.permissions, actor, step)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotEligible
	}
	return nil
}

// save 保存实例，活跃文档占位冲突时返回 ErrWorkflowAlreadyActive
func (e *engine) save(ctx context.Context, instance *model.WorkflowInstanceModel) error {
	if err := e.instances.Save(ctx, instance); err != nil {
		if database.IsUniqueViolation(err) {
			return types.ErrWorkflowAlreadyActive.Wrap(err)
		}
		return fmt.Errorf("failed to save workflow instance: %w", err)
	}
	return nil
}

// sign 对工作流步骤签名，签名绑定文档版本内容哈希
func (e *engine) sign(ctx context.Context, actx types.ActionContext, instance *model.WorkflowInstanceModel, meaning string, pin string, comment string) (*model.SignatureModel, error) {
	if e.signatures == nil {
		return nil, types.ErrNotAuthorizedToSign
	}
	return e.signatures.Create(ctx, actx, signature.CreateRequest{
		Target: signature.WorkflowInstanceTarget{
			InstanceID: instance.ID,
			DocumentID: instance.DocumentID,
			VersionID:  instance.DocumentVersionID,
			UpdatedAt:  instance.UpdatedAt,
		},
		Meaning: meaning,
		PIN:     pin,
		Comment: comment,
	})
}

// recordAction 记录步骤动作
func (e *engine) recordAction(ctx context.Context, actx types.ActionContext, instance *model.WorkflowInstanceModel, step *model.WorkflowStepModel, action string, comment string, signatureID string) error {
	record := &model.StepActionModel{
		ID:                uuid.New().String(),
		InstanceID:        instance.ID,
		UserID:            actx.Actor.AuditID(),
		Action:            action,
		Comment:           comment,
		ActionAt:          actx.At(e.clock),
		SignatureProvided: signatureID != "",
		SignatureID:       signatureID,
		IPAddress:         actx.ClientIP,
		UserAgent:         actx.UserAgent,
	}
	if step != nil {
		record.StepID = step.ID
		record.StepOrder = step.StepOrder
		record.SignatureRequired = step.RequiresElectronicSignature()
	}
	if err := e.actions.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to record step action: %w", err)
	}
	return nil
}

// notifyApprovers 通知步骤的审批人，未配置目录时跳过
func (e *engine) notifyApprovers(ctx context.Context, out *outbox, instance *model.WorkflowInstanceModel, step *model.WorkflowStepModel, doc *types.DocumentInfo) {
	if e.directory == nil {
		return
	}
	users, err := e.directory.EligibleUsers(ctx, step)
	if err != nil {
		e.logger.WithError(err).WithField("step_id", step.ID).Warn("failed to resolve approvers")
		return
	}
	priority := "normal"
	if doc.IsGMPCritical {
		priority = "high"
	}
	for _, userID := range users {
		out.add(types.Notification{
			UserID:      userID,
			Type:        model.NotificationWorkflowPending,
			Title:       "Approval required",
			Message:     fmt.Sprintf("Document %s awaits your action at step %s", doc.Number, step.Name),
			Priority:    priority,
			SubjectType: subjectType,
			SubjectID:   instance.ID,
		})
	}
}

func subject(instance *model.WorkflowInstanceModel, doc *types.DocumentInfo) *audit.Subject {
	label := doc.Number
	if label == "" {
		label = strings.TrimSpace(doc.Title)
	}
	return &audit.Subject{Type: subjectType, ID: instance.ID, Label: label}
}

func snapshot(instance *model.WorkflowInstanceModel) map[string]interface{} {
	return map[string]interface{}{
		"status":             instance.Status,
		"current_step_order": instance.CurrentStepOrder,
	}
}

func stepMetadata(step *model.WorkflowStepModel) map[string]interface{} {
	return map[string]interface{}{
		"step_id":    step.ID,
		"step_name":  step.Name,
		"step_order": step.StepOrder,
	}
}

func dueDate(at time.Time, step *model.WorkflowStepModel) *time.Time {
	if step == nil || step.TimeoutDays <= 0 {
		return nil
	}
	due := at.AddDate(0, 0, step.TimeoutDays)
	return &due
}
