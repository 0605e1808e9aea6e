package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/document"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/repository"
	"github.com/mautops/docflow-gin/internal/types"
	"gorm.io/gorm"
)

// Catalog 工作流模板与受控文档登记
// 所有写操作与审计记录在同一事务内完成
type Catalog struct {
	db          *gorm.DB
	workflows   repository.WorkflowRepository
	docs        *document.Store
	chain       audit.Chain
	permissions types.PermissionChecker
	clock       types.Clock
}

// New 创建目录服务
func New(db *gorm.DB, docs *document.Store, chain audit.Chain, permissions types.PermissionChecker) *Catalog {
	return &Catalog{
		db:          db,
		workflows:   repository.NewWorkflowRepository(db),
		docs:        docs,
		chain:       chain,
		permissions: permissions,
		clock:       types.SystemClock{},
	}
}

// StepDefinition 步骤定义
type StepDefinition struct {
	Name                  string   `json:"name" binding:"required"`
	Description           string   `json:"description"`
	StepOrder             int      `json:"step_order" binding:"required"`
	StepType              string   `json:"step_type" binding:"required"`
	RequiredUserID        string   `json:"required_user_id"`
	RequiredRoleID        string   `json:"required_role_id"`
	AllowedRoles          []string `json:"allowed_roles"`
	AnyUserWithPermission bool     `json:"any_user_with_permission"`
	RequiresComment       bool     `json:"requires_comment"`
	RequiresSignature     bool     `json:"requires_signature"`
	TimeoutDays           int      `json:"timeout_days"`
	TargetStatus          string   `json:"target_status"`
	RejectionStatus       string   `json:"rejection_status"`
}

// WorkflowDefinition 工作流模板定义
type WorkflowDefinition struct {
	Code                       string           `json:"code"`
	Name                       string           `json:"name" binding:"required"`
	Description                string           `json:"description"`
	Type                       string           `json:"type" binding:"required"`
	RequiresSequentialApproval bool             `json:"requires_sequential_approval"`
	AllowsRejection            bool             `json:"allows_rejection"`
	AllowsRevisionRequest      bool             `json:"allows_revision_request"`
	EscalationDays             int              `json:"escalation_days"`
	EscalationRoleID           string           `json:"escalation_role_id"`
	Steps                      []StepDefinition `json:"steps" binding:"required,min=1,dive"`
}

// DocumentRegistration 文档登记请求
type DocumentRegistration struct {
	DocumentNumber string `json:"document_number" binding:"required"`
	Title          string `json:"title" binding:"required"`
	IsGMPCritical  bool   `json:"is_gmp_critical"`
	VersionNumber  string `json:"version_number" binding:"required"`
	FileHash       string `json:"file_hash"`
}

// CreateWorkflow 创建工作流模板，新模板及其步骤均为启用状态
func (c *Catalog) CreateWorkflow(ctx context.Context, actx types.ActionContext, def WorkflowDefinition) (*model.WorkflowModel, error) {
	if err := c.require(ctx, actx.Actor, types.PermissionWorkflowManage); err != nil {
		return nil, err
	}

	at := actx.At(c.clock)
	wf := &model.WorkflowModel{
		ID:                         uuid.New().String(),
		Code:                       def.Code,
		Name:                       def.Name,
		Description:                def.Description,
		Type:                       def.Type,
		RequiresSequentialApproval: def.RequiresSequentialApproval,
		AllowsRejection:            def.AllowsRejection,
		AllowsRevisionRequest:      def.AllowsRevisionRequest,
		EscalationDays:             def.EscalationDays,
		EscalationRoleID:           def.EscalationRoleID,
		IsActive:                   true,
		CreatedBy:                  actx.Actor.ID,
		CreatedAt:                  at,
		UpdatedAt:                  at,
	}
	if wf.Code == "" {
		wf.Code = wf.ID
	}
	for _, step := range def.Steps {
		wf.Steps = append(wf.Steps, model.WorkflowStepModel{
			ID:                    uuid.New().String(),
			Name:                  step.Name,
			Description:           step.Description,
			StepOrder:             step.StepOrder,
			StepType:              step.StepType,
			RequiredUserID:        step.RequiredUserID,
			RequiredRoleID:        step.RequiredRoleID,
			AllowedRoles:          step.AllowedRoles,
			AnyUserWithPermission: step.AnyUserWithPermission,
			RequiresComment:       step.RequiresComment,
			RequiresSignature:     step.RequiresSignature,
			TimeoutDays:           step.TimeoutDays,
			TargetStatus:          step.TargetStatus,
			RejectionStatus:       step.RejectionStatus,
			IsActive:              true,
			CreatedAt:             at,
			UpdatedAt:             at,
		})
	}

	if err := wf.Validate(); err != nil {
		return nil, types.ErrInvalidInput.Wrap(err)
	}
	for i := range wf.Steps {
		wf.Steps[i].WorkflowID = wf.ID
		if err := wf.Steps[i].Validate(); err != nil {
			return nil, types.ErrInvalidInput.Wrap(err)
		}
	}

	err := database.Transaction(ctx, c.db, func(ctx context.Context) error {
		if err := c.workflows.Create(ctx, wf); err != nil {
			if database.IsUniqueViolation(err) {
				return types.ErrInvalidInput.Withf("workflow code %s already exists", wf.Code)
			}
			return fmt.Errorf("failed to create workflow: %w", err)
		}
		_, err := c.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionCreate,
			Category:    model.AuditCategoryWorkflow,
			Description: fmt.Sprintf("Workflow %s created with %d steps", wf.Name, len(wf.Steps)),
			Subject:     &audit.Subject{Type: "workflow", ID: wf.ID, Label: wf.Name},
			After: map[string]interface{}{
				"code":  wf.Code,
				"type":  wf.Type,
				"steps": len(wf.Steps),
			},
			Critical: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// GetWorkflow 获取工作流模板
func (c *Catalog) GetWorkflow(ctx context.Context, id string) (*model.WorkflowModel, error) {
	wf, err := c.workflows.FindByID(ctx, id)
	if database.IsNotFound(err) {
		return nil, types.ErrNotFound.Withf("workflow %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflows 列出工作流模板
func (c *Catalog) ListWorkflows(ctx context.Context, activeOnly bool) ([]*model.WorkflowModel, error) {
	return c.workflows.List(ctx, activeOnly)
}

// RegisterDocument 登记受控文档及其首个版本
func (c *Catalog) RegisterDocument(ctx context.Context, actx types.ActionContext, reg DocumentRegistration) (*model.DocumentModel, error) {
	if err := c.require(ctx, actx.Actor, types.PermissionDocumentManage); err != nil {
		return nil, err
	}

	at := actx.At(c.clock)
	doc := &model.DocumentModel{
		ID:             uuid.New().String(),
		DocumentNumber: reg.DocumentNumber,
		Title:          reg.Title,
		IsGMPCritical:  reg.IsGMPCritical,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	version := &model.DocumentVersionModel{
		ID:            uuid.New().String(),
		VersionNumber: reg.VersionNumber,
		FileHash:      reg.FileHash,
		CreatedAt:     at,
		UpdatedAt:     at,
	}

	err := database.Transaction(ctx, c.db, func(ctx context.Context) error {
		if err := c.docs.Create(ctx, doc, version); err != nil {
			if database.IsUniqueViolation(err) {
				return types.ErrInvalidInput.Withf("document number %s already exists", doc.DocumentNumber)
			}
			return err
		}
		_, err := c.chain.Append(ctx, actx, audit.Entry{
			Action:      model.AuditActionCreate,
			Category:    model.AuditCategoryDocument,
			Description: fmt.Sprintf("Document %s registered at version %s", doc.DocumentNumber, version.VersionNumber),
			Subject:     &audit.Subject{Type: "document", ID: doc.ID, Label: doc.DocumentNumber},
			DocumentID:  doc.ID,
			After: map[string]interface{}{
				"status":     doc.StatusCode,
				"version_id": version.ID,
				"file_hash":  version.FileHash,
			},
			Critical: doc.IsGMPCritical,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument 获取文档
func (c *Catalog) GetDocument(ctx context.Context, id string) (*model.DocumentModel, error) {
	return c.docs.Get(ctx, id)
}

// require 校验操作人权限
func (c *Catalog) require(ctx context.Context, actor types.Actor, permission string) error {
	if actor.IsSystem() || c.permissions == nil {
		return types.ErrForbidden
	}
	ok, err := c.permissions.HasPermission(ctx, actor, permission)
	if err != nil {
		return fmt.Errorf("failed to check permission: %w", err)
	}
	if !ok {
		return types.ErrForbidden.Withf("actor lacks permission %s", permission)
	}
	return nil
}
