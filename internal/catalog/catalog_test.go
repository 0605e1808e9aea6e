package catalog_test

import (
	"context"
	"testing"

	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/auth"
	"github.com/mautops/docflow-gin/internal/catalog"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/document"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDBForCatalog 创建测试数据库与目录服务
func setupTestDBForCatalog(t *testing.T) (*gorm.DB, *catalog.Catalog) {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })

	checker := auth.NewClaimsChecker(map[string][]string{
		"QA_Manager": {types.PermissionWorkflowManage, types.PermissionDocumentManage},
	})
	return db, catalog.New(db, document.NewStore(db), audit.NewChain(db), checker)
}

func manager() types.ActionContext {
	return types.ActionContext{Actor: types.Actor{ID: "user-qa", Name: "QA Lead", RoleName: "QA_Manager"}}
}

func sopApproval() catalog.WorkflowDefinition {
	return catalog.WorkflowDefinition{
		Code:            "SOP-APPROVAL",
		Name:            "SOP approval",
		Type:            model.WorkflowTypeApproval,
		AllowsRejection: true,
		Steps: []catalog.StepDefinition{
			{Name: "QA approval", StepOrder: 2, StepType: model.StepTypeQAApproval, RequiredRoleID: "QA_Manager", RequiresSignature: true},
			{Name: "Peer review", StepOrder: 1, StepType: model.StepTypeReview, AllowedRoles: []string{"Reviewer"}, TimeoutDays: 5},
		},
	}
}

func countAudit(t *testing.T, db *gorm.DB, category string) int64 {
	var count int64
	require.NoError(t, db.Model(&model.AuditLogModel{}).Where("category = ?", category).Count(&count).Error)
	return count
}

// TestCatalog_CreateWorkflow 测试创建工作流模板
func TestCatalog_CreateWorkflow(t *testing.T) {
	db, c := setupTestDBForCatalog(t)
	ctx := context.Background()

	wf, err := c.CreateWorkflow(ctx, manager(), sopApproval())
	require.NoError(t, err)
	assert.True(t, wf.IsActive)
	assert.Equal(t, "user-qa", wf.CreatedBy)

	loaded, err := c.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, "Peer review", loaded.Steps[0].Name)
	assert.Equal(t, []string{"Reviewer"}, loaded.Steps[0].AllowedRoles)
	assert.True(t, loaded.Steps[1].RequiresElectronicSignature())

	list, err := c.ListWorkflows(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.Equal(t, int64(1), countAudit(t, db, model.AuditCategoryWorkflow))
}

// TestCatalog_CreateWorkflow_Invalid 测试非法模板被拒绝且不写审计
func TestCatalog_CreateWorkflow_Invalid(t *testing.T) {
	db, c := setupTestDBForCatalog(t)
	ctx := context.Background()

	def := sopApproval()
	def.Type = "unknown"
	_, err := c.CreateWorkflow(ctx, manager(), def)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	def = sopApproval()
	def.Steps[1].StepOrder = 2
	_, err = c.CreateWorkflow(ctx, manager(), def)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	def = sopApproval()
	def.Steps[0].StepType = "sign_off"
	_, err = c.CreateWorkflow(ctx, manager(), def)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	assert.Zero(t, countAudit(t, db, model.AuditCategoryWorkflow))
}

// TestCatalog_CreateWorkflow_Duplicate 测试模板编码唯一
func TestCatalog_CreateWorkflow_Duplicate(t *testing.T) {
	db, c := setupTestDBForCatalog(t)
	ctx := context.Background()

	_, err := c.CreateWorkflow(ctx, manager(), sopApproval())
	require.NoError(t, err)
	_, err = c.CreateWorkflow(ctx, manager(), sopApproval())
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	assert.Equal(t, int64(1), countAudit(t, db, model.AuditCategoryWorkflow))
}

// TestCatalog_Forbidden 测试缺少管理权限
func TestCatalog_Forbidden(t *testing.T) {
	_, c := setupTestDBForCatalog(t)
	ctx := context.Background()
	reviewer := types.ActionContext{Actor: types.Actor{ID: "user-reviewer", RoleName: "Reviewer"}}

	_, err := c.CreateWorkflow(ctx, reviewer, sopApproval())
	assert.ErrorIs(t, err, types.ErrForbidden)

	_, err = c.CreateWorkflow(ctx, types.System(manager().At(nil)), sopApproval())
	assert.ErrorIs(t, err, types.ErrForbidden)

	_, err = c.RegisterDocument(ctx, reviewer, catalog.DocumentRegistration{DocumentNumber: "SOP-001", Title: "Cleaning", VersionNumber: "1.0"})
	assert.ErrorIs(t, err, types.ErrForbidden)
}

// TestCatalog_RegisterDocument 测试登记受控文档
func TestCatalog_RegisterDocument(t *testing.T) {
	db, c := setupTestDBForCatalog(t)
	ctx := context.Background()

	reg := catalog.DocumentRegistration{
		DocumentNumber: "SOP-001",
		Title:          "Cleaning",
		IsGMPCritical:  true,
		VersionNumber:  "1.0",
		FileHash:       "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
	}
	doc, err := c.RegisterDocument(ctx, manager(), reg)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentStatusDraft, doc.StatusCode)
	require.NotNil(t, doc.CurrentVersionID)

	loaded, err := c.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "SOP-001", loaded.DocumentNumber)

	var entry model.AuditLogModel
	require.NoError(t, db.Where("category = ?", model.AuditCategoryDocument).First(&entry).Error)
	assert.Equal(t, doc.ID, entry.DocumentID)
	assert.True(t, entry.IsGMPCritical)
	assert.Equal(t, reg.FileHash, entry.NewValues["file_hash"])

	_, err = c.RegisterDocument(ctx, manager(), reg)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Equal(t, int64(1), countAudit(t, db, model.AuditCategoryDocument))
}

// TestCatalog_GetWorkflow_NotFound 测试模板不存在
func TestCatalog_GetWorkflow_NotFound(t *testing.T) {
	_, c := setupTestDBForCatalog(t)

	_, err := c.GetWorkflow(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
