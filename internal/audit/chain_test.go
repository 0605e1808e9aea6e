package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDBForAudit 创建审计链测试数据库
func setupTestDBForAudit(t *testing.T) *gorm.DB {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })
	return db
}

func qaActor() types.ActionContext {
	return types.ActionContext{
		Actor: types.Actor{
			ID:       "user-qa",
			Name:     "Quinn Auditor",
			Email:    "qa@example.com",
			RoleID:   "QA_Manager",
			RoleName: "QA_Manager",
		},
		ClientIP:  "10.0.0.8",
		UserAgent: "test-agent",
		RequestID: "req-001",
	}
}

func appendN(t *testing.T, chain audit.Chain, n int) []*model.AuditLogModel {
	entries := make([]*model.AuditLogModel, 0, n)
	for i := 0; i < n; i++ {
		entry, err := chain.Append(context.Background(), qaActor(), audit.Entry{
			Action:      model.AuditActionUpdate,
			Category:    model.AuditCategoryDocument,
			Description: "document metadata changed",
			Subject:     &audit.Subject{Type: "document", ID: "doc-001", Label: "SOP-001"},
			DocumentID:  "doc-001",
			Before:      map[string]interface{}{"title": "Old", "revision": i},
			After:       map[string]interface{}{"title": "New", "revision": i + 1},
			Metadata:    map[string]interface{}{"attempt": i, "source": "test"},
		})
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	return entries
}

// TestChain_Append_Genesis 测试首条记录链接到创世哈希
func TestChain_Append_Genesis(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	entries := appendN(t, chain, 1)
	first := entries[0]

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, model.GenesisHash, first.PreviousHash)
	assert.Len(t, first.EntryHash, 64)
	assert.Equal(t, audit.ComputeEntryHash(first), first.EntryHash)
	assert.Equal(t, []string{"revision", "title"}, first.ChangedFields)
	assert.Equal(t, model.AuditStatusSuccess, first.Status)
	assert.Equal(t, "user-qa", first.UserID)
	assert.Equal(t, "Quinn Auditor", first.UserName)
}

// TestChain_Append_Linear 测试每条记录的前序哈希等于上一条记录哈希
func TestChain_Append_Linear(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	entries := appendN(t, chain, 5)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].EntryHash, entries[i].PreviousHash)
		assert.Equal(t, entries[i-1].Sequence+1, entries[i].Sequence)
	}

	result, err := chain.VerifyChain(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, result.Intact())
	assert.Equal(t, 5, result.Checked)
	assert.Empty(t, result.Findings)
}

// TestChain_Append_RequiresActionAndCategory 测试缺少动作或类别时拒绝追加
func TestChain_Append_RequiresActionAndCategory(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	_, err := chain.Append(context.Background(), qaActor(), audit.Entry{Category: model.AuditCategoryDocument})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = chain.Append(context.Background(), qaActor(), audit.Entry{Action: model.AuditActionCreate})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

// TestChain_Append_SystemActor 测试系统操作记录为 system
func TestChain_Append_SystemActor(t *testing.T) {
	db := setupTestDBForAudit(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 123456789, time.UTC)
	chain := audit.NewChain(db)

	entry, err := chain.Append(context.Background(), types.System(at), audit.Entry{
		Action:   model.AuditActionUpdate,
		Category: model.AuditCategoryWorkflow,
	})
	require.NoError(t, err)
	assert.Equal(t, types.SystemActorID, entry.UserID)
	assert.True(t, entry.OccurredAt.Equal(at.Truncate(time.Microsecond)))
}

// TestChain_Append_SignatureIsCritical 测试签名类记录总是 GMP 关键
func TestChain_Append_SignatureIsCritical(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	entry, err := chain.Append(context.Background(), qaActor(), audit.Entry{
		Action:   model.AuditActionSign,
		Category: model.AuditCategorySignature,
	})
	require.NoError(t, err)
	assert.True(t, entry.IsGMPCritical)

	entry, err = chain.Append(context.Background(), qaActor(), audit.Entry{
		Action:   model.AuditActionView,
		Category: model.AuditCategoryDocument,
	})
	require.NoError(t, err)
	assert.False(t, entry.IsGMPCritical)
}

// TestChain_Append_JoinsCallerTransaction 测试调用方事务回滚时审计记录一并回滚
func TestChain_Append_JoinsCallerTransaction(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	err := database.Transaction(context.Background(), db, func(ctx context.Context) error {
		if _, err := chain.Append(ctx, qaActor(), audit.Entry{
			Action:   model.AuditActionCreate,
			Category: model.AuditCategoryDocument,
		}); err != nil {
			return err
		}
		return types.ErrInvalidInput
	})
	require.ErrorIs(t, err, types.ErrInvalidInput)

	var count int64
	require.NoError(t, db.Model(&model.AuditLogModel{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

// TestChain_VerifyChain_DetectsTamper 测试绕过模型直接改库后能定位被篡改的记录
func TestChain_VerifyChain_DetectsTamper(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db, audit.WithBatchSize(2))

	entries := appendN(t, chain, 5)
	tampered := entries[2]

	err := db.Exec("UPDATE audit_logs SET description = ? WHERE id = ?", "nothing happened", tampered.ID).Error
	require.NoError(t, err)

	result, err := chain.VerifyChain(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, result.Intact())
	assert.Equal(t, 5, result.Checked)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, audit.FindingEntryHashInvalid, result.Findings[0].Kind)
	assert.Equal(t, tampered.ID, result.Findings[0].EntryID)
	assert.Equal(t, tampered.Sequence, result.Findings[0].Sequence)
}

// TestChain_VerifyChain_DetectsBreak 测试前序哈希被改写时报告链断裂
func TestChain_VerifyChain_DetectsBreak(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	entries := appendN(t, chain, 3)
	broken := entries[1]

	err := db.Exec("UPDATE audit_logs SET previous_hash = ? WHERE id = ?", "deadbeef", broken.ID).Error
	require.NoError(t, err)

	result, err := chain.VerifyChain(context.Background(), 0)
	require.NoError(t, err)
	kinds := map[string]bool{}
	for _, f := range result.Findings {
		assert.Equal(t, broken.ID, f.EntryID)
		kinds[f.Kind] = true
	}
	assert.True(t, kinds[audit.FindingChainBreak])
	assert.True(t, kinds[audit.FindingEntryHashInvalid])
}

// TestChain_VerifyChain_FromSequence 测试从中间序号开始校验
func TestChain_VerifyChain_FromSequence(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	appendN(t, chain, 4)

	result, err := chain.VerifyChain(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, result.Intact())
	assert.Equal(t, 2, result.Checked)
}

// TestChain_VerifyChain_Empty 测试空链视为完整
func TestChain_VerifyChain_Empty(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	result, err := chain.VerifyChain(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, result.Intact())
	assert.Equal(t, 0, result.Checked)
}

// TestAuditLogModel_Immutable 测试通过模型修改或删除审计记录被拒绝
func TestAuditLogModel_Immutable(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	entry := appendN(t, chain, 1)[0]

	err := db.Model(entry).Update("description", "rewritten").Error
	assert.ErrorIs(t, err, model.ErrAuditImmutable)

	err = db.Delete(entry).Error
	assert.ErrorIs(t, err, model.ErrAuditImmutable)

	stored, err := chain.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "document metadata changed", stored.Description)
}

// TestChain_Get_NotFound 测试获取不存在的记录
func TestChain_Get_NotFound(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	_, err := chain.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// TestChain_History 测试按审计对象查询
func TestChain_History(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	appendN(t, chain, 2)
	_, err := chain.Append(context.Background(), qaActor(), audit.Entry{
		Action:   model.AuditActionCreate,
		Category: model.AuditCategoryDocument,
		Subject:  &audit.Subject{Type: "document", ID: "doc-002"},
	})
	require.NoError(t, err)

	history, err := chain.History(context.Background(), "document", "doc-001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Less(t, history[0].Sequence, history[1].Sequence)
}

// TestChain_Report 测试生成审计报告并记录导出动作
func TestChain_Report(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	appendN(t, chain, 3)
	_, err := chain.Append(context.Background(), qaActor(), audit.Entry{
		Action:     model.AuditActionSign,
		Category:   model.AuditCategorySignature,
		DocumentID: "doc-002",
	})
	require.NoError(t, err)

	report, err := chain.Report(context.Background(), qaActor(), audit.ReportRequest{DocumentID: "doc-001"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.TotalEntries)
	assert.Len(t, report.Entries, 3)
	assert.True(t, report.IntegrityVerified)
	assert.Equal(t, map[string]string{"document_id": "doc-001"}, report.FiltersApplied)
	assert.Equal(t, "user-qa", report.GeneratedBy)

	critical, err := chain.Report(context.Background(), qaActor(), audit.ReportRequest{CriticalOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), critical.TotalEntries)

	exports, err := chain.Report(context.Background(), qaActor(), audit.ReportRequest{Action: model.AuditActionExport})
	require.NoError(t, err)
	assert.Equal(t, int64(2), exports.TotalEntries)
	assert.True(t, exports.IntegrityVerified)
}

// TestChain_Report_FlagsTamper 测试链被篡改时报告标记未通过
func TestChain_Report_FlagsTamper(t *testing.T) {
	db := setupTestDBForAudit(t)
	chain := audit.NewChain(db)

	entries := appendN(t, chain, 2)
	require.NoError(t, db.Exec("UPDATE audit_logs SET comment = ? WHERE id = ?", "x", entries[0].ID).Error)

	report, err := chain.Report(context.Background(), qaActor(), audit.ReportRequest{})
	require.NoError(t, err)
	assert.False(t, report.IntegrityVerified)
	assert.Len(t, report.Findings, 1)
}
