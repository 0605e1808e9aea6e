package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/audit"
)

// AuditController 审计控制器
type AuditController struct {
	chain audit.Chain
}

// NewAuditController 创建审计控制器
func NewAuditController(chain audit.Chain) *AuditController {
	return &AuditController{
		chain: chain,
	}
}

// Verify 校验审计链完整性
func (c *AuditController) Verify(ctx *gin.Context) {
	var from int64
	if raw := ctx.Query("from_sequence"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			Error(ctx, http.StatusBadRequest, "invalid from_sequence", raw)
			return
		}
		from = parsed
	}

	verification, err := c.chain.VerifyChain(ctx.Request.Context(), from)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, gin.H{
		"intact":   verification.Intact(),
		"checked":  verification.Checked,
		"findings": verification.Findings,
	})
}

// Report 生成审计报告
func (c *AuditController) Report(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}

	var req audit.ReportRequest
	if !bindOptionalJSON(ctx, &req) {
		return
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		Error(ctx, http.StatusBadRequest, "invalid period", "to is before from")
		return
	}

	report, err := c.chain.Report(ctx.Request.Context(), actx, req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toAuditReportResponse(report))
}

// History 对象的审计历史
func (c *AuditController) History(ctx *gin.Context) {
	subjectType, ok := pathID(ctx, "type")
	if !ok {
		return
	}
	subjectID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	entries, err := c.chain.History(ctx.Request.Context(), subjectType, subjectID)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toAuditEntryResponses(entries))
}

// Get 获取单条审计记录
func (c *AuditController) Get(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	entry, err := c.chain.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toAuditEntryResponse(entry))
}
