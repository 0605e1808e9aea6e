package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/mautops/docflow-gin/internal/workflow"
)

// WorkflowController 工作流实例控制器
type WorkflowController struct {
	engine workflow.Engine
}

// NewWorkflowController 创建工作流实例控制器
func NewWorkflowController(engine workflow.Engine) *WorkflowController {
	return &WorkflowController{
		engine: engine,
	}
}

// InitiateRequest 发起工作流请求
type InitiateRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
	WorkflowID string `json:"workflow_id" binding:"required"`
}

// CommentRequest 意见请求
type CommentRequest struct {
	Comment string `json:"comment"`
}

// ReasonRequest 原因请求
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// Initiate 为文档发起工作流
func (c *WorkflowController) Initiate(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}

	var req InitiateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	instance, err := c.engine.Initiate(ctx.Request.Context(), actx, req.DocumentID, req.WorkflowID)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, toInstanceResponse(instance))
}

// Get 获取工作流实例
func (c *WorkflowController) Get(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	instance, err := c.engine.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toInstanceResponse(instance))
}

// Submit 提交审批
func (c *WorkflowController) Submit(ctx *gin.Context) {
	c.run(ctx, nil, func(rctx context.Context, actx types.ActionContext, id string) (*model.WorkflowInstanceModel, error) {
		return c.engine.Submit(rctx, actx, id)
	})
}

// Approve 审批通过当前步骤
func (c *WorkflowController) Approve(ctx *gin.Context) {
	var req workflow.ApproveRequest
	c.run(ctx, &req, func(rctx context.Context, actx types.ActionContext, id string) (*model.WorkflowInstanceModel, error) {
		return c.engine.ApproveStep(rctx, actx, id, req)
	})
}

// Reject 驳回工作流
func (c *WorkflowController) Reject(ctx *gin.Context) {
	var req workflow.RejectRequest
	c.run(ctx, &req, func(rctx context.Context, actx types.ActionContext, id string) (*model.WorkflowInstanceModel, error) {
		return c.engine.RejectWorkflow(rctx, actx, id, req)
	})
}

// RequestRevision 退回修订
func (c *WorkflowController) RequestRevision(ctx *gin.Context) {
	var req CommentRequest
	c.run(ctx, &req, func(rctx context.Context, actx types.ActionContext, id string) (*model.WorkflowInstanceModel, error) {
		return c.engine.RequestRevision(rctx, actx, id, req.Comment)
	})
}

// Cancel 取消工作流
func (c *WorkflowController) Cancel(ctx *gin.Context) {
	var req ReasonRequest
	c.run(ctx, &req, func(rctx context.Context, actx types.ActionContext, id string) (*model.WorkflowInstanceModel, error) {
		return c.engine.CancelWorkflow(rctx, actx, id, req.Reason)
	})
}

// Actions 获取步骤动作记录
func (c *WorkflowController) Actions(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	actions, err := c.engine.Actions(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toActionResponses(actions))
}

// History 获取状态变更历史
func (c *WorkflowController) History(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	history, err := c.engine.History(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toHistoryResponses(history))
}

// Pending 当前用户待审批的实例
func (c *WorkflowController) Pending(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}

	instances, err := c.engine.PendingForUser(ctx.Request.Context(), actx.Actor)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toInstanceResponses(instances))
}

// ActiveForDocument 文档当前活跃的实例
func (c *WorkflowController) ActiveForDocument(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	instance, err := c.engine.ActiveForDocument(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toInstanceResponse(instance))
}

// run 执行针对单个实例的状态变更
// req 非空时先解析请求体
func (c *WorkflowController) run(ctx *gin.Context, req interface{}, fn func(rctx context.Context, actx types.ActionContext, id string) (*model.WorkflowInstanceModel, error)) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if req != nil && !bindOptionalJSON(ctx, req) {
		return
	}

	instance, err := fn(ctx.Request.Context(), actx, id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toInstanceResponse(instance))
}

// bindOptionalJSON 解析可为空的请求体
func bindOptionalJSON(ctx *gin.Context, obj interface{}) bool {
	if ctx.Request.ContentLength == 0 {
		return true
	}
	if err := ctx.ShouldBindJSON(obj); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}
