package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/catalog"
)

// CatalogController 工作流模板与文档登记控制器
type CatalogController struct {
	catalog *catalog.Catalog
}

// NewCatalogController 创建目录控制器
func NewCatalogController(c *catalog.Catalog) *CatalogController {
	return &CatalogController{catalog: c}
}

// CreateWorkflow 创建工作流模板
func (c *CatalogController) CreateWorkflow(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}

	var req catalog.WorkflowDefinition
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	wf, err := c.catalog.CreateWorkflow(ctx.Request.Context(), actx, req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, toWorkflowResponse(wf))
}

// ListWorkflows 列出工作流模板
func (c *CatalogController) ListWorkflows(ctx *gin.Context) {
	workflows, err := c.catalog.ListWorkflows(ctx.Request.Context(), ctx.Query("all") != "true")
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toWorkflowResponses(workflows))
}

// GetWorkflow 获取工作流模板
func (c *CatalogController) GetWorkflow(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	wf, err := c.catalog.GetWorkflow(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toWorkflowResponse(wf))
}

// RegisterDocument 登记受控文档
func (c *CatalogController) RegisterDocument(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}

	var req catalog.DocumentRegistration
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	doc, err := c.catalog.RegisterDocument(ctx.Request.Context(), actx, req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, toDocumentResponse(doc))
}

// GetDocument 获取文档
func (c *CatalogController) GetDocument(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	doc, err := c.catalog.GetDocument(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toDocumentResponse(doc))
}
