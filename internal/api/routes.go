package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/auth"
	"github.com/mautops/docflow-gin/internal/catalog"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/signature"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/mautops/docflow-gin/internal/websocket"
	"github.com/mautops/docflow-gin/internal/workflow"
	"gorm.io/gorm"
)

// RouterDeps 路由依赖
// Validator 为空时使用 X-User-* 请求头认证
type RouterDeps struct {
	Config        *config.Config
	DB            *gorm.DB
	Validator     *auth.KeycloakTokenValidator
	FGAClient     *auth.OpenFGAClient
	Permissions   types.PermissionChecker
	Engine        workflow.Engine
	Signatures    signature.Service
	Chain         audit.Chain
	Catalog       *catalog.Catalog
	Notifications NotificationStore
	Hub           *websocket.Hub
}

// SetupRoutes 配置路由
func SetupRoutes(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(HTTPSRedirectMiddleware(deps.Config.Server.ForceHTTPS))
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware(deps.Config.CORS))
	if deps.Config.Tracing.Enabled {
		router.Use(TracingMiddleware(deps.Config.Tracing))
	}
	router.Use(RequestLogMiddleware())
	router.Use(ErrorHandlerMiddleware())

	// 健康检查
	healthController := NewHealthController(deps.DB, deps.FGAClient)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", MetricsHandler)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	if deps.Validator != nil {
		v1.Use(auth.KeycloakAuthMiddleware(deps.Validator))
	} else {
		v1.Use(auth.HeaderAuthMiddleware())
	}
	v1.Use(RateLimitMiddleware(deps.Config.RateLimit))

	catalogController := NewCatalogController(deps.Catalog)
	workflowController := NewWorkflowController(deps.Engine)
	signatureController := NewSignatureController(deps.Signatures)
	auditController := NewAuditController(deps.Chain)
	notificationController := NewNotificationController(deps.Notifications)

	{
		// 工作流模板
		workflows := v1.Group("/workflows")
		{
			workflows.POST("", catalogController.CreateWorkflow)
			workflows.GET("", catalogController.ListWorkflows)
			workflows.GET("/:id", catalogController.GetWorkflow)
		}

		// 受控文档
		documents := v1.Group("/documents")
		{
			documents.POST("", catalogController.RegisterDocument)
			documents.GET("/:id", catalogController.GetDocument)
			documents.GET("/:id/workflow", workflowController.ActiveForDocument)
			documents.GET("/:id/signatures", signatureController.ForDocument)
		}
		v1.GET("/document-versions/:id/signatures", signatureController.ForVersion)

		// 工作流实例
		instances := v1.Group("/instances")
		{
			instances.POST("", workflowController.Initiate)
			instances.GET("/pending", workflowController.Pending)
			instances.GET("/:id", workflowController.Get)
			instances.POST("/:id/submit", workflowController.Submit)
			instances.POST("/:id/approve", workflowController.Approve)
			instances.POST("/:id/reject", workflowController.Reject)
			instances.POST("/:id/revision", workflowController.RequestRevision)
			instances.POST("/:id/cancel", workflowController.Cancel)
			instances.GET("/:id/actions", workflowController.Actions)
			instances.GET("/:id/history", workflowController.History)
		}

		// 电子签名
		signatures := v1.Group("/signatures")
		{
			signatures.POST("", signatureController.Sign)
			signatures.GET("/mine", signatureController.Mine)
			signatures.GET("/:id", signatureController.Get)
			signatures.GET("/:id/verify", signatureController.Verify)
			signatures.POST("/:id/revoke", signatureController.Revoke)
		}

		// 签名凭证
		signing := v1.Group("/signing")
		{
			signing.POST("/pin", signatureController.SetupPIN)
			signing.PUT("/pin", signatureController.ChangePIN)
			signing.PUT("/capabilities/:user_id", signatureController.SetCapability)
		}

		// 审计链
		auditGroup := v1.Group("/audit")
		auditGroup.Use(auth.RequirePermission(deps.Permissions, types.PermissionAuditView))
		{
			auditGroup.GET("/verify", auditController.Verify)
			auditGroup.POST("/reports", auditController.Report)
			auditGroup.GET("/entries/:id", auditController.Get)
			auditGroup.GET("/subjects/:type/:id", auditController.History)
		}

		// 站内通知
		notifications := v1.Group("/notifications")
		{
			notifications.GET("", notificationController.List)
			notifications.POST("/:id/read", notificationController.MarkRead)
			if deps.Hub != nil {
				upgrader := websocket.NewUpgrader(deps.Config.CORS.AllowedOrigins)
				notifications.GET("/stream", websocket.Handler(deps.Hub, upgrader, GetLogger()))
			}
		}
	}

	// 未匹配的路由返回 JSON 格式的 404
	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", "the requested route does not exist")
	})

	return router
}
