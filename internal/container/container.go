package container

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mautops/docflow-gin/internal/api"
	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/auth"
	"github.com/mautops/docflow-gin/internal/catalog"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/database"
	"github.com/mautops/docflow-gin/internal/document"
	"github.com/mautops/docflow-gin/internal/metrics"
	"github.com/mautops/docflow-gin/internal/notify"
	"github.com/mautops/docflow-gin/internal/repository"
	"github.com/mautops/docflow-gin/internal/scheduler"
	"github.com/mautops/docflow-gin/internal/signature"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/mautops/docflow-gin/internal/websocket"
	"github.com/mautops/docflow-gin/internal/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Container 依赖注入容器
// 管理所有应用依赖,包括数据库、服务、客户端等
type Container struct {
	cfg               *config.Config
	logger            *logrus.Logger
	db                *gorm.DB
	fgaClient         *auth.OpenFGAClient
	keycloakValidator *auth.KeycloakTokenValidator
	claims            *auth.ClaimsChecker
	cachedChecker     *auth.CachedChecker
	permissions       types.PermissionChecker
	documents         *document.Store
	chain             audit.Chain
	signatures        signature.Service
	dispatcher        *notify.Dispatcher
	hub               *websocket.Hub
	engine            workflow.Engine
	catalog           *catalog.Catalog
	scheduler         *scheduler.Scheduler
	collector         *metrics.Collector
}

// NewContainer 创建依赖注入容器
// 根据配置初始化所有依赖组件
func NewContainer(cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Container{cfg: cfg, logger: logger}

	// 1. 初始化数据库（带重试机制）
	// 默认重试 3 次，初始间隔 1 秒，指数退避
	db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	c.db = db

	// 2. 权限检查
	if err := c.initPermissions(); err != nil {
		c.Close()
		return nil, err
	}

	// 3. Keycloak Token 验证器，未配置时使用请求头认证
	if cfg.Keycloak.Issuer != "" {
		c.keycloakValidator = auth.NewKeycloakTokenValidator(cfg.Keycloak.Issuer, cfg.Keycloak.JWKSURL)
	} else {
		logger.Warn("keycloak issuer not configured, falling back to header authentication")
	}

	// 4. 审计链与文档存储
	c.chain = audit.NewChain(db,
		audit.WithBatchSize(cfg.Audit.VerifyBatchSize),
		audit.WithLogger(logger),
	)
	c.documents = document.NewStore(db)

	// 5. 电子签名
	c.signatures = signature.NewService(db, c.documents, c.chain, cfg.Signature,
		signature.WithLogger(logger),
		signature.WithPermissionChecker(c.permissions),
	)

	// 6. 通知分发，已连接的客户端实时收到推送
	c.dispatcher = notify.NewDispatcher(db, cfg.Notify, logger)
	c.hub = websocket.NewHub()
	c.dispatcher.SetPusher(c.hub)

	// 7. 工作流引擎
	engineOpts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithNotifier(c.dispatcher),
	}
	if len(cfg.Notify.RoleMembers) > 0 {
		engineOpts = append(engineOpts, workflow.WithDirectory(workflow.NewRoleDirectory(cfg.Notify.RoleMembers)))
	}
	c.engine = workflow.NewEngine(db, c.documents, c.chain, c.signatures, c.permissions, engineOpts...)

	c.catalog = catalog.New(db, c.documents, c.chain, c.permissions)

	// 8. 定时任务
	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler, c.engine, c.chain, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
		}
		c.scheduler = sched
	}

	// 9. 指标收集
	c.collector = metrics.NewCollector(db, repository.NewInstanceRepository(db), 30*time.Second)

	return c, nil
}

// initPermissions 初始化权限检查器
// openfga 模式下连接 OpenFGA，否则使用令牌角色
func (c *Container) initPermissions() error {
	cfg := c.cfg
	var checker types.PermissionChecker
	switch cfg.Permissions.Provider {
	case "openfga":
		// 默认重试 3 次，初始间隔 1 秒，指数退避
		fgaClient, err := auth.NewOpenFGAClientWithRetry(cfg.OpenFGA.APIURL, cfg.OpenFGA.StoreID, cfg.OpenFGA.ModelID, 3, time.Second)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenFGA client: %w", err)
		}
		c.fgaClient = fgaClient
		checker = auth.NewOpenFGAChecker(fgaClient)
	case "claims", "":
		c.claims = auth.NewClaimsChecker(cfg.Permissions.RolePermissions)
		checker = c.claims
	default:
		return fmt.Errorf("unknown permissions provider: %s", cfg.Permissions.Provider)
	}

	if cfg.Permissions.CacheTTL > 0 {
		c.cachedChecker = auth.NewCachedChecker(checker, auth.NewPermissionCache(time.Duration(cfg.Permissions.CacheTTL)*time.Second))
		checker = c.cachedChecker
	}
	c.permissions = checker
	return nil
}

// Start 启动后台组件
func (c *Container) Start() error {
	go c.hub.Run()
	c.collector.Start()
	if c.scheduler != nil {
		if err := c.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// ApplyConfig 应用热更新的配置
// 只处理可在运行时变更的部分：日志级别与角色权限表
func (c *Container) ApplyConfig(newCfg *config.Config) {
	if level, err := logrus.ParseLevel(newCfg.Log.Level); err == nil {
		c.logger.SetLevel(level)
	}
	if c.claims != nil {
		c.claims.SetRolePermissions(newCfg.Permissions.RolePermissions)
	}
	if c.cachedChecker != nil {
		c.cachedChecker.Invalidate()
	}
	c.logger.Info("runtime configuration applied")
}

// Router 构建 HTTP 路由
func (c *Container) Router() http.Handler {
	return api.SetupRoutes(api.RouterDeps{
		Config:        c.cfg,
		DB:            c.db,
		Validator:     c.keycloakValidator,
		FGAClient:     c.fgaClient,
		Permissions:   c.permissions,
		Engine:        c.engine,
		Signatures:    c.signatures,
		Chain:         c.chain,
		Catalog:       c.catalog,
		Notifications: c.dispatcher,
		Hub:           c.hub,
	})
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// Chain 获取审计链
func (c *Container) Chain() audit.Chain {
	return c.chain
}

// Engine 获取工作流引擎
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// OpenFGAClient 获取 OpenFGA 客户端，claims 模式下为 nil
func (c *Container) OpenFGAClient() *auth.OpenFGAClient {
	return c.fgaClient
}

// Close 关闭容器,清理资源
func (c *Container) Close() error {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.collector != nil {
		c.collector.Stop()
	}
	if c.hub != nil {
		c.hub.Stop()
	}
	if c.dispatcher != nil {
		c.dispatcher.Stop()
	}
	database.Close(c.db)
	return nil
}
