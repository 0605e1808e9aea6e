package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/auth"
	"gorm.io/gorm"
)

// HealthController 健康检查控制器
type HealthController struct {
	db        *gorm.DB
	fgaClient *auth.OpenFGAClient
}

// NewHealthController 创建健康检查控制器，fgaClient 可为 nil
func NewHealthController(db *gorm.DB, fgaClient *auth.OpenFGAClient) *HealthController {
	return &HealthController{
		db:        db,
		fgaClient: fgaClient,
	}
}

// Check 健康检查
func (c *HealthController) Check(ctx *gin.Context) {
	status := "healthy"
	checks := make(map[string]string)

	if c.db != nil {
		if err := c.checkDatabase(ctx.Request.Context()); err != nil {
			status = "unhealthy"
			checks["database"] = "unhealthy: " + err.Error()
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "not configured"
	}

	if c.fgaClient != nil {
		if c.fgaClient.CheckHealth(ctx.Request.Context()) {
			checks["openfga"] = "healthy"
		} else {
			status = "unhealthy"
			checks["openfga"] = "unhealthy"
		}
	} else {
		checks["openfga"] = "not configured"
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	ctx.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

// checkDatabase 检查数据库连接
func (c *HealthController) checkDatabase(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}
