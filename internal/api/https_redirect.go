package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HTTPSRedirectMiddleware HTTPS 重定向中间件
// 未启用时直接放行；健康检查不重定向
func HTTPSRedirectMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled || IsHTTPS(c) || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		host := c.Request.Host
		if host == "" {
			host = "localhost"
		}

		// 非幂等请求使用 308 保留请求方法与请求体
		status := http.StatusMovedPermanently
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			status = http.StatusPermanentRedirect
		}
		c.Redirect(status, "https://"+host+c.Request.RequestURI)
		c.Abort()
	}
}

// IsHTTPS 检查请求是否通过 HTTPS
func IsHTTPS(c *gin.Context) bool {
	if strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		return true
	}
	if c.GetHeader("X-Forwarded-SSL") == "on" {
		return true
	}
	return c.Request.TLS != nil
}
