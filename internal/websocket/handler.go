package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/mautops/docflow-gin/internal/auth"
	"github.com/sirupsen/logrus"
)

// NewUpgrader 创建按来源白名单校验的 Upgrader
// 白名单包含 "*" 时允许任意来源，没有 Origin 头的非浏览器客户端总是允许
func NewUpgrader(allowedOrigins []string) *gorillaWS.Upgrader {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[origin] = true
	}
	return &gorillaWS.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origins["*"] || origins[origin]
		},
	}
}

// Handler 通知推送处理器
// 挂在已认证的路由组下，连接只接收当前用户的通知
func Handler(hub *Hub, upgrader *gorillaWS.Upgrader, logger *logrus.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(c *gin.Context) {
		// 1. 当前用户
		actor, ok := auth.ActorFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "unauthorized"})
			return
		}

		// 2. 升级连接，失败时 Upgrader 已写入响应
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.WithError(err).WithField("user_id", actor.ID).Warn("notification stream upgrade failed")
			return
		}

		// 3. 注册客户端
		client := NewClient(uuid.New().String(), actor.ID, hub, conn, logger)
		if !hub.register(client) {
			conn.WriteMessage(gorillaWS.CloseMessage,
				gorillaWS.FormatCloseMessage(gorillaWS.CloseGoingAway, "server shutting down"))
			conn.Close()
			return
		}

		logger.WithFields(logrus.Fields{
			"client_id": client.ID,
			"user_id":   actor.ID,
		}).Info("notification stream connected")

		// 4. 启动 readPump 和 writePump
		go client.ReadPump()
		go client.WritePump()
	}
}
