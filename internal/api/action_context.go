package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/auth"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/mautops/docflow-gin/internal/utils"
)

// actionContext 从请求构造操作上下文
// 未认证时写入 401 并返回 false
func actionContext(ctx *gin.Context) (types.ActionContext, bool) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		Error(ctx, http.StatusUnauthorized, "unauthorized", "")
		return types.ActionContext{}, false
	}
	actx := types.ActionContext{
		Actor:     actor,
		ClientIP:  ctx.ClientIP(),
		UserAgent: ctx.Request.UserAgent(),
		SessionID: ctx.GetString("session_id"),
		RequestID: ctx.GetString("request_id"),
	}
	annotateSpan(ctx.Request.Context(), actx)
	return actx, true
}

// pathID 读取并校验路径中的资源 ID
func pathID(ctx *gin.Context, name string) (string, bool) {
	id := ctx.Param(name)
	if err := utils.ValidateID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid "+name, err.Error())
		return "", false
	}
	return id, true
}
