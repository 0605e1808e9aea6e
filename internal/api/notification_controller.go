package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/model"
)

// NotificationStore 站内通知读取
type NotificationStore interface {
	ForUser(ctx context.Context, userID string, unreadOnly bool) ([]*model.NotificationModel, error)
	MarkRead(ctx context.Context, id string, userID string) error
}

// NotificationController 通知控制器
type NotificationController struct {
	store NotificationStore
}

// NewNotificationController 创建通知控制器
func NewNotificationController(store NotificationStore) *NotificationController {
	return &NotificationController{store: store}
}

// List 当前用户的通知
func (c *NotificationController) List(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}

	items, err := c.store.ForUser(ctx.Request.Context(), actx.Actor.ID, ctx.Query("unread") == "true")
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toNotificationResponses(items))
}

// MarkRead 标记已读
func (c *NotificationController) MarkRead(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	if err := c.store.MarkRead(ctx.Request.Context(), id, actx.Actor.ID); err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, nil)
}
