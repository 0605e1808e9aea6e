package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/types"
)

// ClaimsChecker 基于令牌角色的权限检查
// 角色名不区分大小写，权限由配置中的角色权限表授予
type ClaimsChecker struct {
	mu              sync.RWMutex
	rolePermissions map[string]map[string]bool
}

// NewClaimsChecker 创建基于令牌角色的权限检查器
func NewClaimsChecker(rolePermissions map[string][]string) *ClaimsChecker {
	c := &ClaimsChecker{}
	c.SetRolePermissions(rolePermissions)
	return c
}

// SetRolePermissions 替换角色权限表，配置热更新时调用
func (c *ClaimsChecker) SetRolePermissions(rolePermissions map[string][]string) {
	table := make(map[string]map[string]bool, len(rolePermissions))
	for role, permissions := range rolePermissions {
		key := strings.ToLower(role)
		if table[key] == nil {
			table[key] = make(map[string]bool, len(permissions))
		}
		for _, p := range permissions {
			table[key][p] = true
		}
	}
	c.mu.Lock()
	c.rolePermissions = table
	c.mu.Unlock()
}

func actorRoles(actor types.Actor) []string {
	roles := make([]string, 0, len(actor.Roles)+2)
	roles = append(roles, actor.Roles...)
	if actor.RoleID != "" {
		roles = append(roles, actor.RoleID)
	}
	if actor.RoleName != "" {
		roles = append(roles, actor.RoleName)
	}
	return roles
}

// HasRole 操作人是否拥有指定角色
func (c *ClaimsChecker) HasRole(_ context.Context, actor types.Actor, roleID string) (bool, error) {
	for _, role := range actorRoles(actor) {
		if strings.EqualFold(role, roleID) {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyRole 操作人是否拥有任一角色
func (c *ClaimsChecker) HasAnyRole(ctx context.Context, actor types.Actor, roleNames []string) (bool, error) {
	for _, name := range roleNames {
		if ok, _ := c.HasRole(ctx, actor, name); ok {
			return true, nil
		}
	}
	return false, nil
}

// HasPermission 操作人的任一角色是否被授予权限
func (c *ClaimsChecker) HasPermission(_ context.Context, actor types.Actor, permission string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, role := range actorRoles(actor) {
		if c.rolePermissions[strings.ToLower(role)][permission] {
			return true, nil
		}
	}
	return false, nil
}

// OpenFGAChecker 基于 OpenFGA 关系的权限检查
type OpenFGAChecker struct {
	client *OpenFGAClient
}

// NewOpenFGAChecker 创建 OpenFGA 权限检查器
func NewOpenFGAChecker(client *OpenFGAClient) *OpenFGAChecker {
	return &OpenFGAChecker{client: client}
}

// HasRole 检查 role:<id>#member
func (c *OpenFGAChecker) HasRole(ctx context.Context, actor types.Actor, roleID string) (bool, error) {
	if actor.IsSystem() {
		return false, nil
	}
	return c.client.Check(ctx, fgaUser(actor.ID), fgaRelationMember, fgaRole(roleID))
}

// HasAnyRole 逐个检查角色
func (c *OpenFGAChecker) HasAnyRole(ctx context.Context, actor types.Actor, roleNames []string) (bool, error) {
	for _, name := range roleNames {
		ok, err := c.HasRole(ctx, actor, name)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasPermission 检查 permission:<name>#granted
func (c *OpenFGAChecker) HasPermission(ctx context.Context, actor types.Actor, permission string) (bool, error) {
	if actor.IsSystem() {
		return false, nil
	}
	return c.client.Check(ctx, fgaUser(actor.ID), fgaRelationGranted, fgaPermission(permission))
}

// RequirePermission 权限检查中间件
func RequirePermission(checker types.PermissionChecker, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "unauthorized",
			})
			return
		}

		allowed, err := checker.HasPermission(c.Request.Context(), actor, permission)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    500,
				"message": "permission check failed",
				"detail":  err.Error(),
			})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    403,
				"message": "forbidden",
			})
			return
		}

		c.Next()
	}
}
