package auth

import (
	"context"
	"fmt"
)

// OpenFGA 对象与关系
const (
	fgaRelationMember  = "member"
	fgaRelationGranted = "granted"
)

// GetPermissionModel 获取 OpenFGA 权限模型定义
func GetPermissionModel() string {
	return `model
  schema 1.1

type user

type role
  relations
    define member: [user]

type permission
  relations
    define granted: [user, role#member]

type document
  relations
    define owner: [user]
    define reviewer: [user, role#member]
    define viewer: [user, role#member] or owner or reviewer

type workflow_instance
  relations
    define initiator: [user]
    define approver: [user, role#member]
    define viewer: [user] or initiator or approver`
}

func fgaUser(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

func fgaRole(roleID string) string {
	return fmt.Sprintf("role:%s", roleID)
}

func fgaPermission(permission string) string {
	return fmt.Sprintf("permission:%s", permission)
}

// FGAAdmin 维护角色成员与角色权限关系
type FGAAdmin struct {
	client *OpenFGAClient
}

// NewFGAAdmin 创建 OpenFGA 关系维护工具
func NewFGAAdmin(client *OpenFGAClient) *FGAAdmin {
	return &FGAAdmin{client: client}
}

// AddRoleMember 将用户加入角色
func (a *FGAAdmin) AddRoleMember(ctx context.Context, userID string, roleID string) error {
	return a.client.Grant(ctx, fgaUser(userID), fgaRelationMember, fgaRole(roleID))
}

// RemoveRoleMember 将用户移出角色
func (a *FGAAdmin) RemoveRoleMember(ctx context.Context, userID string, roleID string) error {
	return a.client.Revoke(ctx, fgaUser(userID), fgaRelationMember, fgaRole(roleID))
}

// GrantRolePermission 授予角色全体成员权限
func (a *FGAAdmin) GrantRolePermission(ctx context.Context, roleID string, permission string) error {
	return a.client.Grant(ctx, fgaRole(roleID)+"#"+fgaRelationMember, fgaRelationGranted, fgaPermission(permission))
}

// RevokeRolePermission 收回角色权限
func (a *FGAAdmin) RevokeRolePermission(ctx context.Context, roleID string, permission string) error {
	return a.client.Revoke(ctx, fgaRole(roleID)+"#"+fgaRelationMember, fgaRelationGranted, fgaPermission(permission))
}
