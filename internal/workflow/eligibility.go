package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/types"
)

// ApproverDirectory 审批人目录
// 用于在步骤激活时解析需要通知的用户
type ApproverDirectory interface {
	EligibleUsers(ctx context.Context, step *model.WorkflowStepModel) ([]string, error)
}

// IsEligible 判断操作人能否处理步骤
// 取第一个已配置的规则：指定用户、指定角色、允许角色、持有审批权限的任意用户；都未配置时无人可处理
func IsEligible(ctx context.Context, checker types.PermissionChecker, actor types.Actor, step *model.WorkflowStepModel) (bool, error) {
	if step == nil || actor.IsSystem() {
		return false, nil
	}

	switch {
	case step.RequiredUserID != "":
		return actor.ID == step.RequiredUserID, nil
	case step.RequiredRoleID != "":
		if checker == nil {
			return false, nil
		}
		ok, err := checker.HasRole(ctx, actor, step.RequiredRoleID)
		if err != nil {
			return false, fmt.Errorf("failed to check role: %w", err)
		}
		return ok, nil
	case len(step.AllowedRoles) > 0:
		if checker == nil {
			return false, nil
		}
		ok, err := checker.HasAnyRole(ctx, actor, step.AllowedRoles)
		if err != nil {
			return false, fmt.Errorf("failed to check roles: %w", err)
		}
		return ok, nil
	case step.AnyUserWithPermission:
		if checker == nil {
			return false, nil
		}
		ok, err := checker.HasPermission(ctx, actor, types.PermissionWorkflowApprove)
		if err != nil {
			return false, fmt.Errorf("failed to check permission: %w", err)
		}
		return ok, nil
	}
	return false, nil
}

// RoleDirectory 基于配置的角色成员表的审批人目录
// 角色名不区分大小写；按权限放开的步骤无法枚举成员，返回空
type RoleDirectory struct {
	members map[string][]string
}

// NewRoleDirectory 创建审批人目录
func NewRoleDirectory(members map[string][]string) *RoleDirectory {
	table := make(map[string][]string, len(members))
	for role, users := range members {
		key := strings.ToLower(role)
		table[key] = append(table[key], users...)
	}
	return &RoleDirectory{members: table}
}

// EligibleUsers 解析步骤的候选审批人，结果去重
func (d *RoleDirectory) EligibleUsers(_ context.Context, step *model.WorkflowStepModel) ([]string, error) {
	switch {
	case step.RequiredUserID != "":
		return []string{step.RequiredUserID}, nil
	case step.RequiredRoleID != "":
		return dedupe(d.members[strings.ToLower(step.RequiredRoleID)]), nil
	case len(step.AllowedRoles) > 0:
		var users []string
		for _, role := range step.AllowedRoles {
			users = append(users, d.members[strings.ToLower(role)]...)
		}
		return dedupe(users), nil
	}
	return nil, nil
}

func dedupe(users []string) []string {
	seen := make(map[string]bool, len(users))
	result := make([]string, 0, len(users))
	for _, u := range users {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		result = append(result, u)
	}
	return result
}
