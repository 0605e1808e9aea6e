package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mautops/docflow-gin/internal/metrics"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/types"
)

// transitions 实例状态转换表
var transitions = map[string]map[string]bool{
	model.InstanceStatusDraft: {
		model.InstanceStatusPending: true,
	},
	model.InstanceStatusPending: {
		model.InstanceStatusInProgress: true,
		model.InstanceStatusApproved:   true,
		model.InstanceStatusRejected:   true,
		model.InstanceStatusCancelled:  true,
		model.InstanceStatusExpired:    true,
		model.InstanceStatusDraft:      true,
	},
	model.InstanceStatusInProgress: {
		model.InstanceStatusInProgress: true,
		model.InstanceStatusApproved:   true,
		model.InstanceStatusRejected:   true,
		model.InstanceStatusCancelled:  true,
		model.InstanceStatusExpired:    true,
		model.InstanceStatusDraft:      true,
	},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// transition 变更实例状态并记录状态历史
func (e *engine) transition(ctx context.Context, actx types.ActionContext, instance *model.WorkflowInstanceModel, to string, reason string) error {
	from := instance.Status
	if !CanTransition(from, to) {
		return types.ErrInvalidTransition.Withf("cannot transition workflow instance from %s to %s", from, to)
	}

	instance.Status = to
	history := &model.StateHistoryModel{
		ID:         uuid.New().String(),
		InstanceID: instance.ID,
		FromState:  from,
		ToState:    to,
		Reason:     reason,
		Operator:   actx.Actor.AuditID(),
		CreatedAt:  actx.At(e.clock),
	}
	if err := e.history.Create(ctx, history); err != nil {
		return fmt.Errorf("failed to save state history: %w", err)
	}

	metrics.RecordTransition(from, to)
	return nil
}
