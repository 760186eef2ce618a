package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

// AssignApprovers installs an administrator-chosen chain on the current
// step of a bound instance awaiting assignment
func (e *engineImpl) AssignApprovers(ctx context.Context, tenantID, instanceID, actorID string, approverIDs []string) (*ActionResult, error) {
	inst, err := e.mutate(ctx, tenantID, instanceID, actorID, func(t *transition) error {
		if err := e.requireAdmin(t.ctx, tenantID, actorID); err != nil {
			return err
		}
		if t.inst.Status != entity.StatusAwaitingApproverAssignment {
			return fmt.Errorf("%w: instance is %s, not awaiting assignment", domainwf.ErrInvalidRequest, t.inst.Status)
		}
		if !t.inst.IsBound() {
			return fmt.Errorf("%w: instance has no flow definition, retry routing first", domainwf.ErrInvalidRequest)
		}
		step, err := t.currentStep()
		if err != nil {
			return err
		}

		approvers := dedupe(approverIDs)
		if len(approvers) < step.EffectiveQuorum() {
			return fmt.Errorf("%w: %d approvers cannot reach quorum %d", domainwf.ErrInvalidRequest, len(approvers), step.EffectiveQuorum())
		}
		return t.install(approvers, entity.ActionAssign, fmt.Sprintf("assigned %d approvers", len(approvers)))
	})
	if err != nil {
		return nil, err
	}
	return resultOf(inst), nil
}

// RetryRouting re-runs flow resolution and chain materialization for an
// instance awaiting assignment. A routing failure leaves it awaiting.
func (e *engineImpl) RetryRouting(ctx context.Context, tenantID, instanceID, actorID string) (*ActionResult, error) {
	inst, err := e.mutate(ctx, tenantID, instanceID, actorID, func(t *transition) error {
		if err := e.requireAdmin(t.ctx, tenantID, actorID); err != nil {
			return err
		}
		if t.inst.Status != entity.StatusAwaitingApproverAssignment {
			return fmt.Errorf("%w: instance is %s, not awaiting assignment", domainwf.ErrInvalidRequest, t.inst.Status)
		}
		if err := t.log(entity.ActionRetryRouting, t.inst.Status, ""); err != nil {
			return err
		}
		return e.route(t)
	})
	if err != nil {
		return nil, err
	}
	return resultOf(inst), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
