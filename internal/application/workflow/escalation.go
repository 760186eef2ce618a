package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

// errNotOverdue marks an instance that no longer needs escalation once
// re-read under its lock
var errNotOverdue = errors.New("instance not overdue")

// EscalateOverdue pages through every in-progress instance, sweepBatchSize
// at a time, and reroutes each step whose chain has been waiting longer
// than the step timeout. Failures on one instance are logged and counted;
// they do not stop the sweep.
func (e *engineImpl) EscalateOverdue(ctx context.Context) (*SweepResult, error) {
	started := time.Now()

	var (
		mu     sync.Mutex
		result = &SweepResult{}
		defs   = newDefinitionCache(e)
		cursor *port.InstanceCursor
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.sweepConcurrency)

	var listErr error
	for gctx.Err() == nil {
		page, err := e.instances.ListByStatus(gctx, entity.StatusInProgress, cursor, e.sweepBatchSize)
		if err != nil {
			listErr = fmt.Errorf("failed to list in-progress instances: %w", err)
			break
		}
		if len(page) == 0 {
			break
		}
		cursor = port.CursorAfter(page[len(page)-1])

		mu.Lock()
		result.Scanned += len(page)
		mu.Unlock()

		for _, inst := range page {
			if gctx.Err() != nil {
				break
			}
			e.sweepOne(gctx, g, defs, inst, result, &mu)
		}

		if e.sweepBatchSize <= 0 || len(page) < e.sweepBatchSize {
			break
		}
	}

	err := g.Wait()
	result.Duration = time.Since(started)

	e.logger.Info("Escalation sweep finished",
		"scanned", result.Scanned,
		"escalated", result.Escalated,
		"blocked", result.Blocked,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	if listErr != nil {
		return result, listErr
	}
	if err != nil {
		return result, fmt.Errorf("escalation sweep interrupted: %w", err)
	}
	return result, nil
}

// sweepOne checks one candidate and, when overdue, schedules its escalation
func (e *engineImpl) sweepOne(ctx context.Context, g *errgroup.Group, defs *definitionCache, inst *entity.WorkflowInstance, result *SweepResult, mu *sync.Mutex) {
	due, err := e.isOverdue(ctx, defs, inst)
	if err != nil {
		e.logger.Error("Failed to check instance timeout",
			"tenant_id", inst.TenantID,
			"instance_id", inst.ID,
			"error", err,
		)
		mu.Lock()
		result.Failed++
		mu.Unlock()
		return
	}
	if !due {
		return
	}

	g.Go(func() error {
		updated, err := e.escalate(ctx, inst.TenantID, inst.ID)

		mu.Lock()
		defer mu.Unlock()
		switch {
		case errors.Is(err, errNotOverdue):
		case err != nil:
			result.Failed++
			e.logger.Error("Failed to escalate instance",
				"tenant_id", inst.TenantID,
				"instance_id", inst.ID,
				"error", err,
			)
		case updated.Status == entity.StatusAwaitingApproverAssignment:
			result.Blocked++
		default:
			result.Escalated++
		}
		return ctx.Err()
	})
}

// isOverdue checks an instance snapshot without taking its lock
func (e *engineImpl) isOverdue(ctx context.Context, defs *definitionCache, inst *entity.WorkflowInstance) (bool, error) {
	if inst.Status != entity.StatusInProgress || inst.ChainMaterializedAt == nil || !inst.IsBound() {
		return false, nil
	}
	def, err := defs.get(ctx, inst.TenantID, inst.FlowDefinitionID)
	if err != nil {
		return false, err
	}
	step, ok := def.Step(inst.CurrentStepIndex)
	if !ok {
		return false, fmt.Errorf("%w: step index %d out of range", domainwf.ErrInvalidState, inst.CurrentStepIndex)
	}
	return overdue(step, inst, e.now()), nil
}

func overdue(step entity.FlowStep, inst *entity.WorkflowInstance, now time.Time) bool {
	timeout := step.Timeout()
	if timeout <= 0 || inst.ChainMaterializedAt == nil {
		return false
	}
	return now.Sub(*inst.ChainMaterializedAt) > timeout
}

// escalate reroutes one instance under its lock. Decided approvers keep
// their slots; undecided ones are replaced by their superiors.
func (e *engineImpl) escalate(ctx context.Context, tenantID, instanceID string) (*entity.WorkflowInstance, error) {
	return e.mutate(ctx, tenantID, instanceID, entity.SystemActor, func(t *transition) error {
		if t.inst.Status != entity.StatusInProgress {
			return errNotOverdue
		}
		step, err := t.currentStep()
		if err != nil {
			return err
		}
		if !overdue(step, t.inst, e.now()) {
			return errNotOverdue
		}

		tally, err := t.tally()
		if err != nil {
			return err
		}

		var kept, undecided []string
		for _, m := range t.inst.Chain {
			if tally.decided[m.ApproverID] {
				kept = append(kept, m.ApproverID)
			} else {
				undecided = append(undecided, m.ApproverID)
			}
		}
		for _, id := range undecided {
			if err := t.record(id, entity.DecisionEscalated, "step timed out"); err != nil {
				return err
			}
		}

		superiors, err := e.chains.EscalationTargets(t.ctx, tenantID, undecided)
		if err != nil {
			return fmt.Errorf("failed to resolve escalation targets: %w", err)
		}

		// A target must be able to act: not someone who already decided this
		// step, and not an approver who just timed out (a root approver maps
		// to themselves).
		timedOut := make(map[string]bool, len(undecided))
		for _, id := range undecided {
			timedOut[id] = true
		}
		var targets []string
		for _, id := range superiors {
			if tally.decided[id] || timedOut[id] {
				e.logger.Info("Dropping escalation target that cannot act",
					"tenant_id", tenantID,
					"instance_id", t.inst.ID,
					"approver_id", id,
				)
				continue
			}
			targets = append(targets, id)
		}

		replacement := dedupe(append(append([]string(nil), kept...), targets...))
		if len(targets) == 0 || tally.approved+len(targets) < step.EffectiveQuorum() {
			return t.block(entity.ActionEscalate, "escalation produced no usable chain")
		}

		now := e.now()
		t.inst.Chain = entity.NewChain(replacement)
		t.inst.ChainGeneration++
		t.inst.ChainMaterializedAt = &now
		if err := t.fire(domainwf.TriggerEscalate, entity.ActionEscalate, fmt.Sprintf("%d approvers timed out", len(undecided))); err != nil {
			return err
		}

		t.emit(event.TypeStepEscalated, map[string]interface{}{
			event.PayloadApprovers:  targets,
			event.PayloadReplaced:   undecided,
			event.PayloadGeneration: t.inst.ChainGeneration,
		})
		return nil
	})
}

// definitionCache memoizes flow definitions for the duration of one sweep
type definitionCache struct {
	e    *engineImpl
	mu   sync.Mutex
	defs map[string]*entity.FlowDefinition
}

func newDefinitionCache(e *engineImpl) *definitionCache {
	return &definitionCache{e: e, defs: make(map[string]*entity.FlowDefinition)}
}

func (c *definitionCache) get(ctx context.Context, tenantID, id string) (*entity.FlowDefinition, error) {
	key := tenantID + "/" + id
	c.mu.Lock()
	defer c.mu.Unlock()

	if def, ok := c.defs[key]; ok {
		return def, nil
	}
	def, err := c.e.flows.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrDefinitionNotFound, id)
	}
	c.defs[key] = def
	return def, nil
}
