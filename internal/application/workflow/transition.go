package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

// transition is the unit of work applied to one instance inside a
// transaction. Events are buffered and dispatched only after commit.
type transition struct {
	e           *engineImpl
	ctx         context.Context
	inst        *entity.WorkflowInstance
	def         *entity.FlowDefinition
	actor       string
	correlation string
	events      []*event.Event
}

// definition loads the bound flow definition once per transition
func (t *transition) definition() (*entity.FlowDefinition, error) {
	if t.def != nil {
		return t.def, nil
	}
	if !t.inst.IsBound() {
		return nil, fmt.Errorf("%w: instance %s has no flow definition", domainwf.ErrFlowNotFound, t.inst.ID)
	}
	def, err := t.e.flows.GetByID(t.ctx, t.inst.TenantID, t.inst.FlowDefinitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrDefinitionNotFound, t.inst.FlowDefinitionID)
	}
	t.def = def
	return def, nil
}

// currentStep returns the step the instance points at
func (t *transition) currentStep() (entity.FlowStep, error) {
	def, err := t.definition()
	if err != nil {
		return entity.FlowStep{}, err
	}
	step, ok := def.Step(t.inst.CurrentStepIndex)
	if !ok {
		return entity.FlowStep{}, fmt.Errorf("%w: step index %d out of range for definition %s",
			domainwf.ErrInvalidState, t.inst.CurrentStepIndex, def.ID)
	}
	return step, nil
}

// fire applies trigger through the status machine and appends the
// matching timeline entry.
func (t *transition) fire(trigger domainwf.Trigger, action, detail string) error {
	from := t.inst.Status
	machine := domainwf.BuildInstanceStateMachine(domainwf.State(from))

	if err := machine.Fire(t.ctx, trigger); err != nil {
		return fmt.Errorf("instance %s: %w", t.inst.ID, err)
	}

	now := t.e.now()
	t.inst.Status = machine.State().String()
	t.inst.UpdatedAt = now
	if machine.State().IsTerminal() {
		t.inst.CompletedAt = &now
	}

	return t.log(action, from, detail)
}

// log appends a timeline entry without changing status
func (t *transition) log(action, from, detail string) error {
	entry := &entity.TimelineEntry{
		InstanceID: t.inst.ID,
		Actor:      t.actor,
		Action:     action,
		FromStatus: from,
		ToStatus:   t.inst.Status,
		StepIndex:  t.inst.CurrentStepIndex,
		Detail:     detail,
		CreatedAt:  t.e.now(),
	}
	if err := t.e.timeline.Append(t.ctx, entry); err != nil {
		return fmt.Errorf("failed to append timeline entry: %w", err)
	}
	return nil
}

// record writes a step record for the current step and generation
func (t *transition) record(approverID, decision, comment string) error {
	rec := &entity.StepRecord{
		InstanceID: t.inst.ID,
		StepIndex:  t.inst.CurrentStepIndex,
		Generation: t.inst.ChainGeneration,
		ApproverID: approverID,
		Decision:   decision,
		Comment:    comment,
		DecidedAt:  t.e.now(),
	}
	if err := t.e.records.Create(t.ctx, rec); err != nil {
		return fmt.Errorf("failed to create step record: %w", err)
	}
	return nil
}

// stepTally summarizes the decisions taken on the current step
type stepTally struct {
	approved int
	decided  map[string]bool
}

// tally counts decisions on the current step across all chain generations.
// Escalated records do not count as a decision.
func (t *transition) tally() (*stepTally, error) {
	recs, err := t.e.records.GetByStep(t.ctx, t.inst.ID, t.inst.CurrentStepIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to load step records: %w", err)
	}
	out := &stepTally{decided: make(map[string]bool, len(recs))}
	for _, r := range recs {
		switch r.Decision {
		case entity.DecisionApproved:
			out.approved++
			out.decided[r.ApproverID] = true
		case entity.DecisionRejected, entity.DecisionDelegated, entity.DecisionSkipped:
			out.decided[r.ApproverID] = true
		}
	}
	return out, nil
}

// requireCurrentApprover fails unless approverID holds an undecided slot
func (t *transition) requireCurrentApprover(approverID string) (*stepTally, error) {
	if t.inst.Status != entity.StatusInProgress || !t.inst.InChain(approverID) {
		return nil, fmt.Errorf("%w: %s on instance %s", domainwf.ErrNotCurrentApprover, approverID, t.inst.ID)
	}
	tally, err := t.tally()
	if err != nil {
		return nil, err
	}
	if tally.decided[approverID] {
		return nil, fmt.Errorf("%w: %s already decided step %d", domainwf.ErrNotCurrentApprover, approverID, t.inst.CurrentStepIndex)
	}
	return tally, nil
}

// advance completes the current step: the instance either finishes or
// moves to the next step and materializes its chain.
func (t *transition) advance() error {
	def, err := t.definition()
	if err != nil {
		return err
	}

	if def.IsLastStep(t.inst.CurrentStepIndex) {
		if err := t.fire(domainwf.TriggerComplete, entity.ActionStepAdvanced, "final step complete"); err != nil {
			return err
		}
		t.emit(event.TypeInstanceApproved, nil)
		return nil
	}

	t.inst.CurrentStepIndex++
	return t.materialize(entity.ActionStepAdvanced)
}

// materialize builds the chain for the current step. Routing failures
// leave the instance awaiting approver assignment instead of failing.
func (t *transition) materialize(action string) error {
	step, err := t.currentStep()
	if err != nil {
		return err
	}

	approvers, err := t.e.chains.Build(t.ctx, t.inst.TenantID, step, t.inst.RequesterID)
	if errors.Is(err, domainwf.ErrEmptyChain) {
		return t.block(action, "no approvers resolved for step")
	}
	if err != nil {
		return fmt.Errorf("failed to build approver chain: %w", err)
	}
	if len(approvers) < step.EffectiveQuorum() {
		return t.block(action, fmt.Sprintf("chain of %d cannot reach quorum %d", len(approvers), step.EffectiveQuorum()))
	}

	return t.install(approvers, action, "")
}

// install sets a fresh chain generation for the current step
func (t *transition) install(approvers []string, action, detail string) error {
	now := t.e.now()
	t.inst.Chain = entity.NewChain(approvers)
	t.inst.ChainGeneration++
	t.inst.ChainMaterializedAt = &now

	trigger := domainwf.TriggerMaterialize
	if t.inst.Status == entity.StatusInProgress {
		trigger = domainwf.TriggerAdvance
	}
	if err := t.fire(trigger, action, detail); err != nil {
		return err
	}

	t.emit(event.TypeChainMaterialized, map[string]interface{}{
		event.PayloadApprovers:  approvers,
		event.PayloadGeneration: t.inst.ChainGeneration,
	})
	return nil
}

// block parks the instance for administrator remediation
func (t *transition) block(action, reason string) error {
	t.inst.Chain = nil
	t.inst.ChainMaterializedAt = nil
	if err := t.fire(domainwf.TriggerBlock, action, reason); err != nil {
		return err
	}
	t.e.logger.Info("Instance awaiting approver assignment",
		"tenant_id", t.inst.TenantID,
		"instance_id", t.inst.ID,
		"step_index", t.inst.CurrentStepIndex,
		"reason", reason,
	)
	t.emit(event.TypeInstanceAwaitingAssignment, map[string]interface{}{
		event.PayloadBlockedReason: reason,
	})
	return nil
}

// emit buffers a domain event describing the instance after this transition
func (t *transition) emit(typ event.Type, payload map[string]interface{}) {
	p := map[string]interface{}{
		event.PayloadStepIndex:    t.inst.CurrentStepIndex,
		event.PayloadToStatus:     t.inst.Status,
		event.PayloadRequesterID:  t.inst.RequesterID,
		event.PayloadDocumentType: t.inst.DocumentType,
	}
	for k, v := range payload {
		p[k] = v
	}
	t.events = append(t.events, event.NewEventWithCorrelation(typ, t.inst.TenantID, t.inst.ID, t.actor, p, t.correlation))
}
