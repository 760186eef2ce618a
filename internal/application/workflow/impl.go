package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

// Repositories groups the persistence ports used by the engine
type Repositories struct {
	Flows       port.FlowDefinitionRepository
	Instances   port.InstanceRepository
	StepRecords port.StepRecordRepository
	Timeline    port.TimelineRepository
	TxManager   port.TransactionManager
}

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	flows     port.FlowDefinitionRepository
	instances port.InstanceRepository
	records   port.StepRecordRepository
	timeline  port.TimelineRepository
	txManager port.TransactionManager

	resolver   FlowResolver
	chains     ChainBuilder
	admins     port.AdminAuthorizer
	locker     port.InstanceLocker
	dispatcher dispatcher.Dispatcher
	logger     Logger
	now        func() time.Time

	sweepConcurrency int
	sweepBatchSize   int
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLocker sets the per-instance lock
func WithLocker(l port.InstanceLocker) EngineOption {
	return func(e *engineImpl) {
		e.locker = l
	}
}

// WithAdminAuthorizer sets the authority check used by skip, cancel and remediation
func WithAdminAuthorizer(a port.AdminAuthorizer) EngineOption {
	return func(e *engineImpl) {
		e.admins = a
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides wall-clock time
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithSweepConcurrency bounds the instances escalated in parallel
func WithSweepConcurrency(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.sweepConcurrency = n
		}
	}
}

// WithSweepBatchSize sets how many instances a sweep reads per page
func WithSweepBatchSize(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.sweepBatchSize = n
		}
	}
}

// NewEngine creates a new workflow engine
func NewEngine(repos Repositories, resolver FlowResolver, chains ChainBuilder, opts ...EngineOption) Engine {
	e := &engineImpl{
		flows:            repos.Flows,
		instances:        repos.Instances,
		records:          repos.StepRecords,
		timeline:         repos.Timeline,
		txManager:        repos.TxManager,
		resolver:         resolver,
		chains:           chains,
		logger:           nopLogger{},
		now:              func() time.Time { return time.Now().UTC() },
		sweepConcurrency: 4,
		sweepBatchSize:   500,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// lock acquires key on the configured locker. Without a locker the
// version-checked update is the only guard against concurrent writers.
func (e *engineImpl) lock(ctx context.Context, key string) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	return e.locker.Lock(ctx, key)
}

// mutate runs fn against one instance under the instance lock and inside a
// transaction. The instance write is version-checked; events buffered by
// fn are dispatched only after commit.
func (e *engineImpl) mutate(ctx context.Context, tenantID, instanceID, actor string, fn func(t *transition) error) (*entity.WorkflowInstance, error) {
	if tenantID == "" || instanceID == "" {
		return nil, fmt.Errorf("%w: tenant and instance id are required", domainwf.ErrInvalidRequest)
	}

	unlock, err := e.lock(ctx, instanceLockKey(tenantID, instanceID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock instance %s: %w", instanceID, err)
	}
	defer unlock()

	var t *transition
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inst, err := e.instances.GetByID(txCtx, tenantID, instanceID)
		if err != nil {
			return fmt.Errorf("failed to load instance: %w", err)
		}
		if inst == nil {
			return fmt.Errorf("%w: %s", domainwf.ErrInstanceNotFound, instanceID)
		}
		if inst.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", domainwf.ErrInstanceAlreadyTerminal, instanceID, inst.Status)
		}

		t = &transition{
			e:           e,
			ctx:         txCtx,
			inst:        inst.Clone(),
			actor:       actor,
			correlation: uuid.NewString(),
		}
		if err := fn(t); err != nil {
			return err
		}

		if err := e.instances.Update(txCtx, t.inst); err != nil {
			return fmt.Errorf("failed to update instance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, t.events)
	return t.inst, nil
}

func (e *engineImpl) publish(ctx context.Context, events []*event.Event) {
	if e.dispatcher == nil {
		return
	}
	for _, evt := range events {
		e.dispatcher.DispatchAsync(ctx, evt)
	}
}

func (e *engineImpl) isAdmin(ctx context.Context, tenantID, userID string) (bool, error) {
	if e.admins == nil || userID == "" {
		return false, nil
	}
	ok, err := e.admins.IsAdmin(ctx, tenantID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check admin authority: %w", err)
	}
	return ok, nil
}

func (e *engineImpl) requireAdmin(ctx context.Context, tenantID, userID string) error {
	ok, err := e.isAdmin(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not an administrator", domainwf.ErrNotAuthorized, userID)
	}
	return nil
}

// StartWorkflow creates and routes an instance for a business request
func (e *engineImpl) StartWorkflow(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := validateStart(req); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	unlock, err := e.lock(ctx, requestLockKey(req.TenantID, req.RequestID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock request %s: %w", req.RequestID, err)
	}
	defer unlock()

	var (
		t        *transition
		existing *entity.WorkflowInstance
	)
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		found, err := e.instances.GetByRequestID(txCtx, req.TenantID, req.RequestID)
		if err != nil {
			return fmt.Errorf("failed to look up request: %w", err)
		}
		if found != nil {
			existing = found
			return nil
		}

		now := e.now()
		inst := &entity.WorkflowInstance{
			ID:           uuid.NewString(),
			TenantID:     req.TenantID,
			RequestID:    req.RequestID,
			DocumentType: req.DocumentType,
			RequesterID:  req.RequesterID,
			Attributes:   req.Attributes,
			Status:       entity.StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.instances.Create(txCtx, inst); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}

		t = &transition{e: e, ctx: txCtx, inst: inst, actor: req.RequesterID, correlation: uuid.NewString()}
		if err := t.log(entity.ActionStart, "", "request "+req.RequestID); err != nil {
			return err
		}
		t.emit(event.TypeInstanceStarted, nil)

		if err := e.route(t); err != nil {
			return err
		}

		if err := e.instances.Update(txCtx, t.inst); err != nil {
			return fmt.Errorf("failed to update instance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return &StartResult{InstanceID: existing.ID, Status: existing.Status, Existing: true}, nil
	}

	e.publish(ctx, t.events)
	e.logger.Info("Workflow started",
		"tenant_id", req.TenantID,
		"instance_id", t.inst.ID,
		"request_id", req.RequestID,
		"flow_definition_id", t.inst.FlowDefinitionID,
		"status", t.inst.Status,
	)
	return &StartResult{InstanceID: t.inst.ID, Status: t.inst.Status}, nil
}

// route binds a flow definition if needed and materializes the current step
func (e *engineImpl) route(t *transition) error {
	if !t.inst.IsBound() {
		def, err := e.resolver.Resolve(t.ctx, t.inst.TenantID, t.inst.DocumentType, t.inst.Attributes)
		if errors.Is(err, domainwf.ErrFlowNotFound) {
			return t.block(entity.ActionAwaitAssignment, "no applicable flow definition")
		}
		if err != nil {
			return fmt.Errorf("failed to resolve flow definition: %w", err)
		}
		if len(def.Steps) == 0 {
			return fmt.Errorf("%w: definition %s has no steps", domainwf.ErrInvalidDefinition, def.ID)
		}
		t.inst.FlowDefinitionID = def.ID
		t.inst.CurrentStepIndex = 0
		t.def = def
	}
	return t.materialize(entity.ActionStepAdvanced)
}

func validateStart(req StartRequest) error {
	var missing []string
	if req.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if req.DocumentType == "" {
		missing = append(missing, "document_type")
	}
	if req.RequesterID == "" {
		missing = append(missing, "requester_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domainwf.ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Approve records an approval and advances the step once quorum is met
func (e *engineImpl) Approve(ctx context.Context, tenantID, instanceID, approverID, comment string) (*ActionResult, error) {
	inst, err := e.mutate(ctx, tenantID, instanceID, approverID, func(t *transition) error {
		tally, err := t.requireCurrentApprover(approverID)
		if err != nil {
			return err
		}
		step, err := t.currentStep()
		if err != nil {
			return err
		}

		if err := t.record(approverID, entity.DecisionApproved, comment); err != nil {
			return err
		}
		if err := t.log(entity.ActionApprove, t.inst.Status, comment); err != nil {
			return err
		}
		t.emit(event.TypeStepApproved, map[string]interface{}{event.PayloadComment: comment})

		if tally.approved+1 < step.EffectiveQuorum() {
			return nil
		}
		return t.advance()
	})
	if err != nil {
		return nil, err
	}
	return resultOf(inst), nil
}

// Reject vetoes the instance regardless of quorum
func (e *engineImpl) Reject(ctx context.Context, tenantID, instanceID, approverID, reason string) (*ActionResult, error) {
	inst, err := e.mutate(ctx, tenantID, instanceID, approverID, func(t *transition) error {
		if _, err := t.requireCurrentApprover(approverID); err != nil {
			return err
		}
		if err := t.record(approverID, entity.DecisionRejected, reason); err != nil {
			return err
		}
		if err := t.fire(domainwf.TriggerReject, entity.ActionReject, reason); err != nil {
			return err
		}
		t.emit(event.TypeInstanceRejected, map[string]interface{}{event.PayloadComment: reason})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(inst), nil
}

// Delegate hands the approver's slot to delegateID
func (e *engineImpl) Delegate(ctx context.Context, tenantID, instanceID, approverID, delegateID string) (*ActionResult, error) {
	inst, err := e.mutate(ctx, tenantID, instanceID, approverID, func(t *transition) error {
		tally, err := t.requireCurrentApprover(approverID)
		if err != nil {
			return err
		}
		step, err := t.currentStep()
		if err != nil {
			return err
		}
		if !step.AllowDelegate {
			return fmt.Errorf("%w: step %d forbids delegation", domainwf.ErrDelegationNotAllowed, t.inst.CurrentStepIndex)
		}
		switch {
		case delegateID == "" || delegateID == approverID:
			return fmt.Errorf("%w: invalid delegate %q", domainwf.ErrDelegationNotAllowed, delegateID)
		case t.inst.InChain(delegateID):
			return fmt.Errorf("%w: %s already in chain", domainwf.ErrDelegationNotAllowed, delegateID)
		case tally.decided[delegateID]:
			return fmt.Errorf("%w: %s already decided this step", domainwf.ErrDelegationNotAllowed, delegateID)
		}

		for i := range t.inst.Chain {
			if t.inst.Chain[i].ApproverID == approverID {
				t.inst.Chain[i].ApproverID = delegateID
				t.inst.Chain[i].DelegatedFrom = approverID
			}
		}

		if err := t.record(approverID, entity.DecisionDelegated, "delegated to "+delegateID); err != nil {
			return err
		}
		if err := t.fire(domainwf.TriggerDelegate, entity.ActionDelegate, approverID+" -> "+delegateID); err != nil {
			return err
		}
		t.emit(event.TypeStepDelegated, map[string]interface{}{
			event.PayloadDelegateTo: delegateID,
			event.PayloadApprovers:  []string{delegateID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(inst), nil
}

// Skip marks every undecided approver skipped and advances. Admin only.
func (e *engineImpl) Skip(ctx context.Context, tenantID, instanceID, actorID string) (*ActionResult, error) {
	inst, err := e.mutate(ctx, tenantID, instanceID, actorID, func(t *transition) error {
		if t.inst.Status != entity.StatusInProgress {
			return fmt.Errorf("%w: instance is %s", domainwf.ErrSkipNotAllowed, t.inst.Status)
		}
		step, err := t.currentStep()
		if err != nil {
			return err
		}
		if !step.AllowSkip {
			return fmt.Errorf("%w: step %d forbids skipping", domainwf.ErrSkipNotAllowed, t.inst.CurrentStepIndex)
		}
		if err := e.requireAdmin(t.ctx, tenantID, actorID); err != nil {
			return err
		}

		tally, err := t.tally()
		if err != nil {
			return err
		}
		for _, m := range t.inst.Chain {
			if tally.decided[m.ApproverID] {
				continue
			}
			if err := t.record(m.ApproverID, entity.DecisionSkipped, "skipped by "+actorID); err != nil {
				return err
			}
		}
		if err := t.log(entity.ActionSkip, t.inst.Status, ""); err != nil {
			return err
		}
		t.emit(event.TypeStepSkipped, nil)
		return t.advance()
	})
	if err != nil {
		return nil, err
	}
	return resultOf(inst), nil
}

// Cancel terminates the instance. Requester or admin only.
func (e *engineImpl) Cancel(ctx context.Context, tenantID, instanceID, actorID string) (*ActionResult, error) {
	inst, err := e.mutate(ctx, tenantID, instanceID, actorID, func(t *transition) error {
		if actorID == "" || actorID != t.inst.RequesterID {
			if err := e.requireAdmin(t.ctx, tenantID, actorID); err != nil {
				return err
			}
		}
		if err := t.fire(domainwf.TriggerCancel, entity.ActionCancel, ""); err != nil {
			return err
		}
		t.emit(event.TypeInstanceCancelled, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(inst), nil
}

// GetInstanceState returns the instance with its records and timeline
func (e *engineImpl) GetInstanceState(ctx context.Context, tenantID, instanceID string) (*InstanceState, error) {
	inst, err := e.instances.GetByID(ctx, tenantID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrInstanceNotFound, instanceID)
	}

	records, err := e.records.GetByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step records: %w", err)
	}
	timeline, err := e.timeline.GetByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}

	return &InstanceState{Instance: inst, StepRecords: records, Timeline: timeline}, nil
}

func instanceLockKey(tenantID, instanceID string) string {
	return "instance:" + tenantID + ":" + instanceID
}

func requestLockKey(tenantID, requestID string) string {
	return "request:" + tenantID + ":" + requestID
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
