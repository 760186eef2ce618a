// Package memory provides in-process implementations of the persistence
// ports. Transactions snapshot the whole store and restore it on error, so
// rollback semantics match the SQLite adapter. A rollback also discards
// writes made outside any transaction while it was open, so every writer
// should go through WithTransaction.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

type contextKey string

const txKey contextKey = "memory-tx"

// Store holds flow definitions, instances, step records and timeline entries
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	flows     map[string]*entity.FlowDefinition
	instances map[string]*entity.WorkflowInstance
	records   []*entity.StepRecord
	timeline  []*entity.TimelineEntry
	nextID    int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		flows:     make(map[string]*entity.FlowDefinition),
		instances: make(map[string]*entity.WorkflowInstance),
	}
}

type snapshot struct {
	flows     map[string]*entity.FlowDefinition
	instances map[string]*entity.WorkflowInstance
	records   int
	timeline  int
	nextID    int64
}

// WithTransaction implements port.TransactionManager. Transactions are
// serialized; a nested call joins the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey, true)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		flows:     make(map[string]*entity.FlowDefinition, len(s.flows)),
		instances: make(map[string]*entity.WorkflowInstance, len(s.instances)),
		records:   len(s.records),
		timeline:  len(s.timeline),
		nextID:    s.nextID,
	}
	for k, v := range s.flows {
		snap.flows[k] = v.Clone()
	}
	for k, v := range s.instances {
		snap.instances[k] = v.Clone()
	}
	return snap
}

// restore rolls back to snap. Records and timeline are append-only so
// truncation is enough.
func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows = snap.flows
	s.instances = snap.instances
	s.records = s.records[:snap.records]
	s.timeline = s.timeline[:snap.timeline]
	s.nextID = snap.nextID
}

func tenantKey(tenantID, id string) string {
	return tenantID + "/" + id
}

// FlowDefinitions returns the store as a port.FlowDefinitionRepository
func (s *Store) FlowDefinitions() port.FlowDefinitionRepository { return flowRepo{s} }

// Instances returns the store as a port.InstanceRepository
func (s *Store) Instances() port.InstanceRepository { return instanceRepo{s} }

// StepRecords returns the store as a port.StepRecordRepository
func (s *Store) StepRecords() port.StepRecordRepository { return recordRepo{s} }

// Timeline returns the store as a port.TimelineRepository
func (s *Store) Timeline() port.TimelineRepository { return timelineRepo{s} }

type flowRepo struct{ s *Store }

func (r flowRepo) Create(ctx context.Context, def *entity.FlowDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	key := tenantKey(def.TenantID, def.ID)
	if _, exists := r.s.flows[key]; exists {
		return fmt.Errorf("flow definition %s already exists", def.ID)
	}
	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	r.s.flows[key] = def.Clone()
	return nil
}

func (r flowRepo) GetByID(ctx context.Context, tenantID, id string) (*entity.FlowDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.flows[tenantKey(tenantID, id)].Clone(), nil
}

func (r flowRepo) ListActive(ctx context.Context, tenantID, documentType string) ([]*entity.FlowDefinition, error) {
	return r.List(ctx, tenantID, port.FlowDefinitionFilter{DocumentType: documentType, ActiveOnly: true})
}

func (r flowRepo) List(ctx context.Context, tenantID string, filter port.FlowDefinitionFilter) ([]*entity.FlowDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.FlowDefinition
	for _, def := range r.s.flows {
		if def.TenantID != tenantID {
			continue
		}
		if filter.DocumentType != "" && def.DocumentType != filter.DocumentType {
			continue
		}
		if filter.ActiveOnly && !def.IsActive {
			continue
		}
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentType != out[j].DocumentType {
			return out[i].DocumentType < out[j].DocumentType
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r flowRepo) Update(ctx context.Context, def *entity.FlowDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := tenantKey(def.TenantID, def.ID)
	existing, ok := r.s.flows[key]
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrDefinitionNotFound, def.ID)
	}
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()
	r.s.flows[key] = def.Clone()
	return nil
}

func (r flowRepo) SetActive(ctx context.Context, tenantID, id string, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	def, ok := r.s.flows[tenantKey(tenantID, id)]
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrDefinitionNotFound, id)
	}
	def.IsActive = active
	def.UpdatedAt = time.Now().UTC()
	return nil
}

type instanceRepo struct{ s *Store }

func (r instanceRepo) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := tenantKey(inst.TenantID, inst.ID)
	if _, exists := r.s.instances[key]; exists {
		return fmt.Errorf("instance %s already exists", inst.ID)
	}
	for _, existing := range r.s.instances {
		if existing.TenantID == inst.TenantID && existing.RequestID == inst.RequestID {
			return fmt.Errorf("request %s already has instance %s", inst.RequestID, existing.ID)
		}
	}
	inst.Version = 1
	r.s.instances[key] = inst.Clone()
	return nil
}

func (r instanceRepo) GetByID(ctx context.Context, tenantID, id string) (*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.instances[tenantKey(tenantID, id)].Clone(), nil
}

func (r instanceRepo) GetByRequestID(ctx context.Context, tenantID, requestID string) (*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, inst := range r.s.instances {
		if inst.TenantID == tenantID && inst.RequestID == requestID {
			return inst.Clone(), nil
		}
	}
	return nil, nil
}

func (r instanceRepo) Update(ctx context.Context, inst *entity.WorkflowInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := tenantKey(inst.TenantID, inst.ID)
	stored, ok := r.s.instances[key]
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrInstanceNotFound, inst.ID)
	}
	if stored.Version != inst.Version {
		return fmt.Errorf("%w: instance %s at version %d, write based on %d",
			workflow.ErrConcurrentModification, inst.ID, stored.Version, inst.Version)
	}
	inst.Version++
	r.s.instances[key] = inst.Clone()
	return nil
}

func (r instanceRepo) ListByStatus(ctx context.Context, status string, after *port.InstanceCursor, limit int) ([]*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.WorkflowInstance
	for _, inst := range r.s.instances {
		if inst.Status == status && (after == nil || afterCursor(inst, after)) {
			out = append(out, inst.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func afterCursor(inst *entity.WorkflowInstance, c *port.InstanceCursor) bool {
	if !inst.CreatedAt.Equal(c.CreatedAt) {
		return inst.CreatedAt.After(c.CreatedAt)
	}
	return inst.ID > c.ID
}

func (r instanceRepo) CountByFlowDefinition(ctx context.Context, tenantID, flowDefinitionID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, inst := range r.s.instances {
		if inst.TenantID == tenantID && inst.FlowDefinitionID == flowDefinitionID {
			n++
		}
	}
	return n, nil
}

type recordRepo struct{ s *Store }

func (r recordRepo) Create(ctx context.Context, rec *entity.StepRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextID++
	rec.ID = r.s.nextID
	cp := *rec
	r.s.records = append(r.s.records, &cp)
	return nil
}

func (r recordRepo) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.StepRecord, error) {
	return r.filter(func(rec *entity.StepRecord) bool { return rec.InstanceID == instanceID }), nil
}

func (r recordRepo) GetByStep(ctx context.Context, instanceID string, stepIndex int) ([]*entity.StepRecord, error) {
	return r.filter(func(rec *entity.StepRecord) bool {
		return rec.InstanceID == instanceID && rec.StepIndex == stepIndex
	}), nil
}

func (r recordRepo) filter(keep func(*entity.StepRecord) bool) []*entity.StepRecord {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.StepRecord
	for _, rec := range r.s.records {
		if keep(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

type timelineRepo struct{ s *Store }

func (r timelineRepo) Append(ctx context.Context, entry *entity.TimelineEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextID++
	entry.ID = r.s.nextID
	cp := *entry
	r.s.timeline = append(r.s.timeline, &cp)
	return nil
}

func (r timelineRepo) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.TimelineEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.TimelineEntry
	for _, e := range r.s.timeline {
		if e.InstanceID == instanceID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

var (
	_ port.TransactionManager       = (*Store)(nil)
	_ port.FlowDefinitionRepository = flowRepo{}
	_ port.InstanceRepository       = instanceRepo{}
	_ port.StepRecordRepository     = recordRepo{}
	_ port.TimelineRepository       = timelineRepo{}
)
