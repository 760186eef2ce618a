package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/condition"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// FlowResolver selects the flow definition that applies to a request
type FlowResolver struct {
	flows  port.FlowDefinitionRepository
	logger Logger
}

// NewFlowResolver creates a resolver backed by the flow repository
func NewFlowResolver(flows port.FlowDefinitionRepository, logger Logger) *FlowResolver {
	if logger == nil {
		logger = nopLogger{}
	}
	return &FlowResolver{flows: flows, logger: logger}
}

// Resolve returns the single applicable definition. Conditional definitions
// whose conditions all hold win over the default, ordered by priority then
// recency. Returns workflow.ErrFlowNotFound when nothing applies.
func (r *FlowResolver) Resolve(ctx context.Context, tenantID, documentType string, attrs map[string]interface{}) (*entity.FlowDefinition, error) {
	defs, err := r.flows.ListActive(ctx, tenantID, documentType)
	if err != nil {
		return nil, fmt.Errorf("failed to list flow definitions: %w", err)
	}

	var matched, defaults []*entity.FlowDefinition
	for _, def := range defs {
		if !def.IsActive || def.DocumentType != documentType {
			continue
		}
		if def.IsDefault {
			defaults = append(defaults, def)
			continue
		}
		if condition.MatchesAll(def.Conditions, attrs) {
			matched = append(matched, def)
		}
	}

	if best := pickBest(matched); best != nil {
		r.logger.Info("Flow definition resolved",
			"tenant_id", tenantID,
			"document_type", documentType,
			"flow_definition_id", best.ID,
			"candidates", len(matched),
		)
		return best, nil
	}

	if def := pickBest(defaults); def != nil {
		r.logger.Info("Falling back to default flow definition",
			"tenant_id", tenantID,
			"document_type", documentType,
			"flow_definition_id", def.ID,
		)
		return def, nil
	}

	return nil, fmt.Errorf("%w: tenant %s document type %s", workflow.ErrFlowNotFound, tenantID, documentType)
}

// pickBest orders by priority ascending, newest first, then ID
func pickBest(defs []*entity.FlowDefinition) *entity.FlowDefinition {
	if len(defs) == 0 {
		return nil
	}
	sorted := append([]*entity.FlowDefinition(nil), defs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sorted[0]
}
