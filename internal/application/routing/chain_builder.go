package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// ChainBuilder materializes the approvers of a flow step from the
// organizational directory
type ChainBuilder struct {
	directory port.OrgDirectory
	logger    Logger
}

// NewChainBuilder creates a chain builder
func NewChainBuilder(directory port.OrgDirectory, logger Logger) *ChainBuilder {
	if logger == nil {
		logger = nopLogger{}
	}
	return &ChainBuilder{directory: directory, logger: logger}
}

// Build returns the deduplicated approvers of step in rule order.
// Rules resolving to nobody are dropped; if every rule is empty the
// result is workflow.ErrEmptyChain.
func (b *ChainBuilder) Build(ctx context.Context, tenantID string, step entity.FlowStep, requesterID string) ([]string, error) {
	rules := append([]entity.ApproverRule(nil), step.Approvers...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Order < rules[j].Order })

	var (
		requester       *entity.DirectoryUser
		requesterLoaded bool
		chain           []string
	)
	seen := make(map[string]bool)

	for _, rule := range rules {
		if rule.Kind == entity.RulePositionLevel || rule.Kind == entity.RuleHierarchy {
			if !requesterLoaded {
				u, err := b.directory.LookupUser(ctx, tenantID, requesterID)
				if err != nil {
					return nil, fmt.Errorf("failed to look up requester %s: %w", requesterID, err)
				}
				requester, requesterLoaded = u, true
			}
			// relative rules need the requester's unit
			if requester == nil {
				b.logger.Info("Requester not in directory, dropping relative rule",
					"tenant_id", tenantID,
					"requester_id", requesterID,
					"step_number", step.StepNumber,
					"rule_kind", rule.Kind,
				)
				continue
			}
		}

		candidates, err := b.resolveRule(ctx, tenantID, rule, requester)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			b.logger.Info("Approver rule resolved to nobody, dropping",
				"tenant_id", tenantID,
				"step_number", step.StepNumber,
				"rule_kind", rule.Kind,
				"rule_order", rule.Order,
			)
			continue
		}

		for _, id := range candidates {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			chain = append(chain, id)
		}
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: step %d", workflow.ErrEmptyChain, step.StepNumber)
	}
	return chain, nil
}

func (b *ChainBuilder) resolveRule(ctx context.Context, tenantID string, rule entity.ApproverRule, requester *entity.DirectoryUser) ([]string, error) {
	switch rule.Kind {
	case entity.RuleUser:
		u, err := b.directory.LookupUser(ctx, tenantID, rule.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up user %s: %w", rule.UserID, err)
		}
		if u == nil || !u.Active {
			return nil, nil
		}
		return []string{u.ID}, nil

	case entity.RuleRole:
		ids, err := b.directory.UsersWithRole(ctx, tenantID, rule.RoleCode)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %s: %w", rule.RoleCode, err)
		}
		return ids, nil

	case entity.RulePositionLevel:
		ids, err := b.directory.UsersAtOrAboveLevel(ctx, tenantID, requester.UnitID, rule.MinLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve level %d in unit %s: %w", rule.MinLevel, requester.UnitID, err)
		}
		return ids, nil

	case entity.RuleHierarchy:
		ancestry, err := b.ancestry(ctx, tenantID, requester.UnitID)
		if err != nil {
			return nil, err
		}
		if len(ancestry) == 0 {
			return nil, nil
		}
		levels := rule.LevelsUp
		if levels < 0 {
			levels = 0
		}
		if levels > len(ancestry)-1 {
			levels = len(ancestry) - 1
		}
		head, err := b.directory.ResolveUnitHead(ctx, tenantID, ancestry[levels])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve head of unit %s: %w", ancestry[levels], err)
		}
		if head == "" {
			return nil, nil
		}
		return []string{head}, nil
	}

	b.logger.Error("Unknown approver rule kind", "rule_kind", rule.Kind)
	return nil, nil
}

// ancestry returns unitID and its ancestors, truncated at the first
// revisited unit.
func (b *ChainBuilder) ancestry(ctx context.Context, tenantID, unitID string) ([]string, error) {
	if unitID == "" {
		return nil, nil
	}
	units, err := b.directory.ResolveUnitAncestry(ctx, tenantID, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ancestry of unit %s: %w", unitID, err)
	}

	seen := make(map[string]bool, len(units))
	out := make([]string, 0, len(units))
	for _, u := range units {
		if seen[u] {
			b.logger.Error("Cycle detected in unit hierarchy, truncating climb",
				"tenant_id", tenantID,
				"unit_id", unitID,
				"revisited_unit", u,
			)
			break
		}
		seen[u] = true
		out = append(out, u)
	}
	return out, nil
}

// EscalationTargets maps each approver to their organizational superior:
// the head of their own unit when that is someone else, otherwise the
// nearest ancestor head who is not them. Approvers at the top map to
// themselves. The result is deduplicated in input order.
func (b *ChainBuilder) EscalationTargets(ctx context.Context, tenantID string, approverIDs []string) ([]string, error) {
	seen := make(map[string]bool, len(approverIDs))
	targets := make([]string, 0, len(approverIDs))

	for _, approverID := range approverIDs {
		target, err := b.superior(ctx, tenantID, approverID)
		if err != nil {
			return nil, err
		}
		if !seen[target] {
			seen[target] = true
			targets = append(targets, target)
		}
	}
	return targets, nil
}

func (b *ChainBuilder) superior(ctx context.Context, tenantID, approverID string) (string, error) {
	u, err := b.directory.LookupUser(ctx, tenantID, approverID)
	if err != nil {
		return "", fmt.Errorf("failed to look up approver %s: %w", approverID, err)
	}
	if u == nil {
		return approverID, nil
	}

	units, err := b.ancestry(ctx, tenantID, u.UnitID)
	if err != nil {
		return "", err
	}
	for _, unit := range units {
		head, err := b.directory.ResolveUnitHead(ctx, tenantID, unit)
		if err != nil {
			return "", fmt.Errorf("failed to resolve head of unit %s: %w", unit, err)
		}
		if head != "" && head != approverID {
			return head, nil
		}
	}
	return approverID, nil
}
