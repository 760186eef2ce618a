package flowfile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// DirectoryWriter stores directory entries. Writes are upserts.
type DirectoryWriter interface {
	UpsertUnit(ctx context.Context, tenantID, unitID, parentID, headID string) error
	UpsertUser(ctx context.Context, tenantID string, user entity.DirectoryUser) error
	GrantRole(ctx context.Context, tenantID, roleCode, userID string) error
}

// SeedResult counts what a seed run wrote
type SeedResult struct {
	FlowsCreated int
	FlowsSkipped int
	Units        int
	Users        int
	Grants       int
}

// Seeder applies seed files. Flows that already exist are left untouched,
// so seeding on every start is safe.
type Seeder struct {
	flows     service.FlowService
	directory DirectoryWriter
	logger    *zap.Logger
}

// NewSeeder creates a seeder. directory may be nil when the directory is
// managed elsewhere; directory sections are then ignored.
func NewSeeder(flows service.FlowService, directory DirectoryWriter, logger *zap.Logger) *Seeder {
	return &Seeder{flows: flows, directory: directory, logger: logger}
}

// SeedFile loads path and seeds it
func (s *Seeder) SeedFile(ctx context.Context, path string) (*SeedResult, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	return s.Seed(ctx, f)
}

// Seed writes the directory first, then the flows
func (s *Seeder) Seed(ctx context.Context, f *File) (*SeedResult, error) {
	res := &SeedResult{}
	if err := s.seedDirectory(ctx, f, res); err != nil {
		return res, err
	}

	for _, def := range f.Definitions() {
		exists, err := s.exists(ctx, def)
		if err != nil {
			return res, err
		}
		if exists {
			res.FlowsSkipped++
			continue
		}
		created, err := s.flows.Create(ctx, def)
		if err != nil {
			s.logger.Error("Failed to seed flow definition",
				zap.String("tenant_id", def.TenantID),
				zap.String("name", def.Name),
				zap.Error(err))
			return res, fmt.Errorf("failed to seed flow %q: %w", def.Name, err)
		}
		res.FlowsCreated++
		s.logger.Info("Flow definition seeded",
			zap.String("tenant_id", created.TenantID),
			zap.String("flow_id", created.ID),
			zap.String("document_type", created.DocumentType))
	}

	s.logger.Info("Seed completed",
		zap.Int("flows_created", res.FlowsCreated),
		zap.Int("flows_skipped", res.FlowsSkipped),
		zap.Int("units", res.Units),
		zap.Int("users", res.Users),
		zap.Int("grants", res.Grants))
	return res, nil
}

// exists matches by ID when given, otherwise by name within the document type
func (s *Seeder) exists(ctx context.Context, def *entity.FlowDefinition) (bool, error) {
	if def.ID != "" {
		_, err := s.flows.Get(ctx, def.TenantID, def.ID)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, workflow.ErrDefinitionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up flow %q: %w", def.ID, err)
	}

	existing, err := s.flows.List(ctx, def.TenantID, port.FlowDefinitionFilter{DocumentType: def.DocumentType})
	if err != nil {
		return false, fmt.Errorf("failed to list flows: %w", err)
	}
	for _, e := range existing {
		if e.Name == def.Name {
			return true, nil
		}
	}
	return false, nil
}

func (s *Seeder) seedDirectory(ctx context.Context, f *File, res *SeedResult) error {
	if s.directory == nil {
		return nil
	}
	for _, u := range f.Directory.Units {
		if err := s.directory.UpsertUnit(ctx, f.TenantID, u.ID, u.ParentID, u.HeadID); err != nil {
			return fmt.Errorf("failed to seed unit %q: %w", u.ID, err)
		}
		res.Units++
	}
	for _, u := range f.Directory.DirectoryUsers() {
		if err := s.directory.UpsertUser(ctx, f.TenantID, u); err != nil {
			return fmt.Errorf("failed to seed user %q: %w", u.ID, err)
		}
		res.Users++
	}
	for _, r := range f.Directory.Roles {
		for _, userID := range r.Users {
			if err := s.directory.GrantRole(ctx, f.TenantID, r.Code, userID); err != nil {
				return fmt.Errorf("failed to grant role %q to %q: %w", r.Code, userID, err)
			}
			res.Grants++
		}
	}
	return nil
}
