// Package flowfile loads flow definitions and an organizational directory
// from YAML and seeds them into the engine's stores.
package flowfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// File is the root of a seed document
type File struct {
	TenantID  string    `yaml:"tenant_id"`
	Directory Directory `yaml:"directory"`
	Flows     []Flow    `yaml:"flows"`
}

// Directory lists units, users and role grants for one tenant
type Directory struct {
	Units []Unit `yaml:"units"`
	Users []User `yaml:"users"`
	Roles []Role `yaml:"roles"`
}

// Unit is an organizational unit
type Unit struct {
	ID       string `yaml:"id"`
	ParentID string `yaml:"parent_id"`
	HeadID   string `yaml:"head_id"`
}

// User is a directory user. Active defaults to true.
type User struct {
	ID     string `yaml:"id"`
	UnitID string `yaml:"unit_id"`
	Level  int    `yaml:"level"`
	Active *bool  `yaml:"active"`
}

// Role grants a role code to users
type Role struct {
	Code  string   `yaml:"code"`
	Users []string `yaml:"users"`
}

// Flow is a flow definition as written in a seed file. Active defaults to true.
type Flow struct {
	entity.FlowDefinition `yaml:",inline"`
	Active                *bool `yaml:"active"`
}

// Load reads and parses a seed file from disk
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal flow file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	var errs []error
	for i, u := range f.Directory.Units {
		if u.ID == "" {
			errs = append(errs, fmt.Errorf("directory.units[%d]: id is required", i))
		}
	}
	for i, u := range f.Directory.Users {
		if u.ID == "" || u.UnitID == "" {
			errs = append(errs, fmt.Errorf("directory.users[%d]: id and unit_id are required", i))
		}
	}
	for i, r := range f.Directory.Roles {
		if r.Code == "" {
			errs = append(errs, fmt.Errorf("directory.roles[%d]: code is required", i))
		}
	}
	for i, fl := range f.Flows {
		if fl.TenantID == "" && f.TenantID == "" {
			errs = append(errs, fmt.Errorf("flows[%d]: tenant_id is required", i))
		}
	}
	if len(f.Directory.Units)+len(f.Directory.Users)+len(f.Directory.Roles) > 0 && f.TenantID == "" {
		errs = append(errs, errors.New("directory: tenant_id is required"))
	}
	return errors.Join(errs...)
}

// Definitions returns the file's flows as entities with tenant and
// activity defaults applied.
func (f *File) Definitions() []*entity.FlowDefinition {
	out := make([]*entity.FlowDefinition, 0, len(f.Flows))
	for _, fl := range f.Flows {
		def := fl.FlowDefinition.Clone()
		if def.TenantID == "" {
			def.TenantID = f.TenantID
		}
		def.IsActive = fl.Active == nil || *fl.Active
		out = append(out, def)
	}
	return out
}

// DirectoryUsers returns the file's users with defaults applied
func (d Directory) DirectoryUsers() []entity.DirectoryUser {
	out := make([]entity.DirectoryUser, 0, len(d.Users))
	for _, u := range d.Users {
		out = append(out, entity.DirectoryUser{
			ID:     u.ID,
			UnitID: u.UnitID,
			Level:  u.Level,
			Active: u.Active == nil || *u.Active,
		})
	}
	return out
}
