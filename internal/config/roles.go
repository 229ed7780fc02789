package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var defaultRoles []byte

// Output shapes an analyst role can produce.
const (
	OutputFindings = "findings"
	OutputMetrics  = "metrics"
)

// Role describes one analyst: its identity, instructions and bound tools.
type Role struct {
	Name         string   `yaml:"name" validate:"required"`
	Title        string   `yaml:"title" validate:"required"`
	Output       string   `yaml:"output" validate:"oneof=findings metrics"`
	Tools        []string `yaml:"tools" validate:"min=1,dive,required"`
	Instructions string   `yaml:"instructions" validate:"required"`
}

type roleCatalog struct {
	Roles []Role `yaml:"roles" validate:"min=1,dive"`
}

// LoadRoles reads a role catalog from path, or the built-in catalog when
// path is empty.
func LoadRoles(path string) ([]Role, error) {
	data := defaultRoles
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read roles: %w", err)
		}
		data = b
	}
	return ParseRoles(data)
}

// ParseRoles decodes and validates a YAML role catalog.
func ParseRoles(data []byte) ([]Role, error) {
	var cat roleCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse roles: %w", err)
	}
	if err := validator.New().Struct(cat); err != nil {
		return nil, fmt.Errorf("invalid roles: %w", err)
	}

	seen := make(map[string]struct{}, len(cat.Roles))
	for _, r := range cat.Roles {
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("duplicate role %q", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return cat.Roles, nil
}
