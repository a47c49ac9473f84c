package service

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/pkg/models"
)

//go:embed examples.yaml
var examplesYAML []byte

func loadExamples() ([]models.Example, error) {
	var doc struct {
		Examples []models.Example `yaml:"examples"`
	}
	if err := yaml.Unmarshal(examplesYAML, &doc); err != nil {
		return nil, fmt.Errorf("service: examples catalogue: %w", err)
	}
	return doc.Examples, nil
}

// Examples returns the documented requests.
func (s *TransactionService) Examples() []models.Example {
	out := make([]models.Example, len(s.examples))
	copy(out, s.examples)
	return out
}

// CheckExamples compiles every documented request against the registry.
func (s *TransactionService) CheckExamples() []models.ExampleCheck {
	out := make([]models.ExampleCheck, 0, len(s.examples))
	for _, ex := range s.examples {
		check := models.ExampleCheck{Name: ex.Name, URL: ex.URL}
		mode, err := s.compileURL(ex.URL)
		if err != nil {
			check.Key = errors.Key(err)
			check.Error = err.Error()
		} else {
			check.OK = true
			check.Mode = mode
		}
		out = append(out, check)
	}
	return out
}

func (s *TransactionService) compileURL(u string) (string, error) {
	_, raw, _ := strings.Cut(u, "?")
	params, err := query.ParseRawQuery(raw)
	if err != nil {
		return "", err
	}
	if d, ok, err := query.ParseDetail(params); err != nil {
		return "", err
	} else if ok {
		if _, err := s.planDetail(d); err != nil {
			return "", err
		}
		return string(ModeDetail), nil
	}
	stmt, err := s.compiler.CompileParams(params)
	if err != nil {
		return "", err
	}
	return string(stmt.Mode), nil
}

// Reference returns the enum reference values by enum name.
func (s *TransactionService) Reference() map[string][]models.ReferenceValue {
	out := make(map[string][]models.ReferenceValue)
	for name, values := range s.compiler.Registry().ReferenceValues() {
		refs := make([]models.ReferenceValue, len(values))
		for i, v := range values {
			refs[i] = models.ReferenceValue{ID: v.ID, Name: v.Name, Aliases: v.Aliases}
		}
		out[name] = refs
	}
	return out
}

// Fields lists the public field descriptors in artifact order.
func (s *TransactionService) Fields() []models.FieldInfo {
	fields := s.compiler.Registry().Fields()
	out := make([]models.FieldInfo, 0, len(fields))
	for _, pf := range fields {
		ops := make([]string, len(pf.Operators))
		for i, op := range pf.Operators {
			ops[i] = string(op)
		}
		out = append(out, models.FieldInfo{
			Name:      pf.Name,
			Aliases:   pf.Aliases,
			Role:      pf.Role,
			Table:     pf.Table,
			Column:    pf.Column,
			Type:      string(pf.Type),
			Operators: ops,
			Enum:      pf.Enum,
		})
	}
	return out
}

// Roles lists the join roles in declaration order.
func (s *TransactionService) Roles() []models.RoleInfo {
	edges := s.compiler.Registry().Edges()
	out := make([]models.RoleInfo, len(edges))
	for i, e := range edges {
		out[i] = models.RoleInfo{Role: e.Role, Table: e.Table, Alias: e.Alias, Parent: e.Parent, Fanout: e.Fanout}
	}
	return out
}
