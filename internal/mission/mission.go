// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

// Package mission holds the catalog of predefined investigations and renders
// a mission request into the user message that starts a run.
package mission

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

//go:embed missions.yaml
var catalogYAML []byte

// Mission is one predefined investigation.
type Mission struct {
	ID          string `yaml:"id" json:"id" validate:"required"`
	Label       string `yaml:"label" json:"label" validate:"required"`
	Description string `yaml:"description" json:"description"`
	Query       string `yaml:"query" json:"query" validate:"required"`
	// DefaultPlanID scopes the mission when the request names no plan.
	DefaultPlanID string `yaml:"default_plan_id" json:"default_plan_id,omitempty"`
}

// Request selects a mission and optionally narrows its scope.
type Request struct {
	ID           string `json:"id" validate:"required"`
	PlanID       string `json:"plan_id,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	DateFrom     string `json:"date_from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DateTo       string `json:"date_to,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type catalogFile struct {
	Missions []Mission `yaml:"missions" validate:"required,dive"`
}

// Catalog is an ordered, read-only set of missions.
type Catalog struct {
	missions []Mission
	byID     map[string]int
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Default returns the built-in catalog. It is parsed once.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(catalogYAML)
	})
	return defaultCatalog, defaultErr
}

// Parse builds a catalog from YAML. Mission ids must be unique.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, tallyerr.Errorf(tallyerr.CodeAgentMissionInvalid, "parsing mission catalog: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, tallyerr.Wrap(err, tallyerr.CodeAgentMissionInvalid, "invalid mission catalog")
	}

	c := &Catalog{byID: make(map[string]int, len(f.Missions))}
	for _, m := range f.Missions {
		if _, dup := c.byID[m.ID]; dup {
			return nil, tallyerr.Errorf(tallyerr.CodeAgentMissionInvalid, "duplicate mission id %q", m.ID)
		}
		m.Query = strings.TrimSpace(m.Query)
		c.byID[m.ID] = len(c.missions)
		c.missions = append(c.missions, m)
	}
	return c, nil
}

// List returns the missions in catalog order.
func (c *Catalog) List() []Mission {
	out := make([]Mission, len(c.missions))
	copy(out, c.missions)
	return out
}

// Get returns the mission with id.
func (c *Catalog) Get(id string) (Mission, error) {
	i, ok := c.byID[id]
	if !ok {
		return Mission{}, tallyerr.New(tallyerr.CodeAgentMissionNotFound,
			fmt.Sprintf("mission %q not found", id), tallyerr.Field("mission_id", id))
	}
	return c.missions[i], nil
}

// Render turns a mission request into the run's user message. extra, if
// non-empty, is appended as operator instructions.
func (c *Catalog) Render(req Request, extra string) (string, error) {
	if err := validate.Struct(req); err != nil {
		return "", tallyerr.Wrap(err, tallyerr.CodeAgentMissionInvalid, "invalid mission request")
	}
	if req.DateFrom != "" && req.DateTo != "" && req.DateFrom > req.DateTo {
		return "", tallyerr.New(tallyerr.CodeAgentMissionInvalid, "date_from is after date_to")
	}
	m, err := c.Get(req.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(m.Query)

	planID := req.PlanID
	if planID == "" {
		planID = m.DefaultPlanID
	}
	var scope []string
	if planID != "" {
		scope = append(scope, "plan "+planID)
	}
	if req.CustomerName != "" {
		scope = append(scope, "customer "+req.CustomerName)
	}
	switch {
	case req.DateFrom != "" && req.DateTo != "":
		scope = append(scope, fmt.Sprintf("invoices issued from %s to %s", req.DateFrom, req.DateTo))
	case req.DateFrom != "":
		scope = append(scope, "invoices issued on or after "+req.DateFrom)
	case req.DateTo != "":
		scope = append(scope, "invoices issued on or before "+req.DateTo)
	}
	if len(scope) > 0 {
		b.WriteString("\n\nScope: ")
		b.WriteString(strings.Join(scope, "; "))
		b.WriteString(".")
	}

	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString("\n\nAdditional instructions: ")
		b.WriteString(extra)
	}
	return b.String(), nil
}
