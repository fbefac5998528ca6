// Package rule provides automation rules: a query over a model plus an ordered
// list of actions applied to every match.
package rule

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Model is the entity kind a rule queries.
type Model string

const (
	ModelVulnerability    Model = "Vulnerability"
	ModelVulnerabilityWeb Model = "VulnerabilityWeb"
)

// ParseModel parses a model name case-insensitively.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vulnerability", "vuln":
		return ModelVulnerability, nil
	case "vulnerabilityweb", "vulnerability_web", "vuln_web":
		return ModelVulnerabilityWeb, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, s)
	}
}

// Rule is a workspace automation rule.
type Rule struct {
	id          shared.ID
	workspaceID shared.ID
	name        string
	model       Model
	query       Query
	rawQuery    string
	actions     []Action
	disabled    bool
	createdAt   time.Time
	updatedAt   time.Time
}

// NewRule creates a rule from an already parsed query and action list.
func NewRule(workspaceID shared.ID, name string, model Model, rawQuery string, actions []Action) (*Rule, error) {
	if workspaceID.IsZero() {
		return nil, fmt.Errorf("%w: workspace id is required", shared.ErrValidation)
	}
	q, err := ParseQuery(rawQuery)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: at least one action is required", ErrInvalidAction)
	}
	now := time.Now().UTC()
	return &Rule{
		id:          shared.NewID(),
		workspaceID: workspaceID,
		name:        strings.TrimSpace(name),
		model:       model,
		query:       q,
		rawQuery:    rawQuery,
		actions:     slices.Clone(actions),
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// Data holds the persisted form of a Rule. Actions are in RuleAction order.
type Data struct {
	ID          shared.ID
	WorkspaceID shared.ID
	Name        string
	Model       Model
	Query       string
	Actions     []ActionData
	Disabled    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reconstitute rebuilds a Rule from persistence, re-parsing its query and actions.
func Reconstitute(d Data) (*Rule, error) {
	q, err := ParseQuery(d.Query)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", d.ID, err)
	}
	actions := make([]Action, 0, len(d.Actions))
	for _, ad := range d.Actions {
		a, err := FromData(ad)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", d.ID, err)
		}
		actions = append(actions, a)
	}
	return &Rule{
		id:          d.ID,
		workspaceID: d.WorkspaceID,
		name:        d.Name,
		model:       d.Model,
		query:       q,
		rawQuery:    d.Query,
		actions:     actions,
		disabled:    d.Disabled,
		createdAt:   d.CreatedAt,
		updatedAt:   d.UpdatedAt,
	}, nil
}

func (r *Rule) ID() shared.ID          { return r.id }
func (r *Rule) WorkspaceID() shared.ID { return r.workspaceID }
func (r *Rule) Name() string           { return r.name }
func (r *Rule) Model() Model           { return r.model }
func (r *Rule) Query() Query           { return slices.Clone(r.query) }
func (r *Rule) RawQuery() string       { return r.rawQuery }
func (r *Rule) Actions() []Action      { return slices.Clone(r.actions) }
func (r *Rule) Disabled() bool         { return r.disabled }
func (r *Rule) CreatedAt() time.Time   { return r.createdAt }
func (r *Rule) UpdatedAt() time.Time   { return r.updatedAt }

// Label identifies the rule in reports: its name when set, else its id.
func (r *Rule) Label() string {
	if r.name != "" {
		return r.name
	}
	return r.id.String()
}

// Disable turns the rule off.
func (r *Rule) Disable() {
	r.disabled = true
	r.updatedAt = time.Now().UTC()
}

// Enable turns the rule on.
func (r *Rule) Enable() {
	r.disabled = false
	r.updatedAt = time.Now().UTC()
}

// Tokens renders the actions in their textual form.
func (r *Rule) Tokens() []string {
	tokens := make([]string, len(r.actions))
	for i, a := range r.actions {
		tokens[i] = a.Token()
	}
	return tokens
}

// Snapshot returns the persisted form of the rule with fresh action row ids.
func (r *Rule) Snapshot() Data {
	actions := make([]ActionData, len(r.actions))
	for i, a := range r.actions {
		actions[i] = ToData(a)
	}
	return Data{
		ID:          r.id,
		WorkspaceID: r.workspaceID,
		Name:        r.name,
		Model:       r.model,
		Query:       r.rawQuery,
		Actions:     actions,
		Disabled:    r.disabled,
		CreatedAt:   r.createdAt,
		UpdatedAt:   r.updatedAt,
	}
}
