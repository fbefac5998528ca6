package rule

import (
	"errors"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Definition is the flattened configuration form of a rule, as found in rules
// files and API requests.
type Definition struct {
	ID       string   `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Model    string   `json:"model" yaml:"model" validate:"required,rule_model"`
	Query    string   `json:"object" yaml:"object" validate:"required"`
	Actions  []string `json:"actions" yaml:"actions" validate:"required,min=1,dive,required"`
	Disabled bool     `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// FromDefinition parses a definition into a Rule. A definition id that is a
// valid UUID becomes the rule id; any other id is kept as the rule name.
// Every action error is reported, not only the first.
func FromDefinition(workspaceID shared.ID, def Definition) (*Rule, error) {
	model, err := ParseModel(def.Model)
	if err != nil {
		return nil, err
	}

	var errs []error
	actions := make([]Action, 0, len(def.Actions))
	for _, tok := range def.Actions {
		a, err := ParseAction(tok)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		actions = append(actions, a)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	r, err := NewRule(workspaceID, def.Name, model, def.Query, actions)
	if err != nil {
		return nil, err
	}
	if def.ID != "" {
		if id, idErr := shared.IDFromString(def.ID); idErr == nil {
			r.id = id
		} else if r.name == "" {
			r.name = def.ID
		}
	}
	if def.Disabled {
		r.disabled = true
	}
	return r, nil
}

// ToDefinition renders a rule back into its configuration form.
func ToDefinition(r *Rule) Definition {
	return Definition{
		ID:       r.id.String(),
		Name:     r.name,
		Model:    string(r.model),
		Query:    r.rawQuery,
		Actions:  r.Tokens(),
		Disabled: r.disabled,
	}
}

// String implements fmt.Stringer for log output.
func (d Definition) String() string {
	return fmt.Sprintf("%s[%s] %s -> %v", d.Model, d.ID, d.Query, d.Actions)
}
