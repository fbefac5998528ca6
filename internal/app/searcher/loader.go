package searcher

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// RulesFile is the YAML layout of a rules file:
//
//	rules:
//	  - id: bump-low
//	    model: Vulnerability
//	    object: severity=low
//	    actions: ["--UPDATE:severity=medium"]
//
// A bare top-level list of definitions is accepted too.
type RulesFile struct {
	Rules []rule.Definition `yaml:"rules"`
}

// LoadRulesFile reads a YAML rules file. Only the document structure is
// checked here; each definition is parsed on its own when the rules run.
func LoadRulesFile(path string) ([]rule.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	defs, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return defs, nil
}

// ParseRules decodes YAML rule definitions.
func ParseRules(data []byte) ([]rule.Definition, error) {
	var file RulesFile
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if len(node.Content) == 0 {
		return []rule.Definition{}, nil
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		if err := node.Content[0].Decode(&file.Rules); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
		}
	} else if err := node.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if file.Rules == nil {
		file.Rules = []rule.Definition{}
	}
	return file.Rules, nil
}

// Entry is one position of a rule run: a parsed rule, or the error that kept
// its definition from parsing.
type Entry struct {
	Rule *rule.Rule
	// Label names an unparsable definition in the report.
	Label string
	Err   *RuleError
}

// Entries wraps already parsed rules.
func Entries(rules []*rule.Rule) []Entry {
	entries := make([]Entry, len(rules))
	for i, r := range rules {
		entries[i] = Entry{Rule: r}
	}
	return entries
}

// EntriesFromDefinitions parses definitions into run entries for a workspace,
// keeping their order. Disabled definitions are dropped without being parsed.
// An enabled definition that does not parse becomes an entry carrying its
// error, so the run skips it and still evaluates the others.
func EntriesFromDefinitions(workspaceID shared.ID, defs []rule.Definition) []Entry {
	entries := make([]Entry, 0, len(defs))
	for i, def := range defs {
		if def.Disabled {
			continue
		}
		r, err := rule.FromDefinition(workspaceID, def)
		if err != nil {
			label := definitionLabel(i, def)
			kind := RuleErrInvalidRule
			if errors.Is(err, rule.ErrUnsupportedModel) {
				kind = RuleErrUnknownField
			}
			entries = append(entries, Entry{Label: label, Err: &RuleError{Kind: kind, Rule: label, Err: err}})
			continue
		}
		entries = append(entries, Entry{Rule: r})
	}
	return entries
}

func definitionLabel(i int, def rule.Definition) string {
	switch {
	case def.Name != "":
		return def.Name
	case def.ID != "":
		return def.ID
	}
	return fmt.Sprintf("#%d", i+1)
}
