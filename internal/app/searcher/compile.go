package searcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
)

const (
	defaultCacheSize = 512
	defaultCacheTTL  = 30 * time.Minute
)

// compiledRule is a rule resolved against the vulnerability field registry.
type compiledRule struct {
	rule    *rule.Rule
	conds   []vulnerability.Condition
	actions []rule.Action
}

// compiler resolves rule queries into store conditions. Resolved queries are
// cached by model and expression text.
type compiler struct {
	cache *expirable.LRU[string, []vulnerability.Condition]
}

func newCompiler(size int, ttl time.Duration) *compiler {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &compiler{cache: expirable.NewLRU[string, []vulnerability.Condition](size, nil, ttl)}
}

func modelKind(m rule.Model) (vulnerability.Kind, bool) {
	switch m {
	case rule.ModelVulnerability:
		return vulnerability.KindGeneric, true
	case rule.ModelVulnerabilityWeb:
		return vulnerability.KindWeb, true
	}
	return "", false
}

// resolveField looks a field up and checks it exists on the model.
func resolveField(m rule.Model, name string) (vulnerability.Field, error) {
	f, err := vulnerability.LookupField(name)
	if err != nil {
		return vulnerability.Field{}, err
	}
	if f.WebOnly && m != rule.ModelVulnerabilityWeb {
		return vulnerability.Field{}, fmt.Errorf("%w: %q is not a field of %s", vulnerability.ErrUnknownField, f.Name, m)
	}
	return f, nil
}

func (c *compiler) compile(r *rule.Rule) (*compiledRule, *RuleError) {
	fail := func(kind RuleErrorKind, err error) *RuleError {
		return &RuleError{Kind: kind, Rule: r.Label(), Err: err}
	}

	kind, ok := modelKind(r.Model())
	if !ok {
		return nil, fail(RuleErrUnknownField, fmt.Errorf("%w: %q", rule.ErrUnsupportedModel, r.Model()))
	}

	for _, a := range r.Actions() {
		u, ok := a.(rule.UpdateAction)
		if !ok {
			continue
		}
		f, err := resolveField(r.Model(), u.Field)
		if err != nil {
			return nil, fail(RuleErrUnknownField, fmt.Errorf("action %s: %w", u.Token(), err))
		}
		if _, err := f.NormalizeValue(u.Value); err != nil {
			kind := RuleErrInvalidValue
			if errors.Is(err, vulnerability.ErrReadOnlyField) {
				kind = RuleErrInvalidRule
			}
			return nil, fail(kind, fmt.Errorf("action %s: %w", u.Token(), err))
		}
	}

	key := string(r.Model()) + "\x00" + r.RawQuery()
	conds, ok := c.cache.Get(key)
	if !ok {
		typeField, err := vulnerability.LookupField("type")
		if err != nil {
			return nil, fail(RuleErrUnknownField, err)
		}
		conds = []vulnerability.Condition{{Field: typeField, Value: string(kind)}}
		for _, p := range r.Query() {
			f, err := resolveField(r.Model(), p.Field)
			if err != nil {
				return nil, fail(RuleErrUnknownField, err)
			}
			value, err := f.Normalize(p.Value)
			if err != nil {
				return nil, fail(RuleErrInvalidValue, fmt.Errorf("%s: %w", f.Name, err))
			}
			conds = append(conds, vulnerability.Condition{Field: f, Value: value})
		}
		c.cache.Add(key, conds)
	}

	return &compiledRule{rule: r, conds: conds, actions: r.Actions()}, nil
}
